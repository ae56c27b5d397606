// Package healthcheck runs an optional proactive probe against every
// configured provider, independent of live traffic: a minimal chat
// completion sent on an interval, logged on failure/recovery. The
// Dispatcher itself never consults probe results — RACE and
// cross-model fallback already route around a failing provider on live
// traffic, so this is purely an operator-facing early-warning signal.
package healthcheck

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/llmgateway/dispatch/internal/gwconfig"
	"github.com/llmgateway/dispatch/internal/payload"
	"github.com/llmgateway/dispatch/internal/provider"
	"github.com/llmgateway/dispatch/pkg/gatewaytypes"
)

const (
	defaultProbeInterval = 30 * time.Second
	defaultProbeTimeout  = 10 * time.Second
)

// ConfigGetter supplies the live provider pool to probe each tick.
type ConfigGetter func() *gwconfig.Config

// Prober periodically sends a minimal chat completion to every
// configured provider and logs the outcome.
type Prober struct {
	cfg     gwconfig.HealthCheckConfig
	configs ConfigGetter
	client  *provider.Client
	logger  *slog.Logger

	mu      sync.Mutex
	failing map[string]bool
}

// NewProber builds a Prober. logger may be nil (slog.Default is used).
func NewProber(cfg gwconfig.HealthCheckConfig, configs ConfigGetter, client *provider.Client, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}
	return &Prober{cfg: cfg, configs: configs, client: client, logger: logger, failing: make(map[string]bool)}
}

// Start runs the probe loop until ctx is cancelled. A no-op if the
// config disables health checking.
func (p *Prober) Start(ctx context.Context) {
	if p == nil || !p.cfg.Enabled {
		return
	}
	interval := p.cfg.Interval
	if interval <= 0 {
		interval = defaultProbeInterval
	}
	go p.run(ctx, interval)
}

func (p *Prober) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	p.runOnce(ctx)
	for {
		select {
		case <-ticker.C:
			p.runOnce(ctx)
		case <-ctx.Done():
			p.logger.Info("healthcheck prober stopped")
			return
		}
	}
}

func (p *Prober) runOnce(ctx context.Context) {
	cfg := p.configs()
	for _, prov := range cfg.Providers {
		if ctx.Err() != nil {
			return
		}
		p.probeOne(ctx, prov)
	}
}

func (p *Prober) probeOne(ctx context.Context, prov gwconfig.Provider) {
	model := probeModel(prov)
	if model == "" {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, defaultProbeTimeout)
	defer cancel()

	pld := &payload.Payload{Kind: payload.KindChat, Model: model, Chat: probeRequest(model)}
	resp, derr := p.client.Do(probeCtx, prov, pld)

	if derr != nil {
		p.recordFailure(prov.Name, derr.Error())
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		p.recordFailure(prov.Name, "status "+strconv.Itoa(resp.StatusCode))
		return
	}
	p.recordSuccess(prov.Name)
}

func probeModel(prov gwconfig.Provider) string {
	if len(prov.ModelMatch.Values) == 0 {
		return ""
	}
	return prov.ModelMatch.Values[0]
}

func probeRequest(model string) *gatewaytypes.ChatRequest {
	text := "healthcheck"
	return &gatewaytypes.ChatRequest{
		Model:     model,
		Messages:  []gatewaytypes.ChatMessage{{Role: "user", Content: gatewaytypes.MessageContent{Text: &text}}},
		MaxTokens: 1,
	}
}

// recordFailure logs only on the failing/healthy transition, so a
// provider stuck down doesn't spam a log line every interval.
func (p *Prober) recordFailure(providerName, reason string) {
	p.mu.Lock()
	already := p.failing[providerName]
	p.failing[providerName] = true
	p.mu.Unlock()
	if !already {
		p.logger.Warn("healthcheck probe failed", "provider", providerName, "reason", reason)
	}
}

func (p *Prober) recordSuccess(providerName string) {
	p.mu.Lock()
	was := p.failing[providerName]
	delete(p.failing, providerName)
	p.mu.Unlock()
	if was {
		p.logger.Info("healthcheck probe recovered", "provider", providerName)
	}
}
