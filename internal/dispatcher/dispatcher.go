// Package dispatcher implements the request dispatch state machine:
// RESOLVE (matcher + selector) -> CHAIN (serial primary attempt) -> RACE
// (concurrent fan-out of the remaining candidates on failure) ->
// cross-model fallback, looping until success, exhaustion, or a
// not-found/non-retryable terminal error.
package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/llmgateway/dispatch/internal/gwconfig"
	"github.com/llmgateway/dispatch/internal/matcher"
	"github.com/llmgateway/dispatch/internal/metrics"
	"github.com/llmgateway/dispatch/internal/otelspan"
	"github.com/llmgateway/dispatch/internal/selector"
	"github.com/llmgateway/dispatch/pkg/dispatcherrors"
)

// maxFallbackDepth bounds the cross-model fallback loop; config is
// assumed acyclic but a malformed chain must still terminate.
const maxFallbackDepth = 8

// Result is an opaque attempt outcome: the Dispatcher never inspects it,
// only whether the attempt succeeded. The Response Pipeline decides what
// it actually holds (a written http.ResponseWriter, a buffered body,
// whatever the caller's attempt_fn needs to return).
type Result any

// AttemptFunc performs one upstream round-trip for (provider, model) and
// classifies its outcome. A nil error means a 2xx was observed (or any
// policy-typed answer the caller treats as terminal success); a non-nil
// *dispatcherrors.DispatchError encodes everything else, including 4xx
// passthroughs (terminal, Retryable()==false) and transport/5xx failures
// (Retryable()==true).
type AttemptFunc func(ctx context.Context, p gwconfig.Provider, model string) (Result, *dispatcherrors.DispatchError)

// ConfigGetter returns the current config snapshot; normally
// (*gwconfig.Manager).Get.
type ConfigGetter func() *gwconfig.Config

// TriedAttempt records one upstream attempt for the final error's
// `Tried` clause and for access-log purposes.
type TriedAttempt struct {
	Provider string
	Model    string
	Err      *dispatcherrors.DispatchError // nil on success
}

// Outcome is Execute's return value: either a successful Result, or a
// terminal DispatchError, always with the full Tried history attached.
type Outcome struct {
	Result         Result
	Tried          []TriedAttempt
	EffectiveModel string
	Err            *dispatcherrors.DispatchError
}

// Dispatcher runs Execute against a live config snapshot.
type Dispatcher struct {
	configGetter ConfigGetter
	tracer       otelspan.Tracer
	logger       *slog.Logger
}

// New builds a Dispatcher. logger may be nil (defaults to slog.Default()).
func New(configGetter ConfigGetter, tracer otelspan.Tracer, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{configGetter: configGetter, tracer: tracer, logger: logger}
}

// Execute runs the full RESOLVE -> CHAIN -> RACE -> fallback loop for
// one inbound request.
func (d *Dispatcher) Execute(ctx context.Context, requestID, initialModel string, anchors []selector.Anchor, attempt AttemptFunc) *Outcome {
	ctx, span := d.tracer.StartExecute(ctx, initialModel, requestID)
	defer span.End()

	model := initialModel
	var tried []TriedAttempt

	for depth := 0; ; {
		cfg := d.configGetter()
		candidates, err := matcher.Match(cfg.Providers, model)
		if err != nil {
			de, _ := err.(*dispatcherrors.DispatchError)
			if de == nil {
				de = dispatcherrors.NewInternal(err.Error())
			}
			return &Outcome{Tried: tried, EffectiveModel: model, Err: de}
		}

		ordered := selector.Select(candidates, anchors)
		primary, rest := ordered[0], ordered[1:]

		res, derr := d.runAttempt(ctx, attempt, primary, model, "primary")
		tried = append(tried, TriedAttempt{Provider: primary.Name, Model: model, Err: derr})
		if derr == nil {
			return &Outcome{Result: res, Tried: tried, EffectiveModel: model}
		}
		if !derr.Retryable() {
			return &Outcome{Result: res, Tried: tried, EffectiveModel: model, Err: derr}
		}

		last := derr
		if len(rest) > 0 {
			raceRes, raceTried, raceErr := d.race(ctx, attempt, rest, model)
			tried = append(tried, raceTried...)
			if raceErr == nil {
				return &Outcome{Result: raceRes, Tried: tried, EffectiveModel: model}
			}
			if !raceErr.Retryable() {
				return &Outcome{Result: raceRes, Tried: tried, EffectiveModel: model, Err: raceErr}
			}
			last = raceErr
		}

		if primary.Fallback != "" && depth < maxFallbackDepth {
			d.logger.Warn("dispatch group exhausted, falling back to sibling model",
				"from_model", model, "to_model", primary.Fallback, "request_id", requestID)
			metrics.FallbackTransitionsTotal.WithLabelValues(model, primary.Fallback).Inc()
			model = primary.Fallback
			depth++
			continue
		}
		return &Outcome{Tried: tried, EffectiveModel: model, Err: withTriedClause(last, tried)}
	}
}

// withTriedClause augments err's message with the "(Tried: [...])" list
// of every provider this request attempted, matching the client-facing
// exhaustion error. Only called once a dispatch group is truly
// exhausted (every candidate failed and no fallback model remains) —
// not on a primary-only non-retryable terminal error, which already
// names its one provider directly.
func withTriedClause(err *dispatcherrors.DispatchError, tried []TriedAttempt) *dispatcherrors.DispatchError {
	if err == nil || len(tried) == 0 {
		return err
	}
	names := make([]string, len(tried))
	for i, t := range tried {
		names[i] = t.Provider
	}
	augmented := *err
	augmented.Message = fmt.Sprintf("%s (Tried: [%s])", err.Message, strings.Join(names, ", "))
	return &augmented
}

// race fans the remaining candidates out concurrently and consumes
// results as they complete. The first terminal result (success or
// non-retryable 4xx) cancels every outstanding sibling and wins; if
// every candidate fails retryably, the last observed failure is
// returned for the caller to treat as a whole-group failure.
func (d *Dispatcher) race(ctx context.Context, attempt AttemptFunc, candidates []gwconfig.Provider, model string) (Result, []TriedAttempt, *dispatcherrors.DispatchError) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type raceMsg struct {
		provider gwconfig.Provider
		res      Result
		derr     *dispatcherrors.DispatchError
	}
	results := make(chan raceMsg, len(candidates))

	g, gctx := errgroup.WithContext(raceCtx)
	for _, p := range candidates {
		p := p
		g.Go(func() error {
			res, derr := d.runAttempt(gctx, attempt, p, model, "race")
			select {
			case results <- raceMsg{provider: p, res: res, derr: derr}:
			case <-raceCtx.Done():
			}
			return nil
		})
	}
	go func() {
		_ = g.Wait()
		close(results)
	}()

	var tried []TriedAttempt
	var last *dispatcherrors.DispatchError
	for msg := range results {
		tried = append(tried, TriedAttempt{Provider: msg.provider.Name, Model: model, Err: msg.derr})
		if msg.derr == nil || !msg.derr.Retryable() {
			cancel()
			return msg.res, tried, msg.derr
		}
		last = msg.derr
	}
	return nil, tried, last
}

func (d *Dispatcher) runAttempt(ctx context.Context, attempt AttemptFunc, p gwconfig.Provider, model, phase string) (Result, *dispatcherrors.DispatchError) {
	attemptCtx, span := d.tracer.StartAttempt(ctx, p.Name, model, phase)
	start := time.Now()

	res, derr := attempt(attemptCtx, p, model)

	metrics.AttemptLatencySeconds.WithLabelValues(p.Name, phase).Observe(time.Since(start).Seconds())
	metrics.AttemptsTotal.WithLabelValues(p.Name, outcomeLabel(derr)).Inc()

	var statusCode int
	var errForSpan error
	if derr != nil {
		statusCode = derr.HTTPStatusCode()
		errForSpan = derr
	}
	otelspan.EndAttempt(span, statusCode, errForSpan)

	return res, derr
}

func outcomeLabel(derr *dispatcherrors.DispatchError) string {
	if derr == nil {
		return "success"
	}
	if derr.Retryable() {
		return "server_error"
	}
	return "client_error"
}
