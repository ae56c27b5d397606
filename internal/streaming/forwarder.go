// Package streaming forwards an upstream SSE chat/completion stream to
// the inbound client, splicing a configured prefix into the first
// non-empty content token exactly once, while an Accumulator, fed
// inline from the same forwarding loop, reconstructs a
// non-streaming-shaped response for telemetry.
package streaming

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/goccy/go-json"

	"github.com/llmgateway/dispatch/internal/metrics"
	"github.com/llmgateway/dispatch/pkg/gatewaytypes"
)

const (
	defaultBufferSize = 4096
	sseDataPrefix     = "data: "
	sseDone           = "[DONE]"
)

// bufferPool reduces GC pressure across per-stream scanner buffers.
var bufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, defaultBufferSize)
		return &buf
	},
}

// ForwarderConfig configures one Forward call.
type ForwarderConfig struct {
	Upstream      io.ReadCloser
	Downstream    http.ResponseWriter
	ClientCtx     context.Context
	SpecialPrefix string
	Accumulator   *Accumulator
}

// Forwarder streams one upstream SSE response to one client, applying
// the at-most-once prefix splice and feeding the Accumulator.
type Forwarder struct {
	upstream      io.ReadCloser
	downstream    http.ResponseWriter
	flusher       http.Flusher
	ctx           context.Context
	cancel        context.CancelFunc
	specialPrefix string
	prefixSpliced bool
	accumulator   *Accumulator
}

// NewForwarder validates that Downstream supports flushing and returns a
// Forwarder ready to run.
func NewForwarder(cfg ForwarderConfig) (*Forwarder, error) {
	flusher, ok := cfg.Downstream.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support flushing")
	}
	ctx, cancel := context.WithCancel(cfg.ClientCtx)
	return &Forwarder{
		upstream:      cfg.Upstream,
		downstream:    cfg.Downstream,
		flusher:       flusher,
		ctx:           ctx,
		cancel:        cancel,
		specialPrefix: cfg.SpecialPrefix,
		accumulator:   cfg.Accumulator,
	}, nil
}

// Forward streams upstream to downstream until the body ends, an error
// occurs, or the client disconnects. It closes upstream's Body itself.
func (f *Forwarder) Forward() error {
	defer f.upstream.Close()
	metrics.StreamsInFlight.Inc()
	defer metrics.StreamsInFlight.Dec()

	f.downstream.Header().Set("Content-Type", "text/event-stream")
	f.downstream.Header().Set("Cache-Control", "no-cache")
	f.downstream.Header().Set("Connection", "keep-alive")
	f.downstream.Header().Set("X-Accel-Buffering", "no")
	f.downstream.WriteHeader(http.StatusOK)

	scanner := bufio.NewScanner(f.upstream)
	buf := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(buf)
	scanner.Buffer(*buf, defaultBufferSize*4)

	for scanner.Scan() {
		select {
		case <-f.ctx.Done():
			return f.ctx.Err()
		default:
		}
		if err := f.processLine(scanner.Bytes()); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan upstream stream: %w", err)
	}
	return nil
}

func (f *Forwarder) processLine(line []byte) error {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 {
		return nil
	}

	if bytes.Equal(trimmed, []byte(sseDataPrefix+sseDone)) || bytes.Equal(trimmed, []byte(sseDone)) {
		f.writeLine([]byte(sseDataPrefix + sseDone))
		f.writeLine(nil)
		f.flusher.Flush()
		return nil
	}

	data := bytes.TrimPrefix(trimmed, []byte(sseDataPrefix))

	out := line
	if !f.prefixSpliced && f.specialPrefix != "" {
		if spliced, ok := f.spliceRaw(data); ok {
			data, out = spliced, append([]byte(sseDataPrefix), spliced...)
		}
	}

	// The Accumulator gets its own typed parse, of the same bytes sent
	// downstream (spliced prefix included), purely for telemetry; those
	// bytes never round-trip through the typed struct, so a field
	// gatewaytypes.StreamChunk doesn't model is never dropped from what
	// the client sees.
	if f.accumulator != nil {
		var chunk gatewaytypes.StreamChunk
		if err := json.Unmarshal(data, &chunk); err == nil {
			f.accumulator.Ingest(&chunk)
		}
	}

	f.writeLine(out)
	f.writeLine(nil)
	f.flusher.Flush()
	return nil
}

// spliceRaw prepends specialPrefix onto the first non-empty
// delta.content/text found in data's "choices", leaving every other
// field untouched. It mutates a generic JSON tree rather than a typed
// struct so unmodeled upstream fields survive the round trip. Returns
// ok=false when data has no shape to splice into, in which case the
// caller forwards the original line verbatim.
func (f *Forwarder) spliceRaw(data []byte) (out []byte, ok bool) {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(data, &root); err != nil {
		return nil, false
	}
	rawChoices, present := root["choices"]
	if !present {
		return nil, false
	}
	var choices []map[string]json.RawMessage
	if err := json.Unmarshal(rawChoices, &choices); err != nil {
		return nil, false
	}

	spliced := false
	for _, choice := range choices {
		if f.spliceChoice(choice) {
			spliced = true
			break
		}
	}
	if !spliced {
		return nil, false
	}

	newChoices, err := json.Marshal(choices)
	if err != nil {
		return nil, false
	}
	root["choices"] = newChoices

	out, err = json.Marshal(root)
	if err != nil {
		return nil, false
	}
	f.prefixSpliced = true
	return out, true
}

// spliceChoice tries delta.content (streaming chat shape) then text
// (streaming completion shape), mutating whichever is present and
// non-empty.
func (f *Forwarder) spliceChoice(choice map[string]json.RawMessage) bool {
	if rawDelta, present := choice["delta"]; present {
		var delta map[string]json.RawMessage
		if err := json.Unmarshal(rawDelta, &delta); err == nil && spliceTextField(delta, "content", f.specialPrefix) {
			if newDelta, err := json.Marshal(delta); err == nil {
				choice["delta"] = newDelta
				return true
			}
		}
	}
	return spliceTextField(choice, "text", f.specialPrefix)
}

// spliceTextField prepends prefix onto obj[key] if it's a non-empty
// string, returning whether it did.
func spliceTextField(obj map[string]json.RawMessage, key, prefix string) bool {
	raw, present := obj[key]
	if !present {
		return false
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil || text == "" {
		return false
	}
	newRaw, err := json.Marshal(prefix + text)
	if err != nil {
		return false
	}
	obj[key] = newRaw
	return true
}

func (f *Forwarder) writeLine(line []byte) {
	if line == nil {
		f.downstream.Write([]byte("\n"))
		return
	}
	f.downstream.Write(line)
	f.downstream.Write([]byte("\n"))
}

// Close cancels forwarding and releases the upstream body.
func (f *Forwarder) Close() {
	f.cancel()
	f.upstream.Close()
}
