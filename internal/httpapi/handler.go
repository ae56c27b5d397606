// Package httpapi wires inbound HTTP requests to the dispatch engine:
// decode into a payload.Payload, run the Dispatcher, and write either
// the upstream's response (streamed or buffered) or an error envelope.
package httpapi

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/llmgateway/dispatch/internal/dispatcher"
	"github.com/llmgateway/dispatch/internal/gwconfig"
	"github.com/llmgateway/dispatch/internal/httputil"
	"github.com/llmgateway/dispatch/internal/nonstream"
	"github.com/llmgateway/dispatch/internal/payload"
	"github.com/llmgateway/dispatch/internal/provider"
	"github.com/llmgateway/dispatch/internal/streaming"
	"github.com/llmgateway/dispatch/internal/telemetry"
	"github.com/llmgateway/dispatch/pkg/dispatcherrors"
)

// DefaultMaxBodySize bounds an inbound request body (10MB, matching the
// teacher's accommodation for large context windows).
const DefaultMaxBodySize = 10 * 1024 * 1024

// Handler serves every OpenAI-compatible endpoint off one Dispatcher and
// upstream Client.
type Handler struct {
	dispatch     *dispatcher.Dispatcher
	client       *provider.Client
	configGetter dispatcher.ConfigGetter
	sink         telemetry.Sink
	logger       *slog.Logger
	maxBodySize  int64
}

// NewHandler builds a Handler. sink and logger may be nil (NopSink and
// slog.Default respectively).
func NewHandler(d *dispatcher.Dispatcher, client *provider.Client, configGetter dispatcher.ConfigGetter, sink telemetry.Sink, logger *slog.Logger) *Handler {
	if sink == nil {
		sink = telemetry.NopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{dispatch: d, client: client, configGetter: configGetter, sink: sink, logger: logger, maxBodySize: DefaultMaxBodySize}
}

// attemptResult is the dispatcher.Result an attempt produces: enough to
// either stream or buffer the upstream response, or pass a terminal 4xx
// through verbatim.
type attemptResult struct {
	provider gwconfig.Provider
	status   int
	header   http.Header
	body     io.ReadCloser
}

const maxErrorBodyBytes = 64 * 1024

// buildAttempt closes over pld so cross-model fallback (which mutates
// pld.Model between RESOLVE iterations) is reflected on every call.
func (h *Handler) buildAttempt(pld *payload.Payload) dispatcher.AttemptFunc {
	return func(ctx context.Context, p gwconfig.Provider, model string) (dispatcher.Result, *dispatcherrors.DispatchError) {
		pld.Model = model
		upstream, derr := h.client.Do(ctx, p, pld)
		if derr != nil {
			return nil, derr
		}
		if upstream.StatusCode >= 500 {
			body, _ := httputil.ReadLimitedBody(upstream.Body, maxErrorBodyBytes)
			_ = upstream.Body.Close()
			return nil, dispatcherrors.NewUpstreamStatus(p.Name, model, upstream.StatusCode, string(body))
		}
		if upstream.StatusCode >= 400 {
			body, _ := httputil.ReadLimitedBody(upstream.Body, maxErrorBodyBytes)
			_ = upstream.Body.Close()
			res := &attemptResult{provider: p, status: upstream.StatusCode, header: upstream.Header, body: io.NopCloser(bytes.NewReader(body))}
			return res, dispatcherrors.NewUpstreamStatus(p.Name, model, upstream.StatusCode, string(body))
		}
		return &attemptResult{provider: p, status: upstream.StatusCode, header: upstream.Header, body: upstream.Body}, nil
	}
}

// dispatchRequest runs the full RESOLVE->...->response cycle shared by
// every endpoint once its Payload is built and validated.
func (h *Handler) dispatchRequest(w http.ResponseWriter, r *http.Request, pld *payload.Payload, recordType string) {
	if err := pld.Validate(); err != nil {
		derr, ok := err.(*dispatcherrors.DispatchError)
		if !ok {
			derr = dispatcherrors.NewInvalidRequest(err.Error())
		}
		h.writeDispatchError(w, derr)
		return
	}
	pld.InboundAuthorization = r.Header.Get("Authorization")

	requestID := uuid.NewString()
	clientIP := telemetry.ClientIP(r)

	out := h.dispatch.Execute(r.Context(), requestID, pld.Model, pld.Anchors(), h.buildAttempt(pld))

	rec := telemetry.AccessLogRecord{
		RequestID:  requestID,
		Type:       recordType,
		Model:      out.EffectiveModel,
		ClientIP:   clientIP,
		Tool:       pld.HasTools(),
		Multimodal: pld.HasImage(),
	}
	if len(out.Tried) > 0 {
		rec.Provider = out.Tried[len(out.Tried)-1].Provider
	}

	if out.Err != nil {
		rec.Error = out.Err.Error()
		rec.StatusCode = out.Err.HTTPStatusCode()
		res, _ := out.Result.(*attemptResult)
		if res != nil {
			h.passThroughTerminal(w, res)
		} else {
			h.writeDispatchError(w, out.Err)
		}
		h.sink.Record(r.Context(), rec)
		return
	}

	res := out.Result.(*attemptResult)
	rec.StatusCode = http.StatusOK
	if pld.Stream {
		h.forwardStream(w, r, res, requestID, rec)
		return
	}
	h.writeBuffered(w, r, res, pld, rec)
}

// passThroughTerminal forwards a non-retryable 4xx verbatim — the
// upstream's own error body, unmodified.
func (h *Handler) passThroughTerminal(w http.ResponseWriter, res *attemptResult) {
	defer func() { _ = res.body.Close() }()
	contentType := res.header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(res.status)
	_, _ = io.Copy(w, res.body)
}

func (h *Handler) forwardStream(w http.ResponseWriter, r *http.Request, res *attemptResult, requestID string, rec telemetry.AccessLogRecord) {
	defer func() { _ = res.body.Close() }()

	acc := streaming.NewAccumulator()
	forwarder, err := streaming.NewForwarder(streaming.ForwarderConfig{
		Upstream:      res.body,
		Downstream:    w,
		ClientCtx:     r.Context(),
		SpecialPrefix: res.provider.SpecialPrefix,
		Accumulator:   acc,
	})
	if err != nil {
		h.writeDispatchError(w, dispatcherrors.NewInternal("streaming not supported by this response writer"))
		return
	}
	defer forwarder.Close()

	if fwErr := forwarder.Forward(); fwErr != nil && r.Context().Err() == nil {
		h.logger.Error("stream forward error", "error", fwErr, "request_id", requestID)
	}

	final := acc.Result()
	if final.Usage != nil {
		rec.Usage = final.Usage
	}
	rec.Provider = res.provider.Name
	h.sink.Record(r.Context(), rec)
}

func (h *Handler) writeBuffered(w http.ResponseWriter, r *http.Request, res *attemptResult, pld *payload.Payload, rec telemetry.AccessLogRecord) {
	defer func() { _ = res.body.Close() }()

	body, err := io.ReadAll(res.body)
	if err != nil {
		rec.Error = err.Error()
		h.writeDispatchError(w, dispatcherrors.NewMalformedUpstreamBody(res.provider.Name, pld.Model, err.Error()))
		h.sink.Record(r.Context(), rec)
		return
	}

	if res.provider.SpecialPrefix != "" {
		body = nonstream.SplicePrefix(body, pld.Kind, res.provider.SpecialPrefix)
	}

	rec.Provider = res.provider.Name
	rec.Usage = nonstream.ParseUsage(body)

	contentType := res.header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)

	h.sink.Record(r.Context(), rec)
}

// writeDispatchError writes this engine's own error envelope — used for
// everything that never reached an upstream (validation, not-found,
// exhaustion) or failed before a body could be attributed to a provider.
func (h *Handler) writeDispatchError(w http.ResponseWriter, derr *dispatcherrors.DispatchError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(derr.HTTPStatusCode())
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: derr.Message, ErrorType: derr.ErrorType()})
}

// errorEnvelope is the wire error body per SPEC_FULL.md §6.
type errorEnvelope struct {
	Error     string `json:"error"`
	ErrorType string `json:"error_type"`
}

// writeLiteralError writes an envelope with an explicit error_type
// literal for failures that never produce a *DispatchError (unmatched
// routes, an unparseable inbound multipart form).
func writeLiteralError(w http.ResponseWriter, status int, message, errType string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorEnvelope{Error: message, ErrorType: errType})
}

func readLimitedBody(r *http.Request, maxBodySize int64) ([]byte, *dispatcherrors.DispatchError) {
	body, err := httputil.ReadLimitedBody(r.Body, maxBodySize)
	if err != nil {
		if errors.Is(err, httputil.ErrResponseBodyTooLarge) {
			return nil, dispatcherrors.NewInvalidRequest("request body too large")
		}
		return nil, dispatcherrors.NewInvalidRequest("failed to read request body")
	}
	return body, nil
}
