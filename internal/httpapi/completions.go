package httpapi

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/llmgateway/dispatch/internal/payload"
	"github.com/llmgateway/dispatch/pkg/dispatcherrors"
	"github.com/llmgateway/dispatch/pkg/gatewaytypes"
)

// Completions handles POST /v1/completions.
func (h *Handler) Completions(w http.ResponseWriter, r *http.Request) {
	body, derr := readLimitedBody(r, h.maxBodySize)
	if derr != nil {
		h.writeDispatchError(w, derr)
		return
	}
	defer func() { _ = r.Body.Close() }()

	var req gatewaytypes.CompletionRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeDispatchError(w, dispatcherrors.NewInvalidRequest("invalid JSON: "+err.Error()))
		return
	}

	pld := &payload.Payload{Kind: payload.KindCompletion, Model: req.Model, Stream: req.Stream, Completion: &req}
	h.dispatchRequest(w, r, pld, "completions")
}
