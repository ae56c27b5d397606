package httpapi

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/llmgateway/dispatch/internal/payload"
	"github.com/llmgateway/dispatch/pkg/dispatcherrors"
	"github.com/llmgateway/dispatch/pkg/gatewaytypes"
)

// ChatCompletions handles POST /v1/chat/completions.
func (h *Handler) ChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, derr := readLimitedBody(r, h.maxBodySize)
	if derr != nil {
		h.writeDispatchError(w, derr)
		return
	}
	defer func() { _ = r.Body.Close() }()

	var req gatewaytypes.ChatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeDispatchError(w, dispatcherrors.NewInvalidRequest("invalid JSON: "+err.Error()))
		return
	}
	req.Messages = payload.PreprocessMessages(req.Messages)

	pld := &payload.Payload{Kind: payload.KindChat, Model: req.Model, Stream: req.Stream, Chat: &req}
	h.dispatchRequest(w, r, pld, "chat.completions")
}
