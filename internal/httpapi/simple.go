package httpapi

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/llmgateway/dispatch/internal/payload"
	"github.com/llmgateway/dispatch/pkg/dispatcherrors"
	"github.com/llmgateway/dispatch/pkg/gatewaytypes"
)

// Embeddings handles POST /v1/embeddings.
func (h *Handler) Embeddings(w http.ResponseWriter, r *http.Request) {
	body, derr := readLimitedBody(r, h.maxBodySize)
	if derr != nil {
		h.writeDispatchError(w, derr)
		return
	}
	defer func() { _ = r.Body.Close() }()

	var req gatewaytypes.EmbeddingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeDispatchError(w, dispatcherrors.NewInvalidRequest("invalid JSON: "+err.Error()))
		return
	}

	pld := &payload.Payload{Kind: payload.KindEmbedding, Model: req.Model, Embedding: &req}
	h.dispatchRequest(w, r, pld, "embeddings")
}

// Rerank handles POST /v1/rerank (and /rerank).
func (h *Handler) Rerank(w http.ResponseWriter, r *http.Request) {
	body, derr := readLimitedBody(r, h.maxBodySize)
	if derr != nil {
		h.writeDispatchError(w, derr)
		return
	}
	defer func() { _ = r.Body.Close() }()

	var req gatewaytypes.RerankRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeDispatchError(w, dispatcherrors.NewInvalidRequest("invalid JSON: "+err.Error()))
		return
	}

	pld := &payload.Payload{Kind: payload.KindRerank, Model: req.Model, Rerank: &req}
	h.dispatchRequest(w, r, pld, "rerank")
}

// Score handles POST /score.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request) {
	body, derr := readLimitedBody(r, h.maxBodySize)
	if derr != nil {
		h.writeDispatchError(w, derr)
		return
	}
	defer func() { _ = r.Body.Close() }()

	var req gatewaytypes.ScoreRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeDispatchError(w, dispatcherrors.NewInvalidRequest("invalid JSON: "+err.Error()))
		return
	}

	pld := &payload.Payload{Kind: payload.KindScore, Model: req.Model, Score: &req}
	h.dispatchRequest(w, r, pld, "score")
}

// Classify handles POST /classify.
func (h *Handler) Classify(w http.ResponseWriter, r *http.Request) {
	body, derr := readLimitedBody(r, h.maxBodySize)
	if derr != nil {
		h.writeDispatchError(w, derr)
		return
	}
	defer func() { _ = r.Body.Close() }()

	var req gatewaytypes.ClassifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.writeDispatchError(w, dispatcherrors.NewInvalidRequest("invalid JSON: "+err.Error()))
		return
	}

	pld := &payload.Payload{Kind: payload.KindClassify, Model: req.Model, Classify: &req}
	h.dispatchRequest(w, r, pld, "classify")
}
