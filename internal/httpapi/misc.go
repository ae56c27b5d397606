package httpapi

import (
	"net/http"

	"github.com/goccy/go-json"

	"github.com/llmgateway/dispatch/internal/gwconfig"
)

// HealthHandler reports process liveness plus the Config Store's status.
type HealthHandler struct {
	manager *gwconfig.Manager
}

// NewHealthHandler builds a HealthHandler over the live config manager.
func NewHealthHandler(manager *gwconfig.Manager) *HealthHandler {
	return &HealthHandler{manager: manager}
}

// Health handles GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.manager.Status()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status": "ok",
		"config": map[string]any{
			"path":         status.Path,
			"checksum":     status.Checksum,
			"loaded_at":    status.LoadedAt,
			"reload_count": status.ReloadCount,
		},
	})
}

// ListModels handles GET /v1/models, aggregating the distinct model
// names every configured provider's model_match exposes.
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	cfg := h.configGetter()
	seen := make(map[string]struct{})
	var data []map[string]any
	for _, p := range cfg.Providers {
		for _, v := range p.ModelMatch.Values {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			data = append(data, map[string]any{"id": v, "object": "model", "owned_by": p.Name})
		}
	}
	if data == nil {
		data = []map[string]any{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
}
