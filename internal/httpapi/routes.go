package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMux registers every dispatch-engine endpoint on a fresh ServeMux.
// metricsEnabled/metricsPath gate a Prometheus handler at that path;
// health wraps the live Config Store for its status block.
func NewMux(h *Handler, health *HealthHandler, metricsEnabled bool, metricsPath string) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", health.Health)

	mux.HandleFunc("POST /v1/chat/completions", h.ChatCompletions)
	mux.HandleFunc("POST /v1/completions", h.Completions)
	mux.HandleFunc("POST /v1/embeddings", h.Embeddings)
	mux.HandleFunc("POST /v1/rerank", h.Rerank)
	mux.HandleFunc("POST /rerank", h.Rerank)
	mux.HandleFunc("POST /score", h.Score)
	mux.HandleFunc("POST /classify", h.Classify)
	mux.HandleFunc("POST /v1/audio/transcriptions", h.AudioTranscriptions)
	mux.HandleFunc("POST /v1/audio/translations", h.AudioTranslations)
	mux.HandleFunc("GET /v1/models", h.ListModels)
	mux.HandleFunc("/", notFound)

	if metricsEnabled {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		mux.Handle("GET "+metricsPath, promhttp.Handler())
	}

	return mux
}

// AdminMux registers only the admin-port surface (metrics, health) for
// deployments that set server.admin_port to separate it from the
// client-facing listener.
func AdminMux(health *HealthHandler, metricsPath string) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.Health)
	if metricsPath == "" {
		metricsPath = "/metrics"
	}
	mux.Handle("GET "+metricsPath, promhttp.Handler())
	return mux
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeLiteralError(w, http.StatusNotFound, "no such route: "+r.Method+" "+r.URL.Path, "NotFoundError")
}
