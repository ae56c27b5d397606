package httpapi

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgateway/dispatch/internal/dispatcher"
	"github.com/llmgateway/dispatch/internal/gwconfig"
	"github.com/llmgateway/dispatch/internal/otelspan"
	"github.com/llmgateway/dispatch/internal/provider"
	"github.com/llmgateway/dispatch/internal/telemetry"
)

func newTestHandler(t *testing.T, providers ...gwconfig.Provider) *Handler {
	t.Helper()
	cfg := &gwconfig.Config{Providers: providers}
	getter := func() *gwconfig.Config { return cfg }
	d := dispatcher.New(getter, otelspan.New(nil), nil)
	transport := provider.NewTransport()
	bulk, stream := provider.NewClients(transport)
	client := provider.NewClient(bulk, stream)
	return NewHandler(d, client, getter, telemetry.NopSink{}, nil)
}

func TestChatCompletions_HappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"id":"x","choices":[{"index":0,"message":{"role":"assistant","content":"hello"}}],"usage":{"prompt_tokens":1,"completion_tokens":1,"total_tokens":2}}`))
	}))
	defer upstream.Close()

	p := gwconfig.Provider{
		Name:       "a",
		BaseURL:    upstream.URL,
		ModelMatch: gwconfig.ModelMatch{Kind: gwconfig.MatchExact, Values: []string{"gpt-x"}},
		Priority:   1,
	}
	h := newTestHandler(t, p)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(
		`{"model":"gpt-x","stream":false,"messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()
	h.ChatCompletions(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"content":"hello"`)
}

func TestChatCompletions_FourXXNoSiblingCalled(t *testing.T) {
	var bCalls int32
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":{"message":"bad"}}`))
	}))
	defer a.Close()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&bCalls, 1)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer b.Close()

	match := gwconfig.ModelMatch{Kind: gwconfig.MatchExact, Values: []string{"gpt-x"}}
	h := newTestHandler(t,
		gwconfig.Provider{Name: "a", BaseURL: a.URL, ModelMatch: match, Priority: 2},
		gwconfig.Provider{Name: "b", BaseURL: b.URL, ModelMatch: match, Priority: 0},
	)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(
		`{"model":"gpt-x","messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()
	h.ChatCompletions(w, req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "bad")
	assert.Equal(t, int32(0), atomic.LoadInt32(&bCalls))
}

func TestChatCompletions_RaceRecoversFromServerError(t *testing.T) {
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"down"}`))
	}))
	defer a.Close()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"from-b"}}]}`))
	}))
	defer b.Close()

	match := gwconfig.ModelMatch{Kind: gwconfig.MatchExact, Values: []string{"gpt-x"}}
	h := newTestHandler(t,
		gwconfig.Provider{Name: "a", BaseURL: a.URL, ModelMatch: match, Priority: 2},
		gwconfig.Provider{Name: "b", BaseURL: b.URL, ModelMatch: match, Priority: 1},
	)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(
		`{"model":"gpt-x","messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()
	h.ChatCompletions(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "from-b")
}

func TestChatCompletions_CrossModelFallback(t *testing.T) {
	a := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"down"}`))
	}))
	defer a.Close()
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[{"index":0,"message":{"role":"assistant","content":"from-fallback"}}]}`))
	}))
	defer b.Close()

	h := newTestHandler(t,
		gwconfig.Provider{
			Name: "a", BaseURL: a.URL,
			ModelMatch: gwconfig.ModelMatch{Kind: gwconfig.MatchExact, Values: []string{"gpt-x"}},
			Priority:   1, Fallback: "gpt-y",
		},
		gwconfig.Provider{
			Name: "b", BaseURL: b.URL,
			ModelMatch: gwconfig.ModelMatch{Kind: gwconfig.MatchExact, Values: []string{"gpt-y"}},
			Priority:   1,
		},
	)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(
		`{"model":"gpt-x","messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()
	h.ChatCompletions(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "from-fallback")
}

func TestChatCompletions_ModelNotFound(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(
		`{"model":"no-such","messages":[{"role":"user","content":"hi"}]}`))
	w := httptest.NewRecorder()
	h.ChatCompletions(w, req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), `"error_type":"Input Validation Error"`)
}

func TestChatCompletions_EmptyMessagesRejected(t *testing.T) {
	h := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(
		`{"model":"gpt-x","messages":[]}`))
	w := httptest.NewRecorder()
	h.ChatCompletions(w, req)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestNotFoundRoute(t *testing.T) {
	h := newTestHandler(t)
	mux := NewMux(h, &HealthHandler{}, false, "")

	req := httptest.NewRequest(http.MethodGet, "/not-a-real-route", nil)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "NotFoundError")
}
