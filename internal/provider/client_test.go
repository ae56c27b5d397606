package provider

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgateway/dispatch/internal/gwconfig"
	"github.com/llmgateway/dispatch/internal/payload"
	"github.com/llmgateway/dispatch/pkg/dispatcherrors"
	"github.com/llmgateway/dispatch/pkg/gatewaytypes"
)

func newTestClient() *Client {
	transport := NewTransport()
	bulk, stream := NewClients(transport)
	return NewClient(bulk, stream)
}

func TestClient_DoSendsClampedChatBody(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotBody, _ = io.ReadAll(r.Body)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	p := gwconfig.Provider{Name: "a", BaseURL: upstream.URL + "/", APIKey: "secret-key", MaxTokens: 50}
	pld := &payload.Payload{
		Kind:  payload.KindChat,
		Model: "gpt-x",
		Chat: &gatewaytypes.ChatRequest{
			Messages:  []gatewaytypes.ChatMessage{textMsgFor("user", "hi")},
			MaxTokens: 200,
		},
	}

	resp, derr := newTestClient().Do(context.Background(), p, pld)
	require.Nil(t, derr)
	require.NotNil(t, resp)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/chat/completions", gotPath)
	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Contains(t, string(gotBody), `"max_tokens":50`, "requested max_tokens must be clamped to the provider's ceiling")
}

func TestClient_DoFallsBackToInboundAuthorization(t *testing.T) {
	var gotAuth string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p := gwconfig.Provider{Name: "a", BaseURL: upstream.URL}
	pld := &payload.Payload{
		Kind:                 payload.KindEmbedding,
		Model:                "embed-x",
		Embedding:            &gatewaytypes.EmbeddingRequest{},
		InboundAuthorization: "Bearer client-token",
	}

	resp, derr := newTestClient().Do(context.Background(), p, pld)
	require.Nil(t, derr)
	defer resp.Body.Close()
	assert.Equal(t, "Bearer client-token", gotAuth)
}

func TestClient_DoClassifiesConnectionRefused(t *testing.T) {
	p := gwconfig.Provider{Name: "a", BaseURL: "http://127.0.0.1:1"}
	pld := &payload.Payload{Kind: payload.KindEmbedding, Model: "x", Embedding: &gatewaytypes.EmbeddingRequest{}}

	resp, derr := newTestClient().Do(context.Background(), p, pld)
	require.Nil(t, resp)
	require.NotNil(t, derr)
	assert.Equal(t, dispatcherrors.KindUpstreamConnect, derr.Kind)
}

func TestClient_DoReturns5xxBodyUnclassifiedForCaller(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"down"}`))
	}))
	defer upstream.Close()

	p := gwconfig.Provider{Name: "a", BaseURL: upstream.URL}
	pld := &payload.Payload{Kind: payload.KindEmbedding, Model: "x", Embedding: &gatewaytypes.EmbeddingRequest{}}

	resp, derr := newTestClient().Do(context.Background(), p, pld)
	require.Nil(t, derr, "Do only classifies transport failures; status-code interpretation is the caller's job")
	require.NotNil(t, resp)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
}

func TestClient_DoBuildsAudioMultipart(t *testing.T) {
	var gotContentType string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotContentType = r.Header.Get("Content-Type")
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		data, _ := io.ReadAll(f)
		assert.Equal(t, "raw-audio-bytes", string(data))
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	p := gwconfig.Provider{Name: "a", BaseURL: upstream.URL}
	pld := &payload.Payload{
		Kind:          payload.KindAudio,
		Model:         "whisper-1",
		Audio:         &gatewaytypes.AudioRequest{},
		AudioOp:       payload.AudioTranscribe,
		AudioFile:     []byte("raw-audio-bytes"),
		AudioFileName: "clip.wav",
	}

	resp, derr := newTestClient().Do(context.Background(), p, pld)
	require.Nil(t, derr)
	defer resp.Body.Close()
	assert.True(t, strings.HasPrefix(gotContentType, "multipart/form-data"))
}

func textMsgFor(role, text string) gatewaytypes.ChatMessage {
	t := text
	return gatewaytypes.ChatMessage{Role: role, Content: gatewaytypes.MessageContent{Text: &t}}
}
