// Package provider performs the single upstream round-trip the
// Dispatcher's attempt_fn wraps: build the provider-specific request
// body from a Payload, send it, and classify any transport failure into
// the dispatch engine's error taxonomy. Every upstream speaks the same
// OpenAI-compatible wire shape, so one adapter serves every configured
// Provider — there is no per-vendor SDK layer.
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"github.com/llmgateway/dispatch/internal/gwconfig"
	"github.com/llmgateway/dispatch/internal/payload"
	"github.com/llmgateway/dispatch/pkg/dispatcherrors"
)

const (
	maxIdleConns        = 100
	maxIdleConnsPerHost = 10
	idleConnTimeout     = 90 * time.Second
	responseHeaderWait  = 60 * time.Second
	bodyDeadline        = 180 * time.Second
)

// NewTransport builds the single shared *http.Transport both the bulk
// and streaming clients reuse, grounded in client.go's connection pool
// settings.
func NewTransport() *http.Transport {
	return &http.Transport{
		MaxIdleConns:          maxIdleConns,
		MaxIdleConnsPerHost:   maxIdleConnsPerHost,
		IdleConnTimeout:       idleConnTimeout,
		ResponseHeaderTimeout: responseHeaderWait,
	}
}

// NewClients returns the non-streaming ("bulk") and streaming
// *http.Client pair sharing transport, matching client.go's
// streamHTTPClient split: bulk bounds the whole round trip at the body
// deadline; stream leaves body read unbounded, relying on the shared
// transport's ResponseHeaderTimeout for TTFB and the caller's context
// for the overall deadline.
func NewClients(transport *http.Transport) (bulk, stream *http.Client) {
	bulk = &http.Client{Transport: transport, Timeout: bodyDeadline}
	stream = &http.Client{Transport: transport}
	return bulk, stream
}

// UpstreamResponse is the raw upstream result handed to the Response
// Pipeline. Body is open and must be closed by the caller once consumed.
type UpstreamResponse struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
}

// Client performs one upstream attempt per call to Do.
type Client struct {
	bulk   *http.Client
	stream *http.Client
}

// NewClient wraps the bulk/streaming client pair.
func NewClient(bulk, stream *http.Client) *Client {
	return &Client{bulk: bulk, stream: stream}
}

// Do builds the provider-specific request for pld, sends it, and returns
// either the raw upstream response or a classified
// *dispatcherrors.DispatchError. Non-streaming requests go through the
// bulk client, whose Timeout bounds the round trip and body read at the
// body deadline; streaming requests are bounded only by ctx. A non-nil
// UpstreamResponse is only ever returned alongside a nil error; callers
// must close its Body.
func (c *Client) Do(ctx context.Context, p gwconfig.Provider, pld *payload.Payload) (*UpstreamResponse, *dispatcherrors.DispatchError) {
	body, contentType, err := buildBody(p, pld)
	if err != nil {
		return nil, dispatcherrors.NewMalformedUpstreamBody(p.Name, pld.Model, fmt.Sprintf("build request body: %v", err))
	}

	target := p.TrimmedBaseURL() + "/" + pld.EndpointPath()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, dispatcherrors.NewInternal(fmt.Sprintf("build upstream request: %v", err))
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", authorizationFor(p, pld))

	client := c.bulk
	if pld.Stream {
		client = c.stream
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, classifyTransportError(p.Name, pld.Model, err)
	}
	return &UpstreamResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: resp.Body}, nil
}

func authorizationFor(p gwconfig.Provider, pld *payload.Payload) string {
	if p.APIKey != "" {
		return "Bearer " + p.APIKey
	}
	return pld.InboundAuthorization
}

func classifyTransportError(providerName, model string, err error) *dispatcherrors.DispatchError {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return dispatcherrors.NewUpstreamTimeout(providerName, model, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return dispatcherrors.NewUpstreamTimeout(providerName, model, err.Error())
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return dispatcherrors.NewUpstreamTimeout(providerName, model, err.Error())
	}
	return dispatcherrors.NewUpstreamConnect(providerName, model, err.Error())
}

// buildBody applies the clamp/merge laws for Chat and Completion, then
// serializes the effective body. Audio requests are multipart; every
// other kind is JSON.
func buildBody(p gwconfig.Provider, pld *payload.Payload) ([]byte, string, error) {
	switch pld.Kind {
	case payload.KindChat:
		req := *pld.Chat
		req.Model = pld.Model
		req.Stream = pld.Stream
		req.MaxTokens = payload.ClampMaxTokens(pld.Chat.MaxTokens, p.MaxTokens)
		req.Stop = payload.MergeStop(p.Stop, pld.Chat.Stop)
		b, err := json.Marshal(req)
		return b, "application/json", err
	case payload.KindCompletion:
		req := *pld.Completion
		req.Model = pld.Model
		req.Stream = pld.Stream
		req.MaxTokens = payload.ClampMaxTokens(pld.Completion.MaxTokens, p.MaxTokens)
		req.Stop = payload.MergeStop(p.Stop, pld.Completion.Stop)
		b, err := json.Marshal(req)
		return b, "application/json", err
	case payload.KindEmbedding:
		req := *pld.Embedding
		req.Model = pld.Model
		b, err := json.Marshal(req)
		return b, "application/json", err
	case payload.KindRerank:
		req := *pld.Rerank
		req.Model = pld.Model
		b, err := json.Marshal(req)
		return b, "application/json", err
	case payload.KindScore:
		req := *pld.Score
		req.Model = pld.Model
		b, err := json.Marshal(req)
		return b, "application/json", err
	case payload.KindClassify:
		req := *pld.Classify
		req.Model = pld.Model
		b, err := json.Marshal(req)
		return b, "application/json", err
	case payload.KindAudio:
		return buildAudioMultipart(pld)
	default:
		return nil, "", fmt.Errorf("unknown payload kind %q", pld.Kind)
	}
}

func buildAudioMultipart(pld *payload.Payload) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	if err := w.WriteField("model", pld.Model); err != nil {
		return nil, "", err
	}
	if pld.Audio.Language != "" {
		if err := w.WriteField("language", pld.Audio.Language); err != nil {
			return nil, "", err
		}
	}
	if pld.Audio.Format != "" {
		if err := w.WriteField("response_format", pld.Audio.Format); err != nil {
			return nil, "", err
		}
	}
	if len(pld.AudioFile) > 0 {
		fw, err := w.CreateFormFile("file", pld.AudioFileName)
		if err != nil {
			return nil, "", err
		}
		if _, err := fw.Write(pld.AudioFile); err != nil {
			return nil, "", err
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}
