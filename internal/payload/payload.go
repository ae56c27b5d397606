// Package payload models the inbound request as a tagged union over the
// seven OpenAI-compatible operation kinds, and carries the pure
// functions (validation, the chat preprocessing pipeline, the merge/
// clamp laws, routing-key derivation) that operate on it before the
// Dispatcher ever sees the request.
package payload

import (
	"github.com/llmgateway/dispatch/internal/selector"
	"github.com/llmgateway/dispatch/pkg/dispatcherrors"
	"github.com/llmgateway/dispatch/pkg/gatewaytypes"
)

// Kind identifies which of the seven request shapes a Payload carries.
type Kind string

const (
	KindChat       Kind = "chat"
	KindCompletion Kind = "completion"
	KindEmbedding  Kind = "embedding"
	KindRerank     Kind = "rerank"
	KindScore      Kind = "score"
	KindClassify   Kind = "classify"
	KindAudio      Kind = "audio"
)

// AudioOp distinguishes the two audio endpoints, both backed by the same
// AudioRequest shape.
type AudioOp string

const (
	AudioTranscribe AudioOp = "transcriptions"
	AudioTranslate  AudioOp = "translations"
)

// Payload is the tagged union the Dispatcher and Response Pipeline pass
// around. Model is mutable so cross-model fallback can rewrite it
// in place between RESOLVE iterations; every other field is set once at
// ingress.
type Payload struct {
	Kind   Kind
	Model  string
	Stream bool

	Chat       *gatewaytypes.ChatRequest
	Completion *gatewaytypes.CompletionRequest
	Embedding  *gatewaytypes.EmbeddingRequest
	Rerank     *gatewaytypes.RerankRequest
	Score      *gatewaytypes.ScoreRequest
	Classify   *gatewaytypes.ClassifyRequest
	Audio      *gatewaytypes.AudioRequest
	AudioOp    AudioOp

	// AudioFile/AudioFileName carry the multipart attachment for audio
	// requests; the request body's non-file fields still travel in
	// Audio above. Nil for every other Kind.
	AudioFile     []byte
	AudioFileName string

	// InboundAuthorization is the client's Authorization header,
	// forwarded upstream verbatim when a provider has no static api_key.
	InboundAuthorization string
}

// EndpointPath returns the upstream path segment appended to a
// provider's base_url, per SPEC_FULL.md §4.5.
func (p *Payload) EndpointPath() string {
	switch p.Kind {
	case KindChat:
		return "chat/completions"
	case KindCompletion:
		return "completions"
	case KindEmbedding:
		return "embeddings"
	case KindRerank:
		return "rerank"
	case KindScore:
		return "score"
	case KindClassify:
		return "classify"
	case KindAudio:
		return "audio/" + string(p.AudioOp)
	default:
		return ""
	}
}

// Validate applies the per-kind input checks grounded in
// common_handler.rs: empty required fields surface as InvalidRequest
// before the Dispatcher is ever invoked.
func (p *Payload) Validate() error {
	switch p.Kind {
	case KindChat:
		if p.Chat == nil || len(p.Chat.Messages) == 0 {
			return dispatcherrors.NewInvalidRequest("messages must not be empty")
		}
	case KindCompletion:
		if p.Completion == nil || p.Completion.Prompt.IsEmpty() {
			return dispatcherrors.NewInvalidRequest("prompt must not be empty")
		}
	case KindEmbedding:
		if p.Embedding == nil || gatewaytypes.IsEmptyRawInput(p.Embedding.Input) {
			return dispatcherrors.NewInvalidRequest("input must not be empty")
		}
	case KindRerank:
		if p.Rerank == nil || p.Rerank.Query == "" || len(p.Rerank.Documents) == 0 {
			return dispatcherrors.NewInvalidRequest("query and documents must not be empty")
		}
	case KindScore:
		if p.Score == nil || p.Score.Text1 == "" || p.Score.Text2 == "" {
			return dispatcherrors.NewInvalidRequest("text_1 and text_2 must not be empty")
		}
	case KindClassify:
		if p.Classify == nil || gatewaytypes.IsEmptyRawInput(p.Classify.Input) {
			return dispatcherrors.NewInvalidRequest("input must not be empty")
		}
	case KindAudio:
		if p.Audio == nil {
			return dispatcherrors.NewInvalidRequest("audio request body missing")
		}
	}
	return nil
}

// HasTools reports whether a Chat payload carries a non-empty tools
// field; feeds the telemetry record's `tool` flag.
func (p *Payload) HasTools() bool {
	return p.Kind == KindChat && p.Chat != nil && len(p.Chat.Tools) > 0 && string(p.Chat.Tools) != "null"
}

// HasImage reports whether any Chat message carries an image part;
// feeds the telemetry record's `multimodal` flag.
func (p *Payload) HasImage() bool {
	if p.Kind != KindChat || p.Chat == nil {
		return false
	}
	for _, m := range p.Chat.Messages {
		if m.Content.HasImage() {
			return true
		}
	}
	return false
}

// Anchors derives the Selector's routing keys per SPEC_FULL.md §4.3: one
// anchor per Chat user message, or one anchor for a Completion prompt.
// Other kinds return nil, so the Selector falls back to Algorithm A.
func (p *Payload) Anchors() []selector.Anchor {
	switch p.Kind {
	case KindChat:
		if p.Chat == nil {
			return nil
		}
		var anchors []selector.Anchor
		for _, m := range p.Chat.Messages {
			if m.Role != "user" {
				continue
			}
			anchors = append(anchors, anchorFor(m.Content.PlainText()))
		}
		return anchors
	case KindCompletion:
		if p.Completion == nil {
			return nil
		}
		text := ""
		if p.Completion.Prompt.Text != nil {
			text = *p.Completion.Prompt.Text
		} else if len(p.Completion.Prompt.Texts) > 0 {
			text = p.Completion.Prompt.Texts[0]
		}
		if text == "" {
			return nil
		}
		return []selector.Anchor{anchorFor(text)}
	default:
		return nil
	}
}

const anchorPrefixRunes = 64

func anchorFor(content string) selector.Anchor {
	runes := []rune(content)
	prefix := runes
	if len(runes) > anchorPrefixRunes {
		prefix = runes[:anchorPrefixRunes]
	}
	return selector.Anchor{Content: string(prefix), Weight: len(runes)}
}

// ClampMaxTokens applies the §3 max_tokens law: min(requested,
// providerMax) if both are present (present meaning > 0, matching the
// wire encoding's omitempty convention), otherwise whichever one is
// present.
func ClampMaxTokens(requested, providerMax int) int {
	switch {
	case requested > 0 && providerMax > 0:
		if requested < providerMax {
			return requested
		}
		return providerMax
	case providerMax > 0:
		return providerMax
	default:
		return requested
	}
}

// MergeStop applies the §3 stop law: dedup(providerStop ++
// requestStop), preserving first-occurrence order.
func MergeStop(providerStop, requestStop []string) []string {
	if len(providerStop) == 0 && len(requestStop) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(providerStop)+len(requestStop))
	out := make([]string, 0, len(providerStop)+len(requestStop))
	for _, s := range providerStop {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, s := range requestStop {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
