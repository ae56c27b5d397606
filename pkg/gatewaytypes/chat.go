// Package gatewaytypes defines the OpenAI-compatible wire shapes the
// dispatch engine parses, rewrites, and forwards. Every provider behind
// the gateway speaks this same shape (the gateway has no per-vendor SDK
// adapters), so these types are the one format carried end to end.
package gatewaytypes

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// ChatRequest is an OpenAI-compatible chat completion request body.
type ChatRequest struct {
	Model              string          `json:"model"`
	Messages           []ChatMessage   `json:"messages"`
	Stream             bool            `json:"stream,omitempty"`
	MaxTokens          int             `json:"max_tokens,omitempty"`
	Temperature        *float64        `json:"temperature,omitempty"`
	TopP               *float64        `json:"top_p,omitempty"`
	Stop               []string        `json:"stop,omitempty"`
	Tools              json.RawMessage `json:"tools,omitempty"`
	ChatTemplateKwargs json.RawMessage `json:"chat_template_kwargs,omitempty"`

	// Extra carries every request field this struct doesn't model by
	// name, keyed by its JSON field name. UnmarshalJSON populates it
	// from whatever's left after the named fields above are consumed;
	// MarshalJSON merges it back in, so a provider's non-standard
	// request fields survive a round trip through this gateway even
	// though ChatRequest never names them.
	Extra map[string]json.RawMessage `json:"-"`
}

// chatRequestKnownFields lists every JSON key ChatRequest names above,
// kept in sync with its struct tags so UnmarshalJSON knows which keys
// belong in Extra instead.
var chatRequestKnownFields = []string{
	"model", "messages", "stream", "max_tokens", "temperature", "top_p",
	"stop", "tools", "chat_template_kwargs",
}

// UnmarshalJSON decodes the named fields normally, then stashes every
// remaining top-level key into Extra.
func (r *ChatRequest) UnmarshalJSON(data []byte) error {
	type alias ChatRequest
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*r = ChatRequest(a)
	r.Extra = nil

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, known := range chatRequestKnownFields {
		delete(raw, known)
	}
	if len(raw) > 0 {
		r.Extra = raw
	}
	return nil
}

// MarshalJSON encodes the named fields normally, then merges Extra's
// keys into the result (without overwriting a named field).
func (r ChatRequest) MarshalJSON() ([]byte, error) {
	type alias ChatRequest
	b, err := json.Marshal(alias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return b, nil
	}

	var merged map[string]json.RawMessage
	if err := json.Unmarshal(b, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if _, exists := merged[k]; !exists {
			merged[k] = v
		}
	}
	return json.Marshal(merged)
}

// ChatMessage is one message in a chat conversation. Content is either a
// plain string or a list of parts (text / image reference).
type ChatMessage struct {
	Role             string         `json:"role"`
	Content          MessageContent `json:"content"`
	Name             string         `json:"name,omitempty"`
	ToolCalls        []ToolCall     `json:"tool_calls,omitempty"`
	ToolCallID       string         `json:"tool_call_id,omitempty"`
	ReasoningContent string         `json:"reasoning_content,omitempty"`
}

// MessageContent holds either a plain string or a list of ContentParts.
// At most one of the two fields is populated after UnmarshalJSON.
type MessageContent struct {
	Text  *string
	Parts []ContentPart
}

// ContentPart is one element of a multi-part message (text or image).
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL references an image part's location.
type ImageURL struct {
	URL string `json:"url"`
}

// ToolCall is a function call the model made (or is making, in a stream).
type ToolCall struct {
	Index    *int             `json:"index,omitempty"`
	ID       string           `json:"id,omitempty"`
	Type     string           `json:"type,omitempty"`
	Function ToolCallFunction `json:"function"`
}

// ToolCallFunction carries a function call's name and arguments.
type ToolCallFunction struct {
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// IsEmpty reports whether the message carries no text/parts content.
func (c MessageContent) IsEmpty() bool {
	if c.Text != nil {
		return *c.Text == ""
	}
	return len(c.Parts) == 0
}

// HasImage reports whether any part is an image reference.
func (c MessageContent) HasImage() bool {
	for _, p := range c.Parts {
		if p.Type == "image_url" {
			return true
		}
	}
	return false
}

// PlainText returns the message's textual content: the string itself, or
// the concatenation of text parts for a multi-part message.
func (c MessageContent) PlainText() string {
	if c.Text != nil {
		return *c.Text
	}
	var out string
	for _, p := range c.Parts {
		if p.Type == "text" {
			out += p.Text
		}
	}
	return out
}

func (c *MessageContent) UnmarshalJSON(data []byte) error {
	c.Text = nil
	c.Parts = nil

	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Text = &s
		return nil
	}

	var parts []ContentPart
	if err := json.Unmarshal(data, &parts); err == nil {
		c.Parts = parts
		return nil
	}

	return fmt.Errorf("message content must be a string or an array of parts")
}

func (c MessageContent) MarshalJSON() ([]byte, error) {
	if c.Text != nil {
		return json.Marshal(*c.Text)
	}
	if c.Parts != nil {
		return json.Marshal(c.Parts)
	}
	return json.Marshal("")
}
