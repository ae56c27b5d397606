package gatewaytypes

import "github.com/goccy/go-json"

// CompletionRequest is an OpenAI-compatible text completion request.
type CompletionRequest struct {
	Model       string          `json:"model"`
	Prompt      CompletionPrompt `json:"prompt"`
	Stream      bool            `json:"stream,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature *float64        `json:"temperature,omitempty"`
	Stop        []string        `json:"stop,omitempty"`
}

// CompletionPrompt accepts either a single string or an array of strings.
type CompletionPrompt struct {
	Text  *string
	Texts []string
}

func (p CompletionPrompt) IsEmpty() bool {
	if p.Text != nil {
		return *p.Text == ""
	}
	return len(p.Texts) == 0
}

func (p *CompletionPrompt) UnmarshalJSON(data []byte) error {
	p.Text, p.Texts = nil, nil
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		p.Text = &s
		return nil
	}
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		p.Texts = ss
		return nil
	}
	return nil
}

func (p CompletionPrompt) MarshalJSON() ([]byte, error) {
	if p.Text != nil {
		return json.Marshal(*p.Text)
	}
	return json.Marshal(p.Texts)
}

// EmbeddingRequest is an OpenAI-compatible embedding request.
type EmbeddingRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
}

// RerankRequest reorders Documents by relevance to Query.
type RerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

// ScoreRequest scores the relation between two texts.
type ScoreRequest struct {
	Model string `json:"model"`
	Text1 string `json:"text_1"`
	Text2 string `json:"text_2"`
}

// ClassifyRequest classifies Input against the model's label set.
type ClassifyRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
}

// AudioRequest carries a transcription/translation request's non-file
// fields; the audio bytes themselves travel as a multipart attachment
// handled by the HTTP glue layer, not parsed into this struct.
type AudioRequest struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
	Format   string `json:"response_format,omitempty"`
}

// IsEmptyRawInput reports whether a json.RawMessage input field is
// absent, null, an empty string, or an empty array/object.
func IsEmptyRawInput(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	switch string(raw) {
	case "null", `""`, "[]", "{}":
		return true
	}
	return false
}
