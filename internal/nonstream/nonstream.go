// Package nonstream implements the Response Pipeline's non-streaming
// shape: prefix splicing into a parsed JSON body, tolerant upstream
// error-message extraction, and the usage figures the telemetry sink
// records. The tool/multimodal flags come from package payload.
package nonstream

import (
	"bytes"

	"github.com/goccy/go-json"

	"github.com/llmgateway/dispatch/internal/payload"
	"github.com/llmgateway/dispatch/pkg/gatewaytypes"
)

// SplicePrefix locates the text field appropriate to kind (Chat:
// choices[*].message.content, Completion: choices[*].text) and prepends
// prefix exactly once, to the first choice carrying non-empty content.
// A no-op on every other payload kind, on an empty prefix, or when body
// doesn't parse as the expected shape (the upstream body is then passed
// through unmodified rather than failing the whole response).
//
// This mutates a generic JSON tree rather than decoding into a typed
// response struct, so any field gatewaytypes.ChatResponse doesn't model
// (system_fingerprint, per-provider extras, ...) survives the round
// trip untouched.
func SplicePrefix(body []byte, kind payload.Kind, prefix string) []byte {
	if prefix == "" {
		return body
	}
	switch kind {
	case payload.KindChat:
		return spliceRawPrefix(body, func(choice map[string]json.RawMessage) bool {
			rawMessage, present := choice["message"]
			if !present {
				return false
			}
			var message map[string]json.RawMessage
			if err := json.Unmarshal(rawMessage, &message); err != nil {
				return false
			}
			if !spliceStringField(message, "content", prefix) {
				return false
			}
			newMessage, err := json.Marshal(message)
			if err != nil {
				return false
			}
			choice["message"] = newMessage
			return true
		})
	case payload.KindCompletion:
		return spliceRawPrefix(body, func(choice map[string]json.RawMessage) bool {
			return spliceStringField(choice, "text", prefix)
		})
	default:
		return body
	}
}

// spliceRawPrefix parses body's top-level "choices" array and calls
// trySplice on each choice, in document order, stopping at the first
// one it mutates. Falls back to body unmodified whenever body, or the
// choices array, doesn't parse as expected.
func spliceRawPrefix(body []byte, trySplice func(choice map[string]json.RawMessage) bool) []byte {
	var root map[string]json.RawMessage
	if err := json.Unmarshal(body, &root); err != nil {
		return body
	}
	rawChoices, present := root["choices"]
	if !present {
		return body
	}
	var choices []map[string]json.RawMessage
	if err := json.Unmarshal(rawChoices, &choices); err != nil {
		return body
	}

	spliced := false
	for _, choice := range choices {
		if trySplice(choice) {
			spliced = true
			break
		}
	}
	if !spliced {
		return body
	}

	newChoices, err := json.Marshal(choices)
	if err != nil {
		return body
	}
	root["choices"] = newChoices

	out, err := json.Marshal(root)
	if err != nil {
		return body
	}
	return out
}

// spliceStringField prepends prefix onto obj[key] if it's a non-empty
// string, returning whether it did.
func spliceStringField(obj map[string]json.RawMessage, key, prefix string) bool {
	raw, present := obj[key]
	if !present {
		return false
	}
	var text string
	if err := json.Unmarshal(raw, &text); err != nil || text == "" {
		return false
	}
	newRaw, err := json.Marshal(prefix + text)
	if err != nil {
		return false
	}
	obj[key] = newRaw
	return true
}

// nestedError/flatError are the two upstream error-body shapes this
// gateway tolerates.
type nestedError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

type flatError struct {
	Error string `json:"error"`
}

// ExtractErrorMessage pulls a human-readable message out of a non-2xx
// upstream body: nested {error:{message}}, then flat {error:"..."},
// then the compact serialization of the whole body.
func ExtractErrorMessage(body []byte) string {
	var nested nestedError
	if err := json.Unmarshal(body, &nested); err == nil && nested.Error.Message != "" {
		return nested.Error.Message
	}
	var flat flatError
	if err := json.Unmarshal(body, &flat); err == nil && flat.Error != "" {
		return flat.Error
	}
	var compact bytes.Buffer
	if err := json.Compact(&compact, body); err == nil {
		return compact.String()
	}
	return string(body)
}

// usageEnvelope extracts just the usage field common to every
// OpenAI-compatible response shape.
type usageEnvelope struct {
	Usage *gatewaytypes.Usage `json:"usage"`
}

// ParseUsage extracts token counts from a 2xx response body, for the
// telemetry record. Returns nil if the body carries no usage field.
func ParseUsage(body []byte) *gatewaytypes.Usage {
	var env usageEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	return env.Usage
}
