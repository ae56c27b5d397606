package payload

import (
	"regexp"
	"strings"

	"github.com/llmgateway/dispatch/pkg/gatewaytypes"
)

// thinkTagRe strips reasoning scratchpad spans an assistant message may
// carry; (?s) lets . cross newlines since a think span can be
// multi-line.
var thinkTagRe = regexp.MustCompile(`(?s)<think>.*?</think>`)

// PreprocessMessages runs the Chat message pipeline once per inbound
// request, before the Dispatcher's first RESOLVE: trim whitespace,
// strip <think> spans from assistant content, then in a single pass
// drop empty non-tool-call messages and collapse consecutive "user"
// messages by replacement. The rewritten slice is reused across every
// fallback iteration; this pipeline never re-runs mid-request.
func PreprocessMessages(messages []gatewaytypes.ChatMessage) []gatewaytypes.ChatMessage {
	prepared := make([]gatewaytypes.ChatMessage, len(messages))
	for i, m := range messages {
		prepared[i] = stripThink(trimMessage(m))
	}

	return collapseAndDropEmpty(prepared)
}

func trimMessage(m gatewaytypes.ChatMessage) gatewaytypes.ChatMessage {
	if m.Content.Text != nil {
		text := strings.TrimSpace(*m.Content.Text)
		m.Content.Text = &text
		return m
	}
	if m.Content.Parts != nil {
		parts := make([]gatewaytypes.ContentPart, len(m.Content.Parts))
		copy(parts, m.Content.Parts)
		for i, p := range parts {
			if p.Type == "text" {
				parts[i].Text = strings.TrimSpace(p.Text)
			}
		}
		m.Content.Parts = parts
	}
	return m
}

// collapseAndDropEmpty drops empty non-tool-call messages and collapses
// consecutive "user" messages by replacement (not concatenation) in one
// pass, matching process_messages exactly: dropping an empty message can
// expose a new adjacency, so the drop must happen ahead of the collapse
// decision rather than after it. [user "a", assistant "", user "b"]
// drops the empty assistant message first, which brings the two user
// messages into contact, and so collapses to [user "b"] rather than
// [user "a", user "b"].
func collapseAndDropEmpty(messages []gatewaytypes.ChatMessage) []gatewaytypes.ChatMessage {
	out := make([]gatewaytypes.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Content.IsEmpty() && len(m.ToolCalls) == 0 {
			continue
		}
		if m.Role == "user" && len(out) > 0 && out[len(out)-1].Role == "user" {
			out[len(out)-1] = m
			continue
		}
		out = append(out, m)
	}
	return out
}

func stripThink(m gatewaytypes.ChatMessage) gatewaytypes.ChatMessage {
	if m.Role != "assistant" || m.Content.Text == nil {
		return m
	}
	cleaned := strings.TrimSpace(thinkTagRe.ReplaceAllString(*m.Content.Text, ""))
	m.Content.Text = &cleaned
	return m
}
