package streaming

import (
	"sort"
	"strings"
	"sync"

	"github.com/llmgateway/dispatch/pkg/gatewaytypes"
)

// Accumulator consumes a clone of every SSE chunk a Forwarder writes and
// reconstructs the non-streaming-shaped response the telemetry sink
// expects, so streamed and non-streamed requests produce comparable
// records. index is the tool_calls merge key: id/type/name are set once
// and never overwritten; function.arguments is string-concatenated in
// arrival order.
type Accumulator struct {
	mu sync.Mutex

	id      string
	model   string
	created int64

	role         string
	content      strings.Builder
	reasoning    strings.Builder
	finishReason string
	usage        *gatewaytypes.Usage

	toolCalls map[int]*gatewaytypes.ToolCall
	toolOrder []int
}

// NewAccumulator returns an empty Accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{toolCalls: make(map[int]*gatewaytypes.ToolCall)}
}

// Ingest folds one stream chunk's deltas into the running accumulation.
// chunk must already carry any prefix splice the Forwarder applied, so
// the reconstructed content matches what the client actually saw.
func (a *Accumulator) Ingest(chunk *gatewaytypes.StreamChunk) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.id == "" {
		a.id = chunk.ID
		a.model = chunk.Model
		a.created = chunk.Created
	}

	for _, choice := range chunk.Choices {
		if choice.Delta.Role != "" {
			a.role = choice.Delta.Role
		}
		a.content.WriteString(choice.Delta.Content)
		a.content.WriteString(choice.Text) // legacy Completion-style chunks
		a.reasoning.WriteString(choice.Delta.ReasoningContent)
		if choice.FinishReason != "" {
			a.finishReason = choice.FinishReason
		}
		a.mergeToolCalls(choice.Delta.ToolCalls)
	}

	if chunk.Usage != nil {
		a.usage = chunk.Usage
	}
}

func (a *Accumulator) mergeToolCalls(deltas []gatewaytypes.ToolCall) {
	for _, d := range deltas {
		idx := 0
		if d.Index != nil {
			idx = *d.Index
		}
		tc, ok := a.toolCalls[idx]
		if !ok {
			i := idx
			tc = &gatewaytypes.ToolCall{Index: &i}
			a.toolCalls[idx] = tc
			a.toolOrder = append(a.toolOrder, idx)
		}
		if tc.ID == "" && d.ID != "" {
			tc.ID = d.ID
		}
		if tc.Type == "" && d.Type != "" {
			tc.Type = d.Type
		}
		if tc.Function.Name == "" && d.Function.Name != "" {
			tc.Function.Name = d.Function.Name
		}
		tc.Function.Arguments += d.Function.Arguments
	}
}

// Result synthesizes a ChatResponse from everything ingested so far. Safe
// to call once the stream has closed; calling it mid-stream returns a
// point-in-time partial reconstruction.
func (a *Accumulator) Result() *gatewaytypes.ChatResponse {
	a.mu.Lock()
	defer a.mu.Unlock()

	role := a.role
	if role == "" {
		role = "assistant"
	}
	content := a.content.String()

	var toolCalls []gatewaytypes.ToolCall
	if len(a.toolOrder) > 0 {
		order := append([]int(nil), a.toolOrder...)
		sort.Ints(order)
		toolCalls = make([]gatewaytypes.ToolCall, 0, len(order))
		for _, idx := range order {
			toolCalls = append(toolCalls, *a.toolCalls[idx])
		}
	}

	msg := gatewaytypes.ChatMessage{
		Role:             role,
		Content:          gatewaytypes.MessageContent{Text: &content},
		ToolCalls:        toolCalls,
		ReasoningContent: a.reasoning.String(),
	}

	return &gatewaytypes.ChatResponse{
		ID:      a.id,
		Object:  "chat.completion",
		Created: a.created,
		Model:   a.model,
		Choices: []gatewaytypes.Choice{{Index: 0, Message: msg, FinishReason: a.finishReason}},
		Usage:   a.usage,
	}
}
