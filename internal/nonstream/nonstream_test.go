package nonstream

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/llmgateway/dispatch/internal/payload"
)

func TestSplicePrefix_ChatSplicesFirstNonEmptyChoice(t *testing.T) {
	body := []byte(`{"id":"1","choices":[{"index":0,"message":{"role":"assistant","content":""}},{"index":1,"message":{"role":"assistant","content":"hello"}}]}`)
	out := SplicePrefix(body, payload.KindChat, "[P] ")
	assert.Contains(t, string(out), `"content":"[P] hello"`)
}

func TestSplicePrefix_CompletionSplicesText(t *testing.T) {
	body := []byte(`{"id":"1","choices":[{"index":0,"text":"hello"}]}`)
	out := SplicePrefix(body, payload.KindCompletion, "[P] ")
	assert.Contains(t, string(out), `"text":"[P] hello"`)
}

func TestSplicePrefix_EmptyPrefixIsNoOp(t *testing.T) {
	body := []byte(`{"id":"1"}`)
	out := SplicePrefix(body, payload.KindChat, "")
	assert.Equal(t, body, out)
}

func TestSplicePrefix_UnsupportedKindPassesThrough(t *testing.T) {
	body := []byte(`{"anything":true}`)
	out := SplicePrefix(body, payload.KindEmbedding, "[P] ")
	assert.Equal(t, body, out)
}

func TestSplicePrefix_MalformedBodyPassesThroughUnmodified(t *testing.T) {
	body := []byte(`not json`)
	out := SplicePrefix(body, payload.KindChat, "[P] ")
	assert.Equal(t, body, out)
}

func TestExtractErrorMessage_NestedShape(t *testing.T) {
	body := []byte(`{"error":{"message":"bad request"}}`)
	assert.Equal(t, "bad request", ExtractErrorMessage(body))
}

func TestExtractErrorMessage_FlatShape(t *testing.T) {
	body := []byte(`{"error":"rate limited"}`)
	assert.Equal(t, "rate limited", ExtractErrorMessage(body))
}

func TestExtractErrorMessage_FallsBackToCompactBody(t *testing.T) {
	body := []byte(`{"unexpected":  "shape"}`)
	assert.Equal(t, `{"unexpected":"shape"}`, ExtractErrorMessage(body))
}

func TestParseUsage_ExtractsTokenCounts(t *testing.T) {
	body := []byte(`{"usage":{"prompt_tokens":3,"completion_tokens":4,"total_tokens":7}}`)
	usage := ParseUsage(body)
	if assert.NotNil(t, usage) {
		assert.Equal(t, 7, usage.TotalTokens)
	}
}

func TestParseUsage_NoUsageFieldReturnsNil(t *testing.T) {
	assert.Nil(t, ParseUsage([]byte(`{"id":"1"}`)))
}
