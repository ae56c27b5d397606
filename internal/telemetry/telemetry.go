// Package telemetry carries the Access Log Record produced once per
// inbound request to a caller-supplied Sink, and the recursive JSON
// truncation / client-IP extraction helpers that feed it.
package telemetry

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/llmgateway/dispatch/pkg/gatewaytypes"
)

// AccessLogRecord is produced exactly once per inbound request and
// handed to a Sink after the Response Pipeline completes, or
// synthesized by the Stream Accumulator once an SSE stream closes.
type AccessLogRecord struct {
	RequestID          string
	Type               string // e.g. "chat.completions"
	Model              string // effective model actually used
	Provider           string
	ClientIP           string
	StatusCode         int
	Tool               bool
	Multimodal         bool
	Usage              *gatewaytypes.Usage
	Error              string          `json:",omitempty"`
	RequestBodySnippet json.RawMessage `json:",omitempty"`
}

// Sink is the only collaborator the telemetry side-band depends on; the
// persistence/rotation layer behind it is out of this engine's scope.
type Sink interface {
	Record(ctx context.Context, rec AccessLogRecord)
}

// NopSink discards every record; useful as a default when no Sink is
// configured.
type NopSink struct{}

// Record implements Sink by doing nothing.
func (NopSink) Record(context.Context, AccessLogRecord) {}

const maxStringLen = 500
const maxArrayItems = 10

// TruncateJSON recursively truncates a JSON body for inclusion in an
// AccessLogRecord's RequestBodySnippet: string values over 500 chars are
// elided with a marker, arrays over 10 items are summarized. Returns the
// original bytes unmodified if they don't parse as JSON.
func TruncateJSON(body []byte) json.RawMessage {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return body
	}
	out, err := json.Marshal(truncateValue(v))
	if err != nil {
		return body
	}
	return out
}

func truncateValue(v any) any {
	switch t := v.(type) {
	case string:
		if runes := []rune(t); len(runes) > maxStringLen {
			return string(runes[:maxStringLen]) + "...(truncated)"
		}
		return t
	case []any:
		if len(t) > maxArrayItems {
			out := make([]any, 0, maxArrayItems+1)
			for i := 0; i < maxArrayItems; i++ {
				out = append(out, truncateValue(t[i]))
			}
			return append(out, fmt.Sprintf("...(%d more items)", len(t)-maxArrayItems))
		}
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = truncateValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = truncateValue(e)
		}
		return out
	default:
		return v
	}
}

// ClientIP extracts the caller's address per original_source/utils.rs's
// get_client_ip: X-Forwarded-For (first hop) -> X-Real-IP -> RemoteAddr
// -> "unknown", stripping an IPv4-mapped-IPv6 "::ffff:" prefix.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if first != "" {
			return stripV4MappedPrefix(first)
		}
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return stripV4MappedPrefix(xr)
	}
	if r.RemoteAddr != "" {
		if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
			return stripV4MappedPrefix(host)
		}
		return stripV4MappedPrefix(r.RemoteAddr)
	}
	return "unknown"
}

func stripV4MappedPrefix(ip string) string {
	return strings.TrimPrefix(ip, "::ffff:")
}
