// Package matcher filters a provider pool by requested model name.
package matcher

import (
	"strings"

	"github.com/llmgateway/dispatch/internal/gwconfig"
	"github.com/llmgateway/dispatch/pkg/dispatcherrors"
)

// Match returns every Provider in pool whose model_match predicate
// accepts model, in pool order. An empty result is reported as a
// ClientNotFound error rather than an empty, ambiguous slice.
func Match(pool []gwconfig.Provider, model string) ([]gwconfig.Provider, error) {
	var matched []gwconfig.Provider
	for _, p := range pool {
		if accepts(p.ModelMatch, model) {
			matched = append(matched, p)
		}
	}
	if len(matched) == 0 {
		return nil, dispatcherrors.NewClientNotFound(model)
	}
	return matched, nil
}

func accepts(m gwconfig.ModelMatch, model string) bool {
	switch m.Kind {
	case gwconfig.MatchExact:
		for _, v := range m.Values {
			if v == model {
				return true
			}
		}
	case gwconfig.MatchKeyword:
		for _, v := range m.Values {
			if strings.Contains(model, v) {
				return true
			}
		}
	}
	return false
}
