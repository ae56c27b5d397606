package dispatcher

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llmgateway/dispatch/internal/gwconfig"
	"github.com/llmgateway/dispatch/internal/otelspan"
	"github.com/llmgateway/dispatch/pkg/dispatcherrors"
)

func exactProvider(name, model string, priority int, fallback string) gwconfig.Provider {
	return gwconfig.Provider{
		Name:       name,
		BaseURL:    "https://" + name + ".example.test",
		ModelMatch: gwconfig.ModelMatch{Kind: gwconfig.MatchExact, Values: []string{model}},
		Priority:   priority,
		Fallback:   fallback,
	}
}

func staticConfig(providers ...gwconfig.Provider) ConfigGetter {
	cfg := &gwconfig.Config{Providers: providers}
	return func() *gwconfig.Config { return cfg }
}

func newTestDispatcher(cfg ConfigGetter) *Dispatcher {
	return New(cfg, otelspan.New(nil), nil)
}

func TestExecute_PrimarySuccess(t *testing.T) {
	cfg := staticConfig(exactProvider("a", "gpt-x", 1, ""))
	d := newTestDispatcher(cfg)

	var calls int32
	attempt := func(ctx context.Context, p gwconfig.Provider, model string) (Result, *dispatcherrors.DispatchError) {
		atomic.AddInt32(&calls, 1)
		return "ok", nil
	}

	out := d.Execute(context.Background(), "req-1", "gpt-x", nil, attempt)
	require.Nil(t, out.Err)
	assert.Equal(t, "ok", out.Result)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Len(t, out.Tried, 1)
}

func TestExecute_ClientNotFound(t *testing.T) {
	cfg := staticConfig(exactProvider("a", "gpt-x", 1, ""))
	d := newTestDispatcher(cfg)

	attempt := func(ctx context.Context, p gwconfig.Provider, model string) (Result, *dispatcherrors.DispatchError) {
		t.Fatal("attempt must not be called when no provider matches")
		return nil, nil
	}

	out := d.Execute(context.Background(), "req-1", "no-such-model", nil, attempt)
	require.NotNil(t, out.Err)
	assert.Equal(t, dispatcherrors.KindClientNotFound, out.Err.Kind)
	assert.Empty(t, out.Tried)
}

func TestExecute_FourXXIsTerminalNoRetry(t *testing.T) {
	cfg := staticConfig(
		exactProvider("a", "gpt-x", 2, ""),
		exactProvider("b", "gpt-x", 1, ""),
	)
	d := newTestDispatcher(cfg)

	var calls int32
	attempt := func(ctx context.Context, p gwconfig.Provider, model string) (Result, *dispatcherrors.DispatchError) {
		atomic.AddInt32(&calls, 1)
		return nil, dispatcherrors.NewUpstreamStatus(p.Name, model, 422, "bad request")
	}

	out := d.Execute(context.Background(), "req-1", "gpt-x", nil, attempt)
	require.NotNil(t, out.Err)
	assert.False(t, out.Err.Retryable())
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "a 4xx must not trigger RACE or fallback")
	assert.Len(t, out.Tried, 1)
}

func TestExecute_RaceRecoversAfterPrimaryFailure(t *testing.T) {
	cfg := staticConfig(
		exactProvider("primary", "gpt-x", 3, ""),
		exactProvider("sibling-a", "gpt-x", 0, ""),
		exactProvider("sibling-b", "gpt-x", 0, ""),
	)
	d := newTestDispatcher(cfg)

	attempt := func(ctx context.Context, p gwconfig.Provider, model string) (Result, *dispatcherrors.DispatchError) {
		if p.Name == "primary" {
			return nil, dispatcherrors.NewUpstreamStatus(p.Name, model, 503, "unavailable")
		}
		return "from:" + p.Name, nil
	}

	out := d.Execute(context.Background(), "req-1", "gpt-x", nil, attempt)
	require.Nil(t, out.Err)
	assert.Contains(t, []string{"from:sibling-a", "from:sibling-b"}, out.Result)
	assert.GreaterOrEqual(t, len(out.Tried), 2)
}

func TestExecute_FallbackOnTotalGroupFailure(t *testing.T) {
	cfg := staticConfig(
		exactProvider("a", "gpt-x", 1, "gpt-y"),
		exactProvider("b", "gpt-y", 1, ""),
	)
	d := newTestDispatcher(cfg)

	attempt := func(ctx context.Context, p gwconfig.Provider, model string) (Result, *dispatcherrors.DispatchError) {
		if model == "gpt-x" {
			return nil, dispatcherrors.NewUpstreamTimeout(p.Name, model, "timed out")
		}
		return "ok-from-fallback", nil
	}

	out := d.Execute(context.Background(), "req-1", "gpt-x", nil, attempt)
	require.Nil(t, out.Err)
	assert.Equal(t, "ok-from-fallback", out.Result)
	assert.Equal(t, "gpt-y", out.EffectiveModel)
}

func TestExecute_FallbackDepthCapped(t *testing.T) {
	// a self-referential fallback chain must not loop forever.
	cfg := staticConfig(exactProvider("a", "gpt-x", 1, "gpt-x"))
	d := newTestDispatcher(cfg)

	var calls int32
	attempt := func(ctx context.Context, p gwconfig.Provider, model string) (Result, *dispatcherrors.DispatchError) {
		atomic.AddInt32(&calls, 1)
		return nil, dispatcherrors.NewUpstreamConnect(p.Name, model, "connection refused")
	}

	out := d.Execute(context.Background(), "req-1", "gpt-x", nil, attempt)
	require.NotNil(t, out.Err)
	assert.Equal(t, int32(maxFallbackDepth+1), atomic.LoadInt32(&calls))
}
