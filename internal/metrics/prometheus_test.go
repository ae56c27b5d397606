package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestAttemptsTotalIncrements(t *testing.T) {
	AttemptsTotal.Reset()
	AttemptsTotal.WithLabelValues("provider-a", "success").Inc()
	AttemptsTotal.WithLabelValues("provider-a", "success").Inc()
	AttemptsTotal.WithLabelValues("provider-a", "server_error").Inc()

	assert.Equal(t, float64(2), testutil.ToFloat64(AttemptsTotal.WithLabelValues("provider-a", "success")))
	assert.Equal(t, float64(1), testutil.ToFloat64(AttemptsTotal.WithLabelValues("provider-a", "server_error")))
}

func TestStreamsInFlightGauge(t *testing.T) {
	StreamsInFlight.Set(0)
	StreamsInFlight.Inc()
	StreamsInFlight.Inc()
	StreamsInFlight.Dec()

	assert.Equal(t, float64(1), testutil.ToFloat64(StreamsInFlight))
}

func TestFallbackTransitionsTotal(t *testing.T) {
	FallbackTransitionsTotal.Reset()
	FallbackTransitionsTotal.WithLabelValues("gpt-x", "gpt-y").Inc()

	assert.Equal(t, float64(1), testutil.ToFloat64(FallbackTransitionsTotal.WithLabelValues("gpt-x", "gpt-y")))
}
