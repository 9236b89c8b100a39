package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxyrank/internal/endpoint"
	"proxyrank/internal/round"
)

func TestCollectorCounts(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		c.UnitStarted("fast")
	}
	assert.Equal(t, 4.0, testutil.ToFloat64(c.inFlight.WithLabelValues("fast")))

	c.UnitDone("fast", round.Verdict{Alive: true, LatencyMillis: 42}, false)
	c.UnitDone("fast", round.Verdict{Alive: true, LatencyMillis: 84}, false)
	c.UnitDone("fast", round.Dead(endpoint.Target{}, errors.New("refused")), false)
	c.UnitDone("fast", round.Dead(endpoint.Target{}, errors.New("timeout")), true)

	assert.Equal(t, 0.0, testutil.ToFloat64(c.inFlight.WithLabelValues("fast")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.units.WithLabelValues("fast", OutcomeAlive)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.units.WithLabelValues("fast", OutcomeDead)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.units.WithLabelValues("fast", OutcomeForced)))
	assert.Equal(t, 1, testutil.CollectAndCount(c.latency, "proxyrank_latency_ms"))

	n, err := testutil.GatherAndCount(reg, "proxyrank_units_total")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestCollectorReusesRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := New(reg)
	require.NoError(t, err)
	second, err := New(reg)
	require.NoError(t, err)

	first.UnitDone("hardcore", round.Verdict{Alive: true, LatencyMillis: 1}, false)
	assert.Equal(t, 1.0, testutil.ToFloat64(second.units.WithLabelValues("hardcore", OutcomeAlive)))
}

func TestCollectorUnregistered(t *testing.T) {
	c, err := New(nil)
	require.NoError(t, err)
	c.UnitStarted("fast")
	c.UnitDone("fast", round.Verdict{}, false)
	assert.Equal(t, 1.0, testutil.ToFloat64(c.units.WithLabelValues("fast", OutcomeDead)))
}
