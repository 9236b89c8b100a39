// Package metrics exports batch probing statistics to Prometheus.
package metrics

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"proxyrank/internal/round"
)

const namespace = "proxyrank"

// Outcome label values.
const (
	OutcomeAlive  = "alive"
	OutcomeDead   = "dead"
	OutcomeForced = "forced"
)

// Collector implements batch.Observer on top of Prometheus vectors.
type Collector struct {
	units    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	inFlight *prometheus.GaugeVec
}

// New creates a Collector and registers it on reg. A nil reg leaves the
// vectors unregistered. Registering twice on the same registry reuses the
// vectors already there.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_total",
			Help:      "Endpoints processed, by mode and outcome.",
		}, []string{"mode", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "latency_ms",
			Help:      "Reported latency of alive endpoints in milliseconds.",
			Buckets:   prometheus.ExponentialBuckets(10, 2, 10),
		}, []string{"mode"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "units_in_flight",
			Help:      "Endpoints currently being probed.",
		}, []string{"mode"}),
	}
	if reg == nil {
		return c, nil
	}

	var err error
	if c.units, err = register(reg, c.units); err != nil {
		return nil, err
	}
	if c.latency, err = register(reg, c.latency); err != nil {
		return nil, err
	}
	if c.inFlight, err = register(reg, c.inFlight); err != nil {
		return nil, err
	}
	return c, nil
}

func register[T prometheus.Collector](reg prometheus.Registerer, col T) (T, error) {
	if err := reg.Register(col); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return col, fmt.Errorf("[Metrics] register: %w", err)
	}
	return col, nil
}

// UnitStarted implements batch.Observer.
func (c *Collector) UnitStarted(mode string) {
	c.inFlight.WithLabelValues(mode).Inc()
}

// UnitDone implements batch.Observer.
func (c *Collector) UnitDone(mode string, v round.Verdict, forced bool) {
	c.inFlight.WithLabelValues(mode).Dec()

	outcome := OutcomeDead
	switch {
	case forced:
		outcome = OutcomeForced
	case v.Alive:
		outcome = OutcomeAlive
		c.latency.WithLabelValues(mode).Observe(v.LatencyMillis)
	}
	c.units.WithLabelValues(mode, outcome).Inc()
}
