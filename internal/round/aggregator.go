// Package round turns one or more probes of the same endpoint into a single
// verdict under a best-of-N or an all-pass-with-consistency policy.
package round

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/benbjohnson/clock"

	"proxyrank/internal/core"
	"proxyrank/internal/endpoint"
	"proxyrank/internal/probe"
	"proxyrank/internal/resolve"
)

var (
	// ErrInconsistentLatency marks hardcore samples that all succeeded but
	// spread further than the policy allows.
	ErrInconsistentLatency = errors.New("inconsistent latency")
	// ErrNoTarget marks an endpoint without a usable address or port.
	ErrNoTarget = errors.New("no dialable target")
	// ErrPortFiltered marks an endpoint on a port outside the allowed set.
	ErrPortFiltered = errors.New("port not allowed")
)

// Verdict is the aggregated outcome for one endpoint.
type Verdict struct {
	Alive         bool
	LatencyMillis float64
	Target        endpoint.Target
	// Samples are the successful probe latencies in milliseconds, in order.
	Samples []float64
	Err     error
}

// Dead builds a failed verdict.
func Dead(target endpoint.Target, err error) Verdict {
	return Verdict{LatencyMillis: endpoint.NotProbed, Target: target, Err: err}
}

// Apply returns a copy of ep carrying the verdict.
func (v Verdict) Apply(ep endpoint.Endpoint) endpoint.Endpoint {
	ep.Target = v.Target
	ep.Alive = v.Alive
	ep.Reason = v.Err
	if v.Alive {
		ep.LatencyMillis = v.LatencyMillis
	} else {
		ep.LatencyMillis = endpoint.NotProbed
	}
	return ep
}

// Aggregator runs a policy against endpoints using a shared probe primitive.
type Aggregator struct {
	prober   probe.Prober
	resolver resolve.Resolver
	ports    probe.PortClasses
	policy   Policy
	clock    clock.Clock
}

// New creates an Aggregator. A nil clock means the wall clock.
func New(prober probe.Prober, resolver resolve.Resolver, ports probe.PortClasses, policy Policy, clk clock.Clock) *Aggregator {
	if clk == nil {
		clk = clock.New()
	}
	return &Aggregator{
		prober:   prober,
		resolver: resolver,
		ports:    ports,
		policy:   policy,
		clock:    clk,
	}
}

// Policy returns the aggregator's policy.
func (a *Aggregator) Policy() Policy {
	return a.policy
}

// Run probes ep according to the policy. Every failure is reported as a dead
// verdict; Run never panics on probe errors.
func (a *Aggregator) Run(ctx context.Context, ep endpoint.Endpoint) Verdict {
	target := a.resolver.Resolve(ep)
	if target.Address == "" || target.Port <= 0 {
		return a.reject(ep, Dead(target, ErrNoTarget))
	}
	if len(a.policy.AllowedPorts) > 0 && !slices.Contains(a.policy.AllowedPorts, target.Port) {
		return a.reject(ep, Dead(target, fmt.Errorf("%w: %d", ErrPortFiltered, target.Port)))
	}

	req := probe.Request{
		Address:    target.Address,
		Port:       target.Port,
		TLS:        a.policy.TLS && a.ports.UseTLS(target.Port),
		ServerName: target.ServerName,
		Timeout:    a.policy.Timeout,
	}

	var v Verdict
	switch a.policy.Mode {
	case ModeHardcore:
		v = a.runHardcore(ctx, req)
	default:
		v = a.runFast(ctx, req)
	}
	v.Target = target
	if !v.Alive {
		return a.reject(ep, v)
	}
	return v
}

func (a *Aggregator) runFast(ctx context.Context, req probe.Request) Verdict {
	n := a.policy.attempts()
	var samples []float64
	var lastErr error

	for i := 0; i < n; i++ {
		if i > 0 {
			if err := a.wait(ctx, a.policy.Delay); err != nil {
				lastErr = err
				break
			}
		}
		res := a.prober.Probe(ctx, req)
		if res.Succeeded {
			samples = append(samples, res.Millis())
			continue
		}
		lastErr = res.Err
		if ctx.Err() != nil {
			break
		}
	}

	if len(samples) == 0 {
		if lastErr == nil {
			lastErr = ctx.Err()
		}
		return Dead(endpoint.Target{}, lastErr)
	}
	return Verdict{
		Alive:         true,
		LatencyMillis: roundTo(MinLatency(samples), 2),
		Samples:       samples,
	}
}

func (a *Aggregator) runHardcore(ctx context.Context, req probe.Request) Verdict {
	n := a.policy.attempts()
	samples := make([]float64, 0, n)

	for i := 0; i < n; i++ {
		if i > 0 {
			if err := a.wait(ctx, a.policy.Delay); err != nil {
				return Dead(endpoint.Target{}, fmt.Errorf("round %d/%d: %w", i+1, n, err))
			}
		}
		res := a.prober.Probe(ctx, req)
		if !res.Succeeded {
			// One failed round rejects the endpoint outright.
			return Dead(endpoint.Target{}, fmt.Errorf("round %d/%d: %w", i+1, n, res.Err))
		}
		samples = append(samples, res.Millis())
	}

	if !Consistent(samples, a.policy.MaxSpread) {
		lo, hi := slices.Min(samples), slices.Max(samples)
		v := Dead(endpoint.Target{}, fmt.Errorf("%w: min %.1fms max %.1fms", ErrInconsistentLatency, lo, hi))
		v.Samples = samples
		return v
	}

	return Verdict{
		Alive:         true,
		LatencyMillis: roundTo(TrimmedMean(samples), 1),
		Samples:       samples,
	}
}

func (a *Aggregator) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := a.clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (a *Aggregator) reject(ep endpoint.Endpoint, v Verdict) Verdict {
	core.Log.Debugf("Round", "%s %s rejected (%s): %v", ep.Kind, v.Target.HostPort(), a.policy.Mode, v.Err)
	return v
}

// MinLatency returns the smallest sample.
func MinLatency(samples []float64) float64 {
	return slices.Min(samples)
}

// TrimmedMean drops the single lowest and single highest sample and
// averages the rest. With fewer than three samples it is the plain mean.
func TrimmedMean(samples []float64) float64 {
	sorted := slices.Clone(samples)
	slices.Sort(sorted)
	if len(sorted) >= 3 {
		sorted = sorted[1 : len(sorted)-1]
	}
	var sum float64
	for _, s := range sorted {
		sum += s
	}
	return sum / float64(len(sorted))
}

// Consistent reports whether max <= maxSpread × min. A non-positive
// maxSpread disables the check.
func Consistent(samples []float64, maxSpread float64) bool {
	if maxSpread <= 0 || len(samples) == 0 {
		return true
	}
	return slices.Max(samples) <= maxSpread*slices.Min(samples)
}

func roundTo(x float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(x*p) / p
}
