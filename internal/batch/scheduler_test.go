package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxyrank/internal/core"
	"proxyrank/internal/endpoint"
	"proxyrank/internal/round"
)

type runFunc func(ctx context.Context, ep endpoint.Endpoint) round.Verdict

func (f runFunc) Run(ctx context.Context, ep endpoint.Endpoint) round.Verdict {
	return f(ctx, ep)
}

func endpoints(n int) []endpoint.Endpoint {
	eps := make([]endpoint.Endpoint, n)
	for i := range eps {
		addr := fmt.Sprintf("10.0.0.%d", i+1)
		eps[i] = endpoint.New("trojan://pw@"+addr+":443", endpoint.KindTrojan, addr, 443, "")
	}
	return eps
}

// aliveOnEven marks even last octets alive with latency equal to the octet.
func aliveOnEven(_ context.Context, ep endpoint.Endpoint) round.Verdict {
	var octet int
	fmt.Sscanf(ep.Address, "10.0.0.%d", &octet)
	target := endpoint.Target{Address: ep.Address, Port: ep.Port}
	if octet%2 == 0 {
		return round.Verdict{Alive: true, LatencyMillis: float64(octet), Target: target}
	}
	return round.Dead(target, errors.New("refused"))
}

func checkInvariants(t *testing.T, out []endpoint.Endpoint) {
	t.Helper()
	for _, ep := range out {
		if ep.Alive {
			assert.GreaterOrEqual(t, ep.LatencyMillis, 0.0, ep.Address)
		} else {
			assert.Equal(t, endpoint.NotProbed, ep.LatencyMillis, ep.Address)
		}
	}
}

func TestRunReturnsOneResultPerInput(t *testing.T) {
	const k = 37
	var inFlight, peak atomic.Int32
	runner := runFunc(func(ctx context.Context, ep endpoint.Endpoint) round.Verdict {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		inFlight.Add(-1)
		return aliveOnEven(ctx, ep)
	})

	in := endpoints(k)
	s := New(runner, Config{Mode: "fast", Concurrency: 4, Budget: 5 * time.Second, ProgressEvery: 10})
	out, report := s.Run(context.Background(), in)

	require.Len(t, out, k)
	assert.Equal(t, k, report.Submitted)
	assert.Equal(t, k, report.Completed)
	assert.Equal(t, 18, report.Alive)
	assert.Zero(t, report.Forced)
	assert.LessOrEqual(t, peak.Load(), int32(4))
	checkInvariants(t, out)

	seen := make(map[string]bool, k)
	for _, ep := range out {
		seen[ep.Address] = true
	}
	assert.Len(t, seen, k)
}

func TestRunDoesNotMutateInput(t *testing.T) {
	in := endpoints(6)
	snapshot := append([]endpoint.Endpoint(nil), in...)

	_, _ = New(runFunc(aliveOnEven), Config{Concurrency: 2}).Run(context.Background(), in)
	assert.Equal(t, snapshot, in)
}

func TestRunForcesOverBudgetUnits(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	runner := runFunc(func(ctx context.Context, ep endpoint.Endpoint) round.Verdict {
		if ep.Address == "10.0.0.1" {
			// Ignores ctx on purpose.
			<-release
		}
		return round.Verdict{Alive: true, LatencyMillis: 5}
	})

	s := New(runner, Config{Concurrency: 2, Budget: 50 * time.Millisecond})
	out, report := s.Run(context.Background(), endpoints(3))

	require.Len(t, out, 3)
	assert.Equal(t, 1, report.Forced)
	assert.Equal(t, 2, report.Alive)
	for _, ep := range out {
		if ep.Address == "10.0.0.1" {
			assert.False(t, ep.Alive)
			assert.ErrorIs(t, ep.Reason, ErrUnitTimeout)
		}
	}
	checkInvariants(t, out)
}

func TestRunRecoversPanics(t *testing.T) {
	runner := runFunc(func(ctx context.Context, ep endpoint.Endpoint) round.Verdict {
		if ep.Address == "10.0.0.2" {
			panic("boom")
		}
		return round.Verdict{Alive: true, LatencyMillis: 1}
	})

	out, report := New(runner, Config{Concurrency: 3}).Run(context.Background(), endpoints(3))
	require.Len(t, out, 3)
	assert.Equal(t, 1, report.Forced)
	for _, ep := range out {
		if ep.Address == "10.0.0.2" {
			assert.False(t, ep.Alive)
			assert.ErrorIs(t, ep.Reason, ErrWorkerPanic)
		}
	}
}

func TestRunCancelledBatch(t *testing.T) {
	var calls atomic.Int32
	runner := runFunc(func(ctx context.Context, ep endpoint.Endpoint) round.Verdict {
		calls.Add(1)
		return round.Verdict{Alive: true, LatencyMillis: 1}
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	out, report := New(runner, Config{Concurrency: 2}).Run(ctx, endpoints(5))

	require.Len(t, out, 5)
	assert.Equal(t, 5, report.Forced)
	assert.Zero(t, report.Alive)
	assert.Zero(t, calls.Load())
	for _, ep := range out {
		assert.ErrorIs(t, ep.Reason, context.Canceled)
	}
	checkInvariants(t, out)
}

func TestRunEmpty(t *testing.T) {
	out, report := New(runFunc(aliveOnEven), Config{}).Run(context.Background(), nil)
	assert.Empty(t, out)
	assert.Zero(t, report.Submitted)
}

type recordingObserver struct {
	mu      sync.Mutex
	started int
	done    int
	forced  int
}

func (o *recordingObserver) UnitStarted(string) {
	o.mu.Lock()
	o.started++
	o.mu.Unlock()
}

func (o *recordingObserver) UnitDone(_ string, _ round.Verdict, forced bool) {
	o.mu.Lock()
	o.done++
	if forced {
		o.forced++
	}
	o.mu.Unlock()
}

func TestRunPublishesEventsAndNotifiesObserver(t *testing.T) {
	bus := core.NewEventBus()
	var progress []core.BatchPayload
	var final core.BatchPayload
	started := false
	bus.Subscribe(core.EventBatchStarted, func(core.Event) { started = true })
	bus.Subscribe(core.EventBatchProgress, func(e core.Event) {
		progress = append(progress, e.Payload.(core.BatchPayload))
	})
	bus.Subscribe(core.EventBatchDone, func(e core.Event) {
		final = e.Payload.(core.BatchPayload)
	})

	obs := &recordingObserver{}
	s := New(runFunc(aliveOnEven), Config{Mode: "hardcore", Concurrency: 3, ProgressEvery: 4},
		WithEventBus(bus), WithObserver(obs))
	_, report := s.Run(context.Background(), endpoints(10))

	assert.True(t, started)
	// Completions 4 and 8, then the final line.
	require.Len(t, progress, 3)
	assert.Equal(t, 4, progress[0].Completed)
	assert.Equal(t, 10, progress[2].Completed)
	assert.Equal(t, "hardcore", final.Mode)
	assert.Equal(t, report.Alive, final.Alive)
	assert.Equal(t, 10, obs.started)
	assert.Equal(t, 10, obs.done)
	assert.Zero(t, obs.forced)
}
