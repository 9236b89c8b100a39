package rank

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"proxyrank/internal/endpoint"
)

var seq int

func alive(port int, latency float64) endpoint.Endpoint {
	seq++
	addr := fmt.Sprintf("10.%d.%d.%d", seq>>16&0xff, seq>>8&0xff, seq&0xff)
	ep := endpoint.New("trojan://x@"+addr, endpoint.KindTrojan, addr, port, "")
	ep.Target = endpoint.Target{Address: addr, Port: port}
	ep.Alive = true
	ep.LatencyMillis = latency
	return ep
}

func ports(eps []endpoint.Endpoint) map[int]int {
	m := make(map[int]int)
	for _, ep := range eps {
		m[ep.EffectivePort()]++
	}
	return m
}

func assertSorted(t *testing.T, eps []endpoint.Endpoint) {
	t.Helper()
	for i := 1; i < len(eps); i++ {
		assert.LessOrEqual(t, eps[i-1].LatencyMillis, eps[i].LatencyMillis)
	}
}

func TestSelectBestFiltersSortsDedups(t *testing.T) {
	a := alive(443, 50)
	a.Target.Address = "edge.example.com"
	dupOfA := alive(443, 120)
	dupOfA.Target.Address = "EDGE.example.com"

	dead := alive(443, 30)
	dead.Alive = false
	zero := alive(443, 0)
	slow := alive(443, 5000)
	b := alive(8443, 20)

	got := SelectBest([]endpoint.Endpoint{slow, a, dead, dupOfA, zero, b}, 10, 2000)
	require.Len(t, got, 2)
	assert.Equal(t, b.Raw, got[0].Raw)
	assert.Equal(t, a.Raw, got[1].Raw)
}

func TestSelectBestBounds(t *testing.T) {
	var eps []endpoint.Endpoint
	for i := 0; i < 50; i++ {
		eps = append(eps, alive(443, float64(1+rand.Intn(3000))))
	}
	for _, n := range []int{0, 1, 10, 49, 50, 100} {
		got := SelectBest(eps, n, 0)
		assert.LessOrEqual(t, len(got), n)
		keys := make(map[endpoint.Key]bool)
		for _, ep := range got {
			assert.False(t, keys[ep.Key()], "duplicate %s", ep.Key())
			keys[ep.Key()] = true
		}
		assertSorted(t, got)
	}
	assert.Len(t, SelectBest(eps, 100, 0), 50, "no upper latency bound")
	assert.Empty(t, SelectBest(eps, -1, 0))
}

func TestSelectBestStableOnTies(t *testing.T) {
	first := alive(443, 10)
	second := alive(80, 10)
	got := SelectBest([]endpoint.Endpoint{first, second}, 2, 0)
	require.Len(t, got, 2)
	assert.Equal(t, first.Raw, got[0].Raw)
}

func TestDiversifyRatioBackfillsWhenRareIsScarce(t *testing.T) {
	var eps []endpoint.Endpoint
	for i := 0; i < 95; i++ {
		eps = append(eps, alive([]int{443, 80}[i%2], float64(100+i)))
	}
	for i := 0; i < 5; i++ {
		eps = append(eps, alive(2053, float64(300+i)))
	}

	got := DiversifyRatio(eps, []int{443, 80}, 0.4, 0)
	require.Len(t, got, 100)
	dist := ports(got)
	assert.Equal(t, 5, dist[2053])
	assert.Equal(t, 95, dist[443]+dist[80])
	assertSorted(t, got)
}

func TestDiversifyRatioCapsCommon(t *testing.T) {
	var eps []endpoint.Endpoint
	for i := 0; i < 95; i++ {
		eps = append(eps, alive(443, float64(10+i)))
	}
	for i := 0; i < 80; i++ {
		eps = append(eps, alive(8443, float64(200+i)))
	}

	got := DiversifyRatio(eps, []int{443, 80}, 0.4, 100)
	require.Len(t, got, 100)
	dist := ports(got)
	assert.Equal(t, 40, dist[443])
	assert.Equal(t, 60, dist[8443])
	// The fastest common entries survive the cap.
	assert.Equal(t, 10.0, got[0].LatencyMillis)
	assertSorted(t, got)
}

func TestDiversifyRatioShortPool(t *testing.T) {
	eps := []endpoint.Endpoint{alive(443, 1), alive(443, 2)}
	got := DiversifyRatio(eps, []int{443}, 0.4, 10)
	assert.Len(t, got, 2)
	assert.Empty(t, DiversifyRatio(nil, []int{443}, 0.4, 10))
}

func TestBalancePortsFloorAndBackfill(t *testing.T) {
	sizes := map[int]int{443: 200, 8443: 150, 2053: 50, 2083: 30, 2087: 20}
	var eps []endpoint.Endpoint
	for port, n := range sizes {
		for i := 0; i < n; i++ {
			eps = append(eps, alive(port, float64(1+rand.Intn(1000))))
		}
	}
	rand.Shuffle(len(eps), func(i, j int) { eps[i], eps[j] = eps[j], eps[i] })

	got := BalancePorts(eps, 500, 10)
	assert.LessOrEqual(t, len(got), 500)
	// 300 from the share pass plus every leftover entry.
	assert.Len(t, got, 450)
	dist := ports(got)
	for port, n := range sizes {
		assert.GreaterOrEqual(t, dist[port], min(n, 100), "port %d", port)
	}
	assertSorted(t, got)
}

func TestBalancePortsSharePicksFastestPerGroup(t *testing.T) {
	var eps []endpoint.Endpoint
	// One busy fast port and one sparse slow port.
	for i := 0; i < 30; i++ {
		eps = append(eps, alive(443, float64(1+i)))
	}
	for i := 0; i < 5; i++ {
		eps = append(eps, alive(2096, float64(500+i)))
	}

	got := BalancePorts(eps, 10, 2)
	require.Len(t, got, 10)
	dist := ports(got)
	// Share is 5 per port; the slow port is not starved.
	assert.Equal(t, 5, dist[443])
	assert.Equal(t, 5, dist[2096])
}

func TestBalancePortsTruncatesWhenFloorOvershoots(t *testing.T) {
	var eps []endpoint.Endpoint
	for _, port := range []int{443, 80, 8443, 2053, 2083} {
		for i := 0; i < 20; i++ {
			eps = append(eps, alive(port, float64(port+i)))
		}
	}
	got := BalancePorts(eps, 10, 10)
	require.Len(t, got, 10)
	assertSorted(t, got)
	assert.Empty(t, BalancePorts(eps, 0, 10))
}

func TestPortDistribution(t *testing.T) {
	eps := []endpoint.Endpoint{alive(443, 1), alive(80, 1), alive(443, 1), alive(2053, 1), alive(80, 1), alive(443, 1)}
	assert.Equal(t, []PortCount{{443, 3}, {80, 2}, {2053, 1}}, PortDistribution(eps))
}
