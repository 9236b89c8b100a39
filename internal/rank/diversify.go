package rank

import (
	"cmp"
	"slices"

	"proxyrank/internal/core"
	"proxyrank/internal/endpoint"
)

// DiversifyRatio composes a list of total entries from a ranked pool in which
// entries on commonPorts make up at most int(total × maxCommonRatio). When
// the pool runs out of other ports, common entries fill the remainder, so the
// cap only holds while rare supply lasts. total <= 0 means len(eps). The
// result is re-sorted by latency.
func DiversifyRatio(eps []endpoint.Endpoint, commonPorts []int, maxCommonRatio float64, total int) []endpoint.Endpoint {
	if total <= 0 || total > len(eps) {
		total = len(eps)
	}

	var common, rare []endpoint.Endpoint
	for _, ep := range eps {
		if slices.Contains(commonPorts, ep.EffectivePort()) {
			common = append(common, ep)
		} else {
			rare = append(rare, ep)
		}
	}

	keepCommon := min(len(common), int(float64(total)*maxCommonRatio))
	keepRare := min(len(rare), total-keepCommon)
	if short := total - keepCommon - keepRare; short > 0 {
		keepCommon = min(len(common), keepCommon+short)
	}

	out := make([]endpoint.Endpoint, 0, keepCommon+keepRare)
	out = append(out, common[:keepCommon]...)
	out = append(out, rare[:keepRare]...)
	slices.SortStableFunc(out, byLatency)

	core.Log.Infof("Rank", "Ratio cap %.2f: %d common + %d other of %d", maxCommonRatio, keepCommon, keepRare, len(eps))
	LogDistribution(out)
	return out
}

// BalancePorts gives each port a fair share of target slots. Every port
// group contributes up to max(target / activePorts, floor) of its fastest
// entries; leftover slots are filled from the overall latency order,
// skipping entries already taken. The result is re-sorted by latency and
// truncated to target.
func BalancePorts(eps []endpoint.Endpoint, target, floor int) []endpoint.Endpoint {
	if target <= 0 || len(eps) == 0 {
		return []endpoint.Endpoint{}
	}

	groups := make(map[int][]int)
	var ports []int
	for i, ep := range eps {
		p := ep.EffectivePort()
		if _, ok := groups[p]; !ok {
			ports = append(ports, p)
		}
		groups[p] = append(groups[p], i)
	}

	share := max(target/len(ports), floor)

	taken := make([]bool, len(eps))
	out := make([]endpoint.Endpoint, 0, target)
	for _, p := range ports {
		idx := groups[p]
		slices.SortStableFunc(idx, func(a, b int) int { return byLatency(eps[a], eps[b]) })
		for _, i := range idx[:min(len(idx), share)] {
			taken[i] = true
			out = append(out, eps[i])
		}
	}

	if len(out) < target {
		pool := make([]int, len(eps))
		for i := range pool {
			pool[i] = i
		}
		slices.SortStableFunc(pool, func(a, b int) int { return byLatency(eps[a], eps[b]) })
		for _, i := range pool {
			if len(out) >= target {
				break
			}
			if taken[i] {
				continue
			}
			taken[i] = true
			out = append(out, eps[i])
		}
	}

	slices.SortStableFunc(out, byLatency)
	if len(out) > target {
		out = out[:target]
	}

	core.Log.Infof("Rank", "Balanced %d ports (share %d): %d of %d", len(ports), share, len(out), len(eps))
	LogDistribution(out)
	return out
}

// PortCount is one row of a port distribution.
type PortCount struct {
	Port  int
	Count int
}

// PortDistribution counts entries per resolved port, most frequent first.
func PortDistribution(eps []endpoint.Endpoint) []PortCount {
	counts := make(map[int]int)
	for _, ep := range eps {
		counts[ep.EffectivePort()]++
	}
	out := make([]PortCount, 0, len(counts))
	for p, c := range counts {
		out = append(out, PortCount{Port: p, Count: c})
	}
	slices.SortFunc(out, func(a, b PortCount) int {
		if c := cmp.Compare(b.Count, a.Count); c != 0 {
			return c
		}
		return cmp.Compare(a.Port, b.Port)
	})
	return out
}

// LogDistribution writes the port distribution of eps at info level.
func LogDistribution(eps []endpoint.Endpoint) {
	if len(eps) == 0 || !core.Log.Enabled("Rank", core.LevelInfo) {
		return
	}
	core.Log.Infof("Rank", "Port distribution:")
	for _, pc := range PortDistribution(eps) {
		core.Log.Infof("Rank", "  Port %d: %d (%.1f%%)", pc.Port, pc.Count, float64(pc.Count)*100/float64(len(eps)))
	}
}
