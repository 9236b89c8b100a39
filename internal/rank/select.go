// Package rank orders probed endpoints by latency and reshapes the selection
// so a few ports do not dominate it.
package rank

import (
	"cmp"
	"slices"

	"proxyrank/internal/core"
	"proxyrank/internal/endpoint"
)

func byLatency(a, b endpoint.Endpoint) int {
	return cmp.Compare(a.LatencyMillis, b.LatencyMillis)
}

// SelectBest keeps alive endpoints with 0 < latency <= maxLatency, sorts them
// ascending by latency (stable), drops later entries that share a network
// identity with an earlier one and truncates to topN. maxLatency <= 0
// disables the upper bound; topN <= 0 yields an empty result.
func SelectBest(eps []endpoint.Endpoint, topN int, maxLatency float64) []endpoint.Endpoint {
	if topN <= 0 {
		return []endpoint.Endpoint{}
	}

	alive := make([]endpoint.Endpoint, 0, len(eps))
	for _, ep := range eps {
		if !ep.Alive || ep.LatencyMillis <= 0 {
			continue
		}
		if maxLatency > 0 && ep.LatencyMillis > maxLatency {
			continue
		}
		alive = append(alive, ep)
	}
	slices.SortStableFunc(alive, byLatency)

	best := Dedup(alive)
	if len(best) > topN {
		best = best[:topN]
	}

	if len(best) == 0 {
		core.Log.Infof("Rank", "Selected 0 of %d endpoints", len(eps))
		return best
	}
	var sum float64
	for _, ep := range best {
		sum += ep.LatencyMillis
	}
	core.Log.Infof("Rank", "Selected %d of %d endpoints: best %.1fms, worst %.1fms, avg %.0fms",
		len(best), len(eps), best[0].LatencyMillis, best[len(best)-1].LatencyMillis, sum/float64(len(best)))
	return best
}

// Dedup keeps the first endpoint for every Key, preserving order.
func Dedup(eps []endpoint.Endpoint) []endpoint.Endpoint {
	seen := make(map[endpoint.Key]struct{}, len(eps))
	out := make([]endpoint.Endpoint, 0, len(eps))
	for _, ep := range eps {
		k := ep.Key()
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, ep)
	}
	return out
}
