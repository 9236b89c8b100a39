// Package proxyrank probes proxy endpoints for reachability and latency and
// ranks the survivors into a deduplicated, port-diversified best-of list.
//
// A typical run collects endpoints from subscriptions, ranks them in fast
// mode, then re-ranks the websocket CDN subset in hardcore mode together
// with clones on alternative CDN ports:
//
//	cfg, err := proxyrank.LoadConfig("proxyrank.yaml")
//	if err != nil {
//		return err
//	}
//	p, err := proxyrank.New(cfg, proxyrank.WithRegisterer(prometheus.DefaultRegisterer))
//	if err != nil {
//		return err
//	}
//	eps := p.Collect(ctx)
//	fast := p.Rank(ctx, eps, proxyrank.ModeFast)
//	cdn := p.RankCDN(ctx, fast.Tested)
//	err = proxyrank.WriteBase64(w, cdn.Best)
//
// Configuration, endpoint, event and error types are available from this
// package directly. Nothing in this module writes files; encodings go to
// caller-supplied writers.
package proxyrank
