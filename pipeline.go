package proxyrank

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/net/proxy"

	"proxyrank/internal/batch"
	"proxyrank/internal/core"
	"proxyrank/internal/endpoint"
	"proxyrank/internal/metrics"
	"proxyrank/internal/probe"
	"proxyrank/internal/rank"
	"proxyrank/internal/resolve"
	"proxyrank/internal/round"
	"proxyrank/internal/subscription"
	"proxyrank/internal/variant"
)

// Result is the outcome of one ranking pass.
type Result struct {
	// Tested holds every probed endpoint in completion order.
	Tested []Endpoint
	// Best is the ranked, deduplicated and diversified selection.
	Best   []Endpoint
	Report Report
}

// Pipeline wires resolver, probe engine, aggregators and schedulers from a
// Config.
type Pipeline struct {
	cfg      core.Config
	classes  probe.PortClasses
	fast     *batch.Scheduler
	hardcore *batch.Scheduler
	fetcher  *subscription.Fetcher
}

type options struct {
	bus        *EventBus
	registerer prometheus.Registerer
	dialer     proxy.ContextDialer
	lookup     Lookuper
	prober     Prober
	clock      clock.Clock
	httpClient *http.Client
}

// Option configures a Pipeline.
type Option func(*options)

// WithEventBus publishes batch and subscription events on bus.
func WithEventBus(bus *EventBus) Option {
	return func(o *options) { o.bus = bus }
}

// WithRegisterer exports batch metrics on reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

// WithDialer replaces the dialer built from probe.egress.
func WithDialer(d proxy.ContextDialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithLookuper replaces the system DNS resolver.
func WithLookuper(l Lookuper) Option {
	return func(o *options) { o.lookup = l }
}

// WithProber replaces the probe engine entirely.
func WithProber(p Prober) Option {
	return func(o *options) { o.prober = p }
}

// WithClock sets the clock used for probe timing, round spacing and budgets.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithHTTPClient sets the client used to fetch subscriptions.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// New validates cfg and builds a Pipeline. A non-empty logging section
// replaces the global logger.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("[Pipeline] invalid config: %w", err)
	}

	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	if cfg.Logging.Level != "" || cfg.Logging.Format != "" || len(cfg.Logging.Components) > 0 {
		core.SetLogger(core.NewLogger(cfg.Logging))
	}

	classes := probe.PortClasses{TLS: cfg.Ports.TLS, Plain: cfg.Ports.Plain, Common: cfg.Ports.Common}

	resolver, err := resolve.NewCached(resolve.NewRegistry(), cfg.Resolver.CacheSize)
	if err != nil {
		return nil, err
	}

	prober := o.prober
	if prober == nil {
		dialer := o.dialer
		if dialer == nil {
			if dialer, err = probe.DialerFromURL(cfg.Probe.Egress); err != nil {
				return nil, err
			}
		}
		engineOpts := []probe.Option{probe.WithDialer(dialer), probe.WithClock(o.clock)}
		if o.lookup != nil {
			engineOpts = append(engineOpts, probe.WithLookuper(o.lookup))
		}
		prober = probe.NewEngine(engineOpts...)
	}

	batchOpts := []batch.Option{batch.WithEventBus(o.bus), batch.WithClock(o.clock)}
	if o.registerer != nil {
		collector, err := metrics.New(o.registerer)
		if err != nil {
			return nil, err
		}
		batchOpts = append(batchOpts, batch.WithObserver(collector))
	}

	fastPolicy := round.Policy{
		Mode:         round.ModeFast,
		Attempts:     cfg.Fast.Attempts,
		Delay:        cfg.Fast.Delay,
		Timeout:      cfg.Fast.Timeout,
		TLS:          cfg.Probe.TLS,
		AllowedPorts: cfg.Fast.AllowedPorts,
	}
	hardcorePolicy := round.Policy{
		Mode:      round.ModeHardcore,
		Attempts:  cfg.Hardcore.Rounds,
		Delay:     cfg.Hardcore.Delay,
		Timeout:   cfg.Hardcore.Timeout,
		MaxSpread: cfg.Hardcore.MaxSpread,
		TLS:       cfg.Probe.TLS,
	}

	fetcherOpts := []subscription.FetcherOption{subscription.WithEventBus(o.bus)}
	if o.httpClient != nil {
		fetcherOpts = append(fetcherOpts, subscription.WithHTTPClient(o.httpClient))
	}

	p := &Pipeline{
		cfg:     cfg,
		classes: classes,
		fast: batch.New(
			round.New(prober, resolver, classes, fastPolicy, o.clock),
			batch.Config{
				Mode:          round.ModeFast.String(),
				Concurrency:   cfg.Fast.Concurrency,
				Budget:        fastPolicy.Budget(cfg.Batch.Slack),
				ProgressEvery: cfg.Batch.ProgressEvery,
			},
			batchOpts...,
		),
		hardcore: batch.New(
			round.New(prober, resolver, classes, hardcorePolicy, o.clock),
			batch.Config{
				Mode:          round.ModeHardcore.String(),
				Concurrency:   cfg.Hardcore.Concurrency,
				Budget:        hardcorePolicy.Budget(cfg.Batch.Slack),
				ProgressEvery: cfg.Batch.ProgressEvery,
			},
			batchOpts...,
		),
		fetcher: subscription.NewFetcher(cfg.Subscriptions, fetcherOpts...),
	}
	return p, nil
}

// Collect fetches the configured subscriptions.
func (p *Pipeline) Collect(ctx context.Context) []Endpoint {
	return p.fetcher.FetchAll(ctx, p.cfg.Subscriptions.URLs)
}

// Rank probes eps under mode, then selects and diversifies the survivors
// as configured.
func (p *Pipeline) Rank(ctx context.Context, eps []Endpoint, mode Mode) Result {
	tested, report := p.scheduler(mode).Run(ctx, eps)
	return Result{Tested: tested, Best: p.selectBest(tested), Report: report}
}

// RankCDN takes the fastest websocket CDN endpoints from an already tested
// set, clones the best of them onto every other port of their class, probes
// originals and clones in hardcore mode and balances the result across ports.
func (p *Pipeline) RankCDN(ctx context.Context, tested []Endpoint) Result {
	cdn := rank.SelectBest(variant.FilterCDN(tested, p.classes), p.cfg.Variants.CDNLimit, 0)
	if len(cdn) == 0 {
		core.Log.Infof("Pipeline", "No alive CDN endpoints to re-rank")
		return Result{Tested: []endpoint.Endpoint{}, Best: []endpoint.Endpoint{}}
	}

	sources := cdn[:min(len(cdn), p.cfg.Variants.SourceLimit)]
	candidates := slices.Concat(cdn, variant.PortVariants(sources, p.classes, p.cfg.Variants.NamePrefix))
	core.Log.Infof("Pipeline", "CDN re-rank: %d endpoints, %d port variants", len(cdn), len(candidates)-len(cdn))

	retested, report := p.hardcore.Run(ctx, candidates)
	pool := rank.SelectBest(retested, len(retested), p.cfg.Selection.MaxLatencyMs)
	best := rank.BalancePorts(pool, p.cfg.Diversify.Target, p.cfg.Diversify.Floor)
	return Result{Tested: retested, Best: best, Report: report}
}

// CleanIPs rewrites CDN endpoints of eps onto the given edge addresses.
// The results are unprobed.
func (p *Pipeline) CleanIPs(eps []Endpoint, ips []string) []Endpoint {
	return variant.ApplyCleanIPs(eps, ips, p.classes, p.cfg.Variants.NamePrefix)
}

func (p *Pipeline) scheduler(mode round.Mode) *batch.Scheduler {
	if mode == round.ModeHardcore {
		return p.hardcore
	}
	return p.fast
}

func (p *Pipeline) selectBest(tested []endpoint.Endpoint) []endpoint.Endpoint {
	sel := p.cfg.Selection
	div := p.cfg.Diversify
	switch div.Mode {
	case core.DiversifyRatio:
		pool := rank.SelectBest(tested, len(tested), sel.MaxLatencyMs)
		return rank.DiversifyRatio(pool, p.classes.Common, div.MaxCommonRatio, sel.TopN)
	case core.DiversifyBalance:
		pool := rank.SelectBest(tested, len(tested), sel.MaxLatencyMs)
		return rank.BalancePorts(pool, div.Target, div.Floor)
	default:
		return rank.SelectBest(tested, sel.TopN, sel.MaxLatencyMs)
	}
}
