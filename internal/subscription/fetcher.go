package subscription

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"proxyrank/internal/core"
	"proxyrank/internal/endpoint"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"
	defaultMaxBody   = 2 << 20
)

// Fetcher downloads subscription URLs concurrently.
type Fetcher struct {
	cfg        core.SubscriptionConfig
	httpClient *http.Client
	bus        *core.EventBus
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) { f.httpClient = c }
}

// WithEventBus publishes EventSubscriptionFetched per URL.
func WithEventBus(bus *core.EventBus) FetcherOption {
	return func(f *Fetcher) { f.bus = bus }
}

// NewFetcher creates a Fetcher.
func NewFetcher(cfg core.SubscriptionConfig, opts ...FetcherOption) *Fetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.MaxBody <= 0 {
		cfg.MaxBody = defaultMaxBody
	}
	f := &Fetcher{cfg: cfg}
	for _, opt := range opts {
		opt(f)
	}
	if f.httpClient == nil {
		f.httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return f
}

// Fetch downloads one subscription and extracts its descriptors.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBody))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return Extract(string(body)), nil
}

// FetchAll fetches every URL, skipping the ones that fail, and returns the
// parsed endpoints deduplicated by raw descriptor. Results keep URL order.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string) []endpoint.Endpoint {
	core.Log.Infof("Sub", "Fetching %d subscriptions", len(urls))

	perURL := make([][]string, len(urls))
	var g errgroup.Group
	g.SetLimit(f.cfg.Concurrency)
	for i, url := range urls {
		g.Go(func() error {
			descriptors, err := f.Fetch(ctx, url)
			f.publish(url, len(descriptors), err)
			if err != nil {
				core.Log.Debugf("Sub", "Failed %s: %v", url, err)
				return nil
			}
			if len(descriptors) > 0 {
				core.Log.Infof("Sub", "%d descriptors from %s", len(descriptors), url)
			}
			perURL[i] = descriptors
			return nil
		})
	}
	_ = g.Wait()

	var all []string
	for _, d := range perURL {
		all = append(all, d...)
	}
	eps := ParseAll(all)
	core.Log.Infof("Sub", "Total unique endpoints: %d", len(eps))
	return eps
}

func (f *Fetcher) publish(url string, n int, err error) {
	f.bus.Publish(core.Event{
		Type: core.EventSubscriptionFetched,
		Payload: core.SubscriptionPayload{
			URL:         url,
			Descriptors: n,
			Error:       err,
		},
	})
}
