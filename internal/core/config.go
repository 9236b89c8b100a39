package core

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/multierr"
	"gopkg.in/yaml.v3"
)

// DiversifyMode selects the post-selection rebalancing strategy.
type DiversifyMode int

const (
	// DiversifyNone keeps the ranked selection as is.
	DiversifyNone DiversifyMode = iota
	// DiversifyRatio caps the share of common ports.
	DiversifyRatio
	// DiversifyBalance gives each active port a fair share.
	DiversifyBalance
)

func (m DiversifyMode) String() string {
	switch m {
	case DiversifyNone:
		return "none"
	case DiversifyRatio:
		return "ratio"
	case DiversifyBalance:
		return "balance"
	default:
		return "unknown"
	}
}

// ParseDiversifyMode parses a string into a DiversifyMode.
func ParseDiversifyMode(s string) (DiversifyMode, error) {
	switch s {
	case "none", "off", "":
		return DiversifyNone, nil
	case "ratio", "cap":
		return DiversifyRatio, nil
	case "balance", "per_port":
		return DiversifyBalance, nil
	default:
		return DiversifyNone, fmt.Errorf("unknown diversify mode: %q", s)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler for DiversifyMode.
func (m *DiversifyMode) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseDiversifyMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for DiversifyMode.
func (m DiversifyMode) MarshalYAML() (any, error) {
	return m.String(), nil
}

// ProbeConfig holds settings shared by every probe.
type ProbeConfig struct {
	// TLS enables a TLS handshake on ports of the TLS class.
	TLS bool `yaml:"tls"`
	// Egress is an optional upstream proxy URL (e.g. "socks5://127.0.0.1:1080")
	// that every probe connection is dialed through.
	Egress string `yaml:"egress,omitempty"`
}

// PortsConfig is the port classification table.
type PortsConfig struct {
	TLS    []int `yaml:"tls"`
	Plain  []int `yaml:"plain"`
	Common []int `yaml:"common"`
}

// FastConfig configures best-of-N probing.
type FastConfig struct {
	Attempts     int           `yaml:"attempts"`
	Delay        time.Duration `yaml:"delay,omitempty"`
	Timeout      time.Duration `yaml:"timeout"`
	Concurrency  int           `yaml:"concurrency"`
	AllowedPorts []int         `yaml:"allowed_ports,omitempty"`
}

// HardcoreConfig configures the all-rounds-must-pass policy.
type HardcoreConfig struct {
	Rounds      int           `yaml:"rounds"`
	Delay       time.Duration `yaml:"delay"`
	MaxSpread   float64       `yaml:"max_spread"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
}

// BatchConfig configures the scheduler.
type BatchConfig struct {
	// Slack is added to every unit's timeout budget.
	Slack time.Duration `yaml:"slack"`
	// ProgressEvery is the number of completions between progress reports.
	ProgressEvery int `yaml:"progress_every"`
}

// SelectionConfig configures the best-of list.
type SelectionConfig struct {
	TopN         int     `yaml:"top_n"`
	MaxLatencyMs float64 `yaml:"max_latency_ms"`
}

// DiversifyConfig configures port diversification.
type DiversifyConfig struct {
	Mode           DiversifyMode `yaml:"mode"`
	MaxCommonRatio float64       `yaml:"max_common_ratio"`
	Target         int           `yaml:"target"`
	Floor          int           `yaml:"floor"`
}

// ResolverConfig configures descriptor resolution.
type ResolverConfig struct {
	CacheSize int `yaml:"cache_size"`
}

// SubscriptionConfig configures subscription fetching.
type SubscriptionConfig struct {
	URLs        []string      `yaml:"urls,omitempty"`
	Timeout     time.Duration `yaml:"timeout"`
	Concurrency int           `yaml:"concurrency"`
	UserAgent   string        `yaml:"user_agent,omitempty"`
	MaxBody     int64         `yaml:"max_body"`
}

// VariantConfig configures the CDN/port-variant flow.
type VariantConfig struct {
	NamePrefix string `yaml:"name_prefix,omitempty"`
	// CDNLimit is how many of the fastest CDN endpoints enter the flow.
	CDNLimit int `yaml:"cdn_limit"`
	// SourceLimit is how many of those are cloned onto alternative ports.
	SourceLimit int `yaml:"source_limit"`
}

// Config is the top-level configuration.
type Config struct {
	Probe         ProbeConfig        `yaml:"probe"`
	Ports         PortsConfig        `yaml:"ports"`
	Fast          FastConfig         `yaml:"fast"`
	Hardcore      HardcoreConfig     `yaml:"hardcore"`
	Batch         BatchConfig        `yaml:"batch"`
	Selection     SelectionConfig    `yaml:"selection"`
	Diversify     DiversifyConfig    `yaml:"diversify"`
	Resolver      ResolverConfig     `yaml:"resolver"`
	Subscriptions SubscriptionConfig `yaml:"subscriptions"`
	Variants      VariantConfig      `yaml:"variants"`
	Logging       LogConfig          `yaml:"logging,omitempty"`
}

// DefaultConfig returns a configuration populated with the stock values.
func DefaultConfig() Config {
	return Config{
		Probe: ProbeConfig{TLS: true},
		Ports: PortsConfig{
			TLS:    []int{443, 8443, 2053, 2083, 2087, 2096},
			Plain:  []int{80, 8080, 2052, 2082, 2086, 2095},
			Common: []int{80, 443},
		},
		Fast: FastConfig{
			Attempts:    1,
			Timeout:     3 * time.Second,
			Concurrency: 200,
		},
		Hardcore: HardcoreConfig{
			Rounds:      5,
			Delay:       300 * time.Millisecond,
			MaxSpread:   3,
			Timeout:     5 * time.Second,
			Concurrency: 50,
		},
		Batch: BatchConfig{
			Slack:         5 * time.Second,
			ProgressEvery: 50,
		},
		Selection: SelectionConfig{
			TopN:         200,
			MaxLatencyMs: 2000,
		},
		Diversify: DiversifyConfig{
			Mode:           DiversifyNone,
			MaxCommonRatio: 0.4,
			Target:         500,
			Floor:          10,
		},
		Resolver: ResolverConfig{CacheSize: 4096},
		Subscriptions: SubscriptionConfig{
			Timeout:     15 * time.Second,
			Concurrency: 20,
			UserAgent:   "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
			MaxBody:     2 << 20,
		},
		Variants: VariantConfig{
			CDNLimit:    300,
			SourceLimit: 100,
		},
	}
}

// LoadConfig reads configuration from a YAML file on top of DefaultConfig.
// A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("[Core] failed to read config %s: %w", path, err)
	}

	return ParseConfig(data)
}

// ParseConfig decodes a YAML document on top of DefaultConfig and validates it.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("[Core] failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("[Core] invalid config: %w", err)
	}
	return cfg, nil
}

// SaveConfig writes cfg to path as YAML.
func SaveConfig(path string, cfg Config) error {
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("[Core] failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("[Core] failed to write config %s: %w", path, err)
	}
	return nil
}

// Validate reports every problem in the configuration at once.
func (c Config) Validate() error {
	var err error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			err = multierr.Append(err, fmt.Errorf(format, args...))
		}
	}

	check(c.Fast.Attempts >= 1, "fast.attempts must be >= 1, got %d", c.Fast.Attempts)
	check(c.Fast.Timeout > 0, "fast.timeout must be positive")
	check(c.Fast.Delay >= 0, "fast.delay must not be negative")
	check(c.Fast.Concurrency >= 1, "fast.concurrency must be >= 1, got %d", c.Fast.Concurrency)

	check(c.Hardcore.Rounds >= 1, "hardcore.rounds must be >= 1, got %d", c.Hardcore.Rounds)
	check(c.Hardcore.Timeout > 0, "hardcore.timeout must be positive")
	check(c.Hardcore.Delay >= 0, "hardcore.delay must not be negative")
	check(c.Hardcore.MaxSpread >= 1, "hardcore.max_spread must be >= 1, got %g", c.Hardcore.MaxSpread)
	check(c.Hardcore.Concurrency >= 1, "hardcore.concurrency must be >= 1, got %d", c.Hardcore.Concurrency)

	check(c.Batch.Slack >= 0, "batch.slack must not be negative")
	check(c.Batch.ProgressEvery >= 0, "batch.progress_every must not be negative")

	check(c.Diversify.MaxCommonRatio >= 0 && c.Diversify.MaxCommonRatio <= 1,
		"diversify.max_common_ratio must be within [0,1], got %g", c.Diversify.MaxCommonRatio)
	check(c.Diversify.Floor >= 0, "diversify.floor must not be negative")

	for _, group := range []struct {
		name  string
		ports []int
	}{
		{"ports.tls", c.Ports.TLS},
		{"ports.plain", c.Ports.Plain},
		{"ports.common", c.Ports.Common},
		{"fast.allowed_ports", c.Fast.AllowedPorts},
	} {
		for _, p := range group.ports {
			check(p > 0 && p <= 65535, "%s: invalid port %d", group.name, p)
		}
	}

	check(c.Subscriptions.Concurrency >= 1, "subscriptions.concurrency must be >= 1")
	check(c.Subscriptions.MaxBody > 0, "subscriptions.max_body must be positive")

	return err
}
