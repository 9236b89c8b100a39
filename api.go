package proxyrank

import (
	"io"
	"time"

	"proxyrank/internal/batch"
	"proxyrank/internal/core"
	"proxyrank/internal/endpoint"
	"proxyrank/internal/export"
	"proxyrank/internal/probe"
	"proxyrank/internal/rank"
	"proxyrank/internal/resolve"
	"proxyrank/internal/round"
	"proxyrank/internal/subscription"
)

// Configuration.
type (
	Config             = core.Config
	ProbeConfig        = core.ProbeConfig
	PortsConfig        = core.PortsConfig
	FastConfig         = core.FastConfig
	HardcoreConfig     = core.HardcoreConfig
	BatchConfig        = core.BatchConfig
	SelectionConfig    = core.SelectionConfig
	DiversifyConfig    = core.DiversifyConfig
	ResolverConfig     = core.ResolverConfig
	SubscriptionConfig = core.SubscriptionConfig
	VariantConfig      = core.VariantConfig
	LogConfig          = core.LogConfig
	DiversifyMode      = core.DiversifyMode
)

const (
	DiversifyNone    = core.DiversifyNone
	DiversifyRatio   = core.DiversifyRatio
	DiversifyBalance = core.DiversifyBalance
)

// DefaultConfig returns a configuration populated with the stock values.
func DefaultConfig() Config { return core.DefaultConfig() }

// LoadConfig reads a YAML file on top of DefaultConfig. A missing file
// yields the defaults.
func LoadConfig(path string) (Config, error) { return core.LoadConfig(path) }

// ParseConfig decodes a YAML document on top of DefaultConfig and validates it.
func ParseConfig(data []byte) (Config, error) { return core.ParseConfig(data) }

// SaveConfig writes cfg to path as YAML.
func SaveConfig(path string, cfg Config) error { return core.SaveConfig(path, cfg) }

// Probe modes.
type Mode = round.Mode

const (
	ModeFast     = round.ModeFast
	ModeHardcore = round.ModeHardcore
)

// ParseMode parses "fast" or "hardcore".
func ParseMode(s string) (Mode, error) { return round.ParseMode(s) }

// Endpoints.
type (
	Endpoint = endpoint.Endpoint
	Target   = endpoint.Target
	Key      = endpoint.Key
	Kind     = endpoint.Kind
	Report   = batch.Report
)

const (
	KindVMess       = endpoint.KindVMess
	KindVLESS       = endpoint.KindVLESS
	KindTrojan      = endpoint.KindTrojan
	KindShadowsocks = endpoint.KindShadowsocks

	NotProbed = endpoint.NotProbed
)

// NewEndpoint creates an unprobed endpoint from already parsed fields.
func NewEndpoint(raw string, kind Kind, address string, port int, name string) Endpoint {
	return endpoint.New(raw, kind, address, port, name)
}

// ParseDescriptor decodes one vmess, vless, trojan or ss descriptor.
func ParseDescriptor(raw string) (Endpoint, error) { return subscription.Parse(raw) }

// ParseDescriptors decodes every descriptor it can, skipping failures and
// duplicates.
func ParseDescriptors(raws []string) []Endpoint { return subscription.ParseAll(raws) }

// ExtractDescriptors pulls descriptors out of subscription text, plain or
// base64.
func ExtractDescriptors(text string) []string { return subscription.Extract(text) }

// Probing extension points for WithProber and WithLookuper.
type (
	Prober       = probe.Prober
	ProbeRequest = probe.Request
	ProbeResult  = probe.Result
	Lookuper     = probe.Lookuper
)

// Failure reasons carried in Endpoint.Reason and Target.Err.
var (
	ErrDecode              = resolve.ErrDecode
	ErrDNS                 = probe.ErrDNS
	ErrConnect             = probe.ErrConnect
	ErrHandshake           = probe.ErrHandshake
	ErrInconsistentLatency = round.ErrInconsistentLatency
	ErrNoTarget            = round.ErrNoTarget
	ErrPortFiltered        = round.ErrPortFiltered
	ErrUnitTimeout         = batch.ErrUnitTimeout
	ErrWorkerPanic         = batch.ErrWorkerPanic
)

// Events.
type (
	EventBus            = core.EventBus
	Event               = core.Event
	EventType           = core.EventType
	Handler             = core.Handler
	BatchPayload        = core.BatchPayload
	SubscriptionPayload = core.SubscriptionPayload
)

const (
	EventBatchStarted        = core.EventBatchStarted
	EventBatchProgress       = core.EventBatchProgress
	EventBatchDone           = core.EventBatchDone
	EventSubscriptionFetched = core.EventSubscriptionFetched
)

// NewEventBus creates an empty event bus.
func NewEventBus() *EventBus { return core.NewEventBus() }

// Output encodings.
type (
	Document  = export.Document
	Record    = export.Record
	Summary   = export.Summary
	KindCount = export.KindCount
	PortCount = rank.PortCount
)

// WriteText writes one descriptor per line.
func WriteText(w io.Writer, eps []Endpoint) error { return export.WriteText(w, eps) }

// WriteBase64 writes the newline-joined descriptors as one base64 block.
func WriteBase64(w io.Writer, eps []Endpoint) error { return export.WriteBase64(w, eps) }

// WriteJSON writes eps as an indented JSON document stamped with now.
func WriteJSON(w io.Writer, eps []Endpoint, now time.Time) error {
	return export.WriteJSON(w, eps, now)
}

// Summarize counts the collected and selected endpoints.
func Summarize(all, best []Endpoint) Summary { return export.Summarize(all, best) }

// WriteMarkdown renders s as a markdown report.
func WriteMarkdown(w io.Writer, s Summary, now time.Time) error {
	return export.WriteMarkdown(w, s, now)
}
