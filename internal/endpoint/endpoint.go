// Package endpoint defines the candidate targets that flow through the
// probing and ranking stages.
package endpoint

import (
	"net"
	"strconv"
	"strings"
)

// NotProbed is the latency sentinel for endpoints that were never probed
// or whose last probe failed.
const NotProbed = -1.0

// Kind identifies how a raw descriptor is encoded.
type Kind string

const (
	KindVMess       Kind = "vmess"
	KindVLESS       Kind = "vless"
	KindTrojan      Kind = "trojan"
	KindShadowsocks Kind = "ss"
)

// Kinds lists every known descriptor encoding.
var Kinds = []Kind{KindVMess, KindVLESS, KindTrojan, KindShadowsocks}

// Scheme returns the URI scheme prefix for the kind, e.g. "vmess://".
func (k Kind) Scheme() string {
	return string(k) + "://"
}

// KindOf detects the descriptor kind from its scheme prefix.
func KindOf(raw string) (Kind, bool) {
	raw = strings.TrimSpace(raw)
	for _, k := range Kinds {
		if strings.HasPrefix(raw, k.Scheme()) {
			return k, true
		}
	}
	return "", false
}

// Target is the network target actually dialed for an endpoint.
type Target struct {
	Address    string `json:"address"`
	Port       int    `json:"port"`
	ServerName string `json:"server_name,omitempty"`
	// Err is set when the descriptor could not be decoded and Address/Port
	// are the declared fallback values.
	Err error `json:"-"`
}

// IsZero reports whether no target has been resolved.
func (t Target) IsZero() bool {
	return t.Address == "" && t.Port == 0
}

// HostPort returns "address:port".
func (t Target) HostPort() string {
	return net.JoinHostPort(t.Address, strconv.Itoa(t.Port))
}

// Key is the network identity used for deduplication.
type Key struct {
	Address string
	Port    int
}

func (k Key) String() string {
	return net.JoinHostPort(k.Address, strconv.Itoa(k.Port))
}

// Endpoint is a candidate target derived from a proxy descriptor.
type Endpoint struct {
	Raw     string `json:"raw"`
	Kind    Kind   `json:"kind"`
	Address string `json:"address"`
	Port    int    `json:"port"`
	Name    string `json:"name,omitempty"`

	// Verdict fields, written only by the scheduler's collector.
	Target        Target  `json:"target"`
	LatencyMillis float64 `json:"latency_ms"`
	Alive         bool    `json:"alive"`
	Reason        error   `json:"-"`
}

// New creates an unprobed endpoint.
func New(raw string, kind Kind, address string, port int, name string) Endpoint {
	return Endpoint{
		Raw:           raw,
		Kind:          kind,
		Address:       address,
		Port:          port,
		Name:          name,
		LatencyMillis: NotProbed,
	}
}

// Key returns the endpoint's network identity: the resolved target when
// known, the declared address/port otherwise.
func (e Endpoint) Key() Key {
	if !e.Target.IsZero() {
		return Key{Address: strings.ToLower(e.Target.Address), Port: e.Target.Port}
	}
	return Key{Address: strings.ToLower(e.Address), Port: e.Port}
}

// EffectivePort returns the resolved port if known, else the declared one.
func (e Endpoint) EffectivePort() int {
	if !e.Target.IsZero() {
		return e.Target.Port
	}
	return e.Port
}

// Reset clears verdict fields, returning the endpoint to the unprobed state.
func (e *Endpoint) Reset() {
	e.Target = Target{}
	e.LatencyMillis = NotProbed
	e.Alive = false
	e.Reason = nil
}
