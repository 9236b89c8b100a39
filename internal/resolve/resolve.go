// Package resolve derives the real dial target from an endpoint descriptor.
//
// Each descriptor kind has its own Decoder; the Registry dispatches on
// endpoint.Kind and applies the shared server-name and fallback rules, so
// callers never branch on the encoding themselves.
package resolve

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"proxyrank/internal/core"
	"proxyrank/internal/endpoint"
)

// ErrDecode marks a descriptor that could not be decoded. The resolved
// target then carries the endpoint's declared address and port.
var ErrDecode = errors.New("descriptor decode failed")

// Resolver maps an endpoint to the target that should be dialed.
// Implementations are pure and never fail: problems degrade to the
// declared fallback with Target.Err set.
type Resolver interface {
	Resolve(ep endpoint.Endpoint) endpoint.Target
}

// Decoded is what a Decoder extracts from a descriptor.
type Decoded struct {
	Address string
	Port    int
	// SNI is the explicit server-name parameter, if any.
	SNI string
	// Host is the "host" override parameter, if any.
	Host string
	// Name is the display name carried by the descriptor.
	Name string
}

// Decoder extracts dial parameters from one descriptor encoding.
type Decoder interface {
	Decode(raw string) (Decoded, error)
}

// DecoderFunc adapts a function to Decoder.
type DecoderFunc func(raw string) (Decoded, error)

// Decode implements Decoder.
func (f DecoderFunc) Decode(raw string) (Decoded, error) { return f(raw) }

// Registry holds one Decoder per descriptor kind.
type Registry struct {
	decoders map[endpoint.Kind]Decoder
}

// NewRegistry returns a registry with decoders for every built-in kind.
func NewRegistry() *Registry {
	r := &Registry{decoders: make(map[endpoint.Kind]Decoder)}
	r.Register(endpoint.KindVMess, DecoderFunc(decodeVMess))
	r.Register(endpoint.KindVLESS, DecoderFunc(decodeURI))
	r.Register(endpoint.KindTrojan, DecoderFunc(decodeURI))
	r.Register(endpoint.KindShadowsocks, DecoderFunc(decodeShadowsocks))
	return r
}

// Register installs or replaces the decoder for kind.
func (r *Registry) Register(kind endpoint.Kind, d Decoder) {
	r.decoders[kind] = d
}

// Decode runs the decoder registered for kind without any fallback.
func (r *Registry) Decode(kind endpoint.Kind, raw string) (Decoded, error) {
	d, ok := r.decoders[kind]
	if !ok {
		return Decoded{}, fmt.Errorf("%w: unknown kind %q", ErrDecode, kind)
	}
	dec, err := d.Decode(raw)
	if err != nil {
		return Decoded{}, fmt.Errorf("%w: %s: %v", ErrDecode, kind, err)
	}
	return dec, nil
}

// Resolve implements Resolver.
func (r *Registry) Resolve(ep endpoint.Endpoint) (target endpoint.Target) {
	defer func() {
		if p := recover(); p != nil {
			target = fallback(ep, fmt.Errorf("%w: decoder panic: %v", ErrDecode, p))
		}
	}()

	dec, err := r.Decode(ep.Kind, ep.Raw)
	if err != nil {
		return fallback(ep, err)
	}
	if dec.Address == "" || dec.Port <= 0 || dec.Port > 65535 {
		return fallback(ep, fmt.Errorf("%w: %s: missing address or port", ErrDecode, ep.Kind))
	}

	return endpoint.Target{
		Address:    dec.Address,
		Port:       dec.Port,
		ServerName: serverName(dec),
	}
}

// serverName applies the sni → host → address preference.
func serverName(d Decoded) string {
	switch {
	case d.SNI != "":
		return d.SNI
	case d.Host != "":
		return d.Host
	default:
		return d.Address
	}
}

func fallback(ep endpoint.Endpoint, err error) endpoint.Target {
	core.Log.Debugf("Resolve", "Falling back to declared %s:%d for %s descriptor: %v", ep.Address, ep.Port, ep.Kind, err)
	return endpoint.Target{
		Address: ep.Address,
		Port:    ep.Port,
		Err:     err,
	}
}

type cacheKey struct {
	kind endpoint.Kind
	raw  string
}

// Cached memoizes another Resolver. Resolution is pure, so entries never expire.
type Cached struct {
	next  Resolver
	cache *lru.Cache[cacheKey, endpoint.Target]
}

// NewCached wraps next with an LRU of the given size.
func NewCached(next Resolver, size int) (*Cached, error) {
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New[cacheKey, endpoint.Target](size)
	if err != nil {
		return nil, fmt.Errorf("[Resolve] create cache: %w", err)
	}
	return &Cached{next: next, cache: cache}, nil
}

// Resolve implements Resolver.
func (c *Cached) Resolve(ep endpoint.Endpoint) endpoint.Target {
	key := cacheKey{kind: ep.Kind, raw: ep.Raw}
	// Fallback targets depend on the declared fields, not just the descriptor.
	if t, ok := c.cache.Get(key); ok && t.Err == nil {
		return t
	}
	t := c.next.Resolve(ep)
	if t.Err == nil {
		c.cache.Add(key, t)
	}
	return t
}

// Len returns the number of cached targets.
func (c *Cached) Len() int {
	return c.cache.Len()
}
