// Package subscription turns subscription bodies into endpoints: it extracts
// descriptor strings from plain or base64 text, parses them, and fetches
// subscription URLs over HTTP.
package subscription

import (
	"fmt"
	"regexp"
	"strings"

	"proxyrank/internal/core"
	"proxyrank/internal/endpoint"
	"proxyrank/internal/resolve"
)

// descriptorPattern finds share links embedded in arbitrary text.
var descriptorPattern = regexp.MustCompile(`(?:vmess|vless|trojan|ss)://[A-Za-z0-9+/=_\-%.@:?&#!,;\[\]()~]+`)

var decoders = resolve.NewRegistry()

// Extract returns every descriptor found in text, in first-seen order
// without duplicates. A body that is itself base64 is decoded first when the
// decoded form contains a known scheme.
func Extract(text string) []string {
	if decoded, err := resolve.DecodeBase64(strings.TrimSpace(text)); err == nil && hasScheme(string(decoded)) {
		text = string(decoded)
	}

	var found []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if _, ok := endpoint.KindOf(line); ok {
			found = append(found, line)
			continue
		}
		found = append(found, descriptorPattern.FindAllString(line, -1)...)
	}
	return dedupe(found)
}

func hasScheme(s string) bool {
	for _, k := range endpoint.Kinds {
		if strings.Contains(s, k.Scheme()) {
			return true
		}
	}
	return false
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Parse builds an unprobed endpoint from one descriptor. The declared address,
// port and name come from the same fields the resolver reads.
func Parse(raw string) (endpoint.Endpoint, error) {
	raw = strings.TrimSpace(raw)
	kind, ok := endpoint.KindOf(raw)
	if !ok {
		return endpoint.Endpoint{}, fmt.Errorf("unknown scheme: %.20q", raw)
	}
	dec, err := decoders.Decode(kind, raw)
	if err != nil {
		return endpoint.Endpoint{}, err
	}
	if dec.Address == "" {
		return endpoint.Endpoint{}, fmt.Errorf("%s: missing address", kind)
	}
	return endpoint.New(raw, kind, dec.Address, dec.Port, dec.Name), nil
}

// ParseAll parses descriptors, skipping those that fail and any repeat of an
// already-seen raw string.
func ParseAll(descriptors []string) []endpoint.Endpoint {
	out := make([]endpoint.Endpoint, 0, len(descriptors))
	seen := make(map[string]struct{}, len(descriptors))
	skipped := 0
	for _, raw := range descriptors {
		ep, err := Parse(raw)
		if err != nil {
			skipped++
			core.Log.Debugf("Sub", "Skipping descriptor %.40s...: %v", raw, err)
			continue
		}
		if _, ok := seen[ep.Raw]; ok {
			continue
		}
		seen[ep.Raw] = struct{}{}
		out = append(out, ep)
	}
	if skipped > 0 {
		core.Log.Debugf("Sub", "Skipped %d unparseable descriptors", skipped)
	}
	return out
}
