// Package variant derives new candidate endpoints from known-good ones:
// clones on alternative CDN ports and clean-IP rewrites of websocket
// endpoints. Every derived endpoint is unprobed.
package variant

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"proxyrank/internal/core"
	"proxyrank/internal/endpoint"
	"proxyrank/internal/probe"
	"proxyrank/internal/resolve"
)

// PortVariants clones every vmess and vless endpoint onto each other port of
// its port class: TLS-class ports stay on TLS ports, everything else moves
// among the plain ports. Other kinds are skipped.
func PortVariants(eps []endpoint.Endpoint, classes probe.PortClasses, prefix string) []endpoint.Endpoint {
	var out []endpoint.Endpoint
	counter := 0
	for _, ep := range eps {
		if ep.Kind != endpoint.KindVMess && ep.Kind != endpoint.KindVLESS {
			continue
		}
		port := ep.EffectivePort()
		for _, p := range classes.ClassOf(port) {
			if p == port {
				continue
			}
			name := variantName(prefix, fmt.Sprintf("p%d #%d", p, counter+1))
			raw, err := WithPort(ep, p, classes.UseTLS(p), name)
			if err != nil {
				core.Log.Debugf("Variant", "Skipping %s variant on port %d: %v", ep.Kind, p, err)
				continue
			}
			counter++
			out = append(out, derive(ep, raw, ep.Address, p, name))
		}
	}
	core.Log.Infof("Variant", "Port variants: %d from %d endpoints", len(out), len(eps))
	return out
}

// WithPort rewrites the descriptor of ep to dial port. useTLS toggles the
// transport security setting; name replaces the display name.
func WithPort(ep endpoint.Endpoint, port int, useTLS bool, name string) (string, error) {
	switch ep.Kind {
	case endpoint.KindVMess:
		doc, err := resolve.DecodeVMess(ep.Raw)
		if err != nil {
			return "", err
		}
		doc["port"] = port
		doc["ps"] = name
		if useTLS {
			doc["tls"] = "tls"
		} else {
			doc["tls"] = ""
		}
		return doc.Encode()

	case endpoint.KindVLESS:
		u, err := resolve.ParseShareURI(ep.Raw)
		if err != nil {
			return "", err
		}
		q := u.Query()
		if useTLS {
			q.Set("security", "tls")
			if q.Get("sni") == "" {
				sni := q.Get("host")
				if sni == "" {
					sni = u.Hostname()
				}
				q.Set("sni", sni)
			}
		} else {
			q.Set("security", "none")
			q.Del("sni")
		}
		u.Host = net.JoinHostPort(u.Hostname(), strconv.Itoa(port))
		u.RawQuery = q.Encode()
		u.Fragment = name
		return u.String(), nil

	default:
		return "", fmt.Errorf("port rewrite not supported for %s", ep.Kind)
	}
}

func variantName(prefix, suffix string) string {
	return strings.TrimSpace(prefix + " " + suffix)
}

// derive builds an unprobed copy of ep with a rewritten descriptor.
func derive(ep endpoint.Endpoint, raw, address string, port int, name string) endpoint.Endpoint {
	ep.Reset()
	ep.Raw = raw
	ep.Address = address
	ep.Port = port
	ep.Name = name
	return ep
}
