package variant

import (
	"fmt"
	"net"
	"strconv"

	"proxyrank/internal/core"
	"proxyrank/internal/endpoint"
	"proxyrank/internal/probe"
	"proxyrank/internal/resolve"
)

// IsCDN reports whether ep is a websocket endpoint on a CDN port, which
// makes it reachable through any edge address of the CDN.
func IsCDN(ep endpoint.Endpoint, classes probe.PortClasses) bool {
	switch ep.Kind {
	case endpoint.KindVMess:
		doc, err := resolve.DecodeVMess(ep.Raw)
		if err != nil {
			return false
		}
		port, err := doc.Port()
		return err == nil && doc.String("net") == "ws" && classes.IsKnown(port)

	case endpoint.KindVLESS:
		u, err := resolve.ParseShareURI(ep.Raw)
		if err != nil {
			return false
		}
		port, err := resolve.URIPort(u)
		return err == nil && u.Query().Get("type") == "ws" && classes.IsKnown(port)
	}
	return false
}

// FilterCDN keeps the endpoints for which IsCDN holds, preserving order.
func FilterCDN(eps []endpoint.Endpoint, classes probe.PortClasses) []endpoint.Endpoint {
	var out []endpoint.Endpoint
	counts := make(map[endpoint.Kind]int)
	for _, ep := range eps {
		if IsCDN(ep, classes) {
			out = append(out, ep)
			counts[ep.Kind]++
		}
	}
	core.Log.Infof("Variant", "CDN endpoints: %d of %d (vmess %d, vless %d)",
		len(out), len(eps), counts[endpoint.KindVMess], counts[endpoint.KindVLESS])
	return out
}

// ApplyCleanIPs points CDN endpoints at the given edge addresses, one
// derived endpoint per address, cycling through the CDN endpoints. The
// original host is kept as the host header and server name.
func ApplyCleanIPs(eps []endpoint.Endpoint, ips []string, classes probe.PortClasses, prefix string) []endpoint.Endpoint {
	if len(ips) == 0 || len(eps) == 0 {
		return nil
	}
	cdn := FilterCDN(eps, classes)
	if len(cdn) == 0 {
		core.Log.Warnf("Variant", "No CDN endpoints; clean IPs only apply to websocket endpoints")
		return nil
	}

	out := make([]endpoint.Endpoint, 0, len(ips))
	for i, ip := range ips {
		src := cdn[i%len(cdn)]
		name := variantName(prefix, fmt.Sprintf("#%d", i+1))
		raw, port, err := WithAddress(src, ip, name)
		if err != nil {
			core.Log.Debugf("Variant", "Skipping clean IP %s for %s: %v", ip, src.Kind, err)
			continue
		}
		out = append(out, derive(src, raw, ip, port, name))
	}
	core.Log.Infof("Variant", "Clean IP endpoints: %d", len(out))
	return out
}

// WithAddress rewrites the descriptor of ep to dial address, returning the
// new descriptor and its port.
func WithAddress(ep endpoint.Endpoint, address, name string) (string, int, error) {
	switch ep.Kind {
	case endpoint.KindVMess:
		doc, err := resolve.DecodeVMess(ep.Raw)
		if err != nil {
			return "", 0, err
		}
		port, err := doc.Port()
		if err != nil {
			return "", 0, err
		}
		if doc.String("host") == "" {
			doc["host"] = doc.String("add")
		}
		doc["add"] = address
		doc["ps"] = name
		raw, err := doc.Encode()
		return raw, port, err

	case endpoint.KindVLESS:
		u, err := resolve.ParseShareURI(ep.Raw)
		if err != nil {
			return "", 0, err
		}
		port, err := resolve.URIPort(u)
		if err != nil {
			return "", 0, err
		}
		q := u.Query()
		if q.Get("host") == "" {
			q.Set("host", u.Hostname())
		}
		if q.Get("sni") == "" {
			q.Set("sni", u.Hostname())
		}
		u.Host = net.JoinHostPort(address, strconv.Itoa(port))
		u.RawQuery = q.Encode()
		u.Fragment = name
		return u.String(), port, nil

	default:
		return "", 0, fmt.Errorf("address rewrite not supported for %s", ep.Kind)
	}
}
