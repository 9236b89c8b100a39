package resolve

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ParseShareURI parses a scheme://userinfo@host:port?query#name share link.
// It is shared by the vless:// and trojan:// decoders and by collaborators
// that rewrite those descriptors.
func ParseShareURI(raw string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse uri: %w", err)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("uri: missing host")
	}
	return u, nil
}

// URIPort returns the numeric port of u.
func URIPort(u *url.URL) (int, error) {
	p := u.Port()
	if p == "" {
		return 0, fmt.Errorf("uri: missing port")
	}
	n, err := strconv.Atoi(p)
	if err != nil {
		return 0, fmt.Errorf("uri: port %q: %w", p, err)
	}
	return n, nil
}

// decodeURI handles vless:// and trojan://.
//
//	sni  → explicit server name
//	host → host override (ws/http Host header)
func decodeURI(raw string) (Decoded, error) {
	u, err := ParseShareURI(raw)
	if err != nil {
		return Decoded{}, err
	}
	port, err := URIPort(u)
	if err != nil {
		return Decoded{}, err
	}
	q := u.Query()
	return Decoded{
		Address: u.Hostname(),
		Port:    port,
		SNI:     strings.TrimSpace(q.Get("sni")),
		Host:    strings.TrimSpace(q.Get("host")),
		Name:    u.Fragment,
	}, nil
}

// decodeShadowsocks handles both SIP002 (ss://userinfo@host:port#tag) and
// the legacy form ss://base64(method:password@host:port)#tag.
func decodeShadowsocks(raw string) (Decoded, error) {
	raw = strings.TrimSpace(raw)
	body := strings.TrimPrefix(raw, "ss://")
	var name string
	if i := strings.IndexByte(body, '#'); i >= 0 {
		name = body[i+1:]
		if unescaped, err := url.PathUnescape(name); err == nil {
			name = unescaped
		}
		body = body[:i]
	}

	if strings.Contains(body, "@") {
		u, err := ParseShareURI("ss://" + body)
		if err != nil {
			return Decoded{}, err
		}
		port, err := URIPort(u)
		if err != nil {
			return Decoded{}, err
		}
		return Decoded{Address: u.Hostname(), Port: port, Name: name}, nil
	}

	if i := strings.IndexByte(body, '?'); i >= 0 {
		body = strings.TrimSuffix(body[:i], "/")
	}
	data, err := DecodeBase64(body)
	if err != nil {
		return Decoded{}, err
	}
	plain := string(data)
	at := strings.LastIndexByte(plain, '@')
	if at < 0 {
		return Decoded{}, fmt.Errorf("ss: missing server part")
	}
	host, portStr, err := net.SplitHostPort(plain[at+1:])
	if err != nil {
		return Decoded{}, fmt.Errorf("ss: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Decoded{}, fmt.Errorf("ss: port %q: %w", portStr, err)
	}
	return Decoded{Address: host, Port: port, Name: name}, nil
}
