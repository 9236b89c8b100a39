package resolve

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"proxyrank/internal/endpoint"
)

// VMess is the decoded vmess:// JSON document. Unknown fields are kept so a
// rewritten descriptor round-trips everything it did not touch.
type VMess map[string]any

// DecodeBase64 decodes standard or URL-safe base64, with or without padding.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if pad := len(s) % 4; pad != 0 {
		s += strings.Repeat("=", 4-pad)
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	data, urlErr := base64.URLEncoding.DecodeString(s)
	if urlErr == nil {
		return data, nil
	}
	return nil, fmt.Errorf("base64: %w", err)
}

// DecodeVMess decodes a vmess:// descriptor into its JSON document.
func DecodeVMess(raw string) (VMess, error) {
	body := strings.TrimPrefix(strings.TrimSpace(raw), endpoint.KindVMess.Scheme())
	data, err := DecodeBase64(body)
	if err != nil {
		return nil, err
	}
	var doc VMess
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("json: %w", err)
	}
	return doc, nil
}

// Encode serializes the document back into a vmess:// descriptor.
func (v VMess) Encode() (string, error) {
	data, err := json.Marshal(map[string]any(v))
	if err != nil {
		return "", fmt.Errorf("marshal vmess: %w", err)
	}
	return endpoint.KindVMess.Scheme() + base64.StdEncoding.EncodeToString(data), nil
}

// String returns a string field, tolerating numbers.
func (v VMess) String(key string) string {
	switch val := v[key].(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		return ""
	}
}

// Port returns the "port" field, which sources encode as number or string.
func (v VMess) Port() (int, error) {
	switch val := v["port"].(type) {
	case float64:
		return int(val), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(val))
		if err != nil {
			return 0, fmt.Errorf("port %q: %w", val, err)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("port missing")
	default:
		return 0, fmt.Errorf("port has type %T", val)
	}
}

func decodeVMess(raw string) (Decoded, error) {
	doc, err := DecodeVMess(raw)
	if err != nil {
		return Decoded{}, err
	}
	port, err := doc.Port()
	if err != nil {
		return Decoded{}, err
	}
	return Decoded{
		Address: doc.String("add"),
		Port:    port,
		SNI:     doc.String("sni"),
		Host:    doc.String("host"),
		Name:    doc.String("ps"),
	}, nil
}
