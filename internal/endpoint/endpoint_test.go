package endpoint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		ep   Endpoint
		want Key
	}{
		{
			name: "declared address is lower-cased",
			ep:   New("vless://id@Edge.Example.COM:443", KindVLESS, "Edge.Example.COM", 443, ""),
			want: Key{Address: "edge.example.com", Port: 443},
		},
		{
			name: "resolved target wins over declared fields",
			ep: Endpoint{
				Address: "declared.example.com",
				Port:    80,
				Target:  Target{Address: "Resolved.Example.com", Port: 8443, ServerName: "sni.example.com"},
			},
			want: Key{Address: "resolved.example.com", Port: 8443},
		},
		{
			name: "fallback target still counts as resolved",
			ep: Endpoint{
				Address: "a.example.com",
				Port:    2053,
				Target:  Target{Address: "a.example.com", Port: 2053, Err: errors.New("decode")},
			},
			want: Key{Address: "a.example.com", Port: 2053},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ep.Key())
		})
	}

	a := Endpoint{Target: Target{Address: "X.example.com", Port: 443}}
	b := Endpoint{Address: "x.EXAMPLE.com", Port: 443}
	assert.Equal(t, a.Key(), b.Key(), "case differences never split an identity")
	assert.Equal(t, "x.example.com:443", a.Key().String())
}

func TestEffectivePort(t *testing.T) {
	ep := New("raw", KindVMess, "a.example.com", 80, "")
	assert.Equal(t, 80, ep.EffectivePort())
	ep.Target = Target{Address: "a.example.com", Port: 2096}
	assert.Equal(t, 2096, ep.EffectivePort())
}

func TestNewAndReset(t *testing.T) {
	ep := New("raw", KindTrojan, "a.example.com", 443, "node")
	assert.Equal(t, NotProbed, ep.LatencyMillis)
	assert.False(t, ep.Alive)
	assert.True(t, ep.Target.IsZero())

	ep.Target = Target{Address: "a.example.com", Port: 443}
	ep.LatencyMillis = 42.5
	ep.Alive = true
	ep.Reason = errors.New("stale")

	ep.Reset()
	assert.Equal(t, NotProbed, ep.LatencyMillis)
	assert.False(t, ep.Alive)
	assert.NoError(t, ep.Reason)
	assert.True(t, ep.Target.IsZero())
	assert.Equal(t, "raw", ep.Raw, "descriptor fields survive a reset")
	assert.Equal(t, "node", ep.Name)
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		raw  string
		want Kind
		ok   bool
	}{
		{"vmess://abc", KindVMess, true},
		{"  vless://id@h:1", KindVLESS, true},
		{"trojan://pw@h:1", KindTrojan, true},
		{"ss://x", KindShadowsocks, true},
		{"http://h", "", false},
	}
	for _, tt := range tests {
		got, ok := KindOf(tt.raw)
		assert.Equal(t, tt.ok, ok, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}
