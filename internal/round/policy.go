package round

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"proxyrank/internal/probe"
)

// Mode selects the acceptance policy.
type Mode int

const (
	// ModeFast accepts an endpoint if any of N attempts succeeds and reports
	// the minimum successful latency.
	ModeFast Mode = iota
	// ModeHardcore requires every round to succeed with consistent latency
	// and reports the trimmed mean.
	ModeHardcore
)

func (m Mode) String() string {
	switch m {
	case ModeFast:
		return "fast"
	case ModeHardcore:
		return "hardcore"
	default:
		return "unknown"
	}
}

// ParseMode parses a string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "fast", "best_of", "":
		return ModeFast, nil
	case "hardcore", "strict":
		return ModeHardcore, nil
	default:
		return ModeFast, fmt.Errorf("unknown probe mode: %q", s)
	}
}

// UnmarshalYAML implements yaml.Unmarshaler for Mode.
func (m *Mode) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseMode(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// MarshalYAML implements yaml.Marshaler for Mode.
func (m Mode) MarshalYAML() (any, error) {
	return m.String(), nil
}

// Policy parameterizes the aggregator.
type Policy struct {
	Mode Mode
	// Attempts is N for best-of-N, or the round count in hardcore mode.
	Attempts int
	// Delay separates consecutive probes of the same endpoint.
	Delay time.Duration
	// Timeout bounds each probe step.
	Timeout time.Duration
	// MaxSpread rejects hardcore samples whose max exceeds MaxSpread × min.
	MaxSpread float64
	// TLS enables the handshake on TLS-class ports.
	TLS bool
	// AllowedPorts, when non-empty, rejects endpoints on any other port
	// without probing them.
	AllowedPorts []int
}

// FastPolicy returns a best-of-N policy.
func FastPolicy(attempts int, timeout time.Duration) Policy {
	return Policy{
		Mode:     ModeFast,
		Attempts: attempts,
		Timeout:  timeout,
		TLS:      true,
	}
}

// HardcorePolicy returns the 5-round, 300 ms, 3× consistency policy.
func HardcorePolicy(timeout time.Duration) Policy {
	return Policy{
		Mode:      ModeHardcore,
		Attempts:  5,
		Delay:     300 * time.Millisecond,
		Timeout:   timeout,
		MaxSpread: 3,
		TLS:       true,
	}
}

func (p Policy) attempts() int {
	if p.Attempts < 1 {
		return 1
	}
	return p.Attempts
}

// Budget is the wall-clock allowance for a full multi-round run of one
// endpoint, plus slack. Every round may spend Timeout on each probe step,
// so a TLS policy allows three timeouts per round.
func (p Policy) Budget(slack time.Duration) time.Duration {
	n := p.attempts()
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = probe.DefaultTimeout
	}
	perRound := time.Duration(probe.Steps(p.TLS)) * timeout
	return time.Duration(n)*perRound + time.Duration(n-1)*p.Delay + slack
}
