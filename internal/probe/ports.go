package probe

import "slices"

// PortClasses is the port classification table used to decide whether a
// probe performs a TLS handshake and which ports count as overrepresented.
type PortClasses struct {
	TLS    []int
	Plain  []int
	Common []int
}

// DefaultPortClasses returns the CDN port table.
func DefaultPortClasses() PortClasses {
	return PortClasses{
		TLS:    []int{443, 8443, 2053, 2083, 2087, 2096},
		Plain:  []int{80, 8080, 2052, 2082, 2086, 2095},
		Common: []int{80, 443},
	}
}

// UseTLS reports whether port belongs to the TLS class.
func (c PortClasses) UseTLS(port int) bool {
	return slices.Contains(c.TLS, port)
}

// IsCommon reports whether port is one of the heavily-used ports.
func (c PortClasses) IsCommon(port int) bool {
	return slices.Contains(c.Common, port)
}

// IsKnown reports whether port is in either the TLS or the plain class.
func (c PortClasses) IsKnown(port int) bool {
	return slices.Contains(c.TLS, port) || slices.Contains(c.Plain, port)
}

// ClassOf returns the ports sharing port's class: the TLS class for TLS
// ports, the plain class otherwise.
func (c PortClasses) ClassOf(port int) []int {
	if c.UseTLS(port) {
		return c.TLS
	}
	return c.Plain
}
