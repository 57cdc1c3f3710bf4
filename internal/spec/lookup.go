package spec

import (
	"context"
	"net"
)

// Candidate is one established connection reported by the ownership
// lookup mechanism, together with the local user that owns it.
type Candidate struct {
	User       string
	LocalAddr  net.IP
	LocalPort  uint16
	RemoteAddr net.IP
	RemotePort uint16
}

// Matches reports whether the candidate's endpoints exactly match key.
// IPv6-mapped IPv4 addresses compare equal to their IPv4 form.
func (c Candidate) Matches(key LookupKey) bool {
	return c.LocalPort == key.LocalPort && c.RemotePort == key.RemotePort &&
		c.LocalAddr.Equal(key.LocalAddr) && c.RemoteAddr.Equal(key.RemoteAddr)
}

// Lookup enumerates socket ownership on the local host.
// Implementations invoke an external mechanism (lsof, /proc) and are
// expected to honour ctx cancellation. An empty candidate list with a
// nil error means no matching sockets were found.
type Lookup interface {
	Owners(ctx context.Context, key LookupKey) ([]Candidate, error)
}
