package spec

import (
	"errors"
	"net"
	"strconv"
)

// Address is an IP:Port combination.
type Address struct {
	Host net.IP
	Port uint16
}

func (a Address) String() string {
	return net.JoinHostPort(a.Host.String(), strconv.Itoa(int(a.Port)))
}

func (a Address) IsValid() bool {
	return a.Port != 0 && len(a.Host) >= 4
}

func ParseAddress(hostport string) (Address, error) {
	hosts, ports, err := net.SplitHostPort(hostport)
	if err != nil {
		return Address{}, err
	}
	host := net.ParseIP(hosts)
	if host == nil {
		return Address{}, errors.New("bad ip")
	}
	port, err := strconv.Atoi(ports)
	if err != nil {
		return Address{}, err
	}
	if port < 0 || port > 65535 {
		return Address{}, errors.New("range")
	}
	return Address{Host: host, Port: uint16(port)}, nil
}

var ErrBadPort = errors.New("port out of range or malformed")

// ParsePort parses a decimal TCP port in [1,65535].
// Unlike strconv.Atoi it rejects sign characters and whitespace:
// RFC 1413 queries carry bare unsigned decimals only.
func ParsePort(s string) (uint16, error) {
	if len(s) == 0 || len(s) > 5 {
		return 0, ErrBadPort
	}
	var n uint32
	for _, c := range []byte(s) {
		if c < '0' || c > '9' {
			return 0, ErrBadPort
		}
		n = n*10 + uint32(c-'0')
	}
	if n < 1 || n > 65535 {
		return 0, ErrBadPort
	}
	return uint16(n), nil
}

// LookupKey identifies the TCP connection being interrogated.
// Local and remote are relative to the target connection on this host,
// not to the identd control connection.
type LookupKey struct {
	LocalAddr  net.IP
	LocalPort  uint16
	RemoteAddr net.IP
	RemotePort uint16
}

func (k LookupKey) IsValid() bool {
	return k.LocalPort != 0 && k.RemotePort != 0 &&
		len(k.LocalAddr) >= 4 && len(k.RemoteAddr) >= 4
}

func (k LookupKey) String() string {
	local := Address{Host: k.LocalAddr, Port: k.LocalPort}
	remote := Address{Host: k.RemoteAddr, Port: k.RemotePort}
	return local.String() + "->" + remote.String()
}
