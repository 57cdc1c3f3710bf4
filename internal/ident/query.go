package ident

import (
	"errors"
	"strings"

	"github.com/thombles/whoisit/internal/spec"
)

// ErrInvalidPort covers every way a query line can fail to parse:
// the peer is told INVALID-PORT regardless of which rule it broke.
var ErrInvalidPort = errors.New("invalid port specification in query")

// Query is the port pair named by one request line.
// ServerPort is the local port of the connection being asked about;
// ClientPort is the remote host's port. The two are purely positional.
type Query struct {
	ServerPort uint16
	ClientPort uint16
}

// ParseQuery parses a request line already stripped of its terminator:
// <server-port> , <client-port>, whitespace insignificant, with an
// optional trailing comment after the second port.
func ParseQuery(line string) (Query, error) {
	server, rest, found := strings.Cut(line, ",")
	if !found || strings.Contains(rest, ",") {
		return Query{}, ErrInvalidPort
	}
	sp, err := spec.ParsePort(strings.TrimSpace(server))
	if err != nil {
		return Query{}, ErrInvalidPort
	}
	client := strings.TrimSpace(rest)
	if i := strings.IndexAny(client, " \t"); i >= 0 {
		client = client[:i] // remainder is a comment
	}
	cp, err := spec.ParsePort(client)
	if err != nil {
		return Query{}, ErrInvalidPort
	}
	return Query{ServerPort: sp, ClientPort: cp}, nil
}
