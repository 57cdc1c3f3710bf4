package ident

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/thombles/whoisit/internal/spec"
)

// MaxQueryLine is the longest request line we will read. A normal
// query is under 16 bytes; anything near the cap is abuse.
const MaxQueryLine = 1000

var errLineTooLong = errors.New("query line exceeds maximum length")

// serveConn owns one accepted connection: read a single query line,
// resolve it, write exactly one response, close. The whole exchange
// runs under one absolute deadline set at accept time.
// goroutine
func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	defer s.closeConn(conn)
	liveConns.Inc(1)
	defer liveConns.Dec(1)

	deadline := time.Now().Add(s.timeout)
	conn.SetDeadline(deadline)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	raw, err := readQueryLine(conn)
	if err != nil {
		if errors.Is(err, errLineTooLong) {
			// abuse: answer once, then hang up
			writeLine(conn, FormatInvalid(""))
		}
		return
	}
	queriesTotal.Inc(1)

	q, err := ParseQuery(raw)
	if err != nil {
		queriesFailed.Inc(1)
		writeLine(conn, FormatInvalid(raw))
		s.record(conn, Query{}, spec.Failed(spec.InvalidPort))
		return
	}

	key, err := lookupKeyFor(conn, q)
	var res spec.Result
	if err != nil {
		logrus.WithError(err).Warn("cannot derive lookup key from connection")
		res = spec.Failed(spec.UnknownError)
	} else {
		start := time.Now()
		res = s.resolver.Resolve(ctx, key)
		resolveTimer.UpdateSince(start)
	}
	if res.OK() && !validUserID(res.User) {
		logrus.WithField("user", res.User).Warn("resolved user name unsafe for wire format")
		res = spec.Failed(spec.UnknownError)
	}
	if !res.OK() {
		queriesFailed.Inc(1)
	}
	writeLine(conn, FormatResponse(q, res))
	s.record(conn, q, res)
}

// lookupKeyFor derives the 4-tuple of the target connection: the
// control connection's own addresses name the two hosts, the query
// names the two ports (RFC 1413 §4).
func lookupKeyFor(conn net.Conn, q Query) (spec.LookupKey, error) {
	local, err := spec.ParseAddress(conn.LocalAddr().String())
	if err != nil {
		return spec.LookupKey{}, err
	}
	remote, err := spec.ParseAddress(conn.RemoteAddr().String())
	if err != nil {
		return spec.LookupKey{}, err
	}
	return spec.LookupKey{
		LocalAddr:  local.Host,
		LocalPort:  q.ServerPort,
		RemoteAddr: remote.Host,
		RemotePort: q.ClientPort,
	}, nil
}

// readQueryLine reads one CR LF terminated line (bare LF tolerated).
// Reading stops at MaxQueryLine bytes: past that the peer is not
// speaking the protocol.
func readQueryLine(conn net.Conn) (string, error) {
	r := bufio.NewReaderSize(io.LimitReader(conn, MaxQueryLine+1), 256)
	line, err := r.ReadString('\n')
	if err != nil {
		if len(line) > MaxQueryLine {
			return "", errLineTooLong
		}
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// writeLine sends a response; a write failure or peer disconnect is
// not retried, the connection is torn down by the caller either way.
func writeLine(conn net.Conn, line string) {
	if _, err := conn.Write([]byte(line)); err != nil {
		logrus.WithError(err).Debug("cannot write response")
	}
}

func (s *Server) record(conn net.Conn, q Query, res spec.Result) {
	if s.recorder == nil {
		return
	}
	rec := spec.QueryRecord{
		Time:       time.Now().Unix(),
		RemoteAddr: conn.RemoteAddr().String(),
		ServerPort: q.ServerPort,
		ClientPort: q.ClientPort,
		Status:     "USERID",
		UserName:   res.User,
	}
	if !res.OK() {
		rec.Status = res.Reason.Token()
		rec.UserName = ""
	}
	s.recorder.Record(rec)
}
