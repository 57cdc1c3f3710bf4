package ident

import (
	"fmt"
	"strings"

	"github.com/thombles/whoisit/internal/spec"
)

// maxEchoLen caps how much of an unparsable query we echo back.
const maxEchoLen = 80

// FormatResponse renders one RFC 1413 response line, CR LF terminated.
// A user name that would break the wire grammar (colon, comma, control
// characters) is never emitted; the reply degrades to UNKNOWN-ERROR.
func FormatResponse(q Query, res spec.Result) string {
	if res.OK() {
		if !validUserID(res.User) || !validToken(res.Opsys) {
			res = spec.Failed(spec.UnknownError)
		} else {
			return fmt.Sprintf("%d , %d : USERID : %s : %s\r\n",
				q.ServerPort, q.ClientPort, res.Opsys, res.User)
		}
	}
	return fmt.Sprintf("%d , %d : ERROR : %s\r\n",
		q.ServerPort, q.ClientPort, res.Reason.Token())
}

// FormatInvalid builds the reply for a line the parser rejected,
// echoing the literal port text back when it is safe to do so.
func FormatInvalid(raw string) string {
	echo := sanitizeEcho(raw)
	if echo == "" {
		// nothing recoverable: empty port fields
		return " , : ERROR : UNKNOWN-ERROR\r\n"
	}
	return echo + " : ERROR : INVALID-PORT\r\n"
}

// sanitizeEcho keeps only printable ASCII that cannot be mistaken for
// response field separators, and trims surrounding whitespace.
func sanitizeEcho(raw string) string {
	if len(raw) > maxEchoLen {
		raw = raw[:maxEchoLen]
	}
	var b strings.Builder
	for _, c := range []byte(raw) {
		if c >= 0x20 && c < 0x7f && c != ':' {
			b.WriteByte(c)
		}
	}
	return strings.TrimSpace(b.String())
}

// validUserID accepts user names safe to place in the final response
// field: printable ASCII without the separators RFC 1413 reserves.
func validUserID(user string) bool {
	if user == "" || len(user) > 512 {
		return false
	}
	for _, c := range []byte(user) {
		if c < 0x20 || c >= 0x7f || c == ':' || c == ',' {
			return false
		}
	}
	return true
}

// validToken accepts opsys tags: alphanumerics plus the few symbols
// RFC 1413 allows in an opsys field.
func validToken(tok string) bool {
	if tok == "" || len(tok) > 40 {
		return false
	}
	for _, c := range []byte(tok) {
		switch {
		case c >= 'A' && c <= 'Z':
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-' || c == '.' || c == '/':
		default:
			return false
		}
	}
	return true
}
