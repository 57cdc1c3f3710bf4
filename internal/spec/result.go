package spec

// Reason classifies a failed identity resolution.
// The values correspond one-to-one with RFC 1413 error tokens.
type Reason int

const (
	ReasonNone Reason = iota
	InvalidPort
	NoUser
	HiddenUser
	UnknownError
)

// Token returns the RFC 1413 wire token for the reason.
func (r Reason) Token() string {
	switch r {
	case InvalidPort:
		return "INVALID-PORT"
	case NoUser:
		return "NO-USER"
	case HiddenUser:
		return "HIDDEN-USER"
	default:
		return "UNKNOWN-ERROR"
	}
}

// Result is the outcome of one identity resolution: either an
// identified user plus opsys tag, or a failure reason.
type Result struct {
	User   string
	Opsys  string
	Reason Reason
}

func Identified(user string, opsys string) Result {
	return Result{User: user, Opsys: opsys}
}

func Failed(reason Reason) Result {
	return Result{Reason: reason}
}

func (r Result) OK() bool {
	return r.Reason == ReasonNone
}
