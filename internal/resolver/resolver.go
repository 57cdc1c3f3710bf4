package resolver

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/thombles/whoisit/internal/spec"
)

const DefaultConcurrency = 8
const DefaultTimeout = 10 * time.Second

// Resolver answers "which local user owns this TCP connection" by
// invoking an ownership Lookup under a fixed-size concurrency gate.
// Every call re-resolves: connection ownership can change between
// queries, so caching would return stale identity assertions.
type Resolver struct {
	lookup  spec.Lookup
	slots   chan struct{} // gate on concurrent Lookup invocations
	timeout time.Duration // per-invocation deadline, < connection deadline
	opsys   string
	hidden  map[string]bool
}

func New(lookup spec.Lookup, concurrency int, timeout time.Duration, opsys string, hidden []string) *Resolver {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	h := make(map[string]bool, len(hidden))
	for _, u := range hidden {
		h[u] = true
	}
	return &Resolver{
		lookup:  lookup,
		slots:   make(chan struct{}, concurrency),
		timeout: timeout,
		opsys:   opsys,
		hidden:  h,
	}
}

// Resolve maps a lookup key to a Result. It never returns an internal
// error: every failure is folded into one of the four RFC 1413 reasons.
// Waiting for a gate slot respects ctx, so a saturated resolver degrades
// to UNKNOWN-ERROR instead of queueing without bound.
func (r *Resolver) Resolve(ctx context.Context, key spec.LookupKey) spec.Result {
	if !key.IsValid() {
		return spec.Failed(spec.InvalidPort)
	}
	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		logrus.WithField("key", key.String()).Debug("resolver saturated, giving up")
		return spec.Failed(spec.UnknownError)
	}
	defer func() { <-r.slots }()

	cctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	candidates, err := r.lookup.Owners(cctx, key)
	if err != nil {
		logrus.WithError(err).WithField("key", key.String()).Warn("ownership lookup failed")
		return spec.Failed(spec.UnknownError)
	}
	for _, c := range candidates {
		if !c.Matches(key) {
			continue
		}
		// multiple matching users is expected ambiguity; first wins
		if r.hidden[c.User] {
			return spec.Failed(spec.HiddenUser)
		}
		return spec.Identified(c.User, r.opsys)
	}
	return spec.Failed(spec.NoUser)
}
