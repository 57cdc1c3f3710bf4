package resolver

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/thombles/whoisit/internal/spec"
)

type lookupFunc func(ctx context.Context, key spec.LookupKey) ([]spec.Candidate, error)

func (f lookupFunc) Owners(ctx context.Context, key spec.LookupKey) ([]spec.Candidate, error) {
	return f(ctx, key)
}

func testKey() spec.LookupKey {
	return spec.LookupKey{
		LocalAddr:  net.ParseIP("10.0.0.1"),
		LocalPort:  6193,
		RemoteAddr: net.ParseIP("10.0.0.2"),
		RemotePort: 23,
	}
}

func echoCandidate(user string, key spec.LookupKey) spec.Candidate {
	return spec.Candidate{
		User:       user,
		LocalAddr:  key.LocalAddr,
		LocalPort:  key.LocalPort,
		RemoteAddr: key.RemoteAddr,
		RemotePort: key.RemotePort,
	}
}

func TestResolveIdentified(t *testing.T) {
	lookup := lookupFunc(func(ctx context.Context, key spec.LookupKey) ([]spec.Candidate, error) {
		return []spec.Candidate{echoCandidate("alice", key)}, nil
	})
	r := New(lookup, 4, time.Second, "UNIX", nil)
	res := r.Resolve(context.Background(), testKey())
	if !res.OK() || res.User != "alice" || res.Opsys != "UNIX" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestResolveNoUserDeterministic(t *testing.T) {
	lookup := lookupFunc(func(ctx context.Context, key spec.LookupKey) ([]spec.Candidate, error) {
		return nil, nil
	})
	r := New(lookup, 4, time.Second, "UNIX", nil)
	for i := 0; i < 5; i++ {
		res := r.Resolve(context.Background(), testKey())
		if res.Reason != spec.NoUser {
			t.Fatalf("call %d: expected NO-USER, got %+v", i, res)
		}
	}
}

func TestResolveSkipsNonMatching(t *testing.T) {
	lookup := lookupFunc(func(ctx context.Context, key spec.LookupKey) ([]spec.Candidate, error) {
		other := echoCandidate("mallory", key)
		other.LocalPort = 9999
		return []spec.Candidate{other, echoCandidate("alice", key)}, nil
	})
	r := New(lookup, 4, time.Second, "UNIX", nil)
	res := r.Resolve(context.Background(), testKey())
	if res.User != "alice" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestResolveAmbiguityFirstWins(t *testing.T) {
	lookup := lookupFunc(func(ctx context.Context, key spec.LookupKey) ([]spec.Candidate, error) {
		return []spec.Candidate{echoCandidate("alice", key), echoCandidate("bob", key)}, nil
	})
	r := New(lookup, 4, time.Second, "UNIX", nil)
	res := r.Resolve(context.Background(), testKey())
	if !res.OK() || res.User != "alice" {
		t.Fatalf("expected first match to win, got %+v", res)
	}
}

func TestResolveHiddenUser(t *testing.T) {
	lookup := lookupFunc(func(ctx context.Context, key spec.LookupKey) ([]spec.Candidate, error) {
		return []spec.Candidate{echoCandidate("root", key)}, nil
	})
	r := New(lookup, 4, time.Second, "UNIX", []string{"root"})
	res := r.Resolve(context.Background(), testKey())
	if res.Reason != spec.HiddenUser {
		t.Fatalf("expected HIDDEN-USER, got %+v", res)
	}
}

func TestResolveInvalidKey(t *testing.T) {
	called := false
	lookup := lookupFunc(func(ctx context.Context, key spec.LookupKey) ([]spec.Candidate, error) {
		called = true
		return nil, nil
	})
	r := New(lookup, 4, time.Second, "UNIX", nil)
	res := r.Resolve(context.Background(), spec.LookupKey{})
	if res.Reason != spec.InvalidPort {
		t.Fatalf("expected INVALID-PORT, got %+v", res)
	}
	if called {
		t.Fatal("lookup should not run for an invalid key")
	}
}

func TestResolveLookupTimeout(t *testing.T) {
	lookup := lookupFunc(func(ctx context.Context, key spec.LookupKey) ([]spec.Candidate, error) {
		<-ctx.Done() // hung collaborator
		return nil, ctx.Err()
	})
	r := New(lookup, 4, 100*time.Millisecond, "UNIX", nil)
	start := time.Now()
	res := r.Resolve(context.Background(), testKey())
	elapsed := time.Since(start)
	if res.Reason != spec.UnknownError {
		t.Fatalf("expected UNKNOWN-ERROR, got %+v", res)
	}
	if elapsed > 2*time.Second {
		t.Fatalf("resolver did not honour its deadline: took %v", elapsed)
	}
}

func TestResolveConcurrencyBound(t *testing.T) {
	const limit = 4
	const queries = 32
	var current, peak int64
	lookup := lookupFunc(func(ctx context.Context, key spec.LookupKey) ([]spec.Candidate, error) {
		n := atomic.AddInt64(&current, 1)
		for {
			p := atomic.LoadInt64(&peak)
			if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt64(&current, -1)
		return []spec.Candidate{echoCandidate("alice", key)}, nil
	})
	r := New(lookup, limit, time.Second, "UNIX", nil)

	var wg sync.WaitGroup
	for i := 0; i < queries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if res := r.Resolve(context.Background(), testKey()); !res.OK() {
				t.Errorf("unexpected failure: %+v", res)
			}
		}()
	}
	wg.Wait()
	if p := atomic.LoadInt64(&peak); p > limit {
		t.Fatalf("observed %d concurrent lookups, limit is %d", p, limit)
	}
}

func TestResolveSaturatedGateDegrades(t *testing.T) {
	release := make(chan struct{})
	lookup := lookupFunc(func(ctx context.Context, key spec.LookupKey) ([]spec.Candidate, error) {
		<-release
		return nil, nil
	})
	r := New(lookup, 1, time.Minute, "UNIX", nil)

	started := make(chan struct{})
	go func() {
		close(started)
		r.Resolve(context.Background(), testKey())
	}()
	<-started
	time.Sleep(50 * time.Millisecond) // let the first call take the slot

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	res := r.Resolve(ctx, testKey())
	close(release)
	if res.Reason != spec.UnknownError {
		t.Fatalf("saturated resolver should degrade to UNKNOWN-ERROR, got %+v", res)
	}
}
