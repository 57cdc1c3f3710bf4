package resolver

import (
	"context"
	"net"
	"testing"
)

const sampleOutput = `p1234
Lalice
f7
n10.1.1.1:6193->10.1.1.2:23
p999
Lbob
f12
n[fe80::1]:113->[fe80::2]:40000
n*:22
`

func TestParseLsofOutput(t *testing.T) {
	candidates := parseLsofOutput([]byte(sampleOutput))
	if len(candidates) != 2 {
		t.Fatalf("expected 2 candidates, got %d: %+v", len(candidates), candidates)
	}

	c := candidates[0]
	if c.User != "alice" || c.LocalPort != 6193 || c.RemotePort != 23 {
		t.Fatalf("unexpected first candidate: %+v", c)
	}
	if !c.LocalAddr.Equal(net.ParseIP("10.1.1.1")) || !c.RemoteAddr.Equal(net.ParseIP("10.1.1.2")) {
		t.Fatalf("unexpected first candidate addresses: %+v", c)
	}

	c = candidates[1]
	if c.User != "bob" || c.LocalPort != 113 || c.RemotePort != 40000 {
		t.Fatalf("unexpected second candidate: %+v", c)
	}
	if !c.LocalAddr.Equal(net.ParseIP("fe80::1")) || !c.RemoteAddr.Equal(net.ParseIP("fe80::2")) {
		t.Fatalf("unexpected second candidate addresses: %+v", c)
	}
}

func TestParseLsofOutputEmpty(t *testing.T) {
	if got := parseLsofOutput(nil); len(got) != 0 {
		t.Fatalf("expected no candidates, got %+v", got)
	}
	// connection lines before any L line carry no user and are dropped
	if got := parseLsofOutput([]byte("n10.1.1.1:6193->10.1.1.2:23\n")); len(got) != 0 {
		t.Fatalf("expected no candidates, got %+v", got)
	}
}

func TestLsofTarget(t *testing.T) {
	cases := map[string]string{
		"10.1.1.2":        "4TCP@10.1.1.2:23",
		"::ffff:10.1.1.2": "4TCP@10.1.1.2:23", // mapped v4 unwrapped
		"fe80::2":         "6TCP@[fe80::2]:23",
	}
	for in, want := range cases {
		got := lsofTarget(net.ParseIP(in), 23)
		if got != want {
			t.Fatalf("lsofTarget(%q)=%q want %q", in, got, want)
		}
	}
}

func TestLsofLookupMissingBinary(t *testing.T) {
	l := NewLsofLookup("/nonexistent/lsof")
	_, err := l.Owners(context.Background(), testKey())
	if err == nil {
		t.Fatal("expected an error for a missing binary")
	}
}
