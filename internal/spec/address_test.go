package spec

import (
	"net"
	"testing"
)

func TestParsePortValid(t *testing.T) {
	cases := map[string]uint16{
		"1":     1,
		"23":    23,
		"6193":  6193,
		"65535": 65535,
	}
	for in, want := range cases {
		got, err := ParsePort(in)
		if err != nil {
			t.Fatalf("ParsePort(%q) unexpected error: %v", in, err)
		}
		if got != want {
			t.Fatalf("ParsePort(%q)=%d want %d", in, got, want)
		}
	}
}

func TestParsePortInvalid(t *testing.T) {
	cases := []string{
		"", "0", "65536", "99999", "123456", "+23", "-23", " 23", "23 ",
		"2 3", "abc", "0x17", "23.0",
	}
	for _, in := range cases {
		if _, err := ParsePort(in); err == nil {
			t.Fatalf("ParsePort(%q) should have failed", in)
		}
	}
}

func TestParseAddress(t *testing.T) {
	a, err := ParseAddress("127.0.0.1:113")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Host.Equal(net.IPv4(127, 0, 0, 1)) || a.Port != 113 {
		t.Fatalf("unexpected address: %v", a)
	}
	a, err = ParseAddress("[::1]:40000")
	if err != nil {
		t.Fatal(err)
	}
	if !a.Host.Equal(net.IPv6loopback) || a.Port != 40000 {
		t.Fatalf("unexpected address: %v", a)
	}
	for _, bad := range []string{"127.0.0.1", "nothost:113", "1.2.3.4:70000", ""} {
		if _, err := ParseAddress(bad); err == nil {
			t.Fatalf("ParseAddress(%q) should have failed", bad)
		}
	}
}

func TestLookupKeyIsValid(t *testing.T) {
	ip := net.ParseIP("10.0.0.1")
	key := LookupKey{LocalAddr: ip, LocalPort: 113, RemoteAddr: ip, RemotePort: 23}
	if !key.IsValid() {
		t.Fatal("expected valid key")
	}
	if (LookupKey{LocalAddr: ip, RemoteAddr: ip, RemotePort: 23}).IsValid() {
		t.Fatal("zero local port should be invalid")
	}
	if (LookupKey{LocalAddr: ip, LocalPort: 113, RemotePort: 23}).IsValid() {
		t.Fatal("nil remote address should be invalid")
	}
}

func TestCandidateMatches(t *testing.T) {
	key := LookupKey{
		LocalAddr:  net.ParseIP("10.0.0.1"),
		LocalPort:  6193,
		RemoteAddr: net.ParseIP("10.0.0.2"),
		RemotePort: 23,
	}
	c := Candidate{
		User:       "alice",
		LocalAddr:  net.ParseIP("10.0.0.1"),
		LocalPort:  6193,
		RemoteAddr: net.ParseIP("::ffff:10.0.0.2"), // mapped form compares equal
		RemotePort: 23,
	}
	if !c.Matches(key) {
		t.Fatal("expected candidate to match")
	}
	c.LocalPort = 6194
	if c.Matches(key) {
		t.Fatal("different local port should not match")
	}
	c.LocalPort = 6193
	c.RemoteAddr = net.ParseIP("10.0.0.3")
	if c.Matches(key) {
		t.Fatal("different remote address should not match")
	}
}
