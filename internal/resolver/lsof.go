package resolver

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"

	"github.com/thombles/whoisit/internal/spec"
)

const DefaultLsofPath = "lsof"

// LsofLookup finds socket owners by running lsof against the remote
// endpoint of the connection being interrogated. The field output
// requested with -F carries one prefixed value per line: L is the
// owning login, n is the connection name ("local->remote").
type LsofLookup struct {
	Path string
}

func NewLsofLookup(path string) *LsofLookup {
	if path == "" {
		path = DefaultLsofPath
	}
	return &LsofLookup{Path: path}
}

func (l *LsofLookup) Owners(ctx context.Context, key spec.LookupKey) ([]spec.Candidate, error) {
	cmd := exec.CommandContext(ctx, l.Path,
		"-i", lsofTarget(key.RemoteAddr, key.RemotePort),
		"-n", "-P", "-F", "Ln")
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("lsof: %w", ctx.Err())
		}
		// lsof exits 1 with no output when nothing matched
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && len(out) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("lsof: %w", err)
	}
	return parseLsofOutput(out), nil
}

// lsofTarget builds the -i argument selecting all sockets connected to
// the given remote endpoint. IPv6-mapped IPv4 addresses are queried in
// their IPv4 form, matching the address family the kernel reports.
func lsofTarget(remote net.IP, port uint16) string {
	if ip4 := remote.To4(); ip4 != nil {
		return fmt.Sprintf("4TCP@%s:%d", ip4, port)
	}
	return fmt.Sprintf("6TCP@[%s]:%d", remote, port)
}

// parseLsofOutput scans -F Ln field output. An L line names the login
// for the process set that follows; each n line containing "->" is one
// established connection owned by that login. Listener entries (no
// "->") and field prefixes we did not ask about are skipped.
func parseLsofOutput(out []byte) []spec.Candidate {
	var candidates []spec.Candidate
	var user string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		line := scanner.Text()
		if len(line) < 2 {
			continue
		}
		switch line[0] {
		case 'L':
			user = strings.TrimSpace(line[1:])
		case 'n':
			local, remote, found := strings.Cut(line[1:], "->")
			if !found || user == "" {
				continue
			}
			la, err1 := spec.ParseAddress(local)
			ra, err2 := spec.ParseAddress(remote)
			if err1 != nil || err2 != nil {
				continue
			}
			candidates = append(candidates, spec.Candidate{
				User:       user,
				LocalAddr:  la.Host,
				LocalPort:  la.Port,
				RemoteAddr: ra.Host,
				RemotePort: ra.Port,
			})
		}
	}
	return candidates
}
