// Package sshconfig resolves dial parameters for a host alias from an
// OpenSSH client configuration file. Only the directives the SFTP dialer
// can act on are read: HostName, User, and Port. Key-based directives are
// ignored because sessions authenticate with a password.
package sshconfig

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/skylens-data/flightpath.report/internal/remotefs"
)

// Entry holds the directives found for one Host block.
type Entry struct {
	Host     string
	HostName string
	User     string
	Port     int
}

// Resolve looks up host in ~/.ssh/config. A missing file or an unmatched
// host returns nil without error.
func Resolve(host string) (*Entry, error) {
	return ResolveFrom(host, "")
}

// ResolveFrom looks up host in the config file at path. An empty path
// means ~/.ssh/config.
func ResolveFrom(host, path string) (*Entry, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("locating home directory: %w", err)
		}
		path = filepath.Join(home, ".ssh", "config")
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening ssh config: %w", err)
	}
	defer file.Close()

	return parse(host, file)
}

// parse scans for the Host block whose pattern matches host exactly and
// collects its directives. The block ends at the next Host line.
func parse(host string, r io.Reader) (*Entry, error) {
	entry := &Entry{Host: host}
	inMatch := false
	found := false

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Fields(line)
		if len(parts) < 2 {
			continue
		}

		keyword := strings.ToLower(parts[0])
		value := strings.Join(parts[1:], " ")

		switch keyword {
		case "host":
			if inMatch {
				return entry, nil
			}
			inMatch = parts[1] == host
			if inMatch {
				found = true
			}

		case "hostname":
			if inMatch {
				entry.HostName = value
			}

		case "user":
			if inMatch {
				entry.User = value
			}

		case "port":
			if inMatch {
				port, err := strconv.Atoi(value)
				if err != nil {
					return nil, fmt.Errorf("ssh config: bad port %q for host %s", value, host)
				}
				entry.Port = port
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading ssh config: %w", err)
	}

	if !found {
		return nil, nil
	}
	return entry, nil
}

// Apply overlays the entry onto params. HostName replaces the host when
// set; User and Port only fill gaps the caller left. A nil entry returns
// params unchanged, so callers can apply an unmatched lookup directly.
func (e *Entry) Apply(params remotefs.DialParams) remotefs.DialParams {
	if e == nil {
		return params
	}
	if e.HostName != "" {
		params.Host = e.HostName
	}
	if e.User != "" && params.Username == "" {
		params.Username = e.User
	}
	if e.Port != 0 && params.Port <= 0 {
		params.Port = e.Port
	}
	return params
}

// SplitTarget splits a user@host target. A target without @ yields an
// empty user.
func SplitTarget(target string) (user, host string) {
	if i := strings.Index(target, "@"); i >= 0 {
		return target[:i], target[i+1:]
	}
	return "", target
}
