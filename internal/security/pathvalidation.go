// Package security validates externally supplied paths and identifiers
// before they reach the remote filesystem or the local disk.
package security

import (
	"fmt"
	"path"
	"strings"
)

// maxRemotePathLen bounds remote paths accepted from API callers.
const maxRemotePathLen = 1024

// ValidateRemotePath checks that p is a clean absolute POSIX path with no
// traversal components. Remote paths come straight from API callers and
// are rejected rather than normalised: a path that changes under Clean is
// suspicious in itself.
func ValidateRemotePath(p string) error {
	if p == "" {
		return fmt.Errorf("empty path")
	}
	if len(p) > maxRemotePathLen {
		return fmt.Errorf("path exceeds %d bytes", maxRemotePathLen)
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("path contains NUL")
	}
	if !path.IsAbs(p) {
		return fmt.Errorf("path %q is not absolute", p)
	}
	if cleaned := path.Clean(p); cleaned != p {
		return fmt.Errorf("path %q is not in canonical form (did you mean %q?)", p, cleaned)
	}
	return nil
}

// SanitizeFilename makes a safe local filename from an arbitrary
// identifier such as a site id or pilot name. Anything outside ASCII
// letters, digits, dot, underscore or dash becomes a single underscore,
// and the result is trimmed and capped to a reasonable length.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	underscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
			underscore = false
		default:
			if !underscore {
				b.WriteByte('_')
				underscore = true
			}
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
