package sshconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/skylens-data/flightpath.report/internal/remotefs"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config fixture: %v", err)
	}
	return path
}

func TestResolveFrom_Match(t *testing.T) {
	path := writeConfig(t, `# fleet NAS boxes

Host nas
	HostName nas.example.com
	User jsmith
	Port 2022
	IdentityFile ~/.ssh/id_ed25519

Host other
	HostName other.example.com
`)

	entry, err := ResolveFrom("nas", path)
	if err != nil {
		t.Fatalf("ResolveFrom failed: %v", err)
	}
	if entry == nil {
		t.Fatal("expected a match for nas")
	}
	if entry.HostName != "nas.example.com" {
		t.Errorf("HostName = %q, want nas.example.com", entry.HostName)
	}
	if entry.User != "jsmith" {
		t.Errorf("User = %q, want jsmith", entry.User)
	}
	if entry.Port != 2022 {
		t.Errorf("Port = %d, want 2022", entry.Port)
	}
}

func TestResolveFrom_BlockTermination(t *testing.T) {
	path := writeConfig(t, `Host nas
	HostName nas.example.com

Host trailing
	HostName wrong.example.com
	User wronguser
	Port 9999
`)

	entry, err := ResolveFrom("nas", path)
	if err != nil {
		t.Fatalf("ResolveFrom failed: %v", err)
	}
	if entry == nil {
		t.Fatal("expected a match for nas")
	}
	if entry.HostName != "nas.example.com" {
		t.Errorf("HostName = %q, want nas.example.com", entry.HostName)
	}
	if entry.User != "" || entry.Port != 0 {
		t.Errorf("directives leaked from the following block: %+v", entry)
	}
}

func TestResolveFrom_NoMatch(t *testing.T) {
	path := writeConfig(t, `Host other
	HostName other.example.com
`)

	entry, err := ResolveFrom("nas", path)
	if err != nil {
		t.Fatalf("ResolveFrom failed: %v", err)
	}
	if entry != nil {
		t.Errorf("expected nil for unmatched host, got %+v", entry)
	}
}

func TestResolveFrom_MissingFile(t *testing.T) {
	entry, err := ResolveFrom("nas", filepath.Join(t.TempDir(), "nonexistent"))
	if err != nil {
		t.Fatalf("expected missing file to resolve to nil, got error: %v", err)
	}
	if entry != nil {
		t.Errorf("expected nil for missing file, got %+v", entry)
	}
}

func TestResolveFrom_BadPort(t *testing.T) {
	path := writeConfig(t, `Host nas
	Port twentytwo
`)

	if _, err := ResolveFrom("nas", path); err == nil {
		t.Error("expected error for non-numeric port")
	}
}

func TestApply(t *testing.T) {
	tests := []struct {
		name   string
		entry  *Entry
		params remotefs.DialParams
		want   remotefs.DialParams
	}{
		{
			name:   "fills gaps",
			entry:  &Entry{HostName: "nas.example.com", User: "jsmith", Port: 2022},
			params: remotefs.DialParams{Host: "nas"},
			want:   remotefs.DialParams{Host: "nas.example.com", Username: "jsmith", Port: 2022},
		},
		{
			name:   "caller flags win for user and port",
			entry:  &Entry{HostName: "nas.example.com", User: "jsmith", Port: 2022},
			params: remotefs.DialParams{Host: "nas", Username: "pilot", Port: 2222},
			want:   remotefs.DialParams{Host: "nas.example.com", Username: "pilot", Port: 2222},
		},
		{
			name:   "hostname always replaces the alias",
			entry:  &Entry{HostName: "nas.example.com"},
			params: remotefs.DialParams{Host: "nas", Username: "pilot", Port: 22},
			want:   remotefs.DialParams{Host: "nas.example.com", Username: "pilot", Port: 22},
		},
		{
			name:   "nil entry is a no-op",
			entry:  nil,
			params: remotefs.DialParams{Host: "nas", Username: "pilot"},
			want:   remotefs.DialParams{Host: "nas", Username: "pilot"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.entry.Apply(tc.params); got != tc.want {
				t.Errorf("Apply() = %+v, want %+v", got, tc.want)
			}
		})
	}
}

func TestSplitTarget(t *testing.T) {
	tests := []struct {
		target string
		user   string
		host   string
	}{
		{"pilot@nas", "pilot", "nas"},
		{"nas", "", "nas"},
		{"pilot@nas.example.com", "pilot", "nas.example.com"},
		{"a@b@c", "a", "b@c"},
	}

	for _, tc := range tests {
		t.Run(tc.target, func(t *testing.T) {
			user, host := SplitTarget(tc.target)
			if user != tc.user || host != tc.host {
				t.Errorf("SplitTarget(%q) = (%q, %q), want (%q, %q)",
					tc.target, user, host, tc.user, tc.host)
			}
		})
	}
}
