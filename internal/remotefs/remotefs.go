// Package remotefs abstracts the file-transfer session the engine reads
// photo collections through. The production implementation speaks SFTP;
// tests use MemorySession. Every operation takes a context so callers can
// impose per-call timeouts on a remote side that may stop responding.
package remotefs

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors surfaced by Session implementations.
var (
	// ErrNotExist reports that the remote path does not exist.
	ErrNotExist = errors.New("remotefs: path does not exist")

	// ErrClosed reports use of a session after Close.
	ErrClosed = errors.New("remotefs: session closed")
)

// DefaultPort is the standard SFTP port, used when dial parameters
// leave the port unset.
const DefaultPort = 22

// EntryType distinguishes files from directories in listings.
type EntryType string

const (
	// EntryFile is a regular file.
	EntryFile EntryType = "file"
	// EntryDir is a directory.
	EntryDir EntryType = "directory"
)

// Entry is one row of a directory listing.
type Entry struct {
	Name    string    `json:"name"`
	Type    EntryType `json:"type"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modified_time"`
}

// IsDir reports whether the entry is a directory.
func (e Entry) IsDir() bool { return e.Type == EntryDir }

// Session is one open connection to the remote collection. A session is
// used by at most one worker at a time; it is not safe for concurrent use.
// Liveness is discovered by probing (Stat on a known path), never assumed.
type Session interface {
	// Stat returns the entry for path, or ErrNotExist.
	Stat(ctx context.Context, path string) (Entry, error)

	// List enumerates the immediate children of path. Dotfiles are
	// omitted. Listing a nonexistent path returns ErrNotExist.
	List(ctx context.Context, path string) ([]Entry, error)

	// ReadPrefix returns up to maxBytes from the start of the file at
	// path. A file shorter than maxBytes yields its full contents.
	ReadPrefix(ctx context.Context, path string, maxBytes int) ([]byte, error)

	// Close releases the connection. Safe to call more than once.
	Close() error
}

// DialParams identifies one remote endpoint and credential set.
type DialParams struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Secret   string `json:"-"`
}

// Addr returns the host:port dial address.
func (p DialParams) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Dialer opens sessions. The pool creates its connections through one of
// these so tests can substitute scripted sessions.
type Dialer interface {
	Dial(ctx context.Context, params DialParams, timeout time.Duration) (Session, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, params DialParams, timeout time.Duration) (Session, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context, params DialParams, timeout time.Duration) (Session, error) {
	return f(ctx, params, timeout)
}
