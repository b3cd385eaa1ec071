package remotefs

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemorySession is an in-memory Session for testing. It records every call,
// supports per-path scripted errors and latencies, and tracks close state so
// tests can assert lease hygiene.
//
// Unlike production sessions it is safe for concurrent use, since tests
// routinely share one fixture across scheduler workers.
type MemorySession struct {
	mu    sync.Mutex
	files map[string]memEntry
	dirs  map[string]bool

	// Calls records operations in order as "op:path" strings.
	Calls []string

	// StatErrors, ListErrors and ReadErrors script a per-path failure.
	// The error is returned every time the path is hit.
	StatErrors map[string]error
	ListErrors map[string]error
	ReadErrors map[string]error

	// Delays stalls an operation on the given path, honoring context
	// cancellation. Used to provoke item and batch timeouts.
	Delays map[string]time.Duration

	closed     bool
	closeCount int
}

type memEntry struct {
	data    []byte
	modTime time.Time
}

// NewMemorySession creates an empty in-memory session.
func NewMemorySession() *MemorySession {
	return &MemorySession{
		files:      make(map[string]memEntry),
		dirs:       map[string]bool{"/": true},
		StatErrors: make(map[string]error),
		ListErrors: make(map[string]error),
		ReadErrors: make(map[string]error),
		Delays:     make(map[string]time.Duration),
	}
}

// AddFile stores a file and creates its parent directories.
func (m *MemorySession) AddFile(p string, data []byte, modTime time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p = path.Clean(p)
	m.files[p] = memEntry{data: data, modTime: modTime}
	for dir := path.Dir(p); dir != "/" && dir != "."; dir = path.Dir(dir) {
		m.dirs[dir] = true
	}
}

// AddDir creates a directory and its parents.
func (m *MemorySession) AddDir(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p = path.Clean(p)
	for ; p != "/" && p != "."; p = path.Dir(p) {
		m.dirs[p] = true
	}
}

func (m *MemorySession) record(op, p string) {
	m.Calls = append(m.Calls, op+":"+p)
}

// delay blocks for any scripted delay on p, or until ctx expires.
func (m *MemorySession) delay(ctx context.Context, p string) error {
	m.mu.Lock()
	d := m.Delays[p]
	m.mu.Unlock()
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Stat returns the entry for p or a scripted error.
func (m *MemorySession) Stat(ctx context.Context, p string) (Entry, error) {
	if err := m.delay(ctx, p); err != nil {
		return Entry{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("stat", p)
	if m.closed {
		return Entry{}, ErrClosed
	}
	if err := m.StatErrors[p]; err != nil {
		return Entry{}, err
	}

	p = path.Clean(p)
	if m.dirs[p] {
		return Entry{Name: path.Base(p), Type: EntryDir}, nil
	}
	if f, ok := m.files[p]; ok {
		return Entry{Name: path.Base(p), Type: EntryFile, Size: int64(len(f.data)), ModTime: f.modTime}, nil
	}
	return Entry{}, fmt.Errorf("stat %s: %w", p, ErrNotExist)
}

// List enumerates immediate children of p, skipping dotfiles.
func (m *MemorySession) List(ctx context.Context, p string) ([]Entry, error) {
	if err := m.delay(ctx, p); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("list", p)
	if m.closed {
		return nil, ErrClosed
	}
	if err := m.ListErrors[p]; err != nil {
		return nil, err
	}

	p = path.Clean(p)
	if !m.dirs[p] {
		return nil, fmt.Errorf("list %s: %w", p, ErrNotExist)
	}

	var entries []Entry
	for f, e := range m.files {
		if path.Dir(f) == p && !strings.HasPrefix(path.Base(f), ".") {
			entries = append(entries, Entry{
				Name:    path.Base(f),
				Type:    EntryFile,
				Size:    int64(len(e.data)),
				ModTime: e.modTime,
			})
		}
	}
	for d := range m.dirs {
		if d != "/" && path.Dir(d) == p && !strings.HasPrefix(path.Base(d), ".") {
			entries = append(entries, Entry{Name: path.Base(d), Type: EntryDir})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// ReadPrefix returns up to maxBytes of the file at p.
func (m *MemorySession) ReadPrefix(ctx context.Context, p string, maxBytes int) ([]byte, error) {
	if err := m.delay(ctx, p); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.record("read", p)
	if m.closed {
		return nil, ErrClosed
	}
	if err := m.ReadErrors[p]; err != nil {
		return nil, err
	}

	p = path.Clean(p)
	f, ok := m.files[p]
	if !ok {
		return nil, fmt.Errorf("read %s: %w", p, ErrNotExist)
	}
	if len(f.data) <= maxBytes {
		out := make([]byte, len(f.data))
		copy(out, f.data)
		return out, nil
	}
	out := make([]byte, maxBytes)
	copy(out, f.data[:maxBytes])
	return out, nil
}

// Close marks the session closed. Subsequent operations return ErrClosed.
func (m *MemorySession) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.closeCount++
	return nil
}

// Closed reports whether Close has been called.
func (m *MemorySession) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// CloseCount returns how many times Close was called.
func (m *MemorySession) CloseCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCount
}

// CallCount returns the number of recorded operations matching op ("stat",
// "list", "read"), or all operations when op is empty.
func (m *MemorySession) CallCount(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if op == "" {
		return len(m.Calls)
	}
	n := 0
	for _, c := range m.Calls {
		if strings.HasPrefix(c, op+":") {
			n++
		}
	}
	return n
}

// MockDialer hands out sessions from a scripted queue. Once the queue is
// exhausted it falls back to Default (or an error if Default is nil).
type MockDialer struct {
	mu sync.Mutex

	// Queue of outcomes consumed one per Dial call.
	Outcomes []DialOutcome

	// Default is used after Outcomes is exhausted.
	Default func() (Session, error)

	// DialCount is the total number of Dial calls observed.
	DialCount int
}

// DialOutcome is one scripted Dial result.
type DialOutcome struct {
	Session Session
	Err     error
}

// Dial pops the next scripted outcome.
func (d *MockDialer) Dial(ctx context.Context, params DialParams, timeout time.Duration) (Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.DialCount++
	if len(d.Outcomes) > 0 {
		out := d.Outcomes[0]
		d.Outcomes = d.Outcomes[1:]
		return out.Session, out.Err
	}
	if d.Default != nil {
		return d.Default()
	}
	return nil, fmt.Errorf("mock dialer: no outcome scripted for dial %d", d.DialCount)
}
