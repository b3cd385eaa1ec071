// Package pool manages the bounded set of remote sessions one site
// analysis draws its parallel extraction leases from.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/skylens-data/flightpath.report/internal/monitoring"
	"github.com/skylens-data/flightpath.report/internal/remotefs"
	"github.com/skylens-data/flightpath.report/internal/timeutil"
)

var poolLog = monitoring.Prefixed("pool")

// probePath is the cheap metadata target used to decide whether a pooled
// session is still alive.
const probePath = "/"

var (
	// ErrInsufficient reports that fewer sessions than the floor could be
	// opened; the caller should fall back to sequential extraction.
	ErrInsufficient = errors.New("pool: connections below floor")

	// ErrExhausted reports that no free connection became available
	// within the lease timeout.
	ErrExhausted = errors.New("pool: lease timeout")

	// ErrClosed reports use of a pool after Close.
	ErrClosed = errors.New("pool: closed")
)

// Options tunes pool construction and lease behavior. Zero values fall
// back to conservative defaults.
type Options struct {
	// Floor is the minimum sessions New must open to succeed.
	Floor int

	// ConnectTimeout bounds each individual dial.
	ConnectTimeout time.Duration

	// LeaseTimeout bounds how long Lease blocks for a free session.
	LeaseTimeout time.Duration

	// ProbeTimeout bounds each health probe.
	ProbeTimeout time.Duration

	// Clock is used for lease waits; nil means the real clock.
	Clock timeutil.Clock
}

func (o Options) withDefaults() Options {
	if o.Floor <= 0 {
		o.Floor = 5
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.LeaseTimeout <= 0 {
		o.LeaseTimeout = 30 * time.Second
	}
	if o.ProbeTimeout <= 0 {
		o.ProbeTimeout = 5 * time.Second
	}
	if o.Clock == nil {
		o.Clock = timeutil.RealClock{}
	}
	return o
}

// Stats is a point-in-time snapshot for diagnostics.
type Stats struct {
	Size    int `json:"size"`
	Free    int `json:"free"`
	Leased  int `json:"leased"`
	Dropped int `json:"dropped"`
}

// Pool holds the open sessions for one analysis. The free queue is the
// only shared state; a leased session belongs exclusively to one worker
// until released.
type Pool struct {
	opts Options
	free chan remotefs.Session

	mu      sync.Mutex
	size    int
	leased  int
	dropped int
	closed  bool
}

// New dials up to size sessions through dialer. Individual dial failures
// are logged and skipped. If fewer than the floor succeed, everything
// opened is closed again and ErrInsufficient is returned so the batch can
// run sequentially instead.
func New(ctx context.Context, size int, dialer remotefs.Dialer, params remotefs.DialParams, opts Options) (*Pool, error) {
	opts = opts.withDefaults()
	if size < 1 {
		return nil, fmt.Errorf("pool size must be at least 1, got %d", size)
	}

	sessions := make([]remotefs.Session, 0, size)
	for i := 0; i < size; i++ {
		if err := ctx.Err(); err != nil {
			break
		}
		s, err := dialer.Dial(ctx, params, opts.ConnectTimeout)
		if err != nil {
			poolLog("dial %d/%d failed: %v", i+1, size, err)
			continue
		}
		sessions = append(sessions, s)
	}

	if len(sessions) < opts.Floor {
		for _, s := range sessions {
			s.Close()
		}
		return nil, fmt.Errorf("%w: opened %d of %d (floor %d)", ErrInsufficient, len(sessions), size, opts.Floor)
	}

	p := &Pool{
		opts: opts,
		free: make(chan remotefs.Session, size),
		size: len(sessions),
	}
	for _, s := range sessions {
		p.free <- s
	}
	poolLog("created pool of %d/%d sessions", len(sessions), size)
	return p, nil
}

// Lease blocks up to the lease timeout for a free session. The caller
// owns the session exclusively until Release or Discard.
func (p *Pool) Lease(ctx context.Context) (remotefs.Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrClosed
	}
	p.mu.Unlock()

	select {
	case s := <-p.free:
		p.mu.Lock()
		p.leased++
		p.mu.Unlock()
		return s, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-p.opts.Clock.After(p.opts.LeaseTimeout):
		return nil, fmt.Errorf("%w after %s", ErrExhausted, p.opts.LeaseTimeout)
	}
}

// Release returns a leased session to the free queue. It must run even
// when the borrowing task failed; otherwise the pool starves. Releasing
// into a closed pool closes the session instead.
func (p *Pool) Release(s remotefs.Session) {
	if s == nil {
		return
	}

	p.mu.Lock()
	p.leased--
	closed := p.closed
	p.mu.Unlock()

	if closed {
		s.Close()
		return
	}
	p.free <- s
}

// Discard drops a leased session that failed mid-use, shrinking the pool
// instead of returning a corrupted connection to the queue.
func (p *Pool) Discard(s remotefs.Session) {
	if s == nil {
		return
	}

	p.mu.Lock()
	p.leased--
	p.size--
	p.dropped++
	p.mu.Unlock()

	s.Close()
	poolLog("discarded dead session, %d remain", p.Size())
}

// probe checks one session with a short deadline.
func (p *Pool) probe(ctx context.Context, s remotefs.Session) error {
	probeCtx, cancel := context.WithTimeout(ctx, p.opts.ProbeTimeout)
	defer cancel()
	_, err := s.Stat(probeCtx, probePath)
	return err
}

// Verify probes every currently free session, dropping the dead ones, and
// returns how many live sessions remain in the pool. Called before a
// cached pool is reused for another folder.
func (p *Pool) Verify(ctx context.Context) int {
	checked := make([]remotefs.Session, 0, cap(p.free))

	for {
		select {
		case s := <-p.free:
			if err := p.probe(ctx, s); err != nil {
				p.mu.Lock()
				p.size--
				p.dropped++
				p.mu.Unlock()
				s.Close()
				poolLog("probe failed, dropping session: %v", err)
				continue
			}
			checked = append(checked, s)
		default:
			for _, s := range checked {
				p.free <- s
			}
			return p.Size()
		}
	}
}

// Size returns the number of live sessions (free + leased).
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// Stats returns a snapshot for the admin routes.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Size:    p.size,
		Free:    len(p.free),
		Leased:  p.leased,
		Dropped: p.dropped,
	}
}

// Close shuts the pool and closes every free session. Sessions still
// leased are closed as they are released.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	for {
		select {
		case s := <-p.free:
			s.Close()
		default:
			poolLog("pool closed")
			return
		}
	}
}
