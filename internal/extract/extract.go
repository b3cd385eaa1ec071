// Package extract schedules metadata extraction across pooled remote
// sessions.
//
// A batch of work items is fanned out over a fixed set of worker
// goroutines sized from the batch, each worker leasing a session per item.
// Timeouts are layered: every item gets its own budget, and the batch as a
// whole has a deadline past which outstanding items are abandoned and the
// partial results returned. Small batches skip the fan-out entirely and
// run on a single leased session.
package extract

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/skylens-data/flightpath.report/internal/config"
	"github.com/skylens-data/flightpath.report/internal/exif"
	"github.com/skylens-data/flightpath.report/internal/monitoring"
	"github.com/skylens-data/flightpath.report/internal/pool"
	"github.com/skylens-data/flightpath.report/internal/remotefs"
)

var extractLog = monitoring.Prefixed("extract")

// Status classifies the outcome of one work item.
type Status string

const (
	// StatusOK means geotag metadata was recovered.
	StatusOK Status = "ok"

	// StatusNoData means the image was read but carries no usable
	// geotag. Counted toward image totals, not position totals.
	StatusNoData Status = "no-data"

	// StatusTimeout means the item exceeded its time budget and was
	// abandoned without aborting the batch.
	StatusTimeout Status = "timeout"

	// StatusError covers read and lease failures.
	StatusError Status = "error"
)

// Item is one unit of extraction work.
type Item struct {
	Folder string `json:"folder"`
	Path   string `json:"path"`
}

// Result is the recorded outcome of one item. Metadata is set only for
// StatusOK.
type Result struct {
	Item     Item           `json:"item"`
	Status   Status         `json:"status"`
	Metadata *exif.Metadata `json:"metadata,omitempty"`
	Err      error          `json:"-"`
}

// Leaser is the slice of the connection pool the scheduler needs.
type Leaser interface {
	Lease(ctx context.Context) (remotefs.Session, error)
	Release(s remotefs.Session)
	Discard(s remotefs.Session)
}

// Options tune the scheduler. Zero fields take the engine defaults.
type Options struct {
	WorkerDivisor       int
	MinWorkers          int
	MaxWorkers          int
	SequentialThreshold int
	ItemTimeout         time.Duration
	BatchTimeout        time.Duration
	PrefixBytes         int
	AltitudeSources     []string
}

func (o Options) withDefaults() Options {
	if o.WorkerDivisor <= 0 {
		o.WorkerDivisor = 10
	}
	if o.MinWorkers <= 0 {
		o.MinWorkers = 10
	}
	if o.MaxWorkers <= 0 {
		o.MaxWorkers = 20
	}
	if o.SequentialThreshold <= 0 {
		o.SequentialThreshold = 5
	}
	if o.ItemTimeout <= 0 {
		o.ItemTimeout = 30 * time.Second
	}
	if o.BatchTimeout <= 0 {
		o.BatchTimeout = 300 * time.Second
	}
	if o.PrefixBytes <= 0 {
		o.PrefixBytes = 32 * 1024
	}
	if len(o.AltitudeSources) == 0 {
		o.AltitudeSources = []string{exif.SourceXMPRelative, exif.SourceGPSAltitude}
	}
	return o
}

// OptionsFrom builds scheduler options from engine configuration.
func OptionsFrom(cfg *config.EngineConfig) Options {
	return Options{
		WorkerDivisor:       cfg.GetWorkerDivisor(),
		MinWorkers:          cfg.GetMinWorkers(),
		MaxWorkers:          cfg.GetMaxWorkers(),
		SequentialThreshold: cfg.GetSequentialThreshold(),
		ItemTimeout:         cfg.GetItemTimeout(),
		BatchTimeout:        cfg.GetBatchTimeout(),
		PrefixBytes:         cfg.GetPrefixReadBytes(),
		AltitudeSources:     cfg.GetAltitudeSources(),
	}
}

// WorkerCountFor returns the fan-out for a batch of batchSize items:
// batchSize/divisor clamped to [min, max].
func WorkerCountFor(batchSize, divisor, min, max int) int {
	if divisor < 1 {
		divisor = 1
	}
	w := batchSize / divisor
	if w < min {
		w = min
	}
	if w > max {
		w = max
	}
	return w
}

// Schedule runs the batch against pooled sessions and returns the results
// unordered. Items still outstanding when the batch deadline passes are
// absent from the returned slice.
func Schedule(ctx context.Context, leaser Leaser, items []Item, opts Options) []Result {
	opts = opts.withDefaults()
	if len(items) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, opts.BatchTimeout)
	defer cancel()

	if len(items) < opts.SequentialThreshold {
		extractLog("batch of %d below threshold %d, running sequentially",
			len(items), opts.SequentialThreshold)
		return scheduleSmall(ctx, leaser, items, opts)
	}

	workers := WorkerCountFor(len(items), opts.WorkerDivisor, opts.MinWorkers, opts.MaxWorkers)
	extractLog("dispatching %d items across %d workers", len(items), workers)

	work := make(chan Item, len(items))
	for _, it := range items {
		work <- it
	}
	close(work)

	out := make(chan Result, len(items))
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if ctx.Err() != nil {
					return
				}
				select {
				case <-ctx.Done():
					return
				case it, ok := <-work:
					if !ok {
						return
					}
					out <- processItem(ctx, leaser, it, opts)
				}
			}
		}()
	}
	wg.Wait()
	close(out)

	// Items whose lease timed out get one sequential retry on a single
	// session, so a shrunken pool degrades to slower completion instead
	// of dropped items.
	results := make([]Result, 0, len(items))
	var retryItems []Item
	var retryResults []Result
	for r := range out {
		if r.Status == StatusError && errors.Is(r.Err, pool.ErrExhausted) {
			retryItems = append(retryItems, r.Item)
			retryResults = append(retryResults, r)
			continue
		}
		results = append(results, r)
	}
	if len(retryItems) > 0 {
		if ctx.Err() == nil {
			extractLog("pool exhausted for %d items, retrying sequentially", len(retryItems))
			results = append(results, scheduleSmall(ctx, leaser, retryItems, opts)...)
		} else {
			results = append(results, retryResults...)
		}
	}

	if len(results) < len(items) {
		extractLog("batch deadline passed with %d of %d items outstanding",
			len(items)-len(results), len(items))
	}
	return results
}

// ScheduleSequential processes items one at a time over a single session,
// the fallback when pooled capacity is unavailable.
func ScheduleSequential(ctx context.Context, sess remotefs.Session, items []Item, opts Options) []Result {
	opts = opts.withDefaults()
	ctx, cancel := context.WithTimeout(ctx, opts.BatchTimeout)
	defer cancel()
	return runSequential(ctx, sess, items, opts)
}

// scheduleSmall runs a below-threshold batch on one leased session.
func scheduleSmall(ctx context.Context, leaser Leaser, items []Item, opts Options) []Result {
	sess, err := leaser.Lease(ctx)
	if err != nil {
		// No session at all: every item fails the same way.
		results := make([]Result, 0, len(items))
		for _, it := range items {
			results = append(results, Result{Item: it, Status: StatusError, Err: err})
		}
		return results
	}
	defer leaser.Release(sess)
	return runSequential(ctx, sess, items, opts)
}

func runSequential(ctx context.Context, sess remotefs.Session, items []Item, opts Options) []Result {
	results := make([]Result, 0, len(items))
	for _, it := range items {
		if ctx.Err() != nil {
			break
		}
		results = append(results, extractOne(ctx, sess, it, opts))
	}
	return results
}

// processItem leases a session for one item. The lease is returned on
// every path, including a panicking extraction; a transport-level failure
// discards the session instead so the pool shrinks rather than recycling a
// dead connection.
func processItem(ctx context.Context, leaser Leaser, it Item, opts Options) Result {
	sess, err := leaser.Lease(ctx)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return Result{Item: it, Status: StatusTimeout, Err: err}
		}
		return Result{Item: it, Status: StatusError, Err: fmt.Errorf("leasing session: %w", err)}
	}

	discard := false
	defer func() {
		if discard {
			leaser.Discard(sess)
		} else {
			leaser.Release(sess)
		}
	}()

	res := extractOne(ctx, sess, it, opts)
	if res.Status == StatusError && transportFailure(res.Err) {
		extractLog("dropping session after transport failure on %s: %v", it.Path, res.Err)
		discard = true
	}
	return res
}

// extractOne reads the item's prefix and parses it within the item budget.
func extractOne(ctx context.Context, sess remotefs.Session, it Item, opts Options) Result {
	itemCtx, cancel := context.WithTimeout(ctx, opts.ItemTimeout)
	defer cancel()

	data, err := sess.ReadPrefix(itemCtx, it.Path, opts.PrefixBytes)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			extractLog("item %s exceeded its budget, skipping", it.Path)
			return Result{Item: it, Status: StatusTimeout, Err: err}
		}
		return Result{Item: it, Status: StatusError, Err: fmt.Errorf("reading prefix: %w", err)}
	}

	m, err := exif.Parse(data, opts.AltitudeSources)
	if err != nil {
		return Result{Item: it, Status: StatusNoData}
	}
	return Result{Item: it, Status: StatusOK, Metadata: m}
}

// transportFailure reports whether err means the session itself is
// unusable, as opposed to a problem with one file.
func transportFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, remotefs.ErrNotExist) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
