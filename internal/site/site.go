// Package site walks a remote site root and aggregates per-folder geotag
// extraction into a single analysis.
//
// Folders are processed strictly one after another; the parallelism lives
// inside each folder's extraction batch. A folder that fails its probe or
// listing is recorded and skipped, never allowed to sink the site.
package site

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/skylens-data/flightpath.report/internal/config"
	"github.com/skylens-data/flightpath.report/internal/extract"
	"github.com/skylens-data/flightpath.report/internal/monitoring"
	"github.com/skylens-data/flightpath.report/internal/pool"
	"github.com/skylens-data/flightpath.report/internal/remotefs"
	"github.com/skylens-data/flightpath.report/internal/security"
	"github.com/skylens-data/flightpath.report/internal/timeutil"
	"github.com/skylens-data/flightpath.report/internal/units"
)

var siteLog = monitoring.Prefixed("site")

// ErrInvalidRoot reports a site root that failed path validation.
var ErrInvalidRoot = errors.New("invalid site root")

// Point is one geotagged image positioned within a site.
type Point struct {
	Folder         string     `json:"folder"`
	Category       string     `json:"category"`
	Filename       string     `json:"filename"`
	Path           string     `json:"path"`
	Latitude       float64    `json:"latitude"`
	Longitude      float64    `json:"longitude"`
	AltitudeFeet   float64    `json:"altitude_ft"`
	AltitudeSource string     `json:"altitude_source,omitempty"`
	CapturedAt     *time.Time `json:"captured_at,omitempty"`
}

// FolderReport is the outcome of one site subdirectory.
type FolderReport struct {
	Name           string  `json:"name"`
	Category       string  `json:"category"`
	ImageCount     int     `json:"image_count"`
	TotalSizeBytes int64   `json:"total_size_bytes"`
	TotalSizeHuman string  `json:"total_size_human"`
	Points         []Point `json:"points"`
	WithoutGPS     int     `json:"without_gps"`

	// Error is set only when the folder-level probe or listing failed;
	// sibling folders are unaffected.
	Error string `json:"error,omitempty"`
}

// Analysis is the merged result of one site walk.
type Analysis struct {
	SiteID         string                   `json:"site_id,omitempty"`
	Pilot          string                   `json:"pilot,omitempty"`
	Root           string                   `json:"root"`
	Folders        map[string]*FolderReport `json:"folders"`
	TotalImages    int                      `json:"total_images"`
	TotalSizeBytes int64                    `json:"total_size_bytes"`
	TotalSizeHuman string                   `json:"total_size_human"`
	FailedFolders  []string                 `json:"failed_folders,omitempty"`

	// Sequential is true when pooled capacity fell below the floor and
	// the whole site ran on a single connection.
	Sequential     bool    `json:"sequential,omitempty"`
	PoolSize       int     `json:"pool_size"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// Points flattens every folder's points, sorted by path.
func (a *Analysis) Points() []Point {
	var pts []Point
	for _, fr := range a.Folders {
		pts = append(pts, fr.Points...)
	}
	sort.Slice(pts, func(i, j int) bool { return pts[i].Path < pts[j].Path })
	return pts
}

// Analyzer runs site analyses over a dialer, reusing pools through an
// optional cache keyed by session identity.
type Analyzer struct {
	cfg    *config.EngineConfig
	dialer remotefs.Dialer
	cache  *pool.Cache
	clock  timeutil.Clock
}

// NewAnalyzer builds an analyzer. cache may be nil, in which case each
// analysis builds and tears down its own pool. clock may be nil for the
// real clock.
func NewAnalyzer(cfg *config.EngineConfig, dialer remotefs.Dialer, cache *pool.Cache, clock timeutil.Clock) *Analyzer {
	if cfg == nil {
		cfg = config.EmptyEngineConfig()
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Analyzer{cfg: cfg, dialer: dialer, cache: cache, clock: clock}
}

// runner is the acquired capacity for one analysis: a pooled mode with a
// dedicated walk session, or a single-session sequential mode.
type runner struct {
	pool       *pool.Pool // nil in sequential mode
	walk       remotefs.Session
	sequential bool
	poolSize   int
}

// Analyze walks the subdirectories of root and extracts geotag metadata
// from every image found, returning best-effort partial results. Only an
// invalid root or a failure to establish any connection at all is a hard
// error.
func (a *Analyzer) Analyze(ctx context.Context, reg remotefs.RegisteredSession, root string) (*Analysis, error) {
	root = strings.TrimSuffix(root, "/")
	if err := security.ValidateRemotePath(root); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRoot, err)
	}

	start := a.clock.Now()
	pilot, siteID := ParseSitePath(root)

	run, cleanup, err := a.acquire(ctx, reg)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	probeCtx, cancel := context.WithTimeout(ctx, a.cfg.GetFolderProbeTimeout())
	rootEntry, err := run.walk.Stat(probeCtx, root)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("probing site root %s: %w", root, err)
	}
	if !rootEntry.IsDir() {
		return nil, fmt.Errorf("site root %s is not a directory", root)
	}

	listCtx, cancel := context.WithTimeout(ctx, a.cfg.GetFolderProbeTimeout())
	entries, err := run.walk.List(listCtx, root)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("listing site root %s: %w", root, err)
	}

	analysis := &Analysis{
		SiteID:     siteID,
		Pilot:      pilot,
		Root:       root,
		Folders:    make(map[string]*FolderReport),
		Sequential: run.sequential,
		PoolSize:   run.poolSize,
	}

	opts := extract.OptionsFrom(a.cfg)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		report := a.processFolder(ctx, run, root, e.Name, opts)
		analysis.Folders[e.Name] = report
		analysis.TotalImages += report.ImageCount
		analysis.TotalSizeBytes += report.TotalSizeBytes
		if report.Error != "" {
			analysis.FailedFolders = append(analysis.FailedFolders, e.Name)
		}
	}
	analysis.TotalSizeHuman = units.FormatBytes(analysis.TotalSizeBytes)
	analysis.ElapsedSeconds = a.clock.Since(start).Seconds()

	siteLog("analyzed %s: %d folders (%d failed), %d images, %s in %.1fs",
		root, len(analysis.Folders), len(analysis.FailedFolders),
		analysis.TotalImages, analysis.TotalSizeHuman, analysis.ElapsedSeconds)
	return analysis, nil
}

// acquire obtains extraction capacity for one analysis: a verified cached
// pool, a fresh pool, or — when creation falls below the floor — a single
// dialed session for sequential processing.
func (a *Analyzer) acquire(ctx context.Context, reg remotefs.RegisteredSession) (*runner, func(), error) {
	key := reg.PoolKey()
	popts := pool.Options{
		Floor:          a.cfg.GetPoolSizeFloor(),
		ConnectTimeout: a.cfg.GetConnectTimeout(),
		LeaseTimeout:   a.cfg.GetLeaseTimeout(),
		ProbeTimeout:   a.cfg.GetProbeTimeout(),
	}

	var p *pool.Pool
	if a.cache != nil {
		if cached, ok := a.cache.Get(key); ok {
			if live := cached.Verify(ctx); live > 0 {
				siteLog("reusing cached pool for %s (%d live sessions)", key, live)
				p = cached
			} else {
				siteLog("cached pool for %s has no live sessions, rebuilding", key)
				a.cache.Invalidate(key)
			}
		}
	}

	if p == nil {
		created, err := pool.New(ctx, a.cfg.GetMaxWorkers(), a.dialer, reg.Params, popts)
		switch {
		case err == nil:
			p = created
			if a.cache != nil {
				a.cache.Put(key, p)
			}
		case errors.Is(err, pool.ErrInsufficient):
			siteLog("pool below floor for %s, falling back to sequential: %v", key, err)
			sess, dialErr := a.dialer.Dial(ctx, reg.Params, a.cfg.GetConnectTimeout())
			if dialErr != nil {
				return nil, nil, fmt.Errorf("establishing initial session: %w", dialErr)
			}
			return &runner{walk: sess, sequential: true},
				func() { sess.Close() }, nil
		default:
			return nil, nil, fmt.Errorf("creating session pool: %w", err)
		}
	}

	walk, err := p.Lease(ctx)
	if err != nil {
		if a.cache == nil {
			p.Close()
		}
		return nil, nil, fmt.Errorf("leasing walk session: %w", err)
	}

	cleanup := func() {
		p.Release(walk)
		if a.cache == nil {
			p.Close()
		}
	}
	return &runner{pool: p, walk: walk, poolSize: p.Size()}, cleanup, nil
}

// processFolder probes, lists and extracts one subdirectory. All failures
// stay inside the returned report.
func (a *Analyzer) processFolder(ctx context.Context, run *runner, root, name string, opts extract.Options) *FolderReport {
	report := &FolderReport{Name: name, Category: CategoryFor(name)}
	folderPath := path.Join(root, name)

	probeCtx, cancel := context.WithTimeout(ctx, a.cfg.GetFolderProbeTimeout())
	_, statErr := run.walk.Stat(probeCtx, folderPath)
	cancel()
	if statErr != nil {
		siteLog("folder %s failed probe, skipping: %v", name, statErr)
		report.Error = fmt.Sprintf("probe failed: %v", statErr)
		return report
	}

	listCtx, cancel := context.WithTimeout(ctx, a.cfg.GetFolderProbeTimeout())
	entries, listErr := run.walk.List(listCtx, folderPath)
	cancel()
	if listErr != nil {
		siteLog("folder %s failed listing, skipping: %v", name, listErr)
		report.Error = fmt.Sprintf("listing failed: %v", listErr)
		return report
	}

	var items []extract.Item
	for _, e := range entries {
		if e.Type != remotefs.EntryFile || !IsImageName(e.Name) {
			continue
		}
		report.ImageCount++
		report.TotalSizeBytes += e.Size
		items = append(items, extract.Item{Folder: name, Path: path.Join(folderPath, e.Name)})
	}
	report.TotalSizeHuman = units.FormatBytes(report.TotalSizeBytes)

	var results []extract.Result
	if run.sequential {
		results = extract.ScheduleSequential(ctx, run.walk, items, opts)
	} else {
		results = extract.Schedule(ctx, run.pool, items, opts)
	}

	for _, r := range results {
		if r.Status != extract.StatusOK {
			continue
		}
		m := r.Metadata
		pt := Point{
			Folder:         name,
			Category:       report.Category,
			Filename:       path.Base(r.Item.Path),
			Path:           r.Item.Path,
			Latitude:       m.Latitude,
			Longitude:      m.Longitude,
			AltitudeSource: m.AltitudeSource,
			CapturedAt:     m.CapturedAt,
		}
		if m.AltitudeFeet != nil {
			pt.AltitudeFeet = *m.AltitudeFeet
		}
		report.Points = append(report.Points, pt)
	}
	sort.Slice(report.Points, func(i, j int) bool { return report.Points[i].Path < report.Points[j].Path })
	report.WithoutGPS = report.ImageCount - len(report.Points)
	return report
}
