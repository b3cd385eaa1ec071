// Package geo separates a site's point cloud into spatial inliers and
// outliers with a per-axis interquartile fence.
//
// Misfiled shots (a photo of the office parking lot uploaded into a tower
// folder) sit miles from the flight cluster and would otherwise stretch
// every plot axis until the site itself is a single pixel. Folders holding
// ground reference imagery are exempt: civil and road shots legitimately
// sit away from the tower, so they neither widen the fence nor get flagged
// by it.
package geo

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/skylens-data/flightpath.report/internal/config"
	"github.com/skylens-data/flightpath.report/internal/monitoring"
	"github.com/skylens-data/flightpath.report/internal/site"
)

var geoLog = monitoring.Prefixed("geo")

// DefaultMultiplier is the fence width in interquartile ranges. 1.5 is the
// textbook whisker value; flight clusters are much tighter than lab data,
// so a wider fence keeps a long orbit radius from reading as a defect.
const DefaultMultiplier = 4.0

// Options tunes the classifier.
type Options struct {
	// Multiplier scales the interquartile range on each axis.
	Multiplier float64
	// GroundCategories lists folder categories whose points are pinned as
	// inliers and excluded from fence computation.
	GroundCategories []string
}

func (o Options) withDefaults() Options {
	if o.Multiplier <= 0 {
		o.Multiplier = DefaultMultiplier
	}
	if o.GroundCategories == nil {
		o.GroundCategories = []string{"civil", "road"}
	}
	return o
}

// OptionsFrom derives classifier options from engine configuration.
func OptionsFrom(cfg *config.EngineConfig) Options {
	return Options{
		Multiplier:       cfg.GetOutlierMultiplier(),
		GroundCategories: cfg.GetGroundCategories(),
	}
}

// Bounds is the acceptance window on both axes.
type Bounds struct {
	LatLow  float64 `json:"lat_low"`
	LatHigh float64 `json:"lat_high"`
	LonLow  float64 `json:"lon_low"`
	LonHigh float64 `json:"lon_high"`
}

// Contains reports whether a position sits inside the window on both axes.
func (b Bounds) Contains(lat, lon float64) bool {
	return lat >= b.LatLow && lat <= b.LatHigh && lon >= b.LonLow && lon <= b.LonHigh
}

// ClassifiedPoint is a site point with its outlier verdict attached.
type ClassifiedPoint struct {
	site.Point
	IsOutlier bool `json:"is_outlier"`
}

// Classification is the classifier output. Points preserves input order.
type Classification struct {
	Points []ClassifiedPoint `json:"points"`
	// Bounds is nil when the eligible set was too small to fence.
	Bounds   *Bounds `json:"bounds,omitempty"`
	Eligible int     `json:"eligible"`
	Outliers int     `json:"outliers"`
}

// Classify fences the point cloud and flags every eligible point that falls
// outside the window on either axis. With fewer than 2 eligible points no
// fence exists and everything is an inlier. Classify is a pure function:
// the same input always yields the same verdicts and bounds.
func Classify(points []site.Point, opts Options) Classification {
	opts = opts.withDefaults()
	ground := make(map[string]bool, len(opts.GroundCategories))
	for _, c := range opts.GroundCategories {
		ground[c] = true
	}

	lats := make([]float64, 0, len(points))
	lons := make([]float64, 0, len(points))
	for _, p := range points {
		if ground[p.Category] {
			continue
		}
		lats = append(lats, p.Latitude)
		lons = append(lons, p.Longitude)
	}

	out := Classification{
		Points:   make([]ClassifiedPoint, 0, len(points)),
		Eligible: len(lats),
	}
	if len(lats) < 2 {
		if len(points) > 0 {
			geoLog("skipping outlier fence: %d eligible of %d points", len(lats), len(points))
		}
		for _, p := range points {
			out.Points = append(out.Points, ClassifiedPoint{Point: p})
		}
		return out
	}

	sort.Float64s(lats)
	sort.Float64s(lons)
	latLow, latHigh := fence(lats, opts.Multiplier)
	lonLow, lonHigh := fence(lons, opts.Multiplier)
	out.Bounds = &Bounds{LatLow: latLow, LatHigh: latHigh, LonLow: lonLow, LonHigh: lonHigh}

	for _, p := range points {
		cp := ClassifiedPoint{Point: p}
		if !ground[p.Category] && !out.Bounds.Contains(p.Latitude, p.Longitude) {
			cp.IsOutlier = true
			out.Outliers++
		}
		out.Points = append(out.Points, cp)
	}
	if out.Outliers > 0 {
		geoLog("flagged %d of %d eligible points as spatial outliers", out.Outliers, out.Eligible)
	}
	return out
}

// fence returns the acceptance range for one axis. Values must be sorted
// ascending; Quantile requires it.
func fence(sorted []float64, multiplier float64) (low, high float64) {
	q1 := stat.Quantile(0.25, stat.LinInterp, sorted, nil)
	q3 := stat.Quantile(0.75, stat.LinInterp, sorted, nil)
	iqr := q3 - q1
	return q1 - multiplier*iqr, q3 + multiplier*iqr
}
