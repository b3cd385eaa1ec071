package geo

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylens-data/flightpath.report/internal/config"
	"github.com/skylens-data/flightpath.report/internal/site"
)

func mkPoint(folder, category string, lat, lon float64) site.Point {
	name := fmt.Sprintf("IMG_%s_%.4f_%.4f.JPG", folder, lat, lon)
	return site.Point{
		Folder:       folder,
		Category:     category,
		Filename:     name,
		Path:         "/homes/jsmith/10012345/" + folder + "/" + name,
		Latitude:     lat,
		Longitude:    lon,
		AltitudeFeet: 150,
	}
}

// cluster returns n points on a tight raster around a center position.
func cluster(n int, folder, category string, lat, lon float64) []site.Point {
	pts := make([]site.Point, 0, n)
	for i := 0; i < n; i++ {
		pts = append(pts, mkPoint(folder, category,
			lat+float64(i%5)*0.0001,
			lon+float64(i/5)*0.0001))
	}
	return pts
}

func TestClassifyFlagsFarOutlier(t *testing.T) {
	t.Parallel()

	pts := cluster(9, "Orbit_01", "orbit", 51.4540, -2.5880)
	stray := mkPoint("Orbit_01", "orbit", 52.4540, -2.5880)
	pts = append(pts, stray)

	c := Classify(pts, Options{})

	require.Len(t, c.Points, 10)
	assert.Equal(t, 10, c.Eligible)
	assert.Equal(t, 1, c.Outliers)
	require.NotNil(t, c.Bounds)
	for i, cp := range c.Points {
		assert.Equal(t, pts[i].Path, cp.Path, "input order preserved")
		if cp.Path == stray.Path {
			assert.True(t, cp.IsOutlier, "the stray point must be flagged")
		} else {
			assert.False(t, cp.IsOutlier, "cluster point %s must stay an inlier", cp.Filename)
		}
	}
}

func TestClassifyBounds(t *testing.T) {
	t.Parallel()

	// Two four-point plateaus per axis put Q1 and Q3 exactly on the
	// plateau values regardless of quantile interpolation.
	const (
		latA, latB = 51.4540, 51.4550
		lonA, lonB = -2.5880, -2.5870
	)
	var pts []site.Point
	for i := 0; i < 4; i++ {
		pts = append(pts, mkPoint("Scan_A", "scan", latA, lonA))
		pts = append(pts, mkPoint("Scan_A", "scan", latB, lonB))
	}

	c := Classify(pts, Options{})

	require.NotNil(t, c.Bounds)
	iqrLat := latB - latA
	iqrLon := lonB - lonA
	assert.InDelta(t, latA-4*iqrLat, c.Bounds.LatLow, 1e-9)
	assert.InDelta(t, latB+4*iqrLat, c.Bounds.LatHigh, 1e-9)
	assert.InDelta(t, lonA-4*iqrLon, c.Bounds.LonLow, 1e-9)
	assert.InDelta(t, lonB+4*iqrLon, c.Bounds.LonHigh, 1e-9)
	assert.Zero(t, c.Outliers)

	// A doubled multiplier widens the fence proportionally.
	wide := Classify(pts, Options{Multiplier: 8})
	require.NotNil(t, wide.Bounds)
	assert.InDelta(t, latA-8*iqrLat, wide.Bounds.LatLow, 1e-9)
	assert.InDelta(t, latB+8*iqrLat, wide.Bounds.LatHigh, 1e-9)
}

func TestClassifyGroundReferencePinned(t *testing.T) {
	t.Parallel()

	pts := cluster(10, "Orbit_01", "orbit", 51.4540, -2.5880)
	civilA := mkPoint("Civil", "civil", 52.4540, -2.5880)
	civilB := mkPoint("Civil", "civil", 52.4545, -2.5881)
	road := mkPoint("Road_Access", "road", 51.4540, -1.5880)
	pts = append(pts, civilA, civilB, road)

	c := Classify(pts, Options{})

	assert.Equal(t, 10, c.Eligible, "ground categories are not eligible")
	assert.Zero(t, c.Outliers, "ground points are never flagged")
	for _, cp := range c.Points {
		assert.False(t, cp.IsOutlier)
	}

	require.NotNil(t, c.Bounds)
	assert.False(t, c.Bounds.Contains(civilA.Latitude, civilA.Longitude),
		"fence must come from the flight cluster, not the ground shots")
	assert.Less(t, c.Bounds.LatHigh-c.Bounds.LatLow, 0.02,
		"distant ground shots must not widen the fence")
	assert.Less(t, c.Bounds.LonHigh-c.Bounds.LonLow, 0.02)
}

func TestClassifyTinyEligibleSet(t *testing.T) {
	t.Parallel()

	t.Run("below two skips the fence", func(t *testing.T) {
		t.Parallel()
		pts := []site.Point{
			mkPoint("Orbit_01", "orbit", 51.4540, -2.5880),
			mkPoint("Civil", "civil", 52.4540, -2.5880),
			mkPoint("Civil", "civil", 52.4545, -2.5881),
		}
		c := Classify(pts, Options{})
		assert.Nil(t, c.Bounds)
		assert.Equal(t, 1, c.Eligible)
		assert.Zero(t, c.Outliers)
		require.Len(t, c.Points, 3)
		for _, cp := range c.Points {
			assert.False(t, cp.IsOutlier)
		}
	})

	t.Run("empty input", func(t *testing.T) {
		t.Parallel()
		c := Classify(nil, Options{})
		assert.Empty(t, c.Points)
		assert.Nil(t, c.Bounds)
	})

	t.Run("exactly two computes a fence", func(t *testing.T) {
		t.Parallel()
		pts := []site.Point{
			mkPoint("Scan_A", "scan", 51.4540, -2.5880),
			mkPoint("Scan_A", "scan", 51.4541, -2.5879),
		}
		c := Classify(pts, Options{})
		require.NotNil(t, c.Bounds)
		assert.Zero(t, c.Outliers, "a two-point set cannot exile either member")
	})
}

func TestClassifyEitherAxisFlags(t *testing.T) {
	t.Parallel()

	pts := cluster(12, "Scan_A", "scan", 51.4540, -2.5880)
	// Latitude sits inside the cluster; only longitude is off.
	sideways := mkPoint("Scan_A", "scan", 51.4541, -1.5880)
	pts = append(pts, sideways)

	c := Classify(pts, Options{})

	require.NotNil(t, c.Bounds)
	assert.Equal(t, 1, c.Outliers)
	assert.GreaterOrEqual(t, sideways.Latitude, c.Bounds.LatLow)
	assert.LessOrEqual(t, sideways.Latitude, c.Bounds.LatHigh)
	for _, cp := range c.Points {
		assert.Equal(t, cp.Path == sideways.Path, cp.IsOutlier)
	}
}

func TestClassifyDeterministic(t *testing.T) {
	t.Parallel()

	pts := cluster(30, "Orbit_01", "orbit", 51.4540, -2.5880)
	pts = append(pts, cluster(10, "Downlook", "downlook", 51.4543, -2.5877)...)
	pts = append(pts, mkPoint("Orbit_01", "orbit", 53.0, -2.5880))
	pts = append(pts, mkPoint("Downlook", "downlook", 51.4540, -4.0))

	first := Classify(pts, Options{})
	second := Classify(pts, Options{})

	assert.Empty(t, cmp.Diff(first, second))
	assert.Equal(t, 2, first.Outliers)
}

func TestOptionsFrom(t *testing.T) {
	t.Parallel()

	opts := OptionsFrom(config.EmptyEngineConfig()).withDefaults()
	assert.Equal(t, 4.0, opts.Multiplier)
	assert.Equal(t, []string{"civil", "road"}, opts.GroundCategories)
}
