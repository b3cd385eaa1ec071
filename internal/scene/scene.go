// Package scene turns classified site points into a declarative 3D
// flight-path scene: one marker series per folder, a ground-plane mesh,
// fixed axis ranges and a camera preset. The builder never renders
// pixels; adapters serialize the scene to JSON or an HTML page.
package scene

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/skylens-data/flightpath.report/internal/geo"
	"github.com/skylens-data/flightpath.report/internal/site"
)

// Marker symbols understood by adapters.
const (
	SymbolCircle = "circle"
	SymbolX      = "x"
)

var categoryColors = map[string]string{
	"orbit":    "#ff4136",
	"scan":     "#2ecc40",
	"center":   "#0074d9",
	"downlook": "#ffdc00",
	"uplook":   "#b10dc9",
	"civil":    "#ff851b",
	"road":     "#39cccc",
}

const (
	defaultColor = "#aaaaaa"
	outlierColor = "#ff0000"
)

// CategoryColor returns the fixed plot color for a folder category.
func CategoryColor(category string) string {
	if c, ok := categoryColors[category]; ok {
		return c
	}
	return defaultColor
}

// Marker is one plotted position. Label carries the hover text.
type Marker struct {
	Lon          float64 `json:"lon"`
	Lat          float64 `json:"lat"`
	AltitudeFeet float64 `json:"altitude_ft"`
	Label        string  `json:"label,omitempty"`
}

// Trace is one legend entry and its markers.
type Trace struct {
	Name     string   `json:"name"`
	Category string   `json:"category,omitempty"`
	Color    string   `json:"color"`
	Symbol   string   `json:"symbol"`
	Outlier  bool     `json:"outlier,omitempty"`
	Markers  []Marker `json:"markers"`
}

// GroundPlane is a flat reference mesh under the flight cluster.
type GroundPlane struct {
	LonMin       float64 `json:"lon_min"`
	LonMax       float64 `json:"lon_max"`
	LatMin       float64 `json:"lat_min"`
	LatMax       float64 `json:"lat_max"`
	AltitudeFeet float64 `json:"altitude_ft"`
}

// Axes fixes the visible ranges. Ranges come from the inlier bounding
// box only, so a stray point can never compress the cluster to a dot.
type Axes struct {
	LonMin float64 `json:"lon_min"`
	LonMax float64 `json:"lon_max"`
	LatMin float64 `json:"lat_min"`
	LatMax float64 `json:"lat_max"`
	AltMin float64 `json:"alt_min"`
	AltMax float64 `json:"alt_max"`
}

// Camera is the initial view position, in normalized scene units.
type Camera struct {
	EyeX float64 `json:"eye_x"`
	EyeY float64 `json:"eye_y"`
	EyeZ float64 `json:"eye_z"`
}

// Scene is the complete declarative description of one site plot.
type Scene struct {
	Title       string       `json:"title"`
	Subtitle    string       `json:"subtitle,omitempty"`
	Theme       string       `json:"theme"`
	Camera      Camera       `json:"camera"`
	Axes        Axes         `json:"axes"`
	GroundPlane *GroundPlane `json:"ground_plane,omitempty"`
	Traces      []Trace      `json:"traces"`
}

// WriteJSON serializes the scene for API responses and report files.
func (s *Scene) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(s)
}

// Build assembles the scene for one analyzed site. Inliers are grouped
// into one trace per folder with the folder's category color and a
// legend label carrying the folder size and file count; every outlier
// lands in a single red X series whose hover text is just the filename.
// The ground plane sits 20 ft under the lowest inlier; the vertical
// range always reaches at least 100 ft so low grids keep their scale.
func Build(a *site.Analysis, c geo.Classification) *Scene {
	s := &Scene{
		Title:    titleFor(a),
		Subtitle: fmt.Sprintf("images=%d points=%d outliers=%d", a.TotalImages, len(c.Points), c.Outliers),
		Theme:    "dark",
		Camera:   Camera{EyeX: 1.5, EyeY: 1.5, EyeZ: 1.2},
	}

	inliers := make(map[string][]Marker)
	var outliers []Marker
	var (
		seen                           bool
		lonMin, lonMax, latMin, latMax float64
		altMin, altMax                 float64
	)
	for _, cp := range c.Points {
		m := Marker{Lon: cp.Longitude, Lat: cp.Latitude, AltitudeFeet: cp.AltitudeFeet, Label: cp.Filename}
		if cp.IsOutlier {
			outliers = append(outliers, m)
			continue
		}
		inliers[cp.Folder] = append(inliers[cp.Folder], m)
		if !seen {
			seen = true
			lonMin, lonMax = m.Lon, m.Lon
			latMin, latMax = m.Lat, m.Lat
			altMin, altMax = m.AltitudeFeet, m.AltitudeFeet
			continue
		}
		lonMin = min(lonMin, m.Lon)
		lonMax = max(lonMax, m.Lon)
		latMin = min(latMin, m.Lat)
		latMax = max(latMax, m.Lat)
		altMin = min(altMin, m.AltitudeFeet)
		altMax = max(altMax, m.AltitudeFeet)
	}

	if seen {
		floor := altMin - 20
		s.Axes = Axes{
			LonMin: lonMin, LonMax: lonMax,
			LatMin: latMin, LatMax: latMax,
			AltMin: floor, AltMax: max(altMax, 100),
		}
		s.GroundPlane = &GroundPlane{
			LonMin: lonMin, LonMax: lonMax,
			LatMin: latMin, LatMax: latMax,
			AltitudeFeet: floor,
		}
	} else {
		s.Axes = Axes{AltMax: 100}
	}

	folders := make([]string, 0, len(inliers))
	for name := range inliers {
		folders = append(folders, name)
	}
	sort.Strings(folders)
	for _, name := range folders {
		category := site.DefaultCategory
		label := name
		if rep := a.Folders[name]; rep != nil {
			category = rep.Category
			label = fmt.Sprintf("%s (%s - %d files)", name, rep.TotalSizeHuman, rep.ImageCount)
		}
		s.Traces = append(s.Traces, Trace{
			Name:     label,
			Category: category,
			Color:    CategoryColor(category),
			Symbol:   SymbolCircle,
			Markers:  inliers[name],
		})
	}
	if len(outliers) > 0 {
		s.Traces = append(s.Traces, Trace{
			Name:    "outliers",
			Color:   outlierColor,
			Symbol:  SymbolX,
			Outlier: true,
			Markers: outliers,
		})
	}
	return s
}

func titleFor(a *site.Analysis) string {
	if a.SiteID == "" {
		return a.Root
	}
	if a.Pilot == "" {
		return "Site " + a.SiteID
	}
	return fmt.Sprintf("Site %s (%s)", a.SiteID, a.Pilot)
}
