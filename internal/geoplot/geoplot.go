// Package geoplot renders a top-down diagnostic view of classified site
// points: one scatter series per folder in its category color, outliers
// as oversized X marks. Unlike the 3D scene the axes auto-fit, so a
// stray point and its distance from the cluster stay visible.
package geoplot

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/skylens-data/flightpath.report/internal/geo"
	"github.com/skylens-data/flightpath.report/internal/scene"
)

// Render builds the scatter plot without writing it anywhere.
func Render(title string, c geo.Classification) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"

	byFolder := make(map[string]plotter.XYs)
	var outliers plotter.XYs
	for _, cp := range c.Points {
		xy := plotter.XY{X: cp.Longitude, Y: cp.Latitude}
		if cp.IsOutlier {
			outliers = append(outliers, xy)
			continue
		}
		byFolder[cp.Folder] = append(byFolder[cp.Folder], xy)
	}

	categories := make(map[string]string)
	for _, cp := range c.Points {
		if _, ok := categories[cp.Folder]; !ok {
			categories[cp.Folder] = cp.Category
		}
	}

	folders := make([]string, 0, len(byFolder))
	for name := range byFolder {
		folders = append(folders, name)
	}
	sort.Strings(folders)

	for _, name := range folders {
		s, err := plotter.NewScatter(byFolder[name])
		if err != nil {
			return nil, fmt.Errorf("folder %s: %w", name, err)
		}
		s.GlyphStyle.Color = hexColor(scene.CategoryColor(categories[name]))
		s.GlyphStyle.Radius = vg.Points(2)
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(s)
		p.Legend.Add(name, s)
	}

	if len(outliers) > 0 {
		s, err := plotter.NewScatter(outliers)
		if err != nil {
			return nil, fmt.Errorf("outliers: %w", err)
		}
		s.GlyphStyle.Color = color.RGBA{R: 255, A: 255}
		s.GlyphStyle.Radius = vg.Points(4)
		s.GlyphStyle.Shape = draw.CrossGlyph{}
		p.Add(s)
		p.Legend.Add("outliers", s)
	}

	p.Legend.Top = true
	p.Legend.Left = true
	return p, nil
}

// WritePNG renders the plot and saves it as a square PNG at path.
func WritePNG(path, title string, c geo.Classification) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create site plot: %w", err)
	}
	defer f.Close()
	return WritePNGTo(f, title, c)
}

// WritePNGTo renders the plot and streams it as a square PNG.
func WritePNGTo(w io.Writer, title string, c geo.Classification) error {
	p, err := Render(title, c)
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(10*vg.Inch, 10*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render site plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write site plot: %w", err)
	}
	return nil
}

func hexColor(s string) color.RGBA {
	var r, g, b uint8
	fmt.Sscanf(s, "#%02x%02x%02x", &r, &g, &b)
	return color.RGBA{R: r, G: g, B: b, A: 255}
}
