package scene

import (
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
)

// RenderHTML writes the scene as a self-contained 3D scatter page.
//
// The ground plane maps onto the chart floor: the z axis starts at the
// plane altitude, so the grid bottom sits exactly where the mesh would.
// The camera preset stays in the JSON form of the scene; the page keeps
// its default interactive orbit control.
func RenderHTML(s *Scene, w io.Writer) error {
	chart := charts.NewScatter3D()
	chart.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: s.Title,
			Theme:     s.Theme,
			Width:     "1400px",
			Height:    "900px",
		}),
		charts.WithTitleOpts(opts.Title{Title: s.Title, Subtitle: s.Subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxis3DOpts(opts.XAxis3D{Name: "longitude", Type: "value", Min: s.Axes.LonMin, Max: s.Axes.LonMax}),
		charts.WithYAxis3DOpts(opts.YAxis3D{Name: "latitude", Type: "value", Min: s.Axes.LatMin, Max: s.Axes.LatMax}),
		charts.WithZAxis3DOpts(opts.ZAxis3D{Name: "altitude (ft)", Type: "value", Min: s.Axes.AltMin, Max: s.Axes.AltMax}),
	)

	for _, tr := range s.Traces {
		data := make([]opts.Chart3DData, 0, len(tr.Markers))
		for _, m := range tr.Markers {
			data = append(data, opts.Chart3DData{
				Name:  m.Label,
				Value: []interface{}{m.Lon, m.Lat, m.AltitudeFeet},
			})
		}
		chart.AddSeries(tr.Name, data, charts.WithItemStyleOpts(opts.ItemStyle{Color: tr.Color}))
	}
	return chart.Render(w)
}
