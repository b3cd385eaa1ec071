// Package units provides altitude conversion and byte formatting shared by
// the extraction and reporting layers.
package units

import "github.com/dustin/go-humanize"

// MetersToFeet is the conversion factor applied to altitude tags, which
// drones record in meters. All reported altitudes are in feet.
const MetersToFeet = 3.28084

// FeetFromMeters converts a meter altitude to feet.
func FeetFromMeters(m float64) float64 {
	return m * MetersToFeet
}

// FormatBytes renders a byte count for legends and report summaries.
func FormatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.Bytes(uint64(n))
}
