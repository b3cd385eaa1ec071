package units

import (
	"math"
	"testing"
)

func TestFeetFromMeters(t *testing.T) {
	tests := []struct {
		name     string
		meters   float64
		expected float64
	}{
		{"1 m is the fixed factor", 1.0, 3.28084},
		{"zero", 0.0, 0.0},
		{"typical orbit altitude 45.72 m", 45.72, 150.0},
		{"negative relative altitude -2.5 m", -2.5, -8.2021},
		{"100 m", 100.0, 328.084},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FeetFromMeters(tt.meters)
			if math.Abs(result-tt.expected) > 0.01 {
				t.Errorf("FeetFromMeters(%f) = %f, want %f", tt.meters, result, tt.expected)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name     string
		bytes    int64
		expected string
	}{
		{"zero", 0, "0 B"},
		{"small", 512, "512 B"},
		{"megabytes", 2500000, "2.5 MB"},
		{"large site", 118000000, "118 MB"},
		{"negative clamps to zero", -42, "0 B"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := FormatBytes(tt.bytes)
			if result != tt.expected {
				t.Errorf("FormatBytes(%d) = %s, want %s", tt.bytes, result, tt.expected)
			}
		})
	}
}
