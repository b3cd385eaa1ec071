// Package exif recovers geotag metadata from the leading bytes of aerial
// image files.
//
// Only a bounded prefix of each file is ever read, so the parser must
// tolerate truncated tag tables. Anything unreadable is an absence of data,
// never an error: a survey batch routinely contains calibration shots and
// thumbnails with no position block at all.
package exif

import (
	"bytes"
	"errors"
	"strconv"
	"time"

	goexif "github.com/rwcarlsen/goexif/exif"

	"github.com/skylens-data/flightpath.report/internal/units"
)

// Altitude source names accepted in the extraction precedence list.
const (
	// SourceXMPRelative is the drone-embedded XMP field carrying height
	// above the launch point, in meters.
	SourceXMPRelative = "xmp-relative"

	// SourceGPSAltitude is the satellite altitude tag pair, in meters
	// relative to mean sea level.
	SourceGPSAltitude = "gps-altitude"
)

// ErrNoGeotag reports that an image carries no usable position data. It is
// an expected per-image outcome, not a failure.
var ErrNoGeotag = errors.New("no geotag data")

// Metadata is the geotag information recovered from one image.
type Metadata struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`

	// AltitudeFeet is nil when none of the configured altitude sources
	// was present in the file.
	AltitudeFeet   *float64 `json:"altitude_ft,omitempty"`
	AltitudeSource string   `json:"altitude_source,omitempty"`

	CapturedAt *time.Time `json:"captured_at,omitempty"`
}

// Parse extracts geotag metadata from the prefix bytes of an image file.
// altitudeSources is tried in order and the first source present wins.
// Images without a decodable position return ErrNoGeotag.
func Parse(data []byte, altitudeSources []string) (m *Metadata, err error) {
	// The tag-table decoder is not hardened against truncated rational
	// values and can panic on a hostile prefix.
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, ErrNoGeotag
		}
	}()

	x, decErr := goexif.Decode(bytes.NewReader(data))
	if decErr != nil {
		return nil, ErrNoGeotag
	}
	lat, lon, posErr := x.LatLong()
	if posErr != nil {
		return nil, ErrNoGeotag
	}

	m = &Metadata{Latitude: lat, Longitude: lon}
	for _, src := range altitudeSources {
		var meters float64
		var ok bool
		switch src {
		case SourceXMPRelative:
			meters, ok = xmpRelativeAltitude(data)
		case SourceGPSAltitude:
			meters, ok = gpsAltitude(x)
		}
		if ok {
			ft := units.FeetFromMeters(meters)
			m.AltitudeFeet = &ft
			m.AltitudeSource = src
			break
		}
	}

	if ts, tsErr := x.DateTime(); tsErr == nil {
		m.CapturedAt = &ts
	}
	return m, nil
}

// gpsAltitude reads the satellite altitude tag in meters. Reference value 1
// marks below sea level.
func gpsAltitude(x *goexif.Exif) (float64, bool) {
	tag, err := x.Get(goexif.GPSAltitude)
	if err != nil {
		return 0, false
	}
	num, den, err := tag.Rat2(0)
	if err != nil || den == 0 {
		return 0, false
	}
	meters := float64(num) / float64(den)
	if ref, err := x.Get(goexif.GPSAltitudeRef); err == nil {
		if v, err := ref.Int(0); err == nil && v == 1 {
			meters = -meters
		}
	}
	return meters, true
}

var xmpAltitudeKey = []byte("drone-dji:RelativeAltitude")

// xmpRelativeAltitude scans raw prefix bytes for the drone-embedded
// relative-altitude field, in meters above the launch point. The packet is
// XML, but the value is recovered with a byte scan: the bounded prefix
// often truncates the document mid-element, which breaks a conforming XML
// parse while leaving this field intact.
func xmpRelativeAltitude(data []byte) (float64, bool) {
	idx := bytes.Index(data, xmpAltitudeKey)
	if idx < 0 {
		return 0, false
	}
	rest := bytes.TrimLeft(data[idx+len(xmpAltitudeKey):], " \t\r\n")
	if len(rest) == 0 {
		return 0, false
	}

	var raw []byte
	switch rest[0] {
	case '=':
		// Attribute form: drone-dji:RelativeAltitude="+57.30"
		rest = bytes.TrimLeft(rest[1:], " \t\r\n")
		if len(rest) == 0 || (rest[0] != '"' && rest[0] != '\'') {
			return 0, false
		}
		end := bytes.IndexByte(rest[1:], rest[0])
		if end < 0 {
			return 0, false
		}
		raw = rest[1 : 1+end]
	case '>':
		// Element form: <drone-dji:RelativeAltitude>+57.30</...>
		end := bytes.IndexByte(rest[1:], '<')
		if end < 0 {
			return 0, false
		}
		raw = rest[1 : 1+end]
	default:
		return 0, false
	}

	v, err := strconv.ParseFloat(string(bytes.TrimSpace(raw)), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
