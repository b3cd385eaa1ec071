// Package testutil provides shared test fixtures.
//
// This package centralises the binary image fixtures used across the
// extractor, scheduler and site tests so each test file does not hand-roll
// tag-table byte layout.
package testutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"path"
	"time"

	"github.com/skylens-data/flightpath.report/internal/remotefs"
)

// GeotagFixture describes the embedded metadata of a synthetic aerial image.
type GeotagFixture struct {
	Lat float64
	Lon float64

	// GPSAltitudeMeters emits the satellite altitude tag pair when set.
	// Negative values are encoded with the below-sea-level reference.
	GPSAltitudeMeters *float64

	// XMPRelativeAltitudeMeters appends a drone XMP packet when set.
	XMPRelativeAltitudeMeters *float64

	// CapturedAt emits the capture timestamp tag when non-zero.
	CapturedAt time.Time

	// OmitGPS produces a tag table with no position block at all.
	OmitGPS bool
}

// FloatPtr returns a pointer to v, for fixture literals.
func FloatPtr(v float64) *float64 { return &v }

const (
	tagDateTime   = 0x0132
	tagGPSPointer = 0x8825

	gpsTagLatRef = 0x0001
	gpsTagLat    = 0x0002
	gpsTagLonRef = 0x0003
	gpsTagLon    = 0x0004
	gpsTagAltRef = 0x0005
	gpsTagAlt    = 0x0006

	typeByte     = 1
	typeASCII    = 2
	typeLong     = 4
	typeRational = 5
)

// TIFFWithGeotag builds a minimal little-endian TIFF carrying the fixture's
// position tags, decodable by the metadata extractor. When the fixture asks
// for an XMP relative altitude the packet is appended after the tag table,
// where a prefix read of a real image would find it.
func TIFFWithGeotag(f GeotagFixture) []byte {
	ifd0Entries := 0
	if !f.OmitGPS {
		ifd0Entries++
	}
	if !f.CapturedAt.IsZero() {
		ifd0Entries++
	}
	gpsEntries := 4
	if f.GPSAltitudeMeters != nil {
		gpsEntries = 6
	}

	gpsOff := 8 + 2 + 12*ifd0Entries + 4
	dataOff := gpsOff
	if !f.OmitGPS {
		dataOff += 2 + 12*gpsEntries + 4
	}

	next := dataOff
	var latOff, lonOff, altOff, dtOff int
	if !f.OmitGPS {
		latOff, next = next, next+24
		lonOff, next = next, next+24
		if f.GPSAltitudeMeters != nil {
			altOff, next = next, next+8
		}
	}
	if !f.CapturedAt.IsZero() {
		dtOff = next
	}

	buf := &bytes.Buffer{}
	u16 := func(v uint16) { binary.Write(buf, binary.LittleEndian, v) }
	u32 := func(v uint32) { binary.Write(buf, binary.LittleEndian, v) }
	packed := func(b byte) {
		buf.WriteByte(b)
		buf.Write([]byte{0, 0, 0})
	}

	buf.WriteString("II")
	u16(42)
	u32(8)

	u16(uint16(ifd0Entries))
	if !f.CapturedAt.IsZero() {
		u16(tagDateTime)
		u16(typeASCII)
		u32(20)
		u32(uint32(dtOff))
	}
	if !f.OmitGPS {
		u16(tagGPSPointer)
		u16(typeLong)
		u32(1)
		u32(uint32(gpsOff))
	}
	u32(0)

	if !f.OmitGPS {
		u16(uint16(gpsEntries))

		u16(gpsTagLatRef)
		u16(typeASCII)
		u32(2)
		if f.Lat < 0 {
			packed('S')
		} else {
			packed('N')
		}

		u16(gpsTagLat)
		u16(typeRational)
		u32(3)
		u32(uint32(latOff))

		u16(gpsTagLonRef)
		u16(typeASCII)
		u32(2)
		if f.Lon < 0 {
			packed('W')
		} else {
			packed('E')
		}

		u16(gpsTagLon)
		u16(typeRational)
		u32(3)
		u32(uint32(lonOff))

		if f.GPSAltitudeMeters != nil {
			u16(gpsTagAltRef)
			u16(typeByte)
			u32(1)
			if *f.GPSAltitudeMeters < 0 {
				packed(1)
			} else {
				packed(0)
			}

			u16(gpsTagAlt)
			u16(typeRational)
			u32(1)
			u32(uint32(altOff))
		}
		u32(0)

		writeDMS := func(deg float64) {
			abs := math.Abs(deg)
			d := math.Floor(abs)
			m := math.Floor((abs - d) * 60)
			s := ((abs-d)*60 - m) * 60
			u32(uint32(d))
			u32(1)
			u32(uint32(m))
			u32(1)
			u32(uint32(math.Round(s * 10000)))
			u32(10000)
		}
		writeDMS(f.Lat)
		writeDMS(f.Lon)
		if f.GPSAltitudeMeters != nil {
			u32(uint32(math.Round(math.Abs(*f.GPSAltitudeMeters) * 100)))
			u32(100)
		}
	}

	if !f.CapturedAt.IsZero() {
		buf.WriteString(f.CapturedAt.Format("2006:01:02 15:04:05"))
		buf.WriteByte(0)
	}

	if f.XMPRelativeAltitudeMeters != nil {
		buf.Write(XMPPacket(*f.XMPRelativeAltitudeMeters))
	}
	return buf.Bytes()
}

// XMPPacket builds a drone XMP packet in the attribute form DJI firmware
// writes, with the relative altitude in meters above the launch point.
func XMPPacket(relAltMeters float64) []byte {
	return []byte(fmt.Sprintf(
		`<x:xmpmeta xmlns:x="adobe:ns:meta/"><rdf:RDF xmlns:rdf="http://www.w3.org/1999/02/22-rdf-syntax-ns#">`+
			`<rdf:Description xmlns:drone-dji="http://www.dji.com/drone-dji/1.0/" drone-dji:RelativeAltitude="%+.2f" drone-dji:GimbalPitchDegree="-90.00"/>`+
			`</rdf:RDF></x:xmpmeta>`,
		relAltMeters))
}

// SeedImages writes the fixtures into dir on sess as sequentially numbered
// image assets and returns their remote paths.
func SeedImages(sess *remotefs.MemorySession, dir string, fixtures []GeotagFixture) []string {
	modTime := time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)
	paths := make([]string, 0, len(fixtures))
	for i, f := range fixtures {
		p := path.Join(dir, fmt.Sprintf("IMG_%04d.JPG", i+1))
		sess.AddFile(p, TIFFWithGeotag(f), modTime)
		paths = append(paths, p)
	}
	return paths
}

// GridFixtures generates n fixtures stepping away from a base coordinate in
// a small raster, the shape a mapping flight produces.
func GridFixtures(n int, baseLat, baseLon, altFeet float64) []GeotagFixture {
	fixtures := make([]GeotagFixture, 0, n)
	for i := 0; i < n; i++ {
		fixtures = append(fixtures, GeotagFixture{
			Lat: baseLat + float64(i%10)*0.0001,
			Lon: baseLon + float64(i/10)*0.0001,
			// Tag values carry meters; the extractor converts to feet.
			XMPRelativeAltitudeMeters: FloatPtr(altFeet / 3.28084),
		})
	}
	return fixtures
}
