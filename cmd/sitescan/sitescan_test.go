package main

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skylens-data/flightpath.report/internal/config"
	"github.com/skylens-data/flightpath.report/internal/fsutil"
	"github.com/skylens-data/flightpath.report/internal/remotefs"
	"github.com/skylens-data/flightpath.report/internal/site"
	"github.com/skylens-data/flightpath.report/internal/testutil"
)

const testRoot = "/homes/jsmith/10012345"

// seedSite builds a two-folder site: an orbit cluster with one stray shot a
// degree north, and a ground-reference folder.
func seedSite() *remotefs.MemorySession {
	sess := remotefs.NewMemorySession()
	testutil.SeedImages(sess, testRoot+"/Orbit_01", testutil.GridFixtures(12, 51.4545, -2.5879, 150))
	testutil.SeedImages(sess, testRoot+"/Civil", testutil.GridFixtures(3, 51.4545, -2.5879, 0))
	sess.AddFile(testRoot+"/Orbit_01/IMG_9999.JPG",
		testutil.TIFFWithGeotag(testutil.GeotagFixture{
			Lat: 52.4545, Lon: -2.5879,
			XMPRelativeAltitudeMeters: testutil.FloatPtr(45.72),
		}),
		time.Date(2024, 5, 20, 9, 30, 0, 0, time.UTC))
	return sess
}

func TestRunWritesArtifacts(t *testing.T) {
	t.Parallel()

	sess := seedSite()
	dialer := &remotefs.MockDialer{
		Default: func() (remotefs.Session, error) { return sess, nil },
	}
	mfs := fsutil.NewMemoryFileSystem()
	params := remotefs.DialParams{
		Host: "nas.example.com", Port: 22, Username: "jsmith", Secret: "pw",
	}

	require.NoError(t, run(config.EmptyEngineConfig(), dialer, mfs, params, testRoot, "/out"))

	report, err := mfs.ReadFile("/out/site_10012345_report.json")
	require.NoError(t, err)
	var doc reportDoc
	require.NoError(t, json.Unmarshal(report, &doc))
	assert.Equal(t, "10012345", doc.Analysis.SiteID)
	assert.Equal(t, 16, doc.Analysis.TotalImages)
	assert.Equal(t, 13, doc.Classification.Eligible)
	assert.Equal(t, 1, doc.Classification.Outliers)
	assert.Equal(t, "Site 10012345 (jsmith)", doc.Scene.Title)
	assert.Len(t, doc.Scene.Traces, 3)

	page, err := mfs.ReadFile("/out/site_10012345_scene.html")
	require.NoError(t, err)
	assert.Contains(t, string(page), "scatter3D")
	assert.Contains(t, string(page), "Orbit_01")
	assert.Contains(t, string(page), "outliers")

	plot, err := mfs.ReadFile("/out/site_10012345_site.png")
	require.NoError(t, err)
	magic := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	require.GreaterOrEqual(t, len(plot), len(magic))
	assert.Equal(t, magic, plot[:len(magic)])

	// The one-shot run tears down the pool it built.
	assert.True(t, sess.Closed())
}

func TestRunDialFailure(t *testing.T) {
	t.Parallel()

	dialer := &remotefs.MockDialer{
		Default: func() (remotefs.Session, error) { return nil, errors.New("connection refused") },
	}
	mfs := fsutil.NewMemoryFileSystem()
	params := remotefs.DialParams{
		Host: "nas.example.com", Port: 22, Username: "jsmith", Secret: "pw",
	}

	err := run(config.EmptyEngineConfig(), dialer, mfs, params, testRoot, "/out")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.False(t, mfs.Exists("/out/site_10012345_report.json"))
}

func TestOutputBase(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "site_10012345",
		outputBase(&site.Analysis{SiteID: "10012345", Root: testRoot}))
	assert.Equal(t, "Flight_Data",
		outputBase(&site.Analysis{Root: "/exports/Flight Data"}))
}
