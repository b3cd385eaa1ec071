// Package version holds build identification stamped via -ldflags.
package version

var (
	// Version is the release version, "dev" for untagged builds.
	Version = "dev"
	// GitSHA is the git commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the UTC build timestamp.
	BuildTime = "unknown"
)

// String returns a single-line version description for --version output
// and the health endpoint.
func String() string {
	return Version + " (" + GitSHA + ", built " + BuildTime + ")"
}
