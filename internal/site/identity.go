package site

import (
	"path"
	"regexp"
	"strings"
)

// DefaultCategory tags folders whose name matches no known keyword.
const DefaultCategory = "default"

// categoryKeywords in detection order; the first keyword contained in a
// folder's lowercased name wins.
var categoryKeywords = []string{
	"orbit",
	"scan",
	"center",
	"downlook",
	"uplook",
	"civil",
	"road",
}

// CategoryFor derives a folder's category tag from its name.
func CategoryFor(folderName string) string {
	lower := strings.ToLower(folderName)
	for _, kw := range categoryKeywords {
		if strings.Contains(lower, kw) {
			return kw
		}
	}
	return DefaultCategory
}

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".tif":  true,
	".tiff": true,
	".dng":  true,
}

// IsImageName reports whether the entry name carries a recognised image
// extension.
func IsImageName(name string) bool {
	return imageExtensions[strings.ToLower(path.Ext(name))]
}

// Site ids are 8 to 10 decimal digits.
var siteIDPattern = regexp.MustCompile(`^\d{8,10}$`)

// ParseSitePath extracts pilot and site id from a root shaped
// /homes/<pilot>/<siteID>. Roots of any other shape still analyze, with
// empty identity fields.
func ParseSitePath(p string) (pilot, siteID string) {
	trimmed := strings.Trim(path.Clean(p), "/")
	parts := strings.Split(trimmed, "/")
	if len(parts) != 3 || parts[0] != "homes" {
		return "", ""
	}
	if parts[1] == "" || !siteIDPattern.MatchString(parts[2]) {
		return "", ""
	}
	return parts[1], parts[2]
}
