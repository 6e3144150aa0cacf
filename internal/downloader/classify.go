package downloader

import "strings"

// Known-permanent failure signatures. A match means the upstream told us the
// media cannot be fetched no matter how often we retry: removed, private,
// DRM, region blocks and hard HTTP 403/404 responses.
var permanentMarkers = []string{
	"postprocessing",
	"postprocessor",
	"ffmpeg",
	"drm",
	"http error 403",
	"http error 404",
	"forbidden",
	"not found",
	"not available",
	"private",
	"removed by the uploader",
	"members-only",
	"members only",
}

// Marker pairs where both substrings must appear for the error to count as
// permanent (e.g. a bare "403" only matters in an HTTP context).
var permanentMarkerPairs = [][2]string{
	{"403", "http"},
	{"404", "http"},
	{"unavailable", "region"},
	{"unavailable", "country"},
}

// IsRetryable classifies an adapter error. Errors matching a known permanent
// signature are terminal; everything else defaults to retryable so transient
// conditions always get a chance.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	message := strings.ToLower(err.Error())

	for _, marker := range permanentMarkers {
		if strings.Contains(message, marker) {
			return false
		}
	}
	for _, pair := range permanentMarkerPairs {
		if strings.Contains(message, pair[0]) && strings.Contains(message, pair[1]) {
			return false
		}
	}
	return true
}
