package downloader

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsRetryable(t *testing.T) {
	testCases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"nil error", nil, false},
		{"network timeout", errors.New("dial tcp: i/o timeout"), true},
		{"generic extraction failure", errors.New("unable to extract player response"), true},
		{"http 403", errors.New("yt-dlp failed: HTTP Error 403: Forbidden"), false},
		{"http 404", errors.New("yt-dlp failed: HTTP Error 404: Not Found"), false},
		{"forbidden", errors.New("access forbidden"), false},
		{"drm protected", errors.New("this video is DRM protected"), false},
		{"private video", errors.New("Private video. Sign in if you've been granted access"), false},
		{"removed upload", errors.New("this video has been removed by the uploader"), false},
		{"not available", errors.New("video not available"), false},
		{"region locked", errors.New("this video is not available in your country"), false},
		{"region unavailable", errors.New("content unavailable in your region"), false},
		{"members only", errors.New("Join this channel to get access to members-only content"), false},
		{"postprocessing", errors.New("ERROR: Postprocessing: audio conversion failed"), false},
		{"ffmpeg missing", errors.New("ffmpeg not found"), false},
		{"rate limited", errors.New("HTTP Error 429: Too Many Requests"), true},
		{"wrapped permanent", fmt.Errorf("download failed: %w", errors.New("HTTP Error 404: Not Found")), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsRetryable(tc.err); got != tc.retryable {
				t.Errorf("IsRetryable(%v) = %t, want %t", tc.err, got, tc.retryable)
			}
		})
	}
}
