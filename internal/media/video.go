// Package media holds helpers for the dashcam files the service accepts.
package media

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var videoExtensions = map[string]bool{".mp4": true, ".avi": true, ".mov": true}

// IsVideoFile reports whether name has an accepted video extension, in any case.
func IsVideoFile(name string) bool {
	return videoExtensions[strings.ToLower(filepath.Ext(name))]
}

// ListVideos returns the video files directly inside dir, sorted by name.
func ListVideos(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Type().IsRegular() && IsVideoFile(e.Name()) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(out)
	return out, nil
}
