// Package camera provides photo sources for the review step and the store
// for accepted photos.
package camera

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrFetchFailed = errors.New("photo fetch failed")
	ErrUnavailable = errors.New("no photo available")
)

type Image struct {
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	ModTime     time.Time `json:"mod_time"`
	Data        []byte    `json:"-"`
}

// Extension returns the file extension for the image, including the dot.
func (i Image) Extension() string {
	if ext := strings.ToLower(filepath.Ext(i.Name)); ext != "" {
		return ext
	}
	switch i.ContentType {
	case "image/jpeg":
		return ".jpg"
	case "image/x-adobe-dng":
		return ".dng"
	}
	return ".bin"
}

func contentType(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".dng":
		return "image/x-adobe-dng"
	}
	return "application/octet-stream"
}
