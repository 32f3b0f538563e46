package camera

import (
	"context"
	"io/ioutil"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// Directory serves the most recently modified photo in a media directory,
// usually where the camera pipeline writes captured images.
type Directory struct {
	path string
}

func NewDirectory(path string) *Directory {
	return &Directory{path}
}

func (d *Directory) FetchLatestPhoto(ctx context.Context) (Image, error) {
	entries, err := ioutil.ReadDir(d.path)
	if err != nil {
		return Image{}, errors.WithMessagef(ErrFetchFailed, "reading %s: %v", d.path, err)
	}

	var latest string
	var latestInfo Image
	for _, e := range entries {
		if e.IsDir() || !isPhoto(e.Name()) {
			continue
		}
		if latest == "" || e.ModTime().After(latestInfo.ModTime) {
			latest = e.Name()
			latestInfo = Image{Name: e.Name(), ContentType: contentType(e.Name()), ModTime: e.ModTime()}
		}
	}
	if latest == "" {
		return Image{}, errors.WithMessage(ErrUnavailable, d.path)
	}

	if err := ctx.Err(); err != nil {
		return Image{}, errors.WithMessage(ErrFetchFailed, err.Error())
	}

	data, err := ioutil.ReadFile(filepath.Join(d.path, latest))
	if err != nil {
		return Image{}, errors.WithMessagef(ErrFetchFailed, "reading %s: %v", latest, err)
	}
	latestInfo.Data = data

	return latestInfo, nil
}

func isPhoto(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jpg", ".jpeg", ".dng":
		return true
	}
	return false
}
