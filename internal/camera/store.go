package camera

import (
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Store keeps accepted photos as <root>/structure-NNN/photo-NNN.<ext>,
// numbered from 1.
type Store struct {
	root string
}

func NewStore(root string) *Store {
	return &Store{root}
}

func (s *Store) Path(structure, photo int, img Image) string {
	return filepath.Join(s.root,
		fmt.Sprintf("structure-%03d", structure+1),
		fmt.Sprintf("photo-%03d%s", photo+1, img.Extension()))
}

func (s *Store) Save(structure, photo int, img Image) (string, error) {
	if len(img.Data) == 0 {
		return "", errors.Errorf("photo %s has no data", img.Name)
	}

	path := s.Path(structure, photo, img)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", errors.WithMessagef(err, "creating %s", filepath.Dir(path))
	}
	if err := ioutil.WriteFile(path, img.Data, 0644); err != nil {
		return "", errors.WithMessagef(err, "writing %s", path)
	}

	return path, nil
}
