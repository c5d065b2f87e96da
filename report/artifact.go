package report

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned when an artifact or its source response does
// not exist.
var ErrNotFound = errors.New("report: not found")

// ArtifactStore persists rendered report bytes under opaque names.
type ArtifactStore interface {
	Write(name string, data []byte) error
	Read(name string) ([]byte, error)
}

// FSStore keeps artifacts as files under a single directory.
type FSStore struct {
	dir string
}

func NewFSStore(dir string) *FSStore {
	return &FSStore{dir: dir}
}

func (s *FSStore) Write(name string, data []byte) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, filepath.Base(name)), data, 0o644)
}

func (s *FSStore) Read(name string) ([]byte, error) {
	// names are generated, but never trust a path from a URL
	base := filepath.Base(name)
	if base != name || strings.Contains(name, "..") {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(filepath.Join(s.dir, base))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}
