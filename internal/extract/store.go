package extract

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/loghawk/loghawk/internal/models"
)

// ContentStore is the interface to the upload object storage collaborator.
// The pipeline only ever reads whole uploads through it.
type ContentStore interface {
	Save(uploadID, fileName string, r io.Reader) (int64, error)
	Lines(uploadID, fileName string) ([]models.LogLine, error)
}

// DirStore keeps upload content in a local directory, one file per upload
// id. It stands in for remote object storage.
type DirStore struct {
	dir string
}

// NewDirStore creates the directory if needed.
func NewDirStore(dir string) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create content dir: %w", err)
	}
	return &DirStore{dir: dir}, nil
}

func (s *DirStore) path(uploadID, fileName string) string {
	return filepath.Join(s.dir, uploadID+filepath.Ext(fileName))
}

// Save writes the upload content and returns its size.
func (s *DirStore) Save(uploadID, fileName string, r io.Reader) (int64, error) {
	f, err := os.Create(s.path(uploadID, fileName))
	if err != nil {
		return 0, fmt.Errorf("store upload content: %w", err)
	}
	defer f.Close()

	n, err := io.Copy(f, r)
	if err != nil {
		return 0, fmt.Errorf("store upload content: %w", err)
	}
	return n, nil
}

// Lines reads the stored content back as ordered log lines using the reader
// for the original file's format.
func (s *DirStore) Lines(uploadID, fileName string) ([]models.LogLine, error) {
	reader, err := ForFile(fileName)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(s.path(uploadID, fileName))
	if err != nil {
		return nil, fmt.Errorf("read upload content: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return reader.Lines(f, stat.Size())
}
