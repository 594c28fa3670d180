package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// tempPrefix marks files owned by TempStore so the sweeper never touches
// anything else that happens to live in the upload directory.
const tempPrefix = "upload-"

// TempStore holds accepted uploads on the local filesystem between accept
// and cleanup. Every Save gets a unique name, so concurrent requests never
// share a file.
type TempStore struct {
	dir string
}

// NewTempStore creates the upload directory if needed.
func NewTempStore(dir string) (*TempStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir %s: %w", dir, err)
	}
	return &TempStore{dir: dir}, nil
}

// Save writes data to a new uniquely named file and returns its path.
// ext is the original filename extension (".wav"); it is kept so providers
// that sniff by filename see the right type. A partially written file is
// removed before returning an error.
func (s *TempStore) Save(data []byte, ext string) (string, error) {
	path := filepath.Join(s.dir, tempPrefix+uuid.NewString()+sanitizeExt(ext))
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return "", fmt.Errorf("create temp: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return "", fmt.Errorf("write: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("close: %w", err)
	}
	return path, nil
}

// Remove deletes a file previously returned by Save.
func (s *TempStore) Remove(path string) error {
	if filepath.Dir(path) != filepath.Clean(s.dir) || !strings.HasPrefix(filepath.Base(path), tempPrefix) {
		return fmt.Errorf("refusing to remove %s: not a temp upload", path)
	}
	return os.Remove(path)
}

// Dir returns the upload directory path.
func (s *TempStore) Dir() string { return s.dir }

func sanitizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if len(ext) < 2 || len(ext) > 6 || ext[0] != '.' {
		return ""
	}
	for _, c := range ext[1:] {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') {
			return ""
		}
	}
	return ext
}
