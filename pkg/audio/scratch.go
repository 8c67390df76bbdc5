package audio

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// scratchPrefix marks files owned by a Scratch so stray leftovers are easy to
// spot and sweep.
const scratchPrefix = "eikaiwa-"

// Scratch hands out uniquely named temporary files in one directory. Names
// are uuid-based so concurrent sessions never collide. Safe for concurrent use.
type Scratch struct {
	dir string
}

// NewScratch returns a Scratch rooted at dir, creating it if needed. An empty
// dir selects os.TempDir().
func NewScratch(dir string) (*Scratch, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("audio: scratch dir %q: %w", dir, err)
	}
	return &Scratch{dir: dir}, nil
}

// Dir returns the scratch directory.
func (s *Scratch) Dir() string { return s.dir }

// Path returns a fresh unique path with the given extension (".wav", "mp3").
// No file is created.
func (s *Scratch) Path(ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return filepath.Join(s.dir, scratchPrefix+uuid.NewString()+ext)
}

// WriteFile writes data to a fresh unique file and returns its path. The
// caller owns the file and must Remove it.
func (s *Scratch) WriteFile(ext string, data []byte) (string, error) {
	path := s.Path(ext)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		// A partial write may have left the file behind.
		s.Remove(path)
		return "", fmt.Errorf("audio: write scratch file: %w", err)
	}
	return path, nil
}

// Remove deletes a scratch file. A file that is already gone is not an error;
// other failures are logged, never returned, so it can be deferred.
func (s *Scratch) Remove(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("audio: failed to remove scratch file", "path", path, "err", err)
	}
}

// Leftovers lists scratch files still present in the directory.
func (s *Scratch) Leftovers() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.dir, scratchPrefix+"*"))
	if err != nil {
		return nil, fmt.Errorf("audio: list scratch files: %w", err)
	}
	return matches, nil
}
