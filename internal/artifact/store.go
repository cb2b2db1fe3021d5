// Package artifact implements the pipeline's staging area: a directory tree
// of per-interval stage outputs. Writes go to a temp file first and become
// visible only after an atomic rename, so downstream stages never observe a
// partial artifact.
package artifact

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Store manages artifact files under a base directory.
type Store struct {
	Root string
}

// Info describes one stored artifact.
type Info struct {
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
}

// NewStore creates a store rooted at baseDir.
func NewStore(baseDir string) *Store {
	return &Store{Root: baseDir}
}

// IntervalDir returns (and creates) the directory for one logical interval.
func (s *Store) IntervalDir(interval string) (string, error) {
	dir := filepath.Join(s.Root, interval)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create artifact directory: %w", err)
	}
	return dir, nil
}

// Path returns the physical location of a named artifact for an interval.
func (s *Store) Path(interval, name string) string {
	return filepath.Join(s.Root, interval, filepath.Base(name))
}

// Write stages an artifact: the producer writes to a temp file in the same
// directory, which is then renamed over the final path. A re-run for the same
// interval overwrites atomically.
func (s *Store) Write(interval, name string, produce func(io.Writer) error) (string, error) {
	dir, err := s.IntervalDir(interval)
	if err != nil {
		return "", err
	}
	final := filepath.Join(dir, filepath.Base(name))

	tmp, err := os.CreateTemp(dir, filepath.Base(name)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp artifact: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := produce(tmp); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("failed to sync artifact %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close artifact %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), final); err != nil {
		return "", fmt.Errorf("failed to commit artifact %s: %w", name, err)
	}
	return final, nil
}

// WriteJSON stages a JSON artifact.
func (s *Store) WriteJSON(interval, name string, v any) (string, error) {
	return s.Write(interval, name, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// Exists reports whether the named artifact has been committed.
func (s *Store) Exists(interval, name string) bool {
	_, err := os.Stat(s.Path(interval, name))
	return err == nil
}

// Remove invalidates one artifact. Removing an artifact that was never
// written is not an error.
func (s *Store) Remove(interval, name string) error {
	err := os.Remove(s.Path(interval, name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove artifact %s: %w", name, err)
	}
	return nil
}

// List returns the committed artifacts for an interval, sorted by name.
func (s *Store) List(interval string) ([]Info, error) {
	dir := filepath.Join(s.Root, interval)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	var out []Info
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		out = append(out, Info{
			Name:       e.Name(),
			Path:       filepath.Join(dir, e.Name()),
			SizeBytes:  fi.Size(),
			ModifiedAt: fi.ModTime(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}
