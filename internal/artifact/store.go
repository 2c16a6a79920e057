// Package artifact stores produced export archives on the local
// filesystem, one blob per job, addressed by an opaque ref.
package artifact

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Store is a durable blob store for export archives. Writes go through a
// temp file and a rename so a partially written artifact is never visible.
type Store struct {
	dir string
	log *slog.Logger
}

func NewStore(dir string, log *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact dir: %w", err)
	}
	return &Store{dir: dir, log: log}, nil
}

// Put streams r into the store under ref and returns the byte count.
func (s *Store) Put(ref string, r io.Reader) (int64, error) {
	if err := validateRef(ref); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(s.dir, ".put-*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return 0, fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), s.path(ref)); err != nil {
		return 0, fmt.Errorf("publish artifact: %w", err)
	}
	s.log.Info("artifact stored", "ref", ref, "size_bytes", n)
	return n, nil
}

// Open returns a streaming reader plus the blob size. Callers must close it.
func (s *Store) Open(ref string) (io.ReadSeekCloser, int64, error) {
	if err := validateRef(ref); err != nil {
		return nil, 0, err
	}
	f, err := os.Open(s.path(ref))
	if err != nil {
		return nil, 0, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, st.Size(), nil
}

// Delete removes the blob. Deleting a missing ref is not an error.
func (s *Store) Delete(ref string) error {
	if err := validateRef(ref); err != nil {
		return err
	}
	err := os.Remove(s.path(ref))
	if err != nil && !os.IsNotExist(err) {
		s.log.Error("artifact delete failed", "ref", ref, "error", err)
		return err
	}
	return nil
}

// Info describes one stored blob.
type Info struct {
	Ref     string
	ModTime time.Time
}

// List returns every stored blob, for the orphan sweep. Sweepers should
// age-gate on ModTime so a blob written just before its job row flips to
// READY is never mistaken for an orphan.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var infos []Info
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{Ref: strings.TrimSuffix(name, ".zip"), ModTime: fi.ModTime()})
	}
	return infos, nil
}

func (s *Store) path(ref string) string {
	return filepath.Join(s.dir, ref+".zip")
}

// Refs come from job ids we mint ourselves; reject anything that could
// escape the store directory.
func validateRef(ref string) error {
	if ref == "" || strings.ContainsAny(ref, `/\`) || strings.Contains(ref, "..") {
		return fmt.Errorf("invalid artifact ref %q", ref)
	}
	return nil
}
