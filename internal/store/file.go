// Package store persists the aggregate dataset as a single JSON document on
// disk. The unit of consistency is the whole document: readers get a full
// snapshot, writers rewrite the file atomically via a temp file and rename.
// An advisory flock guards against an external process interleaving writes;
// in-process serialization of mutations is the engine's job.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"

	"github.com/soaska/botpulse/internal/model"
)

// DatasetStore is the durable-store collaborator consumed by the engine and
// the projector.
type DatasetStore interface {
	Load() (*model.Dataset, error)
	Save(ds *model.Dataset) error
}

// FileStore implements DatasetStore on a single JSON file.
type FileStore struct {
	path string
	mu   sync.Mutex
	now  func() time.Time
	log  zerolog.Logger
}

// NewFileStore creates a store for the given file path, creating the parent
// directory if needed.
func NewFileStore(path string, log zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{
		path: path,
		now:  time.Now,
		log:  log,
	}, nil
}

// Load reads the full dataset. A missing file yields a default-initialized
// dataset. A corrupt file also yields a default dataset, along with the parse
// error so the caller can log the degradation.
func (s *FileStore) Load() (*model.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.flock(unix.LOCK_SH)
	if err != nil {
		return model.NewDataset(s.now()), fmt.Errorf("failed to lock dataset file: %w", err)
	}
	defer unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return model.NewDataset(s.now()), nil
	}
	if err != nil {
		return model.NewDataset(s.now()), fmt.Errorf("failed to read dataset file: %w", err)
	}

	var ds model.Dataset
	if err := json.Unmarshal(raw, &ds); err != nil {
		return model.NewDataset(s.now()), fmt.Errorf("failed to decode dataset file: %w", err)
	}
	ds.Normalize()
	return &ds, nil
}

// Save rewrites the whole document. The write goes to a temp file in the same
// directory and is renamed over the target, so readers never observe a
// partial document.
func (s *FileStore) Save(ds *model.Dataset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.flock(unix.LOCK_EX)
	if err != nil {
		return fmt.Errorf("failed to lock dataset file: %w", err)
	}
	defer unlock()

	raw, err := json.MarshalIndent(ds, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".dataset-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace dataset file: %w", err)
	}
	return nil
}

// Snapshot copies the current on-disk document to dst for backup purposes.
// A store that has never been saved snapshots nothing.
func (s *FileStore) Snapshot(dst string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.flock(unix.LOCK_SH)
	if err != nil {
		return fmt.Errorf("failed to lock dataset file: %w", err)
	}
	defer unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read dataset file: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}
	if err := os.WriteFile(dst, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}
	return nil
}

// flock takes an advisory lock on a sidecar lock file and returns the
// release func.
func (s *FileStore) flock(how int) (func(), error) {
	f, err := os.OpenFile(s.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), how); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
			s.log.Warn().Err(err).Msg("failed to release dataset file lock")
		}
		f.Close()
	}, nil
}
