package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	lserrors "github.com/logsieve/logsieve/pkg/errors"
)

// FileStore keeps every offset in one JSON document on disk, rewritten
// atomically on each save.
type FileStore struct {
	path string

	mu      sync.Mutex
	offsets map[string]Offset
}

// NewFileStore opens (or creates) the checkpoint file at path.
func NewFileStore(path string) (*FileStore, error) {
	s := &FileStore{
		path:    path,
		offsets: make(map[string]Offset),
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeCheckpoint,
			"reading checkpoint file %s", path)
	}
	if err := json.Unmarshal(data, &s.offsets); err != nil {
		return nil, lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeCheckpoint,
			"parsing checkpoint file %s", path)
	}
	return s, nil
}

// Load implements Store.
func (s *FileStore) Load(_ context.Context, file string) (Offset, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	off, ok := s.offsets[file]
	return off, ok, nil
}

// Save implements Store.
func (s *FileStore) Save(_ context.Context, file string, off Offset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offsets[file] = off
	return s.flush()
}

// Delete implements Store.
func (s *FileStore) Delete(_ context.Context, file string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.offsets[file]; !ok {
		return nil
	}
	delete(s.offsets, file)
	return s.flush()
}

// flush rewrites the document. Write to a temp file first, then rename
// (atomic). Caller holds the lock.
func (s *FileStore) flush() error {
	data, err := json.MarshalIndent(s.offsets, "", "  ")
	if err != nil {
		return lserrors.Wrap(err, lserrors.SeverityFatal, lserrors.CodeCheckpoint,
			"encoding checkpoints")
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeCheckpoint,
				"creating checkpoint directory %s", dir)
		}
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeCheckpoint,
			"writing %s", tempPath)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return lserrors.Wrapf(err, lserrors.SeverityFatal, lserrors.CodeCheckpoint,
			"replacing %s", s.path)
	}
	return nil
}

// Close implements Store.
func (s *FileStore) Close() error { return nil }
