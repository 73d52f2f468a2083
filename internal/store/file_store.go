package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"relentless-tracks/internal/models"
)

// FileStore writes the state as JSON to a temp file and renames it into
// place. It is also the backup target when the primary store fails.
type FileStore struct {
	path string
}

// NewFileStore returns a store writing to path.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Path returns the file the store writes.
func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Load(_ context.Context) (models.CrawlState, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.CrawlState{}, false, nil
		}
		return models.CrawlState{}, false, err
	}
	var state models.CrawlState
	if err := json.Unmarshal(data, &state); err != nil {
		return models.CrawlState{}, false, fmt.Errorf("decode %s: %w", s.path, err)
	}
	normalizeLoaded(&state, state.CrawlID)
	return state, true, nil
}

func (s *FileStore) Save(_ context.Context, state models.CrawlState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, s.path)
}

func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (s *FileStore) Close() error { return nil }
