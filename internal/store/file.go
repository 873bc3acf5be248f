package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lifeadmin/commitd/internal/models"
)

// FileStore is a JSON-file-backed store for dev and single-node deployments.
// The whole table lives in memory; every mutation rewrites the file atomically
// (temp file + rename) under one mutex, so concurrent writers cannot interleave
// partial file contents.
type FileStore struct {
	mu   sync.Mutex
	path string
	mem  *MemoryStore
}

func NewFileStore(path string) (*FileStore, error) {
	f := &FileStore{path: path, mem: NewMemoryStore()}
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := f.persist(); err != nil {
				return nil, err
			}
			return f, nil
		}
		return nil, fmt.Errorf("read store file: %w", err)
	}
	var items []models.Commitment
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("decode store file %s: %w", path, err)
	}
	f.mem.load(items)
	return f, nil
}

func (f *FileStore) Get(ctx context.Context, id string) (models.Commitment, error) {
	return f.mem.Get(ctx, id)
}

func (f *FileStore) List(ctx context.Context) ([]models.Commitment, error) {
	return f.mem.List(ctx)
}

func (f *FileStore) ListByOwner(ctx context.Context, owner string) ([]models.Commitment, error) {
	return f.mem.ListByOwner(ctx, owner)
}

func (f *FileStore) FindByVerifier(ctx context.Context, verifier string) ([]models.Commitment, error) {
	return f.mem.FindByVerifier(ctx, verifier)
}

func (f *FileStore) Upsert(ctx context.Context, c models.Commitment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.Upsert(ctx, c); err != nil {
		return err
	}
	return f.persist()
}

func (f *FileStore) MarkNotified(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.MarkNotified(ctx, ids, at); err != nil {
		return err
	}
	return f.persist()
}

func (f *FileStore) Rebind(ctx context.Context, placeholderID string, c models.Commitment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.mem.Rebind(ctx, placeholderID, c); err != nil {
		return err
	}
	return f.persist()
}

func (f *FileStore) Ping(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, err := os.Stat(filepath.Dir(f.path))
	return err
}

func (f *FileStore) persist() error {
	b, err := json.MarshalIndent(f.mem.snapshot(), "", "  ")
	if err != nil {
		return fmt.Errorf("encode store file: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write store file: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("replace store file: %w", err)
	}
	return nil
}
