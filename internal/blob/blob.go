// Package blob stores attachment bytes outside the relational store. The
// core only ever sees opaque storage keys; cleanup of staged blobs on a
// rejected ticket is triggered through Delete.
package blob

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// Store is the file collaborator consumed by the services.
type Store interface {
	// Save persists the bytes and returns an opaque storage key.
	Save(ctx context.Context, data []byte, fileName string) (string, error)
	// Open returns the stored bytes for a key.
	Open(ctx context.Context, key string) ([]byte, error)
	// Delete removes the blob for a key. Deleting a missing key is not an
	// error: rejection paths may race with explicit cleanup.
	Delete(ctx context.Context, key string) error
}

// DiskStore keeps blobs as flat files in a single directory, named by a
// random id plus the original extension.
type DiskStore struct {
	dir     string
	maxSize int64
}

// NewDiskStore creates the directory if needed.
func NewDiskStore(dir string, maxSize int64) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &DiskStore{dir: dir, maxSize: maxSize}, nil
}

// ErrTooLarge is returned when a blob exceeds the configured size limit.
var ErrTooLarge = errors.New("blob exceeds size limit")

func (s *DiskStore) Save(ctx context.Context, data []byte, fileName string) (string, error) {
	if s.maxSize > 0 && int64(len(data)) > s.maxSize {
		return "", ErrTooLarge
	}
	key := uuid.NewString() + sanitizeExt(filepath.Ext(fileName))
	if err := os.WriteFile(filepath.Join(s.dir, key), data, 0o644); err != nil {
		return "", err
	}
	return key, nil
}

func (s *DiskStore) Open(ctx context.Context, key string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.dir, filepath.Base(key)))
}

func (s *DiskStore) Delete(ctx context.Context, key string) error {
	err := os.Remove(filepath.Join(s.dir, filepath.Base(key)))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func sanitizeExt(ext string) string {
	ext = strings.ToLower(ext)
	if len(ext) > 10 || strings.ContainsAny(ext, "/\\") {
		return ""
	}
	return ext
}
