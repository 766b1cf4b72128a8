package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps one file per id under a root directory.
type FileStore struct {
	root string
}

// NewFileStore creates root (0700) if needed.
func NewFileStore(root string) (*FileStore, error) {
	if root == "" {
		return nil, errors.New("blobstore: directory is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o700); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FileStore{root: abs}, nil
}

func (s *FileStore) path(id string) string {
	return filepath.Join(s.root, id+".blob")
}

// Store writes data atomically: temp file, fsync, rename.
func (s *FileStore) Store(ctx context.Context, id string, data []byte) (string, error) {
	if err := ValidateID(id); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(s.root, ".tmp-*")
	if err != nil {
		return "", err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	dst := s.path(id)
	if err := os.Rename(tmpName, dst); err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(dst), nil
}

// Retrieve returns nil, nil when the id was never stored.
func (s *FileStore) Retrieve(ctx context.Context, id string) ([]byte, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return data, err
}

// Delete removes the blob; absent ids are not an error.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
