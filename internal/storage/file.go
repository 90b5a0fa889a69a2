package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/google/uuid"
)

// FileStore keeps every key in its own JSON file: <root>/<scope>/<key>.json.
type FileStore struct {
	fs billy.Filesystem
}

// NewFileStore stores files below dir on the local disk.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return NewFileStoreFS(osfs.New(dir)), nil
}

// NewFileStoreFS stores files on an arbitrary billy filesystem.
func NewFileStoreFS(fs billy.Filesystem) *FileStore {
	return &FileStore{fs: fs}
}

func (s *FileStore) Get(_ context.Context, scope, key string) ([]byte, error) {
	name, err := fileName(scope, key)
	if err != nil {
		return nil, err
	}

	data, err := util.ReadFile(s.fs, name)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}

// Set writes to a temporary file and renames it so readers never see a partial value.
func (s *FileStore) Set(_ context.Context, scope, key string, value []byte) error {
	name, err := fileName(scope, key)
	if err != nil {
		return err
	}

	if err := s.fs.MkdirAll(path.Dir(name), 0o755); err != nil {
		return fmt.Errorf("create scope dir: %w", err)
	}

	tmp := fmt.Sprintf("%s.%s.tmp", name, uuid.NewString())
	if err := util.WriteFile(s.fs, tmp, value, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := s.fs.Rename(tmp, name); err != nil {
		_ = s.fs.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

func (s *FileStore) Delete(_ context.Context, scope string, keys ...string) error {
	var errs []error
	for _, key := range keys {
		name, err := fileName(scope, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := s.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, fmt.Errorf("remove %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

func (s *FileStore) Close() error {
	return nil
}

func fileName(scope, key string) (string, error) {
	if err := validate(scope, key); err != nil {
		return "", err
	}
	if strings.ContainsAny(scope+key, `/\`) || scope == ".." || key == ".." {
		return "", fmt.Errorf("%w: path separators are not allowed", ErrInvalidScope)
	}
	return path.Join(scope, key+".json"), nil
}
