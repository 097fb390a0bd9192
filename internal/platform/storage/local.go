package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// artifactMode lets a runner running as another user read shared artifacts.
const artifactMode = 0o644

// LocalStore writes artifacts as individual files under one directory.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact directory %s: %w", dir, err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Dir() string {
	return s.dir
}

func (s *LocalStore) path(name string) (string, error) {
	clean := filepath.Base(name)
	if clean != name || clean == "." || clean == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("invalid artifact name %q", name)
	}
	return filepath.Join(s.dir, clean), nil
}

// Save writes through a temp file and renames it into place so readers
// never observe a partial artifact.
func (s *LocalStore) Save(ctx context.Context, name string, r io.Reader) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return Artifact{}, err
	}
	dst, err := s.path(name)
	if err != nil {
		return Artifact{}, err
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return Artifact{}, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return Artifact{}, fmt.Errorf("write artifact %s: %w", name, err)
	}
	if err := tmp.Chmod(artifactMode); err != nil {
		tmp.Close()
		return Artifact{}, fmt.Errorf("chmod artifact %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return Artifact{}, fmt.Errorf("close artifact %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return Artifact{}, fmt.Errorf("move artifact %s into place: %w", name, err)
	}
	return Artifact{Name: name, Size: n}, nil
}

func (s *LocalStore) Remove(_ context.Context, name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove artifact %s: %w", name, err)
	}
	return nil
}
