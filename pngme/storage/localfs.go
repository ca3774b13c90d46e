package storage

import (
	"context"
	"os"
	"path/filepath"

	pngerrors "github.com/flaneur2020/pngme/pngme/errors"
)

// LocalStorage reads and writes png files on the local filesystem. Names
// are paths, resolved against root when relative.
type LocalStorage struct {
	root string
}

// NewLocalStorage returns a LocalStorage rooted at root ("" means the
// working directory).
func NewLocalStorage(root string) *LocalStorage {
	return &LocalStorage{root: root}
}

func (s *LocalStorage) Read(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.pathFor(name))
	if err != nil {
		return nil, pngerrors.ErrStorage.WithCause(err).WithDetail("name", name)
	}
	return data, nil
}

// Write replaces the file atomically: the bytes go to a temporary file in
// the same directory which is then renamed over the target. An existing
// file keeps its permission bits.
func (s *LocalStorage) Write(ctx context.Context, name string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path := s.pathFor(name)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return pngerrors.ErrStorage.WithCause(err).WithDetail("name", name)
	}

	mode := os.FileMode(0o644)
	if info, err := os.Stat(path); err == nil {
		mode = info.Mode().Perm()
	}

	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return pngerrors.ErrStorage.WithCause(err).WithDetail("name", name)
	}
	tmp := f.Name()

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return pngerrors.ErrStorage.WithCause(err).WithDetail("name", name)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return pngerrors.ErrStorage.WithCause(err).WithDetail("name", name)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return pngerrors.ErrStorage.WithCause(err).WithDetail("name", name)
	}
	if err := os.Chmod(tmp, mode); err != nil {
		_ = os.Remove(tmp)
		return pngerrors.ErrStorage.WithCause(err).WithDetail("name", name)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return pngerrors.ErrStorage.WithCause(err).WithDetail("name", name)
	}
	return nil
}

func (s *LocalStorage) pathFor(name string) string {
	if s.root == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.root, name)
}
