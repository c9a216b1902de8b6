package storage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"
)

// Local is a filesystem-backed ObjectStore rooted at a directory. Used for
// development and tests.
type Local struct {
	root string
}

// NewLocal creates a Local store rooted at dir, creating it if needed.
func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "storage: create root %s", dir)
	}
	return &Local{root: dir}, nil
}

func (l *Local) resolve(path string) (string, error) {
	full := filepath.Join(l.root, filepath.FromSlash(path))
	if !strings.HasPrefix(filepath.Clean(full), filepath.Clean(l.root)+string(os.PathSeparator)) {
		return "", eris.Errorf("storage: path escapes root: %s", path)
	}
	return full, nil
}

func (l *Local) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if _, err := os.Stat(full); err == nil {
		return ErrConflict
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return eris.Wrapf(err, "storage: mkdir for %s", path)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return eris.Wrapf(err, "storage: write %s", path)
	}
	return nil
}

func (l *Local) Download(ctx context.Context, path string) ([]byte, error) {
	full, err := l.resolve(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		return nil, eris.Wrapf(err, "storage: read %s", path)
	}
	return data, nil
}

func (l *Local) DownloadToFile(ctx context.Context, path, destPath string) error {
	data, err := l.Download(ctx, path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return eris.Wrapf(err, "storage: mkdir for %s", destPath)
	}
	if err := os.WriteFile(destPath, data, 0o644); err != nil {
		return eris.Wrapf(err, "storage: write %s", destPath)
	}
	return nil
}

func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	full, err := l.resolve(path)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, eris.Wrapf(err, "storage: stat %s", path)
	}
	return true, nil
}

func (l *Local) List(ctx context.Context, prefix string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(l.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(l.root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			paths = append(paths, key)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "storage: list %s", prefix)
	}
	return paths, nil
}

func (l *Local) Remove(ctx context.Context, path string) error {
	full, err := l.resolve(path)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return eris.Wrapf(err, "storage: remove %s", path)
	}
	return nil
}
