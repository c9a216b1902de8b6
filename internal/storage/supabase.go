package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/agroamigo/sipsa-pipeline/pkg/supabase"
)

// Supabase adapts a supabase.Client to the ObjectStore interface, pinned to
// one bucket.
type Supabase struct {
	client supabase.Client
	bucket string
}

// NewSupabase wraps client for the given bucket.
func NewSupabase(client supabase.Client, bucket string) *Supabase {
	return &Supabase{client: client, bucket: bucket}
}

func (s *Supabase) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	err := s.client.Upload(ctx, s.bucket, path, data, contentType)
	if errors.Is(err, supabase.ErrExists) {
		return ErrConflict
	}
	return err
}

func (s *Supabase) Download(ctx context.Context, path string) ([]byte, error) {
	return s.client.Download(ctx, s.bucket, path)
}

func (s *Supabase) DownloadToFile(ctx context.Context, path, destPath string) error {
	data, err := s.client.Download(ctx, s.bucket, path)
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

func (s *Supabase) Exists(ctx context.Context, path string) (bool, error) {
	return s.client.Exists(ctx, s.bucket, path)
}

func (s *Supabase) List(ctx context.Context, prefix string) ([]string, error) {
	objects, err := s.client.List(ctx, s.bucket, prefix)
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(objects))
	for _, o := range objects {
		paths = append(paths, o.Name)
	}
	return paths, nil
}

func (s *Supabase) Remove(ctx context.Context, path string) error {
	return s.client.Remove(ctx, s.bucket, path)
}
