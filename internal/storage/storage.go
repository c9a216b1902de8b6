// Package storage abstracts the object store that holds raw source files.
// Paths are forward-slash keys relative to the bucket root.
package storage

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrConflict reports that an object already exists at the target path.
// Uploaders treat it as success: the bytes are already there.
var ErrConflict = eris.New("storage: object already exists")

// ObjectStore defines the blob operations the pipeline needs.
type ObjectStore interface {
	// Upload writes data at path. Returns ErrConflict if an object is
	// already present there.
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	// Download returns the object bytes at path.
	Download(ctx context.Context, path string) ([]byte, error)
	// DownloadToFile streams the object at path into destPath.
	DownloadToFile(ctx context.Context, path, destPath string) error
	// Exists reports whether an object is present at path.
	Exists(ctx context.Context, path string) (bool, error)
	// List returns the object paths under prefix.
	List(ctx context.Context, prefix string) ([]string, error)
	// Remove deletes the object at path. Removing a missing object is not
	// an error.
	Remove(ctx context.Context, path string) error
}
