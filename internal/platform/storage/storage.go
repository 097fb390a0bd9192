package storage

import (
	"context"
	"io"
)

// Artifact describes a stored object.
type Artifact struct {
	Name string
	Size int64
	// URL is set by backends that can serve the object remotely.
	URL string
}

// ArtifactStore persists uploaded files and runner payload archives.
type ArtifactStore interface {
	Save(ctx context.Context, name string, r io.Reader) (Artifact, error)
	Remove(ctx context.Context, name string) error
}
