package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/kurin/blazer/b2"
)

// B2Store keeps artifacts in a Backblaze B2 bucket.
type B2Store struct {
	client *b2.Client
	bucket *b2.Bucket
	prefix string
}

func NewB2Store(ctx context.Context, accountID, appKey, bucketName, prefix string) (*B2Store, error) {
	client, err := b2.NewClient(ctx, accountID, appKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create b2 client: %w", err)
	}

	bucket, err := client.Bucket(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket: %w", err)
	}

	return &B2Store{client: client, bucket: bucket, prefix: prefix}, nil
}

func (s *B2Store) key(name string) string {
	if s.prefix == "" {
		return name
	}
	return s.prefix + "/" + name
}

func (s *B2Store) Save(ctx context.Context, name string, r io.Reader) (Artifact, error) {
	key := s.key(name)
	w := s.bucket.Object(key).NewWriter(ctx)

	n, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		return Artifact{}, fmt.Errorf("failed to write object %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return Artifact{}, fmt.Errorf("failed to close writer for %s: %w", key, err)
	}

	url := fmt.Sprintf("%s/file/%s/%s", s.bucket.BaseURL(), s.bucket.Name(), key)
	return Artifact{Name: name, Size: n, URL: url}, nil
}

func (s *B2Store) Remove(ctx context.Context, name string) error {
	if err := s.bucket.Object(s.key(name)).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", s.key(name), err)
	}
	return nil
}
