// Package media stores chat audio/video and persona art in a GCS bucket and
// hands out time-limited read URLs. Keys are opaque to the rest of the
// system; their shape is validated by callers before proxying.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// ErrNotFound marks reads of keys that have no stored object.
var ErrNotFound = errors.New("object not found")

type Store struct {
	client *storage.Client
	bucket string
}

func NewStore(ctx context.Context, bucket string) (*Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("media bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create storage client: %w", err)
	}
	return &Store{client: client, bucket: bucket}, nil
}

// Put stores bytes under an explicit key. Re-uploads under a fresh key never
// overwrite prior objects because callers always generate a new id segment.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("write object %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize object %q: %w", key, err)
	}
	return nil
}

// SignedURL issues a V4 time-limited read URL bound to the current time, so
// two calls at different times yield different URLs.
func (s *Store) SignedURL(key string, ttl time.Duration) (string, error) {
	u, err := s.client.Bucket(s.bucket).SignedURL(key, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("sign url for %q: %w", key, err)
	}
	return u, nil
}

// Open returns a streaming reader over one object plus its content type.
func (s *Store) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, "", fmt.Errorf("open object %q: %w", key, ErrNotFound)
		}
		return nil, "", fmt.Errorf("open object %q: %w", key, err)
	}
	return r, r.Attrs.ContentType, nil
}

// List returns the keys under a prefix.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	keys := make([]string, 0, 16)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list prefix %q: %w", prefix, err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}
