package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	uploadTimeout = 2 * time.Minute
	objectTimeout = 30 * time.Second
	publicHost    = "https://storage.googleapis.com"
)

// GCSStore keeps each bucket in a Cloud Storage bucket named "<prefix>-<bucket>".
type GCSStore struct {
	client *storage.Client
	prefix string
	logger *zap.Logger
}

// NewGCSClient opens a storage client. An empty credentialsFile uses application default credentials.
func NewGCSClient(ctx context.Context, credentialsFile string) (*storage.Client, error) {
	opts := []option.ClientOption{option.WithScopes(storage.ScopeReadWrite)}
	if strings.TrimSpace(credentialsFile) != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return client, nil
}

func NewGCSStore(client *storage.Client, prefix string, logger *zap.Logger) (*GCSStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &GCSStore{
		client: client,
		prefix: strings.Trim(strings.TrimSpace(prefix), "-"),
		logger: logger,
	}, nil
}

func (s *GCSStore) bucketName(bucket Bucket) (string, error) {
	if !bucket.IsValid() {
		return "", fmt.Errorf("unknown bucket %q", bucket)
	}
	if s.prefix == "" {
		return string(bucket), nil
	}
	return s.prefix + "-" + string(bucket), nil
}

func (s *GCSStore) Put(ctx context.Context, bucket Bucket, key string, data []byte, contentType string) (string, error) {
	name, err := s.bucketName(bucket)
	if err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(name).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	if w.ContentType == "" {
		w.ContentType = ContentTypeForKey(key)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("failed to write %s/%s: %w", name, key, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("failed to close writer for %s/%s: %w", name, key, err)
	}

	return publicHost + "/" + name + "/" + (&url.URL{Path: key}).EscapedPath(), nil
}

func (s *GCSStore) Get(ctx context.Context, bucket Bucket, key string) ([]byte, error) {
	name, err := s.bucketName(bucket)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	r, err := s.client.Bucket(name).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s/%s: %w", name, key, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s/%s: %w", name, key, err)
	}
	return data, nil
}

func (s *GCSStore) Delete(ctx context.Context, bucket Bucket, key string) error {
	name, err := s.bucketName(bucket)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, objectTimeout)
	defer cancel()

	err = s.client.Bucket(name).Object(key).Delete(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
	}
	if err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", name, key, err)
	}
	return nil
}

func (s *GCSStore) List(ctx context.Context, bucket Bucket, prefix string) ([]Object, error) {
	name, err := s.bucketName(bucket)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, objectTimeout)
	defer cancel()

	it := s.client.Bucket(name).Objects(ctx, &storage.Query{Prefix: prefix})
	var objects []Object
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", name, err)
		}
		objects = append(objects, Object{
			Key:          attrs.Name,
			Size:         attrs.Size,
			LastModified: attrs.Updated,
		})
	}
	return objects, nil
}

// Ping checks that every bucket is reachable.
func (s *GCSStore) Ping(ctx context.Context) error {
	for _, b := range Buckets() {
		name, _ := s.bucketName(b)
		if _, err := s.client.Bucket(name).Attrs(ctx); err != nil {
			return fmt.Errorf("bucket %s unavailable: %w", name, err)
		}
	}
	return nil
}

func (s *GCSStore) Close() error {
	return s.client.Close()
}
