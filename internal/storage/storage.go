// Package storage is the object storage collaborator for generated and uploaded files.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kursadbilgin/production-control/internal/domain"
)

// Bucket is one of the fixed storage areas.
type Bucket string

const (
	BucketReports Bucket = "reports"
	BucketExports Bucket = "exports"
	BucketImports Bucket = "imports"
)

func (b Bucket) String() string { return string(b) }

func (b Bucket) IsValid() bool {
	switch b {
	case BucketReports, BucketExports, BucketImports:
		return true
	}
	return false
}

func Buckets() []Bucket {
	return []Bucket{BucketReports, BucketExports, BucketImports}
}

var ErrObjectNotFound = fmt.Errorf("%w: object not found", domain.ErrNotFound)

type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// ObjectStore stores files per bucket. Put returns a URL that ParseLocation understands.
type ObjectStore interface {
	Put(ctx context.Context, bucket Bucket, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, bucket Bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket Bucket, key string) error
	List(ctx context.Context, bucket Bucket, prefix string) ([]Object, error)
}

// ParseLocation resolves a file reference into a bucket and key. It accepts a full
// http(s) URL whose path starts with the (optionally prefixed) bucket name,
// "bucket/key", or a bare key in the imports bucket.
func ParseLocation(ref string) (Bucket, string, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", fmt.Errorf("%w: file reference is required", domain.ErrValidation)
	}

	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 2)
		if len(parts) < 2 || parts[1] == "" {
			return BucketImports, parts[0], nil
		}
		bucket, ok := bucketFromName(parts[0])
		if !ok {
			return "", "", fmt.Errorf("%w: unknown bucket in %q", domain.ErrValidation, ref)
		}
		return bucket, parts[1], nil
	}

	if bucketName, key, found := strings.Cut(ref, "/"); found {
		bucket, ok := bucketFromName(bucketName)
		if !ok || key == "" {
			return "", "", fmt.Errorf("%w: unknown bucket in %q", domain.ErrValidation, ref)
		}
		return bucket, key, nil
	}

	return BucketImports, ref, nil
}

// bucketFromName matches "exports" as well as deployment-prefixed names such as "acme-exports".
func bucketFromName(name string) (Bucket, bool) {
	for _, b := range Buckets() {
		if name == string(b) || strings.HasSuffix(name, "-"+string(b)) {
			return b, true
		}
	}
	return "", false
}

func ContentTypeForKey(key string) string {
	s := strings.ToLower(strings.TrimSpace(key))
	switch {
	case strings.HasSuffix(s, ".xlsx"), strings.HasSuffix(s, ".excel"):
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case strings.HasSuffix(s, ".csv"):
		return "text/csv"
	case strings.HasSuffix(s, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(s, ".json"):
		return "application/json"
	default:
		return "application/octet-stream"
	}
}

// IsNotFound reports whether err means the object does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrObjectNotFound)
}
