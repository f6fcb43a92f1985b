// Package storagetest provides an in-memory object store for tests.
package storagetest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kursadbilgin/production-control/internal/storage"
)

type object struct {
	data         []byte
	contentType  string
	lastModified time.Time
}

// MemoryStore implements storage.ObjectStore. Fn fields inject failures.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[storage.Bucket]map[string]object
	now     func() time.Time

	DeleteFn func(bucket storage.Bucket, key string) error
	ListFn   func(bucket storage.Bucket) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[storage.Bucket]map[string]object),
		now:     time.Now,
	}
}

// PutAt stores an object with an explicit modification time.
func (m *MemoryStore) PutAt(bucket storage.Bucket, key string, data []byte, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.objects[bucket] == nil {
		m.objects[bucket] = make(map[string]object)
	}
	m.objects[bucket][key] = object{data: append([]byte(nil), data...), lastModified: at}
}

func (m *MemoryStore) Put(_ context.Context, bucket storage.Bucket, key string, data []byte, contentType string) (string, error) {
	m.PutAt(bucket, key, data, m.now())

	m.mu.Lock()
	obj := m.objects[bucket][key]
	obj.contentType = contentType
	m.objects[bucket][key] = obj
	m.mu.Unlock()

	return fmt.Sprintf("http://storage.test/%s/%s", bucket, key), nil
}

func (m *MemoryStore) Get(_ context.Context, bucket storage.Bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	obj, ok := m.objects[bucket][key]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", storage.ErrObjectNotFound, bucket, key)
	}
	return append([]byte(nil), obj.data...), nil
}

func (m *MemoryStore) Delete(_ context.Context, bucket storage.Bucket, key string) error {
	if m.DeleteFn != nil {
		if err := m.DeleteFn(bucket, key); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.objects[bucket][key]; !ok {
		return fmt.Errorf("%w: %s/%s", storage.ErrObjectNotFound, bucket, key)
	}
	delete(m.objects[bucket], key)
	return nil
}

func (m *MemoryStore) List(_ context.Context, bucket storage.Bucket, prefix string) ([]storage.Object, error) {
	if m.ListFn != nil {
		if err := m.ListFn(bucket); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var objects []storage.Object
	for key, obj := range m.objects[bucket] {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, storage.Object{
				Key:          key,
				Size:         int64(len(obj.data)),
				LastModified: obj.lastModified,
			})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

// ContentType returns the content type an object was stored with.
func (m *MemoryStore) ContentType(bucket storage.Bucket, key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[bucket][key].contentType
}

// Has reports whether the object exists.
func (m *MemoryStore) Has(bucket storage.Bucket, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.objects[bucket][key]
	return ok
}
