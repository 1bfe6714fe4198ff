package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"degpredict/domain/core"
)

// Provider represents different storage backends
type Provider string

const (
	ProviderLocal  Provider = "local"
	ProviderS3     Provider = "s3"
	ProviderMemory Provider = "memory"
)

// Store holds stage artifacts under slash-separated keys such as
// "processed/deg_results.csv". Stages only talk to each other through it.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns an error wrapping core.ErrArtifactNotFound for absent keys
	Get(ctx context.Context, key string) ([]byte, error)
	Exists(ctx context.Context, key string) (bool, error)
	// List returns the keys under prefix in lexical order
	List(ctx context.Context, prefix string) ([]string, error)
	Provider() Provider
}

// Options selects and configures a backend
type Options struct {
	Driver      string
	DataDir     string
	S3Bucket    string
	S3Region    string
	S3Endpoint  string
	S3Prefix    string
	S3PathStyle bool
}

// Open builds the store named by opts.Driver
func Open(ctx context.Context, opts Options) (Store, error) {
	switch Provider(opts.Driver) {
	case ProviderLocal, "":
		return NewLocalStore(opts.DataDir)
	case ProviderMemory:
		return NewMemoryStore(), nil
	case ProviderS3:
		return NewS3Store(ctx, S3Config{
			Bucket:    opts.S3Bucket,
			Region:    opts.S3Region,
			Endpoint:  opts.S3Endpoint,
			Prefix:    opts.S3Prefix,
			PathStyle: opts.S3PathStyle,
		})
	}
	return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return fmt.Errorf("invalid artifact key %q", key)
	}
	return nil
}

// MemoryStore keeps artifacts in process memory; used by tests and dry runs
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (m *MemoryStore) Provider() Provider { return ProviderMemory }

func (m *MemoryStore) Put(_ context.Context, key string, data []byte) error {
	if err := validKey(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrArtifactNotFound, key)
	}
	return append([]byte(nil), data...), nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.blobs[key]
	return ok, nil
}

func (m *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.blobs {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
