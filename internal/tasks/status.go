package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/lgulliver/upturn/internal/common"
	"github.com/lgulliver/upturn/pkg/types"
)

// DefaultTrackedHandles bounds MemoryStatusStore when no size is given
const DefaultTrackedHandles = 1024

// ErrUnknownDownload is returned when a download ID is not tracked
var ErrUnknownDownload = errors.New("unknown download")

// StatusStore keeps the latest status of each download handle
type StatusStore interface {
	Put(ctx context.Context, handle types.DownloadHandle) error
	Get(ctx context.Context, id string) (types.DownloadHandle, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStatusStore keeps the most recent handles in process. Older handles
// are evicted once the store is full.
type MemoryStatusStore struct {
	cache *lru.Cache[string, types.DownloadHandle]
}

// NewMemoryStatusStore creates a store holding at most size handles
func NewMemoryStatusStore(size int) *MemoryStatusStore {
	if size <= 0 {
		size = DefaultTrackedHandles
	}
	// lru.New only fails for a non-positive size.
	cache, _ := lru.New[string, types.DownloadHandle](size)
	return &MemoryStatusStore{cache: cache}
}

// Put stores handle under its ID
func (m *MemoryStatusStore) Put(_ context.Context, handle types.DownloadHandle) error {
	m.cache.Add(handle.ID, handle)
	return nil
}

// Get returns the handle stored under id
func (m *MemoryStatusStore) Get(_ context.Context, id string) (types.DownloadHandle, error) {
	handle, ok := m.cache.Get(id)
	if !ok {
		return types.DownloadHandle{}, fmt.Errorf("%w: %s", ErrUnknownDownload, id)
	}
	return handle, nil
}

// Delete drops the handle stored under id
func (m *MemoryStatusStore) Delete(_ context.Context, id string) error {
	if !m.cache.Remove(id) {
		return fmt.Errorf("%w: %s", ErrUnknownDownload, id)
	}
	return nil
}

// Len returns the number of tracked handles
func (m *MemoryStatusStore) Len() int {
	return m.cache.Len()
}

const statusKeyPrefix = "upturn:download:"

// RedisStatusStore shares handle status between gateway instances
type RedisStatusStore struct {
	cache *common.Cache
	ttl   time.Duration
}

// NewRedisStatusStore stores handles in cache with the cache's TTL
func NewRedisStatusStore(cache *common.Cache) *RedisStatusStore {
	return &RedisStatusStore{cache: cache, ttl: cache.TTL()}
}

// Put stores handle under its ID
func (r *RedisStatusStore) Put(ctx context.Context, handle types.DownloadHandle) error {
	if err := r.cache.Set(ctx, statusKeyPrefix+handle.ID, handle, r.ttl); err != nil {
		return fmt.Errorf("failed to store download status: %w", err)
	}
	return nil
}

// Get returns the handle stored under id
func (r *RedisStatusStore) Get(ctx context.Context, id string) (types.DownloadHandle, error) {
	var handle types.DownloadHandle
	if err := r.cache.Get(ctx, statusKeyPrefix+id, &handle); err != nil {
		if errors.Is(err, common.ErrCacheMiss) {
			return types.DownloadHandle{}, fmt.Errorf("%w: %s", ErrUnknownDownload, id)
		}
		return types.DownloadHandle{}, fmt.Errorf("failed to load download status: %w", err)
	}
	return handle, nil
}

// Delete drops the handle stored under id
func (r *RedisStatusStore) Delete(ctx context.Context, id string) error {
	key := statusKeyPrefix + id
	exists, err := r.cache.Exists(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to check download status: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownDownload, id)
	}
	if err := r.cache.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete download status: %w", err)
	}
	return nil
}
