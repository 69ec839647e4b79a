package storage

import (
	"context"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// CachedStore puts a write-through LRU of farmer records and a copy of the
// network singleton in front of another Store. Every write reaches the
// backend before the cache is updated, so a failed write never leaves the
// cache ahead of durable state. Updates always read through to the backend
// transaction; only plain reads are served from the cache, and those can
// trail writes made by other processes sharing the backend.
type CachedStore struct {
	Store

	farmers *lru.Cache

	mu      sync.RWMutex
	network *NetworkStats
}

// NewCachedStore wraps backend with a farmer cache of the given size
func NewCachedStore(backend Store, size int) (*CachedStore, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &CachedStore{Store: backend, farmers: cache}, nil
}

// GetNetwork serves the cached singleton, loading it on first use
func (c *CachedStore) GetNetwork(ctx context.Context) (*NetworkStats, error) {
	c.mu.RLock()
	cached := c.network
	c.mu.RUnlock()
	if cached != nil {
		return cached.Clone(), nil
	}

	stats, err := c.Store.GetNetwork(ctx)
	if err != nil || stats == nil {
		return stats, err
	}
	c.setNetwork(stats)
	return stats, nil
}

// CreateNetwork writes through and caches the new singleton
func (c *CachedStore) CreateNetwork(ctx context.Context, stats *NetworkStats) error {
	if err := c.Store.CreateNetwork(ctx, stats); err != nil {
		return err
	}
	c.setNetwork(stats)
	return nil
}

// UpdateNetwork runs fn in the backend transaction and caches the result
func (c *CachedStore) UpdateNetwork(ctx context.Context, fn NetworkFunc) error {
	var written *NetworkStats
	err := c.Store.UpdateNetwork(ctx, func(stats *NetworkStats) (*NetworkStats, error) {
		next, err := fn(stats)
		written = next
		return next, err
	})
	if err != nil {
		return err
	}
	c.setNetwork(written)
	return nil
}

// GetFarmer serves from the LRU, falling back to the backend.
// Absent farmers are not cached.
func (c *CachedStore) GetFarmer(ctx context.Context, address string) (*FarmerData, error) {
	if v, ok := c.farmers.Get(address); ok {
		return v.(*FarmerData).Clone(), nil
	}

	farmer, err := c.Store.GetFarmer(ctx, address)
	if err != nil || farmer == nil {
		return farmer, err
	}
	c.farmers.Add(address, farmer.Clone())
	return farmer, nil
}

// UpdateSession runs fn in the backend transaction, then caches both records
func (c *CachedStore) UpdateSession(ctx context.Context, address string, fn SessionFunc) error {
	var (
		farmer *FarmerData
		stats  *NetworkStats
	)
	err := c.Store.UpdateSession(ctx, address, func(f *FarmerData, s *NetworkStats) (*FarmerData, *NetworkStats, error) {
		var err error
		farmer, stats, err = fn(f, s)
		return farmer, stats, err
	})
	if err != nil {
		return err
	}
	c.farmers.Add(address, farmer.Clone())
	c.setNetwork(stats)
	return nil
}

// Purge drops every cached record
func (c *CachedStore) Purge() {
	c.farmers.Purge()
	c.mu.Lock()
	c.network = nil
	c.mu.Unlock()
}

// Len returns the number of cached farmer records
func (c *CachedStore) Len() int {
	return c.farmers.Len()
}

func (c *CachedStore) setNetwork(stats *NetworkStats) {
	c.mu.Lock()
	c.network = stats.Clone()
	c.mu.Unlock()
}
