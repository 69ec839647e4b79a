package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNetworkExists is returned by CreateNetwork when the singleton is already stored
	ErrNetworkExists = errors.New("network stats already exist")
	// ErrTxConflict is returned when concurrent writers kept invalidating a transaction
	ErrTxConflict = errors.New("transaction conflict retries exhausted")
)

// SessionFunc computes the records to store from the current ones. farmer is
// nil when the address never farmed, stats is nil before initialization.
// It may be called more than once and must not have side effects.
type SessionFunc func(farmer *FarmerData, stats *NetworkStats) (*FarmerData, *NetworkStats, error)

// NetworkFunc computes the singleton to store from the current one, which is
// nil before initialization. It may be called more than once.
type NetworkFunc func(stats *NetworkStats) (*NetworkStats, error)

// Store is the durable key-value layer behind the analytics engine.
// Getters return nil, nil when the record is absent.
type Store interface {
	// GetNetwork loads the network singleton
	GetNetwork(ctx context.Context) (*NetworkStats, error)
	// CreateNetwork stores the singleton only if absent, else ErrNetworkExists
	CreateNetwork(ctx context.Context, stats *NetworkStats) error
	// UpdateNetwork reads, transforms and writes the singleton atomically
	UpdateNetwork(ctx context.Context, fn NetworkFunc) error
	// GetFarmer loads one farmer record
	GetFarmer(ctx context.Context, address string) (*FarmerData, error)
	// UpdateSession reads a farmer record and the singleton, passes them to fn
	// and writes both results in one transaction. An error from fn aborts the
	// transaction and is returned unchanged.
	UpdateSession(ctx context.Context, address string, fn SessionFunc) error
	// NextSequence returns the next value of the monotonic ledger sequence
	NextSequence(ctx context.Context) (uint64, error)
	// Ping checks the backend is reachable
	Ping(ctx context.Context) error
	// Driver names the backend
	Driver() string
	Close() error
}

// Options selects and configures a backend
type Options struct {
	Driver        string // "redis" or "bolt"
	RedisURL      string
	RedisPassword string
	RedisDB       int
	BoltPath      string
	CacheSize     int // farmer records kept in the write-through cache; 0 disables it
}

// Open creates the configured backend, wrapped in a cache when enabled
func Open(opts Options) (Store, error) {
	var (
		store Store
		err   error
	)

	switch opts.Driver {
	case "redis", "":
		store, err = NewRedisStore(opts.RedisURL, opts.RedisPassword, opts.RedisDB)
	case "bolt":
		store, err = NewBoltStore(opts.BoltPath)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
	if err != nil {
		return nil, err
	}

	if opts.CacheSize > 0 {
		return NewCachedStore(store, opts.CacheSize)
	}
	return store, nil
}
