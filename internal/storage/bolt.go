package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tos-network/kale-analytics/internal/util"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketInstance   = []byte("instance")
	bucketPersistent = []byte("persistent")

	boltKeyNetwork = []byte("network")
)

// BoltStore keeps both tiers in an embedded bbolt file, one bucket per tier
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database file and its buckets
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketInstance, bucketPersistent} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	util.Info("Opened bolt database at ", path)
	return &BoltStore{db: db}, nil
}

// Driver names the backend
func (b *BoltStore) Driver() string {
	return "bolt"
}

// Ping is a no-op for an embedded database
func (b *BoltStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close closes the database file
func (b *BoltStore) Close() error {
	return b.db.Close()
}

// GetNetwork returns the network singleton or nil when not initialized
func (b *BoltStore) GetNetwork(ctx context.Context) (*NetworkStats, error) {
	var stats *NetworkStats
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		stats, err = getNetwork(tx)
		return err
	})
	return stats, err
}

// CreateNetwork writes the singleton unless it already exists
func (b *BoltStore) CreateNetwork(ctx context.Context, stats *NetworkStats) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketInstance)
		if bkt.Get(boltKeyNetwork) != nil {
			return ErrNetworkExists
		}
		return putJSON(bkt, boltKeyNetwork, stats)
	})
}

// UpdateNetwork applies fn to the singleton in one Update
func (b *BoltStore) UpdateNetwork(ctx context.Context, fn NetworkFunc) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		stats, err := getNetwork(tx)
		if err != nil {
			return err
		}
		next, err := fn(stats)
		if err != nil {
			return err
		}
		return putJSON(tx.Bucket(bucketInstance), boltKeyNetwork, next)
	})
}

// GetFarmer returns a farmer record or nil when the address never farmed
func (b *BoltStore) GetFarmer(ctx context.Context, address string) (*FarmerData, error) {
	var farmer *FarmerData
	err := b.db.View(func(tx *bolt.Tx) error {
		var err error
		farmer, err = getFarmer(tx, address)
		return err
	})
	return farmer, err
}

// UpdateSession applies fn to the farmer and the singleton in one Update.
// bbolt allows a single writer at a time, so fn runs exactly once.
func (b *BoltStore) UpdateSession(ctx context.Context, address string, fn SessionFunc) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		farmer, err := getFarmer(tx, address)
		if err != nil {
			return err
		}
		stats, err := getNetwork(tx)
		if err != nil {
			return err
		}
		nextFarmer, nextStats, err := fn(farmer, stats)
		if err != nil {
			return err
		}
		if err := putJSON(tx.Bucket(bucketPersistent), []byte(address), nextFarmer); err != nil {
			return err
		}
		return putJSON(tx.Bucket(bucketInstance), boltKeyNetwork, nextStats)
	})
}

// NextSequence returns the instance bucket's next sequence value
func (b *BoltStore) NextSequence(ctx context.Context) (uint64, error) {
	var seq uint64
	err := b.db.Update(func(tx *bolt.Tx) error {
		var err error
		seq, err = tx.Bucket(bucketInstance).NextSequence()
		return err
	})
	return seq, err
}

func putJSON(bkt *bolt.Bucket, key []byte, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return bkt.Put(key, data)
}

func getNetwork(tx *bolt.Tx) (*NetworkStats, error) {
	v := tx.Bucket(bucketInstance).Get(boltKeyNetwork)
	if v == nil {
		return nil, nil
	}
	stats := &NetworkStats{}
	if err := json.Unmarshal(v, stats); err != nil {
		return nil, err
	}
	return stats, nil
}

func getFarmer(tx *bolt.Tx, address string) (*FarmerData, error) {
	v := tx.Bucket(bucketPersistent).Get([]byte(address))
	if v == nil {
		return nil, nil
	}
	farmer := &FarmerData{}
	if err := json.Unmarshal(v, farmer); err != nil {
		return nil, err
	}
	return farmer, nil
}
