package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/tos-network/kale-analytics/internal/util"
)

// failingStore rejects every write
type failingStore struct {
	Store
}

var errWrite = errors.New("write failed")

func (f failingStore) UpdateSession(ctx context.Context, address string, fn SessionFunc) error {
	return errWrite
}

func (f failingStore) UpdateNetwork(ctx context.Context, fn NetworkFunc) error {
	return errWrite
}

func TestCachedStoreWriteThrough(t *testing.T) {
	backend := setupBoltStore(t)
	cached, err := NewCachedStore(backend, 4)
	if err != nil {
		t.Fatalf("NewCachedStore() error = %v", err)
	}
	ctx := context.Background()

	if err := put(ctx, cached, sampleFarmer(), sampleNetwork()); err != nil {
		t.Fatalf("UpdateSession() error = %v", err)
	}
	if cached.Len() != 1 {
		t.Errorf("Len() = %d, want 1", cached.Len())
	}

	// The backend must already hold the write.
	farmer, err := backend.GetFarmer(ctx, testFarmer)
	if err != nil || farmer == nil {
		t.Fatalf("backend GetFarmer() = %v, %v", farmer, err)
	}
	stats, err := backend.GetNetwork(ctx)
	if err != nil || stats == nil || stats.TotalFarmers != 1 {
		t.Fatalf("backend GetNetwork() = %+v, %v", stats, err)
	}
}

func TestCachedStoreFailedWriteLeavesCache(t *testing.T) {
	backend := setupBoltStore(t)
	ctx := context.Background()
	if err := put(ctx, backend, sampleFarmer(), sampleNetwork()); err != nil {
		t.Fatal(err)
	}

	cached, _ := NewCachedStore(failingStore{Store: backend}, 4)
	if _, err := cached.GetFarmer(ctx, testFarmer); err != nil {
		t.Fatal(err)
	}

	updated := sampleFarmer()
	updated.FarmsCompleted = 2
	if err := put(ctx, cached, updated, sampleNetwork()); !errors.Is(err, errWrite) {
		t.Fatalf("UpdateSession() error = %v, want errWrite", err)
	}

	got, _ := cached.GetFarmer(ctx, testFarmer)
	if got.FarmsCompleted != 1 {
		t.Errorf("cached FarmsCompleted = %d, want 1 after failed write", got.FarmsCompleted)
	}
}

func TestCachedStoreReturnsCopies(t *testing.T) {
	cached, _ := NewCachedStore(setupBoltStore(t), 4)
	ctx := context.Background()
	if err := put(ctx, cached, sampleFarmer(), sampleNetwork()); err != nil {
		t.Fatal(err)
	}

	got, _ := cached.GetFarmer(ctx, testFarmer)
	got.FarmsCompleted = 99
	got.TotalStaked = util.NewAmount(1)

	again, _ := cached.GetFarmer(ctx, testFarmer)
	if again.FarmsCompleted != 1 || !again.TotalStaked.Equal(util.Units(100)) {
		t.Errorf("cache entry was mutated through a returned record: %+v", again)
	}

	stats, _ := cached.GetNetwork(ctx)
	stats.TotalFarmers = 42
	again2, _ := cached.GetNetwork(ctx)
	if again2.TotalFarmers != 1 {
		t.Errorf("cached TotalFarmers = %d, want 1", again2.TotalFarmers)
	}
}

func TestCachedStorePurge(t *testing.T) {
	cached, _ := NewCachedStore(setupBoltStore(t), 4)
	ctx := context.Background()
	_ = put(ctx, cached, sampleFarmer(), sampleNetwork())

	cached.Purge()
	if cached.Len() != 0 {
		t.Errorf("Len() after Purge = %d, want 0", cached.Len())
	}

	// Reads fall through to the backend after a purge.
	farmer, err := cached.GetFarmer(ctx, testFarmer)
	if err != nil || farmer == nil {
		t.Errorf("GetFarmer() after Purge = %v, %v", farmer, err)
	}
}
