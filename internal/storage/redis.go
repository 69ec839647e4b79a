package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/tos-network/kale-analytics/internal/util"
)

const (
	keyPrefix = "kale:"

	// Instance tier
	keyNetwork  = keyPrefix + "instance:network"
	keySequence = keyPrefix + "instance:sequence"

	// Persistent tier
	keyFarmer = keyPrefix + "persistent:farmers:%s"

	// maxTxRetries bounds optimistic retries when another writer touches a watched key
	maxTxRetries = 100
)

// RedisStore keeps both tiers in Redis hashes
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to Redis and verifies the connection
func NewRedisStore(url, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     url,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	util.Info("Connected to Redis at ", url)
	return &RedisStore{client: client}, nil
}

// Driver names the backend
func (r *RedisStore) Driver() string {
	return "redis"
}

// Ping checks the connection
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (r *RedisStore) Close() error {
	return r.client.Close()
}

// GetNetwork returns the network singleton or nil when not initialized
func (r *RedisStore) GetNetwork(ctx context.Context) (*NetworkStats, error) {
	return readNetwork(ctx, r.client)
}

// CreateNetwork writes the singleton if no other writer got there first
func (r *RedisStore) CreateNetwork(ctx context.Context, stats *NetworkStats) error {
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, keyNetwork).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return ErrNetworkExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, keyNetwork, encodeNetwork(stats))
			return nil
		})
		return err
	}, keyNetwork)

	if errors.Is(err, redis.TxFailedErr) {
		return ErrNetworkExists
	}
	return err
}

// UpdateNetwork applies fn to the singleton under WATCH, retrying when
// another writer changes it first
func (r *RedisStore) UpdateNetwork(ctx context.Context, fn NetworkFunc) error {
	return r.watch(ctx, func(tx *redis.Tx) error {
		stats, err := readNetwork(ctx, tx)
		if err != nil {
			return err
		}
		next, err := fn(stats)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, keyNetwork, encodeNetwork(next))
			return nil
		})
		return err
	}, keyNetwork)
}

// GetFarmer returns a farmer record or nil when the address never farmed
func (r *RedisStore) GetFarmer(ctx context.Context, address string) (*FarmerData, error) {
	return readFarmer(ctx, r.client, address)
}

// UpdateSession watches the farmer and the singleton, applies fn and writes
// both inside MULTI/EXEC. A write by another process to either key between
// the read and EXEC aborts the transaction and fn runs again on fresh state.
func (r *RedisStore) UpdateSession(ctx context.Context, address string, fn SessionFunc) error {
	farmerKey := fmt.Sprintf(keyFarmer, address)
	return r.watch(ctx, func(tx *redis.Tx) error {
		farmer, err := readFarmer(ctx, tx, address)
		if err != nil {
			return err
		}
		stats, err := readNetwork(ctx, tx)
		if err != nil {
			return err
		}
		nextFarmer, nextStats, err := fn(farmer, stats)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, farmerKey, encodeFarmer(nextFarmer))
			pipe.HSet(ctx, keyNetwork, encodeNetwork(nextStats))
			return nil
		})
		return err
	}, farmerKey, keyNetwork)
}

func (r *RedisStore) watch(ctx context.Context, fn func(tx *redis.Tx) error, keys ...string) error {
	for i := 0; i < maxTxRetries; i++ {
		err := r.client.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		util.Debugf("Redis transaction on %v retried after conflict (attempt %d)", keys, i+1)
	}
	return ErrTxConflict
}

// hashReader is satisfied by both the client and a watched transaction
type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd
}

func readNetwork(ctx context.Context, c hashReader) (*NetworkStats, error) {
	data, err := c.HGetAll(ctx, keyNetwork).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return decodeNetwork(data)
}

func readFarmer(ctx context.Context, c hashReader, address string) (*FarmerData, error) {
	data, err := c.HGetAll(ctx, fmt.Sprintf(keyFarmer, address)).Result()
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return decodeFarmer(address, data)
}

// NextSequence increments the shared ledger sequence
func (r *RedisStore) NextSequence(ctx context.Context) (uint64, error) {
	n, err := r.client.Incr(ctx, keySequence).Result()
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func encodeNetwork(s *NetworkStats) map[string]interface{} {
	return map[string]interface{}{
		"totalFarmers": s.TotalFarmers,
		"totalStaked":  s.TotalStaked.String(),
		"totalRewards": s.TotalRewardsDistributed.String(),
		"emissionRate": s.CurrentEmissionRate,
		"difficulty":   s.FarmingDifficulty,
		"lastUpdated":  s.LastUpdated,
	}
}

func decodeNetwork(data map[string]string) (*NetworkStats, error) {
	stats := &NetworkStats{}
	var err error

	if stats.TotalFarmers, err = parseUint32(data, "totalFarmers"); err != nil {
		return nil, err
	}
	if stats.TotalStaked, err = parseAmount(data, "totalStaked"); err != nil {
		return nil, err
	}
	if stats.TotalRewardsDistributed, err = parseAmount(data, "totalRewards"); err != nil {
		return nil, err
	}
	if stats.CurrentEmissionRate, err = parseUint32(data, "emissionRate"); err != nil {
		return nil, err
	}
	if stats.FarmingDifficulty, err = parseUint32(data, "difficulty"); err != nil {
		return nil, err
	}
	if v, ok := data["lastUpdated"]; ok {
		if stats.LastUpdated, err = strconv.ParseUint(v, 10, 64); err != nil {
			return nil, fmt.Errorf("network field lastUpdated: %w", err)
		}
	}
	return stats, nil
}

func encodeFarmer(f *FarmerData) map[string]interface{} {
	return map[string]interface{}{
		"totalStaked":     f.TotalStaked.String(),
		"totalRewards":    f.TotalRewards.String(),
		"farmsCompleted":  f.FarmsCompleted,
		"lastPlantTime":   f.LastPlantTime,
		"lastHarvestTime": f.LastHarvestTime,
		"successRate":     f.SuccessRate,
	}
}

func decodeFarmer(address string, data map[string]string) (*FarmerData, error) {
	farmer := &FarmerData{Address: address}
	var err error

	if farmer.TotalStaked, err = parseAmount(data, "totalStaked"); err != nil {
		return nil, err
	}
	if farmer.TotalRewards, err = parseAmount(data, "totalRewards"); err != nil {
		return nil, err
	}
	if farmer.FarmsCompleted, err = parseUint32(data, "farmsCompleted"); err != nil {
		return nil, err
	}
	if farmer.SuccessRate, err = parseUint32(data, "successRate"); err != nil {
		return nil, err
	}
	if v, ok := data["lastPlantTime"]; ok {
		if farmer.LastPlantTime, err = strconv.ParseUint(v, 10, 64); err != nil {
			return nil, fmt.Errorf("farmer field lastPlantTime: %w", err)
		}
	}
	if v, ok := data["lastHarvestTime"]; ok {
		if farmer.LastHarvestTime, err = strconv.ParseUint(v, 10, 64); err != nil {
			return nil, fmt.Errorf("farmer field lastHarvestTime: %w", err)
		}
	}
	return farmer, nil
}

func parseUint32(data map[string]string, field string) (uint32, error) {
	v, ok := data[field]
	if !ok {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", field, err)
	}
	return uint32(n), nil
}

func parseAmount(data map[string]string, field string) (util.Amount, error) {
	a, err := util.ParseAmount(data[field])
	if err != nil {
		return util.Amount{}, fmt.Errorf("field %s: %w", field, err)
	}
	return a, nil
}
