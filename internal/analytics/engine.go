// Package analytics folds farming sessions into per-farmer and network-wide
// statistics and derives scores from the network aggregate.
//
// All arithmetic is integer: amounts are signed 128-bit fixed-point values,
// scores are on a 0..10000 scale (health on 0..100).
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tos-network/kale-analytics/internal/auth"
	"github.com/tos-network/kale-analytics/internal/events"
	"github.com/tos-network/kale-analytics/internal/ledger"
	"github.com/tos-network/kale-analytics/internal/storage"
	"github.com/tos-network/kale-analytics/internal/util"
)

// Options configures an Engine
type Options struct {
	// AdminAddress, when set, is the only address allowed to administer the network
	AdminAddress string
	// EmissionRate is written by Initialize; zero means storage.DefaultEmissionRate
	EmissionRate uint32
}

// Engine is the analytics state machine
type Engine struct {
	store     storage.Store
	clock     ledger.Clock
	auth      auth.Authorizer
	publisher events.Publisher
	opts      Options

	// networkMu serializes this process's writers of the network singleton;
	// the store's transactions serialize writers across processes.
	// Lock order: farmer stripe, then networkMu.
	networkMu sync.Mutex
	farmers   stripedLocks
}

// NewEngine creates an engine. A nil publisher discards events.
func NewEngine(store storage.Store, clock ledger.Clock, authorizer auth.Authorizer, publisher events.Publisher, opts Options) *Engine {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if opts.EmissionRate == 0 {
		opts.EmissionRate = storage.DefaultEmissionRate
	}
	return &Engine{
		store:     store,
		clock:     clock,
		auth:      authorizer,
		publisher: publisher,
		opts:      opts,
	}
}

// Initialize creates the network state. It succeeds once.
func (e *Engine) Initialize(ctx context.Context, admin string) (*storage.NetworkStats, error) {
	if err := e.requireAdmin(ctx, admin); err != nil {
		return nil, err
	}

	e.networkMu.Lock()
	stats := storage.DefaultNetworkStats(e.opts.EmissionRate, e.clock.Now())
	err := e.store.CreateNetwork(ctx, stats)
	e.networkMu.Unlock()

	if errors.Is(err, storage.ErrNetworkExists) {
		return nil, ErrAlreadyInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("create network state: %w", err)
	}

	util.Infof("Network initialized by %s, emission rate %d", admin, stats.CurrentEmissionRate)
	e.publish(ctx, events.TopicInit, events.InitPayload{
		Admin:        admin,
		EmissionRate: stats.CurrentEmissionRate,
		Difficulty:   stats.FarmingDifficulty,
	})
	return stats.Clone(), nil
}

// RecordSession folds one session into the farmer's record and the network
// aggregate. Both are written in one transaction or not at all.
func (e *Engine) RecordSession(ctx context.Context, s Session) (*storage.FarmerData, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	if err := e.auth.RequireAuth(ctx, s.Farmer); err != nil {
		return nil, err
	}

	unlock := e.farmers.lock(s.Farmer)
	defer unlock()

	now := e.clock.Now()
	var farmer *storage.FarmerData

	e.networkMu.Lock()
	err := e.store.UpdateSession(ctx, s.Farmer, func(prev *storage.FarmerData, network *storage.NetworkStats) (*storage.FarmerData, *storage.NetworkStats, error) {
		if network == nil {
			return nil, nil, ErrNotInitialized
		}
		next, err := ApplyFarmer(prev, s, now)
		if err != nil {
			return nil, nil, err
		}
		stats, err := ApplyNetwork(network, s, next.FarmsCompleted == 1, now)
		if err != nil {
			return nil, nil, err
		}
		farmer = next
		return next, stats, nil
	})
	e.networkMu.Unlock()
	if err != nil {
		return nil, wrapStoreErr("commit session", err)
	}

	util.Debugf("Session recorded: farmer=%s success=%t stake=%s reward=%s farms=%d",
		util.TruncateAddress(s.Farmer), s.Success, s.Stake, s.Reward, farmer.FarmsCompleted)

	e.publish(ctx, events.TopicSession, events.SessionPayload{
		Farmer:  s.Farmer,
		Success: s.Success,
		Reward:  s.Reward,
	})
	return farmer.Clone(), nil
}

// UpdateEmissionRate overwrites the emission rate
func (e *Engine) UpdateEmissionRate(ctx context.Context, admin string, rate uint32) (*storage.NetworkStats, error) {
	if err := e.requireAdmin(ctx, admin); err != nil {
		return nil, err
	}

	var stats *storage.NetworkStats

	e.networkMu.Lock()
	err := e.store.UpdateNetwork(ctx, func(current *storage.NetworkStats) (*storage.NetworkStats, error) {
		if current == nil {
			return nil, ErrNotInitialized
		}
		current.CurrentEmissionRate = rate
		current.LastUpdated = e.clock.Now()
		stats = current
		return current, nil
	})
	e.networkMu.Unlock()
	if err != nil {
		return nil, wrapStoreErr("store network state", err)
	}

	util.Infof("Emission rate set to %d by %s", rate, admin)
	e.publish(ctx, events.TopicEmission, events.EmissionPayload{Admin: admin, Rate: rate})
	return stats, nil
}

// GetFarmer returns a farmer record, or nil when the address never farmed
func (e *Engine) GetFarmer(ctx context.Context, address string) (*storage.FarmerData, error) {
	if !util.ValidateAddress(address) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return e.store.GetFarmer(ctx, address)
}

// GetNetworkStats returns the network aggregate
func (e *Engine) GetNetworkStats(ctx context.Context) (*storage.NetworkStats, error) {
	return e.loadNetwork(ctx)
}

// GetLeaderboard is not supported: ranking farmers would need an index over
// every farmer record. It always returns an empty list.
func (e *Engine) GetLeaderboard(ctx context.Context, limit uint32) ([]*storage.FarmerData, error) {
	return []*storage.FarmerData{}, nil
}

// OpportunityScore rates current conditions for stake in [0, 10000]
func (e *Engine) OpportunityScore(ctx context.Context, stake util.Amount) (uint32, error) {
	n, err := e.loadNetwork(ctx)
	if err != nil {
		return 0, err
	}
	return OpportunityScore(n, stake), nil
}

// OptimalStake suggests a stake for current conditions
func (e *Engine) OptimalStake(ctx context.Context) (util.Amount, error) {
	n, err := e.loadNetwork(ctx)
	if err != nil {
		return util.Amount{}, err
	}
	return OptimalStake(n)
}

// IsOptimalTime reports whether now is a good time to farm
func (e *Engine) IsOptimalTime(ctx context.Context) (bool, error) {
	n, err := e.loadNetwork(ctx)
	if err != nil {
		return false, err
	}
	return IsOptimalTime(n), nil
}

// HealthScore rates the network in [0, 100]
func (e *Engine) HealthScore(ctx context.Context) (uint32, error) {
	n, err := e.loadNetwork(ctx)
	if err != nil {
		return 0, err
	}
	return HealthScore(n), nil
}

// PredictReward estimates the reward for stake
func (e *Engine) PredictReward(ctx context.Context, stake util.Amount) (util.Amount, error) {
	n, err := e.loadNetwork(ctx)
	if err != nil {
		return util.Amount{}, err
	}
	return PredictReward(n, stake)
}

// RecentActivityEstimate estimates the daily session count
func (e *Engine) RecentActivityEstimate(ctx context.Context) (uint32, error) {
	n, err := e.loadNetwork(ctx)
	if err != nil {
		return 0, err
	}
	return RecentActivityEstimate(n), nil
}

// Analyze evaluates stake against the current network state
func (e *Engine) Analyze(ctx context.Context, stake util.Amount) (*Opportunity, error) {
	n, err := e.loadNetwork(ctx)
	if err != nil {
		return nil, err
	}
	return Analyze(n, stake)
}

// Summary returns the network aggregate with its derived scores
func (e *Engine) Summary(ctx context.Context) (*Summary, error) {
	n, err := e.loadNetwork(ctx)
	if err != nil {
		return nil, err
	}
	return Summarize(n)
}

// Ping checks the backing store
func (e *Engine) Ping(ctx context.Context) error {
	return e.store.Ping(ctx)
}

func (e *Engine) loadNetwork(ctx context.Context) (*storage.NetworkStats, error) {
	n, err := e.store.GetNetwork(ctx)
	if err != nil {
		return nil, fmt.Errorf("load network state: %w", err)
	}
	if n == nil {
		return nil, ErrNotInitialized
	}
	return n, nil
}

// wrapStoreErr passes analytics errors through and annotates storage failures
func wrapStoreErr(op string, err error) error {
	if errors.Is(err, ErrNotInitialized) || errors.Is(err, ErrArithmeticOverflow) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func (e *Engine) requireAdmin(ctx context.Context, admin string) error {
	if !util.ValidateAddress(admin) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, admin)
	}
	if e.opts.AdminAddress != "" && admin != e.opts.AdminAddress {
		return ErrUnauthorized
	}
	return e.auth.RequireAuth(ctx, admin)
}

func (e *Engine) publish(ctx context.Context, topic string, payload interface{}) {
	e.publisher.Publish(ctx, events.Event{
		Topic:     []string{events.TopicFarming, topic},
		Sequence:  e.clock.Sequence(ctx),
		Timestamp: e.clock.Now(),
		Payload:   payload,
	})
}
