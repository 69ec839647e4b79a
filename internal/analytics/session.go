package analytics

import (
	"errors"
	"fmt"
	"math"

	"github.com/tos-network/kale-analytics/internal/storage"
	"github.com/tos-network/kale-analytics/internal/util"
)

const (
	// RateScale is the success-rate scale (10000 = 100.00%)
	RateScale = 10000

	baseDifficulty      = 3000
	maxDifficulty       = 9000
	difficultyPerFarmer = 10
)

// Session is one farming outcome reported by a farmer
type Session struct {
	Farmer  string      `json:"farmer"`
	Stake   util.Amount `json:"stake_amount"`
	Success bool        `json:"success"`
	Reward  util.Amount `json:"reward"`
}

// Validate checks the session before any state is touched
func (s Session) Validate() error {
	if !util.ValidateAddress(s.Farmer) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, s.Farmer)
	}
	if s.Stake.Sign() < 0 {
		return fmt.Errorf("%w: negative stake %s", ErrInvalidAmount, s.Stake)
	}
	if s.Reward.Sign() < 0 {
		return fmt.Errorf("%w: negative reward %s", ErrInvalidAmount, s.Reward)
	}
	return nil
}

// Difficulty returns the farming difficulty for a farmer count
func Difficulty(totalFarmers uint32) uint32 {
	d := baseDifficulty + uint64(totalFarmers)*difficultyPerFarmer
	if d > maxDifficulty {
		return maxDifficulty
	}
	return uint32(d)
}

// NextSuccessRate folds one outcome into a running success rate.
// The successful count is reconstructed from the truncated rate, so the
// result drifts exactly as the incremental formula does.
func NextSuccessRate(rate, farmsBefore uint32, success bool) uint32 {
	var successful uint64
	if farmsBefore > 0 {
		successful = uint64(rate) * uint64(farmsBefore) / RateScale
	}
	if success {
		successful++
	}
	return uint32(successful * RateScale / (uint64(farmsBefore) + 1))
}

// ApplyFarmer returns a copy of farmer with s folded in.
// farmer may be nil for a first session.
func ApplyFarmer(farmer *storage.FarmerData, s Session, now uint64) (*storage.FarmerData, error) {
	next := farmer.Clone()
	if next == nil {
		next = storage.NewFarmerData(s.Farmer)
	}
	if next.FarmsCompleted == math.MaxUint32 {
		return nil, fmt.Errorf("%w: farms_completed", ErrArithmeticOverflow)
	}

	staked, err := next.TotalStaked.Add(s.Stake)
	if err != nil {
		return nil, overflow("farmer total_staked", err)
	}
	next.TotalStaked = staked

	if s.Success {
		rewards, err := next.TotalRewards.Add(s.Reward)
		if err != nil {
			return nil, overflow("farmer total_rewards", err)
		}
		next.TotalRewards = rewards
		next.LastHarvestTime = now
	}

	next.SuccessRate = NextSuccessRate(next.SuccessRate, next.FarmsCompleted, s.Success)
	next.FarmsCompleted++
	next.LastPlantTime = now
	return next, nil
}

// ApplyNetwork returns a copy of stats with s folded in. firstSession is
// true when the farmer's record has just reached one completed farm.
func ApplyNetwork(stats *storage.NetworkStats, s Session, firstSession bool, now uint64) (*storage.NetworkStats, error) {
	next := stats.Clone()

	if firstSession {
		if next.TotalFarmers == math.MaxUint32 {
			return nil, fmt.Errorf("%w: total_farmers", ErrArithmeticOverflow)
		}
		next.TotalFarmers++
	}

	staked, err := next.TotalStaked.Add(s.Stake)
	if err != nil {
		return nil, overflow("network total_staked", err)
	}
	next.TotalStaked = staked

	if s.Success {
		rewards, err := next.TotalRewardsDistributed.Add(s.Reward)
		if err != nil {
			return nil, overflow("network total_rewards_distributed", err)
		}
		next.TotalRewardsDistributed = rewards
	}

	next.LastUpdated = now
	next.FarmingDifficulty = Difficulty(next.TotalFarmers)
	return next, nil
}

func overflow(field string, err error) error {
	if errors.Is(err, util.ErrInt128Overflow) {
		return fmt.Errorf("%w: %s", ErrArithmeticOverflow, field)
	}
	return fmt.Errorf("%s: %w", field, err)
}
