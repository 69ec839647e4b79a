// Package storage persists farmer records and the network-wide aggregate.
//
// Two tiers are kept apart the way the ledger does it: the "instance" tier
// holds singleton state (the network aggregate and the sequence counter) and
// the "persistent" tier holds one record per farmer address.
package storage

import "github.com/tos-network/kale-analytics/internal/util"

const (
	// DefaultEmissionRate is the emission rate written by initialization
	DefaultEmissionRate uint32 = 50000

	// DefaultDifficulty is the difficulty before any farmer has joined
	DefaultDifficulty uint32 = 5000
)

// FarmerData holds the running statistics of one farmer
type FarmerData struct {
	Address         string      `json:"address"`
	TotalStaked     util.Amount `json:"total_staked"`
	TotalRewards    util.Amount `json:"total_rewards"`
	FarmsCompleted  uint32      `json:"farms_completed"`
	LastPlantTime   uint64      `json:"last_plant_time"`
	LastHarvestTime uint64      `json:"last_harvest_time"`
	SuccessRate     uint32      `json:"success_rate"` // percent x100, 0..10000
}

// NewFarmerData returns the empty record used before a farmer's first session
func NewFarmerData(address string) *FarmerData {
	return &FarmerData{Address: address}
}

// Clone returns a copy safe to mutate
func (f *FarmerData) Clone() *FarmerData {
	if f == nil {
		return nil
	}
	c := *f
	return &c
}

// NetworkStats is the singleton aggregate over all farmers
type NetworkStats struct {
	TotalFarmers            uint32      `json:"total_farmers"`
	TotalStaked             util.Amount `json:"total_staked"`
	TotalRewardsDistributed util.Amount `json:"total_rewards_distributed"`
	CurrentEmissionRate     uint32      `json:"current_emission_rate"`
	FarmingDifficulty       uint32      `json:"farming_difficulty"`
	LastUpdated             uint64      `json:"last_updated"`
}

// DefaultNetworkStats returns the aggregate written by initialization
func DefaultNetworkStats(emissionRate uint32, now uint64) *NetworkStats {
	return &NetworkStats{
		CurrentEmissionRate: emissionRate,
		FarmingDifficulty:   DefaultDifficulty,
		LastUpdated:         now,
	}
}

// Clone returns a copy safe to mutate
func (n *NetworkStats) Clone() *NetworkStats {
	if n == nil {
		return nil
	}
	c := *n
	return &c
}
