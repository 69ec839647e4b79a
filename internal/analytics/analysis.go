package analytics

import (
	"github.com/tos-network/kale-analytics/internal/storage"
	"github.com/tos-network/kale-analytics/internal/util"
)

// Recommendation values
const (
	RecommendPlantNow = "plant_now"
	RecommendConsider = "consider_planting"
	RecommendWait     = "wait_for_better_conditions"
)

// Risk levels
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

const (
	plantNowScore   = 7000
	considerScore   = 5000
	lowRiskScore    = 8000
	mediumRiskScore = 6000
)

// Opportunity combines the per-stake derivations into one answer
type Opportunity struct {
	Stake           util.Amount `json:"stake"`
	Score           uint32      `json:"opportunity_score"`
	OptimalStake    util.Amount `json:"optimal_stake"`
	IsOptimalTime   bool        `json:"is_optimal_time"`
	PredictedReward util.Amount `json:"predicted_reward"`
	Recommendation  string      `json:"recommendation"`
	RiskLevel       string      `json:"risk_level"`
}

// Summary is the network aggregate with its network-level derivations
type Summary struct {
	Network        *storage.NetworkStats `json:"network"`
	HealthScore    uint32                `json:"health_score"`
	RecentActivity uint32                `json:"recent_activity_estimate"`
	IsOptimalTime  bool                  `json:"is_optimal_time"`
	OptimalStake   util.Amount           `json:"optimal_stake"`
}

// Recommend maps a score and timing to an action
func Recommend(score uint32, optimalTime bool) string {
	switch {
	case optimalTime && score > plantNowScore:
		return RecommendPlantNow
	case score > considerScore:
		return RecommendConsider
	default:
		return RecommendWait
	}
}

// RiskLevel maps a score to low, medium or high risk
func RiskLevel(score uint32) string {
	switch {
	case score > lowRiskScore:
		return RiskLow
	case score > mediumRiskScore:
		return RiskMedium
	default:
		return RiskHigh
	}
}

// Analyze evaluates a stake against the network state
func Analyze(n *storage.NetworkStats, stake util.Amount) (*Opportunity, error) {
	optimal, err := OptimalStake(n)
	if err != nil {
		return nil, err
	}
	reward, err := PredictReward(n, stake)
	if err != nil {
		return nil, err
	}

	score := OpportunityScore(n, stake)
	optimalTime := IsOptimalTime(n)
	return &Opportunity{
		Stake:           stake,
		Score:           score,
		OptimalStake:    optimal,
		IsOptimalTime:   optimalTime,
		PredictedReward: reward,
		Recommendation:  Recommend(score, optimalTime),
		RiskLevel:       RiskLevel(score),
	}, nil
}

// Summarize builds the network summary
func Summarize(n *storage.NetworkStats) (*Summary, error) {
	optimal, err := OptimalStake(n)
	if err != nil {
		return nil, err
	}
	return &Summary{
		Network:        n,
		HealthScore:    HealthScore(n),
		RecentActivity: RecentActivityEstimate(n),
		IsOptimalTime:  IsOptimalTime(n),
		OptimalStake:   optimal,
	}, nil
}
