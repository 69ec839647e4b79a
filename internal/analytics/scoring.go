package analytics

import (
	"math"
	"math/big"

	"github.com/tos-network/kale-analytics/internal/storage"
	"github.com/tos-network/kale-analytics/internal/util"
)

// Scoring constants. Amounts are in base units (7 decimals).
const (
	MaxScore       = 10000
	MaxHealthScore = 100

	baseScore             = 5000
	difficultyOffset      = 2500
	stakeBonusMax         = 2000
	stakeBonusPerStep     = 1000
	optimalTimeDifficulty = 8000
	optimalTimeFarmers    = 500
	optimalTimeEmission   = 40000

	competitionFreeFarmers = 100
	competitionFloor       = 5000
	competitionPerFarmer   = 10

	sessionsPerFarmerPerDay = 2
	activeFarmerPercent     = 70
)

var (
	stakeBonusThreshold = util.Units(100)
	stakeBonusStep      = util.Units(50)
	baseOptimalStake    = util.Units(200)
	targetTotalStaked   = big.NewInt(1_000_000 * util.AmountUnit)
)

// OpportunityScore rates current conditions for a stake in [0, 10000]
func OpportunityScore(n *storage.NetworkStats, stake util.Amount) uint32 {
	score := int64(baseScore) + (int64(MaxScore)-int64(n.FarmingDifficulty))/4 - difficultyOffset
	score += stakeBonus(stake)

	switch {
	case score < 0:
		return 0
	case score > MaxScore:
		return MaxScore
	}
	return uint32(score)
}

// stakeBonus is 2000 above 100 units, else 1000 per whole 50 units
// (truncated toward zero, so negative stakes lower the score).
func stakeBonus(stake util.Amount) int64 {
	if stake.Cmp(stakeBonusThreshold) > 0 {
		return stakeBonusMax
	}
	q, _ := stake.Quo(stakeBonusStep)
	steps, ok := q.Int64()
	if !ok || steps < -MaxScore {
		// any stake this negative already pins the score at zero
		steps = -MaxScore
	}
	return steps * stakeBonusPerStep
}

// OptimalStake suggests a stake for current difficulty, capped at 120% of
// the average stake per farmer.
func OptimalStake(n *storage.NetworkStats) (util.Amount, error) {
	optimal := baseOptimalStake
	switch {
	case n.FarmingDifficulty > 7000:
		optimal, _ = optimal.MulDiv(150, 100)
	case n.FarmingDifficulty < 3000:
		optimal, _ = optimal.MulDiv(75, 100)
	}

	avg := optimal.Big()
	if n.TotalFarmers > 0 {
		avg = new(big.Int).Quo(n.TotalStaked.Big(), big.NewInt(int64(n.TotalFarmers)))
	}

	// The cap is compared before range checking so a huge average cannot
	// fail a result that resolves to the base value.
	ceiling := avg.Mul(avg, big.NewInt(120))
	ceiling.Quo(ceiling, big.NewInt(100))
	if ceiling.Cmp(optimal.Big()) >= 0 {
		return optimal, nil
	}
	a, err := util.AmountFromBig(ceiling)
	if err != nil {
		return util.Amount{}, overflow("optimal_stake", err)
	}
	return a, nil
}

// IsOptimalTime reports whether difficulty, competition and emission are all favorable
func IsOptimalTime(n *storage.NetworkStats) bool {
	return n.FarmingDifficulty < optimalTimeDifficulty &&
		n.TotalFarmers < optimalTimeFarmers &&
		n.CurrentEmissionRate > optimalTimeEmission
}

// HealthScore rates the network in [0, 100] from participation (30),
// staking (25), emission (25) and difficulty balance (20).
func HealthScore(n *storage.NetworkStats) uint32 {
	participation := minU64(30, uint64(n.TotalFarmers)*30/1000)

	var staking uint64
	if n.TotalStaked.Sign() > 0 {
		s := new(big.Int).Mul(n.TotalStaked.Big(), big.NewInt(25))
		s.Quo(s, targetTotalStaked)
		staking = 25
		if s.IsUint64() {
			staking = minU64(25, s.Uint64())
		}
	}

	emission := minU64(25, uint64(n.CurrentEmissionRate)*25/50000)

	var balance uint64
	d := n.FarmingDifficulty
	switch {
	case d >= 4000 && d <= 6000:
		balance = 20
	case d >= 3000 && d <= 7000:
		balance = 15
	default:
		balance = 5
	}

	return uint32(minU64(MaxHealthScore, participation+staking+emission+balance))
}

// PredictReward estimates the reward for a stake: 1% of the stake, scaled by
// the inverse of difficulty and by a competition factor.
func PredictReward(n *storage.NetworkStats, stake util.Amount) (util.Amount, error) {
	base, err := stake.Quo(util.NewAmount(100))
	if err != nil {
		return util.Amount{}, err
	}

	adjusted, err := base.MulDiv(int64(MaxScore)-int64(n.FarmingDifficulty), MaxScore)
	if err != nil {
		return util.Amount{}, overflow("predict_reward", err)
	}

	reward, err := adjusted.MulDiv(competitionFactor(n.TotalFarmers), MaxScore)
	if err != nil {
		return util.Amount{}, overflow("predict_reward", err)
	}
	return reward, nil
}

func competitionFactor(farmers uint32) int64 {
	if farmers <= competitionFreeFarmers {
		return MaxScore
	}
	f := int64(MaxScore) - int64(farmers-competitionFreeFarmers)*competitionPerFarmer
	if f < competitionFloor {
		return competitionFloor
	}
	return f
}

// RecentActivityEstimate estimates daily sessions as farmers * 2 * 70%.
// It is not a windowed count.
func RecentActivityEstimate(n *storage.NetworkStats) uint32 {
	v := uint64(n.TotalFarmers) * sessionsPerFarmerPerDay * activeFarmerPercent / 100
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

func minU64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
