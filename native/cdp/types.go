package cdp

import (
	"github.com/holiman/uint256"

	"cdpchain/crypto"
)

// ProtocolInit carries the administrator-chosen parameters for the protocol
// singleton.
type ProtocolInit struct {
	ProtocolFeeBps   uint64
	RedemptionFeeBps uint64
	MintFeeBps       uint64
	BaseRateBps      uint64
	SigmaBps         uint64
	StablecoinFeed   string
	StablecoinAsset  string
}

// ProtocolConfig is the protocol-wide singleton.
type ProtocolConfig struct {
	Admin            crypto.Address
	ProtocolFeeBps   uint64
	RedemptionFeeBps uint64
	MintFeeBps       uint64
	BaseRateBps      uint64
	SigmaBps         uint64
	MinRateBps       uint64
	MaxRateBps       uint64
	// CurrentRateBps is the annual rate applied to outstanding debt.
	CurrentRateBps uint64
	// GlobalInterestIndex starts at IndexScale and only grows.
	GlobalInterestIndex   *uint256.Int
	LastRateUpdate        uint64
	StablecoinFeed        string
	StablecoinAsset       string
	GlobalDebtOutstanding *uint256.Int
	// PendingTreasury accumulates mint and redemption fees that the
	// administrator has not yet withdrawn.
	PendingTreasury *uint256.Int
}

// StabilityPool tracks stablecoin staked against one collateral pool.
//
// Deposits compound through DepletionFactor: every liquidation shrinks it by
// (total - burned) / total, so a deposit is worth amount × P / Psnapshot.
// When P would fall below ScaleFactor it is multiplied by ScaleFactor and
// Scale is bumped, keeping P inside [1e9, 1e18]. RewardAccumulator accrues
// seized collateral per unit of original deposit for the current (Epoch,
// Scale). Sums of finished scales and epochs are archived in RewardSums.
// When a liquidation consumes the whole pool a new epoch starts.
type StabilityPool struct {
	TotalStaked       *uint256.Int
	RewardAccumulator *uint256.Int
	DepletionFactor   *uint256.Int
	Epoch             uint64
	Scale             uint64
	RewardSums        []RewardSum
}

// RewardSum is the final reward accumulator of one (epoch, scale) pair.
type RewardSum struct {
	Epoch uint64
	Scale uint64
	Sum   *uint256.Int
}

// CollateralPool is the per-asset record.
type CollateralPool struct {
	Asset                     string
	PriceFeed                 string
	VaultBalance              *uint256.Int
	LiquidationReserveBalance *uint256.Int
	TotalCollateralLocked     *uint256.Int
	TotalDebtIssued           *uint256.Int
	MinCollateralRatioBps     uint64
	LiquidationThresholdBps   uint64
	Stability                 StabilityPool
	CreatedAt                 uint64
}

// Position is a single owner's CDP against one collateral asset.
type Position struct {
	Owner       crypto.Address
	Asset       string
	Collateral  *uint256.Int
	Principal   *uint256.Int
	IndexAtOpen *uint256.Int
	OpenTime    uint64
}

// StakeAccount is a single owner's stability deposit in one pool.
type StakeAccount struct {
	Owner             crypto.Address
	Asset             string
	Amount            *uint256.Int
	DepletionSnapshot *uint256.Int
	RewardSnapshot    *uint256.Int
	Epoch             uint64
	Scale             uint64
	LastStaked        uint64
}

// CloseResult summarises a repaid position.
type CloseResult struct {
	Owed               *uint256.Int
	RedemptionFee      *uint256.Int
	CollateralReleased *uint256.Int
}

// RateUpdate summarises one run of the interest rate controller.
type RateUpdate struct {
	PreviousRateBps uint64
	RateBps         uint64
	Index           *uint256.Int
	ElapsedSeconds  uint64
	StablePrice     *uint256.Int
}

// UnstakeResult summarises a closed stake account.
type UnstakeResult struct {
	Returned   *uint256.Int
	RewardPaid *uint256.Int
}

// LiquidationResult summarises a liquidation.
type LiquidationResult struct {
	DebtBurned  *uint256.Int
	Seized      *uint256.Int
	Incentive   *uint256.Int
	StakerShare *uint256.Int
	HealthBps   *uint256.Int
	Price       *uint256.Int
}

// Health describes a position valued at a fresh price.
type Health struct {
	Owed            *uint256.Int
	CollateralValue *uint256.Int
	RatioBps        *uint256.Int
	Price           *uint256.Int
	Liquidatable    bool
}

// StakeView is a stake account together with its current entitlements.
type StakeView struct {
	Account       *StakeAccount
	Deposit       *uint256.Int
	PendingReward *uint256.Int
}

func cloneInt(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}

// Clone returns a deep copy of the protocol config.
func (c *ProtocolConfig) Clone() *ProtocolConfig {
	if c == nil {
		return nil
	}
	clone := *c
	clone.GlobalInterestIndex = cloneInt(c.GlobalInterestIndex)
	clone.GlobalDebtOutstanding = cloneInt(c.GlobalDebtOutstanding)
	clone.PendingTreasury = cloneInt(c.PendingTreasury)
	return &clone
}

// Clone returns a deep copy of the pool, including its stability pool.
func (p *CollateralPool) Clone() *CollateralPool {
	if p == nil {
		return nil
	}
	clone := *p
	clone.VaultBalance = cloneInt(p.VaultBalance)
	clone.LiquidationReserveBalance = cloneInt(p.LiquidationReserveBalance)
	clone.TotalCollateralLocked = cloneInt(p.TotalCollateralLocked)
	clone.TotalDebtIssued = cloneInt(p.TotalDebtIssued)
	clone.Stability.TotalStaked = cloneInt(p.Stability.TotalStaked)
	clone.Stability.RewardAccumulator = cloneInt(p.Stability.RewardAccumulator)
	clone.Stability.DepletionFactor = cloneInt(p.Stability.DepletionFactor)
	clone.Stability.RewardSums = make([]RewardSum, len(p.Stability.RewardSums))
	for i, sum := range p.Stability.RewardSums {
		clone.Stability.RewardSums[i] = RewardSum{Epoch: sum.Epoch, Scale: sum.Scale, Sum: cloneInt(sum.Sum)}
	}
	return &clone
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Collateral = cloneInt(p.Collateral)
	clone.Principal = cloneInt(p.Principal)
	clone.IndexAtOpen = cloneInt(p.IndexAtOpen)
	return &clone
}

// Clone returns a deep copy of the stake account.
func (s *StakeAccount) Clone() *StakeAccount {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Amount = cloneInt(s.Amount)
	clone.DepletionSnapshot = cloneInt(s.DepletionSnapshot)
	clone.RewardSnapshot = cloneInt(s.RewardSnapshot)
	return &clone
}
