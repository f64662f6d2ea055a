package events

import (
	"strconv"

	"github.com/holiman/uint256"

	"cdpchain/core/types"
	"cdpchain/crypto"
)

const (
	// TypeProtocolInitialized is emitted once when the protocol singleton is created.
	TypeProtocolInitialized = "cdp.protocolInitialized"
	// TypePoolInitialized is emitted when a collateral pool is registered.
	TypePoolInitialized = "cdp.poolInitialized"
	// TypePositionOpened is emitted when collateral is locked and stablecoin minted.
	TypePositionOpened = "cdp.positionOpened"
	// TypePositionClosed is emitted when a position is repaid and its collateral released.
	TypePositionClosed = "cdp.positionClosed"
	// TypeInterestRateUpdated is emitted on every rate controller run.
	TypeInterestRateUpdated = "cdp.interestRateUpdated"
	// TypeStabilityStaked is emitted when stablecoin enters a stability pool.
	TypeStabilityStaked = "cdp.stabilityStaked"
	// TypeStabilityUnstaked is emitted when a stake account is closed.
	TypeStabilityUnstaked = "cdp.stabilityUnstaked"
	// TypeStakeRewardClaimed is emitted when seized collateral is paid to a staker.
	TypeStakeRewardClaimed = "cdp.rewardClaimed"
	// TypePositionLiquidated is emitted when the stability pool absorbs a position.
	TypePositionLiquidated = "cdp.positionLiquidated"
	// TypeTreasuryWithdrawn is emitted when pending protocol revenue is minted out.
	TypeTreasuryWithdrawn = "cdp.treasuryWithdrawn"
)

// ProtocolInitialized records the protocol parameters chosen at creation.
type ProtocolInitialized struct {
	Admin            crypto.Address
	StablecoinAsset  string
	StablecoinFeed   string
	ProtocolFeeBps   uint64
	RedemptionFeeBps uint64
	MintFeeBps       uint64
	BaseRateBps      uint64
	SigmaBps         uint64
}

func (ProtocolInitialized) EventType() string { return TypeProtocolInitialized }

func (e ProtocolInitialized) Event() *types.Event {
	attrs := map[string]string{
		"stablecoin":       normalizeAsset(e.StablecoinAsset),
		"stablecoinFeed":   e.StablecoinFeed,
		"protocolFeeBps":   strconv.FormatUint(e.ProtocolFeeBps, 10),
		"redemptionFeeBps": strconv.FormatUint(e.RedemptionFeeBps, 10),
		"mintFeeBps":       strconv.FormatUint(e.MintFeeBps, 10),
		"baseRateBps":      strconv.FormatUint(e.BaseRateBps, 10),
		"sigmaBps":         strconv.FormatUint(e.SigmaBps, 10),
	}
	setAddress(attrs, "admin", e.Admin)
	return &types.Event{Type: TypeProtocolInitialized, Attributes: attrs}
}

// PoolInitialized records a new collateral pool and its custody accounts.
type PoolInitialized struct {
	Asset     string
	Feed      string
	Vault     crypto.Address
	Reserve   crypto.Address
	Stability crypto.Address
}

func (PoolInitialized) EventType() string { return TypePoolInitialized }

func (e PoolInitialized) Event() *types.Event {
	attrs := map[string]string{
		"asset": normalizeAsset(e.Asset),
		"feed":  e.Feed,
	}
	setAddress(attrs, "vault", e.Vault)
	setAddress(attrs, "reserve", e.Reserve)
	setAddress(attrs, "stability", e.Stability)
	return &types.Event{Type: TypePoolInitialized, Attributes: attrs}
}

// PositionOpened captures the terms of a freshly opened position.
type PositionOpened struct {
	Owner      crypto.Address
	Asset      string
	Collateral *uint256.Int
	Principal  *uint256.Int
	MintFee    *uint256.Int
	Index      *uint256.Int
	Price      *uint256.Int
}

func (PositionOpened) EventType() string { return TypePositionOpened }

func (e PositionOpened) Event() *types.Event {
	attrs := map[string]string{
		"asset":      normalizeAsset(e.Asset),
		"collateral": formatAmount(e.Collateral),
		"principal":  formatAmount(e.Principal),
		"mintFee":    formatAmount(e.MintFee),
		"index":      formatAmount(e.Index),
		"price":      formatAmount(e.Price),
	}
	setAddress(attrs, "owner", e.Owner)
	return &types.Event{Type: TypePositionOpened, Attributes: attrs}
}

// PositionClosed captures the settlement of a repaid position.
type PositionClosed struct {
	Owner         crypto.Address
	Asset         string
	Owed          *uint256.Int
	RedemptionFee *uint256.Int
	Collateral    *uint256.Int
}

func (PositionClosed) EventType() string { return TypePositionClosed }

func (e PositionClosed) Event() *types.Event {
	attrs := map[string]string{
		"asset":         normalizeAsset(e.Asset),
		"owed":          formatAmount(e.Owed),
		"redemptionFee": formatAmount(e.RedemptionFee),
		"collateral":    formatAmount(e.Collateral),
	}
	setAddress(attrs, "owner", e.Owner)
	return &types.Event{Type: TypePositionClosed, Attributes: attrs}
}

// InterestRateUpdated captures one run of the rate controller.
type InterestRateUpdated struct {
	PreviousRateBps uint64
	RateBps         uint64
	Index           *uint256.Int
	ElapsedSeconds  uint64
	StablePrice     *uint256.Int
	GlobalDebt      *uint256.Int
}

func (InterestRateUpdated) EventType() string { return TypeInterestRateUpdated }

func (e InterestRateUpdated) Event() *types.Event {
	return &types.Event{Type: TypeInterestRateUpdated, Attributes: map[string]string{
		"previousRateBps": strconv.FormatUint(e.PreviousRateBps, 10),
		"rateBps":         strconv.FormatUint(e.RateBps, 10),
		"index":           formatAmount(e.Index),
		"elapsed":         strconv.FormatUint(e.ElapsedSeconds, 10),
		"stablePrice":     formatAmount(e.StablePrice),
		"globalDebt":      formatAmount(e.GlobalDebt),
	}}
}

// StabilityStaked captures a deposit into a stability pool.
type StabilityStaked struct {
	Owner      crypto.Address
	Asset      string
	Amount     *uint256.Int
	Deposit    *uint256.Int
	RewardPaid *uint256.Int
}

func (StabilityStaked) EventType() string { return TypeStabilityStaked }

func (e StabilityStaked) Event() *types.Event {
	attrs := map[string]string{
		"asset":      normalizeAsset(e.Asset),
		"amount":     formatAmount(e.Amount),
		"deposit":    formatAmount(e.Deposit),
		"rewardPaid": formatAmount(e.RewardPaid),
	}
	setAddress(attrs, "owner", e.Owner)
	return &types.Event{Type: TypeStabilityStaked, Attributes: attrs}
}

// StabilityUnstaked captures the closure of a stake account.
type StabilityUnstaked struct {
	Owner      crypto.Address
	Asset      string
	Returned   *uint256.Int
	RewardPaid *uint256.Int
}

func (StabilityUnstaked) EventType() string { return TypeStabilityUnstaked }

func (e StabilityUnstaked) Event() *types.Event {
	attrs := map[string]string{
		"asset":      normalizeAsset(e.Asset),
		"returned":   formatAmount(e.Returned),
		"rewardPaid": formatAmount(e.RewardPaid),
	}
	setAddress(attrs, "owner", e.Owner)
	return &types.Event{Type: TypeStabilityUnstaked, Attributes: attrs}
}

// StakeRewardClaimed captures a payout of seized collateral to a staker.
type StakeRewardClaimed struct {
	Owner  crypto.Address
	Asset  string
	Reward *uint256.Int
}

func (StakeRewardClaimed) EventType() string { return TypeStakeRewardClaimed }

func (e StakeRewardClaimed) Event() *types.Event {
	attrs := map[string]string{
		"asset":  normalizeAsset(e.Asset),
		"reward": formatAmount(e.Reward),
	}
	setAddress(attrs, "owner", e.Owner)
	return &types.Event{Type: TypeStakeRewardClaimed, Attributes: attrs}
}

// PositionLiquidated captures a liquidation absorbed by the stability pool.
type PositionLiquidated struct {
	Owner       crypto.Address
	Asset       string
	Liquidator  crypto.Address
	DebtBurned  *uint256.Int
	Seized      *uint256.Int
	Incentive   *uint256.Int
	StakerShare *uint256.Int
	HealthBps   *uint256.Int
	Price       *uint256.Int
}

func (PositionLiquidated) EventType() string { return TypePositionLiquidated }

func (e PositionLiquidated) Event() *types.Event {
	attrs := map[string]string{
		"asset":       normalizeAsset(e.Asset),
		"debtBurned":  formatAmount(e.DebtBurned),
		"seized":      formatAmount(e.Seized),
		"incentive":   formatAmount(e.Incentive),
		"stakerShare": formatAmount(e.StakerShare),
		"healthBps":   formatAmount(e.HealthBps),
		"price":       formatAmount(e.Price),
	}
	setAddress(attrs, "owner", e.Owner)
	setAddress(attrs, "liquidator", e.Liquidator)
	return &types.Event{Type: TypePositionLiquidated, Attributes: attrs}
}

// TreasuryWithdrawn captures a mint of pending protocol revenue.
type TreasuryWithdrawn struct {
	Recipient crypto.Address
	Amount    *uint256.Int
}

func (TreasuryWithdrawn) EventType() string { return TypeTreasuryWithdrawn }

func (e TreasuryWithdrawn) Event() *types.Event {
	attrs := map[string]string{"amount": formatAmount(e.Amount)}
	setAddress(attrs, "recipient", e.Recipient)
	return &types.Event{Type: TypeTreasuryWithdrawn, Attributes: attrs}
}
