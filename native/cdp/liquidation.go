package cdp

import (
	"fmt"

	"github.com/holiman/uint256"

	"cdpchain/core/events"
	"cdpchain/crypto"
)

// LiquidatePosition closes an under-collateralised position against the
// stability pool. The pool burns the owed debt, the liquidator receives the
// incentive share of the seized collateral, and the remainder moves to the
// liquidation reserve for stakers to claim.
func (e *Engine) LiquidatePosition(liquidator, owner crypto.Address, asset string) (*LiquidationResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if liquidator.IsZero() {
		return nil, ErrUnauthorized
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	pool, err := e.loadPool(asset)
	if err != nil {
		return nil, err
	}
	position, err := e.loadPosition(owner, pool.Asset)
	if err != nil {
		return nil, err
	}
	health, err := e.health(cfg, pool, position)
	if err != nil {
		return nil, err
	}
	if !health.Liquidatable {
		return nil, fmt.Errorf("%w: ratio %s bps at or above %d bps", ErrNotLiquidatable, health.RatioBps.Dec(), pool.LiquidationThresholdBps)
	}
	owed := health.Owed
	if cloneInt(pool.Stability.TotalStaked).Lt(owed) {
		return nil, fmt.Errorf("%w: pool holds %s, position owes %s", ErrInsufficientStabilityPool, cloneInt(pool.Stability.TotalStaked).Dec(), owed.Dec())
	}

	seized := cloneInt(position.Collateral)
	incentive, err := bpsOf(seized, e.params.LiquidationIncentiveBps)
	if err != nil {
		return nil, err
	}
	stakerShare := new(uint256.Int).Sub(seized, incentive)
	vault, err := checkedSub(cloneInt(pool.VaultBalance), seized)
	if err != nil {
		return nil, err
	}
	locked, err := checkedSub(cloneInt(pool.TotalCollateralLocked), seized)
	if err != nil {
		return nil, err
	}
	reserve, err := checkedAdd(cloneInt(pool.LiquidationReserveBalance), stakerShare)
	if err != nil {
		return nil, err
	}
	stability := pool.Clone().Stability
	if err := absorb(&stability, owed, stakerShare); err != nil {
		return nil, err
	}

	if err := e.burnStable(cfg, StabilityAddress(pool.Asset), owed, new(uint256.Int)); err != nil {
		return nil, err
	}
	ledger := e.ledger()
	if err := ledger.Transfer(VaultAddress(pool.Asset), liquidator, pool.Asset, incentive); err != nil {
		return nil, err
	}
	if err := ledger.Transfer(VaultAddress(pool.Asset), ReserveAddress(pool.Asset), pool.Asset, stakerShare); err != nil {
		return nil, err
	}
	pool.VaultBalance = vault
	pool.TotalCollateralLocked = locked
	pool.TotalDebtIssued = saturatingSub(cloneInt(pool.TotalDebtIssued), cloneInt(position.Principal))
	pool.LiquidationReserveBalance = reserve
	pool.Stability = stability
	if err := e.state.DeletePosition(owner, pool.Asset); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	if err := e.state.PutProtocolConfig(cfg); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.PositionLiquidated{
		Owner:       owner,
		Asset:       pool.Asset,
		Liquidator:  liquidator,
		DebtBurned:  owed,
		Seized:      seized,
		Incentive:   incentive,
		StakerShare: stakerShare,
		HealthBps:   health.RatioBps,
		Price:       health.Price,
	})
	return &LiquidationResult{
		DebtBurned:  owed,
		Seized:      seized,
		Incentive:   incentive,
		StakerShare: stakerShare,
		HealthBps:   health.RatioBps,
		Price:       health.Price,
	}, nil
}
