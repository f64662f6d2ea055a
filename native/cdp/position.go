package cdp

import (
	"fmt"

	"github.com/holiman/uint256"

	"cdpchain/core/events"
	"cdpchain/crypto"
)

// OpenPosition locks collateral from owner and mints debt against it. The
// owner receives debt less the mint fee; the full debt is recorded as
// principal.
func (e *Engine) OpenPosition(owner crypto.Address, asset string, collateral, debt *uint256.Int) (*Position, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !positive(collateral) || !positive(debt) {
		return nil, ErrInvalidAmount
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	pool, err := e.loadPool(asset)
	if err != nil {
		return nil, err
	}
	existing, err := e.state.GetPosition(owner, pool.Asset)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicatePosition
	}

	price, err := e.collateralPrice(pool)
	if err != nil {
		return nil, err
	}
	peg, err := e.pegPrice(cfg)
	if err != nil {
		return nil, err
	}
	ratio, err := ratioBps(collateral, price, debt, peg)
	if err != nil {
		return nil, err
	}
	if ratio.Lt(uint256.NewInt(pool.MinCollateralRatioBps)) {
		return nil, fmt.Errorf("%w: ratio %s bps below %d bps", ErrInsufficientCollateral, ratio.Dec(), pool.MinCollateralRatioBps)
	}
	if err := e.requireBalance(owner, pool.Asset, collateral); err != nil {
		return nil, err
	}

	fee, err := bpsOf(debt, cfg.MintFeeBps)
	if err != nil {
		return nil, err
	}
	vault, err := checkedAdd(cloneInt(pool.VaultBalance), collateral)
	if err != nil {
		return nil, err
	}
	locked, err := checkedAdd(cloneInt(pool.TotalCollateralLocked), collateral)
	if err != nil {
		return nil, err
	}
	issued, err := checkedAdd(cloneInt(pool.TotalDebtIssued), debt)
	if err != nil {
		return nil, err
	}

	if err := e.ledger().Transfer(owner, VaultAddress(pool.Asset), pool.Asset, collateral); err != nil {
		return nil, err
	}
	if err := e.mintStable(cfg, owner, debt, fee); err != nil {
		return nil, err
	}
	position := &Position{
		Owner:       owner,
		Asset:       pool.Asset,
		Collateral:  collateral.Clone(),
		Principal:   debt.Clone(),
		IndexAtOpen: cloneInt(cfg.GlobalInterestIndex),
		OpenTime:    e.nowUnix(),
	}
	pool.VaultBalance = vault
	pool.TotalCollateralLocked = locked
	pool.TotalDebtIssued = issued
	if err := e.state.PutPosition(position); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	if err := e.state.PutProtocolConfig(cfg); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.PositionOpened{
		Owner:      owner,
		Asset:      pool.Asset,
		Collateral: position.Collateral,
		Principal:  position.Principal,
		MintFee:    fee,
		Index:      position.IndexAtOpen,
		Price:      price,
	})
	return position.Clone(), nil
}

// ClosePosition repays the owed amount plus the redemption fee from the
// owner's stablecoin balance and releases the escrowed collateral.
func (e *Engine) ClosePosition(owner crypto.Address, asset string) (*CloseResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
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

	owed, err := owedAmount(position, cloneInt(cfg.GlobalInterestIndex))
	if err != nil {
		return nil, err
	}
	fee, err := bpsOf(owed, cfg.RedemptionFeeBps)
	if err != nil {
		return nil, err
	}
	totalDue, err := checkedAdd(owed, fee)
	if err != nil {
		return nil, err
	}
	if err := e.requireBalance(owner, cfg.StablecoinAsset, totalDue); err != nil {
		return nil, err
	}
	collateral := cloneInt(position.Collateral)
	vault, err := checkedSub(cloneInt(pool.VaultBalance), collateral)
	if err != nil {
		return nil, err
	}
	locked, err := checkedSub(cloneInt(pool.TotalCollateralLocked), collateral)
	if err != nil {
		return nil, err
	}

	if err := e.burnStable(cfg, owner, owed, fee); err != nil {
		return nil, err
	}
	if err := e.ledger().Transfer(VaultAddress(pool.Asset), owner, pool.Asset, collateral); err != nil {
		return nil, err
	}
	pool.VaultBalance = vault
	pool.TotalCollateralLocked = locked
	pool.TotalDebtIssued = saturatingSub(cloneInt(pool.TotalDebtIssued), cloneInt(position.Principal))
	if err := e.state.DeletePosition(owner, pool.Asset); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	if err := e.state.PutProtocolConfig(cfg); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.PositionClosed{
		Owner:         owner,
		Asset:         pool.Asset,
		Owed:          owed,
		RedemptionFee: fee,
		Collateral:    collateral,
	})
	return &CloseResult{Owed: owed, RedemptionFee: fee, CollateralReleased: collateral}, nil
}

// PositionHealth values a position at a freshly read price.
func (e *Engine) PositionHealth(owner crypto.Address, asset string) (*Health, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
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
	return e.health(cfg, pool, position)
}

func (e *Engine) health(cfg *ProtocolConfig, pool *CollateralPool, position *Position) (*Health, error) {
	price, err := e.collateralPrice(pool)
	if err != nil {
		return nil, err
	}
	peg, err := e.pegPrice(cfg)
	if err != nil {
		return nil, err
	}
	owed, err := owedAmount(position, cloneInt(cfg.GlobalInterestIndex))
	if err != nil {
		return nil, err
	}
	ratio, err := ratioBps(cloneInt(position.Collateral), price, owed, peg)
	if err != nil {
		return nil, err
	}
	value, err := mulDiv(cloneInt(position.Collateral), price, priceScale)
	if err != nil {
		return nil, err
	}
	return &Health{
		Owed:            owed,
		CollateralValue: value,
		RatioBps:        ratio,
		Price:           price,
		Liquidatable:    ratio.Lt(uint256.NewInt(pool.LiquidationThresholdBps)),
	}, nil
}
