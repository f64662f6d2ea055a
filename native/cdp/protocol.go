package cdp

import (
	"fmt"

	"github.com/holiman/uint256"

	"cdpchain/core/events"
	"cdpchain/crypto"
)

// InitializeProtocolConfig creates the protocol singleton with caller as its
// administrator.
func (e *Engine) InitializeProtocolConfig(caller crypto.Address, init ProtocolInit) (*ProtocolConfig, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if caller.IsZero() {
		return nil, ErrUnauthorized
	}
	if !e.authority.IsZero() && !caller.Equal(e.authority) {
		return nil, ErrUnauthorized
	}
	if !validBps(init.ProtocolFeeBps, init.RedemptionFeeBps, init.MintFeeBps, init.BaseRateBps, init.SigmaBps) {
		return nil, fmt.Errorf("%w: basis point fields must be <= %d", ErrInvalidParameter, BpsScale)
	}
	stable := normalizeAsset(init.StablecoinAsset)
	feed := trimmed(init.StablecoinFeed)
	if stable == "" || feed == "" {
		return nil, fmt.Errorf("%w: stablecoin asset and feed required", ErrInvalidParameter)
	}
	existing, err := e.state.GetProtocolConfig()
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrDuplicateInit
	}

	cfg := &ProtocolConfig{
		Admin:                 caller,
		ProtocolFeeBps:        init.ProtocolFeeBps,
		RedemptionFeeBps:      init.RedemptionFeeBps,
		MintFeeBps:            init.MintFeeBps,
		BaseRateBps:           init.BaseRateBps,
		SigmaBps:              init.SigmaBps,
		MinRateBps:            e.params.MinRateBps,
		MaxRateBps:            e.params.MaxRateBps,
		GlobalInterestIndex:   IndexScale.Clone(),
		LastRateUpdate:        e.nowUnix(),
		StablecoinFeed:        feed,
		StablecoinAsset:       stable,
		GlobalDebtOutstanding: new(uint256.Int),
		PendingTreasury:       new(uint256.Int),
	}
	cfg.CurrentRateBps = clampRate(init.BaseRateBps, cfg.MinRateBps, cfg.MaxRateBps)
	if err := e.state.PutProtocolConfig(cfg); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.ProtocolInitialized{
		Admin:            caller,
		StablecoinAsset:  stable,
		StablecoinFeed:   feed,
		ProtocolFeeBps:   cfg.ProtocolFeeBps,
		RedemptionFeeBps: cfg.RedemptionFeeBps,
		MintFeeBps:       cfg.MintFeeBps,
		BaseRateBps:      cfg.BaseRateBps,
		SigmaBps:         cfg.SigmaBps,
	})
	return cfg.Clone(), nil
}

// InitializeCollateralVault registers a collateral asset priced by feedID.
func (e *Engine) InitializeCollateralVault(caller crypto.Address, asset, feedID string) (*CollateralPool, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if !caller.Equal(cfg.Admin) {
		return nil, ErrUnauthorized
	}
	asset = normalizeAsset(asset)
	feedID = trimmed(feedID)
	if asset == "" || feedID == "" {
		return nil, fmt.Errorf("%w: asset and price feed required", ErrInvalidParameter)
	}
	if asset == cfg.StablecoinAsset {
		return nil, fmt.Errorf("%w: the stablecoin cannot back itself", ErrInvalidParameter)
	}
	existing, err := e.state.GetPool(asset)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: %s", ErrDuplicatePool, asset)
	}

	pool := &CollateralPool{
		Asset:                     asset,
		PriceFeed:                 feedID,
		VaultBalance:              new(uint256.Int),
		LiquidationReserveBalance: new(uint256.Int),
		TotalCollateralLocked:     new(uint256.Int),
		TotalDebtIssued:           new(uint256.Int),
		MinCollateralRatioBps:     e.params.MinCollateralRatioBps,
		LiquidationThresholdBps:   e.params.LiquidationThresholdBps,
		Stability: StabilityPool{
			TotalStaked:       new(uint256.Int),
			RewardAccumulator: new(uint256.Int),
			DepletionFactor:   IndexScale.Clone(),
		},
		CreatedAt: e.nowUnix(),
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.PoolInitialized{
		Asset:     asset,
		Feed:      feedID,
		Vault:     VaultAddress(asset),
		Reserve:   ReserveAddress(asset),
		Stability: StabilityAddress(asset),
	})
	return pool.Clone(), nil
}

// WithdrawTreasury mints the accumulated protocol fees to recipient, or to
// the administrator when recipient is zero.
func (e *Engine) WithdrawTreasury(caller, recipient crypto.Address) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if !caller.Equal(cfg.Admin) {
		return nil, ErrUnauthorized
	}
	pending := cloneInt(cfg.PendingTreasury)
	if pending.IsZero() {
		return nil, ErrNothingToWithdraw
	}
	if recipient.IsZero() {
		recipient = caller
	}
	if err := e.ledger().Mint(recipient, cfg.StablecoinAsset, pending); err != nil {
		return nil, err
	}
	cfg.PendingTreasury = new(uint256.Int)
	if err := e.state.PutProtocolConfig(cfg); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.TreasuryWithdrawn{Recipient: recipient, Amount: pending})
	return pending, nil
}
