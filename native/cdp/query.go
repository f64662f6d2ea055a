package cdp

import (
	"github.com/holiman/uint256"

	"cdpchain/crypto"
)

// Protocol returns the protocol singleton.
func (e *Engine) Protocol() (*ProtocolConfig, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

// Pool returns the collateral pool for asset.
func (e *Engine) Pool(asset string) (*CollateralPool, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.loadPool(asset)
	if err != nil {
		return nil, err
	}
	return pool.Clone(), nil
}

// Position returns the owner's open position against asset.
func (e *Engine) Position(owner crypto.Address, asset string) (*Position, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	position, err := e.loadPosition(owner, asset)
	if err != nil {
		return nil, err
	}
	return position.Clone(), nil
}

// Stake returns the owner's stake account in the asset's stability pool with
// its compounded deposit and unclaimed reward.
func (e *Engine) Stake(owner crypto.Address, asset string) (*StakeView, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	pool, err := e.loadPool(asset)
	if err != nil {
		return nil, err
	}
	account, err := e.loadStake(owner, pool.Asset)
	if err != nil {
		return nil, err
	}
	deposit, err := compoundedDeposit(account, &pool.Stability)
	if err != nil {
		return nil, err
	}
	reward, err := pendingReward(account, &pool.Stability)
	if err != nil {
		return nil, err
	}
	return &StakeView{
		Account:       account.Clone(),
		Deposit:       deposit,
		PendingReward: reward,
	}, nil
}

// Balance returns addr's ledger balance of asset.
func (e *Engine) Balance(addr crypto.Address, asset string) (*uint256.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.balance(addr, asset)
}
