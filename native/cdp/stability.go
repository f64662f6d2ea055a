package cdp

import (
	"fmt"

	"github.com/holiman/uint256"

	"cdpchain/core/events"
	"cdpchain/crypto"
)

// StakeStableTokens deposits amount of stablecoin into the asset's stability
// pool. Pending collateral rewards are paid out first and the existing
// deposit is rebased to its compounded value.
func (e *Engine) StakeStableTokens(owner crypto.Address, asset string, amount *uint256.Int) (*StakeView, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if !positive(amount) {
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
	if err := e.requireBalance(owner, cfg.StablecoinAsset, amount); err != nil {
		return nil, err
	}
	account, err := e.state.GetStake(owner, pool.Asset)
	if err != nil {
		return nil, err
	}
	deposit := new(uint256.Int)
	reward := new(uint256.Int)
	if account != nil {
		if deposit, err = compoundedDeposit(account, &pool.Stability); err != nil {
			return nil, err
		}
		if reward, err = pendingReward(account, &pool.Stability); err != nil {
			return nil, err
		}
	}
	newDeposit, err := checkedAdd(deposit, amount)
	if err != nil {
		return nil, err
	}
	total, err := checkedAdd(cloneInt(pool.Stability.TotalStaked), amount)
	if err != nil {
		return nil, err
	}

	paid, err := e.payReward(pool, owner, reward)
	if err != nil {
		return nil, err
	}
	if err := e.ledger().Transfer(owner, StabilityAddress(pool.Asset), cfg.StablecoinAsset, amount); err != nil {
		return nil, err
	}
	account = &StakeAccount{
		Owner:      owner,
		Asset:      pool.Asset,
		Amount:     newDeposit,
		LastStaked: e.nowUnix(),
	}
	snapshot(account, &pool.Stability)
	pool.Stability.TotalStaked = total
	if err := e.state.PutStake(account); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.StabilityStaked{
		Owner:      owner,
		Asset:      pool.Asset,
		Amount:     amount,
		Deposit:    newDeposit,
		RewardPaid: paid,
	})
	return &StakeView{Account: account.Clone(), Deposit: newDeposit.Clone(), PendingReward: new(uint256.Int)}, nil
}

// UnstakeStableTokens closes the owner's stake account, returning the
// compounded deposit and any pending collateral reward.
func (e *Engine) UnstakeStableTokens(owner crypto.Address, asset string) (*UnstakeResult, error) {
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
	total := cloneInt(pool.Stability.TotalStaked)
	deposit = minInt(deposit, total)

	paid, err := e.payReward(pool, owner, reward)
	if err != nil {
		return nil, err
	}
	if !deposit.IsZero() {
		if err := e.ledger().Transfer(StabilityAddress(pool.Asset), owner, cfg.StablecoinAsset, deposit); err != nil {
			return nil, err
		}
	}
	pool.Stability.TotalStaked = new(uint256.Int).Sub(total, deposit)
	if err := e.state.DeleteStake(owner, pool.Asset); err != nil {
		return nil, err
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.StabilityUnstaked{
		Owner:      owner,
		Asset:      pool.Asset,
		Returned:   deposit,
		RewardPaid: paid,
	})
	return &UnstakeResult{Returned: deposit, RewardPaid: paid}, nil
}

// ClaimStakeReward pays the owner's accumulated share of seized collateral
// and keeps the compounded deposit staked. An account whose deposit was fully
// consumed by liquidations is closed.
func (e *Engine) ClaimStakeReward(owner crypto.Address, asset string) (*uint256.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if _, err := e.loadConfig(); err != nil {
		return nil, err
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

	paid, err := e.payReward(pool, owner, reward)
	if err != nil {
		return nil, err
	}
	if deposit.IsZero() {
		if err := e.state.DeleteStake(owner, pool.Asset); err != nil {
			return nil, err
		}
	} else {
		account.Amount = deposit
		snapshot(account, &pool.Stability)
		if err := e.state.PutStake(account); err != nil {
			return nil, err
		}
	}
	if err := e.state.PutPool(pool); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.StakeRewardClaimed{Owner: owner, Asset: pool.Asset, Reward: paid})
	return paid, nil
}

func (e *Engine) loadStake(owner crypto.Address, asset string) (*StakeAccount, error) {
	account, err := e.state.GetStake(owner, asset)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, ErrStakeNotFound
	}
	return account, nil
}

// payReward moves amount of seized collateral from the reserve to owner. A
// reserve smaller than the entitlement fails the operation so no reward is
// forfeited by advancing the caller's snapshot.
func (e *Engine) payReward(pool *CollateralPool, owner crypto.Address, amount *uint256.Int) (*uint256.Int, error) {
	if amount.IsZero() {
		return new(uint256.Int), nil
	}
	reserve := cloneInt(pool.LiquidationReserveBalance)
	if reserve.Lt(amount) {
		return nil, fmt.Errorf("%w: liquidation reserve holds %s, reward is %s", ErrInsufficientFunds, reserve.Dec(), amount.Dec())
	}
	if err := e.ledger().Transfer(ReserveAddress(pool.Asset), owner, pool.Asset, amount); err != nil {
		return nil, err
	}
	pool.LiquidationReserveBalance = new(uint256.Int).Sub(reserve, amount)
	return amount.Clone(), nil
}

func snapshot(account *StakeAccount, sp *StabilityPool) {
	account.DepletionSnapshot = cloneInt(sp.DepletionFactor)
	account.RewardSnapshot = cloneInt(sp.RewardAccumulator)
	account.Epoch = sp.Epoch
	account.Scale = sp.Scale
}

// compoundedDeposit is the account's share of the pool after the debt burned
// by liquidations since its snapshot. Deposits from an exhausted epoch, or
// more than one scale behind, are worth nothing.
func compoundedDeposit(account *StakeAccount, sp *StabilityPool) (*uint256.Int, error) {
	if account.Epoch != sp.Epoch || !positive(account.DepletionSnapshot) || account.Scale > sp.Scale {
		return new(uint256.Int), nil
	}
	switch sp.Scale - account.Scale {
	case 0:
		return mulDiv(cloneInt(account.Amount), cloneInt(sp.DepletionFactor), account.DepletionSnapshot)
	case 1:
		denominator, err := checkedMul(account.DepletionSnapshot, ScaleFactor)
		if err != nil {
			return nil, err
		}
		return mulDiv(cloneInt(account.Amount), cloneInt(sp.DepletionFactor), denominator)
	default:
		return new(uint256.Int), nil
	}
}

// pendingReward is the collateral accrued to the account since its snapshot.
// Gains recorded at the snapshot scale count in full; gains from the next
// scale are divided by ScaleFactor. Later scales round to nothing.
func pendingReward(account *StakeAccount, sp *StabilityPool) (*uint256.Int, error) {
	if !positive(account.DepletionSnapshot) {
		return new(uint256.Int), nil
	}
	first := saturatingSub(sp.rewardSum(account.Epoch, account.Scale), cloneInt(account.RewardSnapshot))
	second := new(uint256.Int).Div(sp.rewardSum(account.Epoch, account.Scale+1), ScaleFactor)
	gain, err := checkedAdd(first, second)
	if err != nil {
		return nil, err
	}
	if gain.IsZero() {
		return gain, nil
	}
	return mulDiv(cloneInt(account.Amount), gain, account.DepletionSnapshot)
}

// rewardSum returns the accumulator of the given epoch and scale, live or
// archived. Pairs that were never reached sum to zero.
func (sp *StabilityPool) rewardSum(epoch, scale uint64) *uint256.Int {
	if epoch == sp.Epoch && scale == sp.Scale {
		return cloneInt(sp.RewardAccumulator)
	}
	for _, archived := range sp.RewardSums {
		if archived.Epoch == epoch && archived.Scale == scale {
			return cloneInt(archived.Sum)
		}
	}
	return new(uint256.Int)
}

// archive stores sum as the final accumulator of the current epoch and scale.
func (sp *StabilityPool) archive(sum *uint256.Int) {
	sp.RewardSums = append(sp.RewardSums, RewardSum{Epoch: sp.Epoch, Scale: sp.Scale, Sum: sum})
	sp.RewardAccumulator = new(uint256.Int)
}

// absorb distributes stakerShare of seized collateral over the pool and
// burns owed from its deposits.
func absorb(sp *StabilityPool, owed, stakerShare *uint256.Int) error {
	total := cloneInt(sp.TotalStaked)
	factor := cloneInt(sp.DepletionFactor)
	increment, err := mulDiv(stakerShare, factor, total)
	if err != nil {
		return err
	}
	sum, err := checkedAdd(cloneInt(sp.RewardAccumulator), increment)
	if err != nil {
		return err
	}
	remaining := new(uint256.Int).Sub(total, owed)
	sp.TotalStaked = remaining
	if remaining.IsZero() {
		sp.rollEpoch(sum)
		return nil
	}
	next, err := mulDiv(factor, remaining, total)
	if err != nil {
		return err
	}
	if !next.Lt(ScaleFactor) {
		sp.DepletionFactor = next
		sp.RewardAccumulator = sum
		return nil
	}
	scaled, err := checkedMul(factor, ScaleFactor)
	if err != nil {
		return err
	}
	if next, err = mulDiv(scaled, remaining, total); err != nil {
		return err
	}
	// Less than a billionth of the pool survived; the residue is dust.
	if next.Lt(ScaleFactor) {
		sp.rollEpoch(sum)
		return nil
	}
	sp.archive(sum)
	sp.Scale++
	sp.DepletionFactor = next
	return nil
}

func (sp *StabilityPool) rollEpoch(sum *uint256.Int) {
	sp.archive(sum)
	sp.Epoch++
	sp.Scale = 0
	sp.DepletionFactor = IndexScale.Clone()
}
