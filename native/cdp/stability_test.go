package cdp

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"cdpchain/core/events"
	"cdpchain/crypto"
)

func TestStakeUnstakeReturnsExactAmount(t *testing.T) {
	h := newHarness(t, DefaultParams())
	staker := makeAddress(0x10)
	h.fund(staker, testStable, 700)

	view, err := h.engine.StakeStableTokens(staker, testAsset, amt(700))
	require.NoError(t, err)
	expectAmount(t, "deposit", view.Deposit, 700)
	expectAmount(t, "total staked", h.pool().Stability.TotalStaked, 700)
	expectAmount(t, "custody", h.balance(StabilityAddress(testAsset), testStable), 700)

	result, err := h.engine.UnstakeStableTokens(staker, testAsset)
	require.NoError(t, err)
	expectAmount(t, "returned", result.Returned, 700)
	expectAmount(t, "reward", result.RewardPaid, 0)
	expectAmount(t, "stable restored", h.balance(staker, testStable), 700)
	expectAmount(t, "total staked", h.pool().Stability.TotalStaked, 0)

	_, err = h.engine.Stake(staker, testAsset)
	require.ErrorIs(t, err, ErrStakeNotFound)
	_, err = h.engine.UnstakeStableTokens(staker, testAsset)
	require.ErrorIs(t, err, ErrStakeNotFound)
}

func TestStakeRequiresBalance(t *testing.T) {
	h := newHarness(t, DefaultParams())
	staker := makeAddress(0x10)
	h.fund(staker, testStable, 10)
	_, err := h.engine.StakeStableTokens(staker, testAsset, amt(11))
	require.ErrorIs(t, err, ErrInsufficientFunds)
	_, err = h.engine.StakeStableTokens(staker, testAsset, amt(0))
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestRepeatedStakeAccumulates(t *testing.T) {
	h := newHarness(t, DefaultParams())
	staker := makeAddress(0x10)
	h.fund(staker, testStable, 1_000)
	_, err := h.engine.StakeStableTokens(staker, testAsset, amt(400))
	require.NoError(t, err)
	view, err := h.engine.StakeStableTokens(staker, testAsset, amt(600))
	require.NoError(t, err)
	expectAmount(t, "deposit", view.Deposit, 1_000)
	require.Equal(t, uint64(h.now.Unix()), view.Account.LastStaked)
}

// openAndCrash opens a 1000/1000 position at $1.50 and drops the collateral
// price to $1.10 (110%).
func openAndCrash(t *testing.T, h *harness) {
	t.Helper()
	owner := makeAddress(0x01)
	h.fund(owner, testAsset, 1_000)
	_, err := h.engine.OpenPosition(owner, testAsset, amt(1_000), amt(1_000))
	require.NoError(t, err)
	h.setPrice(testAssetFeed, 1_100_000)
}

func TestLiquidationSplitsCollateralAndCompoundsDeposits(t *testing.T) {
	h := newHarness(t, DefaultParams())
	owner := makeAddress(0x01)
	alice := makeAddress(0x10)
	bob := makeAddress(0x11)
	liquidator := makeAddress(0x20)
	h.fund(alice, testStable, 1_500)
	h.fund(bob, testStable, 500)
	_, err := h.engine.StakeStableTokens(alice, testAsset, amt(1_500))
	require.NoError(t, err)
	_, err = h.engine.StakeStableTokens(bob, testAsset, amt(500))
	require.NoError(t, err)

	openAndCrash(t, h)
	debtBefore := h.protocol().GlobalDebtOutstanding
	h.events.Drain()

	result, err := h.engine.LiquidatePosition(liquidator, owner, testAsset)
	require.NoError(t, err)
	expectAmount(t, "debt burned", result.DebtBurned, 1_000)
	expectAmount(t, "seized", result.Seized, 1_000)
	expectAmount(t, "incentive", result.Incentive, 50)
	expectAmount(t, "staker share", result.StakerShare, 950)
	expectAmount(t, "health", result.HealthBps, 11_000)

	pool := h.pool()
	expectAmount(t, "total staked", pool.Stability.TotalStaked, 1_000)
	expectAmount(t, "reserve", pool.LiquidationReserveBalance, 950)
	expectAmount(t, "vault", pool.VaultBalance, 0)
	expectAmount(t, "locked", pool.TotalCollateralLocked, 0)
	expectAmount(t, "debt issued", pool.TotalDebtIssued, 0)
	require.True(t, h.protocol().GlobalDebtOutstanding.Eq(debtBefore.Sub(debtBefore, amt(1_000))))
	expectAmount(t, "liquidator collateral", h.balance(liquidator, testAsset), 50)
	expectAmount(t, "stability custody", h.balance(StabilityAddress(testAsset), testStable), 1_000)
	_, err = h.engine.Position(owner, testAsset)
	require.ErrorIs(t, err, ErrPositionNotFound)

	drained := h.events.Drain()
	var liquidated bool
	for _, evt := range drained {
		if evt.EventType() == events.TypePositionLiquidated {
			liquidated = true
			require.Equal(t, liquidator.String(), evt.Event().Attr("liquidator"))
		}
	}
	require.True(t, liquidated)

	aliceView, err := h.engine.Stake(alice, testAsset)
	require.NoError(t, err)
	expectAmount(t, "alice deposit", aliceView.Deposit, 750)
	expectAmount(t, "alice reward", aliceView.PendingReward, 712)
	bobView, err := h.engine.Stake(bob, testAsset)
	require.NoError(t, err)
	expectAmount(t, "bob deposit", bobView.Deposit, 250)
	expectAmount(t, "bob reward", bobView.PendingReward, 237)

	claimed, err := h.engine.ClaimStakeReward(alice, testAsset)
	require.NoError(t, err)
	expectAmount(t, "claimed", claimed, 712)
	expectAmount(t, "alice collateral", h.balance(alice, testAsset), 712)
	aliceView, err = h.engine.Stake(alice, testAsset)
	require.NoError(t, err)
	expectAmount(t, "alice deposit after claim", aliceView.Deposit, 750)
	expectAmount(t, "alice reward after claim", aliceView.PendingReward, 0)

	out, err := h.engine.UnstakeStableTokens(bob, testAsset)
	require.NoError(t, err)
	expectAmount(t, "bob returned", out.Returned, 250)
	expectAmount(t, "bob reward", out.RewardPaid, 237)
	expectAmount(t, "bob stable", h.balance(bob, testStable), 250)
	expectAmount(t, "reserve after payouts", h.pool().LiquidationReserveBalance, 1)
}

func TestLiquidationWithoutIncentiveMovesAllCollateralToReserve(t *testing.T) {
	params := DefaultParams()
	params.LiquidationIncentiveBps = 0
	h := newHarness(t, params)
	owner := makeAddress(0x01)
	staker := makeAddress(0x10)
	h.fund(staker, testStable, 1_000)
	_, err := h.engine.StakeStableTokens(staker, testAsset, amt(1_000))
	require.NoError(t, err)
	openAndCrash(t, h)

	result, err := h.engine.LiquidatePosition(makeAddress(0x20), owner, testAsset)
	require.NoError(t, err)
	expectAmount(t, "seized", result.Seized, 1_000)
	expectAmount(t, "incentive", result.Incentive, 0)

	pool := h.pool()
	expectAmount(t, "reserve", pool.LiquidationReserveBalance, 1_000)
	expectAmount(t, "total staked", pool.Stability.TotalStaked, 0)
	// The pool was exhausted exactly, so a new epoch begins.
	require.Equal(t, uint64(1), pool.Stability.Epoch)
	require.True(t, pool.Stability.DepletionFactor.Eq(IndexScale))
	expectAmount(t, "global debt", h.protocol().GlobalDebtOutstanding, 0)

	out, err := h.engine.UnstakeStableTokens(staker, testAsset)
	require.NoError(t, err)
	expectAmount(t, "returned", out.Returned, 0)
	expectAmount(t, "reward", out.RewardPaid, 1_000)

	// A fresh staker in the new epoch is unaffected by the old one.
	late := makeAddress(0x11)
	h.fund(late, testStable, 300)
	_, err = h.engine.StakeStableTokens(late, testAsset, amt(300))
	require.NoError(t, err)
	out, err = h.engine.UnstakeStableTokens(late, testAsset)
	require.NoError(t, err)
	expectAmount(t, "late returned", out.Returned, 300)
}

func TestLiquidationPreconditions(t *testing.T) {
	h := newHarness(t, DefaultParams())
	owner := makeAddress(0x01)
	liquidator := makeAddress(0x20)
	h.fund(owner, testAsset, 1_000)
	_, err := h.engine.OpenPosition(owner, testAsset, amt(1_000), amt(1_000))
	require.NoError(t, err)

	h.setPrice(testAssetFeed, 1_600_000)
	_, err = h.engine.LiquidatePosition(liquidator, owner, testAsset)
	require.ErrorIs(t, err, ErrNotLiquidatable)

	h.setPrice(testAssetFeed, 1_100_000)
	_, err = h.engine.LiquidatePosition(liquidator, owner, testAsset)
	require.ErrorIs(t, err, ErrInsufficientStabilityPool)
	_, err = h.engine.Position(owner, testAsset)
	require.NoError(t, err, "failed liquidation must leave the position")

	_, err = h.engine.LiquidatePosition(liquidator, makeAddress(0x02), testAsset)
	require.ErrorIs(t, err, ErrPositionNotFound)
}

func TestClaimWithoutStake(t *testing.T) {
	h := newHarness(t, DefaultParams())
	_, err := h.engine.ClaimStakeReward(makeAddress(0x10), testAsset)
	if !errors.Is(err, ErrStakeNotFound) {
		t.Fatalf("expected stake not found, got %v", err)
	}
}

func TestAbsorbRollsEpochWhenPoolExhausted(t *testing.T) {
	sp := &StabilityPool{
		TotalStaked:       amt(500),
		RewardAccumulator: amt(0),
		DepletionFactor:   IndexScale.Clone(),
	}
	if err := absorb(sp, amt(500), amt(400)); err != nil {
		t.Fatalf("absorb: %v", err)
	}
	if sp.Epoch != 1 || sp.Scale != 0 || len(sp.RewardSums) != 1 || !sp.RewardAccumulator.IsZero() {
		t.Fatalf("expected epoch rollover, got %+v", sp)
	}
	account := &StakeAccount{Amount: amt(500), DepletionSnapshot: IndexScale.Clone(), RewardSnapshot: amt(0)}
	reward, err := pendingReward(account, sp)
	if err != nil {
		t.Fatalf("reward: %v", err)
	}
	expectAmount(t, "archived reward", reward, 400)
	deposit, err := compoundedDeposit(account, sp)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	expectAmount(t, "deposit", deposit, 0)
}

func TestAbsorbRescalesDepletionFactor(t *testing.T) {
	sp := &StabilityPool{
		TotalStaked:       amt(1_000_000),
		RewardAccumulator: amt(5),
		DepletionFactor:   amt(1_000_000_000_000),
	}
	account := &StakeAccount{Amount: amt(1_000_000), DepletionSnapshot: amt(1_000_000_000_000), RewardSnapshot: amt(5)}
	require.NoError(t, absorb(sp, amt(999_999), amt(1_000)))

	require.Equal(t, uint64(0), sp.Epoch)
	require.Equal(t, uint64(1), sp.Scale)
	expectAmount(t, "depletion factor", sp.DepletionFactor, 1_000_000_000_000_000)
	expectAmount(t, "live accumulator", sp.RewardAccumulator, 0)
	require.Len(t, sp.RewardSums, 1)
	expectAmount(t, "archived sum", sp.RewardSums[0].Sum, 1_000_000_005)

	deposit, err := compoundedDeposit(account, sp)
	require.NoError(t, err)
	expectAmount(t, "deposit", deposit, 1)
	reward, err := pendingReward(account, sp)
	require.NoError(t, err)
	expectAmount(t, "reward", reward, 1_000)
}

func TestAbsorbRollsEpochOnDustResidue(t *testing.T) {
	sp := &StabilityPool{
		TotalStaked:       amt(10_000_000_000),
		RewardAccumulator: amt(0),
		DepletionFactor:   amt(1_000_000_000),
	}
	require.NoError(t, absorb(sp, amt(9_999_999_999), amt(100)))
	require.Equal(t, uint64(1), sp.Epoch)
	require.Equal(t, uint64(0), sp.Scale)
	require.True(t, sp.DepletionFactor.Eq(IndexScale))
	expectAmount(t, "residue", sp.TotalStaked, 1)
}

// liquidateFresh opens a position of size collateral and debt at $1.50,
// crashes the price to $1.10, liquidates it and restores the price.
func liquidateFresh(t *testing.T, h *harness, owner crypto.Address, size uint64) *LiquidationResult {
	t.Helper()
	h.fund(owner, testAsset, size)
	_, err := h.engine.OpenPosition(owner, testAsset, amt(size), amt(size))
	require.NoError(t, err)
	h.setPrice(testAssetFeed, 1_100_000)
	result, err := h.engine.LiquidatePosition(makeAddress(0x20), owner, testAsset)
	require.NoError(t, err)
	h.setPrice(testAssetFeed, 1_500_000)
	return result
}

func TestRewardsSurviveRepeatedDeepDepletion(t *testing.T) {
	const trillion = 1_000_000_000_000
	h := newHarness(t, DefaultParams())
	alice, bob, carol := makeAddress(0x10), makeAddress(0x11), makeAddress(0x12)
	for _, staker := range []crypto.Address{alice, bob, carol} {
		h.fund(staker, testStable, trillion)
	}

	_, err := h.engine.StakeStableTokens(alice, testAsset, amt(trillion))
	require.NoError(t, err)
	liquidateFresh(t, h, makeAddress(0x01), trillion-1_000_000)

	_, err = h.engine.StakeStableTokens(bob, testAsset, amt(trillion))
	require.NoError(t, err)
	liquidateFresh(t, h, makeAddress(0x02), trillion)
	require.Equal(t, uint64(1), h.pool().Stability.Scale)
	require.Equal(t, uint64(0), h.pool().Stability.Epoch)

	_, err = h.engine.StakeStableTokens(carol, testAsset, amt(trillion))
	require.NoError(t, err)
	reserveBefore := h.pool().LiquidationReserveBalance
	result := liquidateFresh(t, h, makeAddress(0x03), 1_000_000)
	expectAmount(t, "staker share", result.StakerShare, 950_000)
	grown := new(uint256.Int).Sub(h.pool().LiquidationReserveBalance, reserveBefore)
	expectAmount(t, "reserve growth", grown, 950_000)

	carolView, err := h.engine.Stake(carol, testAsset)
	require.NoError(t, err)
	expectAmount(t, "carol deposit", carolView.Deposit, 999_999_000_000)
	expectAmount(t, "carol reward", carolView.PendingReward, 949_999)
	bobView, err := h.engine.Stake(bob, testAsset)
	require.NoError(t, err)
	expectAmount(t, "bob deposit", bobView.Deposit, 999_998)
	expectAmount(t, "bob reward", bobView.PendingReward, 949_999_050_000)
	aliceView, err := h.engine.Stake(alice, testAsset)
	require.NoError(t, err)
	expectAmount(t, "alice deposit", aliceView.Deposit, 0)
	expectAmount(t, "alice reward", aliceView.PendingReward, 949_999_999_999)

	for _, staker := range []crypto.Address{alice, bob, carol} {
		_, err := h.engine.UnstakeStableTokens(staker, testAsset)
		require.NoError(t, err)
	}
	expectAmount(t, "carol collateral", h.balance(carol, testAsset), 949_999)
	expectAmount(t, "reserve dust", h.pool().LiquidationReserveBalance, 2)
	expectAmount(t, "staked dust", h.pool().Stability.TotalStaked, 2)
}

func TestClaimRequiresFullReserveAndClosesExhaustedAccount(t *testing.T) {
	params := DefaultParams()
	params.LiquidationIncentiveBps = 0
	h := newHarness(t, params)
	staker := makeAddress(0x10)
	h.fund(staker, testStable, 1_000)
	_, err := h.engine.StakeStableTokens(staker, testAsset, amt(1_000))
	require.NoError(t, err)
	openAndCrash(t, h)
	_, err = h.engine.LiquidatePosition(makeAddress(0x20), makeAddress(0x01), testAsset)
	require.NoError(t, err)

	h.state.pools[testAsset].LiquidationReserveBalance = amt(10)
	_, err = h.engine.ClaimStakeReward(staker, testAsset)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	view, err := h.engine.Stake(staker, testAsset)
	require.NoError(t, err)
	expectAmount(t, "reward kept", view.PendingReward, 1_000)
	expectAmount(t, "nothing paid", h.balance(staker, testAsset), 0)

	h.state.pools[testAsset].LiquidationReserveBalance = amt(1_000)
	claimed, err := h.engine.ClaimStakeReward(staker, testAsset)
	require.NoError(t, err)
	expectAmount(t, "claimed", claimed, 1_000)
	expectAmount(t, "collateral", h.balance(staker, testAsset), 1_000)
	_, err = h.engine.Stake(staker, testAsset)
	require.ErrorIs(t, err, ErrStakeNotFound)
}
