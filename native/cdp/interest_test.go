package cdp

import (
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"cdpchain/crypto"
)

const year = time.Duration(SecondsPerYear) * time.Second

func TestUpdateInterestRateAccruesAtPreviousRate(t *testing.T) {
	h := newHarness(t, DefaultParams())
	owner := makeAddress(0x01)
	h.fund(owner, testAsset, 2_000)
	_, err := h.engine.OpenPosition(owner, testAsset, amt(2_000), amt(1_000))
	require.NoError(t, err)

	// The stablecoin slipped below peg during the year but the 5% rate that
	// was active must still govern the accrual for that interval.
	h.advance(year)
	h.setPrice(testStableFeed, 980_000)
	update, err := h.engine.UpdateInterestRate()
	require.NoError(t, err)
	require.Equal(t, uint64(SecondsPerYear), update.ElapsedSeconds)
	require.Equal(t, uint64(500), update.PreviousRateBps)
	require.Equal(t, uint64(520), update.RateBps)

	wantIndex := new(uint256.Int).Mul(uint256.NewInt(105), uint256.NewInt(10_000_000_000_000_000))
	require.True(t, update.Index.Eq(wantIndex), "index %s", update.Index)
	cfg := h.protocol()
	expectAmount(t, "global debt", cfg.GlobalDebtOutstanding, 1_050)
	require.Equal(t, uint64(h.now.Unix()), cfg.LastRateUpdate)

	health, err := h.engine.PositionHealth(owner, testAsset)
	require.NoError(t, err)
	expectAmount(t, "owed", health.Owed, 1_050)
}

func TestUpdateInterestRateIdempotentWithinInstant(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.advance(30 * 24 * time.Hour)
	first, err := h.engine.UpdateInterestRate()
	require.NoError(t, err)

	second, err := h.engine.UpdateInterestRate()
	require.NoError(t, err)
	require.Zero(t, second.ElapsedSeconds)
	require.True(t, first.Index.Eq(second.Index), "index moved from %s to %s", first.Index, second.Index)
}

func TestInterestIndexNeverDecreases(t *testing.T) {
	h := newHarness(t, DefaultParams())
	prices := []int64{1_000_000, 950_000, 1_050_000, 1_200_000, 990_000, 1_000_000}
	previous := IndexScale.Clone()
	for i, price := range prices {
		h.advance(time.Duration(i+1) * 7 * 24 * time.Hour)
		h.setPrice(testStableFeed, price)
		update, err := h.engine.UpdateInterestRate()
		require.NoError(t, err)
		require.False(t, update.Index.Lt(previous), "step %d: index fell from %s to %s", i, previous, update.Index)
		previous = update.Index
	}
}

func TestUpdateInterestRateRejectsStalePeg(t *testing.T) {
	h := newHarness(t, DefaultParams())
	h.now = h.now.Add(time.Minute)
	_, err := h.engine.UpdateInterestRate()
	require.ErrorIs(t, err, ErrStalePrice)
	require.True(t, h.protocol().GlobalInterestIndex.Eq(IndexScale))
}

func TestLinearRateFollowsDeviation(t *testing.T) {
	peg := uint256.NewInt(PriceScale)
	cases := []struct {
		name  string
		price uint64
		want  uint64
	}{
		{name: "at peg", price: 1_000_000, want: 500},
		{name: "below peg", price: 980_000, want: 520},
		{name: "above peg", price: 1_020_000, want: 480},
		{name: "far above peg", price: 2_000_000, want: 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rate, err := linearRate(500, 1_000, uint256.NewInt(tc.price), peg)
			require.NoError(t, err)
			require.Equal(t, tc.want, rate.Uint64())
		})
	}
}

func TestRateClampedToBand(t *testing.T) {
	params := DefaultParams()
	params.MinRateBps = 100
	params.MaxRateBps = 600
	h := newHarness(t, params)

	h.setPrice(testStableFeed, 500_000)
	update, err := h.engine.UpdateInterestRate()
	require.NoError(t, err)
	require.Equal(t, uint64(600), update.RateBps)

	h.setPrice(testStableFeed, 2_000_000)
	update, err = h.engine.UpdateInterestRate()
	require.NoError(t, err)
	require.Equal(t, uint64(100), update.RateBps)
}

func TestExponentialRate(t *testing.T) {
	peg := uint256.NewInt(PriceScale)

	below, err := exponentialRate(500, 1_000, uint256.NewInt(990_000), peg)
	require.NoError(t, err)
	require.Equal(t, uint64(552), below.Uint64())

	above, err := exponentialRate(500, 1_000, uint256.NewInt(1_010_000), peg)
	require.NoError(t, err)
	require.Equal(t, uint64(452), above.Uint64())

	flat, err := exponentialRate(500, 0, uint256.NewInt(900_000), peg)
	require.NoError(t, err)
	require.Equal(t, uint64(500), flat.Uint64())

	params := DefaultParams()
	params.RateModel = RateExponential
	h := newHarness(t, params)
	h.setPrice(testStableFeed, 990_000)
	update, err := h.engine.UpdateInterestRate()
	require.NoError(t, err)
	require.Equal(t, uint64(552), update.RateBps)
}

// openAfterRateChanges accrues the index to 1.05 at 5%, opens a 2000/1000
// position, lifts the rate to 6% by pushing the stablecoin to $0.90 and
// accrues another year, so the position owes 1000 × 1.113 / 1.05.
func openAfterRateChanges(t *testing.T, h *harness, owner crypto.Address, collateral uint64) {
	t.Helper()
	h.advance(year)
	_, err := h.engine.UpdateInterestRate()
	require.NoError(t, err)

	h.fund(owner, testAsset, collateral)
	position, err := h.engine.OpenPosition(owner, testAsset, amt(collateral), amt(1_000))
	require.NoError(t, err)
	require.Equal(t, "1050000000000000000", position.IndexAtOpen.Dec())

	h.setPrice(testStableFeed, 900_000)
	update, err := h.engine.UpdateInterestRate()
	require.NoError(t, err)
	require.Zero(t, update.ElapsedSeconds)
	require.Equal(t, uint64(600), update.RateBps)

	h.advance(year)
	update, err = h.engine.UpdateInterestRate()
	require.NoError(t, err)
	require.Equal(t, "1113000000000000000", update.Index.Dec())
	expectAmount(t, "global debt", h.protocol().GlobalDebtOutstanding, 1_060)
}

func TestCloseRepaysIndexRatioAcrossRateChanges(t *testing.T) {
	h := newHarness(t, DefaultParams())
	owner := makeAddress(0x01)
	openAfterRateChanges(t, h, owner, 2_000)

	// 995 stablecoin was minted net of the fee; top up to cover 1060 + 5.
	h.fund(owner, testStable, 70)
	result, err := h.engine.ClosePosition(owner, testAsset)
	require.NoError(t, err)
	expectAmount(t, "owed", result.Owed, 1_060)
	expectAmount(t, "redemption fee", result.RedemptionFee, 5)
	expectAmount(t, "collateral released", result.CollateralReleased, 2_000)

	cfg := h.protocol()
	expectAmount(t, "global debt", cfg.GlobalDebtOutstanding, 0)
	expectAmount(t, "treasury", cfg.PendingTreasury, 10)
	expectAmount(t, "stable left", h.balance(owner, testStable), 0)
	expectAmount(t, "debt issued", h.pool().TotalDebtIssued, 0)
}

func TestLiquidationBurnsIndexRatioAcrossRateChanges(t *testing.T) {
	h := newHarness(t, DefaultParams())
	owner := makeAddress(0x01)
	staker := makeAddress(0x10)
	h.fund(staker, testStable, 2_000)
	_, err := h.engine.StakeStableTokens(staker, testAsset, amt(2_000))
	require.NoError(t, err)
	openAfterRateChanges(t, h, owner, 1_000)

	h.setPrice(testAssetFeed, 1_100_000)
	result, err := h.engine.LiquidatePosition(makeAddress(0x20), owner, testAsset)
	require.NoError(t, err)
	expectAmount(t, "debt burned", result.DebtBurned, 1_060)
	expectAmount(t, "health", result.HealthBps, 10_377)

	expectAmount(t, "global debt", h.protocol().GlobalDebtOutstanding, 0)
	pool := h.pool()
	expectAmount(t, "total staked", pool.Stability.TotalStaked, 940)
	expectAmount(t, "debt issued", pool.TotalDebtIssued, 0)
	expectAmount(t, "stability custody", h.balance(StabilityAddress(testAsset), testStable), 940)
}
