package cdp

import (
	"github.com/holiman/uint256"

	"cdpchain/core/events"
)

// maxExponent caps the exponential model's argument at 4.0 so the series
// stays accurate and the result bounded before clamping.
var maxExponent = new(uint256.Int).Mul(uint256.NewInt(4), IndexScale)

// UpdateInterestRate advances the global interest index for the time elapsed
// since the last update at the rate that was active during it, then
// recomputes the rate from the stablecoin's peg deviation. Calling it twice
// in the same second leaves the index untouched.
func (e *Engine) UpdateInterestRate() (*RateUpdate, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	cfg, err := e.loadConfig()
	if err != nil {
		return nil, err
	}
	if e.prices == nil {
		return nil, errNilPrices
	}
	price, err := e.prices.Price(cfg.StablecoinFeed, e.now())
	if err != nil {
		return nil, err
	}

	now := e.nowUnix()
	var elapsed uint64
	if now > cfg.LastRateUpdate {
		elapsed = now - cfg.LastRateUpdate
	}
	index := cloneInt(cfg.GlobalInterestIndex)
	debt := cloneInt(cfg.GlobalDebtOutstanding)
	if elapsed > 0 && cfg.CurrentRateBps > 0 {
		growth, err := accrualFactor(cfg.CurrentRateBps, elapsed)
		if err != nil {
			return nil, err
		}
		if index, err = applyGrowth(index, growth); err != nil {
			return nil, err
		}
		if debt, err = applyGrowth(debt, growth); err != nil {
			return nil, err
		}
	}

	rate, err := e.targetRate(cfg, price)
	if err != nil {
		return nil, err
	}
	previous := cfg.CurrentRateBps
	cfg.CurrentRateBps = rate
	cfg.GlobalInterestIndex = index
	cfg.GlobalDebtOutstanding = debt
	if elapsed > 0 {
		cfg.LastRateUpdate = now
	}
	if err := e.state.PutProtocolConfig(cfg); err != nil {
		return nil, err
	}
	e.emitter.Emit(events.InterestRateUpdated{
		PreviousRateBps: previous,
		RateBps:         rate,
		Index:           index,
		ElapsedSeconds:  elapsed,
		StablePrice:     price,
		GlobalDebt:      debt,
	})
	return &RateUpdate{
		PreviousRateBps: previous,
		RateBps:         rate,
		Index:           index.Clone(),
		ElapsedSeconds:  elapsed,
		StablePrice:     price,
	}, nil
}

// accrualFactor returns rate × elapsed / (10000 × year) at IndexScale.
func accrualFactor(rateBps, elapsed uint64) (*uint256.Int, error) {
	numerator, err := checkedMul(uint256.NewInt(rateBps), uint256.NewInt(elapsed))
	if err != nil {
		return nil, err
	}
	denominator := new(uint256.Int).Mul(bpsScale, secondsPerYear)
	return mulDiv(numerator, IndexScale, denominator)
}

// applyGrowth returns value × (1 + growth).
func applyGrowth(value, growth *uint256.Int) (*uint256.Int, error) {
	delta, err := mulDiv(value, growth, IndexScale)
	if err != nil {
		return nil, err
	}
	return checkedAdd(value, delta)
}

func (e *Engine) targetRate(cfg *ProtocolConfig, price *uint256.Int) (uint64, error) {
	peg := priceScale
	var (
		rate *uint256.Int
		err  error
	)
	switch e.params.RateModel {
	case RateExponential:
		rate, err = exponentialRate(cfg.BaseRateBps, cfg.SigmaBps, price, peg)
	default:
		rate, err = linearRate(cfg.BaseRateBps, cfg.SigmaBps, price, peg)
	}
	if err != nil {
		return 0, err
	}
	if rate.Gt(uint256.NewInt(cfg.MaxRateBps)) {
		return cfg.MaxRateBps, nil
	}
	return clampRate(rate.Uint64(), cfg.MinRateBps, cfg.MaxRateBps), nil
}

// linearRate computes base + sigma × (peg - price) / peg. Above peg the
// adjustment is subtracted, saturating at zero.
func linearRate(baseBps, sigmaBps uint64, price, peg *uint256.Int) (*uint256.Int, error) {
	base := uint256.NewInt(baseBps)
	if price.Eq(peg) || sigmaBps == 0 {
		return base, nil
	}
	below := price.Lt(peg)
	deviation := new(uint256.Int)
	if below {
		deviation.Sub(peg, price)
	} else {
		deviation.Sub(price, peg)
	}
	adjustment, err := mulDiv(uint256.NewInt(sigmaBps), deviation, peg)
	if err != nil {
		return nil, err
	}
	if below {
		return checkedAdd(base, adjustment)
	}
	return saturatingSub(base, adjustment), nil
}

// exponentialRate computes base × exp(deviation / sigma) where deviation is
// (peg - price) / peg expressed in basis points.
func exponentialRate(baseBps, sigmaBps uint64, price, peg *uint256.Int) (*uint256.Int, error) {
	base := uint256.NewInt(baseBps)
	if price.Eq(peg) || sigmaBps == 0 {
		return base, nil
	}
	below := price.Lt(peg)
	deviation := new(uint256.Int)
	if below {
		deviation.Sub(peg, price)
	} else {
		deviation.Sub(price, peg)
	}
	numerator, err := checkedMul(deviation, bpsScale)
	if err != nil {
		return nil, err
	}
	x, err := mulDiv(numerator, IndexScale, new(uint256.Int).Mul(peg, uint256.NewInt(sigmaBps)))
	if err != nil {
		return nil, err
	}
	if x.Gt(maxExponent) {
		x = maxExponent.Clone()
	}
	exp, err := expFixed(x)
	if err != nil {
		return nil, err
	}
	if below {
		return mulDiv(base, exp, IndexScale)
	}
	return mulDiv(base, IndexScale, exp)
}

// expFixed approximates e^x for x at IndexScale using the series up to the
// cubic term.
func expFixed(x *uint256.Int) (*uint256.Int, error) {
	x2, err := mulDiv(x, x, IndexScale)
	if err != nil {
		return nil, err
	}
	x3, err := mulDiv(x2, x, IndexScale)
	if err != nil {
		return nil, err
	}
	sum := IndexScale.Clone()
	sum.Add(sum, x)
	sum.Add(sum, new(uint256.Int).Div(x2, uint256.NewInt(2)))
	sum.Add(sum, new(uint256.Int).Div(x3, uint256.NewInt(6)))
	return sum, nil
}

func clampRate(rate, lo, hi uint64) uint64 {
	if rate < lo {
		return lo
	}
	if rate > hi {
		return hi
	}
	return rate
}
