package cdp

import "fmt"

const (
	// BpsScale is the basis point denominator (100% = 10000).
	BpsScale = 10_000
	// PriceScale is the fixed-point scale of normalised oracle prices.
	PriceScale = 1_000_000
	// SecondsPerYear is used to annualise interest rates.
	SecondsPerYear = 365 * 24 * 60 * 60
)

// PegReference selects how newly minted and outstanding debt is valued.
type PegReference string

const (
	// PegFixed values one unit of debt at exactly 1.0.
	PegFixed PegReference = "fixed"
	// PegOracle values debt at the stablecoin's own feed, never below 1.0.
	PegOracle PegReference = "oracle"
)

// RateModel selects the peg-stabilising interest rate curve.
type RateModel string

const (
	// RateLinear computes base + sigma × deviation.
	RateLinear RateModel = "linear"
	// RateExponential computes base × exp(deviation / sigma).
	RateExponential RateModel = "exponential"
)

// Params captures the engine-wide risk and rate configuration.
type Params struct {
	MinCollateralRatioBps   uint64       `toml:"min_collateral_ratio_bps"`
	LiquidationThresholdBps uint64       `toml:"liquidation_threshold_bps"`
	LiquidationIncentiveBps uint64       `toml:"liquidation_incentive_bps"`
	MinRateBps              uint64       `toml:"min_rate_bps"`
	MaxRateBps              uint64       `toml:"max_rate_bps"`
	PegReference            PegReference `toml:"peg_reference"`
	RateModel               RateModel    `toml:"rate_model"`
}

// DefaultParams returns the production defaults: 150% minimum collateral
// ratio, liquidation below 120%, a 5% liquidator incentive and a rate band
// of 0% to 30% APR.
func DefaultParams() Params {
	return Params{
		MinCollateralRatioBps:   15_000,
		LiquidationThresholdBps: 12_000,
		LiquidationIncentiveBps: 500,
		MinRateBps:              0,
		MaxRateBps:              3_000,
		PegReference:            PegFixed,
		RateModel:               RateLinear,
	}
}

// Validate ensures the parameters describe a coherent risk model.
func (p Params) Validate() error {
	if p.LiquidationThresholdBps <= BpsScale {
		return fmt.Errorf("%w: liquidation threshold must exceed 100%%", ErrInvalidParameter)
	}
	if p.MinCollateralRatioBps <= p.LiquidationThresholdBps {
		return fmt.Errorf("%w: minimum collateral ratio must exceed the liquidation threshold", ErrInvalidParameter)
	}
	if p.LiquidationIncentiveBps > BpsScale {
		return fmt.Errorf("%w: liquidation incentive must be <= %d", ErrInvalidParameter, BpsScale)
	}
	if p.MaxRateBps > BpsScale || p.MinRateBps > p.MaxRateBps {
		return fmt.Errorf("%w: rate band [%d, %d] invalid", ErrInvalidParameter, p.MinRateBps, p.MaxRateBps)
	}
	switch p.PegReference {
	case PegFixed, PegOracle:
	default:
		return fmt.Errorf("%w: unknown peg reference %q", ErrInvalidParameter, p.PegReference)
	}
	switch p.RateModel {
	case RateLinear, RateExponential:
	default:
		return fmt.Errorf("%w: unknown rate model %q", ErrInvalidParameter, p.RateModel)
	}
	return nil
}

// withDefaults fills zero-valued enum fields.
func (p Params) withDefaults() Params {
	if p.PegReference == "" {
		p.PegReference = PegFixed
	}
	if p.RateModel == "" {
		p.RateModel = RateLinear
	}
	return p
}
