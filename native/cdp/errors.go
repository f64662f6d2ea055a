package cdp

import (
	"errors"

	"cdpchain/native/bank"
	nativecommon "cdpchain/native/common"
	"cdpchain/native/oracle"
)

var (
	ErrUnauthorized              = errors.New("cdp: unauthorized")
	ErrDuplicateInit             = errors.New("cdp: protocol already initialized")
	ErrDuplicatePool             = errors.New("cdp: collateral pool already exists")
	ErrDuplicatePosition         = errors.New("cdp: position already exists")
	ErrPositionNotFound          = errors.New("cdp: position not found")
	ErrInsufficientCollateral    = errors.New("cdp: insufficient collateral")
	ErrNotLiquidatable           = errors.New("cdp: position not liquidatable")
	ErrInsufficientStabilityPool = errors.New("cdp: insufficient stability pool")
	ErrInsufficientFunds         = errors.New("cdp: insufficient funds")
	ErrArithmeticOverflow        = errors.New("cdp: arithmetic overflow")

	// The price errors are shared with the oracle adapter so callers can
	// match either package's value.
	ErrStalePrice      = oracle.ErrStalePrice
	ErrUnreliablePrice = oracle.ErrUnreliablePrice

	ErrNotInitialized    = errors.New("cdp: protocol not initialized")
	ErrPoolNotFound      = errors.New("cdp: collateral pool not found")
	ErrStakeNotFound     = errors.New("cdp: stake account not found")
	ErrInvalidAmount     = errors.New("cdp: amount must be positive")
	ErrInvalidParameter  = errors.New("cdp: invalid parameter")
	ErrNothingToWithdraw = errors.New("cdp: nothing to withdraw")

	errNilState  = errors.New("cdp: state not configured")
	errNilPrices = errors.New("cdp: price source not configured")
)

var reasons = []struct {
	err    error
	reason string
}{
	{ErrUnauthorized, "unauthorized"},
	{ErrDuplicateInit, "duplicate_init"},
	{ErrDuplicatePool, "duplicate_pool"},
	{ErrDuplicatePosition, "duplicate_position"},
	{ErrPositionNotFound, "position_not_found"},
	{ErrInsufficientCollateral, "insufficient_collateral"},
	{ErrNotLiquidatable, "not_liquidatable"},
	{ErrInsufficientStabilityPool, "insufficient_stability_pool"},
	{ErrInsufficientFunds, "insufficient_funds"},
	{bank.ErrInsufficientBalance, "insufficient_funds"},
	{ErrArithmeticOverflow, "arithmetic_overflow"},
	{ErrStalePrice, "stale_price"},
	{ErrUnreliablePrice, "unreliable_price"},
	{ErrNotInitialized, "not_initialized"},
	{ErrPoolNotFound, "pool_not_found"},
	{ErrStakeNotFound, "stake_not_found"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrInvalidParameter, "invalid_parameter"},
	{ErrNothingToWithdraw, "nothing_to_withdraw"},
	{nativecommon.ErrModulePaused, "module_paused"},
}

// Reason maps an engine error to a stable snake_case code suitable for
// metrics labels and API responses. Unknown errors map to "internal".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "internal"
}
