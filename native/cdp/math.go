package cdp

import "github.com/holiman/uint256"

var (
	bpsScale       = uint256.NewInt(BpsScale)
	priceScale     = uint256.NewInt(PriceScale)
	secondsPerYear = uint256.NewInt(SecondsPerYear)
	// IndexScale is the 1e18 fixed point used by the interest index, the
	// reward accumulator and the depletion factor.
	IndexScale = uint256.NewInt(1_000_000_000_000_000_000)
	// ScaleFactor is the precision floor of the stability depletion factor
	// and the multiplier applied when it is crossed.
	ScaleFactor = uint256.NewInt(1_000_000_000)
)

func checkedAdd(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

func checkedSub(a, b *uint256.Int) (*uint256.Int, error) {
	out, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

func checkedMul(a, b *uint256.Int) (*uint256.Int, error) {
	out, overflow := new(uint256.Int).MulOverflow(a, b)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// mulDiv computes floor(x × y / d) with a 512-bit intermediate.
func mulDiv(x, y, d *uint256.Int) (*uint256.Int, error) {
	if d.IsZero() {
		return nil, ErrArithmeticOverflow
	}
	out, overflow := new(uint256.Int).MulDivOverflow(x, y, d)
	if overflow {
		return nil, ErrArithmeticOverflow
	}
	return out, nil
}

// mulDivUp computes ceil(x × y / d).
func mulDivUp(x, y, d *uint256.Int) (*uint256.Int, error) {
	out, err := mulDiv(x, y, d)
	if err != nil {
		return nil, err
	}
	if !new(uint256.Int).MulMod(x, y, d).IsZero() {
		return checkedAdd(out, uint256.NewInt(1))
	}
	return out, nil
}

// saturatingSub returns a - b, or zero when b exceeds a. It is used only for
// aggregate counters that interest rounding can push below a single
// position's contribution.
func saturatingSub(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(a, b)
}

func minInt(a, b *uint256.Int) *uint256.Int {
	if a.Lt(b) {
		return a.Clone()
	}
	return b.Clone()
}

func bpsOf(amount *uint256.Int, bps uint64) (*uint256.Int, error) {
	return mulDiv(amount, uint256.NewInt(bps), bpsScale)
}

func positive(v *uint256.Int) bool {
	return v != nil && !v.IsZero()
}
