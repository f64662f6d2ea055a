package oracle

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"
)

var (
	// ErrStalePrice is returned when the latest quote is older than the
	// configured maximum age.
	ErrStalePrice = errors.New("oracle: stale price")
	// ErrUnreliablePrice is returned when a quote is non-positive or its
	// confidence interval is too wide relative to the price.
	ErrUnreliablePrice = errors.New("oracle: unreliable price")
	// ErrFeedNotFound is returned when no quote has been observed for a feed.
	ErrFeedNotFound = errors.New("oracle: feed not found")
)

const (
	// PriceDecimals is the number of decimals of every normalised price.
	PriceDecimals = 6
	// PriceScale is 10^PriceDecimals; a price of PriceScale equals 1.0.
	PriceScale = 1_000_000

	bpsDenominator = 10_000

	// DefaultMaxAge matches the freshness window used by the collateral feeds.
	DefaultMaxAge = 30 * time.Second
	// DefaultMaxConfidenceBps rejects quotes whose confidence exceeds 2% of the price.
	DefaultMaxConfidenceBps = 200
)

// Quote is a raw feed reading: Price × 10^Expo with a symmetric confidence
// interval Conf expressed in the same exponent.
type Quote struct {
	Price       int64
	Conf        uint64
	Expo        int32
	PublishTime time.Time
	Source      string
}

// Reader exposes the latest quote for a feed identifier.
type Reader interface {
	Quote(feedID string) (Quote, error)
}

// NormalizeFeedID lower-cases the identifier and strips a 0x prefix so that
// hex feed ids compare equal regardless of formatting.
func NormalizeFeedID(feedID string) string {
	trimmed := strings.ToLower(strings.TrimSpace(feedID))
	return strings.TrimPrefix(trimmed, "0x")
}

// Adapter validates quotes from a Reader and normalises them to PriceScale.
type Adapter struct {
	reader           Reader
	maxAge           time.Duration
	maxConfidenceBps uint64
}

// NewAdapter constructs an adapter. Non-positive maxAge falls back to
// DefaultMaxAge.
func NewAdapter(reader Reader, maxAge time.Duration, maxConfidenceBps uint64) *Adapter {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Adapter{reader: reader, maxAge: maxAge, maxConfidenceBps: maxConfidenceBps}
}

// MaxAge reports the freshness window enforced by the adapter.
func (a *Adapter) MaxAge() time.Duration {
	if a == nil {
		return 0
	}
	return a.maxAge
}

// Price returns the validated price for feedID at instant now, scaled to
// PriceScale.
func (a *Adapter) Price(feedID string, now time.Time) (*uint256.Int, error) {
	if a == nil || a.reader == nil {
		return nil, fmt.Errorf("oracle: adapter not configured")
	}
	quote, err := a.reader.Quote(NormalizeFeedID(feedID))
	if err != nil {
		return nil, err
	}
	return a.validate(quote, now)
}

func (a *Adapter) validate(quote Quote, now time.Time) (*uint256.Int, error) {
	if quote.Price <= 0 {
		return nil, fmt.Errorf("%w: non-positive price %d", ErrUnreliablePrice, quote.Price)
	}
	if quote.PublishTime.IsZero() || now.Sub(quote.PublishTime) > a.maxAge {
		return nil, fmt.Errorf("%w: published %s, max age %s", ErrStalePrice, quote.PublishTime.UTC().Format(time.RFC3339), a.maxAge)
	}
	price := uint256.NewInt(uint64(quote.Price))
	conf := uint256.NewInt(quote.Conf)
	// conf / price > maxConfidenceBps / 10000
	lhs := new(uint256.Int).Mul(conf, uint256.NewInt(bpsDenominator))
	rhs := new(uint256.Int).Mul(price, uint256.NewInt(a.maxConfidenceBps))
	if lhs.Gt(rhs) {
		return nil, fmt.Errorf("%w: confidence %d too wide for price %d", ErrUnreliablePrice, quote.Conf, quote.Price)
	}
	scaled, err := Normalize(price, quote.Expo)
	if err != nil {
		return nil, err
	}
	if scaled.IsZero() {
		return nil, fmt.Errorf("%w: price below resolution", ErrUnreliablePrice)
	}
	return scaled, nil
}

// Normalize rescales mantissa × 10^expo to PriceDecimals.
func Normalize(mantissa *uint256.Int, expo int32) (*uint256.Int, error) {
	shift := int64(expo) + PriceDecimals
	if shift > 77 || shift < -77 {
		return nil, fmt.Errorf("%w: exponent %d out of range", ErrUnreliablePrice, expo)
	}
	factor := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(uint64(abs(shift))))
	if shift < 0 {
		return new(uint256.Int).Div(mantissa, factor), nil
	}
	out, overflow := new(uint256.Int).MulOverflow(mantissa, factor)
	if overflow {
		return nil, fmt.Errorf("%w: price overflows", ErrUnreliablePrice)
	}
	return out, nil
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
