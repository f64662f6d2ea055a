package cdp

import (
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"cdpchain/core/events"
	"cdpchain/crypto"
	"cdpchain/native/bank"
	nativecommon "cdpchain/native/common"
)

const moduleName = "cdp"

// State is the persistence surface the engine mutates. Getters return
// (nil, nil) for absent records.
type State interface {
	bank.State
	GetProtocolConfig() (*ProtocolConfig, error)
	PutProtocolConfig(cfg *ProtocolConfig) error
	GetPool(asset string) (*CollateralPool, error)
	PutPool(pool *CollateralPool) error
	GetPosition(owner crypto.Address, asset string) (*Position, error)
	PutPosition(position *Position) error
	DeletePosition(owner crypto.Address, asset string) error
	GetStake(owner crypto.Address, asset string) (*StakeAccount, error)
	PutStake(stake *StakeAccount) error
	DeleteStake(owner crypto.Address, asset string) error
}

// PriceSource returns a validated price for a feed at the given instant,
// scaled to PriceScale. Implementations fail with ErrStalePrice or
// ErrUnreliablePrice.
type PriceSource interface {
	Price(feedID string, now time.Time) (*uint256.Int, error)
}

// Engine implements the CDP state transitions: protocol and pool setup,
// position lifecycle, the interest rate controller and the stability pool.
type Engine struct {
	state     State
	prices    PriceSource
	params    Params
	pauses    nativecommon.PauseView
	emitter   events.Emitter
	authority crypto.Address
	nowFn     func() time.Time
}

// NewEngine constructs an engine with the supplied risk parameters and price
// source.
func NewEngine(params Params, prices PriceSource) *Engine {
	return &Engine{
		params:  params.withDefaults(),
		prices:  prices,
		emitter: events.NoopEmitter{},
		nowFn:   time.Now,
	}
}

// SetState wires the engine to the external persistence layer.
func (e *Engine) SetState(state State) { e.state = state }

func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetEmitter configures the event sink. A nil emitter discards events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if e == nil {
		return
	}
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetAuthority restricts InitializeProtocolConfig to the given account. When
// unset the first caller becomes the administrator.
func (e *Engine) SetAuthority(addr crypto.Address) {
	if e == nil {
		return
	}
	e.authority = addr
}

// SetClock overrides the time source.
func (e *Engine) SetClock(now func() time.Time) {
	if e == nil || now == nil {
		return
	}
	e.nowFn = now
}

// Params returns the engine parameters.
func (e *Engine) Params() Params {
	if e == nil {
		return Params{}
	}
	return e.params
}

// VaultAddress is the custody account holding escrowed collateral for asset.
func VaultAddress(asset string) crypto.Address {
	return crypto.ModuleAddress("cdp/vault/" + normalizeAsset(asset))
}

// ReserveAddress is the custody account holding seized collateral awaiting
// staker claims.
func ReserveAddress(asset string) crypto.Address {
	return crypto.ModuleAddress("cdp/reserve/" + normalizeAsset(asset))
}

// StabilityAddress is the custody account holding staked stablecoin.
func StabilityAddress(asset string) crypto.Address {
	return crypto.ModuleAddress("cdp/stability/" + normalizeAsset(asset))
}

func normalizeAsset(asset string) string {
	return bank.NormalizeAsset(asset)
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return nativecommon.Guard(e.pauses, moduleName)
}

func (e *Engine) now() time.Time {
	return e.nowFn()
}

func (e *Engine) nowUnix() uint64 {
	ts := e.now().Unix()
	if ts < 0 {
		return 0
	}
	return uint64(ts)
}

func (e *Engine) ledger() *bank.Ledger {
	return bank.NewLedger(e.state, e.emitter)
}

func (e *Engine) loadConfig() (*ProtocolConfig, error) {
	cfg, err := e.state.GetProtocolConfig()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}

func (e *Engine) loadPool(asset string) (*CollateralPool, error) {
	asset = normalizeAsset(asset)
	if asset == "" {
		return nil, fmt.Errorf("%w: asset required", ErrInvalidParameter)
	}
	pool, err := e.state.GetPool(asset)
	if err != nil {
		return nil, err
	}
	if pool == nil {
		return nil, fmt.Errorf("%w: %s", ErrPoolNotFound, asset)
	}
	return pool, nil
}

func (e *Engine) loadPosition(owner crypto.Address, asset string) (*Position, error) {
	position, err := e.state.GetPosition(owner, normalizeAsset(asset))
	if err != nil {
		return nil, err
	}
	if position == nil {
		return nil, ErrPositionNotFound
	}
	return position, nil
}

func (e *Engine) balance(addr crypto.Address, asset string) (*uint256.Int, error) {
	return e.ledger().Balance(addr, asset)
}

func (e *Engine) requireBalance(addr crypto.Address, asset string, amount *uint256.Int) error {
	bal, err := e.balance(addr, asset)
	if err != nil {
		return err
	}
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s has %s %s, needs %s", ErrInsufficientFunds, addr, bal.Dec(), normalizeAsset(asset), amount.Dec())
	}
	return nil
}

// collateralPrice reads the pool feed at call time; prices are never carried
// across operations.
func (e *Engine) collateralPrice(pool *CollateralPool) (*uint256.Int, error) {
	if e.prices == nil {
		return nil, errNilPrices
	}
	return e.prices.Price(pool.PriceFeed, e.now())
}

// pegPrice is the value of one unit of debt at PriceScale.
func (e *Engine) pegPrice(cfg *ProtocolConfig) (*uint256.Int, error) {
	if e.params.PegReference != PegOracle {
		return priceScale.Clone(), nil
	}
	if e.prices == nil {
		return nil, errNilPrices
	}
	price, err := e.prices.Price(cfg.StablecoinFeed, e.now())
	if err != nil {
		return nil, err
	}
	if price.Lt(priceScale) {
		return priceScale.Clone(), nil
	}
	return price, nil
}

// owedAmount scales the principal by the index ratio accumulated since open,
// rounding in the protocol's favour.
func owedAmount(position *Position, index *uint256.Int) (*uint256.Int, error) {
	if !positive(position.IndexAtOpen) {
		return nil, ErrArithmeticOverflow
	}
	return mulDivUp(cloneInt(position.Principal), index, position.IndexAtOpen)
}

// ratioBps returns floor(collateral × price × 10000 / (debt × peg)).
func ratioBps(collateral, price, debt, peg *uint256.Int) (*uint256.Int, error) {
	value, err := checkedMul(collateral, price)
	if err != nil {
		return nil, err
	}
	denominator, err := checkedMul(debt, peg)
	if err != nil {
		return nil, err
	}
	return mulDiv(value, bpsScale, denominator)
}

// mintStable issues newly borrowed stablecoin: amount - fee is minted to the
// borrower, the fee is owed to the treasury, and the whole amount is added to
// global debt.
func (e *Engine) mintStable(cfg *ProtocolConfig, to crypto.Address, amount, fee *uint256.Int) error {
	debt, err := checkedAdd(cloneInt(cfg.GlobalDebtOutstanding), amount)
	if err != nil {
		return err
	}
	pending, err := checkedAdd(cloneInt(cfg.PendingTreasury), fee)
	if err != nil {
		return err
	}
	net, err := checkedSub(amount, fee)
	if err != nil {
		return err
	}
	if err := e.ledger().Mint(to, cfg.StablecoinAsset, net); err != nil {
		return err
	}
	cfg.GlobalDebtOutstanding = debt
	cfg.PendingTreasury = pending
	return nil
}

// burnStable retires owed debt held by from. The fee is burned alongside and
// credited to the treasury.
func (e *Engine) burnStable(cfg *ProtocolConfig, from crypto.Address, owed, fee *uint256.Int) error {
	total, err := checkedAdd(owed, fee)
	if err != nil {
		return err
	}
	pending, err := checkedAdd(cloneInt(cfg.PendingTreasury), fee)
	if err != nil {
		return err
	}
	if err := e.ledger().Burn(from, cfg.StablecoinAsset, total); err != nil {
		return err
	}
	cfg.GlobalDebtOutstanding = saturatingSub(cloneInt(cfg.GlobalDebtOutstanding), owed)
	cfg.PendingTreasury = pending
	return nil
}

func validBps(values ...uint64) bool {
	for _, v := range values {
		if v > BpsScale {
			return false
		}
	}
	return true
}

func trimmed(s string) string {
	return strings.TrimSpace(s)
}
