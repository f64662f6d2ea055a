package bank

import (
	"errors"
	"fmt"
	"strings"

	"github.com/holiman/uint256"

	"cdpchain/core/events"
	"cdpchain/crypto"
)

var (
	// ErrInsufficientBalance is returned when a debit exceeds the available balance.
	ErrInsufficientBalance = errors.New("bank: insufficient balance")
	// ErrSupplyOverflow is returned when a credit or mint would overflow.
	ErrSupplyOverflow = errors.New("bank: amount overflow")
	errAssetRequired  = errors.New("bank: asset required")
	errNilState       = errors.New("bank: state not configured")
)

// State is the storage surface required by the ledger. Missing balances and
// supplies are reported as zero.
type State interface {
	GetBalance(addr crypto.Address, asset string) (*uint256.Int, error)
	PutBalance(addr crypto.Address, asset string, amount *uint256.Int) error
	GetSupply(asset string) (*uint256.Int, error)
	PutSupply(asset string, amount *uint256.Int) error
}

// NormalizeAsset canonicalises asset identifiers.
func NormalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// Ledger moves, mints and burns fungible assets held in State.
type Ledger struct {
	state   State
	emitter events.Emitter
}

// NewLedger wires a ledger over the supplied state. A nil emitter discards
// supply events.
func NewLedger(state State, emitter events.Emitter) *Ledger {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	return &Ledger{state: state, emitter: emitter}
}

// Balance returns the balance of addr in asset.
func (l *Ledger) Balance(addr crypto.Address, asset string) (*uint256.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	asset = NormalizeAsset(asset)
	if asset == "" {
		return nil, errAssetRequired
	}
	bal, err := l.state.GetBalance(addr, asset)
	if err != nil {
		return nil, err
	}
	if bal == nil {
		return new(uint256.Int), nil
	}
	return bal, nil
}

// Transfer moves amount of asset between two accounts.
func (l *Ledger) Transfer(from, to crypto.Address, asset string, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() || from.Equal(to) {
		return nil
	}
	if err := l.debit(from, asset, amount); err != nil {
		return err
	}
	return l.credit(to, asset, amount)
}

// Mint creates amount of asset in the recipient's balance.
func (l *Ledger) Mint(to crypto.Address, asset string, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	supply, err := l.supply(asset)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(supply, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	if err := l.credit(to, asset, amount); err != nil {
		return err
	}
	if err := l.state.PutSupply(NormalizeAsset(asset), next); err != nil {
		return err
	}
	l.emitter.Emit(events.TokenSupply{Token: asset, Total: next, Delta: amount, Reason: events.SupplyReasonMint})
	return nil
}

// Burn destroys amount of asset from the holder's balance.
func (l *Ledger) Burn(from crypto.Address, asset string, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	supply, err := l.supply(asset)
	if err != nil {
		return err
	}
	if supply.Lt(amount) {
		return fmt.Errorf("%w: supply %s below burn %s", ErrInsufficientBalance, supply.Dec(), amount.Dec())
	}
	if err := l.debit(from, asset, amount); err != nil {
		return err
	}
	next := new(uint256.Int).Sub(supply, amount)
	if err := l.state.PutSupply(NormalizeAsset(asset), next); err != nil {
		return err
	}
	l.emitter.Emit(events.TokenSupply{Token: asset, Total: next, Delta: amount, Reason: events.SupplyReasonBurn})
	return nil
}

// Supply returns the tracked total supply of asset.
func (l *Ledger) Supply(asset string) (*uint256.Int, error) {
	return l.supply(asset)
}

func (l *Ledger) supply(asset string) (*uint256.Int, error) {
	if l == nil || l.state == nil {
		return nil, errNilState
	}
	asset = NormalizeAsset(asset)
	if asset == "" {
		return nil, errAssetRequired
	}
	supply, err := l.state.GetSupply(asset)
	if err != nil {
		return nil, err
	}
	if supply == nil {
		return new(uint256.Int), nil
	}
	return supply, nil
}

func (l *Ledger) debit(addr crypto.Address, asset string, amount *uint256.Int) error {
	bal, err := l.Balance(addr, asset)
	if err != nil {
		return err
	}
	if bal.Lt(amount) {
		return fmt.Errorf("%w: %s holds %s %s, needs %s", ErrInsufficientBalance, addr, bal.Dec(), NormalizeAsset(asset), amount.Dec())
	}
	return l.state.PutBalance(addr, NormalizeAsset(asset), new(uint256.Int).Sub(bal, amount))
}

func (l *Ledger) credit(addr crypto.Address, asset string, amount *uint256.Int) error {
	bal, err := l.Balance(addr, asset)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return ErrSupplyOverflow
	}
	return l.state.PutBalance(addr, NormalizeAsset(asset), next)
}
