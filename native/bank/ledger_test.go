package bank

import (
	"bytes"
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"cdpchain/core/events"
	"cdpchain/crypto"
)

type mockState struct {
	balances map[string]*uint256.Int
	supplies map[string]*uint256.Int
}

func newMockState() *mockState {
	return &mockState{balances: make(map[string]*uint256.Int), supplies: make(map[string]*uint256.Int)}
}

func (m *mockState) key(addr crypto.Address, asset string) string {
	return string(addr.Bytes()) + "/" + asset
}

func (m *mockState) GetBalance(addr crypto.Address, asset string) (*uint256.Int, error) {
	if bal, ok := m.balances[m.key(addr, asset)]; ok {
		return bal.Clone(), nil
	}
	return nil, nil
}

func (m *mockState) PutBalance(addr crypto.Address, asset string, amount *uint256.Int) error {
	m.balances[m.key(addr, asset)] = amount.Clone()
	return nil
}

func (m *mockState) GetSupply(asset string) (*uint256.Int, error) {
	if s, ok := m.supplies[asset]; ok {
		return s.Clone(), nil
	}
	return nil, nil
}

func (m *mockState) PutSupply(asset string, amount *uint256.Int) error {
	m.supplies[asset] = amount.Clone()
	return nil
}

func makeAddress(suffix byte) crypto.Address {
	return crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{suffix}, crypto.AddressLength))
}

func TestMintTransferBurn(t *testing.T) {
	state := newMockState()
	var buf events.Buffer
	ledger := NewLedger(state, &buf)
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)

	if err := ledger.Mint(alice, "cusd", uint256.NewInt(1_000)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := ledger.Transfer(alice, bob, "CUSD", uint256.NewInt(400)); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if err := ledger.Burn(bob, "cusd", uint256.NewInt(100)); err != nil {
		t.Fatalf("burn: %v", err)
	}

	aliceBal, _ := ledger.Balance(alice, "CUSD")
	bobBal, _ := ledger.Balance(bob, "CUSD")
	supply, _ := ledger.Supply("CUSD")
	if aliceBal.Uint64() != 600 || bobBal.Uint64() != 300 {
		t.Fatalf("unexpected balances: alice=%s bob=%s", aliceBal.Dec(), bobBal.Dec())
	}
	if supply.Uint64() != 900 {
		t.Fatalf("unexpected supply: %s", supply.Dec())
	}
	drained := buf.Drain()
	if len(drained) != 2 {
		t.Fatalf("expected mint and burn supply events, got %d", len(drained))
	}
	if evt := drained[1].Event(); evt.Attr("reason") != events.SupplyReasonBurn || evt.Attr("total") != "900" {
		t.Fatalf("unexpected burn event: %+v", evt.Attributes)
	}
}

func TestTransferInsufficientBalance(t *testing.T) {
	state := newMockState()
	ledger := NewLedger(state, nil)
	alice := makeAddress(0x01)
	bob := makeAddress(0x02)
	if err := ledger.Mint(alice, "SOL", uint256.NewInt(10)); err != nil {
		t.Fatalf("mint: %v", err)
	}
	err := ledger.Transfer(alice, bob, "SOL", uint256.NewInt(11))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	bal, _ := ledger.Balance(alice, "SOL")
	if bal.Uint64() != 10 {
		t.Fatalf("balance changed on failed transfer: %s", bal.Dec())
	}
}

func TestZeroAmountsAreNoops(t *testing.T) {
	ledger := NewLedger(newMockState(), nil)
	alice := makeAddress(0x01)
	if err := ledger.Transfer(alice, makeAddress(0x02), "SOL", new(uint256.Int)); err != nil {
		t.Fatalf("zero transfer: %v", err)
	}
	if err := ledger.Burn(alice, "SOL", nil); err != nil {
		t.Fatalf("nil burn: %v", err)
	}
}
