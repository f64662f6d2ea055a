package events

import (
	"bytes"
	"testing"

	"github.com/holiman/uint256"

	"cdpchain/crypto"
)

func TestPositionLiquidatedEvent(t *testing.T) {
	owner := crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x01}, 20))
	liquidator := crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{0x02}, 20))
	evt := PositionLiquidated{
		Owner:       owner,
		Asset:       "sol",
		Liquidator:  liquidator,
		DebtBurned:  uint256.NewInt(100),
		Seized:      uint256.NewInt(10),
		Incentive:   uint256.NewInt(1),
		StakerShare: uint256.NewInt(9),
	}.Event()
	if evt.Type != TypePositionLiquidated {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attr("asset") != "SOL" {
		t.Fatalf("unexpected asset: %s", evt.Attr("asset"))
	}
	if evt.Attr("owner") != owner.String() || evt.Attr("liquidator") != liquidator.String() {
		t.Fatalf("unexpected addresses: %+v", evt.Attributes)
	}
	if evt.Attr("debtBurned") != "100" || evt.Attr("stakerShare") != "9" {
		t.Fatalf("unexpected amounts: %+v", evt.Attributes)
	}
	if evt.Attr("healthBps") != "0" {
		t.Fatalf("nil amounts should render as zero, got %q", evt.Attr("healthBps"))
	}
}

func TestBufferDrain(t *testing.T) {
	var buf Buffer
	buf.Emit(TreasuryWithdrawn{Amount: uint256.NewInt(5)})
	buf.Emit(nil)
	if buf.Len() != 1 {
		t.Fatalf("unexpected length: %d", buf.Len())
	}
	drained := buf.Drain()
	if len(drained) != 1 || drained[0].EventType() != TypeTreasuryWithdrawn {
		t.Fatalf("unexpected drained events: %+v", drained)
	}
	if buf.Len() != 0 {
		t.Fatalf("buffer not reset")
	}
}
