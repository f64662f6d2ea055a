package state

import (
	"bytes"
	"testing"

	"github.com/holiman/uint256"

	"cdpchain/crypto"
	"cdpchain/native/cdp"
	"cdpchain/storage"
)

func makeAddress(suffix byte) crypto.Address {
	return crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{suffix}, crypto.AddressLength))
}

func TestTxCommitPersistsRecords(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)
	owner := makeAddress(0x01)

	tx := mgr.Begin()
	cfg := &cdp.ProtocolConfig{
		Admin:               owner,
		MintFeeBps:          50,
		CurrentRateBps:      500,
		GlobalInterestIndex: cdp.IndexScale.Clone(),
		StablecoinAsset:     "CUSD",
		StablecoinFeed:      "cusd-usd",
	}
	if err := tx.PutProtocolConfig(cfg); err != nil {
		t.Fatalf("put config: %v", err)
	}
	pool := &cdp.CollateralPool{
		Asset:     "SOL",
		PriceFeed: "sol-usd",
		Stability: cdp.StabilityPool{
			DepletionFactor: cdp.IndexScale.Clone(),
			Epoch:           2,
			Scale:           1,
			RewardSums: []cdp.RewardSum{
				{Epoch: 0, Scale: 0, Sum: uint256.NewInt(7)},
				{Epoch: 2, Scale: 0, Sum: uint256.NewInt(9)},
			},
		},
	}
	if err := tx.PutPool(pool); err != nil {
		t.Fatalf("put pool: %v", err)
	}
	if err := tx.PutPosition(&cdp.Position{Owner: owner, Asset: "SOL", Collateral: uint256.NewInt(10), Principal: uint256.NewInt(5), IndexAtOpen: cdp.IndexScale.Clone(), OpenTime: 42}); err != nil {
		t.Fatalf("put position: %v", err)
	}
	if err := tx.PutBalance(owner, "cusd", uint256.NewInt(99)); err != nil {
		t.Fatalf("put balance: %v", err)
	}

	if got, _ := db.Has(ProtocolKey()); got {
		t.Fatalf("uncommitted writes must not reach the database")
	}
	digest, err := tx.Commit()
	if err != nil {
		t.Fatalf("commit: %v", err)
	}
	if digest == ([32]byte{}) {
		t.Fatalf("expected non-empty digest")
	}

	view := mgr.Begin()
	defer view.Discard()
	loaded, err := view.GetProtocolConfig()
	if err != nil || loaded == nil {
		t.Fatalf("load config: %v", err)
	}
	if !loaded.Admin.Equal(owner) || loaded.Admin.Prefix() != crypto.AccountPrefix || loaded.MintFeeBps != 50 {
		t.Fatalf("unexpected config: %+v", loaded)
	}
	if !loaded.GlobalInterestIndex.Eq(cdp.IndexScale) || !loaded.PendingTreasury.IsZero() {
		t.Fatalf("unexpected amounts: %+v", loaded)
	}
	loadedPool, err := view.GetPool("sol")
	if err != nil || loadedPool == nil {
		t.Fatalf("load pool: %v", err)
	}
	sums := loadedPool.Stability.RewardSums
	if loadedPool.Stability.Epoch != 2 || loadedPool.Stability.Scale != 1 || len(sums) != 2 || sums[1].Epoch != 2 || !sums[1].Sum.Eq(uint256.NewInt(9)) {
		t.Fatalf("unexpected stability pool: %+v", loadedPool.Stability)
	}
	position, err := view.GetPosition(owner, "SOL")
	if err != nil || position == nil || position.OpenTime != 42 {
		t.Fatalf("unexpected position %+v: %v", position, err)
	}
	bal, err := view.GetBalance(owner, "CUSD")
	if err != nil || !bal.Eq(uint256.NewInt(99)) {
		t.Fatalf("unexpected balance %v: %v", bal, err)
	}
}

func TestTxDiscardDropsWrites(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	tx := mgr.Begin()
	if err := tx.PutSupply("CUSD", uint256.NewInt(5)); err != nil {
		t.Fatalf("put supply: %v", err)
	}
	tx.Discard()
	if err := tx.PutSupply("CUSD", uint256.NewInt(6)); err == nil {
		t.Fatalf("expected closed transaction error")
	}

	view := mgr.Begin()
	supply, err := view.GetSupply("CUSD")
	if err != nil {
		t.Fatalf("get supply: %v", err)
	}
	if supply != nil {
		t.Fatalf("discarded write leaked: %s", supply)
	}
}

func TestTxReadsOwnWritesAndDeletes(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)
	a := makeAddress(0x01)
	b := makeAddress(0x02)

	seed := mgr.Begin()
	for _, owner := range []crypto.Address{a, b} {
		if err := seed.PutPosition(&cdp.Position{Owner: owner, Asset: "SOL", Collateral: uint256.NewInt(1), Principal: uint256.NewInt(1), IndexAtOpen: uint256.NewInt(1)}); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
	if _, err := seed.Commit(); err != nil {
		t.Fatalf("commit seed: %v", err)
	}

	tx := mgr.Begin()
	if err := tx.DeletePosition(a, "SOL"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := tx.PutPosition(&cdp.Position{Owner: a, Asset: "ETH", Collateral: uint256.NewInt(3), Principal: uint256.NewInt(1), IndexAtOpen: uint256.NewInt(1)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	if got, _ := tx.GetPosition(a, "SOL"); got != nil {
		t.Fatalf("deleted position still visible")
	}
	positions, err := tx.ListPositions("SOL")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(positions) != 1 || !positions[0].Owner.Equal(b) {
		t.Fatalf("unexpected positions: %+v", positions)
	}
	eth, err := tx.ListPositions("eth")
	if err != nil || len(eth) != 1 {
		t.Fatalf("expected buffered ETH position, got %d (%v)", len(eth), err)
	}
}

func TestCommitDigestIsDeterministic(t *testing.T) {
	write := func() [32]byte {
		db := storage.NewMemDB()
		defer db.Close()
		tx := NewManager(db).Begin()
		_ = tx.PutSupply("SOL", uint256.NewInt(10))
		_ = tx.PutSupply("CUSD", uint256.NewInt(20))
		_ = tx.PutBalance(makeAddress(0x01), "SOL", uint256.NewInt(10))
		digest, err := tx.Commit()
		if err != nil {
			t.Fatalf("commit: %v", err)
		}
		return digest
	}
	if write() != write() {
		t.Fatalf("digest must not depend on map order")
	}
}

func TestZeroBalanceRemovesKey(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)
	owner := makeAddress(0x01)

	tx := mgr.Begin()
	_ = tx.PutBalance(owner, "SOL", uint256.NewInt(10))
	if _, err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	tx = mgr.Begin()
	_ = tx.PutBalance(owner, "SOL", new(uint256.Int))
	if _, err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if ok, _ := db.Has(BalanceKey(owner.Bytes(), "SOL")); ok {
		t.Fatalf("zero balance should not be stored")
	}
}

func TestTxEventSequence(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	mgr := NewManager(db)

	tx := mgr.Begin()
	seq, err := tx.EventSequence()
	if err != nil || seq != 0 {
		t.Fatalf("expected empty sequence, got %d (%v)", seq, err)
	}
	if err := tx.SetEventSequence(7); err != nil {
		t.Fatalf("set sequence: %v", err)
	}
	if _, err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	seq, err = NewManager(db).Begin().EventSequence()
	if err != nil || seq != 7 {
		t.Fatalf("expected persisted sequence 7, got %d (%v)", seq, err)
	}
}
