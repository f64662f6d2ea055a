package core

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"cdpchain/core/events"
	"cdpchain/core/state"
	"cdpchain/core/types"
	"cdpchain/crypto"
	"cdpchain/native/cdp"
	"cdpchain/native/oracle"
	"cdpchain/storage"
)

func makeAddress(suffix byte) crypto.Address {
	return crypto.MustNewAddress(crypto.AccountPrefix, bytes.Repeat([]byte{suffix}, crypto.AddressLength))
}

type recordingSink struct {
	batches [][]*types.Event
	err     error
}

func (s *recordingSink) Index(_ context.Context, evts []*types.Event) error {
	s.batches = append(s.batches, evts)
	return s.err
}

type nodeFixture struct {
	node  *Node
	feeds *oracle.ManualOracle
	admin crypto.Address
	now   time.Time
}

func newNodeFixture(t *testing.T) *nodeFixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(func() { db.Close() })
	f := &nodeFixture{
		feeds: oracle.NewManualOracle(),
		admin: makeAddress(0xA0),
		now:   time.Unix(1_700_000_000, 0),
	}
	f.feeds.SetPrice("cusd-usd", 1_000_000, -6, f.now)
	f.feeds.SetPrice("sol-usd", 1_500_000, -6, f.now)
	node, err := NewNode(db, Config{
		Params:    cdp.DefaultParams(),
		Prices:    oracle.NewAdapter(f.feeds, time.Minute, oracle.DefaultMaxConfidenceBps),
		Authority: f.admin,
		Clock:     func() time.Time { return f.now },
	})
	require.NoError(t, err)
	f.node = node
	return f
}

func (f *nodeFixture) bootstrap(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	_, err := f.node.Execute(ctx, "initialize_protocol", func(e *cdp.Engine) error {
		_, err := e.InitializeProtocolConfig(f.admin, cdp.ProtocolInit{
			ProtocolFeeBps:   100,
			RedemptionFeeBps: 50,
			MintFeeBps:       50,
			BaseRateBps:      500,
			SigmaBps:         1_000,
			StablecoinFeed:   "cusd-usd",
			StablecoinAsset:  "CUSD",
		})
		return err
	})
	require.NoError(t, err)
	_, err = f.node.Execute(ctx, "initialize_pool", func(e *cdp.Engine) error {
		_, err := e.InitializeCollateralVault(f.admin, "SOL", "sol-usd")
		return err
	})
	require.NoError(t, err)
}

func TestNodeExecuteCommitsAndSequencesEvents(t *testing.T) {
	f := newNodeFixture(t)
	sink := &recordingSink{}
	f.node.AddSink(sink)
	f.bootstrap(t)

	owner := makeAddress(0x01)
	_, err := f.node.Credit(context.Background(), owner, "SOL", uint256.NewInt(1_000))
	require.NoError(t, err)

	receipt, err := f.node.Execute(context.Background(), "open_position", func(e *cdp.Engine) error {
		_, err := e.OpenPosition(owner, "SOL", uint256.NewInt(1_000), uint256.NewInt(500))
		return err
	})
	require.NoError(t, err)
	require.Len(t, receipt.Digest, 64)
	require.NotEmpty(t, receipt.Events)

	var last uint64
	for _, batch := range sink.batches {
		for _, evt := range batch {
			require.Greater(t, evt.Sequence, last)
			require.Equal(t, f.now.Unix(), evt.Timestamp)
			last = evt.Sequence
		}
	}
	require.Equal(t, receipt.Events[len(receipt.Events)-1].Sequence, last)

	err = f.node.Query(func(e *cdp.Engine, tx *state.Tx) error {
		position, err := e.Position(owner, "SOL")
		if err != nil {
			return err
		}
		require.Equal(t, uint64(500), position.Principal.Uint64())
		bal, err := e.Balance(owner, "CUSD")
		if err != nil {
			return err
		}
		require.Equal(t, uint64(498), bal.Uint64())
		return nil
	})
	require.NoError(t, err)
}

func TestNodeExecuteFailureDiscardsWrites(t *testing.T) {
	f := newNodeFixture(t)
	f.bootstrap(t)
	owner := makeAddress(0x02)
	before := len(f.node.RecentEvents("", 0))

	_, err := f.node.Execute(context.Background(), "open_position", func(e *cdp.Engine) error {
		_, err := e.OpenPosition(owner, "SOL", uint256.NewInt(1_000), uint256.NewInt(500))
		return err
	})
	require.Error(t, err)
	require.Equal(t, before, len(f.node.RecentEvents("", 0)))

	// A callback that mutates state before failing must leave no trace.
	boom := errors.New("boom")
	_, err = f.node.Execute(context.Background(), "withdraw", func(e *cdp.Engine) error {
		if _, err := e.UpdateInterestRate(); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = f.node.Query(func(e *cdp.Engine, tx *state.Tx) error {
		position, err := e.Position(owner, "SOL")
		require.ErrorIs(t, err, cdp.ErrPositionNotFound)
		require.Nil(t, position)
		return nil
	})
	require.NoError(t, err)
}

func TestNodeSubscribeAndRecent(t *testing.T) {
	f := newNodeFixture(t)
	ch, cancel := f.node.Subscribe(16)
	defer cancel()
	f.bootstrap(t)

	select {
	case evt := <-ch:
		require.Equal(t, events.TypeProtocolInitialized, evt.Type)
		require.Equal(t, uint64(1), evt.Sequence)
	case <-time.After(time.Second):
		t.Fatalf("expected event")
	}

	pools := f.node.RecentEvents(events.TypePoolInitialized, 10)
	require.Len(t, pools, 1)
	require.Equal(t, "SOL", pools[0].Attr("asset"))
	require.Len(t, f.node.RecentEvents("", 1), 1)

	cancel()
	cancel()
}

func TestNodeSinkFailureDoesNotRollBack(t *testing.T) {
	f := newNodeFixture(t)
	f.node.AddSink(&recordingSink{err: errors.New("unavailable")})
	f.bootstrap(t)

	err := f.node.Query(func(e *cdp.Engine, _ *state.Tx) error {
		cfg, err := e.Protocol()
		if err != nil {
			return err
		}
		require.Equal(t, "CUSD", cfg.StablecoinAsset)
		return nil
	})
	require.NoError(t, err)
}

func TestEventHubBoundsHistory(t *testing.T) {
	hub := newEventHub(2)
	hub.broadcast([]*types.Event{{Sequence: 1, Type: "a"}, {Sequence: 2, Type: "b"}, {Sequence: 3, Type: "a"}})
	got := hub.recent("", 0)
	require.Len(t, got, 2)
	require.Equal(t, uint64(2), got[0].Sequence)
	require.Len(t, hub.recent("a", 0), 1)
}

func TestNewNodeRejectsInvalidParams(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	params := cdp.DefaultParams()
	params.LiquidationThresholdBps = 9_000
	_, err := NewNode(db, Config{Params: params})
	require.ErrorIs(t, err, cdp.ErrInvalidParameter)
}

func TestNodeSequenceSurvivesRestart(t *testing.T) {
	db := storage.NewMemDB()
	defer db.Close()
	open := func() *Node {
		node, err := NewNode(db, Config{Params: cdp.DefaultParams()})
		require.NoError(t, err)
		return node
	}
	owner := makeAddress(0x05)

	first, err := open().Credit(context.Background(), owner, "SOL", uint256.NewInt(10))
	require.NoError(t, err)
	require.Len(t, first.Events, 1)
	require.Equal(t, uint64(1), first.Events[0].Sequence)

	second, err := open().Credit(context.Background(), owner, "SOL", uint256.NewInt(10))
	require.NoError(t, err)
	require.Equal(t, uint64(2), second.Events[0].Sequence)
	require.NotEqual(t, first.Digest, second.Digest)
}
