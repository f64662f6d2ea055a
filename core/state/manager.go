package state

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"
	"lukechampine.com/blake3"

	"cdpchain/crypto"
	"cdpchain/native/cdp"
	"cdpchain/storage"
)

var errTxClosed = errors.New("state: transaction already closed")

// Manager owns the persistent CDP state. Mutations run inside a Tx so that an
// operation either commits every write in one batch or none at all.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager over db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a write-set overlay on top of the committed state.
func (m *Manager) Begin() *Tx {
	return &Tx{
		db:      m.db,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

// Tx buffers writes until Commit. Reads observe the buffered writes first.
type Tx struct {
	db      storage.Database
	writes  map[string][]byte
	deletes map[string]struct{}
	closed  bool
}

var _ cdp.State = (*Tx)(nil)

func (tx *Tx) get(key []byte) ([]byte, error) {
	k := string(key)
	if _, ok := tx.deletes[k]; ok {
		return nil, nil
	}
	if v, ok := tx.writes[k]; ok {
		return v, nil
	}
	v, err := tx.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return v, err
}

func (tx *Tx) put(key, value []byte) error {
	if tx.closed {
		return errTxClosed
	}
	k := string(key)
	delete(tx.deletes, k)
	tx.writes[k] = append([]byte(nil), value...)
	return nil
}

func (tx *Tx) del(key []byte) error {
	if tx.closed {
		return errTxClosed
	}
	k := string(key)
	delete(tx.writes, k)
	tx.deletes[k] = struct{}{}
	return nil
}

// iterate visits committed and buffered records under prefix in key order.
func (tx *Tx) iterate(prefix []byte, fn func(key, value []byte) error) error {
	merged := make(map[string][]byte)
	if err := tx.db.Iterate(prefix, func(key, value []byte) bool {
		merged[string(key)] = append([]byte(nil), value...)
		return true
	}); err != nil {
		return err
	}
	for k, v := range tx.writes {
		if bytes.HasPrefix([]byte(k), prefix) {
			merged[k] = v
		}
	}
	for k := range tx.deletes {
		delete(merged, k)
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn([]byte(k), merged[k]); err != nil {
			return err
		}
	}
	return nil
}

// Pending reports how many keys the transaction will touch.
func (tx *Tx) Pending() int {
	return len(tx.writes) + len(tx.deletes)
}

// Commit writes the buffered changes atomically and returns a BLAKE3 digest
// of the sorted write set.
func (tx *Tx) Commit() ([32]byte, error) {
	if tx.closed {
		return [32]byte{}, errTxClosed
	}
	tx.closed = true
	keys := make([]string, 0, tx.Pending())
	for k := range tx.writes {
		keys = append(keys, k)
	}
	for k := range tx.deletes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	batch := tx.db.NewBatch()
	var buf bytes.Buffer
	var lenBuf [8]byte
	for _, k := range keys {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(k)))
		buf.Write(lenBuf[:])
		buf.WriteString(k)
		if v, ok := tx.writes[k]; ok {
			batch.Put([]byte(k), v)
			buf.WriteByte(1)
			binary.BigEndian.PutUint64(lenBuf[:], uint64(len(v)))
			buf.Write(lenBuf[:])
			buf.Write(v)
			continue
		}
		batch.Delete([]byte(k))
		buf.WriteByte(0)
	}
	if batch.Len() > 0 {
		if err := batch.Write(); err != nil {
			return [32]byte{}, err
		}
	}
	return blake3.Sum256(buf.Bytes()), nil
}

// Discard drops the buffered changes.
func (tx *Tx) Discard() {
	tx.closed = true
	tx.writes = make(map[string][]byte)
	tx.deletes = make(map[string]struct{})
}

func (tx *Tx) GetBalance(addr crypto.Address, asset string) (*uint256.Int, error) {
	return tx.getAmount(BalanceKey(addr.Bytes(), asset))
}

func (tx *Tx) PutBalance(addr crypto.Address, asset string, amount *uint256.Int) error {
	return tx.putAmount(BalanceKey(addr.Bytes(), asset), amount)
}

func (tx *Tx) GetSupply(asset string) (*uint256.Int, error) {
	return tx.getAmount(SupplyKey(asset))
}

func (tx *Tx) PutSupply(asset string, amount *uint256.Int) error {
	return tx.putAmount(SupplyKey(asset), amount)
}

func (tx *Tx) getAmount(key []byte) (*uint256.Int, error) {
	data, err := tx.get(key)
	if err != nil || data == nil {
		return nil, err
	}
	return decodeAmount(data)
}

func (tx *Tx) putAmount(key []byte, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return tx.del(key)
	}
	encoded, err := encodeAmount(amount)
	if err != nil {
		return err
	}
	return tx.put(key, encoded)
}

// EventSequence returns the sequence number of the last published event.
func (tx *Tx) EventSequence() (uint64, error) {
	data, err := tx.get(eventSeqKey)
	if err != nil || data == nil {
		return 0, err
	}
	var seq uint64
	if err := rlp.DecodeBytes(data, &seq); err != nil {
		return 0, fmt.Errorf("decode event sequence: %w", err)
	}
	return seq, nil
}

// SetEventSequence records the sequence number of the last published event.
func (tx *Tx) SetEventSequence(seq uint64) error {
	encoded, err := rlp.EncodeToBytes(seq)
	if err != nil {
		return err
	}
	return tx.put(eventSeqKey, encoded)
}

func (tx *Tx) GetProtocolConfig() (*cdp.ProtocolConfig, error) {
	data, err := tx.get(protocolKeyBytes)
	if err != nil || data == nil {
		return nil, err
	}
	return decodeProtocol(data)
}

func (tx *Tx) PutProtocolConfig(cfg *cdp.ProtocolConfig) error {
	encoded, err := encodeProtocol(cfg)
	if err != nil {
		return err
	}
	return tx.put(protocolKeyBytes, encoded)
}

func (tx *Tx) GetPool(asset string) (*cdp.CollateralPool, error) {
	data, err := tx.get(PoolKey(asset))
	if err != nil || data == nil {
		return nil, err
	}
	return decodePool(data)
}

func (tx *Tx) PutPool(pool *cdp.CollateralPool) error {
	encoded, err := encodePool(pool)
	if err != nil {
		return err
	}
	return tx.put(PoolKey(pool.Asset), encoded)
}

func (tx *Tx) GetPosition(owner crypto.Address, asset string) (*cdp.Position, error) {
	data, err := tx.get(PositionKey(owner.Bytes(), asset))
	if err != nil || data == nil {
		return nil, err
	}
	return decodePosition(data)
}

func (tx *Tx) PutPosition(position *cdp.Position) error {
	encoded, err := encodePosition(position)
	if err != nil {
		return err
	}
	return tx.put(PositionKey(position.Owner.Bytes(), position.Asset), encoded)
}

func (tx *Tx) DeletePosition(owner crypto.Address, asset string) error {
	return tx.del(PositionKey(owner.Bytes(), asset))
}

func (tx *Tx) GetStake(owner crypto.Address, asset string) (*cdp.StakeAccount, error) {
	data, err := tx.get(StakeKey(owner.Bytes(), asset))
	if err != nil || data == nil {
		return nil, err
	}
	return decodeStake(data)
}

func (tx *Tx) PutStake(stake *cdp.StakeAccount) error {
	encoded, err := encodeStake(stake)
	if err != nil {
		return err
	}
	return tx.put(StakeKey(stake.Owner.Bytes(), stake.Asset), encoded)
}

func (tx *Tx) DeleteStake(owner crypto.Address, asset string) error {
	return tx.del(StakeKey(owner.Bytes(), asset))
}

// ListPools returns every registered collateral pool ordered by asset.
func (tx *Tx) ListPools() ([]*cdp.CollateralPool, error) {
	var pools []*cdp.CollateralPool
	err := tx.iterate(poolPrefix, func(_, value []byte) error {
		pool, err := decodePool(value)
		if err != nil {
			return err
		}
		pools = append(pools, pool)
		return nil
	})
	return pools, err
}

// ListPositions returns every open position against asset.
func (tx *Tx) ListPositions(asset string) ([]*cdp.Position, error) {
	var positions []*cdp.Position
	err := tx.iterate(PositionPrefix(asset), func(_, value []byte) error {
		position, err := decodePosition(value)
		if err != nil {
			return err
		}
		positions = append(positions, position)
		return nil
	})
	return positions, err
}

// ListStakes returns every stake account in asset's stability pool.
func (tx *Tx) ListStakes(asset string) ([]*cdp.StakeAccount, error) {
	var stakes []*cdp.StakeAccount
	err := tx.iterate(StakePrefix(asset), func(_, value []byte) error {
		stake, err := decodeStake(value)
		if err != nil {
			return err
		}
		stakes = append(stakes, stake)
		return nil
	})
	return stakes, err
}
