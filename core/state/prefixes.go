package state

import (
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

var (
	protocolKeyBytes = []byte("cdp/protocol")
	poolPrefix       = []byte("cdp/pool/")
	positionPrefix   = []byte("cdp/position/")
	stakePrefix      = []byte("cdp/stake/")
	balancePrefix    = []byte("bank/balance/")
	supplyPrefix     = []byte("bank/supply/")
	eventSeqKey      = []byte("node/event_sequence")
)

func normalizeAsset(asset string) string {
	return strings.ToUpper(strings.TrimSpace(asset))
}

// assetHash fixes the width of the asset component so owner-scoped keys for
// one asset share a prefix.
func assetHash(asset string) []byte {
	return ethcrypto.Keccak256([]byte(normalizeAsset(asset)))
}

func join(parts ...[]byte) []byte {
	size := 0
	for _, p := range parts {
		size += len(p)
	}
	buf := make([]byte, 0, size)
	for _, p := range parts {
		buf = append(buf, p...)
	}
	return buf
}

// ProtocolKey is the storage key of the protocol singleton.
func ProtocolKey() []byte { return append([]byte(nil), protocolKeyBytes...) }

// PoolKey is the storage key of a collateral pool.
func PoolKey(asset string) []byte {
	return join(poolPrefix, []byte(normalizeAsset(asset)))
}

// PositionKey is the storage key of owner's position against asset.
func PositionKey(owner []byte, asset string) []byte {
	return join(positionPrefix, assetHash(asset), owner)
}

// PositionPrefix covers every position opened against asset.
func PositionPrefix(asset string) []byte {
	return join(positionPrefix, assetHash(asset))
}

// StakeKey is the storage key of owner's stake account in asset's pool.
func StakeKey(owner []byte, asset string) []byte {
	return join(stakePrefix, assetHash(asset), owner)
}

// StakePrefix covers every stake account in asset's pool.
func StakePrefix(asset string) []byte {
	return join(stakePrefix, assetHash(asset))
}

// BalanceKey is the storage key of addr's balance in asset.
func BalanceKey(addr []byte, asset string) []byte {
	return join(balancePrefix, assetHash(asset), addr)
}

// SupplyKey is the storage key of asset's total supply.
func SupplyKey(asset string) []byte {
	return join(supplyPrefix, []byte(normalizeAsset(asset)))
}
