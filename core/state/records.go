package state

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"cdpchain/crypto"
	"cdpchain/native/cdp"
)

// storedAddress keeps the prefix alongside the payload; crypto.Address does
// not export its fields.
type storedAddress struct {
	Prefix string
	Bytes  []byte
}

func toStoredAddress(addr crypto.Address) storedAddress {
	return storedAddress{Prefix: string(addr.Prefix()), Bytes: append([]byte(nil), addr.Bytes()...)}
}

func (s storedAddress) address() (crypto.Address, error) {
	if len(s.Bytes) == 0 {
		return crypto.Address{}, nil
	}
	return crypto.NewAddress(crypto.AddressPrefix(s.Prefix), s.Bytes)
}

type storedProtocol struct {
	Admin                 storedAddress
	ProtocolFeeBps        uint64
	RedemptionFeeBps      uint64
	MintFeeBps            uint64
	BaseRateBps           uint64
	SigmaBps              uint64
	MinRateBps            uint64
	MaxRateBps            uint64
	CurrentRateBps        uint64
	GlobalInterestIndex   *uint256.Int
	LastRateUpdate        uint64
	StablecoinFeed        string
	StablecoinAsset       string
	GlobalDebtOutstanding *uint256.Int
	PendingTreasury       *uint256.Int
}

type storedPool struct {
	Asset                     string
	PriceFeed                 string
	VaultBalance              *uint256.Int
	LiquidationReserveBalance *uint256.Int
	TotalCollateralLocked     *uint256.Int
	TotalDebtIssued           *uint256.Int
	MinCollateralRatioBps     uint64
	LiquidationThresholdBps   uint64
	TotalStaked               *uint256.Int
	RewardAccumulator         *uint256.Int
	DepletionFactor           *uint256.Int
	Epoch                     uint64
	Scale                     uint64
	RewardSums                []storedRewardSum
	CreatedAt                 uint64
}

type storedRewardSum struct {
	Epoch uint64
	Scale uint64
	Sum   *uint256.Int
}

type storedPosition struct {
	Owner       storedAddress
	Asset       string
	Collateral  *uint256.Int
	Principal   *uint256.Int
	IndexAtOpen *uint256.Int
	OpenTime    uint64
}

type storedStake struct {
	Owner             storedAddress
	Asset             string
	Amount            *uint256.Int
	DepletionSnapshot *uint256.Int
	RewardSnapshot    *uint256.Int
	Epoch             uint64
	Scale             uint64
	LastStaked        uint64
}

func zeroIfNil(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return v.Clone()
}

func encodeProtocol(cfg *cdp.ProtocolConfig) ([]byte, error) {
	return rlp.EncodeToBytes(&storedProtocol{
		Admin:                 toStoredAddress(cfg.Admin),
		ProtocolFeeBps:        cfg.ProtocolFeeBps,
		RedemptionFeeBps:      cfg.RedemptionFeeBps,
		MintFeeBps:            cfg.MintFeeBps,
		BaseRateBps:           cfg.BaseRateBps,
		SigmaBps:              cfg.SigmaBps,
		MinRateBps:            cfg.MinRateBps,
		MaxRateBps:            cfg.MaxRateBps,
		CurrentRateBps:        cfg.CurrentRateBps,
		GlobalInterestIndex:   zeroIfNil(cfg.GlobalInterestIndex),
		LastRateUpdate:        cfg.LastRateUpdate,
		StablecoinFeed:        cfg.StablecoinFeed,
		StablecoinAsset:       cfg.StablecoinAsset,
		GlobalDebtOutstanding: zeroIfNil(cfg.GlobalDebtOutstanding),
		PendingTreasury:       zeroIfNil(cfg.PendingTreasury),
	})
}

func decodeProtocol(data []byte) (*cdp.ProtocolConfig, error) {
	var stored storedProtocol
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("decode protocol config: %w", err)
	}
	admin, err := stored.Admin.address()
	if err != nil {
		return nil, fmt.Errorf("decode protocol admin: %w", err)
	}
	return &cdp.ProtocolConfig{
		Admin:                 admin,
		ProtocolFeeBps:        stored.ProtocolFeeBps,
		RedemptionFeeBps:      stored.RedemptionFeeBps,
		MintFeeBps:            stored.MintFeeBps,
		BaseRateBps:           stored.BaseRateBps,
		SigmaBps:              stored.SigmaBps,
		MinRateBps:            stored.MinRateBps,
		MaxRateBps:            stored.MaxRateBps,
		CurrentRateBps:        stored.CurrentRateBps,
		GlobalInterestIndex:   zeroIfNil(stored.GlobalInterestIndex),
		LastRateUpdate:        stored.LastRateUpdate,
		StablecoinFeed:        stored.StablecoinFeed,
		StablecoinAsset:       stored.StablecoinAsset,
		GlobalDebtOutstanding: zeroIfNil(stored.GlobalDebtOutstanding),
		PendingTreasury:       zeroIfNil(stored.PendingTreasury),
	}, nil
}

func encodePool(pool *cdp.CollateralPool) ([]byte, error) {
	sums := make([]storedRewardSum, len(pool.Stability.RewardSums))
	for i, sum := range pool.Stability.RewardSums {
		sums[i] = storedRewardSum{Epoch: sum.Epoch, Scale: sum.Scale, Sum: zeroIfNil(sum.Sum)}
	}
	return rlp.EncodeToBytes(&storedPool{
		Asset:                     pool.Asset,
		PriceFeed:                 pool.PriceFeed,
		VaultBalance:              zeroIfNil(pool.VaultBalance),
		LiquidationReserveBalance: zeroIfNil(pool.LiquidationReserveBalance),
		TotalCollateralLocked:     zeroIfNil(pool.TotalCollateralLocked),
		TotalDebtIssued:           zeroIfNil(pool.TotalDebtIssued),
		MinCollateralRatioBps:     pool.MinCollateralRatioBps,
		LiquidationThresholdBps:   pool.LiquidationThresholdBps,
		TotalStaked:               zeroIfNil(pool.Stability.TotalStaked),
		RewardAccumulator:         zeroIfNil(pool.Stability.RewardAccumulator),
		DepletionFactor:           zeroIfNil(pool.Stability.DepletionFactor),
		Epoch:                     pool.Stability.Epoch,
		Scale:                     pool.Stability.Scale,
		RewardSums:                sums,
		CreatedAt:                 pool.CreatedAt,
	})
}

func decodePool(data []byte) (*cdp.CollateralPool, error) {
	var stored storedPool
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("decode collateral pool: %w", err)
	}
	sums := make([]cdp.RewardSum, len(stored.RewardSums))
	for i, sum := range stored.RewardSums {
		sums[i] = cdp.RewardSum{Epoch: sum.Epoch, Scale: sum.Scale, Sum: zeroIfNil(sum.Sum)}
	}
	return &cdp.CollateralPool{
		Asset:                     stored.Asset,
		PriceFeed:                 stored.PriceFeed,
		VaultBalance:              zeroIfNil(stored.VaultBalance),
		LiquidationReserveBalance: zeroIfNil(stored.LiquidationReserveBalance),
		TotalCollateralLocked:     zeroIfNil(stored.TotalCollateralLocked),
		TotalDebtIssued:           zeroIfNil(stored.TotalDebtIssued),
		MinCollateralRatioBps:     stored.MinCollateralRatioBps,
		LiquidationThresholdBps:   stored.LiquidationThresholdBps,
		Stability: cdp.StabilityPool{
			TotalStaked:       zeroIfNil(stored.TotalStaked),
			RewardAccumulator: zeroIfNil(stored.RewardAccumulator),
			DepletionFactor:   zeroIfNil(stored.DepletionFactor),
			Epoch:             stored.Epoch,
			Scale:             stored.Scale,
			RewardSums:        sums,
		},
		CreatedAt: stored.CreatedAt,
	}, nil
}

func encodePosition(position *cdp.Position) ([]byte, error) {
	return rlp.EncodeToBytes(&storedPosition{
		Owner:       toStoredAddress(position.Owner),
		Asset:       position.Asset,
		Collateral:  zeroIfNil(position.Collateral),
		Principal:   zeroIfNil(position.Principal),
		IndexAtOpen: zeroIfNil(position.IndexAtOpen),
		OpenTime:    position.OpenTime,
	})
}

func decodePosition(data []byte) (*cdp.Position, error) {
	var stored storedPosition
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("decode position: %w", err)
	}
	owner, err := stored.Owner.address()
	if err != nil {
		return nil, fmt.Errorf("decode position owner: %w", err)
	}
	return &cdp.Position{
		Owner:       owner,
		Asset:       stored.Asset,
		Collateral:  zeroIfNil(stored.Collateral),
		Principal:   zeroIfNil(stored.Principal),
		IndexAtOpen: zeroIfNil(stored.IndexAtOpen),
		OpenTime:    stored.OpenTime,
	}, nil
}

func encodeStake(stake *cdp.StakeAccount) ([]byte, error) {
	return rlp.EncodeToBytes(&storedStake{
		Owner:             toStoredAddress(stake.Owner),
		Asset:             stake.Asset,
		Amount:            zeroIfNil(stake.Amount),
		DepletionSnapshot: zeroIfNil(stake.DepletionSnapshot),
		RewardSnapshot:    zeroIfNil(stake.RewardSnapshot),
		Epoch:             stake.Epoch,
		Scale:             stake.Scale,
		LastStaked:        stake.LastStaked,
	})
}

func decodeStake(data []byte) (*cdp.StakeAccount, error) {
	var stored storedStake
	if err := rlp.DecodeBytes(data, &stored); err != nil {
		return nil, fmt.Errorf("decode stake account: %w", err)
	}
	owner, err := stored.Owner.address()
	if err != nil {
		return nil, fmt.Errorf("decode stake owner: %w", err)
	}
	return &cdp.StakeAccount{
		Owner:             owner,
		Asset:             stored.Asset,
		Amount:            zeroIfNil(stored.Amount),
		DepletionSnapshot: zeroIfNil(stored.DepletionSnapshot),
		RewardSnapshot:    zeroIfNil(stored.RewardSnapshot),
		Epoch:             stored.Epoch,
		Scale:             stored.Scale,
		LastStaked:        stored.LastStaked,
	}, nil
}

func encodeAmount(v *uint256.Int) ([]byte, error) {
	return rlp.EncodeToBytes(zeroIfNil(v))
}

func decodeAmount(data []byte) (*uint256.Int, error) {
	out := new(uint256.Int)
	if err := rlp.DecodeBytes(data, out); err != nil {
		return nil, fmt.Errorf("decode amount: %w", err)
	}
	return out, nil
}
