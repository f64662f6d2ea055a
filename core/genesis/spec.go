package genesis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/holiman/uint256"
	"gopkg.in/yaml.v3"

	"cdpchain/core"
	"cdpchain/core/state"
	"cdpchain/crypto"
	"cdpchain/native/cdp"
)

// GenesisSpec describes the protocol state installed on first start.
type GenesisSpec struct {
	Admin    string                       `json:"admin" yaml:"admin"`
	Protocol ProtocolSpec                 `json:"protocol" yaml:"protocol"`
	Pools    []PoolSpec                   `json:"pools" yaml:"pools"`
	Alloc    map[string]map[string]string `json:"alloc" yaml:"alloc"` // addr -> asset -> amount

	admin crypto.Address
	alloc []allocation
}

type ProtocolSpec struct {
	ProtocolFeeBps   uint64 `json:"protocolFeeBps" yaml:"protocolFeeBps"`
	RedemptionFeeBps uint64 `json:"redemptionFeeBps" yaml:"redemptionFeeBps"`
	MintFeeBps       uint64 `json:"mintFeeBps" yaml:"mintFeeBps"`
	BaseRateBps      uint64 `json:"baseRateBps" yaml:"baseRateBps"`
	SigmaBps         uint64 `json:"sigmaBps" yaml:"sigmaBps"`
	StablecoinAsset  string `json:"stablecoinAsset" yaml:"stablecoinAsset"`
	StablecoinFeed   string `json:"stablecoinFeed" yaml:"stablecoinFeed"`
}

type PoolSpec struct {
	Asset     string `json:"asset" yaml:"asset"`
	PriceFeed string `json:"priceFeed" yaml:"priceFeed"`
}

type allocation struct {
	addr   crypto.Address
	asset  string
	amount *uint256.Int
}

// LoadGenesisSpec reads and validates a genesis file. Files ending in .yaml or
// .yml are decoded as YAML, anything else as JSON. Unknown fields are rejected.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	var spec *GenesisSpec
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		spec, err = ParseGenesisYAML(raw)
	default:
		spec, err = ParseGenesisSpec(raw)
	}
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes and validates raw genesis JSON.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

// ParseGenesisYAML decodes and validates a YAML genesis document with the
// same schema as the JSON form.
func ParseGenesisYAML(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

// AdminAddress returns the decoded administrator.
func (s *GenesisSpec) AdminAddress() crypto.Address { return s.admin }

func (s *GenesisSpec) validate() error {
	admin, err := crypto.DecodeAddress(strings.TrimSpace(s.Admin))
	if err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	s.admin = admin

	p := s.Protocol
	if strings.TrimSpace(p.StablecoinAsset) == "" {
		return fmt.Errorf("protocol.stablecoinAsset must be provided")
	}
	if strings.TrimSpace(p.StablecoinFeed) == "" {
		return fmt.Errorf("protocol.stablecoinFeed must be provided")
	}
	for name, bps := range map[string]uint64{
		"protocolFeeBps":   p.ProtocolFeeBps,
		"redemptionFeeBps": p.RedemptionFeeBps,
		"mintFeeBps":       p.MintFeeBps,
		"baseRateBps":      p.BaseRateBps,
		"sigmaBps":         p.SigmaBps,
	} {
		if bps > cdp.BpsScale {
			return fmt.Errorf("protocol.%s must be %d or fewer", name, cdp.BpsScale)
		}
	}

	stable := strings.ToUpper(strings.TrimSpace(p.StablecoinAsset))
	assets := make(map[string]struct{}, len(s.Pools))
	for i, pool := range s.Pools {
		asset := strings.ToUpper(strings.TrimSpace(pool.Asset))
		if asset == "" {
			return fmt.Errorf("pools[%d]: asset must be provided", i)
		}
		if strings.TrimSpace(pool.PriceFeed) == "" {
			return fmt.Errorf("pools[%d]: priceFeed must be provided", i)
		}
		if asset == stable {
			return fmt.Errorf("pools[%d]: stablecoin cannot be used as collateral", i)
		}
		if _, dup := assets[asset]; dup {
			return fmt.Errorf("pools[%d]: duplicate asset %q", i, pool.Asset)
		}
		assets[asset] = struct{}{}
	}

	s.alloc = s.alloc[:0]
	accounts := make([]string, 0, len(s.Alloc))
	for account := range s.Alloc {
		accounts = append(accounts, account)
	}
	sort.Strings(accounts)
	for _, account := range accounts {
		addr, err := crypto.DecodeAddress(account)
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", account, err)
		}
		symbols := make([]string, 0, len(s.Alloc[account]))
		for symbol := range s.Alloc[account] {
			symbols = append(symbols, symbol)
		}
		sort.Strings(symbols)
		seen := make(map[string]struct{}, len(symbols))
		for _, symbol := range symbols {
			key := strings.ToUpper(strings.TrimSpace(symbol))
			if key == "" {
				return fmt.Errorf("alloc[%q]: asset must be provided", account)
			}
			if _, dup := seen[key]; dup {
				return fmt.Errorf("alloc[%q]: duplicate asset %q", account, symbol)
			}
			seen[key] = struct{}{}
			amount, err := uint256.FromDecimal(strings.TrimSpace(s.Alloc[account][symbol]))
			if err != nil {
				return fmt.Errorf("alloc[%q][%q]: invalid amount: %w", account, symbol, err)
			}
			if amount.IsZero() {
				continue
			}
			s.alloc = append(s.alloc, allocation{addr: addr, asset: key, amount: amount})
		}
	}
	return nil
}

// Apply installs the genesis state through regular node operations: protocol
// initialisation, one vault per pool and the balance allocations, in that
// order. A node whose protocol is already initialised is left untouched and
// Apply reports false.
func Apply(ctx context.Context, node *core.Node, spec *GenesisSpec) (bool, error) {
	if node == nil || spec == nil {
		return false, fmt.Errorf("genesis: node and spec required")
	}
	initialised := false
	err := node.Query(func(e *cdp.Engine, _ *state.Tx) error {
		_, err := e.Protocol()
		switch {
		case err == nil:
			initialised = true
			return nil
		case errors.Is(err, cdp.ErrNotInitialized):
			return nil
		default:
			return err
		}
	})
	if err != nil {
		return false, fmt.Errorf("genesis: inspect state: %w", err)
	}
	if initialised {
		return false, nil
	}

	p := spec.Protocol
	if _, err := node.Execute(ctx, "initialize_protocol", func(e *cdp.Engine) error {
		_, err := e.InitializeProtocolConfig(spec.admin, cdp.ProtocolInit{
			ProtocolFeeBps:   p.ProtocolFeeBps,
			RedemptionFeeBps: p.RedemptionFeeBps,
			MintFeeBps:       p.MintFeeBps,
			BaseRateBps:      p.BaseRateBps,
			SigmaBps:         p.SigmaBps,
			StablecoinFeed:   p.StablecoinFeed,
			StablecoinAsset:  p.StablecoinAsset,
		})
		return err
	}); err != nil {
		return false, fmt.Errorf("genesis: initialize protocol: %w", err)
	}
	for _, pool := range spec.Pools {
		pool := pool
		if _, err := node.Execute(ctx, "initialize_pool", func(e *cdp.Engine) error {
			_, err := e.InitializeCollateralVault(spec.admin, pool.Asset, pool.PriceFeed)
			return err
		}); err != nil {
			return false, fmt.Errorf("genesis: pool %s: %w", pool.Asset, err)
		}
	}
	for _, alloc := range spec.alloc {
		if _, err := node.Credit(ctx, alloc.addr, alloc.asset, alloc.amount); err != nil {
			return false, fmt.Errorf("genesis: alloc %s %s: %w", alloc.addr, alloc.asset, err)
		}
	}
	return true, nil
}
