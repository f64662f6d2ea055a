package routes

import (
	"cdpchain/core"
	"cdpchain/crypto"
	"cdpchain/native/cdp"
)

// JSON renderings of engine records. Amounts are decimal strings so clients
// never lose precision on 256-bit values.

type operationResponse struct {
	Receipt *core.Receipt `json:"receipt"`
	Result  any           `json:"result,omitempty"`
}

type protocolView struct {
	Admin                 crypto.Address `json:"admin"`
	ProtocolFeeBps        uint64         `json:"protocolFeeBps"`
	RedemptionFeeBps      uint64         `json:"redemptionFeeBps"`
	MintFeeBps            uint64         `json:"mintFeeBps"`
	BaseRateBps           uint64         `json:"baseRateBps"`
	SigmaBps              uint64         `json:"sigmaBps"`
	MinRateBps            uint64         `json:"minRateBps"`
	MaxRateBps            uint64         `json:"maxRateBps"`
	CurrentRateBps        uint64         `json:"currentRateBps"`
	GlobalInterestIndex   string         `json:"globalInterestIndex"`
	LastRateUpdate        uint64         `json:"lastRateUpdate"`
	StablecoinFeed        string         `json:"stablecoinFeed"`
	StablecoinAsset       string         `json:"stablecoinAsset"`
	GlobalDebtOutstanding string         `json:"globalDebtOutstanding"`
	PendingTreasury       string         `json:"pendingTreasury"`
}

func protocolViewOf(c *cdp.ProtocolConfig) protocolView {
	return protocolView{
		Admin:                 c.Admin,
		ProtocolFeeBps:        c.ProtocolFeeBps,
		RedemptionFeeBps:      c.RedemptionFeeBps,
		MintFeeBps:            c.MintFeeBps,
		BaseRateBps:           c.BaseRateBps,
		SigmaBps:              c.SigmaBps,
		MinRateBps:            c.MinRateBps,
		MaxRateBps:            c.MaxRateBps,
		CurrentRateBps:        c.CurrentRateBps,
		GlobalInterestIndex:   dec(c.GlobalInterestIndex),
		LastRateUpdate:        c.LastRateUpdate,
		StablecoinFeed:        c.StablecoinFeed,
		StablecoinAsset:       c.StablecoinAsset,
		GlobalDebtOutstanding: dec(c.GlobalDebtOutstanding),
		PendingTreasury:       dec(c.PendingTreasury),
	}
}

type stabilityView struct {
	TotalStaked       string `json:"totalStaked"`
	RewardAccumulator string `json:"rewardAccumulator"`
	DepletionFactor   string `json:"depletionFactor"`
	Epoch             uint64 `json:"epoch"`
	Scale             uint64 `json:"scale"`
}

type poolView struct {
	Asset                     string        `json:"asset"`
	PriceFeed                 string        `json:"priceFeed"`
	VaultBalance              string        `json:"vaultBalance"`
	LiquidationReserveBalance string        `json:"liquidationReserveBalance"`
	TotalCollateralLocked     string        `json:"totalCollateralLocked"`
	TotalDebtIssued           string        `json:"totalDebtIssued"`
	MinCollateralRatioBps     uint64        `json:"minCollateralRatioBps"`
	LiquidationThresholdBps   uint64        `json:"liquidationThresholdBps"`
	Stability                 stabilityView `json:"stability"`
	CreatedAt                 uint64        `json:"createdAt"`
}

func poolViewOf(p *cdp.CollateralPool) poolView {
	return poolView{
		Asset:                     p.Asset,
		PriceFeed:                 p.PriceFeed,
		VaultBalance:              dec(p.VaultBalance),
		LiquidationReserveBalance: dec(p.LiquidationReserveBalance),
		TotalCollateralLocked:     dec(p.TotalCollateralLocked),
		TotalDebtIssued:           dec(p.TotalDebtIssued),
		MinCollateralRatioBps:     p.MinCollateralRatioBps,
		LiquidationThresholdBps:   p.LiquidationThresholdBps,
		Stability: stabilityView{
			TotalStaked:       dec(p.Stability.TotalStaked),
			RewardAccumulator: dec(p.Stability.RewardAccumulator),
			DepletionFactor:   dec(p.Stability.DepletionFactor),
			Epoch:             p.Stability.Epoch,
			Scale:             p.Stability.Scale,
		},
		CreatedAt: p.CreatedAt,
	}
}

type positionView struct {
	Owner       crypto.Address `json:"owner"`
	Asset       string         `json:"asset"`
	Collateral  string         `json:"collateral"`
	Principal   string         `json:"principal"`
	IndexAtOpen string         `json:"indexAtOpen"`
	OpenTime    uint64         `json:"openTime"`
}

func positionViewOf(p *cdp.Position) positionView {
	return positionView{
		Owner:       p.Owner,
		Asset:       p.Asset,
		Collateral:  dec(p.Collateral),
		Principal:   dec(p.Principal),
		IndexAtOpen: dec(p.IndexAtOpen),
		OpenTime:    p.OpenTime,
	}
}

type healthView struct {
	Owed            string `json:"owed"`
	CollateralValue string `json:"collateralValue"`
	RatioBps        string `json:"ratioBps"`
	Price           string `json:"price"`
	Liquidatable    bool   `json:"liquidatable"`
}

func healthViewOf(h *cdp.Health) healthView {
	return healthView{
		Owed:            dec(h.Owed),
		CollateralValue: dec(h.CollateralValue),
		RatioBps:        dec(h.RatioBps),
		Price:           dec(h.Price),
		Liquidatable:    h.Liquidatable,
	}
}

type stakeView struct {
	Owner         crypto.Address `json:"owner"`
	Asset         string         `json:"asset"`
	Amount        string         `json:"amount"`
	Deposit       string         `json:"deposit"`
	PendingReward string         `json:"pendingReward"`
	Epoch         uint64         `json:"epoch"`
	Scale         uint64         `json:"scale"`
	LastStaked    uint64         `json:"lastStaked"`
}

func stakeViewOf(s *cdp.StakeView) stakeView {
	view := stakeView{Deposit: dec(s.Deposit), PendingReward: dec(s.PendingReward)}
	if acct := s.Account; acct != nil {
		view.Owner = acct.Owner
		view.Asset = acct.Asset
		view.Amount = dec(acct.Amount)
		view.Epoch = acct.Epoch
		view.Scale = acct.Scale
		view.LastStaked = acct.LastStaked
	}
	return view
}

type closeView struct {
	Owed               string `json:"owed"`
	RedemptionFee      string `json:"redemptionFee"`
	CollateralReleased string `json:"collateralReleased"`
}

type rateView struct {
	PreviousRateBps uint64 `json:"previousRateBps"`
	RateBps         uint64 `json:"rateBps"`
	Index           string `json:"index"`
	ElapsedSeconds  uint64 `json:"elapsedSeconds"`
	StablePrice     string `json:"stablePrice"`
}

type unstakeView struct {
	Returned   string `json:"returned"`
	RewardPaid string `json:"rewardPaid"`
}

type liquidationView struct {
	DebtBurned  string `json:"debtBurned"`
	Seized      string `json:"seized"`
	Incentive   string `json:"incentive"`
	StakerShare string `json:"stakerShare"`
	HealthBps   string `json:"healthBps"`
	Price       string `json:"price"`
}

type amountView struct {
	Amount string `json:"amount"`
}
