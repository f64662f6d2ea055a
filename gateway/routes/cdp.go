package routes

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"cdpchain/core"
	"cdpchain/core/state"
	"cdpchain/crypto"
	"cdpchain/gateway/middleware"
	"cdpchain/native/cdp"
	"cdpchain/native/oracle"
)

var errNoCaller = errors.New("caller identity missing")

type cdpRoutes struct {
	node   *core.Node
	manual *oracle.ManualOracle
	logger *slog.Logger
	now    func() time.Time
}

type initProtocolRequest struct {
	ProtocolFeeBps   uint64 `json:"protocolFeeBps"`
	RedemptionFeeBps uint64 `json:"redemptionFeeBps"`
	MintFeeBps       uint64 `json:"mintFeeBps"`
	BaseRateBps      uint64 `json:"baseRateBps"`
	SigmaBps         uint64 `json:"sigmaBps"`
	StablecoinFeed   string `json:"stablecoinFeed"`
	StablecoinAsset  string `json:"stablecoinAsset"`
}

type initPoolRequest struct {
	Asset     string `json:"asset"`
	PriceFeed string `json:"priceFeed"`
}

type withdrawRequest struct {
	Recipient string `json:"recipient"`
}

type quoteRequest struct {
	Feed  string `json:"feed"`
	Price int64  `json:"price"`
	Conf  uint64 `json:"conf"`
	Expo  int32  `json:"expo"`
	// PublishTime is unix seconds; zero stamps the quote with the current time.
	PublishTime int64 `json:"publishTime"`
}

type openRequest struct {
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
}

type stakeRequest struct {
	Amount string `json:"amount"`
}

func (cr *cdpRoutes) mountAdmin(r chi.Router) {
	r.Post("/protocol/init", cr.initProtocol)
	r.Post("/pools", cr.initPool)
	r.Post("/treasury/withdraw", cr.withdrawTreasury)
	if cr.manual != nil {
		r.Post("/oracle/quotes", cr.setQuote)
	}
}

func (cr *cdpRoutes) mountUser(r chi.Router) {
	r.Post("/positions/{asset}/open", cr.openPosition)
	r.Post("/positions/{asset}/close", cr.closePosition)
	r.Post("/positions/{asset}/{owner}/liquidate", cr.liquidatePosition)
	r.Post("/rate/update", cr.updateRate)
	r.Post("/stability/{asset}/stake", cr.stake)
	r.Post("/stability/{asset}/unstake", cr.unstake)
	r.Post("/stability/{asset}/claim", cr.claim)
}

func (cr *cdpRoutes) mountQueries(r chi.Router) {
	r.Get("/protocol", cr.getProtocol)
	r.Get("/pools/{asset}", cr.getPool)
	r.Get("/positions/{asset}", cr.listPositions)
	r.Get("/positions/{asset}/{owner}", cr.getPosition)
	r.Get("/positions/{asset}/{owner}/health", cr.getHealth)
	r.Get("/stability/{asset}", cr.listStakes)
	r.Get("/stability/{asset}/{owner}", cr.getStake)
	r.Get("/balances/{owner}/{asset}", cr.getBalance)
}

func caller(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	addr, ok := middleware.CallerFromContext(r.Context())
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthenticated", errNoCaller)
		return crypto.Address{}, false
	}
	return addr, true
}

func ownerParam(w http.ResponseWriter, r *http.Request) (crypto.Address, bool) {
	owner, err := crypto.DecodeAddress(chi.URLParam(r, "owner"))
	if err != nil {
		writeBadRequest(w, err)
		return crypto.Address{}, false
	}
	return owner, true
}

func (cr *cdpRoutes) respond(w http.ResponseWriter, receipt *core.Receipt, err error, result func() any) {
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, operationResponse{Receipt: receipt, Result: result()})
}

func (cr *cdpRoutes) initProtocol(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var req initProtocolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	var cfg *cdp.ProtocolConfig
	receipt, err := cr.node.Execute(r.Context(), "initialize_protocol", func(e *cdp.Engine) error {
		var err error
		cfg, err = e.InitializeProtocolConfig(admin, cdp.ProtocolInit{
			ProtocolFeeBps:   req.ProtocolFeeBps,
			RedemptionFeeBps: req.RedemptionFeeBps,
			MintFeeBps:       req.MintFeeBps,
			BaseRateBps:      req.BaseRateBps,
			SigmaBps:         req.SigmaBps,
			StablecoinFeed:   req.StablecoinFeed,
			StablecoinAsset:  req.StablecoinAsset,
		})
		return err
	})
	cr.respond(w, receipt, err, func() any { return protocolViewOf(cfg) })
}

func (cr *cdpRoutes) initPool(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var req initPoolRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	var pool *cdp.CollateralPool
	receipt, err := cr.node.Execute(r.Context(), "initialize_pool", func(e *cdp.Engine) error {
		var err error
		pool, err = e.InitializeCollateralVault(admin, req.Asset, req.PriceFeed)
		return err
	})
	cr.respond(w, receipt, err, func() any { return poolViewOf(pool) })
}

func (cr *cdpRoutes) withdrawTreasury(w http.ResponseWriter, r *http.Request) {
	admin, ok := caller(w, r)
	if !ok {
		return
	}
	var req withdrawRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	recipient := admin
	if strings.TrimSpace(req.Recipient) != "" {
		decoded, err := crypto.DecodeAddress(req.Recipient)
		if err != nil {
			writeBadRequest(w, err)
			return
		}
		recipient = decoded
	}
	var amount string
	receipt, err := cr.node.Execute(r.Context(), "withdraw_treasury", func(e *cdp.Engine) error {
		withdrawn, err := e.WithdrawTreasury(admin, recipient)
		amount = dec(withdrawn)
		return err
	})
	cr.respond(w, receipt, err, func() any { return amountView{Amount: amount} })
}

func (cr *cdpRoutes) setQuote(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	feed := oracle.NormalizeFeedID(req.Feed)
	if feed == "" || req.Price <= 0 {
		writeBadRequest(w, errors.New("feed and a positive price are required"))
		return
	}
	published := cr.now()
	if req.PublishTime > 0 {
		published = time.Unix(req.PublishTime, 0)
	}
	cr.manual.Set(feed, oracle.Quote{Price: req.Price, Conf: req.Conf, Expo: req.Expo, PublishTime: published})
	cr.logger.Info("manual quote set", slog.String("feed", feed), slog.Int64("price", req.Price), slog.Int("expo", int(req.Expo)))
	writeJSON(w, http.StatusOK, map[string]any{"feed": feed, "publishTime": published.Unix()})
}

func (cr *cdpRoutes) openPosition(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var req openRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	collateral, err := parseAmount("collateral", req.Collateral)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	debt, err := parseAmount("debt", req.Debt)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var position *cdp.Position
	receipt, err := cr.node.Execute(r.Context(), "open_position", func(e *cdp.Engine) error {
		var err error
		position, err = e.OpenPosition(owner, chi.URLParam(r, "asset"), collateral, debt)
		return err
	})
	cr.respond(w, receipt, err, func() any { return positionViewOf(position) })
}

func (cr *cdpRoutes) closePosition(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var res *cdp.CloseResult
	receipt, err := cr.node.Execute(r.Context(), "close_position", func(e *cdp.Engine) error {
		var err error
		res, err = e.ClosePosition(owner, chi.URLParam(r, "asset"))
		return err
	})
	cr.respond(w, receipt, err, func() any {
		return closeView{Owed: dec(res.Owed), RedemptionFee: dec(res.RedemptionFee), CollateralReleased: dec(res.CollateralReleased)}
	})
}

func (cr *cdpRoutes) liquidatePosition(w http.ResponseWriter, r *http.Request) {
	liquidator, ok := caller(w, r)
	if !ok {
		return
	}
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	var res *cdp.LiquidationResult
	receipt, err := cr.node.Execute(r.Context(), "liquidate_position", func(e *cdp.Engine) error {
		var err error
		res, err = e.LiquidatePosition(liquidator, owner, chi.URLParam(r, "asset"))
		return err
	})
	cr.respond(w, receipt, err, func() any {
		return liquidationView{
			DebtBurned:  dec(res.DebtBurned),
			Seized:      dec(res.Seized),
			Incentive:   dec(res.Incentive),
			StakerShare: dec(res.StakerShare),
			HealthBps:   dec(res.HealthBps),
			Price:       dec(res.Price),
		}
	})
}

func (cr *cdpRoutes) updateRate(w http.ResponseWriter, r *http.Request) {
	if _, ok := caller(w, r); !ok {
		return
	}
	var res *cdp.RateUpdate
	receipt, err := cr.node.Execute(r.Context(), "update_interest_rate", func(e *cdp.Engine) error {
		var err error
		res, err = e.UpdateInterestRate()
		return err
	})
	cr.respond(w, receipt, err, func() any {
		return rateView{
			PreviousRateBps: res.PreviousRateBps,
			RateBps:         res.RateBps,
			Index:           dec(res.Index),
			ElapsedSeconds:  res.ElapsedSeconds,
			StablePrice:     dec(res.StablePrice),
		}
	})
}

func (cr *cdpRoutes) stake(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var req stakeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeBadRequest(w, err)
		return
	}
	var view *cdp.StakeView
	receipt, err := cr.node.Execute(r.Context(), "stake", func(e *cdp.Engine) error {
		var err error
		view, err = e.StakeStableTokens(owner, chi.URLParam(r, "asset"), amount)
		return err
	})
	cr.respond(w, receipt, err, func() any { return stakeViewOf(view) })
}

func (cr *cdpRoutes) unstake(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var res *cdp.UnstakeResult
	receipt, err := cr.node.Execute(r.Context(), "unstake", func(e *cdp.Engine) error {
		var err error
		res, err = e.UnstakeStableTokens(owner, chi.URLParam(r, "asset"))
		return err
	})
	cr.respond(w, receipt, err, func() any {
		return unstakeView{Returned: dec(res.Returned), RewardPaid: dec(res.RewardPaid)}
	})
}

func (cr *cdpRoutes) claim(w http.ResponseWriter, r *http.Request) {
	owner, ok := caller(w, r)
	if !ok {
		return
	}
	var amount string
	receipt, err := cr.node.Execute(r.Context(), "claim_reward", func(e *cdp.Engine) error {
		paid, err := e.ClaimStakeReward(owner, chi.URLParam(r, "asset"))
		amount = dec(paid)
		return err
	})
	cr.respond(w, receipt, err, func() any { return amountView{Amount: amount} })
}

// query runs fn against a read-only view and renders its result.
func (cr *cdpRoutes) query(w http.ResponseWriter, fn func(*cdp.Engine) (any, error)) {
	var out any
	err := cr.node.Query(func(e *cdp.Engine, _ *state.Tx) error {
		var err error
		out, err = fn(e)
		return err
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (cr *cdpRoutes) getProtocol(w http.ResponseWriter, r *http.Request) {
	cr.query(w, func(e *cdp.Engine) (any, error) {
		cfg, err := e.Protocol()
		if err != nil {
			return nil, err
		}
		return protocolViewOf(cfg), nil
	})
}

func (cr *cdpRoutes) getPool(w http.ResponseWriter, r *http.Request) {
	cr.query(w, func(e *cdp.Engine) (any, error) {
		pool, err := e.Pool(chi.URLParam(r, "asset"))
		if err != nil {
			return nil, err
		}
		return poolViewOf(pool), nil
	})
}

func (cr *cdpRoutes) getPosition(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	cr.query(w, func(e *cdp.Engine) (any, error) {
		position, err := e.Position(owner, chi.URLParam(r, "asset"))
		if err != nil {
			return nil, err
		}
		return positionViewOf(position), nil
	})
}

func (cr *cdpRoutes) getHealth(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	cr.query(w, func(e *cdp.Engine) (any, error) {
		health, err := e.PositionHealth(owner, chi.URLParam(r, "asset"))
		if err != nil {
			return nil, err
		}
		return healthViewOf(health), nil
	})
}

func (cr *cdpRoutes) getStake(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	cr.query(w, func(e *cdp.Engine) (any, error) {
		view, err := e.Stake(owner, chi.URLParam(r, "asset"))
		if err != nil {
			return nil, err
		}
		return stakeViewOf(view), nil
	})
}

func (cr *cdpRoutes) listPositions(w http.ResponseWriter, r *http.Request) {
	var out []positionView
	err := cr.node.Query(func(e *cdp.Engine, tx *state.Tx) error {
		pool, err := e.Pool(chi.URLParam(r, "asset"))
		if err != nil {
			return err
		}
		positions, err := tx.ListPositions(pool.Asset)
		if err != nil {
			return err
		}
		out = make([]positionView, 0, len(positions))
		for _, position := range positions {
			out = append(out, positionViewOf(position))
		}
		return nil
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// listStakes renders every stake account of the pool with its compounded
// deposit and pending reward.
func (cr *cdpRoutes) listStakes(w http.ResponseWriter, r *http.Request) {
	var out []stakeView
	err := cr.node.Query(func(e *cdp.Engine, tx *state.Tx) error {
		pool, err := e.Pool(chi.URLParam(r, "asset"))
		if err != nil {
			return err
		}
		accounts, err := tx.ListStakes(pool.Asset)
		if err != nil {
			return err
		}
		out = make([]stakeView, 0, len(accounts))
		for _, account := range accounts {
			view, err := e.Stake(account.Owner, pool.Asset)
			if err != nil {
				return err
			}
			out = append(out, stakeViewOf(view))
		}
		return nil
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"stakes": out})
}

func (cr *cdpRoutes) getBalance(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerParam(w, r)
	if !ok {
		return
	}
	asset := strings.ToUpper(strings.TrimSpace(chi.URLParam(r, "asset")))
	cr.query(w, func(e *cdp.Engine) (any, error) {
		bal, err := e.Balance(owner, asset)
		if err != nil {
			return nil, err
		}
		return map[string]any{"owner": owner, "asset": asset, "balance": dec(bal)}, nil
	})
}
