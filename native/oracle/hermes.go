package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cdpchain/observability"
)

// HTTPDoer abstracts http.Client for testing.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

const (
	defaultHermesEndpoint = "https://hermes.pyth.network"
	hermesLatestPath      = "/v2/updates/price/latest"
	hermesSource          = "pyth-hermes"
)

// Hermes polls the Pyth Hermes price service for a fixed set of feeds and
// serves the most recent readings through the Reader interface.
type Hermes struct {
	client   HTTPDoer
	endpoint string
	feeds    []string
	cache    *ManualOracle
	logger   *slog.Logger
}

// NewHermes constructs a Hermes poller. When the client is nil
// http.DefaultClient is used.
func NewHermes(client HTTPDoer, endpoint string, feeds []string, logger *slog.Logger) (*Hermes, error) {
	ep := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if ep == "" {
		ep = defaultHermesEndpoint
	}
	if _, err := url.Parse(ep); err != nil {
		return nil, fmt.Errorf("hermes oracle: invalid endpoint: %w", err)
	}
	normalized := make([]string, 0, len(feeds))
	for _, feed := range feeds {
		if id := NormalizeFeedID(feed); id != "" {
			normalized = append(normalized, id)
		}
	}
	if len(normalized) == 0 {
		return nil, fmt.Errorf("hermes oracle: at least one feed required")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hermes{client: client, endpoint: ep, feeds: normalized, cache: NewManualOracle(), logger: logger}, nil
}

// Quote implements Reader from the last successful refresh.
func (h *Hermes) Quote(feedID string) (Quote, error) {
	if h == nil {
		return Quote{}, fmt.Errorf("hermes oracle not configured")
	}
	return h.cache.Quote(feedID)
}

type hermesPrice struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}

type hermesResponse struct {
	Parsed []struct {
		ID    string      `json:"id"`
		Price hermesPrice `json:"price"`
	} `json:"parsed"`
}

// Refresh fetches the latest price for every configured feed.
func (h *Hermes) Refresh(ctx context.Context) error {
	values := url.Values{}
	for _, id := range h.feeds {
		values.Add("ids[]", id)
	}
	values.Set("parsed", "true")
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.endpoint+hermesLatestPath+"?"+values.Encode(), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("hermes oracle: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("hermes oracle: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var payload hermesResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
		return fmt.Errorf("hermes oracle: decode: %w", err)
	}
	now := time.Now()
	for _, entry := range payload.Parsed {
		quote, err := entry.Price.quote()
		if err != nil {
			return fmt.Errorf("hermes oracle: feed %s: %w", entry.ID, err)
		}
		h.cache.Set(entry.ID, quote)
		observability.Oracle().RecordAge(NormalizeFeedID(entry.ID), now.Sub(quote.PublishTime))
	}
	return nil
}

func (h *Hermes) refresh(ctx context.Context) {
	err := h.Refresh(ctx)
	observability.Oracle().RecordRefresh(hermesSource, err)
	if err != nil && ctx.Err() == nil {
		h.logger.Warn("oracle refresh failed", slog.String("source", hermesSource), slog.Any("error", err))
	}
}

func (p hermesPrice) quote() (Quote, error) {
	price, err := strconv.ParseInt(strings.TrimSpace(p.Price), 10, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("invalid price %q", p.Price)
	}
	conf, err := strconv.ParseUint(strings.TrimSpace(p.Conf), 10, 64)
	if err != nil {
		return Quote{}, fmt.Errorf("invalid conf %q", p.Conf)
	}
	return Quote{
		Price:       price,
		Conf:        conf,
		Expo:        p.Expo,
		PublishTime: time.Unix(p.PublishTime, 0),
		Source:      hermesSource,
	}, nil
}

// Run refreshes on every interval tick until ctx is cancelled. Failures are
// logged and retried on the next tick; the adapter's staleness check rejects
// quotes that stop updating.
func (h *Hermes) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	h.refresh(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.refresh(ctx)
		}
	}
}
