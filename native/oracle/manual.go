package oracle

import (
	"fmt"
	"sync"
	"time"
)

// ManualOracle provides an in-memory oracle implementation used for tests and
// manual overrides during incident response.
type ManualOracle struct {
	mu     sync.RWMutex
	quotes map[string]Quote
}

// NewManualOracle constructs an empty manual oracle instance.
func NewManualOracle() *ManualOracle {
	return &ManualOracle{quotes: make(map[string]Quote)}
}

// Set stores the quote for the feed, replacing any previous reading.
func (m *ManualOracle) Set(feedID string, quote Quote) {
	if m == nil {
		return
	}
	if quote.Source == "" {
		quote.Source = "manual"
	}
	m.mu.Lock()
	m.quotes[NormalizeFeedID(feedID)] = quote
	m.mu.Unlock()
}

// SetPrice records a zero-confidence quote for the feed.
func (m *ManualOracle) SetPrice(feedID string, price int64, expo int32, ts time.Time) {
	m.Set(feedID, Quote{Price: price, Expo: expo, PublishTime: ts})
}

// Quote retrieves the stored quote for the feed.
func (m *ManualOracle) Quote(feedID string) (Quote, error) {
	if m == nil {
		return Quote{}, fmt.Errorf("manual oracle not configured")
	}
	m.mu.RLock()
	stored, ok := m.quotes[NormalizeFeedID(feedID)]
	m.mu.RUnlock()
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrFeedNotFound, feedID)
	}
	return stored, nil
}

// Feeds returns the identifiers with a stored quote.
func (m *ManualOracle) Feeds() []string {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.quotes))
	for id := range m.quotes {
		out = append(out, id)
	}
	return out
}
