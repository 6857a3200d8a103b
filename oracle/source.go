package oracle

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ErrNoFreshQuote indicates no registered source produced a usable payload.
var ErrNoFreshQuote = errors.New("usn: no fresh oracle quote available")

// PriceSource resolves the latest price payload for an asset identifier.
type PriceSource interface {
	PriceData(assetID string) (PriceData, error)
}

// ManualSource is an in-memory source used for tests and operator overrides
// during incident response.
type ManualSource struct {
	mu      sync.RWMutex
	data    map[string]PriceData
	recency uint64
}

// NewManualSource constructs an empty manual source. Payloads published
// through Set carry the provided recency window.
func NewManualSource(recency uint64) *ManualSource {
	return &ManualSource{data: make(map[string]PriceData), recency: recency}
}

// Set records the supplied quote for the asset at the given block timestamp.
func (m *ManualSource) Set(assetID string, price Price, now uint64) {
	if m == nil {
		return
	}
	trimmed := strings.TrimSpace(assetID)
	if trimmed == "" || price.Multiplier == nil || price.Multiplier.Sign() <= 0 {
		return
	}
	payload := PriceData{
		Timestamp:       now,
		RecencyDuration: m.recency,
		Prices:          []AssetPrice{{AssetID: trimmed, Price: price.Clone()}},
	}
	m.mu.Lock()
	m.data[trimmed] = payload
	m.mu.Unlock()
}

// Publish stores a full payload as delivered, keyed by every asset it
// quotes. The payload's own timestamp and recency window are preserved.
func (m *ManualSource) Publish(data PriceData) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, entry := range data.Prices {
		trimmed := strings.TrimSpace(entry.AssetID)
		if trimmed == "" || entry.Price == nil || entry.Price.Multiplier == nil || entry.Price.Multiplier.Sign() <= 0 {
			continue
		}
		m.data[trimmed] = data
	}
}

// PriceData returns the stored payload for the asset.
func (m *ManualSource) PriceData(assetID string) (PriceData, error) {
	if m == nil {
		return PriceData{}, fmt.Errorf("usn: manual source not configured")
	}
	m.mu.RLock()
	payload, ok := m.data[strings.TrimSpace(assetID)]
	m.mu.RUnlock()
	if !ok {
		return PriceData{}, fmt.Errorf("%w: %s", ErrNoPrice, assetID)
	}
	return payload, nil
}

// Aggregator consults registered sources in priority order until one returns
// a payload that is still fresh at the current block timestamp.
type Aggregator struct {
	mu       sync.RWMutex
	priority []string
	sources  map[string]PriceSource
	now      func() uint64
}

// NewAggregator constructs an aggregator with the provided priority list and
// block timestamp supplier.
func NewAggregator(priority []string, now func() uint64) *Aggregator {
	return &Aggregator{
		priority: append([]string{}, priority...),
		sources:  make(map[string]PriceSource),
		now:      now,
	}
}

// Register adds or replaces a source under the supplied identifier.
// Identifiers are stored lowercase so lookups ignore configuration casing.
func (a *Aggregator) Register(name string, source PriceSource) {
	if a == nil {
		return
	}
	trimmed := strings.ToLower(strings.TrimSpace(name))
	if trimmed == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sources[trimmed] = source
	for _, entry := range a.priority {
		if strings.EqualFold(entry, trimmed) {
			return
		}
	}
	a.priority = append(a.priority, trimmed)
}

// PriceData fetches the first fresh payload in priority order.
func (a *Aggregator) PriceData(assetID string) (PriceData, error) {
	if a == nil {
		return PriceData{}, fmt.Errorf("usn: oracle aggregator not configured")
	}
	a.mu.RLock()
	priority := append([]string{}, a.priority...)
	a.mu.RUnlock()

	now := uint64(0)
	if a.now != nil {
		now = a.now()
	}

	var lastErr error
	for _, name := range priority {
		a.mu.RLock()
		source := a.sources[name]
		a.mu.RUnlock()
		if source == nil {
			continue
		}
		payload, err := source.PriceData(assetID)
		if err != nil {
			lastErr = err
			continue
		}
		if now >= payload.Timestamp+payload.RecencyDuration {
			lastErr = ErrNoFreshQuote
			continue
		}
		return payload, nil
	}
	if lastErr == nil {
		lastErr = ErrNoFreshQuote
	}
	return PriceData{}, lastErr
}
