package oracle

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

var (
	// ErrNoPrice indicates the oracle payload carried no quote for the requested asset.
	ErrNoPrice = errors.New("usn: no price available for asset")
	// ErrStalePrice indicates the oracle payload is older than its own recency window.
	ErrStalePrice = errors.New("usn: oracle provided an outdated price data")
	// ErrInvalidPrice indicates a malformed price payload.
	ErrInvalidPrice = errors.New("usn: invalid oracle price")
)

// Price is a single oracle quote: Multiplier / 10^Decimals units of quote
// currency per unit of base currency.
type Price struct {
	Multiplier *big.Int
	Decimals   uint8
}

// Clone returns a deep copy of the price.
func (p *Price) Clone() *Price {
	if p == nil {
		return nil
	}
	clone := &Price{Decimals: p.Decimals}
	if p.Multiplier != nil {
		clone.Multiplier = new(big.Int).Set(p.Multiplier)
	}
	return clone
}

type jsonPrice struct {
	Multiplier string `json:"multiplier"`
	Decimals   uint8  `json:"decimals"`
}

// MarshalJSON renders the multiplier as a decimal string so 128-bit values
// survive JSON number precision limits.
func (p Price) MarshalJSON() ([]byte, error) {
	multiplier := "0"
	if p.Multiplier != nil {
		if p.Multiplier.Sign() < 0 {
			return nil, ErrInvalidPrice
		}
		multiplier = p.Multiplier.String()
	}
	return json.Marshal(jsonPrice{Multiplier: multiplier, Decimals: p.Decimals})
}

func (p *Price) UnmarshalJSON(data []byte) error {
	var raw jsonPrice
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	trimmed := strings.TrimSpace(raw.Multiplier)
	if trimmed == "" {
		trimmed = "0"
	}
	multiplier, ok := new(big.Int).SetString(trimmed, 10)
	if !ok || multiplier.Sign() < 0 {
		return fmt.Errorf("%w: multiplier %q", ErrInvalidPrice, raw.Multiplier)
	}
	p.Multiplier = multiplier
	p.Decimals = raw.Decimals
	return nil
}

// AssetPrice pairs an asset identifier with its latest quote. Price is nil
// when the oracle tracks the asset but has no observation yet.
type AssetPrice struct {
	AssetID string `json:"asset_id"`
	Price   *Price `json:"price"`
}

// PriceData is the payload returned by the external price oracle. Timestamps
// are nanoseconds since epoch, mirroring the host runtime clock.
type PriceData struct {
	Timestamp       uint64       `json:"timestamp,string"`
	RecencyDuration uint64       `json:"recency_duration,string"`
	Prices          []AssetPrice `json:"prices"`
}

// Price returns the quote for the given asset identifier, if present.
func (d PriceData) Price(assetID string) (*Price, bool) {
	needle := strings.TrimSpace(assetID)
	for _, entry := range d.Prices {
		if entry.AssetID == needle && entry.Price != nil && entry.Price.Multiplier != nil {
			return entry.Price.Clone(), true
		}
	}
	return nil, false
}

// ExchangeRate is the engine-side view of an oracle quote together with the
// validity window reported by the oracle.
type ExchangeRate struct {
	Multiplier      *big.Int
	Decimals        uint8
	Timestamp       uint64
	RecencyDuration uint64
}

// Clone returns a deep copy of the rate.
func (r ExchangeRate) Clone() ExchangeRate {
	clone := r
	if r.Multiplier != nil {
		clone.Multiplier = new(big.Int).Set(r.Multiplier)
	}
	return clone
}

// Fresh reports whether the rate is still inside its recency window at the
// supplied block timestamp.
func (r ExchangeRate) Fresh(now uint64) bool {
	return now < r.Timestamp+r.RecencyDuration
}

// RateFromPriceData extracts the exchange rate for the configured reserve
// asset. It fails closed: a missing quote or an expired payload is an error,
// never a default.
func RateFromPriceData(data PriceData, assetID string, now uint64) (ExchangeRate, error) {
	price, ok := data.Price(assetID)
	if !ok {
		return ExchangeRate{}, fmt.Errorf("%w: %s", ErrNoPrice, assetID)
	}
	if price.Multiplier.Sign() <= 0 {
		return ExchangeRate{}, fmt.Errorf("%w: non-positive multiplier", ErrInvalidPrice)
	}
	if now >= data.Timestamp+data.RecencyDuration {
		return ExchangeRate{}, ErrStalePrice
	}
	return ExchangeRate{
		Multiplier:      price.Multiplier,
		Decimals:        price.Decimals,
		Timestamp:       data.Timestamp,
		RecencyDuration: data.RecencyDuration,
	}, nil
}
