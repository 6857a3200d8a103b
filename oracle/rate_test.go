package oracle

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
)

const testAsset = "wrap.test.near"

func testPayload(timestamp, recency uint64) PriceData {
	return PriceData{
		Timestamp:       timestamp,
		RecencyDuration: recency,
		Prices: []AssetPrice{
			{AssetID: "usdt.test.near", Price: &Price{Multiplier: big.NewInt(10000), Decimals: 10}},
			{AssetID: testAsset, Price: &Price{Multiplier: big.NewInt(111439), Decimals: 28}},
		},
	}
}

func TestRateFromPriceData(t *testing.T) {
	data := testPayload(1000, 100)
	rate, err := RateFromPriceData(data, testAsset, 1050)
	if err != nil {
		t.Fatalf("rate: %v", err)
	}
	if rate.Multiplier.Cmp(big.NewInt(111439)) != 0 || rate.Decimals != 28 {
		t.Fatalf("unexpected rate %s / %d", rate.Multiplier, rate.Decimals)
	}
	if !rate.Fresh(1099) {
		t.Fatal("rate should be fresh one tick before expiry")
	}
	if rate.Fresh(1100) {
		t.Fatal("rate must expire exactly at timestamp+recency")
	}
}

func TestRateFromPriceDataMissingAsset(t *testing.T) {
	data := testPayload(1000, 100)
	if _, err := RateFromPriceData(data, "unknown.near", 1050); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
}

func TestRateFromPriceDataNilQuote(t *testing.T) {
	data := PriceData{
		Timestamp:       1000,
		RecencyDuration: 100,
		Prices:          []AssetPrice{{AssetID: testAsset, Price: nil}},
	}
	if _, err := RateFromPriceData(data, testAsset, 1050); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice for nil quote, got %v", err)
	}
}

func TestRateFromPriceDataStale(t *testing.T) {
	data := testPayload(1000, 100)
	if _, err := RateFromPriceData(data, testAsset, 1100); !errors.Is(err, ErrStalePrice) {
		t.Fatalf("expected ErrStalePrice, got %v", err)
	}
}

func TestRateFromPriceDataZeroMultiplier(t *testing.T) {
	data := PriceData{
		Timestamp:       1000,
		RecencyDuration: 100,
		Prices:          []AssetPrice{{AssetID: testAsset, Price: &Price{Multiplier: big.NewInt(0), Decimals: 28}}},
	}
	if _, err := RateFromPriceData(data, testAsset, 1050); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice, got %v", err)
	}
}

func TestPriceDataJSON(t *testing.T) {
	payload := []byte(`{
		"timestamp": "1700000000000000000",
		"recency_duration": "60000000000",
		"prices": [
			{"asset_id": "wrap.test.near", "price": {"multiplier": "111439", "decimals": 28}},
			{"asset_id": "usdt.test.near", "price": null}
		]
	}`)
	var data PriceData
	if err := json.Unmarshal(payload, &data); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if data.Timestamp != 1700000000000000000 || data.RecencyDuration != 60000000000 {
		t.Fatalf("unexpected window %d/%d", data.Timestamp, data.RecencyDuration)
	}
	price, ok := data.Price(testAsset)
	if !ok || price.Multiplier.Cmp(big.NewInt(111439)) != 0 {
		t.Fatalf("unexpected price %+v", price)
	}
	if _, ok := data.Price("usdt.test.near"); ok {
		t.Fatal("null quote must not resolve")
	}

	encoded, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded PriceData
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	roundTrip, ok := decoded.Price(testAsset)
	if !ok || roundTrip.Multiplier.Cmp(big.NewInt(111439)) != 0 || roundTrip.Decimals != 28 {
		t.Fatalf("round trip lost the quote: %+v", roundTrip)
	}
}

func TestPriceUnmarshalRejectsGarbage(t *testing.T) {
	var price Price
	if err := json.Unmarshal([]byte(`{"multiplier": "-5", "decimals": 28}`), &price); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for negative multiplier, got %v", err)
	}
	if err := json.Unmarshal([]byte(`{"multiplier": "not-a-number", "decimals": 28}`), &price); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("expected ErrInvalidPrice for junk multiplier, got %v", err)
	}
}

func TestExchangeRateClone(t *testing.T) {
	rate := ExchangeRate{Multiplier: big.NewInt(111439), Decimals: 28, Timestamp: 1, RecencyDuration: 2}
	clone := rate.Clone()
	clone.Multiplier.SetInt64(7)
	if rate.Multiplier.Int64() != 111439 {
		t.Fatal("clone shares the multiplier")
	}
}
