package model

import (
	"strings"
	"time"
)

// Asset is a tracked instrument and its identifiers on each feed.
type Asset struct {
	Symbol      string `json:"symbol" yaml:"symbol"`             // exchange pair, lower case, e.g. "ethusdt"
	Label       string `json:"label" yaml:"label"`               // display name, e.g. "Ethereum"
	CoinGeckoID string `json:"coingecko_id" yaml:"coingecko_id"` // e.g. "ethereum"
}

// PairUpper returns the symbol in exchange REST form, e.g. "ETHUSDT".
func (a Asset) PairUpper() string {
	return strings.ToUpper(a.Symbol)
}

// DefaultAssets is the asset list shown when nothing is configured.
func DefaultAssets() []Asset {
	return []Asset{
		{Symbol: "ethusdt", Label: "Ethereum", CoinGeckoID: "ethereum"},
		{Symbol: "solusdt", Label: "Solana", CoinGeckoID: "solana"},
		{Symbol: "xrpusdt", Label: "XRP", CoinGeckoID: "ripple"},
		{Symbol: "zecusdt", Label: "Zcash", CoinGeckoID: "zcash"},
	}
}

// Sample is a single price observation from a feed. High and Low are
// present only when the feed provides a range (e.g. klines).
type Sample struct {
	Symbol string    `json:"symbol"`
	TS     time.Time `json:"ts"`
	Close  float64   `json:"close"`
	High   Float     `json:"high"`
	Low    Float     `json:"low"`
}

// Trade is one executed trade from a streaming feed.
type Trade struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Qty    float64   `json:"qty"`
	TS     time.Time `json:"ts"`
}

// Sample converts the trade into a close-only sample.
func (t Trade) Sample() Sample {
	return Sample{Symbol: t.Symbol, TS: t.TS, Close: t.Price}
}
