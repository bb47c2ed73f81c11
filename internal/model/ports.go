package model

import "context"

// ── Port Interfaces ──
// These decouple the evaluation cycle from concrete feeds and sinks
// (Binance, CoinGecko, Redis, SQLite). Each implementation satisfies one.

// Fetcher returns the current price history for an asset.
// Implementations: stream (websocket trades), binance (REST klines),
// coingecko (REST market chart).
type Fetcher interface {
	// Name identifies the feed in reports, logs and metrics.
	Name() string

	// Fetch returns samples for the asset, oldest first. An empty result
	// with a nil error means the feed has no data yet.
	Fetch(ctx context.Context, asset Asset) ([]Sample, error)
}

// ReportSink consumes evaluated reports.
type ReportSink interface {
	// Run reads reports from ch until ctx is cancelled or ch is closed.
	Run(ctx context.Context, ch <-chan Report)
}

// HistoryReader reads previously journaled reports.
type HistoryReader interface {
	// History returns up to limit reports for symbol, most recent first.
	History(ctx context.Context, symbol string, limit int) ([]Report, error)
}
