// Package binance fetches recent klines from the Binance spot REST API.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"cryptosignal/internal/marketdata/httpjson"
	"cryptosignal/internal/model"

	"github.com/shopspring/decimal"
)

// SourceName identifies this feed in reports and metrics.
const SourceName = "binance"

// DefaultBaseURL is the public spot REST API.
const DefaultBaseURL = "https://api.binance.com"

// Config holds configuration for the klines client.
type Config struct {
	// BaseURL of the REST API, e.g. "https://api.binance.com".
	BaseURL string

	// Interval is the kline width, e.g. "1m". Defaults to "1m".
	Interval string

	// Limit is the number of klines requested. Defaults to 200, max 1000.
	Limit int

	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.Interval == "" {
		c.Interval = "1m"
	}
	if c.Limit <= 0 {
		c.Limit = 200
	}
	if c.Limit > 1000 {
		c.Limit = 1000
	}
	if c.HTTPClient == nil {
		c.HTTPClient = httpjson.NewClient()
	}
}

// Client is a model.Fetcher backed by /api/v3/klines.
type Client struct {
	cfg Config
}

// New creates a klines client.
func New(cfg Config) *Client {
	cfg.defaults()
	return &Client{cfg: cfg}
}

// Name implements model.Fetcher.
func (c *Client) Name() string { return SourceName }

// KlinesURL returns the request URL for an asset.
func (c *Client) KlinesURL(asset model.Asset) string {
	q := url.Values{}
	q.Set("symbol", asset.PairUpper())
	q.Set("interval", c.cfg.Interval)
	q.Set("limit", strconv.Itoa(c.cfg.Limit))
	return c.cfg.BaseURL + "/api/v3/klines?" + q.Encode()
}

// Fetch implements model.Fetcher. Samples carry the kline open time, close,
// high and low.
func (c *Client) Fetch(ctx context.Context, asset model.Asset) ([]model.Sample, error) {
	var rows [][]json.RawMessage
	if err := httpjson.Get(ctx, c.cfg.HTTPClient, c.KlinesURL(asset), &rows); err != nil {
		return nil, fmt.Errorf("binance: klines %s: %w", asset.Symbol, err)
	}

	samples := make([]model.Sample, 0, len(rows))
	for i, row := range rows {
		s, err := parseKline(asset.Symbol, row)
		if err != nil {
			return nil, fmt.Errorf("binance: kline %s[%d]: %w", asset.Symbol, i, err)
		}
		samples = append(samples, s)
	}
	return samples, nil
}

// parseKline decodes [openTime, open, high, low, close, volume, closeTime, ...].
func parseKline(symbol string, row []json.RawMessage) (model.Sample, error) {
	if len(row) < 5 {
		return model.Sample{}, fmt.Errorf("want at least 5 fields, got %d", len(row))
	}

	var openMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return model.Sample{}, fmt.Errorf("open time: %w", err)
	}

	var high, low, closePx decimal.Decimal
	for _, f := range []struct {
		name string
		raw  json.RawMessage
		dst  *decimal.Decimal
	}{
		{"high", row[2], &high},
		{"low", row[3], &low},
		{"close", row[4], &closePx},
	} {
		if err := f.dst.UnmarshalJSON(f.raw); err != nil {
			return model.Sample{}, fmt.Errorf("%s: %w", f.name, err)
		}
	}

	return model.Sample{
		Symbol: symbol,
		TS:     time.UnixMilli(openMs).UTC(),
		Close:  closePx.InexactFloat64(),
		High:   model.Some(high.InexactFloat64()),
		Low:    model.Some(low.InexactFloat64()),
	}, nil
}
