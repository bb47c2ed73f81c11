// Package coingecko fetches intraday price history from the CoinGecko API.
package coingecko

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"cryptosignal/internal/marketdata/httpjson"
	"cryptosignal/internal/model"

	"github.com/shopspring/decimal"
)

// SourceName identifies this feed in reports and metrics.
const SourceName = "coingecko"

// DefaultBaseURL is the public API.
const DefaultBaseURL = "https://api.coingecko.com"

// ErrNoCoinID is returned for assets without a CoinGecko id.
var ErrNoCoinID = errors.New("coingecko: asset has no coin id")

// Config holds configuration for the market chart client.
type Config struct {
	// BaseURL of the API, e.g. "https://api.coingecko.com".
	BaseURL string

	// VsCurrency is the quote currency. Defaults to "usd".
	VsCurrency string

	// Days of history. Defaults to "1" (5-minute granularity).
	Days string

	HTTPClient *http.Client
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if c.VsCurrency == "" {
		c.VsCurrency = "usd"
	}
	if c.Days == "" {
		c.Days = "1"
	}
	if c.HTTPClient == nil {
		c.HTTPClient = httpjson.NewClient()
	}
}

// Client is a model.Fetcher backed by /api/v3/coins/{id}/market_chart.
type Client struct {
	cfg Config
}

// New creates a market chart client.
func New(cfg Config) *Client {
	cfg.defaults()
	return &Client{cfg: cfg}
}

// Name implements model.Fetcher.
func (c *Client) Name() string { return SourceName }

// ChartURL returns the request URL for a coin id.
func (c *Client) ChartURL(coinID string) string {
	q := url.Values{}
	q.Set("vs_currency", c.cfg.VsCurrency)
	q.Set("days", c.cfg.Days)
	return c.cfg.BaseURL + "/api/v3/coins/" + url.PathEscape(coinID) + "/market_chart?" + q.Encode()
}

type marketChart struct {
	Prices [][2]decimal.Decimal `json:"prices"`
}

// Fetch implements model.Fetcher. Samples are close-only.
func (c *Client) Fetch(ctx context.Context, asset model.Asset) ([]model.Sample, error) {
	if asset.CoinGeckoID == "" {
		return nil, fmt.Errorf("%w: %s", ErrNoCoinID, asset.Symbol)
	}

	var chart marketChart
	if err := httpjson.Get(ctx, c.cfg.HTTPClient, c.ChartURL(asset.CoinGeckoID), &chart); err != nil {
		return nil, fmt.Errorf("coingecko: market_chart %s: %w", asset.CoinGeckoID, err)
	}

	samples := make([]model.Sample, 0, len(chart.Prices))
	for _, p := range chart.Prices {
		samples = append(samples, model.Sample{
			Symbol: asset.Symbol,
			TS:     time.UnixMilli(p[0].IntPart()).UTC(),
			Close:  p[1].InexactFloat64(),
		})
	}
	return samples, nil
}
