// Package stream keeps a live per-asset price buffer fed by the Binance
// combined trade stream.
//
// Messages arrive either wrapped in the combined-stream envelope
//
//	{"stream":"ethusdt@trade","data":{"e":"trade","s":"ETHUSDT","p":"3801.25","q":"0.5","T":1717243200123}}
//
// or as the bare trade payload. Both are accepted. Run owns the connection
// and all ring writes; Fetch returns a copy of an asset's buffer.
package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"time"

	"cryptosignal/internal/model"
	"cryptosignal/internal/ringbuf"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// SourceName identifies this feed in reports and metrics.
const SourceName = "stream"

// DefaultURL is the Binance combined stream endpoint.
const DefaultURL = "wss://stream.binance.com:9443/stream"

// ErrUnknownAsset is returned by Fetch for assets the feed does not track.
var ErrUnknownAsset = errors.New("stream: unknown asset")

// Config holds configuration for the trade stream feed.
type Config struct {
	// URL of the combined stream endpoint, e.g.
	// "wss://stream.binance.com:9443/stream". A "streams" query is added
	// from the asset list unless the URL already carries one.
	URL string

	// Capacity of each per-asset ring. Defaults to ringbuf.DefaultCapacity.
	Capacity int

	// ReconnectDelay is the initial delay before reconnection attempts.
	// Defaults to 2 seconds if zero.
	ReconnectDelay time.Duration

	// MaxReconnectDelay caps the exponential backoff. Defaults to 30s.
	MaxReconnectDelay time.Duration
}

func (c *Config) defaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Capacity <= 0 {
		c.Capacity = ringbuf.DefaultCapacity
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 2 * time.Second
	}
	if c.MaxReconnectDelay == 0 {
		c.MaxReconnectDelay = 30 * time.Second
	}
}

// Feed is a model.Fetcher over live trade buffers.
type Feed struct {
	cfg   Config
	url   string
	rings map[string]*ringbuf.Ring // fixed after New; values are concurrency-safe

	// Optional hooks, called from the Run goroutine.
	OnConnect    func()
	OnDisconnect func(err error)
	OnReconnect  func()
	OnTrade      func(model.Trade)
	OnParseError func(err error)
	OnEvict      func(symbol string)
}

// New creates a Feed tracking the given assets.
func New(cfg Config, assets []model.Asset) (*Feed, error) {
	cfg.defaults()
	if len(assets) == 0 {
		return nil, errors.New("stream: no assets")
	}

	rings := make(map[string]*ringbuf.Ring, len(assets))
	for _, a := range assets {
		rings[strings.ToLower(a.Symbol)] = ringbuf.New(cfg.Capacity)
	}

	u, err := streamURL(cfg.URL, assets)
	if err != nil {
		return nil, err
	}
	return &Feed{cfg: cfg, url: u, rings: rings}, nil
}

// streamURL appends streams=a@trade/b@trade when the base URL has none.
func streamURL(base string, assets []model.Asset) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("stream: parse url: %w", err)
	}
	if u.Query().Get("streams") != "" {
		return base, nil
	}
	names := make([]string, len(assets))
	for i, a := range assets {
		names[i] = strings.ToLower(a.Symbol) + "@trade"
	}
	// Binance expects literal '/' and '@' in the streams list.
	sep := "?"
	if u.RawQuery != "" {
		sep = "&"
	}
	return base + sep + "streams=" + strings.Join(names, "/"), nil
}

// Name implements model.Fetcher.
func (f *Feed) Name() string { return SourceName }

// URL returns the full stream URL the feed dials.
func (f *Feed) URL() string { return f.url }

// Ring returns the buffer for a symbol, or nil when untracked.
func (f *Feed) Ring(symbol string) *ringbuf.Ring {
	return f.rings[strings.ToLower(symbol)]
}

// Version returns the push count of the symbol's buffer. It is false for
// untracked symbols.
func (f *Feed) Version(symbol string) (uint64, bool) {
	r := f.Ring(symbol)
	if r == nil {
		return 0, false
	}
	return r.Version(), true
}

// Fetch implements model.Fetcher by snapshotting the asset's buffer.
// An empty buffer yields no samples and no error.
func (f *Feed) Fetch(_ context.Context, asset model.Asset) ([]model.Sample, error) {
	r := f.Ring(asset.Symbol)
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, asset.Symbol)
	}
	return r.Snapshot(), nil
}

// Run connects and streams trades into the buffers. Blocks until ctx is
// cancelled. Reconnects automatically with capped exponential backoff.
func (f *Feed) Run(ctx context.Context) error {
	delay := f.cfg.ReconnectDelay

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		connected, err := f.runOnce(ctx)
		if err == nil {
			return nil
		}
		if connected {
			delay = f.cfg.ReconnectDelay
		}

		log.Printf("[stream] disconnected (%v), reconnecting in %s...", err, delay)
		if f.OnDisconnect != nil {
			f.OnDisconnect(err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
		if f.OnReconnect != nil {
			f.OnReconnect()
		}

		delay *= 2
		if delay > f.cfg.MaxReconnectDelay {
			delay = f.cfg.MaxReconnectDelay
		}
	}
}

// runOnce makes a single connection and reads until disconnect or ctx cancel.
// A nil error means ctx was cancelled.
func (f *Feed) runOnce(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	log.Printf("[stream] connected to %s", f.url)
	if f.OnConnect != nil {
		f.OnConnect()
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
				time.Now().Add(time.Second))
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-ctx.Done():
				return true, nil
			default:
			}
			return true, err
		}
		f.handle(raw)
	}
}

func (f *Feed) handle(raw []byte) {
	trade, err := ParseTrade(raw)
	if err != nil {
		if f.OnParseError != nil {
			f.OnParseError(err)
		}
		log.Printf("[stream] parse error: %v (raw: %.200s)", err, raw)
		return
	}

	r := f.rings[trade.Symbol]
	if r == nil {
		log.Printf("[stream] skipping trade for untracked symbol %s", trade.Symbol)
		return
	}
	if r.Push(trade.Sample()) && f.OnEvict != nil {
		f.OnEvict(trade.Symbol)
	}
	if f.OnTrade != nil {
		f.OnTrade(trade)
	}
}

type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type tradePayload struct {
	Event     string          `json:"e"`
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	TradeID   int64           `json:"t"` // declared so "t" never case-folds onto "T"
	Price     decimal.Decimal `json:"p"`
	Qty       decimal.Decimal `json:"q"`
	TradeTime int64           `json:"T"`
}

// ParseTrade decodes one stream message. The trade time falls back to the
// event time, then to now.
func ParseTrade(raw []byte) (model.Trade, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return model.Trade{}, fmt.Errorf("decode message: %w", err)
	}
	payload := raw
	if len(env.Data) > 0 {
		payload = env.Data
	}

	var p tradePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return model.Trade{}, fmt.Errorf("decode trade: %w", err)
	}
	if p.Event != "" && p.Event != "trade" {
		return model.Trade{}, fmt.Errorf("unexpected event %q", p.Event)
	}
	if p.Symbol == "" {
		return model.Trade{}, errors.New("missing symbol")
	}
	if !p.Price.IsPositive() {
		return model.Trade{}, fmt.Errorf("non-positive price %s", p.Price)
	}

	var ts time.Time
	switch {
	case p.TradeTime > 0:
		ts = time.UnixMilli(p.TradeTime).UTC()
	case p.EventTime > 0:
		ts = time.UnixMilli(p.EventTime).UTC()
	default:
		ts = time.Now().UTC()
	}

	return model.Trade{
		Symbol: strings.ToLower(p.Symbol),
		Price:  p.Price.InexactFloat64(),
		Qty:    p.Qty.InexactFloat64(),
		TS:     ts,
	}, nil
}
