// Package redis publishes evaluation reports to Redis: a latest-value key
// with TTL, a capped stream of history and a pub/sub channel per asset.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync/atomic"
	"time"

	"cryptosignal/internal/model"

	goredis "github.com/go-redis/redis/v8"
)

const (
	defaultLatestTTL    = 30 * time.Minute
	defaultStreamMaxLen = 1000

	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
)

// LatestKey holds the most recent report JSON for a symbol.
func LatestKey(symbol string) string { return "verdict:latest:" + symbol }

// StreamKey is the capped report stream for a symbol.
func StreamKey(symbol string) string { return "verdict:" + symbol }

// PubSubChannel carries every report for a symbol.
func PubSubChannel(symbol string) string { return "pub:verdict:" + symbol }

// WriterConfig configures the Redis writer.
type WriterConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int

	LatestTTL    time.Duration // defaults to 30m
	StreamMaxLen int64         // approximate MAXLEN, defaults to 1000

	// Circuit breaker: consecutive failures before opening, and how long
	// to stay open. Default 5 and 10s.
	MaxFailures  int
	ResetTimeout time.Duration

	// Symbols read by History when no symbol is given.
	Symbols []string
}

func (c *WriterConfig) defaults() {
	if c.LatestTTL <= 0 {
		c.LatestTTL = defaultLatestTTL
	}
	if c.StreamMaxLen <= 0 {
		c.StreamMaxLen = defaultStreamMaxLen
	}
}

// Writer writes reports to Redis through a circuit breaker. While the
// breaker is open writes are skipped and counted.
type Writer struct {
	client *goredis.Client
	cfg    WriterConfig
	cb     *CircuitBreaker

	skipped atomic.Uint64

	// Optional hooks
	OnWrite func(took time.Duration)
	OnSkip  func()
}

// New creates a Writer and pings the server.
func New(cfg WriterConfig) (*Writer, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client without pinging it.
func NewWithClient(client *goredis.Client, cfg WriterConfig) *Writer {
	cfg.defaults()
	return &Writer{
		client: client,
		cfg:    cfg,
		cb:     NewCircuitBreaker(cfg.MaxFailures, cfg.ResetTimeout),
	}
}

// Client returns the underlying Redis client for health checks.
func (w *Writer) Client() *goredis.Client { return w.client }

// Breaker returns the circuit breaker so callers can observe transitions.
func (w *Writer) Breaker() *CircuitBreaker { return w.cb }

// Skipped returns the number of reports dropped while the breaker was open.
func (w *Writer) Skipped() uint64 { return w.skipped.Load() }

// Run writes reports until ctx is cancelled or reports is closed.
func (w *Writer) Run(ctx context.Context, reports <-chan model.Report) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-reports:
			if !ok {
				return
			}
			if err := w.Write(ctx, r); err != nil && !errors.Is(err, ErrCircuitOpen) {
				log.Printf("[redis] write %s: %v", r.Symbol, err)
			}
		}
	}
}

// Write stores one report: SET latest, XADD stream, PUBLISH, in one pipeline.
func (w *Writer) Write(ctx context.Context, r model.Report) error {
	err := w.cb.Execute(func() error { return w.write(ctx, r) })
	if errors.Is(err, ErrCircuitOpen) {
		w.skipped.Add(1)
		if w.OnSkip != nil {
			w.OnSkip()
		}
	}
	return err
}

func (w *Writer) write(ctx context.Context, r model.Report) error {
	start := time.Now()
	jsonData := string(r.JSON())

	pipe := w.client.Pipeline()
	pipe.Set(ctx, LatestKey(r.Symbol), jsonData, w.cfg.LatestTTL)
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: StreamKey(r.Symbol),
		MaxLen: w.cfg.StreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{
			"action": string(r.Action()),
			"data":   jsonData,
		},
	})
	pipe.Publish(ctx, PubSubChannel(r.Symbol), jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if w.OnWrite != nil {
		w.OnWrite(time.Since(start))
	}
	return nil
}

// Latest reads the most recent report for a symbol. It returns nil, nil
// when the key is missing or expired.
func (w *Writer) Latest(ctx context.Context, symbol string) (*model.Report, error) {
	raw, err := w.client.Get(ctx, LatestKey(symbol)).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis GET %s: %w", LatestKey(symbol), err)
	}
	var r model.Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, fmt.Errorf("decode %s: %w", LatestKey(symbol), err)
	}
	return &r, nil
}

// Recent returns up to n reports from the symbol's stream, newest first.
func (w *Writer) Recent(ctx context.Context, symbol string, n int64) ([]model.Report, error) {
	msgs, err := w.client.XRevRangeN(ctx, StreamKey(symbol), "+", "-", n).Result()
	if err != nil && err != goredis.Nil {
		return nil, fmt.Errorf("redis XREVRANGE %s: %w", StreamKey(symbol), err)
	}
	return decodeStream(msgs), nil
}

// History serves the report history from the Redis streams when no SQLite
// journal is configured. An empty symbol merges every configured symbol.
// limit <= 0 means 100; it is capped at 1000.
func (w *Writer) History(ctx context.Context, symbol string, limit int) ([]model.Report, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	symbols := w.cfg.Symbols
	if symbol != "" {
		symbols = []string{symbol}
	}
	var out []model.Report
	for _, sym := range symbols {
		rs, err := w.Recent(ctx, sym, int64(limit))
		if err != nil {
			return nil, err
		}
		out = append(out, rs...)
	}
	return newestFirst(out, limit), nil
}

// decodeStream extracts the report JSON written by write from stream
// entries, skipping entries it cannot decode.
func decodeStream(msgs []goredis.XMessage) []model.Report {
	out := make([]model.Report, 0, len(msgs))
	for _, m := range msgs {
		data, ok := m.Values["data"].(string)
		if !ok {
			log.Printf("[redis] skipping stream entry %s without data", m.ID)
			continue
		}
		var r model.Report
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			log.Printf("[redis] skipping undecodable stream entry %s: %v", m.ID, err)
			continue
		}
		out = append(out, r)
	}
	return out
}

// newestFirst orders reports by EvaluatedAt descending and keeps limit.
func newestFirst(rs []model.Report, limit int) []model.Report {
	sort.SliceStable(rs, func(i, j int) bool { return rs[i].EvaluatedAt.After(rs[j].EvaluatedAt) })
	if len(rs) > limit {
		rs = rs[:limit]
	}
	return rs
}

var (
	_ model.ReportSink    = (*Writer)(nil)
	_ model.HistoryReader = (*Writer)(nil)
)

// Close closes the Redis client.
func (w *Writer) Close() error {
	return w.client.Close()
}
