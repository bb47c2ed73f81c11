// Package pipeline runs evaluation cycles: for every tracked asset it fetches
// samples, computes indicators, evaluates the confirmation rules and
// publishes one model.Report per asset.
package pipeline

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"cryptosignal/internal/indicator"
	"cryptosignal/internal/logger"
	"cryptosignal/internal/metrics"
	"cryptosignal/internal/model"
	"cryptosignal/internal/strategy"
)

// Config holds configuration for the evaluation loop.
type Config struct {
	Assets []model.Asset

	// AutoRefresh repeats the cycle every RefreshInterval. When false Run
	// evaluates once and returns.
	AutoRefresh     bool
	RefreshInterval time.Duration

	// FetchTimeout bounds one asset's fetch. Defaults to 15s.
	FetchTimeout time.Duration
}

func (c *Config) defaults() {
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = 10 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 15 * time.Second
	}
}

// Service is the evaluation orchestrator.
type Service struct {
	cfg      Config
	fetcher  model.Fetcher
	computer *indicator.Computer
	prom     *metrics.Metrics
	out      chan<- model.Report

	seq atomic.Uint64
	now func() time.Time

	cacheMu sync.Mutex
	cache   map[string]cachedReport

	// OnCycle is called after every cycle with the reports in asset order.
	OnCycle func(reports []model.Report)
}

// New creates a Service. prom may be nil.
func New(cfg Config, fetcher model.Fetcher, computer *indicator.Computer, prom *metrics.Metrics) *Service {
	cfg.defaults()
	if computer == nil {
		computer = indicator.NewComputer(indicator.DefaultConfig())
	}
	return &Service{
		cfg:      cfg,
		fetcher:  fetcher,
		computer: computer,
		prom:     prom,
		now:      time.Now,
		cache:    make(map[string]cachedReport),
	}
}

// SetOutput sets the channel every report is published to.
func (s *Service) SetOutput(ch chan<- model.Report) { s.out = ch }

// Assets returns the tracked assets.
func (s *Service) Assets() []model.Asset {
	return append([]model.Asset(nil), s.cfg.Assets...)
}

// Run evaluates immediately, then every RefreshInterval until ctx is
// cancelled. With AutoRefresh off it evaluates exactly once.
func (s *Service) Run(ctx context.Context) error {
	s.RunOnce(ctx)
	if !s.cfg.AutoRefresh {
		return nil
	}

	ticker := time.NewTicker(s.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce evaluates every asset concurrently and returns reports in asset
// order. A failing asset yields a report with Error set; the others are
// unaffected.
func (s *Service) RunOnce(ctx context.Context) []model.Report {
	start := s.now()
	seq := s.seq.Add(1)
	ctx = logger.WithCycleID(ctx, logger.GenerateCycleID(s.fetcher.Name(), seq, start))

	reports := make([]model.Report, len(s.cfg.Assets))
	var wg sync.WaitGroup
	for i, asset := range s.cfg.Assets {
		wg.Add(1)
		go func(i int, asset model.Asset) {
			defer wg.Done()
			reports[i] = s.Evaluate(ctx, asset)
		}(i, asset)
	}
	wg.Wait()

	if s.prom != nil {
		s.prom.CyclesTotal.Inc()
		s.prom.CycleDur.Observe(time.Since(start).Seconds())
	}

	var buys, sells, empty, failed int
	for i := range reports {
		switch {
		case reports[i].Error != "":
			failed++
		case reports[i].Verdict == nil:
			empty++
		case reports[i].Action() == model.ActionBuy:
			buys++
		case reports[i].Action() == model.ActionSell:
			sells++
		}
	}
	slog.Info("cycle complete", append(logger.LogWithCycle(ctx),
		slog.Int("assets", len(reports)),
		slog.Int("buy", buys),
		slog.Int("sell", sells),
		slog.Int("empty", empty),
		slog.Int("failed", failed),
		slog.Duration("took", time.Since(start)),
	)...)

	s.publish(ctx, reports)
	if s.OnCycle != nil {
		s.OnCycle(reports)
	}
	return reports
}

func (s *Service) publish(ctx context.Context, reports []model.Report) {
	if s.out == nil {
		return
	}
	for _, r := range reports {
		select {
		case s.out <- r:
		case <-ctx.Done():
			return
		}
	}
}

// versioned is implemented by fetchers whose data changes only when a
// sample is pushed, like the stream feed.
type versioned interface {
	Version(symbol string) (uint64, bool)
}

type cachedReport struct {
	version uint64
	report  model.Report
}

// Evaluate runs fetch, compute and evaluate for one asset. With a versioned
// fetcher the previous report is reused, restamped, while the asset's
// buffer is unchanged.
func (s *Service) Evaluate(ctx context.Context, asset model.Asset) model.Report {
	vf, ok := s.fetcher.(versioned)
	if !ok {
		return s.evaluate(ctx, asset)
	}
	ver, known := vf.Version(asset.Symbol)
	if !known {
		return s.evaluate(ctx, asset)
	}

	s.cacheMu.Lock()
	c, hit := s.cache[asset.Symbol]
	s.cacheMu.Unlock()
	if hit && c.version == ver {
		r := c.report
		r.EvaluatedAt = s.now().UTC()
		return r
	}

	r := s.evaluate(ctx, asset)
	if r.Error == "" {
		s.cacheMu.Lock()
		s.cache[asset.Symbol] = cachedReport{version: ver, report: r}
		s.cacheMu.Unlock()
	}
	return r
}

func (s *Service) evaluate(ctx context.Context, asset model.Asset) model.Report {
	report := model.Report{
		Symbol: asset.Symbol,
		Label:  asset.Label,
		Source: s.fetcher.Name(),
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	fetchStart := time.Now()
	samples, err := s.fetcher.Fetch(fetchCtx, asset)
	cancel()
	if s.prom != nil {
		s.prom.FetchDur.WithLabelValues(report.Source).Observe(time.Since(fetchStart).Seconds())
	}
	report.EvaluatedAt = s.now().UTC()

	if err != nil {
		if s.prom != nil {
			s.prom.FetchErrorsTotal.WithLabelValues(report.Source).Inc()
		}
		if !errors.Is(err, context.Canceled) {
			log.Printf("[pipeline] fetch %s failed: %v", asset.Symbol, err)
		}
		report.Error = err.Error()
		return report
	}

	series := s.computer.Compute(samples)
	report.Bars = len(series)

	verdict, ok := strategy.Evaluate(series)
	if !ok {
		if s.prom != nil {
			s.prom.EmptySeriesTotal.WithLabelValues(asset.Symbol).Inc()
		}
		return report
	}
	report.Verdict = &verdict

	if s.prom != nil {
		s.prom.EvaluationsTotal.WithLabelValues(asset.Symbol).Inc()
		if a := verdict.Action(); a != model.ActionNone {
			s.prom.ConfirmationsTotal.WithLabelValues(asset.Symbol, string(a)).Inc()
		}
	}
	slog.Debug("asset evaluated", append(logger.LogWithCycle(ctx),
		slog.String("symbol", asset.Symbol),
		slog.Int("bars", report.Bars),
		slog.String("action", string(verdict.Action())),
		slog.String("rsi", verdict.RSI.String()),
	)...)
	return report
}
