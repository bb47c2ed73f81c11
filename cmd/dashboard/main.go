// cmd/dashboard runs the signal dashboard: it evaluates every configured
// asset on a refresh loop and delivers reports to WebSocket clients, Redis,
// the SQLite journal and alert backends.
//
// Config is read from the environment (and an optional .env); see package
// config for the keys.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cryptosignal/config"
	"cryptosignal/internal/bus"
	"cryptosignal/internal/gateway"
	"cryptosignal/internal/indicator"
	"cryptosignal/internal/logger"
	"cryptosignal/internal/marketdata/binance"
	"cryptosignal/internal/marketdata/coingecko"
	"cryptosignal/internal/marketdata/stream"
	"cryptosignal/internal/metrics"
	"cryptosignal/internal/model"
	"cryptosignal/internal/pipeline"
)

const (
	reportBuffer    = 64
	shutdownTimeout = 5 * time.Second
	drainGrace      = 2 * time.Second
	statsInterval   = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Init("dashboard", slog.LevelInfo)
		slog.Error("config invalid", "error", err)
		os.Exit(1)
	}
	logger.Init("dashboard", logger.ParseLevel(cfg.LogLevel))
	slog.Info("starting", "source", cfg.FeedSource, "assets", len(cfg.Assets),
		"auto_refresh", cfg.AutoRefresh, "interval", cfg.RefreshInterval)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutdown requested", "signal", sig.String())
		cancel()
	}()

	prom := metrics.NewMetrics(nil)
	health := metrics.NewHealthStatus(cfg.FeedSource)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// Feed
	fetcher, feed, err := newFetcher(cfg)
	if err != nil {
		slog.Error("feed init failed", "error", err)
		os.Exit(1)
	}
	if feed != nil {
		wireStream(feed, prom, health)
		go feed.Run(ctx)
	}

	// Evaluation loop
	reports := make(chan model.Report, reportBuffer)
	svc := pipeline.New(cfg.Pipeline(), fetcher, indicator.NewComputer(cfg.Indicator()), prom)
	svc.SetOutput(reports)
	svc.OnCycle = func(rs []model.Report) {
		health.SetLastCycle(time.Now())
		if feed != nil {
			return
		}
		// REST feeds are "connected" while at least one asset fetches.
		ok := false
		for _, r := range rs {
			if r.Error == "" {
				ok = true
			}
			if r.Verdict != nil {
				health.SetLastSampleTime(r.Verdict.TS)
			}
		}
		health.SetFeedConnected(ok)
	}

	// Delivery
	fan := bus.New(reportBuffer)
	fan.OnDrop = func(sub string) { prom.FanoutDropsTotal.WithLabelValues(sub).Inc() }

	hub := gateway.NewHub(cfg.Assets)
	hub.OnClientCount = func(n int) { prom.WSClients.Set(float64(n)) }

	sinkCtx, cancelSinks := context.WithCancel(context.Background())
	defer cancelSinks()

	s, err := openSinks(ctx, cfg, prom, health)
	if err != nil {
		slog.Error("sink init failed", "error", err)
		os.Exit(1)
	}
	defer s.close()
	s.seed(ctx, hub, cfg.Assets)

	var wg sync.WaitGroup
	runSink := func(name string, sink model.ReportSink) {
		ch := fan.Subscribe(name)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sink.Run(sinkCtx, ch)
		}()
	}
	runSink("gateway", hub)
	runSink("alerts", s.alerter)
	if s.redis != nil {
		runSink("redis", s.redis)
	}
	if s.sqlite != nil {
		runSink("sqlite", s.sqlite)
	}
	go fan.Run(context.Background(), reports)
	go fan.ReportStats(ctx, statsInterval, func(st bus.ChannelStat) {
		prom.FanoutQueueDepth.WithLabelValues(st.Name).Set(float64(st.Len))
	})

	health.StartLivenessChecker(ctx, s.redisClient(), s.sqliteDB(), 10*time.Second)

	// HTTP gateway
	mux := http.NewServeMux()
	gateway.RegisterRoutes(mux, hub, s.history())
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("gateway listening", "addr", cfg.HTTPAddr, "ws", "/ws")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("gateway server error", "error", err)
			cancel()
		}
	}()

	runDone := make(chan error, 1)
	go func() { runDone <- svc.Run(ctx) }()

	<-ctx.Done()
	if err := <-runDone; err != nil {
		slog.Error("evaluation loop failed", "error", err)
	}

	// No more producers: close the input so the fan-out drains and closes
	// every sink channel.
	close(reports)

	shutCtx, shutCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutCancel()
	httpSrv.Shutdown(shutCtx)
	metricsSrv.Stop(shutCtx)

	if !drainSinks(&wg, shutdownTimeout, drainGrace, cancelSinks) {
		slog.Warn("sinks still running at exit")
	}
	slog.Info("stopped")
}

// drainSinks waits for every sink to return. After timeout the sinks are
// cancelled and given grace to run their final flush, so the stores are not
// closed underneath them. It reports whether all sinks returned.
func drainSinks(wg *sync.WaitGroup, timeout, grace time.Duration, cancel context.CancelFunc) bool {
	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return true
	case <-time.After(timeout):
	}

	slog.Warn("sinks did not drain before timeout, cancelling")
	cancel()
	select {
	case <-drained:
		return true
	case <-time.After(grace):
		return false
	}
}

// newFetcher builds the configured feed. The stream feed is also returned so
// the caller can run it.
func newFetcher(cfg *config.Config) (model.Fetcher, *stream.Feed, error) {
	switch cfg.FeedSource {
	case config.SourceStream:
		f, err := stream.New(cfg.Stream(), cfg.Assets)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	case config.SourceCoinGecko:
		return coingecko.New(cfg.CoinGecko()), nil, nil
	default:
		return binance.New(cfg.Binance()), nil, nil
	}
}

func wireStream(feed *stream.Feed, prom *metrics.Metrics, health *metrics.HealthStatus) {
	feed.OnConnect = func() { health.SetFeedConnected(true) }
	feed.OnDisconnect = func(err error) { health.SetFeedConnected(false) }
	feed.OnReconnect = func() { prom.StreamReconnects.Inc() }
	feed.OnTrade = func(t model.Trade) {
		prom.StreamTradesTotal.Inc()
		health.SetLastSampleTime(t.TS)
	}
	feed.OnParseError = func(error) { prom.StreamParseErrors.Inc() }
	feed.OnEvict = func(string) { prom.RingEvictions.Inc() }
}
