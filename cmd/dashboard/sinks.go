package main

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"cryptosignal/config"
	"cryptosignal/internal/gateway"
	"cryptosignal/internal/metrics"
	"cryptosignal/internal/model"
	"cryptosignal/internal/notification"
	"cryptosignal/internal/store/redis"
	"cryptosignal/internal/store/sqlite"

	goredis "github.com/go-redis/redis/v8"
)

// sinks holds the optional report consumers.
type sinks struct {
	redis   *redis.Writer
	sqlite  *sqlite.Writer
	reader  *sqlite.Reader
	alerter *notification.Alerter
}

func openSinks(ctx context.Context, cfg *config.Config, prom *metrics.Metrics, health *metrics.HealthStatus) (*sinks, error) {
	s := &sinks{}

	if cfg.RedisAddr != "" {
		w, err := redis.New(cfg.Redis())
		if err != nil {
			// Redis is optional: run without it rather than refuse to start.
			slog.Warn("redis unavailable, continuing without it", "addr", cfg.RedisAddr, "error", err)
		} else {
			w.OnWrite = func(d time.Duration) { prom.RedisWriteDur.Observe(d.Seconds()) }
			w.OnSkip = func() { prom.RedisSkippedWrites.Inc() }
			w.Breaker().OnStateChange = func(from, to redis.State) {
				prom.RedisCircuitBreakerState.Set(float64(to))
				if to == redis.StateOpen {
					prom.RedisCircuitBreakerTrips.Inc()
				}
				slog.Warn("redis circuit breaker", "from", from.String(), "to", to.String())
			}
			s.redis = w
			health.EnableRedis()
			health.CheckRedis(ctx, w.Client())
		}
	}

	if cfg.SQLitePath != "" {
		w, err := sqlite.New(cfg.SQLite())
		if err != nil {
			s.close()
			return nil, err
		}
		w.OnCommit = func(n int, d time.Duration) { prom.SQLiteCommitDur.Observe(d.Seconds()) }
		s.sqlite = w

		r, err := sqlite.NewReader(cfg.SQLitePath)
		if err != nil {
			s.close()
			return nil, err
		}
		s.reader = r
		health.EnableSQLite()
		health.CheckSQLite(ctx, w.DB())
	}

	notifiers := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.WebhookURL != "" {
		notifiers = append(notifiers, notification.NewWebhookNotifier(cfg.WebhookURL, nil))
	}
	if cfg.TelegramToken != "" {
		tg, err := notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			slog.Warn("telegram disabled", "error", err)
		} else {
			notifiers = append(notifiers, tg)
		}
	}
	s.alerter = notification.NewAlerter(notifiers...)
	s.alerter.OnSent = func(action model.Action, backend string) {
		prom.AlertsTotal.WithLabelValues(string(action), backend).Inc()
	}

	return s, nil
}

// seed restores the hub's latest reports from Redis so clients connecting
// right after a restart see state before the first cycle completes.
func (s *sinks) seed(ctx context.Context, hub *gateway.Hub, assets []model.Asset) {
	if s.redis == nil {
		return
	}
	var restored []model.Report
	for _, a := range assets {
		r, err := s.redis.Latest(ctx, a.Symbol)
		if err != nil {
			slog.Warn("redis seed failed", "symbol", a.Symbol, "error", err)
			return
		}
		if r != nil {
			restored = append(restored, *r)
		}
	}
	hub.Seed(restored...)
	slog.Info("seeded latest reports from redis", "count", len(restored))
}

// history prefers the SQLite journal and falls back to the Redis streams.
// It returns a nil interface when neither is configured.
func (s *sinks) history() model.HistoryReader {
	switch {
	case s.reader != nil:
		return s.reader
	case s.redis != nil:
		return s.redis
	default:
		return nil
	}
}

func (s *sinks) redisClient() *goredis.Client {
	if s.redis == nil {
		return nil
	}
	return s.redis.Client()
}

func (s *sinks) sqliteDB() *sql.DB {
	if s.sqlite == nil {
		return nil
	}
	return s.sqlite.DB()
}

func (s *sinks) close() {
	if s.redis != nil {
		s.redis.Close()
	}
	if s.sqlite != nil {
		s.sqlite.Close()
	}
	if s.reader != nil {
		s.reader.Close()
	}
}
