// Package config loads dashboard configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"cryptosignal/internal/indicator"
	"cryptosignal/internal/marketdata/binance"
	"cryptosignal/internal/marketdata/coingecko"
	"cryptosignal/internal/marketdata/stream"
	"cryptosignal/internal/model"
	"cryptosignal/internal/pipeline"
	"cryptosignal/internal/store/redis"
	"cryptosignal/internal/store/sqlite"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Feed sources selectable with FEED_SOURCE.
const (
	SourceStream    = stream.SourceName
	SourceBinance   = binance.SourceName
	SourceCoinGecko = coingecko.SourceName
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Feed
	FeedSource       string
	Assets           []model.Asset
	AutoRefresh      bool
	RefreshInterval  time.Duration
	BufferSize       int
	BinanceStreamURL string
	BinanceRESTURL   string
	KlineInterval    string
	KlineLimit       int
	CoinGeckoURL     string
	CoinGeckoDays    string
	VsCurrency       string

	// Indicators
	RSIPeriod  int
	MACDFast   int
	MACDSlow   int
	MACDSignal int
	SARAccel   float64
	SARMax     float64

	// Infrastructure
	HTTPAddr      string
	MetricsAddr   string
	RedisAddr     string // empty disables the Redis sink
	RedisPassword string
	SQLitePath    string // empty disables the SQLite journal

	// Alerts
	TelegramToken  string
	TelegramChatID int64
	WebhookURL     string

	LogLevel string
}

// assetsFile is the YAML layout accepted by ASSETS_FILE.
type assetsFile struct {
	Assets []model.Asset `yaml:"assets"`
}

// Load reads configuration from environment variables with sensible
// defaults. A .env file in the working directory is loaded first if present;
// variables already set in the environment win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("[config] WARNING: .env not loaded: %v", err)
	}

	def := indicator.DefaultConfig()
	c := &Config{
		FeedSource:       strings.ToLower(getEnv("FEED_SOURCE", SourceBinance)),
		AutoRefresh:      getBool("AUTO_REFRESH", true),
		RefreshInterval:  getDuration("REFRESH_INTERVAL", 10*time.Second),
		BufferSize:       getInt("BUFFER_SIZE", 500),
		BinanceStreamURL: getEnv("BINANCE_STREAM_URL", stream.DefaultURL),
		BinanceRESTURL:   getEnv("BINANCE_REST_URL", binance.DefaultBaseURL),
		KlineInterval:    getEnv("KLINE_INTERVAL", "1m"),
		KlineLimit:       getInt("KLINE_LIMIT", 200),
		CoinGeckoURL:     getEnv("COINGECKO_URL", coingecko.DefaultBaseURL),
		CoinGeckoDays:    getEnv("COINGECKO_DAYS", "1"),
		VsCurrency:       getEnv("VS_CURRENCY", "usd"),

		RSIPeriod:  getInt("RSI_PERIOD", def.RSIPeriod),
		MACDFast:   getInt("MACD_FAST", def.MACDFast),
		MACDSlow:   getInt("MACD_SLOW", def.MACDSlow),
		MACDSignal: getInt("MACD_SIGNAL", def.MACDSignal),
		SARAccel:   getFloat("SAR_ACCEL", def.SARAccel),
		SARMax:     getFloat("SAR_MAX", def.SARMax),

		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", ""),

		TelegramToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		WebhookURL:    getEnv("WEBHOOK_URL", ""),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	if s := getEnv("TELEGRAM_CHAT_ID", ""); s != "" {
		id, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("config: TELEGRAM_CHAT_ID: %w", err)
		}
		c.TelegramChatID = id
	}

	assets, err := loadAssets()
	if err != nil {
		return nil, err
	}
	c.Assets = assets

	return c, c.Validate()
}

// loadAssets resolves the asset list: ASSETS_FILE, then ASSETS, then the
// built-in defaults.
func loadAssets() ([]model.Asset, error) {
	if path := getEnv("ASSETS_FILE", ""); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: ASSETS_FILE: %w", err)
		}
		return ParseAssetsYAML(b)
	}
	if s := getEnv("ASSETS", ""); s != "" {
		return ParseAssets(s)
	}
	return model.DefaultAssets(), nil
}

// ParseAssets parses "symbol:Label:coingecko-id,..." entries. Label and id
// are optional; the label defaults to the upper-cased symbol.
func ParseAssets(s string) ([]model.Asset, error) {
	var out []model.Asset
	for _, entry := range strings.Split(s, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, ":", 3)
		a := model.Asset{Symbol: strings.ToLower(strings.TrimSpace(parts[0]))}
		if a.Symbol == "" {
			return nil, fmt.Errorf("config: ASSETS entry %q has no symbol", entry)
		}
		if len(parts) > 1 {
			a.Label = strings.TrimSpace(parts[1])
		}
		if len(parts) > 2 {
			a.CoinGeckoID = strings.TrimSpace(parts[2])
		}
		out = append(out, normalizeAsset(a))
	}
	return out, nil
}

// ParseAssetsYAML parses an assets file:
//
//	assets:
//	  - symbol: ethusdt
//	    label: Ethereum
//	    coingecko_id: ethereum
func ParseAssetsYAML(b []byte) ([]model.Asset, error) {
	var f assetsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("config: assets yaml: %w", err)
	}
	out := make([]model.Asset, 0, len(f.Assets))
	for i, a := range f.Assets {
		if strings.TrimSpace(a.Symbol) == "" {
			return nil, fmt.Errorf("config: assets yaml entry %d has no symbol", i)
		}
		out = append(out, normalizeAsset(a))
	}
	return out, nil
}

func normalizeAsset(a model.Asset) model.Asset {
	a.Symbol = strings.ToLower(strings.TrimSpace(a.Symbol))
	if a.Label == "" {
		a.Label = strings.ToUpper(a.Symbol)
	}
	return a
}

// Validate checks the configuration for values the dashboard cannot run with.
func (c *Config) Validate() error {
	var errs []error
	switch c.FeedSource {
	case SourceStream, SourceBinance, SourceCoinGecko:
	default:
		errs = append(errs, fmt.Errorf("FEED_SOURCE %q: want %s, %s or %s",
			c.FeedSource, SourceStream, SourceBinance, SourceCoinGecko))
	}
	if len(c.Assets) == 0 {
		errs = append(errs, errors.New("no assets configured"))
	}
	seen := make(map[string]bool, len(c.Assets))
	for _, a := range c.Assets {
		if seen[a.Symbol] {
			errs = append(errs, fmt.Errorf("duplicate asset %q", a.Symbol))
		}
		seen[a.Symbol] = true
		if c.FeedSource == SourceCoinGecko && a.CoinGeckoID == "" {
			errs = append(errs, fmt.Errorf("asset %q has no coingecko id", a.Symbol))
		}
	}
	if c.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("BUFFER_SIZE must be positive, got %d", c.BufferSize))
	}
	if c.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("REFRESH_INTERVAL must be positive, got %s", c.RefreshInterval))
	}
	if c.RSIPeriod < 2 {
		errs = append(errs, fmt.Errorf("RSI_PERIOD must be at least 2, got %d", c.RSIPeriod))
	}
	if c.MACDFast <= 0 || c.MACDSlow <= 0 || c.MACDSignal <= 0 {
		errs = append(errs, errors.New("MACD periods must be positive"))
	} else if c.MACDFast >= c.MACDSlow {
		errs = append(errs, fmt.Errorf("MACD_FAST (%d) must be below MACD_SLOW (%d)", c.MACDFast, c.MACDSlow))
	}
	if c.SARAccel <= 0 || c.SARMax < c.SARAccel {
		errs = append(errs, fmt.Errorf("SAR_ACCEL %g / SAR_MAX %g invalid", c.SARAccel, c.SARMax))
	}
	if (c.TelegramToken == "") != (c.TelegramChatID == 0) {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID must be set together"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// Indicator returns the indicator parameters.
func (c *Config) Indicator() indicator.Config {
	return indicator.Config{
		RSIPeriod:  c.RSIPeriod,
		MACDFast:   c.MACDFast,
		MACDSlow:   c.MACDSlow,
		MACDSignal: c.MACDSignal,
		SARAccel:   c.SARAccel,
		SARMax:     c.SARMax,
	}
}

// Pipeline returns the evaluation loop settings.
func (c *Config) Pipeline() pipeline.Config {
	return pipeline.Config{
		Assets:          c.Assets,
		AutoRefresh:     c.AutoRefresh,
		RefreshInterval: c.RefreshInterval,
	}
}

// Binance returns the klines client settings.
func (c *Config) Binance() binance.Config {
	return binance.Config{
		BaseURL:  c.BinanceRESTURL,
		Interval: c.KlineInterval,
		Limit:    c.KlineLimit,
	}
}

// CoinGecko returns the market chart client settings.
func (c *Config) CoinGecko() coingecko.Config {
	return coingecko.Config{
		BaseURL:    c.CoinGeckoURL,
		VsCurrency: c.VsCurrency,
		Days:       c.CoinGeckoDays,
	}
}

// Stream returns the trade stream settings.
func (c *Config) Stream() stream.Config {
	return stream.Config{
		URL:      c.BinanceStreamURL,
		Capacity: c.BufferSize,
	}
}

// Redis returns the Redis sink settings.
func (c *Config) Redis() redis.WriterConfig {
	symbols := make([]string, len(c.Assets))
	for i, a := range c.Assets {
		symbols[i] = a.Symbol
	}
	return redis.WriterConfig{
		Addr:     c.RedisAddr,
		Password: c.RedisPassword,
		Symbols:  symbols,
	}
}

// SQLite returns the journal settings.
func (c *Config) SQLite() sqlite.WriterConfig {
	return sqlite.WriterConfig{DBPath: c.SQLitePath}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %g", key, v, fallback)
		return fallback
	}
	return f
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %t", key, v, fallback)
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid %s=%q, using %s", key, v, fallback)
		return fallback
	}
	return d
}
