// Package config loads runtime settings from the environment, reading a
// .env file first when one exists.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

// Config is the full runtime configuration of the engine.
type Config struct {
	Port     string
	LogLevel slog.Level

	Database DatabaseConfig
	Alpaca   AlpacaConfig
	Pricing  PricingConfig
	Session  SessionConfig
	Server   ServerConfig
}

// DatabaseConfig locates the stores. Empty URLs disable the backend.
type DatabaseConfig struct {
	URL      string
	RedisURL string
	CacheTTL time.Duration

	// CandlePath is the SQLite file of daily closes. A zero CandleAsOf
	// reads the latest close.
	CandlePath string
	CandleAsOf time.Time

	// MappingsPath is an optional YAML file of instrument mappings written
	// to the mapping backend at startup.
	MappingsPath string
}

// AlpacaConfig holds market data credentials. Without a key the engine
// runs on historical candles and the reference table.
type AlpacaConfig struct {
	APIKey     string
	APISecret  string
	DataURL    string
	Feed       string
	RatePerMin int
}

// PricingConfig tunes price resolution and slippage.
type PricingConfig struct {
	LookupTimeout       time.Duration
	SlippageMin         decimal.Decimal
	SlippageMax         decimal.Decimal
	SlippageMode        string
	VariationPct        decimal.Decimal
	ReferencePricesPath string
	RandomSeed          uint64
}

// SessionConfig bounds session funding.
type SessionConfig struct {
	DefaultSeedBalance decimal.Decimal
	MaxSeedBalance     decimal.Decimal
}

// ServerConfig holds HTTP server timeouts.
type ServerConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

var maxSlippage = decimal.NewFromInt(10)

// Load reads .env (if present) and the environment. Every invalid value is
// reported, not just the first.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only.
func FromEnv() (*Config, error) {
	p := &parser{}
	cfg := &Config{
		Port:     envOr("PORT", "8080"),
		LogLevel: p.level("LOG_LEVEL", slog.LevelInfo),
		Database: DatabaseConfig{
			URL:        os.Getenv("DATABASE_URL"),
			RedisURL:   os.Getenv("REDIS_URL"),
			CacheTTL:   p.duration("CACHE_TTL", 30*time.Second),
			CandlePath: os.Getenv("CANDLE_DB_PATH"),
			CandleAsOf: p.date("CANDLE_AS_OF"),

			MappingsPath: os.Getenv("INSTRUMENT_MAPPINGS_PATH"),
		},
		Alpaca: AlpacaConfig{
			APIKey:     os.Getenv("ALPACA_API_KEY"),
			APISecret:  os.Getenv("ALPACA_API_SECRET"),
			DataURL:    os.Getenv("ALPACA_DATA_URL"),
			Feed:       envOr("ALPACA_FEED", "iex"),
			RatePerMin: p.integer("ALPACA_RATE_LIMIT_PER_MIN", 200),
		},
		Pricing: PricingConfig{
			LookupTimeout:       p.duration("PRICE_TIMEOUT", 800*time.Millisecond),
			SlippageMin:         p.decimal("SLIPPAGE_MIN", decimal.NewFromFloat(0.5)),
			SlippageMax:         p.decimal("SLIPPAGE_MAX", decimal.NewFromFloat(2.0)),
			SlippageMode:        strings.ToLower(envOr("SLIPPAGE_MODE", "metadata")),
			VariationPct:        p.decimal("PRICE_VARIATION_PCT", decimal.NewFromInt(5)),
			ReferencePricesPath: os.Getenv("REFERENCE_PRICES_PATH"),
			RandomSeed:          p.seed("RANDOM_SEED"),
		},
		Session: SessionConfig{
			DefaultSeedBalance: p.decimal("DEFAULT_SEED_BALANCE", decimal.NewFromInt(10_000_000)),
			MaxSeedBalance:     p.decimal("MAX_SEED_BALANCE", decimal.NewFromInt(100_000_000)),
		},
		Server: ServerConfig{
			ReadTimeout:     p.duration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    p.duration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:     p.duration("IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 5*time.Second),
		},
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []error
	pc := c.Pricing
	if pc.SlippageMin.IsNegative() || pc.SlippageMax.GreaterThan(maxSlippage) {
		errs = append(errs, fmt.Errorf("slippage band [%s, %s] must lie within [0, 10]", pc.SlippageMin, pc.SlippageMax))
	}
	if pc.SlippageMin.GreaterThan(pc.SlippageMax) {
		errs = append(errs, fmt.Errorf("SLIPPAGE_MIN %s exceeds SLIPPAGE_MAX %s", pc.SlippageMin, pc.SlippageMax))
	}
	if pc.SlippageMode != "metadata" && pc.SlippageMode != "price" {
		errs = append(errs, fmt.Errorf("SLIPPAGE_MODE must be metadata or price, got %q", pc.SlippageMode))
	}
	if pc.VariationPct.IsNegative() || pc.VariationPct.GreaterThan(decimal.NewFromInt(50)) {
		errs = append(errs, fmt.Errorf("PRICE_VARIATION_PCT %s must lie within [0, 50]", pc.VariationPct))
	}
	if pc.LookupTimeout <= 0 {
		errs = append(errs, errors.New("PRICE_TIMEOUT must be positive"))
	}

	sc := c.Session
	if !sc.DefaultSeedBalance.IsPositive() || !sc.MaxSeedBalance.IsPositive() {
		errs = append(errs, errors.New("seed balances must be positive"))
	} else if sc.DefaultSeedBalance.GreaterThan(sc.MaxSeedBalance) {
		errs = append(errs, fmt.Errorf("DEFAULT_SEED_BALANCE %s exceeds MAX_SEED_BALANCE %s",
			sc.DefaultSeedBalance, sc.MaxSeedBalance))
	}

	if c.Alpaca.RatePerMin <= 0 {
		errs = append(errs, errors.New("ALPACA_RATE_LIMIT_PER_MIN must be positive"))
	}
	if (c.Alpaca.APIKey == "") != (c.Alpaca.APISecret == "") {
		errs = append(errs, errors.New("ALPACA_API_KEY and ALPACA_API_SECRET must be set together"))
	}
	return errors.Join(errs...)
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

// parser collects parse errors so Load can report all of them at once.
type parser struct {
	err error
}

func (p *parser) fail(key, value string, err error) {
	p.err = errors.Join(p.err, fmt.Errorf("%s=%q: %w", key, value, err))
}

func (p *parser) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}

func (p *parser) integer(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return i
}

func (p *parser) seed(key string) uint64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		p.fail(key, v, err)
		return 0
	}
	return n
}

func (p *parser) decimal(key string, def decimal.Decimal) decimal.Decimal {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		p.fail(key, v, err)
		return def
	}
	return d
}

func (p *parser) date(key string) time.Time {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.DateOnly, v)
	if err != nil {
		p.fail(key, v, err)
		return time.Time{}
	}
	return t
}

func (p *parser) level(key string, def slog.Level) slog.Level {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(v)); err != nil {
		p.fail(key, v, err)
		return def
	}
	return l
}
