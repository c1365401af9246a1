package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/stockquest/trading-engine/internal/config"
	"github.com/stockquest/trading-engine/internal/mapping"
	"github.com/stockquest/trading-engine/internal/marketdata"
	"github.com/stockquest/trading-engine/internal/metrics"
	"github.com/stockquest/trading-engine/internal/pricing"
	"github.com/stockquest/trading-engine/internal/store"
	"github.com/stockquest/trading-engine/internal/trade"
)

func main() {
	if err := run(); err != nil {
		slog.Error("trading-engine failed", "err", err)
		os.Exit(1)
	}
}

// run wires the engine and serves until a shutdown signal or a listener
// failure. Returning instead of exiting lets the deferred closes run.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Redis (optional cache for sessions, mappings and quotes) ---
	var rdb *redis.Client
	if cfg.Database.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Database.RedisURL)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		defer rdb.Close()
		slog.Info("Redis cache enabled", "ttl", cfg.Database.CacheTTL)
	}

	// --- Initialize store and ticker mapping ---
	var st store.Store
	var mapper mapping.Mapper
	var mappingWriter mapping.Writer

	if cfg.Database.URL != "" {
		pool, err := store.NewPool(ctx, cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer pool.Close()
		if err := store.RunMigrations(ctx, pool); err != nil {
			return fmt.Errorf("migrations failed: %w", err)
		}
		st = store.NewPostgresStore(pool)
		pm := mapping.NewPostgresMapper(pool)
		mapper, mappingWriter = pm, pm
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
		sm := mapping.NewStaticMapper()
		mapper, mappingWriter = sm, sm
	}

	// Seed before the cache wraps the mapper so no stale miss is cached.
	if path := cfg.Database.MappingsPath; path != "" {
		entries, err := mapping.LoadFile(path)
		if err != nil {
			return fmt.Errorf("instrument mappings: %w", err)
		}
		if err := mapping.Seed(ctx, mappingWriter, entries); err != nil {
			return fmt.Errorf("instrument mappings: %w", err)
		}
		slog.Info("instrument mappings seeded", "path", path, "entries", len(entries))
	}

	if rdb != nil && cfg.Database.URL != "" {
		st = store.NewCachedStore(st, rdb, cfg.Database.CacheTTL)
		mapper = mapping.NewCachedMapper(mapper, rdb, cfg.Database.CacheTTL)
	}

	// --- Market data: live quotes first, then historical closes ---
	var sources marketdata.Chain
	if cfg.Alpaca.APIKey != "" {
		var live marketdata.Source = marketdata.NewRateLimitedSource(
			marketdata.NewAlpacaSource(marketdata.AlpacaConfig{
				APIKey:    cfg.Alpaca.APIKey,
				APISecret: cfg.Alpaca.APISecret,
				DataURL:   cfg.Alpaca.DataURL,
				Feed:      cfg.Alpaca.Feed,
			}),
			cfg.Alpaca.RatePerMin,
		)
		if rdb != nil {
			live = marketdata.NewCachedSource(live, rdb, cfg.Database.CacheTTL)
		}
		sources = append(sources, live)
		slog.Info("Alpaca market data enabled", "feed", cfg.Alpaca.Feed)
	}
	if cfg.Database.CandlePath != "" {
		candles, err := marketdata.NewCandleStore(cfg.Database.CandlePath, cfg.Database.CandleAsOf)
		if err != nil {
			return fmt.Errorf("candle store %s: %w", cfg.Database.CandlePath, err)
		}
		defer candles.Close()
		sources = append(sources, candles)
		slog.Info("historical candles enabled", "path", cfg.Database.CandlePath)
	}
	if len(sources) == 0 {
		slog.Warn("no market data configured, prices come from the reference table")
	}

	// --- Pricing ---
	table := pricing.DefaultReferenceTable()
	if path := cfg.Pricing.ReferencePricesPath; path != "" {
		if table, err = pricing.LoadReferenceFile(path); err != nil {
			return fmt.Errorf("reference prices: %w", err)
		}
	}
	slog.Info("reference prices loaded", "instruments", table.Len())
	rnd := pricing.NewLockedRand(cfg.Pricing.RandomSeed)

	resolverCfg := pricing.ResolverConfig{
		Mapper:        mapper,
		Table:         table,
		Rand:          rnd,
		VariationPct:  cfg.Pricing.VariationPct,
		LookupTimeout: cfg.Pricing.LookupTimeout,
	}
	if len(sources) > 0 {
		resolverCfg.Source = sources
	}
	resolver, err := pricing.NewResolver(resolverCfg)
	if err != nil {
		return fmt.Errorf("price resolver: %w", err)
	}

	slippage, err := pricing.NewSlippage(cfg.Pricing.SlippageMin, cfg.Pricing.SlippageMax,
		pricing.SlippageMode(cfg.Pricing.SlippageMode), rnd)
	if err != nil {
		return fmt.Errorf("slippage model: %w", err)
	}

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	// --- Trade service ---
	tradeSvc := trade.NewService(st, resolver, slippage, wsHub, trade.Config{
		DefaultSeedBalance: cfg.Session.DefaultSeedBalance,
		MaxSeedBalance:     cfg.Session.MaxSeedBalance,
	})

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trading-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket feed of executions and session transitions.
		r.Get("/ws", wsHub.HandleWS)

		// Request timeouts apply to the REST routes only; upgraded
		// connections are long-lived.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			tradeSvc.RegisterRoutes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("trading-engine listening", "port", cfg.Port, "slippage_mode", cfg.Pricing.SlippageMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	case <-quit:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	slog.Info("shutting down trading-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trading-engine stopped")
	return nil
}
