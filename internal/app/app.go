package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xenking/kart-promotions/internal/domain/promotion"
	"github.com/xenking/kart-promotions/internal/domain/voucher"
	"github.com/xenking/kart-promotions/internal/handler"
	"github.com/xenking/kart-promotions/internal/inventory"
	"github.com/xenking/kart-promotions/internal/storage/postgres"
	"github.com/xenking/kart-promotions/pkg/health"
	"github.com/xenking/kart-promotions/pkg/httpmiddleware"
)

const serviceName = "promotions"

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing",
		zap.String("addr", cfg.Addr),
		zap.String("inventory", cfg.Inventory.Backend),
		zap.String("rate_limit", cfg.RateLimit.Backend),
	)

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	var rdb *redis.Client
	if cfg.NeedsRedis() {
		opts, err := cfg.RedisOptions()
		if err != nil {
			return err
		}
		rdb = redis.NewClient(opts)
		defer func() { _ = rdb.Close() }()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return errors.Wrap(err, "connect to redis")
		}
	}

	store := newInventory(cfg.Inventory.Backend, pool, rdb)

	// Rules are cached and refreshed; deal caps are registered on every load.
	load := PostgresLoader(postgres.NewRuleRepository(pool), postgres.NewProductRepository(pool))
	if cfg.Rules.File != "" {
		load = FileLoader(cfg.Rules.File)
	}
	source := NewSource(load, store, cfg.Rules.Refresh)
	if _, _, err := source.Load(ctx); err != nil {
		return errors.Wrap(err, "load rules")
	}

	engine, err := promotion.NewEngine(store, promotion.Options{
		MeterProvider:  m.MeterProvider(),
		TracerProvider: m.TracerProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create engine")
	}

	vouchers, err := newVoucherService(ctx, pool, cfg.Voucher)
	if err != nil {
		return err
	}

	// Health check service.
	healthSvc := health.New(health.Options{})
	healthSvc.Add(health.Readiness, "postgres", 5*time.Second, health.PingCheck(pool))
	if rdb != nil {
		healthSvc.Add(health.Readiness, "redis", 2*time.Second, health.RedisCheck(rdb))
	}
	healthSvc.Add(health.Readiness, "rules", 5*time.Second, health.PingCheck(source))
	healthSvc.Add(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	h := handler.New(handler.Config{Currency: cfg.Currency}, engine, source, store, vouchers)
	api := http.NewServeMux()
	h.Register(api)

	limiter, err := newLimiter(ctx, cfg.RateLimit, rdb)
	if err != nil {
		return err
	}

	// Mux: health endpoints + rate limited API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/v1/", httpmiddleware.Wrap(api, httpmiddleware.RateLimit(httpmiddleware.RateLimitConfig{
		Max:     cfg.RateLimit.Max,
		Window:  cfg.RateLimit.Window,
		Limiter: limiter,
	})))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument(serviceName, m),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func newInventory(backend string, pool *pgxpool.Pool, rdb *redis.Client) inventory.Store {
	switch backend {
	case BackendRedis:
		return inventory.NewRedis(rdb)
	case BackendMemory:
		return inventory.NewMemory()
	default:
		return postgres.NewInventoryRepository(pool)
	}
}

// newVoucherService seeds the code generator's bloom filter with every
// stored code so new codes rarely need a database lookup.
func newVoucherService(ctx context.Context, pool *pgxpool.Pool, cfg VoucherConfig) (*voucher.Service, error) {
	repo := postgres.NewVoucherRepository(pool)
	codes := voucher.NewCodeGenerator(cfg.CodeLength, cfg.ExpectedCodes, repo)

	var n int
	if err := repo.EachCode(ctx, func(code string) {
		codes.Seed(code)
		n++
	}); err != nil {
		return nil, errors.Wrap(err, "seed voucher codes")
	}
	zctx.From(ctx).Info("Voucher codes loaded", zap.Int("count", n))

	return voucher.NewService(repo, codes, voucher.Config{ReplacementGrace: cfg.ReplacementGrace}), nil
}

func newLimiter(ctx context.Context, cfg RateLimitConfig, rdb *redis.Client) (httpmiddleware.Limiter, error) {
	if cfg.Backend == BackendRedis {
		if rdb == nil {
			return nil, errors.New("redis rate limiter without redis client")
		}
		return httpmiddleware.NewRedisWindow(rdb, "promo:ratelimit:", cfg.Max, cfg.Window), nil
	}
	limiter := httpmiddleware.NewSlidingWindow(cfg.Max, cfg.Window)
	go limiter.RunEviction(ctx)
	return limiter, nil
}
