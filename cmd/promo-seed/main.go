package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/kart-promotions/internal/catalog"
	"github.com/xenking/kart-promotions/internal/domain/promotion"
	"github.com/xenking/kart-promotions/internal/inventory"
	"github.com/xenking/kart-promotions/internal/storage/postgres"
)

type options struct {
	databaseURL string
	redisURL    string
	catalogFile string
	reset       bool
	validate    bool
}

func main() {
	var opts options

	flag.StringVar(&opts.databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&opts.redisURL, "redis-url", "", "also register deal caps in Redis (or REDIS_URL env)")
	flag.StringVar(&opts.catalogFile, "catalog", "db/seed/catalog.json", "rule catalog file (.json or .json.gz)")
	flag.BoolVar(&opts.reset, "reset", false, "zero consumption of every limited deal")
	flag.BoolVar(&opts.validate, "validate", false, "only validate the catalog")
	flag.Parse()

	if opts.databaseURL == "" {
		opts.databaseURL = os.Getenv("DATABASE_URL")
	}
	if opts.redisURL == "" {
		opts.redisURL = os.Getenv("REDIS_URL")
	}
	if opts.databaseURL == "" && !opts.validate {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, opts options) error {
	slog.Info("reading catalog", slog.String("path", opts.catalogFile))

	c, err := catalog.ReadFile(opts.catalogFile)
	if err != nil {
		return errors.Wrap(err, "read catalog")
	}
	set, err := c.RuleSet()
	if err != nil {
		return errors.Wrap(err, "validate rules")
	}
	slog.Info("catalog is valid",
		slog.Int("products", len(c.Products)),
		slog.Int("rules", set.Len()),
		slog.Int("limited_deals", len(set.LimitedRuleIDs())),
	)
	if opts.validate {
		return nil
	}

	slog.Info("connecting to database")

	pool, err := postgres.NewPool(ctx, opts.databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := postgres.Migrate(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := postgres.NewProductRepository(pool).Upsert(gctx, c.Products...); err != nil {
			return errors.Wrap(err, "upsert products")
		}
		return nil
	})
	g.Go(func() error {
		if err := postgres.NewRuleRepository(pool).Upsert(gctx, c.Defaults, c.Rules...); err != nil {
			return errors.Wrap(err, "upsert rules")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("products and rules upserted")

	stores := map[string]inventory.Store{"postgres": postgres.NewInventoryRepository(pool)}
	if opts.redisURL != "" {
		redisOpts, err := redis.ParseURL(opts.redisURL)
		if err != nil {
			return errors.Wrap(err, "parse redis url")
		}
		rdb := redis.NewClient(redisOpts)
		defer func() { _ = rdb.Close() }()
		stores["redis"] = inventory.NewRedis(rdb)
	}

	for name, store := range stores {
		if err := seedInventory(ctx, store, set, opts.reset); err != nil {
			return errors.Wrapf(err, "seed %s inventory", name)
		}
		slog.Info("deal caps registered", slog.String("store", name))
	}
	return nil
}

func seedInventory(ctx context.Context, store inventory.Store, set *promotion.RuleSet, reset bool) error {
	if err := inventory.Sync(ctx, store, set); err != nil {
		return err
	}
	if !reset {
		return nil
	}
	for _, id := range set.LimitedRuleIDs() {
		if err := store.Reset(ctx, id); err != nil {
			return errors.Wrapf(err, "reset %s", id)
		}
	}
	return nil
}
