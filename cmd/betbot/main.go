package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"betbot/internal/account"
	"betbot/internal/catalog"
	"betbot/internal/clock"
	"betbot/internal/config"
	"betbot/internal/db"
	"betbot/internal/exchange"
	"betbot/internal/execution"
	"betbot/internal/notify"
	"betbot/internal/performance"
	"betbot/internal/scheduler"
	"betbot/internal/server"
	"betbot/internal/session"
	"betbot/internal/store"
	"betbot/internal/strategy"
	"betbot/internal/tracker"
	"betbot/internal/winner"
)

func main() {
	configPath := flag.String("config", "config.toml", "Path to the TOML or YAML config file")
	simulate := flag.Bool("simulate", false, "Simulate every bet regardless of config")
	flag.Parse()

	if p := os.Getenv("BETBOT_CONFIG_PATH"); p != "" {
		*configPath = p
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *simulate {
		cfg.General.LiveMode = false
	}
	setupLogger(cfg.General)

	slog.Info("betbot starting", "live_mode", cfg.General.LiveMode, "strategies", cfg.Strategy.Enabled)

	if err := run(cfg); err != nil {
		slog.Error("betbot failed", "error", err)
		os.Exit(1)
	}
	slog.Info("betbot stopped")
}

func run(cfg *config.Config) error {
	database, dialect, err := openDatabase(cfg.General)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := db.Migrate(database, dialect); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	slog.Info("database initialized", "driver", dialect)

	var st store.Store = store.NewSQLStore(database, dialect)
	if cfg.General.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.General.RedisURL)
		if err != nil {
			return fmt.Errorf("parsing redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		st = store.NewCachedStore(st, rdb, cfg.General.CacheTTL.Duration)
		slog.Info("redis cache enabled", "ttl", cfg.General.CacheTTL.Duration)
	}

	notifier, err := newNotifier(cfg.Notify)
	if err != nil {
		return err
	}

	clk := clock.Real{}
	ex := exchange.NewClient(cfg.Exchange)

	sess := session.NewCoordinator(ex, cfg.Exchange.Username, cfg.Exchange.Password, cfg.Schedule.SessionRenew.Duration)
	funds := account.NewFunds(ex, st, clk, cfg.Schedule.FundsInterval.Duration)
	stats := performance.NewAggregator(st, clk, cfg.Schedule.NightlyHour)

	strategies := strategy.Enabled(strategy.Registry(st, clk, cfg), cfg.Strategy.Enabled)
	slog.Info("strategies registered", "count", len(strategies))
	executor := execution.NewExecutor(ex, st, clk, cfg.Execution, cfg.General.LiveMode)

	workers := []scheduler.Worker{
		sess,
		catalog.NewSync(ex, st, clk, cfg.Catalog, cfg.Schedule),
		tracker.New(ex, st, clk, cfg.Tracker),
		strategy.NewEngine(st, clk, executor, notifier, strategies, cfg.Schedule),
		execution.NewReconciler(ex, st, clk, stats, funds, cfg.Schedule.ReconcileInterval.Duration),
		stats,
		performance.NewReporter(st, clk, notifier, cfg.Schedule.NightlyHour),
		funds,
	}
	if cfg.Winners.FeedURL != "" {
		workers = append(workers, winner.NewFeed(cfg.Winners.FeedURL, st, clk))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return scheduler.New(clk, cfg.Schedule.WorkerCooldown.Duration, workers...).Run(ctx)
	})
	if cfg.General.HTTPAddr != "" {
		g.Go(func() error {
			return server.Run(ctx, cfg.General.HTTPAddr, server.New(st, sess))
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func openDatabase(cfg config.GeneralConfig) (*sql.DB, db.Dialect, error) {
	if cfg.DBDriver == "postgres" {
		database, err := db.OpenPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, db.Postgres, err
		}
		return database, db.Postgres, nil
	}
	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return nil, db.SQLite, err
	}
	return database, db.SQLite, nil
}

func newNotifier(cfg config.NotifyConfig) (notify.Notifier, error) {
	if cfg.TelegramToken == "" {
		slog.Info("telegram not configured, notifications go to the log")
		return notify.Log{}, nil
	}
	tg, err := notify.NewTelegram(cfg.TelegramToken, cfg.TelegramChatID, cfg.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("creating telegram notifier: %w", err)
	}
	return tg, nil
}

func setupLogger(cfg config.GeneralConfig) {
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
