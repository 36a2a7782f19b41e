package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/automaxprocs/maxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/binarybattles/coderelay/internal/auth"
	"github.com/binarybattles/coderelay/internal/competition"
	"github.com/binarybattles/coderelay/internal/config"
	"github.com/binarybattles/coderelay/internal/database"
	"github.com/binarybattles/coderelay/internal/handler/health"
	"github.com/binarybattles/coderelay/internal/judge"
	"github.com/binarybattles/coderelay/internal/ledger"
	"github.com/binarybattles/coderelay/internal/metrics"
	"github.com/binarybattles/coderelay/internal/migrations"
	"github.com/binarybattles/coderelay/internal/ratelimit"
	"github.com/binarybattles/coderelay/internal/relay"
	"github.com/binarybattles/coderelay/internal/scoring"
	"github.com/binarybattles/coderelay/internal/server"
	"github.com/binarybattles/coderelay/internal/store"
)

const sessionSweepInterval = 10 * time.Minute

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stdout io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	if _, err := maxprocs.Set(maxprocs.Logger(func(format string, v ...any) {
		logger.Info(fmt.Sprintf(format, v...))
	})); err != nil {
		logger.Warn("setting GOMAXPROCS", "error", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// --- SQLite ---
	db, err := database.Open(ctx, cfg.DBPath)
	if err != nil {
		return fmt.Errorf("connecting to sqlite: %w", err)
	}
	defer db.Close()

	if err := migrations.RunContext(ctx, db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("connected to sqlite", "path", cfg.DBPath)

	s := store.New(db)
	hash, err := auth.HashPassword(cfg.AdminPassword)
	if err != nil {
		return fmt.Errorf("hashing admin password: %w", err)
	}
	seeded, err := s.SeedMasterAdmin(ctx, hash)
	if err != nil {
		return err
	}
	if seeded {
		logger.Info("master admin created", "username", store.MasterAdminName)
	}

	// --- Redis ---
	var authOpts []auth.Option
	checks := map[string]health.Checker{"sqlite": dbChecker{db}}
	if cfg.RedisURL != "" {
		rdb, err := openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to redis: %w", err)
		}
		defer rdb.Close()
		logger.Info("connected to redis")
		checks["redis"] = redisChecker{rdb}
		authOpts = append(authOpts, auth.WithLimiter(
			ratelimit.New(rdb, "coderelay:login:", cfg.LoginMaxAttempts, cfg.LoginWindow),
		))
	} else {
		logger.Warn("REDIS_URL not set, login throttling disabled")
	}

	// --- Problems ---
	problems, err := judge.LoadProblems(cfg.ProblemsFile)
	if err != nil {
		return err
	}
	logger.Info("loaded problems", "path", cfg.ProblemsFile, "count", len(problems.IDs()))
	grader := judge.NewGrader(problems, judge.NewPiston(cfg.ExecutorURL, cfg.ExecutorTimeout, cfg.ExecutorRPS), m)

	// --- Domain ---
	authOpts = append(authOpts, auth.WithMetrics(m))
	authority := auth.New(s, auth.NewTokens(cfg.SessionSecret), cfg.SessionTTL, logger, authOpts...)
	relays := relay.New(s, logger, relay.WithMetrics(m))
	broker := server.NewBroker()
	feed := server.NewFeed(s, broker, logger, m, cfg.FeedInterval, problems.IDs(), nil)

	deps := &server.Deps{
		Logger:              logger,
		Store:               s,
		Auth:                authority,
		Clock:               competition.New(s, relays, logger, nil),
		Relays:              relays,
		Scoring:             scoring.New(s, grader, logger, m, nil),
		Ledger:              ledger.New(s, logger, m, nil),
		Grader:              grader,
		Broker:              broker,
		Feed:                feed,
		Gatherer:            reg,
		SecureCookies:       cfg.SecureCookies,
		DefaultRelayMinutes: cfg.DefaultRelayMinutes,
	}

	// --- HTTP Server ---
	srv := server.New(cfg.HTTPAddr, deps, func(r chi.Router) {
		r.Mount("/healthz", health.NewHandler(logger, checks).Routes())
	})

	// --- Run ---
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("starting http server", "addr", cfg.HTTPAddr)
		return srv.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down http server")
		return srv.Shutdown(context.Background())
	})

	g.Go(func() error {
		return feed.Run(gctx)
	})

	g.Go(func() error {
		return sweepSessions(gctx, logger, authority)
	})

	return g.Wait()
}

// sweepSessions deletes expired sessions until ctx is done.
func sweepSessions(ctx context.Context, logger *slog.Logger, a *auth.Authority) error {
	ticker := time.NewTicker(sessionSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := a.Sweep(ctx)
			if err != nil {
				logger.Warn("sweeping sessions", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("expired sessions removed", "count", n)
			}
		}
	}
}

func openRedis(ctx context.Context, rawURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// dbChecker adapts *sql.DB to health.Checker.
type dbChecker struct{ db *sql.DB }

func (d dbChecker) Check(ctx context.Context) error { return d.db.PingContext(ctx) }

// redisChecker adapts *redis.Client to health.Checker.
type redisChecker struct{ client *redis.Client }

func (r redisChecker) Check(ctx context.Context) error { return r.client.Ping(ctx).Err() }
