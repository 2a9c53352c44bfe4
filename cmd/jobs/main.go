// Command jobs runs one batch job (or all of them) once and exits, for use
// from an external timer such as a Kubernetes CronJob.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/web3-frozen/agent-signal/internal/analytics"
	"github.com/web3-frozen/agent-signal/internal/config"
	"github.com/web3-frozen/agent-signal/internal/lease"
	"github.com/web3-frozen/agent-signal/internal/market"
	"github.com/web3-frozen/agent-signal/internal/market/sources"
	"github.com/web3-frozen/agent-signal/internal/scheduler"
	sig "github.com/web3-frozen/agent-signal/internal/signal"
	"github.com/web3-frozen/agent-signal/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	job := flag.String("job", "all", "job to run: snapshots, signals, analytics or all")
	dryRun := flag.Bool("dry-run", false, "compute but do not write results")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	cfg := config.Load()

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		return 1
	}

	jobs := scheduler.Jobs
	if *job != "all" {
		jobs = []string{*job}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		return 1
	}
	defer db.Close()

	var s scheduler.Store = db
	if !*dryRun {
		if err := db.Migrate(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			return 1
		}
	}
	if *dryRun {
		s = readOnly{Store: db, logger: logger}
		logger.Info("dry run: results will not be written")
	}

	srcs, closeRPC, err := sources.Default(ctx, sources.OptionsFrom(cfg), logger)
	if err != nil {
		logger.Error("failed to set up market data sources", "error", err)
		return 1
	}
	defer closeRPC()
	collector := market.NewCollector(db, logger, cfg.AdapterTimeout, srcs...)

	var locker scheduler.Locker
	if cfg.RedisURL != "" && !*dryRun {
		l, err := lease.New(cfg.RedisURL, cfg.RedisPassword, "")
		if err != nil {
			logger.Warn("redis unavailable, running without lease", "error", err)
		} else {
			defer l.Close()
			locker = l
		}
	}

	engine := scheduler.NewEngine(s, collector, locker, logger, scheduler.ConfigFrom(cfg))

	enc := json.NewEncoder(os.Stdout)
	exit := 0
	for _, name := range jobs {
		res, err := engine.RunJob(ctx, name)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			flag.Usage()
			return 2
		}
		_ = enc.Encode(res)
		if st := res.Status(); st == "failed" || st == "canceled" {
			exit = 1
		}
	}
	return exit
}

// readOnly discards every write the jobs make and logs it instead.
type readOnly struct {
	*store.Store
	logger *slog.Logger
}

func (r readOnly) InsertSnapshot(_ context.Context, sn *market.Snapshot) error {
	r.logger.Info("dry run: snapshot", "token_id", sn.TokenID, "price_usd", sn.PriceUSD, "market_cap_usd", sn.MarketCapUSD, "holders", sn.Holders)
	return nil
}

func (r readOnly) UpdatePostQuality(context.Context, int64, float64) error { return nil }

func (r readOnly) UpsertAgentMetrics(_ context.Context, m analytics.AgentMetrics) error {
	r.logger.Info("dry run: agent metrics", "agent_id", m.AgentID, "engagement_rate", m.EngagementRate, "growth_trend", m.GrowthTrend, "audience_score", m.AudienceScore)
	return nil
}

func (r readOnly) UpsertSignalScore(_ context.Context, sc sig.Score) error {
	r.logger.Info("dry run: signal score", "agent_id", sc.AgentID, "score", sc.Score,
		"build", sc.Components.Build, "token", sc.Components.Token,
		"social", sc.Components.Social, "verification", sc.Components.Verification)
	return nil
}
