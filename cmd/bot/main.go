package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"delphi/internal/broker"
	"delphi/internal/config"
	"delphi/internal/engine"
	"delphi/internal/events"
	"delphi/internal/md"
	"delphi/internal/momentum"
	"delphi/internal/server"
	"delphi/internal/state"
	"delphi/internal/strategy"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	setupLogger(cfg.LogLevel, cfg.LogFormat)

	runID := generateRunID()
	decisions, err := engine.NewDecisionLogger(cfg.DecisionsPath, runID)
	if err != nil {
		log.Fatalf("decision logger error: %v", err)
	}
	defer func() {
		if err := decisions.Close(); err != nil {
			slog.Error("failed to close decision logger", "error", err)
		}
	}()

	brokerClient := broker.New(cfg.APIKey, cfg.APISecret, cfg.BaseURL, cfg.BrokerTimeout)
	var orders engine.Broker = brokerClient
	var positions engine.PositionLister = brokerClient
	if cfg.Mode == config.ModeStream {
		// live data and market clock, orders confirmed locally
		dryRun := broker.NewDryRun(brokerClient)
		orders, positions = dryRun, dryRun
	}

	estimator := momentum.NewEstimator(md.NewBars(cfg.APIKey, cfg.APISecret, cfg.Feed))
	cache := momentum.NewCache(estimator, cfg.Symbol, cfg.LookbackDays, cfg.MomentumRefreshInterval, cfg.MomentumRetryInterval)

	store := state.NewStore(cfg.Symbol)
	hub := events.NewHub(events.DefaultRecent)
	clock := engine.NewMarketClock(brokerClient, cfg.MarketClockTTL)
	controller := engine.NewController(
		engine.ControllerConfig{
			Symbol:      cfg.Symbol,
			TimeInForce: alpaca.TimeInForce(cfg.TimeInForce),
			KillSwitch:  cfg.KillSwitch,
			RunID:       runID,
		},
		orders,
		clock,
		cache,
		strategy.Momentum{Qty: cfg.Quantity, Epsilon: cfg.Epsilon},
		store,
		hub,
	)
	engineImpl := engine.New(cfg.Symbol, cfg.QueueSize, controller, hub, decisions, runID)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting bot", "mode", cfg.Mode, "symbol", cfg.Symbol, "feed", cfg.Feed, "run_id", runID,
		"quantity", cfg.Quantity, "epsilon", cfg.Epsilon.String(), "lookback_days", cfg.LookbackDays)
	hub.Publishf(events.KindInfo, cfg.Symbol, "starting in %s mode, run %s", cfg.Mode, runID)

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return engineImpl.Run(groupCtx, md.NewStream(cfg.APIKey, cfg.APISecret, cfg.Feed))
	})
	group.Go(func() error {
		engine.ReportPositions(groupCtx, positions, store, hub, cfg.Symbol, cfg.PositionPollInterval)
		return nil
	})
	if cfg.ListenAddr != "" {
		group.Go(func() error {
			return server.New(store, hub).Run(groupCtx, cfg.ListenAddr)
		})
	}

	if err := group.Wait(); err != nil {
		slog.Error("bot stopped with error", "error", err)
	}
	slog.Info("bot shutdown complete", "run_id", runID)
}

func setupLogger(level, format string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler = slog.NewTextHandler(os.Stderr, opts)
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func generateRunID() string {
	timestamp := time.Now().UTC().Format("20060102T150405")
	return timestamp + "-" + uuid.NewString()[:8]
}
