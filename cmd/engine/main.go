// Package main provides the entry point for the arbitrage engine: an
// event-driven service that discovers multi-outcome Polymarket event
// groups, polls their order books, runs a strategy substrate over them,
// and routes signals through a risk gate to an exchange client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/atlas-desktop/arb-engine/internal/api"
	"github.com/atlas-desktop/arb-engine/internal/arbitrage"
	"github.com/atlas-desktop/arb-engine/internal/bus"
	"github.com/atlas-desktop/arb-engine/internal/config"
	"github.com/atlas-desktop/arb-engine/internal/discovery"
	"github.com/atlas-desktop/arb-engine/internal/discovery/gamma"
	"github.com/atlas-desktop/arb-engine/internal/engine"
	"github.com/atlas-desktop/arb-engine/internal/exchange"
	"github.com/atlas-desktop/arb-engine/internal/exchange/clob"
	"github.com/atlas-desktop/arb-engine/internal/exchange/mock"
	"github.com/atlas-desktop/arb-engine/internal/marketdata"
	"github.com/atlas-desktop/arb-engine/internal/orders"
	"github.com/atlas-desktop/arb-engine/internal/risk"
	"github.com/atlas-desktop/arb-engine/internal/store"
	"github.com/atlas-desktop/arb-engine/internal/strategy"
	"github.com/atlas-desktop/arb-engine/pkg/types"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := setupLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("starting arb engine",
		zap.Strings("strategies", cfg.Strategies),
		zap.Bool("dryRun", cfg.DryRun),
		zap.Strings("tokenIDs", cfg.TokenIDs),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	st, err := store.Open(filepath.Join(cfg.DataDir, "arb-engine.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	eventBus := bus.New(logger)

	var client exchange.Client
	if cfg.DryRun {
		mockClient := mock.New(logger)
		client = mockClient
	} else {
		client = clob.New(logger,
			clob.WithBaseURL(cfg.CLOBBaseURL),
			clob.WithCredentials(clob.Credentials{
				APIKey:     cfg.CLOBAPIKey,
				Secret:     cfg.CLOBAPISecret,
				Passphrase: cfg.CLOBAPIPassphrase,
			}),
		)
	}

	gammaClient := gamma.New(gamma.WithBaseURL(cfg.GammaBaseURL))
	discoverySvc := discovery.New(logger, eventBus, gammaClient, discovery.Config{
		Tags:     cfg.GammaTags,
		Limit:    cfg.GammaLimit,
		Interval: cfg.GammaRefreshInterval,
	})

	marketDataSvc := marketdata.New(logger, eventBus, client, cfg.MarketDataPollInterval)

	riskMgr := risk.New(logger, eventBus, cfg.RiskLimits, st, st, st)
	orderMgr := orders.New(logger, eventBus, st, client, riskMgr, cfg.DryRun)

	eng := engine.New(logger, eventBus, st, marketDataSvc, discoverySvc, riskMgr, orderMgr, cfg.RiskLimits)

	arbStrategy, err := registerStrategies(logger, eng, cfg, marketDataSvc, st)
	if err != nil {
		return fmt.Errorf("register strategies: %w", err)
	}
	if arbStrategy != nil {
		eventBus.On(bus.EventMarketGroupsUpdated, func(evt bus.Event) error {
			groups, ok := evt.Data.([]types.MarketGroup)
			if !ok {
				return nil
			}
			arbStrategy.UpdateMarketGroups(groups)
			return nil
		})
	}

	dashboardAddr := fmt.Sprintf("%s:%d", cfg.DashboardHost, cfg.DashboardPort)
	dashboard := api.New(logger, eng, eventBus, dashboardAddr)

	if len(cfg.TokenIDs) > 0 {
		eng.SetTokens(cfg.TokenIDs)
	}

	discoverySvc.Start(ctx)
	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	go func() {
		if err := dashboard.Start(); err != nil {
			logger.Error("dashboard server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	discoverySvc.Stop()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()

	if err := eng.Stop(stopCtx); err != nil {
		logger.Error("engine stop error", zap.Error(err))
	}
	if err := dashboard.Stop(stopCtx); err != nil {
		logger.Error("dashboard stop error", zap.Error(err))
	}
	if err := eng.Close(); err != nil {
		logger.Error("engine close error", zap.Error(err))
	}

	logger.Info("arb engine stopped")
	return nil
}

// registerStrategies constructs and registers every strategy named in
// cfg.Strategies, returning the arbitrage strategy (if registered) so its
// market groups can be kept fresh.
func registerStrategies(logger *zap.Logger, eng *engine.Engine, cfg *config.Config, md *marketdata.Service, st *store.Store) (*arbitrage.Strategy, error) {
	var arbStrategy *arbitrage.Strategy

	for _, name := range cfg.Strategies {
		switch name {
		case "momentum":
			eng.RegisterStrategy(strategy.NewMomentum(logger,
				20,
				decimal.NewFromFloat(0.02),
				decimal.NewFromFloat(10),
			))
		case "mean-reversion":
			eng.RegisterStrategy(strategy.NewMeanReversion(logger,
				20,
				decimal.NewFromFloat(2),
				decimal.NewFromFloat(10),
			))
		case "market-maker":
			eng.RegisterStrategy(strategy.NewMarketMaker(logger,
				decimal.NewFromFloat(0.01),
				decimal.NewFromFloat(20),
				decimal.NewFromFloat(10),
				st,
			))
		case "bregman-arb":
			arbStrategy = arbitrage.New(logger, md, st, arbitrage.Config{
				FeeRate:             decimal.NewFromFloat(0.02),
				MinEdge:             decimal.NewFromFloat(0.01),
				DivergenceThreshold: decimal.NewFromFloat(0.03),
				BaseSize:            decimal.NewFromFloat(10),
				MaxPositionSize:     cfg.RiskLimits.MaxPositionSize,
				StatsLogInterval:    "@every 5m",
			})
			eng.RegisterStrategy(arbStrategy)
		default:
			return nil, fmt.Errorf("unknown strategy %q", name)
		}
	}
	return arbStrategy, nil
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalColorLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := cfg.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
