// Package config loads the engine's environment-driven configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/atlas-desktop/arb-engine/pkg/types"
)

// Config is the fully-resolved, typed configuration for one engine run.
type Config struct {
	// Connection
	CLOBBaseURL        string
	ChainID             int64
	PrivateKey          string
	CLOBAPIKey          string
	CLOBAPISecret       string
	CLOBAPIPassphrase   string
	DryRun              bool

	// Strategy selection
	Strategies []string
	TokenIDs   []string

	// Risk limits
	RiskLimits types.RiskLimits

	// Discovery
	GammaTags             []string
	GammaRefreshInterval  time.Duration
	GammaBaseURL          string
	GammaLimit            int

	// Market data
	MarketDataPollInterval time.Duration

	// Ambient
	LogLevel       string
	DataDir        string
	DashboardHost  string
	DashboardPort  int
}

// Load builds a Config from the process environment, applying the
// defaults documented in SPEC_FULL.md §6. It returns a configuration
// error (fatal at startup, per the error taxonomy in SPEC_FULL.md §7) if
// no strategies are configured.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()

	v.SetDefault("DRY_RUN", true)
	v.SetDefault("CLOB_BASE_URL", "https://clob.polymarket.com")
	v.SetDefault("CHAIN_ID", 137)
	v.SetDefault("MAX_POSITION_SIZE", "100")
	v.SetDefault("MAX_TOTAL_EXPOSURE", "500")
	v.SetDefault("MAX_LOSS_PER_TRADE", "20")
	v.SetDefault("MAX_DAILY_LOSS", "50")
	v.SetDefault("MAX_OPEN_ORDERS", 20)
	v.SetDefault("GAMMA_BASE_URL", "https://gamma-api.polymarket.com")
	v.SetDefault("GAMMA_REFRESH_INTERVAL", "30s")
	v.SetDefault("GAMMA_LIMIT", 100)
	v.SetDefault("MARKET_DATA_POLL_INTERVAL", "1s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("DASHBOARD_HOST", "0.0.0.0")
	v.SetDefault("DASHBOARD_PORT", 8090)

	strategies := splitCSV(v.GetString("STRATEGIES"))
	if len(strategies) == 0 {
		return nil, fmt.Errorf("config: STRATEGIES is required (comma-separated from market-maker, momentum, mean-reversion, bregman-arb)")
	}

	refresh, err := time.ParseDuration(v.GetString("GAMMA_REFRESH_INTERVAL"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid GAMMA_REFRESH_INTERVAL: %w", err)
	}
	pollInterval, err := time.ParseDuration(v.GetString("MARKET_DATA_POLL_INTERVAL"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid MARKET_DATA_POLL_INTERVAL: %w", err)
	}

	limits := types.RiskLimits{
		MaxPositionSize:  mustDecimal(v.GetString("MAX_POSITION_SIZE")),
		MaxTotalExposure: mustDecimal(v.GetString("MAX_TOTAL_EXPOSURE")),
		MaxLossPerTrade:  mustDecimal(v.GetString("MAX_LOSS_PER_TRADE")),
		MaxDailyLoss:     mustDecimal(v.GetString("MAX_DAILY_LOSS")),
		MaxOpenOrders:    v.GetInt("MAX_OPEN_ORDERS"),
	}

	cfg := &Config{
		CLOBBaseURL:            v.GetString("CLOB_BASE_URL"),
		ChainID:                v.GetInt64("CHAIN_ID"),
		PrivateKey:             v.GetString("PRIVATE_KEY"),
		CLOBAPIKey:             v.GetString("CLOB_API_KEY"),
		CLOBAPISecret:          v.GetString("CLOB_API_SECRET"),
		CLOBAPIPassphrase:      v.GetString("CLOB_API_PASSPHRASE"),
		DryRun:                 v.GetBool("DRY_RUN") || v.GetString("PRIVATE_KEY") == "",
		Strategies:             strategies,
		TokenIDs:               splitCSV(v.GetString("TOKEN_IDS")),
		RiskLimits:             limits,
		GammaTags:              splitCSV(v.GetString("GAMMA_TAGS")),
		GammaRefreshInterval:   refresh,
		GammaBaseURL:           v.GetString("GAMMA_BASE_URL"),
		GammaLimit:             v.GetInt("GAMMA_LIMIT"),
		MarketDataPollInterval: pollInterval,
		LogLevel:               v.GetString("LOG_LEVEL"),
		DataDir:                v.GetString("DATA_DIR"),
		DashboardHost:          v.GetString("DASHBOARD_HOST"),
		DashboardPort:          v.GetInt("DASHBOARD_PORT"),
	}
	return cfg, nil
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
