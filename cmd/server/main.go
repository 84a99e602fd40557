// DishPay - Wallet ledger and payout engine for food-delivery marketplaces
package main

import (
	"context"
	"os"

	"github.com/dishpay/dishpay/internal/config"
	"github.com/dishpay/dishpay/internal/logging"
	"github.com/dishpay/dishpay/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	// Create logger
	logger := logging.New("info", "text")

	logger.Info("starting dishpay",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"commission_percent", cfg.CommissionPercent,
		"hold_hours", cfg.HoldHours,
		"operating_tz", cfg.OperatingTZ,
	)

	// Create and run server
	srv, err := server.New(cfg, server.WithLogger(logger))
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := srv.Run(ctx); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
