// Escrowd - trustless escrow service for autonomous agents
package main

import (
	"context"
	"os"

	"github.com/Kaydot97/DecentralizedEscrow/internal/config"
	"github.com/Kaydot97/DecentralizedEscrow/internal/logging"
	"github.com/Kaydot97/DecentralizedEscrow/internal/server"
)

// Build info - set by ldflags
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	logger := logging.New("info", "text")

	logger.Info("starting escrowd",
		"version", Version,
		"commit", Commit,
		"build_time", BuildTime,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"owner", cfg.OwnerAddress,
		"fee_rate_bps", cfg.FeeRateBps,
	)

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
