// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/ManuGH/autocast/internal/config"
	"github.com/ManuGH/autocast/internal/daemon"
	aclog "github.com/ManuGH/autocast/internal/log"
	"github.com/ManuGH/autocast/internal/version"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version.Version, version.Commit, version.Date)
		os.Exit(0)
	}

	aclog.Configure(aclog.Config{Service: "autocast"})
	logger := aclog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config path: explicit via --config, otherwise ${AUTOCAST_DATA_DIR}/config.yaml
	// when present.
	effectiveConfigPath := strings.TrimSpace(*configPath)
	if effectiveConfigPath == "" {
		dataDir := strings.TrimSpace(config.ParseString("AUTOCAST_DATA_DIR", "./data"))
		autoPath := filepath.Join(dataDir, "config.yaml")
		if _, err := os.Stat(autoPath); err == nil {
			effectiveConfigPath = autoPath
		}
	}

	cfg, err := config.Load(effectiveConfigPath)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "config.load_failed").
			Str("config_path", effectiveConfigPath).
			Msg("failed to load configuration")
	}

	deps, err := daemon.Bootstrap(ctx, cfg)
	if err != nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.bootstrap_failed").
			Msg("failed to assemble daemon")
	}
	defer deps.Close(context.Background())

	logger.Info().
		Str("event", "daemon.start").
		Str("listen", cfg.Listen).
		Str("data_dir", cfg.DataDir).
		Str("kv_backend", cfg.KVBackend).
		Str("version", version.Version).
		Msg("autocast daemon starting")

	app := daemon.NewApp(deps)
	if err := app.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Fatal().
			Err(err).
			Str("event", "daemon.failed").
			Msg("daemon terminated with error")
	}
	logger.Info().Str("event", "daemon.stopped").Msg("shutdown complete")
}
