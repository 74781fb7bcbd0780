// Package main - Entry point for the autowatch API server
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"autowatch/internal/bootstrap"
	"autowatch/internal/config"
	"autowatch/internal/logging"
)

const version = "1.0.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

// run returns the exit code so deferred log flushing happens before exit
func run(args []string) int {
	fs := flag.NewFlagSet("autowatch-server", flag.ContinueOnError)
	cfgPath := fs.String("config", "", "Path to config file (.json or .yaml)")
	addr := fs.String("addr", "", "Server address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg := config.Default()
	if *cfgPath != "" {
		loaded, err := config.Load(*cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	cfg.ApplyEnv(os.LookupEnv)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		return 1
	}
	if *addr != "" {
		cfg.Server.Address = *addr
	}

	if err := logging.Initialize(cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logging: %v\n", err)
		return 1
	}
	defer logging.Sync()

	log := logging.With(zap.String("version", version))
	if *cfgPath == "" {
		logging.Warn("no config file given, running with defaults")
	}
	logging.Debug("configuration resolved",
		zap.String("database", cfg.Database.Driver),
		zap.String("billing", cfg.Billing.Provider),
		zap.Bool("monitor", cfg.Monitor.Enabled))

	ctx := context.Background()
	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Error("startup failed", zap.Error(err))
		return 1
	}

	log.Info("autowatch server starting", zap.String("addr", cfg.Server.Address))
	if err := app.Run(ctx); err != nil {
		log.Error("server stopped with error", zap.Error(err))
		return 1
	}
	return 0
}
