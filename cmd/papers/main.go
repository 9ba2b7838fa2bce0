// Package main runs the daily papers service.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/JakeFAU/daily-papers/internal/config"
	"github.com/JakeFAU/daily-papers/internal/logging"
	"github.com/JakeFAU/daily-papers/internal/server"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	zap.ReplaceGlobals(logger)

	ctx := context.Background()
	app, err := server.Build(ctx, cfg, logger, nil)
	if err != nil {
		logger.Fatal("build application failed", zap.Error(err))
	}
	if err := app.Run(ctx); err != nil {
		logger.Fatal("application stopped with error", zap.Error(err))
	}
}
