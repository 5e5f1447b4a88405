package main

import (
	"context"
	"fmt"
	"os"

	"skysolve/internal/cli"
	"skysolve/internal/config"
	"skysolve/internal/db"
	"skysolve/internal/logging"
	"skysolve/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	log, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to setup logging:", err)
		os.Exit(1)
	}

	var history *db.History
	if cfg.Database.HistoryPath != "" {
		history, err = db.OpenHistory(cfg.Database.HistoryPath)
		if err != nil {
			log.Warn("solve history disabled", "path", cfg.Database.HistoryPath, "error", err)
			history = nil
		} else {
			defer history.Close()
		}
	}

	service := pipeline.NewService(cfg, log)
	pipe := pipeline.New(context.Background(), cfg.Processing.ParallelJobs, cfg.Processing.QueueSize, service, log, history)
	defer pipe.Stop()

	rootCmd := cli.NewRootCmd(cfg, log, history, service, pipe)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
