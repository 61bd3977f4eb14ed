package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"aster-funding-bot/internal/app"
	"aster-funding-bot/internal/batch"
	"aster-funding-bot/internal/config"
	"aster-funding-bot/internal/logging"
	"aster-funding-bot/internal/state/sqlite"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	historyRun := flag.String("history", "", "print the journaled rounds for a run id and exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)
	log.Info("config loaded", zap.String("path", *configPath))

	if *historyRun != "" {
		if err := printHistory(cfg.State.SQLitePath, *historyRun); err != nil {
			log.Error("failed to read run history", zap.Error(err))
			os.Exit(1)
		}
		return
	}

	application, err := app.New(cfg, log)
	if err != nil {
		log.Error("failed to initialize app", zap.Error(err))
		os.Exit(1)
	}
	log.Info("app initialized", zap.String("run_id", application.RunID()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := application.Run(ctx)
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("run terminated", zap.Error(err))
		os.Exit(1)
	}
	printSummary(summary)
	if !summary.Clean() {
		os.Exit(2)
	}
}

func printHistory(sqlitePath, runID string) error {
	store, err := sqlite.New(sqlitePath)
	if err != nil {
		return err
	}
	defer store.Close()
	rounds, err := store.RoundsForRun(context.Background(), runID)
	if err != nil {
		return err
	}
	for _, payload := range rounds {
		fmt.Println(payload)
	}
	return nil
}

func printSummary(summary batch.Summary) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode summary: %v\n", err)
	}
}
