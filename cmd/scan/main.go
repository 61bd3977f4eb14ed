package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"aster-funding-bot/internal/asterdex/rest"
	"aster-funding-bot/internal/asterdex/ws"
	"aster-funding-bot/internal/config"
	"aster-funding-bot/internal/logging"
	"aster-funding-bot/internal/scanner"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	watch := flag.Bool("watch", false, "stream funding updates for the scanned symbols")
	symbols := flag.String("symbols", "", "comma-separated symbols to watch instead of the scan result")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}
	log := logging.New(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Premium index endpoints are public, credentials are optional here.
	client := rest.New(cfg.REST, os.Getenv("ASTERDEX_API_KEY"), os.Getenv("ASTERDEX_API_SECRET"), log)
	scan := scanner.New(client, cfg.Scanner, log)

	opps, err := scan.Scan(ctx)
	if err != nil {
		log.Error("scan failed", zap.Error(err))
		os.Exit(1)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(opps); err != nil {
		fmt.Fprintf(os.Stderr, "failed to encode scan result: %v\n", err)
		os.Exit(1)
	}

	if !*watch {
		return
	}
	watchList := make([]string, 0, len(opps))
	if *symbols != "" {
		for _, sym := range strings.Split(*symbols, ",") {
			if sym = strings.TrimSpace(sym); sym != "" {
				watchList = append(watchList, sym)
			}
		}
	} else {
		for _, opp := range opps {
			watchList = append(watchList, opp.Symbol)
		}
	}
	if len(watchList) == 0 {
		log.Warn("nothing to watch")
		return
	}

	stream := ws.New(cfg.Scanner.WSURL, 2*time.Second, 30*time.Second, log)
	log.Info("watching funding", zap.Strings("symbols", watchList))
	err = scan.Watch(ctx, stream, watchList, func(opp scanner.Opportunity) {
		log.Info("funding update",
			zap.String("symbol", opp.Symbol),
			zap.Float64("rate", opp.FundingRate),
			zap.Float64("apr", opp.APR),
			zap.Float64("mark_price", opp.MarkPrice),
			zap.Time("next_funding", opp.NextFunding))
	})
	if err != nil && ctx.Err() == nil {
		log.Error("watch failed", zap.Error(err))
		os.Exit(1)
	}
}
