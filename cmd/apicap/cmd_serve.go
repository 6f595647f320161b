package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/sadopc/apicap/internal/capture"
	"github.com/sadopc/apicap/internal/config"
	"github.com/sadopc/apicap/internal/proxy"
	"github.com/sadopc/apicap/internal/webapi"
)

func serveCmd() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	configFlag := fs.String("config", "", "Path to a YAML config file")
	dbFlag := fs.String("db", "", "SQLite database path (overrides config)")
	listenFlag := fs.String("listen", "127.0.0.1:8888", "Proxy listen address")
	apiFlag := fs.String("api", "127.0.0.1:8889", "Read-API listen address (empty disables)")
	filterFlag := fs.String("filter", "", "JS filter expression (overrides config)")
	thresholdFlag := fs.String("threshold", "", "Similarity threshold 0-1 (overrides config)")
	windowFlag := fs.Int("window", 0, "Similarity window in seconds (overrides config)")
	noDedupFlag := fs.Bool("no-dedup", false, "Disable all deduplication")
	noFuzzyFlag := fs.Bool("no-fuzzy", false, "Disable fuzzy deduplication")
	verboseFlag := fs.Bool("verbose", false, "Debug logging")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: apicap serve [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Run the capture proxy and the read API.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		fs.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  apicap serve --db ./api_data.db\n")
		fmt.Fprintf(os.Stderr, "  apicap serve --filter 'host === \"api.example.com\"'\n")
		fmt.Fprintf(os.Stderr, "  apicap serve --threshold 0.9 --window 300\n")
	}
	if err := fs.Parse(os.Args[2:]); err != nil {
		os.Exit(2)
	}

	level := slog.LevelInfo
	if *verboseFlag {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if *dbFlag != "" {
		cfg.DBPath = *dbFlag
	}
	if *filterFlag != "" {
		cfg.FilterExpr = *filterFlag
	}
	if *thresholdFlag != "" {
		cfg.SimilarityThreshold = *thresholdFlag
	}
	if *windowFlag > 0 {
		cfg.SimilarityWindowSeconds = *windowFlag
	}
	if *noDedupFlag {
		cfg.DedupEnabled = false
	}
	if *noFuzzyFlag {
		cfg.FuzzyDedupEnabled = false
	}

	pipeline, err := capture.New(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	proxySrv := &http.Server{
		Addr:    *listenFlag,
		Handler: proxy.New(pipeline, logger),
	}
	go func() {
		logger.Info("proxy listening", "addr", *listenFlag, "db", cfg.DBPath)
		if err := proxySrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("proxy server", "error", err)
			cancel()
		}
	}()

	var apiSrv *http.Server
	if *apiFlag != "" {
		apiSrv = &http.Server{
			Addr:    *apiFlag,
			Handler: webapi.NewServer(pipeline, logger).Handler(),
		}
		go func() {
			logger.Info("read api listening", "addr", *apiFlag)
			if err := apiSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("read api server", "error", err)
				cancel()
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	proxySrv.Shutdown(shutdownCtx)
	if apiSrv != nil {
		apiSrv.Shutdown(shutdownCtx)
	}
	if err := pipeline.Shutdown(); err != nil {
		logger.Error("closing store", "error", err)
		os.Exit(1)
	}
}
