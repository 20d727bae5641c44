// Package main audits the durable event log written by futarchyd.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"futarchy-core/internal/config"
	"futarchy-core/internal/domain"
	"futarchy-core/internal/logging"
	"futarchy-core/internal/storage"
	chstore "futarchy-core/internal/storage/clickhouse"
	pgstore "futarchy-core/internal/storage/postgres"
	"futarchy-core/internal/verification"
)

func main() {
	configPath := flag.String("config", envOr("FUTARCHY_CONFIG", "futarchy.toml"), "Path to TOML config file")
	startSlot := flag.Uint64("start", 0, "First slot to verify")
	endSlot := flag.Uint64("end", math.MaxUint64, "Slot to stop before")
	principal := flag.String("principal", "", "Verify one principal's full history instead of a slot range")
	skipObservations := flag.Bool("skip-observations", false, "Do not check the observation timeseries")
	outputJSON := flag.Bool("json", false, "Output as JSON")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Postgres.DSN == "" {
		logger.Fatal("postgres dsn is required: the in-memory event log does not outlive the daemon")
	}
	if *startSlot >= *endSlot {
		logger.Fatal("start must be before end", zap.Uint64("start", *startSlot), zap.Uint64("end", *endSlot))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
		cancel()
	}()

	pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN, pgstore.PoolConfig{MaxConns: cfg.Postgres.MaxConns})
	if err != nil {
		logger.Fatal("connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	var observations storage.ObservationStore
	if cfg.Clickhouse.DSN != "" && !*skipObservations {
		conn, err := chstore.NewConn(ctx, cfg.Clickhouse.DSN)
		if err != nil {
			logger.Fatal("connect to clickhouse", zap.Error(err))
		}
		defer conn.Close()
		observations = chstore.NewObservationStore(conn)
	}

	v := verification.New(pgstore.NewEventStore(pool), observations)

	var rep *verification.Report
	if *principal != "" {
		p, err := domain.ParseAddress(*principal)
		if err != nil {
			logger.Fatal("parse principal", zap.Error(err))
		}
		logger.Info("verifying principal", zap.String("principal", p.String()))
		rep, err = v.VerifyPrincipal(ctx, p)
	} else {
		logger.Info("verifying slot range", zap.Uint64("start", *startSlot), zap.Uint64("end", *endSlot))
		rep, err = v.VerifyRange(ctx, *startSlot, *endSlot)
	}
	if err != nil {
		logger.Fatal("verification failed", zap.Error(err))
	}

	if *outputJSON {
		output, _ := json.MarshalIndent(rep, "", "  ")
		fmt.Println(string(output))
	} else {
		printReport(rep, observations != nil)
	}
	if !rep.Match() {
		os.Exit(1)
	}
}

func printReport(rep *verification.Report, observations bool) {
	fmt.Printf("\n=== Verification Summary ===\n")
	fmt.Printf("Slots:           [%d, %d)\n", rep.StartSlot, rep.EndSlot)
	fmt.Printf("Events:          %d\n", rep.Events)
	fmt.Printf("Principals:      %d\n", rep.Principals)
	if observations {
		fmt.Printf("Observations:    %d\n", rep.Observations)
	} else {
		fmt.Printf("Observations:    skipped\n")
	}
	fmt.Printf("Divergences:     %d\n", len(rep.Divergences))
	for _, d := range rep.Divergences {
		fmt.Printf("  %s #%d %s: expected %v, got %v\n", d.Principal, d.SeqNum, d.Field, d.Expected, d.Actual)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
