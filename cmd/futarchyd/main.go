// Package main runs the futarchy daemon: the engine behind the HTTP and
// websocket API, the cranker, and the event sinks (event log, observation
// timeseries, Redis, S3 archive).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	s3archive "futarchy-core/internal/archive/s3"
	rbroker "futarchy-core/internal/broker/redis"
	"futarchy-core/internal/clock"
	"futarchy-core/internal/config"
	"futarchy-core/internal/cranker"
	"futarchy-core/internal/engine"
	"futarchy-core/internal/events"
	"futarchy-core/internal/logging"
	"futarchy-core/internal/server"
	"futarchy-core/internal/server/ws"
	"futarchy-core/internal/solana"
	"futarchy-core/internal/storage"
	chstore "futarchy-core/internal/storage/clickhouse"
	"futarchy-core/internal/storage/memory"
	"futarchy-core/internal/storage/migrations"
	pgstore "futarchy-core/internal/storage/postgres"
	"futarchy-core/internal/token"
)

const shutdownTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", envOr("FUTARCHY_CONFIG", "futarchy.toml"), "Path to TOML config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		case <-done:
			return
		}
		cancel()

		select {
		case sig := <-sigCh:
			logger.Warn("received second signal, forcing immediate shutdown", zap.String("signal", sig.String()))
			os.Exit(1)
		case <-time.After(shutdownTimeout):
			logger.Error("graceful shutdown timed out, forcing exit", zap.Duration("timeout", shutdownTimeout))
			os.Exit(1)
		case <-done:
		}
	}()

	err = run(ctx, cfg, logger)
	close(done)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("daemon failed", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// sinkStores are the history stores behind the event and observation
// sinks.
type sinkStores struct {
	events       storage.EventStore
	observations storage.ObservationStore
	cleanup      []func()
}

func (s *sinkStores) close() {
	for i := len(s.cleanup) - 1; i >= 0; i-- {
		s.cleanup[i]()
	}
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*sinkStores, error) {
	s := &sinkStores{}

	if cfg.Postgres.DSN == "" {
		s.events = memory.NewEventStore()
		logger.Info("event log in memory")
	} else {
		pool, err := pgstore.NewPool(ctx, cfg.Postgres.DSN, pgstore.PoolConfig{
			MaxConns:        cfg.Postgres.MaxConns,
			MaxConnLifetime: cfg.Postgres.ConnLifetime.Duration,
		})
		if err != nil {
			return nil, err
		}
		s.cleanup = append(s.cleanup, pool.Close)
		if cfg.Postgres.RunMigrations {
			if err := migrations.RunPostgresMigrations(ctx, pool, logger); err != nil {
				s.close()
				return nil, err
			}
		}
		s.events = pgstore.NewEventStore(pool)
		logger.Info("event log in postgres")
	}

	if cfg.Clickhouse.DSN == "" {
		s.observations = memory.NewObservationStore()
		logger.Info("observations in memory")
	} else {
		var (
			conn *chstore.Conn
			err  error
		)
		if cfg.Clickhouse.RunMigrations {
			conn, err = migrations.RunClickhouseMigrations(ctx, cfg.Clickhouse.DSN, logger)
		} else {
			conn, err = chstore.NewConn(ctx, cfg.Clickhouse.DSN)
		}
		if err != nil {
			s.close()
			return nil, err
		}
		s.cleanup = append(s.cleanup, func() { conn.Close() })
		s.observations = chstore.NewObservationStore(conn)
		logger.Info("observations in clickhouse")
	}
	return s, nil
}

// slotClock is a clock that may need a background loop.
type slotClock struct {
	clock.Clock
	run   func(context.Context) error
	close func()
}

func openClock(ctx context.Context, cfg config.ClockConfig, logger *zap.Logger) (*slotClock, error) {
	if cfg.Mode != "cluster" {
		logger.Info("local clock",
			zap.Uint64("start_slot", cfg.StartSlot),
			zap.Duration("slot_duration", cfg.SlotDuration.Duration),
		)
		local := clock.NewLocal(cfg.StartSlot, cfg.SlotDuration.Duration)
		return &slotClock{
			Clock: local,
			run: func(ctx context.Context) error {
				clock.Publish(ctx, local, cfg.SlotDuration.Duration, logger)
				return nil
			},
			close: func() {},
		}, nil
	}

	rpc := solana.NewHTTPClient(cfg.RPCEndpoint, solana.WithCommitment(cfg.Commitment))
	var (
		sub    solana.SlotSubscriber
		closer = func() {}
	)
	if cfg.WSEndpoint != "" {
		wsc, err := solana.NewWSClient(ctx, cfg.WSEndpoint, nil, logger)
		if err != nil {
			return nil, fmt.Errorf("connect solana websocket: %w", err)
		}
		sub = wsc
		closer = func() { wsc.Close() }
	}
	cc := solana.NewClusterClock(rpc, sub, cfg.PollInterval.Duration, logger)
	if err := cc.Sync(ctx); err != nil {
		closer()
		return nil, fmt.Errorf("sync cluster slot: %w", err)
	}
	logger.Info("following cluster", zap.String("rpc", cfg.RPCEndpoint), zap.Uint64("slot", cc.Slot()))
	return &slotClock{Clock: cc, run: cc.Run, close: closer}, nil
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting futarchy daemon",
		zap.String("addr", cfg.Server.Addr),
		zap.String("clock", cfg.Clock.Mode),
		zap.Bool("cranker", cfg.Cranker.Enabled),
		zap.Bool("redis", cfg.Redis.Enabled),
		zap.Bool("s3", cfg.S3.Enabled),
	)

	stores, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer stores.close()

	clk, err := openClock(ctx, cfg.Clock, logger.Named("clock"))
	if err != nil {
		return err
	}
	defer clk.close()

	hub := ws.NewHub(logger, clk.Slot)
	sinks := []events.Sink{
		events.NewStoreSink(stores.events),
		events.NewObservationSink(stores.observations),
		hub,
	}

	var (
		locker   *rbroker.Locker
		archiver *s3archive.Archiver
	)
	if cfg.Redis.Enabled {
		rc, err := rbroker.New(ctx, rbroker.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return err
		}
		defer rc.Close()
		sinks = append(sinks, rbroker.NewPublisher(rc, rbroker.PublisherConfig{
			ChannelPrefix: cfg.Redis.ChannelPrefix,
			Stream:        cfg.Redis.Stream,
			StreamMaxLen:  cfg.Redis.StreamMaxLen,
		}))
		locker = rbroker.NewLocker(rc)
	}
	if cfg.S3.Enabled {
		sc, err := s3archive.New(ctx, s3archive.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return err
		}
		if err := sc.Health(ctx); err != nil {
			return err
		}
		archiver = s3archive.NewArchiver(sc.Uploader(), s3archive.ArchiverConfig{
			Bucket:        sc.Bucket(),
			Prefix:        cfg.S3.Prefix,
			BatchSize:     cfg.S3.BatchSize,
			FlushInterval: cfg.S3.FlushInterval.Duration,
		}, logger.Named("archive"))
		sinks = append(sinks, archiver)
	}

	dispatcher := events.NewDispatcher(events.DispatcherConfig{
		QueueSize:    cfg.Events.QueueSize,
		MaxRetries:   cfg.Events.MaxRetries,
		RetryBackoff: cfg.Events.RetryBackoff.Duration,
	}, logger, sinks...)

	eng := engine.New(engine.Config{DaoDefaults: cfg.DaoDefaults}, logger, clk, token.NewLedger(),
		engine.Stores{
			Amms:      memory.NewAmmStore(),
			Questions: memory.NewQuestionStore(),
			Vaults:    memory.NewVaultStore(),
			Daos:      memory.NewDaoStore(),
			Proposals: memory.NewProposalStore(),
		}, dispatcher)

	srv := server.New(server.Config{
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		DevFaucet:    cfg.Server.DevFaucet,
	}, server.Deps{
		Engine:       eng,
		Events:       stores.events,
		Observations: stores.observations,
		Hub:          hub,
	}, logger)

	// Sinks run on their own context so the queue can drain after the
	// emitting components stop.
	sinkCtx, stopSinks := context.WithCancel(context.Background())
	defer stopSinks()
	dispatched := make(chan error, 1)
	go func() { dispatched <- dispatcher.Run(sinkCtx) }()
	archived := make(chan error, 1)
	if archiver != nil {
		go func() { archived <- archiver.Run(sinkCtx) }()
	} else {
		archived <- nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return clk.run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return srv.Run(gctx) })
	if cfg.Cranker.Enabled {
		var opts []cranker.Option
		if locker != nil {
			opts = append(opts, cranker.WithLocker(locker))
		}
		c := cranker.New(eng, cranker.Config{
			Interval:    cfg.Cranker.Interval.Duration,
			AutoExecute: cfg.Cranker.AutoExecute,
			LockKey:     cfg.Cranker.LockKey,
			LockTTL:     cfg.Cranker.LockTTL.Duration,
		}, logger, opts...)
		g.Go(func() error { return c.Run(gctx) })
	}

	runErr := g.Wait()

	logger.Info("draining event sinks")
	dispatcher.Close()
	select {
	case <-dispatched:
	case <-time.After(shutdownTimeout):
		logger.Warn("event queue did not drain in time")
	}
	// Cancelling makes the archiver flush what it still buffers.
	stopSinks()
	if err := <-archived; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("archiver stopped", zap.Error(err))
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
