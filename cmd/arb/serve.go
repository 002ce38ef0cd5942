package main

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/groblegark/arbiter/internal/aggregate"
	"github.com/groblegark/arbiter/internal/archive"
	"github.com/groblegark/arbiter/internal/chain/neo"
	"github.com/groblegark/arbiter/internal/checkpoint"
	"github.com/groblegark/arbiter/internal/config"
	"github.com/groblegark/arbiter/internal/evaluation"
	"github.com/groblegark/arbiter/internal/events"
	"github.com/groblegark/arbiter/internal/loop"
	"github.com/groblegark/arbiter/internal/maintenance"
	"github.com/groblegark/arbiter/internal/outcome"
	"github.com/groblegark/arbiter/internal/period"
	"github.com/groblegark/arbiter/internal/processor"
	"github.com/groblegark/arbiter/internal/queue"
	"github.com/groblegark/arbiter/internal/server"
	"github.com/groblegark/arbiter/internal/store/postgres"
	"github.com/groblegark/arbiter/internal/watcher"
	"github.com/spf13/cobra"
)

// healthInterval is how often the gRPC health status is refreshed.
const healthInterval = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Short:   "Start the arbiter HTTP and gRPC servers with ingestion",
	GroupID: "system",
	Args:    cobra.NoArgs,
	// Override PersistentPreRunE so we don't create an API client.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		slog.SetDefault(logger)

		cfg, err := config.Load()
		if err != nil {
			return err
		}

		store, err := postgres.New(cfg.DatabaseURL)
		if err != nil {
			return err
		}

		var publisher events.Publisher
		if cfg.NATSURL != "" {
			pub, err := events.NewNATSPublisher(cfg.NATSURL)
			if err != nil {
				store.Close()
				return err
			}
			publisher = pub
			logger.Info("notifications enabled", "nats_url", cfg.NATSURL)
		} else {
			publisher = &events.NoopPublisher{}
			logger.Info("notifications disabled (ARBITER_NATS_URL not set)")
		}

		// Consensus services.
		cache := aggregate.NewCache(aggregate.DefaultTTL)
		cache.StartReaper(time.Minute)
		calc := outcome.New(store, publisher)
		q := queue.New(store)
		c := server.Components{
			Store:       store,
			Queue:       q,
			Maintenance: maintenance.New(store, q, logger),
			Evaluations: evaluation.NewService(store, cache, publisher),
			Assessments: aggregate.New(store, cache),
			Outcomes:    calc,
			Periods:     period.New(store, calc, publisher, logger),
		}

		// Ingestion: the worker always drains the queue so replays and
		// retries run even without a ledger.
		proc := processor.New(store, q, cache, publisher, logger)
		loops := []*loop.Loop{
			loop.New("queue-worker", cfg.WorkerInterval, queue.NewWorker(q, proc, logger).Tick, logger),
			loop.New("voting-sweep", cfg.SweepInterval, c.Periods.Tick, logger),
			loop.New("maintenance", cfg.MaintenanceInterval, c.Maintenance.Tick, logger),
		}

		var ledger *neo.Ledger
		if cfg.RPCURL != "" {
			ledger, err = neo.Dial(context.Background(), cfg.RPCURL, cfg.RPCTimeout)
			if err != nil {
				publisher.Close()
				store.Close()
				return err
			}
			c.Checkpoints = checkpoint.New(store, ledger)
			c.Watcher = watcher.New(ledger, c.Checkpoints, q, cfg.PollInterval, logger)

			contracts := make([]watcher.Contract, len(cfg.Contracts))
			for i, ct := range cfg.Contracts {
				contracts[i] = watcher.Contract{Address: ct.Address, Events: ct.Events}
			}
			if err := c.Watcher.Initialize(context.Background(), contracts); err != nil {
				logger.Error("some contracts could not be watched", "err", err)
			}
			logger.Info("ingestion enabled", "rpc_url", cfg.RPCURL, "contracts", len(contracts))
		} else {
			logger.Info("ingestion disabled (ARBITER_RPC_URL not set)")
		}

		if cfg.ArchiveInterval > 0 && cfg.ArchiveS3Bucket != "" {
			s3Dest, err := archive.NewS3Destination(
				context.Background(),
				cfg.ArchiveS3Bucket,
				cfg.ArchiveS3Key,
				cfg.ArchiveS3Region,
				cfg.ArchiveS3Endpoint,
			)
			if err != nil {
				logger.Error("failed to create S3 archive destination", "err", err)
			} else {
				archiver := archive.New(store, []archive.Destination{s3Dest}, 0, logger)
				loops = append(loops, loop.New("archive", cfg.ArchiveInterval, archiver.Tick, logger))
				logger.Info("archive enabled", "destination", s3Dest.String(), "interval", cfg.ArchiveInterval)
			}
		}

		srv := server.New(c)
		loops = append(loops, loop.New("health", healthInterval, srv.UpdateHealth, logger))
		for _, l := range loops {
			l.Start()
		}

		grpcServer := server.NewGRPCServer(srv, cfg.AuthToken)
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			for _, l := range loops {
				l.Stop()
			}
			if c.Watcher != nil {
				c.Watcher.StopAll()
				ledger.Close()
			}
			cache.Stop()
			publisher.Close()
			store.Close()
			return err
		}
		go func() {
			logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
			if err := grpcServer.Serve(lis); err != nil {
				logger.Error("gRPC server error", "err", err)
			}
		}()

		httpServer := &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           srv.NewHTTPHandler(cfg.AuthToken),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("HTTP server error", "err", err)
			}
		}()

		logger.Info("arbiter server started",
			"grpc_addr", cfg.GRPCAddr,
			"http_addr", cfg.HTTPAddr,
		)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		logger.Info("received signal, shutting down", "signal", sig)

		// Stop accepting work before the background actors go away.
		srv.Shutdown()
		grpcServer.GracefulStop()
		logger.Info("gRPC server stopped")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", "err", err)
		}
		logger.Info("HTTP server stopped")

		if c.Watcher != nil {
			c.Watcher.StopAll()
			ledger.Close()
			logger.Info("watchers stopped")
		}
		for _, l := range loops {
			l.Stop()
		}
		cache.Stop()
		logger.Info("background loops stopped")

		if err := publisher.Close(); err != nil {
			logger.Error("error closing publisher", "err", err)
		}
		if err := store.Close(); err != nil {
			logger.Error("error closing store", "err", err)
		}

		logger.Info("shutdown complete")
		return nil
	},
}
