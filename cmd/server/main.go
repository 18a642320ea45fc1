// File Vault
//
// Entry point: wires all components together and manages graceful shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/shantanudwvd/File-Vault/internal/config"
	"github.com/shantanudwvd/File-Vault/internal/dedup"
	"github.com/shantanudwvd/File-Vault/internal/grpcserver"
	"github.com/shantanudwvd/File-Vault/internal/hasher"
	"github.com/shantanudwvd/File-Vault/internal/ingest"
	"github.com/shantanudwvd/File-Vault/internal/logger"
	"github.com/shantanudwvd/File-Vault/internal/restapi"
	"github.com/shantanudwvd/File-Vault/internal/stats"
	"github.com/shantanudwvd/File-Vault/internal/worker"
	pb "github.com/shantanudwvd/File-Vault/proto"
)

func main() {
	envFile := pflag.String("env-file", ".env", "dotenv file to load before reading the environment")
	migrateOnly := pflag.Bool("migrate-only", false, "apply database migrations and exit")
	migrateDown := pflag.Bool("migrate-down", false, "roll back the latest database migration and exit")
	pflag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		slog.Error("load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	log, flush := logger.New(os.Stdout, cfg.IsDevelopment(), cfg.SentryDSN)
	defer flush()

	if *migrateDown {
		if err := rollbackRecords(cfg, log); err != nil {
			log.Error("migrate down", slog.String("error", err.Error()))
			flush()
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *migrateOnly, log); err != nil {
		log.Error("file vault stopped with error", slog.String("error", err.Error()))
		flush()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, migrateOnly bool, log *slog.Logger) error {
	log.Info("starting file vault",
		slog.String("env", cfg.AppEnv),
		slog.String("db_driver", cfg.DBDriver),
		slog.String("storage", cfg.StorageBackend),
	)

	// ── Record store ──
	repo, closeRepo, err := openRecords(cfg, log)
	if err != nil {
		return err
	}
	defer closeRepo()
	if migrateOnly {
		log.Info("migrations applied, exiting")
		return nil
	}

	// ── Payload store ──
	blobs, err := openPayloads(ctx, cfg, log)
	if err != nil {
		return err
	}

	// ── Core ──
	h, err := hasher.New(cfg.HashAlgorithm)
	if err != nil {
		return err
	}
	resolver, err := dedup.NewResolver(repo, cfg.ResolverCacheSize)
	if err != nil {
		return err
	}
	pipeline := ingest.New(repo, resolver, blobs, h, log)
	aggregator := stats.NewAggregator(repo)

	// ── Worker pool for batch uploads ──
	pool := worker.NewPool(cfg.Workers, pipeline, log)
	pool.Start()
	log.Info("worker pool started", slog.Int("workers", cfg.Workers))

	// ── gRPC server ──
	grpcSrv := grpc.NewServer(
		grpc.MaxRecvMsgSize(int(cfg.MaxUploadBytes)+(1<<20)),
	)
	pb.RegisterFileServiceServer(grpcSrv, grpcserver.NewServer(pipeline, aggregator, log))

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		pool.Shutdown()
		return fmt.Errorf("listen gRPC: %w", err)
	}

	// ── REST API ──
	handler := restapi.NewHandler(pipeline, aggregator, pool, repo, blobs, cfg.MaxUploadBytes, log)
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("gRPC server listening", slog.String("addr", cfg.GRPCAddr))
		if err := grpcSrv.Serve(lis); err != nil {
			return fmt.Errorf("gRPC serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		log.Info("HTTP server listening", slog.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP serve: %w", err)
		}
		return nil
	})

	// ── Graceful shutdown (SIGINT / SIGTERM or a server failure) ──
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")

		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		// 1. Stop accepting new HTTP requests.
		if err := httpSrv.Shutdown(shutCtx); err != nil {
			log.Error("HTTP shutdown", slog.String("error", err.Error()))
		}
		log.Info("HTTP server stopped")

		// 2. Stop gRPC server gracefully.
		stopped := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutCtx.Done():
			grpcSrv.Stop()
		}
		log.Info("gRPC server stopped")

		// 3. Drain worker pool.
		pool.Shutdown()
		log.Info("worker pool drained")
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("file vault shutdown complete")
	return nil
}
