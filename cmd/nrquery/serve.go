package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/miradorstack/nrquery/internal/api"
	"github.com/miradorstack/nrquery/internal/engine"
	"github.com/miradorstack/nrquery/internal/httpserver"
	"github.com/miradorstack/nrquery/internal/metrics"
)

func newServeCmd(global *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the gRPC and HTTP APIs and run scheduled reports",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(global)
			if err != nil {
				return err
			}
			defer a.Close()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	logger := a.logger
	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	reports, err := engine.LoadReports(a.cfg.Reports.Path)
	if err != nil {
		return fmt.Errorf("load reports: %w", err)
	}
	scheduler := engine.NewScheduler(a.runner, logger, a.cfg.NerdGraph.Timeout*time.Duration(a.cfg.NerdGraph.MaxRetries+1))
	for _, report := range reports {
		if err := scheduler.Add(report); err != nil {
			return err
		}
	}

	grpcServer, err := api.NewServer(a.cfg.Server, api.NewQueryService(logger, a.runner))
	if err != nil {
		return fmt.Errorf("create gRPC server: %w", err)
	}
	httpServer := httpserver.NewServer(a.cfg.Server.HTTPAddress, a.runner, prometheus.DefaultGatherer, logger)
	if err := httpServer.Start(); err != nil {
		grpcServer.Shutdown(ctx)
		return fmt.Errorf("start HTTP server: %w", err)
	}

	logger.Info("nrquery serving",
		slog.String("grpc", grpcServer.Address()),
		slog.String("http", httpServer.Address()),
		slog.Int("reports", scheduler.Len()),
		slog.String("version", version),
	)
	scheduler.Start()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := grpcServer.Start(); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), grpcServer.GracefulTimeout())
		defer cancel()

		scheduler.Stop(shutdownCtx)
		grpcServer.Shutdown(shutdownCtx)
		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Warn("http server shutdown", slog.Any("error", err))
		}
		return nil
	})

	err = g.Wait()
	logger.Info("nrquery stopped")
	return err
}
