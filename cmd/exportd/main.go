package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/worksuite/exportd/internal/artifact"
	"github.com/worksuite/exportd/internal/config"
	"github.com/worksuite/exportd/internal/export"
	"github.com/worksuite/exportd/internal/metrics"
	"github.com/worksuite/exportd/internal/reaper"
	"github.com/worksuite/exportd/internal/repository"
	"github.com/worksuite/exportd/internal/server"
	"github.com/worksuite/exportd/internal/source"
	"github.com/worksuite/exportd/internal/tenant"
	"github.com/worksuite/exportd/internal/worker"
)

func main() {
	root := &cobra.Command{
		Use:          "exportd",
		Short:        "Tenant data export service",
		SilenceUsage: true,
	}
	root.AddCommand(serveCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the export gateway, worker pool, and retention reaper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "configs/default.yaml", "path to the YAML configuration file")
	return cmd
}

func serve(parent context.Context, configPath string) error {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(log)

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Error("load config failed", "path", configPath, "err", err)
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	jobDB, err := repository.Open(ctx, repository.Config{
		Path:        cfg.Database.Path,
		BusyTimeout: cfg.Database.BusyTimeout,
	}, log)
	if err != nil {
		log.Error("open job store failed", "err", err)
		return err
	}
	defer jobDB.Close()
	jobs := repository.NewJobRepository(jobDB, log)

	businessDB, err := source.OpenBusiness(ctx, cfg.Database.BusinessPath)
	if err != nil {
		log.Error("open business database failed", "path", cfg.Database.BusinessPath, "err", err)
		return err
	}
	defer businessDB.Close()
	sources := source.BusinessSources(businessDB, cfg.Artifacts.AttachmentRoot)

	artifacts, err := artifact.NewStore(cfg.Artifacts.Dir, log)
	if err != nil {
		log.Error("open artifact store failed", "dir", cfg.Artifacts.Dir, "err", err)
		return err
	}

	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	runner := worker.NewRunner(jobs, artifacts, sources, collector, worker.RunnerConfig{
		TTL:               cfg.Retention.ArtifactTTL,
		ModuleTimeout:     cfg.Worker.ModuleTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
	}, log)
	queue := worker.NewQueue(runner, log,
		worker.WithWorkers(cfg.Worker.Count),
		worker.WithQueueSize(cfg.Worker.QueueSize),
	)
	if err := queue.ResumeQueued(ctx); err != nil {
		log.Error("resume queued jobs failed", "err", err)
		return err
	}

	sweeper := reaper.New(jobs, artifacts, collector, reaper.Config{
		Interval:        cfg.Retention.ReapInterval,
		LivenessTimeout: cfg.Retention.LivenessTimeout,
		RecordRetention: cfg.Retention.RecordRetention,
	}, log)
	go sweeper.Run(ctx)

	grants := make(map[string][]string, len(cfg.Operators))
	for _, g := range cfg.Operators {
		grants[g.ID] = g.Tenants
	}
	authorizer, err := tenant.NewStaticAuthorizer(grants)
	if err != nil {
		log.Error("invalid operator grants", "err", err)
		return err
	}

	svc := export.NewService(jobs, artifacts, queue, collector, cfg.Retention.ArtifactTTL, log)

	gateway, err := server.New(svc, authorizer, server.Config{
		PollRatePerSec: cfg.Server.PollRatePerSec,
		PollBurst:      cfg.Server.PollBurst,
	}, log)
	if err != nil {
		log.Error("build gateway failed", "err", err)
		return err
	}

	apiSrv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      gateway.Routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: cfg.Server.MetricsAddr, Handler: metricsMux}

	errCh := make(chan error, 2)
	go func() {
		log.Info("gateway listening", "addr", cfg.Server.Addr)
		if err := apiSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("gateway: %w", err)
		}
	}()
	go func() {
		log.Info("metrics listening", "addr", cfg.Server.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Error("server failed", "err", err)
		stop()
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := apiSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("gateway shutdown incomplete", "err", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("metrics shutdown incomplete", "err", err)
	}
	queue.Shutdown(shutdownCtx)

	log.Info("exportd stopped")
	return nil
}
