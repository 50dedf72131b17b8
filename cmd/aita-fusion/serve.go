package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/aitastack/aita-fusion/internal/api"
	"github.com/aitastack/aita-fusion/internal/metrics"
	"github.com/aitastack/aita-fusion/internal/scheduler"
	"github.com/aitastack/aita-fusion/internal/services"
	"github.com/aitastack/aita-fusion/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gRPC service, metrics endpoint and scheduled jobs",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("starting aita-fusion", slog.String("address", cfg.Server.Address), slog.String("version", version))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.InitTracing(ctx, cfg.Tracing, version, logger)
	if err != nil {
		logger.Warn("tracing disabled", slog.Any("error", err))
	}
	defer telemetry.Flush(context.Background(), shutdownTracing, logger)

	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	service := services.NewFusionService(logger, a.pipeline, a.checks...)
	server, err := api.NewServer(logger, cfg.Server, service)
	if err != nil {
		return err
	}
	go server.MonitorDependencies(ctx, cfg.Server.HealthInterval, a.checks)

	var dispatcher *scheduler.Dispatcher
	if cfg.Scheduler.Enabled {
		dispatcher = scheduler.NewDispatcher(logger, scheduler.Config{
			Workers: cfg.Scheduler.QueueWorkers,
			Depth:   cfg.Scheduler.QueueDepth,
		})
		jobs := scheduler.NewJobs(logger, dispatcher, a.pipeline)
		if err := jobs.Register(scheduler.Schedules{
			Correlation: cfg.Scheduler.CorrelationSchedule,
			Retrain:     cfg.Scheduler.RetrainSchedule,
			FeedSync:    feedSchedule(cfg.Feed.BaseURL, cfg.Scheduler.FeedSyncSchedule),
		}); err != nil {
			return err
		}
		dispatcher.Start(ctx)
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      newHTTPRouter(service),
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		if serveErr := server.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)
	if dispatcher != nil {
		if err := dispatcher.Stop(shutdownCtx); err != nil {
			logger.Warn("scheduler shutdown", slog.Any("error", err))
		}
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
	}

	logger.Info("aita-fusion stopped")
	return nil
}

// newHTTPRouter exposes Prometheus metrics and a JSON health summary.
func newHTTPRouter(service *services.FusionService) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", func(w http.ResponseWriter, req *http.Request) {
		resp, err := service.HealthCheck(req.Context(), nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		body, err := resp.MarshalJSON()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if resp.GetFields()["status"].GetStringValue() != "SERVING" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_, _ = w.Write(body)
	}).Methods(http.MethodGet)
	return r
}

// feedSchedule drops the feed sync job when no feed is configured.
func feedSchedule(baseURL, spec string) string {
	if baseURL == "" {
		return ""
	}
	return spec
}
