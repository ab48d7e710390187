package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/oncallstack/oncall-responder/internal/api"
	"github.com/oncallstack/oncall-responder/internal/cache"
	"github.com/oncallstack/oncall-responder/internal/chatsync"
	"github.com/oncallstack/oncall-responder/internal/config"
	"github.com/oncallstack/oncall-responder/internal/correlate"
	"github.com/oncallstack/oncall-responder/internal/ingest"
	"github.com/oncallstack/oncall-responder/internal/llm"
	"github.com/oncallstack/oncall-responder/internal/metrics"
	"github.com/oncallstack/oncall-responder/internal/models"
	"github.com/oncallstack/oncall-responder/internal/notify"
	"github.com/oncallstack/oncall-responder/internal/retrieval"
	"github.com/oncallstack/oncall-responder/internal/runbooks"
	"github.com/oncallstack/oncall-responder/internal/utils"
	"github.com/oncallstack/oncall-responder/internal/vectorstore"
	"github.com/oncallstack/oncall-responder/internal/workflow"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting oncall-responder", slog.String("address", cfg.Server.Address))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var store cache.Provider = cache.NewMemoryProvider()
	if cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey unavailable, falling back to in-memory correlation store", slog.Any("error", err))
		} else {
			store = provider
		}
	}
	defer store.Close()

	gemini := llm.NewGeminiClient(
		cfg.Gemini.BaseURL,
		cfg.Gemini.APIKey,
		cfg.Gemini.GenerateModel,
		cfg.Gemini.EmbedModel,
		cfg.Gemini.Timeout,
	)

	chroma := vectorstore.NewChromaStore(cfg.Chroma.Endpoint, cfg.Chroma.APIKey, cfg.Chroma.Timeout)

	registry, err := runbooks.Load(cfg.Runbooks.Path)
	if err != nil {
		logger.Error("failed to load service registry", slog.Any("error", err))
		os.Exit(1)
	}

	gateway := notify.NewSlackGateway(cfg.Slack.Token, cfg.Slack.APIURL, cfg.Slack.MaxRetries, logger)
	correlator := correlate.New(store, logger, models.AlertTTL)
	retriever := retrieval.NewService(gemini, chroma, cfg.Workflow.TopK, logger)

	queue := workflow.NewQueue(cfg.Workflow.Workers, cfg.Workflow.QueueSize, logger)
	defer queue.Close()

	orchestrator := workflow.NewOrchestrator(
		correlator, gemini, retriever, gateway, registry, queue,
		workflow.Options{
			Channel:        cfg.Slack.Channel,
			DocsCollection: cfg.Chroma.DocsCollection,
			ChatCollection: cfg.Chroma.ChatCollection,
		},
		logger,
	)

	pipeline := ingest.NewPipeline(gemini, chroma, ingest.Collections{
		Docs: cfg.Chroma.DocsCollection,
		Chat: cfg.Chroma.ChatCollection,
		Code: cfg.Chroma.CodeCollection,
	}, nil, logger)

	syncer := chatsync.New(gateway, pipeline, cfg.ChatSync.Channel, logger)

	handlers := api.NewHandlers(orchestrator, pipeline, syncer, queue, logger)
	server, err := api.NewServer(cfg.Server, handlers)
	if err != nil {
		logger.Error("failed to create HTTP server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var scheduler *cron.Cron
	if cfg.ChatSync.Enabled && cfg.ChatSync.Channel != "" {
		scheduler = cron.New()
		_, err := scheduler.AddFunc(cfg.ChatSync.Schedule, func() {
			if err := syncer.Sync(context.Background()); err != nil {
				metrics.ObserveTaskFailure()
				logger.Error("scheduled chat sync failed", slog.Any("error", err))
			}
		})
		if err != nil {
			logger.Error("invalid chat sync schedule", slog.String("schedule", cfg.ChatSync.Schedule), slog.Any("error", err))
			os.Exit(1)
		}
		scheduler.Start()
		logger.Info("chat sync scheduled", slog.String("schedule", cfg.ChatSync.Schedule), slog.String("channel", cfg.ChatSync.Channel))
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
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
			logger.Error("HTTP server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	if scheduler != nil {
		<-scheduler.Stop().Done()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	server.Shutdown(shutdownCtx)

	if metricsServer != nil {
		metricsCtx, cancelMetrics := context.WithTimeout(context.Background(), 5*time.Second)
		if err := metricsServer.Shutdown(metricsCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
		cancelMetrics()
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("oncall-responder stopped")
}
