package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"thirdeye-service/internal/db"
	"thirdeye-service/internal/gemini"
	httpapi "thirdeye-service/internal/http"
	"thirdeye-service/internal/matcher"
	"thirdeye-service/internal/pipeline"
	"thirdeye-service/internal/progress"
	"thirdeye-service/internal/repository"
	"thirdeye-service/internal/service"
	"thirdeye-service/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	gdb, err := db.Connect(cfg.DB, log)
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	client, err := gemini.NewClient(cmd.Context(), cfg.Gemini)
	if err != nil {
		return err
	}
	vision, err := gemini.NewVisionClient(client, cfg.Gemini.VisionModel, cfg.Gemini.Temperature)
	if err != nil {
		return err
	}
	embedder := gemini.NewEmbeddingClient(client, cfg.Gemini.EmbeddingModel)

	violationRepo := repository.NewViolationRepository(gdb)
	sessionRepo := repository.NewSessionRepository(gdb)
	ruleRepo := repository.NewRuleRepository(gdb)

	tel, err := telemetry.Setup(cmd.Context(), cfg.Telemetry, cfg.Environment, version, log)
	if err != nil {
		return err
	}
	// registered before the observer so pending observations are flushed first
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("metrics not flushed")
		}
	}()

	metrics, err := pipeline.NewStageMetrics(tel.Meter("thirdeye/pipeline"), log)
	if err != nil {
		return fmt.Errorf("create stage metrics: %w", err)
	}
	observer := pipeline.NewAsyncStageObserver(metrics, cfg.Pipeline.ObserverBuffer)
	defer observer.Close()

	violations := service.NewViolationService(violationRepo, log)
	executor := pipeline.NewExecutor(
		vision,
		matcher.New(embedder, ruleRepo, log),
		violations,
		log,
		pipeline.WithStageObserver(observer),
	)
	hub := progress.NewHub(cfg.Pipeline.MaxLiveSubscribers, cfg.Pipeline.LiveBuffer)
	sink := progress.NewSink(sessionRepo, hub, cfg.Pipeline.SnapshotRetries, cfg.Pipeline.SnapshotRetryDelay, log)
	analysis := service.NewAnalysisService(sessionRepo, executor, sink, hub, log)

	handler := httpapi.NewHandler(analysis, violations, cfg, log)
	server := &http.Server{
		Addr:              ":" + cfg.HTTP.Port,
		Handler:           httpapi.NewRouter(handler, cfg, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", server.Addr).
			Str("vision_model", cfg.Gemini.VisionModel).
			Str("embedding_model", embedder.ModelName()).
			Msg("starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownGrace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
	if err := analysis.Wait(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("in-flight analyses did not finish before shutdown")
	}
	if dropped := observer.Dropped(); dropped > 0 {
		log.Warn().Uint64("dropped", dropped).Msg("stage observations dropped")
	}
	log.Info().Msg("server exited")
	return nil
}
