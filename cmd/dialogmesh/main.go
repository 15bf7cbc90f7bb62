// Command dialogmesh runs the conversational turn service: HTTP surface,
// session registry, memory tiers and a generation backend picked from the
// environment.
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

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/spf13/cobra"

	"github.com/dialogmesh/dialogmesh"
	"github.com/dialogmesh/dialogmesh/config"
	"github.com/dialogmesh/dialogmesh/core"
	"github.com/dialogmesh/dialogmesh/httpapi"
	"github.com/dialogmesh/dialogmesh/logging"
	"github.com/dialogmesh/dialogmesh/memory"
	"github.com/dialogmesh/dialogmesh/model"
	anthropicmodel "github.com/dialogmesh/dialogmesh/model/anthropic"
	openaimodel "github.com/dialogmesh/dialogmesh/model/openai"
)

var (
	version = "dev"
	commit  = "unknown"
)

var rootCmd = &cobra.Command{
	Use:     "dialogmesh",
	Short:   "Session-scoped conversational turn orchestrator",
	Long:    "DialogMesh serves multi-turn conversations: fused memory retrieval,\ntool dispatch and streamed responses over HTTP.",
	Version: fmt.Sprintf("%s (commit: %s)", version, commit),
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func main() {
	rootCmd.AddCommand(serveCmd)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := buildLogger(cfg)
	backend := buildBackend(cfg)

	history, closeFn, err := buildHistoryStore(cfg, logger)
	if err != nil {
		return err
	}
	if closeFn != nil {
		defer closeFn()
	}

	mesh := dialogmesh.New(func(o *dialogmesh.Options) {
		o.Backend = backend
		o.MaxRounds = cfg.MaxRounds
		o.TurnTimeout = cfg.TurnTimeout
		o.ToolTimeout = cfg.ToolTimeout
		o.EventBufferSize = cfg.EventBufferSize
		o.HistoryTokenBudget = cfg.HistoryTokenBudget
		o.RetrieveTimeout = cfg.RetrieveTimeout
		o.FusionCap = cfg.FusionCap
		o.SessionTTL = cfg.SessionTTL
		o.TurnQueueDepth = cfg.TurnQueueDepth
		o.HistoryStore = history
		o.Logger = logger
	})
	defer mesh.Close()

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           httpapi.NewServer(mesh, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.ListenAddr, "backend", backend.Info().Provider)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func buildLogger(cfg *config.Config) logging.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return logging.NewSlogAdapter(slog.New(handler))
}

// buildBackend picks the generation backend from configuration. Without any
// provider key the scripted backend is used, which keeps local development
// and tests runnable offline.
func buildBackend(cfg *config.Config) model.Model {
	switch cfg.ModelProvider {
	case "anthropic":
		if cfg.AnthropicKey != "" {
			return anthropicmodel.NewModel(func(o *anthropicmodel.Options) {
				o.APIKey = cfg.AnthropicKey
				if cfg.ModelName != "" {
					o.Model = anthropic.Model(cfg.ModelName)
				}
			})
		}
	case "openai":
		if cfg.OpenAIKey != "" {
			return openaimodel.NewModel(func(o *openaimodel.Options) {
				if cfg.ModelName != "" {
					o.Model = cfg.ModelName
				}
			})
		}
	}
	return model.NewScriptedModel()
}

// buildHistoryStore opens the durable history tier when a database path is
// configured; otherwise the façade falls back to its in-memory default.
func buildHistoryStore(cfg *config.Config, logger logging.Logger) (core.MemoryStore, func(), error) {
	if cfg.MemoryDBPath == "" {
		return nil, nil, nil
	}
	store, err := memory.NewSQLiteStore(cfg.MemoryDBPath, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("open memory db: %w", err)
	}
	return store, func() { _ = store.Close() }, nil
}
