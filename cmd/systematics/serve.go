package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Joshfairhead/systematics-embeddings/embedding"
	"github.com/Joshfairhead/systematics-embeddings/fetch"
	"github.com/Joshfairhead/systematics-embeddings/index"
	"github.com/Joshfairhead/systematics-embeddings/internal/config"
	"github.com/Joshfairhead/systematics-embeddings/internal/log"
	"github.com/Joshfairhead/systematics-embeddings/server"
)

func serveCmd() *cobra.Command {
	var (
		envFile string
		host    string
		port    int
		model   string
		outDir  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the embedding HTTP API server",
		Long: `Start the embedding HTTP API server.

The model is downloaded first when the model directory does not already
hold it. Endpoints:
  GET  /health   Service status, model name and embedding dimensions
  POST /embed    Embed a single text
  POST /index    Add a document to the in-memory index
  POST /search   Semantic search over indexed documents

Environment variables:
  HOST            Server host to bind to (default: 127.0.0.1)
  PORT            Server port to listen on (default: 8765)
  MODEL           Hub model id (default: sentence-transformers/all-MiniLM-L6-v2)
  MODEL_DIR       Model directory (default: models)
  LOG_LEVEL       Log level: DEBUG, INFO, WARN, ERROR (default: INFO)
  LOG_FORMAT      Log format: pretty, json (default: pretty)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(envFile, host, port, model, outDir)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	cmd.Flags().StringVar(&host, "host", "", "Server host to bind to (default: 127.0.0.1)")
	cmd.Flags().IntVar(&port, "port", 0, "Server port to listen on (default: 8765)")
	cmd.Flags().StringVar(&model, "model", "", "Hub model id to serve")
	cmd.Flags().StringVar(&outDir, "out", "", "Model directory")

	return cmd
}

func runServe(envFile, host string, port int, model, outDir string) error {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}
	cfg = cfg.WithHost(host).WithPort(port).WithModel(model).WithModelDir(outDir)

	logger := log.Configure(log.Format(cfg.LogFormat()), cfg.LogLevel())
	logger.Info("starting systematics",
		slog.String("version", version),
		slog.String("model", cfg.Model()),
		slog.String("dir", cfg.ModelDir()))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := ensureModel(ctx, cfg, logger); err != nil {
		return err
	}

	embedder := embedding.NewService(cfg.ModelDir())
	defer func() {
		if err := embedder.Close(); err != nil {
			logger.Error("close embedder", slog.Any("error", err))
		}
	}()

	// The dimension constant only describes the default model. For any
	// other model the handler reports the width once it has embedded
	// something.
	dimensions := 0
	if cfg.Model() == config.DefaultModel {
		dimensions = config.ModelDimensions
	}
	handler := server.NewHandler(embedder, index.New(), cfg.Model(), dimensions, logger)
	srv := server.New(cfg.Addr(), handler, logger)

	go func() {
		<-ctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown error", slog.Any("error", err))
		}
	}()

	logger.Info("starting server", slog.String("addr", cfg.Addr()))
	if err := srv.Start(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// ensureModel downloads the model artifacts when they are not already on
// disk. A present model keeps serve working offline.
func ensureModel(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	fetcher := fetch.New(nil, cfg.Model(), cfg.Revision(), cfg.ModelDir(), logger)
	if fetcher.AlreadyPresent() {
		logger.Info("model already present", slog.String("dir", cfg.ModelDir()))
		return nil
	}

	client, err := newHubClient(cfg)
	if err != nil {
		return err
	}
	fetcher = fetch.New(client, cfg.Model(), cfg.Revision(), cfg.ModelDir(), logger)
	if _, err := fetcher.Run(ctx); err != nil {
		return fmt.Errorf("provision model: %w", err)
	}
	return nil
}
