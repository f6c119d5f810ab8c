package main

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Joshfairhead/systematics-embeddings/fetch"
	"github.com/Joshfairhead/systematics-embeddings/hub"
	"github.com/Joshfairhead/systematics-embeddings/internal/config"
	"github.com/Joshfairhead/systematics-embeddings/internal/log"
)

func downloadCmd() *cobra.Command {
	var (
		envFile    string
		model      string
		outDir     string
		revision   string
		endpoint   string
		noProgress bool
	)

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the embedding model and tokenizer",
		Long: `Download the ONNX sentence-embedding model and its tokenizer
from the Hugging Face hub into a local directory.

Configuration is loaded in the following order (later sources override earlier):
  1. Default values
  2. .env file (if --env-file specified or .env exists in current directory)
  3. Environment variables
  4. Command line flags

Environment variables:
  MODEL           Hub model id (default: sentence-transformers/all-MiniLM-L6-v2)
  MODEL_DIR       Output directory (default: models)
  MODEL_REVISION  Hub revision to fetch (default: main)
  HF_ENDPOINT     Hub endpoint override
  HF_TOKEN        Hub auth token for gated or private models
  NO_PROGRESS     Disable the download progress bar
  MAX_RETRIES     Download attempts per file (default: 4)
  LOG_LEVEL       Log level: DEBUG, INFO, WARN, ERROR (default: INFO)
  LOG_FORMAT      Log format: pretty, json (default: pretty)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDownload(envFile, model, outDir, revision, endpoint, noProgress)
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "Path to .env file (default: .env in current directory)")
	cmd.Flags().StringVar(&model, "model", "", "Hub model id to download")
	cmd.Flags().StringVar(&outDir, "out", "", "Output directory for model artifacts")
	cmd.Flags().StringVar(&revision, "revision", "", "Hub revision to fetch")
	cmd.Flags().StringVar(&endpoint, "endpoint", "", "Hub endpoint override")
	cmd.Flags().BoolVar(&noProgress, "no-progress", false, "Disable the download progress bar")

	return cmd
}

func runDownload(envFile, model, outDir, revision, endpoint string, noProgress bool) error {
	cfg, err := loadConfig(envFile)
	if err != nil {
		return err
	}
	cfg = cfg.WithModel(model).WithModelDir(outDir).WithRevision(revision).WithEndpoint(endpoint)
	if noProgress {
		cfg = cfg.WithProgress(false)
	}

	logger := log.Configure(log.Format(cfg.LogFormat()), cfg.LogLevel())

	client, err := newHubClient(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher := fetch.New(client, cfg.Model(), cfg.Revision(), cfg.ModelDir(), logger)
	result, err := fetcher.Run(ctx)
	if err != nil {
		return fmt.Errorf("download model: %w", err)
	}

	if result.Skipped {
		logger.Info("nothing to do", "dir", cfg.ModelDir())
	} else {
		logger.Info("download complete",
			slog.String("model", result.ModelPath),
			slog.String("tokenizer", result.TokenizerPath))
	}
	return nil
}

// newHubClient assembles a hub client from the resolved configuration.
func newHubClient(cfg config.Config) (*hub.Client, error) {
	builder, err := hub.NewBuilder()
	if err != nil {
		return nil, fmt.Errorf("init hub client: %w", err)
	}
	builder = builder.
		WithEndpoint(cfg.Endpoint()).
		WithProgress(cfg.Progress()).
		WithRetries(cfg.MaxRetries(), 0)
	if cfg.Token() != "" {
		builder = builder.WithToken(cfg.Token())
	}
	return builder.Build(), nil
}
