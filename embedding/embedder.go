// Package embedding generates sentence embeddings from the local ONNX
// model via hugot.
package embedding

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

// batchMax is the maximum number of texts sent through the pipeline in
// one call. Larger requests are split.
const batchMax = 10

// Embedder turns texts into embedding vectors.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Close() error
}

// ortSingleton is the process-wide ONNX Runtime session and pipeline.
// ORT supports a single active session per process, shared by every
// Service. The mutex covers initialization as well as inference since
// ORT is not thread-safe.
var ortSingleton struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
	mu       sync.Mutex
	ready    bool
}

// Service generates embeddings from the model directory produced by the
// fetch step (model.onnx plus tokenizer.json). The pipeline applies mean
// pooling and L2 normalization, matching sentence-transformers output.
type Service struct {
	modelDir string
}

// NewService creates a Service reading model files from modelDir.
func NewService(modelDir string) *Service {
	return &Service{modelDir: modelDir}
}

// Available reports whether the model directory holds a usable model.
func (s *Service) Available() bool {
	if _, err := os.Stat(filepath.Join(s.modelDir, "model.onnx")); err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(s.modelDir, "tokenizer.json")); err != nil {
		return false
	}
	return true
}

func (s *Service) initialize() error {
	ortSingleton.mu.Lock()
	defer ortSingleton.mu.Unlock()

	if ortSingleton.ready {
		return nil
	}

	if !s.Available() {
		return fmt.Errorf("no model found in %s, run the download command first", s.modelDir)
	}

	session, err := newSession()
	if err != nil {
		return fmt.Errorf("create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: s.modelDir,
		Name:      "sentence-embeddings",
		Options: []hugot.FeatureExtractionOption{
			pipelines.WithNormalization(),
		},
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		_ = session.Destroy()
		return fmt.Errorf("create feature extraction pipeline: %w", err)
	}

	ortSingleton.session = session
	ortSingleton.pipeline = pipeline
	ortSingleton.ready = true
	return nil
}

// Embed generates normalized embeddings for the given texts. Requests
// larger than the batch cap are split internally.
func (s *Service) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := s.initialize(); err != nil {
		return nil, fmt.Errorf("initialize embedder: %w", err)
	}

	embeddings := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += batchMax {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+batchMax, len(texts))
		batch, err := s.embedBatch(texts[start:end])
		if err != nil {
			return nil, err
		}
		embeddings = append(embeddings, batch...)
	}
	return embeddings, nil
}

func (s *Service) embedBatch(texts []string) ([][]float64, error) {
	// Hold the singleton mutex for inference. ORT is not thread-safe.
	ortSingleton.mu.Lock()
	defer ortSingleton.mu.Unlock()

	result, err := ortSingleton.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, fmt.Errorf("run embedding pipeline: %w", err)
	}

	embeddings := make([][]float64, len(result.Embeddings))
	for i, vec32 := range result.Embeddings {
		vec64 := make([]float64, len(vec32))
		for j, v := range vec32 {
			vec64[j] = float64(v)
		}
		embeddings[i] = vec64
	}
	return embeddings, nil
}

// Close is a no-op. The ONNX Runtime session is process-global and
// cleaned up when the process exits.
func (s *Service) Close() error {
	return nil
}

var _ Embedder = (*Service)(nil)
