// Package fetch provisions the local model directory: it downloads the
// ONNX sentence-embedding weights and the tokenizer files from the hub
// and persists them under well-known names.
package fetch

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/Joshfairhead/systematics-embeddings/hub"
)

// Well-known artifact names inside the model directory.
const (
	ModelFile     = "model.onnx"
	TokenizerFile = "tokenizer.json"

	onnxExt = ".onnx"
)

// onnxCandidates are the hub paths tried for the exported weights, in
// order. Most sentence-transformers repositories publish them under the
// onnx/ subfolder.
var onnxCandidates = []string{"onnx/model.onnx", "model.onnx"}

// tokenizerFiles lists the tokenizer artifacts to persist alongside the
// weights. Optional files are skipped when the repository does not carry
// them.
var tokenizerFiles = []struct {
	name     string
	required bool
}{
	{"tokenizer.json", true},
	{"config.json", true},
	{"tokenizer_config.json", false},
	{"special_tokens_map.json", false},
	{"vocab.txt", false},
}

// Fetcher downloads one model's artifacts into an output directory.
type Fetcher struct {
	client  *hub.Client
	modelID string
	repo    *hub.Repo
	outDir  string
	logger  *slog.Logger
}

// Result reports what a fetch run produced.
type Result struct {
	// ModelPath is the final path of the ONNX weights.
	ModelPath string
	// TokenizerPath is the final path of tokenizer.json.
	TokenizerPath string
	// Files lists every file written, relative to the output directory.
	Files []string
	// Skipped is true when the artifacts were already present.
	Skipped bool
}

// New creates a Fetcher for modelID at revision, writing into outDir.
func New(client *hub.Client, modelID, revision, outDir string, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	if revision == "" {
		revision = hub.DefaultRevision
	}
	return &Fetcher{
		client:  client,
		modelID: modelID,
		repo:    hub.NewRepoWithRevision(modelID, revision),
		outDir:  outDir,
		logger:  logger,
	}
}

// AlreadyPresent reports whether the output directory carries both the
// weights and the tokenizer.
func (f *Fetcher) AlreadyPresent() bool {
	if _, err := os.Stat(filepath.Join(f.outDir, ModelFile)); err != nil {
		return false
	}
	if _, err := os.Stat(filepath.Join(f.outDir, TokenizerFile)); err != nil {
		return false
	}
	return true
}

// Run executes the fetch sequence: ensure the output directory, download
// the weights and tokenizer into the hub cache, copy them into place and
// normalize the weight filename. Nothing is written to the output
// directory until its download has fully succeeded, so a failed run
// leaves no partial artifacts behind.
func (f *Fetcher) Run(ctx context.Context) (*Result, error) {
	if err := os.MkdirAll(f.outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory %s: %w", f.outDir, err)
	}

	if f.AlreadyPresent() {
		f.logger.Info("model already present", "dir", f.outDir)
		return &Result{
			ModelPath:     filepath.Join(f.outDir, ModelFile),
			TokenizerPath: filepath.Join(f.outDir, TokenizerFile),
			Skipped:       true,
		}, nil
	}

	f.logger.Info("downloading model", "model", f.modelID, "revision", f.repo.Revision())

	result := &Result{}

	written, err := f.fetchWeights(ctx)
	if err != nil {
		return nil, err
	}
	result.Files = append(result.Files, written)

	modelPath, err := f.ensureModelName()
	if err != nil {
		return nil, err
	}
	result.ModelPath = modelPath

	tokFiles, err := f.fetchTokenizer(ctx)
	if err != nil {
		return nil, err
	}
	result.Files = append(result.Files, tokFiles...)
	result.TokenizerPath = filepath.Join(f.outDir, TokenizerFile)

	f.logger.Info("model ready",
		"model", result.ModelPath,
		"tokenizer", result.TokenizerPath,
		"files", len(result.Files))
	return result, nil
}

// fetchWeights resolves the ONNX weights and copies them into the output
// directory. The well-known hub paths are tried first; when neither
// exists the repository listing is scanned for the first file with the
// ONNX extension.
func (f *Fetcher) fetchWeights(ctx context.Context) (string, error) {
	repo := f.client.Repo(f.repo)

	for _, candidate := range onnxCandidates {
		cached, err := repo.Get(ctx, candidate)
		if err != nil {
			f.logger.Debug("weights candidate unavailable", "file", candidate, "error", err)
			continue
		}
		return f.install(cached, filepath.Base(candidate))
	}

	info, err := repo.Info(ctx)
	if err != nil {
		return "", fmt.Errorf("fetch weights for %s: %w", f.modelID, err)
	}
	for _, sibling := range info.Siblings {
		if !strings.HasSuffix(sibling.Rfilename, onnxExt) {
			continue
		}
		cached, err := repo.Get(ctx, sibling.Rfilename)
		if err != nil {
			return "", fmt.Errorf("fetch weights %s: %w", sibling.Rfilename, err)
		}
		return f.install(cached, filepath.Base(sibling.Rfilename))
	}

	return "", fmt.Errorf("no ONNX weights found in %s", f.modelID)
}

// fetchTokenizer copies the tokenizer files into the output directory.
// Required files abort the run when missing; optional ones are skipped.
func (f *Fetcher) fetchTokenizer(ctx context.Context) ([]string, error) {
	repo := f.client.Repo(f.repo)

	available := f.availableFiles(ctx, repo)

	var written []string
	for _, tf := range tokenizerFiles {
		if !tf.required && available != nil && !available[tf.name] {
			f.logger.Debug("tokenizer file not in repository, skipping", "file", tf.name)
			continue
		}

		cached, err := repo.Get(ctx, tf.name)
		if err != nil {
			if tf.required {
				return nil, fmt.Errorf("fetch tokenizer file %s: %w", tf.name, err)
			}
			f.logger.Debug("optional tokenizer file unavailable", "file", tf.name, "error", err)
			continue
		}

		name, err := f.install(cached, tf.name)
		if err != nil {
			return nil, err
		}
		written = append(written, name)
	}
	return written, nil
}

// availableFiles returns the set of filenames in the repository listing,
// or nil when the listing cannot be fetched (every file is then probed
// individually, which keeps cache-only runs working offline).
func (f *Fetcher) availableFiles(ctx context.Context, repo *hub.ModelRepo) map[string]bool {
	info, err := repo.Info(ctx)
	if err != nil {
		f.logger.Debug("repository listing unavailable", "error", err)
		return nil
	}
	available := make(map[string]bool, len(info.Siblings))
	for _, sibling := range info.Siblings {
		available[sibling.Rfilename] = true
	}
	return available
}

// install copies a cached file into the output directory under name.
// The copy goes through a temp file and a rename, so a torn write never
// surfaces under the final name.
func (f *Fetcher) install(cachedPath, name string) (string, error) {
	src, err := os.Open(cachedPath)
	if err != nil {
		return "", err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(f.outDir, "."+name+"-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, src)
	if err != nil {
		tmp.Close()
		return "", fmt.Errorf("copy %s: %w", name, err)
	}
	if err = tmp.Close(); err != nil {
		return "", err
	}

	dst := filepath.Join(f.outDir, name)
	if err = os.Rename(tmp.Name(), dst); err != nil {
		return "", err
	}

	f.logger.Info("saved", "file", name, "size", humanize.Bytes(uint64(n)))
	return name, nil
}

// ensureModelName guarantees the weights live at model.onnx. When the
// expected name is absent, the first file with the ONNX extension in the
// output directory is renamed to it. Directory entries arrive in lexical
// order, so the choice is deterministic.
func (f *Fetcher) ensureModelName() (string, error) {
	modelPath := filepath.Join(f.outDir, ModelFile)
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	}

	entries, err := os.ReadDir(f.outDir)
	if err != nil {
		return "", err
	}
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != onnxExt {
			continue
		}
		if err = os.Rename(filepath.Join(f.outDir, entry.Name()), modelPath); err != nil {
			return "", err
		}
		f.logger.Info("renamed weights", "from", entry.Name(), "to", ModelFile)
		return modelPath, nil
	}

	return "", fmt.Errorf("no %s file found in %s", onnxExt, f.outDir)
}
