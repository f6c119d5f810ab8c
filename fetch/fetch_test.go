package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Joshfairhead/systematics-embeddings/hub"
)

// fakeHub serves metadata probes, file content and the repo listing for
// a fixed set of files.
func fakeHub(files map[string][]byte) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/models/") {
			names := make([]string, 0, len(files))
			for name := range files {
				names = append(names, fmt.Sprintf("{\"rfilename\": %q}", name))
			}
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"sha": "feedfacefeedfacefeedfacefeedfacefeedface", "siblings": [%s]}`, strings.Join(names, ","))
			return
		}

		parts := strings.SplitN(r.URL.Path, "/resolve/", 2)
		if len(parts) != 2 {
			http.NotFound(w, r)
			return
		}
		filename := strings.SplitN(parts[1], "/", 2)[1]
		content, ok := files[filename]
		if !ok {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("x-repo-commit", "feedfacefeedfacefeedfacefeedfacefeedface")
		w.Header().Set("etag", fmt.Sprintf(`"%s-%d"`, strings.ReplaceAll(filename, "/", "-"), len(content)))
		if r.Header.Get("Range") == "bytes=0-0" {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes 0-0/%d", len(content)))
			w.WriteHeader(http.StatusPartialContent)
			_, _ = w.Write(content[:1])
			return
		}
		_, _ = w.Write(content)
	})
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newFetcher(t *testing.T, srv *httptest.Server, outDir string) *Fetcher {
	t.Helper()
	builder, err := hub.FromCache(hub.NewCache(t.TempDir(), true))
	require.NoError(t, err)
	client := builder.
		WithEndpoint(srv.URL).
		WithProgress(false).
		WithRetries(2, time.Millisecond).
		Build()
	return New(client, "sentence-transformers/all-MiniLM-L6-v2", "main", outDir, discardLogger())
}

func TestRun_DownloadsModelAndTokenizer(t *testing.T) {
	srv := httptest.NewServer(fakeHub(map[string][]byte{
		"onnx/model.onnx":         []byte("onnx-graph-bytes"),
		"tokenizer.json":          []byte(`{"version": "1.0"}`),
		"config.json":             []byte(`{"model_type": "bert"}`),
		"special_tokens_map.json": []byte(`{}`),
	}))
	defer srv.Close()

	outDir := filepath.Join(t.TempDir(), "models")
	f := newFetcher(t, srv, outDir)

	result, err := f.Run(context.Background())
	require.NoError(t, err)
	require.False(t, result.Skipped)
	require.Equal(t, filepath.Join(outDir, "model.onnx"), result.ModelPath)
	require.Equal(t, filepath.Join(outDir, "tokenizer.json"), result.TokenizerPath)

	data, err := os.ReadFile(result.ModelPath)
	require.NoError(t, err)
	require.Equal(t, []byte("onnx-graph-bytes"), data)

	for _, name := range []string{"tokenizer.json", "config.json", "special_tokens_map.json"} {
		_, err = os.Stat(filepath.Join(outDir, name))
		require.NoError(t, err, "expected %s in output dir", name)
	}

	// Optional files absent from the repository are not an error.
	_, err = os.Stat(filepath.Join(outDir, "vocab.txt"))
	require.True(t, os.IsNotExist(err))
}

func TestRun_RootLevelWeights(t *testing.T) {
	srv := httptest.NewServer(fakeHub(map[string][]byte{
		"model.onnx":     []byte("root-level-graph"),
		"tokenizer.json": []byte(`{}`),
		"config.json":    []byte(`{}`),
	}))
	defer srv.Close()

	outDir := filepath.Join(t.TempDir(), "models")
	result, err := newFetcher(t, srv, outDir).Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(result.ModelPath)
	require.NoError(t, err)
	require.Equal(t, []byte("root-level-graph"), data)
}

func TestRun_RenamesOddlyNamedWeights(t *testing.T) {
	// Neither of the well-known weight paths exists; the repo listing
	// carries the graph under a nonstandard name.
	srv := httptest.NewServer(fakeHub(map[string][]byte{
		"model_quantized.onnx": []byte("quantized-graph"),
		"tokenizer.json":       []byte(`{}`),
		"config.json":          []byte(`{}`),
	}))
	defer srv.Close()

	outDir := filepath.Join(t.TempDir(), "models")
	result, err := newFetcher(t, srv, outDir).Run(context.Background())
	require.NoError(t, err)
	require.Equal(t, filepath.Join(outDir, "model.onnx"), result.ModelPath)

	data, err := os.ReadFile(result.ModelPath)
	require.NoError(t, err)
	require.Equal(t, []byte("quantized-graph"), data)

	_, err = os.Stat(filepath.Join(outDir, "model_quantized.onnx"))
	require.True(t, os.IsNotExist(err), "original name should be gone after rename")
}

func TestRun_SkipsWhenAlreadyPresent(t *testing.T) {
	outDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "model.onnx"), []byte("existing"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "tokenizer.json"), []byte("{}"), 0o644))

	// Server is closed immediately: a skip run must never touch the network.
	srv := httptest.NewServer(fakeHub(nil))
	srv.Close()

	result, err := newFetcher(t, srv, outDir).Run(context.Background())
	require.NoError(t, err)
	require.True(t, result.Skipped)

	data, err := os.ReadFile(filepath.Join(outDir, "model.onnx"))
	require.NoError(t, err)
	require.Equal(t, []byte("existing"), data, "existing artifacts must not be overwritten")
}

func TestRun_UnreachableHubLeavesNoPartialOutput(t *testing.T) {
	srv := httptest.NewServer(fakeHub(nil))
	srv.Close()

	outDir := filepath.Join(t.TempDir(), "models")
	_, err := newFetcher(t, srv, outDir).Run(context.Background())
	require.Error(t, err)

	entries, readErr := os.ReadDir(outDir)
	require.NoError(t, readErr, "output directory should still be created")
	require.Empty(t, entries, "failed run must not leave partial artifacts")
}

func TestRun_MissingRequiredTokenizerFile(t *testing.T) {
	srv := httptest.NewServer(fakeHub(map[string][]byte{
		"onnx/model.onnx": []byte("graph"),
		"config.json":     []byte(`{}`),
	}))
	defer srv.Close()

	outDir := filepath.Join(t.TempDir(), "models")
	_, err := newFetcher(t, srv, outDir).Run(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "tokenizer.json")

	// Installs are per-file: the fully downloaded weights stay in place,
	// and nothing of the failed tokenizer surfaces.
	_, statErr := os.Stat(filepath.Join(outDir, "model.onnx"))
	require.NoError(t, statErr, "complete weights must survive a later failure")
	_, statErr = os.Stat(filepath.Join(outDir, "tokenizer.json"))
	require.True(t, os.IsNotExist(statErr))
}

func TestEnsureModelName_PicksFirstLexically(t *testing.T) {
	outDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "b_weights.onnx"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(outDir, "a_weights.onnx"), []byte("a"), 0o644))

	f := &Fetcher{outDir: outDir, logger: discardLogger()}
	modelPath, err := f.ensureModelName()
	require.NoError(t, err)

	data, err := os.ReadFile(modelPath)
	require.NoError(t, err)
	require.Equal(t, []byte("a"), data)
}

func TestEnsureModelName_NoCandidates(t *testing.T) {
	f := &Fetcher{outDir: t.TempDir(), logger: discardLogger()}
	_, err := f.ensureModelName()
	require.Error(t, err)
}

func TestAlreadyPresent(t *testing.T) {
	outDir := t.TempDir()
	f := &Fetcher{outDir: outDir}

	require.False(t, f.AlreadyPresent())

	require.NoError(t, os.WriteFile(filepath.Join(outDir, "model.onnx"), []byte("x"), 0o644))
	require.False(t, f.AlreadyPresent(), "weights alone are not enough")

	require.NoError(t, os.WriteFile(filepath.Join(outDir, "tokenizer.json"), []byte("x"), 0o644))
	require.True(t, f.AlreadyPresent())
}
