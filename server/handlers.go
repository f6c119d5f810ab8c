package server

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	json "github.com/goccy/go-json"

	"github.com/Joshfairhead/systematics-embeddings/embedding"
	"github.com/Joshfairhead/systematics-embeddings/index"
)

// defaultSearchLimit caps search results when the request does not set a
// limit.
const defaultSearchLimit = 10

// EmbedRequest is the body of POST /embed.
type EmbedRequest struct {
	Text string `json:"text"`
}

// EmbedResponse is the reply to POST /embed.
type EmbedResponse struct {
	Embedding  []float64 `json:"embedding"`
	Dimensions int       `json:"dimensions"`
}

// IndexRequest is the body of POST /index.
type IndexRequest struct {
	ID       string         `json:"id"`
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IndexResponse is the reply to POST /index.
type IndexResponse struct {
	Success bool   `json:"success"`
	ID      string `json:"id"`
}

// SearchRequest is the body of POST /search.
type SearchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit,omitempty"`
}

// SearchResult is one hit in a SearchResponse.
type SearchResult struct {
	ID    string  `json:"id"`
	Score float64 `json:"score"`
	Text  string  `json:"text"`
}

// SearchResponse is the reply to POST /search.
type SearchResponse struct {
	Results []SearchResult `json:"results"`
}

// HealthResponse is the reply to GET /health.
type HealthResponse struct {
	Status     string `json:"status"`
	Model      string `json:"model"`
	Dimensions int    `json:"dimensions"`
}

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Handler implements the API endpoints over an embedder and an index.
type Handler struct {
	embedder   embedding.Embedder
	idx        *index.Index
	model      string
	dimensions atomic.Int64
	logger     *slog.Logger
}

// NewHandler creates a Handler. The model name and dimensions are only
// reported by the health endpoint. Pass dimensions 0 when the embedding
// width of model is not known up front; it is filled in from the first
// embedding produced.
func NewHandler(embedder embedding.Embedder, idx *index.Index, model string, dimensions int, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{
		embedder: embedder,
		idx:      idx,
		model:    model,
		logger:   logger,
	}
	h.dimensions.Store(int64(dimensions))
	return h
}

// Health handles GET /health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:     "ok",
		Model:      h.model,
		Dimensions: int(h.dimensions.Load()),
	})
}

// Embed handles POST /embed.
func (h *Handler) Embed(w http.ResponseWriter, r *http.Request) {
	var body EmbedRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Text == "" {
		h.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	vec, ok := h.embed(w, r, body.Text)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, EmbedResponse{
		Embedding:  vec,
		Dimensions: len(vec),
	})
}

// IndexDocument handles POST /index.
func (h *Handler) IndexDocument(w http.ResponseWriter, r *http.Request) {
	var body IndexRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.ID == "" {
		h.writeError(w, http.StatusBadRequest, "id is required")
		return
	}
	if body.Text == "" {
		h.writeError(w, http.StatusBadRequest, "text is required")
		return
	}

	vec, ok := h.embed(w, r, body.Text)
	if !ok {
		return
	}

	h.idx.Add(index.NewDocument(body.ID, vec, body.Text, body.Metadata))
	writeJSON(w, http.StatusOK, IndexResponse{Success: true, ID: body.ID})
}

// Search handles POST /search.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	var body SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if body.Query == "" {
		h.writeError(w, http.StatusBadRequest, "query is required")
		return
	}

	limit := body.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	vec, ok := h.embed(w, r, body.Query)
	if !ok {
		return
	}

	matches := h.idx.Search(vec, limit)
	results := make([]SearchResult, len(matches))
	for i, m := range matches {
		results[i] = SearchResult{
			ID:    m.Document.ID(),
			Score: m.Score,
			Text:  m.Document.Text(),
		}
	}

	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// embed runs the embedder for a single text. On failure it writes the
// error reply and returns ok=false.
func (h *Handler) embed(w http.ResponseWriter, r *http.Request, text string) ([]float64, bool) {
	vecs, err := h.embedder.Embed(r.Context(), []string{text})
	if err != nil {
		h.logger.Error("embedding failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	if len(vecs) == 0 {
		h.writeError(w, http.StatusInternalServerError, "embedder returned no vectors")
		return nil, false
	}
	h.dimensions.Store(int64(len(vecs[0])))
	return vecs[0], true
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
