// Package index provides an in-memory vector index with cosine
// similarity search.
package index

import (
	"math"
	"sort"
	"sync"
)

// Document is an indexed item: an id, its embedding and the original text.
type Document struct {
	id        string
	embedding []float64
	text      string
	metadata  map[string]any
}

// NewDocument creates a Document. The embedding is copied.
func NewDocument(id string, embedding []float64, text string, metadata map[string]any) Document {
	vec := make([]float64, len(embedding))
	copy(vec, embedding)
	return Document{id: id, embedding: vec, text: text, metadata: metadata}
}

// ID returns the document identifier.
func (d Document) ID() string { return d.id }

// Text returns the document text.
func (d Document) Text() string { return d.text }

// Metadata returns the caller-supplied metadata, possibly nil.
func (d Document) Metadata() map[string]any { return d.metadata }

// Embedding returns a copy of the embedding vector.
func (d Document) Embedding() []float64 {
	vec := make([]float64, len(d.embedding))
	copy(vec, d.embedding)
	return vec
}

// Match is a search hit: a document and its similarity to the query.
type Match struct {
	Document Document
	Score    float64
}

// Index is a thread-safe in-memory vector index.
type Index struct {
	mu        sync.RWMutex
	documents map[string]Document
}

// New creates an empty Index.
func New() *Index {
	return &Index{documents: make(map[string]Document)}
}

// Add inserts or replaces a document.
func (i *Index) Add(doc Document) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.documents[doc.id] = doc
}

// Get returns the document with the given id.
func (i *Index) Get(id string) (Document, bool) {
	i.mu.RLock()
	defer i.mu.RUnlock()
	doc, ok := i.documents[id]
	return doc, ok
}

// Delete removes the document with the given id and reports whether it
// was present.
func (i *Index) Delete(id string) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.documents[id]; !ok {
		return false
	}
	delete(i.documents, id)
	return true
}

// Clear removes every document.
func (i *Index) Clear() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.documents = make(map[string]Document)
}

// Count returns the number of indexed documents.
func (i *Index) Count() int {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return len(i.documents)
}

// Search returns the k documents most similar to the query embedding,
// sorted by descending cosine similarity. Ties break on document id so
// results are stable.
func (i *Index) Search(query []float64, k int) []Match {
	if k <= 0 {
		return []Match{}
	}

	i.mu.RLock()
	matches := make([]Match, 0, len(i.documents))
	for _, doc := range i.documents {
		matches = append(matches, Match{
			Document: doc,
			Score:    CosineSimilarity(query, doc.embedding),
		})
	}
	i.mu.RUnlock()

	sort.Slice(matches, func(a, b int) bool {
		if matches[a].Score != matches[b].Score {
			return matches[a].Score > matches[b].Score
		}
		return matches[a].Document.id < matches[b].Document.id
	})

	if len(matches) > k {
		matches = matches[:k]
	}
	return matches
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Returns a value between -1 (opposite) and 1 (identical), or 0 when the
// vectors differ in length or either has zero magnitude.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, magA, magB float64
	for i := range a {
		dot += a[i] * b[i]
		magA += a[i] * a[i]
		magB += b[i] * b[i]
	}

	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
