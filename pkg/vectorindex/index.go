// Package vectorindex is a persisted, in-memory similarity index. It is the
// local backend for session chat and implements vectorstores.VectorStore.
package vectorindex

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/xhad/docportal/pkg/errs"
)

const formatVersion = 1

// ErrDimensionMismatch is returned when an embedding does not match the
// dimension of vectors already in the index.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

type entry struct {
	ID        string         `json:"id"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Embedding []float32      `json:"embedding"`
}

type file struct {
	Version int     `json:"version"`
	Entries []entry `json:"entries"`
}

type Index struct {
	embedder embeddings.Embedder

	mu      sync.RWMutex
	entries []entry
}

var _ vectorstores.VectorStore = (*Index)(nil)

func New(embedder embeddings.Embedder) *Index {
	return &Index{embedder: embedder}
}

// Path returns the file an index named name is persisted to under dir.
func Path(dir, name string) string {
	return filepath.Join(dir, name+".json")
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

func (ix *Index) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	opts := ix.options(options)
	if opts.Embedder == nil {
		return nil, errs.Errorf(errs.KindConfiguration, "add documents", "no embedder configured")
	}

	var kept []schema.Document
	for _, d := range docs {
		if opts.Deduplicater != nil && opts.Deduplicater(ctx, d) {
			continue
		}
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		return nil, nil
	}

	texts := make([]string, len(kept))
	for i, d := range kept {
		texts[i] = d.PageContent
	}
	vectors, err := opts.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(vectors) != len(kept) {
		return nil, fmt.Errorf("embed documents: got %d vectors for %d documents", len(vectors), len(kept))
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	dim := ix.dimension()
	ids := make([]string, 0, len(kept))
	for i, d := range kept {
		if dim > 0 && len(vectors[i]) != dim {
			return ids, fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, dim, len(vectors[i]))
		}
		dim = len(vectors[i])

		id := uuid.NewString()
		ix.entries = append(ix.entries, entry{
			ID:        id,
			Content:   d.PageContent,
			Metadata:  d.Metadata,
			Embedding: vectors[i],
		})
		ids = append(ids, id)
	}
	return ids, nil
}

// SimilaritySearch returns up to numDocuments entries ordered by descending
// cosine similarity to query. Entries scoring below the score threshold are
// dropped.
func (ix *Index) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := ix.options(options)
	if opts.ScoreThreshold < 0 || opts.ScoreThreshold > 1 {
		return nil, errs.Errorf(errs.KindValidation, "similarity search", "score threshold must be between 0 and 1")
	}
	if opts.Embedder == nil {
		return nil, errs.Errorf(errs.KindConfiguration, "similarity search", "no embedder configured")
	}
	if numDocuments <= 0 {
		return nil, nil
	}

	vec, err := opts.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if dim := ix.dimension(); dim > 0 && len(vec) != dim {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, dim, len(vec))
	}

	type scored struct {
		entry
		score float32
	}
	hits := make([]scored, 0, len(ix.entries))
	for _, e := range ix.entries {
		s := cosine(vec, e.Embedding)
		if opts.ScoreThreshold > 0 && s < opts.ScoreThreshold {
			continue
		}
		hits = append(hits, scored{entry: e, score: s})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	if len(hits) > numDocuments {
		hits = hits[:numDocuments]
	}
	docs := make([]schema.Document, len(hits))
	for i, h := range hits {
		docs[i] = schema.Document{PageContent: h.Content, Metadata: h.Metadata, Score: h.score}
	}
	return docs, nil
}

// Save writes the index to <dir>/<name>.json, creating dir if needed.
func (ix *Index) Save(dir, name string) error {
	op := "save index"
	ix.mu.RLock()
	data, err := json.Marshal(file{Version: formatVersion, Entries: ix.entries})
	ix.mu.RUnlock()
	if err != nil {
		return errs.E(errs.KindIOFailure, op, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errs.E(errs.KindIOFailure, op, err)
	}
	tmp := Path(dir, name) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.E(errs.KindIOFailure, op, err)
	}
	if err := os.Rename(tmp, Path(dir, name)); err != nil {
		return errs.E(errs.KindIOFailure, op, err)
	}
	return nil
}

// Load reads an index previously written by Save. A missing directory or
// index file is reported as NotFound.
func Load(dir, name string, embedder embeddings.Embedder) (*Index, error) {
	op := "load index"
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, errs.Errorf(errs.KindNotFound, op, fmt.Sprintf("index directory %s does not exist", dir))
	}

	data, err := os.ReadFile(Path(dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.E(errs.KindNotFound, op, err)
		}
		return nil, errs.E(errs.KindIOFailure, op, err)
	}

	var f file
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, errs.E(errs.KindIOFailure, op, fmt.Errorf("decode %s: %w", Path(dir, name), err))
	}
	if f.Version != formatVersion {
		return nil, errs.Errorf(errs.KindIOFailure, op, fmt.Sprintf("unsupported index version %d", f.Version))
	}
	for i, e := range f.Entries {
		if len(e.Embedding) != len(f.Entries[0].Embedding) {
			return nil, errs.E(errs.KindIOFailure, op, fmt.Errorf("%w: entry %d has %d values, want %d",
				ErrDimensionMismatch, i, len(e.Embedding), len(f.Entries[0].Embedding)))
		}
	}

	return &Index{embedder: embedder, entries: f.Entries}, nil
}

func (ix *Index) options(options []vectorstores.Option) vectorstores.Options {
	opts := vectorstores.Options{}
	for _, o := range options {
		o(&opts)
	}
	if opts.Embedder == nil {
		opts.Embedder = ix.embedder
	}
	return opts
}

// dimension must be called with mu held.
func (ix *Index) dimension() int {
	if len(ix.entries) == 0 {
		return 0
	}
	return len(ix.entries[0].Embedding)
}

// cosine is 0 for vectors of different length.
func cosine(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
