package rag

import (
	"context"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/xhad/docportal/pkg/errs"
	"github.com/xhad/docportal/pkg/vectorindex"
)

const (
	SearchSimilarity     = "similarity"
	SearchScoreThreshold = "similarity_score_threshold"

	DefaultK         = 5
	DefaultIndexName = "index"
)

// EmbeddingsLoader supplies the embedding model used to query an index.
type EmbeddingsLoader interface {
	LoadEmbeddings(ctx context.Context) (embeddings.Embedder, error)
}

type IndexOptions struct {
	Path           string
	Name           string
	K              int
	SearchType     string
	ScoreThreshold float32
}

func (o IndexOptions) withDefaults() IndexOptions {
	if o.Name == "" {
		o.Name = DefaultIndexName
	}
	if o.K <= 0 {
		o.K = DefaultK
	}
	if o.SearchType == "" {
		o.SearchType = SearchSimilarity
	}
	return o
}

// SearchOptions translates a search type into vector store options.
func SearchOptions(searchType string, threshold float32) ([]vectorstores.Option, error) {
	op := "configure search"
	switch searchType {
	case "", SearchSimilarity:
		return nil, nil
	case SearchScoreThreshold:
		if threshold <= 0 || threshold > 1 {
			return nil, errs.Errorf(errs.KindValidation, op, "score threshold must be in (0, 1]")
		}
		return []vectorstores.Option{vectorstores.WithScoreThreshold(threshold)}, nil
	default:
		return nil, errs.Errorf(errs.KindValidation, op, fmt.Sprintf("unsupported search type %q", searchType))
	}
}

// LoadRetriever deserializes the local index at opts.Path and attaches a
// k-nearest retriever over it.
func (p *Pipeline) LoadRetriever(ctx context.Context, loader EmbeddingsLoader, opts IndexOptions) error {
	op := "load retriever"
	opts = opts.withDefaults()

	if info, err := os.Stat(opts.Path); err != nil || !info.IsDir() {
		p.log.Error("index directory not found", "index_path", opts.Path)
		return errs.Errorf(errs.KindNotFound, op, fmt.Sprintf("index path does not exist: %s", opts.Path))
	}

	searchOpts, err := SearchOptions(opts.SearchType, opts.ScoreThreshold)
	if err != nil {
		return err
	}

	embedder, err := loader.LoadEmbeddings(ctx)
	if err != nil {
		return err
	}

	index, err := vectorindex.Load(opts.Path, opts.Name, embedder)
	if err != nil {
		return err
	}

	p.AttachRetriever(vectorstores.ToRetriever(index, opts.K, searchOpts...))
	p.log.Info("retriever loaded", "index_path", opts.Path, "k", opts.K, "search_type", opts.SearchType, "entries", index.Len())
	return nil
}
