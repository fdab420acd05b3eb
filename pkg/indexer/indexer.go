package indexer

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"
	"golang.org/x/time/rate"

	"github.com/xhad/docportal/pkg/combiner"
	"github.com/xhad/docportal/pkg/logger"
	"github.com/xhad/docportal/pkg/processor"
)

type IndexerConfig struct {
	BatchSize int `yaml:"batch_size"`
	// RequestsPerSecond caps embedding calls; zero means unlimited.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Result summarizes one indexing run.
type Result struct {
	Documents int
	Chunks    int
}

type Indexer struct {
	extractor combiner.Extractor
	processor processor.Processor
	limiter   *rate.Limiter
	batchSize int
	log       logger.Logger

	// OnBatch, when set, is called after each stored batch.
	OnBatch func(done, total int)
}

func NewWithConfig(config IndexerConfig, extractor combiner.Extractor, proc processor.Processor, log logger.Logger) *Indexer {
	if config.BatchSize == 0 {
		config.BatchSize = 32
	}
	limit := rate.Inf
	if config.RequestsPerSecond > 0 {
		limit = rate.Limit(config.RequestsPerSecond)
	}

	return &Indexer{
		extractor: extractor,
		processor: proc,
		limiter:   rate.NewLimiter(limit, 1),
		batchSize: config.BatchSize,
		log:       log,
	}
}

// WithProgress returns a copy of ix that reports each stored batch to fn.
// The copy shares ix's rate limiter.
func (ix *Indexer) WithProgress(fn func(done, total int)) *Indexer {
	c := *ix
	c.OnBatch = fn
	return &c
}

// Index extracts every PDF under dir, splits it into passages and adds them
// to store. Passages carry their source filename and chunk number.
func (ix *Indexer) Index(ctx context.Context, dir string, store vectorstores.VectorStore, options ...vectorstores.Option) (Result, error) {
	names, err := combiner.ListPDFs(dir)
	if err != nil {
		return Result{}, err
	}

	var docs []schema.Document
	for _, name := range names {
		text, err := ix.extractor.Extract(filepath.Join(dir, name))
		if err != nil {
			ix.log.Error("failed to extract document", "file", name, "error", err)
			return Result{}, fmt.Errorf("index %s: %w", name, err)
		}
		for i, chunk := range ix.processor.Split(text) {
			docs = append(docs, schema.Document{
				PageContent: chunk,
				Metadata: map[string]any{
					"source":     name,
					"page_chunk": i,
				},
			})
		}
	}

	for start := 0; start < len(docs); start += ix.batchSize {
		end := min(start+ix.batchSize, len(docs))
		if err := ix.limiter.Wait(ctx); err != nil {
			return Result{}, fmt.Errorf("index: %w", err)
		}
		if _, err := store.AddDocuments(ctx, docs[start:end], options...); err != nil {
			ix.log.Error("failed to add documents", "batch_start", start, "error", err)
			return Result{}, fmt.Errorf("add documents: %w", err)
		}
		if ix.OnBatch != nil {
			ix.OnBatch(end, len(docs))
		}
	}

	ix.log.Info("documents indexed", "dir", dir, "documents", len(names), "chunks", len(docs))
	return Result{Documents: len(names), Chunks: len(docs)}, nil
}
