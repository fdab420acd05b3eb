// Package app wires configuration into the document flows shared by the CLI
// and the server.
package app

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/xhad/docportal/pkg/analysis"
	"github.com/xhad/docportal/pkg/combiner"
	"github.com/xhad/docportal/pkg/config"
	"github.com/xhad/docportal/pkg/errs"
	"github.com/xhad/docportal/pkg/indexer"
	"github.com/xhad/docportal/pkg/llm"
	"github.com/xhad/docportal/pkg/logger"
	"github.com/xhad/docportal/pkg/pdf"
	"github.com/xhad/docportal/pkg/processor"
	"github.com/xhad/docportal/pkg/rag"
	"github.com/xhad/docportal/pkg/session"
	"github.com/xhad/docportal/pkg/store"
)

// Flow selects one of the session trees.
type Flow string

const (
	FlowAnalysis Flow = "analysis"
	FlowCompare  Flow = "compare"
	FlowChat     Flow = "chat"
)

// Deps are the collaborators resolved at startup. Load builds them from
// configuration; tests pass stubs to New.
type Deps struct {
	LLM        llms.Model
	Embeddings rag.EmbeddingsLoader
	Extractor  combiner.Extractor
}

type App struct {
	cfg *config.Config
	log logger.Logger

	llm        llms.Model
	embeddings rag.EmbeddingsLoader
	extractor  combiner.Extractor

	stores     map[Flow]*session.Store
	combiner   *combiner.Combiner
	indexer    *indexer.Indexer
	analyzer   *analysis.Analyzer
	comparator *analysis.Comparator

	pgOnce sync.Once
	pg     *store.VectorStore
	pgErr  error
}

// Load resolves the language model and embeddings from cfg and builds the
// application.
func Load(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	loader := llm.NewLoader(cfg.LLM, cfg.EmbeddingModel, log)
	model, err := loader.LoadLLM(ctx)
	if err != nil {
		return nil, err
	}
	return New(cfg, log, Deps{
		LLM:        model,
		Embeddings: &cachedEmbeddings{loader: loader},
		Extractor:  pdf.NewExtractor(nil, log),
	})
}

func New(cfg *config.Config, log logger.Logger, deps Deps) (*App, error) {
	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			log.Error("invalid configuration", "field", p.Field, "message", p.Message)
		}
		return nil, errs.E(errs.KindConfiguration, "load config", problems[0])
	}

	analyzer, err := analysis.NewAnalyzer(deps.LLM, log)
	if err != nil {
		return nil, err
	}
	comparator, err := analysis.NewComparator(deps.LLM, log)
	if err != nil {
		return nil, err
	}

	proc := processor.NewWithConfig(cfg.Processor)

	return &App{
		cfg:        cfg,
		log:        log,
		llm:        deps.LLM,
		embeddings: deps.Embeddings,
		extractor:  deps.Extractor,
		stores: map[Flow]*session.Store{
			FlowAnalysis: session.NewStore(cfg.Storage.AnalysisDir, log),
			FlowCompare:  session.NewStore(cfg.Storage.CompareDir, log),
			FlowChat:     session.NewStore(cfg.Storage.ChatDir, log),
		},
		combiner:   combiner.New(deps.Extractor, log),
		indexer:    indexer.NewWithConfig(cfg.Indexer, deps.Extractor, proc, log),
		analyzer:   analyzer,
		comparator: comparator,
	}, nil
}

func (a *App) Config() *config.Config { return a.cfg }

func (a *App) Store(flow Flow) (*session.Store, error) {
	s, ok := a.stores[flow]
	if !ok {
		return nil, errs.Errorf(errs.KindValidation, "select flow", fmt.Sprintf("unknown flow %q", flow))
	}
	return s, nil
}

// Sweep keeps the configured number of most recent sessions of flow.
func (a *App) Sweep(flow Flow) error {
	s, err := a.Store(flow)
	if err != nil {
		return err
	}
	return s.Sweep(a.cfg.Storage.KeepLatest)
}

// sweepQuietly is run after a flow completes; failures do not fail the
// request.
func (a *App) sweepQuietly(flow Flow) {
	if err := a.Sweep(flow); err != nil {
		a.log.Warn("session cleanup incomplete", "flow", flow, "error", err)
	}
}

func (a *App) Close() {
	if a.pg != nil {
		a.pg.Close()
	}
}

// pgvector connects to the database on first use.
func (a *App) pgvector(ctx context.Context) (*store.VectorStore, error) {
	a.pgOnce.Do(func() {
		embedder, err := a.embeddings.LoadEmbeddings(ctx)
		if err != nil {
			a.pgErr = err
			return
		}
		a.pg, a.pgErr = store.NewWithConfig(ctx, a.cfg.Database, embedder)
	})
	return a.pg, a.pgErr
}

func (a *App) indexPath(sessionID string) string {
	return filepath.Join(a.cfg.Index.Dir, sessionID)
}

func (a *App) searchOptions(sessionID string) ([]vectorstores.Option, error) {
	opts, err := rag.SearchOptions(a.cfg.Index.SearchType, a.cfg.Index.ScoreThreshold)
	if err != nil {
		return nil, err
	}
	return append(opts, vectorstores.WithNameSpace(sessionID)), nil
}

// cachedEmbeddings loads the embedding model once.
type cachedEmbeddings struct {
	loader *llm.Loader

	mu       sync.Mutex
	embedder embeddings.Embedder
}

func (c *cachedEmbeddings) LoadEmbeddings(ctx context.Context) (embeddings.Embedder, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.embedder != nil {
		return c.embedder, nil
	}
	e, err := c.loader.LoadEmbeddings(ctx)
	if err != nil {
		return nil, err
	}
	c.embedder = e
	return e, nil
}
