package app

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/vectorstores"

	"github.com/xhad/docportal/internal/models"
	"github.com/xhad/docportal/pkg/config"
	"github.com/xhad/docportal/pkg/errs"
	"github.com/xhad/docportal/pkg/indexer"
	"github.com/xhad/docportal/pkg/rag"
	"github.com/xhad/docportal/pkg/vectorindex"
)

// AnalysisResult is the outcome of analyzing one uploaded document.
type AnalysisResult struct {
	SessionID string
	Analysis  models.Analysis
}

// Analyze stores upload in a fresh analysis session and analyzes its text.
func (a *App) Analyze(ctx context.Context, upload models.Upload) (AnalysisResult, error) {
	s := a.stores[FlowAnalysis]
	sess, err := s.Create()
	if err != nil {
		return AnalysisResult{}, err
	}
	paths, err := s.Save(sess, []models.Upload{upload})
	if err != nil {
		return AnalysisResult{SessionID: sess.ID}, err
	}

	text, err := a.extractor.Extract(paths[0])
	if err != nil {
		return AnalysisResult{SessionID: sess.ID}, err
	}

	out, err := a.analyzer.Analyze(ctx, text)
	if err != nil {
		return AnalysisResult{SessionID: sess.ID}, err
	}

	a.sweepQuietly(FlowAnalysis)
	return AnalysisResult{SessionID: sess.ID, Analysis: out}, nil
}

type ComparisonResult struct {
	SessionID string
	Rows      []models.PageComparison
}

// Compare stores both documents in one comparison session, combines them
// and asks the model for page-level changes.
func (a *App) Compare(ctx context.Context, reference, actual models.Upload) (ComparisonResult, error) {
	s := a.stores[FlowCompare]
	sess, err := s.Create()
	if err != nil {
		return ComparisonResult{}, err
	}
	if _, err := s.Save(sess, []models.Upload{reference, actual}); err != nil {
		return ComparisonResult{SessionID: sess.ID}, err
	}

	combined, err := a.combiner.Combine(sess.Dir)
	if err != nil {
		return ComparisonResult{SessionID: sess.ID}, err
	}

	rows, err := a.comparator.Compare(ctx, combined)
	if err != nil {
		return ComparisonResult{SessionID: sess.ID}, err
	}

	a.sweepQuietly(FlowCompare)
	return ComparisonResult{SessionID: sess.ID, Rows: rows}, nil
}

type IndexResult struct {
	SessionID string
	indexer.Result
}

// Index stores uploads in a new chat session and builds the session's
// vector index on the configured backend. progress may be nil.
func (a *App) Index(ctx context.Context, uploads []models.Upload, progress func(done, total int)) (IndexResult, error) {
	s := a.stores[FlowChat]
	sess, err := s.Create()
	if err != nil {
		return IndexResult{}, err
	}
	if _, err := s.Save(sess, uploads); err != nil {
		return IndexResult{SessionID: sess.ID}, err
	}

	ix := a.indexer
	if progress != nil {
		ix = ix.WithProgress(progress)
	}

	var res indexer.Result
	switch a.cfg.Index.Backend {
	case config.BackendPgvector:
		pg, err := a.pgvector(ctx)
		if err != nil {
			return IndexResult{SessionID: sess.ID}, err
		}
		if err := pg.Initialize(ctx); err != nil {
			return IndexResult{SessionID: sess.ID}, errs.E(errs.KindIOFailure, "initialize vector store", err)
		}
		res, err = ix.Index(ctx, sess.Dir, pg, vectorstores.WithNameSpace(sess.ID))
		if err != nil {
			return IndexResult{SessionID: sess.ID}, err
		}
	default:
		embedder, err := a.embeddings.LoadEmbeddings(ctx)
		if err != nil {
			return IndexResult{SessionID: sess.ID}, err
		}
		local := vectorindex.New(embedder)
		res, err = ix.Index(ctx, sess.Dir, local)
		if err != nil {
			return IndexResult{SessionID: sess.ID}, err
		}
		if err := local.Save(a.indexPath(sess.ID), a.cfg.Index.Name); err != nil {
			return IndexResult{SessionID: sess.ID}, err
		}
	}

	a.log.Info("session indexed", "session_id", sess.ID, "backend", a.cfg.Index.Backend, "chunks", res.Chunks)
	return IndexResult{SessionID: sess.ID, Result: res}, nil
}

// Pipeline builds a ready retrieval pipeline over the index of sessionID.
func (a *App) Pipeline(ctx context.Context, sessionID string) (*rag.Pipeline, error) {
	if _, err := a.stores[FlowChat].Open(sessionID); err != nil {
		return nil, err
	}

	p, err := rag.New(rag.Config{
		SessionID: sessionID,
		LLM:       a.llm,
		Logger:    a.log,
	})
	if err != nil {
		return nil, err
	}

	switch a.cfg.Index.Backend {
	case config.BackendPgvector:
		pg, err := a.pgvector(ctx)
		if err != nil {
			return nil, err
		}
		ok, err := pg.Exists(ctx)
		if err != nil {
			return nil, errs.E(errs.KindIOFailure, "load retriever", err)
		}
		if !ok {
			return nil, errs.Errorf(errs.KindNotFound, "load retriever", fmt.Sprintf("vector table for session %s does not exist", sessionID))
		}
		opts, err := a.searchOptions(sessionID)
		if err != nil {
			return nil, err
		}
		p.AttachRetriever(vectorstores.ToRetriever(pg, a.cfg.Index.K, opts...))
	default:
		err := p.LoadRetriever(ctx, a.embeddings, rag.IndexOptions{
			Path:           a.indexPath(sessionID),
			Name:           a.cfg.Index.Name,
			K:              a.cfg.Index.K,
			SearchType:     a.cfg.Index.SearchType,
			ScoreThreshold: a.cfg.Index.ScoreThreshold,
		})
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}
