// Package rag composes the conversational retrieval pipeline: rewrite the
// latest question against the chat history, retrieve passages for the
// rewritten query, then answer from those passages.
package rag

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/schema"

	"github.com/xhad/docportal/pkg/errs"
	"github.com/xhad/docportal/pkg/llm"
	"github.com/xhad/docportal/pkg/logger"
	"github.com/xhad/docportal/pkg/prompt"
)

type State int

const (
	Uninitialized State = iota
	Ready
)

func (s State) String() string {
	if s == Ready {
		return "ready"
	}
	return "uninitialized"
}

// contextSeparator joins retrieved passages into the answer context.
const contextSeparator = "\n\n"

type Config struct {
	SessionID string
	LLM       llms.Model
	// Rewrite and Answer default to the registered contextualize_question
	// and context_qa prompts.
	Rewrite   *prompts.ChatPromptTemplate
	Answer    *prompts.ChatPromptTemplate
	Retriever schema.Retriever
	Logger    logger.Logger
}

// Pipeline is Uninitialized until a retriever is attached. Prompts and model
// are fixed for its lifetime.
type Pipeline struct {
	sessionID string
	llm       llms.Model
	rewrite   prompts.ChatPromptTemplate
	answer    prompts.ChatPromptTemplate
	log       logger.Logger

	mu    sync.RWMutex
	chain *chain
}

// chain is immutable once built; attaching a retriever swaps in a new one.
type chain struct {
	llm       llms.Model
	rewrite   prompts.ChatPromptTemplate
	answer    prompts.ChatPromptTemplate
	retriever schema.Retriever
}

func New(cfg Config) (*Pipeline, error) {
	op := "initialize pipeline"
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	if cfg.LLM == nil {
		return nil, errs.Errorf(errs.KindConfiguration, op, "language model is required")
	}

	rewrite, err := resolve(cfg.Rewrite, prompt.ContextualizeQuestion)
	if err != nil {
		return nil, err
	}
	answer, err := resolve(cfg.Answer, prompt.ContextQA)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		sessionID: cfg.SessionID,
		llm:       cfg.LLM,
		rewrite:   rewrite,
		answer:    answer,
		log:       log.With("session_id", cfg.SessionID),
	}
	p.log.Info("pipeline initialized")

	if cfg.Retriever != nil {
		p.AttachRetriever(cfg.Retriever)
	}
	return p, nil
}

func resolve(t *prompts.ChatPromptTemplate, fallback prompt.Type) (prompts.ChatPromptTemplate, error) {
	if t != nil {
		return *t, nil
	}
	return prompt.Get(fallback)
}

func (p *Pipeline) SessionID() string { return p.sessionID }

func (p *Pipeline) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.chain == nil {
		return Uninitialized
	}
	return Ready
}

// AttachRetriever moves the pipeline to Ready, replacing any previously
// built chain.
func (p *Pipeline) AttachRetriever(r schema.Retriever) {
	c := &chain{
		llm:       p.llm,
		rewrite:   p.rewrite,
		answer:    p.answer,
		retriever: r,
	}

	p.mu.Lock()
	replaced := p.chain != nil
	p.chain = c
	p.mu.Unlock()

	p.log.Info("retriever attached, chain built", "replaced", replaced)
}

// Invoke answers input given the caller's chat history. It fails with
// InvalidState before a retriever is attached.
func (p *Pipeline) Invoke(ctx context.Context, input string, history []llms.ChatMessage) (string, error) {
	p.mu.RLock()
	c := p.chain
	p.mu.RUnlock()

	if c == nil {
		p.log.Error("pipeline invoked before a retriever was attached")
		return "", errs.Errorf(errs.KindInvalidState, "invoke pipeline", "retriever not attached, attach a retriever first")
	}
	if history == nil {
		history = []llms.ChatMessage{}
	}

	answer, err := c.run(ctx, input, history)
	if err != nil {
		p.log.Error("failed to invoke pipeline", "error", err)
		return "", errs.Wrap(errs.KindIOFailure, "invoke pipeline", err)
	}

	if strings.TrimSpace(answer) == "" {
		p.log.Warn("no answer generated", "user_input", input)
		return answer, nil
	}

	p.log.Info("chain invoked successfully", "user_input", input, "answer_preview", preview(answer, 150))
	return answer, nil
}

func (c *chain) run(ctx context.Context, input string, history []llms.ChatMessage) (string, error) {
	query, err := llm.Generate(ctx, c.llm, c.rewrite, map[string]any{
		"input":           input,
		prompt.HistoryKey: history,
	})
	if err != nil {
		return "", fmt.Errorf("rewrite question: %w", err)
	}

	docs, err := c.retriever.GetRelevantDocuments(ctx, query)
	if err != nil {
		return "", fmt.Errorf("retrieve passages: %w", err)
	}

	answer, err := llm.Generate(ctx, c.llm, c.answer, map[string]any{
		"context":         formatDocs(docs),
		"input":           input,
		prompt.HistoryKey: history,
	})
	if err != nil {
		return "", fmt.Errorf("answer question: %w", err)
	}
	return answer, nil
}

func formatDocs(docs []schema.Document) string {
	parts := make([]string, len(docs))
	for i, d := range docs {
		parts[i] = d.PageContent
	}
	return strings.Join(parts, contextSeparator)
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
