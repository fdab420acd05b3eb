// Package analysis runs the single-document analysis and two-document
// comparison prompts and decodes their JSON replies.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"

	"github.com/xhad/docportal/internal/models"
	"github.com/xhad/docportal/pkg/errs"
	"github.com/xhad/docportal/pkg/llm"
	"github.com/xhad/docportal/pkg/logger"
	"github.com/xhad/docportal/pkg/prompt"
)

const analysisFormat = `Respond with a single JSON object with exactly these keys:
{"Title": string, "Author": [string], "DateCreated": string, "LastModifiedDate": string, "Publisher": string, "Language": string, "PageCount": number or "Not Available", "SentimentTone": string, "Summary": [string]}`

const comparisonFormat = `Respond with a JSON array. Each element describes one page:
[{"Page": string, "Changes": string}]
Use "NO CHANGE" as Changes for pages without differences.`

// fixPrompt asks the model to repair a reply that failed to decode.
var fixPrompt = prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
	prompts.NewSystemMessagePromptTemplate("Rewrite the completion below so that it is valid JSON that satisfies these instructions. Return only the JSON.\n\n{{.format_instructions}}", []string{"format_instructions"}),
	prompts.NewHumanMessagePromptTemplate("Completion:\n{{.completion}}\n\nError:\n{{.error}}", []string{"completion", "error"}),
})

type Analyzer struct {
	llm    llms.Model
	prompt prompts.ChatPromptTemplate
	log    logger.Logger
}

func NewAnalyzer(model llms.Model, log logger.Logger) (*Analyzer, error) {
	tmpl, err := prompt.Get(prompt.DocumentAnalysis)
	if err != nil {
		return nil, err
	}
	return &Analyzer{llm: model, prompt: tmpl, log: log}, nil
}

// Analyze extracts metadata and a summary from one document's text.
func (a *Analyzer) Analyze(ctx context.Context, text string) (models.Analysis, error) {
	var out models.Analysis

	reply, err := llm.Generate(ctx, a.llm, a.prompt, map[string]any{
		"format_instructions": analysisFormat,
		"document_text":       text,
	})
	if err != nil {
		a.log.Error("metadata analysis failed", "error", err)
		return out, errs.Wrap(errs.KindIOFailure, "analyze document", err)
	}

	if err := decode(ctx, a.llm, reply, analysisFormat, &out); err != nil {
		a.log.Error("metadata analysis failed", "error", err)
		return out, errs.Wrap(errs.KindIOFailure, "analyze document", err)
	}

	a.log.Info("metadata extraction successful", "title", out.Title)
	return out, nil
}

type Comparator struct {
	llm    llms.Model
	prompt prompts.ChatPromptTemplate
	log    logger.Logger
}

func NewComparator(model llms.Model, log logger.Logger) (*Comparator, error) {
	tmpl, err := prompt.Get(prompt.DocumentComparison)
	if err != nil {
		return nil, err
	}
	return &Comparator{llm: model, prompt: tmpl, log: log}, nil
}

// Compare asks the model for page-level differences in a combined corpus.
func (c *Comparator) Compare(ctx context.Context, combined string) ([]models.PageComparison, error) {
	c.log.Info("starting document comparison", "input_chars", len(combined))

	reply, err := llm.Generate(ctx, c.llm, c.prompt, map[string]any{
		"format_instructions": comparisonFormat,
		"combined_docs":       combined,
	})
	if err != nil {
		c.log.Error("failed to compare documents", "error", err)
		return nil, errs.Wrap(errs.KindIOFailure, "compare documents", err)
	}

	var rows []models.PageComparison
	if err := decode(ctx, c.llm, reply, comparisonFormat, &rows); err != nil {
		c.log.Error("failed to compare documents", "error", err)
		return nil, errs.Wrap(errs.KindIOFailure, "compare documents", err)
	}

	c.log.Info("document comparison completed", "rows", len(rows))
	return rows, nil
}

// decode unmarshals reply into v. A reply that does not parse is sent back
// to the model once with the error for repair.
func decode(ctx context.Context, model llms.Model, reply, format string, v any) error {
	err := json.Unmarshal([]byte(stripFences(reply)), v)
	if err == nil {
		return nil
	}

	fixed, ferr := llm.Generate(ctx, model, fixPrompt, map[string]any{
		"format_instructions": format,
		"completion":          reply,
		"error":               err.Error(),
	})
	if ferr != nil {
		return fmt.Errorf("repair reply: %w", ferr)
	}
	if err := json.Unmarshal([]byte(stripFences(fixed)), v); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}

// stripFences removes a surrounding markdown code fence and any reasoning
// block emitted before the JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "</think>"); i >= 0 {
		s = strings.TrimSpace(s[i+len("</think>"):])
	}
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
