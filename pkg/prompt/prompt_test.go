package prompt_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/docportal/pkg/errs"
	"github.com/xhad/docportal/pkg/prompt"
)

func TestGetUnknown(t *testing.T) {
	_, err := prompt.Get("summarize_everything")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.ErrConfiguration))
}

func TestRetrievalPromptsExpandHistory(t *testing.T) {
	history := []llms.ChatMessage{
		llms.HumanChatMessage{Content: "what is in the report?"},
		llms.AIChatMessage{Content: "quarterly numbers"},
	}

	tests := []struct {
		typ    prompt.Type
		values map[string]any
	}{
		{prompt.ContextualizeQuestion, map[string]any{"input": "and the totals?"}},
		{prompt.ContextQA, map[string]any{"input": "and the totals?", "context": "Revenue 10"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			tmpl, err := prompt.Get(tt.typ)
			require.NoError(t, err)

			tt.values[prompt.HistoryKey] = history
			msgs, err := tmpl.FormatMessages(tt.values)
			require.NoError(t, err)

			require.Len(t, msgs, 4)
			assert.Equal(t, llms.ChatMessageTypeSystem, msgs[0].GetType())
			assert.Equal(t, "what is in the report?", msgs[1].GetContent())
			assert.Equal(t, "quarterly numbers", msgs[2].GetContent())
			assert.Equal(t, "and the totals?", msgs[3].GetContent())
		})
	}
}

func TestContextQAIncludesContext(t *testing.T) {
	tmpl, err := prompt.Get(prompt.ContextQA)
	require.NoError(t, err)

	msgs, err := tmpl.FormatMessages(map[string]any{
		"input":           "q",
		"context":         "A\n\nB",
		prompt.HistoryKey: []llms.ChatMessage{},
	})
	require.NoError(t, err)
	assert.Contains(t, msgs[0].GetContent(), "A\n\nB")
}

func TestDocumentPrompts(t *testing.T) {
	analysis, err := prompt.Get(prompt.DocumentAnalysis)
	require.NoError(t, err)
	msgs, err := analysis.FormatMessages(map[string]any{
		"format_instructions": "SCHEMA",
		"document_text":       "BODY",
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0].GetContent(), "SCHEMA")
	assert.Contains(t, msgs[1].GetContent(), "BODY")

	comparison, err := prompt.Get(prompt.DocumentComparison)
	require.NoError(t, err)
	msgs, err = comparison.FormatMessages(map[string]any{
		"format_instructions": "ROWS",
		"combined_docs":       "Document: a.pdf",
	})
	require.NoError(t, err)
	assert.Contains(t, msgs[1].GetContent(), "Document: a.pdf")
}

func TestTypesAreRegistered(t *testing.T) {
	for _, typ := range prompt.Types() {
		_, err := prompt.Get(typ)
		assert.NoError(t, err, typ)
	}
}
