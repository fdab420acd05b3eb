// Package prompt holds the chat templates used by the analysis, comparison
// and retrieval flows. Templates use Go template syntax.
package prompt

import (
	"fmt"

	"github.com/tmc/langchaingo/prompts"

	"github.com/xhad/docportal/pkg/errs"
)

type Type string

const (
	ContextualizeQuestion Type = "contextualize_question"
	ContextQA             Type = "context_qa"
	DocumentAnalysis      Type = "document_analysis"
	DocumentComparison    Type = "document_comparison"
)

// HistoryKey is the placeholder the retrieval prompts expand into prior turns.
const HistoryKey = "chat_history"

const contextualizeSystem = `Given a conversation history and the most recent user query, rewrite the query as a standalone question that makes sense without relying on the previous context. Do not provide an answer. Only reformulate the question if necessary; otherwise, return it unchanged.`

const contextQASystem = `You are an assistant designed to answer questions using the provided context. Rely only on the retrieved information to form your response. If the answer is not found in the context, respond with "I don't know." Keep your answer concise and no longer than three sentences.

{{.context}}`

const analysisSystem = `You are a highly capable assistant trained to analyze and summarize documents.
Return ONLY valid JSON matching the exact schema below.

{{.format_instructions}}`

const analysisHuman = `Analyze this document:
{{.document_text}}`

const comparisonSystem = `You are a highly capable assistant trained to compare and summarize documents.
Compare the reference and the actual document page by page and list every change.
Return ONLY valid JSON matching the exact schema below.

{{.format_instructions}}`

const comparisonHuman = `The input documents:
{{.combined_docs}}`

func history() prompts.MessagesPlaceholder {
	return prompts.MessagesPlaceholder{VariableName: HistoryKey}
}

var registry = map[Type]func() prompts.ChatPromptTemplate{
	ContextualizeQuestion: func() prompts.ChatPromptTemplate {
		return prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
			prompts.NewSystemMessagePromptTemplate(contextualizeSystem, nil),
			history(),
			prompts.NewHumanMessagePromptTemplate("{{.input}}", []string{"input"}),
		})
	},
	ContextQA: func() prompts.ChatPromptTemplate {
		return prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
			prompts.NewSystemMessagePromptTemplate(contextQASystem, []string{"context"}),
			history(),
			prompts.NewHumanMessagePromptTemplate("{{.input}}", []string{"input"}),
		})
	},
	DocumentAnalysis: func() prompts.ChatPromptTemplate {
		return prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
			prompts.NewSystemMessagePromptTemplate(analysisSystem, []string{"format_instructions"}),
			prompts.NewHumanMessagePromptTemplate(analysisHuman, []string{"document_text"}),
		})
	},
	DocumentComparison: func() prompts.ChatPromptTemplate {
		return prompts.NewChatPromptTemplate([]prompts.MessageFormatter{
			prompts.NewSystemMessagePromptTemplate(comparisonSystem, []string{"format_instructions"}),
			prompts.NewHumanMessagePromptTemplate(comparisonHuman, []string{"combined_docs"}),
		})
	},
}

// Get returns a fresh template for t.
func Get(t Type) (prompts.ChatPromptTemplate, error) {
	build, ok := registry[t]
	if !ok {
		return prompts.ChatPromptTemplate{}, errs.Errorf(errs.KindConfiguration, "load prompt", fmt.Sprintf("unknown prompt type %q", t))
	}
	return build(), nil
}

// Types lists the registered prompt types.
func Types() []Type {
	return []Type{ContextualizeQuestion, ContextQA, DocumentAnalysis, DocumentComparison}
}
