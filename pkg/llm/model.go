package llm

import (
	"context"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/outputparser"
	"github.com/tmc/langchaingo/prompts"
)

// configuredModel applies the provider's temperature and token limit to
// every call. Options given by the caller win.
type configuredModel struct {
	model   llms.Model
	options []llms.CallOption
}

func withOptions(model llms.Model, options ...llms.CallOption) llms.Model {
	return &configuredModel{model: model, options: options}
}

func (m *configuredModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	all := make([]llms.CallOption, 0, len(m.options)+len(options))
	all = append(all, m.options...)
	all = append(all, options...)
	return m.model.GenerateContent(ctx, messages, all...)
}

func (m *configuredModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

// Generate renders tmpl with values, sends the messages to model and returns
// the first choice as plain text. A reply without choices yields "".
func Generate(ctx context.Context, model llms.Model, tmpl prompts.ChatPromptTemplate, values map[string]any) (string, error) {
	msgs, err := tmpl.FormatMessages(values)
	if err != nil {
		return "", err
	}

	content := make([]llms.MessageContent, 0, len(msgs))
	for _, m := range msgs {
		content = append(content, llms.TextParts(m.GetType(), m.GetContent()))
	}

	resp, err := model.GenerateContent(ctx, content)
	if err != nil {
		return "", err
	}
	if resp == nil || len(resp.Choices) == 0 {
		return "", nil
	}

	out, err := outputparser.NewSimple().Parse(resp.Choices[0].Content)
	if err != nil {
		return "", err
	}
	text, _ := out.(string)
	return text, nil
}
