package llm

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Provider names a supported language model backend.
type Provider string

const (
	ProviderGoogle Provider = "google"
	ProviderGroq   Provider = "groq"
	ProviderOpenAI Provider = "openai"
	ProviderOllama Provider = "ollama"
)

const (
	defaultTemperature     = 0.2
	defaultMaxOutputTokens = 2048
	defaultOllamaURL       = "http://localhost:11434"
	groqBaseURL            = "https://api.groq.com/openai/v1"
)

// ProviderConfig configures one entry of the llm block, keyed by the value
// of LLM_PROVIDER.
type ProviderConfig struct {
	Provider        Provider `yaml:"provider" validate:"required,oneof=google groq openai ollama"`
	ModelName       string   `yaml:"model_name" validate:"required"`
	Temperature     float64  `yaml:"temperature" validate:"gte=0,lte=2"`
	MaxOutputTokens int      `yaml:"max_output_tokens" validate:"gte=1"`
	BaseURL         string   `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv       string   `yaml:"api_key_env"`
}

// EmbeddingConfig selects the embedding model.
type EmbeddingConfig struct {
	Provider  Provider `yaml:"provider" validate:"required,oneof=google openai ollama"`
	ModelName string   `yaml:"model_name" validate:"required"`
	BaseURL   string   `yaml:"base_url" validate:"omitempty,url"`
	APIKeyEnv string   `yaml:"api_key_env"`
}

var validate = validator.New()

// WithDefaults fills unset numeric settings and the API key variable.
func (c ProviderConfig) WithDefaults() ProviderConfig {
	if c.Temperature == 0 {
		c.Temperature = defaultTemperature
	}
	if c.MaxOutputTokens == 0 {
		c.MaxOutputTokens = defaultMaxOutputTokens
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = defaultKeyEnv(c.Provider)
	}
	return c
}

func (c ProviderConfig) Validate() error {
	return describe(validate.Struct(c))
}

func (c EmbeddingConfig) WithDefaults() EmbeddingConfig {
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = defaultKeyEnv(c.Provider)
	}
	return c
}

func (c EmbeddingConfig) Validate() error {
	return describe(validate.Struct(c))
}

func defaultKeyEnv(p Provider) string {
	switch p {
	case ProviderGoogle:
		return "GOOGLE_API_KEY"
	case ProviderGroq:
		return "GROQ_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	default:
		return ""
	}
}

func describe(err error) error {
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed on '%s' tag", e.Field(), e.Tag()))
	}
	return fmt.Errorf("%s", strings.Join(msgs, "; "))
}
