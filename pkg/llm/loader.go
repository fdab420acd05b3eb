package llm

import (
	"context"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/xhad/docportal/pkg/errs"
	"github.com/xhad/docportal/pkg/logger"
)

// ProviderEnv selects the entry of the llm block to load.
const (
	ProviderEnv        = "LLM_PROVIDER"
	defaultProviderKey = "groq"
)

// Loader resolves language models and embedders from configuration once, at
// startup.
type Loader struct {
	providers map[string]ProviderConfig
	embedding EmbeddingConfig
	log       logger.Logger
	getenv    func(string) string
}

func NewLoader(providers map[string]ProviderConfig, embedding EmbeddingConfig, log logger.Logger) *Loader {
	return &Loader{
		providers: providers,
		embedding: embedding,
		log:       log,
		getenv:    os.Getenv,
	}
}

// ProviderKey returns the configured LLM_PROVIDER or the default.
func (l *Loader) ProviderKey() string {
	if key := l.getenv(ProviderEnv); key != "" {
		return key
	}
	return defaultProviderKey
}

// LoadLLM builds the model selected by LLM_PROVIDER. Unknown keys and
// providers fail closed.
func (l *Loader) LoadLLM(ctx context.Context) (llms.Model, error) {
	op := "load llm"
	key := l.ProviderKey()

	cfg, ok := l.providers[key]
	if !ok {
		l.log.Error("LLM provider not found in config", "provider_key", key)
		return nil, errs.Errorf(errs.KindConfiguration, op, fmt.Sprintf("provider %q not found in config", key))
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errs.E(errs.KindConfiguration, op+" "+key, err)
	}

	apiKey, err := l.apiKey(cfg.Provider, cfg.APIKeyEnv)
	if err != nil {
		return nil, errs.E(errs.KindConfiguration, op+" "+key, err)
	}

	l.log.Info("loading LLM",
		"provider", cfg.Provider,
		"model_name", cfg.ModelName,
		"temperature", cfg.Temperature,
		"max_tokens", cfg.MaxOutputTokens,
	)

	var model llms.Model
	switch cfg.Provider {
	case ProviderGoogle:
		model, err = googleai.New(ctx,
			googleai.WithAPIKey(apiKey),
			googleai.WithDefaultModel(cfg.ModelName),
		)
	case ProviderGroq:
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = groqBaseURL
		}
		model, err = openai.New(
			openai.WithModel(cfg.ModelName),
			openai.WithToken(apiKey),
			openai.WithBaseURL(baseURL),
		)
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithModel(cfg.ModelName), openai.WithToken(apiKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case ProviderOllama:
		model, err = ollama.New(
			ollama.WithModel(cfg.ModelName),
			ollama.WithServerURL(orDefault(cfg.BaseURL, defaultOllamaURL)),
		)
	default:
		l.log.Error("invalid LLM provider", "provider", cfg.Provider)
		return nil, errs.Errorf(errs.KindConfiguration, op, fmt.Sprintf("unsupported LLM provider %q", cfg.Provider))
	}
	if err != nil {
		return nil, errs.E(errs.KindConfiguration, op+" "+key, fmt.Errorf("failed to initialize LLM: %w", err))
	}

	return withOptions(model,
		llms.WithTemperature(cfg.Temperature),
		llms.WithMaxTokens(cfg.MaxOutputTokens),
	), nil
}

// LoadEmbeddings builds the configured embedding model.
func (l *Loader) LoadEmbeddings(ctx context.Context) (embeddings.Embedder, error) {
	op := "load embeddings"
	cfg := l.embedding.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errs.E(errs.KindConfiguration, op, err)
	}
	apiKey, err := l.apiKey(cfg.Provider, cfg.APIKeyEnv)
	if err != nil {
		return nil, errs.E(errs.KindConfiguration, op, err)
	}

	l.log.Info("loading embedding model", "provider", cfg.Provider, "model_name", cfg.ModelName)

	var client embeddings.EmbedderClient
	switch cfg.Provider {
	case ProviderGoogle:
		client, err = googleai.New(ctx,
			googleai.WithAPIKey(apiKey),
			googleai.WithDefaultEmbeddingModel(cfg.ModelName),
		)
	case ProviderOpenAI:
		opts := []openai.Option{openai.WithEmbeddingModel(cfg.ModelName), openai.WithToken(apiKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		client, err = openai.New(opts...)
	case ProviderOllama:
		client, err = ollama.New(
			ollama.WithModel(cfg.ModelName),
			ollama.WithServerURL(orDefault(cfg.BaseURL, defaultOllamaURL)),
		)
	default:
		return nil, errs.Errorf(errs.KindConfiguration, op, fmt.Sprintf("unsupported embedding provider %q", cfg.Provider))
	}
	if err != nil {
		return nil, errs.E(errs.KindConfiguration, op, fmt.Errorf("failed to initialize embedder: %w", err))
	}

	emb, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, errs.E(errs.KindConfiguration, op, err)
	}
	return emb, nil
}

func (l *Loader) apiKey(p Provider, env string) (string, error) {
	if p == ProviderOllama || env == "" {
		return "", nil
	}
	key := l.getenv(env)
	if key == "" {
		l.log.Error("missing environment variables", "missing_vars", []string{env})
		return "", fmt.Errorf("missing environment variable %s", env)
	}
	return key, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
