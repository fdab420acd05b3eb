package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xhad/docportal/pkg/errs"
	"github.com/xhad/docportal/pkg/indexer"
	"github.com/xhad/docportal/pkg/llm"
	"github.com/xhad/docportal/pkg/logger"
	"github.com/xhad/docportal/pkg/processor"
	"github.com/xhad/docportal/pkg/store"
)

const (
	BackendLocal    = "local"
	BackendPgvector = "pgvector"
)

type StorageConfig struct {
	DataDir     string `yaml:"data_dir"`
	CompareDir  string `yaml:"compare_dir"`
	AnalysisDir string `yaml:"analysis_dir"`
	ChatDir     string `yaml:"chat_dir"`
	KeepLatest  int    `yaml:"keep_latest"`
}

type IndexConfig struct {
	Backend        string  `yaml:"backend"`
	Dir            string  `yaml:"dir"`
	Name           string  `yaml:"name"`
	K              int     `yaml:"k"`
	SearchType     string  `yaml:"search_type"`
	ScoreThreshold float32 `yaml:"score_threshold"`
}

type ServerConfig struct {
	Addr       string        `yaml:"addr"`
	SessionTTL time.Duration `yaml:"session_ttl"`
	MaxUpload  int64         `yaml:"max_upload_bytes"`
}

type Config struct {
	Storage        StorageConfig                 `yaml:"storage"`
	Index          IndexConfig                   `yaml:"index"`
	Database       store.VectorStoreConfig       `yaml:"database"`
	Processor      processor.ProcessorConfig     `yaml:"processor"`
	Indexer        indexer.IndexerConfig         `yaml:"indexer"`
	EmbeddingModel llm.EmbeddingConfig           `yaml:"embedding_model"`
	LLM            map[string]llm.ProviderConfig `yaml:"llm"`
	Log            logger.Config                 `yaml:"log"`
	Server         ServerConfig                  `yaml:"server"`
}

// LoadConfig reads path, or the first default location that exists, then
// applies environment overrides and defaults. With no file at all the
// defaults are returned.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/docportal/config.yaml"),
			"/etc/docportal/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.E(errs.KindConfiguration, "load config", fmt.Errorf("error reading config file: %w", err))
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errs.E(errs.KindConfiguration, "load config", fmt.Errorf("error parsing config file: %w", err))
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.Storage.DataDir == "" {
		config.Storage.DataDir = "data"
	}
	if config.Storage.CompareDir == "" {
		config.Storage.CompareDir = filepath.Join(config.Storage.DataDir, "document_compare")
	}
	if config.Storage.AnalysisDir == "" {
		config.Storage.AnalysisDir = filepath.Join(config.Storage.DataDir, "document_analysis")
	}
	if config.Storage.ChatDir == "" {
		config.Storage.ChatDir = filepath.Join(config.Storage.DataDir, "multi_doc_chat")
	}
	if config.Storage.KeepLatest == 0 {
		config.Storage.KeepLatest = 3
	}

	if config.Index.Backend == "" {
		config.Index.Backend = BackendLocal
	}
	if config.Index.Dir == "" {
		config.Index.Dir = "faiss_index"
	}
	if config.Index.Name == "" {
		config.Index.Name = "index"
	}
	if config.Index.K == 0 {
		config.Index.K = 5
	}
	if config.Index.SearchType == "" {
		config.Index.SearchType = "similarity"
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "documents"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = 768
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 1000
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 200
	}
	if config.Processor.MinChunkLength == 0 {
		config.Processor.MinChunkLength = 20
	}

	if config.Indexer.BatchSize == 0 {
		config.Indexer.BatchSize = 32
	}

	if config.EmbeddingModel.Provider == "" {
		config.EmbeddingModel.Provider = llm.ProviderGoogle
	}
	if config.EmbeddingModel.ModelName == "" {
		config.EmbeddingModel.ModelName = "models/text-embedding-004"
	}

	if len(config.LLM) == 0 {
		config.LLM = map[string]llm.ProviderConfig{
			"groq": {
				Provider:        llm.ProviderGroq,
				ModelName:       "deepseek-r1-distill-llama-70b",
				MaxOutputTokens: 2048,
			},
			"google": {
				Provider:        llm.ProviderGoogle,
				ModelName:       "gemini-2.0-flash",
				MaxOutputTokens: 2048,
			},
		}
	}

	if config.Log.Level == "" {
		config.Log.Level = "info"
	}

	if config.Server.Addr == "" {
		config.Server.Addr = ":8080"
	}
	if config.Server.SessionTTL == 0 {
		config.Server.SessionTTL = 30 * time.Minute
	}
	if config.Server.MaxUpload == 0 {
		config.Server.MaxUpload = 32 << 20
	}
}

func mergeWithEnv(config *Config) {
	if dir := os.Getenv("DOCPORTAL_DATA_DIR"); dir != "" {
		config.Storage.DataDir = dir
	}
	if baseURL := os.Getenv("OLLAMA_BASE_URL"); baseURL != "" {
		for key, p := range config.LLM {
			if p.Provider == llm.ProviderOllama {
				p.BaseURL = baseURL
				config.LLM[key] = p
			}
		}
		if config.EmbeddingModel.Provider == llm.ProviderOllama {
			config.EmbeddingModel.BaseURL = baseURL
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.ConnString = dbURL
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Log.Level = level
	}
}
