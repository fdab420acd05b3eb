package config

import (
	"fmt"
	"net/url"

	"github.com/xhad/docportal/pkg/rag"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Storage
	if c.Storage.KeepLatest < 0 {
		errors = append(errors, ValidationError{
			Field:   "storage.keep_latest",
			Message: "keep_latest must not be negative",
		})
	}

	// Index
	if c.Index.Backend != BackendLocal && c.Index.Backend != BackendPgvector {
		errors = append(errors, ValidationError{
			Field:   "index.backend",
			Message: fmt.Sprintf("unknown backend %q, want local or pgvector", c.Index.Backend),
		})
	}

	if c.Index.K < 1 {
		errors = append(errors, ValidationError{
			Field:   "index.k",
			Message: "k must be positive",
		})
	}

	if _, err := rag.SearchOptions(c.Index.SearchType, c.Index.ScoreThreshold); err != nil {
		errors = append(errors, ValidationError{
			Field:   "index.search_type",
			Message: err.Error(),
		})
	}

	// Database
	if c.Index.Backend == BackendPgvector && c.Database.ConnString == "" {
		errors = append(errors, ValidationError{
			Field:   "database.url",
			Message: "database URL is required for the pgvector backend",
		})
	}

	if c.Database.ConnString != "" {
		if u, err := url.Parse(c.Database.ConnString); err != nil || u.Scheme == "" {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	// Processor
	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	// Models
	if err := c.EmbeddingModel.WithDefaults().Validate(); err != nil {
		errors = append(errors, ValidationError{
			Field:   "embedding_model",
			Message: err.Error(),
		})
	}

	if len(c.LLM) == 0 {
		errors = append(errors, ValidationError{
			Field:   "llm",
			Message: "at least one provider is required",
		})
	}

	for key, p := range c.LLM {
		if err := p.WithDefaults().Validate(); err != nil {
			errors = append(errors, ValidationError{
				Field:   "llm." + key,
				Message: err.Error(),
			})
		}
	}

	return errors
}
