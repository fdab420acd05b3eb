package store

import (
	"context"
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/xhad/docportal/pkg/errs"
)

type VectorStoreConfig struct {
	ConnString string `yaml:"url"`
	TableName  string `yaml:"table"`
	VectorDim  int    `yaml:"vector_dim"`
	BatchSize  int    `yaml:"batch_size"`
}

// VectorStore keeps passages and their embeddings in Postgres with pgvector.
// Rows are partitioned by namespace, one per chat session.
type VectorStore struct {
	config   VectorStoreConfig
	pool     *pgxpool.Pool
	embedder embeddings.Embedder
}

var _ vectorstores.VectorStore = (*VectorStore)(nil)

func NewWithConfig(ctx context.Context, config VectorStoreConfig, embedder embeddings.Embedder) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "documents"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 768
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, errs.E(errs.KindConfiguration, "connect vector store", fmt.Errorf("failed to connect to database: %w", err))
	}

	return &VectorStore{
		config:   config,
		pool:     pool,
		embedder: embedder,
	}, nil
}

// Initialize creates the extension, table and index when they are missing.
func (vs *VectorStore) Initialize(ctx context.Context) error {
	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			namespace TEXT NOT NULL,
			content TEXT,
			embedding vector(%d),
			metadata JSONB
		)`, pgx.Identifier{vs.config.TableName}.Sanitize(), vs.config.VectorDim)

	if _, err = vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		pgx.Identifier{vs.config.TableName + "_embedding_idx"}.Sanitize(),
		pgx.Identifier{vs.config.TableName}.Sanitize())

	if _, err = vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	return nil
}

// Exists reports whether the backing table has been created.
func (vs *VectorStore) Exists(ctx context.Context) (bool, error) {
	var name *string
	err := vs.pool.QueryRow(ctx, "SELECT to_regclass($1)::text", vs.config.TableName).Scan(&name)
	if err != nil {
		return false, fmt.Errorf("failed to look up table: %w", err)
	}
	return name != nil, nil
}

func (vs *VectorStore) AddDocuments(ctx context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	opts := vs.options(options)

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = sanitizeUTF8(d.PageContent)
	}
	vectors, err := opts.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, namespace, content, embedding, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		pgx.Identifier{vs.config.TableName}.Sanitize())

	ids := make([]string, 0, len(docs))
	batch := &pgx.Batch{}
	for i, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
		id := uuid.NewString()
		batch.Queue(stmt, id, opts.NameSpace, texts[i], pgvector.NewVector(vectors[i]), meta)
		ids = append(ids, id)

		if batch.Len() >= vs.config.BatchSize {
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return nil, fmt.Errorf("failed to insert documents: %w", err)
			}
			batch = &pgx.Batch{}
		}
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return nil, fmt.Errorf("failed to insert documents: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return ids, nil
}

// SimilaritySearch ranks the namespace's rows by cosine similarity. Score is
// 1 minus the cosine distance.
func (vs *VectorStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := vs.options(options)

	vec, err := opts.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	args := []any{pgvector.NewVector(vec), opts.NameSpace, numDocuments}
	if opts.ScoreThreshold > 0 {
		args = append(args, opts.ScoreThreshold)
	}
	rows, err := vs.pool.Query(ctx, searchQuery(vs.config.TableName, opts.ScoreThreshold > 0), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []schema.Document
	for rows.Next() {
		var (
			doc  schema.Document
			meta []byte
		)
		if err := rows.Scan(&doc.PageContent, &meta, &doc.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode metadata: %w", err)
			}
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// searchQuery selects rows of one namespace nearest to $1, limited to $3.
// With threshold set, rows scoring below $4 are dropped.
func searchQuery(table string, threshold bool) string {
	where := "namespace = $2"
	if threshold {
		where += " AND 1 - (embedding <=> $1) >= $4"
	}
	return fmt.Sprintf(`
		SELECT content, metadata, (1 - (embedding <=> $1))::real AS score
		FROM %s
		WHERE %s
		ORDER BY embedding <=> $1
		LIMIT $3`,
		pgx.Identifier{table}.Sanitize(), where)
}

// DeleteNamespace removes every row stored for namespace.
func (vs *VectorStore) DeleteNamespace(ctx context.Context, namespace string) error {
	q := fmt.Sprintf("DELETE FROM %s WHERE namespace = $1", pgx.Identifier{vs.config.TableName}.Sanitize())
	if _, err := vs.pool.Exec(ctx, q, namespace); err != nil {
		return fmt.Errorf("failed to delete namespace: %w", err)
	}
	return nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

func (vs *VectorStore) options(options []vectorstores.Option) vectorstores.Options {
	opts := vectorstores.Options{}
	for _, o := range options {
		o(&opts)
	}
	if opts.Embedder == nil {
		opts.Embedder = vs.embedder
	}
	return opts
}

// sanitizeUTF8 drops invalid bytes; Postgres rejects them in TEXT columns.
func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
