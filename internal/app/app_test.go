package app_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"

	"github.com/xhad/docportal/internal/app"
	"github.com/xhad/docportal/internal/models"
	"github.com/xhad/docportal/pkg/config"
	"github.com/xhad/docportal/pkg/errs"
	"github.com/xhad/docportal/pkg/logger"
	"github.com/xhad/docportal/pkg/session"
)

// routedModel answers by looking at the system prompt of each request.
type routedModel struct {
	calls int
}

func (m *routedModel) GenerateContent(_ context.Context, msgs []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	system := ""
	if len(msgs) > 0 && msgs[0].Role == llms.ChatMessageTypeSystem {
		system = msgs[0].Parts[0].(llms.TextContent).Text
	}
	last := msgs[len(msgs)-1].Parts[0].(llms.TextContent).Text

	var reply string
	switch {
	case strings.Contains(system, "analyze and summarize"):
		reply = `{"Title":"Doc","Summary":["short"]}`
	case strings.Contains(system, "compare and summarize"):
		reply = `[{"Page":"1","Changes":"NO CHANGE"}]`
	case strings.Contains(system, "standalone question"):
		reply = last
	default:
		reply = "answer from: " + strings.ReplaceAll(system, "\n", " ")
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: reply}}}, nil
}

func (m *routedModel) Call(ctx context.Context, p string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, p, options...)
}

type textExtractor struct{}

func (textExtractor) Extract(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return "\n--- Page 1 ---\n" + string(data), nil
}

type wordEmbedder struct{}

var vocabulary = []string{"invoice", "contract", "salary"}

func (wordEmbedder) vec(text string) []float32 {
	v := make([]float32, len(vocabulary)+1)
	v[len(vocabulary)] = 0.01
	for i, w := range vocabulary {
		v[i] = float32(strings.Count(strings.ToLower(text), w))
	}
	return v
}

func (e wordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vec(t)
	}
	return out, nil
}

func (e wordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vec(text), nil
}

type embeddingsLoader struct{}

func (embeddingsLoader) LoadEmbeddings(context.Context) (embeddings.Embedder, error) {
	return wordEmbedder{}, nil
}

func newApp(t *testing.T) (*app.App, *config.Config) {
	t.Helper()
	cfg := loadConfig(t)

	a, err := app.New(cfg, logger.Nop(), app.Deps{
		LLM:        &routedModel{},
		Embeddings: embeddingsLoader{},
		Extractor:  textExtractor{},
	})
	require.NoError(t, err)
	return a, cfg
}

func loadConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("DOCPORTAL_DATA_DIR", "")
	t.Setenv("DATABASE_URL", "")

	base := t.TempDir()
	path := filepath.Join(base, "config.yaml")
	body := "storage:\n  data_dir: " + filepath.Join(base, "data") + "\n  keep_latest: 2\n" +
		"index:\n  dir: " + filepath.Join(base, "faiss_index") + "\n  k: 2\n" +
		"processor:\n  chunk_size: 200\n  chunk_overlap: 20\n  min_chunk_length: 5\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := config.LoadConfig(path)
	require.NoError(t, err)
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := loadConfig(t)
	cfg.Index.Backend = "faiss"

	_, err := app.New(cfg, logger.Nop(), app.Deps{LLM: &routedModel{}})
	assert.True(t, errors.Is(err, errs.ErrConfiguration))
}

func TestAnalyze(t *testing.T) {
	a, _ := newApp(t)

	res, err := a.Analyze(context.Background(), models.Upload{Name: "report.pdf", Data: []byte("Quarterly report.")})
	require.NoError(t, err)
	assert.True(t, session.ValidID(res.SessionID))
	assert.Equal(t, "Doc", res.Analysis.Title)

	_, err = a.Analyze(context.Background(), models.Upload{Name: "report.docx", Data: []byte("x")})
	assert.True(t, errors.Is(err, errs.ErrValidation))
}

func TestCompareSweepsOldSessions(t *testing.T) {
	a, cfg := newApp(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := a.Compare(ctx,
			models.Upload{Name: "reference.pdf", Data: []byte("v1")},
			models.Upload{Name: "actual.pdf", Data: []byte("v2")},
		)
		require.NoError(t, err)
		assert.Len(t, res.Rows, 1)
	}

	entries, err := os.ReadDir(cfg.Storage.CompareDir)
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entries), 2)
}

func TestIndexThenChat(t *testing.T) {
	a, cfg := newApp(t)
	ctx := context.Background()

	var last int
	res, err := a.Index(ctx, []models.Upload{
		{Name: "invoice.pdf", Data: []byte("The invoice total is 40 dollars.")},
		{Name: "contract.pdf", Data: []byte("The contract runs for two years.")},
	}, func(done, total int) { last = done })
	require.NoError(t, err)
	assert.Equal(t, 2, res.Documents)
	assert.Equal(t, res.Chunks, last)
	_, err = os.Stat(filepath.Join(cfg.Index.Dir, res.SessionID, "index.json"))
	require.NoError(t, err)

	p, err := a.Pipeline(ctx, res.SessionID)
	require.NoError(t, err)

	answer, err := p.Invoke(ctx, "what does the contract say?", nil)
	require.NoError(t, err)
	assert.Contains(t, answer, "contract runs for two years")
}

func TestPipelineErrors(t *testing.T) {
	a, _ := newApp(t)
	ctx := context.Background()

	_, err := a.Pipeline(ctx, "../etc")
	assert.True(t, errors.Is(err, errs.ErrValidation))

	_, err = a.Pipeline(ctx, "session_20250101_120000_abcdef12")
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	s, err := a.Store(app.FlowChat)
	require.NoError(t, err)
	sess, err := s.Create()
	require.NoError(t, err)
	_, err = a.Pipeline(ctx, sess.ID)
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestStoreUnknownFlow(t *testing.T) {
	a, _ := newApp(t)
	_, err := a.Store("archive")
	assert.True(t, errors.Is(err, errs.ErrValidation))
}
