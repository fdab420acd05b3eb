package vectorindex_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/xhad/docportal/pkg/errs"
	"github.com/xhad/docportal/pkg/vectorindex"
)

// keywordEmbedder counts fruit names, one dimension each.
type keywordEmbedder struct{}

var fruits = []string{"apple", "banana", "cherry"}

func (keywordEmbedder) vector(text string) []float32 {
	v := make([]float32, len(fruits))
	for i, f := range fruits {
		v[i] = float32(strings.Count(strings.ToLower(text), f))
	}
	return v
}

func (e keywordEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e keywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	return e.vector(text), nil
}

func seed(t *testing.T) *vectorindex.Index {
	t.Helper()
	ix := vectorindex.New(keywordEmbedder{})
	ids, err := ix.AddDocuments(context.Background(), []schema.Document{
		{PageContent: "apple apple", Metadata: map[string]any{"source": "a.pdf"}},
		{PageContent: "apple banana"},
		{PageContent: "cherry"},
	})
	require.NoError(t, err)
	require.Len(t, ids, 3)
	return ix
}

func TestSimilaritySearchOrder(t *testing.T) {
	ix := seed(t)

	docs, err := ix.SimilaritySearch(context.Background(), "apple", 5)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	assert.Equal(t, "apple apple", docs[0].PageContent)
	assert.Equal(t, "apple banana", docs[1].PageContent)
	assert.Equal(t, "cherry", docs[2].PageContent)
	assert.InDelta(t, 1.0, docs[0].Score, 1e-6)
	assert.Equal(t, "a.pdf", docs[0].Metadata["source"])
}

func TestSimilaritySearchLimitAndThreshold(t *testing.T) {
	ix := seed(t)
	ctx := context.Background()

	docs, err := ix.SimilaritySearch(ctx, "apple", 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)

	docs, err = ix.SimilaritySearch(ctx, "apple", 5, vectorstores.WithScoreThreshold(0.5))
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	_, err = ix.SimilaritySearch(ctx, "apple", 5, vectorstores.WithScoreThreshold(1.5))
	assert.True(t, errors.Is(err, errs.ErrValidation))
}

func TestRetrieverWrapsIndex(t *testing.T) {
	ix := seed(t)
	r := vectorstores.ToRetriever(ix, 2)

	docs, err := r.GetRelevantDocuments(context.Background(), "cherry")
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "cherry", docs[0].PageContent)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "faiss_index", "session_x")
	ix := seed(t)
	require.NoError(t, ix.Save(dir, "index"))

	_, err := os.Stat(vectorindex.Path(dir, "index"))
	require.NoError(t, err)

	loaded, err := vectorindex.Load(dir, "index", keywordEmbedder{})
	require.NoError(t, err)
	assert.Equal(t, 3, loaded.Len())

	docs, err := loaded.SimilaritySearch(context.Background(), "banana", 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "apple banana", docs[0].PageContent)
}

func TestLoadMissing(t *testing.T) {
	base := t.TempDir()

	_, err := vectorindex.Load(filepath.Join(base, "nope"), "index", keywordEmbedder{})
	assert.True(t, errors.Is(err, errs.ErrNotFound))

	_, err = vectorindex.Load(base, "index", keywordEmbedder{})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestLoadRejectsRaggedEmbeddings(t *testing.T) {
	dir := t.TempDir()
	corrupt := `{"version":1,"entries":[{"id":"a","content":"x","embedding":[1,1,1]},{"id":"b","content":"y","embedding":[1]}]}`
	require.NoError(t, os.WriteFile(vectorindex.Path(dir, "index"), []byte(corrupt), 0o644))

	ix, err := vectorindex.Load(dir, "index", keywordEmbedder{})
	require.Error(t, err)
	assert.Nil(t, ix)
	assert.True(t, errors.Is(err, errs.ErrIOFailure))
	assert.True(t, errors.Is(err, vectorindex.ErrDimensionMismatch))
}

func TestLoadRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(vectorindex.Path(dir, "index"), []byte("{not json"), 0o644))

	_, err := vectorindex.Load(dir, "index", keywordEmbedder{})
	assert.True(t, errors.Is(err, errs.ErrIOFailure))
}

func TestAddDocumentsDimensionMismatch(t *testing.T) {
	ix := seed(t)
	_, err := ix.AddDocuments(context.Background(), []schema.Document{{PageContent: "x"}},
		vectorstores.WithEmbedder(fixedEmbedder{dim: 7}))
	assert.True(t, errors.Is(err, vectorindex.ErrDimensionMismatch))
}

type fixedEmbedder struct{ dim int }

func (f fixedEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f fixedEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return make([]float32, f.dim), nil
}
