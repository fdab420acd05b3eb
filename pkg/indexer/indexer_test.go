package indexer_test

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
	"github.com/xhad/docportal/pkg/indexer"
	"github.com/xhad/docportal/pkg/logger"
	"github.com/xhad/docportal/pkg/processor"
)

type fileExtractor struct{ fail string }

func (f fileExtractor) Extract(path string) (string, error) {
	if filepath.Base(path) == f.fail {
		return "", errs.Errorf(errs.KindUnsupportedDocument, "read pdf", "PDF is encrypted")
	}
	data, err := os.ReadFile(path)
	return string(data), err
}

type recordingStore struct {
	batches [][]schema.Document
	opts    vectorstores.Options
}

func (r *recordingStore) AddDocuments(_ context.Context, docs []schema.Document, options ...vectorstores.Option) ([]string, error) {
	for _, o := range options {
		o(&r.opts)
	}
	r.batches = append(r.batches, docs)
	return make([]string, len(docs)), nil
}

func (r *recordingStore) SimilaritySearch(context.Context, string, int, ...vectorstores.Option) ([]schema.Document, error) {
	return nil, nil
}

func writeDocs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func newIndexer(extractor fileExtractor) *indexer.Indexer {
	proc := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 30, ChunkOverlap: 5, MinChunkLength: 5})
	return indexer.NewWithConfig(indexer.IndexerConfig{BatchSize: 2}, extractor, proc, logger.Nop())
}

func TestIndex(t *testing.T) {
	dir := writeDocs(t, map[string]string{
		"b.pdf":     "Second file body text here.",
		"a.pdf":     "First sentence of a. Second sentence of a. Third one.",
		"notes.txt": "ignored",
	})
	ix := newIndexer(fileExtractor{})
	var progress []int
	ix.OnBatch = func(done, total int) { progress = append(progress, done) }

	store := &recordingStore{}
	res, err := ix.Index(context.Background(), dir, store, vectorstores.WithNameSpace("session_1"))
	require.NoError(t, err)

	assert.Equal(t, 2, res.Documents)
	require.Greater(t, res.Chunks, 2)
	assert.Equal(t, "session_1", store.opts.NameSpace)

	var all []schema.Document
	for _, b := range store.batches {
		assert.LessOrEqual(t, len(b), 2)
		all = append(all, b...)
	}
	require.Len(t, all, res.Chunks)
	assert.Equal(t, "a.pdf", all[0].Metadata["source"])
	assert.Equal(t, 0, all[0].Metadata["page_chunk"])
	assert.Equal(t, "b.pdf", all[len(all)-1].Metadata["source"])
	assert.Equal(t, res.Chunks, progress[len(progress)-1])
	for _, d := range all {
		assert.False(t, strings.Contains(d.PageContent, "ignored"))
	}
}

func TestIndexAbortsOnExtractionFailure(t *testing.T) {
	dir := writeDocs(t, map[string]string{"a.pdf": "Fine text here.", "b.pdf": "locked"})
	store := &recordingStore{}

	_, err := newIndexer(fileExtractor{fail: "b.pdf"}).Index(context.Background(), dir, store)
	assert.True(t, errors.Is(err, errs.ErrUnsupportedDocument))
	assert.Empty(t, store.batches)
}

func TestIndexMissingDir(t *testing.T) {
	_, err := newIndexer(fileExtractor{}).Index(context.Background(), filepath.Join(t.TempDir(), "nope"), &recordingStore{})
	assert.True(t, errors.Is(err, errs.ErrNotFound))
}

func TestIndexCanceled(t *testing.T) {
	dir := writeDocs(t, map[string]string{"a.pdf": "Some text that will be chunked."})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newIndexer(fileExtractor{}).Index(ctx, dir, &recordingStore{})
	assert.ErrorIs(t, err, context.Canceled)
}
