package processor_test

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/docportal/internal/models"
	"github.com/xhad/docportal/pkg/processor"
)

func TestProcessor_Process(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:      50,
		ChunkOverlap:   10,
		MinChunkLength: 20,
	})

	docs := []models.ExtractedDocument{
		{Name: "a.pdf", Text: "\n--- Page 1 ---\nThis is a test document. It contains several sentences to demonstrate text processing."},
		{Name: "b.pdf", Text: "   "},
	}

	processed := p.Process(docs)

	require.Len(t, processed, 2)
	assert.Equal(t, "a.pdf", processed[0].Name)
	require.NotEmpty(t, processed[0].Chunks)
	assert.Contains(t, processed[0].Chunks[0], "--- Page 1 ---")
	assert.Empty(t, processed[1].Chunks)
}

func TestProcessor_SplitShortText(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 50, ChunkOverlap: 10, MinChunkLength: 20})

	assert.Equal(t, []string{"Hello world."}, p.Split("  Hello   world.  "))
	assert.Nil(t, p.Split(" \n\t "))
}

func TestProcessor_SplitRespectsChunkSize(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 60, ChunkOverlap: 10, MinChunkLength: 5})

	var b strings.Builder
	for i := 0; i < 20; i++ {
		b.WriteString("Grüße aus München, die Straße ist lang. ")
	}
	b.WriteString(strings.Repeat("ü", 150))

	chunks := p.Split(b.String())
	require.Greater(t, len(chunks), 2)
	for _, c := range chunks {
		assert.True(t, utf8.ValidString(c), c)
		assert.LessOrEqual(t, utf8.RuneCountInString(c), 60, c)
	}
}

func TestProcessor_SplitOverlaps(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 40, ChunkOverlap: 10, MinChunkLength: 5})

	chunks := p.Split("The first sentence is here. The second sentence follows. The third one ends it.")
	require.GreaterOrEqual(t, len(chunks), 2)

	head := string([]rune(chunks[1])[:5])
	assert.Contains(t, chunks[0], head)
}

func TestProcessor_RemoveStopwords(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:       100,
		MinChunkLength:  1,
		RemoveStopwords: true,
		CustomStopwords: []string{"Several"},
	})

	chunks := p.Split("This is a test document. It contains several sentences.")
	require.Len(t, chunks, 1)
	assert.Equal(t, "This test document. contains sentences.", chunks[0])
}

func TestNewWithConfigDefaults(t *testing.T) {
	p := processor.NewWithConfig(processor.ProcessorConfig{})
	cfg := p.Config()
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 100, cfg.MinChunkLength)

	p = processor.NewWithConfig(processor.ProcessorConfig{ChunkSize: 50, ChunkOverlap: 80})
	assert.Equal(t, 10, p.Config().ChunkOverlap)
}
