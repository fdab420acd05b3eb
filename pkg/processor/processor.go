package processor

import (
	"strings"
	"unicode/utf8"

	"github.com/xhad/docportal/internal/models"
)

type ProcessorConfig struct {
	ChunkSize       int      `yaml:"chunk_size"`
	ChunkOverlap    int      `yaml:"chunk_overlap"`
	MinChunkLength  int      `yaml:"min_chunk_length"`
	RemoveStopwords bool     `yaml:"remove_stopwords"`
	CustomStopwords []string `yaml:"custom_stopwords"`
	Lowercase       bool     `yaml:"lowercase"`
}

// Processor splits extracted document text into overlapping passages for
// embedding. Sizes are counted in runes.
type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize == 0 {
		config.ChunkSize = 1000
	}
	if config.ChunkOverlap == 0 {
		config.ChunkOverlap = 200
	}
	if config.MinChunkLength == 0 {
		config.MinChunkLength = 100
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize / 5
	}

	return Processor{
		config: config,
	}
}

func (p *Processor) Config() ProcessorConfig {
	return p.config
}

func (p *Processor) Process(docs []models.ExtractedDocument) []models.ProcessedDocument {
	processed := make([]models.ProcessedDocument, 0, len(docs))
	for _, doc := range docs {
		processed = append(processed, models.ProcessedDocument{
			ExtractedDocument: doc,
			Chunks:            p.Split(doc.Text),
		})
	}
	return processed
}

// Split cleans text and packs whole sentences into chunks of at most
// ChunkSize runes, carrying the last ChunkOverlap runes into the next chunk.
// Chunks shorter than MinChunkLength are dropped unless they are the only
// content.
func (p *Processor) Split(text string) []string {
	clean := p.cleanText(text)
	if clean == "" {
		return nil
	}

	chunks := p.splitIntoChunks(clean)
	if len(chunks) == 0 {
		return []string{clean}
	}
	return chunks
}

func (p *Processor) cleanText(text string) string {
	if p.config.Lowercase {
		text = strings.ToLower(text)
	}

	// Collapse runs of whitespace, page markers included
	text = strings.Join(strings.Fields(text), " ")

	if p.config.RemoveStopwords {
		text = p.removeStopwords(text)
	}

	return strings.TrimSpace(text)
}

func (p *Processor) splitIntoChunks(text string) []string {
	var chunks []string
	current := strings.Builder{}
	size := 0

	flush := func() {
		chunk := strings.TrimSpace(current.String())
		if utf8.RuneCountInString(chunk) >= p.config.MinChunkLength {
			chunks = append(chunks, chunk)
		}
		if p.config.ChunkOverlap > 0 && size > p.config.ChunkOverlap {
			tail := lastRunes(current.String(), p.config.ChunkOverlap)
			current.Reset()
			current.WriteString(tail)
			size = utf8.RuneCountInString(tail)
			return
		}
		current.Reset()
		size = 0
	}

	for _, sentence := range p.splitIntoSentences(text) {
		for _, piece := range splitLong(sentence, p.config.ChunkSize) {
			n := utf8.RuneCountInString(piece)
			if size > 0 && size+n > p.config.ChunkSize {
				flush()
				if size+n > p.config.ChunkSize {
					current.Reset()
					size = 0
				}
			}
			current.WriteString(piece)
			current.WriteString(" ")
			size += n + 1
		}
	}

	if chunk := strings.TrimSpace(current.String()); utf8.RuneCountInString(chunk) >= p.config.MinChunkLength {
		if len(chunks) == 0 || !strings.HasSuffix(chunks[len(chunks)-1], chunk) {
			chunks = append(chunks, chunk)
		}
	}

	return chunks
}

func (p *Processor) splitIntoSentences(text string) []string {
	var sentences []string
	start := 0
	runes := []rune(text)

	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '.', '!', '?':
			if i+1 == len(runes) || runes[i+1] == ' ' {
				if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
					sentences = append(sentences, s)
				}
				start = i + 1
			}
		}
	}

	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}

// splitLong breaks a sentence longer than limit runes on word boundaries,
// falling back to hard cuts for single oversized words.
func splitLong(sentence string, limit int) []string {
	if utf8.RuneCountInString(sentence) <= limit {
		return []string{sentence}
	}

	var out []string
	current := strings.Builder{}
	size := 0
	for _, word := range strings.Fields(sentence) {
		w := []rune(word)
		for len(w) > limit {
			if size > 0 {
				out = append(out, current.String())
				current.Reset()
				size = 0
			}
			out = append(out, string(w[:limit]))
			w = w[limit:]
		}
		if size > 0 && size+1+len(w) > limit {
			out = append(out, current.String())
			current.Reset()
			size = 0
		}
		if size > 0 {
			current.WriteByte(' ')
			size++
		}
		current.WriteString(string(w))
		size += len(w)
	}
	if size > 0 {
		out = append(out, current.String())
	}
	return out
}

func lastRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[len(r)-n:])
}

func (p *Processor) removeStopwords(text string) string {
	stopwords := make(map[string]struct{})
	for _, w := range getStopwords() {
		stopwords[w] = struct{}{}
	}
	for _, w := range p.config.CustomStopwords {
		stopwords[strings.ToLower(w)] = struct{}{}
	}

	words := strings.Fields(text)
	filtered := words[:0]
	for _, word := range words {
		if _, ok := stopwords[strings.ToLower(word)]; !ok {
			filtered = append(filtered, word)
		}
	}

	return strings.Join(filtered, " ")
}

// Common English stopwords
func getStopwords() []string {
	return []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "he", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "was", "were", "will", "with",
	}
}
