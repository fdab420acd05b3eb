package combiner

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xhad/docportal/internal/models"
	"github.com/xhad/docportal/pkg/errs"
	"github.com/xhad/docportal/pkg/logger"
)

type Extractor interface {
	Extract(path string) (string, error)
}

type Combiner struct {
	extractor Extractor
	log       logger.Logger
}

func New(extractor Extractor, log logger.Logger) *Combiner {
	return &Combiner{extractor: extractor, log: log}
}

// ListPDFs returns the regular .pdf files directly under dir, sorted by name.
func ListPDFs(dir string) ([]string, error) {
	op := "list documents"
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errs.E(errs.KindNotFound, op, err)
		}
		return nil, errs.E(errs.KindIOFailure, op, err)
	}

	var names []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if strings.HasSuffix(strings.ToLower(e.Name()), ".pdf") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Extract reads every PDF under dir in filename order.
func (c *Combiner) Extract(dir string) ([]models.ExtractedDocument, error) {
	names, err := ListPDFs(dir)
	if err != nil {
		return nil, err
	}

	docs := make([]models.ExtractedDocument, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		text, err := c.extractor.Extract(path)
		if err != nil {
			c.log.Error("error combining documents", "file", name, "error", err)
			return nil, fmt.Errorf("combine documents: %w", err)
		}
		docs = append(docs, models.ExtractedDocument{Name: name, Path: path, Text: text})
	}
	return docs, nil
}

// Combine concatenates the extracted text of every PDF under baseDir as
// "Document: <name>" sections separated by a blank line.
func (c *Combiner) Combine(baseDir string) (string, error) {
	docs, err := c.Extract(baseDir)
	if err != nil {
		return "", err
	}

	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, fmt.Sprintf("Document: %s\n%s", d.Name, d.Text))
	}

	c.log.Info("documents combined", "dir", baseDir, "count", len(parts))
	return strings.Join(parts, "\n\n"), nil
}
