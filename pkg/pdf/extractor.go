// Package pdf turns a stored PDF into page-tagged plain text.
package pdf

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/xhad/docportal/pkg/errs"
	"github.com/xhad/docportal/pkg/logger"
)

// Document is an opened PDF. Page numbers are 1-based.
type Document interface {
	Encrypted() bool
	NumPages() int
	PageText(page int) (string, error)
	Close() error
}

type Opener interface {
	Open(path string) (Document, error)
}

type Extractor struct {
	opener Opener
	log    logger.Logger
}

// NewExtractor uses the pdfcpu/ledongthuc opener when opener is nil.
func NewExtractor(opener Opener, log logger.Logger) *Extractor {
	if opener == nil {
		opener = DefaultOpener{}
	}
	return &Extractor{opener: opener, log: log}
}

// Extract returns the non-blank pages of path, each prefixed with a
// "--- Page N ---" marker, in physical page order.
func (e *Extractor) Extract(path string) (string, error) {
	op := "read pdf " + filepath.Base(path)

	doc, err := e.opener.Open(path)
	if err != nil {
		e.log.Error("error reading PDF", "file", path, "error", err)
		if errors.Is(err, os.ErrNotExist) {
			return "", errs.E(errs.KindNotFound, op, err)
		}
		if errs.KindOf(err) != errs.KindOther {
			return "", err
		}
		return "", errs.E(errs.KindIOFailure, op, err)
	}
	defer doc.Close()

	if doc.Encrypted() {
		e.log.Error("PDF is encrypted", "file", path)
		return "", errs.Errorf(errs.KindUnsupportedDocument, op, "PDF is encrypted")
	}

	var blocks []string
	for n := 1; n <= doc.NumPages(); n++ {
		text, err := doc.PageText(n)
		if err != nil {
			e.log.Error("error reading PDF page", "file", path, "page", n, "error", err)
			return "", errs.E(errs.KindIOFailure, op, fmt.Errorf("page %d: %w", n, err))
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("\n--- Page %d ---\n%s", n, text))
	}

	e.log.Info("PDF read successfully", "file", path, "pages", len(blocks))
	return strings.Join(blocks, "\n"), nil
}
