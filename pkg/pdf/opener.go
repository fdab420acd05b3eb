package pdf

import (
	"errors"
	"os"
	"strings"

	ledongthuc "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

func init() {
	// pdfcpu would otherwise create a config dir under the user's home.
	api.DisableConfigDir()
}

// DefaultOpener inspects the file with pdfcpu and reads page text with
// ledongthuc/pdf. Encrypted files are never handed to the text reader.
type DefaultOpener struct{}

func (DefaultOpener) Open(path string) (Document, error) {
	encrypted, err := isEncrypted(path)
	if err != nil {
		return nil, err
	}
	if encrypted {
		return encryptedDocument{}, nil
	}

	f, r, err := ledongthuc.Open(path)
	if err != nil {
		return nil, err
	}
	return &document{file: f, reader: r}, nil
}

func isEncrypted(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadContext(f, conf)
	if err != nil {
		if passwordProtected(err) {
			return true, nil
		}
		return false, err
	}
	return ctx.Encrypt != nil, nil
}

// passwordProtected reports whether pdfcpu refused the file for lack of a
// user password. Older pdfcpu releases only say so in the message.
func passwordProtected(err error) bool {
	if errors.Is(err, pdfcpu.ErrWrongPassword) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "password")
}

type document struct {
	file   *os.File
	reader *ledongthuc.Reader
}

func (d *document) Encrypted() bool { return false }

func (d *document) NumPages() int { return d.reader.NumPage() }

func (d *document) PageText(n int) (string, error) {
	page := d.reader.Page(n)
	if page.V.IsNull() {
		return "", nil
	}
	return page.GetPlainText(nil)
}

func (d *document) Close() error { return d.file.Close() }

type encryptedDocument struct{}

func (encryptedDocument) Encrypted() bool              { return true }
func (encryptedDocument) NumPages() int                { return 0 }
func (encryptedDocument) PageText(int) (string, error) { return "", nil }
func (encryptedDocument) Close() error                 { return nil }
