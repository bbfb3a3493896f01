package document

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoText is returned for documents without extractable text, such as
// scanned PDFs.
var ErrNoText = errors.New("document: no extractable text")

// readText returns the plain text of the document at path. PDFs go through
// the text layer of every page in order; other files are read as UTF-8.
func readText(path string) (string, error) {
	if filepath.Ext(path) != ".pdf" {
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("document: read %s: %w", path, err)
		}
		return string(b), nil
	}

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("document: open pdf %s: %w", path, err)
	}
	defer f.Close()

	plain, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("document: extract pdf %s: %w", path, err)
	}
	var sb strings.Builder
	if _, err := io.Copy(&sb, plain); err != nil {
		return "", fmt.Errorf("document: extract pdf %s: %w", path, err)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fmt.Errorf("%w: %s", ErrNoText, path)
	}
	return text, nil
}
