package pdfextract

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/ledongthuc/pdf"
)

// DefaultMaxSize caps how much of the upload is read.
const DefaultMaxSize = 25 << 20 // 25 MB

// ExtractText pulls the plain text out of a PDF stream. An empty string with
// a nil error means the file parsed but carries no extractable text, which is
// common for scanned filings.
func ExtractText(r io.Reader, maxSize int64) (string, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	b, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return "", fmt.Errorf("read pdf failed: %w", err)
	}
	if int64(len(b)) > maxSize {
		return "", fmt.Errorf("pdf exceeds %d bytes", maxSize)
	}
	if len(b) == 0 {
		return "", nil
	}

	reader, err := pdf.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		return "", fmt.Errorf("parse pdf failed: %w", err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract pdf text failed: %w", err)
	}
	out, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("extract pdf text failed: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
