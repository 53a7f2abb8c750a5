// Package document turns an uploaded file into text for the model to read.
// It is a byte-to-text adapter only and knows nothing of what the text means.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
	"path/filepath"
	"slices"
	"strings"
)

var (
	ErrDecode = errors.New("document is not valid UTF-8")
	ErrParse  = errors.New("can not read PDF content")
)

// TextExtensions is the allow-list of formats read as plain UTF-8 text.
var TextExtensions = []string{".txt", ".md", ".js", ".py", ".cs", ".go", ".html", ".css", ".xml", ".json"}

const PDFExtension = ".pdf"

// Extensions lists every supported extension, PDF first.
func Extensions() []string {
	return append([]string{PDFExtension}, TextExtensions...)
}

type UnsupportedTypeError struct {
	Extension string
}

func (e *UnsupportedTypeError) Error() string {
	ext := e.Extension
	if ext == "" {
		ext = "(none)"
	}
	return fmt.Sprintf("unsupported file type %s, please upload one of %s", ext, strings.Join(Extensions(), ", "))
}

// Read extracts the text of the file named fileName with content raw.
// The returned error is ErrDecode, ErrParse or *UnsupportedTypeError, possibly wrapped.
func Read(fileName string, raw []byte) (string, error) {
	ext := strings.ToLower(filepath.Ext(fileName))
	switch {
	case slices.Contains(TextExtensions, ext):
		return readText(raw)
	case ext == PDFExtension:
		return readPDF(raw)
	default:
		return "", &UnsupportedTypeError{Extension: ext}
	}
}

func readText(raw []byte) (string, error) {
	data, _, err := transform.Bytes(unicode.UTF8Validator, raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return string(data), nil
}

func readPDF(raw []byte) (text string, err error) {
	// The parser panics on some malformed inputs rather than returning an error.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", ErrParse, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}

	var sb strings.Builder
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			return "", fmt.Errorf("%w: page %d is missing", ErrParse, i)
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			// no partial text
			return "", fmt.Errorf("%w: page %d: %v", ErrParse, i, err)
		}
		sb.WriteString(content)
	}
	return sb.String(), nil
}
