package document

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestPDF generates a PDF with one page per text, so the parser sees a well-formed file.
func newTestPDF(t *testing.T, pages ...string) []byte {
	t.Helper()

	doc := fpdf.New("P", "mm", "A4", "")
	doc.SetFont("Helvetica", "", 12)
	for _, text := range pages {
		doc.AddPage()
		doc.Cell(40, 10, text)
	}

	var buf bytes.Buffer
	require.NoError(t, doc.Output(&buf))
	return buf.Bytes()
}

func TestReadText(t *testing.T) {
	passage := "# notes\n\nhéllo, 世界\n"
	for _, name := range []string{"notes.txt", "NOTES.MD", "main.go", "index.Html", "data.json"} {
		t.Run(name, func(t *testing.T) {
			got, err := Read(name, []byte(passage))
			require.NoError(t, err)
			assert.Equal(t, passage, got)
		})
	}
}

func TestReadTextInvalidUTF8(t *testing.T) {
	got, err := Read("notes.txt", []byte{'o', 'k', 0xff, 0xfe, 0xfd})
	assert.ErrorIs(t, err, ErrDecode)
	assert.Empty(t, got)
}

func TestReadPDFPagesInOrder(t *testing.T) {
	data := newTestPDF(t, "Alpha page", "Omega page")

	got, err := Read("report.PDF", data)
	require.NoError(t, err)

	first := strings.Index(got, "Alpha page")
	second := strings.Index(got, "Omega page")
	require.GreaterOrEqual(t, first, 0, "first page text missing in %q", got)
	require.Greater(t, second, first, "second page text missing or out of order in %q", got)
}

func TestReadPDFBroken(t *testing.T) {
	data := newTestPDF(t, "Alpha page")

	tests := []struct {
		name string
		raw  []byte
	}{
		{"not a pdf", []byte("this is plain text pretending")},
		{"truncated", data[:len(data)/2]},
		{"empty", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Read("report.pdf", tt.raw)
			assert.ErrorIs(t, err, ErrParse)
			assert.Empty(t, got)
		})
	}
}

func TestReadUnsupported(t *testing.T) {
	for _, name := range []string{"image.png", "archive.tar.gz", "Makefile"} {
		t.Run(name, func(t *testing.T) {
			got, err := Read(name, []byte{1, 2, 3})
			assert.Empty(t, got)

			var unsupported *UnsupportedTypeError
			require.True(t, errors.As(err, &unsupported))
			for _, ext := range Extensions() {
				assert.Contains(t, err.Error(), ext)
			}
		})
	}
}

func TestExtensions(t *testing.T) {
	exts := Extensions()
	assert.Len(t, exts, len(TextExtensions)+1)
	assert.Equal(t, PDFExtension, exts[0])
	// must not alias the allow-list
	exts[1] = ".exe"
	assert.Equal(t, ".txt", TextExtensions[0])
}
