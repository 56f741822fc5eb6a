package extract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

// Supported MIME types.
const (
	MIMEPDF  = "application/pdf"
	MIMEDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MIMEText = "text/plain"
	mimeZip  = "application/zip"
)

var (
	// ErrUnsupportedFormat is returned for any format other than PDF, DOCX or
	// plain text. Legacy .doc files fall in this category.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrEmptyDocument is returned when no text could be extracted.
	ErrEmptyDocument = errors.New("document contains no text")

	// ErrUnreadableDocument is returned when a supported format is corrupt.
	ErrUnreadableDocument = errors.New("document could not be read")
)

// Document is the outcome of a successful extraction.
type Document struct {
	Text     string
	MIMEType string
}

// Extract detects the format of data and returns its text content.
func Extract(data []byte) (*Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmptyDocument
	}

	mtype := mimetype.Detect(data)

	var (
		text string
		kind string
		err  error
	)
	switch {
	case mtype.Is(MIMEPDF):
		kind = MIMEPDF
		text, err = pdfText(data)
	case mtype.Is(MIMEDOCX), mtype.Is(mimeZip) && isDocx(data):
		kind = MIMEDOCX
		text, err = docxText(data)
	case mtype.Is(MIMEText):
		kind = MIMEText
		text, err = plainText(data)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mtype.String())
	}
	if err != nil {
		return nil, err
	}

	text = normalize(text)
	if text == "" {
		return nil, ErrEmptyDocument
	}
	return &Document{Text: text, MIMEType: kind}, nil
}

func plainText(data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: text is not valid UTF-8", ErrUnreadableDocument)
	}
	return string(data), nil
}

func pdfText(data []byte) (text string, err error) {
	// The PDF reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: %v", ErrUnreadableDocument, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	raw, err := io.ReadAll(plain)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnreadableDocument, err)
	}
	return string(raw), nil
}

// normalize trims trailing whitespace on each line and collapses runs of
// blank lines.
func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimRight(line, " \t ")
		if strings.TrimSpace(line) == "" {
			if blank || len(out) == 0 {
				continue
			}
			blank = true
			out = append(out, "")
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
