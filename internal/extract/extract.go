// Package extract converts raw document bytes into ordered page text.
// It supports PDF (page-numbered), DOCX, and plain text. Non-paginated
// formats are reported as a single page 1 so downstream citation anchors
// are always present.
//
// Extraction failures are document-scoped: callers treat them as per-document
// errors, never as batch-fatal ones.
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ErrUnsupportedFormat is returned when the declared or detected format has
// no extractor. The document is skipped; the batch continues.
var ErrUnsupportedFormat = errors.New("extract: unsupported document format")

// ErrCorruptContent is returned when the content cannot be parsed as its
// detected format. The document is skipped; the batch continues.
var ErrCorruptContent = errors.New("extract: corrupt document content")

// Page is one unit of extracted text anchored to a page number.
// Page numbers start at 1 and are stable across re-extraction of unchanged
// content — citations depend on this.
type Page struct {
	// Number is the 1-based page number within the document.
	Number int
	// Text is the cleaned page text. Never empty: blank pages are dropped.
	Text string
}

// Format identifies a supported document format.
type Format string

const (
	// FormatPDF is a PDF document, extracted page by page.
	FormatPDF Format = "pdf"
	// FormatDOCX is a Word document, extracted as a single page.
	FormatDOCX Format = "docx"
	// FormatText is plain text, extracted as a single page.
	FormatText Format = "txt"
	// FormatUnknown means no extractor applies.
	FormatUnknown Format = "unknown"
)

// Extract converts content into its ordered page sequence. filename is used
// as a format hint; when the extension is inconclusive the content's magic
// bytes decide. Returns ErrUnsupportedFormat or ErrCorruptContent (possibly
// wrapped) on failure.
func Extract(filename string, content []byte) ([]Page, error) {
	format := DetectFormat(filename, content)

	switch format {
	case FormatPDF:
		return extractPDF(content)
	case FormatDOCX:
		text, err := extractDOCX(content)
		if err != nil {
			return nil, err
		}
		return singlePage(text), nil
	case FormatText:
		text, err := extractText(content)
		if err != nil {
			return nil, err
		}
		return singlePage(text), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, filename)
	}
}

// DetectFormat determines the document format from the filename extension
// first, then from the content's magic bytes.
func DetectFormat(filename string, content []byte) Format {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return FormatPDF
	case strings.HasSuffix(lower, ".docx"):
		return FormatDOCX
	case strings.HasSuffix(lower, ".txt"), strings.HasSuffix(lower, ".text"), strings.HasSuffix(lower, ".md"):
		return FormatText
	}

	if bytes.HasPrefix(content, []byte("%PDF")) {
		return FormatPDF
	}
	if bytes.HasPrefix(content, []byte("PK\x03\x04")) {
		head := content
		if len(head) > 4096 {
			head = head[:4096]
		}
		if bytes.Contains(head, []byte("word/")) {
			return FormatDOCX
		}
		// Some other zip container (epub, xlsx, plain archive); the text
		// sniff would happily accept its header bytes.
		return FormatUnknown
	}
	if looksLikeText(content) {
		return FormatText
	}

	return FormatUnknown
}

// singlePage wraps non-paginated text in a one-element page sequence.
// Empty text yields no pages.
func singlePage(text string) []Page {
	if text == "" {
		return nil
	}
	return []Page{{Number: 1, Text: text}}
}

// cleanText normalises extracted text: strips NUL bytes and collapses
// whitespace runs so chunk hashes are insensitive to layout noise.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\x00", " ")
	return strings.Join(strings.Fields(s), " ")
}

// looksLikeText reports whether the first KB of content decodes as UTF-8
// without NUL bytes.
func looksLikeText(content []byte) bool {
	head := content
	if len(head) > 1024 {
		head = head[:1024]
	}
	if bytes.ContainsRune(head, 0) {
		return false
	}
	// Tolerate a multi-byte rune cut off by the sample window.
	for i := 0; i < 4 && len(head) > 0; i++ {
		if utf8.Valid(head) {
			return true
		}
		head = head[:len(head)-1]
	}
	return false
}
