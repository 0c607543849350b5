package extract

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
)

// extractPDF pulls plain text out of every page, preserving the PDF's own
// page numbering. Blank pages are skipped but the numbering of the remaining
// pages is untouched.
func extractPDF(content []byte) (pages []Page, err error) {
	// The parser panics on some malformed inputs; surface those as
	// document-scoped corruption rather than crashing the batch.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: pdf parser panic: %v", ErrCorruptContent, r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptContent, err)
	}

	total := reader.NumPage()
	for num := 1; num <= total; num++ {
		page := reader.Page(num)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// One unreadable page does not void the rest.
			continue
		}
		text = cleanText(text)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: num, Text: text})
	}

	return pages, nil
}
