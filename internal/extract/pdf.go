package extract

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/kura/internal/models"
	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

// pdfExtractor handles PDF and EPUB documents. Both go through Normalize.
type pdfExtractor struct {
	logger *zap.Logger
}

func (e *pdfExtractor) Extract(ctx context.Context, state *models.ContentState) (*Result, error) {
	content, err := readInput(state.FilePath)
	if err != nil {
		return nil, err
	}
	var (
		raw   string
		title string
		res   = &Result{}
	)
	if strings.EqualFold(state.IdentifiedType, MimeEPUB) {
		book, err := extractEPUB(content)
		if err != nil {
			return nil, err
		}
		raw, title = book.text, book.title
		res.setMeta("format", "epub")
		res.setMeta("chapters", book.chapters)
	} else {
		doc, err := extractPDF(content)
		if err != nil {
			return nil, err
		}
		raw, title = doc.text, doc.title
		res.setMeta("format", "pdf")
		res.setMeta("pages", doc.pages)
	}
	res.Content = normalizeWith(raw, defaultRules, e.logger)
	res.Title = strings.TrimSpace(title)
	return res, nil
}

type pdfDoc struct {
	text  string
	title string
	pages int
}

// extractPDF concatenates the plain text of every non-empty page. The pdf package panics on
// some malformed inputs; that is reported as an error.
func extractPDF(content []byte) (doc *pdfDoc, err error) {
	defer func() {
		if p := recover(); p != nil {
			doc, err = nil, fmt.Errorf("malformed PDF: %v", p)
		}
	}()
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("open PDF: %w", err)
	}
	var buf bytes.Buffer
	numPages := r.NumPage()
	for i := 0; i < numPages; i++ {
		page := r.Page(i + 1)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d: %w", i+1, err)
		}
		buf.WriteString(text)
		if i < numPages-1 {
			buf.WriteByte('\n')
		}
	}
	title := r.Trailer().Key("Info").Key("Title").Text()
	return &pdfDoc{text: buf.String(), title: title, pages: numPages}, nil
}
