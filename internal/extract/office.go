package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/kura/internal/models"
)

// officeExtractor renders office documents to markdown-like text, dispatching on sub-type.
type officeExtractor struct {
	maxRows int
	maxCols int
}

func (e *officeExtractor) Extract(ctx context.Context, state *models.ContentState) (*Result, error) {
	content, err := readInput(state.FilePath)
	if err != nil {
		return nil, err
	}
	res := &Result{}
	switch strings.ToLower(state.IdentifiedType) {
	case MimeDOCX:
		doc, err := extractDOCX(content)
		if err != nil {
			return nil, err
		}
		res.Content, res.Title = doc.text, doc.title
		res.setMeta("paragraphs", doc.paragraphs)
	case MimePPTX:
		deck, err := extractPPTX(content)
		if err != nil {
			return nil, err
		}
		res.Content = deck.text
		res.setMeta("slides", deck.slides)
	case MimeXLSX:
		book, err := extractExcel(content, e.maxRows, e.maxCols)
		if err != nil {
			return nil, err
		}
		res.Content = book.text
		res.setMeta("sheets", book.sheets)
		if book.truncated {
			res.setMeta("truncated", true)
		}
	case MimeODP:
		res.Content, err = extractODP(content)
	case MimeODS:
		res.Content, err = extractODS(content)
	case MimeODT, MimeRTF:
		res.Content, err = extractWithCat(content)
	default:
		return nil, fmt.Errorf("%w: %s", models.ErrUnsupportedOffice, state.IdentifiedType)
	}
	if err != nil {
		return nil, err
	}
	res.setMeta("office_type", state.IdentifiedType)
	return res, nil
}
