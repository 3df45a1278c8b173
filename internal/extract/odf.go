package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/lu4p/cat"
)

// odfContentPath is the path to the main content inside OpenDocument zips.
const odfContentPath = "content.xml"

// extractODP returns the text of an OpenDocument presentation, one block per page.
func extractODP(content []byte) (string, error) {
	return extractODF(content, "ODP", "page")
}

// extractODS returns the text of an OpenDocument spreadsheet, one line per table row with
// cells separated by " | ".
func extractODS(content []byte) (string, error) {
	return extractODF(content, "ODS", "table-row")
}

// extractWithCat handles RTF and ODT. ODT falls back to the content.xml walk when cat
// cannot read the document.
func extractWithCat(content []byte) (string, error) {
	text, err := cat.FromBytes(content)
	if err == nil && strings.TrimSpace(text) != "" {
		return strings.TrimSpace(text), nil
	}
	if bytes.HasPrefix(content, []byte("PK")) {
		return extractODF(content, "ODT", "")
	}
	if err != nil {
		return "", fmt.Errorf("extract document: %w", err)
	}
	return "", nil
}

// extractODF walks content.xml collecting text:p and text:h paragraphs. When group names an
// element (draw:page, table:table-row), paragraphs inside one group are joined on one block.
func extractODF(content []byte, kind, group string) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("extract %s: not a zip: %w", kind, err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	data, err := readZipFile(files, odfContentPath)
	if err != nil {
		return "", fmt.Errorf("extract %s: %w", kind, err)
	}

	sep := "\n"
	if group == "table-row" {
		sep = " | "
	}
	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		blocks  []string
		current []string
		para    strings.Builder
		depth   int // nesting of text:p/text:h
		heading bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("extract %s: parse %s: %w", kind, odfContentPath, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p", "h":
				if depth == 0 {
					para.Reset()
					heading = t.Name.Local == "h"
				}
				depth++
			case "s":
				if depth > 0 {
					para.WriteByte(' ')
				}
			case "tab":
				if depth > 0 {
					para.WriteByte('\t')
				}
			case "line-break":
				if depth > 0 {
					para.WriteByte('\n')
				}
			}
		case xml.CharData:
			if depth > 0 {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "p", "h":
				depth--
				if depth > 0 {
					continue
				}
				text := strings.TrimSpace(para.String())
				if text == "" {
					continue
				}
				if heading {
					text = "## " + text
				}
				if group == "" {
					blocks = append(blocks, text)
				} else {
					current = append(current, text)
				}
			case group:
				if len(current) > 0 {
					blocks = append(blocks, strings.Join(current, sep))
				}
				current = nil
			}
		}
	}
	if len(current) > 0 {
		blocks = append(blocks, strings.Join(current, sep))
	}
	joiner := "\n\n"
	if group == "table-row" {
		joiner = "\n"
	}
	return strings.Join(blocks, joiner), nil
}
