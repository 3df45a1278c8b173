package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hyperjump/kura/internal/models"
	"github.com/xuri/excelize/v2"
)

const wordNS = `xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main"`

// zipBytes builds a zip archive from name -> content pairs.
func zipBytes(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range files {
		fw, err := w.Create(name)
		if err != nil {
			t.Fatalf("create %s: %v", name, err)
		}
		if _, err := fw.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

// minimalDocx returns a .docx whose body is the given run/paragraph markup.
func minimalDocx(t *testing.T, body string, extra map[string]string) []byte {
	t.Helper()
	files := map[string]string{
		"word/document.xml": `<w:document ` + wordNS + `><w:body>` + body + `</w:body></w:document>`,
	}
	for k, v := range extra {
		files[k] = v
	}
	return zipBytes(t, files)
}

func writeTemp(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func runOffice(t *testing.T, mime string, content []byte) *Result {
	t.Helper()
	e := &officeExtractor{maxRows: 500, maxCols: 30}
	state := &models.ContentState{FilePath: writeTemp(t, "doc.bin", content), IdentifiedType: mime}
	res, err := e.Extract(context.Background(), state)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	return res
}

func TestExtractDOCX_plainParagraph(t *testing.T) {
	doc, err := extractDOCX(minimalDocx(t, `<w:p><w:r><w:t>Searchable docx content</w:t></w:r></w:p>`, nil))
	if err != nil {
		t.Fatalf("extractDOCX: %v", err)
	}
	if doc.text != "Searchable docx content" {
		t.Errorf("got %q", doc.text)
	}
}

func TestExtractDOCX_structure(t *testing.T) {
	body := `<w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Intro</w:t></w:r></w:p>` +
		`<w:p w:rsidR="00A1"><w:r><w:t xml:space="preserve">Plain </w:t></w:r><w:r><w:rPr><w:b/></w:rPr><w:t>bold</w:t></w:r>` +
		`<w:r><w:t xml:space="preserve"> and </w:t></w:r><w:r><w:rPr><w:i/></w:rPr><w:t>italic</w:t></w:r></w:p>` +
		`<w:p><w:pPr><w:numPr><w:ilvl w:val="0"/><w:numId w:val="1"/></w:numPr></w:pPr><w:r><w:t>first bullet</w:t></w:r></w:p>` +
		`<w:p><w:pPr><w:numPr><w:ilvl w:val="1"/><w:numId w:val="1"/></w:numPr></w:pPr><w:r><w:t>nested</w:t></w:r></w:p>` +
		`<w:p><w:pPr><w:numPr><w:ilvl w:val="0"/><w:numId w:val="2"/></w:numPr></w:pPr><w:r><w:t>step one</w:t></w:r></w:p>` +
		`<w:p><w:r><w:rPr><w:b w:val="0"/></w:rPr><w:t>not bold</w:t></w:r></w:p>`
	numbering := `<w:numbering ` + wordNS + `>` +
		`<w:abstractNum w:abstractNumId="10"><w:lvl w:ilvl="0"><w:numFmt w:val="bullet"/></w:lvl><w:lvl w:ilvl="1"><w:numFmt w:val="bullet"/></w:lvl></w:abstractNum>` +
		`<w:abstractNum w:abstractNumId="20"><w:lvl w:ilvl="0"><w:numFmt w:val="decimal"/></w:lvl></w:abstractNum>` +
		`<w:num w:numId="1"><w:abstractNumId w:val="10"/></w:num>` +
		`<w:num w:numId="2"><w:abstractNumId w:val="20"/></w:num>` +
		`</w:numbering>`
	core := `<cp:coreProperties xmlns:cp="http://schemas.openxmlformats.org/package/2006/metadata/core-properties" xmlns:dc="http://purl.org/dc/elements/1.1/"><dc:title>Quarterly notes</dc:title></cp:coreProperties>`

	res := runOffice(t, MimeDOCX, minimalDocx(t, body, map[string]string{
		"word/numbering.xml": numbering,
		"docProps/core.xml":  core,
	}))
	want := "# Intro\n\n" +
		"Plain **bold** and *italic*\n\n" +
		"- first bullet\n" +
		"  - nested\n" +
		"1. step one\n\n" +
		"not bold"
	if res.Content != want {
		t.Errorf("content:\ngot  %q\nwant %q", res.Content, want)
	}
	if res.Title != "Quarterly notes" {
		t.Errorf("title = %q", res.Title)
	}
}

func TestExtractDOCX_styleNamesFromStylesPart(t *testing.T) {
	// Localized documents use opaque style ids; the name in styles.xml decides the level.
	styles := `<w:styles ` + wordNS + `><w:style w:type="paragraph" w:styleId="berschrift2"><w:name w:val="heading 2"/></w:style></w:styles>`
	body := `<w:p><w:pPr><w:pStyle w:val="berschrift2"/></w:pPr><w:r><w:rPr><w:b/></w:rPr><w:t>Kapitel</w:t></w:r></w:p>`
	doc, err := extractDOCX(minimalDocx(t, body, map[string]string{"word/styles.xml": styles}))
	if err != nil {
		t.Fatalf("extractDOCX: %v", err)
	}
	if doc.text != "## Kapitel" {
		t.Errorf("got %q", doc.text)
	}
}

func TestExtractDOCX_contentTypesDocumentPath(t *testing.T) {
	for name, override := range map[string]string{
		"partNameFirst":    `<Override PartName="/word/document2.xml" ContentType="` + docxMainContentType + `"/>`,
		"contentTypeFirst": `<Override ContentType="` + docxMainContentType + `" PartName="/word/document2.xml"/>`,
	} {
		t.Run(name, func(t *testing.T) {
			content := zipBytes(t, map[string]string{
				"[Content_Types].xml": `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>
<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` + override + `</Types>`,
				"word/document2.xml": `<w:document ` + wordNS + `><w:body><w:p><w:r><w:t>Content from document2</w:t></w:r></w:p></w:body></w:document>`,
			})
			doc, err := extractDOCX(content)
			if err != nil {
				t.Fatalf("extractDOCX: %v", err)
			}
			if doc.text != "Content from document2" {
				t.Errorf("got %q", doc.text)
			}
		})
	}
}

const slideNS = `xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main" xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"`

func slideXML(title string, body ...string) string {
	var b strings.Builder
	b.WriteString(`<p:sld ` + slideNS + `><p:cSld><p:spTree>`)
	if title != "" {
		b.WriteString(`<p:sp><p:nvSpPr><p:nvPr><p:ph type="title"/></p:nvPr></p:nvSpPr><p:txBody><a:p><a:r><a:t>` + title + `</a:t></a:r></a:p></p:txBody></p:sp>`)
	}
	if len(body) > 0 {
		b.WriteString(`<p:sp><p:nvSpPr><p:nvPr><p:ph idx="1"/></p:nvPr></p:nvSpPr><p:txBody>`)
		for _, line := range body {
			b.WriteString(`<a:p><a:r><a:t>` + line + `</a:t></a:r></a:p>`)
		}
		b.WriteString(`</p:txBody></p:sp>`)
	}
	b.WriteString(`</p:spTree></p:cSld></p:sld>`)
	return b.String()
}

func TestExtractPPTX_slidesInNumericOrder(t *testing.T) {
	content := zipBytes(t, map[string]string{
		"ppt/slides/slide10.xml":           slideXML("Wrap up", "Questions"),
		"ppt/slides/slide2.xml":            slideXML("", "Just body"),
		"ppt/slides/slide1.xml":            slideXML("Welcome", "Agenda", "Goals"),
		"ppt/slides/_rels/slide1.xml.rels": `<Relationships/>`,
	})
	res := runOffice(t, MimePPTX, content)
	want := "## Slide 1\n\n### Welcome\n\nAgenda\nGoals\n\n" +
		"## Slide 2\n\nJust body\n\n" +
		"## Slide 3\n\n### Wrap up\n\nQuestions"
	if res.Content != want {
		t.Errorf("content:\ngot  %q\nwant %q", res.Content, want)
	}
	if res.Metadata["slides"] != 3 {
		t.Errorf("slides = %v", res.Metadata["slides"])
	}
}

func TestExtractPPTX_empty(t *testing.T) {
	deck, err := extractPPTX(zipBytes(t, map[string]string{"ppt/slides/other.xml": "", "docProps/core.xml": ""}))
	if err != nil {
		t.Fatalf("extractPPTX: %v", err)
	}
	if deck.text != "" {
		t.Errorf("got %q", deck.text)
	}
}

func TestExtractPPTX_notZip(t *testing.T) {
	if _, err := extractPPTX([]byte("not a zip")); err == nil {
		t.Error("expected error for invalid pptx")
	}
}

func excelBytes(t *testing.T, fill func(f *excelize.File)) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	fill(f)
	var buf bytes.Buffer
	if _, err := f.WriteTo(&buf); err != nil {
		t.Fatalf("WriteTo: %v", err)
	}
	return buf.Bytes()
}

func TestExtractExcel_markdownTable(t *testing.T) {
	content := excelBytes(t, func(f *excelize.File) {
		f.SetCellValue("Sheet1", "A1", "Name")
		f.SetCellValue("Sheet1", "B1", "Score")
		f.SetCellValue("Sheet1", "A2", "Ada")
		f.SetCellValue("Sheet1", "B2", 10)
		f.SetCellValue("Sheet1", "A3", "a|b")
	})
	res := runOffice(t, MimeXLSX, content)
	want := "## Sheet1\n\n" +
		"| Name | Score |\n" +
		"| --- | --- |\n" +
		"| Ada | 10 |\n" +
		`| a\|b |  |`
	if res.Content != want {
		t.Errorf("content:\ngot  %q\nwant %q", res.Content, want)
	}
	if _, ok := res.Metadata["truncated"]; ok {
		t.Error("small sheet must not be marked truncated")
	}
}

func TestExtractExcel_capsRowsAndColumns(t *testing.T) {
	content := excelBytes(t, func(f *excelize.File) {
		for r := 1; r <= 6; r++ {
			for c := 1; c <= 4; c++ {
				cell, _ := excelize.CoordinatesToCellName(c, r)
				f.SetCellValue("Sheet1", cell, r*10+c)
			}
		}
	})
	book, err := extractExcel(content, 3, 2)
	if err != nil {
		t.Fatalf("extractExcel: %v", err)
	}
	if !book.truncated {
		t.Error("expected truncated")
	}
	lines := strings.Split(book.text, "\n")
	// heading, blank, header, separator, 3 rows, blank, note
	if len(lines) != 9 {
		t.Fatalf("got %d lines: %q", len(lines), book.text)
	}
	if lines[2] != "| 11 | 12 |" {
		t.Errorf("header = %q", lines[2])
	}
	if !strings.Contains(book.text, "showing 3 of 5 rows") || !strings.Contains(book.text, "showing 2 of 4 columns") {
		t.Errorf("missing truncation note: %q", book.text)
	}
}

func TestExtractODF(t *testing.T) {
	odp := zipBytes(t, map[string]string{"content.xml": `<office:document><office:body>` +
		`<draw:page><text:h>Slide title</text:h><text:p>Body <text:span>text</text:span></text:p></draw:page>` +
		`<draw:page><text:p>Second</text:p></draw:page></office:body></office:document>`})
	got, err := extractODP(odp)
	if err != nil {
		t.Fatalf("extractODP: %v", err)
	}
	if got != "## Slide title\nBody text\n\nSecond" {
		t.Errorf("odp got %q", got)
	}

	ods := zipBytes(t, map[string]string{"content.xml": `<office:document><office:body><table:table>` +
		`<table:table-row><table:table-cell><text:p>Cell A</text:p></table:table-cell><table:table-cell><text:p><text:span>Cell B</text:span></text:p></table:table-cell></table:table-row>` +
		`<table:table-row><table:table-cell><text:p>Cell C</text:p></table:table-cell></table:table-row>` +
		`</table:table></office:body></office:document>`})
	got, err = extractODS(ods)
	if err != nil {
		t.Fatalf("extractODS: %v", err)
	}
	if got != "Cell A | Cell B\nCell C" {
		t.Errorf("ods got %q", got)
	}
}

func TestExtractODF_contentNotFound(t *testing.T) {
	content := zipBytes(t, map[string]string{"other.xml": ""})
	if _, err := extractODP(content); err == nil {
		t.Error("expected error when content.xml missing")
	}
	if _, err := extractODS(content); err == nil {
		t.Error("expected error when content.xml missing")
	}
}

func TestOfficeExtractor_unsupportedSubtype(t *testing.T) {
	e := &officeExtractor{maxRows: 10, maxCols: 10}
	state := &models.ContentState{FilePath: writeTemp(t, "x.doc", []byte("binary")), IdentifiedType: "application/msword"}
	_, err := e.Extract(context.Background(), state)
	if !errors.Is(err, models.ErrUnsupportedOffice) {
		t.Errorf("got %v, want ErrUnsupportedOffice", err)
	}
}

func TestOfficeExtractor_missingFile(t *testing.T) {
	e := &officeExtractor{}
	state := &models.ContentState{FilePath: "/nonexistent/deck.pptx", IdentifiedType: MimePPTX}
	_, err := e.Extract(context.Background(), state)
	if !errors.Is(err, models.ErrFileNotFound) {
		t.Errorf("got %v, want ErrFileNotFound", err)
	}
}
