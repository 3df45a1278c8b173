package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

// docxDocumentXMLPath is the default path to the main document body inside a .docx zip.
const docxDocumentXMLPath = "word/document.xml"

// contentTypesPath is the path to [Content_Types].xml in OOXML packages.
const contentTypesPath = "[Content_Types].xml"

// docxMainContentType is the content type for the main document in DOCX files.
const docxMainContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"

// partNameRe extracts PartName from Override elements in [Content_Types].xml.
var partNameRe = regexp.MustCompile(`<Override[^>]+PartName="([^"]+)"[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"`)

// partNameRe2 handles the case where ContentType appears before PartName.
var partNameRe2 = regexp.MustCompile(`<Override[^>]+ContentType="` + regexp.QuoteMeta(docxMainContentType) + `"[^>]+PartName="([^"]+)"`)

var headingStyleRe = regexp.MustCompile(`(?i)^heading\s*([1-6])$`)

// findDocxMainDocumentPath finds the main document path from [Content_Types].xml.
// Returns the path without leading slash, or empty string if not found.
func findDocxMainDocumentPath(files map[string]*zip.File) string {
	data, err := readZipFile(files, contentTypesPath)
	if err != nil {
		return ""
	}
	content := string(data)
	if matches := partNameRe.FindStringSubmatch(content); len(matches) > 1 {
		return strings.TrimPrefix(matches[1], "/")
	}
	if matches := partNameRe2.FindStringSubmatch(content); len(matches) > 1 {
		return strings.TrimPrefix(matches[1], "/")
	}
	return ""
}

type docxStyles struct {
	Styles []struct {
		ID   string `xml:"styleId,attr"`
		Name struct {
			Val string `xml:"val,attr"`
		} `xml:"name"`
	} `xml:"style"`
}

type docxNumbering struct {
	Abstract []struct {
		ID     string `xml:"abstractNumId,attr"`
		Levels []struct {
			Ilvl   string `xml:"ilvl,attr"`
			NumFmt struct {
				Val string `xml:"val,attr"`
			} `xml:"numFmt"`
		} `xml:"lvl"`
	} `xml:"abstractNum"`
	Nums []struct {
		ID       string `xml:"numId,attr"`
		Abstract struct {
			Val string `xml:"val,attr"`
		} `xml:"abstractNumId"`
	} `xml:"num"`
}

type docxCore struct {
	Title string `xml:"title"`
}

// docxDoc is the rendered document.
type docxDoc struct {
	text       string
	title      string
	paragraphs int
}

type docxRenderer struct {
	styleNames map[string]string
	// numFormats maps "numId/ilvl" to the numFmt value (bullet, decimal, ...).
	numFormats map[string]string
}

// extractDOCX renders a .docx to markdown-like text: headings from paragraph styles, list
// markers from numbering, **bold** and *italic* run markers.
func extractDOCX(content []byte) (*docxDoc, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: not a zip: %w", err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	docPath := findDocxMainDocumentPath(files)
	if docPath == "" {
		docPath = docxDocumentXMLPath
	}
	docXML, err := readZipFile(files, docPath)
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: %w", err)
	}

	r := &docxRenderer{styleNames: map[string]string{}, numFormats: map[string]string{}}
	var styles docxStyles
	if decodeZipXML(files, "word/styles.xml", &styles) == nil {
		for _, s := range styles.Styles {
			r.styleNames[s.ID] = s.Name.Val
		}
	}
	var numbering docxNumbering
	if decodeZipXML(files, "word/numbering.xml", &numbering) == nil {
		abstract := map[string]map[string]string{}
		for _, a := range numbering.Abstract {
			lv := map[string]string{}
			for _, l := range a.Levels {
				lv[l.Ilvl] = l.NumFmt.Val
			}
			abstract[a.ID] = lv
		}
		for _, n := range numbering.Nums {
			for ilvl, f := range abstract[n.Abstract.Val] {
				r.numFormats[n.ID+"/"+ilvl] = f
			}
		}
	}

	text, count, err := r.render(bytes.NewReader(docXML))
	if err != nil {
		return nil, fmt.Errorf("extract DOCX: %w", err)
	}
	doc := &docxDoc{text: text, paragraphs: count}
	var core docxCore
	if decodeZipXML(files, "docProps/core.xml", &core) == nil {
		doc.title = strings.TrimSpace(core.Title)
	}
	return doc, nil
}

type docxParagraph struct {
	style  string
	inList bool
	numID  string
	ilvl   int
	plain  strings.Builder
	marked strings.Builder
}

type docxRun struct {
	bold, italic bool
	text         strings.Builder
}

type docxBlock struct {
	text string
	list bool
}

func (r *docxRenderer) render(rd io.Reader) (string, int, error) {
	dec := xml.NewDecoder(rd)
	var (
		blocks []docxBlock
		para   *docxParagraph
		run    *docxRun
		inText bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", 0, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				para = &docxParagraph{}
			case "pStyle":
				if para != nil {
					para.style = attrVal(t)
				}
			case "numPr":
				if para != nil {
					para.inList = true
				}
			case "ilvl":
				if para != nil {
					para.ilvl, _ = strconv.Atoi(attrVal(t))
				}
			case "numId":
				if para != nil {
					para.numID = attrVal(t)
				}
			case "r":
				if para != nil {
					run = &docxRun{}
				}
			case "b":
				if run != nil {
					run.bold = toggleOn(t)
				}
			case "i":
				if run != nil {
					run.italic = toggleOn(t)
				}
			case "t":
				inText = run != nil
			case "tab":
				if run != nil {
					run.text.WriteByte('\t')
				}
			case "br", "cr":
				if run != nil {
					run.text.WriteByte('\n')
				}
			}
		case xml.CharData:
			if inText {
				run.text.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "r":
				if run != nil && para != nil {
					s := run.text.String()
					para.plain.WriteString(s)
					para.marked.WriteString(markRun(s, run.bold, run.italic))
				}
				run = nil
			case "p":
				if para != nil {
					if b, ok := r.renderParagraph(para); ok {
						blocks = append(blocks, b)
					}
				}
				para = nil
			}
		}
	}

	var out strings.Builder
	for i, b := range blocks {
		if i > 0 {
			if b.list && blocks[i-1].list {
				out.WriteByte('\n')
			} else {
				out.WriteString("\n\n")
			}
		}
		out.WriteString(b.text)
	}
	return out.String(), len(blocks), nil
}

func (r *docxRenderer) renderParagraph(p *docxParagraph) (docxBlock, bool) {
	plain := strings.TrimSpace(p.plain.String())
	if plain == "" {
		return docxBlock{}, false
	}
	name := p.style
	if n, ok := r.styleNames[p.style]; ok && n != "" {
		name = n
	}
	if level := headingLevel(name); level > 0 {
		return docxBlock{text: strings.Repeat("#", level) + " " + plain}, true
	}
	text := strings.TrimSpace(p.marked.String())
	lower := strings.ToLower(name)
	isList := p.inList || strings.HasPrefix(strings.ReplaceAll(lower, " ", ""), "list")
	if !isList {
		return docxBlock{text: text}, true
	}
	marker := "- "
	if isNumbered(r.numFormats[p.numID+"/"+strconv.Itoa(p.ilvl)], lower) {
		marker = "1. "
	}
	return docxBlock{text: strings.Repeat("  ", p.ilvl) + marker + text, list: true}, true
}

// headingLevel maps a style name or id ("heading 2", "Heading2", "Title") to a heading level,
// or 0 for body text.
func headingLevel(style string) int {
	s := strings.TrimSpace(style)
	if strings.EqualFold(s, "title") {
		return 1
	}
	if strings.EqualFold(s, "subtitle") {
		return 2
	}
	if m := headingStyleRe.FindStringSubmatch(s); m != nil {
		n, _ := strconv.Atoi(m[1])
		return n
	}
	return 0
}

func isNumbered(numFmt, styleName string) bool {
	switch numFmt {
	case "", "bullet", "none":
		return numFmt == "" && strings.Contains(strings.ReplaceAll(styleName, " ", ""), "listnumber")
	}
	return true
}

// markRun wraps the visible part of s in markdown emphasis, keeping surrounding whitespace
// outside the markers.
func markRun(s string, bold, italic bool) string {
	if !bold && !italic {
		return s
	}
	core := strings.TrimSpace(s)
	if core == "" {
		return s
	}
	lead := s[:strings.Index(s, core)]
	trail := s[len(lead)+len(core):]
	marker := "*"
	switch {
	case bold && italic:
		marker = "***"
	case bold:
		marker = "**"
	}
	return lead + marker + core + marker + trail
}

func attrVal(t xml.StartElement) string {
	for _, a := range t.Attr {
		if a.Name.Local == "val" {
			return a.Value
		}
	}
	return ""
}

// toggleOn reads an OOXML on/off property: present without val, or val not false/0/off.
func toggleOn(t xml.StartElement) bool {
	for _, a := range t.Attr {
		if a.Name.Local == "val" {
			switch strings.ToLower(a.Value) {
			case "0", "false", "off":
				return false
			}
		}
	}
	return true
}

func readZipFile(files map[string]*zip.File, name string) ([]byte, error) {
	f, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("%s not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(rc); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
