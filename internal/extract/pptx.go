package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// pptxSlideRe matches slide parts inside a .pptx zip and captures the slide number.
var pptxSlideRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

type pptxDeck struct {
	text   string
	slides int
}

type pptxSlide struct {
	title string
	body  []string
}

// extractPPTX renders every slide in numeric order as "## Slide N", with the title
// placeholder promoted to a "### " subheading followed by the remaining text frames.
func extractPPTX(content []byte) (*pptxDeck, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract PPTX: not a zip: %w", err)
	}
	type slidePart struct {
		num  int
		file *zip.File
	}
	var parts []slidePart
	for _, f := range zr.File {
		m := pptxSlideRe.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		parts = append(parts, slidePart{num: n, file: f})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].num < parts[j].num })

	var sections []string
	for i, p := range parts {
		rc, err := p.file.Open()
		if err != nil {
			return nil, fmt.Errorf("extract PPTX: open %s: %w", p.file.Name, err)
		}
		slide, err := parseSlide(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("extract PPTX: parse %s: %w", p.file.Name, err)
		}
		var b strings.Builder
		fmt.Fprintf(&b, "## Slide %d", i+1)
		if slide.title != "" {
			b.WriteString("\n\n### ")
			b.WriteString(slide.title)
		}
		if len(slide.body) > 0 {
			b.WriteString("\n\n")
			b.WriteString(strings.Join(slide.body, "\n"))
		}
		sections = append(sections, b.String())
	}
	return &pptxDeck{text: strings.Join(sections, "\n\n"), slides: len(parts)}, nil
}

// parseSlide walks the slide's shape tree. Paragraphs of a shape whose placeholder type is
// title or ctrTitle become the slide title; every other paragraph is body text.
func parseSlide(r io.Reader) (*pptxSlide, error) {
	dec := xml.NewDecoder(r)
	slide := &pptxSlide{}
	var (
		inShape   bool
		titleSh   bool
		shapeText []string
		para      strings.Builder
		inPara    bool
		inText    bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "sp":
				inShape, titleSh, shapeText = true, false, nil
			case "ph":
				for _, a := range t.Attr {
					if a.Name.Local == "type" && (a.Value == "title" || a.Value == "ctrTitle") {
						titleSh = true
					}
				}
			case "p":
				inPara = true
				para.Reset()
			case "t":
				inText = inPara
			case "br":
				if inPara {
					para.WriteByte(' ')
				}
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				if !inPara {
					continue
				}
				inPara = false
				text := strings.TrimSpace(para.String())
				if text == "" {
					continue
				}
				if inShape {
					shapeText = append(shapeText, text)
				} else {
					slide.body = append(slide.body, text)
				}
			case "sp":
				if titleSh && slide.title == "" {
					slide.title = strings.Join(shapeText, " ")
				} else {
					slide.body = append(slide.body, shapeText...)
				}
				inShape = false
			}
		}
	}
	return slide, nil
}
