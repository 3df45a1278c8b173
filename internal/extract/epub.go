package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const epubContainerPath = "META-INF/container.xml"

type epubContainer struct {
	Rootfiles []struct {
		FullPath string `xml:"full-path,attr"`
	} `xml:"rootfiles>rootfile"`
}

type epubPackage struct {
	Title    []string `xml:"metadata>title"`
	Manifest []struct {
		ID   string `xml:"id,attr"`
		Href string `xml:"href,attr"`
	} `xml:"manifest>item"`
	Spine []struct {
		IDRef string `xml:"idref,attr"`
	} `xml:"spine>itemref"`
}

type epubBook struct {
	text     string
	title    string
	chapters int
}

// extractEPUB reads the spine of an EPUB in reading order and returns the block text of each
// chapter separated by blank lines.
func extractEPUB(content []byte) (*epubBook, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, fmt.Errorf("extract EPUB: not a zip: %w", err)
	}
	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}

	var container epubContainer
	if err := decodeZipXML(files, epubContainerPath, &container); err != nil {
		return nil, fmt.Errorf("extract EPUB: %w", err)
	}
	if len(container.Rootfiles) == 0 {
		return nil, fmt.Errorf("extract EPUB: no rootfile in %s", epubContainerPath)
	}
	opfPath := container.Rootfiles[0].FullPath
	var pkg epubPackage
	if err := decodeZipXML(files, opfPath, &pkg); err != nil {
		return nil, fmt.Errorf("extract EPUB: %w", err)
	}

	hrefs := make(map[string]string, len(pkg.Manifest))
	for _, item := range pkg.Manifest {
		hrefs[item.ID] = item.Href
	}
	base := path.Dir(opfPath)
	var parts []string
	chapters := 0
	for _, ref := range pkg.Spine {
		href, ok := hrefs[ref.IDRef]
		if !ok {
			continue
		}
		name := path.Clean(path.Join(base, href))
		f, ok := files[name]
		if !ok {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("extract EPUB: open %s: %w", name, err)
		}
		doc, err := goquery.NewDocumentFromReader(rc)
		_ = rc.Close()
		if err != nil {
			return nil, fmt.Errorf("extract EPUB: parse %s: %w", name, err)
		}
		blocks := htmlBlocks(doc.Find("body"))
		if len(blocks) == 0 {
			continue
		}
		chapters++
		parts = append(parts, strings.Join(blocks, "\n\n"))
	}
	book := &epubBook{text: strings.Join(parts, "\n\n"), chapters: chapters}
	if len(pkg.Title) > 0 {
		book.title = pkg.Title[0]
	}
	return book, nil
}

func decodeZipXML(files map[string]*zip.File, name string, v interface{}) error {
	f, ok := files[name]
	if !ok {
		return fmt.Errorf("%s not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := xml.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}
