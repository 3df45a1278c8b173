package extract

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// blockSelector lists the elements whose text becomes one output block.
const blockSelector = "h1, h2, h3, h4, h5, h6, p, pre, li, blockquote, figcaption, dt, dd, td, th"

var inlineSpace = regexp.MustCompile(`\s+`)

// htmlBlocks returns the text of each block-level element under root in document order.
// Blocks nested inside another block are folded into their outer block. <pre> becomes a
// fenced code block with its whitespace intact.
func htmlBlocks(root *goquery.Selection) []string {
	var blocks []string
	root.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		if s.ParentsUntilSelection(root).Filter(blockSelector).Length() > 0 {
			return
		}
		if goquery.NodeName(s) == "pre" {
			code := strings.Trim(s.Text(), "\n")
			if strings.TrimSpace(code) != "" {
				blocks = append(blocks, "```\n"+code+"\n```")
			}
			return
		}
		text := strings.TrimSpace(inlineSpace.ReplaceAllString(s.Text(), " "))
		if text == "" {
			return
		}
		switch goquery.NodeName(s) {
		case "h1":
			text = "# " + text
		case "h2":
			text = "## " + text
		case "h3":
			text = "### " + text
		case "li":
			text = "- " + text
		}
		blocks = append(blocks, text)
	})
	if len(blocks) == 0 {
		// No block markup at all: fall back to the raw text, one block per non-empty line.
		for _, line := range strings.Split(root.Text(), "\n") {
			if line = strings.TrimSpace(inlineSpace.ReplaceAllString(line, " ")); line != "" {
				blocks = append(blocks, line)
			}
		}
	}
	return blocks
}

// removeComments deletes every HTML comment node under sel.
func removeComments(sel *goquery.Selection) {
	for _, n := range sel.Nodes {
		removeCommentNodes(n)
	}
}

func removeCommentNodes(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.CommentNode {
			n.RemoveChild(c)
		} else {
			removeCommentNodes(c)
		}
		c = next
	}
}
