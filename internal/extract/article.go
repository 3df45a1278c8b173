package extract

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"code.sajari.com/docconv"
	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/hyperjump/kura/internal/models"
	"go.uber.org/zap"
)

// noiseSelector lists elements dropped before any text is read.
const noiseSelector = "script, style, noscript, template, iframe, svg, form, nav, footer, aside, " +
	"[role=navigation], [role=banner], [role=contentinfo], " +
	".ad, .ads, .advert, .advertisement, .sponsored, [id^=ad-], [class^=ad-], [id*=google_ads]"

// contentSelector lists attribute-based candidates for the main body, tried after
// <article>, <main> and role=main.
const contentSelector = "[class*=content], [id*=content], [class*=article], [id*=article], " +
	"[class*=post], [id*=post], [class*=entry], [class*=story]"

var boilerplateRe = regexp.MustCompile(`(?i)(copyright|©|\(c\)\s*\d{4}|all rights reserved|privacy policy|terms of (use|service)|cookie (policy|settings))`)

// Extraction strategies recorded in metadata.
const (
	strategyScrape      = "scrape"
	strategyReadability = "readability"
	strategyProxy       = "proxy"
)

type articleExtractor struct {
	http        *resty.Client
	timeout     time.Duration
	userAgent   string
	fallbackURL string
	fallbackKey string
	logger      *zap.Logger
}

func newArticleExtractor(d Deps) *articleExtractor {
	return &articleExtractor{
		http:        d.HTTP,
		timeout:     d.Settings.FetchTimeout,
		userAgent:   d.Settings.UserAgent,
		fallbackURL: d.Settings.FallbackURL,
		fallbackKey: d.Settings.FallbackAPIKey,
		logger:      d.Logger,
	}
}

// Extract scrapes the page directly. When the scrape fails or finds no text, the page is
// fetched through the text-extraction proxy instead. If both fail the errors are joined.
func (e *articleExtractor) Extract(ctx context.Context, state *models.ContentState) (*Result, error) {
	res, primaryErr := e.scrape(ctx, state.URL)
	if primaryErr == nil && strings.TrimSpace(res.Content) != "" {
		return res, nil
	}
	if e.fallbackURL == "" {
		if primaryErr != nil {
			return nil, primaryErr
		}
		return res, nil
	}
	if primaryErr != nil {
		e.logger.Warn("article scrape failed, using proxy", zap.String("url", state.URL), zap.Error(primaryErr))
	} else {
		e.logger.Info("article scrape found no text, using proxy", zap.String("url", state.URL))
	}

	fb, err := e.viaProxy(ctx, state.URL)
	if err != nil {
		if primaryErr != nil {
			return nil, errors.Join(primaryErr, err)
		}
		return nil, err
	}
	if fb.Title == "" && res != nil {
		fb.Title = res.Title
	}
	return fb, nil
}

func (e *articleExtractor) get(ctx context.Context, url string, headers map[string]string) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	req := e.http.R().SetContext(ctx)
	if e.userAgent != "" {
		req.SetHeader("User-Agent", e.userAgent)
	}
	req.SetHeaders(headers)
	resp, err := req.Get(url)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", url, err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("fetch %s: status %d", url, resp.StatusCode())
	}
	return resp.String(), nil
}

// scrape fetches url and extracts its main text. An empty Content with a nil error means the
// page was reachable but had nothing readable.
func (e *articleExtractor) scrape(ctx context.Context, url string) (*Result, error) {
	page, err := e.get(ctx, url, map[string]string{"Accept": "text/html,application/xhtml+xml"})
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", url, err)
	}
	res := &Result{Title: articleTitle(doc)}
	res.setMeta("url", url)

	doc.Find(noiseSelector).Remove()
	removeComments(doc.Selection)
	body := articleBody(doc)

	var kept []string
	for _, block := range htmlBlocks(body) {
		if boilerplateRe.MatchString(block) && len(block) < 300 {
			continue
		}
		kept = append(kept, block)
	}
	res.Content = strings.Join(kept, "\n\n")
	res.setMeta("extraction", strategyScrape)
	if strings.TrimSpace(res.Content) != "" || strings.TrimSpace(body.Text()) == "" {
		return res, nil
	}

	// Text survived cleanup but no block did: give the raw page a readability pass.
	conv, err := docconv.Convert(strings.NewReader(page), "text/html", true)
	if err != nil {
		e.logger.Debug("readability pass failed", zap.String("url", url), zap.Error(err))
		return res, nil
	}
	res.Content = strings.TrimSpace(conv.Body)
	res.setMeta("extraction", strategyReadability)
	return res, nil
}

// articleTitle follows og:title, twitter:title, <title>, first <h1>.
func articleTitle(doc *goquery.Document) string {
	for _, sel := range []string{`meta[property="og:title"]`, `meta[name="twitter:title"]`} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if t := strings.TrimSpace(doc.Find("title").First().Text()); t != "" {
		return t
	}
	return strings.TrimSpace(inlineSpace.ReplaceAllString(doc.Find("h1").First().Text(), " "))
}

// articleBody prefers <article>, <main>, role=main, then the content-like container holding
// the most text, then <body>, then the whole document.
func articleBody(doc *goquery.Document) *goquery.Selection {
	for _, sel := range []string{"article", "main", "[role=main]"} {
		if s := doc.Find(sel).First(); s.Length() > 0 && strings.TrimSpace(s.Text()) != "" {
			return s
		}
	}
	var best *goquery.Selection
	bestLen := 0
	doc.Find(contentSelector).Each(func(_ int, s *goquery.Selection) {
		if n := len(strings.TrimSpace(s.Text())); n > bestLen {
			best, bestLen = s, n
		}
	})
	if best != nil {
		return best
	}
	if body := doc.Find("body"); body.Length() > 0 {
		return body
	}
	return doc.Selection
}

func (e *articleExtractor) viaProxy(ctx context.Context, url string) (*Result, error) {
	headers := map[string]string{"Accept": "text/plain"}
	if e.fallbackKey != "" {
		headers["Authorization"] = "Bearer " + e.fallbackKey
	}
	body, err := e.get(ctx, strings.TrimRight(e.fallbackURL, "/")+"/"+url, headers)
	if err != nil {
		return nil, fmt.Errorf("proxy: %w", err)
	}
	title, content := parseProxyResponse(body)
	res := &Result{Title: title, Content: content}
	res.setMeta("url", url)
	res.setMeta("extraction", strategyProxy)
	return res, nil
}

// parseProxyResponse splits the proxy's "Title: ...", "URL Source: ...", "Markdown Content:"
// header from the text. Bodies without the header are returned as-is.
func parseProxyResponse(body string) (title, content string) {
	body = strings.TrimSpace(body)
	if !strings.HasPrefix(body, "Title:") {
		return "", body
	}
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "Title:"):
			title = strings.TrimSpace(strings.TrimPrefix(line, "Title:"))
		case strings.HasPrefix(line, "Markdown Content:"):
			return title, strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
		}
	}
	return title, body
}
