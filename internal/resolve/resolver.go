// Package resolve decides what kind of input an ingestion request carries and, for files and
// URLs, which concrete type the extractors will see.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hyperjump/kura/internal/models"
)

// Resolve fills SourceType, IdentifiedType and a fallback Title on state.
// Exactly one of Content, FilePath and URL must be set.
func Resolve(ctx context.Context, state *models.ContentState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	req := models.IngestRequest{Content: state.Content, FilePath: state.FilePath, URL: state.URL}
	if err := req.Validate(); err != nil {
		return err
	}

	switch {
	case state.Content != "":
		state.SourceType = models.SourceTypeText
		return nil
	case state.FilePath != "":
		state.SourceType = models.SourceTypeFile
		mt, err := ProbeFile(state.FilePath)
		if err != nil {
			return err
		}
		state.IdentifiedType = mt
		if state.Title == "" {
			state.Title = filepath.Base(state.FilePath)
		}
		return nil
	default:
		state.SourceType = models.SourceTypeURL
		kind, err := ClassifyURL(state.URL)
		if err != nil {
			return err
		}
		state.IdentifiedType = kind
		return nil
	}
}

// ProbeFile returns the media type of the file at path from its byte signature, without
// parameters (e.g. "text/plain", not "text/plain; charset=utf-8").
func ProbeFile(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", models.ErrFileNotFound, path)
		}
		return "", fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return "", models.NewInvalidInput(fmt.Sprintf("%s is a directory", path))
	}
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to detect file type: %w", err)
	}
	return baseType(m.String()), nil
}

func baseType(s string) string {
	mt, _, err := mime.ParseMediaType(s)
	if err != nil {
		if i := strings.IndexByte(s, ';'); i >= 0 {
			return strings.TrimSpace(s[:i])
		}
		return s
	}
	return mt
}

// ClassifyURL returns models.URLKindYouTube for youtube.com / youtu.be hosts (any subdomain)
// and models.URLKindArticle for every other http(s) URL.
func ClassifyURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", models.NewInvalidInput(fmt.Sprintf("invalid url %q", raw))
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", models.NewInvalidInput(fmt.Sprintf("unsupported url scheme %q", u.Scheme))
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", models.NewInvalidInput(fmt.Sprintf("url %q has no host", raw))
	}
	if IsYouTubeHost(host) {
		return models.URLKindYouTube, nil
	}
	return models.URLKindArticle, nil
}

// IsYouTubeHost reports whether host is youtube.com, youtu.be or a subdomain of either.
func IsYouTubeHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	for _, h := range []string{"youtube.com", "youtu.be"} {
		if host == h || strings.HasSuffix(host, "."+h) {
			return true
		}
	}
	return false
}
