package resolve

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hyperjump/kura/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolve_text(t *testing.T) {
	st := &models.ContentState{Content: "Hello world"}
	require.NoError(t, Resolve(context.Background(), st))
	assert.Equal(t, models.SourceTypeText, st.SourceType)
	assert.Empty(t, st.IdentifiedType)
	assert.Equal(t, "Hello world", st.Content)
}

func TestResolve_noSource(t *testing.T) {
	err := Resolve(context.Background(), &models.ContentState{})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	assert.Contains(t, err.Error(), "no source provided")
}

func TestResolve_multipleSources(t *testing.T) {
	err := Resolve(context.Background(), &models.ContentState{Content: "x", URL: "https://example.com"})
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestResolve_fileBySignatureNotExtension(t *testing.T) {
	dir := t.TempDir()
	// A PDF saved with a misleading extension.
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4\n1 0 obj\n<<>>\nendobj\ntrailer\n<<>>\n%%EOF\n"), 0600))

	st := &models.ContentState{FilePath: path}
	require.NoError(t, Resolve(context.Background(), st))
	assert.Equal(t, models.SourceTypeFile, st.SourceType)
	assert.Equal(t, "application/pdf", st.IdentifiedType)
	assert.Equal(t, "notes.txt", st.Title)
}

func TestResolve_plainTextDropsCharset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "readme")
	require.NoError(t, os.WriteFile(path, []byte("just some words\nand another line\n"), 0600))

	st := &models.ContentState{FilePath: path, Title: "kept"}
	require.NoError(t, Resolve(context.Background(), st))
	assert.Equal(t, "text/plain", st.IdentifiedType)
	assert.Equal(t, "kept", st.Title, "an existing title is not replaced")
}

func TestResolve_missingFile(t *testing.T) {
	err := Resolve(context.Background(), &models.ContentState{FilePath: "/nonexistent/file.pdf"})
	assert.True(t, errors.Is(err, models.ErrFileNotFound), "got %v", err)
}

func TestResolve_cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Resolve(ctx, &models.ContentState{Content: "x"}), context.Canceled)
}

func TestClassifyURL(t *testing.T) {
	tests := []struct {
		url     string
		want    string
		wantErr bool
	}{
		{"https://youtu.be/abc12345678", models.URLKindYouTube, false},
		{"https://www.youtube.com/watch?v=abc12345678", models.URLKindYouTube, false},
		{"https://m.youtube.com/watch?v=abc12345678", models.URLKindYouTube, false},
		{"https://music.youtube.com/watch?v=abc12345678", models.URLKindYouTube, false},
		{"https://YOUTUBE.com/shorts/abc12345678", models.URLKindYouTube, false},
		{"https://notyoutube.com/watch?v=abc", models.URLKindArticle, false},
		{"https://example.com/blog/post", models.URLKindArticle, false},
		{"http://youtube.com.evil.example/watch", models.URLKindArticle, false},
		{"ftp://example.com/file", "", true},
		{"not a url", "", true},
		{"https://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			got, err := ClassifyURL(tt.url)
			if tt.wantErr {
				assert.ErrorIs(t, err, models.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_url(t *testing.T) {
	st := &models.ContentState{URL: "https://youtu.be/abc12345678"}
	require.NoError(t, Resolve(context.Background(), st))
	assert.Equal(t, models.SourceTypeURL, st.SourceType)
	assert.Equal(t, models.URLKindYouTube, st.IdentifiedType)
}
