package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/hyperjump/kura/internal/models"
)

func TestRoute(t *testing.T) {
	tests := []struct {
		identified string
		want       string
	}{
		{"text/plain", NameText},
		{"text/markdown", NameText},
		{"text/csv", NameText},
		{"TEXT/PLAIN", NameText},
		{MimePDF, NamePDF},
		{MimeEPUB, NamePDF},
		{MimeDOCX, NameOffice},
		{MimePPTX, NameOffice},
		{MimeXLSX, NameOffice},
		{MimeODT, NameOffice},
		{MimeODS, NameOffice},
		{MimeODP, NameOffice},
		{MimeRTF, NameOffice},
		{"video/mp4", NameVideo},
		{"video/quicktime", NameVideo},
		{"audio/mpeg", NameAudio},
		{"audio/x-wav", NameAudio},
		{models.URLKindArticle, NameArticle},
		{models.URLKindYouTube, NameYouTube},
	}
	for _, tt := range tests {
		got, err := Route(tt.identified)
		if err != nil {
			t.Errorf("Route(%q): %v", tt.identified, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Route(%q) = %q, want %q", tt.identified, got, tt.want)
		}
	}
}

func TestRoute_unsupported(t *testing.T) {
	for _, identified := range []string{"application/x-weird", "image/png", "", "application/zip"} {
		name, err := Route(identified)
		if !errors.Is(err, models.ErrUnsupportedType) {
			t.Errorf("Route(%q) err = %v, want ErrUnsupportedType", identified, err)
		}
		var ute *models.UnsupportedTypeError
		if !errors.As(err, &ute) || ute.Type != identified {
			t.Errorf("Route(%q) should report the offending type, got %v", identified, err)
		}
		if name != "" {
			t.Errorf("Route(%q) returned extractor %q alongside error", identified, name)
		}
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(Deps{})
	for _, name := range []string{NameText, NamePDF, NameOffice, NameVideo, NameAudio, NameArticle, NameYouTube} {
		if _, err := r.Get(name); err != nil {
			t.Errorf("Get(%q): %v", name, err)
		}
	}
	if _, err := r.Get("ocr"); err == nil {
		t.Error("expected error for unregistered extractor")
	}
	if err := r.Set("ocr", &textExtractor{}); err == nil {
		t.Error("Set must reject unknown names")
	}
	custom := &textExtractor{}
	if err := r.Set(NameText, custom); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := r.Get(NameText); got != custom {
		t.Error("Set did not replace extractor")
	}
}

func TestBlockingAndDeletesSource(t *testing.T) {
	blocking := map[string]bool{NameText: true, NamePDF: true, NameOffice: true}
	deletes := map[string]bool{NamePDF: true, NameOffice: true, NameVideo: true}
	for _, name := range []string{NameText, NamePDF, NameOffice, NameVideo, NameAudio, NameArticle, NameYouTube} {
		if Blocking(name) != blocking[name] {
			t.Errorf("Blocking(%q) = %v", name, Blocking(name))
		}
		if DeletesSource(name) != deletes[name] {
			t.Errorf("DeletesSource(%q) = %v", name, DeletesSource(name))
		}
	}
}

func TestTextExtractor(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		want    string
	}{
		{"plain", []byte("Hello world\nLine 2"), "Hello world\nLine 2"},
		{"utf8", []byte("caf\xc3\xa9"), "café"},
		{"invalid utf8", []byte("hello\x80world"), "hello�world"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := &models.ContentState{FilePath: writeTemp(t, "in.txt", tt.content)}
			res, err := (&textExtractor{}).Extract(context.Background(), state)
			if err != nil {
				t.Fatalf("Extract: %v", err)
			}
			if res.Content != tt.want {
				t.Errorf("got %q", res.Content)
			}
		})
	}
}

func TestTextExtractor_nonexistent(t *testing.T) {
	state := &models.ContentState{FilePath: "/nonexistent/path/file.txt"}
	_, err := (&textExtractor{}).Extract(context.Background(), state)
	if !errors.Is(err, models.ErrFileNotFound) {
		t.Errorf("got %v, want ErrFileNotFound", err)
	}
}
