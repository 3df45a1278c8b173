// Package extract provides content extraction for every supported input format.
//
// Extractors are stateless and built once at startup into a Registry keyed by extractor name.
// The orchestrator picks one with Route, using the identified type the resolver produced.
package extract

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/hyperjump/kura/internal/config"
	"github.com/hyperjump/kura/internal/models"
	"go.uber.org/zap"
)

// Extractor names, used as registry keys and routing targets.
const (
	NameText    = "text"
	NamePDF     = "pdf"
	NameOffice  = "office"
	NameVideo   = "video"
	NameAudio   = "audio"
	NameArticle = "article"
	NameYouTube = "youtube"
)

// Office MIME types handled by the office extractor.
const (
	MimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	MimePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	MimeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	MimeODT  = "application/vnd.oasis.opendocument.text"
	MimeODS  = "application/vnd.oasis.opendocument.spreadsheet"
	MimeODP  = "application/vnd.oasis.opendocument.presentation"
	MimeRTF  = "text/rtf"
	MimePDF  = "application/pdf"
	MimeEPUB = "application/epub+zip"
)

// Result is the partial ContentState update an extractor returns.
type Result struct {
	Content  string
	Title    string
	Metadata map[string]interface{}
	// Warnings are soft failures: logged by the caller, never fatal on their own.
	Warnings []error
}

func (r *Result) setMeta(key string, v interface{}) {
	if r.Metadata == nil {
		r.Metadata = map[string]interface{}{}
	}
	r.Metadata[key] = v
}

func (r *Result) warn(err error) {
	r.Warnings = append(r.Warnings, err)
}

// Extractor produces text from a resolved ContentState.
type Extractor interface {
	Extract(ctx context.Context, state *models.ContentState) (*Result, error)
}

// Transcriber is the speech-to-text port used by the audio extractor.
type Transcriber interface {
	Transcribe(ctx context.Context, audioPath string) (string, error)
}

// Settings are the tunables extractors read. Built from config.Config.
type Settings struct {
	MaxTableRows      int
	MaxTableCols      int
	AudioSegment      time.Duration
	TranscribeTimeout time.Duration
	FetchTimeout      time.Duration
	UserAgent         string
	FallbackURL       string
	FallbackAPIKey    string
	Languages         []string
	YouTubeTimeout    time.Duration
	TempDir           string
}

// SettingsFromConfig collects extractor settings from the application config.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		MaxTableRows:      cfg.Extraction.MaxTableRows,
		MaxTableCols:      cfg.Extraction.MaxTableCols,
		AudioSegment:      cfg.Extraction.AudioSegment(),
		TranscribeTimeout: cfg.Transcription.Timeout,
		FetchTimeout:      cfg.Fetch.Timeout,
		UserAgent:         cfg.Fetch.UserAgent,
		FallbackURL:       cfg.Fetch.FallbackURL,
		FallbackAPIKey:    cfg.Fetch.FallbackAPIKey,
		Languages:         append([]string(nil), cfg.YouTube.Languages...),
		YouTubeTimeout:    cfg.YouTube.Timeout,
		TempDir:           cfg.Extraction.TempDir,
	}
}

// Deps are the collaborators injected into every extractor constructor.
type Deps struct {
	Settings    Settings
	Logger      *zap.Logger
	Media       MediaToolkit
	Transcriber Transcriber
	HTTP        *resty.Client
	Transcripts TranscriptSource
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.HTTP == nil {
		d.HTTP = resty.New()
	}
	if d.Media == nil {
		d.Media = NewFFmpeg("ffmpeg", "ffprobe")
	}
	if d.Transcripts == nil {
		d.Transcripts = NewInnertubeSource(d.HTTP)
	}
	if d.Settings.MaxTableRows <= 0 {
		d.Settings.MaxTableRows = 500
	}
	if d.Settings.MaxTableCols <= 0 {
		d.Settings.MaxTableCols = 30
	}
	if d.Settings.AudioSegment <= 0 {
		d.Settings.AudioSegment = 15 * time.Minute
	}
	return d
}

// Constructor builds one extractor from its dependencies.
type Constructor func(Deps) Extractor

// constructors is the closed set of supported formats.
var constructors = map[string]Constructor{
	NameText: func(d Deps) Extractor { return &textExtractor{} },
	NamePDF:  func(d Deps) Extractor { return &pdfExtractor{logger: d.Logger} },
	NameOffice: func(d Deps) Extractor {
		return &officeExtractor{maxRows: d.Settings.MaxTableRows, maxCols: d.Settings.MaxTableCols}
	},
	NameAudio:   func(d Deps) Extractor { return newAudioExtractor(d) },
	NameVideo:   func(d Deps) Extractor { return newVideoExtractor(d) },
	NameArticle: func(d Deps) Extractor { return newArticleExtractor(d) },
	NameYouTube: func(d Deps) Extractor { return newYouTubeExtractor(d) },
}

// Registry holds one instance of every extractor.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry builds every extractor with deps.
func NewRegistry(deps Deps) *Registry {
	deps = deps.withDefaults()
	r := &Registry{extractors: make(map[string]Extractor, len(constructors))}
	for name, c := range constructors {
		r.extractors[name] = c(deps)
	}
	return r
}

// Get returns the extractor registered under name.
func (r *Registry) Get(name string) (Extractor, error) {
	e, ok := r.extractors[name]
	if !ok {
		return nil, fmt.Errorf("extractor %q not registered", name)
	}
	return e, nil
}

// Set replaces the extractor registered under name. Names outside the fixed set are rejected.
func (r *Registry) Set(name string, e Extractor) error {
	if _, ok := constructors[name]; !ok {
		return fmt.Errorf("unknown extractor %q", name)
	}
	r.extractors[name] = e
	return nil
}

var officeTypes = map[string]bool{
	MimeDOCX: true,
	MimePPTX: true,
	MimeXLSX: true,
	MimeODT:  true,
	MimeODS:  true,
	MimeODP:  true,
	MimeRTF:  true,
}

// Route maps an identified type to the extractor that handles it. Unknown types yield an
// *models.UnsupportedTypeError.
func Route(identifiedType string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(identifiedType))
	switch {
	case t == models.URLKindArticle:
		return NameArticle, nil
	case t == models.URLKindYouTube:
		return NameYouTube, nil
	case t == "text/plain", t == "text/markdown", t == "text/csv":
		return NameText, nil
	case t == MimePDF, t == MimeEPUB:
		return NamePDF, nil
	case officeTypes[t]:
		return NameOffice, nil
	case strings.HasPrefix(t, "video/"):
		return NameVideo, nil
	case strings.HasPrefix(t, "audio/"):
		return NameAudio, nil
	}
	return "", &models.UnsupportedTypeError{Type: identifiedType}
}

// Blocking reports whether an extractor does CPU-bound or blocking file work and should be
// run on the extraction worker pool.
func Blocking(name string) bool {
	switch name {
	case NameText, NamePDF, NameOffice:
		return true
	}
	return false
}

// DeletesSource reports whether the cleanup stage runs after this extractor.
func DeletesSource(name string) bool {
	switch name {
	case NamePDF, NameOffice, NameVideo:
		return true
	}
	return false
}
