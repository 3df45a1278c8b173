package extract

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
	"github.com/hyperjump/kura/internal/models"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

var videoIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// TranscriptTrack is one caption track offered for a video.
type TranscriptTrack struct {
	LanguageCode string
	Name         string
	Generated    bool
	Translatable bool
	BaseURL      string
}

// TranscriptSource lists and downloads caption tracks.
type TranscriptSource interface {
	List(ctx context.Context, videoID string) ([]TranscriptTrack, error)
	// Fetch returns the plain transcript text. A non-empty translateTo asks for a machine
	// translation into that language.
	Fetch(ctx context.Context, track TranscriptTrack, translateTo string) (string, error)
	// Title returns the video title from the watch page metadata.
	Title(ctx context.Context, videoID string) (string, error)
}

// Transcript tiers, in preference order.
const (
	TierManual     = 1
	TierGenerated  = 2
	TierTranslated = 3
)

// transcriptChoice is one candidate produced by SelectTranscripts.
type transcriptChoice struct {
	Track       TranscriptTrack
	TranslateTo string
	Tier        int
}

type youtubeExtractor struct {
	source    TranscriptSource
	languages []string
	timeout   time.Duration
	logger    *zap.Logger
}

func newYouTubeExtractor(d Deps) *youtubeExtractor {
	langs := d.Settings.Languages
	if len(langs) == 0 {
		langs = []string{"en"}
	}
	return &youtubeExtractor{
		source:    d.Transcripts,
		languages: langs,
		timeout:   d.Settings.YouTubeTimeout,
		logger:    d.Logger,
	}
}

func (e *youtubeExtractor) Extract(ctx context.Context, state *models.ContentState) (*Result, error) {
	id, err := VideoID(state.URL)
	if err != nil {
		return nil, err
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	tracks, err := e.source.List(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list transcripts for %s: %w", id, err)
	}
	choices := SelectTranscripts(tracks, e.languages)
	if len(choices) == 0 {
		return nil, fmt.Errorf("%w: video %s", models.ErrNoTranscript, id)
	}

	res := &Result{}
	var (
		errs  []error
		found bool
	)
	for _, c := range choices {
		text, err := e.source.Fetch(ctx, c.Track, c.TranslateTo)
		if err != nil {
			errs = append(errs, fmt.Errorf("tier %d %s: %w", c.Tier, c.Track.LanguageCode, err))
			continue
		}
		res.Content = text
		lang := c.Track.LanguageCode
		if c.TranslateTo != "" {
			lang = c.TranslateTo
		}
		res.setMeta("video_id", id)
		res.setMeta("transcript_language", lang)
		res.setMeta("transcript_tier", c.Tier)
		res.setMeta("transcript_generated", c.Track.Generated)
		found = true
		break
	}
	if !found {
		return nil, fmt.Errorf("%w: video %s: %v", models.ErrNoTranscript, id, errors.Join(errs...))
	}

	title, err := e.source.Title(ctx, id)
	if err != nil {
		e.logger.Warn("youtube title fetch failed", zap.String("video_id", id), zap.Error(err))
		res.warn(fmt.Errorf("title: %w", err))
	} else {
		res.Title = title
	}
	return res, nil
}

// SelectTranscripts orders the candidates to try: the manual tier, then the generated tier,
// then a translation into the first preferred language. Within the first two tiers the first
// preferred language wins, falling back to the first track of the tier.
func SelectTranscripts(tracks []TranscriptTrack, languages []string) []transcriptChoice {
	var manual, generated []TranscriptTrack
	for _, t := range tracks {
		if t.Generated {
			generated = append(generated, t)
		} else {
			manual = append(manual, t)
		}
	}
	var out []transcriptChoice
	if t, ok := pickTrack(manual, languages); ok {
		out = append(out, transcriptChoice{Track: t, Tier: TierManual})
	}
	if t, ok := pickTrack(generated, languages); ok {
		out = append(out, transcriptChoice{Track: t, Tier: TierGenerated})
	}
	if len(languages) > 0 {
		target := languages[0]
		for _, group := range [][]TranscriptTrack{manual, generated} {
			for _, t := range group {
				if t.Translatable && !sameLanguage(t.LanguageCode, target) {
					out = append(out, transcriptChoice{Track: t, TranslateTo: target, Tier: TierTranslated})
					return out
				}
			}
		}
	}
	return out
}

func pickTrack(tracks []TranscriptTrack, languages []string) (TranscriptTrack, bool) {
	if len(tracks) == 0 {
		return TranscriptTrack{}, false
	}
	for _, lang := range languages {
		for _, t := range tracks {
			if sameLanguage(t.LanguageCode, lang) {
				return t, true
			}
		}
	}
	return tracks[0], true
}

// sameLanguage compares language tags, treating "en" and "en-US" as equal.
func sameLanguage(a, b string) bool {
	base := func(s string) string {
		s = strings.ToLower(s)
		if i := strings.IndexAny(s, "-_"); i > 0 {
			return s[:i]
		}
		return s
	}
	return strings.EqualFold(a, b) || base(a) == base(b)
}

// VideoID extracts the 11-character id from the usual YouTube URL shapes.
func VideoID(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", models.NewInvalidInput(fmt.Sprintf("bad youtube url %q", raw))
	}
	host := strings.ToLower(u.Hostname())
	var id string
	switch {
	case host == "youtu.be" || strings.HasSuffix(host, ".youtu.be"):
		id = strings.Trim(u.Path, "/")
	default:
		if v := u.Query().Get("v"); v != "" {
			id = v
			break
		}
		parts := strings.Split(strings.Trim(u.Path, "/"), "/")
		if len(parts) == 2 {
			switch parts[0] {
			case "embed", "shorts", "live", "v", "e":
				id = parts[1]
			}
		}
	}
	if !videoIDRe.MatchString(id) {
		return "", models.NewInvalidInput(fmt.Sprintf("no video id in %q", raw))
	}
	return id, nil
}

// innertubeSource reads caption tracks through YouTube's player endpoint.
type innertubeSource struct {
	http    *resty.Client
	baseURL string
}

// NewInnertubeSource returns a TranscriptSource talking to www.youtube.com.
func NewInnertubeSource(client *resty.Client) TranscriptSource {
	return &innertubeSource{http: client, baseURL: "https://www.youtube.com"}
}

var innertubeKeyRe = regexp.MustCompile(`"INNERTUBE_API_KEY":\s*"([A-Za-z0-9_-]+)"`)

type playerResponse struct {
	PlayabilityStatus struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	} `json:"playabilityStatus"`
	Captions struct {
		Renderer struct {
			Tracks []struct {
				BaseURL string `json:"baseUrl"`
				Name    struct {
					SimpleText string `json:"simpleText"`
					Runs       []struct {
						Text string `json:"text"`
					} `json:"runs"`
				} `json:"name"`
				LanguageCode   string `json:"languageCode"`
				Kind           string `json:"kind"`
				IsTranslatable bool   `json:"isTranslatable"`
			} `json:"captionTracks"`
		} `json:"playerCaptionsTracklistRenderer"`
	} `json:"captions"`
}

func (s *innertubeSource) watchPage(ctx context.Context, videoID string) (string, error) {
	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Accept-Language", "en-US").
		SetQueryParam("v", videoID).
		Get(s.baseURL + "/watch")
	if err != nil {
		return "", fmt.Errorf("fetch watch page: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("fetch watch page: status %d", resp.StatusCode())
	}
	return resp.String(), nil
}

func (s *innertubeSource) List(ctx context.Context, videoID string) ([]TranscriptTrack, error) {
	page, err := s.watchPage(ctx, videoID)
	if err != nil {
		return nil, err
	}
	m := innertubeKeyRe.FindStringSubmatch(page)
	if m == nil {
		return nil, errors.New("innertube api key not found on watch page")
	}
	var player playerResponse
	resp, err := s.http.R().
		SetContext(ctx).
		SetQueryParam("key", m[1]).
		SetBody(map[string]interface{}{
			"context": map[string]interface{}{
				"client": map[string]string{"clientName": "ANDROID", "clientVersion": "20.10.38"},
			},
			"videoId": videoID,
		}).
		SetResult(&player).
		Post(s.baseURL + "/youtubei/v1/player")
	if err != nil {
		return nil, fmt.Errorf("player request: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("player request: status %d", resp.StatusCode())
	}
	if st := player.PlayabilityStatus.Status; st != "" && st != "OK" {
		return nil, fmt.Errorf("video unplayable: %s %s", st, player.PlayabilityStatus.Reason)
	}
	var tracks []TranscriptTrack
	for _, t := range player.Captions.Renderer.Tracks {
		name := t.Name.SimpleText
		if name == "" && len(t.Name.Runs) > 0 {
			name = t.Name.Runs[0].Text
		}
		tracks = append(tracks, TranscriptTrack{
			LanguageCode: t.LanguageCode,
			Name:         name,
			Generated:    t.Kind == "asr",
			Translatable: t.IsTranslatable,
			BaseURL:      strings.Replace(t.BaseURL, "&fmt=srv3", "", 1),
		})
	}
	return tracks, nil
}

func (s *innertubeSource) Fetch(ctx context.Context, track TranscriptTrack, translateTo string) (string, error) {
	req := s.http.R().SetContext(ctx)
	if translateTo != "" {
		req.SetQueryParam("tlang", translateTo)
	}
	resp, err := req.Get(track.BaseURL)
	if err != nil {
		return "", fmt.Errorf("fetch transcript: %w", err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("fetch transcript: status %d", resp.StatusCode())
	}
	return parseTimedText(resp.String())
}

// parseTimedText joins the <text> cues of a timedtext document, one cue per line.
func parseTimedText(body string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse transcript: %w", err)
	}
	var lines []string
	doc.Find("text").Each(func(_ int, s *goquery.Selection) {
		// Cue text is entity-encoded twice.
		line := strings.TrimSpace(inlineSpace.ReplaceAllString(html.UnescapeString(s.Text()), " "))
		if line != "" {
			lines = append(lines, line)
		}
	})
	if len(lines) == 0 {
		return "", errors.New("transcript is empty")
	}
	return strings.Join(lines, "\n"), nil
}

func (s *innertubeSource) Title(ctx context.Context, videoID string) (string, error) {
	page, err := s.watchPage(ctx, videoID)
	if err != nil {
		return "", err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("parse watch page: %w", err)
	}
	if v, ok := doc.Find(`meta[property="og:title"]`).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v), nil
	}
	t := strings.TrimSuffix(strings.TrimSpace(doc.Find("title").First().Text()), " - YouTube")
	if t == "" {
		return "", errors.New("no title in watch page")
	}
	return t, nil
}
