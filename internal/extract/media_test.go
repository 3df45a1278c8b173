package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hyperjump/kura/internal/models"
)

// fakeMedia is a MediaToolkit that writes placeholder files instead of running ffmpeg.
type fakeMedia struct {
	streams  []AudioStream
	probeErr error
	segments int

	mu        sync.Mutex
	extracted []int
	created   []string
}

func (f *fakeMedia) ProbeAudio(ctx context.Context, path string) ([]AudioStream, error) {
	return f.streams, f.probeErr
}

func (f *fakeMedia) ExtractStream(ctx context.Context, in string, streamIndex int, out string) error {
	f.mu.Lock()
	f.extracted = append(f.extracted, streamIndex)
	f.created = append(f.created, out)
	f.mu.Unlock()
	return os.WriteFile(out, []byte("audio"), 0600)
}

func (f *fakeMedia) Segment(ctx context.Context, in, dir string, segment time.Duration) ([]string, error) {
	var out []string
	for i := 0; i < f.segments; i++ {
		p := filepath.Join(dir, fmt.Sprintf("segment_%04d.mp3", i))
		if err := os.WriteFile(p, []byte("seg"), 0600); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	f.mu.Lock()
	f.created = append(f.created, out...)
	f.mu.Unlock()
	return out, nil
}

// fakeSTT returns "text-<file>" and fails on the configured call.
type fakeSTT struct {
	failOn int
	calls  int
	delay  time.Duration
}

func (s *fakeSTT) Transcribe(ctx context.Context, audioPath string) (string, error) {
	s.calls++
	if s.failOn > 0 && s.calls == s.failOn {
		return "", errors.New("stt unavailable")
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "text-" + strings.TrimSuffix(filepath.Base(audioPath), ".mp3"), nil
}

func assertRemoved(t *testing.T, paths []string) {
	t.Helper()
	if len(paths) == 0 {
		t.Fatal("no temporary files were created")
	}
	for _, p := range paths {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("%s still exists (err=%v)", p, err)
		}
		if _, err := os.Stat(filepath.Dir(p)); !os.IsNotExist(err) {
			t.Errorf("temp dir %s still exists", filepath.Dir(p))
		}
	}
}

func TestBestAudioStream_prefersChannels(t *testing.T) {
	streams := []AudioStream{
		{Index: 1, Channels: 1, BitRate: 64000, SampleRate: 44100},
		{Index: 2, Channels: 2, BitRate: 128000, SampleRate: 44100},
	}
	best, ok := BestAudioStream(streams)
	if !ok || best.Index != 2 {
		t.Errorf("got %+v", best)
	}
	// Channel weight beats a higher bit rate.
	best, _ = BestAudioStream([]AudioStream{
		{Index: 0, Channels: 1, BitRate: 192000, SampleRate: 48000},
		{Index: 1, Channels: 2, BitRate: 128000, SampleRate: 44100},
	})
	if best.Index != 1 {
		t.Errorf("stereo should win, got %+v", best)
	}
	best, _ = BestAudioStream([]AudioStream{
		{Index: 0, Channels: 1, BitRate: 320000, SampleRate: 48000},
		{Index: 1, Channels: 2, BitRate: 96000, SampleRate: 48000},
	})
	if best.Index != 1 {
		t.Errorf("stereo 96k should beat mono 320k, got %+v", best)
	}
	// Same channels: bit rate decides before sample rate.
	best, _ = BestAudioStream([]AudioStream{
		{Index: 0, Channels: 2, BitRate: 128000, SampleRate: 96000},
		{Index: 1, Channels: 2, BitRate: 129000, SampleRate: 22050},
		{Index: 2, Channels: 2, BitRate: 129000, SampleRate: 44100},
	})
	if best.Index != 2 {
		t.Errorf("got %+v", best)
	}
	if _, ok := BestAudioStream(nil); ok {
		t.Error("no streams must report !ok")
	}
}

func TestParseProbe(t *testing.T) {
	out := []byte(`{"streams":[{"index":1,"codec_name":"aac","channels":2,"sample_rate":"48000","bit_rate":"128000"},{"index":2,"codec_name":"ac3","channels":6,"sample_rate":"48000"}]}`)
	streams, err := parseProbe(out)
	if err != nil {
		t.Fatalf("parseProbe: %v", err)
	}
	if len(streams) != 2 {
		t.Fatalf("got %d streams", len(streams))
	}
	if streams[0] != (AudioStream{Index: 1, Codec: "aac", Channels: 2, SampleRate: 48000, BitRate: 128000}) {
		t.Errorf("stream 0 = %+v", streams[0])
	}
	if streams[1].BitRate != 0 || streams[1].Channels != 6 {
		t.Errorf("stream 1 = %+v", streams[1])
	}
	if _, err := parseProbe([]byte("not json")); err == nil {
		t.Error("expected error for bad output")
	}
}

func TestAudioExtractor_joinsSegmentsInOrder(t *testing.T) {
	media := &fakeMedia{segments: 3}
	e := newAudioExtractor(Deps{Media: media, Transcriber: &fakeSTT{}, Settings: Settings{AudioSegment: time.Minute}}.withDefaults())
	state := &models.ContentState{FilePath: writeTemp(t, "talk.mp3", []byte("id3"))}
	res, err := e.Extract(context.Background(), state)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if res.Content != "text-segment_0000\n\ntext-segment_0001\n\ntext-segment_0002" {
		t.Errorf("got %q", res.Content)
	}
	assertRemoved(t, media.created)
}

func TestAudioExtractor_cleansUpWhenTranscriptionFails(t *testing.T) {
	media := &fakeMedia{segments: 4}
	stt := &fakeSTT{failOn: 3}
	e := newAudioExtractor(Deps{Media: media, Transcriber: stt}.withDefaults())
	state := &models.ContentState{FilePath: writeTemp(t, "talk.mp3", []byte("id3"))}
	if _, err := e.Extract(context.Background(), state); err == nil {
		t.Fatal("expected transcription error")
	}
	if stt.calls != 3 {
		t.Errorf("calls = %d, want 3", stt.calls)
	}
	assertRemoved(t, media.created)
}

func TestAudioExtractor_segmentTimeout(t *testing.T) {
	media := &fakeMedia{segments: 1}
	e := newAudioExtractor(Deps{
		Media:       media,
		Transcriber: &fakeSTT{delay: time.Second},
		Settings:    Settings{TranscribeTimeout: 10 * time.Millisecond},
	}.withDefaults())
	state := &models.ContentState{FilePath: writeTemp(t, "talk.mp3", []byte("id3"))}
	_, err := e.Extract(context.Background(), state)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
	assertRemoved(t, media.created)
}

func TestAudioExtractor_missingFile(t *testing.T) {
	e := newAudioExtractor(Deps{Media: &fakeMedia{}, Transcriber: &fakeSTT{}}.withDefaults())
	_, err := e.Extract(context.Background(), &models.ContentState{FilePath: "/nonexistent/a.mp3"})
	if !errors.Is(err, models.ErrFileNotFound) {
		t.Errorf("got %v", err)
	}
}

func TestVideoExtractor_selectsStereoStream(t *testing.T) {
	media := &fakeMedia{
		streams: []AudioStream{
			{Index: 1, Channels: 2, BitRate: 128000, SampleRate: 48000},
			{Index: 2, Channels: 1, BitRate: 64000, SampleRate: 48000},
		},
		segments: 2,
	}
	e := newVideoExtractor(Deps{Media: media, Transcriber: &fakeSTT{}}.withDefaults())
	state := &models.ContentState{FilePath: writeTemp(t, "talk.mp4", []byte("moov"))}
	res, err := e.Extract(context.Background(), state)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(media.extracted) != 1 || media.extracted[0] != 1 {
		t.Errorf("extracted streams = %v, want [1]", media.extracted)
	}
	if res.Content != "text-segment_0000\n\ntext-segment_0001" {
		t.Errorf("got %q", res.Content)
	}
	if res.Metadata["audio_stream"] != 1 {
		t.Errorf("audio_stream = %v", res.Metadata["audio_stream"])
	}
	assertRemoved(t, media.created)
}

func TestVideoExtractor_noAudioIsSoftFailure(t *testing.T) {
	for name, media := range map[string]*fakeMedia{
		"no streams":   {},
		"probe failed": {probeErr: errors.New("moov atom not found")},
	} {
		t.Run(name, func(t *testing.T) {
			e := newVideoExtractor(Deps{Media: media, Transcriber: &fakeSTT{}}.withDefaults())
			state := &models.ContentState{FilePath: writeTemp(t, "silent.mp4", []byte("moov"))}
			res, err := e.Extract(context.Background(), state)
			if err != nil {
				t.Fatalf("Extract returned error: %v", err)
			}
			if res.Content != "" {
				t.Errorf("content = %q", res.Content)
			}
			if len(res.Warnings) != 1 || !errors.Is(res.Warnings[0], models.ErrNoAudioStream) {
				t.Errorf("warnings = %v", res.Warnings)
			}
		})
	}
}
