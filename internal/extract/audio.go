package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/hyperjump/kura/internal/models"
	"go.uber.org/zap"
)

type audioExtractor struct {
	media       MediaToolkit
	transcriber Transcriber
	segment     time.Duration
	timeout     time.Duration
	tempDir     string
	logger      *zap.Logger
}

func newAudioExtractor(d Deps) *audioExtractor {
	return &audioExtractor{
		media:       d.Media,
		transcriber: d.Transcriber,
		segment:     d.Settings.AudioSegment,
		timeout:     d.Settings.TranscribeTimeout,
		tempDir:     d.Settings.TempDir,
		logger:      d.Logger,
	}
}

func (e *audioExtractor) Extract(ctx context.Context, state *models.ContentState) (*Result, error) {
	if _, err := os.Stat(state.FilePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrFileNotFound, state.FilePath)
		}
		return nil, err
	}
	text, segments, err := e.transcribe(ctx, state.FilePath)
	if err != nil {
		return nil, err
	}
	res := &Result{Content: text}
	res.setMeta("audio_segments", segments)
	return res, nil
}

// transcribe splits path into segments inside a private temp dir, transcribes them in order
// and joins the transcripts. The temp dir is removed on every return path.
func (e *audioExtractor) transcribe(ctx context.Context, path string) (string, int, error) {
	if e.transcriber == nil {
		return "", 0, errors.New("no speech-to-text provider configured")
	}
	dir, err := os.MkdirTemp(e.tempDir, "kura-audio-*")
	if err != nil {
		return "", 0, fmt.Errorf("create segment dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			e.logger.Warn("failed to remove audio segments", zap.String("dir", dir), zap.Error(err))
		}
	}()

	segments, err := e.media.Segment(ctx, path, dir, e.segment)
	if err != nil {
		return "", 0, fmt.Errorf("segment audio: %w", err)
	}
	if len(segments) == 0 {
		return "", 0, fmt.Errorf("segment audio: no segments produced for %s", path)
	}
	parts := make([]string, 0, len(segments))
	for i, seg := range segments {
		text, err := e.transcribeSegment(ctx, seg)
		if err != nil {
			return "", 0, fmt.Errorf("transcribe segment %d/%d: %w", i+1, len(segments), err)
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
		e.logger.Debug("segment transcribed", zap.Int("segment", i+1), zap.Int("of", len(segments)))
	}
	return strings.Join(parts, "\n\n"), len(segments), nil
}

func (e *audioExtractor) transcribeSegment(ctx context.Context, path string) (string, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}
	return e.transcriber.Transcribe(ctx, path)
}
