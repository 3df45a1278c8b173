package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hyperjump/kura/internal/models"
	"go.uber.org/zap"
)

// videoExtractor pulls the best audio stream out of a container and hands it to the audio
// extractor.
type videoExtractor struct {
	media   MediaToolkit
	audio   *audioExtractor
	tempDir string
	logger  *zap.Logger
}

func newVideoExtractor(d Deps) *videoExtractor {
	return &videoExtractor{
		media:   d.Media,
		audio:   newAudioExtractor(d),
		tempDir: d.Settings.TempDir,
		logger:  d.Logger,
	}
}

// Extract returns empty content with a warning when the container has no audio or cannot be
// probed. The caller decides whether empty content is fatal.
func (e *videoExtractor) Extract(ctx context.Context, state *models.ContentState) (*Result, error) {
	if _, err := os.Stat(state.FilePath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", models.ErrFileNotFound, state.FilePath)
		}
		return nil, err
	}
	res := &Result{}
	streams, err := e.media.ProbeAudio(ctx, state.FilePath)
	if err != nil {
		res.warn(fmt.Errorf("%w: probe failed: %v", models.ErrNoAudioStream, err))
		return res, nil
	}
	best, ok := BestAudioStream(streams)
	if !ok {
		res.warn(fmt.Errorf("%w: %s", models.ErrNoAudioStream, filepath.Base(state.FilePath)))
		return res, nil
	}
	e.logger.Debug("selected audio stream",
		zap.Int("index", best.Index),
		zap.Int("channels", best.Channels),
		zap.Int("bit_rate", best.BitRate),
		zap.Int("candidates", len(streams)))

	dir, err := os.MkdirTemp(e.tempDir, "kura-video-*")
	if err != nil {
		return nil, fmt.Errorf("create audio dir: %w", err)
	}
	defer os.RemoveAll(dir)

	audioPath := filepath.Join(dir, "audio.mp3")
	if err := e.media.ExtractStream(ctx, state.FilePath, best.Index, audioPath); err != nil {
		return nil, fmt.Errorf("extract audio stream %d: %w", best.Index, err)
	}
	text, segments, err := e.audio.transcribe(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	res.Content = text
	res.setMeta("audio_stream", best.Index)
	res.setMeta("audio_streams", len(streams))
	res.setMeta("audio_segments", segments)
	return res, nil
}
