package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// AudioStream describes one audio stream inside a media container.
type AudioStream struct {
	Index      int
	Codec      string
	Channels   int
	SampleRate int
	BitRate    int
}

// Stream score weights. Each weight dwarfs the largest value the next term can reach, so
// channels decide first, then bit rate (per kbps), then sample rate (per kHz).
const (
	ChannelWeight    = 1e6
	BitRateWeight    = 1.0
	SampleRateWeight = 1e-3
)

// Score ranks streams for transcription.
func (s AudioStream) Score() float64 {
	return float64(s.Channels)*ChannelWeight +
		float64(s.BitRate)/1000*BitRateWeight +
		float64(s.SampleRate)/1000*SampleRateWeight
}

// BestAudioStream returns the highest-scoring stream. The first one wins ties.
func BestAudioStream(streams []AudioStream) (AudioStream, bool) {
	if len(streams) == 0 {
		return AudioStream{}, false
	}
	best := streams[0]
	for _, s := range streams[1:] {
		if s.Score() > best.Score() {
			best = s
		}
	}
	return best, true
}

// MediaToolkit is the media-processing port used by the video and audio extractors.
type MediaToolkit interface {
	// ProbeAudio lists the audio streams of a container.
	ProbeAudio(ctx context.Context, path string) ([]AudioStream, error)
	// ExtractStream writes one stream of in to the audio file out.
	ExtractStream(ctx context.Context, in string, streamIndex int, out string) error
	// Segment splits in into consecutive files of at most segment length under dir and
	// returns their paths in playback order.
	Segment(ctx context.Context, in, dir string, segment time.Duration) ([]string, error)
}

// FFmpeg implements MediaToolkit with the ffmpeg and ffprobe binaries.
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
}

// NewFFmpeg returns a toolkit running the given binaries. Empty names fall back to PATH lookup.
func NewFFmpeg(ffmpeg, ffprobe string) *FFmpeg {
	if ffmpeg == "" {
		ffmpeg = "ffmpeg"
	}
	if ffprobe == "" {
		ffprobe = "ffprobe"
	}
	return &FFmpeg{ffmpeg: ffmpeg, ffprobe: ffprobe}
}

type probeOutput struct {
	Streams []struct {
		Index      int    `json:"index"`
		CodecName  string `json:"codec_name"`
		Channels   int    `json:"channels"`
		SampleRate string `json:"sample_rate"`
		BitRate    string `json:"bit_rate"`
	} `json:"streams"`
}

func (f *FFmpeg) ProbeAudio(ctx context.Context, path string) ([]AudioStream, error) {
	out, err := f.run(ctx, f.ffprobe,
		"-v", "error",
		"-select_streams", "a",
		"-show_entries", "stream=index,codec_name,channels,sample_rate,bit_rate",
		"-of", "json",
		path)
	if err != nil {
		return nil, err
	}
	return parseProbe(out)
}

func parseProbe(out []byte) ([]AudioStream, error) {
	var probe probeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	streams := make([]AudioStream, 0, len(probe.Streams))
	for _, s := range probe.Streams {
		sr, _ := strconv.Atoi(s.SampleRate)
		br, _ := strconv.Atoi(s.BitRate)
		streams = append(streams, AudioStream{
			Index:      s.Index,
			Codec:      s.CodecName,
			Channels:   s.Channels,
			SampleRate: sr,
			BitRate:    br,
		})
	}
	return streams, nil
}

func (f *FFmpeg) ExtractStream(ctx context.Context, in string, streamIndex int, out string) error {
	_, err := f.run(ctx, f.ffmpeg,
		"-y", "-v", "error",
		"-i", in,
		"-map", fmt.Sprintf("0:%d", streamIndex),
		"-vn", "-c:a", "libmp3lame", "-b:a", "128k",
		out)
	return err
}

func (f *FFmpeg) Segment(ctx context.Context, in, dir string, segment time.Duration) ([]string, error) {
	seconds := int(segment / time.Second)
	if seconds <= 0 {
		seconds = 1
	}
	pattern := filepath.Join(dir, "segment_%04d.mp3")
	if _, err := f.run(ctx, f.ffmpeg,
		"-y", "-v", "error",
		"-i", in,
		"-vn", "-c:a", "libmp3lame", "-b:a", "64k",
		"-f", "segment",
		"-segment_time", strconv.Itoa(seconds),
		"-reset_timestamps", "1",
		pattern); err != nil {
		return nil, err
	}
	files, err := filepath.Glob(filepath.Join(dir, "segment_*.mp3"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (f *FFmpeg) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(bin), ctx.Err())
		}
		return nil, fmt.Errorf("%s: %w: %s", filepath.Base(bin), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
