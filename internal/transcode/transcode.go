// Package transcode produces the adaptive HLS rendition ladder with ffmpeg
// and re-measures source duration with ffprobe.
package transcode

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ontimehq/shorts-pipeline/internal/execx"
	"github.com/ontimehq/shorts-pipeline/internal/ladder"
)

// MasterPlaylistName is the filename of the ladder's master playlist.
const MasterPlaylistName = "master.m3u8"

// Config holds transcoder tuning.
type Config struct {
	SegmentSeconds int
	Preset         string
	EncodeTimeout  time.Duration
	ProbeTimeout   time.Duration
}

// Defaults fills unset fields.
func (c *Config) Defaults() {
	if c.SegmentSeconds <= 0 {
		c.SegmentSeconds = 4
	}
	if c.Preset == "" {
		c.Preset = "veryfast"
	}
	if c.EncodeTimeout <= 0 {
		c.EncodeTimeout = 10 * time.Minute
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 30 * time.Second
	}
}

// Transcoder wraps ffmpeg/ffprobe invocations.
type Transcoder struct {
	cfg    Config
	runner execx.Runner
	logger *slog.Logger
}

// NewTranscoder creates a transcoder.
func NewTranscoder(cfg Config, runner execx.Runner, logger *slog.Logger) *Transcoder {
	cfg.Defaults()
	return &Transcoder{cfg: cfg, runner: runner, logger: logger}
}

// MeasureDuration reads the container duration of a local media file.
func (t *Transcoder) MeasureDuration(ctx context.Context, inputPath string) (float64, error) {
	res, err := t.runner.Run(ctx, t.cfg.ProbeTimeout, "ffprobe",
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=nokey=1:noprint_wrappers=1",
		inputPath,
	)
	if err != nil {
		return 0, classifyEncode("probe", res.Output(), err)
	}

	value := strings.TrimSpace(res.Stdout)
	if value == "" {
		return 0, classifyEncode("probe", res.Output(), fmt.Errorf("ffprobe reported no duration for %s", inputPath))
	}
	d, perr := strconv.ParseFloat(value, 64)
	if perr != nil {
		return 0, classifyEncode("probe", value, fmt.Errorf("unparseable duration %q: %w", value, perr))
	}
	return d, nil
}

// Transcode encodes every rendition of sel from inputPath into outDir and
// writes the master playlist once all renditions succeed. outDir holds the
// complete ladder afterwards: master.m3u8, per-rendition playlists, and
// segments.
func (t *Transcoder) Transcode(ctx context.Context, inputPath, outDir string, sel ladder.Selection) error {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	for _, r := range sel.Renditions {
		start := time.Now()
		if err := t.encodeRendition(ctx, inputPath, outDir, r); err != nil {
			return err
		}
		t.logger.Info("Rendition encoded",
			slog.String("rendition", r.Name),
			slog.Int("video_kbps", r.VideoBitrateKbps),
			slog.Duration("took", time.Since(start)),
		)
	}

	master := ladder.MasterPlaylist(sel)
	if err := os.WriteFile(filepath.Join(outDir, MasterPlaylistName), []byte(master), 0o644); err != nil {
		return fmt.Errorf("failed to write master playlist: %w", err)
	}
	return nil
}

// encodeRendition runs one ffmpeg pass: scale to target height preserving
// aspect ratio, bound the encoder bitrate and buffer, fixed 128k AAC audio,
// fixed-duration segments, one rendition playlist.
func (t *Transcoder) encodeRendition(ctx context.Context, inputPath, outDir string, r ladder.Rendition) error {
	videoRate := fmt.Sprintf("%dk", r.VideoBitrateKbps)
	maxRate := fmt.Sprintf("%dk", r.VideoBitrateKbps*110/100)
	bufSize := fmt.Sprintf("%dk", r.VideoBitrateKbps*2)
	segmentPattern := filepath.Join(outDir, r.Name+"_%05d.ts")

	args := []string{
		"-y",
		"-i", inputPath,
		"-sn",
		"-vf", fmt.Sprintf("scale=-2:%d", r.Height),
		"-c:v", "libx264",
		"-preset", t.cfg.Preset,
		"-b:v", videoRate,
		"-maxrate", maxRate,
		"-bufsize", bufSize,
		"-sc_threshold", "0",
		"-force_key_frames", fmt.Sprintf("expr:gte(t,n_forced*%d)", t.cfg.SegmentSeconds),
		"-c:a", "aac",
		"-ac", "2",
		"-b:a", fmt.Sprintf("%dk", ladder.AudioBitrateKbps),
		"-ar", "48000",
		"-f", "hls",
		"-hls_time", strconv.Itoa(t.cfg.SegmentSeconds),
		"-hls_list_size", "0",
		"-hls_playlist_type", "vod",
		"-hls_flags", "independent_segments+temp_file",
		"-hls_segment_filename", segmentPattern,
		filepath.Join(outDir, r.PlaylistName()),
	}

	res, err := t.runner.Run(ctx, t.cfg.EncodeTimeout, "ffmpeg", args...)
	if err != nil {
		return classifyEncode("transcode", res.Output(), err)
	}
	return nil
}
