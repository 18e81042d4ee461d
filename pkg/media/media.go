// Package media wraps the ffmpeg tooling used on recording artifacts.
package media

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
)

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4a":  "audio/mp4",
	".webm": "video/webm",
	".m3u8": "application/vnd.apple.mpegurl",
	".ts":   "video/mp2t",
	".mkv":  "video/x-matroska",
}

// ContentType infers a content type from the container extension and falls
// back to sniffing the file.
func ContentType(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mtype.String()
}

type FFmpeg struct {
	Binary      string
	ProbeBinary string
}

func NewFFmpeg() *FFmpeg {
	return &FFmpeg{Binary: "ffmpeg", ProbeBinary: "ffprobe"}
}

// NormalizeArgs regenerates timestamps and re-encodes to a streamable
// H.264/AAC MP4.
func NormalizeArgs(inputPath, outputPath string) []string {
	return []string{
		"-fflags", "+genpts",
		"-i", inputPath,
		"-c:v", "libx264",
		"-preset", "medium",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		"-y",
		outputPath,
	}
}

func (f *FFmpeg) Normalize(ctx context.Context, inputPath, outputPath string) error {
	args := NormalizeArgs(inputPath, outputPath)
	zerolog.Ctx(ctx).Debug().Strs("args", args).Msg("running ffmpeg")

	cmd := exec.CommandContext(ctx, f.Binary, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		zerolog.Ctx(ctx).Error().
			Err(err).
			Str("input_path", inputPath).
			Str("ffmpeg_output", string(output)).
			Msg("ffmpeg normalize failed")
		return fmt.Errorf("ffmpeg normalize: %w", err)
	}
	return nil
}

// Duration probes the container duration.
func (f *FFmpeg) Duration(ctx context.Context, path string) (time.Duration, error) {
	cmd := exec.CommandContext(ctx, f.ProbeBinary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}
	return ParseDuration(string(output))
}

func ParseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "N/A" {
		return 0, fmt.Errorf("ffprobe returned no duration")
	}
	seconds, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
