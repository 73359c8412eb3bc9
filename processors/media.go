package processors

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"

	"videoRAG/utils"
)

// FFmpegMedia probes durations with ffprobe and grabs preview frames with ffmpeg.
type FFmpegMedia struct {
	FFmpegPath  string
	FFprobePath string
}

func NewFFmpegMedia(ffmpegPath, ffprobePath string) *FFmpegMedia {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFmpegMedia{FFmpegPath: ffmpegPath, FFprobePath: ffprobePath}
}

func (m *FFmpegMedia) ProbeDuration(ctx context.Context, mediaPath string) (float64, error) {
	out, err := utils.RunCommand(ctx, m.FFprobePath, "-v", "error", "-print_format", "json", "-show_format", mediaPath)
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbeDuration(out)
}

func parseProbeDuration(out []byte) (float64, error) {
	var probe struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &probe); err != nil {
		return 0, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if probe.Format.Duration == "" {
		return 0, nil
	}
	d, err := strconv.ParseFloat(probe.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", probe.Format.Duration, err)
	}
	return d, nil
}

// ExtractFrame writes a single JPEG at timestamp. Seeking before -i keeps it fast.
func (m *FFmpegMedia) ExtractFrame(ctx context.Context, mediaPath, outPath string, timestamp float64) error {
	if err := utils.EnsureDir(filepath.Dir(outPath)); err != nil {
		return err
	}
	if timestamp < 0 {
		timestamp = 0
	}
	args := []string{
		"-y",
		"-ss", strconv.FormatFloat(timestamp, 'f', 3, 64),
		"-i", mediaPath,
		"-frames:v", "1",
		"-q:v", "2",
		outPath,
	}
	if err := utils.RunFFmpeg(ctx, m.FFmpegPath, args); err != nil {
		return fmt.Errorf("ffmpeg frame extraction failed: %w", err)
	}
	return nil
}
