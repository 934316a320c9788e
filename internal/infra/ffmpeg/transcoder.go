package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"go.uber.org/zap"
)

type Transcoder struct {
	ffmpeg  string
	ffprobe string
	timeout time.Duration
	logger  *zap.Logger
}

type TranscoderConfig struct {
	FFmpegBinary  string
	FFprobeBinary string
	Timeout       time.Duration
}

func NewTranscoder(cfg TranscoderConfig, logger *zap.Logger) *Transcoder {
	t := &Transcoder{
		ffmpeg:  strings.TrimSpace(cfg.FFmpegBinary),
		ffprobe: strings.TrimSpace(cfg.FFprobeBinary),
		timeout: cfg.Timeout,
		logger:  logger,
	}
	if t.ffmpeg == "" {
		t.ffmpeg = "ffmpeg"
	}
	if t.ffprobe == "" {
		t.ffprobe = "ffprobe"
	}
	return t
}

func (t *Transcoder) ExtractImage(ctx context.Context, sourcePath string, offset float64, outputPath string) error {
	return t.run(ctx, entity.ArtifactImage, sourcePath, offset, outputPath, imageArgs(sourcePath, offset, outputPath))
}

func (t *Transcoder) ExtractClip(ctx context.Context, sourcePath string, offset float64, maxDuration time.Duration, outputPath string) error {
	return t.run(ctx, entity.ArtifactClip, sourcePath, offset, outputPath, clipArgs(sourcePath, offset, maxDuration, outputPath))
}

func imageArgs(sourcePath string, offset float64, outputPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", formatSeconds(offset),
		"-i", sourcePath,
		"-frames:v", "1",
		"-q:v", "2",
		outputPath,
	}
}

func clipArgs(sourcePath string, offset float64, maxDuration time.Duration, outputPath string) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-y",
		"-ss", formatSeconds(offset),
		"-i", sourcePath,
		"-t", formatSeconds(maxDuration.Seconds()),
		"-c:v", "libx264",
		"-c:a", "aac",
		outputPath,
	}
}

func formatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func (t *Transcoder) run(
	ctx context.Context,
	kind entity.ArtifactKind,
	sourcePath string,
	offset float64,
	outputPath string,
	args []string,
) error {
	fail := func(err error) error {
		return &entity.ExtractionError{Offset: offset, Kind: kind, Err: err}
	}

	if offset < 0 {
		return fail(fmt.Errorf("negative offset"))
	}
	if _, err := os.Stat(sourcePath); err != nil {
		return fail(fmt.Errorf("source unreadable: %w", err))
	}

	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	// Browser recordings often carry no duration; the check is skipped then.
	duration, err := t.readDuration(ctx, sourcePath)
	if err != nil {
		t.logger.Debug("could not get recording duration", zap.Error(err))
	} else if offset > duration {
		return fail(fmt.Errorf("offset beyond recording duration %ss", formatSeconds(duration)))
	}

	cmd := exec.CommandContext(ctx, t.ffmpeg, args...)
	cmd.WaitDelay = time.Second
	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fail(fmt.Errorf("ffmpeg timed out after %s", t.timeout))
		}
		return fail(fmt.Errorf("ffmpeg error: %w, output: %s", err, strings.TrimSpace(string(output))))
	}

	info, err := os.Stat(outputPath)
	if err != nil {
		return fail(fmt.Errorf("no output produced: %w", err))
	}
	if info.Size() == 0 {
		return fail(fmt.Errorf("empty output"))
	}

	t.logger.Debug("artifact extracted",
		zap.String("kind", string(kind)),
		zap.Float64("offset", offset),
		zap.Int64("bytes", info.Size()),
	)
	return nil
}

func (t *Transcoder) readDuration(ctx context.Context, sourcePath string) (float64, error) {
	cmd := exec.CommandContext(ctx, t.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		sourcePath,
	)
	output, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	durationStr := strings.TrimSpace(string(output))
	duration, err := strconv.ParseFloat(durationStr, 64)
	if err != nil {
		return 0, fmt.Errorf("parse duration: %w", err)
	}
	return duration, nil
}
