package port

import (
	"context"
	"time"
)

type Transcoder interface {
	ExtractImage(ctx context.Context, sourcePath string, offset float64, outputPath string) error
	ExtractClip(ctx context.Context, sourcePath string, offset float64, maxDuration time.Duration, outputPath string) error
}
