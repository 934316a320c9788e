package port

import (
	"context"
	"io"
)

type ArtifactStorage interface {
	Upload(ctx context.Context, localPath string, key string) (string, error)
}

type RecordingStorage interface {
	StageRecording(ctx context.Context, key string, reader io.Reader, size int64, contentType string) error
	OpenRecording(ctx context.Context, key string) (io.ReadCloser, error)
	RemoveRecording(ctx context.Context, key string) error
}
