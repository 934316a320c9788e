package port

import (
	"context"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"github.com/google/uuid"
)

type EventPublisher interface {
	PublishFolderEvent(ctx context.Context, event entity.FolderEvent) error
}

type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg []byte, reason string) error
}

// FolderNotifier fans folder events out to in-process subscribers.
type FolderNotifier interface {
	Publish(folderID uuid.UUID, event entity.FolderEvent) int
}

// RunDispatcher hands an accepted extraction request to the worker pool.
type RunDispatcher interface {
	Dispatch(ctx context.Context, req entity.ExtractionRequest, size int64, contentType string) error
}
