package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/port"
	"go.uber.org/zap"
)

// FolderTracker keeps a folder's expected-vs-completed counts and announces
// completion. It holds no state of its own beyond the folder it is handed.
type FolderTracker struct {
	repo      port.FolderRepository
	notifier  port.FolderNotifier
	publisher port.EventPublisher
	logger    *zap.Logger
}

func NewFolderTracker(
	repo port.FolderRepository,
	notifier port.FolderNotifier,
	publisher port.EventPublisher,
	logger *zap.Logger,
) *FolderTracker {
	return &FolderTracker{repo: repo, notifier: notifier, publisher: publisher, logger: logger}
}

func (t *FolderTracker) RecordItem(ctx context.Context, folder *entity.Folder, item entity.IssueFile) error {
	if err := t.repo.AddItem(ctx, folder, item); err != nil {
		return fmt.Errorf("record item %d: %w", item.Sequence, err)
	}
	folder.AddItem(item)
	return nil
}

func (t *FolderTracker) Finalize(ctx context.Context, folder *entity.Folder) error {
	if !folder.IsSatisfied() {
		return fmt.Errorf("%w: %d of %d items", entity.ErrPartialCompletion, len(folder.Items), folder.TotalTasks)
	}

	folder.MarkCompleted()
	if err := t.repo.MarkCompleted(ctx, folder); err != nil {
		folder.Completed = false
		return fmt.Errorf("persist completion: %w", err)
	}

	event := entity.NewFolderEvent(folder, entity.FolderStatusCompleted)
	delivered := t.notifier.Publish(folder.ID, event)
	t.publish(ctx, event)

	t.logger.Info("folder completed",
		zap.String("folder_id", folder.ID.String()),
		zap.Int("items", len(folder.Items)),
		zap.Int("subscribers_notified", delivered),
	)
	return nil
}

// Fail records a failed run. Subscribers are only told when pushFailure is set.
// Nothing is announced once another run has taken the folder over.
func (t *FolderTracker) Fail(ctx context.Context, folder *entity.Folder, errMsg string, pushFailure bool) {
	folder.MarkFailed(errMsg)
	if err := t.repo.MarkFailed(ctx, folder); err != nil {
		if errors.Is(err, entity.ErrRunSuperseded) {
			t.logger.Warn("failure not recorded, folder claimed by a newer run",
				zap.String("folder_id", folder.ID.String()))
			return
		}
		t.logger.Error("failed to persist folder failure",
			zap.String("folder_id", folder.ID.String()), zap.Error(err))
	}

	event := entity.NewFolderEvent(folder, entity.FolderStatusFailed)
	if pushFailure {
		t.notifier.Publish(folder.ID, event)
	}
	t.publish(ctx, event)
}

// Release drops the run claim without announcing anything, so the folder can
// be claimed again once the request is redelivered.
func (t *FolderTracker) Release(ctx context.Context, folder *entity.Folder, reason string) {
	folder.MarkFailed(reason)
	if err := t.repo.MarkFailed(ctx, folder); err != nil && !errors.Is(err, entity.ErrRunSuperseded) {
		t.logger.Error("failed to release run claim",
			zap.String("folder_id", folder.ID.String()), zap.Error(err))
	}
}

func (t *FolderTracker) publish(ctx context.Context, event entity.FolderEvent) {
	if t.publisher == nil {
		return
	}
	if err := t.publisher.PublishFolderEvent(ctx, event); err != nil {
		t.logger.Error("failed to publish folder event",
			zap.String("folder_id", event.FolderID.String()),
			zap.String("status", string(event.Status)),
			zap.Error(err),
		)
	}
}
