package port

import (
	"context"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"github.com/google/uuid"
)

type FolderRepository interface {
	Create(ctx context.Context, folder *entity.Folder) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Folder, error)
	FindOpenByUser(ctx context.Context, userID string) (*entity.Folder, error)
	// BeginRun atomically claims the folder for one run and discards the
	// items of any earlier run. It returns entity.ErrRunInProgress when the
	// folder is already claimed.
	BeginRun(ctx context.Context, folder *entity.Folder) error
	// AddItem, MarkCompleted and MarkFailed only apply while folder.RunID
	// still holds the claim; otherwise they return entity.ErrRunSuperseded.
	AddItem(ctx context.Context, folder *entity.Folder, item entity.IssueFile) error
	MarkCompleted(ctx context.Context, folder *entity.Folder) error
	MarkFailed(ctx context.Context, folder *entity.Folder) error
	// SetCompleted stores folder.Completed for a folder with no run in
	// progress, returning entity.ErrRunInProgress otherwise.
	SetCompleted(ctx context.Context, folder *entity.Folder) error
}
