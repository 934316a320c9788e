package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/port"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type FolderUseCase struct {
	repo   port.FolderRepository
	loc    *time.Location
	logger *zap.Logger
}

func NewFolderUseCase(repo port.FolderRepository, loc *time.Location, logger *zap.Logger) *FolderUseCase {
	return &FolderUseCase{repo: repo, loc: loc, logger: logger}
}

// Open returns the user's unused folder, creating one when none exists.
func (uc *FolderUseCase) Open(ctx context.Context, userID string) (*entity.Folder, error) {
	folder, err := uc.repo.FindOpenByUser(ctx, userID)
	if err == nil {
		return folder, nil
	}
	if !errors.Is(err, entity.ErrFolderNotFound) {
		return nil, fmt.Errorf("find open folder: %w", err)
	}

	folder = entity.NewFolder(userID, uc.loc)
	if err := uc.repo.Create(ctx, folder); err != nil {
		return nil, fmt.Errorf("create folder: %w", err)
	}
	uc.logger.Info("folder created",
		zap.String("folder_id", folder.ID.String()),
		zap.String("user_id", userID),
		zap.String("name", folder.Name),
	)
	return folder, nil
}

// Get loads a folder owned by userID. Folders of other users are reported
// as missing.
func (uc *FolderUseCase) Get(ctx context.Context, userID string, id uuid.UUID) (*entity.Folder, error) {
	folder, err := uc.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if folder.UserID != userID {
		return nil, entity.ErrFolderNotFound
	}
	return folder, nil
}

// Reopen clears the completion flag of a folder that is about to receive a new
// run, so subscribers wait for that run rather than the previous outcome. The
// returned func puts the flag back when the run is never dispatched.
func (uc *FolderUseCase) Reopen(ctx context.Context, folder *entity.Folder) (func(context.Context), error) {
	if !folder.Completed {
		return func(context.Context) {}, nil
	}

	folder.Completed = false
	if err := uc.repo.SetCompleted(ctx, folder); err != nil {
		folder.Completed = true
		return nil, fmt.Errorf("reopen folder: %w", err)
	}

	return func(ctx context.Context) {
		folder.Completed = true
		if err := uc.repo.SetCompleted(ctx, folder); err != nil {
			uc.logger.Warn("failed to restore folder completion",
				zap.String("folder_id", folder.ID.String()), zap.Error(err))
		}
	}, nil
}
