package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type FolderRepository struct {
	pool       *pgxpool.Pool
	staleAfter time.Duration
}

// NewFolderRepository builds the repository. A run claim whose folder has not
// been touched for staleAfter is treated as abandoned and may be reclaimed.
func NewFolderRepository(pool *pgxpool.Pool, staleAfter time.Duration) *FolderRepository {
	if staleAfter <= 0 {
		staleAfter = 30 * time.Minute
	}
	return &FolderRepository{pool: pool, staleAfter: staleAfter}
}

const folderColumns = `id, user_id, name, completed, total_tasks, completed_tasks,
	running, run_id, last_error, created_at, updated_at`

func (r *FolderRepository) Create(ctx context.Context, folder *entity.Folder) error {
	query := `
		INSERT INTO folders (` + folderColumns + `)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`

	_, err := r.pool.Exec(ctx, query,
		folder.ID, folder.UserID, folder.Name, folder.Completed,
		folder.TotalTasks, folder.CompletedTasks, folder.Running,
		folder.RunID, folder.LastError, folder.CreatedAt, folder.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert folder: %w", err)
	}
	return nil
}

func (r *FolderRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Folder, error) {
	query := `SELECT ` + folderColumns + ` FROM folders WHERE id=$1`

	folder, err := scanFolder(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("find folder by id: %w", err)
	}

	items, err := r.findItems(ctx, id)
	if err != nil {
		return nil, err
	}
	folder.Items = items
	return folder, nil
}

// FindOpenByUser returns the user's most recent folder that never started a run.
func (r *FolderRepository) FindOpenByUser(ctx context.Context, userID string) (*entity.Folder, error) {
	query := `
		SELECT ` + folderColumns + ` FROM folders
		WHERE user_id=$1 AND NOT completed AND NOT running AND total_tasks=0
		ORDER BY created_at DESC
		LIMIT 1`

	folder, err := scanFolder(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("find open folder: %w", err)
	}
	return folder, nil
}

func (r *FolderRepository) BeginRun(ctx context.Context, folder *entity.Folder) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE folders SET
			running=TRUE, run_id=$5, completed=FALSE, total_tasks=$2, completed_tasks=0,
			last_error='', updated_at=$3
		WHERE id=$1 AND (NOT running OR updated_at < $4)`,
		folder.ID, folder.TotalTasks, folder.UpdatedAt, time.Now().UTC().Add(-r.staleAfter), folder.RunID,
	)
	if err != nil {
		return fmt.Errorf("claim folder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM folders WHERE id=$1)`, folder.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check folder: %w", err)
		}
		if !exists {
			return entity.ErrFolderNotFound
		}
		return entity.ErrRunInProgress
	}

	if _, err := tx.Exec(ctx, `DELETE FROM issue_files WHERE folder_id=$1`, folder.ID); err != nil {
		return fmt.Errorf("reset folder items: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit run claim: %w", err)
	}
	return nil
}

func (r *FolderRepository) AddItem(ctx context.Context, folder *entity.Folder, item entity.IssueFile) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Progress first: a superseded run must not reach the items table.
	tag, err := tx.Exec(ctx, `
		UPDATE folders SET completed_tasks=completed_tasks+1, updated_at=$2
		WHERE id=$1 AND running AND run_id=$3`,
		folder.ID, time.Now().UTC(), folder.RunID,
	)
	if err != nil {
		return fmt.Errorf("update folder progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrRunSuperseded
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO issue_files (id, folder_id, sequence, name, image_url, clip_url, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		item.ID, folder.ID, item.Sequence, item.Name, item.ImageURL, item.ClipURL, item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert issue file: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit issue file: %w", err)
	}
	return nil
}

func (r *FolderRepository) MarkCompleted(ctx context.Context, folder *entity.Folder) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE folders SET completed=TRUE, running=FALSE, updated_at=$2
		WHERE id=$1 AND running AND run_id=$3`,
		folder.ID, folder.UpdatedAt, folder.RunID,
	)
	if err != nil {
		return fmt.Errorf("mark folder completed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrRunSuperseded
	}
	return nil
}

func (r *FolderRepository) MarkFailed(ctx context.Context, folder *entity.Folder) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE folders SET completed=FALSE, running=FALSE, last_error=$2, updated_at=$3
		WHERE id=$1 AND running AND run_id=$4`,
		folder.ID, folder.LastError, folder.UpdatedAt, folder.RunID,
	)
	if err != nil {
		return fmt.Errorf("mark folder failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return entity.ErrRunSuperseded
	}
	return nil
}

func (r *FolderRepository) SetCompleted(ctx context.Context, folder *entity.Folder) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE folders SET completed=$2, updated_at=$3
		WHERE id=$1 AND NOT running`,
		folder.ID, folder.Completed, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("set folder completion: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM folders WHERE id=$1)`, folder.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check folder: %w", err)
		}
		if !exists {
			return entity.ErrFolderNotFound
		}
		return entity.ErrRunInProgress
	}
	return nil
}

func (r *FolderRepository) findItems(ctx context.Context, folderID uuid.UUID) ([]entity.IssueFile, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, folder_id, sequence, name, image_url, clip_url, created_at
		FROM issue_files WHERE folder_id=$1
		ORDER BY sequence`,
		folderID,
	)
	if err != nil {
		return nil, fmt.Errorf("query issue files: %w", err)
	}
	defer rows.Close()

	items := []entity.IssueFile{}
	for rows.Next() {
		var item entity.IssueFile
		if err := rows.Scan(&item.ID, &item.FolderID, &item.Sequence, &item.Name,
			&item.ImageURL, &item.ClipURL, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan issue file: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate issue files: %w", err)
	}
	return items, nil
}

func scanFolder(row pgx.Row) (*entity.Folder, error) {
	folder := &entity.Folder{Items: []entity.IssueFile{}}
	err := row.Scan(
		&folder.ID, &folder.UserID, &folder.Name, &folder.Completed,
		&folder.TotalTasks, &folder.CompletedTasks, &folder.Running,
		&folder.RunID, &folder.LastError, &folder.CreatedAt, &folder.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, entity.ErrFolderNotFound
	}
	if err != nil {
		return nil, err
	}
	return folder, nil
}
