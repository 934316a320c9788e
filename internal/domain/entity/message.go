package entity

import (
	"io"

	"github.com/google/uuid"
)

type FolderStatus string

const (
	FolderStatusCompleted FolderStatus = "COMPLETED"
	FolderStatusFailed    FolderStatus = "FAILED"
)

// ExtractionRequest is one submitted run. Timestamps are seconds, kept in
// submission order; duplicates are processed independently.
type ExtractionRequest struct {
	FolderID     uuid.UUID
	UserID       string
	Timestamps   []float64
	Recording    io.Reader
	RecordingExt string
}

// ExtractionMessage is the queued form of an ExtractionRequest; the recording
// itself is staged in object storage under RecordingKey.
type ExtractionMessage struct {
	FolderID     uuid.UUID `json:"folder_id"`
	UserID       string    `json:"user_id"`
	Timestamps   []float64 `json:"timestamps"`
	RecordingKey string    `json:"recording_key"`
	RecordingExt string    `json:"recording_ext"`
}

// FolderEvent is pushed to subscribers and published on the status exchange.
type FolderEvent struct {
	FolderID     uuid.UUID    `json:"folder_id"`
	UserID       string       `json:"user_id"`
	Status       FolderStatus `json:"status"`
	ItemCount    int          `json:"item_count"`
	TotalTasks   int          `json:"total_tasks"`
	ErrorMessage string       `json:"error_message,omitempty"`
	Folder       *Folder      `json:"-"`
}

func NewFolderEvent(f *Folder, status FolderStatus) FolderEvent {
	return FolderEvent{
		FolderID:     f.ID,
		UserID:       f.UserID,
		Status:       status,
		ItemCount:    len(f.Items),
		TotalTasks:   f.TotalTasks,
		ErrorMessage: f.LastError,
		Folder:       f,
	}
}
