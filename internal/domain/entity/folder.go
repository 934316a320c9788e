package entity

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

const folderNameLayout = "2006-1-2 15:4"

// Folder groups the issues captured from one recording. RunID identifies the
// run currently holding it; writes from any other run are refused.
type Folder struct {
	ID             uuid.UUID
	UserID         string
	Name           string
	Items          []IssueFile
	Completed      bool
	TotalTasks     int
	CompletedTasks int
	Running        bool
	RunID          uuid.UUID
	LastError      string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// IssueFile is one timestamp's extracted still image and clip.
type IssueFile struct {
	ID        uuid.UUID
	FolderID  uuid.UUID
	Sequence  int
	Name      string
	ImageURL  string
	ClipURL   string
	CreatedAt time.Time
}

// NewFolder names the folder after its creation time in loc.
func NewFolder(userID string, loc *time.Location) *Folder {
	now := time.Now().UTC()
	if loc == nil {
		loc = time.UTC
	}
	return &Folder{
		ID:        uuid.New(),
		UserID:    userID,
		Name:      now.In(loc).Format(folderNameLayout),
		Items:     []IssueFile{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func NewIssueFile(folderID uuid.UUID, seq int, imageURL, clipURL string) IssueFile {
	return IssueFile{
		ID:        uuid.New(),
		FolderID:  folderID,
		Sequence:  seq,
		Name:      fmt.Sprintf("Issue %d", seq),
		ImageURL:  imageURL,
		ClipURL:   clipURL,
		CreatedAt: time.Now().UTC(),
	}
}

// StartRun resets the folder for a run expecting total items.
func (f *Folder) StartRun(total int) {
	f.Items = []IssueFile{}
	f.Completed = false
	f.TotalTasks = total
	f.CompletedTasks = 0
	f.Running = true
	f.RunID = uuid.New()
	f.LastError = ""
	f.UpdatedAt = time.Now().UTC()
}

func (f *Folder) AddItem(item IssueFile) {
	f.Items = append(f.Items, item)
	f.CompletedTasks = len(f.Items)
	f.UpdatedAt = time.Now().UTC()
}

// IsSatisfied reports whether every expected item of the current run exists.
func (f *Folder) IsSatisfied() bool {
	return f.TotalTasks > 0 && len(f.Items) == f.TotalTasks
}

func (f *Folder) MarkCompleted() {
	f.Completed = true
	f.Running = false
	f.UpdatedAt = time.Now().UTC()
}

func (f *Folder) MarkFailed(errMsg string) {
	f.Completed = false
	f.Running = false
	f.LastError = errMsg
	f.UpdatedAt = time.Now().UTC()
}

func (f *Folder) Progress() string {
	return fmt.Sprintf("%d/%d", f.CompletedTasks, f.TotalTasks)
}
