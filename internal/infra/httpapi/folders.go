package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"go.uber.org/zap"
)

type openFolderResponse struct {
	FolderID string `json:"folderId"`
	Status   bool   `json:"status"`
}

type issueResponse struct {
	ID        string    `json:"id"`
	Sequence  int       `json:"sequence"`
	Name      string    `json:"issueName"`
	ImageURL  string    `json:"imageUrl"`
	VideoURL  string    `json:"videoUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

type folderResponse struct {
	ID             string          `json:"id"`
	Name           string          `json:"folderName"`
	Status         bool            `json:"status"`
	Running        bool            `json:"running"`
	TotalTasks     int             `json:"totalTasks"`
	CompletedTasks int             `json:"completedTasks"`
	Progress       string          `json:"progress"`
	LastError      string          `json:"lastError,omitempty"`
	Issues         []issueResponse `json:"issues"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func newFolderResponse(f *entity.Folder) folderResponse {
	issues := make([]issueResponse, 0, len(f.Items))
	for _, item := range f.Items {
		issues = append(issues, issueResponse{
			ID:        item.ID.String(),
			Sequence:  item.Sequence,
			Name:      item.Name,
			ImageURL:  item.ImageURL,
			VideoURL:  item.ClipURL,
			CreatedAt: item.CreatedAt,
		})
	}
	return folderResponse{
		ID:             f.ID.String(),
		Name:           f.Name,
		Status:         f.Completed,
		Running:        f.Running,
		TotalTasks:     f.TotalTasks,
		CompletedTasks: f.CompletedTasks,
		Progress:       f.Progress(),
		LastError:      f.LastError,
		Issues:         issues,
		CreatedAt:      f.CreatedAt,
		UpdatedAt:      f.UpdatedAt,
	}
}

func (h *Handler) openFolder(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}

	folder, err := h.folders.Open(r.Context(), user)
	if err != nil {
		h.logger.Error("failed to open folder", zap.String("user_id", user), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not open folder")
		return
	}
	writeJSON(w, http.StatusOK, openFolderResponse{FolderID: folder.ID.String(), Status: folder.Completed})
}

func (h *Handler) getFolder(w http.ResponseWriter, r *http.Request) {
	user, ok := userID(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing user")
		return
	}
	id, ok := folderID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid folder id")
		return
	}

	folder, err := h.folders.Get(r.Context(), user, id)
	if errors.Is(err, entity.ErrFolderNotFound) {
		writeError(w, http.StatusNotFound, "folder not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load folder", zap.String("folder_id", id.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load folder")
		return
	}
	writeJSON(w, http.StatusOK, newFolderResponse(folder))
}
