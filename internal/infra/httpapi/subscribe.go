package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"go.uber.org/zap"
)

type pushMessage struct {
	Message  string `json:"message"`
	FolderID string `json:"folderId"`
	Error    string `json:"error,omitempty"`
}

// subscribe holds a server-sent event stream open until the folder finalizes,
// writes one message and returns. A complete folder with no run in progress
// is reported at once.
func (h *Handler) subscribe(w http.ResponseWriter, r *http.Request) {
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
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before reading the folder so a completion in between is not lost.
	events, cancel := h.subs.Subscribe(id)
	defer cancel()

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

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if folder.Completed && !folder.Running {
		h.push(w, flusher, entity.NewFolderEvent(folder, entity.FolderStatusCompleted))
		return
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			h.logger.Debug("subscriber disconnected", zap.String("folder_id", id.String()))
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case event := <-events:
			h.push(w, flusher, event)
			return
		}
	}
}

func (h *Handler) push(w http.ResponseWriter, flusher http.Flusher, event entity.FolderEvent) {
	msg := pushMessage{Message: "success", FolderID: event.FolderID.String()}
	if event.Status == entity.FolderStatusFailed {
		msg.Message = "failed"
		msg.Error = event.ErrorMessage
	}
	data, _ := json.Marshal(msg)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()
}
