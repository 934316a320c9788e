package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"
)

const (
	recordingField  = "webmFile"
	timestampsField = "timestamps"
	multipartMemory = 32 << 20
	formOverhead    = 1 << 20
)

type messageResponse struct {
	Message string `json:"message"`
}

func (h *Handler) submitRecording(w http.ResponseWriter, r *http.Request) {
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
	log := h.logger.With(zap.String("folder_id", id.String()), zap.String("user_id", user))

	if h.maxRecording > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxRecording+formOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "recording too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	timestamps, err := parseTimestamps(r.FormValue(timestampsField))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	data, status, err := h.readRecording(r)
	if err != nil {
		writeError(w, status, err.Error())
		return
	}

	mtype := mimetype.Detect(data)
	if !isVideo(mtype) {
		writeError(w, http.StatusUnsupportedMediaType, "recording is not a video: "+mtype.String())
		return
	}

	folder, err := h.folders.Get(r.Context(), user, id)
	if errors.Is(err, entity.ErrFolderNotFound) {
		writeError(w, http.StatusNotFound, "folder not found")
		return
	}
	if err != nil {
		log.Error("failed to load folder", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load folder")
		return
	}
	if folder.Running && len(timestamps) > 0 {
		writeError(w, http.StatusConflict, entity.ErrRunInProgress.Error())
		return
	}

	restore := func(context.Context) {}
	if len(timestamps) > 0 {
		restore, err = h.folders.Reopen(r.Context(), folder)
		if errors.Is(err, entity.ErrRunInProgress) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		if err != nil {
			log.Error("failed to reopen folder", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "could not reopen folder")
			return
		}
	}

	req := entity.ExtractionRequest{
		FolderID:     folder.ID,
		UserID:       user,
		Timestamps:   timestamps,
		Recording:    bytes.NewReader(data),
		RecordingExt: mtype.Extension(),
	}
	if err := h.dispatcher.Dispatch(r.Context(), req, int64(len(data)), mtype.String()); err != nil {
		restore(context.WithoutCancel(r.Context()))
		if errors.Is(err, entity.ErrDispatchBusy) {
			writeError(w, http.StatusTooManyRequests, err.Error())
			return
		}
		log.Error("failed to dispatch extraction", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start extraction")
		return
	}

	log.Info("extraction accepted",
		zap.Int("timestamps", len(timestamps)),
		zap.Int("recording_bytes", len(data)),
		zap.String("content_type", mtype.String()),
	)
	writeJSON(w, http.StatusAccepted, messageResponse{Message: "success"})
}

func (h *Handler) readRecording(r *http.Request) ([]byte, int, error) {
	file, _, err := r.FormFile(recordingField)
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("missing %s file", recordingField)
	}
	defer file.Close()

	var src io.Reader = file
	if h.maxRecording > 0 {
		src = io.LimitReader(file, h.maxRecording+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("read recording: %w", err)
	}
	if h.maxRecording > 0 && int64(len(data)) > h.maxRecording {
		return nil, http.StatusRequestEntityTooLarge, errors.New("recording too large")
	}
	if len(data) == 0 {
		return nil, http.StatusBadRequest, errors.New("empty recording")
	}
	return data, http.StatusOK, nil
}

// parseTimestamps decodes a JSON array of non-negative seconds, keeping order
// and duplicates.
func parseTimestamps(raw string) ([]float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("missing %s", timestampsField)
	}

	var timestamps []float64
	if err := json.Unmarshal([]byte(raw), &timestamps); err != nil {
		return nil, fmt.Errorf("%s must be a JSON array of numbers", timestampsField)
	}
	for i, ts := range timestamps {
		if ts < 0 || math.IsInf(ts, 0) || math.IsNaN(ts) {
			return nil, fmt.Errorf("%s[%d] must be a non-negative number of seconds", timestampsField, i)
		}
	}
	if timestamps == nil {
		timestamps = []float64{}
	}
	return timestamps, nil
}

func isVideo(mtype *mimetype.MIME) bool {
	for m := mtype; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return true
		}
	}
	return false
}
