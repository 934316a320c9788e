package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/port"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

// UserHeader carries the caller identity resolved by the auth gateway.
const UserHeader = "X-User-ID"

type FolderService interface {
	Open(ctx context.Context, userID string) (*entity.Folder, error)
	Get(ctx context.Context, userID string, id uuid.UUID) (*entity.Folder, error)
	Reopen(ctx context.Context, folder *entity.Folder) (func(context.Context), error)
}

type Subscriber interface {
	Subscribe(folderID uuid.UUID) (<-chan entity.FolderEvent, func())
}

type Handler struct {
	folders      FolderService
	dispatcher   port.RunDispatcher
	subs         Subscriber
	maxRecording int64
	keepAlive    time.Duration
	logger       *zap.Logger
}

type HandlerConfig struct {
	MaxRecordingBytes int64
	KeepAlive         time.Duration
}

func NewHandler(
	folders FolderService,
	dispatcher port.RunDispatcher,
	subs Subscriber,
	logger *zap.Logger,
	cfg HandlerConfig,
) *Handler {
	keepAlive := cfg.KeepAlive
	if keepAlive <= 0 {
		keepAlive = 15 * time.Second
	}
	return &Handler{
		folders:      folders,
		dispatcher:   dispatcher,
		subs:         subs,
		maxRecording: cfg.MaxRecordingBytes,
		keepAlive:    keepAlive,
		logger:       logger,
	}
}

func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.accessLog)

	r.HandleFunc("/health-check", h.healthCheck).Methods(http.MethodGet)

	v := r.PathPrefix("/videos").Subrouter()
	v.HandleFunc("/process", h.openFolder).Methods(http.MethodGet)
	v.HandleFunc("/process/{folderId}", h.submitRecording).Methods(http.MethodPut)
	v.HandleFunc("/subscribe/{folderId}", h.subscribe).Methods(http.MethodGet)
	v.HandleFunc("/folders/{folderId}", h.getFolder).Methods(http.MethodGet)

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		h.logger.Debug("request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (h *Handler) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func userID(r *http.Request) (string, bool) {
	id := r.Header.Get(UserHeader)
	return id, id != ""
}

func folderID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["folderId"])
	return id, err == nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
