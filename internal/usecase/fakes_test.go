package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"github.com/google/uuid"
)

type memoryRepo struct {
	mu      sync.Mutex
	folders map[uuid.UUID]*entity.Folder
	failOn  string
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{folders: make(map[uuid.UUID]*entity.Folder)}
}

func cloneFolder(f *entity.Folder) *entity.Folder {
	c := *f
	c.Items = append([]entity.IssueFile{}, f.Items...)
	return &c
}

func (r *memoryRepo) err(op string) error {
	if r.failOn == op {
		return fmt.Errorf("%s: connection reset", op)
	}
	return nil
}

func (r *memoryRepo) Create(_ context.Context, folder *entity.Folder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.err("create"); err != nil {
		return err
	}
	r.folders[folder.ID] = cloneFolder(folder)
	return nil
}

func (r *memoryRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.Folder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.folders[id]
	if !ok {
		return nil, entity.ErrFolderNotFound
	}
	return cloneFolder(f), nil
}

func (r *memoryRepo) FindOpenByUser(_ context.Context, userID string) (*entity.Folder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var open *entity.Folder
	for _, f := range r.folders {
		if f.UserID != userID || f.Completed || f.Running || f.TotalTasks > 0 {
			continue
		}
		if open == nil || f.CreatedAt.After(open.CreatedAt) {
			open = f
		}
	}
	if open == nil {
		return nil, entity.ErrFolderNotFound
	}
	return cloneFolder(open), nil
}

func (r *memoryRepo) BeginRun(_ context.Context, folder *entity.Folder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.folders[folder.ID]
	if !ok {
		return entity.ErrFolderNotFound
	}
	if stored.Running {
		return entity.ErrRunInProgress
	}
	r.folders[folder.ID] = cloneFolder(folder)
	return nil
}

func (r *memoryRepo) AddItem(_ context.Context, folder *entity.Folder, item entity.IssueFile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.err("add_item"); err != nil {
		return err
	}
	stored, err := r.claimed(folder)
	if err != nil {
		return err
	}
	stored.Items = append(stored.Items, item)
	stored.CompletedTasks = len(stored.Items)
	return nil
}

func (r *memoryRepo) MarkCompleted(_ context.Context, folder *entity.Folder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.err("mark_completed"); err != nil {
		return err
	}
	stored, err := r.claimed(folder)
	if err != nil {
		return err
	}
	stored.Completed = true
	stored.Running = false
	return nil
}

func (r *memoryRepo) MarkFailed(_ context.Context, folder *entity.Folder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := r.claimed(folder)
	if err != nil {
		return err
	}
	stored.Completed = false
	stored.Running = false
	stored.LastError = folder.LastError
	return nil
}

func (r *memoryRepo) SetCompleted(_ context.Context, folder *entity.Folder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.err("set_completed"); err != nil {
		return err
	}
	stored, ok := r.folders[folder.ID]
	if !ok {
		return entity.ErrFolderNotFound
	}
	if stored.Running {
		return entity.ErrRunInProgress
	}
	stored.Completed = folder.Completed
	return nil
}

func (r *memoryRepo) claimed(folder *entity.Folder) (*entity.Folder, error) {
	stored, ok := r.folders[folder.ID]
	if !ok || !stored.Running || stored.RunID != folder.RunID {
		return nil, entity.ErrRunSuperseded
	}
	return stored, nil
}

// reclaim hands the folder to a new run, as a stale claim takeover would.
func (r *memoryRepo) reclaim(id uuid.UUID) uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := r.folders[id]
	stored.RunID = uuid.New()
	stored.Running = true
	stored.Items = nil
	stored.CompletedTasks = 0
	return stored.RunID
}

func (r *memoryRepo) stored(id uuid.UUID) *entity.Folder {
	r.mu.Lock()
	defer r.mu.Unlock()
	return cloneFolder(r.folders[id])
}

type transcoderCall struct {
	kind   entity.ArtifactKind
	offset float64
	source string
}

type fakeTranscoder struct {
	mu      sync.Mutex
	calls   []transcoderCall
	failAt  map[entity.ArtifactKind]float64
	clipMax time.Duration
	// before runs ahead of every call, outside the lock.
	before func(kind entity.ArtifactKind, offset float64)
}

func (t *fakeTranscoder) ExtractImage(ctx context.Context, src string, offset float64, out string) error {
	return t.extract(ctx, entity.ArtifactImage, src, offset, out)
}

func (t *fakeTranscoder) ExtractClip(ctx context.Context, src string, offset float64, maxDuration time.Duration, out string) error {
	t.mu.Lock()
	t.clipMax = maxDuration
	t.mu.Unlock()
	return t.extract(ctx, entity.ArtifactClip, src, offset, out)
}

func (t *fakeTranscoder) extract(ctx context.Context, kind entity.ArtifactKind, src string, offset float64, out string) error {
	t.mu.Lock()
	t.calls = append(t.calls, transcoderCall{kind: kind, offset: offset, source: src})
	at, fail := t.failAt[kind]
	before := t.before
	t.mu.Unlock()

	if before != nil {
		before(kind, offset)
	}
	if err := ctx.Err(); err != nil {
		return &entity.ExtractionError{Offset: offset, Kind: kind, Err: err}
	}
	if _, err := os.Stat(src); err != nil {
		return err
	}
	if fail && at == offset {
		return &entity.ExtractionError{Offset: offset, Kind: kind, Err: errors.New("offset beyond recording")}
	}
	return os.WriteFile(out, []byte(string(kind)), 0644)
}

func (t *fakeTranscoder) callCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.calls)
}

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
	failKey func(key string) bool
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: make(map[string][]byte)}
}

func (s *fakeStorage) Upload(_ context.Context, localPath string, key string) (string, error) {
	if s.failKey != nil && s.failKey(key) {
		return "", errors.New("bucket unavailable")
	}
	data, err := os.ReadFile(localPath)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.objects[key] = data
	s.mu.Unlock()
	return "https://static.test/" + key, nil
}

func (s *fakeStorage) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type fakeEventPublisher struct {
	mu     sync.Mutex
	events []entity.FolderEvent
}

func (p *fakeEventPublisher) PublishFolderEvent(_ context.Context, event entity.FolderEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakeEventPublisher) statuses() []entity.FolderStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]entity.FolderStatus, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Status)
	}
	return out
}

type fakeFailureNotifier struct {
	mu    sync.Mutex
	calls []string
}

func (n *fakeFailureNotifier) NotifyFailure(_ context.Context, folderID, _ string, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, folderID)
	return nil
}

type fakeRecordings struct {
	mu      sync.Mutex
	objects map[string][]byte
	removed []string
}

func (r *fakeRecordings) StageRecording(_ context.Context, key string, reader io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.objects[key] = data
	return nil
}

func (r *fakeRecordings) OpenRecording(_ context.Context, key string) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	data, ok := r.objects[key]
	if !ok {
		return nil, fmt.Errorf("recording %s: not found", key)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (r *fakeRecordings) RemoveRecording(_ context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.objects, key)
	r.removed = append(r.removed, key)
	return nil
}

type fakeDLQ struct {
	mu      sync.Mutex
	reasons []string
}

func (d *fakeDLQ) PublishToDLQ(_ context.Context, _ []byte, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons = append(d.reasons, reason)
	return nil
}
