package pubsub

import (
	"sync"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"github.com/DevCamp-TeamSparta/QAing-BE/internal/infra/metrics"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type subscriber struct {
	id uint64
	ch chan entity.FolderEvent
}

// Registry is a process-local folder id -> subscribers table. Publishing does
// not drop registrations; a subscriber leaves by calling its cancel func.
type Registry struct {
	mu     sync.Mutex
	nextID uint64
	subs   map[uuid.UUID][]subscriber
	logger *zap.Logger
}

func NewRegistry(logger *zap.Logger) *Registry {
	return &Registry{
		subs:   make(map[uuid.UUID][]subscriber),
		logger: logger,
	}
}

func (r *Registry) Subscribe(folderID uuid.UUID) (<-chan entity.FolderEvent, func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	sub := subscriber{id: r.nextID, ch: make(chan entity.FolderEvent, 1)}
	r.subs[folderID] = append(r.subs[folderID], sub)
	metrics.Subscribers.Inc()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() { r.unsubscribe(folderID, sub.id) })
	}
}

func (r *Registry) unsubscribe(folderID uuid.UUID, id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	subs := r.subs[folderID]
	for i, s := range subs {
		if s.id == id {
			subs = append(subs[:i:i], subs[i+1:]...)
			metrics.Subscribers.Dec()
			break
		}
	}
	if len(subs) == 0 {
		delete(r.subs, folderID)
		return
	}
	r.subs[folderID] = subs
}

// Publish delivers event to every current subscriber of folderID in
// registration order and returns how many received it. A subscriber whose
// buffered event has not been consumed yet is skipped.
func (r *Registry) Publish(folderID uuid.UUID, event entity.FolderEvent) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	delivered := 0
	for _, s := range r.subs[folderID] {
		select {
		case s.ch <- event:
			delivered++
		default:
			r.logger.Warn("subscriber not keeping up, event dropped",
				zap.String("folder_id", folderID.String()),
				zap.Uint64("subscriber", s.id),
			)
		}
	}
	return delivered
}

func (r *Registry) Count(folderID uuid.UUID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.subs[folderID])
}
