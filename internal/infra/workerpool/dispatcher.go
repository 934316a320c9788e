package workerpool

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/DevCamp-TeamSparta/QAing-BE/internal/domain/entity"
	"github.com/Jeffail/tunny"
	"go.uber.org/zap"
)

type RunFunc func(ctx context.Context, req entity.ExtractionRequest) error

type work struct {
	ctx context.Context
	req entity.ExtractionRequest
}

// Dispatcher runs extractions in-process on a fixed number of workers.
// Accepted requests beyond the workers wait in a bounded backlog; once that
// is full Dispatch fails with entity.ErrDispatchBusy.
type Dispatcher struct {
	pool     *tunny.Pool
	baseCtx  context.Context
	capacity int64
	inflight atomic.Int64
	wg       sync.WaitGroup
	logger   *zap.Logger
}

func NewDispatcher(ctx context.Context, workers int, backlog int, run RunFunc, logger *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if backlog < 0 {
		backlog = 0
	}
	pool := tunny.NewFunc(workers, func(payload interface{}) interface{} {
		w := payload.(work)
		return run(w.ctx, w.req)
	})
	return &Dispatcher{
		pool:     pool,
		baseCtx:  ctx,
		capacity: int64(workers + backlog),
		logger:   logger,
	}
}

// Dispatch accepts the request and returns at once. The run does not inherit
// ctx, which usually belongs to an HTTP request that ends first.
func (d *Dispatcher) Dispatch(_ context.Context, req entity.ExtractionRequest, _ int64, _ string) error {
	if d.inflight.Add(1) > d.capacity {
		d.inflight.Add(-1)
		return entity.ErrDispatchBusy
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer d.inflight.Add(-1)

		result := d.pool.Process(work{ctx: d.baseCtx, req: req})
		if err, ok := result.(error); ok && err != nil {
			d.logger.Warn("extraction run ended with error",
				zap.String("folder_id", req.FolderID.String()),
				zap.Error(err),
			)
		}
	}()
	return nil
}

func (d *Dispatcher) InFlight() int {
	return int(d.inflight.Load())
}

// Close waits for accepted runs to finish and stops the workers.
func (d *Dispatcher) Close() {
	d.wg.Wait()
	d.pool.Close()
}
