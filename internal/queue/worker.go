package queue

import (
	"context"
	"log/slog"
	"time"

	"github.com/execroute/execroute/internal/domain"
)

const (
	defaultBatchSize = 10
	receiveBackoff   = 2 * time.Second
)

// Dispatcher is the routing surface the worker drives. Satisfied by
// router.Router.
type Dispatcher interface {
	Route(ctx context.Context, req domain.DispatchRequest) (*domain.DispatchResponse, error)
}

// Worker drains the dispatch queue and publishes results. Routing errors are
// results too: the caller that enqueued the request needs the failure.
type Worker struct {
	queue      Queue
	dispatcher Dispatcher
	batchSize  int
	logger     *slog.Logger
}

func NewWorker(q Queue, d Dispatcher, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:      q,
		dispatcher: d,
		batchSize:  defaultBatchSize,
		logger:     logger,
	}
}

// Run processes batches until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("dispatch worker started")
	defer w.logger.Info("dispatch worker stopped")

	for {
		if ctx.Err() != nil {
			return
		}

		dispatches, err := w.queue.Receive(ctx, w.batchSize)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("receive failed, backing off", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveBackoff):
			}
			continue
		}

		for _, d := range dispatches {
			w.process(ctx, d)
		}

		if len(dispatches) == 0 {
			// MemoryQueue returns immediately when empty; avoid spinning.
			select {
			case <-ctx.Done():
				return
			case <-time.After(100 * time.Millisecond):
			}
		}
	}
}

func (w *Worker) process(ctx context.Context, d AsyncDispatch) {
	result := AsyncResult{
		RequestID: d.ID,
		CreatedAt: time.Now().UTC(),
	}

	resp, err := w.dispatcher.Route(ctx, d.Request)
	if err != nil {
		result.Error = err.Error()
		w.logger.Warn("queued dispatch failed", "request_id", d.ID, "error", err)
	} else {
		resp.RequestID = d.ID
		result.Response = resp
	}

	if err := w.queue.PublishResult(ctx, result); err != nil {
		w.logger.Error("publish result failed", "request_id", d.ID, "error", err)
	}
}
