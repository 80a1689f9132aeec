package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/execroute/execroute/internal/domain"
)

type stubDispatcher struct {
	resp *domain.DispatchResponse
	err  error
}

func (s *stubDispatcher) Route(ctx context.Context, req domain.DispatchRequest) (*domain.DispatchResponse, error) {
	return s.resp, s.err
}

func TestWorkerPublishesResponse(t *testing.T) {
	q := NewMemoryQueue()
	w := NewWorker(q, &stubDispatcher{resp: &domain.DispatchResponse{Text: "hi", Provider: "a"}}, nil)

	ctx := context.Background()
	q.Enqueue(ctx, AsyncDispatch{ID: "req-1", Request: domain.DispatchRequest{Prompt: "hello"}, CreatedAt: time.Now()})

	dispatches, _ := q.Receive(ctx, 10)
	for _, d := range dispatches {
		w.process(ctx, d)
	}

	results := q.Results()
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	r := results[0]
	if r.RequestID != "req-1" || r.Error != "" {
		t.Errorf("unexpected result %+v", r)
	}
	if r.Response == nil || r.Response.Text != "hi" || r.Response.RequestID != "req-1" {
		t.Errorf("unexpected response %+v", r.Response)
	}
}

func TestWorkerPublishesRoutingError(t *testing.T) {
	q := NewMemoryQueue()
	w := NewWorker(q, &stubDispatcher{err: errors.New("all providers failed")}, nil)

	ctx := context.Background()
	w.process(ctx, AsyncDispatch{ID: "req-2", Request: domain.DispatchRequest{Prompt: "hello"}})

	results := q.Results()
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].Error == "" || results[0].Response != nil {
		t.Errorf("expected error result, got %+v", results[0])
	}
}

func TestMemoryQueueFIFO(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	q.Enqueue(ctx, AsyncDispatch{ID: "1"})
	q.Enqueue(ctx, AsyncDispatch{ID: "2"})
	q.Enqueue(ctx, AsyncDispatch{ID: "3"})

	batch, _ := q.Receive(ctx, 2)
	if len(batch) != 2 || batch[0].ID != "1" || batch[1].ID != "2" {
		t.Errorf("unexpected batch %+v", batch)
	}

	rest, _ := q.Receive(ctx, 10)
	if len(rest) != 1 || rest[0].ID != "3" {
		t.Errorf("unexpected remainder %+v", rest)
	}
}
