// Package queue provides asynchronous dispatch over SQS: callers enqueue a
// request and collect the result from the result queue instead of holding an
// HTTP connection open through slow providers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/execroute/execroute/internal/domain"
)

// AsyncDispatch is one queued dispatch request.
type AsyncDispatch struct {
	ID        string                 `json:"id"`
	Request   domain.DispatchRequest `json:"request"`
	CreatedAt time.Time              `json:"created_at"`
}

// AsyncResult is the outcome of a queued dispatch.
type AsyncResult struct {
	RequestID string                   `json:"request_id"`
	Response  *domain.DispatchResponse `json:"response,omitempty"`
	Error     string                   `json:"error,omitempty"`
	CreatedAt time.Time                `json:"created_at"`
}

// Queue is the transport port for async dispatch.
type Queue interface {
	Enqueue(ctx context.Context, d AsyncDispatch) error
	Receive(ctx context.Context, maxMessages int) ([]AsyncDispatch, error)
	PublishResult(ctx context.Context, r AsyncResult) error
}

type SQSQueue struct {
	client          *sqs.Client
	dispatchQueueURL string
	resultQueueURL   string
}

func NewSQSQueue(ctx context.Context, region, dispatchQueueURL, resultQueueURL string) (*SQSQueue, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewSQSQueueWithConfig(cfg, dispatchQueueURL, resultQueueURL), nil
}

func NewSQSQueueWithConfig(cfg aws.Config, dispatchQueueURL, resultQueueURL string) *SQSQueue {
	return &SQSQueue{
		client:          sqs.NewFromConfig(cfg),
		dispatchQueueURL: dispatchQueueURL,
		resultQueueURL:   resultQueueURL,
	}
}

func (q *SQSQueue) Enqueue(ctx context.Context, d AsyncDispatch) error {
	body, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal dispatch: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.dispatchQueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"RequestID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(d.ID),
			},
		},
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, maxMessages int) ([]AsyncDispatch, error) {
	input := &sqs.ReceiveMessageInput{
		QueueUrl:              aws.String(q.dispatchQueueURL),
		MaxNumberOfMessages:   int32(maxMessages),
		WaitTimeSeconds:       20,
		MessageAttributeNames: []string{"All"},
	}

	result, err := q.client.ReceiveMessage(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("receive messages: %w", err)
	}

	dispatches := make([]AsyncDispatch, 0, len(result.Messages))
	for _, msg := range result.Messages {
		var d AsyncDispatch
		if err := json.Unmarshal([]byte(*msg.Body), &d); err != nil {
			slog.Warn("failed to unmarshal queued dispatch", "error", err)
			continue
		}
		dispatches = append(dispatches, d)

		// Delete on successful decode; poison messages are dropped above
		// rather than redelivered forever.
		del := &sqs.DeleteMessageInput{
			QueueUrl:      aws.String(q.dispatchQueueURL),
			ReceiptHandle: msg.ReceiptHandle,
		}
		if _, err := q.client.DeleteMessage(ctx, del); err != nil {
			slog.Warn("failed to delete queued dispatch", "error", err)
		}
	}

	return dispatches, nil
}

func (q *SQSQueue) PublishResult(ctx context.Context, r AsyncResult) error {
	body, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	input := &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.resultQueueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"RequestID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(r.RequestID),
			},
		},
	}

	if _, err := q.client.SendMessage(ctx, input); err != nil {
		return fmt.Errorf("send result: %w", err)
	}
	return nil
}

// MemoryQueue is an in-process queue for tests and local runs.
type MemoryQueue struct {
	mu         sync.Mutex
	dispatches []AsyncDispatch
	results    []AsyncResult
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, d AsyncDispatch) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.dispatches = append(q.dispatches, d)
	return nil
}

func (q *MemoryQueue) Receive(ctx context.Context, maxMessages int) ([]AsyncDispatch, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := maxMessages
	if count > len(q.dispatches) {
		count = len(q.dispatches)
	}

	out := make([]AsyncDispatch, count)
	copy(out, q.dispatches[:count])
	q.dispatches = q.dispatches[count:]
	return out, nil
}

func (q *MemoryQueue) PublishResult(ctx context.Context, r AsyncResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.results = append(q.results, r)
	return nil
}

// Results returns a copy of the published results. Used by tests.
func (q *MemoryQueue) Results() []AsyncResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]AsyncResult, len(q.results))
	copy(out, q.results)
	return out
}
