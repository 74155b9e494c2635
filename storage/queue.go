package storage

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"kanban-api/domain"
)

const (
	defaultQueueConcurrency = 16
	queuePerCPU             = 10
	maxQueueConcurrency     = 128
)

// queueConcurrencyForCPU scales the number of parallel sends with the CPU
// count, within [queuePerCPU, maxQueueConcurrency].
func queueConcurrencyForCPU(cpu int) int {
	if cpu < 1 {
		return defaultQueueConcurrency
	}
	n := cpu * queuePerCPU
	if n > maxQueueConcurrency {
		return maxQueueConcurrency
	}
	return n
}

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	Create(ctx context.Context, o *azqueue.CreateOptions) (azqueue.CreateResponse, error)
}

// OverdueQueue publishes overdue notices to an Azure Storage queue.
type OverdueQueue struct {
	queue       queueClient
	concurrency int
	messageTTL  time.Duration
}

// NewOverdueQueue connects to queueName using an Azure Storage connection
// string.
func NewOverdueQueue(connStr, queueName string) (*OverdueQueue, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 30 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &OverdueQueue{
		queue:       q,
		concurrency: queueConcurrencyForCPU(runtime.NumCPU()),
		messageTTL:  7 * 24 * time.Hour,
	}, nil
}

// Ensure creates the queue when it does not exist yet.
func (q *OverdueQueue) Ensure(ctx context.Context) error {
	_, err := q.queue.Create(ctx, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.ErrorCode == "QueueAlreadyExists" {
			return nil
		}
		return err
	}
	return nil
}

// Publish sends one message per notice. Sends run in parallel up to the
// configured concurrency. When some sends fail, Publish waits for the rest and
// returns a *domain.PublishError listing the undelivered notices.
func (q *OverdueQueue) Publish(ctx context.Context, notices []domain.OverdueNotice) error {
	if len(notices) == 0 {
		return nil
	}
	bodies := make([]string, len(notices))
	for i, n := range notices {
		data, err := sonic.MarshalString(n)
		if err != nil {
			return &domain.PublishError{Failed: notices, Err: fmt.Errorf("encoding notice %s: %w", n.CardID, err)}
		}
		bodies[i] = data
	}

	limit := q.concurrency
	if limit < 1 {
		limit = 1
	}
	var opts *azqueue.EnqueueMessageOptions
	if q.messageTTL > 0 {
		ttl := int32(q.messageTTL / time.Second)
		opts = &azqueue.EnqueueMessageOptions{TimeToLive: &ttl}
	}

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		failed   []domain.OverdueNotice
		firstErr error
	)
	fail := func(n domain.OverdueNotice, err error) {
		mu.Lock()
		failed = append(failed, n)
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	}
	sem := make(chan struct{}, limit)
	for i, n := range notices {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			for _, rest := range notices[i:] {
				fail(rest, ctx.Err())
			}
			wg.Wait()
			return &domain.PublishError{Failed: failed, Err: firstErr}
		}
		wg.Add(1)
		go func(n domain.OverdueNotice, body string) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := q.queue.EnqueueMessage(ctx, body, opts); err != nil {
				fail(n, err)
			}
		}(n, bodies[i])
	}
	wg.Wait()
	if len(failed) > 0 {
		return &domain.PublishError{Failed: failed, Err: firstErr}
	}
	return nil
}
