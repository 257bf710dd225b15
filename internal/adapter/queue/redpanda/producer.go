// Package redpanda provides the Kafka/Redpanda queue adapter. The server
// enqueues analysis tasks; workers consume them with read-committed
// isolation so a task is processed at most once per group.
package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/hiregate/screening/internal/domain"
)

// TopicScreenings is the Kafka topic for screening analysis tasks.
const TopicScreenings = "screen-applications"

// Producer wraps a transactional Kafka producer and implements domain.Queue.
type Producer struct {
	client *kgo.Client
	// Transactions must not interleave, publishes serialize through here.
	txLock chan struct{}
}

// NewProducer constructs a Producer with a transactional client and
// ensures the screenings topic exists.
func NewProducer(brokers []string) (*Producer, error) {
	return NewProducerWithTransactionalID(brokers, "screening-producer")
}

// NewProducerWithTransactionalID constructs a Producer with a custom
// transactional id. Tests use distinct ids to avoid fencing each other.
func NewProducerWithTransactionalID(brokers []string, transactionalID string) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("op=queue.producer: no seed brokers provided")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.TransactionalID(transactionalID),
		kgo.RequestRetries(10),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.producer: %w", err)
	}
	if err := createTopicIfNotExists(context.Background(), client, TopicScreenings, 1, 1); err != nil {
		// The broker may have the topic already or auto-create it.
		slog.Warn("topic create failed", slog.String("topic", TopicScreenings), slog.Any("error", err))
	}
	return &Producer{client: client, txLock: make(chan struct{}, 1)}, nil
}

// EnqueueScreening publishes an analysis task keyed by screening id and
// returns the screening id as the task id.
func (p *Producer) EnqueueScreening(ctx domain.Context, payload domain.ScreeningTaskPayload) (string, error) {
	select {
	case p.txLock <- struct{}{}:
		defer func() { <-p.txLock }()
	case <-ctx.Done():
		return "", ctx.Err()
	}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=queue.enqueue: marshal payload: %w", err)
	}
	if err := p.client.BeginTransaction(); err != nil {
		return "", fmt.Errorf("op=queue.enqueue: begin transaction: %w", err)
	}
	record := &kgo.Record{
		Topic: TopicScreenings,
		Key:   []byte(payload.ScreeningID),
		Value: b,
	}
	e := kgo.AbortingFirstErrPromise(p.client)
	p.client.Produce(ctx, record, e.Promise())
	if err := e.Err(); err != nil {
		if abortErr := p.client.EndTransaction(ctx, kgo.TryAbort); abortErr != nil {
			slog.Error("abort transaction", slog.Any("error", abortErr))
		}
		return "", fmt.Errorf("op=queue.enqueue: produce: %w", err)
	}
	if err := p.client.EndTransaction(ctx, kgo.TryCommit); err != nil {
		return "", fmt.Errorf("op=queue.enqueue: commit transaction: %w", err)
	}

	slog.Info("screening task enqueued",
		slog.String("screening_id", payload.ScreeningID),
		slog.String("topic", TopicScreenings))
	return payload.ScreeningID, nil
}

// Ping probes broker connectivity, used by readiness checks.
func (p *Producer) Ping(ctx context.Context) error {
	return p.client.Ping(ctx)
}

// Close closes the underlying client.
func (p *Producer) Close() {
	if p.client != nil {
		p.client.Close()
	}
}
