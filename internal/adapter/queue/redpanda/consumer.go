package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/hiregate/screening/internal/domain"
)

// ProcessFunc handles one screening task. A nil error marks the record
// consumed; a permanent error marks it consumed too, after logging, so a
// poisoned record cannot wedge the partition.
type ProcessFunc func(ctx context.Context, payload domain.ScreeningTaskPayload) error

// ConsumerConfig tunes the worker consume loop.
type ConsumerConfig struct {
	Brokers        []string
	GroupID        string
	MaxConcurrency int
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

// Consumer reads screening tasks from Kafka and dispatches them to a
// bounded set of workers. Offsets are marked only after processing.
type Consumer struct {
	client  *kgo.Client
	process ProcessFunc
	cfg     ConsumerConfig
	sem     chan struct{}
}

// NewConsumer constructs a group consumer for the screenings topic.
func NewConsumer(cfg ConsumerConfig, process ProcessFunc) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("op=queue.consumer: no seed brokers provided")
	}
	if cfg.GroupID == "" {
		cfg.GroupID = "screening-workers"
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(TopicScreenings),
		kgo.FetchIsolationLevel(kgo.ReadCommitted()),
		kgo.AutoCommitMarks(),
		kgo.AutoCommitInterval(time.Second),
		kgo.SessionTimeout(30*time.Second),
		kgo.HeartbeatInterval(3*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("op=queue.consumer: %w", err)
	}
	return &Consumer{
		client:  client,
		process: process,
		cfg:     cfg,
		sem:     make(chan struct{}, cfg.MaxConcurrency),
	}, nil
}

// Start runs the consume loop until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	slog.Info("consumer started",
		slog.String("topic", TopicScreenings),
		slog.String("group", c.cfg.GroupID),
		slog.Int("max_concurrency", c.cfg.MaxConcurrency))
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			slog.Error("fetch error",
				slog.String("topic", topic),
				slog.Int("partition", int(partition)),
				slog.Any("error", err))
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			select {
			case c.sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			go func(rec *kgo.Record) {
				defer func() { <-c.sem }()
				c.handle(ctx, rec)
				c.client.MarkCommitRecords(rec)
			}(rec)
		})
	}
}

// handle processes one record with retries. Unmarshal failures are not
// retried, everything else backs off until ctx is done.
func (c *Consumer) handle(ctx context.Context, rec *kgo.Record) {
	var payload domain.ScreeningTaskPayload
	if err := json.Unmarshal(rec.Value, &payload); err != nil {
		slog.Error("drop malformed record",
			slog.String("topic", rec.Topic),
			slog.Int64("offset", rec.Offset),
			slog.Any("error", err))
		return
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.BackoffInitial
	bo.MaxInterval = c.cfg.BackoffMax
	bo.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		err := c.process(ctx, payload)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrInvalidArgument) || errors.Is(err, domain.ErrNotFound) {
			return backoff.Permanent(err)
		}
		slog.Warn("screening task failed, retrying",
			slog.String("screening_id", payload.ScreeningID),
			slog.Any("error", err))
		return err
	}, backoff.WithContext(bo, ctx))
	if err != nil {
		slog.Error("screening task dropped",
			slog.String("screening_id", payload.ScreeningID),
			slog.Any("error", err))
	}
}

// Close closes the underlying client, committing marked offsets.
func (c *Consumer) Close() {
	if c.client != nil {
		c.client.Close()
	}
}
