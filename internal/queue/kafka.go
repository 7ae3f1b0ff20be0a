package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type KafkaConfig struct {
	Brokers     []string
	Topic       string
	GroupID     string
	Concurrency int
}

// KafkaQueue publishes ExecuteIntent messages keyed by intent id and
// consumes them in a consumer group. Offsets are committed only after the
// handler acknowledges a message; a failing message is retried in place
// and holds back the rest of its partition.
type KafkaQueue struct {
	cfg    KafkaConfig
	writer *kafka.Writer
	logger *zap.Logger

	// Delay bounds between handler retries of one message.
	retryMin, retryMax time.Duration

	mu      sync.Mutex
	readers []*kafka.Reader
}

var _ Queue = (*KafkaQueue)(nil)

func NewKafkaQueue(cfg KafkaConfig, logger *zap.Logger) *KafkaQueue {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 10 * time.Second,
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), zap.String("component", "kafka-writer"))
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), zap.String("component", "kafka-writer"))
		}),
	}
	return &KafkaQueue{
		cfg:      cfg,
		writer:   writer,
		logger:   logger,
		retryMin: time.Second,
		retryMax: 30 * time.Second,
	}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, msg ExecuteIntent) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal execute intent: %w", err)
	}
	if err := q.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.IntentID),
		Value: value,
		Time:  msg.EnqueuedAt,
	}); err != nil {
		return fmt.Errorf("failed to publish execute intent %s: %w", msg.IntentID, err)
	}
	return nil
}

// Consume runs Concurrency readers in the same consumer group.
func (q *KafkaQueue) Consume(ctx context.Context, handler Handler) error {
	var wg sync.WaitGroup
	for i := 0; i < q.cfg.Concurrency; i++ {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:        q.cfg.Brokers,
			Topic:          q.cfg.Topic,
			GroupID:        q.cfg.GroupID,
			MinBytes:       1,
			MaxBytes:       1 << 20,
			CommitInterval: 0,
			StartOffset:    kafka.FirstOffset,
			ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
				q.logger.Error(fmt.Sprintf(msg, args...), zap.String("component", "kafka-reader"))
			}),
		})
		q.mu.Lock()
		q.readers = append(q.readers, reader)
		q.mu.Unlock()

		wg.Add(1)
		go func(worker int, r *kafka.Reader) {
			defer wg.Done()
			q.readLoop(ctx, worker, r, handler)
		}(i, reader)
	}
	wg.Wait()
	return ctx.Err()
}

func (q *KafkaQueue) readLoop(ctx context.Context, worker int, r *kafka.Reader, handler Handler) {
	log := q.logger.With(zap.Int("reader", worker), zap.String("topic", q.cfg.Topic))
	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, io.EOF) {
				return
			}
			log.Error("kafka fetch failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if !q.deliver(ctx, log, m, handler) {
			return
		}
		q.commit(ctx, log, r, m)
	}
}

// deliver decodes m and runs handler on it until the handler acknowledges
// it. Malformed messages are dropped. It returns false only when ctx ended
// first, in which case m must not be committed.
func (q *KafkaQueue) deliver(ctx context.Context, log *zap.Logger, m kafka.Message, handler Handler) bool {
	var msg ExecuteIntent
	if err := json.Unmarshal(m.Value, &msg); err != nil || msg.IntentID == "" {
		log.Error("dropping malformed execute intent message",
			zap.Int64("offset", m.Offset),
			zap.Int("partition", m.Partition),
			zap.Error(err))
		return true
	}

	delay := q.retryMin
	for attempt := 1; ; attempt++ {
		err := handler(ctx, msg)
		if err == nil {
			return true
		}
		// Later offsets of the partition wait: committing them would skip
		// this one.
		log.Warn("execute intent handler failed, retrying message",
			zap.String("intent_id", msg.IntentID),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}
		if delay *= 2; delay > q.retryMax {
			delay = q.retryMax
		}
	}
}

func (q *KafkaQueue) commit(ctx context.Context, log *zap.Logger, r *kafka.Reader, m kafka.Message) {
	if err := r.CommitMessages(ctx, m); err != nil {
		log.Error("kafka commit failed",
			zap.Int64("offset", m.Offset),
			zap.Int("partition", m.Partition),
			zap.Error(err))
	}
}

func (q *KafkaQueue) Close() error {
	var errs []error
	if err := q.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, r := range q.readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	q.readers = nil
	return errors.Join(errs...)
}
