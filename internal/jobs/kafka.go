package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

type KafkaConfig struct {
	Brokers       []string
	RequestTopic  string
	ResultTopic   string
	ConsumerGroup string
}

// KafkaQueue writes requests to the optimizer's request topic and consumes
// its result topic, publishing each result to the courier's route channel.
type KafkaQueue struct {
	config KafkaConfig
	writer *kafka.Writer
	reader *kafka.Reader
	pub    Publisher
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewKafkaQueue(config KafkaConfig, pub Publisher, logger zerolog.Logger) (*KafkaQueue, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker address is required")
	}
	if config.RequestTopic == "" {
		config.RequestTopic = "route-optimization.requests"
	}
	if config.ResultTopic == "" {
		config.ResultTopic = "route-optimization.results"
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "bazaar-realtime"
	}

	ctx, cancel := context.WithCancel(context.Background())

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.RequestTopic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: 2 * time.Second,
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  config.Brokers,
		Topic:    config.ResultTopic,
		GroupID:  config.ConsumerGroup,
		MinBytes: 1,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})

	q := &KafkaQueue{
		config: config,
		writer: writer,
		reader: reader,
		pub:    pub,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go q.consumeLoop()
	return q, nil
}

func (q *KafkaQueue) Enqueue(ctx context.Context, req Request) (time.Duration, error) {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return 0, ErrQueueClosed
	}

	value, err := json.Marshal(req)
	if err != nil {
		return 0, fmt.Errorf("marshal job: %w", err)
	}
	msg := kafka.Message{Key: []byte(req.CourierID), Value: value}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return 0, fmt.Errorf("write to kafka: %w", err)
	}
	return Estimate(len(req.Stops)), nil
}

func (q *KafkaQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()

	q.cancel()
	<-q.done

	var firstErr error
	if err := q.reader.Close(); err != nil {
		firstErr = err
	}
	if err := q.writer.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (q *KafkaQueue) consumeLoop() {
	defer close(q.done)

	for {
		msg, err := q.reader.ReadMessage(q.ctx)
		if err != nil {
			if q.ctx.Err() != nil {
				return
			}
			q.logger.Warn().Err(err).Msg("route result consumer error")
			time.Sleep(time.Second)
			continue
		}
		q.handleResult(msg.Value)
	}
}

func (q *KafkaQueue) handleResult(value []byte) {
	var res Result
	if err := json.Unmarshal(value, &res); err != nil {
		q.logger.Warn().Err(err).Msg("route result unmarshal error")
		return
	}
	if res.CourierID == "" || res.JobID == "" {
		q.logger.Warn().Str("job_id", res.JobID).Msg("route result missing courier or job id")
		return
	}
	if res.CompletedAt.IsZero() {
		res.CompletedAt = time.Now().UTC()
	}
	publishResult(q.pub, res)
}
