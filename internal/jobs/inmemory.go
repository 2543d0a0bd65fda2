package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// InMemoryQueue runs the optimizer in-process. It is used when no Kafka
// brokers are configured.
type InMemoryQueue struct {
	mu     sync.RWMutex
	closed bool
	jobs   chan Request
	done   chan struct{}
	pub    Publisher
	logger zerolog.Logger
	delay  time.Duration
}

// NewInMemoryQueue starts one worker goroutine. delay simulates optimizer
// latency before the result is published.
func NewInMemoryQueue(pub Publisher, logger zerolog.Logger, capacity int, delay time.Duration) *InMemoryQueue {
	if capacity < 1 {
		capacity = 64
	}
	q := &InMemoryQueue{
		jobs:   make(chan Request, capacity),
		done:   make(chan struct{}),
		pub:    pub,
		logger: logger,
		delay:  delay,
	}
	go q.work()
	return q
}

func (q *InMemoryQueue) Enqueue(_ context.Context, req Request) (time.Duration, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return 0, ErrQueueClosed
	}
	select {
	case q.jobs <- req:
		return Estimate(len(req.Stops)), nil
	default:
		return 0, ErrQueueFull
	}
}

// Close stops accepting work and waits for queued jobs to finish.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	<-q.done
	return nil
}

func (q *InMemoryQueue) work() {
	defer close(q.done)

	for req := range q.jobs {
		if q.delay > 0 {
			time.Sleep(q.delay)
		}
		ordered, dist := Optimize(req.Origin, req.Stops)
		n := publishResult(q.pub, Result{
			JobID:       req.JobID,
			CourierID:   req.CourierID,
			Stops:       ordered,
			DistanceKm:  dist,
			CompletedAt: time.Now().UTC(),
		})
		q.logger.Debug().
			Str("job_id", req.JobID).
			Str("courier_id", req.CourierID).
			Int("delivered", n).
			Msg("route optimization complete")
	}
}
