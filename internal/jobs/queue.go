package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/darkden-lab/bazaar-realtime/internal/protocol"
)

var (
	ErrQueueClosed = errors.New("job queue is closed")
	ErrQueueFull   = errors.New("job queue is full")
)

// Request is one route-optimization unit of work for a courier.
type Request struct {
	JobID       string          `json:"job_id"`
	CourierID   string          `json:"courier_id"`
	Origin      *protocol.Stop  `json:"origin,omitempty"`
	Stops       []protocol.Stop `json:"stops"`
	RequestedAt time.Time       `json:"requested_at"`
}

// Result is what the optimizer reports back for a Request.
type Result struct {
	JobID       string          `json:"job_id"`
	CourierID   string          `json:"courier_id"`
	Stops       []protocol.Stop `json:"stops"`
	DistanceKm  float64         `json:"distance_km"`
	CompletedAt time.Time       `json:"completed_at"`
}

// Publisher fans an envelope out to a channel's subscribers.
type Publisher interface {
	Publish(channel string, env protocol.Envelope) int
}

// Queue hands route-optimization work to the external job collaborator.
// Results come back asynchronously as route-optimization-complete broadcasts.
type Queue interface {
	// Enqueue accepts req and returns a completion estimate.
	Enqueue(ctx context.Context, req Request) (time.Duration, error)
	Close() error
}

// Estimate is the completion hint returned to couriers.
func Estimate(stops int) time.Duration {
	return 2*time.Second + time.Duration(stops)*250*time.Millisecond
}

// RouteChannel is where results for a courier are published.
func RouteChannel(courierID string) string {
	return "routes." + courierID
}

func publishResult(pub Publisher, res Result) int {
	return pub.Publish(RouteChannel(res.CourierID), protocol.New(protocol.KindRouteOptimizationDone, res))
}
