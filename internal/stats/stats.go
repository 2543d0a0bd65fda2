package stats

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	ConnectionsTotal  int64     `json:"connections_total"`
	ConnectionsActive int64     `json:"connections_active"`
	MessagesSent      int64     `json:"messages_sent"`
	MessagesReceived  int64     `json:"messages_received"`
	Errors            int64     `json:"errors"`
	DeliveryFailures  int64     `json:"delivery_failures"`
	RateLimited       int64     `json:"rate_limited"`
	AuthFailures      int64     `json:"auth_failures"`
	HeartbeatTimeouts int64     `json:"heartbeat_timeouts"`
	ActiveChannels    int       `json:"active_channels"`
	StartedAt         time.Time `json:"started_at"`
	TakenAt           time.Time `json:"taken_at"`
}

// Collector counts broker activity. Every counter is mirrored into a private
// Prometheus registry served by Handler.
type Collector struct {
	connectionsTotal  atomic.Int64
	connectionsActive atomic.Int64
	messagesSent      atomic.Int64
	messagesReceived  atomic.Int64
	errors            atomic.Int64
	deliveryFailures  atomic.Int64
	rateLimited       atomic.Int64
	authFailures      atomic.Int64
	heartbeatTimeouts atomic.Int64

	startedAt time.Time

	channelsMu sync.RWMutex
	channelsFn func() int

	registry *prometheus.Registry
	prom     struct {
		connections       prometheus.Counter
		messagesSent      prometheus.Counter
		messagesReceived  prometheus.Counter
		errors            prometheus.Counter
		deliveryFailures  prometheus.Counter
		rateLimited       prometheus.Counter
		authFailures      prometheus.Counter
		heartbeatTimeouts prometheus.Counter
	}
}

func New() *Collector {
	c := &Collector{
		startedAt: time.Now().UTC(),
		registry:  prometheus.NewRegistry(),
	}
	f := promauto.With(c.registry)

	c.prom.connections = f.NewCounter(prometheus.CounterOpts{
		Name: "realtime_connections_total",
		Help: "Total accepted connections",
	})
	c.prom.messagesSent = f.NewCounter(prometheus.CounterOpts{
		Name: "realtime_messages_sent_total",
		Help: "Envelopes queued for delivery to connections",
	})
	c.prom.messagesReceived = f.NewCounter(prometheus.CounterOpts{
		Name: "realtime_messages_received_total",
		Help: "Inbound frames received from connections",
	})
	c.prom.errors = f.NewCounter(prometheus.CounterOpts{
		Name: "realtime_errors_total",
		Help: "Protocol and authorization errors returned to senders",
	})
	c.prom.deliveryFailures = f.NewCounter(prometheus.CounterOpts{
		Name: "realtime_delivery_failures_total",
		Help: "Per-subscriber delivery failures during publish",
	})
	c.prom.rateLimited = f.NewCounter(prometheus.CounterOpts{
		Name: "realtime_rate_limited_total",
		Help: "Frames or connections rejected by rate limits",
	})
	c.prom.authFailures = f.NewCounter(prometheus.CounterOpts{
		Name: "realtime_auth_failures_total",
		Help: "Rejected connection credentials",
	})
	c.prom.heartbeatTimeouts = f.NewCounter(prometheus.CounterOpts{
		Name: "realtime_heartbeat_timeouts_total",
		Help: "Connections removed for missed heartbeats",
	})
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "realtime_connections_active",
		Help: "Currently connected clients",
	}, func() float64 { return float64(c.connectionsActive.Load()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "realtime_channels_active",
		Help: "Channels with at least one subscriber",
	}, func() float64 { return float64(c.activeChannels()) })

	return c
}

// TrackChannels registers the source of the active channel gauge.
func (c *Collector) TrackChannels(fn func() int) {
	c.channelsMu.Lock()
	c.channelsFn = fn
	c.channelsMu.Unlock()
}

func (c *Collector) activeChannels() int {
	c.channelsMu.RLock()
	fn := c.channelsFn
	c.channelsMu.RUnlock()
	if fn == nil {
		return 0
	}
	return fn()
}

func (c *Collector) ConnectionOpened() {
	c.connectionsTotal.Add(1)
	c.connectionsActive.Add(1)
	c.prom.connections.Inc()
}

func (c *Collector) ConnectionClosed() {
	c.connectionsActive.Add(-1)
}

func (c *Collector) MessageReceived() {
	c.messagesReceived.Add(1)
	c.prom.messagesReceived.Inc()
}

func (c *Collector) MessagesSent(n int) {
	if n <= 0 {
		return
	}
	c.messagesSent.Add(int64(n))
	c.prom.messagesSent.Add(float64(n))
}

func (c *Collector) Error() {
	c.errors.Add(1)
	c.prom.errors.Inc()
}

func (c *Collector) DeliveryFailure() {
	c.deliveryFailures.Add(1)
	c.prom.deliveryFailures.Inc()
}

func (c *Collector) RateLimited() {
	c.rateLimited.Add(1)
	c.prom.rateLimited.Inc()
}

func (c *Collector) AuthFailure() {
	c.authFailures.Add(1)
	c.prom.authFailures.Inc()
}

func (c *Collector) HeartbeatTimeout() {
	c.heartbeatTimeouts.Add(1)
	c.prom.heartbeatTimeouts.Inc()
}

func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		ConnectionsTotal:  c.connectionsTotal.Load(),
		ConnectionsActive: c.connectionsActive.Load(),
		MessagesSent:      c.messagesSent.Load(),
		MessagesReceived:  c.messagesReceived.Load(),
		Errors:            c.errors.Load(),
		DeliveryFailures:  c.deliveryFailures.Load(),
		RateLimited:       c.rateLimited.Load(),
		AuthFailures:      c.authFailures.Load(),
		HeartbeatTimeouts: c.heartbeatTimeouts.Load(),
		ActiveChannels:    c.activeChannels(),
		StartedAt:         c.startedAt,
		TakenAt:           time.Now().UTC(),
	}
}

// Registry exposes the Prometheus registry, e.g. for extra collectors.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
