package ws

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/darkden-lab/bazaar-realtime/internal/alerts"
	"github.com/darkden-lab/bazaar-realtime/internal/jobs"
	"github.com/darkden-lab/bazaar-realtime/internal/policy"
	"github.com/darkden-lab/bazaar-realtime/internal/presence"
	"github.com/darkden-lab/bazaar-realtime/internal/protocol"
	"github.com/darkden-lab/bazaar-realtime/internal/stats"
)

// Close codes sent to clients. 1xxx codes are the RFC 6455 ones.
const (
	CloseProtocolViolation = 4400
	CloseUnauthorized      = 4401
	CloseHeartbeatTimeout  = 4408
	CloseRateLimited       = websocket.ClosePolicyViolation
	CloseSlowConsumer      = websocket.CloseTryAgainLater
	CloseShutdown          = websocket.CloseGoingAway
)

// AdminChannel receives emergency alerts and presence changes.
const AdminChannel = "system.admin"

var ErrNotConnected = errors.New("connection is not registered")

type Config struct {
	HeartbeatInterval    time.Duration
	MissedHeartbeats     int
	SendBuffer           int
	SendFailureLimit     int
	MaxMessageSize       int64
	MaxMessagesPerMinute int
	MaxRateViolations    int
	PresenceRetention    time.Duration
}

func (c *Config) setDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.MissedHeartbeats < 1 {
		c.MissedHeartbeats = 3
	}
	if c.SendBuffer < 1 {
		c.SendBuffer = 256
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = 16 * 1024
	}
	if c.MaxMessagesPerMinute < 1 {
		c.MaxMessagesPerMinute = 120
	}
	if c.PresenceRetention <= 0 {
		c.PresenceRetention = 24 * time.Hour
	}
}

type Deps struct {
	Policy   *policy.Policy
	Presence *presence.Tracker
	Stats    *stats.Collector
	Alerts   *alerts.Log
	Logger   zerolog.Logger
}

// Hub is the connection registry and channel table. Both live under one
// lock so a client's channel set and the channel member sets always agree.
// Clients are keyed by a hub-assigned id; channels hold id sets.
type Hub struct {
	cfg      Config
	policy   *policy.Policy
	presence *presence.Tracker
	stats    *stats.Collector
	alerts   *alerts.Log
	logger   zerolog.Logger

	mu       sync.RWMutex
	nextID   uint64
	clients  map[uint64]*Client
	channels map[string]map[uint64]struct{}

	jobsMu sync.RWMutex
	jobs   jobs.Queue

	now func() time.Time
}

func NewHub(cfg Config, deps Deps) *Hub {
	cfg.setDefaults()
	if deps.Policy == nil {
		deps.Policy = policy.Default()
	}
	if deps.Presence == nil {
		deps.Presence = presence.NewTracker(cfg.HeartbeatInterval * time.Duration(cfg.MissedHeartbeats+1))
	}
	if deps.Stats == nil {
		deps.Stats = stats.New()
	}
	if deps.Alerts == nil {
		deps.Alerts = alerts.NewLog(500)
	}

	h := &Hub{
		cfg:      cfg,
		policy:   deps.Policy,
		presence: deps.Presence,
		stats:    deps.Stats,
		alerts:   deps.Alerts,
		logger:   deps.Logger.With().Str("component", "hub").Logger(),
		clients:  make(map[uint64]*Client),
		channels: make(map[string]map[uint64]struct{}),
		now:      time.Now,
	}
	h.stats.TrackChannels(h.ChannelCount)
	return h
}

// UseRouteQueue sets the job collaborator for route-optimization requests.
func (h *Hub) UseRouteQueue(q jobs.Queue) {
	h.jobsMu.Lock()
	h.jobs = q
	h.jobsMu.Unlock()
}

func (h *Hub) routeQueue() jobs.Queue {
	h.jobsMu.RLock()
	defer h.jobsMu.RUnlock()
	return h.jobs
}

// Admit registers c, subscribes it to its role's default channels, confirms
// the connection to the client and announces presence on the first live
// connection of the identity.
func (h *Hub) Admit(c *Client) []string {
	defaults := h.policy.DefaultChannels(c.Role, c.UserID)
	c.markAlive(h.now())

	h.mu.Lock()
	h.nextID++
	c.id = h.nextID
	h.clients[c.id] = c
	for _, ch := range defaults {
		h.attach(c, ch)
	}
	h.mu.Unlock()

	h.stats.ConnectionOpened()
	if !policy.ValidToken(c.UserID) {
		h.logger.Warn().
			Str("client_id", c.ID).
			Str("user_id", c.UserID).
			Str("role", string(c.Role)).
			Msg("identity is not a valid channel segment; owner channels skipped")
	}
	h.logger.Info().
		Str("client_id", c.ID).
		Str("user_id", c.UserID).
		Str("role", string(c.Role)).
		Strs("channels", defaults).
		Msg("client admitted")

	h.reply(c, protocol.New(protocol.KindConnectionConfirmed, protocol.ConnectionConfirmed{
		ConnectionID:      c.ID,
		UserID:            c.UserID,
		Role:              string(c.Role),
		Channels:          defaults,
		HeartbeatInterval: h.cfg.HeartbeatInterval.Milliseconds(),
	}))

	if h.presence.SetOnline(c.UserID, c.Role) {
		h.announcePresence(c, true)
	}
	return defaults
}

// Remove detaches c from every channel and closes it with code. It is safe
// to call more than once; only the first call reports true.
func (h *Hub) Remove(c *Client, code int, reason string) bool {
	h.mu.Lock()
	if cur, ok := h.clients[c.id]; !ok || cur != c {
		h.mu.Unlock()
		c.close(code, reason)
		return false
	}
	delete(h.clients, c.id)
	for ch := range c.channels {
		h.detach(c, ch)
	}
	h.mu.Unlock()

	c.close(code, reason)
	h.stats.ConnectionClosed()
	h.logger.Info().
		Str("client_id", c.ID).
		Str("user_id", c.UserID).
		Int("code", code).
		Str("reason", reason).
		Msg("client removed")

	if h.presence.SetOffline(c.UserID) {
		h.announcePresence(c, false)
	}
	return true
}

// Subscribe adds c to channel. It reports whether c was newly added.
// Authorization is the caller's concern.
func (h *Hub) Subscribe(c *Client, channel string) (bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.id]; !ok || cur != c {
		return false, ErrNotConnected
	}
	return h.attach(c, channel), nil
}

// Unsubscribe removes c from channel; absent memberships are a no-op.
func (h *Hub) Unsubscribe(c *Client, channel string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if cur, ok := h.clients[c.id]; !ok || cur != c {
		return false
	}
	return h.detach(c, channel)
}

// attach and detach must be called with h.mu held.
func (h *Hub) attach(c *Client, channel string) bool {
	if _, ok := c.channels[channel]; ok {
		return false
	}
	members, ok := h.channels[channel]
	if !ok {
		members = make(map[uint64]struct{})
		h.channels[channel] = members
	}
	members[c.id] = struct{}{}
	c.channels[channel] = struct{}{}
	return true
}

func (h *Hub) detach(c *Client, channel string) bool {
	if _, ok := c.channels[channel]; !ok {
		return false
	}
	delete(c.channels, channel)
	if members, ok := h.channels[channel]; ok {
		delete(members, c.id)
		if len(members) == 0 {
			delete(h.channels, channel)
		}
	}
	return true
}

// Publish fans env out to the current subscribers of channel and returns how
// many accepted it. A failed subscriber is counted and logged; it never stops
// delivery to the rest.
func (h *Hub) Publish(channel string, env protocol.Envelope) int {
	data, err := env.Encode()
	if err != nil {
		h.stats.Error()
		h.logger.Error().Err(err).Str("channel", channel).Str("kind", string(env.Kind)).Msg("failed to encode envelope")
		return 0
	}

	h.mu.RLock()
	members := h.channels[channel]
	targets := make([]*Client, 0, len(members))
	for id := range members {
		targets = append(targets, h.clients[id])
	}
	h.mu.RUnlock()

	delivered := 0
	for _, c := range targets {
		if c.enqueue(data) {
			delivered++
			continue
		}
		h.deliveryFailed(c, channel)
	}
	h.stats.MessagesSent(delivered)
	return delivered
}

func (h *Hub) reply(c *Client, env protocol.Envelope) {
	data, err := env.Encode()
	if err != nil {
		h.stats.Error()
		h.logger.Error().Err(err).Str("kind", string(env.Kind)).Msg("failed to encode reply")
		return
	}
	if c.enqueue(data) {
		h.stats.MessagesSent(1)
		return
	}
	h.deliveryFailed(c, "")
}

func (h *Hub) deliveryFailed(c *Client, channel string) {
	h.stats.DeliveryFailure()

	closed := c.isClosed()
	h.logger.Warn().
		Str("client_id", c.ID).
		Str("user_id", c.UserID).
		Str("channel", channel).
		Bool("closed", closed).
		Msg("delivery failed")

	if closed || h.cfg.SendFailureLimit <= 0 {
		return
	}
	if int(c.sendFailures.Add(1)) >= h.cfg.SendFailureLimit {
		h.Remove(c, CloseSlowConsumer, "slow consumer")
	}
}

func (h *Hub) announcePresence(c *Client, online bool) {
	_, lastSeen := h.presence.IsOnline(c.UserID)
	env := protocol.New(protocol.KindUserStatusUpdate, protocol.UserStatus{
		UserID:   c.UserID,
		Role:     string(c.Role),
		Online:   online,
		LastSeen: lastSeen,
	})
	h.Publish(AdminChannel, env)
	h.Publish("presence."+string(c.Role), env)
}

// touch records liveness for c, from a pong or any inbound frame.
func (h *Hub) touch(c *Client) {
	c.markAlive(h.now())
	h.presence.Touch(c.UserID)
}

// Run sweeps for missed heartbeats every interval until ctx is done, then
// closes every client.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()

	prune := time.NewTicker(time.Hour)
	defer prune.Stop()

	for {
		select {
		case <-ctx.Done():
			h.Close()
			return
		case <-ticker.C:
			h.sweep()
		case <-prune.C:
			if n := h.presence.Prune(h.cfg.PresenceRetention); n > 0 {
				h.logger.Debug().Int("records", n).Msg("pruned presence records")
			}
		}
	}
}

// sweep removes clients that have missed MissedHeartbeats intervals.
func (h *Hub) sweep() int {
	now := h.now()
	limit := h.cfg.HeartbeatInterval * time.Duration(h.cfg.MissedHeartbeats)

	h.mu.RLock()
	var stale []*Client
	for _, c := range h.clients {
		if now.Sub(c.lastAlive()) >= limit {
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	removed := 0
	for _, c := range stale {
		if h.Remove(c, CloseHeartbeatTimeout, "heartbeat timeout") {
			h.stats.HeartbeatTimeout()
			removed++
		}
	}
	return removed
}

// Close removes every client with a going-away close code.
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.Remove(c, CloseShutdown, "server shutting down")
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ChannelCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels)
}

func (h *Hub) SubscriberCount(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// ChannelsOf returns c's subscriptions, sorted.
func (h *Hub) ChannelsOf(c *Client) []string {
	h.mu.RLock()
	out := make([]string, 0, len(c.channels))
	for ch := range c.channels {
		out = append(out, ch)
	}
	h.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Presence exposes the tracker for operator lookups.
func (h *Hub) Presence() *presence.Tracker { return h.presence }

func (h *Hub) Alerts() *alerts.Log { return h.alerts }

func (h *Hub) Stats() *stats.Collector { return h.stats }
