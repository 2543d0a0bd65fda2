package presence

import (
	"sync"
	"time"

	"github.com/darkden-lab/bazaar-realtime/internal/auth"
)

// Record is the presence state for one identity.
type Record struct {
	UserID      string    `json:"user_id"`
	Role        auth.Role `json:"role,omitempty"`
	Online      bool      `json:"online"`
	LastSeen    time.Time `json:"last_seen,omitempty"`
	Connections int       `json:"connections"`
}

// Tracker keeps online/last-seen per identity. An identity with several live
// connections stays online until the last one goes away. A record that has
// not been touched within the silence window reads as offline even if no
// disconnect was observed.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*Record
	ttl     time.Duration
	now     func() time.Time
}

func NewTracker(ttl time.Duration) *Tracker {
	return &Tracker{
		records: make(map[string]*Record),
		ttl:     ttl,
		now:     time.Now,
	}
}

// SetOnline records a new live connection. It reports true when this is the
// identity's first live connection (an offline to online transition).
func (t *Tracker) SetOnline(userID string, role auth.Role) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	r, ok := t.records[userID]
	if !ok {
		r = &Record{UserID: userID}
		t.records[userID] = r
	}
	wasOnline := r.Connections > 0 && !t.expired(r, now)
	r.Connections++
	r.Role = role
	r.Online = true
	r.LastSeen = now
	return !wasOnline
}

// SetOffline drops one live connection. It reports true when that was the
// last one (an online to offline transition).
func (t *Tracker) SetOffline(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, ok := t.records[userID]
	if !ok || r.Connections == 0 {
		return false
	}
	r.Connections--
	r.LastSeen = t.now()
	if r.Connections > 0 {
		return false
	}
	r.Online = false
	return true
}

// Touch refreshes last-seen for an identity with live connections.
func (t *Tracker) Touch(userID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.records[userID]; ok && r.Connections > 0 {
		r.LastSeen = t.now()
	}
}

func (t *Tracker) IsOnline(userID string) (bool, time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	r, ok := t.records[userID]
	if !ok {
		return false, time.Time{}
	}
	return r.Online && !t.expired(r, t.now()), r.LastSeen
}

// Lookup returns one record per requested identity, in order. Unknown
// identities come back offline with a zero LastSeen.
func (t *Tracker) Lookup(userIDs []string) []Record {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	out := make([]Record, 0, len(userIDs))
	for _, id := range userIDs {
		r, ok := t.records[id]
		if !ok {
			out = append(out, Record{UserID: id})
			continue
		}
		cp := *r
		if t.expired(r, now) {
			cp.Online = false
		}
		out = append(out, cp)
	}
	return out
}

// Prune forgets offline records last seen before maxAge ago.
func (t *Tracker) Prune(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxAge)
	n := 0
	for id, r := range t.records {
		if r.Connections == 0 && r.LastSeen.Before(cutoff) {
			delete(t.records, id)
			n++
		}
	}
	return n
}

func (t *Tracker) expired(r *Record, now time.Time) bool {
	return t.ttl > 0 && now.Sub(r.LastSeen) > t.ttl
}
