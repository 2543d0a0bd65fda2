package alerts

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Alert struct {
	ID          string    `json:"id"`
	AlertType   string    `json:"alert_type"`
	ReporterID  string    `json:"reporter_id"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Description string    `json:"description"`
	Severity    string    `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
}

// Log is a bounded ring of recent emergency alerts. Alerts outlive the
// connection that raised them; the oldest entry is dropped when full.
type Log struct {
	mu    sync.RWMutex
	buf   []Alert
	next  int
	full  bool
	total int64
}

func NewLog(capacity int) *Log {
	if capacity < 1 {
		capacity = 1
	}
	return &Log{buf: make([]Alert, capacity)}
}

// Append stores a, assigning an ID and timestamp when missing.
func (l *Log) Append(a Alert) Alert {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	l.buf[l.next] = a
	l.next = (l.next + 1) % len(l.buf)
	if l.next == 0 {
		l.full = true
	}
	l.total++
	l.mu.Unlock()
	return a
}

// Recent returns up to limit alerts, newest first. limit <= 0 means all.
func (l *Log) Recent(limit int) []Alert {
	l.mu.RLock()
	defer l.mu.RUnlock()

	size := l.next
	if l.full {
		size = len(l.buf)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]Alert, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (l.next - 1 - i + len(l.buf)) % len(l.buf)
		out = append(out, l.buf[idx])
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.full {
		return len(l.buf)
	}
	return l.next
}

// Total counts every alert ever appended, including evicted ones.
func (l *Log) Total() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}
