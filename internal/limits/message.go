package limits

import (
	"time"

	"golang.org/x/time/rate"
)

// MessageLimiter throttles inbound frames for one connection. It is owned by
// that connection's read goroutine and is not safe for concurrent use.
type MessageLimiter struct {
	limiter       *rate.Limiter
	maxViolations int
	violations    int
}

// NewMessageLimiter allows perMinute frames per minute with a burst of a
// sixth of that (at least one). maxViolations consecutive throttled frames
// mark the connection as abusive; zero disables that check.
func NewMessageLimiter(perMinute, maxViolations int) *MessageLimiter {
	burst := perMinute / 6
	if burst < 1 {
		burst = 1
	}
	return &MessageLimiter{
		limiter:       rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), burst),
		maxViolations: maxViolations,
	}
}

// Verdict is the outcome of checking one inbound frame.
type Verdict int

const (
	Allow Verdict = iota
	Throttle
	Disconnect
)

func (m *MessageLimiter) Check() Verdict {
	return m.CheckAt(time.Now())
}

func (m *MessageLimiter) CheckAt(now time.Time) Verdict {
	if m.limiter.AllowN(now, 1) {
		m.violations = 0
		return Allow
	}
	m.violations++
	if m.maxViolations > 0 && m.violations >= m.maxViolations {
		return Disconnect
	}
	return Throttle
}
