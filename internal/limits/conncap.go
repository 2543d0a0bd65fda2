package limits

import "sync"

// ConnectionCap bounds concurrent connections per originating address.
type ConnectionCap struct {
	mu    sync.Mutex
	max   int
	count map[string]int
}

func NewConnectionCap(max int) *ConnectionCap {
	return &ConnectionCap{max: max, count: make(map[string]int)}
}

// Acquire reserves a slot for addr. It returns false when addr is at the cap.
func (c *ConnectionCap) Acquire(addr string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count[addr] >= c.max {
		return false
	}
	c.count[addr]++
	return true
}

func (c *ConnectionCap) Release(addr string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n := c.count[addr]; n <= 1 {
		delete(c.count, addr)
	} else {
		c.count[addr] = n - 1
	}
}

func (c *ConnectionCap) Active(addr string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count[addr]
}
