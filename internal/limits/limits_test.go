package limits

import (
	"sync"
	"testing"
	"time"
)

func TestMessageLimiterThrottlesThenDisconnects(t *testing.T) {
	m := NewMessageLimiter(60, 3) // burst 10, one token per second
	now := time.Now()

	for i := 0; i < 10; i++ {
		if v := m.CheckAt(now); v != Allow {
			t.Fatalf("frame %d: expected Allow, got %v", i, v)
		}
	}
	if v := m.CheckAt(now); v != Throttle {
		t.Fatalf("expected Throttle, got %v", v)
	}
	if v := m.CheckAt(now); v != Throttle {
		t.Fatalf("expected Throttle, got %v", v)
	}
	if v := m.CheckAt(now); v != Disconnect {
		t.Fatalf("expected Disconnect after 3 violations, got %v", v)
	}
}

func TestMessageLimiterViolationsReset(t *testing.T) {
	m := NewMessageLimiter(60, 2)
	now := time.Now()

	for i := 0; i < 10; i++ {
		m.CheckAt(now)
	}
	if v := m.CheckAt(now); v != Throttle {
		t.Fatalf("expected Throttle, got %v", v)
	}

	// A refilled token clears the violation streak.
	now = now.Add(2 * time.Second)
	if v := m.CheckAt(now); v != Allow {
		t.Fatalf("expected Allow after refill, got %v", v)
	}
	m.CheckAt(now)
	if v := m.CheckAt(now); v != Throttle {
		t.Fatalf("expected Throttle (streak restarted), got %v", v)
	}
}

func TestMessageLimiterSmallRate(t *testing.T) {
	m := NewMessageLimiter(1, 0)
	now := time.Now()
	if v := m.CheckAt(now); v != Allow {
		t.Fatalf("expected first frame allowed, got %v", v)
	}
	for i := 0; i < 50; i++ {
		if v := m.CheckAt(now); v != Throttle {
			t.Fatalf("expected Throttle without disconnect, got %v", v)
		}
	}
}

func TestConnectionCap(t *testing.T) {
	c := NewConnectionCap(2)

	if !c.Acquire("10.0.0.1") || !c.Acquire("10.0.0.1") {
		t.Fatal("expected first two connections allowed")
	}
	if c.Acquire("10.0.0.1") {
		t.Fatal("expected third connection rejected")
	}
	if !c.Acquire("10.0.0.2") {
		t.Fatal("expected other address allowed")
	}

	c.Release("10.0.0.1")
	if got := c.Active("10.0.0.1"); got != 1 {
		t.Errorf("expected 1 active, got %d", got)
	}
	if !c.Acquire("10.0.0.1") {
		t.Fatal("expected slot after release")
	}

	c.Release("10.0.0.2")
	c.Release("10.0.0.2")
	if got := c.Active("10.0.0.2"); got != 0 {
		t.Errorf("expected 0 active after over-release, got %d", got)
	}
}

func TestConnectionCapConcurrent(t *testing.T) {
	c := NewConnectionCap(10)
	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Acquire("1.2.3.4") {
				mu.Lock()
				admitted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if admitted != 10 {
		t.Errorf("expected exactly 10 admitted, got %d", admitted)
	}
}
