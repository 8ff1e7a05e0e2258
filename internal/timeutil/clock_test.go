package timeutil

import (
	"sync"
	"testing"
	"time"
)

func TestRealClock(t *testing.T) {
	var c Clock = RealClock{}
	start := c.Now()
	if c.Since(start) < 0 {
		t.Error("Since went backwards")
	}
}

func TestMockClock(t *testing.T) {
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := NewMockClock(base)

	if !c.Now().Equal(base) {
		t.Fatalf("Now = %v, want %v", c.Now(), base)
	}
	c.Advance(2 * time.Second)
	if got := c.Since(base); got != 2*time.Second {
		t.Errorf("Since = %v, want 2s", got)
	}

	c.SetStep(10 * time.Millisecond)
	start := c.Now()
	if got := c.Since(start); got != 10*time.Millisecond {
		t.Errorf("stepped Since = %v, want 10ms", got)
	}
}

func TestMockClock_Concurrent(t *testing.T) {
	c := NewMockClock(time.Time{})
	c.SetStep(time.Millisecond)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.Now()
			}
		}()
	}
	wg.Wait()
	if got := c.Now().Sub(time.Time{}); got != 800*time.Millisecond {
		t.Errorf("after 800 readings clock is at %v", got)
	}
}
