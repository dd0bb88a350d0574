package platform

import (
	"context"
	"testing"
	"time"
)

func TestLimiter_AllowsUpToRate(t *testing.T) {
	l := NewLimiter(5, time.Minute)
	for i := 0; i < 5; i++ {
		if !l.Allow() {
			t.Fatalf("request %d should be allowed", i+1)
		}
	}
	if l.Allow() {
		t.Fatal("6th request should be denied")
	}
}

func TestLimiter_ResetsAfterWindow(t *testing.T) {
	now := time.Now()
	l := NewLimiter(2, time.Minute)
	l.now = func() time.Time { return now }
	l.windowStart = now

	l.Allow()
	l.Allow()
	if l.Allow() {
		t.Fatal("3rd should be denied")
	}
	now = now.Add(time.Minute)
	if !l.Allow() {
		t.Fatal("after window reset should be allowed")
	}
}

func TestLimiter_WaitHonorsContext(t *testing.T) {
	l := NewLimiter(1, time.Hour)
	l.Allow()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx); err == nil {
		t.Fatal("expected context error while window is full")
	}
}

func TestLimiter_WaitUntilReset(t *testing.T) {
	l := NewLimiter(1, 30*time.Millisecond)
	l.Allow()

	start := time.Now()
	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if time.Since(start) < 10*time.Millisecond {
		t.Error("Wait returned before the window reset")
	}
}
