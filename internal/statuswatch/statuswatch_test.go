package statuswatch

import (
	"context"
	"testing"
	"time"
)

func TestGetSetRoundTrip(t *testing.T) {
	v := New(1)
	if got := v.Get(); got != 1 {
		t.Fatalf("Get() = %d; want 1", got)
	}
	v.Set(2)
	if got := v.Get(); got != 2 {
		t.Fatalf("Get() = %d; want 2", got)
	}
}

func TestWaitForWakesOnSet(t *testing.T) {
	v := New("stopped")
	done := make(chan struct{})
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := v.WaitFor(ctx, func(s string) bool { return s == "running" }); err != nil {
			t.Errorf("WaitFor: %v", err)
		}
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	v.Set("starting")
	v.Set("running")

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("WaitFor did not observe the target value in time")
	}
}

func TestWaitForReturnsImmediatelyIfAlreadyTrue(t *testing.T) {
	v := New(42)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := v.WaitFor(ctx, func(n int) bool { return n == 42 }); err != nil {
		t.Fatalf("WaitFor: %v", err)
	}
}

func TestWaitForContextTimeout(t *testing.T) {
	v := New(false)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := v.WaitFor(ctx, func(b bool) bool { return b })
	if err == nil {
		t.Fatal("expected WaitFor to time out")
	}
}
