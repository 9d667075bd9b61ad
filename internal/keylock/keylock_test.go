package keylock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestMutualExclusion(t *testing.T) {
	ctx := context.Background()
	s := New()
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		holders int
		max     int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Lock(ctx, "device-1"); err != nil {
				t.Error(err)
				return
			}
			mu.Lock()
			holders++
			if holders > max {
				max = holders
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			holders--
			mu.Unlock()
			s.Unlock("device-1")
		}()
	}
	wg.Wait()
	if max != 1 {
		t.Errorf("saw %d concurrent holders", max)
	}
	if len(s.m) != 0 {
		t.Errorf("%d entries leaked", len(s.m))
	}
}

func TestIndependentKeys(t *testing.T) {
	ctx := context.Background()
	s := New()
	if err := s.Lock(ctx, "a"); err != nil {
		t.Fatal(err)
	}
	defer s.Unlock("a")
	// A different key must not block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.Lock(ctx, "b"); err != nil {
			t.Error(err)
			return
		}
		s.Unlock("b")
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("independent key blocked")
	}
}

func TestLockCancellation(t *testing.T) {
	s := New()
	if err := s.Lock(context.Background(), "a"); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := s.Lock(ctx, "a")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got: %v", err)
	}
	s.Unlock("a")
	if len(s.m) != 0 {
		t.Errorf("%d entries leaked", len(s.m))
	}
}

func TestTryLock(t *testing.T) {
	s := New()
	if !s.TryLock("a") {
		t.Fatal("free lock refused")
	}
	if s.TryLock("a") {
		t.Fatal("held lock acquired")
	}
	s.Unlock("a")
	if !s.TryLock("a") {
		t.Fatal("released lock refused")
	}
	s.Unlock("a")
}
