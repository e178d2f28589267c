package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLRUCache_GetSet(t *testing.T) {
	c := NewLRUCache[string](2, time.Minute)

	c.Set("a", "1")
	c.Set("b", "2")
	if v, ok := c.Get("a"); !ok || v != "1" {
		t.Fatalf("Get(a) = %q, %v", v, ok)
	}

	// "b" is now least recently used and gets evicted.
	c.Set("c", "3")
	if _, ok := c.Get("b"); ok {
		t.Error("expected b to be evicted")
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}

	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be deleted")
	}
}

func TestLRUCache_Expiry(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	now := time.Now()
	c.now = func() time.Time { return now }

	c.Set("x", 1)
	c.Set("y", 2)

	now = now.Add(2 * time.Minute)
	if _, ok := c.Get("x"); ok {
		t.Error("expected x to be expired")
	}
	if removed := c.CleanExpired(); removed != 1 {
		t.Errorf("CleanExpired() = %d, want 1", removed)
	}
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0", c.Size())
	}
}

func TestLRUCache_GetOrLoad(t *testing.T) {
	c := NewLRUCache[int](10, time.Minute)
	var calls int32

	load := func(ctx context.Context) (int, error) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(20 * time.Millisecond)
		return 42, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrLoad(context.Background(), "k", load)
			if err != nil || v != 42 {
				t.Errorf("GetOrLoad() = %d, %v", v, err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("loader called %d times, want 1", got)
	}

	boom := errors.New("boom")
	if _, err := c.GetOrLoad(context.Background(), "bad", func(context.Context) (int, error) { return 0, boom }); !errors.Is(err, boom) {
		t.Errorf("expected loader error, got %v", err)
	}
	if _, ok := c.Get("bad"); ok {
		t.Error("errors must not be cached")
	}
}

func TestManager_Sweep(t *testing.T) {
	c := NewLRUCache[int](10, time.Millisecond)
	c.Set("a", 1)

	m := NewManager()
	m.Register(c)
	time.Sleep(5 * time.Millisecond)

	if n := m.Sweep(); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}

	m.StartCleanup(time.Millisecond)
	m.Stop()
	m.Stop()
}
