package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := NewMemoryCache()
	c.now = func() time.Time { return now }

	if err := c.Set(ctx, "k", map[string]int{"A": 3}, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var got map[string]int
	if hit, err := c.Get(ctx, "k", &got); err != nil || !hit || got["A"] != 3 {
		t.Fatalf("expected hit with A=3, got hit=%v err=%v value=%v", hit, err, got)
	}

	now = now.Add(time.Minute)
	if hit, _ := c.Get(ctx, "k", &got); hit {
		t.Fatal("expected entry to expire at its TTL")
	}

	if err := c.Set(ctx, "forever", 1, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	now = now.Add(24 * time.Hour)
	var n int
	if hit, _ := c.Get(ctx, "forever", &n); !hit || n != 1 {
		t.Fatal("expected entry without TTL to persist")
	}

	if err := c.Delete(ctx, "forever", "missing"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if hit, _ := c.Get(ctx, "forever", &n); hit {
		t.Fatal("expected entry to be deleted")
	}
}

func TestNoopCache(t *testing.T) {
	var c Cache = NoopCache{}
	ctx := context.Background()
	if err := c.Set(ctx, "k", 1, time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	var v int
	if hit, err := c.Get(ctx, "k", &v); hit || err != nil {
		t.Fatalf("expected miss, got hit=%v err=%v", hit, err)
	}
}

// TestFlightDeduperMergesConcurrentCalls 同一 key 的并发请求只执行一次
func TestFlightDeduperMergesConcurrentCalls(t *testing.T) {
	d := NewFlightDeduper()
	release := make(chan struct{})
	var calls int32

	fn := func() (interface{}, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return 42, nil
	}

	const callers = 5
	var wg sync.WaitGroup
	results := make([]interface{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			v, err := d.Do("stats", fn)
			if err != nil {
				t.Errorf("Do: %v", err)
			}
			results[i] = v
		}(i)
	}
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&calls); n != 1 {
		t.Fatalf("expected 1 execution, got %d", n)
	}
	for i, v := range results {
		if v != 42 {
			t.Fatalf("caller %d got %v", i, v)
		}
	}

	var direct int
	if _, err := (NoDedupe{}).Do("stats", func() (interface{}, error) { direct++; return nil, nil }); err != nil || direct != 1 {
		t.Fatal("expected NoDedupe to call through")
	}
}
