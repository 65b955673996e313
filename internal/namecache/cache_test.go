package namecache

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeClock struct{ at time.Time }

func (f *fakeClock) now() time.Time          { return f.at }
func (f *fakeClock) advance(d time.Duration) { f.at = f.at.Add(d) }

func newClock() *fakeClock {
	return &fakeClock{at: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestCache_GetSet(t *testing.T) {
	c := New[string, string](time.Minute, 10)

	if _, ok := c.Get("e1"); ok {
		t.Fatal("expected miss on empty cache")
	}
	c.Set("e1", "Hack Night")
	if v, ok := c.Get("e1"); !ok || v != "Hack Night" {
		t.Errorf("got %q %v, want Hack Night", v, ok)
	}
	c.Delete("e1")
	if _, ok := c.Get("e1"); ok {
		t.Error("expected miss after delete")
	}
}

func TestCache_Expiry(t *testing.T) {
	clock := newClock()
	c := New[string, int](time.Minute, 10, WithClock(clock.now))

	c.Set("a", 1)
	clock.advance(59 * time.Second)
	if _, ok := c.Get("a"); !ok {
		t.Error("entry should still be live")
	}
	clock.advance(time.Second)
	if _, ok := c.Get("a"); ok {
		t.Error("entry should have expired")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry should be dropped on read, len=%d", c.Len())
	}
}

func TestCache_EvictsOldestWhenFull(t *testing.T) {
	clock := newClock()
	c := New[string, int](time.Hour, 2, WithClock(clock.now))

	c.Set("a", 1)
	clock.advance(time.Second)
	c.Set("b", 2)
	clock.advance(time.Second)
	c.Set("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("b should survive")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should be present")
	}
}

func TestCache_OverwriteDoesNotEvict(t *testing.T) {
	c := New[string, int](time.Hour, 2)
	c.Set("a", 1)
	c.Set("b", 2)
	c.Set("a", 10)

	if v, _ := c.Get("a"); v != 10 {
		t.Errorf("expected overwritten value, got %d", v)
	}
	if _, ok := c.Get("b"); !ok {
		t.Error("overwrite must not evict other keys")
	}
}

func TestCache_GetOrLoad(t *testing.T) {
	c := New[string, string](time.Minute, 10)
	ctx := context.Background()

	calls := 0
	load := func(ctx context.Context, key string) (string, error) {
		calls++
		return "name-" + key, nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrLoad(ctx, "e1", load)
		if err != nil || v != "name-e1" {
			t.Fatalf("GetOrLoad = %q, %v", v, err)
		}
	}
	if calls != 1 {
		t.Errorf("expected one load, got %d", calls)
	}
}

func TestCache_GetOrLoadErrorNotCached(t *testing.T) {
	c := New[string, string](time.Minute, 10)
	boom := errors.New("store down")

	_, err := c.GetOrLoad(context.Background(), "e1", func(ctx context.Context, key string) (string, error) {
		return "", boom
	})
	if err != boom {
		t.Fatalf("expected load error, got %v", err)
	}
	if c.Len() != 0 {
		t.Error("failed load must not be cached")
	}
}
