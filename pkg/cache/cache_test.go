package cache

import (
	"testing"
	"time"
)

func TestGetSet(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	if _, ok := c.Get("missing"); ok {
		t.Fatal("expected miss for unknown key")
	}

	c.Set("user:alice", "Alice")
	v, ok := c.Get("user:alice")
	if !ok || v.(string) != "Alice" {
		t.Fatalf("expected hit with Alice, got %v %v", v, ok)
	}

	c.Delete("user:alice")
	if _, ok := c.Get("user:alice"); ok {
		t.Fatal("expected miss after delete")
	}
}

func TestExpiry(t *testing.T) {
	c := New(time.Minute)
	defer c.Close()

	c.SetWithTTL("short", 1, 10*time.Millisecond)
	if _, ok := c.Get("short"); !ok {
		t.Fatal("expected hit before expiry")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("short"); ok {
		t.Fatal("expected miss after expiry")
	}
}

func TestEvictLoopRemovesExpired(t *testing.T) {
	c := New(20 * time.Millisecond)
	defer c.Close()

	c.Set("a", 1)
	c.Set("b", 2)

	deadline := time.Now().Add(time.Second)
	for c.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if c.Len() != 0 {
		t.Fatalf("expected eviction to empty the cache, %d left", c.Len())
	}
}
