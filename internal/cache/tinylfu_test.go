package cache

import (
	"testing"
	"time"
)

func TestTinyLFU_GetSetDelete(t *testing.T) {
	t.Parallel()
	c, err := NewTinyLFU(100, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("should not find missing key")
	}

	c.Set("k1", []byte(`{"v":1}`), time.Minute)
	// otter processes Set asynchronously; wait briefly.
	time.Sleep(50 * time.Millisecond)

	e, ok := c.Get("k1")
	if !ok {
		t.Fatal("should find k1")
	}
	if string(e.Value) != `{"v":1}` {
		t.Errorf("value = %s, want %s", e.Value, `{"v":1}`)
	}

	c.Delete("k1")
	if _, ok := c.Get("k1"); ok {
		t.Error("should not find deleted key")
	}
}

func TestTinyLFU_SweepAndPurge(t *testing.T) {
	t.Parallel()
	c, err := NewTinyLFU(100, time.Hour)
	if err != nil {
		t.Fatal(err)
	}

	c.Restore(&Entry{Key: "old", Value: []byte(`1`), CreatedAt: time.Now().Add(-time.Hour), TTL: time.Minute})
	c.Set("new", []byte(`2`), time.Minute)
	time.Sleep(50 * time.Millisecond)

	if n := c.Sweep(30 * time.Minute); n != 1 {
		t.Errorf("swept = %d, want 1", n)
	}
	if _, ok := c.Get("old"); ok {
		t.Error("old entry should be swept")
	}

	c.Purge()
	if _, ok := c.Get("new"); ok {
		t.Error("purge should remove all keys")
	}
}
