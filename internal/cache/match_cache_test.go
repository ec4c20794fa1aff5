package cache

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"
)

func TestMatchCachePutGetRoundTrip(t *testing.T) {
	matchCache := NewMatchCache(Config{TTL: time.Minute, MaxEntries: 10})
	signature := matchCache.BuildSignature("job-1", "fast", "skill-a")

	matchCache.Put(signature, json.RawMessage(`[{"skill_id":"skill-a"}]`), "fast-tier")

	entry, ok := matchCache.Get(signature)
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if string(entry.Value) != `[{"skill_id":"skill-a"}]` {
		t.Fatalf("unexpected cached value: %s", entry.Value)
	}
	if entry.ModelID != "fast-tier" {
		t.Fatalf("unexpected model id: %s", entry.ModelID)
	}
}

func TestMatchCacheExpiresEntries(t *testing.T) {
	matchCache := NewMatchCache(Config{TTL: time.Millisecond, MaxEntries: 10})
	signature := matchCache.BuildSignature("job-1")

	matchCache.Put(signature, json.RawMessage(`[]`), "")
	time.Sleep(5 * time.Millisecond)

	if _, ok := matchCache.Get(signature); ok {
		t.Fatalf("expected expired entry to miss")
	}
	if matchCache.Len() != 0 {
		t.Fatalf("expected expired entry removed, len=%d", matchCache.Len())
	}
}

func TestMatchCacheEvictsWhenFull(t *testing.T) {
	matchCache := NewMatchCache(Config{TTL: time.Minute, MaxEntries: 3})

	for index := 0; index < 5; index++ {
		signature := matchCache.BuildSignature(fmt.Sprintf("job-%d", index))
		matchCache.Put(signature, json.RawMessage(`[]`), "")
	}

	if matchCache.Len() > 3 {
		t.Fatalf("expected at most 3 entries, got %d", matchCache.Len())
	}
}

func TestBuildSignatureIsOrderSensitive(t *testing.T) {
	matchCache := NewMatchCache(Config{})

	first := matchCache.BuildSignature("a", "b")
	second := matchCache.BuildSignature("b", "a")
	if first == second {
		t.Fatalf("expected different signatures for different part orders")
	}
	if first != matchCache.BuildSignature("a", "b") {
		t.Fatalf("expected stable signature for identical parts")
	}
}
