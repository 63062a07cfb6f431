package authz

import (
	"testing"
	"time"
)

func TestDecisionCacheHitsAndMisses(t *testing.T) {
	cache, err := NewDecisionCache(10, time.Minute)
	if err != nil {
		t.Fatalf("NewDecisionCache: %v", err)
	}

	fp := Fingerprint("fp-1")
	if _, ok := cache.Get(fp); ok {
		t.Fatalf("expected a miss before any Put")
	}

	cache.Put(fp, AuthorizationResult{Decision: Permit})
	result, ok := cache.Get(fp)
	if !ok {
		t.Fatalf("expected a hit after Put")
	}
	if !result.Cached {
		t.Errorf("expected Cached to be set on a hit")
	}
	if result.Decision != Permit {
		t.Errorf("expected cached decision Permit, got %s", result.Decision)
	}

	stats := cache.Stats()
	if stats.Size != 1 {
		t.Errorf("expected size 1, got %d", stats.Size)
	}
	if stats.HitRate <= 0 {
		t.Errorf("expected a positive hit rate, got %f", stats.HitRate)
	}
}

func TestDecisionCacheExpiresEntries(t *testing.T) {
	cache, err := NewDecisionCache(10, time.Millisecond)
	if err != nil {
		t.Fatalf("NewDecisionCache: %v", err)
	}
	fp := Fingerprint("fp-expiring")
	cache.Put(fp, AuthorizationResult{Decision: Permit})

	time.Sleep(5 * time.Millisecond)
	if _, ok := cache.Get(fp); ok {
		t.Errorf("expected entry to have expired")
	}
}

func TestDecisionCacheClear(t *testing.T) {
	cache, err := NewDecisionCache(10, time.Minute)
	if err != nil {
		t.Fatalf("NewDecisionCache: %v", err)
	}
	cache.Put(Fingerprint("a"), AuthorizationResult{Decision: Permit})
	cache.Put(Fingerprint("b"), AuthorizationResult{Decision: Deny})
	cache.Clear()

	if stats := cache.Stats(); stats.Size != 0 {
		t.Errorf("expected empty cache after Clear, got size %d", stats.Size)
	}
}

func TestDecisionCacheEvictsLeastRecentlyUsed(t *testing.T) {
	cache, err := NewDecisionCache(2, time.Minute)
	if err != nil {
		t.Fatalf("NewDecisionCache: %v", err)
	}
	cache.Put(Fingerprint("a"), AuthorizationResult{Decision: Permit})
	cache.Put(Fingerprint("b"), AuthorizationResult{Decision: Permit})
	cache.Put(Fingerprint("c"), AuthorizationResult{Decision: Permit})

	if stats := cache.Stats(); stats.Size != 2 {
		t.Errorf("expected capacity-bounded size 2, got %d", stats.Size)
	}
}
