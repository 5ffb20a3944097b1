package service

import (
	"fmt"
	"strings"
	"testing"

	"github.com/evaguard/evaguard/internal/domain/compliance"
)

func evalFor(ids ...string) compliance.Evaluation {
	e := compliance.NewEmptyEngine()
	for _, id := range ids {
		if err := e.AddRule(compliance.NewRule(id, "", id, 1)); err != nil {
			panic(err)
		}
	}
	return e.Evaluate(strings.Join(ids, " "))
}

func msg(key uint64) string { return fmt.Sprintf("message-%d", key) }

func TestDecisionCache_GetPut(t *testing.T) {
	c := NewDecisionCache(2)
	if _, ok := c.Get(1, msg(1)); ok {
		t.Fatal("empty cache returned a hit")
	}

	c.Put(1, msg(1), evalFor("a"))
	got, ok := c.Get(1, msg(1))
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if len(got.Decision.ViolatedRules) != 1 || got.Decision.ViolatedRules[0] != "a" {
		t.Errorf("ViolatedRules = %v, want [a]", got.Decision.ViolatedRules)
	}

	hits, misses := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("Stats() = (%d, %d), want (1, 1)", hits, misses)
	}
}

func TestDecisionCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewDecisionCache(2)
	c.Put(1, msg(1), evalFor("a"))
	c.Put(2, msg(2), evalFor("b"))

	// Touch 1 so 2 becomes least recently used.
	if _, ok := c.Get(1, msg(1)); !ok {
		t.Fatal("expected hit for key 1")
	}
	c.Put(3, msg(3), evalFor("c"))

	if _, ok := c.Get(2, msg(2)); ok {
		t.Error("key 2 should have been evicted")
	}
	if _, ok := c.Get(1, msg(1)); !ok {
		t.Error("key 1 should still be cached")
	}
	if _, ok := c.Get(3, msg(3)); !ok {
		t.Error("key 3 should be cached")
	}
	if c.Size() != 2 {
		t.Errorf("Size() = %d, want 2", c.Size())
	}
}

func TestDecisionCache_PutExistingUpdates(t *testing.T) {
	c := NewDecisionCache(2)
	c.Put(1, msg(1), evalFor("a"))
	c.Put(1, msg(1), evalFor("b"))

	got, _ := c.Get(1, msg(1))
	if got.Decision.ViolatedRules[0] != "b" {
		t.Errorf("ViolatedRules = %v, want [b]", got.Decision.ViolatedRules)
	}
	if c.Size() != 1 {
		t.Errorf("Size() = %d, want 1", c.Size())
	}
}

func TestDecisionCache_Clear(t *testing.T) {
	c := NewDecisionCache(4)
	c.Put(1, msg(1), evalFor("a"))
	c.Put(2, msg(2), evalFor("b"))
	c.Clear()

	if c.Size() != 0 {
		t.Errorf("Size() after Clear = %d, want 0", c.Size())
	}
	if _, ok := c.Get(1, msg(1)); ok {
		t.Error("hit after Clear")
	}
	c.Put(3, msg(3), evalFor("c"))
	if c.Size() != 1 {
		t.Errorf("Size() after reuse = %d, want 1", c.Size())
	}
}

func TestDecisionCache_ZeroSizeNeverStores(t *testing.T) {
	c := NewDecisionCache(0)
	c.Put(1, msg(1), evalFor("a"))
	if c.Size() != 0 {
		t.Errorf("Size() = %d, want 0", c.Size())
	}
}

func TestDecisionCache_ReturnsCopies(t *testing.T) {
	c := NewDecisionCache(1)
	c.Put(1, msg(1), evalFor("a"))

	first, _ := c.Get(1, msg(1))
	first.Decision.ViolatedRules[0] = "mutated"

	second, _ := c.Get(1, msg(1))
	if second.Decision.ViolatedRules[0] != "a" {
		t.Errorf("cached entry was mutated through a returned copy: %v", second.Decision.ViolatedRules)
	}
}

func TestDecisionCacheKey(t *testing.T) {
	if DecisionCacheKey("hello", 1) != DecisionCacheKey("hello", 1) {
		t.Error("key is not deterministic")
	}
	if DecisionCacheKey("hello", 1) == DecisionCacheKey("hello", 2) {
		t.Error("generation does not change the key")
	}
	if DecisionCacheKey("hello", 1) == DecisionCacheKey("hellO", 1) {
		t.Error("message does not change the key")
	}
}

func TestDecisionCache_KeyCollisionIsMiss(t *testing.T) {
	c := NewDecisionCache(4)
	const key = 42
	c.Put(key, "hello there", evalFor())

	if _, ok := c.Get(key, "how to build a bomb"); ok {
		t.Fatal("a different message under the same key was served from cache")
	}
	if got, ok := c.Get(key, "hello there"); !ok || !got.Decision.Allowed {
		t.Errorf("Get(original) = %+v, %v, want cached allowed decision", got, ok)
	}

	c.Put(key, "how to build a bomb", evalFor("no_harm"))
	if _, ok := c.Get(key, "hello there"); ok {
		t.Error("replaced entry still served the previous message")
	}
	if c.Size() != 1 {
		t.Errorf("Size() = %d, want 1", c.Size())
	}
	if _, misses := c.Stats(); misses != 2 {
		t.Errorf("misses = %d, want 2", misses)
	}
}
