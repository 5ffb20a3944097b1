package service

import (
	"crypto/sha256"
	"encoding/binary"
	"slices"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/evaguard/evaguard/internal/domain/compliance"
)

// cacheEntry is a doubly-linked list node for the LRU cache.
type cacheEntry struct {
	key    uint64
	digest [sha256.Size]byte
	eval   compliance.Evaluation
	prev   *cacheEntry
	next   *cacheEntry
}

// DecisionCache is a bounded LRU of evaluations keyed by DecisionCacheKey.
// Each entry also carries the SHA-256 of its message; a key whose digest does
// not match the looked-up message is a miss, so an xxhash collision can never
// return another message's decision.
// Both Get and Put reorder the list, so a plain Mutex guards it.
type DecisionCache struct {
	mu      sync.Mutex
	entries map[uint64]*cacheEntry
	head    *cacheEntry // most recently used
	tail    *cacheEntry // least recently used
	maxSize int

	hits   uint64
	misses uint64
}

// NewDecisionCache creates a cache holding at most maxSize evaluations.
// A maxSize of zero or less yields a cache that never stores anything.
func NewDecisionCache(maxSize int) *DecisionCache {
	if maxSize < 0 {
		maxSize = 0
	}
	return &DecisionCache{
		entries: make(map[uint64]*cacheEntry, maxSize),
		maxSize: maxSize,
	}
}

// DecisionCacheKey hashes the message together with the rule-set generation,
// so a rule change never serves a stale decision even before Clear runs.
func DecisionCacheKey(message string, generation uint64) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(message)
	_, _ = h.Write([]byte{0})
	var gen [8]byte
	binary.LittleEndian.PutUint64(gen[:], generation)
	_, _ = h.Write(gen[:])
	return h.Sum64()
}

// Get returns a copy of the evaluation cached for message under key and
// promotes it.
func (c *DecisionCache) Get(key uint64, message string) (compliance.Evaluation, bool) {
	digest := sha256.Sum256([]byte(message))

	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok || e.digest != digest {
		c.misses++
		return compliance.Evaluation{}, false
	}
	c.hits++
	c.moveToHeadLocked(e)
	return cloneEvaluation(e.eval), true
}

// Put stores the evaluation of message under key, evicting the least
// recently used entry at capacity. An existing entry under key is replaced.
func (c *DecisionCache) Put(key uint64, message string, eval compliance.Evaluation) {
	if c.maxSize == 0 {
		return
	}
	digest := sha256.Sum256([]byte(message))

	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.digest = digest
		e.eval = cloneEvaluation(eval)
		c.moveToHeadLocked(e)
		return
	}
	if len(c.entries) >= c.maxSize {
		c.evictTailLocked()
	}
	e := &cacheEntry{key: key, digest: digest, eval: cloneEvaluation(eval)}
	c.entries[key] = e
	c.pushHeadLocked(e)
}

// Clear empties the cache. Called whenever the rule set changes.
func (c *DecisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*cacheEntry, c.maxSize)
	c.head = nil
	c.tail = nil
}

// Size returns the number of cached evaluations.
func (c *DecisionCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Stats returns the hit and miss counters.
func (c *DecisionCache) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *DecisionCache) moveToHeadLocked(e *cacheEntry) {
	if c.head == e {
		return
	}
	c.unlinkLocked(e)
	c.pushHeadLocked(e)
}

func (c *DecisionCache) pushHeadLocked(e *cacheEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *DecisionCache) unlinkLocked(e *cacheEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev = nil
	e.next = nil
}

func (c *DecisionCache) evictTailLocked() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlinkLocked(c.tail)
}

// cloneEvaluation copies the violation list so callers never share it.
func cloneEvaluation(ev compliance.Evaluation) compliance.Evaluation {
	ev.Decision.ViolatedRules = slices.Clone(ev.Decision.ViolatedRules)
	if ev.Decision.ViolatedRules == nil {
		ev.Decision.ViolatedRules = []string{}
	}
	return ev
}
