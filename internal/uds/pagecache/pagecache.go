// Package pagecache implements the UDS volume's approximate-LRU page
// cache: a fixed set of slots holding chapter record/index pages keyed by
// physical page index, with get/make-most-recent/select-victim/put and
// invalidate operations. Eviction is a linear scan for the minimum
// last-used ordinal, acceptable at the hundreds-to-low-thousands slot
// counts a real deployment uses; ties favor the lower slot index.
//
// Grounded on the teacher's internal/ratelimiter/core/store.go: a
// sync.Map-backed registry of lazily-created per-key instances with a
// fast-path lookup. Here the "key" is a physical page index and the
// registry is a fixed slot array instead of an unbounded map, since a
// cache (unlike the rate limiter's key space) has a hard capacity.
package pagecache

import (
	"sync"
	"sync/atomic"
)

// sentinel marks a slot as not currently holding any physical page.
const sentinel = ^uint64(0)

// CachedPage is one cache slot's content.
type CachedPage struct {
	physicalPage uint64
	lastUsed     atomic.Uint64
	busy         bool
	Data         []byte
}

// PhysicalPage returns the physical page index this slot currently holds,
// or false if the slot is empty.
func (c *CachedPage) PhysicalPage() (uint64, bool) {
	p := atomic.LoadUint64(&c.physicalPage)
	return p, p != sentinel
}

// Cache is a fixed-size approximate-LRU page cache.
type Cache struct {
	mu sync.Mutex

	slots        []*CachedPage
	index        map[uint64]int // physical page -> slot index
	lastUsed     atomic.Uint64
	pagesPerChapter uint64
}

// New returns a Cache with the given slot capacity. pagesPerChapter sizes
// InvalidateChapter's sweep and must match the geometry the volume uses.
func New(slotCount int, pagesPerChapter uint64) *Cache {
	slots := make([]*CachedPage, slotCount)
	for i := range slots {
		slots[i] = &CachedPage{physicalPage: sentinel}
	}
	return &Cache{
		slots:           slots,
		index:           make(map[uint64]int, slotCount),
		pagesPerChapter: pagesPerChapter,
	}
}

// Get returns the resident page for physical page p, never blocking and
// never evicting. The second return value is false if p is not resident.
//
// Safe to call concurrently with other Get calls and with MakeMostRecent
// (last_used is updated via an atomic, per the concurrency note on
// multiple reader threads calling get without external locking); Put,
// SelectVictim, and Invalidate still take the cache's lock since they
// mutate the slot/index structure itself.
func (c *Cache) Get(p uint64) (*CachedPage, bool) {
	c.mu.Lock()
	idx, ok := c.index[p]
	c.mu.Unlock()
	if !ok {
		return nil, false
	}
	slot := c.slots[idx]
	if got, resident := slot.PhysicalPage(); !resident || got != p {
		return nil, false
	}
	return slot, true
}

// MakeMostRecent bumps page's recency ordinal to the current maximum.
func (c *Cache) MakeMostRecent(page *CachedPage) {
	page.lastUsed.Store(c.lastUsed.Add(1))
}

// SelectVictim returns a non-busy slot with minimal last-used ordinal,
// marks it busy, and clears its physical page so the caller can populate
// it. Ties favor the lowest slot index.
func (c *Cache) SelectVictim() *CachedPage {
	c.mu.Lock()
	defer c.mu.Unlock()

	var victim *CachedPage
	var victimOrdinal uint64
	for _, s := range c.slots {
		if s.busy {
			continue
		}
		ordinal := s.lastUsed.Load()
		if victim == nil || ordinal < victimOrdinal {
			victim = s
			victimOrdinal = ordinal
		}
	}
	if victim == nil {
		return nil
	}
	victim.busy = true
	if old, resident := victim.PhysicalPage(); resident {
		delete(c.index, old)
	}
	atomic.StoreUint64(&victim.physicalPage, sentinel)
	return victim
}

// Put installs p into slot (previously returned by SelectVictim),
// records its data, bumps recency, indexes it, and clears busy.
func (c *Cache) Put(p uint64, slot *CachedPage, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot.Data = data
	slot.lastUsed.Store(c.lastUsed.Add(1))
	atomic.StoreUint64(&slot.physicalPage, p)
	c.index[p] = c.slotIndex(slot)
	slot.busy = false
}

func (c *Cache) slotIndex(target *CachedPage) int {
	for i, s := range c.slots {
		if s == target {
			return i
		}
	}
	return -1
}

// Invalidate evicts p if resident, freeing its slot.
func (c *Cache) Invalidate(p uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idx, ok := c.index[p]
	if !ok {
		return
	}
	delete(c.index, p)
	atomic.StoreUint64(&c.slots[idx].physicalPage, sentinel)
}

// InvalidateChapter evicts every page belonging to physical chapter c,
// given the geometry's pages-per-chapter.
func (c *Cache) InvalidateChapter(chapter uint64) {
	base := chapter * c.pagesPerChapter
	for p := base; p < base+c.pagesPerChapter; p++ {
		c.Invalidate(p)
	}
}

// MostRecentOrder returns resident physical pages ordered from most to
// least recently used, for diagnostics and tests.
func (c *Cache) MostRecentOrder() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	type entry struct {
		page     uint64
		lastUsed uint64
	}
	entries := make([]entry, 0, len(c.index))
	for p, idx := range c.index {
		entries = append(entries, entry{page: p, lastUsed: c.slots[idx].lastUsed.Load()})
	}
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].lastUsed > entries[j-1].lastUsed; j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
	out := make([]uint64, len(entries))
	for i, e := range entries {
		out[i] = e.page
	}
	return out
}
