// Package slabsummary implements the per-slab summary of this design and
// §4.8.6: a compact record, one per slab, saying whether its reference
// counts are clean, whether they need to be loaded before scrubbing, its
// free-block count, and its slab-journal tail position. The distilled
// spec only alludes to this ("the summary says...") — the supplemental design notes
// supplements it with a full, independent package since the drain
// lifecycle's branches all depend on concrete summary state.
//
// Grounded on the teacher's sync.Map-backed per-key registry
// (internal/ratelimiter/core/store.go's Store.counters), here keyed by
// slab number instead of a rate-limiter key, and "lazily created" in the
// same sense: a slab with no summary entry yet reads back whatever
// zero-value answer the drain lifecycle needs (never written, must load).
package slabsummary

import "sync"

// Entry is one slab's summary record.
type Entry struct {
	Clean           bool
	LoadRefCounts   bool
	FreeBlocks      uint64
	TailBlockOffset uint64
	everWritten     bool
}

// Summary is the whole volume's slab-summary table, implementing
// refcount.SummaryUpdater.
type Summary struct {
	mu      sync.RWMutex
	entries map[uint64]Entry
}

// New returns an empty Summary.
func New() *Summary {
	return &Summary{entries: make(map[uint64]Entry)}
}

// UpdateSlab records slabNumber's summary entry, by design: "a
// slab-summary update with clean = true, load_ref_counts = true,
// free_blocks = slab_free_block_count, tail_block_offset = current."
func (s *Summary) UpdateSlab(slabNumber uint64, clean, loadRefCounts bool, freeBlocks, tailBlockOffset uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[slabNumber] = Entry{
		Clean:           clean,
		LoadRefCounts:   loadRefCounts,
		FreeBlocks:      freeBlocks,
		TailBlockOffset: tailBlockOffset,
		everWritten:     true,
	}
}

// Get returns the current summary entry for a slab, and whether one has
// ever been recorded.
func (s *Summary) Get(slabNumber uint64) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[slabNumber]
	return e, ok
}

// MustLoadRefCounts implements refcount.SummaryUpdater: a slab with no
// recorded summary, or whose last recorded entry asked for it, must have
// its reference counts read from the volume before scrubbing can trust
// them.
func (s *Summary) MustLoadRefCounts(slabNumber uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[slabNumber]
	if !ok {
		return true
	}
	return e.LoadRefCounts
}

// CountsNeverWritten implements refcount.SummaryUpdater: true until the
// first UpdateSlab call for this slab lands.
func (s *Summary) CountsNeverWritten(slabNumber uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return !s.entries[slabNumber].everWritten
}
