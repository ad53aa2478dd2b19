package refcount

import (
	"fmt"

	"github.com/dm-vdo/vdo-devel-sub005/internal/vdo/config"
	"github.com/dm-vdo/vdo-devel-sub005/internal/vdo/pbnlock"
	"github.com/dm-vdo/vdo-devel-sub005/internal/vdoerr"
)

// AllocateUnreferencedBlock searches for the first FREE counter starting
// at the search cursor, flips it to PROVISIONAL, and returns its
// slab-local pbn (this design). Returns vdoerr.ErrNoSpace if a full sweep
// finds nothing.
func (rc *RefCounts) AllocateUnreferencedBlock() (uint64, error) {
	numBlocks := len(rc.blocks)
	for attempt := 0; attempt <= numBlocks; attempt++ {
		b := rc.blocks[rc.cursor.block]
		start, validEnd := rc.validCounterRange(b)
		if b.allocatedCount < validEnd-start {
			if idx, ok := findFreeBlock(rc.counters, start+rc.cursor.index, validEnd); ok {
				rc.counters[idx] = config.Provisional
				b.allocatedCount++
				rc.freeBlocks--
				rc.cursor.index = (idx - start) + 1
				if start+rc.cursor.index >= validEnd {
					rc.advanceSearchCursor()
				}
				return uint64(idx), nil
			}
		}
		rc.advanceSearchCursor()
	}
	return 0, fmt.Errorf("refcount: slab %d has no free blocks: %w", rc.slabNumber, vdoerr.ErrNoSpace)
}

// validCounterRange returns the [start, end) bounds of b's counters that
// actually belong to this slab's block_count, which can be short of a
// full config.CountsPerBlock in the last reference block when block_count
// is not an exact multiple of it.
func (rc *RefCounts) validCounterRange(b *referenceBlock) (start, end int) {
	start, end = b.counterRange()
	if uint64(end) > rc.blockCount {
		end = int(rc.blockCount)
	}
	return start, end
}

// findFreeBlock does a linear scan of counters[start:end) for the first
// byte equal to config.Empty. Spec §4.8.4 calls for a "word-aligned scan"
// as a performance optimization; a Go byte-wise scan over a few thousand
// bytes is fast enough at the sizes involved and preserves the same
// observable contract (first free index in range).
func findFreeBlock(counters []byte, start, end int) (int, bool) {
	if end > len(counters) {
		end = len(counters)
	}
	for i := start; i < end; i++ {
		if counters[i] == config.Empty {
			return i, true
		}
	}
	return 0, false
}

// advanceSearchCursor moves the cursor to the start of the next reference
// block, wrapping to block 0 after the last one. Returns true exactly
// once per full sweep, on the wrap (this design: "wrap returns false
// exactly once per full sweep" — phrased from the caller's perspective in
// the spec text; here the boolean reports "just wrapped", which the
// caller uses to detect sweep completion).
func (rc *RefCounts) advanceSearchCursor() bool {
	rc.cursor.index = 0
	rc.cursor.endIndex = config.CountsPerBlock
	rc.cursor.block++
	if rc.cursor.block >= len(rc.blocks) {
		rc.cursor.block = 0
		return true
	}
	return false
}

// ProvisionallyReferenceBlock sets pbn's counter to PROVISIONAL if it is
// currently FREE, assigning the provisional reference to lock if given;
// idempotent on an already-non-FREE counter (this design).
func (rc *RefCounts) ProvisionallyReferenceBlock(pbn uint64, lock *pbnlock.Lock) error {
	idx, err := rc.indexFromPBN(pbn)
	if err != nil {
		return err
	}
	if rc.counters[idx] != config.Empty {
		return nil
	}
	rc.counters[idx] = config.Provisional
	rc.blockFor(idx).allocatedCount++
	rc.freeBlocks--
	if lock != nil {
		lock.AssignProvisionalReference()
	}
	return nil
}
