package refcount

import "github.com/dm-vdo/vdo-devel-sub005/internal/vdo/journalpoint"

// markDirty applies the per-entry slab-journal lock bookkeeping
// and, on a fresh dirtying, enqueues the block for write.
//
// Rule A: if the block is already dirty and already owes a write that
// will cover this entry (slab_journal_lock > 0), release the incoming
// entry's own lock immediately — the pending write already accounts for
// it.
//
// Rule B: otherwise this is the first dirtying entry for the block since
// its last write; record its journal sequence number as the lock the
// eventual write must release, and mark the block dirty.
func (rc *RefCounts) markDirty(idx uint64, jp journalpoint.Point) {
	b := rc.blockFor(idx)
	if b.isDirty && b.slabJournalLock > 0 {
		if rc.journal != nil {
			rc.journal.AdjustBlockReference(jp.SequenceNumber, -1)
		}
	} else {
		b.slabJournalLock = jp.SequenceNumber
		b.isDirty = true
	}
	rc.enqueueDirty(b)
}

// enqueueDirty puts b on the dirty_blocks wait queue iff it is not
// already writing and not already queued (this design: "marking dirty
// enqueues the block ... iff it is not already writing").
func (rc *RefCounts) enqueueDirty(b *referenceBlock) {
	if b.isWriting || b.queued {
		return
	}
	b.queued = true
	b.waiter.Value = b
	rc.dirtyBlocks.Enqueue(&b.waiter)
}

// DirtyBlockCount reports how many reference blocks are currently queued
// for write, for tests and stats.
func (rc *RefCounts) DirtyBlockCount() int { return rc.dirtyBlocks.Count() }
