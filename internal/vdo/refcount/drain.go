package refcount

import "github.com/dm-vdo/vdo-devel-sub005/pkg/waitqueue"

// SummaryUpdater is the slab summary hook consulted and updated across
// the drain lifecycle (this design); internal/vdo/slabsummary.Summary
// implements it.
type SummaryUpdater interface {
	// MustLoadRefCounts reports whether the summary says this slab's
	// reference counts need to be read from the volume before scrubbing.
	MustLoadRefCounts(slabNumber uint64) bool
	// CountsNeverWritten reports whether the summary says this slab's
	// reference counts have never been durably written.
	CountsNeverWritten(slabNumber uint64) bool
	// UpdateSlab records the slab's clean/dirty state and tail position.
	UpdateSlab(slabNumber uint64, clean, loadRefCounts bool, freeBlocks, tailBlockOffset uint64)
}

// DrainAction is what Drain decided to do, so the caller (the slab's
// allocator-thread loop) knows whether to launch reads, launch writes, or
// simply notify completion.
type DrainAction int

const (
	// DrainNoop means the drain completed with no I/O needed.
	DrainNoop DrainAction = iota
	// DrainLoadReads means the caller must issue ReadBlock for every
	// reference block before the slab is usable.
	DrainLoadReads
	// DrainSave means the caller must write every dirty block (spec
	// §4.8.6's "save": enqueue every dirty block, then update the
	// summary once idle).
	DrainSave
)

// Drain decides what the admin-state-dependent drain behavior
// requires for the slab's current state, dirtying blocks as a side
// effect where this design calls for it. The caller is responsible for
// actually performing the I/O the returned DrainAction calls for and,
// once it completes, calling FinishDrain.
func (rc *RefCounts) Drain(summary SummaryUpdater, tailBlockOffset uint64) DrainAction {
	rc.drainSummary = summary
	rc.drainTailOffset = tailBlockOffset
	switch rc.state {
	case Recovering, Suspending:
		return DrainNoop
	case Scrubbing:
		if summary != nil && summary.MustLoadRefCounts(rc.slabNumber) {
			return DrainLoadReads
		}
		return DrainNoop
	case SaveForScrubbing:
		if summary != nil && summary.CountsNeverWritten(rc.slabNumber) {
			rc.dirtyAllBlocks()
		}
		return rc.save(summary, tailBlockOffset)
	case Rebuilding:
		rc.dirtyAllBlocks()
		return rc.save(summary, tailBlockOffset)
	case Saving:
		if rc.wasRebuilt {
			return rc.save(summary, tailBlockOffset)
		}
		return DrainNoop
	default:
		return DrainNoop
	}
}

func (rc *RefCounts) dirtyAllBlocks() {
	for _, b := range rc.blocks {
		b.isDirty = true
		rc.enqueueDirty(b)
	}
}

func (rc *RefCounts) save(summary SummaryUpdater, tailBlockOffset uint64) DrainAction {
	if rc.dirtyBlocks.Count() == 0 {
		rc.maybeMarkClean(summary, tailBlockOffset)
		return DrainNoop
	}
	return DrainSave
}

// maybeMarkClean updates the slab summary with clean=true once every
// dirty block has been written and no I/O remains outstanding (spec
// §4.8.6: "completion of the last pending I/O plus an empty dirty queue
// plus no in-flight summary update triggers a slab-summary update").
func (rc *RefCounts) maybeMarkClean(summary SummaryUpdater, tailBlockOffset uint64) {
	if summary == nil {
		return
	}
	if rc.dirtyBlocks.Count() != 0 || rc.activeIO != 0 {
		return
	}
	summary.UpdateSlab(rc.slabNumber, true, true, rc.freeBlocks, tailBlockOffset)
}

// checkDrained re-evaluates the drain started by the most recent Drain
// call, so an I/O error reaching enterReadOnly from Adjust, WriteBlock,
// or ReadBlock does not leave a waiting drain stuck (spec §4.8.7: "so a
// drain in progress does not hang"). Once read-only, pending block
// writers never issue again, so they are popped and discarded from the
// dirty queue here rather than left waiting for a write that will never
// happen (this design: "may be popped and discarded from the dirty
// queue when the slab is drained"). A no-op if no drain is in progress
// (drainSummary is nil until the first Drain call).
func (rc *RefCounts) checkDrained() {
	if rc.readOnly.Load() {
		rc.dirtyBlocks.NotifyAll(func(w *waitqueue.Waiter, _ any) {
			if b, ok := w.Value.(*referenceBlock); ok {
				b.queued = false
			}
		}, nil)
	}
	rc.maybeMarkClean(rc.drainSummary, rc.drainTailOffset)
}

// FinishDrain is called by the allocator-thread loop after it has
// performed whatever I/O Drain requested (or immediately, for DrainNoop)
// so the slab summary can be updated once truly idle.
func (rc *RefCounts) FinishDrain(summary SummaryUpdater, tailBlockOffset uint64) {
	rc.maybeMarkClean(summary, tailBlockOffset)
}

// MarkRebuilt records that this slab has finished rebuilding, gating the
// "SAVING → save iff slab is REBUILT" branch of this design. SetState
// alone cannot carry this: a slab can be SAVING without ever having
// passed through REBUILT (e.g. an ordinary clean shutdown), so Drain
// needs a fact that survives the Rebuilt → Saving transition rather than
// inspecting rc.state, which SetState(Saving) has already overwritten.
func (rc *RefCounts) MarkRebuilt() { rc.wasRebuilt = true }
