package refcount

import (
	"fmt"

	"github.com/dm-vdo/vdo-devel-sub005/internal/vdo/config"
	"github.com/dm-vdo/vdo-devel-sub005/internal/vdo/journalpoint"
	"github.com/dm-vdo/vdo-devel-sub005/internal/vdo/pbnlock"
	"github.com/dm-vdo/vdo-devel-sub005/internal/vdoerr"
)

// Operation distinguishes the two kinds of reference adjustment.
type Operation int

const (
	// DataRemapping is an ordinary dedup/write reference change.
	DataRemapping Operation = iota
	// BlockMapIncrement is the special provisional→committed transition
	// for block-map blocks, which never dedupe (this design).
	BlockMapIncrement
)

// ZonedPBN identifies a physical block within a particular physical zone
// (this design says "zpbn: (zone, pbn)").
type ZonedPBN struct {
	Zone uint32
	PBN  uint64
}

// Updater describes one reference-count adjustment request (this design).
type Updater struct {
	ZPBN      ZonedPBN
	Increment bool
	Operation Operation
	// Lock is the PBN lock the requesting zone holds on this pbn, if any.
	// Nil means no lock is held.
	Lock *pbnlock.Lock
}

// Adjust applies one reference-count change, enforcing the transition
// table of this design, and returns whether the slab's free/allocated
// status changed (relevant to callers tracking free_blocks deltas).
//
// journalPoint is the recovery/slab-journal position this change is
// associated with; on success, rc.slabJournalPoint advances to it (spec
// §4.8.2: "After any successful adjustment with a valid journal_point,
// update ref_counts.slab_journal_point to it").
func (rc *RefCounts) Adjust(u Updater, jp journalpoint.Point) (freeStatusChanged bool, err error) {
	if rc.state != Open {
		return false, fmt.Errorf("refcount: adjust on slab %d in state %s: %w", rc.slabNumber, rc.state, vdoerr.ErrInvalidAdminState)
	}
	if rc.IsReadOnly() {
		return false, fmt.Errorf("refcount: adjust on read-only slab %d: %w", rc.slabNumber, vdoerr.ErrReadOnly)
	}
	idx, err := rc.indexFromPBN(u.ZPBN.PBN)
	if err != nil {
		return false, err
	}

	switch u.Operation {
	case BlockMapIncrement:
		freeStatusChanged, err = rc.adjustBlockMapIncrement(idx, u, true)
	default:
		if u.Increment {
			freeStatusChanged, err = rc.adjustIncrement(idx, u)
		} else {
			freeStatusChanged, err = rc.adjustDecrement(idx, u)
		}
	}
	if err != nil {
		rc.enterReadOnly(err, rc.checkDrained)
		return false, err
	}

	rc.slabJournalPoint = jp
	rc.markDirty(idx, jp)
	return freeStatusChanged, nil
}

func (rc *RefCounts) adjustIncrement(idx uint64, u Updater) (bool, error) {
	cur := rc.counters[idx]
	switch {
	case cur == config.Empty:
		rc.counters[idx] = 1
		rc.freeBlocks--
		rc.blockFor(idx).allocatedCount++
		return true, nil
	case cur == config.Provisional:
		rc.counters[idx] = 1
		if u.Lock != nil {
			u.Lock.UnassignProvisionalReference()
		}
		return false, nil
	case cur < config.MaximumReferenceCount:
		rc.counters[idx] = cur + 1
		return false, nil
	default:
		return false, fmt.Errorf("refcount: increment at max reference count, pbn %d: %w", u.ZPBN.PBN, vdoerr.ErrRefCountInvalid)
	}
}

func (rc *RefCounts) adjustDecrement(idx uint64, u Updater) (bool, error) {
	cur := rc.counters[idx]
	switch {
	case cur == config.Empty:
		return false, fmt.Errorf("refcount: decrement at zero reference count, pbn %d: %w", u.ZPBN.PBN, vdoerr.ErrRefCountInvalid)
	case (cur == 1 || cur == config.Provisional) && u.Lock != nil && u.Lock.Kind() == pbnlock.Read:
		rc.counters[idx] = config.Provisional
		u.Lock.AssignProvisionalReference()
		return false, nil
	case cur == 1:
		rc.counters[idx] = config.Empty
		rc.freeBlocks++
		rc.blockFor(idx).allocatedCount--
		return true, nil
	case cur == config.Provisional:
		rc.counters[idx] = config.Empty
		rc.freeBlocks++
		rc.blockFor(idx).allocatedCount--
		return true, nil
	default:
		rc.counters[idx] = cur - 1
		return false, nil
	}
}

// adjustBlockMapIncrement applies the BLOCK_MAP_INCREMENT transition
// (this design). normalOperation=false callers (rebuild/replay) also
// accept FREE→MAX; normal callers only accept PROVISIONAL→MAX.
func (rc *RefCounts) adjustBlockMapIncrement(idx uint64, u Updater, normalOperation bool) (bool, error) {
	cur := rc.counters[idx]
	switch {
	case cur == config.Provisional:
		rc.counters[idx] = config.MaximumReferenceCount
		if u.Lock != nil {
			u.Lock.UnassignProvisionalReference()
		}
		return false, nil
	case cur == config.Empty && !normalOperation:
		rc.counters[idx] = config.MaximumReferenceCount
		rc.freeBlocks--
		rc.blockFor(idx).allocatedCount++
		return true, nil
	default:
		return false, fmt.Errorf("refcount: invalid block-map increment from %d, pbn %d: %w", cur, u.ZPBN.PBN, vdoerr.ErrRefCountInvalid)
	}
}

func (rc *RefCounts) blockFor(idx uint64) *referenceBlock {
	return rc.blocks[idx/config.CountsPerBlock]
}

// AdjustForRebuild applies an adjustment the way a rebuild/replay pass
// does (this design): "same as normal adjust but with
// normal_operation=false, no journal point, ignores per-entry lock
// accounting, and marks the block dirty unconditionally." It does not
// check admin state beyond requiring the slab not be read-only, since
// rebuild runs precisely when the slab is not yet Open.
func (rc *RefCounts) AdjustForRebuild(pbn uint64, increment bool, op Operation) error {
	if rc.IsReadOnly() {
		return fmt.Errorf("refcount: rebuild adjust on read-only slab %d: %w", rc.slabNumber, vdoerr.ErrReadOnly)
	}
	idx, err := rc.indexFromPBN(pbn)
	if err != nil {
		return err
	}
	u := Updater{ZPBN: ZonedPBN{PBN: pbn}, Increment: increment, Operation: op}
	var rerr error
	if op == BlockMapIncrement {
		_, rerr = rc.adjustBlockMapIncrement(idx, u, false)
	} else if increment {
		_, rerr = rc.adjustIncrement(idx, u)
	} else {
		_, rerr = rc.adjustDecrement(idx, u)
	}
	if rerr != nil {
		rc.enterReadOnly(rerr, rc.checkDrained)
		return rerr
	}
	b := rc.blockFor(idx)
	b.isDirty = true
	rc.enqueueDirty(b)
	return nil
}

// ReplayChange applies a recovery-journal entry unless it is already
// reflected in this counter's durable state (this design): "if
// before(block.commit_points[sector], entry_point) is false, the update
// is already durable — skip." Idempotent: replaying the same entry twice
// is a no-op the second time (this design).
func (rc *RefCounts) ReplayChange(entryPoint journalpoint.Point, pbn uint64, increment bool, op Operation) error {
	idx, err := rc.indexFromPBN(pbn)
	if err != nil {
		return err
	}
	b := rc.blockFor(idx)
	sector := sectorIndex(idx)
	if !journalpoint.Before(b.commitPoints[sector], entryPoint) {
		return nil
	}
	if err := rc.AdjustForRebuild(pbn, increment, op); err != nil {
		return err
	}
	b.commitPoints[sector] = entryPoint
	return nil
}

// sectorIndex returns which of a reference block's sectors a slab-local
// counter index falls under.
func sectorIndex(idx uint64) int {
	withinBlock := idx % config.CountsPerBlock
	return int(withinBlock / config.CountsPerSector)
}
