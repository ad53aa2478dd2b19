package refcount

import (
	"fmt"

	"github.com/dm-vdo/vdo-devel-sub005/internal/vdo/config"
	"github.com/dm-vdo/vdo-devel-sub005/internal/vdo/journalpoint"
)

// Region is the byte-addressable backing store a slab's reference blocks
// are written to and read from — the same capability set pkg/iofactory
// wraps, narrowed to what packing/unpacking needs.
type Region interface {
	ReadAt(p []byte, off int64) (int, error)
	WriteAt(p []byte, off int64) (int, error)
	Sync() error
}

// BlockOffset returns the byte offset of reference block i within
// region, given the region's base offset for this slab's reference
// blocks.
func BlockOffset(base int64, i int) int64 {
	return base + int64(i)*config.BlockSize
}

// pack serializes one reference block exactly as this design
// describes: SectorsPerBlock sectors, each a packed journal point
// followed by CountsPerSector counter bytes, sectors in ascending order,
// counters within a sector ascending by counter index.
func (rc *RefCounts) pack(b *referenceBlock, sharedPoint journalpoint.Point) []byte {
	buf := make([]byte, config.BlockSize)
	start, _ := b.counterRange()
	for s := 0; s < config.SectorsPerBlock; s++ {
		sectorOff := s * config.SectorSize
		journalpoint.Pack(sharedPoint, buf[sectorOff:sectorOff+journalpoint.PackedSize])
		counterOff := sectorOff + journalpoint.PackedSize
		srcOff := start + s*config.CountsPerSector
		copy(buf[counterOff:counterOff+config.CountsPerSector], rc.counters[srcOff:srcOff+config.CountsPerSector])
	}
	return buf
}

// unpack decodes one on-disk reference block, by design read
// algorithm: choose slab_journal_point as the max across sectors, warn on
// disagreement (a torn write), record each sector's own commit point for
// future torn-write comparisons, and clear PROVISIONAL entries (they
// were never committed).
func (rc *RefCounts) unpack(b *referenceBlock, buf []byte) {
	start, _ := b.counterRange()
	var shared journalpoint.Point
	torn := false
	tornSector := -1
	for s := 0; s < config.SectorsPerBlock; s++ {
		sectorOff := s * config.SectorSize
		point := journalpoint.Unpack(buf[sectorOff : sectorOff+journalpoint.PackedSize])
		b.commitPoints[s] = point
		if s == 0 {
			shared = point
		} else if point != shared {
			torn = true
			if journalpoint.Before(shared, point) {
				tornSector = s
			}
			shared = journalpoint.Max(shared, point)
		}
		counterOff := sectorOff + journalpoint.PackedSize
		dstOff := start + s*config.CountsPerSector
		copy(rc.counters[dstOff:dstOff+config.CountsPerSector], buf[counterOff:counterOff+config.CountsPerSector])
	}
	if torn {
		if tornSector < 0 {
			tornSector = 0
		}
		rc.logger.Warnf("Torn write detected in sector %d of reference block %d, slab %d", tornSector, b.index, rc.slabNumber)
	}

	allocated := 0
	for i := start; i < start+config.CountsPerBlock; i++ {
		if rc.counters[i] == config.Provisional {
			rc.counters[i] = config.Empty
		}
		if rc.counters[i] != config.Empty {
			allocated++
		}
	}
	b.allocatedCount = allocated
	b.isDirty = false
	rc.slabJournalPoint = journalpoint.Max(rc.slabJournalPoint, shared)
}

// WriteBlock writes one dirty reference block out, per the persistence
// algorithm of this design: pack, snapshot the lock-to-release, clear
// is_dirty before issuing the write, write, then release the snapshotted
// slab-journal lock and re-enqueue if the block was redirtied mid-write.
//
// base is the byte offset of this slab's first reference block within
// region.
func (rc *RefCounts) WriteBlock(region Region, base int64, i int, preflush func() error) error {
	b := rc.blocks[i]
	if rc.IsReadOnly() {
		// Read-only: pending writers never issue (this design).
		return nil
	}
	b.lockToRelease = b.slabJournalLock
	b.isDirty = false
	b.isWriting = true
	rc.activeIO++

	buf := rc.pack(b, rc.slabJournalPoint)
	var err error
	if preflush != nil {
		err = preflush()
	}
	if err == nil {
		_, err = region.WriteAt(buf, BlockOffset(base, i))
	}
	if err == nil {
		err = region.Sync()
	}

	b.isWriting = false
	rc.activeIO--
	if err != nil {
		rc.enterReadOnly(fmt.Errorf("refcount: write reference block %d of slab %d: %w", i, rc.slabNumber, err), rc.checkDrained)
		return err
	}

	if rc.journal != nil && b.lockToRelease != 0 {
		rc.journal.AdjustBlockReference(b.lockToRelease, -1)
	}
	b.lockToRelease = 0
	b.queued = false
	rc.dirtyBlocks.Remove(&b.waiter)
	if b.isDirty {
		rc.enqueueDirty(b)
	}
	return nil
}

// ReadBlock loads one reference block from region, by design read
// algorithm.
func (rc *RefCounts) ReadBlock(region Region, base int64, i int) error {
	buf := make([]byte, config.BlockSize)
	if _, err := region.ReadAt(buf, BlockOffset(base, i)); err != nil {
		rc.enterReadOnly(fmt.Errorf("refcount: read reference block %d of slab %d: %w", i, rc.slabNumber, err), rc.checkDrained)
		return err
	}
	before := rc.blocks[i].allocatedCount
	rc.unpack(rc.blocks[i], buf)
	after := rc.blocks[i].allocatedCount
	rc.freeBlocks -= uint64(after - before)
	return nil
}

