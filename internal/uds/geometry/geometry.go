// Package geometry derives the UDS chapter geometry of this design from a
// memory-size parameter and a sparse flag, per §2's "UDS configuration &
// geometry" component and the session API's Parameters struct (§6).
//
// Grounded on the teacher's Options-struct-with-defaults idiom
// (pkg/vsa.Options, internal/ratelimiter/core.NewStoreWithOptions): a
// zero-value-friendly struct plus a constructor that fills in defaults and
// validates, returning an error for invalid combinations rather than
// panicking (mirroring persistence/redis.go's markerTTL<=0 default-filling).
package geometry

import (
	"fmt"

	"github.com/dm-vdo/vdo-devel-sub005/internal/udserr"
)

// BytesPerPage is the fixed physical page size every index/record page
// occupies (this design).
const BytesPerPage = 4096

// BytesPerRecordName is the fixed fingerprint width (this design).
const BytesPerRecordName = 16

// BytesPerMetadata is the fixed opaque-metadata width carried by a record
// (this design).
const BytesPerMetadata = 16

// bytesPerRecord is a record's on-page footprint: the name plus its
// metadata, with no extra framing (this design: "metadata is 16 bytes
// opaque to the index").
const bytesPerRecord = BytesPerRecordName + BytesPerMetadata

// MinMemoryGB and the fractional-GB steps below it are the "small memory"
// configurations named in this design ("256MB/512MB/768MB/1,…GB"). Expressed
// in GB so 256MB == 0.25, 512MB == 0.5, 768MB == 0.75.
const (
	QuarterGB      = 0.25
	HalfGB         = 0.5
	ThreeQuarterGB = 0.75
	MinWholeGB     = 1.0
)

// Geometry is the derived chapter layout for one volume.
type Geometry struct {
	MemoryGB float64
	Sparse   bool

	RecordsPerPage        int
	RecordPagesPerChapter int
	IndexPagesPerChapter  int
	ChaptersPerVolume     int
	// SparseChapterInterval is the stride at which a sparse volume holds a
	// genuinely sparse (rarely-consulted) chapter: "sparse chapters exist
	// at every sparse_chapters-th slot" (this design). 0 when Sparse is false.
	SparseChapterInterval int
}

// PagesPerChapter is the total page count (index pages + record pages)
// occupied by one chapter on the volume (this design).
func (g Geometry) PagesPerChapter() int {
	return g.IndexPagesPerChapter + g.RecordPagesPerChapter
}

// BytesPerChapter is "bytes_per_page * (index_pages_per_chapter +
// record_pages_per_chapter)" (this design).
func (g Geometry) BytesPerChapter() int64 {
	return int64(BytesPerPage) * int64(g.PagesPerChapter())
}

// IndexablePages is the total number of physical pages across the whole
// volume, the upper bound the page cache's physical_page must stay under
// (this design: "physical_page < indexable_pages").
func (g Geometry) IndexablePages() int {
	return g.ChaptersPerVolume * g.PagesPerChapter()
}

// RecordsPerChapter is the maximum number of records an open chapter can
// accept before it must be closed (this design).
func (g Geometry) RecordsPerChapter() int {
	return g.RecordsPerPage * g.RecordPagesPerChapter
}

// PhysicalChapter maps a monotonically increasing virtual chapter number
// onto its physical slot: "the physical slot is virtual mod
// chapters_per_volume" (this design).
func (g Geometry) PhysicalChapter(virtualChapter uint64) int {
	return int(virtualChapter % uint64(g.ChaptersPerVolume))
}

// IsSparseChapter reports whether the given virtual chapter falls on the
// sparse stride (this design). Always false when the geometry is not sparse.
func (g Geometry) IsSparseChapter(virtualChapter uint64) bool {
	if !g.Sparse || g.SparseChapterInterval <= 0 {
		return false
	}
	return virtualChapter%uint64(g.SparseChapterInterval) == 0
}

// PageOffset returns the byte offset, within the volume region (after any
// super-block/config-block prefix), of the given 0-based page within the
// chapter at the given physical slot.
func (g Geometry) PageOffset(physicalChapter, pageInChapter int) int64 {
	chapterStart := int64(physicalChapter) * g.BytesPerChapter()
	return chapterStart + int64(pageInChapter)*BytesPerPage
}

// Derive computes a Geometry from a memory-size (in GB, accepting the
// fractional small-memory steps) and a sparse flag, by design.
//
// The scaling below is a deliberately simple, self-consistent derivation:
// larger memory budgets buy more record pages per chapter (more bytes of
// volume index entries addressable per dollar of RAM, in the real UDS
// design) and a larger chapter count. It is not a reproduction of the
// original C implementation's table-driven constants — the spec pins the
// *shape* of the derivation (§2, §6) and the invariants it must satisfy
// (§8.1's round-trip-by-byte parameter check), not specific table values.
func Derive(memoryGB float64, sparse bool) (Geometry, error) {
	if memoryGB <= 0 {
		return Geometry{}, fmt.Errorf("geometry: memory size must be positive: %w", udserr.ErrInvalidArgument)
	}
	switch {
	case memoryGB < QuarterGB:
		return Geometry{}, fmt.Errorf("geometry: memory size %.3fGB below minimum %.2fGB: %w", memoryGB, QuarterGB, udserr.ErrInvalidArgument)
	}

	g := Geometry{MemoryGB: memoryGB, Sparse: sparse}
	g.RecordsPerPage = BytesPerPage / bytesPerRecord

	switch {
	case memoryGB < MinWholeGB:
		// Small-memory configurations (256MB/512MB/768MB): a handful of
		// record pages per chapter and a short volume, so the whole index
		// still fits the stated RAM budget for its in-memory volume-index
		// shadow.
		g.RecordPagesPerChapter = int(memoryGB*48) + 1
		g.IndexPagesPerChapter = 1
		g.ChaptersPerVolume = 64
	default:
		// Whole-GB configurations scale linearly: each additional GB adds
		// capacity for more record pages per chapter and more chapters,
		// keeping the per-chapter index-page fraction roughly constant.
		g.RecordPagesPerChapter = int(memoryGB * 13)
		g.IndexPagesPerChapter = 1 + int(memoryGB/4)
		g.ChaptersPerVolume = int(1024 * memoryGB)
	}

	if g.RecordPagesPerChapter < 1 {
		g.RecordPagesPerChapter = 1
	}
	if g.ChaptersPerVolume < 2 {
		g.ChaptersPerVolume = 2
	}

	if sparse {
		// A sparse volume reserves roughly 9 out of every 10 chapters for
		// dense coverage and devotes every 10th slot to sparse coverage
		// (this design says "sparse chapters exist at every sparse_chapters-th
		// slot").
		g.SparseChapterInterval = 10
		if g.ChaptersPerVolume < g.SparseChapterInterval*2 {
			g.ChaptersPerVolume = g.SparseChapterInterval * 2
		}
	}

	return g, nil
}

// ConvertToLVM shrinks the geometry by exactly one chapter, by design
// convert_to_lvm: "shrink the index by one chapter ... freeing at least
// freed_space ... at the start." It returns the byte size of the chapter
// removed (the "chapter size moved" the operation reports) and the new
// Geometry, or an error if shrinking by one chapter would not free at
// least freedSpace bytes or would leave fewer than 2 chapters (a volume
// needs at least an oldest and a currently-open chapter).
func (g Geometry) ConvertToLVM(freedSpace int64) (shrunk Geometry, chapterSize int64, err error) {
	if freedSpace < 0 || freedSpace%BytesPerPage != 0 {
		return Geometry{}, 0, fmt.Errorf("geometry: freed_space %d must be a non-negative multiple of %d: %w", freedSpace, BytesPerPage, udserr.ErrInvalidArgument)
	}
	chapterSize = g.BytesPerChapter()
	if chapterSize < freedSpace {
		return Geometry{}, 0, fmt.Errorf("geometry: shrinking by one chapter frees %d bytes, less than requested %d: %w", chapterSize, freedSpace, udserr.ErrOverflow)
	}
	if g.ChaptersPerVolume <= 2 {
		return Geometry{}, 0, fmt.Errorf("geometry: cannot shrink below 2 chapters: %w", udserr.ErrInvalidArgument)
	}
	shrunk = g
	shrunk.ChaptersPerVolume--
	return shrunk, chapterSize, nil
}
