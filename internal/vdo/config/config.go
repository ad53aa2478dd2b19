// Package config defines the fixed on-disk layout constants of the VDO
// reference-block format (this design) and the Options-with-defaults
// struct used to size a slab depot, following the teacher's
// Options-struct idiom (pkg/vsa.Options).
package config

import "fmt"

// SectorSize is the physical disk sector size a reference block is
// divided into (this design).
const SectorSize = 512

// BlockSize is the physical block size of one reference block: exactly
// one physical block (4 KiB).
const BlockSize = 4096

// SectorsPerBlock is "VDO_SECTORS_PER_BLOCK" (this design).
const SectorsPerBlock = BlockSize / SectorSize

// PackedJournalPointSize is the on-disk footprint of the packed journal
// point stored at the front of each sector (this design): an 8-byte
// sequence number and a 4-byte entry count, matching
// journalpoint.PackedSize. Duplicated here (rather than imported) so this
// package has no dependency on journalpoint, keeping the layout constants
// free of any particular Go type's import graph.
const PackedJournalPointSize = 12

// CountsPerSector is "COUNTS_PER_SECTOR" (this design): the number of
// 1-byte counters a sector holds after its packed journal point.
const CountsPerSector = (SectorSize - PackedJournalPointSize) / 1

// CountsPerBlock is "COUNTS_PER_BLOCK" (this design).
const CountsPerBlock = CountsPerSector * SectorsPerBlock

// Reference-counter byte values (this design).
const (
	// Empty is RS_FREE: the counter has no reference.
	Empty byte = 0
	// MaximumReferenceCount is the largest ordinary (non-sentinel)
	// reference count a counter byte can hold.
	MaximumReferenceCount byte = 254
	// Provisional is the sentinel value representing an
	// allocated-but-not-yet-committed reference.
	Provisional byte = 255
)

// SlabConfig sizes one slab: how many physical blocks it spans and how
// many reference blocks are needed to cover them.
type SlabConfig struct {
	// BlockCount is the number of data blocks this slab manages.
	BlockCount uint64
}

// Normalize validates and fills in defaults for a SlabConfig, matching the
// teacher's Options.Normalize idiom (the supplemental design notes).
func (c SlabConfig) Normalize() (SlabConfig, error) {
	if c.BlockCount == 0 {
		return SlabConfig{}, fmt.Errorf("config: slab block_count must be positive")
	}
	return c, nil
}

// ReferenceBlockCount returns the number of reference blocks needed to
// cover BlockCount counters, each reference block covering CountsPerBlock
// of them (this design).
func (c SlabConfig) ReferenceBlockCount() uint64 {
	return (c.BlockCount + CountsPerBlock - 1) / CountsPerBlock
}
