// Package journalpoint implements the recovery/slab-journal position of
// this design: a total-ordered (sequence_number, entry_count) pair used
// throughout the VDO reference-count engine to say "this counter reflects
// updates up to and including here."
package journalpoint

import "encoding/binary"

// Point is a journal position: "(sequence_number, entry_count). Total
// order: lexicographic" (this design).
type Point struct {
	SequenceNumber uint64
	EntryCount     uint32
}

// Zero is the smallest possible Point, ordering before every entry ever
// recorded. It is the initial value of a reference-count array's
// slab_journal_point before any journaled adjustment has been applied.
var Zero = Point{}

// Before reports whether a orders strictly before b: "before(a,b) iff a <
// b" under the pair's lexicographic order (this design).
func Before(a, b Point) bool {
	if a.SequenceNumber != b.SequenceNumber {
		return a.SequenceNumber < b.SequenceNumber
	}
	return a.EntryCount < b.EntryCount
}

// AtOrAfter reports whether a orders at or after b, i.e. !Before(a, b);
// equal points count as "at or after". refcount.ReplayChange writes the
// same check inline as !Before.
func AtOrAfter(a, b Point) bool {
	return !Before(a, b)
}

// Max returns whichever of a, b orders last, used when sectors within one
// reference block disagree on their commit point after a torn write (spec
// §4.8.1/§4.8.5): "the block's runtime slab_journal_point takes the
// maximum."
func Max(a, b Point) Point {
	if Before(a, b) {
		return b
	}
	return a
}

// packedSize is the on-disk footprint of a packed journal point: an 8-byte
// sequence number plus a 4-byte entry count, little-endian (this design:
// "Byte-packed, little-endian throughout").
const packedSize = 12

// PackedSize is exported for callers sizing a reference-block sector
// header (this design).
const PackedSize = packedSize

// Pack writes p into buf[:PackedSize], little-endian.
func Pack(p Point, buf []byte) {
	binary.LittleEndian.PutUint64(buf[0:8], p.SequenceNumber)
	binary.LittleEndian.PutUint32(buf[8:12], p.EntryCount)
}

// Unpack reads a Point from buf[:PackedSize].
func Unpack(buf []byte) Point {
	return Point{
		SequenceNumber: binary.LittleEndian.Uint64(buf[0:8]),
		EntryCount:     binary.LittleEndian.Uint32(buf[8:12]),
	}
}
