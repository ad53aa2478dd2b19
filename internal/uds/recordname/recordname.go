// Package recordname implements the UDS record name: the 16-byte
// Murmur3-128 fingerprint of a record's payload, along with the two
// fixed byte-range extractions the rest of the index relies on — the
// volume-index zone selector and the sparse sample hook.
//
// Grounded on the teacher's plugin/tfd/types.go Footprint/HashKey shape
// (a fixed-width digest with named sub-fields extracted from it), here
// backed by the real Murmur3-128 since the wire format pins the
// algorithm rather than leaving it pluggable.
package recordname

import (
	"encoding/binary"

	"github.com/dm-vdo/vdo-devel-sub005/pkg/murmur3"
)

// Name is a 16-byte record fingerprint.
type Name [16]byte

// Of computes the record name of payload.
func Of(payload []byte) Name {
	return Name(murmur3.SumName(payload))
}

// ZoneSelector returns the volume-index zone this name routes to, out of
// zoneCount zones: the high-order bits of the leading 8 bytes
// (little-endian interpretation), reduced modulo zoneCount.
func (n Name) ZoneSelector(zoneCount int) int {
	if zoneCount <= 0 {
		return 0
	}
	leading := binary.LittleEndian.Uint64(n[0:8])
	return int((leading >> 32) % uint64(zoneCount))
}

// sampleHookByte is the byte offset this implementation uses for the
// sparse sample hook, a contiguous range distinct from the leading zone
// -selector bytes.
const sampleHookByte = 8

// IsSampleHook reports whether this name is a sparse sample hook,
// meaning it is eligible to alias within sparse chapters: one byte of
// the name, taken modulo sampleRate, is zero.
func (n Name) IsSampleHook(sampleRate int) bool {
	if sampleRate <= 0 {
		return false
	}
	return int(n[sampleHookByte])%sampleRate == 0
}
