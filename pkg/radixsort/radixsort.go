// Package radixsort implements an MSD (most-significant-digit) radix sort
// over fixed-length byte keys, referenced indirectly through a slice of
// slices (this design). It is used to lay out a chapter's record pages in
// fingerprint order before a delta-compressed chapter index is built over
// them (this design).
//
// There is no direct teacher precedent for a byte-keyed MSD radix sort —
// none of the six example repos sort fixed-width binary keys — so this is
// written fresh against the spec's contract rather than adapted from an
// existing file; see DESIGN.md for why stdlib `sort` alone cannot serve
// here (it is comparison-based, not radix, and the spec requires radix
// specifically as the name-ordering strategy record pages rely on).
package radixsort

// Sort reorders keys in place so that, reading each element by the first L
// bytes (L is the length of keys[0]; every key must share that length),
// the slice is non-decreasing under byte-lexicographic (memcmp) order.
// Sort is not stable: entries that compare equal may end up in any
// relative order. A zero-length key or an empty input is a no-op.
func Sort(keys [][]byte) {
	if len(keys) < 2 {
		return
	}
	l := len(keys[0])
	if l == 0 {
		return
	}
	aux := make([][]byte, len(keys))
	msd(keys, aux, 0, l)
}

// msd partitions keys[*] by the byte at position depth using a counting
// sort into 256 buckets, then recurses into each bucket with more than one
// entry at depth+1. aux is scratch space at least len(keys) long; it is
// reused (not reallocated) across sibling recursive calls so the total
// auxiliary allocation is proportional to the top-level input size, not to
// the recursion depth.
func msd(keys, aux [][]byte, depth, l int) {
	n := len(keys)
	if n < 2 || depth == l {
		return
	}

	var count [257]int
	for _, k := range keys {
		count[int(k[depth])+1]++
	}
	for i := 1; i < 257; i++ {
		count[i] += count[i-1]
	}
	bucketStart := count // snapshot of bucket boundaries before the scatter mutates count

	scratch := aux[:n]
	copy(scratch, keys)
	cursor := count
	for _, k := range scratch {
		b := int(k[depth])
		keys[cursor[b]] = k
		cursor[b]++
	}

	for b := 0; b < 256; b++ {
		lo, hi := bucketStart[b], bucketStart[b+1]
		if hi-lo > 1 {
			msd(keys[lo:hi], aux[:hi-lo], depth+1, l)
		}
	}
}
