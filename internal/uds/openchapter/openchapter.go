// Package openchapter implements the in-memory staging area for the
// chapter currently being filled: it preserves insertion order (needed to
// lay out record pages deterministically before radix sort) and provides
// lookup by name. Once full it refuses new names, but the metadata of a
// name already staged can still be overwritten; only Close seals it
// against every change.
//
// Grounded on the teacher's plugin/tfd/saccumulator.go: an open-addressed,
// insertion-ordered shard table with count-gated flush, here gated by a
// fixed record capacity (recordsPerChapter) instead of a time/count
// threshold.
package openchapter

import (
	"fmt"

	"github.com/dm-vdo/vdo-devel-sub005/internal/uds/recordname"
)

// Record is one (name, metadata) pair staged in the open chapter.
type Record struct {
	Name     recordname.Name
	Metadata [16]byte
}

// Chapter is the staging area for one virtual chapter's records.
type Chapter struct {
	capacity int
	order    []recordname.Name
	byName   map[recordname.Name]int // name -> index into order/metadata
	metadata [][16]byte
	sealed   bool
}

// New returns an empty Chapter able to hold up to capacity records.
func New(capacity int) *Chapter {
	return &Chapter{
		capacity: capacity,
		byName:   make(map[recordname.Name]int, capacity),
	}
}

// Len returns the number of distinct records currently staged.
func (c *Chapter) Len() int { return len(c.order) }

// Full reports whether the chapter has reached its capacity.
func (c *Chapter) Full() bool { return len(c.order) >= c.capacity }

// Sealed reports whether Close has been called.
func (c *Chapter) Sealed() bool { return c.sealed }

// Get returns the metadata last staged for name, if present.
func (c *Chapter) Get(name recordname.Name) ([16]byte, bool) {
	i, ok := c.byName[name]
	if !ok {
		return [16]byte{}, false
	}
	return c.metadata[i], true
}

// Put stages name with the given metadata, replacing any prior staged
// value for the same name in place (preserving its original insertion
// position) or appending a new entry. Returns an error if the chapter is
// full and name is new, or if the chapter is already sealed.
func (c *Chapter) Put(name recordname.Name, metadata [16]byte) error {
	if c.sealed {
		return fmt.Errorf("openchapter: chapter is closed")
	}
	if i, ok := c.byName[name]; ok {
		c.metadata[i] = metadata
		return nil
	}
	if c.Full() {
		return fmt.Errorf("openchapter: chapter is full (capacity %d)", c.capacity)
	}
	c.byName[name] = len(c.order)
	c.order = append(c.order, name)
	c.metadata = append(c.metadata, metadata)
	return nil
}

// Remove drops name from the chapter, if present. Removing does not
// reopen capacity in a way that disturbs the insertion order of the
// remaining records: later indices simply shift down.
func (c *Chapter) Remove(name recordname.Name) {
	i, ok := c.byName[name]
	if !ok {
		return
	}
	delete(c.byName, name)
	c.order = append(c.order[:i], c.order[i+1:]...)
	c.metadata = append(c.metadata[:i], c.metadata[i+1:]...)
	for n, idx := range c.byName {
		if idx > i {
			c.byName[n] = idx - 1
		}
	}
}

// Records returns the staged records in insertion order. The returned
// slice must be treated as read-only by the caller.
func (c *Chapter) Records() []Record {
	out := make([]Record, len(c.order))
	for i, n := range c.order {
		out[i] = Record{Name: n, Metadata: c.metadata[i]}
	}
	return out
}

// Close seals the chapter: records become immutable and Records() now
// returns the final layout to be radix-sorted into record pages.
func (c *Chapter) Close() []Record {
	c.sealed = true
	return c.Records()
}
