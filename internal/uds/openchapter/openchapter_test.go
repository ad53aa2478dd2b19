package openchapter

import (
	"testing"

	"github.com/dm-vdo/vdo-devel-sub005/internal/uds/recordname"
)

func name(b byte) recordname.Name { return recordname.Of([]byte{b}) }

func TestPutGetAndFullness(t *testing.T) {
	c := New(2)
	if err := c.Put(name(1), [16]byte{1}); err != nil {
		t.Fatalf("put 1: %v", err)
	}
	if err := c.Put(name(2), [16]byte{2}); err != nil {
		t.Fatalf("put 2: %v", err)
	}
	if !c.Full() {
		t.Fatal("expected chapter to report full at capacity")
	}
	if err := c.Put(name(3), [16]byte{3}); err == nil {
		t.Fatal("expected an error inserting a new name into a full chapter")
	}
	// Overwriting an existing name is still allowed once full.
	if err := c.Put(name(1), [16]byte{9}); err != nil {
		t.Fatalf("overwrite existing name: %v", err)
	}
	meta, ok := c.Get(name(1))
	if !ok || meta != ([16]byte{9}) {
		t.Fatalf("Get(1) = (%v,%v), want ({9,...},true)", meta, ok)
	}
}

func TestRecordsPreservesInsertionOrder(t *testing.T) {
	c := New(3)
	for i := byte(1); i <= 3; i++ {
		if err := c.Put(name(i), [16]byte{i}); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	records := c.Records()
	if len(records) != 3 {
		t.Fatalf("len(records) = %d, want 3", len(records))
	}
	for i, want := range []byte{1, 2, 3} {
		if records[i].Name != name(want) {
			t.Fatalf("record[%d] name mismatch", i)
		}
	}
}

func TestRemoveShiftsOrderAndIndex(t *testing.T) {
	c := New(3)
	c.Put(name(1), [16]byte{1})
	c.Put(name(2), [16]byte{2})
	c.Put(name(3), [16]byte{3})

	c.Remove(name(2))
	if c.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", c.Len())
	}
	if _, ok := c.Get(name(2)); ok {
		t.Fatal("expected name 2 to be gone")
	}
	meta, ok := c.Get(name(3))
	if !ok || meta != ([16]byte{3}) {
		t.Fatalf("expected name 3's metadata intact after removing name 2, got (%v,%v)", meta, ok)
	}
	records := c.Records()
	if records[0].Name != name(1) || records[1].Name != name(3) {
		t.Fatalf("unexpected order after remove: %v", records)
	}
}

func TestCloseSealsChapter(t *testing.T) {
	c := New(1)
	c.Put(name(1), [16]byte{1})
	records := c.Close()
	if len(records) != 1 {
		t.Fatalf("Close() returned %d records, want 1", len(records))
	}
	if !c.Sealed() {
		t.Fatal("expected chapter to report sealed after Close")
	}
	if err := c.Put(name(2), [16]byte{2}); err == nil {
		t.Fatal("expected an error putting into a sealed chapter")
	}
}
