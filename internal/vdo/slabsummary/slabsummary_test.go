package slabsummary

import "testing"

func TestUnknownSlabMustLoadAndNeverWritten(t *testing.T) {
	s := New()
	if !s.MustLoadRefCounts(42) {
		t.Fatal("an unrecorded slab must be treated as needing a ref-count load")
	}
	if !s.CountsNeverWritten(42) {
		t.Fatal("an unrecorded slab must be treated as never written")
	}
}

func TestUpdateSlabRecordsEntry(t *testing.T) {
	s := New()
	s.UpdateSlab(1, true, true, 100, 7)
	e, ok := s.Get(1)
	if !ok {
		t.Fatal("expected entry to be recorded")
	}
	if !e.Clean || e.FreeBlocks != 100 || e.TailBlockOffset != 7 {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if s.CountsNeverWritten(1) {
		t.Fatal("expected CountsNeverWritten to be false after an update")
	}
	if !s.MustLoadRefCounts(1) {
		t.Fatal("expected MustLoadRefCounts to reflect the recorded LoadRefCounts flag")
	}
}

func TestUpdateSlabLoadRefCountsFalse(t *testing.T) {
	s := New()
	s.UpdateSlab(2, true, false, 0, 0)
	if s.MustLoadRefCounts(2) {
		t.Fatal("expected MustLoadRefCounts false when the recorded entry says so")
	}
}
