package journalpoint

import "testing"

func TestBeforeLexicographic(t *testing.T) {
	a := Point{SequenceNumber: 1, EntryCount: 5}
	b := Point{SequenceNumber: 1, EntryCount: 6}
	c := Point{SequenceNumber: 2, EntryCount: 0}

	if !Before(a, b) {
		t.Fatal("expected a before b (same sequence, lower entry count)")
	}
	if Before(b, a) {
		t.Fatal("b should not be before a")
	}
	if !Before(b, c) {
		t.Fatal("expected b before c (lower sequence number wins regardless of entry count)")
	}
	if Before(a, a) {
		t.Fatal("a point is never before itself")
	}
}

func TestMaxPicksLater(t *testing.T) {
	a := Point{SequenceNumber: 3, EntryCount: 2}
	b := Point{SequenceNumber: 3, EntryCount: 9}
	if Max(a, b) != b {
		t.Fatalf("Max(a,b) = %+v, want %+v", Max(a, b), b)
	}
	if Max(b, a) != b {
		t.Fatalf("Max(b,a) = %+v, want %+v", Max(b, a), b)
	}
}

func TestPackUnpackRoundTrip(t *testing.T) {
	p := Point{SequenceNumber: 0xdeadbeefcafe, EntryCount: 0xfeedface}
	buf := make([]byte, PackedSize)
	Pack(p, buf)
	got := Unpack(buf)
	if got != p {
		t.Fatalf("round trip = %+v, want %+v", got, p)
	}
}

func TestAtOrAfter(t *testing.T) {
	a := Point{SequenceNumber: 5, EntryCount: 1}
	if !AtOrAfter(a, a) {
		t.Fatal("a point is at-or-after itself")
	}
	b := Point{SequenceNumber: 5, EntryCount: 2}
	if AtOrAfter(a, b) {
		t.Fatal("a should not be at-or-after a strictly later point")
	}
	if !AtOrAfter(b, a) {
		t.Fatal("b should be at-or-after an earlier point")
	}
}
