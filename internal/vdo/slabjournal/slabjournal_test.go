package slabjournal

import "testing"

func TestNextEntryRollsOverBlocks(t *testing.T) {
	j := New(2)
	a := j.NextEntry()
	b := j.NextEntry()
	c := j.NextEntry()

	if a.SequenceNumber != 1 || a.EntryCount != 0 {
		t.Fatalf("a = %+v", a)
	}
	if b.SequenceNumber != 1 || b.EntryCount != 1 {
		t.Fatalf("b = %+v", b)
	}
	if c.SequenceNumber != 2 || c.EntryCount != 0 {
		t.Fatalf("c = %+v, expected roll to sequence 2", c)
	}
}

func TestLockCountingAndRelease(t *testing.T) {
	j := New(4)
	p := j.NextEntry()
	if got := j.LockCount(p.SequenceNumber); got != 1 {
		t.Fatalf("LockCount = %d, want 1", got)
	}
	j.AdjustBlockReference(p.SequenceNumber, -1)
	if got := j.LockCount(p.SequenceNumber); got != 0 {
		t.Fatalf("LockCount after release = %d, want 0", got)
	}
	if j.HasOutstandingLocks() {
		t.Fatal("expected no outstanding locks after release")
	}
}

func TestHasOutstandingLocks(t *testing.T) {
	j := New(4)
	j.NextEntry()
	if !j.HasOutstandingLocks() {
		t.Fatal("expected an outstanding lock after reserving an entry")
	}
}

func TestBlockedOnceCapacityReached(t *testing.T) {
	j := New(1)
	j.SetBlockCapacity(2)
	if j.Blocked() {
		t.Fatal("expected an empty journal not to be blocked")
	}
	p1 := j.NextEntry()
	if j.Blocked() {
		t.Fatal("one outstanding sequence number should not yet block with capacity 2")
	}
	j.NextEntry()
	if !j.Blocked() {
		t.Fatal("expected the journal to block once outstanding sequence numbers reach capacity")
	}
	j.AdjustBlockReference(p1.SequenceNumber, -1)
	if j.Blocked() {
		t.Fatal("expected releasing a sequence number's lock to unblock the journal")
	}
}

func TestBlockedDisabledByDefault(t *testing.T) {
	j := New(1)
	for i := 0; i < 10; i++ {
		j.NextEntry()
	}
	if j.Blocked() {
		t.Fatal("expected Blocked to be false when no capacity was configured")
	}
}
