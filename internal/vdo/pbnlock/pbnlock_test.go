package pbnlock

import "testing"

func TestNewLockHasNoProvisionalReference(t *testing.T) {
	l := New(Read)
	if l.Kind() != Read {
		t.Fatalf("Kind() = %v, want Read", l.Kind())
	}
	if l.HasProvisionalReference() {
		t.Fatal("a freshly created lock must not carry a provisional reference")
	}
}

func TestAssignAndUnassignProvisionalReference(t *testing.T) {
	l := New(Write)
	l.AssignProvisionalReference()
	if !l.HasProvisionalReference() {
		t.Fatal("expected provisional reference to be set")
	}
	l.UnassignProvisionalReference()
	if l.HasProvisionalReference() {
		t.Fatal("expected provisional reference to be cleared")
	}
}

func TestNilLockMethodsAreSafe(t *testing.T) {
	var l *Lock
	if l.HasProvisionalReference() {
		t.Fatal("nil lock must report no provisional reference")
	}
	l.AssignProvisionalReference()
	l.UnassignProvisionalReference()
}
