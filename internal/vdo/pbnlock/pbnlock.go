// Package pbnlock implements the PBN lock of this design: a read or
// provisional-write lock held on one physical block number, carrying an
// optional provisional-reference flag that the reference-count engine
// flips during decrement.
package pbnlock

// Type distinguishes what kind of access a lock protects.
type Type int

const (
	// Read locks are held while a dedup candidate is being verified
	// against the block it points at; they never carry a provisional
	// reference of their own, but can have one assigned to them by
	// refcount.Adjust (this design says "SINGLE or PROVISIONAL ... and the
	// updater's zone holds a read PBN lock").
	Read Type = iota
	// Write locks guard a physical block being written for the first
	// time, before its reference count is durably incremented.
	Write
)

// Lock represents a lock on one physical block number. The zero value is
// a read lock with no provisional reference assigned.
type Lock struct {
	kind        Type
	provisional bool
}

// New returns a lock of the given kind with no provisional reference.
func New(kind Type) *Lock {
	return &Lock{kind: kind}
}

// Kind reports whether this is a Read or Write lock.
func (l *Lock) Kind() Type { return l.kind }

// HasProvisionalReference reports whether this lock currently represents
// an allocated-but-uncommitted reference (this design).
func (l *Lock) HasProvisionalReference() bool {
	return l != nil && l.provisional
}

// AssignProvisionalReference marks this lock as carrying the provisional
// reference for its pbn. Called by refcount.Adjust when a decrement
// demotes a SINGLE/PROVISIONAL counter to PROVISIONAL under a held read
// lock (this design). An increment that commits a PROVISIONAL counter
// clears the flag via UnassignProvisionalReference instead.
func (l *Lock) AssignProvisionalReference() {
	if l != nil {
		l.provisional = true
	}
}

// UnassignProvisionalReference clears the provisional-reference flag.
// Callers observe this to know the lock no longer represents an
// outstanding allocation that must be cleaned up.
func (l *Lock) UnassignProvisionalReference() {
	if l != nil {
		l.provisional = false
	}
}
