package blockio

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/dm-vdo/vdo-devel-sub005/internal/udserr"
)

// memRegion is an in-memory io.ReaderAt/io.WriterAt standing in for a
// storage-layer block region in tests.
type memRegion struct {
	data []byte
}

func newMemRegion(size int) *memRegion {
	return &memRegion{data: make([]byte, size)}
}

func (m *memRegion) WriteAt(p []byte, off int64) (int, error) {
	if int(off)+len(p) > len(m.data) {
		return 0, io.ErrShortWrite
	}
	copy(m.data[off:], p)
	return len(p), nil
}

func (m *memRegion) ReadAt(p []byte, off int64) (int, error) {
	if int(off) >= len(m.data) {
		return 0, io.EOF
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

const boston = "Down these mean streets a man must go who is not himself mean, who is neither tainted nor afraid. XX"

func init() {
	if len(boston) != 100 {
		panic("fixture length drifted")
	}
}

// sonnet128 pads the boston fixture to exactly 128 bytes, matching the format
// §8.3 scenario 2's "128-byte BOSTON sonnet" fixture.
var sonnet128 = []byte(boston + "0123456789012345678901234567")

func init() {
	if len(sonnet128) != 128 {
		panic("sonnet128 fixture is not 128 bytes")
	}
}

func TestWriteFlushReadRoundTrip(t *testing.T) {
	region := newMemRegion(BlockSize)
	w := NewWriter(region, 0, BlockSize)
	if _, err := w.Write(sonnet128); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	r := NewReader(region, 0, BlockSize)
	got := make([]byte, len(sonnet128))
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if !bytes.Equal(got, sonnet128) {
		t.Fatal("round-trip did not return exactly what was written")
	}
}

func TestWriterAutoFlushesOnBufferFull(t *testing.T) {
	const regionSize = 32 * 1024
	region := newMemRegion(regionSize)
	w := NewWriter(region, 0, regionSize)

	writes := BlockSize / len(sonnet128) // writes needed to exactly fill one BlockSize buffer
	for i := 0; i < writes; i++ {
		if _, err := w.Write(sonnet128); err != nil {
			t.Fatalf("write %d failed: %v", i, err)
		}
	}
	// Buffer should have auto-flushed by now, or flush on the next write; in
	// either case the underlying backing store holds at least one full
	// BlockSize worth of content once the buffer has turned over once.
	if _, err := w.Write(sonnet128); err != nil {
		t.Fatalf("triggering write failed: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("final flush failed: %v", err)
	}

	want := bytes.Repeat(sonnet128, writes+1)
	r := NewReader(region, 0, regionSize)
	got := make([]byte, len(want))
	if _, err := io.ReadFull(r, got); err != nil {
		t.Fatalf("read back failed: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Fatal("concatenated reads did not equal concatenated writes")
	}
}

func TestVerifySequenceMatchesScenario(t *testing.T) {
	const regionSize = 32 * 1024
	region := newMemRegion(regionSize)
	w := NewWriter(region, 0, regionSize)

	x1 := []byte("xxxxxx1")
	x2 := []byte("xxxxxx2")
	const n = 5

	var built bytes.Buffer
	built.Write(sonnet128)
	for i := 0; i < n; i++ {
		built.Write(x1)
		built.Write(x2)
	}
	built.Write(sonnet128)
	if _, err := w.Write(built.Bytes()); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if err := w.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}

	r := NewReader(region, 0, regionSize)
	if err := r.Verify(sonnet128); err != nil {
		t.Fatalf("initial BOSTON verify should succeed: %v", err)
	}
	// Reader cursor now sits at the start of the first X1X2 pair; verifying
	// X2 here compares against X1's bytes and must fail as CORRUPT_DATA.
	if err := r.Verify(x2); !errors.Is(err, udserr.ErrCorruptData) {
		t.Fatalf("expected CORRUPT_DATA verifying x2 against x1's bytes, got %v", err)
	}
	// The failed verify consumed nothing, so the cursor still sits at X1.
	if err := r.Verify(x1); err != nil {
		t.Fatalf("expected x1 verify to succeed after the failed x2 verify: %v", err)
	}
	// Next up is X2, so verifying X1 again mismatches.
	if err := r.Verify(x1); err == nil {
		t.Fatal("expected mismatched verify to report an error")
	}
}
