// Package blockio implements a buffered reader/writer adapter: a stream
// interface over a 4 KiB-block region of an underlying
// storage layer, with append-flush on the writer side and verify-on-read on
// the reader side. It is grounded on the teacher's SBatchFileSink
// (internal/sinks/sbatch_file_sink.go): a bufio.Writer wrapping an
// append-only file, flushed both automatically (buffer-full) and on
// explicit demand. Here the underlying storage is not necessarily a file —
// it is anything satisfying io.ReaderAt/io.WriterAt, the same contract
// pkg/iofactory hands out sections of — so blockio wraps those with small
// sequential-cursor adapters instead of assuming *os.File directly.
package blockio

import (
	"bufio"
	"bytes"
	"fmt"
	"io"

	"github.com/dm-vdo/vdo-devel-sub005/internal/udserr"
)

// BlockSize is the fixed physical block size every region is divided into
// (this design: "a reference block is exactly one physical block (4 KiB)").
const BlockSize = 4096

// Writer buffers appends to a bounded region and flushes them to the
// backing io.WriterAt in BlockSize-aligned chunks, auto-flushing whenever
// the internal buffer fills (the bufio.Writer contract), mirroring
// SBatchFileSink's bufio.Writer-over-append-file shape.
type Writer struct {
	buf    *bufio.Writer
	cursor *sectionWriter
}

// NewWriter returns a Writer appending to [offset, offset+size) of backend.
func NewWriter(backend io.WriterAt, offset, size int64) *Writer {
	sw := &sectionWriter{backend: backend, offset: offset, limit: offset + size}
	return &Writer{buf: bufio.NewWriterSize(sw, BlockSize), cursor: sw}
}

// Write appends p to the region, auto-flushing through to the backend
// whenever the internal buffer fills. Returns udserr.ErrNoSpace (wrapped)
// if the region's capacity is exceeded.
func (w *Writer) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

// Flush forces any buffered bytes out to the backend immediately.
func (w *Writer) Flush() error {
	return w.buf.Flush()
}

// sectionWriter is an io.Writer that issues sequential WriteAt calls against
// a bounded byte range of backend, advancing its own cursor. bufio.Writer
// needs only io.Writer, not io.WriterAt, so this adapter is what lets a
// random-access backend (the iofactory region) serve as bufio's sink.
type sectionWriter struct {
	backend io.WriterAt
	offset  int64
	limit   int64
}

func (s *sectionWriter) Write(p []byte) (int, error) {
	if s.offset+int64(len(p)) > s.limit {
		return 0, fmt.Errorf("blockio: write past region end: %w", udserr.ErrNoSpace)
	}
	n, err := s.backend.WriteAt(p, s.offset)
	s.offset += int64(n)
	return n, err
}

// Reader reads sequentially from a bounded region and supports Verify, the
// read-and-compare operation this design pins: "verify(s) succeeds iff the
// next |s| bytes equal s, else returns CORRUPT_DATA." The read cursor
// advances past the compared bytes only when they match; a failed Verify
// leaves it where it was, so the same stretch can be verified again
// against a different expectation (this design scenario 3).
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a Reader over [offset, offset+size) of backend.
func NewReader(backend io.ReaderAt, offset, size int64) *Reader {
	sr := io.NewSectionReader(backend, offset, size)
	return &Reader{r: bufio.NewReaderSize(sr, BlockSize)}
}

// Read implements io.Reader, reading raw bytes without comparison.
func (r *Reader) Read(p []byte) (int, error) {
	return r.r.Read(p)
}

// Verify compares the next len(expected) bytes with expected. On a match it
// consumes them and returns nil; on a mismatch it consumes nothing and
// returns udserr.ErrCorruptData (wrapped). Any underlying read error (e.g.
// io.EOF when fewer than len(expected) bytes remain) is returned wrapped.
// expected may be at most BlockSize bytes; a longer one fails with
// bufio.ErrBufferFull.
func (r *Reader) Verify(expected []byte) error {
	got, err := r.r.Peek(len(expected))
	if err != nil {
		return fmt.Errorf("blockio: verify read failed: %w", err)
	}
	if !bytes.Equal(got, expected) {
		return fmt.Errorf("blockio: verify mismatch: %w", udserr.ErrCorruptData)
	}
	_, err = r.r.Discard(len(expected))
	return err
}
