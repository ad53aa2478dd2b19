// Package session implements the UDS session API of this design (§6):
// create_session, open_index (CREATE/NO_REBUILD/LOAD), close_index,
// destroy_session, launch_request, flush_session, get_index_stats and
// get_index_parameters. It is the externally visible surface that owns
// one internal/uds/request.Pipeline plus the super block/configuration
// block written at the start of the backing region.
//
// Grounded on the teacher's internal/ratelimiter/core/worker.go (a
// background-owned store with an explicit start/stop lifecycle and a
// snapshot-style stats read) and api/server.go (a thin façade translating
// external calls into store operations). The on-disk header this package
// writes plays the role of the teacher's persisted "last committed state"
// marker, just keyed by a clean-close flag instead of a sequence number.
package session

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dm-vdo/vdo-devel-sub005/internal/logging"
	"github.com/dm-vdo/vdo-devel-sub005/internal/uds/geometry"
	"github.com/dm-vdo/vdo-devel-sub005/internal/uds/request"
	"github.com/dm-vdo/vdo-devel-sub005/internal/udserr"
	"github.com/dm-vdo/vdo-devel-sub005/pkg/iofactory"
)

// Mode selects how OpenIndex treats existing on-volume state (§6).
type Mode int

const (
	// Create formats the region fresh, discarding anything already there.
	Create Mode = iota
	// NoRebuild refuses to open if the prior close was not clean.
	NoRebuild
	// Load rebuilds from the volume unconditionally, tolerating a dirty
	// prior close.
	Load
)

func (m Mode) String() string {
	switch m {
	case Create:
		return "CREATE"
	case NoRebuild:
		return "NO_REBUILD"
	case Load:
		return "LOAD"
	default:
		return "UNKNOWN"
	}
}

// Parameters are the session's open-time configuration (§6). GetIndexParameters
// must return these byte-for-byte as passed to OpenIndex(CREATE, ...).
type Parameters struct {
	MemoryGB float64
	Sparse   bool
	Name     string
	Nonce    uint64
	// Offset is the byte offset, within the caller's factory, where this
	// index's region begins. Must be a multiple of geometry.BytesPerPage
	// when nonzero.
	Offset int64
	// Size is the byte extent reserved for this index at Offset. Zero
	// means "whole device" (factory.Size() - Offset).
	Size int64
}

// Stats mirrors get_index_stats (§6): running counters over the
// lifetime of this session.
type Stats struct {
	PostsFound       uint64
	PostsNotFound    uint64
	UpdatesFound     uint64
	UpdatesNotFound  uint64
	QueriesFound     uint64
	QueriesNotFound  uint64
	DeletesFound     uint64
	DeletesNotFound  uint64
	EntriesIndexed   uint64
}

// atomicStats is Stats's mutable, concurrency-safe twin; Snapshot copies
// it into the value type callers see.
type atomicStats struct {
	postsFound, postsNotFound     atomic.Uint64
	updatesFound, updatesNotFound atomic.Uint64
	queriesFound, queriesNotFound atomic.Uint64
	deletesFound, deletesNotFound atomic.Uint64
	entriesIndexed                atomic.Int64
}

func (s *atomicStats) snapshot() Stats {
	return Stats{
		PostsFound:      s.postsFound.Load(),
		PostsNotFound:   s.postsNotFound.Load(),
		UpdatesFound:    s.updatesFound.Load(),
		UpdatesNotFound: s.updatesNotFound.Load(),
		QueriesFound:    s.queriesFound.Load(),
		QueriesNotFound: s.queriesNotFound.Load(),
		DeletesFound:    s.deletesFound.Load(),
		DeletesNotFound: s.deletesNotFound.Load(),
		EntriesIndexed:  uint64(s.entriesIndexed.Load()),
	}
}

// Harness confines the process-wide, test-facing mutable state this
// design calls out in §9's design notes ("Global mutable state ...
// confine each to a process-wide test-facing type with explicit
// init/teardown"). Production code never touches doryForgetful directly;
// only a test sets it through SetDoryForgetful.
type Harness struct {
	doryForgetful atomic.Bool
}

// DefaultHarness is the package-level instance production code consults.
// A test that needs "dory-forgetful" behavior (§8.3 scenario 4: a device
// that starts rejecting writes with EROFS) calls
// DefaultHarness.SetDoryForgetful(true) and resets it in a cleanup.
var DefaultHarness Harness

// SetDoryForgetful arms or disarms the dory-forgetful simulated-EROFS
// fault. Test-only.
func (h *Harness) SetDoryForgetful(v bool) { h.doryForgetful.Store(v) }

// DoryForgetful reports whether the fault is currently armed.
func (h *Harness) DoryForgetful() bool { return h.doryForgetful.Load() }

// CheckpointPublisher is notified when a chapter closes durably; an
// internal/uds/checkpoint.Publisher satisfies this.
type CheckpointPublisher interface {
	PublishChapterClosed(ctx context.Context, virtualChapter uint64, physicalChapter int) error
}

// AuditSink is notified of request outcomes and chapter closes for
// offline analytics; internal/uds/audit implementations satisfy this.
type AuditSink interface {
	RecordChapterClose(ctx context.Context, virtualChapter uint64, physicalChapter int)
	RecordRequestOutcome(ctx context.Context, kind string, found bool, zone int)
}

// Options configures optional collaborators a Session may be given; all
// are nil-safe.
type Options struct {
	Logger     logging.Logger
	Checkpoint CheckpointPublisher
	Audit      AuditSink
	CacheSlots int
}

const headerMagic = "UDSHDR01"

// Session is one open (or not-yet-opened) UDS index, the unit the
// session API of §6 operates on.
type Session struct {
	mu sync.Mutex

	opts   Options
	params Parameters
	geom   geometry.Geometry

	deviceFactory *iofactory.Factory // the whole backing region, at offset 0
	pipeline      *request.Pipeline
	open          bool

	stats atomicStats
	log   logging.Logger
}

// CreateSession allocates an unopened session, the create_session call
// of §6. No I/O happens until OpenIndex.
func CreateSession(opts Options) *Session {
	if opts.Logger == nil {
		opts.Logger = logging.OrDiscard(nil)
	}
	return &Session{opts: opts, log: opts.Logger}
}

// header is the on-disk super block + configuration block (§6 "VDO super
// block + configuration block reside at the start of the region"),
// packed into exactly one geometry.BytesPerPage-sized block.
type header struct {
	magic     [8]byte
	nonce     uint64
	memoryGB  float64
	sparse    bool
	clean     bool
	sampleRt  int32
	nameBytes [200]byte
	nameLen   uint16
}

func (h header) pack() []byte {
	buf := make([]byte, geometry.BytesPerPage)
	copy(buf[0:8], h.magic[:])
	binary.LittleEndian.PutUint64(buf[8:16], h.nonce)
	binary.LittleEndian.PutUint64(buf[16:24], uint64(h.memoryGB*1e6))
	if h.sparse {
		buf[24] = 1
	}
	if h.clean {
		buf[25] = 1
	}
	binary.LittleEndian.PutUint32(buf[26:30], uint32(h.sampleRt))
	binary.LittleEndian.PutUint16(buf[30:32], h.nameLen)
	copy(buf[32:32+len(h.nameBytes)], h.nameBytes[:])
	return buf
}

func unpackHeader(buf []byte) (header, error) {
	var h header
	if len(buf) < geometry.BytesPerPage {
		return h, fmt.Errorf("session: short header read: %w", udserr.ErrCorruptData)
	}
	copy(h.magic[:], buf[0:8])
	if string(h.magic[:]) != headerMagic {
		return h, fmt.Errorf("session: no index found at this offset: %w", udserr.ErrNoDirectory)
	}
	h.nonce = binary.LittleEndian.Uint64(buf[8:16])
	h.memoryGB = float64(binary.LittleEndian.Uint64(buf[16:24])) / 1e6
	h.sparse = buf[24] != 0
	h.clean = buf[25] != 0
	h.sampleRt = int32(binary.LittleEndian.Uint32(buf[26:30]))
	h.nameLen = binary.LittleEndian.Uint16(buf[30:32])
	copy(h.nameBytes[:], buf[32:32+len(h.nameBytes)])
	return h, nil
}

func (h header) name() string {
	n := int(h.nameLen)
	if n > len(h.nameBytes) {
		n = len(h.nameBytes)
	}
	return string(h.nameBytes[:n])
}

// requiredBytes is the total region a given geometry needs: one header
// page plus every chapter slot.
func requiredBytes(g geometry.Geometry) int64 {
	return geometry.BytesPerPage + int64(g.IndexablePages())*geometry.BytesPerPage
}

// windowRegion is a fixed [base, base+size) slice of an underlying
// iofactory.Region, the minimal "offset + bounds-checked" wrapper needed
// to turn Parameters.Offset plus the reserved header page into a
// zero-based region the request.Pipeline can address directly.
type windowRegion struct {
	under iofactory.Region
	base  int64
	size  int64
}

func (w *windowRegion) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > w.size {
		return 0, fmt.Errorf("session: read [%d,%d) outside window of size %d", off, off+int64(len(p)), w.size)
	}
	return w.under.ReadAt(p, w.base+off)
}

func (w *windowRegion) WriteAt(p []byte, off int64) (int, error) {
	if off < 0 || off+int64(len(p)) > w.size {
		return 0, fmt.Errorf("session: write [%d,%d) outside window of size %d", off, off+int64(len(p)), w.size)
	}
	return w.under.WriteAt(p, w.base+off)
}

func (w *windowRegion) Sync() error { return w.under.Sync() }
func (w *windowRegion) Size() int64 { return w.size }

// OpenIndex is §6's open_index: it validates params against factory,
// formats or loads the header, and (re)builds the in-memory request
// pipeline, per mode.
func (s *Session) OpenIndex(mode Mode, params Parameters, factory *iofactory.Factory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if params.Offset%geometry.BytesPerPage != 0 {
		return fmt.Errorf("session: offset %d not a multiple of %d: %w", params.Offset, geometry.BytesPerPage, udserr.ErrInvalidArgument)
	}
	if params.Offset < 0 || params.Offset > factory.Size() {
		return fmt.Errorf("session: offset %d outside device of size %d: %w", params.Offset, factory.Size(), udserr.ErrInvalidArgument)
	}
	available := params.Size
	if available == 0 {
		available = factory.Size() - params.Offset
	}

	switch mode {
	case Create:
		g, err := geometry.Derive(params.MemoryGB, params.Sparse)
		if err != nil {
			return err
		}
		need := requiredBytes(g)
		if available < need {
			return fmt.Errorf("session: region of %d bytes too small for a %.2fGB index needing %d: %w", available, params.MemoryGB, need, udserr.ErrNoSpace)
		}
		if err := s.writeHeader(factory, params, false); err != nil {
			return err
		}
		pipeline, err := s.newPipeline(g, factory, params, available)
		if err != nil {
			return err
		}
		s.geom, s.params, s.pipeline, s.open = g, params, pipeline, true
		return nil

	case NoRebuild, Load:
		hdrBuf := make([]byte, geometry.BytesPerPage)
		if _, err := factory.ReadAt(hdrBuf, params.Offset); err != nil {
			return fmt.Errorf("session: reading header: %w", err)
		}
		h, err := unpackHeader(hdrBuf)
		if err != nil {
			return err
		}
		if mode == NoRebuild && !h.clean {
			return fmt.Errorf("session: prior close of %q was not clean: %w", h.name(), udserr.ErrAlreadyExists)
		}
		loaded := Parameters{
			MemoryGB: h.memoryGB,
			Sparse:   h.sparse,
			Name:     h.name(),
			Nonce:    h.nonce,
			Offset:   params.Offset,
			Size:     params.Size,
		}
		g, err := geometry.Derive(loaded.MemoryGB, loaded.Sparse)
		if err != nil {
			return err
		}
		pipeline, err := s.newPipeline(g, factory, loaded, available)
		if err != nil {
			return err
		}
		if err := pipeline.RebuildFromVolume(); err != nil {
			return fmt.Errorf("session: rebuild: %w", err)
		}
		// The header on disk is now dirty again until the next clean
		// close, mirroring a real mount marking its superblock dirty.
		if err := s.writeHeader(factory, loaded, false); err != nil {
			return err
		}
		s.geom, s.params, s.pipeline, s.open = g, loaded, pipeline, true
		return nil

	default:
		return fmt.Errorf("session: unknown open mode %d: %w", mode, udserr.ErrInvalidArgument)
	}
}

func (s *Session) newPipeline(g geometry.Geometry, factory *iofactory.Factory, params Parameters, available int64) (*request.Pipeline, error) {
	win := &windowRegion{under: factory, base: params.Offset + geometry.BytesPerPage, size: available - geometry.BytesPerPage}
	chapterFactory := iofactory.Open(factory.Name()+"#chapters", win)
	sampleRate := 32
	opts := request.Options{
		ZoneCount:  1,
		Sparse:     params.Sparse,
		SampleRate: sampleRate,
		CacheSlots: s.opts.CacheSlots,
	}
	if s.opts.Checkpoint != nil || s.opts.Audit != nil {
		opts.OnChapterClosed = func(virtualChapter uint64, physicalChapter int) {
			ctx := context.Background()
			if s.opts.Checkpoint != nil {
				if err := s.opts.Checkpoint.PublishChapterClosed(ctx, virtualChapter, physicalChapter); err != nil {
					s.log.Warnf("session: checkpoint publish for chapter %d failed: %v", virtualChapter, err)
				}
			}
			if s.opts.Audit != nil {
				s.opts.Audit.RecordChapterClose(ctx, virtualChapter, physicalChapter)
			}
		}
	}
	return request.New(g, chapterFactory, opts)
}

func (s *Session) writeHeader(factory *iofactory.Factory, params Parameters, clean bool) error {
	var h header
	copy(h.magic[:], headerMagic)
	h.nonce = params.Nonce
	h.memoryGB = params.MemoryGB
	h.sparse = params.Sparse
	h.clean = clean
	n := copy(h.nameBytes[:], params.Name)
	h.nameLen = uint16(n)
	if _, err := factory.WriteAt(h.pack(), params.Offset); err != nil {
		return fmt.Errorf("session: writing header: %w", err)
	}
	return factory.Sync()
}

// CloseIndex is §6's close_index: it flushes outstanding requests, force
// -closes any partial open chapter so nothing staged only in memory is
// lost, and marks the header clean. If the dory-forgetful fault is armed,
// the header write is never attempted and EROFS is returned instead,
// leaving the on-disk header dirty (so a subsequent NO_REBUILD correctly
// refuses to open).
func (s *Session) CloseIndex(factory *iofactory.Factory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.open {
		return fmt.Errorf("session: close on unopened session: %w", udserr.ErrBadState)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.pipeline.Flush(ctx); err != nil {
		return fmt.Errorf("session: flush before close: %w", err)
	}
	if err := s.pipeline.CloseOpenChapter(); err != nil {
		return fmt.Errorf("session: closing open chapter: %w", err)
	}

	if DefaultHarness.DoryForgetful() {
		s.log.Warnf("session: dory-forgetful is armed, refusing close of %q", s.params.Name)
		s.pipeline.Shutdown()
		s.open = false
		return fmt.Errorf("session: simulated device rejected the close write: %w", udserr.ErrReadOnlyFilesystem)
	}

	if err := s.writeHeader(factory, s.params, true); err != nil {
		return err
	}
	s.pipeline.Shutdown()
	s.open = false
	return nil
}

// DestroySession is §6's destroy_session: it releases whatever the
// session still holds. Safe to call whether or not the index is open.
func (s *Session) DestroySession() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open && s.pipeline != nil {
		s.pipeline.Shutdown()
		s.open = false
	}
}

// LaunchRequest is §6's launch_request: asynchronous, callback invoked on
// completion. Stats are updated from the request's outcome just before
// the caller's own callback runs.
func (s *Session) LaunchRequest(req *request.Request) error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return fmt.Errorf("session: request on unopened session: %w", udserr.ErrBadState)
	}
	pipeline := s.pipeline
	s.mu.Unlock()

	userCallback := req.Callback
	req.Callback = func(r *request.Request) {
		s.recordOutcome(r)
		if userCallback != nil {
			userCallback(r)
		}
	}
	pipeline.Submit(req)
	return nil
}

func (s *Session) recordOutcome(r *request.Request) {
	switch r.Kind {
	case request.Post:
		if r.Found {
			s.stats.postsFound.Add(1)
		} else {
			s.stats.postsNotFound.Add(1)
			s.stats.entriesIndexed.Add(1)
		}
	case request.Update:
		if r.Found {
			s.stats.updatesFound.Add(1)
		} else {
			s.stats.updatesNotFound.Add(1)
			s.stats.entriesIndexed.Add(1)
		}
	case request.Query, request.QueryNoUpdate:
		if r.Found {
			s.stats.queriesFound.Add(1)
		} else {
			s.stats.queriesNotFound.Add(1)
		}
	case request.Delete:
		if r.Found {
			s.stats.deletesFound.Add(1)
			s.stats.entriesIndexed.Add(-1)
		} else {
			s.stats.deletesNotFound.Add(1)
		}
	}
	if s.opts.Audit != nil {
		s.opts.Audit.RecordRequestOutcome(context.Background(), r.Kind.String(), r.Found, r.Zone)
	}
}

// FlushSession is §6's flush_session: await all outstanding requests.
func (s *Session) FlushSession(ctx context.Context) error {
	s.mu.Lock()
	if !s.open {
		s.mu.Unlock()
		return fmt.Errorf("session: flush on unopened session: %w", udserr.ErrBadState)
	}
	pipeline := s.pipeline
	s.mu.Unlock()
	return pipeline.Flush(ctx)
}

// GetIndexStats is §6's get_index_stats.
func (s *Session) GetIndexStats() Stats {
	return s.stats.snapshot()
}

// GetIndexParameters is §6's get_index_parameters: returns the
// parameters saved at CREATE time, byte-for-byte (§8.1's round-trip
// invariant).
func (s *Session) GetIndexParameters() Parameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.params
}

// IsOpen reports whether OpenIndex has succeeded and CloseIndex/teardown
// has not yet run.
func (s *Session) IsOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.open
}

// ConvertToLVM is §6's convert_to_lvm: it shrinks the geometry by one
// chapter and relocates the super block + configuration header to the
// end of the freed space, using the factory's sync_copy capability
// (pkg/iofactory.Factory.SyncCopy) to move the header, matching this
// design's "move the super block + config to the end of the vacated
// space" — but only when the index is closed, since the pipeline holds
// the chapter layout fixed while open.
func (s *Session) ConvertToLVM(factory *iofactory.Factory, freedSpace int64) (chapterSize int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.open {
		return 0, fmt.Errorf("session: convert_to_lvm requires a closed index: %w", udserr.ErrBadState)
	}
	shrunk, chapterSize, err := s.geom.ConvertToLVM(freedSpace)
	if err != nil {
		return 0, err
	}
	newHeaderOffset := s.params.Offset + freedSpace
	if err := factory.SyncCopy(s.params.Offset, newHeaderOffset, geometry.BytesPerPage); err != nil {
		return 0, fmt.Errorf("session: relocating header: %w", err)
	}
	s.params.Offset = newHeaderOffset
	s.geom = shrunk
	return chapterSize, nil
}
