// Package request implements the UDS request pipeline: the four-stage
// triage/zone/volume-read/complete flow that turns a (name, kind)
// request into a found/not-found answer and, for mutating kinds, an
// update to the open chapter and volume index.
//
// Grounded on the teacher's plugin/tfd/types.go Envelope (a fixed-shape
// batchable unit carrying its own routing footprint) and vactors.go's
// VRouter (route-by-key then hand off to a per-key ordered actor): here
// the routing key is a record name's zone selector and the "actor" is
// one pkg/workqueue.Queue per zone, the same single-owner-thread
// discipline internal/vdo/refcount uses for a slab.
package request

import (
	"context"
	"fmt"
	"sync"

	"github.com/dm-vdo/vdo-devel-sub005/internal/telemetry"
	"github.com/dm-vdo/vdo-devel-sub005/internal/uds/chapterindex"
	"github.com/dm-vdo/vdo-devel-sub005/internal/uds/geometry"
	"github.com/dm-vdo/vdo-devel-sub005/internal/uds/openchapter"
	"github.com/dm-vdo/vdo-devel-sub005/internal/uds/pagecache"
	"github.com/dm-vdo/vdo-devel-sub005/internal/uds/recordname"
	"github.com/dm-vdo/vdo-devel-sub005/internal/uds/volumeindex"
	"github.com/dm-vdo/vdo-devel-sub005/internal/udserr"
	"github.com/dm-vdo/vdo-devel-sub005/internal/vdo/zones"
	"github.com/dm-vdo/vdo-devel-sub005/pkg/iofactory"
	"github.com/dm-vdo/vdo-devel-sub005/pkg/waitqueue"
	"github.com/dm-vdo/vdo-devel-sub005/pkg/workqueue"
)

// Kind is the request's verb.
type Kind int

const (
	Post Kind = iota
	Update
	Query
	QueryNoUpdate
	Delete
)

func (k Kind) String() string {
	switch k {
	case Post:
		return "POST"
	case Update:
		return "UPDATE"
	case Query:
		return "QUERY"
	case QueryNoUpdate:
		return "QUERY_NO_UPDATE"
	case Delete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// Request is one unit carried through the pipeline. Callback is invoked
// exactly once, on the zone thread that finished processing it, once
// Found/OldMetadata/Err are all settled.
type Request struct {
	Name        recordname.Name
	NewMetadata [16]byte
	Kind        Kind
	Callback    func(*Request)

	Zone        int
	Found       bool
	OldMetadata [16]byte
	Err         error
}

// recordPageSlotBytes is a record's on-page footprint: name then
// metadata, with no framing, matching geometry.BytesPerRecordName +
// geometry.BytesPerMetadata.
const recordPageSlotBytes = geometry.BytesPerRecordName + geometry.BytesPerMetadata

// Pipeline is a running UDS index: the zone-sharded volume index, the
// single shared open chapter, the volume's durable chapter storage, and
// one workqueue.Queue per zone acting as that zone's dedicated thread.
type Pipeline struct {
	geometry geometry.Geometry
	factory  *iofactory.Factory
	cache    *pagecache.Cache

	volumeIndex *volumeindex.Index
	zones       []*workqueue.Queue
	threads     *zones.ThreadSet
	onChapterClosed func(virtualChapter uint64, physicalChapter int)

	chapterMu          sync.Mutex
	openChapter        *openchapter.Chapter
	openVirtualChapter uint64
	indices            map[uint64]*chapterindex.Index

	fetchMu   sync.Mutex
	inFlight  map[uint64]bool
	fetchWait map[uint64]*waitqueue.Queue

	drainWG sync.WaitGroup
}

// Options configures a new Pipeline.
type Options struct {
	ZoneCount  int
	Sparse     bool
	SampleRate int
	CacheSlots int
	// OnChapterClosed, if set, is invoked synchronously (still holding the
	// open-chapter lock, so keep it fast) every time a chapter closes,
	// letting a caller publish a checkpoint or archive the event without
	// this package importing the checkpoint/audit packages itself.
	OnChapterClosed func(virtualChapter uint64, physicalChapter int)
}

// New builds a Pipeline over factory's backing region, which must be at
// least geometry's IndexablePages()*BytesPerPage bytes.
func New(g geometry.Geometry, factory *iofactory.Factory, opts Options) (*Pipeline, error) {
	if opts.ZoneCount < 1 {
		opts.ZoneCount = 1
	}
	if opts.CacheSlots < 1 {
		opts.CacheSlots = g.PagesPerChapter()
	}
	needed := int64(g.IndexablePages()) * geometry.BytesPerPage
	if factory.Size() < needed {
		return nil, fmt.Errorf("request: backing region is %d bytes, need at least %d: %w", factory.Size(), needed, udserr.ErrNoSpace)
	}

	p := &Pipeline{
		geometry:    g,
		factory:     factory,
		cache:       pagecache.New(opts.CacheSlots, uint64(g.PagesPerChapter())),
		volumeIndex: volumeindex.New(opts.ZoneCount, opts.Sparse, opts.SampleRate),
		zones:       make([]*workqueue.Queue, opts.ZoneCount),
		openChapter: openchapter.New(g.RecordsPerChapter()),
		indices:     make(map[uint64]*chapterindex.Index),
		inFlight:    make(map[uint64]bool),
		fetchWait:   make(map[uint64]*waitqueue.Queue),
		threads:     zones.NewThreadSet(opts.ZoneCount),
		onChapterClosed: opts.OnChapterClosed,
	}
	for i := range p.zones {
		p.zones[i] = workqueue.New(workqueue.Options{Priorities: 1})
		p.zones[i].Start()
	}
	return p, nil
}

// ZoneThreadName reports the name of the worker thread
// internal/vdo/zones.ThreadSet assigns to own zoneIdx's work queue. Zone
// ownership stays fixed for a Pipeline's lifetime; this exists so a
// caller can label per-zone logs/metrics the same way regardless of how
// many zones are configured.
func (p *Pipeline) ZoneThreadName(zoneIdx int) string {
	return p.threads.OwnerOfZone(zoneIdx)
}

// Shutdown waits for every in-flight request to drain, then stops every
// zone's consumer goroutine. Matches this design's "session teardown
// waits for all in-flight requests to drain; there is no mid-request
// cancellation."
func (p *Pipeline) Shutdown() {
	p.drainWG.Wait()
	for _, z := range p.zones {
		z.Stop()
	}
}

// Flush blocks until every request submitted before this call completes,
// or ctx is done first.
func (p *Pipeline) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.drainWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Submit is stage 1, triage: it computes req's zone from the name's
// selector, wraps it as a workqueue completion, and posts it to that
// zone's queue. Submit never blocks; the actual processing (stages 2-4)
// happens later on the zone's dedicated goroutine.
func (p *Pipeline) Submit(req *Request) {
	telemetry.ObserveRequest(req.Kind.String())
	zoneIdx := req.Name.ZoneSelector(len(p.zones))
	req.Zone = zoneIdx
	p.drainWG.Add(1)
	c := &workqueue.Completion{Run: func() { p.process(req) }}
	p.zones[zoneIdx].Post(c)
}

// process runs stages 2-4 on the zone's consumer goroutine.
func (p *Pipeline) process(req *Request) {
	defer p.drainWG.Done()
	defer p.complete(req)

	zone := p.volumeIndex.ZoneFor(req.Name)

	p.chapterMu.Lock()
	meta, openHit := p.openChapter.Get(req.Name)
	p.chapterMu.Unlock()

	switch {
	case openHit:
		req.Found = true
		req.OldMetadata = meta
	default:
		if vc, ok := zone.GetRecord(req.Name); ok {
			m, err := p.searchClosedChapter(vc, req.Name, req.Kind != QueryNoUpdate)
			if err != nil {
				req.Err = err
				return
			}
			if m != nil {
				req.Found = true
				req.OldMetadata = *m
			}
		}
	}

	switch req.Kind {
	case Post:
		if !req.Found {
			req.Err = p.insertIntoOpenChapter(zone, req.Name, req.NewMetadata)
		}
	case Update:
		if openHit {
			p.chapterMu.Lock()
			req.Err = p.openChapter.Put(req.Name, req.NewMetadata)
			p.chapterMu.Unlock()
		} else {
			req.Err = p.insertIntoOpenChapter(zone, req.Name, req.NewMetadata)
		}
	case Delete:
		p.chapterMu.Lock()
		p.openChapter.Remove(req.Name)
		p.chapterMu.Unlock()
		zone.RemoveRecord(req.Name)
	case Query, QueryNoUpdate:
		// Read-only: Found/OldMetadata above are the whole answer. The
		// recency bump itself already happened, conditionally, inside
		// searchClosedChapter's cache lookup above.
	}

	switch req.Kind {
	case Post, Update, Delete:
		telemetry.SetVolumeIndexEntries(p.volumeIndex.EntryCount())
	}
}

func (p *Pipeline) complete(req *Request) {
	if req.Callback != nil {
		req.Callback(req)
	}
}

// insertIntoOpenChapter stages (name, metadata) into the shared open
// chapter, closing and rotating it first if it is already full, then
// records the assignment in the request's zone of the volume index.
func (p *Pipeline) insertIntoOpenChapter(zone *volumeindex.Zone, name recordname.Name, metadata [16]byte) error {
	p.chapterMu.Lock()
	if p.openChapter.Full() {
		if err := p.closeOpenChapterLocked(); err != nil {
			p.chapterMu.Unlock()
			return err
		}
	}
	err := p.openChapter.Put(name, metadata)
	vc := p.openVirtualChapter
	p.chapterMu.Unlock()
	if err != nil {
		return err
	}
	zone.PutRecord(name, vc)
	return nil
}

// closeOpenChapterLocked seals the current open chapter, lays its
// records out into radix-sorted record pages, builds the delta-
// compressed chapter index over them, writes both to the volume at the
// physical slot for the closing virtual chapter, invalidates any cached
// pages from whatever chapter previously occupied that slot, and starts
// a fresh open chapter. Must be called with chapterMu held.
func (p *Pipeline) closeOpenChapterLocked() error {
	records := p.openChapter.Close()
	pages := chapterindex.LayOutRecordPages(records, p.geometry.RecordsPerPage)
	idx := chapterindex.Build(p.openVirtualChapter, pages)

	physicalChapter := p.geometry.PhysicalChapter(p.openVirtualChapter)
	p.cache.InvalidateChapter(uint64(physicalChapter))
	if err := p.writeChapterLocked(physicalChapter, idx, pages); err != nil {
		return fmt.Errorf("request: closing chapter %d: %w", p.openVirtualChapter, err)
	}

	p.indices[p.openVirtualChapter] = idx
	delete(p.indices, p.openVirtualChapter-uint64(p.geometry.ChaptersPerVolume))

	closedVirtualChapter := p.openVirtualChapter
	p.openVirtualChapter++
	p.openChapter = openchapter.New(p.geometry.RecordsPerChapter())
	telemetry.ObserveChapterWritten()
	if p.onChapterClosed != nil {
		p.onChapterClosed(closedVirtualChapter, physicalChapter)
	}
	return nil
}

// writeChapterLocked persists the chapter index page(s) and record pages
// for physicalChapter.
func (p *Pipeline) writeChapterLocked(physicalChapter int, idx *chapterindex.Index, pages [][]openchapter.Record) error {
	indexBytes := idx.Pack()
	if int64(len(indexBytes)) > int64(p.geometry.IndexPagesPerChapter)*geometry.BytesPerPage {
		return fmt.Errorf("request: chapter index for chapter %d overflows its %d index page(s): %w",
			idx.VirtualChapter, p.geometry.IndexPagesPerChapter, udserr.ErrOverflow)
	}
	indexOffset := p.geometry.PageOffset(physicalChapter, 0)
	if _, err := p.factory.WriteAt(padOrTruncate(indexBytes, int(p.geometry.IndexPagesPerChapter)*geometry.BytesPerPage), indexOffset); err != nil {
		return fmt.Errorf("request: write chapter index: %w", err)
	}

	for pageNum, page := range pages {
		offset := p.geometry.PageOffset(physicalChapter, p.geometry.IndexPagesPerChapter+pageNum)
		if _, err := p.factory.WriteAt(packRecordPage(page, p.geometry.RecordsPerPage), offset); err != nil {
			return fmt.Errorf("request: write record page %d: %w", pageNum, err)
		}
	}
	return p.factory.Sync()
}

// searchClosedChapter answers whether name occurs in the closed chapter
// last recorded as virtualChapter, returning its metadata if so. A nil,
// nil result means the virtual chapter has since been overwritten by
// wraparound (the record has aged out) or the name was not actually
// present on the candidate page (a stale volume-index entry).
//
// bumpRecency controls whether a page-cache hit advances the page's LRU
// ordinal: QUERY permits it, QUERY_NO_UPDATE must leave cache state
// untouched.
func (p *Pipeline) searchClosedChapter(virtualChapter uint64, name recordname.Name, bumpRecency bool) (*[16]byte, error) {
	p.chapterMu.Lock()
	idx := p.indices[virtualChapter]
	p.chapterMu.Unlock()
	if idx == nil || idx.VirtualChapter != virtualChapter {
		return nil, nil
	}
	pageInChapter, ok := idx.CandidatePage(name)
	if !ok {
		return nil, nil
	}

	physicalChapter := p.geometry.PhysicalChapter(virtualChapter)
	physicalPage := uint64(physicalChapter)*uint64(p.geometry.PagesPerChapter()) + uint64(p.geometry.IndexPagesPerChapter+pageInChapter)

	data, err := p.fetchRecordPage(physicalPage, bumpRecency)
	if err != nil {
		return nil, err
	}
	for _, rec := range unpackRecordPage(data, p.geometry.RecordsPerPage) {
		if rec.Name == name {
			meta := rec.Metadata
			return &meta, nil
		}
	}
	return nil, nil
}

// fetchRecordPage is stage 3, volume read: it probes the page cache;
// on a hit it returns the cached bytes, bumping recency unless bumpRecency
// is false (QUERY_NO_UPDATE must leave cache ordering untouched). On a
// miss, if another goroutine is already fetching the same physical page,
// it stashes itself on that page's wait queue and blocks until notified;
// otherwise it performs the read itself, installs the result into the
// cache, and notifies every waiter that queued up behind it.
func (p *Pipeline) fetchRecordPage(physicalPage uint64, bumpRecency bool) ([]byte, error) {
	if slot, ok := p.cache.Get(physicalPage); ok {
		telemetry.ObserveCacheAccess(true)
		if bumpRecency {
			p.cache.MakeMostRecent(slot)
		}
		return slot.Data, nil
	}
	telemetry.ObserveCacheAccess(false)

	p.fetchMu.Lock()
	if p.inFlight[physicalPage] {
		w := &waitqueue.Waiter{Value: make(chan struct{})}
		q := p.fetchWait[physicalPage]
		if q == nil {
			q = &waitqueue.Queue{}
			p.fetchWait[physicalPage] = q
		}
		q.Enqueue(w)
		p.fetchMu.Unlock()

		<-w.Value.(chan struct{})
		if slot, ok := p.cache.Get(physicalPage); ok {
			return slot.Data, nil
		}
		return nil, fmt.Errorf("request: page %d fetch did not complete", physicalPage)
	}
	p.inFlight[physicalPage] = true
	p.fetchMu.Unlock()

	data := make([]byte, geometry.BytesPerPage)
	_, err := p.factory.ReadAt(data, int64(physicalPage)*geometry.BytesPerPage)

	if err == nil {
		if slot := p.cache.SelectVictim(); slot != nil {
			p.cache.Put(physicalPage, slot, data)
		}
	}

	p.fetchMu.Lock()
	delete(p.inFlight, physicalPage)
	waiters := p.fetchWait[physicalPage]
	delete(p.fetchWait, physicalPage)
	p.fetchMu.Unlock()

	if waiters != nil {
		waiters.NotifyAll(func(w *waitqueue.Waiter, _ any) {
			close(w.Value.(chan struct{}))
		}, nil)
	}
	return data, err
}

// RebuildFromVolume scans every physical chapter slot on the volume and
// reconstructs the sharded volume index, and the in-memory chapter-index
// cache, from whatever chapters are durably present. A slot that was
// never written unpacks to a zero-page-count index and is skipped. The
// session layer decides which open modes are permitted to call this
// (NO_REBUILD trusts a clean-close marker and still rebuilds from the
// volume; LOAD rebuilds unconditionally).
func (p *Pipeline) RebuildFromVolume() error {
	p.chapterMu.Lock()
	defer p.chapterMu.Unlock()

	var newest uint64
	seenAny := false
	for slot := 0; slot < p.geometry.ChaptersPerVolume; slot++ {
		offset := p.geometry.PageOffset(slot, 0)
		buf := make([]byte, p.geometry.IndexPagesPerChapter*geometry.BytesPerPage)
		if _, err := p.factory.ReadAt(buf, offset); err != nil {
			return fmt.Errorf("request: rebuild: read chapter index at slot %d: %w", slot, err)
		}
		idx, err := chapterindex.Unpack(buf)
		if err != nil || idx.PageCount() == 0 {
			continue
		}
		for pageNum := 0; pageNum < idx.PageCount(); pageNum++ {
			pageOffset := p.geometry.PageOffset(slot, p.geometry.IndexPagesPerChapter+pageNum)
			pageBuf := make([]byte, geometry.BytesPerPage)
			if _, err := p.factory.ReadAt(pageBuf, pageOffset); err != nil {
				return fmt.Errorf("request: rebuild: read record page %d of slot %d: %w", pageNum, slot, err)
			}
			for _, rec := range unpackRecordPage(pageBuf, p.geometry.RecordsPerPage) {
				p.volumeIndex.ZoneFor(rec.Name).PutRecord(rec.Name, idx.VirtualChapter)
			}
		}
		p.indices[idx.VirtualChapter] = idx
		if !seenAny || idx.VirtualChapter >= newest {
			newest = idx.VirtualChapter
			seenAny = true
		}
	}

	if seenAny {
		p.openVirtualChapter = newest + 1
	} else {
		p.openVirtualChapter = 0
	}
	p.openChapter = openchapter.New(p.geometry.RecordsPerChapter())
	return nil
}

// CloseOpenChapter force-closes whatever the current open chapter holds,
// even if it is not full, flushing it durably. Called at a clean
// session close so nothing staged only in memory is lost.
func (p *Pipeline) CloseOpenChapter() error {
	p.chapterMu.Lock()
	defer p.chapterMu.Unlock()
	if p.openChapter.Len() == 0 {
		return nil
	}
	return p.closeOpenChapterLocked()
}

func packRecordPage(records []openchapter.Record, recordsPerPage int) []byte {
	buf := make([]byte, recordsPerPage*recordPageSlotBytes)
	for i := 0; i < recordsPerPage && i < len(records); i++ {
		off := i * recordPageSlotBytes
		copy(buf[off:off+geometry.BytesPerRecordName], records[i].Name[:])
		copy(buf[off+geometry.BytesPerRecordName:off+recordPageSlotBytes], records[i].Metadata[:])
	}
	return buf
}

func unpackRecordPage(data []byte, recordsPerPage int) []openchapter.Record {
	out := make([]openchapter.Record, 0, recordsPerPage)
	for i := 0; i < recordsPerPage; i++ {
		off := i * recordPageSlotBytes
		if off+recordPageSlotBytes > len(data) {
			break
		}
		var name recordname.Name
		copy(name[:], data[off:off+geometry.BytesPerRecordName])
		if name == (recordname.Name{}) {
			continue // an empty slot: real fingerprints essentially never hash to all-zero
		}
		var meta [16]byte
		copy(meta[:], data[off+geometry.BytesPerRecordName:off+recordPageSlotBytes])
		out = append(out, openchapter.Record{Name: name, Metadata: meta})
	}
	return out
}

func padOrTruncate(b []byte, size int) []byte {
	if len(b) >= size {
		return b[:size]
	}
	out := make([]byte, size)
	copy(out, b)
	return out
}
