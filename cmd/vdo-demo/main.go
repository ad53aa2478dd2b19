// Command vdo-demo is a flag-configured demo binary wiring together the
// two cores this module implements: a UDS dedup index (via
// internal/uds/session) and a VDO slab reference-count engine (via
// internal/vdo/refcount). It posts a batch of synthetic records into the
// index, allocates and adjusts a handful of slab blocks, drains the slab
// to its backing file, and prints a one-shot summary — optionally serving
// the summary (and Prometheus metrics) over HTTP so it stays up for a
// load-generation tool to poll.
//
// Grounded on the teacher's cmd/tfd-sim and cmd/ratelimiter-api: small
// flag-configured binaries that build a store/worker/server trio and run
// until interrupted, printing periodic summaries.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dm-vdo/vdo-devel-sub005/internal/logging"
	"github.com/dm-vdo/vdo-devel-sub005/internal/telemetry"
	"github.com/dm-vdo/vdo-devel-sub005/internal/uds/recordname"
	"github.com/dm-vdo/vdo-devel-sub005/internal/uds/request"
	"github.com/dm-vdo/vdo-devel-sub005/internal/uds/session"
	"github.com/dm-vdo/vdo-devel-sub005/internal/vdo/config"
	"github.com/dm-vdo/vdo-devel-sub005/internal/vdo/refcount"
	"github.com/dm-vdo/vdo-devel-sub005/internal/vdo/slabjournal"
	"github.com/dm-vdo/vdo-devel-sub005/internal/vdo/slabsummary"
	"github.com/dm-vdo/vdo-devel-sub005/internal/vdo/zones"
	"github.com/dm-vdo/vdo-devel-sub005/pkg/iofactory"
)

func main() {
	var (
		volumePath  = flag.String("volume", "", "path to the UDS volume file (default: in-memory)")
		memoryGB    = flag.Float64("memory-gb", 0.25, "UDS index memory size in GB")
		recordCount = flag.Int("records", 500, "number of synthetic records to post")
		slabBlocks  = flag.Uint64("slab-blocks", 4096, "VDO slab block count")
		allocatorThreads = flag.Int("allocator-threads", 4, "number of allocator worker threads slabs are rendezvous-assigned across")
		httpAddr    = flag.String("http", "", "address to serve a JSON status endpoint on (empty disables)")
		metricsAddr = flag.String("metrics", "", "address to serve /metrics on (empty disables)")
		debug       = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	logger := logging.NewDefault(*debug)
	telemetry.Enable(telemetry.Config{Enabled: *metricsAddr != "", MetricsAddr: *metricsAddr})

	udsSummary, err := runUDSDemo(logger, *volumePath, *memoryGB, *recordCount)
	if err != nil {
		log.Fatalf("uds demo: %v", err)
	}
	fmt.Println(udsSummary.String())

	vdoSummary, err := runVDODemo(logger, *slabBlocks, *allocatorThreads)
	if err != nil {
		log.Fatalf("vdo demo: %v", err)
	}
	fmt.Println(vdoSummary.String())

	if *httpAddr == "" {
		return
	}
	serveStatus(*httpAddr, udsSummary, vdoSummary, logger)
}

// udsSummary is the JSON-able result of one demo run through the UDS
// session API.
type udsSummary struct {
	Parameters session.Parameters `json:"parameters"`
	Stats      session.Stats      `json:"stats"`
}

func (s udsSummary) String() string {
	return fmt.Sprintf("uds: posted index %q (%.2fGB) — stats=%+v", s.Parameters.Name, s.Parameters.MemoryGB, s.Stats)
}

// runUDSDemo opens a fresh index (CREATE), posts recordCount synthetic
// records, flushes, and closes cleanly, returning the final parameters and
// stats (§6). It does not query the posted records back.
func runUDSDemo(logger logging.Logger, volumePath string, memoryGB float64, recordCount int) (udsSummary, error) {
	params := session.Parameters{MemoryGB: memoryGB, Name: "vdo-demo", Nonce: uint64(time.Now().UnixNano())}

	var factory *iofactory.Factory
	needed := int64((memoryGB + 1) * (1 << 20)) // generous upper bound; OpenIndex validates exactly
	if volumePath == "" {
		factory = iofactory.Open("mem", iofactory.NewMemRegion(needed*4))
	} else {
		f, err := iofactory.OpenFile(volumePath, needed*4)
		if err != nil {
			return udsSummary{}, fmt.Errorf("opening volume file: %w", err)
		}
		factory = f
	}

	sess := session.CreateSession(session.Options{Logger: logger})
	if err := sess.OpenIndex(session.Create, params, factory); err != nil {
		return udsSummary{}, fmt.Errorf("OpenIndex(CREATE): %w", err)
	}

	ctx := context.Background()
	for i := 0; i < recordCount; i++ {
		name := recordname.Of([]byte(fmt.Sprintf("vdo-demo-record-%d", i)))
		done := make(chan struct{})
		req := &request.Request{Name: name, Kind: request.Post, NewMetadata: [16]byte{byte(i)}}
		req.Callback = func(*request.Request) { close(done) }
		if err := sess.LaunchRequest(req); err != nil {
			return udsSummary{}, fmt.Errorf("posting record %d: %w", i, err)
		}
		<-done
	}
	if err := sess.FlushSession(ctx); err != nil {
		return udsSummary{}, fmt.Errorf("flushing: %w", err)
	}

	stats := sess.GetIndexStats()
	gotParams := sess.GetIndexParameters()
	if err := sess.CloseIndex(factory); err != nil {
		return udsSummary{}, fmt.Errorf("closing index: %w", err)
	}
	return udsSummary{Parameters: gotParams, Stats: stats}, nil
}

// vdoSummary is the JSON-able result of one demo run through the slab
// reference-count engine.
type vdoSummary struct {
	SlabNumber   uint64 `json:"slab_number"`
	FreeBlocks   uint64 `json:"free_blocks"`
	BlockCount   uint64 `json:"block_count"`
	ReadOnly     bool   `json:"read_only"`
	DirtyBlocks  int    `json:"dirty_blocks_at_finish"`
	OwnerThread  string `json:"owner_thread"`
}

func (s vdoSummary) String() string {
	return fmt.Sprintf("vdo: slab %d (owner=%s) free=%d/%d read_only=%v", s.SlabNumber, s.OwnerThread, s.FreeBlocks, s.BlockCount, s.ReadOnly)
}

// notifier adapts logging into refcount.ReadOnlyNotifier for the demo.
type notifier struct{ logger logging.Logger }

func (n notifier) EnterReadOnly(err error) {
	n.logger.Errorf("vdo-demo: slab entered read-only mode: %v", err)
	telemetry.ObserveReadOnly()
}

// runVDODemo allocates a handful of blocks on a fresh in-memory slab,
// increments and decrements references the way a dedup write path would,
// then drains (saves) the slab's reference blocks to a backing region,
// exercising §4.8's adjust/allocate/persist/drain machinery end to end.
func runVDODemo(logger logging.Logger, blockCount uint64, allocatorThreads int) (vdoSummary, error) {
	journal := slabjournal.New(4)
	journal.SetBlockCapacity(8)
	summary := slabsummary.New()
	notif := notifier{logger: logger}

	const slabNumber = 0
	threads := zones.NewThreadSet(allocatorThreads)
	ownerThread := threads.OwnerOfSlab(slabNumber)
	logger.Infof("vdo-demo: slab %d assigned to %s of %d allocator threads", slabNumber, ownerThread, threads.ThreadCount())

	rc, err := refcount.New(slabNumber, config.SlabConfig{BlockCount: blockCount}, journal, notif, logger)
	if err != nil {
		return vdoSummary{}, fmt.Errorf("refcount.New: %w", err)
	}
	rc.SetState(refcount.Open)

	const demoWrites = 32
	for i := 0; i < demoWrites; i++ {
		if journal.Blocked() {
			logger.Warnf("vdo-demo: slab journal blocked at write %d, waiting on reference-block reaping", i)
			telemetry.ObserveJournalBlocked()
		}
		pbn, err := rc.AllocateUnreferencedBlock()
		if err != nil {
			return vdoSummary{}, fmt.Errorf("allocate block %d: %w", i, err)
		}
		jp := journal.NextEntry()
		u := refcount.Updater{ZPBN: refcount.ZonedPBN{PBN: pbn}, Increment: true, Operation: refcount.DataRemapping}
		if _, err := rc.Adjust(u, jp); err != nil {
			return vdoSummary{}, fmt.Errorf("commit block %d: %w", pbn, err)
		}
	}

	// One of those writes turns out to be a duplicate of an earlier
	// block: drop the reference on pbn 0, the first block committed above,
	// which returns its counter from a single reference to free.
	lastPBN := blockCount - 1
	if lastPBN < blockCount {
		jp := journal.NextEntry()
		u := refcount.Updater{ZPBN: refcount.ZonedPBN{PBN: 0}, Increment: false, Operation: refcount.DataRemapping}
		_, _ = rc.Adjust(u, jp)
	}

	region := iofactory.NewMemRegion(int64(config.SlabConfig{BlockCount: blockCount}.ReferenceBlockCount()) * config.BlockSize)
	rc.SetState(refcount.Saving)
	rc.MarkRebuilt()
	action := rc.Drain(summary, journal.Current().SequenceNumber)
	if action == refcount.DrainSave {
		refBlocks := config.SlabConfig{BlockCount: blockCount}.ReferenceBlockCount()
		for i := uint64(0); i < refBlocks; i++ {
			if err := rc.WriteBlock(region, 0, int(i), nil); err != nil {
				return vdoSummary{}, fmt.Errorf("writing reference block %d: %w", i, err)
			}
			telemetry.ObserveReferenceBlockWrite()
		}
	}
	rc.FinishDrain(summary, journal.Current().SequenceNumber)
	telemetry.SetSlabFreeBlocks(rc.SlabNumber(), rc.FreeBlocks())

	return vdoSummary{
		SlabNumber:  rc.SlabNumber(),
		FreeBlocks:  rc.FreeBlocks(),
		BlockCount:  rc.BlockCount(),
		ReadOnly:    rc.IsReadOnly(),
		DirtyBlocks: rc.DirtyBlockCount(),
		OwnerThread: ownerThread,
	}, nil
}

// serveStatus runs a thin net/http façade over the two summaries,
// grounded on the teacher's api/server.go, until interrupted.
func serveStatus(addr string, uds udsSummary, vdo vdoSummary, logger logging.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"uds":%q,"vdo":%q}`, uds.String(), vdo.String())
	})
	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infof("vdo-demo: serving status on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("vdo-demo: status server: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
