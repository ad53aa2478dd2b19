package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDisabledByDefaultIsNoop(t *testing.T) {
	t.Cleanup(func() { Enable(Config{Enabled: false}) })
	Enable(Config{Enabled: false})

	before := testutil.ToFloat64(udsCacheHitsTotal)
	ObserveCacheAccess(true)
	after := testutil.ToFloat64(udsCacheHitsTotal)
	if before != after {
		t.Fatalf("expected no change while disabled: %v -> %v", before, after)
	}
}

func TestObserveRequestIncrementsByKind(t *testing.T) {
	t.Cleanup(func() { Enable(Config{Enabled: false}) })
	Enable(Config{Enabled: true})

	before := testutil.ToFloat64(udsRequestsTotal.WithLabelValues("query"))
	ObserveRequest("query")
	after := testutil.ToFloat64(udsRequestsTotal.WithLabelValues("query"))
	if after-before != 1 {
		t.Fatalf("uds_requests_total{kind=query} delta = %v, want 1", after-before)
	}
}

func TestObserveCacheAccessSplitsHitsAndMisses(t *testing.T) {
	t.Cleanup(func() { Enable(Config{Enabled: false}) })
	Enable(Config{Enabled: true})

	beforeHit := testutil.ToFloat64(udsCacheHitsTotal)
	beforeMiss := testutil.ToFloat64(udsCacheMissesTotal)
	ObserveCacheAccess(true)
	ObserveCacheAccess(false)
	if testutil.ToFloat64(udsCacheHitsTotal)-beforeHit != 1 {
		t.Fatal("expected one cache hit recorded")
	}
	if testutil.ToFloat64(udsCacheMissesTotal)-beforeMiss != 1 {
		t.Fatal("expected one cache miss recorded")
	}
}

func TestSetSlabFreeBlocksPerSlab(t *testing.T) {
	t.Cleanup(func() { Enable(Config{Enabled: false}) })
	Enable(Config{Enabled: true})

	SetSlabFreeBlocks(7, 100)
	if got := testutil.ToFloat64(vdoSlabFreeBlocks.WithLabelValues(slabKey(7))); got != 100 {
		t.Fatalf("vdo_slab_free_blocks{slab=slab-7} = %v, want 100", got)
	}
}

func TestReadOnlyAndJournalBlockedCounters(t *testing.T) {
	t.Cleanup(func() { Enable(Config{Enabled: false}) })
	Enable(Config{Enabled: true})

	beforeRO := testutil.ToFloat64(vdoSlabReadOnlyTotal)
	beforeJB := testutil.ToFloat64(vdoSlabJournalBlockedTotal)
	ObserveReadOnly()
	ObserveJournalBlocked()
	if testutil.ToFloat64(vdoSlabReadOnlyTotal)-beforeRO != 1 {
		t.Fatal("expected read-only counter to increment")
	}
	if testutil.ToFloat64(vdoSlabJournalBlockedTotal)-beforeJB != 1 {
		t.Fatal("expected journal-blocked counter to increment")
	}
}
