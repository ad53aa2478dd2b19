package checkpoint

import (
	"context"
	"testing"
)

type fakeRedis struct {
	markers map[string]bool
	latest  map[string]uint64
	evals   int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{markers: map[string]bool{}, latest: map[string]uint64{}}
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	f.evals++
	markerKey, latestKey := keys[0], keys[1]
	virtual := args[0].(uint64)
	if f.markers[markerKey] {
		return int64(0), nil
	}
	f.markers[markerKey] = true
	f.latest[latestKey] = virtual
	return int64(1), nil
}

func TestPublishChapterClosedSetsLatest(t *testing.T) {
	client := newFakeRedis()
	p := New(client, "idx0")

	if err := p.PublishChapterClosed(context.Background(), 7, 3); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if got := client.latest[latestKey("idx0")]; got != 7 {
		t.Fatalf("latest = %d, want 7", got)
	}
}

func TestPublishChapterClosedIsIdempotent(t *testing.T) {
	client := newFakeRedis()
	p := New(client, "idx0")

	for i := 0; i < 3; i++ {
		if err := p.PublishChapterClosed(context.Background(), 7, 3); err != nil {
			t.Fatalf("publish %d: %v", i, err)
		}
	}
	if client.evals != 3 {
		t.Fatalf("expected 3 eval calls, got %d", client.evals)
	}
	if got := client.latest[latestKey("idx0")]; got != 7 {
		t.Fatalf("latest = %d, want 7 (unchanged by replays)", got)
	}
}

func TestPublishWithoutClientFails(t *testing.T) {
	p := New(nil, "idx0")
	if err := p.PublishChapterClosed(context.Background(), 1, 0); err == nil {
		t.Fatal("expected an error with no client configured")
	}
}
