package pagecache

import (
	"reflect"
	"testing"
)

func insert(t *testing.T, c *Cache, p uint64) {
	t.Helper()
	slot := c.SelectVictim()
	if slot == nil {
		t.Fatalf("no victim available for page %d", p)
	}
	c.Put(p, slot, nil)
}

func TestCacheLRUOrder(t *testing.T) {
	c := New(5, 1)
	for p := uint64(0); p <= 4; p++ {
		insert(t, c, p)
	}
	if got := c.MostRecentOrder(); !reflect.DeepEqual(got, []uint64{4, 3, 2, 1, 0}) {
		t.Fatalf("order after filling = %v, want [4 3 2 1 0]", got)
	}

	insert(t, c, 5)
	if got := c.MostRecentOrder(); !reflect.DeepEqual(got, []uint64{5, 4, 3, 2, 1}) {
		t.Fatalf("order after evicting lru = %v, want [5 4 3 2 1]", got)
	}

	if _, ok := c.Get(0); ok {
		t.Fatal("expected page 0 to have been evicted")
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := New(2, 1)
	if _, ok := c.Get(99); ok {
		t.Fatal("expected a miss on an empty cache")
	}
}

func TestMakeMostRecentReordersWithoutEviction(t *testing.T) {
	c := New(3, 1)
	insert(t, c, 0)
	insert(t, c, 1)
	insert(t, c, 2)

	page, ok := c.Get(0)
	if !ok {
		t.Fatal("expected page 0 resident")
	}
	c.MakeMostRecent(page)

	if got := c.MostRecentOrder(); !reflect.DeepEqual(got, []uint64{0, 2, 1}) {
		t.Fatalf("order = %v, want [0 2 1]", got)
	}
}

func TestInvalidateFreesSlot(t *testing.T) {
	c := New(2, 1)
	insert(t, c, 7)
	c.Invalidate(7)
	if _, ok := c.Get(7); ok {
		t.Fatal("expected page 7 to be invalidated")
	}
	// With page 7 gone, page 8 can be cached without displacing anything.
	insert(t, c, 8)
	if _, ok := c.Get(8); !ok {
		t.Fatal("expected page 8 to be resident after the invalidation")
	}
}

func TestInvalidateChapterSweepsRange(t *testing.T) {
	c := New(8, 4)
	for p := uint64(0); p < 8; p++ {
		insert(t, c, p)
	}
	c.InvalidateChapter(1) // pages [4,8)
	for p := uint64(4); p < 8; p++ {
		if _, ok := c.Get(p); ok {
			t.Fatalf("expected page %d invalidated by chapter sweep", p)
		}
	}
	for p := uint64(0); p < 4; p++ {
		if _, ok := c.Get(p); !ok {
			t.Fatalf("expected page %d to remain resident", p)
		}
	}
}
