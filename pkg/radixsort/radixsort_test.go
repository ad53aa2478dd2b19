package radixsort

import (
	"bytes"
	"math/rand"
	"sort"
	"testing"
)

func isSorted(keys [][]byte) bool {
	for i := 1; i < len(keys); i++ {
		if bytes.Compare(keys[i-1], keys[i]) > 0 {
			return false
		}
	}
	return true
}

func cloneMultiset(keys [][]byte) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = string(k)
	}
	sort.Strings(out)
	return out
}

func TestEmptyAndSingleInputsAreNoops(t *testing.T) {
	Sort(nil)
	Sort([][]byte{})
	one := [][]byte{[]byte("abc")}
	Sort(one)
	if string(one[0]) != "abc" {
		t.Fatal("single-element sort mutated its element")
	}
}

func TestZeroLengthKeysAreNoop(t *testing.T) {
	keys := [][]byte{{}, {}, {}}
	Sort(keys)
	for _, k := range keys {
		if len(k) != 0 {
			t.Fatal("zero-length keys should remain zero-length")
		}
	}
}

func TestSortProducesNonDecreasingOrder(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	keys := make([][]byte, 2000)
	for i := range keys {
		k := make([]byte, 16)
		rng.Read(k)
		keys[i] = k
	}
	before := cloneMultiset(keys)
	Sort(keys)
	if !isSorted(keys) {
		t.Fatal("keys not sorted after Sort")
	}
	after := cloneMultiset(keys)
	if len(before) != len(after) {
		t.Fatal("length changed")
	}
	for i := range before {
		if before[i] != after[i] {
			t.Fatalf("multiset changed at %d: %q vs %q", i, before[i], after[i])
		}
	}
}

func TestSortIsIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	keys := make([][]byte, 500)
	for i := range keys {
		k := make([]byte, 8)
		rng.Read(k)
		keys[i] = k
	}
	Sort(keys)
	first := cloneMultiset(keys)
	Sort(keys)
	second := cloneMultiset(keys)
	if !isSorted(keys) {
		t.Fatal("second sort broke order")
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatal("sort(sort(A)) changed the multiset")
		}
	}
}

func TestReversedInputSortsToSameResult(t *testing.T) {
	keys := make([][]byte, 256)
	for i := range keys {
		keys[i] = []byte{byte(255 - i)}
	}
	reversed := make([][]byte, len(keys))
	for i := range keys {
		reversed[len(keys)-1-i] = keys[i]
	}
	Sort(keys)
	Sort(reversed)
	for i := range keys {
		if !bytes.Equal(keys[i], reversed[i]) {
			t.Fatalf("reversed input produced different sorted result at %d", i)
		}
	}
}

func TestHandlesDuplicateKeys(t *testing.T) {
	keys := [][]byte{
		[]byte("dup1"), []byte("aaaa"), []byte("dup1"), []byte("zzzz"), []byte("dup1"),
	}
	Sort(keys)
	if !isSorted(keys) {
		t.Fatal("keys with duplicates not sorted")
	}
	count := 0
	for _, k := range keys {
		if string(k) == "dup1" {
			count++
		}
	}
	if count != 3 {
		t.Fatalf("expected 3 copies of dup1 preserved, got %d", count)
	}
}

func TestLargeInputPerformance(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping large sort in short mode")
	}
	rng := rand.New(rand.NewSource(99))
	keys := make([][]byte, 1<<16)
	for i := range keys {
		k := make([]byte, 16)
		rng.Read(k)
		keys[i] = k
	}
	Sort(keys)
	if !isSorted(keys) {
		t.Fatal("65536-key sort did not produce sorted order")
	}
}
