package recordname

import "testing"

func TestOfIsDeterministic(t *testing.T) {
	a := Of([]byte("the quick brown fox"))
	b := Of([]byte("the quick brown fox"))
	if a != b {
		t.Fatal("expected the same payload to hash to the same name")
	}
}

func TestOfDiffersForDifferentPayloads(t *testing.T) {
	a := Of([]byte("payload one"))
	b := Of([]byte("payload two"))
	if a == b {
		t.Fatal("expected different payloads to hash to different names")
	}
}

func TestZoneSelectorIsWithinRange(t *testing.T) {
	n := Of([]byte("zone test payload"))
	for _, zoneCount := range []int{1, 2, 3, 7, 16} {
		z := n.ZoneSelector(zoneCount)
		if z < 0 || z >= zoneCount {
			t.Fatalf("ZoneSelector(%d) = %d, out of range", zoneCount, z)
		}
	}
}

func TestZoneSelectorZeroZonesIsZero(t *testing.T) {
	n := Of([]byte("x"))
	if got := n.ZoneSelector(0); got != 0 {
		t.Fatalf("ZoneSelector(0) = %d, want 0", got)
	}
}

func TestIsSampleHookDistributesAcrossNames(t *testing.T) {
	hooks := 0
	const total = 2000
	for i := 0; i < total; i++ {
		n := Of([]byte{byte(i), byte(i >> 8)})
		if n.IsSampleHook(10) {
			hooks++
		}
	}
	if hooks == 0 || hooks == total {
		t.Fatalf("expected some but not all names to be sample hooks, got %d/%d", hooks, total)
	}
}

func TestIsSampleHookDisabledWhenRateNonPositive(t *testing.T) {
	n := Of([]byte("anything"))
	if n.IsSampleHook(0) {
		t.Fatal("a non-positive sample rate must never produce a sample hook")
	}
}
