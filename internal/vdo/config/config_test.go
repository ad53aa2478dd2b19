package config

import "testing"

func TestNormalizeRejectsZeroBlockCount(t *testing.T) {
	if _, err := (SlabConfig{}).Normalize(); err == nil {
		t.Fatal("expected an error for a zero block_count")
	}
}

func TestNormalizeAcceptsPositiveBlockCount(t *testing.T) {
	c, err := SlabConfig{BlockCount: 100}.Normalize()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.BlockCount != 100 {
		t.Fatalf("BlockCount = %d, want 100", c.BlockCount)
	}
}

func TestReferenceBlockCountRoundsUp(t *testing.T) {
	c := SlabConfig{BlockCount: CountsPerBlock + 1}
	if got := c.ReferenceBlockCount(); got != 2 {
		t.Fatalf("ReferenceBlockCount() = %d, want 2", got)
	}
}

func TestReferenceBlockCountExactMultiple(t *testing.T) {
	c := SlabConfig{BlockCount: CountsPerBlock * 3}
	if got := c.ReferenceBlockCount(); got != 3 {
		t.Fatalf("ReferenceBlockCount() = %d, want 3", got)
	}
}

func TestLayoutConstantsAreConsistent(t *testing.T) {
	if BlockSize != SectorSize*SectorsPerBlock {
		t.Fatalf("BlockSize inconsistent with SectorSize*SectorsPerBlock")
	}
	if CountsPerBlock != CountsPerSector*SectorsPerBlock {
		t.Fatalf("CountsPerBlock inconsistent with CountsPerSector*SectorsPerBlock")
	}
}
