package rand

import "testing"

func TestSeedDeterministic(t *testing.T) {
	Seed(1, 2)
	a := Uint64()
	b := Uint64()
	if a == b {
		t.Fatal("expected successive draws to differ")
	}

	Seed(1, 2)
	c := Uint64()
	if a != c {
		t.Fatalf("expected the same seed to reproduce the same sequence: got %d, want %d", c, a)
	}
}

func TestUint32DrawsDiffer(t *testing.T) {
	Seed(42, 7)
	seen := make(map[uint32]bool)
	for i := 0; i < 8; i++ {
		seen[Uint32()] = true
	}
	if len(seen) < 2 {
		t.Fatal("expected at least some variation across draws")
	}
}
