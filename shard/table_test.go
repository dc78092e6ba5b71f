package shard

import "testing"

func TestBucketIndexUsesTopBits(t *testing.T) {
	tbl := newTable(8, 5, false) // 256 buckets, top 8 bits select the bucket
	cases := []struct {
		fp   uint32
		want uint64
	}{
		{0x00000000, 0},
		{0xFF000000, 255},
		{0x01000000, 1},
		{0x80000000, 128},
	}
	for _, c := range cases {
		if got := tbl.bucketIndex(c.fp); got != c.want {
			t.Errorf("bucketIndex(%#x) = %d, want %d", c.fp, got, c.want)
		}
	}
}

func TestMigrateBucketIdempotentPerIndex(t *testing.T) {
	old := newTable(8, 5, false)
	newT := newTable(10, 5, false)

	b := old.buckets[0]
	b.slots[0] = newCachedValue(0x00000001, []byte("a"), []byte("1"), 1)
	b.slots[1] = newCachedValue(0x00000002, []byte("b"), []byte("2"), 2)

	var freed []*CachedValue
	clearer := func(vs []*CachedValue) { freed = append(freed, vs...) }

	old.migrateBucket(b, newT, clearer)
	// bucket 0 in old is now empty; calling again must be a no-op.
	old.migrateBucket(b, newT, clearer)

	if len(freed) != 0 {
		t.Fatalf("unexpected evictions during migrate with room: %d", len(freed))
	}

	foundA := newT.primaryBucket(0x00000001).find(0x00000001, []byte("a"))
	foundB := newT.primaryBucket(0x00000002).find(0x00000002, []byte("b"))
	if foundA == nil || foundB == nil {
		t.Fatal("expected both migrated values to be findable in the new table")
	}
}

func TestMigrateBucketEvictsOnNoRoom(t *testing.T) {
	old := newTable(8, 1, false)  // 1 slot per bucket in old
	newT := newTable(8, 1, false) // same bucket layout, also 1 slot

	b := old.buckets[5]
	b.slots[0] = newCachedValue(5<<24, []byte("only"), []byte("v"), 1)

	// Pre-occupy the destination bucket so the migrated slot has no room.
	dst := newT.buckets[5]
	dst.slots[0] = newCachedValue(5<<24, []byte("already-there"), []byte("v2"), 2)

	var freed []*CachedValue
	old.migrateBucket(b, newT, func(vs []*CachedValue) { freed = append(freed, vs...) })

	if len(freed) != 1 {
		t.Fatalf("expected 1 eviction on no-room migrate, got %d", len(freed))
	}
	if string(freed[0].Key()) != "only" {
		t.Fatalf("evicted wrong value: %q", freed[0].Key())
	}
}

func TestTargetLogSizeRoundsUpToPowerOfTwo(t *testing.T) {
	got := targetLogSize(10000, 5, 0.75)
	n := uint64(1) << got
	min := uint64(10000) / 5
	if n*3/4 < min { // n * fillRatio should cover expected elements / slotsPerBucket
		t.Fatalf("targetLogSize(10000,5,0.75) = %d (n=%d) too small for expected load", got, n)
	}
	if got < MinLogSize {
		t.Fatalf("targetLogSize below MinLogSize: %d", got)
	}
}
