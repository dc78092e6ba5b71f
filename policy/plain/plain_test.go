package plain

import (
	"testing"

	"github.com/memshard/memshard/policy"
)

type fakeBucket struct {
	slots []policy.SlotInfo
	banned map[uint32]bool
}

func (b *fakeBucket) Len() int                     { return len(b.slots) }
func (b *fakeBucket) Slot(i int) policy.SlotInfo    { return b.slots[i] }
func (b *fakeBucket) Banished(fp uint32) bool       { return b.banned[fp] }
func (b *fakeBucket) Ban(fp uint32)                 { b.banned[fp] = true }
func (b *fakeBucket) AdvanceTerm()                  { b.banned = map[uint32]bool{} }

func newFakeBucket(seqs ...uint64) *fakeBucket {
	b := &fakeBucket{banned: map[uint32]bool{}}
	for i, s := range seqs {
		b.slots = append(b.slots, policy.SlotInfo{Fingerprint: uint32(i), Seq: s})
	}
	return b
}

func TestSelectVictimPicksOldest(t *testing.T) {
	p := New()
	b := newFakeBucket(5, 1, 9, 3)
	if got := p.SelectVictim(b); got != 1 {
		t.Fatalf("SelectVictim() = %d, want 1", got)
	}
}

func TestAdmitAlwaysTrue(t *testing.T) {
	p := New()
	b := newFakeBucket()
	if !p.Admit(b, 42) {
		t.Fatal("Admit() = false, want true for plain policy")
	}
}

func TestBanishUnsupported(t *testing.T) {
	p := New()
	if p.SupportsBanish() {
		t.Fatal("SupportsBanish() = true, want false")
	}
	b := newFakeBucket()
	p.OnBanish(b, 1)
	if b.Banished(1) {
		t.Fatal("OnBanish should be a no-op for plain policy")
	}
}

func TestSlotsPerBucketAndName(t *testing.T) {
	p := New()
	if p.SlotsPerBucket() != 5 {
		t.Fatalf("SlotsPerBucket() = %d, want 5", p.SlotsPerBucket())
	}
	if p.Name() != "plain" {
		t.Fatalf("Name() = %q, want %q", p.Name(), "plain")
	}
}
