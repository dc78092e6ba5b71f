package transactional

import (
	"testing"

	"github.com/memshard/memshard/policy"
)

type fakeBucket struct {
	slots  []policy.SlotInfo
	banned map[uint32]bool
}

func (b *fakeBucket) Len() int                  { return len(b.slots) }
func (b *fakeBucket) Slot(i int) policy.SlotInfo { return b.slots[i] }
func (b *fakeBucket) Banished(fp uint32) bool    { return b.banned[fp] }
func (b *fakeBucket) Ban(fp uint32)              { b.banned[fp] = true }
func (b *fakeBucket) AdvanceTerm()               { b.banned = map[uint32]bool{} }

func newFakeBucket(seqs ...uint64) *fakeBucket {
	b := &fakeBucket{banned: map[uint32]bool{}}
	for i, s := range seqs {
		b.slots = append(b.slots, policy.SlotInfo{Fingerprint: uint32(i), Seq: s})
	}
	return b
}

func TestSelectVictimPicksOldest(t *testing.T) {
	p := New()
	b := newFakeBucket(4, 8, 2)
	if got := p.SelectVictim(b); got != 2 {
		t.Fatalf("SelectVictim() = %d, want 2", got)
	}
}

func TestAdmitRejectsBanished(t *testing.T) {
	p := New()
	b := newFakeBucket()
	if !p.Admit(b, 7) {
		t.Fatal("Admit() = false before any banish, want true")
	}
	p.OnBanish(b, 7)
	if p.Admit(b, 7) {
		t.Fatal("Admit() = true for a banished fingerprint, want false")
	}
	if p.Admit(b, 8) {
		t.Log("unrelated fingerprint admitted as expected")
	}
}

func TestAdvanceTermForgivesBans(t *testing.T) {
	p := New()
	b := newFakeBucket()
	p.OnBanish(b, 7)
	if p.Admit(b, 7) {
		t.Fatal("expected fingerprint 7 to be banished before AdvanceTerm")
	}
	p.AdvanceTerm(b)
	if !p.Admit(b, 7) {
		t.Fatal("expected fingerprint 7 to be admissible again after AdvanceTerm")
	}
}

func TestSlotsPerBucketAndName(t *testing.T) {
	p := New()
	if p.SlotsPerBucket() != 3 {
		t.Fatalf("SlotsPerBucket() = %d, want 3", p.SlotsPerBucket())
	}
	if p.Name() != "transactional" {
		t.Fatalf("Name() = %q, want %q", p.Name(), "transactional")
	}
	if !p.SupportsBanish() {
		t.Fatal("SupportsBanish() = false, want true")
	}
}
