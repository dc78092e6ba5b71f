// Package policy defines the pluggable per-table eviction and admission
// strategy used by a cache shard. A Policy decides which slot to evict
// from a full bucket and, for variants that support it, which
// fingerprints are currently banished.
//
// Policies never touch cache values directly — they operate through a
// BucketView so the shard package retains ownership of bucket state and
// locking.
package policy

// SlotInfo is the lightweight per-slot information exposed to a policy
// for eviction decisions.
type SlotInfo struct {
	Fingerprint uint32
	Seq         uint64 // insertion sequence number; lower is older
}

// BucketView lets a policy inspect and mutate a single locked bucket
// without depending on shard internals. All methods are only safe to
// call while the bucket's lock is held by the caller.
type BucketView interface {
	// Len returns the number of occupied slots in the bucket.
	Len() int
	// Slot returns info for the i-th occupied slot, 0 <= i < Len().
	Slot(i int) SlotInfo
	// Banished reports whether fp is currently banished in this bucket.
	Banished(fp uint32) bool
	// Ban marks fp as banished for the remainder of the bucket's term.
	Ban(fp uint32)
	// AdvanceTerm advances the bucket's epoch, implicitly clearing any
	// ban recorded in the term that just ended.
	AdvanceTerm()
}

// Policy is a per-table eviction and admission strategy. Implementations
// are stateless with respect to any particular table — all mutable state
// lives in the bucket itself, reached through BucketView.
type Policy interface {
	// SelectVictim picks the index (0 <= i < b.Len()) of the slot to
	// evict from a full bucket.
	SelectVictim(b BucketView) int

	// Admit reports whether fp may be inserted into b right now.
	// Plain policies always admit; transactional policies reject
	// banished fingerprints.
	Admit(b BucketView, fp uint32) bool

	// OnBanish records that fp should be rejected until the bucket's
	// next AdvanceTerm. No-op for policies that don't support banish.
	OnBanish(b BucketView, fp uint32)

	// AdvanceTerm moves the bucket to its next epoch. No-op for
	// policies that don't support banish.
	AdvanceTerm(b BucketView)

	// SupportsBanish reports whether Banish/AdvanceTerm are meaningful
	// for this policy.
	SupportsBanish() bool

	// SlotsPerBucket is this variant's configured bucket width.
	SlotsPerBucket() int

	// Name identifies the variant ("plain", "transactional").
	Name() string
}

// OldestVictim returns the index of the slot with the lowest sequence
// number — the one inserted longest ago. Shared by both variants since
// the full-bucket eviction choice is variant-specific only in name; both
// ship the same deterministic rule so behavior stays testable.
func OldestVictim(b BucketView) int {
	victim := 0
	oldest := b.Slot(0).Seq
	for i := 1; i < b.Len(); i++ {
		if s := b.Slot(i).Seq; s < oldest {
			oldest = s
			victim = i
		}
	}
	return victim
}
