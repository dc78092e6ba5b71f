// Package transactional implements the banish-capable bucket eviction
// policy used by caches that must guarantee a removed key cannot be
// reinserted by a racing writer until the removal's term has ended.
//
// Each bucket carries its own term counter. Banish marks a fingerprint
// rejected for the remainder of the current term; AdvanceTerm starts a
// new term and implicitly forgives every ban recorded in the one that
// just ended.
package transactional

import "github.com/memshard/memshard/policy"

const slotsPerBucket = 3

type transactionalPolicy struct{}

// New returns the transactional eviction policy. There is exactly one
// instance; all banish state lives in the bucket, reached through
// policy.BucketView.
func New() policy.Policy { return transactionalPolicy{} }

func (transactionalPolicy) SelectVictim(b policy.BucketView) int { return policy.OldestVictim(b) }

// Admit rejects a fingerprint that was banished earlier in this term.
func (transactionalPolicy) Admit(b policy.BucketView, fp uint32) bool {
	return !b.Banished(fp)
}

func (transactionalPolicy) OnBanish(b policy.BucketView, fp uint32) { b.Ban(fp) }

func (transactionalPolicy) AdvanceTerm(b policy.BucketView) { b.AdvanceTerm() }

func (transactionalPolicy) SupportsBanish() bool { return true }

func (transactionalPolicy) SlotsPerBucket() int { return slotsPerBucket }

func (transactionalPolicy) Name() string { return "transactional" }
