// Package plain implements the non-transactional bucket eviction policy.
//
// A plain bucket never rejects an admissible fingerprint and carries no
// per-term banish state: when a bucket fills, the oldest occupant is
// simply evicted to make room for the newcomer.
package plain

import "github.com/memshard/memshard/policy"

const slotsPerBucket = 5

type plainPolicy struct{}

// New returns the plain eviction policy. There is exactly one plain
// policy instance; it carries no state of its own.
func New() policy.Policy { return plainPolicy{} }

func (plainPolicy) SelectVictim(b policy.BucketView) int { return policy.OldestVictim(b) }

func (plainPolicy) Admit(_ policy.BucketView, _ uint32) bool { return true }

func (plainPolicy) OnBanish(_ policy.BucketView, _ uint32) {}

func (plainPolicy) AdvanceTerm(_ policy.BucketView) {}

func (plainPolicy) SupportsBanish() bool { return false }

func (plainPolicy) SlotsPerBucket() int { return slotsPerBucket }

func (plainPolicy) Name() string { return "plain" }
