// Package shard implements one partition of a concurrent cache: a
// fingerprinted hash table of fixed-size buckets, its memory accounting
// (Metadata), reference-counted payloads (CachedValue), and the
// orchestration (Cache) that ties lookups, inserts, removes, and
// structural maintenance together.
//
// Design
//
//   - Concurrency: every bucket has its own spin lock (internal/spinlock);
//     Metadata is guarded by a readers-writer spin lock. There is no
//     blocking mutex anywhere on the hot path — callers either make
//     progress within a bounded number of spin attempts or get back a
//     transient ErrBucketBusy.
//
//   - Storage: a Table is a power-of-two array of buckets, each holding up
//     to slotsPerBucket slots. A migration in progress attaches a second
//     Table as the current one's auxiliary; Find consults both until the
//     migration completes and swaps it in as primary.
//
//   - Variants: the eviction/admission policy is pluggable via the policy
//     package. The plain variant (policy/plain) never rejects an
//     admissible fingerprint; the transactional variant (policy/
//     transactional) adds a per-bucket term counter and can banish a
//     fingerprint for the remainder of the current term.
//
//   - Memory accounting: Metadata tracks allocatedSize and usage against a
//     soft/hard limit pair. Insertions that would exceed the hard limit
//     are rejected; a background FreeMemory sweep (requested by Cache,
//     run when the Manager grants it) reconciles usage back under the
//     soft limit.
//
//   - Structural maintenance: RequestGrow/RequestMigrate ask the owning
//     Manager for permission, subject to a cooldown; an accepted request
//     results in the Manager calling TryResize/TryMigrateTo back. An
//     eviction-rate feedback loop (reportInsert) requests a migrate to a
//     larger table once the sampled eviction rate crosses a threshold.
//
//   - Shutdown: idempotent, waits for any in-flight resize/migrate to
//     clear its flag, then releases the table back to the Manager and
//     unregisters the shard.
//
// A Cache never reaches for a process-wide singleton: the Manager it
// depends on is passed in explicitly at construction (see the Manager
// interface in api.go), and the shard id it carries is assigned by that
// Manager at registration.
package shard
