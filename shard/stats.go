package shard

import "github.com/memshard/memshard/internal/spinlock"

// statCode identifies a sampled event recorded into a StatBuffer.
type statCode uint8

const (
	statFindHit statCode = iota
	statFindMiss
)

// statBufferCapacity is the number of most-recent sampled events a
// StatBuffer retains.
const statBufferCapacity = 1024

// StatBuffer is a bounded ring buffer of sampled hit/miss codes. It
// reports the frequency of each distinct code currently in the window,
// which Cache.HitRates() turns into a windowed hit-rate percentage.
type StatBuffer struct {
	lock   spinlock.SpinLock
	buf    []statCode
	next   int
	filled bool
}

// newStatBufferSafe allocates a StatBuffer, returning ok=false instead of
// panicking if the allocation fails. Go's allocator essentially never
// fails short of OOM, but the windowed-stats feature is explicitly
// optional per spec: a failure here just means HitRates reports only the
// lifetime rate.
func newStatBufferSafe(capacity int) (buf *StatBuffer, ok bool) {
	defer func() {
		if recover() != nil {
			buf, ok = nil, false
		}
	}()
	if capacity <= 0 {
		capacity = statBufferCapacity
	}
	return &StatBuffer{buf: make([]statCode, capacity)}, true
}

// insertRecord appends code to the ring, overwriting the oldest entry
// once the buffer has filled.
func (s *StatBuffer) insertRecord(code statCode) {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.buf[s.next] = code
	s.next++
	if s.next >= len(s.buf) {
		s.next = 0
		s.filled = true
	}
}

// frequencies reports the count of each distinct code currently held in
// the window, in ascending code order.
func (s *StatBuffer) frequencies() []struct {
	Code  statCode
	Count uint64
} {
	s.lock.Lock()
	n := len(s.buf)
	if !s.filled {
		n = s.next
	}
	window := make([]statCode, n)
	copy(window, s.buf[:n])
	s.lock.Unlock()

	counts := map[statCode]uint64{}
	for _, c := range window {
		counts[c]++
	}
	out := make([]struct {
		Code  statCode
		Count uint64
	}, 0, len(counts))
	for _, c := range []statCode{statFindHit, statFindMiss} {
		if n, ok := counts[c]; ok {
			out = append(out, struct {
				Code  statCode
				Count uint64
			}{c, n})
		}
	}
	return out
}

// windowedHitRate turns frequencies() into a percentage in [0,100], or
// NaN (reported via the ok=false return) if the window holds no samples.
func (s *StatBuffer) windowedHitRate() (rate float64, ok bool) {
	freqs := s.frequencies()
	var hits, misses uint64
	for _, f := range freqs {
		switch f.Code {
		case statFindHit:
			hits = f.Count
		case statFindMiss:
			misses = f.Count
		}
	}
	if hits+misses == 0 {
		return 0, false
	}
	return 100 * float64(hits) / float64(hits+misses), true
}
