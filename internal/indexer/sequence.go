package indexer

import "sync/atomic"

// Sequence hands out chunk ids. It only moves forward: reserved ids are never returned,
// even when the chunks they were reserved for never reach the index.
type Sequence struct {
	next atomic.Int64
}

// NewSequence returns a sequence whose first reserved id is start.
func NewSequence(start int64) *Sequence {
	s := &Sequence{}
	s.next.Store(start)
	return s
}

// Reserve claims n consecutive ids and returns the first one. Reserve(0) claims nothing.
func (s *Sequence) Reserve(n int) int64 {
	return s.next.Add(int64(n)) - int64(n)
}

// Peek returns the id the next Reserve would start at.
func (s *Sequence) Peek() int64 {
	return s.next.Load()
}

// AdvanceTo moves the sequence forward to at least v. It never moves it back.
func (s *Sequence) AdvanceTo(v int64) {
	for {
		cur := s.next.Load()
		if cur >= v || s.next.CompareAndSwap(cur, v) {
			return
		}
	}
}
