package models

import "sync/atomic"

// Sequence выдаёт монотонно растущие id алертов.
type Sequence struct {
	last atomic.Int64
}

// NewSequence продолжает нумерацию после last (например, max(id) из истории).
func NewSequence(last int64) *Sequence {
	s := &Sequence{}
	s.last.Store(last)
	return s
}

func (s *Sequence) Next() int64 {
	return s.last.Add(1)
}

func (s *Sequence) Last() int64 {
	return s.last.Load()
}
