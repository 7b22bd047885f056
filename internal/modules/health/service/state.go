package service

import (
	"sync/atomic"
	"time"
)

// State — готовность процесса и время последнего закрытого бара.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	lastBarUnix atomic.Int64 // unix seconds
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

// TouchBar запоминает самый свежий бар из всех стратегий.
func (s *State) TouchBar(t time.Time) {
	u := t.Unix()
	for {
		cur := s.lastBarUnix.Load()
		if u <= cur || s.lastBarUnix.CompareAndSwap(cur, u) {
			return
		}
	}
}

func (s *State) LastBar() time.Time {
	u := s.lastBarUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0).UTC()
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }
