package timeframe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signal_bot/internal/models"
)

var (
	ErrFeedConsistency  = errors.New("feed consistency error")
	ErrUnknownTimeframe = errors.New("unknown timeframe")
)

// RejectError — бар не монотонен по времени (дубль или из прошлого).
type RejectError struct {
	Timeframe string
	Time      time.Time
	Last      time.Time
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("%v: %s bar at %s is not after last accepted %s",
		ErrFeedConsistency, e.Timeframe, e.Time.Format(time.RFC3339), e.Last.Format(time.RFC3339))
}

func (e *RejectError) Unwrap() error { return ErrFeedConsistency }

const MinWindow = 2

// Cursor — сохранённый прогресс синхронизатора по таймфреймам.
type Cursor struct {
	Seq  uint64               `json:"seq"`
	Last map[string]time.Time `json:"last"`
}

type tfState struct {
	bars []models.Bar // старый -> новый, не длиннее window
	last time.Time
}

// Synchronizer держит последний закрытый бар каждого таймфрейма и на каждый
// принятый бар выдаёт AlignedTick. Не потокобезопасен: им владеет ровно
// один цикл инстанса.
type Synchronizer struct {
	tfs    []models.Timeframe
	window int
	state  map[string]*tfState
	seq    uint64
}

func New(tfs []models.Timeframe, window int) (*Synchronizer, error) {
	if len(tfs) == 0 {
		return nil, errors.New("synchronizer: no timeframes")
	}
	if window < MinWindow {
		window = MinWindow
	}
	s := &Synchronizer{
		tfs:    models.SortTimeframes(tfs),
		window: window,
		state:  make(map[string]*tfState, len(tfs)),
	}
	for _, tf := range s.tfs {
		if _, dup := s.state[tf.ID]; dup {
			return nil, fmt.Errorf("synchronizer: duplicate timeframe %q", tf.ID)
		}
		s.state[tf.ID] = &tfState{bars: make([]models.Bar, 0, window)}
	}
	return s, nil
}

// Restore поднимает синхронизатор с курсора: бары до курсора будут отвергнуты,
// но сами бары не восстанавливаются — таймфреймы остаются «absent» до новых.
func Restore(tfs []models.Timeframe, window int, cur Cursor) (*Synchronizer, error) {
	s, err := New(tfs, window)
	if err != nil {
		return nil, err
	}
	for id, last := range cur.Last {
		st, ok := s.state[id]
		if !ok {
			return nil, fmt.Errorf("%w: cursor references %q", ErrUnknownTimeframe, id)
		}
		st.last = last.UTC()
	}
	s.seq = cur.Seq
	return s, nil
}

func (s *Synchronizer) Timeframes() []models.Timeframe {
	return append([]models.Timeframe(nil), s.tfs...)
}

// Push принимает бар. ok=false — тик подавлен (все таймфреймы пусты).
// Ошибка ErrFeedConsistency/ErrUnknownTimeframe означает, что состояние не тронуто.
func (s *Synchronizer) Push(b models.Bar) (tick models.AlignedTick, ok bool, err error) {
	st, known := s.state[b.Timeframe]
	if !known {
		return models.AlignedTick{}, false, fmt.Errorf("%w: %q", ErrUnknownTimeframe, b.Timeframe)
	}

	b = b.Clone()
	b.Time = b.Time.UTC()
	if !b.Time.After(st.last) {
		return models.AlignedTick{}, false, &RejectError{Timeframe: b.Timeframe, Time: b.Time, Last: st.last}
	}

	st.bars = append(st.bars, b)
	if len(st.bars) > s.window {
		st.bars = append(st.bars[:0:0], st.bars[len(st.bars)-s.window:]...)
	}
	st.last = b.Time
	s.seq++

	tick, ok = s.snapshot(b)
	return tick, ok, nil
}

func (s *Synchronizer) snapshot(trigger models.Bar) (models.AlignedTick, bool) {
	windows := make(map[string][]models.Bar, len(s.tfs))
	for _, tf := range s.tfs {
		st := s.state[tf.ID]
		if len(st.bars) == 0 {
			continue
		}
		windows[tf.ID] = append([]models.Bar(nil), st.bars...)
	}
	if len(windows) == 0 {
		return models.AlignedTick{}, false
	}
	return models.AlignedTick{
		Time:    trigger.Time,
		Trigger: trigger.Timeframe,
		Seq:     s.seq,
		Windows: windows,
	}, true
}

func (s *Synchronizer) Cursor() Cursor {
	c := Cursor{Seq: s.seq, Last: make(map[string]time.Time, len(s.state))}
	for id, st := range s.state {
		if !st.last.IsZero() {
			c.Last[id] = st.last
		}
	}
	return c
}

// Run — ленивый поток тиков поверх потока баров. Отвергнутые бары уходят в
// onReject и пропускаются. Канал закрывается, когда закончился in или ctx.
func (s *Synchronizer) Run(ctx context.Context, in <-chan models.Bar, onReject func(models.Bar, error)) <-chan models.AlignedTick {
	out := make(chan models.AlignedTick)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case b, ok := <-in:
				if !ok {
					return
				}
				tick, emit, err := s.Push(b)
				if err != nil {
					if onReject != nil {
						onReject(b, err)
					}
					continue
				}
				if !emit {
					continue
				}
				select {
				case out <- tick:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
