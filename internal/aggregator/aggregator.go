package aggregator

import (
	"fmt"
	"sort"
	"time"

	"signal_bot/internal/models"
	"signal_bot/internal/strategy"
)

// Aggregator превращает голоса тика в SIGNAL-алерт. Состояния между тиками
// не держит, кроме общей нумерации алертов.
type Aggregator struct {
	name     string
	symbol   string
	policy   models.Policy
	trendTF  string
	priority models.Priority
	rank     map[string]int

	seq *models.Sequence
	now func() time.Time
}

type Option func(*Aggregator)

// WithClock подменяет часы (тесты, реплей).
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

func New(cfg strategy.Config, seq *models.Sequence, opts ...Option) *Aggregator {
	a := &Aggregator{
		name:     cfg.Name,
		symbol:   cfg.Symbol,
		policy:   cfg.Policy,
		trendTF:  cfg.TrendTimeframe,
		priority: cfg.Priority,
		rank:     make(map[string]int, len(cfg.Timeframes)),
		seq:      seq,
		now:      func() time.Time { return time.Now().UTC() },
	}
	for i, tf := range cfg.Timeframes {
		a.rank[tf.Timeframe.ID] = i
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Aggregate — ноль или один алерт на тик.
func (a *Aggregator) Aggregate(tick models.AlignedTick, votes []models.Vote) (models.Alert, bool) {
	d, ok := Resolve(a.ordered(votes), a.policy, a.trendTF)
	if !ok {
		return models.Alert{}, false
	}

	var conditions []string
	for _, v := range d.Contributors {
		conditions = append(conditions, v.Evidence...)
	}

	var price float64
	if b, ok := tick.Current(d.Contributors[0].Timeframe); ok {
		price = b.Close
	}

	return models.Alert{
		ID:         a.seq.Next(),
		Kind:       models.AlertSignal,
		Symbol:     a.symbol,
		Strategy:   a.name,
		Side:       d.Side,
		Price:      price,
		Strength:   d.Strength,
		Priority:   a.priority,
		Conditions: conditions,
		CreatedAt:  a.now(),
		Title:      fmt.Sprintf("%s %s", d.Side, a.symbol),
	}, true
}

// ordered — голоса от младшего таймфрейма к старшему по порядку стратегии;
// неизвестные таймфреймы в конец, в порядке входа.
func (a *Aggregator) ordered(votes []models.Vote) []models.Vote {
	out := make([]models.Vote, len(votes))
	copy(out, votes)
	rank := func(v models.Vote) int {
		if r, ok := a.rank[v.Timeframe]; ok {
			return r
		}
		return len(a.rank)
	}
	sort.SliceStable(out, func(i, j int) bool { return rank(out[i]) < rank(out[j]) })
	return out
}
