package feed

import (
	"context"
	"time"

	"signal_bot/internal/indicator"
	"signal_bot/internal/models"
)

type calc struct {
	spec indicator.Spec
	c    indicator.Calculator
}

// Enriched дописывает в каждую свечу значения индикаторов. Пока индикатор
// прогревается, его значения в свече нет.
type Enriched struct {
	src   Feed
	specs []indicator.Spec
	state map[string][]calc // tf -> калькуляторы
	last  map[string]time.Time
}

func WithIndicators(src Feed, specs []indicator.Spec) (*Enriched, error) {
	for _, s := range specs {
		if err := s.Validate(); err != nil {
			return nil, err
		}
	}
	return &Enriched{
		src:   src,
		specs: append([]indicator.Spec(nil), specs...),
		state: map[string][]calc{},
		last:  map[string]time.Time{},
	}, nil
}

func (e *Enriched) NextBar(ctx context.Context) (models.Bar, error) {
	b, err := e.src.NextBar(ctx)
	if err != nil {
		return b, err
	}
	return e.enrich(b), nil
}

// Prime прогревает индикаторы историческими свечами, ничего не отдавая дальше.
func (e *Enriched) Prime(bars []models.Bar) {
	for _, b := range bars {
		e.enrich(b)
	}
}

func (e *Enriched) enrich(b models.Bar) models.Bar {
	// дубль или свеча из прошлого: синхронизатор её отвергнет, индикаторы не трогаем
	if last, seen := e.last[b.Timeframe]; seen && !b.Time.After(last) {
		return b
	}
	e.last[b.Timeframe] = b.Time

	calcs, ok := e.state[b.Timeframe]
	if !ok {
		calcs = make([]calc, 0, len(e.specs))
		for _, s := range e.specs {
			c, _ := indicator.New(s)
			calcs = append(calcs, calc{spec: s, c: c})
		}
		e.state[b.Timeframe] = calcs
	}

	b = b.Clone()
	if b.Indicators == nil && len(calcs) > 0 {
		b.Indicators = make(map[string]float64, len(calcs))
	}
	for _, c := range calcs {
		c.c.Update(source(b, c.spec.Source))
		if c.c.Ready() {
			b.Indicators[c.spec.Name] = c.c.Value()
		}
	}
	return b
}

func source(b models.Bar, field string) float64 {
	switch field {
	case "open":
		return b.Open
	case "high":
		return b.High
	case "low":
		return b.Low
	case "volume":
		return b.Volume
	}
	return b.Close
}
