package models

import (
	"sort"
	"time"
)

// Bar — закрытая свеча таймфрейма со значениями индикаторов.
type Bar struct {
	Timeframe  string             `json:"timeframe"`
	Time       time.Time          `json:"time"` // время закрытия, UTC
	Open       float64            `json:"open"`
	High       float64            `json:"high"`
	Low        float64            `json:"low"`
	Close      float64            `json:"close"`
	Volume     float64            `json:"volume"`
	Indicators map[string]float64 `json:"indicators,omitempty"`
}

// Indicator — значение индикатора; ok=false если фид его не посчитал.
func (b Bar) Indicator(name string) (float64, bool) {
	v, ok := b.Indicators[name]
	return v, ok
}

// Clone копирует карту индикаторов, чтобы бар в тике нельзя было поменять снаружи.
func (b Bar) Clone() Bar {
	if b.Indicators == nil {
		return b
	}
	ind := make(map[string]float64, len(b.Indicators))
	for k, v := range b.Indicators {
		ind[k] = v
	}
	b.Indicators = ind
	return b
}

type Timeframe struct {
	ID     string        `json:"id"`
	Period time.Duration `json:"period"`
}

// SortTimeframes — от младшего к старшему; при равном периоде по id.
func SortTimeframes(tfs []Timeframe) []Timeframe {
	out := append([]Timeframe(nil), tfs...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Period == out[j].Period {
			return out[i].ID < out[j].ID
		}
		return out[i].Period < out[j].Period
	})
	return out
}

// AlignedTick — срез «текущих» закрытых баров по всем таймфреймам.
// Отсутствующий таймфрейм просто не попадает в Windows.
type AlignedTick struct {
	Time    time.Time        // время закрытия бара, породившего тик
	Trigger string           // таймфрейм, чей бар породил тик
	Seq     uint64           // номер тика в рамках синхронизатора
	Windows map[string][]Bar // tf -> последние бары, старый -> новый; последний = текущий
}

func (t AlignedTick) Current(tf string) (Bar, bool) {
	w := t.Windows[tf]
	if len(w) == 0 {
		return Bar{}, false
	}
	return w[len(w)-1], true
}

// Previous — бар перед текущим (для пересечений).
func (t AlignedTick) Previous(tf string) (Bar, bool) {
	w := t.Windows[tf]
	if len(w) < 2 {
		return Bar{}, false
	}
	return w[len(w)-2], true
}

func (t AlignedTick) Window(tf string) []Bar {
	return t.Windows[tf]
}
