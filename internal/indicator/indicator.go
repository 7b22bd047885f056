package indicator

import (
	"fmt"
	"math"
	"strings"
)

// Calculator — инкрементальный индикатор: одно значение на закрытую свечу.
type Calculator interface {
	Update(v float64)
	Ready() bool
	Value() float64
}

type Kind string

const (
	KindEMA Kind = "ema"
	KindSMA Kind = "sma"
	KindRSI Kind = "rsi"
)

// Spec описывает один индикатор, который feed дописывает в Bar.Indicators.
// Source — поле свечи (open/high/low/close/volume), по умолчанию close.
type Spec struct {
	Name   string `yaml:"name" mapstructure:"name"`
	Kind   Kind   `yaml:"kind" mapstructure:"kind"`
	Period int    `yaml:"period" mapstructure:"period"`
	Source string `yaml:"source" mapstructure:"source"`
}

func (s Spec) Validate() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("indicator: empty name")
	}
	if s.Period < 1 {
		return fmt.Errorf("indicator %s: period must be >= 1, got %d", s.Name, s.Period)
	}
	switch s.Kind {
	case KindEMA, KindSMA, KindRSI:
	default:
		return fmt.Errorf("indicator %s: unknown kind %q", s.Name, s.Kind)
	}
	switch s.Source {
	case "", "open", "high", "low", "close", "volume":
	default:
		return fmt.Errorf("indicator %s: unknown source %q", s.Name, s.Source)
	}
	return nil
}

func New(s Spec) (Calculator, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	switch s.Kind {
	case KindEMA:
		e := NewEMA(s.Period)
		return &e, nil
	case KindSMA:
		return NewSMA(s.Period), nil
	default:
		return NewRSI(s.Period), nil
	}
}

// EMA с прогревом: первые period значений считаются, но Ready()=false.
type EMA struct {
	period int
	alpha  float64
	value  float64
	warmup int
}

func NewEMA(period int) EMA {
	if period <= 1 {
		period = 1
	}
	return EMA{
		period: period,
		alpha:  2.0 / (float64(period) + 1),
	}
}

func (e *EMA) Update(price float64) {
	if e.warmup == 0 {
		e.value = price
		e.warmup = 1
		return
	}
	e.value = e.alpha*price + (1-e.alpha)*e.value
	if e.warmup < e.period {
		e.warmup++
	}
}

func (e *EMA) Ready() bool    { return e.warmup >= e.period }
func (e *EMA) Value() float64 { return e.value }

// SMA по кольцевому буферу.
type SMA struct {
	buf []float64
	pos int
	n   int
	sum float64
}

func NewSMA(period int) *SMA {
	if period < 1 {
		period = 1
	}
	return &SMA{buf: make([]float64, period)}
}

func (s *SMA) Update(v float64) {
	if s.n == len(s.buf) {
		s.sum -= s.buf[s.pos]
	} else {
		s.n++
	}
	s.buf[s.pos] = v
	s.sum += v
	s.pos = (s.pos + 1) % len(s.buf)
}

func (s *SMA) Ready() bool { return s.n == len(s.buf) }

func (s *SMA) Value() float64 {
	if s.n == 0 {
		return math.NaN()
	}
	return s.sum / float64(s.n)
}

// RSI со сглаживанием Уайлдера (alpha = 1/period).
type RSI struct {
	period      int
	prev        float64
	avgGain     float64
	avgLoss     float64
	initialized bool
	samples     int
}

func NewRSI(period int) *RSI {
	if period < 1 {
		period = 1
	}
	return &RSI{period: period}
}

func (r *RSI) Update(price float64) {
	if !r.initialized {
		r.prev = price
		r.initialized = true
		return
	}

	change := price - r.prev
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}

	if r.samples < r.period {
		// первые period изменений — простое среднее
		n := float64(r.samples)
		r.avgGain = (r.avgGain*n + gain) / (n + 1)
		r.avgLoss = (r.avgLoss*n + loss) / (n + 1)
	} else {
		alpha := 1.0 / float64(r.period)
		r.avgGain = (1-alpha)*r.avgGain + alpha*gain
		r.avgLoss = (1-alpha)*r.avgLoss + alpha*loss
	}
	r.prev = price
	r.samples++
}

func (r *RSI) Ready() bool { return r.samples >= r.period }

func (r *RSI) Value() float64 {
	if r.samples == 0 {
		return math.NaN()
	}
	if r.avgLoss == 0 {
		if r.avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := r.avgGain / r.avgLoss
	return 100 - 100/(1+rs)
}
