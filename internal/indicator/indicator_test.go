package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEMA(t *testing.T) {
	e := NewEMA(3)
	e.Update(10)
	assert.False(t, e.Ready())
	assert.Equal(t, 10.0, e.Value())

	e.Update(20)
	e.Update(20)
	require.True(t, e.Ready())
	// alpha = 0.5: 10 -> 15 -> 17.5
	assert.InDelta(t, 17.5, e.Value(), 1e-9)
}

func TestSMA(t *testing.T) {
	s := NewSMA(3)
	assert.True(t, math.IsNaN(s.Value()))
	for _, v := range []float64{1, 2, 3} {
		s.Update(v)
	}
	require.True(t, s.Ready())
	assert.InDelta(t, 2.0, s.Value(), 1e-9)

	s.Update(10)
	assert.InDelta(t, 5.0, s.Value(), 1e-9)
}

func TestRSI(t *testing.T) {
	t.Run("only gains", func(t *testing.T) {
		r := NewRSI(3)
		for _, v := range []float64{1, 2, 3, 4} {
			r.Update(v)
		}
		require.True(t, r.Ready())
		assert.Equal(t, 100.0, r.Value())
	})

	t.Run("flat", func(t *testing.T) {
		r := NewRSI(2)
		for _, v := range []float64{5, 5, 5} {
			r.Update(v)
		}
		assert.Equal(t, 50.0, r.Value())
	})

	t.Run("balanced", func(t *testing.T) {
		r := NewRSI(2)
		for _, v := range []float64{10, 11, 10} {
			r.Update(v)
		}
		require.True(t, r.Ready())
		assert.InDelta(t, 50.0, r.Value(), 1e-9)
	})

	t.Run("warmup", func(t *testing.T) {
		r := NewRSI(14)
		r.Update(1)
		assert.True(t, math.IsNaN(r.Value()))
		assert.False(t, r.Ready())
	})
}

func TestNewValidates(t *testing.T) {
	cases := []struct {
		name string
		spec Spec
		ok   bool
	}{
		{"ema", Spec{Name: "ema_fast", Kind: KindEMA, Period: 9}, true},
		{"rsi on volume", Spec{Name: "rsi_v", Kind: KindRSI, Period: 14, Source: "volume"}, true},
		{"no name", Spec{Kind: KindSMA, Period: 3}, false},
		{"zero period", Spec{Name: "x", Kind: KindSMA}, false},
		{"unknown kind", Spec{Name: "x", Kind: "macd", Period: 3}, false},
		{"unknown source", Spec{Name: "x", Kind: KindEMA, Period: 3, Source: "vwap"}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := New(tc.spec)
			if tc.ok {
				require.NoError(t, err)
				require.NotNil(t, c)
				return
			}
			require.Error(t, err)
		})
	}
}
