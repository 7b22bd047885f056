package aggregator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_bot/internal/models"
	"signal_bot/internal/strategy"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func vote(tf string, side models.Side, strength float64, evidence ...string) models.Vote {
	return models.Vote{Timeframe: tf, Side: side, Strength: strength, Evidence: evidence}
}

func config(policy models.Policy, trend string) strategy.Config {
	return strategy.Config{
		Name:           "mtf",
		Symbol:         "BTC-USDT",
		Policy:         policy,
		TrendTimeframe: trend,
		Priority:       models.PriorityHigh,
		Timeframes: []strategy.TimeframeRules{
			{Timeframe: models.Timeframe{ID: "1h", Period: time.Hour}},
			{Timeframe: models.Timeframe{ID: "4h", Period: 4 * time.Hour}},
			{Timeframe: models.Timeframe{ID: "1d", Period: 24 * time.Hour}},
		},
	}
}

func twoTF(policy models.Policy) strategy.Config {
	cfg := config(policy, "")
	cfg.Timeframes = []strategy.TimeframeRules{cfg.Timeframes[0], cfg.Timeframes[2]}
	return cfg
}

func aTick() models.AlignedTick {
	return models.AlignedTick{
		Time:    t0,
		Trigger: "1h",
		Windows: map[string][]models.Bar{
			"1h": {{Timeframe: "1h", Time: t0, Close: 101.5}},
			"1d": {{Timeframe: "1d", Time: t0.Add(-12 * time.Hour), Close: 99}},
		},
	}
}

func newAgg(cfg strategy.Config) *Aggregator {
	return New(cfg, models.NewSequence(0), WithClock(func() time.Time { return t0 }))
}

// 1h BUY 0.8 + 1d BUY 0.6 под weighted_majority — один BUY-алерт с
// доказательствами от младшего к старшему.
func TestWeightedMajorityBothAgree(t *testing.T) {
	agg := newAgg(twoTF(models.PolicyWeightedMajority))
	votes := []models.Vote{
		vote("1d", models.SideBuy, 0.6, "1d: price > 95 [99]"),
		vote("1h", models.SideBuy, 0.8, "1h: rsi < 30 [25]"),
	}

	alert, ok := agg.Aggregate(aTick(), votes)
	require.True(t, ok)
	assert.Equal(t, int64(1), alert.ID)
	assert.Equal(t, models.AlertSignal, alert.Kind)
	assert.Equal(t, models.SideBuy, alert.Side)
	assert.Equal(t, "BTC-USDT", alert.Symbol)
	assert.Equal(t, "mtf", alert.Strategy)
	assert.Equal(t, models.PriorityHigh, alert.Priority)
	assert.InDelta(t, 1.4, alert.Strength, 1e-9)
	assert.Equal(t, 101.5, alert.Price, "price of the finest contributing bar")
	assert.Equal(t, []string{"1h: rsi < 30 [25]", "1d: price > 95 [99]"}, alert.Conditions)
}

// 1h BUY + 1d SELL под unanimous — алерта нет.
func TestUnanimousConflictNoAlert(t *testing.T) {
	agg := newAgg(twoTF(models.PolicyUnanimous))
	_, ok := agg.Aggregate(aTick(), []models.Vote{
		vote("1h", models.SideBuy, 0.8),
		vote("1d", models.SideSell, 0.6),
	})
	assert.False(t, ok)
}

func TestUnanimous(t *testing.T) {
	cases := []struct {
		name  string
		votes []models.Vote
		want  models.Side
		ok    bool
	}{
		{"all buy", []models.Vote{vote("1h", models.SideBuy, 1), vote("4h", models.SideBuy, 0.5)}, models.SideBuy, true},
		{"all sell", []models.Vote{vote("1h", models.SideSell, 1), vote("4h", models.SideSell, 1)}, models.SideSell, true},
		{"one hold", []models.Vote{vote("1h", models.SideBuy, 1), models.Hold("4h")}, "", false},
		{"all hold", []models.Vote{models.Hold("1h"), models.Hold("4h")}, "", false},
		{"absent coarse", []models.Vote{vote("1h", models.SideBuy, 1), {Timeframe: "1d", Side: models.SideHold, Absent: true}}, "", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, ok := Resolve(tc.votes, models.PolicyUnanimous, "")
			require.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, d.Side)
		})
	}
}

func TestWeightedMajority(t *testing.T) {
	cases := []struct {
		name     string
		votes    []models.Vote
		want     models.Side
		strength float64
		ok       bool
	}{
		{"buy heavier", []models.Vote{vote("1h", models.SideBuy, 0.8), vote("4h", models.SideSell, 0.3), vote("1d", models.SideBuy, 0.1)}, models.SideBuy, 0.9, true},
		{"sell heavier", []models.Vote{vote("1h", models.SideBuy, 0.2), vote("1d", models.SideSell, 0.7)}, models.SideSell, 0.7, true},
		{"exact tie", []models.Vote{vote("1h", models.SideBuy, 0.5), vote("1d", models.SideSell, 0.5)}, "", 0, false},
		{"hold only", []models.Vote{models.Hold("1h"), models.Hold("1d")}, "", 0, false},
		{"zero strength", []models.Vote{vote("1h", models.SideBuy, 0)}, "", 0, false},
		{"hold ignored", []models.Vote{models.Hold("1h"), vote("1d", models.SideSell, 0.1)}, models.SideSell, 0.1, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, ok := Resolve(tc.votes, models.PolicyWeightedMajority, "")
			require.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, d.Side)
			assert.InDelta(t, tc.strength, d.Strength, 1e-9)
			for _, c := range d.Contributors {
				assert.Equal(t, tc.want, c.Side)
			}
		})
	}
}

func TestHierarchical(t *testing.T) {
	cases := []struct {
		name  string
		trend string
		votes []models.Vote
		want  models.Side
		n     int
		ok    bool
	}{
		{"trend and entry agree", "", []models.Vote{vote("1h", models.SideBuy, 1), models.Hold("4h"), vote("1d", models.SideBuy, 1)}, models.SideBuy, 2, true},
		{"trend hold", "", []models.Vote{vote("1h", models.SideBuy, 1), vote("4h", models.SideBuy, 1), models.Hold("1d")}, "", 0, false},
		{"no entry agrees", "", []models.Vote{vote("1h", models.SideSell, 1), models.Hold("4h"), vote("1d", models.SideBuy, 1)}, "", 0, false},
		{"explicit trend", "4h", []models.Vote{vote("1h", models.SideSell, 1), vote("4h", models.SideSell, 1), vote("1d", models.SideBuy, 1)}, models.SideSell, 2, true},
		{"explicit trend missing", "1w", []models.Vote{vote("1h", models.SideSell, 1), vote("1d", models.SideSell, 1)}, "", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, ok := Resolve(tc.votes, models.PolicyHierarchical, tc.trend)
			require.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.want, d.Side)
			assert.Len(t, d.Contributors, tc.n)
		})
	}
}

func TestHierarchicalAlertOrdersEvidence(t *testing.T) {
	agg := newAgg(config(models.PolicyHierarchical, "1d"))
	alert, ok := agg.Aggregate(aTick(), []models.Vote{
		vote("1d", models.SideSell, 1, "1d: trend"),
		vote("4h", models.SideBuy, 1, "4h: against"),
		vote("1h", models.SideSell, 1, "1h: entry"),
	})
	require.True(t, ok)
	assert.Equal(t, models.SideSell, alert.Side)
	assert.Equal(t, []string{"1h: entry", "1d: trend"}, alert.Conditions)
}

func TestAggregateDeterministic(t *testing.T) {
	votes := []models.Vote{
		vote("1h", models.SideBuy, 0.8, "a", "b"),
		vote("4h", models.SideSell, 0.3, "c"),
		vote("1d", models.SideBuy, 0.6, "d"),
	}
	agg := newAgg(config(models.PolicyWeightedMajority, ""))

	first, ok := agg.Aggregate(aTick(), votes)
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		next, ok := agg.Aggregate(aTick(), votes)
		require.True(t, ok)
		assert.Greater(t, next.ID, first.ID)
		next.ID = first.ID
		assert.Equal(t, first, next)
	}
}

func TestEmptyVotes(t *testing.T) {
	for _, p := range []models.Policy{models.PolicyUnanimous, models.PolicyWeightedMajority, models.PolicyHierarchical} {
		_, ok := Resolve(nil, p, "")
		assert.False(t, ok, p)
	}
}
