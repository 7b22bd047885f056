package strategy

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"signal_bot/internal/models"
)

var (
	t0     = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tfHour = models.Timeframe{ID: "1h", Period: time.Hour}
	tfDay  = models.Timeframe{ID: "1d", Period: 24 * time.Hour}
)

func bar(tf string, at time.Time, closePx float64, ind map[string]float64) models.Bar {
	return models.Bar{Timeframe: tf, Time: at, Open: closePx, High: closePx + 1, Low: closePx - 1, Close: closePx, Indicators: ind}
}

func tick(windows map[string][]models.Bar) models.AlignedTick {
	return models.AlignedTick{Time: t0, Trigger: "1h", Seq: 1, Windows: windows}
}

type EvaluatorTestSuite struct {
	suite.Suite
	cfg Config
}

func TestEvaluatorTestSuite(t *testing.T) {
	suite.Run(t, new(EvaluatorTestSuite))
}

func (s *EvaluatorTestSuite) SetupTest() {
	s.cfg = Config{
		Name:   "mtf",
		Symbol: "BTC-USDT",
		Policy: models.PolicyUnanimous,
		Timeframes: []TimeframeRules{
			{Timeframe: tfHour, Rules: []Rule{
				{Side: models.SideBuy, Strength: 0.8, When: Any{
					Compare{Left: Indicator("rsi"), Op: OpLT, Right: Const(30)},
					Cross{Left: Indicator("ema_fast"), Right: Indicator("ema_slow"), Above: true},
				}},
				{Side: models.SideSell, Strength: 0.5, When: Compare{Left: Indicator("rsi"), Op: OpGT, Right: Const(70)}},
			}},
			{Timeframe: tfDay, Rules: []Rule{
				{Side: models.SideBuy, Strength: 0.6, When: All{
					Compare{Left: Field("close"), Op: OpGT, Right: Const(100)},
					Compare{Left: Field("high"), Op: OpGE, Right: Const(101)},
				}},
			}},
		},
	}
}

func (s *EvaluatorTestSuite) TestFirstMatchingRuleVotes() {
	tk := tick(map[string][]models.Bar{
		"1h": {
			bar("1h", t0.Add(-time.Hour), 100, map[string]float64{"rsi": 50, "ema_fast": 1, "ema_slow": 2}),
			bar("1h", t0, 100, map[string]float64{"rsi": 25, "ema_fast": 1, "ema_slow": 2}),
		},
	})
	v, err := Evaluate(tfHour, tk, s.cfg)
	s.Require().NoError(err)
	s.Equal(models.SideBuy, v.Side)
	s.Equal(0.8, v.Strength)
	s.Equal([]string{"1h: rsi < 30 [25]"}, v.Evidence)
}

func (s *EvaluatorTestSuite) TestCrossoverNeedsPreviousBar() {
	tk := tick(map[string][]models.Bar{
		"1h": {bar("1h", t0, 100, map[string]float64{"rsi": 25})},
	})
	v, err := Evaluate(tfHour, tk, s.cfg)
	s.Require().NoError(err)
	s.Equal(models.SideHold, v.Side)
	s.Zero(v.Strength)
	s.Require().Len(v.Evidence, 1)
	s.Contains(v.Evidence[0], "insufficient history")
}

func (s *EvaluatorTestSuite) TestCrossoverDetected() {
	tk := tick(map[string][]models.Bar{
		"1h": {
			bar("1h", t0.Add(-time.Hour), 100, map[string]float64{"rsi": 50, "ema_fast": 1, "ema_slow": 2}),
			bar("1h", t0, 100, map[string]float64{"rsi": 50, "ema_fast": 3, "ema_slow": 2}),
		},
	})
	v, err := Evaluate(tfHour, tk, s.cfg)
	s.Require().NoError(err)
	s.Equal(models.SideBuy, v.Side)
	s.Equal([]string{"1h: ema_fast crosses_above ema_slow [3]"}, v.Evidence)
}

func (s *EvaluatorTestSuite) TestAllGroupCollectsEvidence() {
	tk := tick(map[string][]models.Bar{"1d": {bar("1d", t0, 105, nil)}})
	v, err := Evaluate(tfDay, tk, s.cfg)
	s.Require().NoError(err)
	s.Equal(models.SideBuy, v.Side)
	s.Equal([]string{"1d: price > 100 [105]", "1d: price.high >= 101 [106]"}, v.Evidence)

	tk = tick(map[string][]models.Bar{"1d": {bar("1d", t0, 99, nil)}})
	v, err = Evaluate(tfDay, tk, s.cfg)
	s.Require().NoError(err)
	s.Equal(models.SideHold, v.Side)
	s.False(v.Absent)
}

func (s *EvaluatorTestSuite) TestAbsentTimeframeIsHold() {
	tk := tick(map[string][]models.Bar{"1h": {bar("1h", t0, 100, nil)}})
	v, err := Evaluate(tfDay, tk, s.cfg)
	s.Require().NoError(err)
	s.Equal(models.SideHold, v.Side)
	s.True(v.Absent)
	s.Equal([]string{"1d: no closed bar yet"}, v.Evidence)
}

func (s *EvaluatorTestSuite) TestMissingIndicatorDoesNotMatch() {
	tk := tick(map[string][]models.Bar{
		"1h": {bar("1h", t0.Add(-time.Hour), 100, nil), bar("1h", t0, 100, nil)},
	})
	v, err := Evaluate(tfHour, tk, s.cfg)
	s.Require().NoError(err)
	s.Equal(models.SideHold, v.Side)
}

func (s *EvaluatorTestSuite) TestNonFiniteValueIsEvaluationError() {
	tk := tick(map[string][]models.Bar{
		"1h": {
			bar("1h", t0.Add(-time.Hour), 100, nil),
			bar("1h", t0, 100, map[string]float64{"rsi": math.NaN()}),
		},
	})
	_, err := Evaluate(tfHour, tk, s.cfg)
	s.ErrorIs(err, ErrEvaluation)
}

func (s *EvaluatorTestSuite) TestUnknownTimeframeIsEvaluationError() {
	_, err := Evaluate(models.Timeframe{ID: "4h", Period: 4 * time.Hour}, tick(nil), s.cfg)
	s.ErrorIs(err, ErrEvaluation)
}

func (s *EvaluatorTestSuite) TestEvaluateAllFinestFirstAndDeterministic() {
	tk := tick(map[string][]models.Bar{
		"1h": {
			bar("1h", t0.Add(-time.Hour), 100, map[string]float64{"rsi": 80}),
			bar("1h", t0, 100, map[string]float64{"rsi": 75}),
		},
		"1d": {bar("1d", t0, 105, nil)},
	})
	first, err := EvaluateAll(tk, s.cfg)
	s.Require().NoError(err)
	s.Require().Len(first, 2)
	s.Equal("1h", first[0].Timeframe)
	s.Equal(models.SideSell, first[0].Side)
	s.Equal("1d", first[1].Timeframe)
	s.Equal(models.SideBuy, first[1].Side)

	for i := 0; i < 5; i++ {
		again, err := EvaluateAll(tk, s.cfg)
		s.Require().NoError(err)
		s.Equal(first, again)
	}
}

func TestPriceCrossesConstant(t *testing.T) {
	cfg := Config{Timeframes: []TimeframeRules{{Timeframe: tfHour, Rules: []Rule{
		{Side: models.SideSell, Strength: 1, When: Cross{Left: Field("close"), Right: Const(100), Above: false}},
	}}}}
	tk := tick(map[string][]models.Bar{
		"1h": {bar("1h", t0.Add(-time.Hour), 100, nil), bar("1h", t0, 99, nil)},
	})
	v, err := Evaluate(tfHour, tk, cfg)
	require.NoError(t, err)
	assert.Equal(t, models.SideSell, v.Side)
	assert.Equal(t, []string{"1h: price crosses_below 100 [99]"}, v.Evidence)
}

func TestParseOperand(t *testing.T) {
	cases := map[string]Operand{
		"price":      Field("close"),
		"price.low":  Field("low"),
		"42.5":       Const(42.5),
		"sma_50":     Indicator("sma_50"),
		" ema_fast ": Indicator("ema_fast"),
	}
	for in, want := range cases {
		got, err := ParseOperand(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseOperand("price.vwap")
	require.Error(t, err)
	_, err = ParseOperand("")
	require.Error(t, err)
}
