package strategy

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal_bot/internal/models"
)

const validYAML = `
strategies:
  - name: btc-mtf
    symbol: BTC-USDT
    policy: weighted_majority
    priority: high
    channels: [console, telegram]
    window: 3
    indicators:
      - {name: rsi, kind: rsi, period: 14}
      - {name: ema_fast, kind: ema, period: 9}
      - {name: ema_slow, kind: ema, period: 21}
    timeframes:
      - id: 1d
        rules:
          - action: BUY
            strength: 0.6
            conditions:
              - {type: indicator, indicator: ema_fast, operator: ">", value: 100}
      - id: 1H
        rules:
          - action: buy
            strength: 0.8
            operator: OR
            conditions:
              - {type: indicator, indicator: rsi, operator: "<", value: 30}
              - {type: crossover, left: ema_fast, operator: crosses_above, right: ema_slow}
          - action: SELL
            conditions:
              - {type: price, price_type: high, operator: ">=", value: 70000}
`

func TestLoadValid(t *testing.T) {
	cfgs, err := Load(strings.NewReader(validYAML), "yaml")
	require.NoError(t, err)
	require.Len(t, cfgs, 1)

	c := cfgs[0]
	assert.Equal(t, "btc-mtf", c.Name)
	assert.Equal(t, models.PolicyWeightedMajority, c.Policy)
	assert.Equal(t, models.PriorityHigh, c.Priority)
	assert.Equal(t, []string{"console", "telegram"}, c.Channels)
	assert.Equal(t, 3, c.Window)
	require.Len(t, c.Timeframes, 2)
	assert.Equal(t, models.Timeframe{ID: "1h", Period: time.Hour}, c.Timeframes[0].Timeframe)
	assert.Equal(t, "1d", c.Timeframes[1].Timeframe.ID)

	hourly := c.Timeframes[0]
	require.Len(t, hourly.Rules, 2)
	assert.Equal(t, models.SideBuy, hourly.Rules[0].Side)
	assert.Equal(t, 0.8, hourly.Rules[0].Strength)
	assert.IsType(t, Any{}, hourly.Rules[0].When)
	assert.True(t, hourly.needsHistory())
	assert.Equal(t, 1.0, hourly.Rules[1].Strength, "strength defaults to 1")
	assert.Equal(t, "price.high >= 70000", hourly.Rules[1].When.String())
}

func TestLoadFileByExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strategies.json")
	doc := `{"strategies":[{"name":"s","symbol":"ETH-USDT","policy":"hierarchical",
	  "timeframes":[
	    {"id":"1h","rules":[{"action":"BUY","conditions":[{"type":"price","operator":">","value":1}]}]},
	    {"id":"4h","rules":[{"action":"BUY","conditions":[{"type":"price","operator":">","value":1}]}]}]}]}`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	cfgs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, "4h", cfgs[0].TrendTimeframe, "coarsest timeframe is the trend by default")
	assert.Equal(t, DefaultWindow, cfgs[0].Window)
}

func TestLoadRejectsMalformed(t *testing.T) {
	base := func(policy, extra, cond string) string {
		return `
strategies:
  - name: s
    symbol: BTC-USDT
    policy: ` + policy + `
` + extra + `
    timeframes:
      - id: 1h
        rules:
          - action: BUY
            conditions:
              - ` + cond + `
      - id: 1d
`
	}
	okCond := `{type: price, operator: ">", value: 1}`

	cases := []struct {
		name  string
		doc   string
		field string
	}{
		{"unknown policy", base("majority_vote", "", okCond), "policy"},
		{"unknown operator", base("unanimous", "", `{type: price, operator: "=>", value: 1}`), "timeframes[0].rules[0]"},
		{"unknown condition type", base("unanimous", "", `{type: volume_spike, operator: ">", value: 1}`), "Type"},
		{"price without value", base("unanimous", "", `{type: price, operator: ">"}`), "timeframes[0].rules[0]"},
		{"crossover with compare op", base("unanimous", "", `{type: crossover, left: price, right: sma, operator: ">"}`), "timeframes[0].rules[0]"},
		{"bad price field", base("unanimous", "", `{type: price, price_type: vwap, operator: ">", value: 1}`), "timeframes[0].rules[0]"},
		{"undeclared indicator", base("unanimous", "    indicators: [{name: rsi, kind: rsi, period: 14}]", `{type: indicator, indicator: macd, operator: ">", value: 1}`), "timeframes[0].rules[0]"},
		{"trend tf unknown", base("hierarchical", "    trend_timeframe: 1w", okCond), "trend_timeframe"},
		{"trend tf with wrong policy", base("unanimous", "    trend_timeframe: 1d", okCond), "trend_timeframe"},
		{"unknown priority", base("unanimous", "    priority: urgent", okCond), "priority"},
		{"duplicate channel", base("unanimous", "    channels: [console, console]", okCond), "Channels"},
		{"bad action", strings.Replace(base("unanimous", "", okCond), "action: BUY", "action: HOLD", 1), "Action"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tc.doc), "yaml")
			require.Error(t, err)
			require.ErrorIs(t, err, ErrConfiguration)

			var cerr *ConfigError
			require.True(t, errors.As(err, &cerr))
			assert.Contains(t, cerr.Field, tc.field)
		})
	}
}

func TestLoadRejectsEmptyAndDuplicates(t *testing.T) {
	_, err := Load(strings.NewReader("strategies: []"), "yaml")
	require.ErrorIs(t, err, ErrConfiguration)

	dup := `
strategies:
  - {name: a, symbol: X, policy: unanimous, timeframes: [{id: 1h}]}
  - {name: a, symbol: Y, policy: unanimous, timeframes: [{id: 1h}]}
`
	_, err = Load(strings.NewReader(dup), "yaml")
	require.ErrorIs(t, err, ErrConfiguration)

	dupTF := `
strategies:
  - {name: a, symbol: X, policy: unanimous, timeframes: [{id: 1h}, {id: 60m}]}
`
	_, err = Load(strings.NewReader(dupTF), "yaml")
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestLoadFileMissing(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorIs(t, err, ErrConfiguration)
}
