package strategy

import (
	"errors"
	"fmt"

	"signal_bot/internal/indicator"
	"signal_bot/internal/models"
)

var (
	ErrConfiguration = errors.New("strategy configuration error")
	ErrEvaluation    = errors.New("strategy evaluation error")
)

// ConfigError — ошибка загрузки стратегии с путём до поля.
type ConfigError struct {
	Strategy string
	Field    string
	Err      error
}

func (e *ConfigError) Error() string {
	switch {
	case e.Strategy != "" && e.Field != "":
		return fmt.Sprintf("%v: %s: %s: %v", ErrConfiguration, e.Strategy, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%v: %s: %v", ErrConfiguration, e.Field, e.Err)
	}
	return fmt.Sprintf("%v: %v", ErrConfiguration, e.Err)
}

func (e *ConfigError) Unwrap() []error { return []error{ErrConfiguration, e.Err} }

const DefaultWindow = 2

// Rule — «если условие выполнено, голосуем Side с силой Strength».
type Rule struct {
	Side     models.Side
	Strength float64
	When     Condition
}

// TimeframeRules — правила одного таймфрейма в порядке приоритета.
type TimeframeRules struct {
	Timeframe models.Timeframe
	Rules     []Rule
}

func (t TimeframeRules) needsHistory() bool {
	for _, r := range t.Rules {
		if r.When.needsHistory() {
			return true
		}
	}
	return false
}

// Config — скомпилированная неизменяемая стратегия одного инструмента.
type Config struct {
	Name           string
	Symbol         string
	Policy         models.Policy
	TrendTimeframe string           // только для hierarchical
	Timeframes     []TimeframeRules // от младшего к старшему
	Window         int
	Indicators     []indicator.Spec
	Priority       models.Priority
	Channels       []string // пусто — все включённые каналы
}

func (c Config) TimeframeList() []models.Timeframe {
	out := make([]models.Timeframe, 0, len(c.Timeframes))
	for _, t := range c.Timeframes {
		out = append(out, t.Timeframe)
	}
	return out
}

func (c Config) rules(tf string) (TimeframeRules, bool) {
	for _, t := range c.Timeframes {
		if t.Timeframe.ID == tf {
			return t, true
		}
	}
	return TimeframeRules{}, false
}

// FileConfig — формат файла стратегий (yaml/json/toml через viper).
type FileConfig struct {
	Strategies []StrategyFile `mapstructure:"strategies" validate:"required,min=1,dive"`
}

type StrategyFile struct {
	Name           string           `mapstructure:"name" validate:"required"`
	Symbol         string           `mapstructure:"symbol" validate:"required"`
	Policy         string           `mapstructure:"policy" validate:"required"`
	TrendTimeframe string           `mapstructure:"trend_timeframe"`
	Window         int              `mapstructure:"window" validate:"omitempty,min=2,max=1000"`
	Priority       string           `mapstructure:"priority"`
	Channels       []string         `mapstructure:"channels" validate:"unique,dive,required"`
	Indicators     []indicator.Spec `mapstructure:"indicators"`
	Timeframes     []TimeframeFile  `mapstructure:"timeframes" validate:"required,min=1,dive"`
}

type TimeframeFile struct {
	ID    string     `mapstructure:"id" validate:"required"`
	Rules []RuleFile `mapstructure:"rules" validate:"dive"`
}

type RuleFile struct {
	Action     string          `mapstructure:"action" validate:"required,oneof=BUY SELL buy sell"`
	Strength   *float64        `mapstructure:"strength" validate:"omitempty,gte=0"`
	Operator   string          `mapstructure:"operator" validate:"omitempty,oneof=AND OR and or"`
	Conditions []ConditionFile `mapstructure:"conditions" validate:"required,min=1,dive"`
}

// ConditionFile — лист дерева условий:
//
//	type: price      price_type + operator + value
//	type: indicator  indicator + operator + value
//	type: crossover  left + operator + right (price, price.<field>, индикатор, число)
type ConditionFile struct {
	Type      string   `mapstructure:"type" validate:"required,oneof=price indicator crossover"`
	PriceType string   `mapstructure:"price_type"`
	Indicator string   `mapstructure:"indicator"`
	Operator  string   `mapstructure:"operator" validate:"required"`
	Value     *float64 `mapstructure:"value"`
	Left      string   `mapstructure:"left"`
	Right     string   `mapstructure:"right"`
}
