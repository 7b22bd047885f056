package strategy

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"signal_bot/internal/helper"
	"signal_bot/internal/indicator"
	"signal_bot/internal/models"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// LoadFile читает файл стратегий. Формат определяется по расширению.
func LoadFile(path string) ([]Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, &ConfigError{Field: path, Err: err}
	}
	return decode(v)
}

// Load читает стратегии из потока; format — yaml, json или toml.
func Load(r io.Reader, format string) ([]Config, error) {
	v := viper.New()
	v.SetConfigType(format)
	if err := v.ReadConfig(r); err != nil {
		return nil, &ConfigError{Err: err}
	}
	return decode(v)
}

func decode(v *viper.Viper) ([]Config, error) {
	var fc FileConfig
	if err := v.Unmarshal(&fc); err != nil {
		return nil, &ConfigError{Err: err}
	}
	return Compile(fc)
}

// Compile проверяет файл и собирает неизменяемые стратегии. Любая ошибка —
// ConfigError: ни одна стратегия не запускается с битой конфигурацией.
func Compile(fc FileConfig) ([]Config, error) {
	if err := validate.Struct(fc); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return nil, &ConfigError{
				Field: strings.TrimPrefix(fe.Namespace(), "FileConfig."),
				Err:   fmt.Errorf("failed %q check (value %v)", fe.Tag(), fe.Value()),
			}
		}
		return nil, &ConfigError{Err: err}
	}

	out := make([]Config, 0, len(fc.Strategies))
	seen := map[string]bool{}
	for _, sf := range fc.Strategies {
		if seen[sf.Name] {
			return nil, &ConfigError{Strategy: sf.Name, Field: "name", Err: errors.New("duplicate strategy name")}
		}
		seen[sf.Name] = true

		cfg, err := compileStrategy(sf)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

func compileStrategy(sf StrategyFile) (Config, error) {
	fail := func(field string, err error) (Config, error) {
		return Config{}, &ConfigError{Strategy: sf.Name, Field: field, Err: err}
	}

	policy, err := models.ParsePolicy(strings.ToLower(strings.TrimSpace(sf.Policy)))
	if err != nil {
		return fail("policy", err)
	}
	prio, err := models.ParsePriority(sf.Priority)
	if err != nil {
		return fail("priority", err)
	}

	indicators := map[string]bool{}
	for i, spec := range sf.Indicators {
		if err := spec.Validate(); err != nil {
			return fail(fmt.Sprintf("indicators[%d]", i), err)
		}
		if indicators[spec.Name] {
			return fail(fmt.Sprintf("indicators[%d]", i), fmt.Errorf("duplicate indicator %q", spec.Name))
		}
		indicators[spec.Name] = true
	}

	cfg := Config{
		Name:       sf.Name,
		Symbol:     sf.Symbol,
		Policy:     policy,
		Window:     sf.Window,
		Indicators: append([]indicator.Spec(nil), sf.Indicators...),
		Priority:   prio,
		Channels:   append([]string(nil), sf.Channels...),
	}
	if cfg.Window < DefaultWindow {
		cfg.Window = DefaultWindow
	}

	tfs := make([]models.Timeframe, 0, len(sf.Timeframes))
	rules := map[string][]Rule{}
	for i, tf := range sf.Timeframes {
		id := helper.NormTF(tf.ID)
		period, err := helper.TimeframeToDuration(id)
		if err != nil {
			return fail(fmt.Sprintf("timeframes[%d].id", i), err)
		}
		if _, dup := rules[id]; dup {
			return fail(fmt.Sprintf("timeframes[%d].id", i), fmt.Errorf("duplicate timeframe %q", id))
		}
		compiled := make([]Rule, 0, len(tf.Rules))
		for j, rf := range tf.Rules {
			r, err := compileRule(rf, indicators)
			if err != nil {
				return fail(fmt.Sprintf("timeframes[%d].rules[%d]", i, j), err)
			}
			compiled = append(compiled, r)
		}
		rules[id] = compiled
		tfs = append(tfs, models.Timeframe{ID: id, Period: period})
	}

	for _, tf := range models.SortTimeframes(tfs) {
		cfg.Timeframes = append(cfg.Timeframes, TimeframeRules{Timeframe: tf, Rules: rules[tf.ID]})
	}

	if policy == models.PolicyHierarchical {
		trend := helper.NormTF(sf.TrendTimeframe)
		if trend == "" {
			trend = cfg.Timeframes[len(cfg.Timeframes)-1].Timeframe.ID
		}
		if _, ok := rules[trend]; !ok {
			return fail("trend_timeframe", fmt.Errorf("timeframe %q is not declared", trend))
		}
		if len(cfg.Timeframes) < 2 {
			return fail("timeframes", errors.New("hierarchical policy needs a trend and at least one entry timeframe"))
		}
		cfg.TrendTimeframe = trend
	} else if sf.TrendTimeframe != "" {
		return fail("trend_timeframe", fmt.Errorf("only valid with %s policy", models.PolicyHierarchical))
	}

	return cfg, nil
}

func compileRule(rf RuleFile, indicators map[string]bool) (Rule, error) {
	side := models.Side(strings.ToUpper(rf.Action))
	strength := 1.0
	if rf.Strength != nil {
		strength = *rf.Strength
	}

	conds := make([]Condition, 0, len(rf.Conditions))
	for i, cf := range rf.Conditions {
		c, err := compileCondition(cf, indicators)
		if err != nil {
			return Rule{}, fmt.Errorf("conditions[%d]: %w", i, err)
		}
		conds = append(conds, c)
	}

	var when Condition = All(conds)
	if strings.EqualFold(rf.Operator, "OR") {
		when = Any(conds)
	}
	if len(conds) == 1 {
		when = conds[0]
	}
	return Rule{Side: side, Strength: strength, When: when}, nil
}

func compileCondition(cf ConditionFile, indicators map[string]bool) (Condition, error) {
	op, err := ParseOperator(cf.Operator)
	if err != nil {
		return nil, err
	}

	var left, right Operand
	switch cf.Type {
	case "price":
		field := strings.ToLower(cf.PriceType)
		if field == "" {
			field = "close"
		}
		if !validField(field) {
			return nil, fmt.Errorf("unknown price_type %q", cf.PriceType)
		}
		if cf.Value == nil {
			return nil, errors.New("price condition needs value")
		}
		left, right = Field(field), Const(*cf.Value)

	case "indicator":
		if cf.Indicator == "" {
			return nil, errors.New("indicator condition needs indicator")
		}
		if cf.Value == nil {
			return nil, errors.New("indicator condition needs value")
		}
		left, right = Indicator(cf.Indicator), Const(*cf.Value)

	case "crossover":
		if !op.crossing() {
			return nil, fmt.Errorf("crossover needs crosses_above or crosses_below, got %q", op)
		}
		if left, err = ParseOperand(cf.Left); err != nil {
			return nil, fmt.Errorf("left: %w", err)
		}
		if right, err = ParseOperand(cf.Right); err != nil {
			return nil, fmt.Errorf("right: %w", err)
		}
		if left.Kind == OperandConst && right.Kind == OperandConst {
			return nil, errors.New("crossover of two constants")
		}

	default:
		return nil, fmt.Errorf("unknown condition type %q", cf.Type)
	}

	// если список индикаторов задан, ссылаться можно только на объявленные
	for _, o := range []Operand{left, right} {
		if o.Kind == OperandIndicator && len(indicators) > 0 && !indicators[o.Name] {
			return nil, fmt.Errorf("indicator %q is not declared", o.Name)
		}
	}

	if op.crossing() {
		return Cross{Left: left, Right: right, Above: op == OpCrossesAbove}, nil
	}
	return Compare{Left: left, Op: op, Right: right}, nil
}
