package strategy

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"signal_bot/internal/models"
)

type Operator string

const (
	OpGT           Operator = ">"
	OpLT           Operator = "<"
	OpGE           Operator = ">="
	OpLE           Operator = "<="
	OpEQ           Operator = "=="
	OpCrossesAbove Operator = "crosses_above"
	OpCrossesBelow Operator = "crosses_below"
)

func ParseOperator(s string) (Operator, error) {
	switch op := Operator(strings.TrimSpace(s)); op {
	case OpGT, OpLT, OpGE, OpLE, OpEQ, OpCrossesAbove, OpCrossesBelow:
		return op, nil
	case "above":
		return OpCrossesAbove, nil
	case "below":
		return OpCrossesBelow, nil
	}
	return "", fmt.Errorf("unknown operator %q", s)
}

func (o Operator) crossing() bool { return o == OpCrossesAbove || o == OpCrossesBelow }

type OperandKind int

const (
	OperandField OperandKind = iota
	OperandIndicator
	OperandConst
)

// Operand — откуда брать число: поле свечи, индикатор или константа.
type Operand struct {
	Kind  OperandKind
	Name  string
	Value float64
}

func Field(name string) Operand     { return Operand{Kind: OperandField, Name: name} }
func Indicator(name string) Operand { return Operand{Kind: OperandIndicator, Name: name} }
func Const(v float64) Operand       { return Operand{Kind: OperandConst, Value: v} }
func (o Operand) String() string    { return o.label() }

func (o Operand) label() string {
	switch o.Kind {
	case OperandConst:
		return strconv.FormatFloat(o.Value, 'g', -1, 64)
	case OperandField:
		if o.Name == "close" {
			return "price"
		}
		return "price." + o.Name
	}
	return o.Name
}

// resolve: ok=false — индикатора в свече нет (ещё прогревается).
func (o Operand) resolve(b models.Bar) (float64, bool) {
	switch o.Kind {
	case OperandConst:
		return o.Value, true
	case OperandIndicator:
		return b.Indicator(o.Name)
	}
	switch o.Name {
	case "open":
		return b.Open, true
	case "high":
		return b.High, true
	case "low":
		return b.Low, true
	case "volume":
		return b.Volume, true
	}
	return b.Close, true
}

// ParseOperand: "price", "price.high", число или имя индикатора.
func ParseOperand(s string) (Operand, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Operand{}, fmt.Errorf("empty operand")
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return Const(v), nil
	}
	if s == "price" {
		return Field("close"), nil
	}
	if f, ok := strings.CutPrefix(s, "price."); ok {
		if !validField(f) {
			return Operand{}, fmt.Errorf("unknown price field %q", f)
		}
		return Field(f), nil
	}
	return Indicator(s), nil
}

func validField(f string) bool {
	switch f {
	case "open", "high", "low", "close", "volume":
		return true
	}
	return false
}

// scope — то, на чём считается условие: текущая и предыдущая свеча таймфрейма.
type scope struct {
	tf   string
	cur  models.Bar
	prev *models.Bar
}

// Condition — узел дерева условий. Вычисление не паникует и не возвращает
// ошибку для корректно загруженной стратегии, кроме не-числовых значений.
type Condition interface {
	eval(s scope) (ok bool, evidence []string, err error)
	needsHistory() bool
	String() string
}

// Compare — left <op> right на текущей свече.
type Compare struct {
	Left  Operand
	Op    Operator
	Right Operand
}

func (c Compare) needsHistory() bool { return false }

func (c Compare) String() string {
	return fmt.Sprintf("%s %s %s", c.Left.label(), c.Op, c.Right.label())
}

func (c Compare) eval(s scope) (bool, []string, error) {
	l, okL := c.Left.resolve(s.cur)
	r, okR := c.Right.resolve(s.cur)
	if !okL || !okR {
		return false, nil, nil
	}
	if err := finite(s.tf, c, l, r); err != nil {
		return false, nil, err
	}
	var hit bool
	switch c.Op {
	case OpGT:
		hit = l > r
	case OpLT:
		hit = l < r
	case OpGE:
		hit = l >= r
	case OpLE:
		hit = l <= r
	case OpEQ:
		hit = l == r
	}
	if !hit {
		return false, nil, nil
	}
	return true, []string{describe(s.tf, c, l)}, nil
}

// Cross — пересечение left через right между предыдущей и текущей свечой.
type Cross struct {
	Left  Operand
	Right Operand
	Above bool
}

func (c Cross) needsHistory() bool { return true }

func (c Cross) String() string {
	op := OpCrossesBelow
	if c.Above {
		op = OpCrossesAbove
	}
	return fmt.Sprintf("%s %s %s", c.Left.label(), op, c.Right.label())
}

func (c Cross) eval(s scope) (bool, []string, error) {
	if s.prev == nil {
		return false, nil, nil
	}
	l, okL := c.Left.resolve(s.cur)
	r, okR := c.Right.resolve(s.cur)
	lp, okLP := c.Left.resolve(*s.prev)
	rp, okRP := c.Right.resolve(*s.prev)
	if !okL || !okR || !okLP || !okRP {
		return false, nil, nil
	}
	if err := finite(s.tf, c, l, r, lp, rp); err != nil {
		return false, nil, err
	}
	var hit bool
	if c.Above {
		hit = lp <= rp && l > r
	} else {
		hit = lp >= rp && l < r
	}
	if !hit {
		return false, nil, nil
	}
	return true, []string{describe(s.tf, c, l)}, nil
}

// All — все условия группы (AND). Доказательства всех подусловий.
type All []Condition

func (a All) needsHistory() bool { return anyNeedsHistory(a) }

func (a All) String() string { return join(a, " AND ") }

func (a All) eval(s scope) (bool, []string, error) {
	var evidence []string
	for _, c := range a {
		ok, ev, err := c.eval(s)
		if err != nil || !ok {
			return false, nil, err
		}
		evidence = append(evidence, ev...)
	}
	return len(a) > 0, evidence, nil
}

// Any — хотя бы одно условие (OR). Доказательства только сработавших.
type Any []Condition

func (a Any) needsHistory() bool { return anyNeedsHistory(a) }

func (a Any) String() string { return join(a, " OR ") }

func (a Any) eval(s scope) (bool, []string, error) {
	var (
		evidence []string
		hit      bool
	)
	for _, c := range a {
		ok, ev, err := c.eval(s)
		if err != nil {
			return false, nil, err
		}
		if ok {
			hit = true
			evidence = append(evidence, ev...)
		}
	}
	return hit, evidence, nil
}

func anyNeedsHistory(cs []Condition) bool {
	for _, c := range cs {
		if c.needsHistory() {
			return true
		}
	}
	return false
}

func join(cs []Condition, sep string) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, "("+c.String()+")")
	}
	return strings.Join(parts, sep)
}

func describe(tf string, c Condition, observed float64) string {
	return fmt.Sprintf("%s: %s [%s]", tf, c.String(), strconv.FormatFloat(observed, 'g', 6, 64))
}

func finite(tf string, c Condition, vs ...float64) error {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s: %s: non-finite value %v", ErrEvaluation, tf, c.String(), v)
		}
	}
	return nil
}
