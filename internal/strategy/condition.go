package strategy

import (
	"encoding/json"
	"fmt"
	"math"

	"gopkg.in/yaml.v3"

	"github.com/amirphl/rule-backtester/internal/candle"
	"github.com/amirphl/rule-backtester/internal/errs"
)

// Comparator is one of the six supported comparisons. The zero value is
// invalid, so a condition without a comparator fails evaluation.
type Comparator uint8

const (
	GT Comparator = iota + 1
	LT
	EQ
	NE
	GE
	LE
)

var comparatorSymbols = map[Comparator]string{
	GT: ">",
	LT: "<",
	EQ: "==",
	NE: "!=",
	GE: ">=",
	LE: "<=",
}

// ParseComparator parses one of > < == != >= <=.
func ParseComparator(s string) (Comparator, error) {
	for c, sym := range comparatorSymbols {
		if sym == s {
			return c, nil
		}
	}
	return 0, &InvalidComparatorError{Comparator: s}
}

func (c Comparator) String() string {
	if sym, ok := comparatorSymbols[c]; ok {
		return sym
	}
	return fmt.Sprintf("Comparator(%d)", uint8(c))
}

// Func returns the comparison as a pure function.
func (c Comparator) Func() (func(a, b float64) bool, error) {
	switch c {
	case GT:
		return func(a, b float64) bool { return a > b }, nil
	case LT:
		return func(a, b float64) bool { return a < b }, nil
	case EQ:
		return func(a, b float64) bool { return a == b }, nil
	case NE:
		return func(a, b float64) bool { return a != b }, nil
	case GE:
		return func(a, b float64) bool { return a >= b }, nil
	case LE:
		return func(a, b float64) bool { return a <= b }, nil
	default:
		return nil, &InvalidComparatorError{Comparator: c.String()}
	}
}

func (c Comparator) MarshalJSON() ([]byte, error) {
	if _, ok := comparatorSymbols[c]; !ok {
		return nil, &InvalidComparatorError{Comparator: c.String()}
	}
	return json.Marshal(c.String())
}

func (c *Comparator) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseComparator(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c Comparator) MarshalYAML() (any, error) {
	if _, ok := comparatorSymbols[c]; !ok {
		return nil, &InvalidComparatorError{Comparator: c.String()}
	}
	return c.String(), nil
}

func (c *Comparator) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseComparator(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Operand names a column, optionally looked back Shift bars.
type Operand struct {
	Column string `json:"column" yaml:"column"`
	Shift  int    `json:"shift,omitempty" yaml:"shift,omitempty"`
}

func (o Operand) String() string {
	if o.Shift == 0 {
		return o.Column
	}
	return fmt.Sprintf("%s[%d]", o.Column, o.Shift)
}

// series resolves the operand against t. The value at bar i is
// col[i-Shift]; ok is false when that bar does not exist.
func (o Operand) series(t *candle.Table) (func(i int) (float64, bool), error) {
	if o.Shift < 0 {
		return nil, errs.Input("operand %s: shift must be non-negative", o.Column)
	}
	col, ok := t.Column(o.Column)
	if !ok {
		return nil, &ColumnNotFoundError{Column: o.Column}
	}
	return func(i int) (float64, bool) {
		j := i - o.Shift
		if j < 0 {
			return 0, false
		}
		return col[j], true
	}, nil
}

// Condition compares two operands bar by bar.
type Condition struct {
	Left       Operand    `json:"left_operand" yaml:"left_operand"`
	Comparator Comparator `json:"comparator" yaml:"comparator"`
	Right      Operand    `json:"right_operand" yaml:"right_operand"`
}

func (c Condition) String() string {
	return fmt.Sprintf("%s %s %s", c.Left, c.Comparator, c.Right)
}

// Evaluate ANDs conds bar by bar. An empty set is true on every bar. A
// comparison with a missing (shifted out) or NaN value on either side is
// false, whatever the comparator.
func Evaluate(t *candle.Table, conds []Condition) ([]bool, error) {
	out := make([]bool, t.Len())
	for i := range out {
		out[i] = true
	}

	for _, c := range conds {
		cmp, err := c.Comparator.Func()
		if err != nil {
			return nil, err
		}
		left, err := c.Left.series(t)
		if err != nil {
			return nil, err
		}
		right, err := c.Right.series(t)
		if err != nil {
			return nil, err
		}

		for i := range out {
			if !out[i] {
				continue
			}
			a, okA := left(i)
			b, okB := right(i)
			out[i] = okA && okB && !math.IsNaN(a) && !math.IsNaN(b) && cmp(a, b)
		}
	}
	return out, nil
}

// ColumnNotFoundError is returned when an operand names a column the table
// does not have.
type ColumnNotFoundError struct {
	Column string
}

func (e *ColumnNotFoundError) Error() string {
	return fmt.Sprintf("%s: column '%s' does not exist", errs.ErrInput, e.Column)
}

func (e *ColumnNotFoundError) Is(target error) bool { return target == errs.ErrInput }

// InvalidComparatorError is returned for comparator text outside > < == != >= <=.
type InvalidComparatorError struct {
	Comparator string
}

func (e *InvalidComparatorError) Error() string {
	return fmt.Sprintf("%s: invalid comparator: %s", errs.ErrInput, e.Comparator)
}

func (e *InvalidComparatorError) Is(target error) bool { return target == errs.ErrInput }
