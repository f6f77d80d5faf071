package table

import (
	"math"
	"strings"

	"github.com/BrobridgeOrg/go-delta/spec"
)

// leafFunc evaluates one comparison leaf of a bound expression.
type leafFunc func(op ExprOp, column string, value any, values []any) Outcome

// outcomeEvaluator folds a bound expression into an Outcome, delegating
// leaves to leaf.
type outcomeEvaluator struct {
	leaf leafFunc
}

func (v outcomeEvaluator) eval(e *Expression) Outcome {
	if e == nil {
		return OutcomeTrue
	}
	out, ok := e.Visit(v).(Outcome)
	if !ok {
		return OutcomeAny
	}
	return out
}

func (v outcomeEvaluator) VisitAnd(children []*Expression) any {
	out := OutcomeTrue
	for _, child := range children {
		out = and3(out, v.eval(child))
	}
	return out
}

func (v outcomeEvaluator) VisitOr(children []*Expression) any {
	out := OutcomeFalse
	for _, child := range children {
		out = or3(out, v.eval(child))
	}
	return out
}

func (v outcomeEvaluator) VisitNot(child *Expression) any {
	return not3(v.eval(child))
}

func (v outcomeEvaluator) VisitEq(column string, value any) any {
	return v.leaf(OpEq, column, value, nil)
}

func (v outcomeEvaluator) VisitNotEq(column string, value any) any {
	return v.leaf(OpNotEq, column, value, nil)
}

func (v outcomeEvaluator) VisitLt(column string, value any) any {
	return v.leaf(OpLt, column, value, nil)
}

func (v outcomeEvaluator) VisitLte(column string, value any) any {
	return v.leaf(OpLte, column, value, nil)
}

func (v outcomeEvaluator) VisitGt(column string, value any) any {
	return v.leaf(OpGt, column, value, nil)
}

func (v outcomeEvaluator) VisitGte(column string, value any) any {
	return v.leaf(OpGte, column, value, nil)
}

func (v outcomeEvaluator) VisitIn(column string, values []any) any {
	return v.leaf(OpIn, column, nil, values)
}

func (v outcomeEvaluator) VisitNotIn(column string, values []any) any {
	return v.leaf(OpNotIn, column, nil, values)
}

func (v outcomeEvaluator) VisitIsNull(column string) any {
	return v.leaf(OpIsNull, column, nil, nil)
}

func (v outcomeEvaluator) VisitIsNotNull(column string) any {
	return v.leaf(OpNotNull, column, nil, nil)
}

func (v outcomeEvaluator) VisitStartsWith(column string, prefix any) any {
	return v.leaf(OpStartsWith, column, prefix, nil)
}

func (v outcomeEvaluator) VisitNotStartsWith(column string, prefix any) any {
	return v.leaf(OpNotStartsWith, column, prefix, nil)
}

// evalValue evaluates a leaf against one known canonical value. A nil value
// is SQL NULL.
func evalValue(op ExprOp, v any, lit any, lits []any) Outcome {
	switch op {
	case OpIsNull:
		return outcomeOf(v == nil)
	case OpNotNull:
		return outcomeOf(v != nil)
	}
	if v == nil {
		return OutcomeNull
	}

	switch op {
	case OpIn, OpNotIn:
		found := false
		for _, l := range lits {
			if spec.ValuesEqual(v, l) {
				found = true
				break
			}
		}
		return outcomeOf(found == (op == OpIn))
	case OpStartsWith, OpNotStartsWith:
		s, ok1 := v.(string)
		p, ok2 := lit.(string)
		if !ok1 || !ok2 {
			return OutcomeAny
		}
		return outcomeOf(strings.HasPrefix(s, p) == (op == OpStartsWith))
	}

	c, err := spec.Compare(v, lit)
	if err != nil {
		return OutcomeAny
	}
	switch op {
	case OpEq:
		return outcomeOf(c == 0)
	case OpNotEq:
		return outcomeOf(c != 0)
	case OpLt:
		return outcomeOf(c < 0)
	case OpLte:
		return outcomeOf(c <= 0)
	case OpGt:
		return outcomeOf(c > 0)
	case OpGte:
		return outcomeOf(c >= 0)
	}
	return OutcomeAny
}

// PartitionPruner evaluates predicates against the partition values of a
// file. Leaves on partition columns are decided exactly; leaves on data
// columns may take any value.
type PartitionPruner struct {
	partitionColumns map[string]bool
}

// NewPartitionPruner creates a pruner for the given partition columns.
func NewPartitionPruner(partitionColumns []string) *PartitionPruner {
	cols := make(map[string]bool, len(partitionColumns))
	for _, c := range partitionColumns {
		cols[c] = true
	}
	return &PartitionPruner{partitionColumns: cols}
}

// Evaluate returns the outcome set of a bound predicate over a file with the
// given typed partition values.
func (p *PartitionPruner) Evaluate(predicate *Expression, values map[string]any) Outcome {
	ev := outcomeEvaluator{leaf: func(op ExprOp, column string, value any, lits []any) Outcome {
		if !p.partitionColumns[column] {
			return OutcomeAny
		}
		return evalValue(op, values[column], value, lits)
	}}
	return ev.eval(predicate)
}

// Keep reports whether a file with the given partition values may hold a
// matching row.
func (p *PartitionPruner) Keep(predicate *Expression, values map[string]any) bool {
	return p.Evaluate(predicate, values).CanBeTrue()
}

// StatsPruner evaluates predicates against column statistics with interval
// logic. Leaves on partition columns and on columns without statistics may
// take any value.
type StatsPruner struct {
	schema           *spec.Schema
	partitionColumns map[string]bool
}

// NewStatsPruner creates a pruner for a table schema.
func NewStatsPruner(schema *spec.Schema, partitionColumns []string) *StatsPruner {
	cols := make(map[string]bool, len(partitionColumns))
	for _, c := range partitionColumns {
		cols[c] = true
	}
	return &StatsPruner{schema: schema, partitionColumns: cols}
}

// Evaluate returns the outcome set of a bound predicate over the rows the
// statistics describe. Nil statistics carry no information.
func (p *StatsPruner) Evaluate(predicate *Expression, stats *spec.FileStats) Outcome {
	if predicate == nil {
		return OutcomeTrue
	}
	if stats == nil {
		return OutcomeAny
	}
	ev := outcomeEvaluator{leaf: func(op ExprOp, column string, value any, lits []any) Outcome {
		if p.partitionColumns[column] {
			return OutcomeAny
		}
		cs, ok := stats.Column(column)
		if !ok {
			return OutcomeAny
		}
		floating := false
		if f := p.schema.FieldByName(column); f != nil {
			floating = spec.IsFloating(f.Type)
		}
		return statsOutcome(op, cs, stats.NumRecords, floating, value, lits)
	}}
	return ev.eval(predicate)
}

// Keep reports whether rows described by stats may match the predicate.
func (p *StatsPruner) Keep(predicate *Expression, stats *spec.FileStats) bool {
	return p.Evaluate(predicate, stats).CanBeTrue()
}

// statsOutcome bounds a leaf over a column with the given statistics. A
// negative numRecords means the row count is unknown.
func statsOutcome(op ExprOp, cs spec.ColumnStats, numRecords int64, floating bool, lit any, lits []any) Outcome {
	nullsPossible := !cs.HasNullCount || cs.NullCount > 0
	valuesPossible := numRecords < 0 || !cs.HasNullCount || cs.NullCount < numRecords

	var out Outcome
	switch op {
	case OpIsNull, OpNotNull:
		if nullsPossible {
			out |= OutcomeTrue
		}
		if valuesPossible {
			out |= OutcomeFalse
		}
		if op == OpNotNull {
			out = not3(out)
		}
		return out
	}

	if nullsPossible {
		out |= OutcomeNull
	}
	if !valuesPossible {
		return out
	}
	if !cs.HasMin || !cs.HasMax || isNaN(cs.Min) || isNaN(cs.Max) {
		return out | OutcomeTrue | OutcomeFalse
	}
	// NaN is never part of the recorded bounds and sorts above every number.
	// A float file may hold NaN rows the stats do not show, so Gt, Gte,
	// NotEq and NotIn always keep it; only upper-bounded comparisons, Eq and
	// In prune float columns.
	if floating {
		out |= evalValue(op, math.NaN(), lit, lits)
	}
	return out | intervalOutcome(op, cs.Min, cs.Max, lit, lits)
}

func isNaN(v any) bool {
	f, ok := v.(float64)
	return ok && math.IsNaN(f)
}

// intervalOutcome bounds a leaf over non-null values in [lo, hi].
func intervalOutcome(op ExprOp, lo, hi any, lit any, lits []any) Outcome {
	const unknown = OutcomeTrue | OutcomeFalse
	cmp := func(a, b any) (int, bool) {
		c, err := spec.Compare(a, b)
		return c, err == nil
	}

	var canTrue, canFalse bool
	switch op {
	case OpEq, OpNotEq:
		cl, ok1 := cmp(lo, lit)
		ch, ok2 := cmp(hi, lit)
		if !ok1 || !ok2 {
			return unknown
		}
		canTrue = cl <= 0 && ch >= 0
		canFalse = !(cl == 0 && ch == 0)
		if op == OpNotEq {
			canTrue, canFalse = canFalse, canTrue
		}

	case OpLt, OpLte, OpGt, OpGte:
		cl, ok1 := cmp(lo, lit)
		ch, ok2 := cmp(hi, lit)
		if !ok1 || !ok2 {
			return unknown
		}
		switch op {
		case OpLt:
			canTrue, canFalse = cl < 0, ch >= 0
		case OpLte:
			canTrue, canFalse = cl <= 0, ch > 0
		case OpGt:
			canTrue, canFalse = ch > 0, cl <= 0
		case OpGte:
			canTrue, canFalse = ch >= 0, cl < 0
		}

	case OpIn, OpNotIn:
		single, ok := cmp(lo, hi)
		if !ok {
			return unknown
		}
		canFalse = true
		for _, l := range lits {
			cl, ok1 := cmp(lo, l)
			ch, ok2 := cmp(hi, l)
			if !ok1 || !ok2 {
				return unknown
			}
			if cl <= 0 && ch >= 0 {
				canTrue = true
				if single == 0 {
					canFalse = false
				}
			}
		}
		if op == OpNotIn {
			canTrue, canFalse = canFalse, canTrue
		}

	case OpStartsWith, OpNotStartsWith:
		l, ok1 := lo.(string)
		h, ok2 := hi.(string)
		p, ok3 := lit.(string)
		if !ok1 || !ok2 || !ok3 {
			return unknown
		}
		// Strings with prefix p form a contiguous range starting at p.
		canTrue = h >= p && (l <= p || strings.HasPrefix(l, p))
		canFalse = !(strings.HasPrefix(l, p) && strings.HasPrefix(h, p))
		if op == OpNotStartsWith {
			canTrue, canFalse = canFalse, canTrue
		}

	default:
		return unknown
	}

	var out Outcome
	if canTrue {
		out |= OutcomeTrue
	}
	if canFalse {
		out |= OutcomeFalse
	}
	return out
}
