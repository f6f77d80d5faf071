package table

import (
	"fmt"
	"strings"

	"github.com/BrobridgeOrg/go-delta/spec"
)

// ExprOp represents an expression operator.
type ExprOp int

const (
	OpAnd ExprOp = iota
	OpOr
	OpNot
	OpEq
	OpNotEq
	OpLt
	OpLte
	OpGt
	OpGte
	OpIn
	OpNotIn
	OpIsNull
	OpNotNull
	OpStartsWith
	OpNotStartsWith
)

// String returns the string representation of the operator.
func (op ExprOp) String() string {
	switch op {
	case OpAnd:
		return "AND"
	case OpOr:
		return "OR"
	case OpNot:
		return "NOT"
	case OpEq:
		return "="
	case OpNotEq:
		return "!="
	case OpLt:
		return "<"
	case OpLte:
		return "<="
	case OpGt:
		return ">"
	case OpGte:
		return ">="
	case OpIn:
		return "IN"
	case OpNotIn:
		return "NOT IN"
	case OpIsNull:
		return "IS NULL"
	case OpNotNull:
		return "IS NOT NULL"
	case OpStartsWith:
		return "STARTS WITH"
	case OpNotStartsWith:
		return "NOT STARTS WITH"
	default:
		return "UNKNOWN"
	}
}

// Expression represents a boolean filter over table columns. Leaves compare
// a top-level column with literals; And, Or and Not combine them.
//
// Literals are caller values until the expression is bound to a schema with
// Bind, after which they hold canonical values of the column type.
type Expression struct {
	Op       ExprOp
	Column   string
	Value    any
	Values   []any
	Children []*Expression

	bound bool
}

// String returns a string representation of the expression.
func (e *Expression) String() string {
	if e == nil {
		return "nil"
	}

	switch e.Op {
	case OpAnd, OpOr:
		if len(e.Children) == 0 {
			return ""
		}
		var sb strings.Builder
		sb.WriteString("(")
		for i, child := range e.Children {
			if i > 0 {
				fmt.Fprintf(&sb, " %s ", e.Op)
			}
			sb.WriteString(child.String())
		}
		sb.WriteString(")")
		return sb.String()
	case OpNot:
		if len(e.Children) > 0 {
			return fmt.Sprintf("NOT %s", e.Children[0].String())
		}
		return "NOT nil"
	case OpIn:
		return fmt.Sprintf("%s IN %v", e.Column, e.Values)
	case OpNotIn:
		return fmt.Sprintf("%s NOT IN %v", e.Column, e.Values)
	case OpIsNull:
		return fmt.Sprintf("%s IS NULL", e.Column)
	case OpNotNull:
		return fmt.Sprintf("%s IS NOT NULL", e.Column)
	default:
		return fmt.Sprintf("%s %s %v", e.Column, e.Op.String(), e.Value)
	}
}

// ExprBuilder helps build filter expressions.
type ExprBuilder struct {
	column string
}

// Col creates a new expression builder for the given column.
func Col(name string) *ExprBuilder {
	return &ExprBuilder{column: name}
}

func (b *ExprBuilder) leaf(op ExprOp, value any) *Expression {
	return &Expression{Op: op, Column: b.column, Value: value}
}

// Eq creates an equality expression.
func (b *ExprBuilder) Eq(value any) *Expression { return b.leaf(OpEq, value) }

// NotEq creates a not-equal expression.
func (b *ExprBuilder) NotEq(value any) *Expression { return b.leaf(OpNotEq, value) }

// Lt creates a less-than expression.
func (b *ExprBuilder) Lt(value any) *Expression { return b.leaf(OpLt, value) }

// Lte creates a less-than-or-equal expression.
func (b *ExprBuilder) Lte(value any) *Expression { return b.leaf(OpLte, value) }

// Gt creates a greater-than expression.
func (b *ExprBuilder) Gt(value any) *Expression { return b.leaf(OpGt, value) }

// Gte creates a greater-than-or-equal expression.
func (b *ExprBuilder) Gte(value any) *Expression { return b.leaf(OpGte, value) }

// In creates an IN expression.
func (b *ExprBuilder) In(values ...any) *Expression {
	return &Expression{Op: OpIn, Column: b.column, Values: values}
}

// NotIn creates a NOT IN expression.
func (b *ExprBuilder) NotIn(values ...any) *Expression {
	return &Expression{Op: OpNotIn, Column: b.column, Values: values}
}

// IsNull creates an IS NULL expression.
func (b *ExprBuilder) IsNull() *Expression { return b.leaf(OpIsNull, nil) }

// IsNotNull creates an IS NOT NULL expression.
func (b *ExprBuilder) IsNotNull() *Expression { return b.leaf(OpNotNull, nil) }

// StartsWith creates a STARTS WITH expression.
func (b *ExprBuilder) StartsWith(prefix string) *Expression { return b.leaf(OpStartsWith, prefix) }

// NotStartsWith creates a NOT STARTS WITH expression.
func (b *ExprBuilder) NotStartsWith(prefix string) *Expression {
	return b.leaf(OpNotStartsWith, prefix)
}

// And combines expressions with AND.
func And(exprs ...*Expression) *Expression {
	return &Expression{
		Op:       OpAnd,
		Children: exprs,
	}
}

// Or combines expressions with OR.
func Or(exprs ...*Expression) *Expression {
	return &Expression{
		Op:       OpOr,
		Children: exprs,
	}
}

// Not negates an expression.
func Not(expr *Expression) *Expression {
	return &Expression{
		Op:       OpNot,
		Children: []*Expression{expr},
	}
}

// Eq is a shorthand for creating an equality expression.
func Eq(column string, value any) *Expression {
	return Col(column).Eq(value)
}

// NotEq is a shorthand for creating a not-equal expression.
func NotEq(column string, value any) *Expression {
	return Col(column).NotEq(value)
}

// Lt is a shorthand for creating a less-than expression.
func Lt(column string, value any) *Expression {
	return Col(column).Lt(value)
}

// Lte is a shorthand for creating a less-than-or-equal expression.
func Lte(column string, value any) *Expression {
	return Col(column).Lte(value)
}

// Gt is a shorthand for creating a greater-than expression.
func Gt(column string, value any) *Expression {
	return Col(column).Gt(value)
}

// Gte is a shorthand for creating a greater-than-or-equal expression.
func Gte(column string, value any) *Expression {
	return Col(column).Gte(value)
}

// In is a shorthand for creating an IN expression.
func In(column string, values ...any) *Expression {
	return Col(column).In(values...)
}

// NotIn is a shorthand for creating a NOT IN expression.
func NotIn(column string, values ...any) *Expression {
	return Col(column).NotIn(values...)
}

// IsNull is a shorthand for creating an IS NULL expression.
func IsNull(column string) *Expression {
	return Col(column).IsNull()
}

// IsNotNull is a shorthand for creating an IS NOT NULL expression.
func IsNotNull(column string) *Expression {
	return Col(column).IsNotNull()
}

// StartsWith is a shorthand for creating a STARTS WITH expression.
func StartsWith(column, prefix string) *Expression {
	return Col(column).StartsWith(prefix)
}

// Between creates a BETWEEN expression (column >= lower AND column <= upper).
func Between(column string, lower, upper any) *Expression {
	return And(
		Col(column).Gte(lower),
		Col(column).Lte(upper),
	)
}

// ExpressionVisitor defines an interface for visiting expressions.
type ExpressionVisitor interface {
	VisitAnd(children []*Expression) any
	VisitOr(children []*Expression) any
	VisitNot(child *Expression) any
	VisitEq(column string, value any) any
	VisitNotEq(column string, value any) any
	VisitLt(column string, value any) any
	VisitLte(column string, value any) any
	VisitGt(column string, value any) any
	VisitGte(column string, value any) any
	VisitIn(column string, values []any) any
	VisitNotIn(column string, values []any) any
	VisitIsNull(column string) any
	VisitIsNotNull(column string) any
	VisitStartsWith(column string, prefix any) any
	VisitNotStartsWith(column string, prefix any) any
}

// Visit dispatches to the appropriate visitor method.
func (e *Expression) Visit(visitor ExpressionVisitor) any {
	switch e.Op {
	case OpAnd:
		return visitor.VisitAnd(e.Children)
	case OpOr:
		return visitor.VisitOr(e.Children)
	case OpNot:
		if len(e.Children) > 0 {
			return visitor.VisitNot(e.Children[0])
		}
		return nil
	case OpEq:
		return visitor.VisitEq(e.Column, e.Value)
	case OpNotEq:
		return visitor.VisitNotEq(e.Column, e.Value)
	case OpLt:
		return visitor.VisitLt(e.Column, e.Value)
	case OpLte:
		return visitor.VisitLte(e.Column, e.Value)
	case OpGt:
		return visitor.VisitGt(e.Column, e.Value)
	case OpGte:
		return visitor.VisitGte(e.Column, e.Value)
	case OpIn:
		return visitor.VisitIn(e.Column, e.Values)
	case OpNotIn:
		return visitor.VisitNotIn(e.Column, e.Values)
	case OpIsNull:
		return visitor.VisitIsNull(e.Column)
	case OpNotNull:
		return visitor.VisitIsNotNull(e.Column)
	case OpStartsWith:
		return visitor.VisitStartsWith(e.Column, e.Value)
	case OpNotStartsWith:
		return visitor.VisitNotStartsWith(e.Column, e.Value)
	default:
		return nil
	}
}

// Simplify removes redundant nodes: single-child And/Or, nested And/Or of the
// same kind and double negation. Leaves are returned as is.
func (e *Expression) Simplify() *Expression {
	if e == nil {
		return nil
	}

	switch e.Op {
	case OpAnd, OpOr:
		if len(e.Children) == 0 {
			return nil
		}
		if len(e.Children) == 1 {
			return e.Children[0].Simplify()
		}
		simplified := make([]*Expression, 0, len(e.Children))
		for _, child := range e.Children {
			s := child.Simplify()
			if s == nil {
				continue
			}
			// Flatten nested nodes of the same kind.
			if s.Op == e.Op {
				simplified = append(simplified, s.Children...)
				continue
			}
			simplified = append(simplified, s)
		}
		if len(simplified) == 0 {
			return nil
		}
		if len(simplified) == 1 {
			return simplified[0]
		}
		return &Expression{
			Op:       e.Op,
			Children: simplified,
			bound:    e.bound,
		}
	case OpNot:
		if len(e.Children) == 0 {
			return nil
		}
		child := e.Children[0].Simplify()
		if child == nil {
			return nil
		}
		// Double negation
		if child.Op == OpNot && len(child.Children) > 0 {
			return child.Children[0].Simplify()
		}
		return &Expression{
			Op:       OpNot,
			Children: []*Expression{child},
			bound:    e.bound,
		}
	default:
		return e
	}
}

// Conjuncts splits the expression into its top-level AND terms.
func (e *Expression) Conjuncts() []*Expression {
	if e == nil {
		return nil
	}
	if e.Op != OpAnd {
		return []*Expression{e}
	}
	var out []*Expression
	for _, child := range e.Children {
		out = append(out, child.Conjuncts()...)
	}
	return out
}

// GetReferencedColumns returns all columns referenced by the expression.
func (e *Expression) GetReferencedColumns() []string {
	if e == nil {
		return nil
	}

	columns := make(map[string]bool)
	e.collectColumns(columns)

	result := make([]string, 0, len(columns))
	for col := range columns {
		result = append(result, col)
	}
	return result
}

func (e *Expression) collectColumns(columns map[string]bool) {
	if e.Column != "" {
		columns[e.Column] = true
	}
	for _, child := range e.Children {
		child.collectColumns(columns)
	}
}

// IsBound reports whether the expression has been bound to a schema.
func (e *Expression) IsBound() bool {
	return e != nil && e.bound
}

// Bind resolves every column of the expression against schema and coerces
// literals to canonical values of the column type. The receiver is left
// untouched.
func (e *Expression) Bind(schema *spec.Schema) (*Expression, error) {
	if e == nil {
		return nil, nil
	}
	if schema == nil {
		return nil, fmt.Errorf("%w: no schema to bind against", ErrInvalidFilter)
	}

	switch e.Op {
	case OpAnd, OpOr:
		if len(e.Children) == 0 {
			return nil, fmt.Errorf("%w: %s without operands", ErrInvalidFilter, e.Op)
		}
		out := &Expression{Op: e.Op, Children: make([]*Expression, len(e.Children)), bound: true}
		for i, child := range e.Children {
			b, err := child.Bind(schema)
			if err != nil {
				return nil, err
			}
			out.Children[i] = b
		}
		return out, nil

	case OpNot:
		if len(e.Children) != 1 || e.Children[0] == nil {
			return nil, fmt.Errorf("%w: NOT takes exactly one operand", ErrInvalidFilter)
		}
		b, err := e.Children[0].Bind(schema)
		if err != nil {
			return nil, err
		}
		return &Expression{Op: OpNot, Children: []*Expression{b}, bound: true}, nil
	}

	if e.Op < OpEq || e.Op > OpNotStartsWith {
		return nil, fmt.Errorf("%w: unknown operator %d", ErrInvalidFilter, e.Op)
	}

	field := schema.FieldByName(e.Column)
	if field == nil {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, e.Column)
	}
	if !spec.IsPrimitive(field.Type) {
		return nil, fmt.Errorf("%w: column %q has non-primitive type %s", ErrInvalidFilter, e.Column, field.Type)
	}

	out := &Expression{Op: e.Op, Column: e.Column, bound: true}
	literal := func(v any) (any, error) {
		if v == nil {
			return nil, fmt.Errorf("%w: %s %s NULL never matches, use IS NULL", ErrInvalidFilter, e.Column, e.Op)
		}
		n, err := spec.NormalizeLiteral(field.Type, v)
		if err != nil {
			return nil, fmt.Errorf("%w: column %q: %w", ErrInvalidFilter, e.Column, err)
		}
		return n, nil
	}

	switch e.Op {
	case OpIsNull, OpNotNull:
	case OpIn, OpNotIn:
		out.Values = make([]any, len(e.Values))
		for i, v := range e.Values {
			n, err := literal(v)
			if err != nil {
				return nil, err
			}
			out.Values[i] = n
		}
	case OpStartsWith, OpNotStartsWith:
		if field.Type.TypeID() != spec.TypeString {
			return nil, fmt.Errorf("%w: %s requires a string column, %q is %s", ErrInvalidFilter, e.Op, e.Column, field.Type)
		}
		n, err := literal(e.Value)
		if err != nil {
			return nil, err
		}
		out.Value = n
	default:
		n, err := literal(e.Value)
		if err != nil {
			return nil, err
		}
		out.Value = n
	}
	return out, nil
}
