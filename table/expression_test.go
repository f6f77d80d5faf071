package table

import (
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrobridgeOrg/go-delta/spec"
)

func testSchema() *spec.Schema {
	return spec.NewSchema(
		spec.StructField{Name: "id", Type: spec.LongType, Nullable: true},
		spec.StructField{Name: "name", Type: spec.StringType, Nullable: true},
		spec.StructField{Name: "score", Type: spec.DoubleType, Nullable: true},
		spec.StructField{Name: "day", Type: spec.DateType, Nullable: true},
		spec.StructField{Name: "ts", Type: spec.TimestampType, Nullable: true},
		spec.StructField{Name: "amount", Type: spec.DecimalType{Precision: 10, Scale: 2}, Nullable: true},
		spec.StructField{Name: "tags", Type: spec.ArrayType{ElementType: spec.StringType, ContainsNull: true}, Nullable: true},
	)
}

func TestExprBuilderEq(t *testing.T) {
	expr := Col("id").Eq(123)

	if expr.Op != OpEq {
		t.Errorf("Op = %v, want OpEq", expr.Op)
	}
	if expr.Column != "id" {
		t.Errorf("Column = %s, want id", expr.Column)
	}
	if expr.Value != 123 {
		t.Errorf("Value = %v, want 123", expr.Value)
	}
}

func TestExprBuilderComparisons(t *testing.T) {
	tests := []struct {
		name     string
		expr     *Expression
		expected ExprOp
	}{
		{"Gt", Col("id").Gt(18), OpGt},
		{"Gte", Col("id").Gte(18), OpGte},
		{"Lt", Col("id").Lt(65), OpLt},
		{"Lte", Col("id").Lte(65), OpLte},
		{"NotEq", Col("id").NotEq(1), OpNotEq},
		{"In", Col("id").In(1, 2), OpIn},
		{"NotIn", Col("id").NotIn(1, 2), OpNotIn},
		{"IsNull", Col("id").IsNull(), OpIsNull},
		{"IsNotNull", Col("id").IsNotNull(), OpNotNull},
		{"StartsWith", Col("name").StartsWith("a"), OpStartsWith},
		{"NotStartsWith", Col("name").NotStartsWith("a"), OpNotStartsWith},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.expr.Op != tt.expected {
				t.Errorf("Op = %v, want %v", tt.expr.Op, tt.expected)
			}
		})
	}
}

func TestBetween(t *testing.T) {
	expr := Between("score", 10.0, 100.0)

	if expr.Op != OpAnd {
		t.Errorf("Between should create AND expression, got %v", expr.Op)
	}
	if len(expr.Children) != 2 {
		t.Fatalf("Between should have 2 children, got %d", len(expr.Children))
	}
	if expr.Children[0].Op != OpGte || expr.Children[1].Op != OpLte {
		t.Error("Between children should be Gte and Lte")
	}
}

func TestExpressionString(t *testing.T) {
	expr := Or(And(Eq("a", 1), Eq("b", 2)), IsNull("c"))
	assert.Equal(t, "((a = 1 AND b = 2) OR c IS NULL)", expr.String())
	assert.Equal(t, "x IN [1 2]", In("x", 1, 2).String())
}

func TestConjuncts(t *testing.T) {
	a, b, c := Eq("a", 1), Eq("b", 2), Eq("c", 3)

	assert.Equal(t, []*Expression{a, b, c}, And(a, And(b, c)).Conjuncts())
	assert.Equal(t, []*Expression{a}, a.Conjuncts())

	or := Or(a, b)
	assert.Equal(t, []*Expression{or}, or.Conjuncts())

	var nilExpr *Expression
	assert.Nil(t, nilExpr.Conjuncts())
}

func TestSimplify(t *testing.T) {
	a, b, c := Eq("a", 1), Eq("b", 2), Eq("c", 3)

	flat := And(a, And(b, c)).Simplify()
	require.Equal(t, OpAnd, flat.Op)
	assert.Len(t, flat.Children, 3)

	assert.Same(t, a, And(a).Simplify())
	assert.Same(t, a, Not(Not(a)).Simplify())
	assert.Nil(t, And().Simplify())
}

func TestGetReferencedColumns(t *testing.T) {
	expr := And(Eq("a", 1), Or(Eq("b", 2), IsNull("a")))
	assert.ElementsMatch(t, []string{"a", "b"}, expr.GetReferencedColumns())
}

func TestBindNormalizesLiterals(t *testing.T) {
	schema := testSchema()

	bound, err := And(
		Eq("id", 7),
		Gt("score", 1),
		Eq("day", "2024-01-02"),
		Lt("ts", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
		In("amount", "1.50", 2),
	).Bind(schema)
	require.NoError(t, err)
	require.True(t, bound.IsBound())

	c := bound.Children
	assert.Equal(t, int64(7), c[0].Value)
	assert.Equal(t, float64(1), c[1].Value)
	assert.Equal(t, int64(19724), c[2].Value)
	assert.Equal(t, int64(1704067200000000), c[3].Value)
	assert.Equal(t, 0, big.NewRat(3, 2).Cmp(c[4].Values[0].(*big.Rat)))
	assert.Equal(t, 0, big.NewRat(2, 1).Cmp(c[4].Values[1].(*big.Rat)))
}

func TestBindLeavesReceiverUntouched(t *testing.T) {
	expr := Eq("id", 7)
	_, err := expr.Bind(testSchema())
	require.NoError(t, err)
	assert.Equal(t, 7, expr.Value)
	assert.False(t, expr.IsBound())
}

func TestBindErrors(t *testing.T) {
	schema := testSchema()

	tests := []struct {
		name string
		expr *Expression
		want error
	}{
		{"unknown column", Eq("missing", 1), ErrColumnNotFound},
		{"unknown nested", Or(Eq("id", 1), IsNull("missing")), ErrColumnNotFound},
		{"literal type", Eq("id", "seven"), ErrInvalidFilter},
		{"null literal", Eq("id", nil), ErrInvalidFilter},
		{"null in list", In("id", 1, nil), ErrInvalidFilter},
		{"non-primitive column", IsNull("tags"), ErrInvalidFilter},
		{"prefix on number", StartsWith("id", "1"), ErrInvalidFilter},
		{"empty and", And(), ErrInvalidFilter},
		{"bad not", &Expression{Op: OpNot}, ErrInvalidFilter},
		{"unknown operator", &Expression{Op: ExprOp(99), Column: "id"}, ErrInvalidFilter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.expr.Bind(schema)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}
