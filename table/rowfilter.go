package table

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/compute"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// rowEvaluator evaluates a bound expression row by row over a batch.
type rowEvaluator struct {
	columns map[string]arrow.Array
	row     int
}

func (r *rowEvaluator) leaf(op ExprOp, column string, value any, values []any) Outcome {
	arr, ok := r.columns[column]
	if !ok {
		return OutcomeAny
	}
	return evalValue(op, canonicalValue(arr, r.row), value, values)
}

// filterRecord keeps the rows of rec for which the residual evaluates to
// TRUE; rows evaluating to FALSE or NULL are dropped. The result is a new
// reference the caller must release.
func filterRecord(ctx context.Context, mem memory.Allocator, rec arrow.Record, residual *Expression) (arrow.Record, error) {
	if residual == nil {
		rec.Retain()
		return rec, nil
	}

	re := &rowEvaluator{columns: make(map[string]arrow.Array, rec.NumCols())}
	for i, f := range rec.Schema().Fields() {
		re.columns[f.Name] = rec.Column(i)
	}
	for _, col := range residual.GetReferencedColumns() {
		if _, ok := re.columns[col]; !ok {
			return nil, fmt.Errorf("%w: filter column %q missing from batch", ErrColumnNotFound, col)
		}
	}

	ev := outcomeEvaluator{leaf: re.leaf}
	n := int(rec.NumRows())

	mb := array.NewBooleanBuilder(mem)
	defer mb.Release()
	mb.Reserve(n)

	kept := 0
	for re.row = 0; re.row < n; re.row++ {
		keep := ev.eval(residual).AlwaysTrue()
		if keep {
			kept++
		}
		mb.Append(keep)
	}
	if kept == n {
		rec.Retain()
		return rec, nil
	}

	mask := mb.NewBooleanArray()
	defer mask.Release()
	return compute.FilterRecordBatch(ctx, rec, mask, compute.DefaultFilterOptions())
}
