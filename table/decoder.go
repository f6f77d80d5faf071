package table

import (
	"context"
	"errors"
	"fmt"
	stdio "io"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/metadata"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/apache/arrow-go/v18/parquet/schema"

	"github.com/BrobridgeOrg/go-delta/internal/metrics"
	"github.com/BrobridgeOrg/go-delta/io"
	"github.com/BrobridgeOrg/go-delta/spec"
)

// decoder turns one read task into batches of the output schema.
type decoder struct {
	fio       io.FileIO
	policy    io.RetryPolicy
	schema    *spec.Schema
	stats     *StatsPruner
	batchSize int64
	mem       memory.Allocator
	metrics   *metrics.ScanMetrics
}

// decode reads the task's file and calls emit for every non-empty batch.
// emit takes ownership of the record.
func (d *decoder) decode(ctx context.Context, task ReadTask, emit func(arrow.Record) error) error {
	in, err := d.fio.Open(ctx, task.Location)
	if err != nil {
		return d.storageError(task, err)
	}

	size := task.File.Size
	if size <= 0 {
		err = d.policy.Do(ctx, func(ctx context.Context) error {
			n, err := in.Length(ctx)
			size = n
			return err
		})
		if err != nil {
			return d.storageError(task, err)
		}
	}

	rr := io.NewRangeReader(ctx, in, size, d.policy, d.metrics.BytesFetched)
	pr, err := file.NewParquetReader(rr)
	if err != nil {
		return d.readError(ctx, task, rr, err)
	}
	defer pr.Close()

	leaves := leafColumns(pr.MetaData().Schema, task.DataColumns)
	rowGroups := d.selectRowGroups(pr.MetaData(), task)
	if len(rowGroups) == 0 {
		return nil
	}

	batch := &batchBuilder{
		ctx:    ctx,
		mem:    d.mem,
		schema: d.schema,
		task:   task,
	}

	if len(leaves) == 0 {
		// Nothing to decode: row counts come from the footer.
		for _, rg := range rowGroups {
			remaining := pr.MetaData().RowGroup(rg).NumRows()
			for remaining > 0 {
				n := min(remaining, d.batchSize)
				remaining -= n
				if err := batch.emit(nil, n, emit); err != nil {
					return err
				}
			}
		}
		return nil
	}

	fr, err := pqarrow.NewFileReader(pr, pqarrow.ArrowReadProperties{BatchSize: d.batchSize}, d.mem)
	if err != nil {
		return d.readError(ctx, task, rr, err)
	}
	rdr, err := fr.GetRecordReader(ctx, leaves, rowGroups)
	if err != nil {
		return d.readError(ctx, task, rr, err)
	}
	defer rdr.Release()

	for rdr.Next() {
		rec := rdr.Record()
		if err := batch.emit(rec, rec.NumRows(), emit); err != nil {
			return err
		}
	}
	if err := rdr.Err(); err != nil && !errors.Is(err, stdio.EOF) {
		return d.readError(ctx, task, rr, err)
	}
	return nil
}

// selectRowGroups drops row groups whose statistics rule out the residual.
func (d *decoder) selectRowGroups(md *metadata.FileMetaData, task ReadTask) []int {
	groups := make([]int, 0, md.NumRowGroups())
	skipped := 0
	for i := range md.NumRowGroups() {
		rg := md.RowGroup(i)
		if rg.NumRows() == 0 {
			continue
		}
		if d.stats != nil && task.Residual != nil {
			if !d.stats.Keep(task.Residual, rowGroupStats(md.Schema, rg, d.schema)) {
				skipped++
				continue
			}
		}
		groups = append(groups, i)
	}
	d.metrics.RowGroupsSkipped(skipped)
	return groups
}

func (d *decoder) storageError(task ReadTask, err error) error {
	if errors.Is(err, io.ErrNotFound) {
		return fmt.Errorf("%w: data file %s listed in the log is missing: %w",
			spec.ErrTableStateInconsistent, task.Path, err)
	}
	return err
}

// readError recovers the storage cause of a decode failure; parquet readers
// do not always wrap the errors of the underlying ReaderAt.
func (d *decoder) readError(ctx context.Context, task ReadTask, rr *io.RangeReader, err error) error {
	if cause := rr.Err(); cause != nil {
		return d.storageError(task, cause)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return fmt.Errorf("failed to decode %s: %w", task.Path, err)
}

// leafColumns returns the parquet leaf indices of the named top-level
// columns. Names the file does not carry are skipped.
func leafColumns(sc *schema.Schema, names []string) []int {
	var leaves []int
	for i := range sc.NumColumns() {
		path := sc.Column(i).ColumnPath()
		if len(path) == 0 || !slices.Contains(names, path[0]) {
			continue
		}
		leaves = append(leaves, i)
	}
	return leaves
}

// rowGroupStats converts the footer statistics of a row group into the form
// the StatsPruner reads. Only flat columns with comparable physical
// encodings are converted; others carry no statistics.
func rowGroupStats(sc *schema.Schema, rg *metadata.RowGroupMetaData, tableSchema *spec.Schema) *spec.FileStats {
	stats := &spec.FileStats{NumRecords: rg.NumRows(), Columns: make(map[string]spec.ColumnStats)}
	for i := range sc.NumColumns() {
		col := sc.Column(i)
		path := col.ColumnPath()
		if len(path) != 1 {
			continue
		}
		field := tableSchema.FieldByName(path[0])
		if field == nil {
			continue
		}
		chunk, err := rg.ColumnChunk(i)
		if err != nil {
			continue
		}
		if ok, err := chunk.StatsSet(); err != nil || !ok {
			continue
		}
		typed, err := chunk.Statistics()
		if err != nil || typed == nil {
			continue
		}

		var cs spec.ColumnStats
		if typed.HasNullCount() {
			cs.NullCount, cs.HasNullCount = typed.NullCount(), true
		}
		if typed.HasMinMax() {
			if lo, hi, ok := statBounds(typed, col, field.Type); ok {
				cs.Min, cs.Max = lo, hi
				cs.HasMin, cs.HasMax = true, true
			}
		}
		stats.Columns[path[0]] = cs
	}
	return stats
}

func statBounds(typed metadata.TypedStatistics, col *schema.Column, t spec.Type) (any, any, bool) {
	switch t.TypeID() {
	case spec.TypeByte, spec.TypeShort, spec.TypeInteger, spec.TypeLong, spec.TypeDate:
		switch s := typed.(type) {
		case *metadata.Int32Statistics:
			return int64(s.Min()), int64(s.Max()), true
		case *metadata.Int64Statistics:
			if t.TypeID() == spec.TypeDate {
				return nil, nil, false
			}
			return s.Min(), s.Max(), true
		}
	case spec.TypeFloat, spec.TypeDouble:
		switch s := typed.(type) {
		case *metadata.Float32Statistics:
			return float64(s.Min()), float64(s.Max()), true
		case *metadata.Float64Statistics:
			return s.Min(), s.Max(), true
		}
	case spec.TypeString:
		if s, ok := typed.(*metadata.ByteArrayStatistics); ok {
			return string(s.Min()), string(s.Max()), true
		}
	case spec.TypeTimestamp, spec.TypeTimestampNtz:
		s, ok := typed.(*metadata.Int64Statistics)
		if !ok {
			return nil, nil, false
		}
		ts, ok := col.LogicalType().(schema.TimestampLogicalType)
		if !ok {
			return nil, nil, false
		}
		switch ts.TimeUnit() {
		case schema.TimeUnitMicros:
			return s.Min(), s.Max(), true
		case schema.TimeUnitMillis:
			return s.Min() * 1000, s.Max() * 1000, true
		}
	}
	return nil, nil, false
}

// batchBuilder assembles output batches from decoded file columns.
type batchBuilder struct {
	ctx    context.Context
	mem    memory.Allocator
	schema *spec.Schema
	task   ReadTask
}

// emit builds the working batch for n rows, applies the residual and
// projects the result to the output columns. rec may be nil when no data
// column is decoded.
func (b *batchBuilder) emit(rec arrow.Record, n int64, emit func(arrow.Record) error) error {
	if n == 0 {
		return nil
	}

	decoded := make(map[string]arrow.Array)
	if rec != nil {
		for i, f := range rec.Schema().Fields() {
			decoded[f.Name] = rec.Column(i)
		}
	}

	// Working columns: output columns plus residual columns, in table order.
	names := []string{}
	for _, name := range b.schema.Names() {
		if slices.Contains(b.task.Columns, name) || slices.Contains(b.task.DataColumns, name) {
			names = append(names, name)
			continue
		}
		if _, ok := b.task.Partition[name]; ok {
			names = append(names, name)
		}
	}

	work, err := ArrowSchema(b.schema, names)
	if err != nil {
		return err
	}
	cols := make([]arrow.Array, len(names))
	defer func() {
		for _, c := range cols {
			if c != nil {
				c.Release()
			}
		}
	}()

	for i, name := range names {
		dt := work.Field(i).Type
		switch {
		case b.isPartition(name):
			cols[i], err = constantArray(b.mem, dt, b.task.Partition[name], int(n))
		case decoded[name] != nil:
			cols[i], err = castColumn(b.ctx, name, decoded[name], dt)
		default:
			// Added to the table after this file was written.
			cols[i] = array.MakeArrayOfNull(b.mem, dt, int(n))
		}
		if err != nil {
			return err
		}
	}

	full := array.NewRecord(work, cols, n)
	defer full.Release()

	filtered, err := filterRecord(b.ctx, b.mem, full, b.task.Residual)
	if err != nil {
		return err
	}
	defer filtered.Release()
	if filtered.NumRows() == 0 {
		return nil
	}

	out, err := project(b.schema, filtered, b.task.Columns)
	if err != nil {
		return err
	}
	return emit(out)
}

func (b *batchBuilder) isPartition(name string) bool {
	_, ok := b.task.Partition[name]
	return ok
}

// project selects columns from rec in the given order. The result is a new
// reference.
func project(tableSchema *spec.Schema, rec arrow.Record, columns []string) (arrow.Record, error) {
	out, err := ArrowSchema(tableSchema, columns)
	if err != nil {
		return nil, err
	}
	cols := make([]arrow.Array, len(columns))
	for i, name := range columns {
		idx := rec.Schema().FieldIndices(name)
		if len(idx) == 0 {
			return nil, fmt.Errorf("%w: %q missing from batch", ErrColumnNotFound, name)
		}
		cols[i] = rec.Column(idx[0])
	}
	return array.NewRecord(out, cols, rec.NumRows()), nil
}
