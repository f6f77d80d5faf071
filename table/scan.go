package table

import (
	"context"
	"errors"
	"fmt"
	stdio "io"
	"log/slog"
	"runtime"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/BrobridgeOrg/go-delta/deltalog"
	"github.com/BrobridgeOrg/go-delta/internal/logging"
	"github.com/BrobridgeOrg/go-delta/internal/metrics"
	"github.com/BrobridgeOrg/go-delta/io"
)

// Scan limits applied in low-memory mode.
const (
	LowMemoryConcurrency = 2
	LowMemoryBatchSize   = 8192

	DefaultBatchSize = 65536
)

// ScanOptions controls how a scan plans and executes.
type ScanOptions struct {
	Retry         io.RetryPolicy
	UseStatistics bool
	LowMemory     bool
	// Concurrency is the number of files read at once.
	Concurrency int
	// BatchSize is the maximum number of rows per batch.
	BatchSize int64
	// Unordered lets batches of different files interleave.
	Unordered bool
	Allocator memory.Allocator
	Logger    *slog.Logger
	Metrics   *metrics.ScanMetrics
}

// DefaultScanOptions returns the options used when none are given.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		Retry:         io.DefaultRetryPolicy(),
		UseStatistics: true,
		Concurrency:   runtime.GOMAXPROCS(0),
		BatchSize:     DefaultBatchSize,
	}
}

// Statistics are planning hints taken from the table state. They ignore
// any filter on the scan.
type Statistics struct {
	NumFiles int
	NumRows  int64
	// RowCountExact is false when some file did not record its row count;
	// NumRows then counts only the files that did.
	RowCountExact bool
	SizeBytes     int64
}

// PushdownResult reports which conjuncts of a pushed predicate the scan
// evaluates exactly and which ones the caller must still apply.
type PushdownResult struct {
	Guaranteed []*Expression
	Residual   []*Expression
}

// Scan is a lazy read of one table version. It is immutable: every
// refinement returns a new Scan.
type Scan struct {
	state *deltalog.TableState
	fio   io.FileIO
	opts  ScanOptions

	// columns is nil for every column in table order.
	columns []string
	filter  *Expression
	pushed  []*Expression
}

// NewScan creates a scan of a resolved table state.
func NewScan(state *deltalog.TableState, fio io.FileIO, opts ScanOptions) *Scan {
	return &Scan{state: state, fio: fio, opts: opts}
}

func (s *Scan) clone() *Scan {
	c := *s
	c.columns = slices.Clone(s.columns)
	c.pushed = slices.Clone(s.pushed)
	return &c
}

// State returns the table state the scan reads.
func (s *Scan) State() *deltalog.TableState {
	return s.state
}

// Select returns a scan of the named columns in the given order. Unknown
// columns fail at planning time. No columns selects every column.
func (s *Scan) Select(columns ...string) *Scan {
	c := s.clone()
	c.columns = dedupe(columns)
	if len(columns) == 0 {
		c.columns = nil
	}
	return c
}

// WithProjection is the projection pushdown callback. Unlike Select it
// validates the columns immediately, and an empty projection yields batches
// with a row count and no columns.
func (s *Scan) WithProjection(columns []string) (*Scan, error) {
	for _, name := range columns {
		if s.state.Schema().FieldByName(name) == nil {
			return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
		}
	}
	c := s.clone()
	c.columns = dedupe(columns)
	if c.columns == nil {
		c.columns = []string{}
	}
	return c, nil
}

func dedupe(columns []string) []string {
	var out []string
	for _, c := range columns {
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	return out
}

// Filter returns a scan restricted to rows matching expr, ANDed with any
// earlier filter. Unknown columns and bad literals fail at planning time.
func (s *Scan) Filter(expr *Expression) *Scan {
	c := s.clone()
	if expr == nil {
		return c
	}
	if c.filter == nil {
		c.filter = expr
	} else {
		c.filter = And(c.filter, expr)
	}
	return c
}

// WithPredicate is the predicate pushdown callback. Each top-level conjunct
// that binds to the table schema is guaranteed: the scan prunes with it and
// filters rows by it. Conjuncts that do not bind are returned as residual
// and left to the caller.
func (s *Scan) WithPredicate(expr *Expression) (*Scan, PushdownResult) {
	var result PushdownResult
	c := s.clone()
	for _, conj := range expr.Simplify().Conjuncts() {
		bound, err := conj.Bind(s.state.Schema())
		if err != nil {
			result.Residual = append(result.Residual, conj)
			continue
		}
		result.Guaranteed = append(result.Guaranteed, conj)
		c.pushed = append(c.pushed, bound)
	}
	return c, result
}

// Columns returns the output columns in output order.
func (s *Scan) Columns() []string {
	if s.columns == nil {
		return s.state.Schema().Names()
	}
	return slices.Clone(s.columns)
}

// Schema returns the arrow schema of the batches the scan yields, or nil
// when the projection names an unknown column.
func (s *Scan) Schema() *arrow.Schema {
	sc, err := ArrowSchema(s.state.Schema(), s.Columns())
	if err != nil {
		return nil
	}
	return sc
}

// Statistics returns best-effort size hints for the table version.
func (s *Scan) Statistics() Statistics {
	rows, exact := s.state.NumRecords()
	return Statistics{
		NumFiles:      s.state.NumFiles(),
		NumRows:       rows,
		RowCountExact: exact,
		SizeBytes:     s.state.SizeBytes(),
	}
}

// predicate binds the filter and combines it with the pushed conjuncts.
func (s *Scan) predicate() (*Expression, error) {
	conjuncts := slices.Clone(s.pushed)
	if filter := s.filter.Simplify(); filter != nil {
		bound, err := filter.Bind(s.state.Schema())
		if err != nil {
			return nil, err
		}
		conjuncts = append(conjuncts, bound.Conjuncts()...)
	}
	return conjunction(conjuncts), nil
}

func (s *Scan) logger() *slog.Logger {
	l := s.opts.Logger
	if l == nil {
		l = logging.WithTable(s.state.Location())
	}
	return l.With("component", "scan")
}

// PlanFiles resolves the projection and predicate and returns the read
// tasks, one per file that may hold matching rows.
func (s *Scan) PlanFiles(ctx context.Context) ([]ReadTask, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	columns := s.Columns()
	if _, err := ArrowSchema(s.state.Schema(), columns); err != nil {
		return nil, err
	}
	pred, err := s.predicate()
	if err != nil {
		return nil, err
	}
	planner := newScanPlanner(s.state, s.opts.UseStatistics, s.opts.Metrics, s.logger())
	tasks, _ := planner.plan(columns, pred)
	return tasks, nil
}

// Batches plans the scan and starts reading. The caller must Close the
// iterator.
func (s *Scan) Batches(ctx context.Context) (*BatchIterator, error) {
	tasks, err := s.PlanFiles(ctx)
	if err != nil {
		return nil, err
	}

	concurrency := max(s.opts.Concurrency, 1)
	batchSize := s.opts.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	buffer := 2
	if s.opts.LowMemory {
		concurrency = min(concurrency, LowMemoryConcurrency)
		batchSize = min(batchSize, LowMemoryBatchSize)
		buffer = 1
	}
	mem := s.opts.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	var stats *StatsPruner
	if s.opts.UseStatistics {
		stats = NewStatsPruner(s.state.Schema(), s.state.PartitionColumns())
	}

	logger := s.logger()
	logger.Debug("starting scan", "tasks", len(tasks), "concurrency", concurrency, "batch_size", batchSize)

	exec := &executor{
		decoder: &decoder{
			fio:       s.fio,
			policy:    s.opts.Retry,
			schema:    s.state.Schema(),
			stats:     stats,
			batchSize: batchSize,
			mem:       mem,
			metrics:   s.opts.Metrics,
		},
		concurrency: concurrency,
		buffer:      buffer,
		unordered:   s.opts.Unordered,
		logger:      logger,
		metrics:     s.opts.Metrics,
	}
	return exec.start(ctx, tasks), nil
}

// ToArrowTable reads the whole scan into memory.
func (s *Scan) ToArrowTable(ctx context.Context) (arrow.Table, error) {
	schema := s.Schema()
	it, err := s.Batches(ctx)
	if err != nil {
		return nil, err
	}
	defer it.Close()

	var recs []arrow.Record
	defer func() {
		for _, r := range recs {
			r.Release()
		}
	}()
	for {
		rec, err := it.Next(ctx)
		if errors.Is(err, stdio.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return array.NewTableFromRecords(schema, recs), nil
}

// Count returns the number of matching rows. Without a filter it is
// answered from file statistics when every file recorded its row count.
func (s *Scan) Count(ctx context.Context) (int64, error) {
	pred, err := s.predicate()
	if err != nil {
		return 0, err
	}
	if pred == nil {
		if n, exact := s.state.NumRecords(); exact {
			return n, nil
		}
	}

	it, err := s.clone().countOnly().Batches(ctx)
	if err != nil {
		return 0, err
	}
	defer it.Close()

	var n int64
	for {
		rec, err := it.Next(ctx)
		if errors.Is(err, stdio.EOF) {
			return n, nil
		}
		if err != nil {
			return 0, err
		}
		n += rec.NumRows()
		rec.Release()
	}
}

func (s *Scan) countOnly() *Scan {
	s.columns = []string{}
	return s
}
