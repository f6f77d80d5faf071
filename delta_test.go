package godelta

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	stdio "io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrobridgeOrg/go-delta/internal/deltatest"
	"github.com/BrobridgeOrg/go-delta/io"
	"github.com/BrobridgeOrg/go-delta/spec"
	"github.com/BrobridgeOrg/go-delta/table"
)

var (
	eventSchema = spec.NewSchema(
		spec.StructField{Name: "id", Type: spec.LongType, Nullable: true},
		spec.StructField{Name: "value", Type: spec.StringType, Nullable: true},
		spec.StructField{Name: "date_month", Type: spec.IntegerType, Nullable: true},
		spec.StructField{Name: "static_part", Type: spec.StringType, Nullable: true},
	)
	eventArrow = arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "value", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
)

func appendEvents(t *testing.T, tb *deltatest.Table, month, part string, ids ...int) {
	t.Helper()
	rows := make([]string, len(ids))
	for i, id := range ids {
		rows[i] = fmt.Sprintf(`{"id": %d, "value": "v%d"}`, id, id)
	}
	tb.Append(map[string]string{"date_month": month, "static_part": part},
		deltatest.Record(t, eventArrow, "["+strings.Join(rows, ",")+"]"))
}

func scanIDs(t *testing.T, s *table.Scan) []int64 {
	t.Helper()
	ctx := context.Background()
	it, err := s.Select("id").Batches(ctx)
	require.NoError(t, err)
	defer it.Close()

	var ids []int64
	for {
		rec, err := it.Next(ctx)
		if errors.Is(err, stdio.EOF) {
			return ids
		}
		require.NoError(t, err)
		ids = append(ids, rec.Column(0).(*array.Int64).Int64Values()...)
		rec.Release()
	}
}

func TestScanDeltaPartitionedTable(t *testing.T) {
	tb := deltatest.New(t, eventSchema, "date_month", "static_part")
	id := 0
	for _, month := range []string{"201001", "201002", "201003"} {
		for _, part := range []string{"A", "B", "C"} {
			id++
			appendEvents(t, tb, month, part, id)
		}
	}

	ctx := context.Background()
	scan, err := ScanDelta(ctx, tb.Location, WithConcurrency(3))
	require.NoError(t, err)
	assert.Equal(t, tb.Version(), scan.State().Version())
	assert.Len(t, scanIDs(t, scan), 9)

	filtered := scan.Filter(table.And(table.Eq("static_part", "A"), table.In("date_month", 201001, 201002)))
	tasks, err := filtered.PlanFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tbl, err := filtered.Select("date_month", "static_part", "id").ToArrowTable(ctx)
	require.NoError(t, err)
	defer tbl.Release()
	assert.Equal(t, int64(2), tbl.NumRows())
	assert.Equal(t, "date_month", tbl.Schema().Field(0).Name)
	assert.True(t, arrow.TypeEqual(arrow.PrimitiveTypes.Int32, tbl.Schema().Field(0).Type))

	assert.Equal(t, []int64{1, 4}, scanIDs(t, filtered))
}

func TestScanDeltaTimeTravel(t *testing.T) {
	tb := deltatest.New(t, eventSchema, "date_month", "static_part")
	appendEvents(t, tb, "201001", "A", 1, 2)
	v1 := tb.Version()
	appendEvents(t, tb, "201001", "B", 3)
	tb.Remove(tb.LivePaths()[0])

	ctx := context.Background()
	latest, err := ScanDelta(ctx, tb.Location)
	require.NoError(t, err)
	assert.Equal(t, []int64{3}, scanIDs(t, latest))

	old, err := ScanDelta(ctx, tb.Location, WithVersion(v1))
	require.NoError(t, err)
	assert.Equal(t, v1, old.State().Version())
	assert.Equal(t, []int64{1, 2}, scanIDs(t, old))

	genesis, err := ScanDelta(ctx, tb.Location, WithVersion(0))
	require.NoError(t, err)
	assert.Empty(t, scanIDs(t, genesis))

	_, err = ScanDelta(ctx, tb.Location, WithVersion(tb.Version()+1))
	assert.ErrorIs(t, err, ErrVersionNotFound)
}

func TestScanDeltaCheckpointedTable(t *testing.T) {
	tb := deltatest.New(t, eventSchema, "date_month", "static_part")
	appendEvents(t, tb, "201001", "A", 1)
	appendEvents(t, tb, "201001", "B", 2)
	appendEvents(t, tb, "201002", "A", 3)
	tb.Remove(tb.LivePaths()[1])

	ctx := context.Background()
	before, err := ScanDelta(ctx, tb.Location)
	require.NoError(t, err)
	want := scanIDs(t, before)

	tb.Checkpoint()
	after, err := ScanDelta(ctx, tb.Location)
	require.NoError(t, err)
	assert.Equal(t, want, scanIDs(t, after))
	assert.Equal(t, before.Statistics(), after.Statistics())

	appendEvents(t, tb, "201003", "C", 4)
	latest, err := ScanDelta(ctx, tb.Location)
	require.NoError(t, err)
	assert.ElementsMatch(t, append(want, 4), scanIDs(t, latest))

	// Scanning twice yields the same rows.
	assert.Equal(t, scanIDs(t, latest), scanIDs(t, latest))
}

func TestLoadTable(t *testing.T) {
	tb := deltatest.New(t, eventSchema, "date_month", "static_part")
	appendEvents(t, tb, "201001", "A", 1, 2, 3)

	state, err := LoadTable(context.Background(), tb.Location)
	require.NoError(t, err)
	assert.Equal(t, int64(1), state.Version())
	assert.Equal(t, 1, state.NumFiles())
	assert.Equal(t, []string{"date_month", "static_part"}, state.PartitionColumns())

	n, exact := state.NumRecords()
	assert.True(t, exact)
	assert.Equal(t, int64(3), n)
}

func TestScanDeltaNotATable(t *testing.T) {
	_, err := ScanDelta(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrTableNotFound)
}

// flakyFileIO fails its first listings and its first data file reads with
// a transient error.
type flakyFileIO struct {
	io.FileIO
	mu           sync.Mutex
	listFailures int
	readFailures int
}

func (f *flakyFileIO) fail(counter *int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if *counter > 0 {
		*counter--
		return true
	}
	return false
}

func (f *flakyFileIO) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	if f.fail(&f.listFailures) {
		return nil, &io.RetryableError{Cause: errors.New("503 slow down")}
	}
	return f.FileIO.ListFiles(ctx, prefix)
}

func (f *flakyFileIO) Open(ctx context.Context, location string) (io.InputFile, error) {
	in, err := f.FileIO.Open(ctx, location)
	if err != nil || !strings.HasSuffix(location, ".parquet") {
		return in, err
	}
	return &flakyInputFile{InputFile: in, fio: f}, nil
}

type flakyInputFile struct {
	io.InputFile
	fio *flakyFileIO
}

func (f *flakyInputFile) OpenRange(ctx context.Context, offset, length int64) (stdio.ReadCloser, error) {
	if f.fio.fail(&f.fio.readFailures) {
		return nil, &io.RetryableError{Cause: errors.New("connection reset by peer")}
	}
	return f.InputFile.OpenRange(ctx, offset, length)
}

func TestScanDeltaRetries(t *testing.T) {
	tb := deltatest.New(t, eventSchema, "date_month", "static_part")
	appendEvents(t, tb, "201001", "A", 1)
	ctx := context.Background()

	t.Run("listing recovers", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		scan, err := ScanDelta(ctx, tb.Location,
			WithFileIO(&flakyFileIO{FileIO: io.NewLocalFileIO(), listFailures: 2}),
			WithRetries(3),
			WithRetryBackoff(time.Millisecond),
			WithMetricsRegisterer(reg),
		)
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, scanIDs(t, scan))
		assert.Equal(t, 2.0, counterFromRegistry(t, reg, "godelta_storage_retries_total"))
	})

	t.Run("listing exhausted", func(t *testing.T) {
		_, err := ScanDelta(ctx, tb.Location,
			WithFileIO(&flakyFileIO{FileIO: io.NewLocalFileIO(), listFailures: 2}),
			WithRetries(1),
			WithRetryBackoff(time.Millisecond),
		)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		assert.Contains(t, err.Error(), "503 slow down")
	})

	t.Run("data read recovers", func(t *testing.T) {
		scan, err := ScanDelta(ctx, tb.Location,
			WithFileIO(&flakyFileIO{FileIO: io.NewLocalFileIO(), readFailures: 2}),
			WithRetries(3),
			WithRetryBackoff(time.Millisecond),
		)
		require.NoError(t, err)
		assert.Equal(t, []int64{1}, scanIDs(t, scan))
	})

	t.Run("data read exhausted", func(t *testing.T) {
		scan, err := ScanDelta(ctx, tb.Location,
			WithFileIO(&flakyFileIO{FileIO: io.NewLocalFileIO(), readFailures: 2}),
			WithRetries(1),
			WithRetryBackoff(time.Millisecond),
		)
		require.NoError(t, err)

		_, err = scan.ToArrowTable(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrStorageUnavailable)
		var taskErr *TaskError
		require.ErrorAs(t, err, &taskErr)
		assert.Equal(t, tb.LivePaths()[0], taskErr.Path)
	})
}

func counterFromRegistry(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() == name {
			require.Len(t, mf.GetMetric(), 1)
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestScanDeltaSharedRegistry(t *testing.T) {
	tb := deltatest.New(t, eventSchema, "date_month", "static_part")
	appendEvents(t, tb, "201001", "A", 1)
	appendEvents(t, tb, "201001", "B", 2)

	reg := prometheus.NewRegistry()
	ctx := context.Background()
	for range 2 {
		scan, err := ScanDelta(ctx, tb.Location, WithMetricsRegisterer(reg))
		require.NoError(t, err)
		_, err = scan.PlanFiles(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 4.0, counterFromRegistry(t, reg, "godelta_scan_files_planned_total"))
}

func TestScanDeltaOptions(t *testing.T) {
	tb := deltatest.New(t, eventSchema, "date_month", "static_part")
	for i := range 6 {
		appendEvents(t, tb, "201001", "A", 2*i+1, 2*i+2)
	}
	want := []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12}
	ctx := context.Background()

	tests := []struct {
		name    string
		opts    []Option
		ordered bool
	}{
		{"defaults", nil, true},
		{"low memory", []Option{WithLowMemory(true), WithConcurrency(8)}, true},
		{"single worker", []Option{WithConcurrency(1), WithBatchSize(1)}, true},
		{"unordered", []Option{WithUnorderedOutput(), WithConcurrency(4)}, false},
		{"without statistics", []Option{WithUseStatistics(false)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scan, err := ScanDelta(ctx, tb.Location, tt.opts...)
			require.NoError(t, err)
			got := scanIDs(t, scan)
			if tt.ordered {
				assert.Equal(t, want, got)
			} else {
				assert.ElementsMatch(t, want, got)
			}

			n, err := scan.Filter(table.Gt("id", 10)).Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(2), n)
		})
	}
}

func TestScanDeltaLogsScanID(t *testing.T) {
	tb := deltatest.New(t, eventSchema, "date_month", "static_part")
	appendEvents(t, tb, "201001", "A", 1)

	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	scan, err := ScanDelta(context.Background(), tb.Location, WithLogger(logger))
	require.NoError(t, err)
	scanIDs(t, scan)

	out := buf.String()
	assert.Contains(t, out, `"msg":"table resolved"`)
	assert.Contains(t, out, `"scan_id":`)
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		assert.Contains(t, line, `"scan_id":`)
		assert.Contains(t, line, `"table":`)
	}
}

func TestConfigValidation(t *testing.T) {
	tb := deltatest.New(t, eventSchema, "date_month", "static_part")
	ctx := context.Background()

	tests := []struct {
		name string
		uri  string
		opts []Option
	}{
		{"negative version", tb.Location, []Option{WithVersion(-1)}},
		{"negative retries", tb.Location, []Option{WithRetries(-1)}},
		{"negative backoff", tb.Location, []Option{WithRetryBackoff(-time.Second)}},
		{"zero concurrency", tb.Location, []Option{WithConcurrency(0)}},
		{"zero batch size", tb.Location, []Option{WithBatchSize(0)}},
		{"empty uri", "", nil},
		{"unsupported scheme", "hdfs://namenode/table", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ScanDelta(ctx, tt.uri, tt.opts...)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestDefaultConfig(t *testing.T) {
	c := DefaultConfig()
	assert.Nil(t, c.Version)
	assert.Equal(t, 10, c.Retries)
	assert.True(t, c.UseStatistics)
	assert.False(t, c.LowMemory)
	assert.Positive(t, c.Concurrency)
	assert.Equal(t, int64(table.DefaultBatchSize), c.BatchSize)
	assert.NoError(t, validateConfig(c))
}
