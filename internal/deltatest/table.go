// Package deltatest writes real Delta tables into a temporary directory:
// parquet data files with statistics, JSON commits and parquet checkpoints.
package deltatest

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/BrobridgeOrg/go-delta/io"
	"github.com/BrobridgeOrg/go-delta/spec"
)

// Table is a Delta table under construction. Every method fails the test on
// error.
type Table struct {
	Location string

	// RowGroupLength caps rows per parquet row group when non-zero.
	RowGroupLength int64
	// WriteStats controls whether adds carry statistics.
	WriteStats bool
	// ParsedStats makes checkpoints also carry tags and typed
	// stats_parsed / partitionValues_parsed columns the way Spark writes them.
	ParsedStats bool

	t        testing.TB
	fio      *io.LocalFileIO
	version  int64
	metadata *spec.Metadata
	protocol *spec.Protocol
	live     map[string]*spec.AddFile
	seq      int
}

// New creates a table in a fresh temporary directory and commits version 0
// with a protocol and a metadata action.
func New(t testing.TB, schema *spec.Schema, partitionColumns ...string) *Table {
	t.Helper()
	tb := &Table{
		Location:   t.TempDir(),
		WriteStats: true,
		t:          t,
		fio:        io.NewLocalFileIO(),
		version:    -1,
		live:       make(map[string]*spec.AddFile),
	}
	if partitionColumns == nil {
		partitionColumns = []string{}
	}
	tb.Commit(
		&spec.Protocol{MinReaderVersion: 1, MinWriterVersion: 2},
		tb.newMetadata(schema, partitionColumns),
	)
	return tb
}

func (tb *Table) newMetadata(schema *spec.Schema, partitionColumns []string) *spec.Metadata {
	created := time.Now().UnixMilli()
	return &spec.Metadata{
		ID:               uuid.NewString(),
		Format:           spec.Format{Provider: "parquet", Options: map[string]string{}},
		Schema:           schema,
		PartitionColumns: partitionColumns,
		Configuration:    map[string]string{},
		CreatedTime:      &created,
	}
}

// Version returns the last committed version.
func (tb *Table) Version() int64 {
	return tb.version
}

// Metadata returns the current metadata.
func (tb *Table) Metadata() *spec.Metadata {
	return tb.metadata
}

// LivePaths returns the paths of the live files, sorted.
func (tb *Table) LivePaths() []string {
	paths := make([]string, 0, len(tb.live))
	for _, a := range tb.live {
		p, err := spec.DecodePath(a.Path)
		require.NoError(tb.t, err)
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// LogPath returns the location of a file in the log directory.
func (tb *Table) LogPath(name string) string {
	return io.JoinPath(tb.Location, "_delta_log", name)
}

// Commit writes the next commit with the given actions and returns its
// version.
func (tb *Table) Commit(actions ...spec.Action) int64 {
	tb.t.Helper()
	lines := make([]string, 0, len(actions)+1)
	for _, a := range actions {
		data, err := spec.EncodeAction(a)
		require.NoError(tb.t, err)
		lines = append(lines, string(data))
		tb.track(a)
	}
	info, err := spec.EncodeAction(&spec.CommitInfo{
		Timestamp: time.Now().UnixMilli(),
		Operation: "WRITE",
	})
	require.NoError(tb.t, err)
	lines = append(lines, string(info))
	return tb.CommitRaw(lines...)
}

// CommitRaw writes the next commit from raw NDJSON lines without tracking
// them.
func (tb *Table) CommitRaw(lines ...string) int64 {
	tb.t.Helper()
	tb.version++
	tb.WriteLogFile(fmt.Sprintf("%020d.json", tb.version), []byte(strings.Join(lines, "\n")+"\n"))
	return tb.version
}

func (tb *Table) track(a spec.Action) {
	switch a := a.(type) {
	case *spec.AddFile:
		tb.live[a.Path] = a
	case *spec.RemoveFile:
		delete(tb.live, a.Path)
	case *spec.Metadata:
		tb.metadata = a
	case *spec.Protocol:
		tb.protocol = a
	}
}

// WriteLogFile writes a raw file into the log directory.
func (tb *Table) WriteLogFile(name string, data []byte) {
	tb.t.Helper()
	tb.writeFile(tb.LogPath(name), data)
}

// DeleteLogFile removes a file from the log directory.
func (tb *Table) DeleteLogFile(name string) {
	tb.t.Helper()
	require.NoError(tb.t, tb.fio.Delete(context.Background(), tb.LogPath(name)))
}

func (tb *Table) writeFile(location string, data []byte) {
	ctx := context.Background()
	out, err := tb.fio.Create(ctx, location)
	require.NoError(tb.t, err)
	w, err := out.CreateOverwrite(ctx)
	require.NoError(tb.t, err)
	_, err = w.Write(data)
	require.NoError(tb.t, err)
	require.NoError(tb.t, w.Close())
}

// Evolve commits a metadata action replacing the schema.
func (tb *Table) Evolve(schema *spec.Schema) int64 {
	tb.t.Helper()
	return tb.Commit(tb.newMetadata(schema, tb.metadata.PartitionColumns))
}

// Append writes one data file per record and commits their adds in a single
// version. Partition columns must not be part of the records; their values
// come from partition, where a missing key is NULL.
func (tb *Table) Append(partition map[string]string, recs ...arrow.Record) int64 {
	tb.t.Helper()
	actions := make([]spec.Action, len(recs))
	for i, rec := range recs {
		actions[i] = tb.WriteDataFile(partition, rec)
	}
	return tb.Commit(actions...)
}

// Remove commits remove actions for the given add paths.
func (tb *Table) Remove(paths ...string) int64 {
	tb.t.Helper()
	now := time.Now().UnixMilli()
	actions := make([]spec.Action, 0, len(paths))
	for _, p := range paths {
		for key, a := range tb.live {
			decoded, _ := spec.DecodePath(key)
			if decoded == p || key == p {
				size := a.Size
				actions = append(actions, &spec.RemoveFile{
					Path:              a.Path,
					DeletionTimestamp: &now,
					DataChange:        true,
					PartitionValues:   a.PartitionValues,
					Size:              &size,
				})
			}
		}
	}
	require.Len(tb.t, actions, len(paths), "unknown path in %v", paths)
	return tb.Commit(actions...)
}

// WriteDataFile writes rec as a parquet file and returns the add action for
// it without committing.
func (tb *Table) WriteDataFile(partition map[string]string, rec arrow.Record) *spec.AddFile {
	tb.t.Helper()
	ctx := context.Background()

	partitionValues := make(map[string]*string, len(tb.metadata.PartitionColumns))
	var dirs []string
	for _, col := range tb.metadata.PartitionColumns {
		v, ok := partition[col]
		if !ok {
			partitionValues[col] = nil
			dirs = append(dirs, url.PathEscape(col+"=__HIVE_DEFAULT_PARTITION__"))
			continue
		}
		partitionValues[col] = &v
		dirs = append(dirs, url.PathEscape(col+"="+v))
	}
	tb.seq++
	name := fmt.Sprintf("part-%05d-%s.c000.snappy.parquet", tb.seq, uuid.NewString())
	relative := strings.Join(append(dirs, name), "/")
	decoded, err := url.PathUnescape(relative)
	require.NoError(tb.t, err)
	location := io.JoinPath(tb.Location, decoded)

	out, err := tb.fio.Create(ctx, location)
	require.NoError(tb.t, err)
	w, err := out.CreateOverwrite(ctx)
	require.NoError(tb.t, err)
	defer w.Close()

	writerOpts := []parquet.WriterProperty{parquet.WithCompression(compress.Codecs.Snappy)}
	if tb.RowGroupLength > 0 {
		writerOpts = append(writerOpts, parquet.WithMaxRowGroupLength(tb.RowGroupLength))
	}
	pw, err := pqarrow.NewFileWriter(rec.Schema(), w,
		parquet.NewWriterProperties(writerOpts...),
		pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	require.NoError(tb.t, err)
	require.NoError(tb.t, pw.Write(rec))
	require.NoError(tb.t, pw.Close())

	in, err := tb.fio.Open(ctx, location)
	require.NoError(tb.t, err)
	size, err := in.Length(ctx)
	require.NoError(tb.t, err)

	add := &spec.AddFile{
		Path:             relative,
		PartitionValues:  partitionValues,
		Size:             size,
		ModificationTime: time.Now().UnixMilli(),
		DataChange:       true,
	}
	if tb.WriteStats {
		add.Stats = statsJSON(tb.t, rec)
	}
	return add
}

// Record builds a record from a JSON array of row objects.
func Record(t testing.TB, schema *arrow.Schema, rows string) arrow.Record {
	t.Helper()
	rec, _, err := array.RecordFromJSON(memory.DefaultAllocator, schema, strings.NewReader(rows))
	require.NoError(t, err)
	t.Cleanup(rec.Release)
	return rec
}
