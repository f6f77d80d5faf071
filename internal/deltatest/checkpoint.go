package deltatest

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/require"

	"github.com/BrobridgeOrg/go-delta/spec"
)

var stringMap = arrow.MapOf(arrow.BinaryTypes.String, arrow.BinaryTypes.String)

const (
	colProtocol = iota
	colMetadata
	colAdd
	colRemove
)

// checkpointSchema lays out checkpoint rows. With ParsedStats set, add also
// carries tags and typed partitionValues_parsed and stats_parsed structs.
func (tb *Table) checkpointSchema() *arrow.Schema {
	addFields := []arrow.Field{
		{Name: "path", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "partitionValues", Type: stringMap, Nullable: true},
		{Name: "size", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "modificationTime", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "dataChange", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
		{Name: "stats", Type: arrow.BinaryTypes.String, Nullable: true},
	}
	if tb.ParsedStats {
		addFields = append(addFields,
			arrow.Field{Name: "tags", Type: stringMap, Nullable: true},
			arrow.Field{Name: "stats_parsed", Type: tb.statsStruct(), Nullable: true},
		)
		if st := tb.partitionStruct(); st != nil {
			addFields = append(addFields, arrow.Field{Name: "partitionValues_parsed", Type: st, Nullable: true})
		}
	}

	return arrow.NewSchema([]arrow.Field{
		{Name: "protocol", Nullable: true, Type: arrow.StructOf(
			arrow.Field{Name: "minReaderVersion", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
			arrow.Field{Name: "minWriterVersion", Type: arrow.PrimitiveTypes.Int32, Nullable: true},
			arrow.Field{Name: "readerFeatures", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
			arrow.Field{Name: "writerFeatures", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
		)},
		{Name: "metaData", Nullable: true, Type: arrow.StructOf(
			arrow.Field{Name: "id", Type: arrow.BinaryTypes.String, Nullable: true},
			arrow.Field{Name: "format", Nullable: true, Type: arrow.StructOf(
				arrow.Field{Name: "provider", Type: arrow.BinaryTypes.String, Nullable: true},
				arrow.Field{Name: "options", Type: stringMap, Nullable: true},
			)},
			arrow.Field{Name: "schemaString", Type: arrow.BinaryTypes.String, Nullable: true},
			arrow.Field{Name: "partitionColumns", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: true},
			arrow.Field{Name: "configuration", Type: stringMap, Nullable: true},
			arrow.Field{Name: "createdTime", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		)},
		{Name: "add", Nullable: true, Type: arrow.StructOf(addFields...)},
		{Name: "remove", Nullable: true, Type: arrow.StructOf(
			arrow.Field{Name: "path", Type: arrow.BinaryTypes.String, Nullable: true},
			arrow.Field{Name: "deletionTimestamp", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
			arrow.Field{Name: "dataChange", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
		)},
	}, nil)
}

// Checkpoint writes a single-file parquet checkpoint for the current version
// and points _last_checkpoint at it.
func (tb *Table) Checkpoint() int64 {
	tb.t.Helper()
	return tb.CheckpointParts(1)
}

// CheckpointParts writes a checkpoint for the current version split across
// numParts files. One part writes the classic single-file name.
func (tb *Table) CheckpointParts(numParts int) int64 {
	tb.t.Helper()
	require.GreaterOrEqual(tb.t, numParts, 1)

	actions := []spec.Action{tb.protocol, tb.metadata}
	paths := make([]string, 0, len(tb.live))
	for p := range tb.live {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		actions = append(actions, tb.live[p])
	}

	require.LessOrEqual(tb.t, numParts, len(actions))
	for part := 0; part < numParts; part++ {
		lo := part * len(actions) / numParts
		hi := (part + 1) * len(actions) / numParts
		name := fmt.Sprintf("%020d.checkpoint.parquet", tb.version)
		if numParts > 1 {
			name = fmt.Sprintf("%020d.checkpoint.%010d.%010d.parquet", tb.version, part+1, numParts)
		}
		tb.writeCheckpointFile(name, actions[lo:hi])
	}

	pointer, err := json.Marshal(map[string]any{
		"version": tb.version,
		"size":    len(actions),
		"parts":   numParts,
	})
	require.NoError(tb.t, err)
	tb.WriteLogFile("_last_checkpoint", pointer)
	return tb.version
}

func (tb *Table) writeCheckpointFile(name string, actions []spec.Action) {
	schema := tb.checkpointSchema()
	b := array.NewRecordBuilder(memory.DefaultAllocator, schema)
	defer b.Release()

	for _, a := range actions {
		for col := range schema.Fields() {
			sb := b.Field(col).(*array.StructBuilder)
			switch {
			case col == colProtocol && a.Kind() == spec.ActionProtocol:
				p := a.(*spec.Protocol)
				sb.Append(true)
				sb.FieldBuilder(0).(*array.Int32Builder).Append(int32(p.MinReaderVersion))
				sb.FieldBuilder(1).(*array.Int32Builder).Append(int32(p.MinWriterVersion))
				appendList(sb.FieldBuilder(2).(*array.ListBuilder), p.ReaderFeatures)
				appendList(sb.FieldBuilder(3).(*array.ListBuilder), p.WriterFeatures)
			case col == colMetadata && a.Kind() == spec.ActionMetadata:
				tb.appendMetadata(sb, a.(*spec.Metadata))
			case col == colAdd && a.Kind() == spec.ActionAdd:
				add := a.(*spec.AddFile)
				sb.Append(true)
				sb.FieldBuilder(0).(*array.StringBuilder).Append(add.Path)
				appendNullableMap(sb.FieldBuilder(1).(*array.MapBuilder), add.PartitionValues)
				sb.FieldBuilder(2).(*array.Int64Builder).Append(add.Size)
				sb.FieldBuilder(3).(*array.Int64Builder).Append(add.ModificationTime)
				sb.FieldBuilder(4).(*array.BooleanBuilder).Append(add.DataChange)
				if add.Stats == "" {
					sb.FieldBuilder(5).AppendNull()
				} else {
					sb.FieldBuilder(5).(*array.StringBuilder).Append(add.Stats)
				}
				if tb.ParsedStats {
					appendMap(sb.FieldBuilder(6).(*array.MapBuilder), map[string]string{"INSERTION_TIME": "1700000000000000"})
					tb.appendParsedStats(sb.FieldBuilder(7).(*array.StructBuilder), add)
					if sb.NumField() > 8 {
						tb.appendParsedPartition(sb.FieldBuilder(8).(*array.StructBuilder), add)
					}
				}
			default:
				sb.AppendNull()
			}
		}
	}
	rec := b.NewRecord()
	defer rec.Release()

	ctx := context.Background()
	out, err := tb.fio.Create(ctx, tb.LogPath(name))
	require.NoError(tb.t, err)
	w, err := out.CreateOverwrite(ctx)
	require.NoError(tb.t, err)
	defer w.Close()

	pw, err := pqarrow.NewFileWriter(schema, w,
		parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy)),
		pqarrow.DefaultWriterProps())
	require.NoError(tb.t, err)
	require.NoError(tb.t, pw.Write(rec))
	require.NoError(tb.t, pw.Close())
}

func (tb *Table) appendMetadata(sb *array.StructBuilder, m *spec.Metadata) {
	schemaString := m.SchemaString
	if schemaString == "" {
		data, err := json.Marshal(m.Schema)
		require.NoError(tb.t, err)
		schemaString = string(data)
	}

	sb.Append(true)
	sb.FieldBuilder(0).(*array.StringBuilder).Append(m.ID)

	format := sb.FieldBuilder(1).(*array.StructBuilder)
	format.Append(true)
	format.FieldBuilder(0).(*array.StringBuilder).Append(m.Format.Provider)
	appendMap(format.FieldBuilder(1).(*array.MapBuilder), m.Format.Options)

	sb.FieldBuilder(2).(*array.StringBuilder).Append(schemaString)

	cols := sb.FieldBuilder(3).(*array.ListBuilder)
	cols.Append(true)
	for _, c := range m.PartitionColumns {
		cols.ValueBuilder().(*array.StringBuilder).Append(c)
	}

	appendMap(sb.FieldBuilder(4).(*array.MapBuilder), m.Configuration)
	if m.CreatedTime == nil {
		sb.FieldBuilder(5).AppendNull()
	} else {
		sb.FieldBuilder(5).(*array.Int64Builder).Append(*m.CreatedTime)
	}
}

func appendList(lb *array.ListBuilder, values []string) {
	if values == nil {
		lb.AppendNull()
		return
	}
	lb.Append(true)
	for _, v := range values {
		lb.ValueBuilder().(*array.StringBuilder).Append(v)
	}
}

func appendMap(mb *array.MapBuilder, m map[string]string) {
	values := make(map[string]*string, len(m))
	for k, v := range m {
		values[k] = &v
	}
	appendNullableMap(mb, values)
}

func appendNullableMap(mb *array.MapBuilder, m map[string]*string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mb.Append(true)
	kb := mb.KeyBuilder().(*array.StringBuilder)
	ib := mb.ItemBuilder().(*array.StringBuilder)
	for _, k := range keys {
		kb.Append(k)
		if m[k] == nil {
			ib.AppendNull()
		} else {
			ib.Append(*m[k])
		}
	}
}
