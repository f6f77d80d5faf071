package deltalog

import (
	"context"
	"errors"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrobridgeOrg/go-delta/internal/deltatest"
	"github.com/BrobridgeOrg/go-delta/io"
	"github.com/BrobridgeOrg/go-delta/spec"
)

func TestCheckpointReaderRead(t *testing.T) {
	tb := newEventTable(t)
	appendEvents(t, tb, "1", 1, 2)
	appendEvents(t, tb, "2", 3, 3)
	version := tb.CheckpointParts(2)

	listing, err := ListLog(context.Background(), io.NewLocalFileIO(), tb.Location, testPolicy())
	require.NoError(t, err)
	require.Len(t, listing.Checkpoints, 1)
	cp := listing.Checkpoints[0]
	assert.Equal(t, version, cp.Version)
	assert.Len(t, cp.Locations(), 2)

	actions, err := NewCheckpointReader(io.NewLocalFileIO(), testPolicy(), 2).Read(context.Background(), cp)
	require.NoError(t, err)

	kinds := map[spec.ActionKind]int{}
	for _, a := range actions {
		kinds[a.Kind()]++
	}
	assert.Equal(t, map[spec.ActionKind]int{
		spec.ActionProtocol: 1,
		spec.ActionMetadata: 1,
		spec.ActionAdd:      2,
	}, kinds)

	for _, a := range actions {
		switch a := a.(type) {
		case *spec.Metadata:
			assert.Equal(t, []string{"day"}, a.PartitionColumns)
			assert.True(t, a.Schema.Equals(eventSchema))
		case *spec.AddFile:
			require.Contains(t, a.PartitionValues, "day")
			assert.NotEmpty(t, a.Stats)
			assert.Positive(t, a.Size)
		}
	}
}

func TestCheckpointReaderErrors(t *testing.T) {
	tb := newEventTable(t)
	appendEvents(t, tb, "1", 1, 1)
	tb.Checkpoint()
	reader := NewCheckpointReader(io.NewLocalFileIO(), testPolicy(), 1)

	missing := Checkpoint{Version: 1, Parts: []LogFile{{
		Location: tb.LogPath(CheckpointFileName(9)), Version: 9, Kind: KindCheckpoint, Part: 1, NumParts: 1, Format: "parquet",
	}}}
	_, err := reader.Read(context.Background(), missing)
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
	assert.NotErrorIs(t, err, ErrCheckpointCorrupt)
	assert.ErrorIs(t, err, io.ErrNotFound)

	tb.WriteLogFile(CheckpointFileName(1), []byte("PAR1 but not really"))
	corrupt := Checkpoint{Version: 1, Parts: []LogFile{{
		Location: tb.LogPath(CheckpointFileName(1)), Version: 1, Kind: KindCheckpoint, Part: 1, NumParts: 1, Format: "parquet",
	}}}
	_, err = reader.Read(context.Background(), corrupt)
	assert.ErrorIs(t, err, ErrCheckpointCorrupt)

	var cpErr *CheckpointError
	require.True(t, errors.As(err, &cpErr))
	assert.Equal(t, int64(1), cpErr.Version)
	assert.Contains(t, cpErr.Error(), CheckpointFileName(1))
}

func TestCheckpointReaderJSONFormat(t *testing.T) {
	tb := newEventTable(t)
	name := "00000000000000000000.checkpoint.3a0d65cd-4056-49b8-937b-95f9e3ee90e5.json"
	tb.WriteLogFile(name, []byte(
		`{"protocol":{"minReaderVersion":3,"minWriterVersion":7,"readerFeatures":["v2Checkpoint"],"writerFeatures":["v2Checkpoint"]}}`+"\n"+
			`{"checkpointMetadata":{"version":0}}`+"\n"))

	f, ok := ParseLogFileName(name)
	require.True(t, ok)
	f.Location = tb.LogPath(name)
	actions, err := NewCheckpointReader(io.NewLocalFileIO(), testPolicy(), 1).Read(context.Background(), Checkpoint{Version: 0, Parts: []LogFile{f}})
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, spec.ActionProtocol, actions[0].Kind())
	assert.Equal(t, spec.ActionUnknown, actions[1].Kind())
}

func TestCheckpointReaderSkipsParsedColumns(t *testing.T) {
	schema := spec.NewSchema(
		spec.StructField{Name: "id", Type: spec.LongType, Nullable: true},
		spec.StructField{Name: "d", Type: spec.DateType, Nullable: true},
		spec.StructField{Name: "ts", Type: spec.TimestampType, Nullable: true},
		spec.StructField{Name: "day", Type: spec.DateType, Nullable: true},
	)
	rows := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "d", Type: arrow.FixedWidthTypes.Date32, Nullable: true},
		{Name: "ts", Type: &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}, Nullable: true},
	}, nil)

	tb := deltatest.New(t, schema, "day")
	tb.ParsedStats = true
	tb.Append(map[string]string{"day": "2024-01-02"}, deltatest.Record(t, rows,
		`[{"id": 1, "d": "2024-01-01", "ts": "2024-01-01T10:00:00Z"}, {"id": 2, "d": "2024-01-05", "ts": null}]`))
	tb.Append(map[string]string{"day": "2024-01-03"}, deltatest.Record(t, rows,
		`[{"id": 3, "d": null, "ts": "2024-01-03T00:00:00Z"}]`))
	version := tb.Checkpoint()
	for v := int64(0); v <= version; v++ {
		tb.DeleteLogFile(CommitFileName(v))
	}

	state, err := load(t, tb.Location, nil)
	require.NoError(t, err)
	assert.Equal(t, version, state.CheckpointVersion())
	assert.Equal(t, tb.LivePaths(), paths(state))

	require.Len(t, state.Files(), 2)
	first := state.Files()[0]
	assert.Equal(t, int64(19724), first.Partition["day"])
	d, ok := first.Stats.Column("d")
	require.True(t, ok)
	assert.Equal(t, int64(19723), d.Min)
	assert.Equal(t, int64(19727), d.Max)
	n, ok := first.NumRecords()
	assert.True(t, ok)
	assert.Equal(t, int64(2), n)
}
