package deltalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"golang.org/x/sync/errgroup"

	"github.com/BrobridgeOrg/go-delta/io"
	"github.com/BrobridgeOrg/go-delta/spec"
)

var (
	// ErrCheckpointNotFound is returned when a checkpoint file is missing.
	// Callers fall back to replay from genesis.
	ErrCheckpointNotFound = errors.New("checkpoint not found")

	// ErrCheckpointCorrupt is returned when a checkpoint cannot be decoded.
	// Callers may fall back to an older checkpoint or genesis.
	ErrCheckpointCorrupt = errors.New("checkpoint corrupt")
)

// CheckpointError describes a checkpoint that could not be loaded. It
// matches ErrCheckpointNotFound or ErrCheckpointCorrupt via errors.Is.
type CheckpointError struct {
	Version int64
	Path    string
	Kind    error
	Cause   error
}

func (e *CheckpointError) Error() string {
	return fmt.Sprintf("%s: version %d (%s): %v", e.Kind, e.Version, e.Path, e.Cause)
}

// Unwrap returns the cause.
func (e *CheckpointError) Unwrap() error {
	return e.Cause
}

// Is reports whether the error is of the given kind.
func (e *CheckpointError) Is(target error) bool {
	return target == e.Kind
}

// checkpointColumns are the top-level checkpoint columns a reader needs.
var checkpointColumns = map[string]bool{
	"add":      true,
	"remove":   true,
	"metaData": true,
	"protocol": true,
	"sidecar":  true,
}

// wantedLeaf reports whether a checkpoint leaf feeds the log codec. Writers
// may add typed copies of stats and partition values (stats_parsed,
// partitionValues_parsed) and free-form tags; none of them are read.
func wantedLeaf(path []string) bool {
	if len(path) == 0 || !checkpointColumns[path[0]] {
		return false
	}
	if len(path) > 1 && (path[1] == "tags" || strings.HasSuffix(path[1], "_parsed")) {
		return false
	}
	return true
}

// CheckpointReader loads the actions of a checkpoint. Parts of a multi-part
// checkpoint are read concurrently.
type CheckpointReader struct {
	fio         io.FileIO
	policy      io.RetryPolicy
	concurrency int
	mem         memory.Allocator
}

// NewCheckpointReader creates a CheckpointReader.
func NewCheckpointReader(fio io.FileIO, policy io.RetryPolicy, concurrency int) *CheckpointReader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &CheckpointReader{
		fio:         fio,
		policy:      policy,
		concurrency: concurrency,
		mem:         memory.NewGoAllocator(),
	}
}

// Read returns the actions of every part of cp, in part order.
func (r *CheckpointReader) Read(ctx context.Context, cp Checkpoint) ([]spec.Action, error) {
	results := make([][]spec.Action, len(cp.Parts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, part := range cp.Parts {
		g.Go(func() error {
			actions, err := r.readPart(ctx, cp.Version, part)
			if err != nil {
				return err
			}
			results[i] = actions
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []spec.Action
	for _, actions := range results {
		all = append(all, actions...)
	}
	return all, nil
}

func (r *CheckpointReader) readPart(ctx context.Context, version int64, part LogFile) ([]spec.Action, error) {
	data, err := io.ReadFile(ctx, r.fio, part.Location, r.policy)
	if err != nil {
		if errors.Is(err, io.ErrNotFound) {
			return nil, &CheckpointError{Version: version, Path: part.Location, Kind: ErrCheckpointNotFound, Cause: err}
		}
		return nil, err
	}

	var actions []spec.Action
	if part.Format == "json" {
		actions, err = spec.DecodeActions(bytes.NewReader(data))
	} else {
		actions, err = r.decodeParquet(ctx, data)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		// a readable checkpoint of an unreadable table is not corrupt
		if errors.Is(err, spec.ErrUnsupportedProtocol) {
			return nil, err
		}
		return nil, &CheckpointError{Version: version, Path: part.Location, Kind: ErrCheckpointCorrupt, Cause: err}
	}
	return actions, nil
}

func (r *CheckpointReader) decodeParquet(ctx context.Context, data []byte) ([]spec.Action, error) {
	pr, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer pr.Close()

	fr, err := pqarrow.NewFileReader(pr, pqarrow.ArrowReadProperties{BatchSize: 1024}, r.mem)
	if err != nil {
		return nil, err
	}

	pqSchema := pr.MetaData().Schema
	var columns []int
	for i := 0; i < pqSchema.NumColumns(); i++ {
		if wantedLeaf(pqSchema.Column(i).ColumnPath()) {
			columns = append(columns, i)
		}
	}
	if len(columns) == 0 {
		return nil, errors.New("no action columns")
	}
	rowGroups := make([]int, pr.NumRowGroups())
	for i := range rowGroups {
		rowGroups[i] = i
	}

	tbl, err := fr.ReadRowGroups(ctx, columns, rowGroups)
	if err != nil {
		return nil, err
	}
	defer tbl.Release()

	tr := array.NewTableReader(tbl, 0)
	defer tr.Release()

	var actions []spec.Action
	for tr.Next() {
		decoded, err := decodeCheckpointRecord(tr.Record())
		if err != nil {
			return nil, err
		}
		actions = append(actions, decoded...)
	}
	return actions, nil
}

// decodeCheckpointRecord turns each checkpoint row into the JSON form of its
// single non-null action and decodes it with the log codec, so checkpoint
// and commit actions go through the same validation.
func decodeCheckpointRecord(rec arrow.Record) ([]spec.Action, error) {
	var actions []spec.Action
	schema := rec.Schema()
	for row := 0; row < int(rec.NumRows()); row++ {
		obj := make(map[string]any, 1)
		for c := 0; c < int(rec.NumCols()); c++ {
			col := rec.Column(c)
			if col.IsNull(row) {
				continue
			}
			v, err := arrowValue(col, row)
			if err != nil {
				return nil, fmt.Errorf("row %d column %s: %w", row, schema.Field(c).Name, err)
			}
			obj[schema.Field(c).Name] = v
		}
		if len(obj) == 0 {
			continue
		}
		line, err := json.Marshal(obj)
		if err != nil {
			return nil, err
		}
		action, err := spec.DecodeAction(line)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		actions = append(actions, action)
	}
	return actions, nil
}
