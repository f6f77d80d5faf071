package deltalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/BrobridgeOrg/go-delta/internal/logging"
	"github.com/BrobridgeOrg/go-delta/io"
	"github.com/BrobridgeOrg/go-delta/spec"
)

const defaultReadConcurrency = 8

// Replayer resolves a table version from its transaction log.
type Replayer struct {
	fio         io.FileIO
	location    string
	policy      io.RetryPolicy
	concurrency int
	logger      *slog.Logger
}

// Option configures a Replayer.
type Option func(*Replayer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Replayer) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithReadConcurrency bounds the number of log files fetched at once.
func WithReadConcurrency(n int) Option {
	return func(r *Replayer) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// NewReplayer creates a Replayer for the table at location.
func NewReplayer(fio io.FileIO, location string, policy io.RetryPolicy, opts ...Option) *Replayer {
	r := &Replayer{
		fio:         fio,
		location:    location,
		policy:      policy,
		concurrency: defaultReadConcurrency,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = logging.WithTable(location)
	}
	r.logger = r.logger.With("component", "replay")
	return r
}

// Load resolves the table at version, or at the latest version when version
// is nil. It starts from the newest usable checkpoint at or below the target
// and applies every later commit in order. Any error leaves no partial state.
func (r *Replayer) Load(ctx context.Context, version *int64) (*TableState, error) {
	listing, err := ListLog(ctx, r.fio, r.location, r.policy)
	if err != nil {
		return nil, err
	}
	if listing.Empty() {
		return nil, fmt.Errorf("%w: %s", spec.ErrTableNotFound, r.location)
	}

	latest := listing.LatestVersion()
	target := latest
	if version != nil {
		if *version < 0 || *version > latest {
			return nil, fmt.Errorf("%w: version %d, latest is %d", spec.ErrVersionNotFound, *version, latest)
		}
		target = *version
	}

	b := newStateBuilder()
	start := int64(-1)

	cp, actions, err := r.loadCheckpoint(ctx, listing, target)
	if err != nil {
		return nil, err
	}
	if cp != nil {
		if err := b.applyVersion(cp.Version, actions, true); err != nil {
			return nil, fmt.Errorf("checkpoint %d: %w", cp.Version, err)
		}
		start = cp.Version
	}

	// without a checkpoint an explicit version needs the log from genesis
	if start < 0 && version != nil {
		if _, ok := listing.Commits[0]; !ok {
			return nil, fmt.Errorf("%w: version %d is no longer reconstructable", spec.ErrVersionNotFound, target)
		}
	}

	var commits []string
	for v := start + 1; v <= target; v++ {
		loc, ok := listing.Commits[v]
		if !ok {
			return nil, fmt.Errorf("%w: missing commit %d (replaying %d..%d)", spec.ErrTableStateInconsistent, v, start+1, target)
		}
		commits = append(commits, loc)
	}

	contents, err := r.fetchAll(ctx, commits)
	if err != nil {
		return nil, err
	}
	for i, data := range contents {
		v := start + 1 + int64(i)
		actions, err := spec.DecodeActions(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("commit %d: %w", v, err)
		}
		if err := b.applyVersion(v, actions, false); err != nil {
			return nil, fmt.Errorf("commit %d: %w", v, err)
		}
	}

	state, err := b.build(r.location, target)
	if err != nil {
		return nil, err
	}
	state.checkpointVersion = start

	r.logger.Debug("table state resolved",
		"version", target,
		"checkpoint", state.checkpointVersion,
		"commits", len(commits),
		"files", state.NumFiles(),
	)
	return state, nil
}

// loadCheckpoint returns the newest readable checkpoint at or below target.
// A missing checkpoint sends the caller to genesis; a corrupt one falls back
// to the next older checkpoint.
func (r *Replayer) loadCheckpoint(ctx context.Context, listing *Listing, target int64) (*Checkpoint, []spec.Action, error) {
	candidates := listing.CheckpointsAtOrBelow(target)

	pointer, err := ReadLastCheckpoint(ctx, r.fio, r.location, r.policy)
	switch {
	case err != nil && (errors.Is(err, io.ErrStorageUnavailable) || ctx.Err() != nil):
		return nil, nil, err
	case err != nil:
		r.logger.Warn("ignoring last checkpoint pointer", "error", err)
	case pointer != nil && pointer.Version <= target:
		found := false
		for _, cp := range candidates {
			if cp.Version == pointer.Version {
				found = true
				break
			}
		}
		if !found {
			r.logger.Warn("last checkpoint pointer names a missing checkpoint", "version", pointer.Version)
		}
	}

	reader := NewCheckpointReader(r.fio, r.policy, r.concurrency)
	for i := range candidates {
		cp := candidates[i]
		actions, err := reader.Read(ctx, cp)
		if err == nil {
			r.logger.Info("checkpoint selected", "version", cp.Version, "parts", len(cp.Parts))
			return &cp, actions, nil
		}
		switch {
		case errors.Is(err, ErrCheckpointNotFound):
			r.logger.Warn("checkpoint not found, replaying from genesis", "version", cp.Version, "error", err)
			return nil, nil, nil
		case errors.Is(err, ErrCheckpointCorrupt):
			r.logger.Warn("checkpoint corrupt, trying an older one", "version", cp.Version, "error", err)
		default:
			return nil, nil, err
		}
	}
	return nil, nil, nil
}

// fetchAll reads commit files concurrently and returns them in input order.
// A commit that vanished after listing means the log changed underneath us.
func (r *Replayer) fetchAll(ctx context.Context, locations []string) ([][]byte, error) {
	out := make([][]byte, len(locations))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, loc := range locations {
		g.Go(func() error {
			data, err := io.ReadFile(ctx, r.fio, loc, r.policy)
			if err != nil {
				if errors.Is(err, io.ErrNotFound) {
					return fmt.Errorf("%w: listed commit %s is missing: %w", spec.ErrTableStateInconsistent, loc, err)
				}
				return fmt.Errorf("failed to read commit %s: %w", loc, err)
			}
			out[i] = data
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// stateBuilder folds actions into a FileEntry arena. Removed entries leave
// holes that build compacts.
type stateBuilder struct {
	protocol *spec.Protocol
	metadata *spec.Metadata

	files    []FileEntry
	rawStats []string
	removed  []bool
	index    map[string]int
	pending  []int
}

func newStateBuilder() *stateBuilder {
	return &stateBuilder{index: make(map[string]int)}
}

// applyVersion applies the actions of one version in record order. Stats of
// files added in the version are decoded with the schema in effect at its end.
func (b *stateBuilder) applyVersion(version int64, actions []spec.Action, fromCheckpoint bool) error {
	b.pending = b.pending[:0]

	for _, action := range actions {
		switch a := action.(type) {
		case *spec.Protocol:
			if err := a.CheckReadSupport(); err != nil {
				return err
			}
			b.protocol = a
		case *spec.Metadata:
			if err := spec.CheckMetadataSupport(a); err != nil {
				return err
			}
			b.metadata = a
		case *spec.AddFile:
			if err := b.add(a, version); err != nil {
				return err
			}
		case *spec.RemoveFile:
			// checkpoint removes are tombstones for files no longer live
			if fromCheckpoint {
				continue
			}
			b.remove(a)
		case *spec.Sidecar:
			return &spec.UnsupportedProtocolError{Feature: spec.FeatureV2Checkpoint + " sidecar files"}
		case *spec.CommitInfo, *spec.UnknownAction:
		}
	}

	if len(b.pending) == 0 {
		return nil
	}
	if b.metadata == nil {
		return fmt.Errorf("%w: add action before any metadata", spec.ErrTableStateInconsistent)
	}
	schema := b.metadata.Schema
	for _, i := range b.pending {
		if b.removed[i] {
			continue
		}
		stats, err := spec.ParseFileStats(b.rawStats[i], schema)
		if err != nil {
			return fmt.Errorf("file %s: %w", b.files[i].Path, err)
		}
		b.files[i].Stats = stats
		b.files[i].SchemaAtAdd = schema
	}
	return nil
}

func (b *stateBuilder) add(a *spec.AddFile, version int64) error {
	if a.DeletionVector != nil {
		return &spec.UnsupportedProtocolError{Feature: spec.FeatureDeletionVectors}
	}
	path := a.Path
	entry := FileEntry{
		Path:             path,
		PartitionValues:  a.PartitionValues,
		Size:             a.Size,
		ModificationTime: a.ModificationTime,
		Version:          version,
	}
	if i, ok := b.index[path]; ok {
		b.files[i] = entry
		b.rawStats[i] = a.Stats
		b.removed[i] = false
		b.pending = append(b.pending, i)
		return nil
	}
	b.index[path] = len(b.files)
	b.pending = append(b.pending, len(b.files))
	b.files = append(b.files, entry)
	b.rawStats = append(b.rawStats, a.Stats)
	b.removed = append(b.removed, false)
	return nil
}

func (b *stateBuilder) remove(a *spec.RemoveFile) {
	if i, ok := b.index[a.Path]; ok {
		b.removed[i] = true
		delete(b.index, a.Path)
	}
}

// build compacts the arena, orders it by path and types partition values
// with the final schema.
func (b *stateBuilder) build(location string, version int64) (*TableState, error) {
	if b.protocol == nil {
		return nil, fmt.Errorf("%w: no protocol action up to version %d", spec.ErrTableStateInconsistent, version)
	}
	if b.metadata == nil {
		return nil, fmt.Errorf("%w: no metadata action up to version %d", spec.ErrTableStateInconsistent, version)
	}

	files := make([]FileEntry, 0, len(b.index))
	for i := range b.files {
		if !b.removed[i] {
			files = append(files, b.files[i])
		}
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	schema := b.metadata.Schema
	index := make(map[string]int, len(files))
	for i := range files {
		f := &files[i]
		index[f.Path] = i
		f.Partition = make(map[string]any, len(b.metadata.PartitionColumns))
		for _, col := range b.metadata.PartitionColumns {
			field := schema.FieldByName(col)
			if field == nil {
				return nil, fmt.Errorf("%w: partition column %q is not in the schema", spec.ErrTableStateInconsistent, col)
			}
			v, err := spec.ParsePartitionValue(field.Type, f.PartitionValues[col])
			if err != nil {
				return nil, &spec.MalformedError{Action: "add", Field: "partitionValues." + col, Reason: err.Error()}
			}
			f.Partition[col] = v
		}
	}

	return &TableState{
		location: location,
		version:  version,
		protocol: b.protocol,
		metadata: b.metadata,
		files:    files,
		index:    index,
	}, nil
}
