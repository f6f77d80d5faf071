// Package deltalog resolves a Delta table's transaction log into a TableState:
// it lists the _delta_log directory, loads checkpoints and replays commits.
package deltalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/BrobridgeOrg/go-delta/io"
)

const (
	// LogDirName is the transaction log directory under the table root.
	LogDirName = "_delta_log"
	// LastCheckpointName is the checkpoint pointer file in the log directory.
	LastCheckpointName = "_last_checkpoint"

	versionWidth = 20
)

// LogFileKind classifies a file in the log directory.
type LogFileKind int

const (
	KindCommit LogFileKind = iota
	KindCheckpoint
)

// LogFile is one parsed log directory entry.
type LogFile struct {
	Location string
	Version  int64
	Kind     LogFileKind
	// Part and NumParts are 1/1 for single-file checkpoints.
	Part     int
	NumParts int
	// Format is "json" or "parquet".
	Format string
}

// CommitFileName returns the name of the commit file for version.
func CommitFileName(version int64) string {
	return fmt.Sprintf("%0*d.json", versionWidth, version)
}

// CheckpointFileName returns the name of a single-file checkpoint.
func CheckpointFileName(version int64) string {
	return fmt.Sprintf("%0*d.checkpoint.parquet", versionWidth, version)
}

// CheckpointPartFileName returns the name of one part of a multi-part
// checkpoint. Parts are numbered from 1.
func CheckpointPartFileName(version int64, part, numParts int) string {
	return fmt.Sprintf("%0*d.checkpoint.%010d.%010d.parquet", versionWidth, version, part, numParts)
}

// LogDir returns the log directory of a table.
func LogDir(tableURI string) string {
	return io.JoinPath(tableURI, LogDirName)
}

// ParseLogFileName recognizes commit and checkpoint file names. Other
// files (_last_checkpoint, .crc, temporary files) are reported as false.
func ParseLogFileName(name string) (LogFile, bool) {
	if len(name) <= versionWidth || name[versionWidth] != '.' {
		return LogFile{}, false
	}
	version, err := strconv.ParseInt(name[:versionWidth], 10, 64)
	if err != nil || version < 0 {
		return LogFile{}, false
	}
	rest := name[versionWidth+1:]

	if rest == "json" {
		return LogFile{Version: version, Kind: KindCommit, Format: "json"}, true
	}
	if !strings.HasPrefix(rest, "checkpoint.") {
		return LogFile{}, false
	}
	rest = strings.TrimPrefix(rest, "checkpoint.")

	if rest == "parquet" {
		return LogFile{Version: version, Kind: KindCheckpoint, Part: 1, NumParts: 1, Format: "parquet"}, true
	}

	parts := strings.Split(rest, ".")
	switch len(parts) {
	case 2:
		// v2 checkpoint named by a unique id: <version>.checkpoint.<uuid>.<format>
		if parts[0] == "" || (parts[1] != "json" && parts[1] != "parquet") {
			return LogFile{}, false
		}
		return LogFile{Version: version, Kind: KindCheckpoint, Part: 1, NumParts: 1, Format: parts[1]}, true
	case 3:
		if parts[2] != "parquet" {
			return LogFile{}, false
		}
		part, err1 := strconv.Atoi(parts[0])
		numParts, err2 := strconv.Atoi(parts[1])
		if err1 != nil || err2 != nil || numParts < 1 || part < 1 || part > numParts {
			return LogFile{}, false
		}
		return LogFile{Version: version, Kind: KindCheckpoint, Part: part, NumParts: numParts, Format: "parquet"}, true
	}
	return LogFile{}, false
}

// Checkpoint is a complete checkpoint: every part of one version.
type Checkpoint struct {
	Version int64
	// Parts are ordered by part number.
	Parts []LogFile
}

// Locations returns the locations of the checkpoint parts.
func (c Checkpoint) Locations() []string {
	locs := make([]string, len(c.Parts))
	for i, p := range c.Parts {
		locs[i] = p.Location
	}
	return locs
}

// Listing is the content of a log directory.
type Listing struct {
	// Commits maps version to commit file location.
	Commits map[int64]string
	// Checkpoints holds complete checkpoints, newest first.
	Checkpoints []Checkpoint
}

// Empty reports whether the listing has neither commits nor checkpoints.
func (l *Listing) Empty() bool {
	return len(l.Commits) == 0 && len(l.Checkpoints) == 0
}

// LatestVersion returns the highest version named by a commit or a
// checkpoint, or -1 for an empty log.
func (l *Listing) LatestVersion() int64 {
	latest := int64(-1)
	for v := range l.Commits {
		if v > latest {
			latest = v
		}
	}
	for _, cp := range l.Checkpoints {
		if cp.Version > latest {
			latest = cp.Version
		}
	}
	return latest
}

// CheckpointsAtOrBelow returns the complete checkpoints with version <=
// version, newest first.
func (l *Listing) CheckpointsAtOrBelow(version int64) []Checkpoint {
	var out []Checkpoint
	for _, cp := range l.Checkpoints {
		if cp.Version <= version {
			out = append(out, cp)
		}
	}
	return out
}

// ListLog lists the log directory of a table. A missing directory yields an
// empty listing.
func ListLog(ctx context.Context, fio io.FileIO, tableURI string, policy io.RetryPolicy) (*Listing, error) {
	locations, err := io.ListFiles(ctx, fio, LogDir(tableURI), policy)
	if err != nil && !errors.Is(err, io.ErrNotFound) {
		return nil, fmt.Errorf("failed to list transaction log: %w", err)
	}

	listing := &Listing{Commits: make(map[int64]string)}
	// checkpoint candidates keyed by version, then by part count
	groups := make(map[int64]map[int][]LogFile)

	for _, loc := range locations {
		f, ok := ParseLogFileName(io.BaseName(loc))
		if !ok {
			continue
		}
		f.Location = loc
		switch f.Kind {
		case KindCommit:
			listing.Commits[f.Version] = loc
		case KindCheckpoint:
			if groups[f.Version] == nil {
				groups[f.Version] = make(map[int][]LogFile)
			}
			groups[f.Version][f.NumParts] = append(groups[f.Version][f.NumParts], f)
		}
	}

	for version, byParts := range groups {
		if cp, ok := completeCheckpoint(version, byParts); ok {
			listing.Checkpoints = append(listing.Checkpoints, cp)
		}
	}
	sort.Slice(listing.Checkpoints, func(i, j int) bool {
		return listing.Checkpoints[i].Version > listing.Checkpoints[j].Version
	})
	return listing, nil
}

// completeCheckpoint picks a checkpoint of version with all of its parts
// present. A classic single file is preferred over a v2 one, and either over
// a multi-part set.
func completeCheckpoint(version int64, byParts map[int][]LogFile) (Checkpoint, bool) {
	if singles := byParts[1]; len(singles) > 0 {
		sort.Slice(singles, func(i, j int) bool {
			return singles[i].Location < singles[j].Location
		})
		best := singles[0]
		for _, f := range singles {
			if io.BaseName(f.Location) == CheckpointFileName(version) {
				best = f
			}
		}
		return Checkpoint{Version: version, Parts: []LogFile{best}}, true
	}

	counts := make([]int, 0, len(byParts))
	for n := range byParts {
		counts = append(counts, n)
	}
	sort.Ints(counts)
	for _, n := range counts {
		parts := make([]LogFile, n)
		seen := 0
		for _, f := range byParts[n] {
			if parts[f.Part-1].Location == "" {
				parts[f.Part-1] = f
				seen++
			}
		}
		if seen == n {
			return Checkpoint{Version: version, Parts: parts}, true
		}
	}
	return Checkpoint{}, false
}

// LastCheckpoint is the content of the _last_checkpoint pointer.
type LastCheckpoint struct {
	Version       int64  `json:"version"`
	Size          int64  `json:"size"`
	Parts         *int   `json:"parts,omitempty"`
	SizeInBytes   *int64 `json:"sizeInBytes,omitempty"`
	NumOfAddFiles *int64 `json:"numOfAddFiles,omitempty"`
}

// ReadLastCheckpoint reads the _last_checkpoint pointer. It returns nil when
// the pointer does not exist.
func ReadLastCheckpoint(ctx context.Context, fio io.FileIO, tableURI string, policy io.RetryPolicy) (*LastCheckpoint, error) {
	data, err := io.ReadFile(ctx, fio, io.JoinPath(LogDir(tableURI), LastCheckpointName), policy)
	if err != nil {
		if errors.Is(err, io.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var lc LastCheckpoint
	if err := json.Unmarshal(data, &lc); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", LastCheckpointName, err)
	}
	if lc.Version < 0 {
		return nil, fmt.Errorf("invalid %s: negative version %d", LastCheckpointName, lc.Version)
	}
	return &lc, nil
}
