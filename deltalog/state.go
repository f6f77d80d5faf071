package deltalog

import (
	"github.com/BrobridgeOrg/go-delta/io"
	"github.com/BrobridgeOrg/go-delta/spec"
)

// FileEntry is one live data file of a table version.
type FileEntry struct {
	// Path is the add path with URL encoding removed. It is relative to the
	// table root unless it is an absolute URI.
	Path string
	// PartitionValues holds the raw partition strings of the add action.
	PartitionValues map[string]*string
	// Partition holds the partition values typed by the table schema.
	// A NULL partition value is a nil entry.
	Partition        map[string]any
	Size             int64
	ModificationTime int64
	// Stats is nil when the add carried no statistics.
	Stats *spec.FileStats
	// SchemaAtAdd is the table schema in effect when the file was added.
	SchemaAtAdd *spec.Schema
	// Version is the commit that added the file.
	Version int64
}

// NumRecords returns the row count recorded in the file statistics.
func (f *FileEntry) NumRecords() (int64, bool) {
	if f.Stats == nil || f.Stats.NumRecords < 0 {
		return 0, false
	}
	return f.Stats.NumRecords, true
}

// TableState is the resolved state of one table version. It is read-only
// after construction and safe for concurrent use.
type TableState struct {
	location          string
	version           int64
	checkpointVersion int64
	protocol          *spec.Protocol
	metadata          *spec.Metadata

	files []FileEntry
	index map[string]int
}

// Location returns the table root.
func (s *TableState) Location() string {
	return s.location
}

// Version returns the resolved table version.
func (s *TableState) Version() int64 {
	return s.version
}

// CheckpointVersion returns the version of the checkpoint the state was
// built from, or -1 when it was replayed from genesis.
func (s *TableState) CheckpointVersion() int64 {
	return s.checkpointVersion
}

// Protocol returns the active protocol.
func (s *TableState) Protocol() *spec.Protocol {
	return s.protocol
}

// Metadata returns the active metadata.
func (s *TableState) Metadata() *spec.Metadata {
	return s.metadata
}

// Schema returns the current table schema.
func (s *TableState) Schema() *spec.Schema {
	return s.metadata.Schema
}

// PartitionColumns returns the partition column names.
func (s *TableState) PartitionColumns() []string {
	return s.metadata.PartitionColumns
}

// IsPartitionColumn reports whether name is a partition column.
func (s *TableState) IsPartitionColumn(name string) bool {
	return s.metadata.IsPartitionColumn(name)
}

// Files returns the live files ordered by path. The slice must not be
// modified.
func (s *TableState) Files() []FileEntry {
	return s.files
}

// NumFiles returns the number of live files.
func (s *TableState) NumFiles() int {
	return len(s.files)
}

// File looks up a live file by path.
func (s *TableState) File(path string) (*FileEntry, bool) {
	i, ok := s.index[path]
	if !ok {
		return nil, false
	}
	return &s.files[i], true
}

// FileLocation returns the absolute location of a file entry.
func (s *TableState) FileLocation(f *FileEntry) string {
	if io.IsAbsoluteURI(f.Path) {
		return f.Path
	}
	return io.JoinPath(s.location, f.Path)
}

// NumRecords sums the recorded row counts of all live files. exact is false
// when any file lacks a count.
func (s *TableState) NumRecords() (n int64, exact bool) {
	exact = true
	for i := range s.files {
		c, ok := s.files[i].NumRecords()
		if !ok {
			exact = false
			continue
		}
		n += c
	}
	return n, exact
}

// SizeBytes sums the sizes of all live files.
func (s *TableState) SizeBytes() int64 {
	var n int64
	for i := range s.files {
		n += s.files[i].Size
	}
	return n
}
