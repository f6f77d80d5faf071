package spec

import (
	"fmt"
	"net/url"
	"strings"
)

// ActionKind identifies the variant of a log action.
type ActionKind int

const (
	ActionAdd ActionKind = iota
	ActionRemove
	ActionMetadata
	ActionProtocol
	ActionCommitInfo
	ActionSidecar
	ActionUnknown
)

// String returns the log key of the action kind.
func (k ActionKind) String() string {
	switch k {
	case ActionAdd:
		return "add"
	case ActionRemove:
		return "remove"
	case ActionMetadata:
		return "metaData"
	case ActionProtocol:
		return "protocol"
	case ActionCommitInfo:
		return "commitInfo"
	case ActionSidecar:
		return "sidecar"
	default:
		return "unknown"
	}
}

// Action is one record of the transaction log. The concrete types are
// *AddFile, *RemoveFile, *Metadata, *Protocol, *CommitInfo, *Sidecar and
// *UnknownAction; consumers switch on the type and must handle UnknownAction.
type Action interface {
	Kind() ActionKind
	isAction()
}

// DeletionVector describes rows of a data file that are logically deleted.
type DeletionVector struct {
	StorageType    string `json:"storageType"`
	PathOrInlineDv string `json:"pathOrInlineDv"`
	Offset         *int32 `json:"offset,omitempty"`
	SizeInBytes    int32  `json:"sizeInBytes"`
	Cardinality    int64  `json:"cardinality"`
}

// AddFile adds a data file to the table.
type AddFile struct {
	Path             string             `json:"path"`
	PartitionValues  map[string]*string `json:"partitionValues"`
	Size             int64              `json:"size"`
	ModificationTime int64              `json:"modificationTime"`
	DataChange       bool               `json:"dataChange"`
	Stats            string             `json:"stats,omitempty"`
	Tags             map[string]string  `json:"tags,omitempty"`
	DeletionVector   *DeletionVector    `json:"deletionVector,omitempty"`
}

func (*AddFile) Kind() ActionKind { return ActionAdd }
func (*AddFile) isAction()        {}

// RemoveFile removes a data file from the table.
type RemoveFile struct {
	Path                 string             `json:"path"`
	DeletionTimestamp    *int64             `json:"deletionTimestamp,omitempty"`
	DataChange           bool               `json:"dataChange"`
	ExtendedFileMetadata bool               `json:"extendedFileMetadata,omitempty"`
	PartitionValues      map[string]*string `json:"partitionValues,omitempty"`
	Size                 *int64             `json:"size,omitempty"`
}

func (*RemoveFile) Kind() ActionKind { return ActionRemove }
func (*RemoveFile) isAction()        {}

// Format names the data file format of the table.
type Format struct {
	Provider string            `json:"provider"`
	Options  map[string]string `json:"options"`
}

// Metadata replaces the table's schema, partitioning and configuration.
type Metadata struct {
	ID               string            `json:"id"`
	Name             string            `json:"name,omitempty"`
	Description      string            `json:"description,omitempty"`
	Format           Format            `json:"format"`
	SchemaString     string            `json:"schemaString"`
	PartitionColumns []string          `json:"partitionColumns"`
	Configuration    map[string]string `json:"configuration"`
	CreatedTime      *int64            `json:"createdTime,omitempty"`

	// Schema is SchemaString decoded.
	Schema *Schema `json:"-"`
}

func (*Metadata) Kind() ActionKind { return ActionMetadata }
func (*Metadata) isAction()        {}

// IsPartitionColumn reports whether name is one of the partition columns.
func (m *Metadata) IsPartitionColumn(name string) bool {
	for _, c := range m.PartitionColumns {
		if c == name {
			return true
		}
	}
	return false
}

// Protocol declares the reader and writer requirements of the table.
type Protocol struct {
	MinReaderVersion int      `json:"minReaderVersion"`
	MinWriterVersion int      `json:"minWriterVersion"`
	ReaderFeatures   []string `json:"readerFeatures,omitempty"`
	WriterFeatures   []string `json:"writerFeatures,omitempty"`
}

func (*Protocol) Kind() ActionKind { return ActionProtocol }
func (*Protocol) isAction()        {}

// CommitInfo carries informational provenance for a commit.
type CommitInfo struct {
	Timestamp           int64          `json:"timestamp,omitempty"`
	Operation           string         `json:"operation,omitempty"`
	OperationParameters map[string]any `json:"operationParameters,omitempty"`
}

func (*CommitInfo) Kind() ActionKind { return ActionCommitInfo }
func (*CommitInfo) isAction()        {}

// Sidecar references a v2 checkpoint sidecar file.
type Sidecar struct {
	Path             string `json:"path"`
	SizeInBytes      int64  `json:"sizeInBytes"`
	ModificationTime int64  `json:"modificationTime"`
}

func (*Sidecar) Kind() ActionKind { return ActionSidecar }
func (*Sidecar) isAction()        {}

// UnknownAction is a record whose kind this reader does not interpret
// (txn, cdc, domainMetadata, checkpointMetadata, ...).
type UnknownAction struct {
	Key string
}

func (*UnknownAction) Kind() ActionKind { return ActionUnknown }
func (*UnknownAction) isAction()        {}

// DecodePath returns the file path of an add or remove action with its URL
// encoding removed.
func DecodePath(p string) (string, error) {
	if strings.Contains(p, "://") {
		u, err := url.Parse(p)
		if err != nil {
			return "", fmt.Errorf("invalid file URI %q: %w", p, err)
		}
		if u.Path == "" {
			return "", fmt.Errorf("invalid file URI %q", p)
		}
		return p, nil
	}
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return "", fmt.Errorf("invalid file path %q: %w", p, err)
	}
	return decoded, nil
}
