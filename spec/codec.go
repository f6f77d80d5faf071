package spec

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

type addJSON struct {
	Path             *string             `json:"path"`
	PartitionValues  *map[string]*string `json:"partitionValues"`
	Size             *int64              `json:"size"`
	ModificationTime *int64              `json:"modificationTime"`
	DataChange       *bool               `json:"dataChange"`
	Stats            *string             `json:"stats"`
	Tags             map[string]*string  `json:"tags"`
	DeletionVector   *DeletionVector     `json:"deletionVector"`
}

type removeJSON struct {
	Path                 *string            `json:"path"`
	DeletionTimestamp    *int64             `json:"deletionTimestamp"`
	DataChange           *bool              `json:"dataChange"`
	ExtendedFileMetadata *bool              `json:"extendedFileMetadata"`
	PartitionValues      map[string]*string `json:"partitionValues"`
	Size                 *int64             `json:"size"`
}

type metadataJSON struct {
	ID               *string            `json:"id"`
	Name             *string            `json:"name"`
	Description      *string            `json:"description"`
	Format           *Format            `json:"format"`
	SchemaString     *string            `json:"schemaString"`
	PartitionColumns *[]string          `json:"partitionColumns"`
	Configuration    map[string]*string `json:"configuration"`
	CreatedTime      *int64             `json:"createdTime"`
}

type protocolJSON struct {
	MinReaderVersion *int     `json:"minReaderVersion"`
	MinWriterVersion *int     `json:"minWriterVersion"`
	ReaderFeatures   []string `json:"readerFeatures"`
	WriterFeatures   []string `json:"writerFeatures"`
}

type commitInfoJSON struct {
	Timestamp           *int64         `json:"timestamp"`
	Operation           *string        `json:"operation"`
	OperationParameters map[string]any `json:"operationParameters"`
}

type sidecarJSON struct {
	Path             *string `json:"path"`
	SizeInBytes      *int64  `json:"sizeInBytes"`
	ModificationTime *int64  `json:"modificationTime"`
}

// DecodeAction decodes one log record. Records of unknown kinds decode to
// *UnknownAction. A protocol record the engine cannot read fails with
// ErrUnsupportedProtocol.
func DecodeAction(line []byte) (Action, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(line, &envelope); err != nil {
		return nil, malformed("log", "", fmt.Sprintf("invalid JSON: %v", err))
	}

	var (
		key string
		raw json.RawMessage
	)
	for k, v := range envelope {
		switch k {
		case "add", "remove", "metaData", "protocol", "commitInfo", "sidecar":
			if key != "" {
				return nil, malformed("log", "", fmt.Sprintf("record holds both %s and %s", key, k))
			}
			key, raw = k, v
		}
	}
	if key == "" {
		for k := range envelope {
			return &UnknownAction{Key: k}, nil
		}
		return nil, malformed("log", "", "empty record")
	}

	switch key {
	case "add":
		return decodeAdd(raw)
	case "remove":
		return decodeRemove(raw)
	case "metaData":
		return decodeMetadata(raw)
	case "protocol":
		return decodeProtocol(raw)
	case "commitInfo":
		return decodeCommitInfo(raw)
	default:
		return decodeSidecar(raw)
	}
}

// DecodeActions decodes a newline-delimited commit file. Blank lines are
// skipped and actions are returned in file order.
func DecodeActions(r io.Reader) ([]Action, error) {
	var actions []Action
	reader := bufio.NewReader(r)
	lineNo := 0
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			lineNo++
			line = bytes.TrimSpace(line)
			if len(line) > 0 {
				action, decodeErr := DecodeAction(line)
				if decodeErr != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, decodeErr)
				}
				actions = append(actions, action)
			}
		}
		if err == io.EOF {
			return actions, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// EncodeAction encodes an action as one log record without a trailing newline.
func EncodeAction(a Action) ([]byte, error) {
	var key string
	switch v := a.(type) {
	case *AddFile:
		key = "add"
		if v.PartitionValues == nil {
			c := *v
			c.PartitionValues = map[string]*string{}
			a = &c
		}
	case *RemoveFile:
		key = "remove"
	case *Metadata:
		key = "metaData"
		c := *v
		if c.SchemaString == "" && c.Schema != nil {
			c.SchemaString = c.Schema.String()
		}
		if c.PartitionColumns == nil {
			c.PartitionColumns = []string{}
		}
		if c.Configuration == nil {
			c.Configuration = map[string]string{}
		}
		if c.Format.Provider == "" {
			c.Format.Provider = "parquet"
		}
		if c.Format.Options == nil {
			c.Format.Options = map[string]string{}
		}
		a = &c
	case *Protocol:
		key = "protocol"
	case *CommitInfo:
		key = "commitInfo"
	case *Sidecar:
		key = "sidecar"
	default:
		return nil, fmt.Errorf("cannot encode action %T", a)
	}
	return json.Marshal(map[string]Action{key: a})
}

func decodeInto(action string, raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return malformed(action, typeErr.Field, fmt.Sprintf("has JSON type %s, want %s", typeErr.Value, typeErr.Type))
		}
		return malformed(action, "", err.Error())
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return malformed(action, "", "is null")
	}
	return nil
}

func missing(action, field string) error {
	return malformed(action, field, "is required")
}

func decodeAdd(raw json.RawMessage) (Action, error) {
	var j addJSON
	if err := decodeInto("add", raw, &j); err != nil {
		return nil, err
	}
	switch {
	case j.Path == nil || *j.Path == "":
		return nil, missing("add", "path")
	case j.PartitionValues == nil:
		return nil, missing("add", "partitionValues")
	case j.Size == nil:
		return nil, missing("add", "size")
	case j.ModificationTime == nil:
		return nil, missing("add", "modificationTime")
	case j.DataChange == nil:
		return nil, missing("add", "dataChange")
	}
	if *j.Size < 0 {
		return nil, malformed("add", "size", "is negative")
	}
	path, err := DecodePath(*j.Path)
	if err != nil {
		return nil, malformed("add", "path", err.Error())
	}

	add := &AddFile{
		Path:             path,
		PartitionValues:  *j.PartitionValues,
		Size:             *j.Size,
		ModificationTime: *j.ModificationTime,
		DataChange:       *j.DataChange,
		DeletionVector:   j.DeletionVector,
	}
	if add.PartitionValues == nil {
		add.PartitionValues = map[string]*string{}
	}
	if j.Stats != nil {
		add.Stats = *j.Stats
	}
	if len(j.Tags) > 0 {
		add.Tags = make(map[string]string, len(j.Tags))
		for k, v := range j.Tags {
			if v != nil {
				add.Tags[k] = *v
			}
		}
	}
	return add, nil
}

func decodeRemove(raw json.RawMessage) (Action, error) {
	var j removeJSON
	if err := decodeInto("remove", raw, &j); err != nil {
		return nil, err
	}
	if j.Path == nil || *j.Path == "" {
		return nil, missing("remove", "path")
	}
	if j.DataChange == nil {
		return nil, missing("remove", "dataChange")
	}
	path, err := DecodePath(*j.Path)
	if err != nil {
		return nil, malformed("remove", "path", err.Error())
	}
	remove := &RemoveFile{
		Path:              path,
		DeletionTimestamp: j.DeletionTimestamp,
		DataChange:        *j.DataChange,
		PartitionValues:   j.PartitionValues,
		Size:              j.Size,
	}
	if j.ExtendedFileMetadata != nil {
		remove.ExtendedFileMetadata = *j.ExtendedFileMetadata
	}
	return remove, nil
}

func decodeMetadata(raw json.RawMessage) (Action, error) {
	var j metadataJSON
	if err := decodeInto("metaData", raw, &j); err != nil {
		return nil, err
	}
	switch {
	case j.ID == nil:
		return nil, missing("metaData", "id")
	case j.SchemaString == nil:
		return nil, missing("metaData", "schemaString")
	case j.PartitionColumns == nil:
		return nil, missing("metaData", "partitionColumns")
	}

	schema, err := ParseSchema(*j.SchemaString)
	if err != nil {
		return nil, malformed("metaData", "schemaString", err.Error())
	}

	m := &Metadata{
		ID:               *j.ID,
		SchemaString:     *j.SchemaString,
		PartitionColumns: *j.PartitionColumns,
		Configuration:    make(map[string]string, len(j.Configuration)),
		CreatedTime:      j.CreatedTime,
		Schema:           schema,
	}
	if j.Name != nil {
		m.Name = *j.Name
	}
	if j.Description != nil {
		m.Description = *j.Description
	}
	if j.Format != nil {
		m.Format = *j.Format
	}
	for k, v := range j.Configuration {
		if v != nil {
			m.Configuration[k] = *v
		}
	}

	for _, col := range m.PartitionColumns {
		f := schema.FieldByName(col)
		if f == nil {
			return nil, malformed("metaData", "partitionColumns", fmt.Sprintf("names %q which is not in the schema", col))
		}
		if !IsPrimitive(f.Type) {
			return nil, malformed("metaData", "partitionColumns", fmt.Sprintf("names %q of non-primitive type %s", col, f.Type))
		}
	}
	return m, nil
}

func decodeProtocol(raw json.RawMessage) (Action, error) {
	var j protocolJSON
	if err := decodeInto("protocol", raw, &j); err != nil {
		return nil, err
	}
	if j.MinReaderVersion == nil {
		return nil, missing("protocol", "minReaderVersion")
	}
	if j.MinWriterVersion == nil {
		return nil, missing("protocol", "minWriterVersion")
	}
	if *j.MinReaderVersion < 1 {
		return nil, malformed("protocol", "minReaderVersion", "must be at least 1")
	}
	p := &Protocol{
		MinReaderVersion: *j.MinReaderVersion,
		MinWriterVersion: *j.MinWriterVersion,
		ReaderFeatures:   j.ReaderFeatures,
		WriterFeatures:   j.WriterFeatures,
	}
	if err := p.CheckReadSupport(); err != nil {
		return nil, err
	}
	return p, nil
}

func decodeCommitInfo(raw json.RawMessage) (Action, error) {
	var j commitInfoJSON
	if err := decodeInto("commitInfo", raw, &j); err != nil {
		return nil, err
	}
	ci := &CommitInfo{OperationParameters: j.OperationParameters}
	if j.Timestamp != nil {
		ci.Timestamp = *j.Timestamp
	}
	if j.Operation != nil {
		ci.Operation = *j.Operation
	}
	return ci, nil
}

func decodeSidecar(raw json.RawMessage) (Action, error) {
	var j sidecarJSON
	if err := decodeInto("sidecar", raw, &j); err != nil {
		return nil, err
	}
	if j.Path == nil {
		return nil, missing("sidecar", "path")
	}
	sc := &Sidecar{Path: *j.Path}
	if j.SizeInBytes != nil {
		sc.SizeInBytes = *j.SizeInBytes
	}
	if j.ModificationTime != nil {
		sc.ModificationTime = *j.ModificationTime
	}
	return sc, nil
}
