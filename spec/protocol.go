package spec

// MaxReaderVersion is the highest minReaderVersion this engine reads.
const MaxReaderVersion = 3

// Reader features.
const (
	FeatureColumnMapping       = "columnMapping"
	FeatureDeletionVectors     = "deletionVectors"
	FeatureTimestampNtz        = "timestampNtz"
	FeatureTypeWidening        = "typeWidening"
	FeatureTypeWideningPreview = "typeWidening-preview"
	FeatureV2Checkpoint        = "v2Checkpoint"
	FeatureVacuumProtocolCheck = "vacuumProtocolCheck"
)

// ColumnMappingModeKey is the table property selecting physical column names.
const ColumnMappingModeKey = "delta.columnMapping.mode"

var supportedReaderFeatures = map[string]bool{
	FeatureTimestampNtz:        true,
	FeatureTypeWidening:        true,
	FeatureTypeWideningPreview: true,
	FeatureV2Checkpoint:        true,
	FeatureVacuumProtocolCheck: true,
}

// HasReaderFeature reports whether the protocol lists the given reader feature.
func (p *Protocol) HasReaderFeature(name string) bool {
	for _, f := range p.ReaderFeatures {
		if f == name {
			return true
		}
	}
	return false
}

// CheckReadSupport fails with an *UnsupportedProtocolError when the protocol
// requires something this engine does not implement. v2Checkpoint is accepted
// here; the sidecar files it may introduce are rejected when encountered.
func (p *Protocol) CheckReadSupport() error {
	if p.MinReaderVersion > MaxReaderVersion {
		return &UnsupportedProtocolError{ReaderVersion: p.MinReaderVersion}
	}
	for _, f := range p.ReaderFeatures {
		if !supportedReaderFeatures[f] {
			return &UnsupportedProtocolError{Feature: f, ReaderVersion: p.MinReaderVersion}
		}
	}
	return nil
}

// CheckMetadataSupport fails when the table configuration needs a reader
// capability this engine lacks, such as column mapping enabled on a reader
// version 2 table.
func CheckMetadataSupport(m *Metadata) error {
	switch m.Configuration[ColumnMappingModeKey] {
	case "", "none":
		return nil
	default:
		return &UnsupportedProtocolError{Feature: FeatureColumnMapping}
	}
}
