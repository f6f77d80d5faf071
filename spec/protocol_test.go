package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProtocolCheckReadSupport(t *testing.T) {
	tests := []struct {
		name     string
		protocol Protocol
		wantErr  bool
	}{
		{"legacy reader", Protocol{MinReaderVersion: 1, MinWriterVersion: 2}, false},
		{"reader v2", Protocol{MinReaderVersion: 2, MinWriterVersion: 5}, false},
		{"supported features", Protocol{MinReaderVersion: 3, MinWriterVersion: 7, ReaderFeatures: []string{
			FeatureTimestampNtz, FeatureTypeWidening, FeatureTypeWideningPreview, FeatureVacuumProtocolCheck, FeatureV2Checkpoint,
		}}, false},
		{"deletion vectors", Protocol{MinReaderVersion: 3, MinWriterVersion: 7, ReaderFeatures: []string{FeatureDeletionVectors}}, true},
		{"column mapping", Protocol{MinReaderVersion: 3, MinWriterVersion: 7, ReaderFeatures: []string{FeatureColumnMapping}}, true},
		{"reader v4", Protocol{MinReaderVersion: 4, MinWriterVersion: 7}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.protocol.CheckReadSupport()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedProtocol)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCheckMetadataSupport(t *testing.T) {
	assert.NoError(t, CheckMetadataSupport(&Metadata{}))
	assert.NoError(t, CheckMetadataSupport(&Metadata{Configuration: map[string]string{ColumnMappingModeKey: "none"}}))
	assert.ErrorIs(t, CheckMetadataSupport(&Metadata{Configuration: map[string]string{ColumnMappingModeKey: "name"}}), ErrUnsupportedProtocol)
}
