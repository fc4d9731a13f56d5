package fetcher

import (
	"encoding/json"
)

// MetadataFileName is the name of the manifest written next to the data
// files of a version directory at build time.
const MetadataFileName = ".metadata"

// Metadata is the build manifest of a version directory. CheckSum is the
// hex digest aggregated over the per-file digests in file-name order.
type Metadata struct {
	Format       string `json:"format"`
	CheckSumType string `json:"checksum_type"`
	CheckSum     string `json:"checksum"`
}

// ParseMetadata decodes a manifest file.
func ParseMetadata(b []byte) (*Metadata, error) {
	m := &Metadata{}
	if err := json.Unmarshal(b, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Bytes encodes the manifest. It is used by build tooling and tests.
func (m *Metadata) Bytes() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}
