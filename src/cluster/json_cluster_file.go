package cluster

import (
	"encoding/json"
	"os"
	"sync"
)

// JSONClusterFile is used to read and write a cluster topology from/to a
// JSON file.
type JSONClusterFile struct {
	l    sync.Mutex
	path string
}

// NewJSONClusterFile creates a new JSONClusterFile from a file path.
func NewJSONClusterFile(path string) *JSONClusterFile {
	return &JSONClusterFile{path: path}
}

// Cluster reads the file and parses it into a Cluster.
func (j *JSONClusterFile) Cluster() (*Cluster, error) {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := os.ReadFile(j.path)
	if err != nil {
		return nil, err
	}

	var nodes []*Node
	if err := json.Unmarshal(buf, &nodes); err != nil {
		return nil, err
	}

	return NewCluster(nodes)
}

// Write persists a list of nodes to the file.
func (j *JSONClusterFile) Write(nodes []*Node) error {
	j.l.Lock()
	defer j.l.Unlock()

	buf, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(j.path, buf, 0644)
}
