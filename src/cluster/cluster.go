// Package cluster models the topology of a store cluster: the set of nodes
// holding store data, their ids, and the addresses of their admin and HTTP
// endpoints.
package cluster

import (
	"fmt"
	"sort"
)

// Node describes one storage node in the cluster.
type Node struct {
	// ID is the node's unique id. Node ids are assigned by the cluster
	// operator and never reused.
	ID int `json:"id"`

	// Host is the node's hostname, used for display only.
	Host string `json:"host"`

	// AdminAddr is the address:port of the node's admin listener.
	AdminAddr string `json:"admin_addr"`

	// HTTPAddr is the address:port of the node's HTTP facade. It is empty
	// for nodes which only expose the admin listener.
	HTTPAddr string `json:"http_addr,omitempty"`
}

// NewNode instantiates a Node.
func NewNode(id int, host, adminAddr, httpAddr string) *Node {
	return &Node{
		ID:        id,
		Host:      host,
		AdminAddr: adminAddr,
		HTTPAddr:  httpAddr,
	}
}

func (n *Node) String() string {
	return fmt.Sprintf("Node %d (%s)", n.ID, n.Host)
}

// Cluster is an immutable set of nodes. Nodes is sorted by ascending id, and
// phase results are always reported in that order.
type Cluster struct {
	Nodes []*Node
	ByID  map[int]*Node
}

// NewCluster returns a Cluster from a list of nodes. It errors when two
// nodes carry the same id.
func NewCluster(nodes []*Node) (*Cluster, error) {
	sorted := make([]*Node, len(nodes))
	copy(sorted, nodes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	byID := make(map[int]*Node, len(sorted))
	for _, n := range sorted {
		if _, ok := byID[n.ID]; ok {
			return nil, fmt.Errorf("duplicate node id %d", n.ID)
		}
		byID[n.ID] = n
	}

	return &Cluster{
		Nodes: sorted,
		ByID:  byID,
	}, nil
}

// Len returns the number of nodes in the cluster.
func (c *Cluster) Len() int {
	return len(c.Nodes)
}

// IDs returns the node ids in ascending order.
func (c *Cluster) IDs() []int {
	ids := make([]int, len(c.Nodes))
	for i, n := range c.Nodes {
		ids[i] = n.ID
	}
	return ids
}

// URL returns the cluster's bootstrap URL, the admin address of the lowest
// numbered node. Lock implementations sanitize it to namespace their state
// per cluster.
func (c *Cluster) URL() string {
	if len(c.Nodes) == 0 {
		return ""
	}
	return "tcp://" + c.Nodes[0].AdminAddr
}
