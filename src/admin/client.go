// Package admin contains the control plane of a store cluster: the client
// used by orchestrators to drive version operations on nodes, the node-side
// server executing them, and an in-memory variant wiring both together for
// tests and single-process deployments.
package admin

import (
	"time"
)

// Client executes version operations on the nodes of a cluster. All
// methods are safe for concurrent use; the push orchestrator calls them
// from one goroutine per node.
type Client interface {
	// FetchStore makes a node fetch the version directory at storeDir.
	// It blocks until the transfer finishes, bounded by timeout when
	// timeout is positive, and returns the node-local path of the
	// fetched directory.
	FetchStore(nodeID int, storeName, storeDir string, pushVersion int64, timeout time.Duration) (string, error)

	// SwapStore makes a node serve the version at path and returns the
	// path of the previously served version.
	SwapStore(nodeID int, storeName, path string) (string, error)

	// RollbackStore makes a node serve pushVersion again.
	RollbackStore(nodeID int, storeName string, pushVersion int64) error

	// FailedFetchStore tells a node to discard the data fetched to path
	// after the push failed on another node.
	FailedFetchStore(nodeID int, storeName, path string) error

	// DisableStoreVersion marks pushVersion as disabled on a node.
	DisableStoreVersion(nodeID int, storeName string, pushVersion int64) error

	// GetCurrentVersion returns the version a node currently serves,
	// -1 when the store has never been swapped.
	GetCurrentVersion(nodeID int, storeName string) (int64, error)

	// Close releases the client's connections.
	Close() error
}
