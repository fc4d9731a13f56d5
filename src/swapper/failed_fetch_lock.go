package swapper

import (
	"time"

	"github.com/ugorji/go/codec"
)

// jsonHandle configures the codec used for disabled-node registry records.
var jsonHandle = &codec.JsonHandle{}

// FailedFetchLock coordinates recovery decisions between push processes
// targeting the same cluster, for example one push process per data
// center. Implementations provide cross-process mutual exclusion plus a
// durable registry of nodes disabled by earlier runs.
//
// AcquireLock blocks until the lock is obtained or the implementation
// gives up. Callers must release on every exit path.
type FailedFetchLock interface {
	AcquireLock() error
	ReleaseLock() error

	// GetDisabledNodes returns the ids of nodes recorded as disabled in
	// the shared registry.
	GetDisabledNodes() (map[int]bool, error)

	// AddDisabledNode durably records a disable decision so concurrent
	// and later runs can see it.
	AddDisabledNode(nodeID int, storeName string, storeVersion int64, details string) error

	Close() error
}

// DisabledNodeRecord is one entry in the shared disabled-node registry.
type DisabledNodeRecord struct {
	NodeID       int       `json:"node_id"`
	StoreName    string    `json:"store_name"`
	StoreVersion int64     `json:"store_version"`
	Details      string    `json:"details"`
	Time         time.Time `json:"time"`
}
