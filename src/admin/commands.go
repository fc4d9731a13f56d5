package admin

const (
	rpcFetch uint8 = iota
	rpcSwap
	rpcRollback
	rpcFailedFetch
	rpcDisableVersion
	rpcCurrentVersion
)

// FetchRequest asks a node to pull one version directory from the source
// file system into its local store.
type FetchRequest struct {
	StoreName   string
	StoreDir    string
	PushVersion int64
}

// FetchResponse returns the local path of the fetched directory.
type FetchResponse struct {
	Path string
}

// SwapRequest asks a node to start serving the version at Path.
type SwapRequest struct {
	StoreName string
	Path      string
}

// SwapResponse returns the path of the previously served version, empty
// when the store had none.
type SwapResponse struct {
	PreviousDir string
}

// RollbackRequest asks a node to serve an older version again.
type RollbackRequest struct {
	StoreName   string
	PushVersion int64
}

// RollbackResponse is empty; success travels in the error frame.
type RollbackResponse struct{}

// FailedFetchRequest tells a node that the push failed and the data
// fetched to Path should be discarded.
type FailedFetchRequest struct {
	StoreName string
	Path      string
}

// FailedFetchResponse is empty.
type FailedFetchResponse struct{}

// DisableVersionRequest asks a node to mark a version as disabled.
type DisableVersionRequest struct {
	StoreName   string
	PushVersion int64
}

// DisableVersionResponse is empty.
type DisableVersionResponse struct{}

// CurrentVersionRequest asks a node which version of a store it serves.
type CurrentVersionRequest struct {
	StoreName string
}

// CurrentVersionResponse carries the current version id, -1 when the store
// has never been swapped.
type CurrentVersionResponse struct {
	Version int64
}
