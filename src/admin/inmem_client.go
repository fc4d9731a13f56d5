package admin

import (
	"fmt"
	"sync"
	"time"
)

// InmemClient routes admin operations straight to in-process Handlers,
// without any network. It is used by tests and by single-process
// deployments where orchestrator and nodes share a binary.
type InmemClient struct {
	l        sync.RWMutex
	handlers map[int]*Handler
}

// NewInmemClient instantiates an empty InmemClient.
func NewInmemClient() *InmemClient {
	return &InmemClient{
		handlers: make(map[int]*Handler),
	}
}

// AddNode registers the Handler serving a node id.
func (c *InmemClient) AddNode(nodeID int, handler *Handler) {
	c.l.Lock()
	defer c.l.Unlock()

	c.handlers[nodeID] = handler
}

func (c *InmemClient) handler(nodeID int) (*Handler, error) {
	c.l.RLock()
	defer c.l.RUnlock()

	h, ok := c.handlers[nodeID]
	if !ok {
		return nil, fmt.Errorf("unknown node %d", nodeID)
	}
	return h, nil
}

// FetchStore implements the Client interface. The timeout is ignored;
// in-process fetches are bounded by the caller.
func (c *InmemClient) FetchStore(nodeID int, storeName, storeDir string, pushVersion int64, timeout time.Duration) (string, error) {
	h, err := c.handler(nodeID)
	if err != nil {
		return "", err
	}
	return h.FetchStore(storeName, storeDir, pushVersion)
}

// SwapStore implements the Client interface.
func (c *InmemClient) SwapStore(nodeID int, storeName, path string) (string, error) {
	h, err := c.handler(nodeID)
	if err != nil {
		return "", err
	}
	return h.SwapStore(storeName, path)
}

// RollbackStore implements the Client interface.
func (c *InmemClient) RollbackStore(nodeID int, storeName string, pushVersion int64) error {
	h, err := c.handler(nodeID)
	if err != nil {
		return err
	}
	return h.RollbackStore(storeName, pushVersion)
}

// FailedFetchStore implements the Client interface.
func (c *InmemClient) FailedFetchStore(nodeID int, storeName, path string) error {
	h, err := c.handler(nodeID)
	if err != nil {
		return err
	}
	return h.FailedFetchStore(storeName, path)
}

// DisableStoreVersion implements the Client interface.
func (c *InmemClient) DisableStoreVersion(nodeID int, storeName string, pushVersion int64) error {
	h, err := c.handler(nodeID)
	if err != nil {
		return err
	}
	return h.DisableStoreVersion(storeName, pushVersion)
}

// GetCurrentVersion implements the Client interface.
func (c *InmemClient) GetCurrentVersion(nodeID int, storeName string) (int64, error) {
	h, err := c.handler(nodeID)
	if err != nil {
		return 0, err
	}
	return h.GetCurrentVersion(storeName)
}

// Close implements the Client interface.
func (c *InmemClient) Close() error {
	return nil
}
