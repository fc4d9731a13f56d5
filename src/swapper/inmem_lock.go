package swapper

import (
	"fmt"
	"sync"
	"time"
)

// InmemFailedFetchLock implements FailedFetchLock in memory. It only
// coordinates goroutines within one process; it is meant for testing.
type InmemFailedFetchLock struct {
	token chan struct{}

	l        sync.Mutex
	disabled map[int]*DisabledNodeRecord
}

func NewInmemFailedFetchLock() *InmemFailedFetchLock {
	return &InmemFailedFetchLock{
		token:    make(chan struct{}, 1),
		disabled: make(map[int]*DisabledNodeRecord),
	}
}

func (i *InmemFailedFetchLock) AcquireLock() error {
	i.token <- struct{}{}
	return nil
}

func (i *InmemFailedFetchLock) ReleaseLock() error {
	select {
	case <-i.token:
		return nil
	default:
		return fmt.Errorf("lock not held")
	}
}

func (i *InmemFailedFetchLock) GetDisabledNodes() (map[int]bool, error) {
	i.l.Lock()
	defer i.l.Unlock()

	nodes := make(map[int]bool, len(i.disabled))
	for id := range i.disabled {
		nodes[id] = true
	}
	return nodes, nil
}

func (i *InmemFailedFetchLock) AddDisabledNode(nodeID int, storeName string, storeVersion int64, details string) error {
	i.l.Lock()
	defer i.l.Unlock()

	i.disabled[nodeID] = &DisabledNodeRecord{
		NodeID:       nodeID,
		StoreName:    storeName,
		StoreVersion: storeVersion,
		Details:      details,
		Time:         time.Now().UTC(),
	}
	return nil
}

func (i *InmemFailedFetchLock) Close() error {
	return nil
}
