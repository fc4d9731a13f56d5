package swapper

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/mosaicnetworks/convoy/src/cluster"
	"github.com/sirupsen/logrus"
	"github.com/ugorji/go/codec"
)

const disabledKeyPrefix = "disabled_"

const (
	// DefaultLockAttempts is how many times AcquireLock tries to open the
	// database before giving up.
	DefaultLockAttempts = 20

	// DefaultLockRetryDelay is the pause between acquisition attempts.
	DefaultLockRetryDelay = 500 * time.Millisecond
)

// BadgerFailedFetchLock implements FailedFetchLock on a Badger database in
// a directory shared between push processes, typically a network mount.
// Badger takes an exclusive flock on its directory when opened, which is
// what gives us cross-process mutual exclusion: AcquireLock opens the
// database, retrying while another process holds it, and ReleaseLock
// closes it. The disabled-node registry lives in the same database, so it
// can only be read or written while the lock is held.
type BadgerFailedFetchLock struct {
	dir        string
	attempts   int
	retryDelay time.Duration
	logger     *logrus.Entry

	l  sync.Mutex
	db *badger.DB
}

// NewBadgerFailedFetchLock prepares a lock under lockDir. The clusterURL
// is sanitized into a path token so that each cluster gets its own lock
// and registry.
func NewBadgerFailedFetchLock(lockDir, clusterURL string, logger *logrus.Entry) (*BadgerFailedFetchLock, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}

	clusterID, err := cluster.SanitizeURL(clusterURL)
	if err != nil {
		return nil, err
	}

	dir := filepath.Join(lockDir, clusterID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	return &BadgerFailedFetchLock{
		dir:        dir,
		attempts:   DefaultLockAttempts,
		retryDelay: DefaultLockRetryDelay,
		logger:     logger.WithField("lock_dir", dir),
	}, nil
}

// Dir returns the directory backing the lock.
func (b *BadgerFailedFetchLock) Dir() string {
	return b.dir
}

func (b *BadgerFailedFetchLock) AcquireLock() error {
	b.l.Lock()
	defer b.l.Unlock()

	if b.db != nil {
		return fmt.Errorf("lock already held")
	}

	opts := badger.DefaultOptions(b.dir).
		WithLogger(nil).
		WithSyncWrites(true)

	var err error
	for attempt := 1; attempt <= b.attempts; attempt++ {
		var db *badger.DB
		db, err = badger.Open(opts)
		if err == nil {
			b.db = db
			return nil
		}

		b.logger.WithFields(logrus.Fields{
			"attempt": attempt,
			"error":   err,
		}).Debug("Lock busy")

		if attempt < b.attempts {
			time.Sleep(b.retryDelay)
		}
	}

	return fmt.Errorf("acquiring lock %s: %v", b.dir, err)
}

func (b *BadgerFailedFetchLock) ReleaseLock() error {
	b.l.Lock()
	defer b.l.Unlock()

	if b.db == nil {
		return fmt.Errorf("lock not held")
	}

	err := b.db.Close()
	b.db = nil
	return err
}

func (b *BadgerFailedFetchLock) GetDisabledNodes() (map[int]bool, error) {
	b.l.Lock()
	defer b.l.Unlock()

	if b.db == nil {
		return nil, fmt.Errorf("lock not held")
	}

	nodes := make(map[int]bool)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(disabledKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			val, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}

			record := new(DisabledNodeRecord)
			if err := codec.NewDecoderBytes(val, jsonHandle).Decode(record); err != nil {
				return err
			}
			nodes[record.NodeID] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return nodes, nil
}

func (b *BadgerFailedFetchLock) AddDisabledNode(nodeID int, storeName string, storeVersion int64, details string) error {
	b.l.Lock()
	defer b.l.Unlock()

	if b.db == nil {
		return fmt.Errorf("lock not held")
	}

	record := DisabledNodeRecord{
		NodeID:       nodeID,
		StoreName:    storeName,
		StoreVersion: storeVersion,
		Details:      details,
		Time:         time.Now().UTC(),
	}

	var buf []byte
	if err := codec.NewEncoderBytes(&buf, jsonHandle).Encode(record); err != nil {
		return err
	}

	key := []byte(fmt.Sprintf("%s%d_%s_%d", disabledKeyPrefix, nodeID, storeName, storeVersion))

	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, buf)
	})
}

// Close releases the lock if it is still held.
func (b *BadgerFailedFetchLock) Close() error {
	b.l.Lock()
	held := b.db != nil
	b.l.Unlock()

	if !held {
		return nil
	}
	return b.ReleaseLock()
}
