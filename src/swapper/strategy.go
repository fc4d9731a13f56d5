package swapper

import (
	"fmt"
	"strings"

	"github.com/mosaicnetworks/convoy/src/admin"
	"github.com/sirupsen/logrus"
)

// DefaultMaxNodeFailures bounds how many failed nodes
// DisableFailedOnlyStrategy tolerates.
const DefaultMaxNodeFailures = 1

// FailedFetchStrategy decides whether a push whose fetch phase failed on
// some nodes may still proceed to the swap phase. DealWithIt receives the
// per-node outcome of the fetch phase, keyed by node id, and returns true
// once it has made the swap safe, performing whatever compensation that
// takes. An error does not abort the push; the orchestrator logs it and
// consults the next strategy in the chain.
type FailedFetchStrategy interface {
	DealWithIt(storeName string, pushVersion int64, results map[int]string, failures map[int]error) (bool, error)
	String() string
}

// NoOpStrategy never recovers. It is the default policy: a push with any
// failed fetch fails.
type NoOpStrategy struct{}

func NewNoOpStrategy() *NoOpStrategy {
	return &NoOpStrategy{}
}

func (s *NoOpStrategy) DealWithIt(storeName string, pushVersion int64, results map[int]string, failures map[int]error) (bool, error) {
	return false, nil
}

func (s *NoOpStrategy) String() string {
	return "noop"
}

// DeleteAllStrategy cleans up after a doomed push: every node that did
// fetch successfully is told to delete the fetched version so no orphaned
// data is left on disk. Deletion is cleanup, not recovery, so the strategy
// never accepts the failure.
type DeleteAllStrategy struct {
	client admin.Client
	logger *logrus.Entry
}

func NewDeleteAllStrategy(client admin.Client, logger *logrus.Entry) *DeleteAllStrategy {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &DeleteAllStrategy{
		client: client,
		logger: logger,
	}
}

func (s *DeleteAllStrategy) DealWithIt(storeName string, pushVersion int64, results map[int]string, failures map[int]error) (bool, error) {
	deleteFailures := make(map[int]error)

	for _, nodeID := range sortedResultNodes(results) {
		s.logger.WithFields(logrus.Fields{
			"node":         nodeID,
			"store":        storeName,
			"push_version": pushVersion,
		}).Info("Deleting fetched version")

		if err := s.client.FailedFetchStore(nodeID, storeName, results[nodeID]); err != nil {
			s.logger.WithFields(logrus.Fields{
				"node":  nodeID,
				"error": err,
			}).Error("Deleting fetched version")
			deleteFailures[nodeID] = err
		}
	}

	if len(deleteFailures) > 0 {
		return false, fmt.Errorf("deleting fetched data failed on %s", formatNodeErrors(deleteFailures))
	}

	return false, nil
}

func (s *DeleteAllStrategy) String() string {
	return "delete-all"
}

// DisableFailedOnlyStrategy recovers a push when only a small minority of
// nodes failed to fetch. The pushed version is disabled on each failed
// node, so it keeps serving its previous version, and the swap proceeds on
// the rest. The shared lock, when configured, counts nodes disabled by
// earlier runs against the same budget so that repeated pushes cannot
// disable the cluster one node at a time.
type DisableFailedOnlyStrategy struct {
	client      admin.Client
	lock        FailedFetchLock
	maxFailures int
	logger      *logrus.Entry
}

// NewDisableFailedOnlyStrategy builds the strategy. lock may be nil when
// only one push process targets the cluster. maxFailures <= 0 selects
// DefaultMaxNodeFailures.
func NewDisableFailedOnlyStrategy(client admin.Client, lock FailedFetchLock, maxFailures int, logger *logrus.Entry) *DisableFailedOnlyStrategy {
	if maxFailures <= 0 {
		maxFailures = DefaultMaxNodeFailures
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &DisableFailedOnlyStrategy{
		client:      client,
		lock:        lock,
		maxFailures: maxFailures,
		logger:      logger,
	}
}

func (s *DisableFailedOnlyStrategy) DealWithIt(storeName string, pushVersion int64, results map[int]string, failures map[int]error) (bool, error) {
	if len(failures) == 0 {
		return true, nil
	}

	disabled := map[int]bool{}
	if s.lock != nil {
		if err := s.lock.AcquireLock(); err != nil {
			return false, fmt.Errorf("acquiring failed-fetch lock: %v", err)
		}
		defer func() {
			if err := s.lock.ReleaseLock(); err != nil {
				s.logger.WithField("error", err).Error("Releasing failed-fetch lock")
			}
		}()

		var err error
		disabled, err = s.lock.GetDisabledNodes()
		if err != nil {
			return false, fmt.Errorf("reading disabled nodes: %v", err)
		}
	}

	affected := make(map[int]bool, len(disabled)+len(failures))
	for id := range disabled {
		affected[id] = true
	}
	for id := range failures {
		affected[id] = true
	}

	if len(affected) > s.maxFailures {
		s.logger.WithFields(logrus.Fields{
			"store":        storeName,
			"push_version": pushVersion,
			"affected":     len(affected),
			"max_failures": s.maxFailures,
		}).Warn("Too many failed nodes to disable")
		return false, nil
	}

	for _, nodeID := range sortedErrorNodes(failures) {
		s.logger.WithFields(logrus.Fields{
			"node":         nodeID,
			"store":        storeName,
			"push_version": pushVersion,
		}).Warn("Disabling pushed version on failed node")

		if err := s.client.DisableStoreVersion(nodeID, storeName, pushVersion); err != nil {
			return false, fmt.Errorf("disabling version %d on node %d: %v", pushVersion, nodeID, err)
		}

		if s.lock != nil {
			if err := s.lock.AddDisabledNode(nodeID, storeName, pushVersion, failures[nodeID].Error()); err != nil {
				return false, fmt.Errorf("recording disabled node %d: %v", nodeID, err)
			}
		}
	}

	return true, nil
}

func (s *DisableFailedOnlyStrategy) String() string {
	return "disable-failed"
}

// StrategyFromName builds the strategy selected on the command line. Known
// names are "noop", "delete-all" and "disable-failed".
func StrategyFromName(name string, client admin.Client, lock FailedFetchLock, maxFailures int, logger *logrus.Entry) (FailedFetchStrategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "noop":
		return NewNoOpStrategy(), nil
	case "delete-all":
		return NewDeleteAllStrategy(client, logger), nil
	case "disable-failed":
		return NewDisableFailedOnlyStrategy(client, lock, maxFailures, logger), nil
	default:
		return nil, fmt.Errorf("unknown failed-fetch strategy %q", name)
	}
}
