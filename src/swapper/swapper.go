// Package swapper drives a store push across a cluster: a parallel fetch
// phase that lands the new version on every node, an optional recovery
// step when some fetches fail, and a parallel swap phase that makes the
// new version current everywhere.
package swapper

import (
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mosaicnetworks/convoy/src/admin"
	"github.com/mosaicnetworks/convoy/src/cluster"
	"github.com/mosaicnetworks/convoy/src/hooks"
	"github.com/mosaicnetworks/convoy/src/registry"
	"github.com/sirupsen/logrus"
)

// StoreSwapper coordinates pushes against one cluster. The admin.Client
// carries the actual node operations, so the same orchestration runs over
// the admin wire protocol, plain HTTP, or in-process handlers.
//
// One StoreSwapper run owns its result maps exclusively; running two
// pushes for the same store and version concurrently is not defended
// against here and is the caller's responsibility to avoid.
type StoreSwapper struct {
	cluster            *cluster.Cluster
	client             admin.Client
	fetchTimeout       time.Duration
	strategies         []FailedFetchStrategy
	rollbackFailedSwap bool
	logger             *logrus.Entry

	hooks             []hooks.Hook
	heartbeatInterval time.Duration
}

// NewStoreSwapper builds a StoreSwapper. fetchTimeout bounds each node's
// fetch call; there is no orchestrator-level timeout on top of it.
// strategies are consulted in order when fetches fail; nil or empty means
// never recover. When rollbackFailedSwap is set, a partial swap failure
// reverts the nodes that did swap to their previous version.
func NewStoreSwapper(
	c *cluster.Cluster,
	client admin.Client,
	fetchTimeout time.Duration,
	strategies []FailedFetchStrategy,
	rollbackFailedSwap bool,
	logger *logrus.Entry,
) *StoreSwapper {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &StoreSwapper{
		cluster:            c,
		client:             client,
		fetchTimeout:       fetchTimeout,
		strategies:         strategies,
		rollbackFailedSwap: rollbackFailedSwap,
		logger:             logger,
	}
}

// AddHook registers a lifecycle hook. Hooks are invoked synchronously and
// best effort.
func (s *StoreSwapper) AddHook(h hooks.Hook) {
	s.hooks = append(s.hooks, h)
}

// SetHeartbeatInterval enables periodic heartbeat hook invocations while a
// push is in flight. Zero disables them.
func (s *StoreSwapper) SetHeartbeatInterval(d time.Duration) {
	s.heartbeatInterval = d
}

// PushVersion fetches version pushVersion of storeName onto every node and,
// once the whole fetch phase has resolved, swaps it in as the current
// version. Each node fetches from sourceBasePath + "/node-<id>". The fetch
// phase is a full barrier: no node swaps until every node's fetch has
// finished, successfully or not.
//
// When some nodes fail to fetch, the configured strategies are consulted
// in order. If one accepts the failure, the swap still runs on the nodes
// that fetched successfully and PushVersion returns a
// *RecoverableFailedFetchError afterwards, so the caller knows the push
// was not clean. Otherwise PushVersion returns an
// *UnrecoverableFailedFetchError and no node is swapped.
func (s *StoreSwapper) PushVersion(storeName, sourceBasePath string, pushVersion int64) error {
	s.invokeHooks(hooks.Starting, fmt.Sprintf("pushing store %s version %d", storeName, pushVersion))
	defer s.invokeHooks(hooks.Finished, fmt.Sprintf("push of store %s version %d finished", storeName, pushVersion))

	stopHeartbeat := s.startHeartbeat(storeName, pushVersion)
	defer stopHeartbeat()

	s.invokeHooks(hooks.Pushing, fmt.Sprintf("fetching on %d nodes", s.cluster.Len()))

	results, failures := s.invokeFetch(storeName, sourceBasePath, pushVersion)

	var recoverable *RecoverableFailedFetchError
	if len(failures) > 0 {
		for _, id := range sortedErrorNodes(failures) {
			s.logger.WithFields(logrus.Fields{
				"node":  id,
				"error": failures[id],
			}).Error("Fetch failed")
		}

		if !s.runStrategies(storeName, pushVersion, results, failures) {
			err := &UnrecoverableFailedFetchError{
				StoreName:   storeName,
				PushVersion: pushVersion,
				Failures:    failures,
			}
			s.invokeHooks(hooks.Failed, err.Error())
			return err
		}

		recoverable = &RecoverableFailedFetchError{
			StoreName:   storeName,
			PushVersion: pushVersion,
			Failures:    failures,
		}
	}

	if err := s.invokeSwap(storeName, pushVersion, results); err != nil {
		s.invokeHooks(hooks.Failed, err.Error())
		return err
	}

	if recoverable != nil {
		s.invokeHooks(hooks.SwappedWithFailures, recoverable.Error())
		return recoverable
	}

	s.invokeHooks(hooks.Swapped,
		fmt.Sprintf("store %s version %d is current on %d nodes", storeName, pushVersion, s.cluster.Len()))
	return nil
}

// Rollback reverts every node in the cluster to pushVersion. Nodes are
// rolled back independently; a failure on one node does not stop the
// others. When any node fails, Rollback returns a *RollbackError naming
// all of them.
func (s *StoreSwapper) Rollback(storeName string, pushVersion int64) error {
	failures := make(map[int]error)

	for _, n := range s.cluster.Nodes {
		s.logger.WithFields(logrus.Fields{
			"node":         n.ID,
			"store":        storeName,
			"push_version": pushVersion,
		}).Info("Rolling back")

		if err := s.client.RollbackStore(n.ID, storeName, pushVersion); err != nil {
			s.logger.WithFields(logrus.Fields{
				"node":  n.ID,
				"error": err,
			}).Error("Rollback failed")
			failures[n.ID] = err
		}
	}

	if len(failures) > 0 {
		return &RollbackError{
			StoreName:   storeName,
			PushVersion: pushVersion,
			Failures:    failures,
		}
	}
	return nil
}

// invokeFetch runs the fetch phase. One goroutine per node calls the fetch
// operation; each goroutine writes its own node id's slot, so the maps
// only need a mutex for the concurrent inserts. The call returns only
// after every node has resolved.
func (s *StoreSwapper) invokeFetch(storeName, sourceBasePath string, pushVersion int64) (map[int]string, map[int]error) {
	s.logger.WithFields(logrus.Fields{
		"store":        storeName,
		"source":       sourceBasePath,
		"push_version": pushVersion,
		"nodes":        s.cluster.Len(),
	}).Info("Starting fetch phase")

	results := make(map[int]string)
	failures := make(map[int]error)

	var l sync.Mutex
	var wg sync.WaitGroup

	for _, n := range s.cluster.Nodes {
		wg.Add(1)
		go func(n *cluster.Node) {
			defer wg.Done()

			dir := fmt.Sprintf("%s/node-%d", sourceBasePath, n.ID)

			path, err := s.client.FetchStore(n.ID, storeName, dir, pushVersion, s.fetchTimeout)
			if err == nil && strings.TrimSpace(path) == "" {
				err = fmt.Errorf("fetch returned no path")
			}

			l.Lock()
			defer l.Unlock()

			if err != nil {
				failures[n.ID] = err
				return
			}
			results[n.ID] = strings.TrimSpace(path)
		}(n)
	}

	wg.Wait()

	for _, id := range sortedResultNodes(results) {
		s.logger.WithFields(logrus.Fields{
			"node": id,
			"path": results[id],
		}).Info("Fetch succeeded")
	}

	return results, failures
}

// runStrategies consults the chain in order. The first strategy to accept
// the failure wins; a strategy error is logged and the next one is tried.
func (s *StoreSwapper) runStrategies(storeName string, pushVersion int64, results map[int]string, failures map[int]error) bool {
	for _, strategy := range s.strategies {
		logger := s.logger.WithField("strategy", strategy.String())
		logger.Info("Consulting failed-fetch strategy")

		ok, err := strategy.DealWithIt(storeName, pushVersion, results, failures)
		if err != nil {
			logger.WithField("error", err).Error("Failed-fetch strategy failed")
			continue
		}
		if ok {
			logger.Info("Strategy accepted the failure, proceeding to swap")
			return true
		}
	}
	return false
}

// invokeSwap runs the swap phase over the nodes that fetched successfully.
// Like the fetch phase it is a full barrier.
func (s *StoreSwapper) invokeSwap(storeName string, pushVersion int64, results map[int]string) error {
	s.logger.WithFields(logrus.Fields{
		"store": storeName,
		"nodes": len(results),
	}).Info("Starting swap phase")

	previous := make(map[int]string)
	failures := make(map[int]error)

	var l sync.Mutex
	var wg sync.WaitGroup

	for id, path := range results {
		wg.Add(1)
		go func(id int, path string) {
			defer wg.Done()

			prev, err := s.client.SwapStore(id, storeName, path)

			l.Lock()
			defer l.Unlock()

			if err != nil {
				failures[id] = err
				return
			}
			previous[id] = prev
		}(id, path)
	}

	wg.Wait()

	for _, id := range sortedResultNodes(previous) {
		s.logger.WithFields(logrus.Fields{
			"node":     id,
			"previous": previous[id],
		}).Info("Swap succeeded")
	}

	if len(failures) == 0 {
		return nil
	}

	for _, id := range sortedErrorNodes(failures) {
		s.logger.WithFields(logrus.Fields{
			"node":  id,
			"error": failures[id],
		}).Error("Swap failed")
	}

	swapErr := &SwapError{
		StoreName:   storeName,
		PushVersion: pushVersion,
		Failures:    failures,
	}

	if s.rollbackFailedSwap {
		swapErr.RolledBack = s.rollbackSwapped(storeName, previous)
	}

	return swapErr
}

// rollbackSwapped reverts nodes that already swapped to their pre-swap
// version. Best effort: failures are logged, not retried, and the swap
// error is returned to the caller either way.
func (s *StoreSwapper) rollbackSwapped(storeName string, previous map[int]string) []int {
	var rolledBack []int

	for _, id := range sortedResultNodes(previous) {
		prev := previous[id]
		if prev == "" {
			s.logger.WithField("node", id).Warn("No previous version to roll back to")
			continue
		}

		version, err := registry.ParseVersion(filepath.Base(prev))
		if err != nil {
			s.logger.WithFields(logrus.Fields{
				"node":     id,
				"previous": prev,
				"error":    err,
			}).Error("Cannot parse previous version")
			continue
		}

		s.logger.WithFields(logrus.Fields{
			"node":             id,
			"rollback_version": version,
		}).Warn("Rolling back swapped node")

		if err := s.client.RollbackStore(id, storeName, version); err != nil {
			s.logger.WithFields(logrus.Fields{
				"node":  id,
				"error": err,
			}).Error("Rollback failed")
			continue
		}

		rolledBack = append(rolledBack, id)
	}

	return rolledBack
}

func (s *StoreSwapper) invokeHooks(status hooks.Status, details string) {
	for _, h := range s.hooks {
		h.Invoke(status, details)
	}
}

// startHeartbeat emits periodic heartbeat hooks for the duration of a
// push, so an external tracker can tell a long fetch from a dead one. The
// returned function stops the ticker.
func (s *StoreSwapper) startHeartbeat(storeName string, pushVersion int64) func() {
	if s.heartbeatInterval <= 0 || len(s.hooks) == 0 {
		return func() {}
	}

	ticker := time.NewTicker(s.heartbeatInterval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.C:
				s.invokeHooks(hooks.Heartbeat,
					fmt.Sprintf("push of store %s version %d in progress", storeName, pushVersion))
			case <-done:
				return
			}
		}
	}()

	return func() {
		ticker.Stop()
		close(done)
	}
}
