package swapper

import (
	"fmt"
	"sort"
	"strings"
)

// RecoverableFailedFetchError reports a push whose fetch phase failed on
// some nodes but was salvaged by a recovery strategy. The swap phase still
// ran on the remaining nodes, so the new version is live; the error is
// returned anyway so that callers notice the push was not clean.
type RecoverableFailedFetchError struct {
	StoreName   string
	PushVersion int64
	Failures    map[int]error
}

func (e *RecoverableFailedFetchError) Error() string {
	return fmt.Sprintf("fetch of store %s version %d failed on %s; swap proceeded on the remaining nodes",
		e.StoreName, e.PushVersion, formatNodeErrors(e.Failures))
}

// FailedNodes returns the failed node ids in ascending order.
func (e *RecoverableFailedFetchError) FailedNodes() []int {
	return sortedErrorNodes(e.Failures)
}

// UnrecoverableFailedFetchError reports a push whose fetch phase failed
// and no strategy accepted the failure. The swap phase never ran.
type UnrecoverableFailedFetchError struct {
	StoreName   string
	PushVersion int64
	Failures    map[int]error
}

func (e *UnrecoverableFailedFetchError) Error() string {
	return fmt.Sprintf("fetch of store %s version %d failed on %s; no recovery strategy accepted the failure",
		e.StoreName, e.PushVersion, formatNodeErrors(e.Failures))
}

// FailedNodes returns the failed node ids in ascending order.
func (e *UnrecoverableFailedFetchError) FailedNodes() []int {
	return sortedErrorNodes(e.Failures)
}

// SwapError reports nodes that failed the swap phase. RolledBack lists the
// nodes that swapped successfully and were then reverted to their previous
// version.
type SwapError struct {
	StoreName   string
	PushVersion int64
	Failures    map[int]error
	RolledBack  []int
}

func (e *SwapError) Error() string {
	msg := fmt.Sprintf("swap of store %s version %d failed on %s",
		e.StoreName, e.PushVersion, formatNodeErrors(e.Failures))
	if len(e.RolledBack) > 0 {
		msg += fmt.Sprintf("; rolled back nodes %v", e.RolledBack)
	}
	return msg
}

// FailedNodes returns the failed node ids in ascending order.
func (e *SwapError) FailedNodes() []int {
	return sortedErrorNodes(e.Failures)
}

// RollbackError reports nodes that failed a cluster-wide rollback.
type RollbackError struct {
	StoreName   string
	PushVersion int64
	Failures    map[int]error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of store %s to version %d failed on %s",
		e.StoreName, e.PushVersion, formatNodeErrors(e.Failures))
}

// FailedNodes returns the failed node ids in ascending order.
func (e *RollbackError) FailedNodes() []int {
	return sortedErrorNodes(e.Failures)
}

// IsRecoverable reports whether err is the deferred error of a push that
// still swapped. Callers typically log it and exit non-zero without
// treating the store as broken.
func IsRecoverable(err error) bool {
	_, ok := err.(*RecoverableFailedFetchError)
	return ok
}

func formatNodeErrors(failures map[int]error) string {
	parts := make([]string, 0, len(failures))
	for _, id := range sortedErrorNodes(failures) {
		parts = append(parts, fmt.Sprintf("node %d: %v", id, failures[id]))
	}
	return strings.Join(parts, "; ")
}

func sortedErrorNodes(m map[int]error) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

func sortedResultNodes(m map[int]string) []int {
	ids := make([]int, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}
