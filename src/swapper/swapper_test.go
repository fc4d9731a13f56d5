package swapper

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mosaicnetworks/convoy/src/admin"
	"github.com/mosaicnetworks/convoy/src/cluster"
	"github.com/mosaicnetworks/convoy/src/common"
	"github.com/mosaicnetworks/convoy/src/fetcher"
	"github.com/mosaicnetworks/convoy/src/hooks"
	"github.com/sirupsen/logrus"
)

// fakeClient scripts per-node outcomes for the orchestration tests and
// records every operation it receives.
type fakeClient struct {
	l sync.Mutex

	failFetch      map[int]error
	failSwap       map[int]error
	failRollback   map[int]error
	failDisable    map[int]error
	failDelete     map[int]error
	emptyFetchPath map[int]bool
	previous       map[int]string

	fetchDirs  map[int]string
	swapped    []int
	rolledBack map[int]int64
	disabled   map[int]int64
	deleted    []int
}

var _ admin.Client = (*fakeClient)(nil)

func newFakeClient() *fakeClient {
	return &fakeClient{
		failFetch:      map[int]error{},
		failSwap:       map[int]error{},
		failRollback:   map[int]error{},
		failDisable:    map[int]error{},
		failDelete:     map[int]error{},
		emptyFetchPath: map[int]bool{},
		previous:       map[int]string{},
		fetchDirs:      map[int]string{},
		rolledBack:     map[int]int64{},
		disabled:       map[int]int64{},
	}
}

func (c *fakeClient) FetchStore(nodeID int, storeName, storeDir string, pushVersion int64, timeout time.Duration) (string, error) {
	c.l.Lock()
	defer c.l.Unlock()

	c.fetchDirs[nodeID] = storeDir

	if err := c.failFetch[nodeID]; err != nil {
		return "", err
	}
	if c.emptyFetchPath[nodeID] {
		return "", nil
	}
	return fmt.Sprintf("/data/%s/version-%d", storeName, pushVersion), nil
}

func (c *fakeClient) SwapStore(nodeID int, storeName, path string) (string, error) {
	c.l.Lock()
	defer c.l.Unlock()

	if err := c.failSwap[nodeID]; err != nil {
		return "", err
	}
	c.swapped = append(c.swapped, nodeID)
	return c.previous[nodeID], nil
}

func (c *fakeClient) RollbackStore(nodeID int, storeName string, pushVersion int64) error {
	c.l.Lock()
	defer c.l.Unlock()

	if err := c.failRollback[nodeID]; err != nil {
		return err
	}
	c.rolledBack[nodeID] = pushVersion
	return nil
}

func (c *fakeClient) FailedFetchStore(nodeID int, storeName, path string) error {
	c.l.Lock()
	defer c.l.Unlock()

	if err := c.failDelete[nodeID]; err != nil {
		return err
	}
	c.deleted = append(c.deleted, nodeID)
	return nil
}

func (c *fakeClient) DisableStoreVersion(nodeID int, storeName string, pushVersion int64) error {
	c.l.Lock()
	defer c.l.Unlock()

	if err := c.failDisable[nodeID]; err != nil {
		return err
	}
	c.disabled[nodeID] = pushVersion
	return nil
}

func (c *fakeClient) GetCurrentVersion(nodeID int, storeName string) (int64, error) {
	return -1, nil
}

func (c *fakeClient) Close() error {
	return nil
}

func (c *fakeClient) swappedNodes() []int {
	c.l.Lock()
	defer c.l.Unlock()

	out := append([]int(nil), c.swapped...)
	sort.Ints(out)
	return out
}

func (c *fakeClient) deletedNodes() []int {
	c.l.Lock()
	defer c.l.Unlock()

	out := append([]int(nil), c.deleted...)
	sort.Ints(out)
	return out
}

func testCluster3(t *testing.T) *cluster.Cluster {
	c, err := cluster.NewCluster([]*cluster.Node{
		cluster.NewNode(0, "host0", "host0:6666", ""),
		cluster.NewNode(1, "host1", "host1:6666", ""),
		cluster.NewNode(2, "host2", "host2:6666", ""),
	})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	return c
}

func testSwapper(t *testing.T, client admin.Client, strategies []FailedFetchStrategy, rollbackFailedSwap bool) *StoreSwapper {
	return NewStoreSwapper(
		testCluster3(t),
		client,
		time.Second,
		strategies,
		rollbackFailedSwap,
		common.NewTestEntry(t, logrus.DebugLevel))
}

func TestPushVersionAllSucceed(t *testing.T) {
	client := newFakeClient()
	s := testSwapper(t, client, nil, false)

	if err := s.PushVersion("mystore", "/remote/mystore", 4); err != nil {
		t.Fatalf("err: %v", err)
	}

	if got := client.swappedNodes(); !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Fatalf("swapped => %v, expected [0 1 2]", got)
	}

	for id := 0; id < 3; id++ {
		expected := fmt.Sprintf("/remote/mystore/node-%d", id)
		if dir := client.fetchDirs[id]; dir != expected {
			t.Fatalf("fetch dir node %d => %q, expected %q", id, dir, expected)
		}
	}
}

func TestPushVersionNoStrategies(t *testing.T) {
	client := newFakeClient()
	client.failFetch[1] = fmt.Errorf("disk full")

	s := testSwapper(t, client, nil, false)

	err := s.PushVersion("mystore", "/remote/mystore", 4)
	uerr, ok := err.(*UnrecoverableFailedFetchError)
	if !ok {
		t.Fatalf("err => %T (%v), expected UnrecoverableFailedFetchError", err, err)
	}
	if !reflect.DeepEqual(uerr.FailedNodes(), []int{1}) {
		t.Fatalf("failed nodes => %v, expected [1]", uerr.FailedNodes())
	}
	if got := client.swappedNodes(); len(got) != 0 {
		t.Fatalf("swapped => %v, expected none", got)
	}
	if !strings.Contains(err.Error(), "node 1") {
		t.Fatalf("error %q should name node 1", err.Error())
	}
}

func TestPushVersionNoOpStrategy(t *testing.T) {
	client := newFakeClient()
	client.failFetch[0] = fmt.Errorf("connection refused")
	client.failFetch[2] = fmt.Errorf("disk full")

	s := testSwapper(t, client, []FailedFetchStrategy{NewNoOpStrategy()}, false)

	err := s.PushVersion("mystore", "/remote/mystore", 4)
	uerr, ok := err.(*UnrecoverableFailedFetchError)
	if !ok {
		t.Fatalf("err => %T (%v), expected UnrecoverableFailedFetchError", err, err)
	}
	if !reflect.DeepEqual(uerr.FailedNodes(), []int{0, 2}) {
		t.Fatalf("failed nodes => %v, expected [0 2]", uerr.FailedNodes())
	}
	if got := client.swappedNodes(); len(got) != 0 {
		t.Fatalf("swapped => %v, expected none", got)
	}
}

func TestPushVersionEmptyFetchPath(t *testing.T) {
	client := newFakeClient()
	client.emptyFetchPath[2] = true

	s := testSwapper(t, client, nil, false)

	err := s.PushVersion("mystore", "/remote/mystore", 4)
	uerr, ok := err.(*UnrecoverableFailedFetchError)
	if !ok {
		t.Fatalf("err => %T (%v), expected UnrecoverableFailedFetchError", err, err)
	}
	if !reflect.DeepEqual(uerr.FailedNodes(), []int{2}) {
		t.Fatalf("failed nodes => %v, expected [2]", uerr.FailedNodes())
	}
}

func TestPushVersionDisableFailedRecovers(t *testing.T) {
	client := newFakeClient()
	client.failFetch[1] = fmt.Errorf("disk full")

	lock := NewInmemFailedFetchLock()
	strategy := NewDisableFailedOnlyStrategy(client, lock, 1, common.NewTestEntry(t, logrus.DebugLevel))

	s := testSwapper(t, client, []FailedFetchStrategy{strategy}, false)

	err := s.PushVersion("mystore", "/remote/mystore", 4)
	if !IsRecoverable(err) {
		t.Fatalf("err => %T (%v), expected recoverable", err, err)
	}

	if got := client.swappedNodes(); !reflect.DeepEqual(got, []int{0, 2}) {
		t.Fatalf("swapped => %v, expected [0 2]", got)
	}
	if v, ok := client.disabled[1]; !ok || v != 4 {
		t.Fatalf("disabled => %v, expected node 1 version 4", client.disabled)
	}

	disabled, derr := lock.GetDisabledNodes()
	if derr != nil {
		t.Fatalf("err: %v", derr)
	}
	if !disabled[1] {
		t.Fatalf("disabled nodes => %v, expected node 1 recorded", disabled)
	}
}

func TestPushVersionDisableFailedTooMany(t *testing.T) {
	client := newFakeClient()
	client.failFetch[1] = fmt.Errorf("disk full")
	client.failFetch[2] = fmt.Errorf("connection refused")

	strategy := NewDisableFailedOnlyStrategy(client, nil, 1, common.NewTestEntry(t, logrus.DebugLevel))

	s := testSwapper(t, client, []FailedFetchStrategy{strategy}, false)

	err := s.PushVersion("mystore", "/remote/mystore", 4)
	if _, ok := err.(*UnrecoverableFailedFetchError); !ok {
		t.Fatalf("err => %T (%v), expected UnrecoverableFailedFetchError", err, err)
	}
	if len(client.disabled) != 0 {
		t.Fatalf("disabled => %v, expected none", client.disabled)
	}
	if got := client.swappedNodes(); len(got) != 0 {
		t.Fatalf("swapped => %v, expected none", got)
	}
}

func TestPushVersionDisableFailedCountsEarlierRuns(t *testing.T) {
	client := newFakeClient()
	client.failFetch[1] = fmt.Errorf("disk full")

	lock := NewInmemFailedFetchLock()
	if err := lock.AddDisabledNode(2, "mystore", 3, "earlier run"); err != nil {
		t.Fatalf("err: %v", err)
	}

	strategy := NewDisableFailedOnlyStrategy(client, lock, 1, common.NewTestEntry(t, logrus.DebugLevel))

	s := testSwapper(t, client, []FailedFetchStrategy{strategy}, false)

	err := s.PushVersion("mystore", "/remote/mystore", 4)
	if _, ok := err.(*UnrecoverableFailedFetchError); !ok {
		t.Fatalf("err => %T (%v), expected UnrecoverableFailedFetchError", err, err)
	}
	if len(client.disabled) != 0 {
		t.Fatalf("disabled => %v, expected none", client.disabled)
	}
}

func TestPushVersionDeleteAllCleansUp(t *testing.T) {
	client := newFakeClient()
	client.failFetch[1] = fmt.Errorf("disk full")

	strategy := NewDeleteAllStrategy(client, common.NewTestEntry(t, logrus.DebugLevel))

	s := testSwapper(t, client, []FailedFetchStrategy{strategy}, false)

	err := s.PushVersion("mystore", "/remote/mystore", 4)
	if _, ok := err.(*UnrecoverableFailedFetchError); !ok {
		t.Fatalf("err => %T (%v), expected UnrecoverableFailedFetchError", err, err)
	}
	if got := client.deletedNodes(); !reflect.DeepEqual(got, []int{0, 2}) {
		t.Fatalf("deleted => %v, expected [0 2]", got)
	}
	if got := client.swappedNodes(); len(got) != 0 {
		t.Fatalf("swapped => %v, expected none", got)
	}
}

// scriptedStrategy returns a fixed outcome and remembers being called.
type scriptedStrategy struct {
	name   string
	ok     bool
	err    error
	called bool
}

func (s *scriptedStrategy) DealWithIt(storeName string, pushVersion int64, results map[int]string, failures map[int]error) (bool, error) {
	s.called = true
	return s.ok, s.err
}

func (s *scriptedStrategy) String() string {
	return s.name
}

func TestStrategyChainContinuesAfterError(t *testing.T) {
	client := newFakeClient()
	client.failFetch[1] = fmt.Errorf("disk full")

	failing := &scriptedStrategy{name: "failing", err: fmt.Errorf("boom")}
	accepting := &scriptedStrategy{name: "accepting", ok: true}

	s := testSwapper(t, client, []FailedFetchStrategy{failing, accepting}, false)

	err := s.PushVersion("mystore", "/remote/mystore", 4)
	if !IsRecoverable(err) {
		t.Fatalf("err => %T (%v), expected recoverable", err, err)
	}
	if !failing.called || !accepting.called {
		t.Fatalf("called => %v, %v, expected both strategies consulted", failing.called, accepting.called)
	}
	if got := client.swappedNodes(); !reflect.DeepEqual(got, []int{0, 2}) {
		t.Fatalf("swapped => %v, expected [0 2]", got)
	}
}

func TestStrategyChainShortCircuits(t *testing.T) {
	client := newFakeClient()
	client.failFetch[1] = fmt.Errorf("disk full")

	accepting := &scriptedStrategy{name: "accepting", ok: true}
	unreached := &scriptedStrategy{name: "unreached"}

	s := testSwapper(t, client, []FailedFetchStrategy{accepting, unreached}, false)

	if err := s.PushVersion("mystore", "/remote/mystore", 4); !IsRecoverable(err) {
		t.Fatalf("err => %v, expected recoverable", err)
	}
	if unreached.called {
		t.Fatal("second strategy should not have been consulted")
	}
}

func TestPushVersionSwapFailureRollsBack(t *testing.T) {
	client := newFakeClient()
	client.failSwap[2] = fmt.Errorf("swap refused")
	client.previous[0] = "/data/mystore/version-3"
	client.previous[1] = "/data/mystore/version-3"

	s := testSwapper(t, client, nil, true)

	err := s.PushVersion("mystore", "/remote/mystore", 4)
	serr, ok := err.(*SwapError)
	if !ok {
		t.Fatalf("err => %T (%v), expected SwapError", err, err)
	}
	if !reflect.DeepEqual(serr.FailedNodes(), []int{2}) {
		t.Fatalf("failed nodes => %v, expected [2]", serr.FailedNodes())
	}
	if !reflect.DeepEqual(serr.RolledBack, []int{0, 1}) {
		t.Fatalf("rolled back => %v, expected [0 1]", serr.RolledBack)
	}
	if !reflect.DeepEqual(client.rolledBack, map[int]int64{0: 3, 1: 3}) {
		t.Fatalf("rollback calls => %v, expected version 3 on nodes 0 and 1", client.rolledBack)
	}
}

func TestPushVersionSwapFailureNoRollback(t *testing.T) {
	client := newFakeClient()
	client.failSwap[2] = fmt.Errorf("swap refused")
	client.previous[0] = "/data/mystore/version-3"
	client.previous[1] = "/data/mystore/version-3"

	s := testSwapper(t, client, nil, false)

	err := s.PushVersion("mystore", "/remote/mystore", 4)
	serr, ok := err.(*SwapError)
	if !ok {
		t.Fatalf("err => %T (%v), expected SwapError", err, err)
	}
	if len(serr.RolledBack) != 0 {
		t.Fatalf("rolled back => %v, expected none", serr.RolledBack)
	}
	if len(client.rolledBack) != 0 {
		t.Fatalf("rollback calls => %v, expected none", client.rolledBack)
	}
}

func TestPushVersionSwapFailureNoPreviousVersion(t *testing.T) {
	client := newFakeClient()
	client.failSwap[2] = fmt.Errorf("swap refused")

	s := testSwapper(t, client, nil, true)

	err := s.PushVersion("mystore", "/remote/mystore", 1)
	serr, ok := err.(*SwapError)
	if !ok {
		t.Fatalf("err => %T (%v), expected SwapError", err, err)
	}
	// First push: the swapped nodes had no previous version, so there is
	// nothing to roll back to.
	if len(serr.RolledBack) != 0 {
		t.Fatalf("rolled back => %v, expected none", serr.RolledBack)
	}
	if len(client.rolledBack) != 0 {
		t.Fatalf("rollback calls => %v, expected none", client.rolledBack)
	}
}

func TestRollback(t *testing.T) {
	client := newFakeClient()
	s := testSwapper(t, client, nil, false)

	if err := s.Rollback("mystore", 3); err != nil {
		t.Fatalf("err: %v", err)
	}
	if !reflect.DeepEqual(client.rolledBack, map[int]int64{0: 3, 1: 3, 2: 3}) {
		t.Fatalf("rollback calls => %v, expected all nodes", client.rolledBack)
	}
}

func TestRollbackCollectsFailures(t *testing.T) {
	client := newFakeClient()
	client.failRollback[1] = fmt.Errorf("unknown version")

	s := testSwapper(t, client, nil, false)

	err := s.Rollback("mystore", 3)
	rerr, ok := err.(*RollbackError)
	if !ok {
		t.Fatalf("err => %T (%v), expected RollbackError", err, err)
	}
	if !reflect.DeepEqual(rerr.FailedNodes(), []int{1}) {
		t.Fatalf("failed nodes => %v, expected [1]", rerr.FailedNodes())
	}
	// The failing node does not stop the others.
	if !reflect.DeepEqual(client.rolledBack, map[int]int64{0: 3, 2: 3}) {
		t.Fatalf("rollback calls => %v, expected nodes 0 and 2", client.rolledBack)
	}
}

// recordingHook captures the status sequence of a push.
type recordingHook struct {
	l        sync.Mutex
	statuses []hooks.Status
}

func (h *recordingHook) Invoke(status hooks.Status, details string) {
	h.l.Lock()
	defer h.l.Unlock()
	h.statuses = append(h.statuses, status)
}

func (h *recordingHook) recorded() []hooks.Status {
	h.l.Lock()
	defer h.l.Unlock()
	return append([]hooks.Status(nil), h.statuses...)
}

func TestPushVersionHooks(t *testing.T) {
	client := newFakeClient()
	s := testSwapper(t, client, nil, false)

	hook := &recordingHook{}
	s.AddHook(hook)

	if err := s.PushVersion("mystore", "/remote/mystore", 4); err != nil {
		t.Fatalf("err: %v", err)
	}

	expected := []hooks.Status{hooks.Starting, hooks.Pushing, hooks.Swapped, hooks.Finished}
	if got := hook.recorded(); !reflect.DeepEqual(got, expected) {
		t.Fatalf("statuses => %v, expected %v", got, expected)
	}
}

func TestPushVersionHooksOnFailure(t *testing.T) {
	client := newFakeClient()
	client.failFetch[1] = fmt.Errorf("disk full")

	s := testSwapper(t, client, nil, false)

	hook := &recordingHook{}
	s.AddHook(hook)

	if err := s.PushVersion("mystore", "/remote/mystore", 4); err == nil {
		t.Fatal("expected push to fail")
	}

	expected := []hooks.Status{hooks.Starting, hooks.Pushing, hooks.Failed, hooks.Finished}
	if got := hook.recorded(); !reflect.DeepEqual(got, expected) {
		t.Fatalf("statuses => %v, expected %v", got, expected)
	}
}

// TestPushVersionInmemCluster drives a push through real node handlers,
// exercising the fetch, registry and swap machinery end to end.
func TestPushVersionInmemCluster(t *testing.T) {
	logger := common.NewTestEntry(t, logrus.DebugLevel)

	client := admin.NewInmemClient()

	cfg := fetcher.DefaultConfig()
	cfg.RetryDelay = time.Millisecond

	sourceRoot := t.TempDir()
	dataRoot := t.TempDir()

	var nodes []*cluster.Node
	for id := 0; id < 2; id++ {
		h, err := admin.NewHandler(
			filepath.Join(dataRoot, fmt.Sprintf("data-%d", id)),
			fetcher.New(cfg, logger),
			logger)
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		client.AddNode(id, h)
		nodes = append(nodes, cluster.NewNode(id, fmt.Sprintf("host%d", id), "", ""))

		dir := filepath.Join(sourceRoot, fmt.Sprintf("node-%d", id))
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("err: %v", err)
		}
		content := fmt.Sprintf("data for node %d", id)
		if err := os.WriteFile(filepath.Join(dir, "0_0.data"), []byte(content), 0644); err != nil {
			t.Fatalf("err: %v", err)
		}
	}

	c, err := cluster.NewCluster(nodes)
	if err != nil {
		t.Fatalf("err: %v", err)
	}

	s := NewStoreSwapper(c, client, time.Second, nil, false, logger)

	if err := s.PushVersion("mystore", sourceRoot, 1); err != nil {
		t.Fatalf("err: %v", err)
	}

	for id := 0; id < 2; id++ {
		v, err := client.GetCurrentVersion(id, "mystore")
		if err != nil {
			t.Fatalf("err: %v", err)
		}
		if v != 1 {
			t.Fatalf("node %d current version => %d, expected 1", id, v)
		}
	}
}
