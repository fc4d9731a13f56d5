package swapper

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/mosaicnetworks/convoy/src/common"
	"github.com/sirupsen/logrus"
)

func TestNoOpStrategy(t *testing.T) {
	s := NewNoOpStrategy()

	ok, err := s.DealWithIt("mystore", 4, map[int]string{0: "/data"}, map[int]error{1: fmt.Errorf("boom")})
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if ok {
		t.Fatal("noop must never accept a failure")
	}
}

func TestDeleteAllStrategy(t *testing.T) {
	client := newFakeClient()
	s := NewDeleteAllStrategy(client, common.NewTestEntry(t, logrus.DebugLevel))

	results := map[int]string{0: "/data/v4", 2: "/data/v4"}
	failures := map[int]error{1: fmt.Errorf("boom")}

	ok, err := s.DealWithIt("mystore", 4, results, failures)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if ok {
		t.Fatal("delete-all must never accept a failure")
	}
	if got := client.deletedNodes(); !reflect.DeepEqual(got, []int{0, 2}) {
		t.Fatalf("deleted => %v, expected [0 2]", got)
	}
}

func TestDeleteAllStrategyDeleteError(t *testing.T) {
	client := newFakeClient()
	client.failDelete[2] = fmt.Errorf("node down")

	s := NewDeleteAllStrategy(client, common.NewTestEntry(t, logrus.DebugLevel))

	results := map[int]string{0: "/data/v4", 2: "/data/v4"}
	failures := map[int]error{1: fmt.Errorf("boom")}

	ok, err := s.DealWithIt("mystore", 4, results, failures)
	if ok {
		t.Fatal("delete-all must never accept a failure")
	}
	if err == nil {
		t.Fatal("delete failures should be reported")
	}
	// A failing node does not stop the cleanup of the others.
	if got := client.deletedNodes(); !reflect.DeepEqual(got, []int{0}) {
		t.Fatalf("deleted => %v, expected [0]", got)
	}
}

func TestDisableFailedOnlyWithoutLock(t *testing.T) {
	client := newFakeClient()
	s := NewDisableFailedOnlyStrategy(client, nil, 2, common.NewTestEntry(t, logrus.DebugLevel))

	results := map[int]string{0: "/data/v4"}
	failures := map[int]error{1: fmt.Errorf("boom"), 2: fmt.Errorf("boom")}

	ok, err := s.DealWithIt("mystore", 4, results, failures)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if !ok {
		t.Fatal("two failures within a budget of two should be accepted")
	}
	if !reflect.DeepEqual(client.disabled, map[int]int64{1: 4, 2: 4}) {
		t.Fatalf("disabled => %v, expected nodes 1 and 2 at version 4", client.disabled)
	}
}

func TestDisableFailedOnlyDefaultBudget(t *testing.T) {
	client := newFakeClient()

	// maxFailures <= 0 selects the default of one node.
	s := NewDisableFailedOnlyStrategy(client, nil, 0, common.NewTestEntry(t, logrus.DebugLevel))

	failures := map[int]error{1: fmt.Errorf("boom"), 2: fmt.Errorf("boom")}
	ok, err := s.DealWithIt("mystore", 4, nil, failures)
	if err != nil {
		t.Fatalf("err: %v", err)
	}
	if ok {
		t.Fatal("two failures should exceed the default budget")
	}
	if len(client.disabled) != 0 {
		t.Fatalf("disabled => %v, expected none", client.disabled)
	}
}

func TestDisableFailedOnlyDisableError(t *testing.T) {
	client := newFakeClient()
	client.failDisable[1] = fmt.Errorf("node down")

	s := NewDisableFailedOnlyStrategy(client, nil, 1, common.NewTestEntry(t, logrus.DebugLevel))

	ok, err := s.DealWithIt("mystore", 4, nil, map[int]error{1: fmt.Errorf("boom")})
	if ok {
		t.Fatal("a failed disable call must not accept the failure")
	}
	if err == nil {
		t.Fatal("a failed disable call should be reported")
	}
}

func TestDisableFailedOnlyReleasesLock(t *testing.T) {
	client := newFakeClient()
	lock := NewInmemFailedFetchLock()

	s := NewDisableFailedOnlyStrategy(client, lock, 1, common.NewTestEntry(t, logrus.DebugLevel))

	if _, err := s.DealWithIt("mystore", 4, nil, map[int]error{1: fmt.Errorf("boom")}); err != nil {
		t.Fatalf("err: %v", err)
	}

	// The lock must have been released on the way out.
	if err := lock.AcquireLock(); err != nil {
		t.Fatalf("err: %v", err)
	}
	if err := lock.ReleaseLock(); err != nil {
		t.Fatalf("err: %v", err)
	}
}

func TestStrategyFromName(t *testing.T) {
	client := newFakeClient()
	logger := common.NewTestEntry(t, logrus.DebugLevel)

	cases := []struct {
		name     string
		expected string
	}{
		{"", "noop"},
		{"noop", "noop"},
		{"NOOP", "noop"},
		{"delete-all", "delete-all"},
		{" disable-failed ", "disable-failed"},
	}
	for _, c := range cases {
		s, err := StrategyFromName(c.name, client, nil, 0, logger)
		if err != nil {
			t.Fatalf("StrategyFromName(%q) => %v", c.name, err)
		}
		if s.String() != c.expected {
			t.Fatalf("StrategyFromName(%q) => %s, expected %s", c.name, s.String(), c.expected)
		}
	}

	if _, err := StrategyFromName("bogus", client, nil, 0, logger); err == nil {
		t.Fatal("unknown strategy name should fail")
	}
}
