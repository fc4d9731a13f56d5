package throttle

import (
	"testing"
	"time"

	"github.com/mosaicnetworks/convoy/src/common"
	"github.com/sirupsen/logrus"
)

// fakeClock drives a Throttler without real time passing.
type fakeClock struct {
	now   time.Time
	slept []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1000, 0)}
}

func (c *fakeClock) install(t *Throttler) {
	t.now = func() time.Time { return c.now }
	t.sleep = func(d time.Duration) { c.slept = append(c.slept, d) }
}

func TestMaybeThrottleSleepsForExcess(t *testing.T) {
	clock := newFakeClock()

	th := New(100, common.NewTestEntry(t, logrus.DebugLevel))
	clock.install(th)

	// A burst of 1000 against a quota of 100 is a 900 events/s excess,
	// which costs 9 seconds of sleep.
	th.MaybeThrottle(1000)

	if len(clock.slept) != 1 {
		t.Fatalf("sleeps => %d, expected 1", len(clock.slept))
	}
	if clock.slept[0] != 9*time.Second {
		t.Fatalf("slept => %v, expected 9s", clock.slept[0])
	}
}

func TestMaybeThrottleUnderQuota(t *testing.T) {
	clock := newFakeClock()

	th := New(100, common.NewTestEntry(t, logrus.DebugLevel))
	clock.install(th)

	th.MaybeThrottle(50)

	clock.now = clock.now.Add(time.Second)
	th.MaybeThrottle(50)

	if len(clock.slept) != 0 {
		t.Fatalf("sleeps => %v, expected none", clock.slept)
	}
}

func TestMaybeThrottleDisabled(t *testing.T) {
	clock := newFakeClock()

	th := New(0, common.NewTestEntry(t, logrus.DebugLevel))
	clock.install(th)

	th.MaybeThrottle(1000000)

	if len(clock.slept) != 0 {
		t.Fatalf("sleeps => %v, expected none", clock.slept)
	}
}

func TestMaybeThrottleExpiresOldSamples(t *testing.T) {
	clock := newFakeClock()

	th := New(100, common.NewTestEntry(t, logrus.DebugLevel))
	clock.install(th)

	th.MaybeThrottle(1000)
	clock.slept = nil

	// Ten seconds later the burst is outside the sensor's window and a
	// small transfer should pass unthrottled.
	clock.now = clock.now.Add(10 * time.Second)
	th.MaybeThrottle(10)

	if len(clock.slept) != 0 {
		t.Fatalf("sleeps => %v, expected none", clock.slept)
	}
}

func TestDynamicRate(t *testing.T) {
	clock := newFakeClock()

	quota := int64(100)
	th := NewDynamic(func() int64 { return quota }, common.NewTestEntry(t, logrus.DebugLevel))
	clock.install(th)

	if th.Rate() != 100 {
		t.Fatalf("Rate => %d, expected 100", th.Rate())
	}

	th.MaybeThrottle(1000)
	if len(clock.slept) != 1 {
		t.Fatalf("sleeps => %d, expected 1", len(clock.slept))
	}

	// Raising the quota above the observed rate stops the throttling.
	quota = 10000
	clock.slept = nil

	th.MaybeThrottle(1000)
	if len(clock.slept) != 0 {
		t.Fatalf("sleeps => %v, expected none", clock.slept)
	}
}

func TestSensorMeasuresOverWindow(t *testing.T) {
	s := newRateSensor(time.Second, 5)
	now := time.Unix(2000, 0)

	s.record(100, now)
	s.record(100, now.Add(time.Second))
	s.record(100, now.Add(2*time.Second))

	// 300 events, measured 2 seconds after the first sample started.
	got := s.measure(now.Add(2 * time.Second))
	if got < 149 || got > 151 {
		t.Fatalf("measure => %f, expected ~150", got)
	}
}
