// Package throttle slows callers down to keep a measured event rate under a
// quota. The fetcher uses it to cap the bytes per second it pulls from a
// source so that bulk transfers do not starve live traffic.
package throttle

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	// DefaultInterval is the length of one measurement sample.
	DefaultInterval = time.Second

	// DefaultSamples is the number of rolling samples kept by the sensor.
	DefaultSamples = 5
)

// RateProvider supplies the current quota in events per second. It is
// consulted before every throttling decision, so the quota can change while
// a transfer is in flight.
type RateProvider func() int64

// Throttler measures the rate of events reported by its callers and, when
// the rate exceeds the quota, blocks the caller long enough to absorb the
// excess. It is safe for concurrent use; the measured rate is shared, so a
// single Throttler caps the combined throughput of every transfer that
// reports to it.
type Throttler struct {
	rate   RateProvider
	sensor *rateSensor
	logger *logrus.Entry

	l sync.Mutex

	// now and sleep are swapped out in tests
	now   func() time.Time
	sleep func(time.Duration)
}

// New returns a Throttler with a fixed quota of ratePerSecond events. A
// quota of zero or less disables throttling.
func New(ratePerSecond int64, logger *logrus.Entry) *Throttler {
	return NewDynamic(func() int64 { return ratePerSecond }, logger)
}

// NewDynamic returns a Throttler whose quota is read from the provider on
// every call to MaybeThrottle.
func NewDynamic(provider RateProvider, logger *logrus.Entry) *Throttler {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Throttler{
		rate:   provider,
		sensor: newRateSensor(DefaultInterval, DefaultSamples),
		logger: logger,
		now:    time.Now,
		sleep:  time.Sleep,
	}
}

// Rate returns the current quota in events per second.
func (t *Throttler) Rate() int64 {
	return t.rate()
}

// MaybeThrottle records n events and, if the observed rate now exceeds the
// quota, sleeps for excess/quota seconds before returning. With a quota of
// 100 and a burst of 1000, the caller sleeps for 9 seconds.
func (t *Throttler) MaybeThrottle(n int) {
	if n <= 0 {
		return
	}

	quota := t.rate()
	if quota <= 0 {
		return
	}

	now := t.now()

	t.l.Lock()
	t.sensor.record(int64(n), now)
	observed := t.sensor.measure(now)
	t.l.Unlock()

	if observed <= float64(quota) {
		return
	}

	excess := observed - float64(quota)
	wait := time.Duration(excess / float64(quota) * float64(time.Second))

	t.logger.WithFields(logrus.Fields{
		"observed": observed,
		"quota":    quota,
		"wait":     wait,
	}).Debug("Throttling")

	t.sleep(wait)
}

type sample struct {
	start  time.Time
	events int64
}

// rateSensor keeps a rolling window of event counts. Samples older than
// maxSamples intervals are discarded.
type rateSensor struct {
	interval   time.Duration
	maxSamples int
	samples    []*sample
}

func newRateSensor(interval time.Duration, maxSamples int) *rateSensor {
	return &rateSensor{
		interval:   interval,
		maxSamples: maxSamples,
	}
}

func (s *rateSensor) record(n int64, now time.Time) {
	cutoff := now.Add(-time.Duration(s.maxSamples) * s.interval)
	for len(s.samples) > 0 && s.samples[0].start.Before(cutoff) {
		s.samples = s.samples[1:]
	}

	s.current(now).events += n
}

func (s *rateSensor) current(now time.Time) *sample {
	if len(s.samples) > 0 {
		last := s.samples[len(s.samples)-1]
		if now.Before(last.start.Add(s.interval)) {
			return last
		}
	}

	ns := &sample{start: now}

	s.samples = append(s.samples, ns)
	if len(s.samples) > s.maxSamples {
		s.samples = s.samples[1:]
	}

	return ns
}

// measure returns the observed rate in events per second. The rate is
// measured over at least one full interval, so a burst arriving all at once
// reads as burst/interval rather than infinity.
func (s *rateSensor) measure(now time.Time) float64 {
	if len(s.samples) == 0 {
		return 0
	}

	var total int64
	for _, sm := range s.samples {
		total += sm.events
	}

	elapsed := now.Sub(s.samples[0].start)
	if elapsed < s.interval {
		elapsed = s.interval
	}

	return float64(total) / elapsed.Seconds()
}
