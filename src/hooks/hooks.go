// Package hooks notifies external systems about the progress of a push.
// Hooks are best effort: a failing hook never fails the push.
package hooks

import "github.com/sirupsen/logrus"

// Status identifies a point in the lifecycle of a push run.
type Status int

const (
	// Starting is emitted once when a push run begins.
	Starting Status = iota

	// Pushing is emitted when the fetch phase starts.
	Pushing

	// Swapped is emitted when every node swapped the new version in.
	Swapped

	// SwappedWithFailures is emitted when the swap ran but some nodes
	// failed their fetch and were compensated by a recovery strategy.
	SwappedWithFailures

	// Failed is emitted when the run fails.
	Failed

	// Cancelled is emitted when the run is interrupted by the operator.
	Cancelled

	// Finished is emitted once at the very end of a run, after any of the
	// terminal statuses above.
	Finished

	// Heartbeat is emitted periodically while a run is in flight.
	Heartbeat
)

func (s Status) String() string {
	switch s {
	case Starting:
		return "starting"
	case Pushing:
		return "pushing"
	case Swapped:
		return "swapped"
	case SwappedWithFailures:
		return "swapped-with-failures"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	case Finished:
		return "finished"
	case Heartbeat:
		return "heartbeat"
	}
	return "unknown"
}

// IsTerminal reports whether the status ends a run.
func (s Status) IsTerminal() bool {
	switch s {
	case Swapped, SwappedWithFailures, Failed, Cancelled, Finished:
		return true
	}
	return false
}

// Hook receives push lifecycle notifications. Invocations are synchronous,
// so implementations should return quickly and swallow their own errors.
type Hook interface {
	Invoke(status Status, details string)
}

// LogHook writes every status update to the log.
type LogHook struct {
	logger *logrus.Entry
}

func NewLogHook(logger *logrus.Entry) *LogHook {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &LogHook{logger: logger}
}

func (h *LogHook) Invoke(status Status, details string) {
	h.logger.WithFields(logrus.Fields{
		"status":  status.String(),
		"details": details,
	}).Info("Push status")
}
