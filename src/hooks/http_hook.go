package hooks

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// hookTimeout bounds one status POST. A slow endpoint must not stall the
// push it is reporting on.
const hookTimeout = 10 * time.Second

// HTTPHook posts status updates to a URL as JSON objects. All updates from
// one hook instance share a run id, so the receiving side can correlate
// them into a single run. Delivery is best effort; failures are logged and
// dropped.
type HTTPHook struct {
	url    string
	runID  string
	client *http.Client
	logger *logrus.Entry
}

func NewHTTPHook(url string, logger *logrus.Entry) *HTTPHook {
	if logger == nil {
		logger = logrus.NewEntry(logrus.New())
	}
	return &HTTPHook{
		url:    url,
		runID:  uuid.New().String(),
		client: &http.Client{Timeout: hookTimeout},
		logger: logger.WithField("hook_url", url),
	}
}

// RunID returns the id shared by all updates from this hook.
func (h *HTTPHook) RunID() string {
	return h.runID
}

type statusUpdate struct {
	RunID   string    `json:"run_id"`
	Status  string    `json:"status"`
	Details string    `json:"details"`
	Time    time.Time `json:"time"`
}

func (h *HTTPHook) Invoke(status Status, details string) {
	update := statusUpdate{
		RunID:   h.runID,
		Status:  status.String(),
		Details: details,
		Time:    time.Now().UTC(),
	}

	body, err := json.Marshal(update)
	if err != nil {
		h.logger.WithField("error", err).Error("Encoding status update")
		return
	}

	resp, err := h.client.Post(h.url, "application/json", bytes.NewReader(body))
	if err != nil {
		h.logger.WithFields(logrus.Fields{
			"status": status.String(),
			"error":  err,
		}).Error("Posting status update")
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		h.logger.WithFields(logrus.Fields{
			"status":    status.String(),
			"http_code": resp.StatusCode,
		}).Error("Status endpoint rejected update")
	}
}
