package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/mosaicnetworks/convoy/src/cluster"
	"github.com/sirupsen/logrus"
)

// httpEnvelope is the JSON body of every facade response.
type httpEnvelope struct {
	Path     string `json:"path,omitempty"`
	Previous string `json:"previous,omitempty"`
	Version  *int64 `json:"version,omitempty"`
	Error    string `json:"error,omitempty"`
}

// HTTPService exposes the Handler's operations over plain HTTP for
// orchestrators that cannot speak the admin protocol. It serves the same
// operations as the TCP server, plus re-enabling a version that a failed
// push disabled.
type HTTPService struct {
	bindAddress string
	handler     *Handler
	logger      *logrus.Entry
}

// NewHTTPService instantiates the service. Call Serve to bind it, or
// RegisterHandlers to attach it to an existing mux.
func NewHTTPService(bindAddress string, handler *Handler, logger *logrus.Entry) *HTTPService {
	return &HTTPService{
		bindAddress: bindAddress,
		handler:     handler,
		logger:      logger,
	}
}

// RegisterHandlers registers the API handlers with a mux.
func (s *HTTPService) RegisterHandlers(mux *http.ServeMux) {
	s.logger.Debug("Registering admin API handlers")

	mux.HandleFunc("/fetch", s.makeHandler(s.Fetch))
	mux.HandleFunc("/swap", s.makeHandler(s.Swap))
	mux.HandleFunc("/rollback", s.makeHandler(s.Rollback))
	mux.HandleFunc("/failed-fetch", s.makeHandler(s.FailedFetch))
	mux.HandleFunc("/disable-version", s.makeHandler(s.DisableVersion))
	mux.HandleFunc("/enable-version", s.makeHandler(s.EnableVersion))
	mux.HandleFunc("/current-version", s.makeHandler(s.CurrentVersion))
}

func (s *HTTPService) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		fn(w, r)
	}
}

// Serve creates a mux with the API handlers and calls ListenAndServe.
// This is a blocking call.
func (s *HTTPService) Serve() {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving admin API")

	mux := http.NewServeMux()
	s.RegisterHandlers(mux)

	err := http.ListenAndServe(s.bindAddress, mux)
	if err != nil {
		s.logger.Error(err)
	}
}

// Fetch handles POST /fetch?store=S&dir=D&push_version=N.
func (s *HTTPService) Fetch(w http.ResponseWriter, r *http.Request) {
	store := r.URL.Query().Get("store")
	dir := r.URL.Query().Get("dir")

	version, err := versionParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	path, err := s.handler.FetchStore(store, dir, version)
	if err != nil {
		s.logger.WithError(err).Error("Fetch failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	json.NewEncoder(w).Encode(httpEnvelope{Path: path})
}

// Swap handles POST /swap?store=S&path=P.
func (s *HTTPService) Swap(w http.ResponseWriter, r *http.Request) {
	store := r.URL.Query().Get("store")
	path := r.URL.Query().Get("path")

	previous, err := s.handler.SwapStore(store, path)
	if err != nil {
		s.logger.WithError(err).Error("Swap failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	json.NewEncoder(w).Encode(httpEnvelope{Previous: previous})
}

// Rollback handles POST /rollback?store=S&push_version=N.
func (s *HTTPService) Rollback(w http.ResponseWriter, r *http.Request) {
	store := r.URL.Query().Get("store")

	version, err := versionParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.handler.RollbackStore(store, version); err != nil {
		s.logger.WithError(err).Error("Rollback failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	json.NewEncoder(w).Encode(httpEnvelope{})
}

// FailedFetch handles POST /failed-fetch?store=S&path=P.
func (s *HTTPService) FailedFetch(w http.ResponseWriter, r *http.Request) {
	store := r.URL.Query().Get("store")
	path := r.URL.Query().Get("path")

	if err := s.handler.FailedFetchStore(store, path); err != nil {
		s.logger.WithError(err).Error("Failed-fetch cleanup failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	json.NewEncoder(w).Encode(httpEnvelope{})
}

// DisableVersion handles POST /disable-version?store=S&push_version=N.
func (s *HTTPService) DisableVersion(w http.ResponseWriter, r *http.Request) {
	store := r.URL.Query().Get("store")

	version, err := versionParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.handler.DisableStoreVersion(store, version); err != nil {
		s.logger.WithError(err).Error("Disable failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	json.NewEncoder(w).Encode(httpEnvelope{})
}

// EnableVersion handles POST /enable-version?store=S&push_version=N. It
// is the operator's undo for versions disabled by failed-fetch recovery.
func (s *HTTPService) EnableVersion(w http.ResponseWriter, r *http.Request) {
	store := r.URL.Query().Get("store")

	version, err := versionParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.handler.EnableStoreVersion(store, version); err != nil {
		s.logger.WithError(err).Error("Enable failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	json.NewEncoder(w).Encode(httpEnvelope{})
}

// CurrentVersion handles GET /current-version?store=S.
func (s *HTTPService) CurrentVersion(w http.ResponseWriter, r *http.Request) {
	store := r.URL.Query().Get("store")

	version, err := s.handler.GetCurrentVersion(store)
	if err != nil {
		s.logger.WithError(err).Error("Current-version failed")
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	json.NewEncoder(w).Encode(httpEnvelope{Version: &version})
}

func versionParam(r *http.Request) (int64, error) {
	raw := r.URL.Query().Get("push_version")
	version, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid push_version %q", raw)
	}
	return version, nil
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(httpEnvelope{Error: err.Error()})
}

// HTTPClient drives nodes through their HTTP facades. It implements the
// Client interface, resolving node ids to HTTP addresses through the
// cluster topology.
type HTTPClient struct {
	cluster *cluster.Cluster
	client  *http.Client
	timeout time.Duration
	logger  *logrus.Entry
}

// NewHTTPClient returns an HTTPClient. timeout bounds control commands;
// fetches carry their own deadline per call.
func NewHTTPClient(c *cluster.Cluster, timeout time.Duration, logger *logrus.Entry) *HTTPClient {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &HTTPClient{
		cluster: c,
		client:  &http.Client{},
		timeout: timeout,
		logger:  logger,
	}
}

// Close implements the Client interface.
func (c *HTTPClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

// FetchStore implements the Client interface.
func (c *HTTPClient) FetchStore(nodeID int, storeName, storeDir string, pushVersion int64, timeout time.Duration) (string, error) {
	params := url.Values{}
	params.Set("store", storeName)
	params.Set("dir", storeDir)
	params.Set("push_version", strconv.FormatInt(pushVersion, 10))

	env, err := c.post(nodeID, "/fetch", params, timeout)
	if err != nil {
		return "", err
	}

	return env.Path, nil
}

// SwapStore implements the Client interface.
func (c *HTTPClient) SwapStore(nodeID int, storeName, path string) (string, error) {
	params := url.Values{}
	params.Set("store", storeName)
	params.Set("path", path)

	env, err := c.post(nodeID, "/swap", params, 0)
	if err != nil {
		return "", err
	}

	return env.Previous, nil
}

// RollbackStore implements the Client interface.
func (c *HTTPClient) RollbackStore(nodeID int, storeName string, pushVersion int64) error {
	params := url.Values{}
	params.Set("store", storeName)
	params.Set("push_version", strconv.FormatInt(pushVersion, 10))

	_, err := c.post(nodeID, "/rollback", params, 0)
	return err
}

// FailedFetchStore implements the Client interface.
func (c *HTTPClient) FailedFetchStore(nodeID int, storeName, path string) error {
	params := url.Values{}
	params.Set("store", storeName)
	params.Set("path", path)

	_, err := c.post(nodeID, "/failed-fetch", params, 0)
	return err
}

// DisableStoreVersion implements the Client interface.
func (c *HTTPClient) DisableStoreVersion(nodeID int, storeName string, pushVersion int64) error {
	params := url.Values{}
	params.Set("store", storeName)
	params.Set("push_version", strconv.FormatInt(pushVersion, 10))

	_, err := c.post(nodeID, "/disable-version", params, 0)
	return err
}

// GetCurrentVersion implements the Client interface.
func (c *HTTPClient) GetCurrentVersion(nodeID int, storeName string) (int64, error) {
	params := url.Values{}
	params.Set("store", storeName)

	env, err := c.get(nodeID, "/current-version", params)
	if err != nil {
		return 0, err
	}

	if env.Version == nil {
		return 0, fmt.Errorf("malformed response: no version")
	}

	return *env.Version, nil
}

func (c *HTTPClient) post(nodeID int, endpoint string, params url.Values, timeout time.Duration) (*httpEnvelope, error) {
	return c.do(http.MethodPost, nodeID, endpoint, params, timeout)
}

func (c *HTTPClient) get(nodeID int, endpoint string, params url.Values) (*httpEnvelope, error) {
	return c.do(http.MethodGet, nodeID, endpoint, params, 0)
}

func (c *HTTPClient) do(method string, nodeID int, endpoint string, params url.Values, timeout time.Duration) (*httpEnvelope, error) {
	node, ok := c.cluster.ByID[nodeID]
	if !ok {
		return nil, fmt.Errorf("unknown node %d", nodeID)
	}
	if node.HTTPAddr == "" {
		return nil, fmt.Errorf("node %d has no http address", nodeID)
	}

	if timeout <= 0 {
		timeout = c.timeout
	}

	ctx := context.Background()
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	reqURL := fmt.Sprintf("http://%s%s?%s", node.HTTPAddr, endpoint, params.Encode())

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	env := &httpEnvelope{}
	if err := json.Unmarshal(buf, env); err != nil {
		return nil, fmt.Errorf("malformed response from node %d: %s", nodeID, err)
	}

	if env.Error != "" {
		return nil, fmt.Errorf("%s", env.Error)
	}

	return env, nil
}
