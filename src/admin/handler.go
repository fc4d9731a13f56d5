package admin

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mosaicnetworks/convoy/src/fetcher"
	"github.com/mosaicnetworks/convoy/src/registry"
	"github.com/sirupsen/logrus"
)

// Handler executes version operations against the local data directory of
// a storage node. Every store lives in its own sub-directory of dataDir
// and is managed by its own StoreVersionManager. Handler methods are
// called concurrently by the admin server and the HTTP facade.
type Handler struct {
	dataDir string
	fetcher *fetcher.Fetcher
	logger  *logrus.Entry

	l        sync.Mutex
	managers map[string]*registry.StoreVersionManager
}

// NewHandler creates the data directory if necessary.
func NewHandler(dataDir string, f *fetcher.Fetcher, logger *logrus.Entry) (*Handler, error) {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	return &Handler{
		dataDir:  dataDir,
		fetcher:  f,
		logger:   logger,
		managers: make(map[string]*registry.StoreVersionManager),
	}, nil
}

// manager returns the version manager for a store, creating it on first
// use.
func (h *Handler) manager(storeName string) (*registry.StoreVersionManager, error) {
	if storeName == "" || strings.ContainsAny(storeName, "/\\") || storeName == "." || storeName == ".." {
		return nil, fmt.Errorf("invalid store name %q", storeName)
	}

	h.l.Lock()
	defer h.l.Unlock()

	if m, ok := h.managers[storeName]; ok {
		return m, nil
	}

	m, err := registry.NewStoreVersionManager(
		filepath.Join(h.dataDir, storeName),
		h.logger.WithField("store", storeName),
	)
	if err != nil {
		return nil, err
	}

	h.managers[storeName] = m

	return m, nil
}

// FetchStore pulls the version directory at storeDir into the local store
// and returns its local path. The fetch fails when the version already
// exists locally.
func (h *Handler) FetchStore(storeName, storeDir string, pushVersion int64) (string, error) {
	m, err := h.manager(storeName)
	if err != nil {
		return "", err
	}

	h.logger.WithFields(logrus.Fields{
		"store":        storeName,
		"store_dir":    storeDir,
		"push_version": pushVersion,
	}).Info("Fetching store version")

	path, err := h.fetcher.Fetch(storeDir, m.VersionDir(pushVersion))
	if err != nil {
		return "", err
	}

	if err := m.SyncFromDisk(); err != nil {
		return "", err
	}

	return path, nil
}

// SwapStore starts serving the version at path and returns the previously
// served version directory.
func (h *Handler) SwapStore(storeName, path string) (string, error) {
	m, err := h.manager(storeName)
	if err != nil {
		return "", err
	}

	return m.SwapIn(path)
}

// RollbackStore serves pushVersion again.
func (h *Handler) RollbackStore(storeName string, pushVersion int64) error {
	m, err := h.manager(storeName)
	if err != nil {
		return err
	}

	return m.RollbackTo(pushVersion)
}

// FailedFetchStore discards the data fetched to path for a push that
// failed elsewhere. It is a no-op when nothing was fetched.
func (h *Handler) FailedFetchStore(storeName, path string) error {
	m, err := h.manager(storeName)
	if err != nil {
		return err
	}

	if _, serr := os.Stat(path); os.IsNotExist(serr) {
		return nil
	}

	h.logger.WithFields(logrus.Fields{
		"store": storeName,
		"path":  path,
	}).Warn("Deleting version after failed fetch")

	return m.DeleteVersion(path)
}

// DisableStoreVersion marks a version as disabled.
func (h *Handler) DisableStoreVersion(storeName string, pushVersion int64) error {
	m, err := h.manager(storeName)
	if err != nil {
		return err
	}

	return m.DisableVersion(pushVersion)
}

// EnableStoreVersion removes the disabled marker from a version.
func (h *Handler) EnableStoreVersion(storeName string, pushVersion int64) error {
	m, err := h.manager(storeName)
	if err != nil {
		return err
	}

	return m.EnableVersion(pushVersion)
}

// GetCurrentVersion returns the version currently served for a store, -1
// when no version was ever swapped in.
func (h *Handler) GetCurrentVersion(storeName string) (int64, error) {
	m, err := h.manager(storeName)
	if err != nil {
		return 0, err
	}

	return m.CurrentVersion(), nil
}
