// Package registry tracks the store versions present on a node's disk. A
// store directory contains one sub-directory per version, named version-N,
// and a "latest" symlink designating the version currently being served.
// A version is disabled by dropping a marker file inside its directory;
// disabling is orthogonal to which version is current.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// DisabledMarkerName is the name of the marker file whose presence
	// disables a version directory.
	DisabledMarkerName = ".disabled"

	latestLinkName   = "latest"
	versionDirPrefix = "version-"
)

// VersionDirName returns the directory name for a version id.
func VersionDirName(v int64) string {
	return fmt.Sprintf("%s%d", versionDirPrefix, v)
}

// ParseVersion extracts the version id from a version directory name.
func ParseVersion(name string) (int64, error) {
	if !strings.HasPrefix(name, versionDirPrefix) {
		return 0, fmt.Errorf("%s is not a version directory", name)
	}

	v, err := strconv.ParseInt(strings.TrimPrefix(name, versionDirPrefix), 10, 64)
	if err != nil || v < 0 {
		return 0, fmt.Errorf("%s is not a version directory", name)
	}

	return v, nil
}

// StoreVersionManager manages the version directories of a single store. It
// is safe for concurrent use.
type StoreVersionManager struct {
	rootDir string
	logger  *logrus.Entry

	l        sync.Mutex
	versions map[int64]bool // version id -> enabled
	current  int64
}

// NewStoreVersionManager creates the store directory if necessary and loads
// the current state from disk.
func NewStoreVersionManager(rootDir string, logger *logrus.Entry) (*StoreVersionManager, error) {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	if err := os.MkdirAll(rootDir, 0755); err != nil {
		return nil, err
	}

	m := &StoreVersionManager{
		rootDir:  rootDir,
		logger:   logger,
		versions: make(map[int64]bool),
		current:  -1,
	}

	if err := m.SyncFromDisk(); err != nil {
		return nil, err
	}

	return m, nil
}

// RootDir returns the store directory managed by this instance.
func (m *StoreVersionManager) RootDir() string {
	return m.rootDir
}

// VersionDir returns the directory path for a version id. The directory is
// not guaranteed to exist.
func (m *StoreVersionManager) VersionDir(v int64) string {
	return filepath.Join(m.rootDir, VersionDirName(v))
}

// SyncFromDisk rebuilds the in-memory state from the store directory. It is
// called again after every fetch, so versions materialized by other
// processes are picked up too.
func (m *StoreVersionManager) SyncFromDisk() error {
	m.l.Lock()
	defer m.l.Unlock()

	entries, err := os.ReadDir(m.rootDir)
	if err != nil {
		return err
	}

	versions := make(map[int64]bool)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}

		v, err := ParseVersion(e.Name())
		if err != nil {
			continue
		}

		versions[v] = !m.markerPresent(v)
	}

	current := int64(-1)
	if target, err := os.Readlink(filepath.Join(m.rootDir, latestLinkName)); err == nil {
		if v, perr := ParseVersion(filepath.Base(target)); perr == nil {
			current = v
		}
	}

	m.versions = versions
	m.current = current

	return nil
}

// Versions returns the version ids known to the manager in ascending
// order.
func (m *StoreVersionManager) Versions() []int64 {
	m.l.Lock()
	defer m.l.Unlock()

	res := make([]int64, 0, len(m.versions))
	for v := range m.versions {
		res = append(res, v)
	}
	sort.Slice(res, func(i, j int) bool { return res[i] < res[j] })

	return res
}

// CurrentVersion returns the version currently being served, or -1 when no
// version has been swapped in yet.
func (m *StoreVersionManager) CurrentVersion() int64 {
	m.l.Lock()
	defer m.l.Unlock()

	return m.current
}

// IsVersionEnabled reports whether a version is enabled. It errors on a
// version id that is not present on disk.
func (m *StoreVersionManager) IsVersionEnabled(v int64) (bool, error) {
	m.l.Lock()
	defer m.l.Unlock()

	enabled, ok := m.versions[v]
	if !ok {
		return false, fmt.Errorf("unknown version %d", v)
	}

	return enabled, nil
}

// IsCurrentVersionEnabled reports whether the version currently being
// served is enabled.
func (m *StoreVersionManager) IsCurrentVersionEnabled() (bool, error) {
	m.l.Lock()
	defer m.l.Unlock()

	if m.current < 0 {
		return false, fmt.Errorf("no current version")
	}

	enabled, ok := m.versions[m.current]
	if !ok {
		return false, fmt.Errorf("unknown version %d", m.current)
	}

	return enabled, nil
}

// HasAnyDisabledVersion reports whether at least one version carries a
// disabled marker.
func (m *StoreVersionManager) HasAnyDisabledVersion() bool {
	m.l.Lock()
	defer m.l.Unlock()

	for _, enabled := range m.versions {
		if !enabled {
			return true
		}
	}

	return false
}

// EnableVersion removes the disabled marker from a version. Enabling an
// already enabled version is a no-op.
func (m *StoreVersionManager) EnableVersion(v int64) error {
	m.l.Lock()
	defer m.l.Unlock()

	if _, ok := m.versions[v]; !ok {
		return fmt.Errorf("unknown version %d", v)
	}

	marker := filepath.Join(m.VersionDir(v), DisabledMarkerName)
	if err := os.Remove(marker); err != nil && !os.IsNotExist(err) {
		return err
	}

	m.versions[v] = true

	m.logger.WithField("version", v).Info("Enabled version")

	return nil
}

// DisableVersion drops the disabled marker into a version directory.
// Disabling an already disabled version is a no-op. A version whose
// directory is absent, such as the target of a fetch that failed and was
// cleaned up, is disabled in memory only; the marker cannot outlive a
// restart.
func (m *StoreVersionManager) DisableVersion(v int64) error {
	m.l.Lock()
	defer m.l.Unlock()

	marker := filepath.Join(m.VersionDir(v), DisabledMarkerName)

	f, err := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err == nil {
		f.Close()
		m.logger.WithField("version", v).Warn("Disabled version")
	} else if os.IsNotExist(err) {
		m.logger.WithField("version", v).Warn("Version directory absent, disabled in memory only")
	} else if !os.IsExist(err) {
		return err
	}

	m.versions[v] = false

	return nil
}

// SwapIn atomically repoints the latest symlink at the given version
// directory and returns the path of the previously served version, or the
// empty string when there was none.
func (m *StoreVersionManager) SwapIn(dir string) (string, error) {
	m.l.Lock()
	defer m.l.Unlock()

	clean := filepath.Clean(dir)
	if filepath.Dir(clean) != filepath.Clean(m.rootDir) {
		return "", fmt.Errorf("%s is outside store directory %s", dir, m.rootDir)
	}

	v, err := ParseVersion(filepath.Base(clean))
	if err != nil {
		return "", err
	}

	fi, err := os.Stat(clean)
	if err != nil || !fi.IsDir() {
		return "", fmt.Errorf("version directory %s does not exist", clean)
	}

	previous := ""
	link := filepath.Join(m.rootDir, latestLinkName)
	if target, rerr := os.Readlink(link); rerr == nil {
		if !filepath.IsAbs(target) {
			target = filepath.Join(m.rootDir, target)
		}
		previous = target
	}

	if err := m.repointLatest(v); err != nil {
		return "", err
	}

	m.current = v
	m.versions[v] = !m.markerPresent(v)

	m.logger.WithFields(logrus.Fields{
		"version":  v,
		"previous": previous,
	}).Info("Swapped in version")

	return previous, nil
}

// RollbackTo repoints the latest symlink at an older version directory.
func (m *StoreVersionManager) RollbackTo(v int64) error {
	m.l.Lock()
	defer m.l.Unlock()

	if _, ok := m.versions[v]; !ok {
		return fmt.Errorf("unknown version %d", v)
	}

	fi, err := os.Stat(m.VersionDir(v))
	if err != nil || !fi.IsDir() {
		return fmt.Errorf("version directory %s does not exist", m.VersionDir(v))
	}

	if err := m.repointLatest(v); err != nil {
		return err
	}

	m.current = v

	m.logger.WithField("version", v).Warn("Rolled back to version")

	return nil
}

// DeleteVersion removes a version directory. The current version cannot be
// deleted.
func (m *StoreVersionManager) DeleteVersion(dir string) error {
	m.l.Lock()
	defer m.l.Unlock()

	clean := filepath.Clean(dir)
	if filepath.Dir(clean) != filepath.Clean(m.rootDir) {
		return fmt.Errorf("%s is outside store directory %s", dir, m.rootDir)
	}

	v, err := ParseVersion(filepath.Base(clean))
	if err != nil {
		return err
	}

	if v == m.current {
		return fmt.Errorf("cannot delete current version %d", v)
	}

	if err := os.RemoveAll(clean); err != nil {
		return err
	}

	delete(m.versions, v)

	m.logger.WithField("version", v).Info("Deleted version")

	return nil
}

// repointLatest atomically replaces the latest symlink by creating the new
// link under a temporary name and renaming it over the old one.
func (m *StoreVersionManager) repointLatest(v int64) error {
	link := filepath.Join(m.rootDir, latestLinkName)
	tmp := link + ".new"

	os.Remove(tmp)

	if err := os.Symlink(VersionDirName(v), tmp); err != nil {
		return err
	}

	if err := os.Rename(tmp, link); err != nil {
		os.Remove(tmp)
		return err
	}

	return nil
}

func (m *StoreVersionManager) markerPresent(v int64) bool {
	_, err := os.Stat(filepath.Join(m.VersionDir(v), DisabledMarkerName))
	return err == nil
}
