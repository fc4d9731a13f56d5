package fetcher

import (
	"fmt"
	"io"
	"net/url"
	"os"

	"github.com/sirupsen/logrus"
)

// FileInfo describes one file in a source directory.
type FileInfo struct {
	Name string
	Size int64
}

// Source abstracts the file system holding built store data. Implementations
// resolve paths relative to their own root conventions; the fetcher only
// joins names returned by List onto the directory it was given.
type Source interface {
	// IsDir reports whether path is a directory.
	IsDir(path string) (bool, error)

	// List returns the files directly under dir, sorted by name.
	// Sub-directories are skipped.
	List(dir string) ([]FileInfo, error)

	// Open opens a file for reading.
	Open(path string) (io.ReadCloser, error)
}

// SourceOptions carries source-level settings. KeytabPath and Principal are
// consumed by sources which authenticate against secured clusters; the
// local source ignores them.
type SourceOptions struct {
	KeytabPath string
	Principal  string
}

// OpenSource returns a Source for a URL, along with the URL's path
// normalized for that source. Plain paths and file:// URLs map to the local
// file system.
func OpenSource(rawURL string, opts SourceOptions, logger *logrus.Entry) (Source, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, "", err
	}

	switch u.Scheme {
	case "":
		return NewLocalSource(), rawURL, nil
	case "file":
		return NewLocalSource(), u.Path, nil
	}

	return nil, "", fmt.Errorf("unsupported source scheme %q", u.Scheme)
}

// LocalSource reads store data from the local file system. It is used when
// the build output is on a volume shared with the storage nodes, and by
// tests.
type LocalSource struct{}

// NewLocalSource instantiates a LocalSource.
func NewLocalSource() *LocalSource {
	return &LocalSource{}
}

// IsDir implements the Source interface.
func (s *LocalSource) IsDir(path string) (bool, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	return fi.IsDir(), nil
}

// List implements the Source interface.
func (s *LocalSource) List(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	res := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		info, err := e.Info()
		if err != nil {
			return nil, err
		}

		res = append(res, FileInfo{
			Name: e.Name(),
			Size: info.Size(),
		})
	}

	return res, nil
}

// Open implements the Source interface.
func (s *LocalSource) Open(path string) (io.ReadCloser, error) {
	return os.Open(path)
}
