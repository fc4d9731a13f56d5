// Package fetcher copies built store versions from a source file system
// onto local disk. Transfers are rate limited, retried on transient
// failures, decompressed on the fly, and verified against the checksums
// published with the data.
package fetcher

import (
	"compress/gzip"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mosaicnetworks/convoy/src/checksum"
	"github.com/mosaicnetworks/convoy/src/throttle"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz"
)

// File name extensions understood by the fetcher.
const (
	// GzipFileExtension marks files compressed with gzip. The extension
	// is stripped from the file name on disk.
	GzipFileExtension = ".gz"

	// XzFileExtension marks files compressed with xz.
	XzFileExtension = ".xz"

	// ChecksumFileExtension marks the sidecar file holding the hex digest
	// of a data file's decompressed contents.
	ChecksumFileExtension = ".checksum"
)

// Default configuration values.
const (
	DefaultRetries              = 5
	DefaultRetryDelay           = 5 * time.Second
	DefaultBufferSize           = 64 * 1024
	DefaultReportInterval       = 25 * 1024 * 1024
	DefaultMaxVersionsStatsFile = 50
)

// Config contains the configuration of a Fetcher.
type Config struct {
	// MaxBytesPerSec caps the rate at which data is pulled from the
	// source. Zero disables throttling.
	MaxBytesPerSec int64

	// Retries is the number of times a failed file transfer is retried.
	// The first attempt is not a retry, so every file is attempted at
	// most Retries+1 times.
	Retries int

	// RetryDelay is the fixed pause between attempts.
	RetryDelay time.Duration

	// BufferSize is the size of the copy buffer.
	BufferSize int

	// ReportInterval is the number of transferred bytes between progress
	// logs.
	ReportInterval int64

	// AllowFetchOfFile permits fetching a single file instead of a
	// complete version directory.
	AllowFetchOfFile bool

	// EnableStatsFile turns on the per-fetch transfer report written next
	// to the fetched version directories.
	EnableStatsFile bool

	// MaxVersionsStatsFile is the number of transfer reports kept.
	MaxVersionsStatsFile int

	// KeytabPath and Principal are handed to sources which authenticate
	// against secured clusters.
	KeytabPath string
	Principal  string
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		Retries:              DefaultRetries,
		RetryDelay:           DefaultRetryDelay,
		BufferSize:           DefaultBufferSize,
		ReportInterval:       DefaultReportInterval,
		MaxVersionsStatsFile: DefaultMaxVersionsStatsFile,
	}
}

// ChecksumValidationError reports a mismatch between fetched data and the
// digests it was published with. It is a distinct type so callers can tell
// corruption from connectivity problems.
type ChecksumValidationError struct {
	// File is the offending file name, or empty when the directory
	// aggregate did not match.
	File     string
	Expected string
	Actual   string
}

func (e *ChecksumValidationError) Error() string {
	if e.File == "" {
		return fmt.Sprintf("directory checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
	}
	return fmt.Sprintf("checksum mismatch on %s: expected %s, got %s", e.File, e.Expected, e.Actual)
}

// Fetcher copies version directories from a source onto local disk. A
// single Fetcher is shared by all fetches on a node so that the rate limit
// caps their combined throughput.
type Fetcher struct {
	config    *Config
	throttler *throttle.Throttler
	logger    *logrus.Entry
}

// New returns a Fetcher with a fixed rate limit taken from the config.
func New(config *Config, logger *logrus.Entry) *Fetcher {
	if config == nil {
		config = DefaultConfig()
	}

	return NewWithThrottler(config, throttle.New(config.MaxBytesPerSec, logger), logger)
}

// NewWithThrottler returns a Fetcher using the given throttler, which may
// carry a dynamic rate.
func NewWithThrottler(config *Config, throttler *throttle.Throttler, logger *logrus.Entry) *Fetcher {
	if config == nil {
		config = DefaultConfig()
	}

	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Fetcher{
		config:    config,
		throttler: throttler,
		logger:    logger,
	}
}

// Fetch copies the version directory at sourceURL into destDir and
// validates its checksums. destDir must not exist beforehand; on failure
// the partially fetched directory is removed. It returns the path of the
// fetched directory.
func (f *Fetcher) Fetch(sourceURL, destDir string) (string, error) {
	if _, err := os.Stat(destDir); err == nil {
		return "", fmt.Errorf("destination %s already exists", destDir)
	}

	src, root, err := OpenSource(sourceURL, SourceOptions{
		KeytabPath: f.config.KeytabPath,
		Principal:  f.config.Principal,
	}, f.logger)
	if err != nil {
		return "", err
	}

	isDir, err := src.IsDir(root)
	if err != nil {
		return "", err
	}

	if !isDir {
		if !f.config.AllowFetchOfFile {
			return "", fmt.Errorf("%s is not a directory", sourceURL)
		}
		return f.fetchFile(src, root, destDir)
	}

	res, err := f.fetchDirectory(src, root, destDir)
	if err != nil {
		os.RemoveAll(destDir)
		return "", err
	}

	return res, nil
}

func (f *Fetcher) fetchDirectory(src Source, root, destDir string) (string, error) {
	files, err := src.List(root)
	if err != nil {
		return "", err
	}

	var hasMetadata bool
	var payload []FileInfo
	var expected int64

	for _, fi := range files {
		if fi.Name == MetadataFileName {
			hasMetadata = true
			continue
		}
		payload = append(payload, fi)
		expected += fi.Size
	}

	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", err
	}

	stats := newCopyStats(expected)

	var sfile *statsFile
	if f.config.EnableStatsFile {
		sfile = openStatsFile(destDir, f.config.MaxVersionsStatsFile, f.logger)
		defer sfile.close()
	}

	// The metadata file is fetched first so that a push can be aborted
	// early when the manifest itself is unreadable.
	typ := checksum.None
	var meta *Metadata

	if hasMetadata {
		if _, err := f.copyWithRetries(src, filepath.Join(root, MetadataFileName),
			filepath.Join(destDir, MetadataFileName), checksum.None, stats, sfile); err != nil {
			return "", err
		}

		buf, err := os.ReadFile(filepath.Join(destDir, MetadataFileName))
		if err != nil {
			return "", err
		}

		meta, err = ParseMetadata(buf)
		if err != nil {
			return "", err
		}

		typ, err = checksum.TypeFromString(meta.CheckSumType)
		if err != nil {
			return "", err
		}
	} else {
		f.logger.WithField("source", root).Warn("No metadata file found, skipping checksum validation")
	}

	f.logger.WithFields(logrus.Fields{
		"source":   root,
		"dest":     destDir,
		"files":    len(payload),
		"bytes":    expected,
		"checksum": typ,
	}).Info("Fetching version directory")

	digests := make(map[string][]byte)

	for _, fi := range payload {
		destName := diskFileName(fi.Name)

		fileTyp := typ
		if strings.HasSuffix(destName, ChecksumFileExtension) {
			// Sidecars are copied but carry no digest of their own.
			fileTyp = checksum.None
		}

		digest, err := f.copyWithRetries(src, filepath.Join(root, fi.Name),
			filepath.Join(destDir, destName), fileTyp, stats, sfile)
		if err != nil {
			return "", err
		}

		if fileTyp != checksum.None {
			digests[destName] = digest
		}
	}

	if typ != checksum.None {
		if err := f.validate(destDir, typ, meta, digests); err != nil {
			return "", err
		}
	}

	f.logger.WithFields(logrus.Fields{
		"dest":  destDir,
		"bytes": stats.TotalBytes(),
		"rate":  stats.BytesPerSecond(),
	}).Info("Fetch complete")

	return destDir, nil
}

func (f *Fetcher) fetchFile(src Source, srcPath, dest string) (string, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return "", err
	}

	stats := newCopyStats(0)

	if _, err := f.copyWithRetries(src, srcPath, dest, checksum.None, stats, nil); err != nil {
		os.Remove(dest)
		return "", err
	}

	f.logger.WithFields(logrus.Fields{
		"dest":  dest,
		"bytes": stats.TotalBytes(),
	}).Info("Fetched single file")

	return dest, nil
}

// validate compares the computed digests against the sidecar files and the
// manifest aggregate.
func (f *Fetcher) validate(destDir string, typ checksum.Type, meta *Metadata, digests map[string][]byte) error {
	for name, digest := range digests {
		expected, err := readSidecar(destDir, name)
		if err != nil {
			// A data file without a sidecar is still covered by the
			// aggregate below.
			f.logger.WithField("file", name).Debug("No sidecar checksum")
			continue
		}

		actual := hex.EncodeToString(digest)
		if expected != actual {
			return &ChecksumValidationError{
				File:     name,
				Expected: expected,
				Actual:   actual,
			}
		}
	}

	aggregate := hex.EncodeToString(checksum.Aggregate(typ, digests))
	if expected := strings.TrimSpace(meta.CheckSum); expected != aggregate {
		return &ChecksumValidationError{
			Expected: expected,
			Actual:   aggregate,
		}
	}

	f.logger.WithFields(logrus.Fields{
		"dest":     destDir,
		"checksum": typ,
	}).Info("Checksum validated")

	return nil
}

func readSidecar(destDir, name string) (string, error) {
	buf, err := os.ReadFile(filepath.Join(destDir, name+ChecksumFileExtension))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(buf)), nil
}

// copyWithRetries transfers one file, retrying transient failures with a
// fixed delay. It returns the digest of the decompressed contents.
func (f *Fetcher) copyWithRetries(src Source, srcPath, destPath string, typ checksum.Type, stats *CopyStats, sfile *statsFile) ([]byte, error) {
	maxAttempts := f.config.Retries + 1

	start := time.Now()
	before := stats.TotalBytes()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		digest, err := f.copyOnce(src, srcPath, destPath, typ, stats)
		if err == nil {
			sfile.record(filepath.Base(destPath), stats.TotalBytes()-before, time.Since(start), attempt, nil)
			return digest, nil
		}

		lastErr = err

		f.logger.WithFields(logrus.Fields{
			"file":    srcPath,
			"attempt": attempt,
			"error":   err,
		}).Error("Transfer failed")

		if attempt < maxAttempts {
			time.Sleep(f.config.RetryDelay)
		}
	}

	sfile.record(filepath.Base(destPath), stats.TotalBytes()-before, time.Since(start), maxAttempts, lastErr)

	return nil, lastErr
}

func (f *Fetcher) copyOnce(src Source, srcPath, destPath string, typ checksum.Type, stats *CopyStats) ([]byte, error) {
	in, err := src.Open(srcPath)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	// Throttling and progress are measured on source bytes, before
	// decompression.
	var r io.Reader = &throttledReader{
		r:         in,
		throttler: f.throttler,
		stats:     stats,
	}

	switch {
	case strings.HasSuffix(srcPath, GzipFileExtension):
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	case strings.HasSuffix(srcPath, XzFileExtension):
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		r = xr
	}

	out, err := os.OpenFile(destPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	defer out.Close()

	cs := checksum.New(typ)

	buf := make([]byte, f.config.BufferSize)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				return nil, werr
			}

			cs.Write(buf[:n])

			if stats.SinceLastReport() >= f.config.ReportInterval {
				f.logger.WithFields(logrus.Fields{
					"file":    destPath,
					"bytes":   stats.TotalBytes(),
					"percent": stats.PercentCopied(),
					"rate":    stats.BytesPerSecond(),
				}).Info("Fetch progress")
				stats.ResetReport()
			}
		}

		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return nil, rerr
		}
	}

	if err := out.Sync(); err != nil {
		return nil, err
	}

	return cs.Sum(), nil
}

// diskFileName strips the compression extension; files are stored
// decompressed.
func diskFileName(name string) string {
	name = strings.TrimSuffix(name, GzipFileExtension)
	name = strings.TrimSuffix(name, XzFileExtension)
	return name
}

type throttledReader struct {
	r         io.Reader
	throttler *throttle.Throttler
	stats     *CopyStats
}

func (t *throttledReader) Read(p []byte) (int, error) {
	n, err := t.r.Read(p)
	if n > 0 {
		t.stats.RecordBytes(int64(n))
		t.throttler.MaybeThrottle(n)
	}
	return n, err
}
