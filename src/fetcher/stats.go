package fetcher

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
)

// CopyStats tracks the progress of one fetch. Byte counts are measured on
// the source side, before decompression, so they line up with the sizes
// reported by the source listing.
type CopyStats struct {
	expected    int64
	total       int64
	sinceReport int64
	start       time.Time
}

func newCopyStats(expected int64) *CopyStats {
	return &CopyStats{
		expected: expected,
		start:    time.Now(),
	}
}

// RecordBytes adds n transferred bytes.
func (s *CopyStats) RecordBytes(n int64) {
	s.total += n
	s.sinceReport += n
}

// TotalBytes returns the bytes transferred so far.
func (s *CopyStats) TotalBytes() int64 {
	return s.total
}

// SinceLastReport returns the bytes transferred since the last call to
// ResetReport.
func (s *CopyStats) SinceLastReport() int64 {
	return s.sinceReport
}

// ResetReport marks the current progress as reported.
func (s *CopyStats) ResetReport() {
	s.sinceReport = 0
}

// BytesPerSecond returns the average transfer rate since the fetch started.
func (s *CopyStats) BytesPerSecond() float64 {
	elapsed := time.Since(s.start).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(s.total) / elapsed
}

// PercentCopied returns transfer progress in percent, or 0 when the
// expected size is unknown.
func (s *CopyStats) PercentCopied() float64 {
	if s.expected <= 0 {
		return 0
	}
	return float64(s.total) * 100 / float64(s.expected)
}

// statsDirName is the directory, next to the fetched version directories,
// holding one transfer report per fetch.
const statsDirName = ".stats"

// statsFile records per-file transfer outcomes for one fetch. All its
// operations are best effort; a stats failure never fails a fetch.
type statsFile struct {
	f      *os.File
	logger *logrus.Entry
}

// openStatsFile creates the stats file for a fetch into destDir, pruning
// old reports beyond maxVersions. It returns nil when the file cannot be
// created.
func openStatsFile(destDir string, maxVersions int, logger *logrus.Entry) *statsFile {
	dir := filepath.Join(filepath.Dir(destDir), statsDirName)

	if err := os.MkdirAll(dir, 0755); err != nil {
		logger.WithError(err).Warn("Cannot create stats directory")
		return nil
	}

	trimStatsFiles(dir, maxVersions, logger)

	f, err := os.Create(filepath.Join(dir, filepath.Base(destDir)))
	if err != nil {
		logger.WithError(err).Warn("Cannot create stats file")
		return nil
	}

	fmt.Fprintf(f, "file,bytes,millis,attempts,result\n")

	return &statsFile{f: f, logger: logger}
}

func (s *statsFile) record(name string, bytes int64, elapsed time.Duration, attempts int, err error) {
	if s == nil {
		return
	}

	result := "ok"
	if err != nil {
		result = err.Error()
	}

	fmt.Fprintf(s.f, "%s,%d,%d,%d,%s\n", name, bytes, elapsed.Milliseconds(), attempts, result)
}

func (s *statsFile) close() {
	if s == nil {
		return
	}

	if err := s.f.Close(); err != nil {
		s.logger.WithError(err).Warn("Cannot close stats file")
	}
}

// trimStatsFiles keeps the newest maxVersions-1 reports so that, with the
// file about to be created, at most maxVersions remain.
func trimStatsFiles(dir string, maxVersions int, logger *logrus.Entry) {
	if maxVersions <= 0 {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	type aged struct {
		name string
		mod  time.Time
	}

	files := make([]aged, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, aged{e.Name(), info.ModTime()})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].mod.After(files[j].mod) })

	for i := maxVersions - 1; i >= 0 && i < len(files); i++ {
		if err := os.Remove(filepath.Join(dir, files[i].name)); err != nil {
			logger.WithError(err).Warn("Cannot prune stats file")
		}
	}
}
