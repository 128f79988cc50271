// Package report owns the on-disk audit trail of a run: one append-only
// CSV per phase, a concatenated human-readable summary, and a zip archive
// for retention. Rows are never rewritten once appended.
package report

import (
	"archive/zip"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// CSV is an append-only CSV report file. The header row is written at
// creation; every Append flushes immediately so a crashed run still leaves
// complete rows behind.
type CSV struct {
	path   string
	file   *os.File
	writer *csv.Writer
}

// NewCSV creates `<name>_<ts>.csv` in dir and writes the header row.
func NewCSV(dir, name, ts string, header []string) (*CSV, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create reports dir %s: %w", dir, err)
	}

	path := filepath.Join(dir, fmt.Sprintf("%s_%s.csv", name, ts))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to create report %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to stat report %s: %w", path, err)
	}

	c := &CSV{path: path, file: f, writer: csv.NewWriter(f)}
	// Only a fresh file gets the header; re-opening an existing report must
	// keep a single header row.
	if info.Size() == 0 {
		if err := c.Append(header...); err != nil {
			_ = f.Close()
			return nil, err
		}
	}
	return c, nil
}

// Append writes one row and flushes it to disk.
func (c *CSV) Append(fields ...string) error {
	if err := c.writer.Write(fields); err != nil {
		return fmt.Errorf("failed to append to %s: %w", c.path, err)
	}
	c.writer.Flush()
	if err := c.writer.Error(); err != nil {
		return fmt.Errorf("failed to flush %s: %w", c.path, err)
	}
	return nil
}

// Path returns the report file path.
func (c *CSV) Path() string { return c.path }

// Close closes the underlying file.
func (c *CSV) Close() error {
	c.writer.Flush()
	return c.file.Close()
}

// Finalize concatenates the run's CSVs into migration_summary_<ts>.txt and
// archives them into migration_audit_<ts>.zip, returning the archive path.
// Only files carrying the run timestamp are folded in, so earlier runs
// sharing the reports dir stay out of the archive. It is purely additive
// over existing artifacts.
func Finalize(dir, ts string) (string, error) {
	csvs, err := filepath.Glob(filepath.Join(dir, fmt.Sprintf("*_%s.csv", ts)))
	if err != nil {
		return "", fmt.Errorf("failed to list reports in %s: %w", dir, err)
	}
	sort.Strings(csvs)

	summaryPath := filepath.Join(dir, fmt.Sprintf("migration_summary_%s.txt", ts))
	summary, err := os.Create(summaryPath)
	if err != nil {
		return "", fmt.Errorf("failed to create summary %s: %w", summaryPath, err)
	}
	defer summary.Close()

	archivePath := filepath.Join(dir, fmt.Sprintf("migration_audit_%s.zip", ts))
	archiveFile, err := os.Create(archivePath)
	if err != nil {
		return "", fmt.Errorf("failed to create archive %s: %w", archivePath, err)
	}
	defer archiveFile.Close()

	zw := zip.NewWriter(archiveFile)
	defer zw.Close()

	for _, path := range csvs {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read report %s: %w", path, err)
		}

		base := filepath.Base(path)
		fmt.Fprintf(summary, "==== %s ====\n", base)
		if _, err := summary.Write(data); err != nil {
			return "", fmt.Errorf("failed to write summary: %w", err)
		}
		if !strings.HasSuffix(string(data), "\n") {
			fmt.Fprintln(summary)
		}
		fmt.Fprintln(summary)

		entry, err := zw.Create(base)
		if err != nil {
			return "", fmt.Errorf("failed to add %s to archive: %w", base, err)
		}
		if _, err := io.Copy(entry, strings.NewReader(string(data))); err != nil {
			return "", fmt.Errorf("failed to archive %s: %w", base, err)
		}
	}

	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("failed to close archive %s: %w", archivePath, err)
	}
	return archivePath, nil
}
