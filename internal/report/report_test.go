package report

import (
	"archive/zip"
	csvpkg "encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSVAppendOnly(t *testing.T) {
	dir := t.TempDir()
	csv, err := NewCSV(dir, "shutdown", "ts", []string{"Node", "Type", "ID", "Name", "Result", "Seconds"})
	require.NoError(t, err)

	const n = 5
	for i := 0; i < n; i++ {
		require.NoError(t, csv.Append("pm1", "VM", strconv.Itoa(100+i), "guest", "SUCCESS", "10"))
	}
	require.NoError(t, csv.Close())

	f, err := os.Open(csv.Path())
	require.NoError(t, err)
	defer f.Close()

	rows, err := csvpkg.NewReader(f).ReadAll()
	require.NoError(t, err)
	// Exactly N rows plus the header, nothing rewritten.
	assert.Len(t, rows, n+1)
	assert.Equal(t, "Node", rows[0][0])
	assert.Equal(t, "104", rows[n][2])
}

func TestCSVReopenKeepsSingleHeader(t *testing.T) {
	dir := t.TempDir()
	header := []string{"Node", "Type", "ID", "Name", "Result", "Seconds"}

	csv, err := NewCSV(dir, "shutdown", "ts", header)
	require.NoError(t, err)
	require.NoError(t, csv.Append("pm1", "VM", "100", "guest", "SUCCESS", "10"))
	require.NoError(t, csv.Close())

	// A later writer appending to the same report must not add a second
	// header row.
	csv2, err := NewCSV(dir, "shutdown", "ts", header)
	require.NoError(t, err)
	require.NoError(t, csv2.Append("pm1", "VM", "101", "guest", "SUCCESS", "12"))
	require.NoError(t, csv2.Close())

	f, err := os.Open(csv2.Path())
	require.NoError(t, err)
	defer f.Close()

	rows, err := csvpkg.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Node", rows[0][0])
	for _, row := range rows[1:] {
		assert.NotEqual(t, "Node", row[0])
	}
}

func TestFinalize(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"shutdown", "network_baseline", "network_postlacp"} {
		csv, err := NewCSV(dir, name, "ts", []string{"A", "B"})
		require.NoError(t, err)
		require.NoError(t, csv.Append("1", "2"))
		require.NoError(t, csv.Close())
	}

	// An earlier run sharing the dir stays out of this run's artifacts.
	stale, err := NewCSV(dir, "shutdown", "oldts", []string{"A", "B"})
	require.NoError(t, err)
	require.NoError(t, stale.Close())

	archivePath, err := Finalize(dir, "ts")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "migration_audit_ts.zip"), archivePath)

	summary, err := os.ReadFile(filepath.Join(dir, "migration_summary_ts.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(summary), "==== shutdown_ts.csv ====")
	assert.Contains(t, string(summary), "==== network_baseline_ts.csv ====")
	assert.Contains(t, string(summary), "==== network_postlacp_ts.csv ====")
	assert.NotContains(t, string(summary), "shutdown_oldts.csv")
	assert.Contains(t, string(summary), "A,B")

	zr, err := zip.OpenReader(archivePath)
	require.NoError(t, err)
	defer zr.Close()
	assert.Len(t, zr.File, 3)
}

func TestFinalizeEmptyDir(t *testing.T) {
	dir := t.TempDir()
	archivePath, err := Finalize(dir, "ts")
	require.NoError(t, err)

	zr, err := zip.OpenReader(archivePath)
	require.NoError(t, err)
	defer zr.Close()
	assert.Empty(t, zr.File)
}
