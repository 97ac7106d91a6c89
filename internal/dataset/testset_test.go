package dataset

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func writeLabelsXLSX(t *testing.T, path string, rows [][]interface{}) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"filename", "speed"}))
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &row))
	}
	require.NoError(t, f.SaveAs(path))
}

func TestLoadTestSetRowOrder(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 20, 20)
	writePNG(t, filepath.Join(dir, "b.png"), 20, 20)
	labels := filepath.Join(dir, "labels.xlsx")
	writeLabelsXLSX(t, labels, [][]interface{}{
		{"b.png", 0.005},
		{"a.png", 0.04},
	})

	samples, rep, err := LoadTestSet(context.Background(), TestLoadOptions{
		Dir:        dir,
		LabelsFile: labels,
		ImageSize:  16,
	})
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, 2, rep.Loaded)
	assert.Equal(t, 1, samples[0].Class)
	assert.Equal(t, 4, samples[1].Class)
	assert.Equal(t, filepath.Join(dir, "b.png"), samples[0].Path)
}

func TestLoadTestSetSkipsUnknownSpeed(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "a.png"), 20, 20)
	writePNG(t, filepath.Join(dir, "b.png"), 20, 20)
	labels := filepath.Join(dir, "labels.xlsx")
	writeLabelsXLSX(t, labels, [][]interface{}{
		{"a.png", 0.123},
		{"b.png", 0.01},
	})

	samples, rep, err := LoadTestSet(context.Background(), TestLoadOptions{
		Dir:        dir,
		LabelsFile: labels,
		ImageSize:  16,
	})
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 2, samples[0].Class)
	require.Len(t, rep.Skipped, 1)
	assert.Contains(t, rep.Skipped[0].Reason, "unknown speed")
}

func TestLoadTestSetSkipsMissingFile(t *testing.T) {
	dir := t.TempDir()
	writePNG(t, filepath.Join(dir, "real.png"), 20, 20)
	labels := filepath.Join(dir, "labels.xlsx")
	writeLabelsXLSX(t, labels, [][]interface{}{
		{"ghost.png", 0.0025},
		{"real.png", 0.0025},
	})

	samples, rep, err := LoadTestSet(context.Background(), TestLoadOptions{
		Dir:        dir,
		LabelsFile: labels,
		ImageSize:  16,
	})
	require.NoError(t, err)
	require.Len(t, samples, 1)
	require.Len(t, rep.Skipped, 1)
	assert.Contains(t, rep.Skipped[0].Path, "ghost.png")
}

func TestLoadTestSetRequiresColumns(t *testing.T) {
	dir := t.TempDir()
	labels := filepath.Join(dir, "labels.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"file", "velocity"}))
	require.NoError(t, f.SaveAs(labels))
	require.NoError(t, f.Close())

	_, _, err := LoadTestSet(context.Background(), TestLoadOptions{
		Dir:        dir,
		LabelsFile: labels,
		ImageSize:  16,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "filename and speed")
}
