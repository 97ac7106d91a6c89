package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistoryAppend(t *testing.T) {
	h := &History{}
	h.Append(1.5, 1.7, 0.3, 0.2)
	h.Append(1.2, 1.6, 0.4, 0.3)

	assert.Equal(t, 2, h.Epochs())
	assert.Equal(t, []float64{1.5, 1.2}, h.Loss)
	assert.Equal(t, []float64{1.7, 1.6}, h.ValLoss)
	assert.Equal(t, []float64{0.3, 0.4}, h.Accuracy)
	assert.Equal(t, []float64{0.2, 0.3}, h.ValAccuracy)
}

func TestHistoryWriteCSV(t *testing.T) {
	h := &History{}
	h.Append(1.5, 1.7, 0.3, 0.2)
	h.Append(1.2, 1.6, 0.4, 0.3)

	path := filepath.Join(t.TempDir(), "history.csv")
	require.NoError(t, h.WriteCSV(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "epoch")
	assert.Contains(t, lines[0], "val_categorical_accuracy")
	assert.Contains(t, lines[1], "1.5")
}
