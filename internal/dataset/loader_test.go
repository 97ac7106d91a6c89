package dataset

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTrainingSetCountsAndOrder(t *testing.T) {
	temp := t.TempDir()
	slow := filepath.Join(temp, "velocity_0.0025")
	fast := filepath.Join(temp, "velocity_0.01")
	for i := 0; i < 3; i++ {
		writePNG(t, filepath.Join(slow, fmt.Sprintf("img_%d.png", i)), 20, 20)
	}
	for i := 0; i < 2; i++ {
		writePNG(t, filepath.Join(fast, fmt.Sprintf("img_%d.png", i)), 20, 20)
	}

	samples, rep, err := LoadTrainingSet(context.Background(), TrainLoadOptions{
		Dirs: []SpeedDir{
			{Dir: slow, Speed: 0.0025},
			{Dir: fast, Speed: 0.01},
		},
		ImageSize: 16,
		Workers:   4,
	})
	require.NoError(t, err)
	require.Len(t, samples, 5)
	assert.Equal(t, 5, rep.Loaded)
	assert.Empty(t, rep.Skipped)

	// Directory-then-file order regardless of worker count.
	for i := 0; i < 3; i++ {
		assert.Equal(t, 0, samples[i].Class)
		assert.Equal(t, 0.0025, samples[i].Speed)
	}
	for i := 3; i < 5; i++ {
		assert.Equal(t, 2, samples[i].Class)
	}
	assert.Equal(t, filepath.Join(slow, "img_0.png"), samples[0].Path)
	assert.Equal(t, filepath.Join(fast, "img_1.png"), samples[4].Path)
}

func TestLoadTrainingSetSkipsMissingDirectory(t *testing.T) {
	temp := t.TempDir()
	present := filepath.Join(temp, "velocity_0.005")
	writePNG(t, filepath.Join(present, "a.png"), 20, 20)

	samples, rep, err := LoadTrainingSet(context.Background(), TrainLoadOptions{
		Dirs: []SpeedDir{
			{Dir: filepath.Join(temp, "does-not-exist"), Speed: 0.0025},
			{Dir: present, Speed: 0.005},
		},
		ImageSize: 16,
		Workers:   1,
	})
	require.NoError(t, err)
	require.Len(t, samples, 1)
	require.Len(t, rep.Skipped, 1)
	assert.Contains(t, rep.Skipped[0].Reason, "does not exist")
}

func TestLoadTrainingSetSkipsCorruptFile(t *testing.T) {
	temp := t.TempDir()
	dir := filepath.Join(temp, "velocity_0.02")
	writePNG(t, filepath.Join(dir, "good.png"), 20, 20)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.png"), []byte("garbage"), 0o644))

	samples, rep, err := LoadTrainingSet(context.Background(), TrainLoadOptions{
		Dirs:      []SpeedDir{{Dir: dir, Speed: 0.02}},
		ImageSize: 16,
		Workers:   2,
	})
	require.NoError(t, err)
	require.Len(t, samples, 1)
	assert.Equal(t, 1, rep.Loaded)
	require.Len(t, rep.Skipped, 1)
	assert.Contains(t, rep.Skipped[0].Path, "bad.png")
}

func TestLoadTrainingSetUnknownSpeedFails(t *testing.T) {
	temp := t.TempDir()
	dir := filepath.Join(temp, "velocity_0.5")
	writePNG(t, filepath.Join(dir, "a.png"), 20, 20)

	_, _, err := LoadTrainingSet(context.Background(), TrainLoadOptions{
		Dirs:      []SpeedDir{{Dir: dir, Speed: 0.5}},
		ImageSize: 16,
		Workers:   1,
	})
	require.Error(t, err)
}

func TestLoadTrainingSetCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	temp := t.TempDir()
	dir := filepath.Join(temp, "velocity_0.01")
	for i := 0; i < 8; i++ {
		writePNG(t, filepath.Join(dir, fmt.Sprintf("img_%d.png", i)), 20, 20)
	}

	_, _, err := LoadTrainingSet(ctx, TrainLoadOptions{
		Dirs:      []SpeedDir{{Dir: dir, Speed: 0.01}},
		ImageSize: 16,
		Workers:   1,
	})
	require.ErrorIs(t, err, context.Canceled)
}
