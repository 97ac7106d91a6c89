package model

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func testConfig(regularized bool) Config {
	return Config{
		BatchSize:    2,
		ImageSize:    16,
		NumClasses:   5,
		Regularized:  regularized,
		LearningRate: 0.05,
		WeightDecay:  0.005,
		DropoutRate:  0.5,
		Seed:         42,
	}
}

func randomInputs(t *testing.T, cfg Config, seed int64) *tensor.Dense {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	n := cfg.BatchSize * 3 * cfg.ImageSize * cfg.ImageSize
	data := make([]float32, n)
	for i := range data {
		data[i] = rng.Float32()
	}
	return tensor.New(
		tensor.WithShape(cfg.BatchSize, 3, cfg.ImageSize, cfg.ImageSize),
		tensor.WithBacking(data),
	)
}

func oneHotLabels(cfg Config, classes []int) *tensor.Dense {
	data := make([]float32, cfg.BatchSize*cfg.NumClasses)
	for i, class := range classes {
		data[i*cfg.NumClasses+class] = 1
	}
	return tensor.New(tensor.WithShape(cfg.BatchSize, cfg.NumClasses), tensor.WithBacking(data))
}

func TestConfigValidate(t *testing.T) {
	good := testConfig(true)
	require.NoError(t, good.Validate())

	bad := good
	bad.ImageSize = 20
	require.Error(t, bad.Validate())

	bad = good
	bad.BatchSize = 0
	require.Error(t, bad.Validate())

	bad = good
	bad.DropoutRate = 1
	require.Error(t, bad.Validate())
}

func TestBuildTopologyRegularizedVsPlain(t *testing.T) {
	reg, err := New(testConfig(true))
	require.NoError(t, err)
	defer reg.Close()

	plain, err := New(testConfig(false))
	require.NoError(t, err)
	defer plain.Close()

	// Dropout after each conv stage and after the dense layer.
	assert.Equal(t, 4, reg.DropoutCount())
	assert.Equal(t, 0, plain.DropoutCount())
	assert.True(t, reg.HasPenalty())
	assert.False(t, plain.HasPenalty())

	// Same trainable surface and output shape either way.
	assert.Equal(t, len(plain.Learnables()), len(reg.Learnables()))
	assert.Equal(t, tensor.Shape{2, 5}, reg.OutputShape())
	assert.Equal(t, tensor.Shape{2, 5}, plain.OutputShape())
}

func TestPredictProbabilitiesSumToOne(t *testing.T) {
	cfg := testConfig(false)
	mdl, err := New(cfg)
	require.NoError(t, err)
	defer mdl.Close()

	rows, err := mdl.Predict(randomInputs(t, cfg, 1))
	require.NoError(t, err)
	require.Len(t, rows, cfg.BatchSize)
	for _, row := range rows {
		require.Len(t, row, cfg.NumClasses)
		sum := 0.0
		for _, p := range row {
			require.GreaterOrEqual(t, p, float32(0))
			sum += float64(p)
		}
		assert.InDelta(t, 1.0, sum, 1e-3)
	}
}

func TestPredictEvalModeIsDeterministic(t *testing.T) {
	cfg := testConfig(true)
	mdl, err := New(cfg)
	require.NoError(t, err)
	defer mdl.Close()

	inputs := randomInputs(t, cfg, 4)

	// Identity dropout masks and running batch-norm stats: repeated forward
	// passes over the same inputs must agree exactly.
	first, err := mdl.Predict(inputs)
	require.NoError(t, err)
	second, err := mdl.Predict(inputs)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	batch := Batch{
		Inputs:  randomInputs(t, cfg, 5),
		Labels:  oneHotLabels(cfg, []int{0, 4}),
		Classes: []int{0, 4},
	}
	_, _, err = mdl.TrainStep(batch)
	require.NoError(t, err)

	// Training updates weights and running stats, so the distribution moves,
	// but evaluation mode stays deterministic afterwards.
	third, err := mdl.Predict(inputs)
	require.NoError(t, err)
	fourth, err := mdl.Predict(inputs)
	require.NoError(t, err)
	assert.Equal(t, third, fourth)
}

func TestTrainStepReducesLoss(t *testing.T) {
	cfg := testConfig(false)
	mdl, err := New(cfg)
	require.NoError(t, err)
	defer mdl.Close()

	batch := Batch{
		Inputs:  randomInputs(t, cfg, 2),
		Labels:  oneHotLabels(cfg, []int{0, 3}),
		Classes: []int{0, 3},
	}

	first, _, err := mdl.TrainStep(batch)
	require.NoError(t, err)
	require.False(t, math.IsNaN(first))

	last := first
	for i := 0; i < 10; i++ {
		last, _, err = mdl.TrainStep(batch)
		require.NoError(t, err)
	}
	assert.Less(t, last, first)
}

func TestTrainStepRegularizedRuns(t *testing.T) {
	cfg := testConfig(true)
	mdl, err := New(cfg)
	require.NoError(t, err)
	defer mdl.Close()

	batch := Batch{
		Inputs:  randomInputs(t, cfg, 3),
		Labels:  oneHotLabels(cfg, []int{1, 2}),
		Classes: []int{1, 2},
	}
	loss, acc, err := mdl.TrainStep(batch)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(loss))
	assert.GreaterOrEqual(t, acc, 0.0)
	assert.LessOrEqual(t, acc, 1.0)
}

func TestArgmax(t *testing.T) {
	assert.Equal(t, 2, Argmax([]float32{0.1, 0.2, 0.5, 0.1, 0.1}))
	assert.Equal(t, 0, Argmax([]float32{0.9, 0.05, 0.05}))
}
