package trainer

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"
	"gorgonia.org/tensor"

	"speedclass/internal/dataset"
	"speedclass/internal/metrics"
	"speedclass/internal/model"
)

// RunConfig captures the knobs required by the training loop.
type RunConfig struct {
	Model        model.Model
	Train        []dataset.Sample
	Test         []dataset.Sample
	Epochs       int
	BatchSize    int
	Augmenter    *dataset.Augmenter
	Seed         int64
	Log          *zap.SugaredLogger
	ShowProgress bool
}

// Run executes the full training workload: for each epoch, a seeded shuffle of
// the training set is consumed in augmented batches (steps = floor(len/batch)),
// then the untouched test set is evaluated. Returns the per-epoch history.
func Run(ctx context.Context, cfg RunConfig) (*metrics.History, error) {
	if cfg.Model == nil {
		return nil, errors.New("trainer: model is nil")
	}
	if cfg.Epochs <= 0 {
		return nil, errors.New("trainer: epochs must be > 0")
	}
	if cfg.BatchSize <= 0 {
		return nil, errors.New("trainer: batch size must be > 0")
	}
	steps := len(cfg.Train) / cfg.BatchSize
	if steps == 0 {
		return nil, errors.Errorf("trainer: training set of %d is smaller than batch size %d", len(cfg.Train), cfg.BatchSize)
	}
	if len(cfg.Test) == 0 {
		return nil, errors.New("trainer: validation set is empty")
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	history := &metrics.History{}
	var window metrics.Window

	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		perm := rng.Perm(len(cfg.Train))

		var bar *progressbar.ProgressBar
		if cfg.ShowProgress {
			bar = progressbar.NewOptions(steps,
				progressbar.OptionSetDescription(fmt.Sprintf("epoch %d/%d", epoch, cfg.Epochs)),
				progressbar.OptionSetWriter(os.Stderr),
				progressbar.OptionShowCount(),
			)
		}

		for step := 0; step < steps; step++ {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}

			startData := time.Now()
			indices := perm[step*cfg.BatchSize : (step+1)*cfg.BatchSize]
			batch := makeBatch(cfg.Train, indices, cfg.Augmenter)
			dataTime := time.Since(startData)

			startCompute := time.Now()
			loss, acc, err := cfg.Model.TrainStep(batch)
			if err != nil {
				return nil, errors.Wrapf(err, "epoch %d step %d", epoch, step+1)
			}
			computeTime := time.Since(startCompute)

			window.Record(cfg.BatchSize, dataTime, computeTime, loss, acc)
			if bar != nil {
				_ = bar.Add(1)
			}
		}
		if bar != nil {
			_ = bar.Finish()
		}

		snap := window.Snapshot()
		_, valLoss, valAcc, err := Evaluate(ctx, cfg.Model, cfg.Test)
		if err != nil {
			return nil, errors.Wrapf(err, "epoch %d validation", epoch)
		}
		history.Append(snap.AvgLoss, valLoss, snap.AvgAccuracy, valAcc)

		if cfg.Log != nil {
			cfg.Log.Infow("epoch complete",
				"epoch", epoch,
				"loss", snap.AvgLoss,
				"categorical_accuracy", snap.AvgAccuracy,
				"val_loss", valLoss,
				"val_categorical_accuracy", valAcc,
				"images_per_sec", snap.ImagesPerSec,
				"data_ms", snap.AvgDataMS,
				"compute_ms", snap.AvgComputeMS,
			)
		}
	}

	return history, nil
}

// Evaluate runs the model over samples in evaluation mode and returns arg-max
// predictions in sample order together with cross-entropy loss and categorical
// accuracy. Samples are fed in model-sized chunks; the final short chunk is
// zero-padded and the padded rows discarded.
func Evaluate(ctx context.Context, mdl model.Model, samples []dataset.Sample) ([]int, float64, float64, error) {
	if len(samples) == 0 {
		return nil, 0, 0, errors.New("trainer: nothing to evaluate")
	}
	bs := mdl.BatchSize()
	preds := make([]int, 0, len(samples))
	var lossSum float64
	correct := 0

	for start := 0; start < len(samples); start += bs {
		select {
		case <-ctx.Done():
			return nil, 0, 0, ctx.Err()
		default:
		}

		end := start + bs
		if end > len(samples) {
			end = len(samples)
		}
		chunk := samples[start:end]
		inputs := makeInputs(samples, rangeIndices(start, end), bs)

		rows, err := mdl.Predict(inputs)
		if err != nil {
			return nil, 0, 0, err
		}
		for i, sample := range chunk {
			row := rows[i]
			pred := model.Argmax(row)
			preds = append(preds, pred)
			if pred == sample.Class {
				correct++
			}
			p := float64(row[sample.Class])
			lossSum += -math.Log(p + 1e-8)
		}
	}

	n := float64(len(samples))
	return preds, lossSum / n, float64(correct) / n, nil
}

func rangeIndices(start, end int) []int {
	out := make([]int, end-start)
	for i := range out {
		out[i] = start + i
	}
	return out
}

// makeBatch assembles a full training batch, augmenting each drawn sample.
func makeBatch(samples []dataset.Sample, indices []int, aug *dataset.Augmenter) model.Batch {
	size := samples[indices[0]].Img.Bounds().Dx()
	plane := 3 * size * size
	bs := len(indices)

	inputs := make([]float32, bs*plane)
	labels := make([]float32, bs*dataset.NumClasses)
	classes := make([]int, bs)

	for i, idx := range indices {
		img := samples[idx].Img
		if aug != nil {
			img = aug.Apply(img)
		}
		dataset.FillCHW(img, inputs[i*plane:(i+1)*plane])
		labels[i*dataset.NumClasses+samples[idx].Class] = 1
		classes[i] = samples[idx].Class
	}

	return model.Batch{
		Inputs:  tensor.New(tensor.WithShape(bs, 3, size, size), tensor.WithBacking(inputs)),
		Labels:  tensor.New(tensor.WithShape(bs, dataset.NumClasses), tensor.WithBacking(labels)),
		Classes: classes,
	}
}

// makeInputs assembles an unaugmented input tensor padded up to batchSize rows.
func makeInputs(samples []dataset.Sample, indices []int, batchSize int) *tensor.Dense {
	size := samples[indices[0]].Img.Bounds().Dx()
	plane := 3 * size * size
	inputs := make([]float32, batchSize*plane)
	for i, idx := range indices {
		dataset.FillCHW(samples[idx].Img, inputs[i*plane:(i+1)*plane])
	}
	return tensor.New(tensor.WithShape(batchSize, 3, size, size), tensor.WithBacking(inputs))
}
