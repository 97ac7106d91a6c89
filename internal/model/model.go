package model

import "gorgonia.org/tensor"

// Batch is one minibatch of training or evaluation data: CHW image tensors,
// their one-hot labels, and the true class index per row.
type Batch struct {
	Inputs  *tensor.Dense
	Labels  *tensor.Dense
	Classes []int
}

// Model is the training functionality the trainer requires.
type Model interface {
	// TrainStep runs one optimization step and returns the batch loss and
	// categorical accuracy.
	TrainStep(batch Batch) (loss, acc float64, err error)
	// Predict runs a forward pass in evaluation mode over a full-size input
	// batch and returns one probability row per example.
	Predict(inputs *tensor.Dense) ([][]float32, error)
	// BatchSize is the fixed batch dimension the model was built with.
	BatchSize() int
}
