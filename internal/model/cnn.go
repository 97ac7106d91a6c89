package model

import (
	"math"
	"math/rand"

	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Batch-norm constants follow the defaults of the reference training pipeline.
const (
	bnMomentum = 0.99
	bnEpsilon  = 1e-3
	logEpsilon = 1e-8
)

// Config fixes the shape and hyperparameters of a classifier build.
type Config struct {
	BatchSize    int
	ImageSize    int
	NumClasses   int
	Regularized  bool
	LearningRate float64
	WeightDecay  float64
	DropoutRate  float64
	Seed         int64
}

// Validate verifies the build configuration.
func (c Config) Validate() error {
	if c.BatchSize <= 0 {
		return errors.Errorf("model: batch size must be > 0 (got %d)", c.BatchSize)
	}
	if c.ImageSize <= 0 || c.ImageSize%8 != 0 {
		return errors.Errorf("model: image size must be a positive multiple of 8 (got %d)", c.ImageSize)
	}
	if c.NumClasses <= 0 {
		return errors.Errorf("model: num classes must be > 0 (got %d)", c.NumClasses)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("model: learning rate must be > 0 (got %v)", c.LearningRate)
	}
	if c.Regularized {
		if c.WeightDecay <= 0 {
			return errors.Errorf("model: weight decay must be > 0 when regularized (got %v)", c.WeightDecay)
		}
		if c.DropoutRate <= 0 || c.DropoutRate >= 1 {
			return errors.Errorf("model: dropout rate must be in (0,1) (got %v)", c.DropoutRate)
		}
	}
	return nil
}

// Classifier is the fixed-topology convolutional network: three 5×5 conv
// stages (32→64→128 channels, batch norm, ReLU, 2×2 max pool), a dense layer
// of width 256 with batch norm and ReLU, and a softmax output over the speed
// classes. When regularized, each stage is followed by dropout and every
// non-output kernel carries an L2 penalty added to the loss.
//
// Dropout is expressed as mask inputs fed per step: inverted-dropout masks
// sampled from the model's seeded RNG during training, identity masks during
// evaluation. Batch-norm ops are switched between training and inference mode
// the same way.
type Classifier struct {
	cfg Config

	g     *G.ExprGraph
	x     *G.Node
	y     *G.Node
	probs *G.Node
	loss  *G.Node

	learnables G.Nodes
	kernels    G.Nodes
	bnOps      []*G.BatchNormOp
	masks      G.Nodes
	hasPenalty bool

	vm     G.VM
	solver G.Solver

	rng        *rand.Rand
	zeroLabels *tensor.Dense
}

// New builds an untrained classifier from cfg. Construction is pure: weights
// are initialized from cfg.Seed and nothing runs until TrainStep or Predict.
func New(cfg Config) (*Classifier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Classifier{
		cfg: cfg,
		g:   G.NewGraph(),
		rng: rand.New(rand.NewSource(cfg.Seed)),
	}

	bs, size := cfg.BatchSize, cfg.ImageSize
	c.x = G.NewTensor(c.g, tensor.Float32, 4, G.WithShape(bs, 3, size, size), G.WithName("x"))
	c.y = G.NewMatrix(c.g, tensor.Float32, G.WithShape(bs, cfg.NumClasses), G.WithName("y"))

	w1 := c.newWeight("w1", 32, 3, 5, 5)
	w2 := c.newWeight("w2", 64, 32, 5, 5)
	w3 := c.newWeight("w3", 128, 64, 5, 5)

	h, err := c.convStage(c.x, w1, "stage1")
	if err != nil {
		return nil, err
	}
	if h, err = c.convStage(h, w2, "stage2"); err != nil {
		return nil, err
	}
	if h, err = c.convStage(h, w3, "stage3"); err != nil {
		return nil, err
	}

	flat := 128 * (size / 8) * (size / 8)
	if h, err = G.Reshape(h, tensor.Shape{bs, flat}); err != nil {
		return nil, errors.Wrap(err, "flatten")
	}

	w4 := c.newWeight("w4", flat, 256)
	if h, err = G.Mul(h, w4); err != nil {
		return nil, errors.Wrap(err, "dense")
	}
	if h, err = c.batchNorm2D(h, 256); err != nil {
		return nil, err
	}
	h = G.Must(G.Rectify(h))
	if h, err = c.dropout(h, "dense"); err != nil {
		return nil, err
	}

	w5 := c.newWeight("w5", 256, cfg.NumClasses)
	b5 := c.newBias("b5", cfg.NumClasses)
	logits, err := G.Mul(h, w5)
	if err != nil {
		return nil, errors.Wrap(err, "output")
	}
	if logits, err = G.BroadcastAdd(logits, b5, nil, []byte{0}); err != nil {
		return nil, errors.Wrap(err, "output bias")
	}
	if c.probs, err = G.SoftMax(logits, 1); err != nil {
		return nil, errors.Wrap(err, "softmax")
	}

	if err = c.buildLoss(w1, w2, w3, w4); err != nil {
		return nil, err
	}

	if _, err = G.Grad(c.loss, c.learnables...); err != nil {
		return nil, errors.Wrap(err, "gradients")
	}

	c.vm = G.NewTapeMachine(c.g, G.BindDualValues(c.learnables...))
	c.solver = G.NewAdamSolver(
		G.WithLearnRate(cfg.LearningRate),
		G.WithBatchSize(float64(cfg.BatchSize)),
	)

	zeros := make([]float32, bs*cfg.NumClasses)
	c.zeroLabels = tensor.New(tensor.WithShape(bs, cfg.NumClasses), tensor.WithBacking(zeros))

	return c, nil
}

func (c *Classifier) convStage(x, w *G.Node, name string) (*G.Node, error) {
	conv, err := G.Conv2d(x, w, tensor.Shape{5, 5}, []int{2, 2}, []int{1, 1}, []int{1, 1})
	if err != nil {
		return nil, errors.Wrapf(err, "%s: conv", name)
	}
	bn, err := c.batchNorm(conv)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: batch norm", name)
	}
	act := G.Must(G.Rectify(bn))
	pooled, err := G.MaxPool2D(act, tensor.Shape{2, 2}, []int{0, 0}, []int{2, 2})
	if err != nil {
		return nil, errors.Wrapf(err, "%s: max pool", name)
	}
	return c.dropout(pooled, name)
}

func (c *Classifier) batchNorm(x *G.Node) (*G.Node, error) {
	out, gamma, beta, op, err := G.BatchNorm(x, nil, nil, bnMomentum, bnEpsilon)
	if err != nil {
		return nil, err
	}
	c.learnables = append(c.learnables, gamma, beta)
	c.bnOps = append(c.bnOps, op)
	return out, nil
}

// batchNorm2D lifts a (batch, features) activation into 4D so the batch-norm
// op can treat features as channels, then flattens it back.
func (c *Classifier) batchNorm2D(x *G.Node, features int) (*G.Node, error) {
	lifted, err := G.Reshape(x, tensor.Shape{c.cfg.BatchSize, features, 1, 1})
	if err != nil {
		return nil, errors.Wrap(err, "dense batch norm: lift")
	}
	bn, err := c.batchNorm(lifted)
	if err != nil {
		return nil, errors.Wrap(err, "dense batch norm")
	}
	out, err := G.Reshape(bn, tensor.Shape{c.cfg.BatchSize, features})
	if err != nil {
		return nil, errors.Wrap(err, "dense batch norm: flatten")
	}
	return out, nil
}

func (c *Classifier) dropout(x *G.Node, name string) (*G.Node, error) {
	if !c.cfg.Regularized {
		return x, nil
	}
	shape := x.Shape().Clone()
	var mask *G.Node
	if len(shape) == 4 {
		mask = G.NewTensor(c.g, tensor.Float32, 4, G.WithShape(shape...), G.WithName("drop_"+name))
	} else {
		mask = G.NewMatrix(c.g, tensor.Float32, G.WithShape(shape...), G.WithName("drop_"+name))
	}
	c.masks = append(c.masks, mask)
	out, err := G.HadamardProd(x, mask)
	if err != nil {
		return nil, errors.Wrapf(err, "%s: dropout", name)
	}
	return out, nil
}

func (c *Classifier) buildLoss(kernels ...*G.Node) error {
	logp, err := G.Log(G.Must(G.Add(c.probs, G.NewConstant(float32(logEpsilon)))))
	if err != nil {
		return errors.Wrap(err, "log probabilities")
	}
	perExample, err := G.Sum(G.Must(G.HadamardProd(c.y, logp)), 1)
	if err != nil {
		return errors.Wrap(err, "cross entropy")
	}
	ce := G.Must(G.Neg(G.Must(G.Mean(perExample))))

	c.loss = ce
	c.kernels = kernels
	if !c.cfg.Regularized {
		return nil
	}

	var total *G.Node
	for _, w := range kernels {
		sq, err := G.Sum(G.Must(G.Square(w)))
		if err != nil {
			return errors.Wrapf(err, "l2 penalty for %s", w.Name())
		}
		if total == nil {
			total = sq
			continue
		}
		if total, err = G.Add(total, sq); err != nil {
			return errors.Wrap(err, "l2 penalty")
		}
	}
	penalty := G.Must(G.Mul(G.NewConstant(float32(c.cfg.WeightDecay)), total))
	loss, err := G.Add(ce, penalty)
	if err != nil {
		return errors.Wrap(err, "regularized loss")
	}
	c.loss = loss
	c.hasPenalty = true
	return nil
}

func (c *Classifier) newWeight(name string, shape ...int) *G.Node {
	fanIn, fanOut := fans(shape)
	std := math.Sqrt(2.0 / float64(fanIn+fanOut))
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(c.rng.NormFloat64() * std)
	}
	val := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	node := G.NewTensor(c.g, tensor.Float32, len(shape), G.WithShape(shape...), G.WithName(name), G.WithValue(val))
	c.learnables = append(c.learnables, node)
	return node
}

func (c *Classifier) newBias(name string, width int) *G.Node {
	val := tensor.New(tensor.WithShape(1, width), tensor.WithBacking(make([]float32, width)))
	node := G.NewMatrix(c.g, tensor.Float32, G.WithShape(1, width), G.WithName(name), G.WithValue(val))
	c.learnables = append(c.learnables, node)
	return node
}

// fans computes fan-in and fan-out for Glorot initialization. Conv kernels are
// (out, in, kh, kw); dense kernels are (in, out).
func fans(shape []int) (fanIn, fanOut int) {
	switch len(shape) {
	case 4:
		receptive := shape[2] * shape[3]
		return shape[1] * receptive, shape[0] * receptive
	case 2:
		return shape[0], shape[1]
	default:
		return 1, 1
	}
}

// TrainStep runs one optimization step over batch and returns the training
// loss (including any L2 penalty) and categorical accuracy.
func (c *Classifier) TrainStep(batch Batch) (float64, float64, error) {
	c.setTraining(true)
	if err := G.Let(c.x, batch.Inputs); err != nil {
		return 0, 0, errors.Wrap(err, "feed inputs")
	}
	if err := G.Let(c.y, batch.Labels); err != nil {
		return 0, 0, errors.Wrap(err, "feed labels")
	}
	if err := c.feedMasks(true); err != nil {
		return 0, 0, err
	}
	if err := c.vm.RunAll(); err != nil {
		return 0, 0, errors.Wrap(err, "train step")
	}

	loss := float64(c.loss.Value().Data().(float32))
	acc := accuracy(c.probRows(), batch.Classes)

	if err := c.solver.Step(G.NodesToValueGrads(c.learnables)); err != nil {
		return 0, 0, errors.Wrap(err, "solver step")
	}
	c.vm.Reset()
	return loss, acc, nil
}

// Predict runs a forward pass in evaluation mode: inference-mode batch norm
// and identity dropout masks. inputs must have the model's full batch
// dimension; callers pad short batches and discard the padded rows.
//
// The shared tape machine replays the backward pass too; gradients are
// computed and discarded. Evaluation is a small fraction of a training run,
// so a second forward-only machine has not been worth the extra graph.
func (c *Classifier) Predict(inputs *tensor.Dense) ([][]float32, error) {
	c.setTraining(false)
	if err := G.Let(c.x, inputs); err != nil {
		return nil, errors.Wrap(err, "feed inputs")
	}
	if err := G.Let(c.y, c.zeroLabels); err != nil {
		return nil, errors.Wrap(err, "feed labels")
	}
	if err := c.feedMasks(false); err != nil {
		return nil, err
	}
	if err := c.vm.RunAll(); err != nil {
		return nil, errors.Wrap(err, "forward pass")
	}
	rows := c.probRows()
	c.vm.Reset()
	return rows, nil
}

func (c *Classifier) probRows() [][]float32 {
	data := c.probs.Value().Data().([]float32)
	rows := make([][]float32, c.cfg.BatchSize)
	for i := range rows {
		row := make([]float32, c.cfg.NumClasses)
		copy(row, data[i*c.cfg.NumClasses:(i+1)*c.cfg.NumClasses])
		rows[i] = row
	}
	return rows
}

func (c *Classifier) setTraining(training bool) {
	for _, op := range c.bnOps {
		op.SetTraining(training)
	}
}

func (c *Classifier) feedMasks(training bool) error {
	keepScale := float32(1)
	if c.cfg.DropoutRate > 0 {
		keepScale = float32(1 / (1 - c.cfg.DropoutRate))
	}
	for _, mask := range c.masks {
		shape := mask.Shape()
		n := shape.TotalSize()
		data := make([]float32, n)
		for i := range data {
			if training && c.rng.Float64() < c.cfg.DropoutRate {
				continue
			}
			if training {
				data[i] = keepScale
			} else {
				data[i] = 1
			}
		}
		val := tensor.New(tensor.WithShape(shape.Clone()...), tensor.WithBacking(data))
		if err := G.Let(mask, val); err != nil {
			return errors.Wrapf(err, "feed mask %s", mask.Name())
		}
	}
	return nil
}

// BatchSize returns the fixed batch dimension the graph was built with.
func (c *Classifier) BatchSize() int { return c.cfg.BatchSize }

// NumClasses returns the width of the output distribution.
func (c *Classifier) NumClasses() int { return c.cfg.NumClasses }

// Learnables exposes the trainable nodes.
func (c *Classifier) Learnables() G.Nodes { return c.learnables }

// DropoutCount reports how many dropout points the build carries.
func (c *Classifier) DropoutCount() int { return len(c.masks) }

// HasPenalty reports whether the loss includes an L2 weight penalty.
func (c *Classifier) HasPenalty() bool { return c.hasPenalty }

// OutputShape returns the shape of the probability output.
func (c *Classifier) OutputShape() tensor.Shape { return c.probs.Shape() }

// Close releases the underlying virtual machine.
func (c *Classifier) Close() error { return c.vm.Close() }

func accuracy(rows [][]float32, classes []int) float64 {
	if len(rows) == 0 || len(classes) == 0 {
		return 0
	}
	correct := 0
	n := len(classes)
	if n > len(rows) {
		n = len(rows)
	}
	for i := 0; i < n; i++ {
		if Argmax(rows[i]) == classes[i] {
			correct++
		}
	}
	return float64(correct) / float64(n)
}

// Argmax returns the index of the largest value in row.
func Argmax(row []float32) int {
	best := 0
	for i, v := range row {
		if v > row[best] {
			best = i
		}
	}
	return best
}
