package config

import (
	"sort"
	"strconv"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"speedclass/internal/dataset"
)

// TrainDir pairs a training-image directory with the speed its images were
// recorded at.
type TrainDir struct {
	Dir   string  `mapstructure:"dir"`
	Speed float64 `mapstructure:"speed"`
}

// Config captures the runtime knobs for a training run. Defaults match the
// reference pipeline: 224×224 images, batch 64, 50 epochs, Adam at 1e-5,
// regularization on.
type Config struct {
	TrainDirs      []TrainDir `mapstructure:"train_dirs"`
	TestDir        string     `mapstructure:"test_dir"`
	TestLabelsFile string     `mapstructure:"test_labels_file"`
	ImageSize      int        `mapstructure:"image_size"`
	BatchSize      int        `mapstructure:"batch_size"`
	Epochs         int        `mapstructure:"epochs"`
	LearningRate   float64    `mapstructure:"learning_rate"`
	Regularized    bool       `mapstructure:"regularized"`
	WeightDecay    float64    `mapstructure:"weight_decay"`
	DropoutRate    float64    `mapstructure:"dropout_rate"`
	Seed           int64      `mapstructure:"seed"`
	NumWorkers     int        `mapstructure:"num_workers"`
	HistoryCSV     string     `mapstructure:"history_csv"`
	PlotFile       string     `mapstructure:"plot_file"`
	ShowProgress   bool       `mapstructure:"show_progress"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Epochs     int
	BatchSize  int
	NumWorkers int
	Seed       int64
	PlotFile   string
	HistoryCSV string
}

// Default returns the configuration of the reference run.
func Default() *Config {
	trainDirs := make([]TrainDir, 0, dataset.NumClasses)
	for _, speed := range dataset.KnownSpeeds() {
		trainDirs = append(trainDirs, TrainDir{
			Dir:   "data/train/velocity_" + strconv.FormatFloat(speed, 'f', -1, 64),
			Speed: speed,
		})
	}
	return &Config{
		TrainDirs:      trainDirs,
		TestDir:        "data/test",
		TestLabelsFile: "data/test/test_images_speeds.xlsx",
		ImageSize:      224,
		BatchSize:      64,
		Epochs:         50,
		LearningRate:   1e-5,
		Regularized:    true,
		WeightDecay:    0.005,
		DropoutRate:    0.5,
		Seed:           42,
		NumWorkers:     4,
		PlotFile:       "training_history.html",
		ShowProgress:   true,
	}
}

// Load reads a Config from the YAML file at path, applying defaults for any
// key the file omits.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "read config")
	}
	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "parse config")
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Epochs > 0 {
		c.Epochs = o.Epochs
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.NumWorkers > 0 {
		c.NumWorkers = o.NumWorkers
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.PlotFile != "" {
		c.PlotFile = o.PlotFile
	}
	if o.HistoryCSV != "" {
		c.HistoryCSV = o.HistoryCSV
	}
}

// Validate verifies the config is runnable and fixes the training-directory
// order to ascending speed so loading is deterministic.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if len(c.TrainDirs) == 0 {
		return errors.New("at least one training directory must be set")
	}
	for _, td := range c.TrainDirs {
		if td.Dir == "" {
			return errors.New("training directory path must not be empty")
		}
		if _, ok := dataset.ClassForSpeed(td.Speed); !ok {
			return errors.Errorf("training speed %v is not one of the known speed values", td.Speed)
		}
	}
	sort.Slice(c.TrainDirs, func(i, j int) bool { return c.TrainDirs[i].Speed < c.TrainDirs[j].Speed })

	if c.TestDir == "" {
		return errors.New("test_dir must be set")
	}
	if c.TestLabelsFile == "" {
		return errors.New("test_labels_file must be set")
	}
	if c.ImageSize <= 0 || c.ImageSize%8 != 0 {
		return errors.Errorf("image_size must be a positive multiple of 8 (got %d)", c.ImageSize)
	}
	if c.BatchSize <= 0 {
		return errors.Errorf("batch_size must be > 0 (got %d)", c.BatchSize)
	}
	if c.Epochs <= 0 {
		return errors.Errorf("epochs must be > 0 (got %d)", c.Epochs)
	}
	if c.LearningRate <= 0 {
		return errors.Errorf("learning_rate must be > 0 (got %v)", c.LearningRate)
	}
	if c.Regularized {
		if c.WeightDecay <= 0 {
			return errors.Errorf("weight_decay must be > 0 when regularized (got %v)", c.WeightDecay)
		}
		if c.DropoutRate <= 0 || c.DropoutRate >= 1 {
			return errors.Errorf("dropout_rate must be in (0,1) (got %v)", c.DropoutRate)
		}
	}
	if c.NumWorkers <= 0 {
		c.NumWorkers = 1
	}
	return nil
}

// SpeedDirs converts the configured training directories for the loader.
func (c *Config) SpeedDirs() []dataset.SpeedDir {
	out := make([]dataset.SpeedDir, len(c.TrainDirs))
	for i, td := range c.TrainDirs {
		out[i] = dataset.SpeedDir{Dir: td.Dir, Speed: td.Speed}
	}
	return out
}
