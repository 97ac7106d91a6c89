package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"speedclass/internal/config"
	"speedclass/internal/dataset"
	"speedclass/internal/model"
	"speedclass/internal/plot"
	"speedclass/internal/report"
	"speedclass/internal/trainer"
)

func main() {
	var (
		cfgPath   string
		overrides config.Overrides
	)
	cmd := &cobra.Command{
		Use:           "speedclass",
		Short:         "Train a CNN that classifies images into discrete speed classes",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Flags().StringVar(&cfgPath, "config", "configs/default.yaml", "Path to YAML config")
	cmd.Flags().IntVar(&overrides.Epochs, "epochs", 0, "Number of training epochs")
	cmd.Flags().IntVar(&overrides.BatchSize, "batch-size", 0, "Batch size")
	cmd.Flags().IntVar(&overrides.NumWorkers, "num-workers", 0, "Number of data loader workers")
	cmd.Flags().Int64Var(&overrides.Seed, "seed", 0, "PRNG seed")
	cmd.Flags().StringVar(&overrides.PlotFile, "plot-file", "", "Override training-history plot output path")
	cmd.Flags().StringVar(&overrides.HistoryCSV, "history-csv", "", "Write per-epoch metrics to this CSV file")

	cmd.RunE = func(_ *cobra.Command, _ []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg.ApplyOverrides(overrides)
		if err := cfg.Validate(); err != nil {
			return err
		}
		return run(cfg)
	}

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "speedclass: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	train, trainReport, err := dataset.LoadTrainingSet(ctx, dataset.TrainLoadOptions{
		Dirs:      cfg.SpeedDirs(),
		ImageSize: cfg.ImageSize,
		Workers:   cfg.NumWorkers,
		Log:       log,
	})
	if err != nil {
		return err
	}
	log.Infow("training set loaded", "samples", trainReport.Loaded, "skipped", len(trainReport.Skipped))

	test, testReport, err := dataset.LoadTestSet(ctx, dataset.TestLoadOptions{
		Dir:        cfg.TestDir,
		LabelsFile: cfg.TestLabelsFile,
		ImageSize:  cfg.ImageSize,
		Log:        log,
	})
	if err != nil {
		return err
	}
	log.Infow("test set loaded", "samples", testReport.Loaded, "skipped", len(testReport.Skipped))

	mdl, err := model.New(model.Config{
		BatchSize:    cfg.BatchSize,
		ImageSize:    cfg.ImageSize,
		NumClasses:   dataset.NumClasses,
		Regularized:  cfg.Regularized,
		LearningRate: cfg.LearningRate,
		WeightDecay:  cfg.WeightDecay,
		DropoutRate:  cfg.DropoutRate,
		Seed:         cfg.Seed,
	})
	if err != nil {
		return err
	}
	defer mdl.Close()

	augmenter := dataset.NewAugmenter(dataset.DefaultAugmentConfig(), cfg.Seed+1)

	history, err := trainer.Run(ctx, trainer.RunConfig{
		Model:        mdl,
		Train:        train,
		Test:         test,
		Epochs:       cfg.Epochs,
		BatchSize:    cfg.BatchSize,
		Augmenter:    augmenter,
		Seed:         cfg.Seed + 2,
		Log:          log,
		ShowProgress: cfg.ShowProgress,
	})
	if err != nil {
		return err
	}

	if cfg.HistoryCSV != "" {
		if err := history.WriteCSV(cfg.HistoryCSV); err != nil {
			return err
		}
		log.Infow("history written", "path", cfg.HistoryCSV)
	}
	if cfg.PlotFile != "" {
		if err := plot.RenderHistory(history, cfg.PlotFile); err != nil {
			return err
		}
		log.Infow("plots written", "path", cfg.PlotFile)
	}

	preds, _, _, err := trainer.Evaluate(ctx, mdl, test)
	if err != nil {
		return err
	}
	truth := make([]int, len(test))
	for i, sample := range test {
		truth[i] = sample.Class
	}
	rep, err := report.Build(truth, preds, dataset.ClassNames())
	if err != nil {
		return err
	}
	fmt.Println("Classification Report:")
	fmt.Println(rep)
	return nil
}
