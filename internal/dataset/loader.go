package dataset

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// SpeedDir pairs a training-image directory with the speed its images were
// recorded at.
type SpeedDir struct {
	Dir   string
	Speed float64
}

// SkippedItem records one input that was passed over during loading.
type SkippedItem struct {
	Path   string
	Reason string
}

// LoadReport aggregates the outcome of a loader run: how many samples made it
// in and which inputs were skipped, with reasons.
type LoadReport struct {
	Loaded  int
	Skipped []SkippedItem
}

func (r *LoadReport) skip(path, reason string) {
	r.Skipped = append(r.Skipped, SkippedItem{Path: path, Reason: reason})
}

// TrainLoadOptions configures the training-set loader.
type TrainLoadOptions struct {
	Dirs      []SpeedDir
	ImageSize int
	Workers   int
	Log       *zap.SugaredLogger
}

type decodeJob struct {
	index int
	path  string
	speed float64
	class int
}

type decodeResult struct {
	sample *Sample
	err    error
}

// LoadTrainingSet walks each configured directory in order, decodes every file
// in it as an ImageSize×ImageSize RGB image and pairs it with the directory's
// speed and class. Directories that do not exist are skipped with a logged
// diagnostic; files that fail to decode are skipped per file. Sample order is
// directory-then-file enumeration order regardless of worker count.
func LoadTrainingSet(ctx context.Context, opts TrainLoadOptions) ([]Sample, *LoadReport, error) {
	if len(opts.Dirs) == 0 {
		return nil, nil, errors.New("loader: no training directories configured")
	}
	if opts.ImageSize <= 0 {
		return nil, nil, errors.New("loader: image size must be > 0")
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}

	report := &LoadReport{}
	jobs := make([]decodeJob, 0, 256)
	for _, sd := range opts.Dirs {
		class, ok := ClassForSpeed(sd.Speed)
		if !ok {
			return nil, nil, errors.Errorf("loader: speed %v has no class", sd.Speed)
		}
		if !CheckPath(sd.Dir, "directory", opts.Log) {
			report.skip(sd.Dir, "directory does not exist")
			continue
		}
		entries, err := os.ReadDir(sd.Dir)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "read directory %s", sd.Dir)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			jobs = append(jobs, decodeJob{
				index: len(jobs),
				path:  filepath.Join(sd.Dir, entry.Name()),
				speed: sd.Speed,
				class: class,
			})
		}
	}

	results := make([]decodeResult, len(jobs))
	jobCh := make(chan decodeJob)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobCh {
				img, err := DecodeImage(job.path, opts.ImageSize)
				if err != nil {
					results[job.index] = decodeResult{err: err}
					continue
				}
				results[job.index] = decodeResult{sample: &Sample{
					Path:  job.path,
					Img:   img,
					Speed: job.speed,
					Class: job.class,
				}}
			}
		}()
	}

	var ctxErr error
dispatch:
	for _, job := range jobs {
		if ctxErr = ctx.Err(); ctxErr != nil {
			break dispatch
		}
		select {
		case <-ctx.Done():
			ctxErr = ctx.Err()
			break dispatch
		case jobCh <- job:
		}
	}
	close(jobCh)
	wg.Wait()

	if ctxErr != nil {
		return nil, nil, ctxErr
	}

	samples := make([]Sample, 0, len(jobs))
	for i, res := range results {
		if res.err != nil {
			if opts.Log != nil {
				opts.Log.Warnw("skipping file", "path", jobs[i].path, "error", res.err)
			}
			report.skip(jobs[i].path, res.err.Error())
			continue
		}
		samples = append(samples, *res.sample)
	}
	report.Loaded = len(samples)
	return samples, report, nil
}
