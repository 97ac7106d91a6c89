package dataset

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"
)

// TestLoadOptions configures the test-set loader.
type TestLoadOptions struct {
	Dir        string
	LabelsFile string
	ImageSize  int
	Log        *zap.SugaredLogger
}

// LoadTestSet reads the XLSX labels file, one row per test image, and returns
// the referenced images as labeled samples in row order. A row is skipped,
// with a recorded reason, when its file is missing, fails to decode, or names
// a speed outside the five-entry class table.
func LoadTestSet(ctx context.Context, opts TestLoadOptions) ([]Sample, *LoadReport, error) {
	if opts.ImageSize <= 0 {
		return nil, nil, errors.New("loader: image size must be > 0")
	}
	rows, err := readLabelRows(opts.LabelsFile)
	if err != nil {
		return nil, nil, err
	}

	report := &LoadReport{}
	samples := make([]Sample, 0, len(rows))
	for _, row := range rows {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}

		path := filepath.Join(opts.Dir, row.filename)
		if !CheckPath(path, "file", opts.Log) {
			report.skip(path, "file does not exist")
			continue
		}
		class, ok := ClassForSpeed(row.speed)
		if !ok {
			if opts.Log != nil {
				opts.Log.Warnw("skipping row with unknown speed", "file", row.filename, "speed", row.speed)
			}
			report.skip(path, fmt.Sprintf("unknown speed %v", row.speed))
			continue
		}
		img, err := DecodeImage(path, opts.ImageSize)
		if err != nil {
			if opts.Log != nil {
				opts.Log.Warnw("skipping file", "path", path, "error", err)
			}
			report.skip(path, err.Error())
			continue
		}
		samples = append(samples, Sample{Path: path, Img: img, Speed: row.speed, Class: class})
	}
	report.Loaded = len(samples)
	return samples, report, nil
}

type labelRow struct {
	filename string
	speed    float64
}

func readLabelRows(path string) ([]labelRow, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "open labels file")
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("labels file has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, errors.Wrap(err, "read labels sheet")
	}
	if len(rows) == 0 {
		return nil, errors.New("labels file is empty")
	}

	fileCol, speedCol := -1, -1
	for i, name := range rows[0] {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "filename":
			fileCol = i
		case "speed":
			speedCol = i
		}
	}
	if fileCol < 0 || speedCol < 0 {
		return nil, errors.New("labels file must have filename and speed columns")
	}

	out := make([]labelRow, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if fileCol >= len(row) || speedCol >= len(row) {
			return nil, errors.Errorf("labels row %d is missing columns", i+2)
		}
		speed, err := strconv.ParseFloat(strings.TrimSpace(row[speedCol]), 64)
		if err != nil {
			return nil, errors.Wrapf(err, "labels row %d: parse speed", i+2)
		}
		out = append(out, labelRow{filename: strings.TrimSpace(row[fileCol]), speed: speed})
	}
	return out, nil
}
