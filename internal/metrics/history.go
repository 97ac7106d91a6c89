package metrics

import (
	"os"

	"github.com/gocarina/gocsv"
	"github.com/pkg/errors"
)

// History holds one value per epoch for each tracked metric, in epoch order.
type History struct {
	Loss        []float64
	ValLoss     []float64
	Accuracy    []float64
	ValAccuracy []float64
}

// Append records the metrics of one completed epoch.
func (h *History) Append(loss, valLoss, acc, valAcc float64) {
	h.Loss = append(h.Loss, loss)
	h.ValLoss = append(h.ValLoss, valLoss)
	h.Accuracy = append(h.Accuracy, acc)
	h.ValAccuracy = append(h.ValAccuracy, valAcc)
}

// Epochs returns the number of recorded epochs.
func (h *History) Epochs() int { return len(h.Loss) }

// EpochRecord is one CSV row of the exported history.
type EpochRecord struct {
	Epoch       int     `csv:"epoch"`
	Loss        float64 `csv:"loss"`
	ValLoss     float64 `csv:"val_loss"`
	Accuracy    float64 `csv:"categorical_accuracy"`
	ValAccuracy float64 `csv:"val_categorical_accuracy"`
}

// WriteCSV exports the history as one record per epoch.
func (h *History) WriteCSV(path string) error {
	records := make([]EpochRecord, h.Epochs())
	for i := range records {
		records[i] = EpochRecord{
			Epoch:       i + 1,
			Loss:        h.Loss[i],
			ValLoss:     h.ValLoss[i],
			Accuracy:    h.Accuracy[i],
			ValAccuracy: h.ValAccuracy[i],
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create history file")
	}
	defer f.Close()
	if err := gocsv.MarshalFile(&records, f); err != nil {
		return errors.Wrap(err, "write history")
	}
	return nil
}
