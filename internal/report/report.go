package report

import (
	"fmt"
	"strings"

	"github.com/montanaflynn/stats"
	"github.com/pkg/errors"
)

// ClassMetrics holds the per-class row of a classification report.
type ClassMetrics struct {
	Name      string
	Precision float64
	Recall    float64
	F1        float64
	Support   int
}

// Report is a per-class precision/recall/F1 summary over a set of predictions.
type Report struct {
	Classes        []ClassMetrics
	Accuracy       float64
	MacroPrecision float64
	MacroRecall    float64
	MacroF1        float64
	WeightedPrec   float64
	WeightedRecall float64
	WeightedF1     float64
	Total          int
}

// Build compares predictions to true class labels and tallies per-class
// metrics. Every name gets a row even with zero support; zero denominators
// yield zero metrics rather than NaN.
func Build(truth, preds []int, names []string) (*Report, error) {
	if len(truth) != len(preds) {
		return nil, errors.Errorf("report: %d labels vs %d predictions", len(truth), len(preds))
	}
	if len(truth) == 0 {
		return nil, errors.New("report: no predictions")
	}
	n := len(names)

	tp := make([]int, n)
	fp := make([]int, n)
	fn := make([]int, n)
	correct := 0
	for i, label := range truth {
		pred := preds[i]
		if label < 0 || label >= n || pred < 0 || pred >= n {
			return nil, errors.Errorf("report: class out of range at row %d", i)
		}
		if pred == label {
			tp[label]++
			correct++
		} else {
			fp[pred]++
			fn[label]++
		}
	}

	r := &Report{Total: len(truth), Accuracy: float64(correct) / float64(len(truth))}
	precisions := make([]float64, n)
	recalls := make([]float64, n)
	f1s := make([]float64, n)
	for c := 0; c < n; c++ {
		precision := ratio(tp[c], tp[c]+fp[c])
		recall := ratio(tp[c], tp[c]+fn[c])
		f1 := 0.0
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		support := tp[c] + fn[c]
		precisions[c] = precision
		recalls[c] = recall
		f1s[c] = f1
		r.Classes = append(r.Classes, ClassMetrics{
			Name:      names[c],
			Precision: precision,
			Recall:    recall,
			F1:        f1,
			Support:   support,
		})
		weight := float64(support) / float64(len(truth))
		r.WeightedPrec += precision * weight
		r.WeightedRecall += recall * weight
		r.WeightedF1 += f1 * weight
	}

	var err error
	if r.MacroPrecision, err = stats.Mean(precisions); err != nil {
		return nil, errors.Wrap(err, "macro precision")
	}
	if r.MacroRecall, err = stats.Mean(recalls); err != nil {
		return nil, errors.Wrap(err, "macro recall")
	}
	if r.MacroF1, err = stats.Mean(f1s); err != nil {
		return nil, errors.Wrap(err, "macro f1")
	}
	return r, nil
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

// String renders the report as a fixed-width table.
func (r *Report) String() string {
	var b strings.Builder
	width := 12
	for _, c := range r.Classes {
		if len(c.Name) > width {
			width = len(c.Name)
		}
	}

	fmt.Fprintf(&b, "%*s  precision    recall  f1-score   support\n\n", width, "")
	for _, c := range r.Classes {
		fmt.Fprintf(&b, "%*s     %6.2f    %6.2f    %6.2f    %6d\n",
			width, c.Name, c.Precision, c.Recall, c.F1, c.Support)
	}
	fmt.Fprintf(&b, "\n%*s                        %6.2f    %6d\n", width, "accuracy", r.Accuracy, r.Total)
	fmt.Fprintf(&b, "%*s     %6.2f    %6.2f    %6.2f    %6d\n",
		width, "macro avg", r.MacroPrecision, r.MacroRecall, r.MacroF1, r.Total)
	fmt.Fprintf(&b, "%*s     %6.2f    %6.2f    %6.2f    %6d\n",
		width, "weighted avg", r.WeightedPrec, r.WeightedRecall, r.WeightedF1, r.Total)
	return b.String()
}
