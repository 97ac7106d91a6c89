package plot

import (
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/pkg/errors"

	"speedclass/internal/metrics"
)

// RenderHistory writes the loss and accuracy curves of a training run as two
// line charts on a single HTML page at path.
func RenderHistory(h *metrics.History, path string) error {
	if h == nil || h.Epochs() == 0 {
		return errors.New("plot: history is empty")
	}

	epochs := make([]int, h.Epochs())
	for i := range epochs {
		epochs[i] = i + 1
	}

	loss := newChart("Loss over Epochs", "Loss", epochs)
	loss.AddSeries("Training Loss", lineData(h.Loss)).
		AddSeries("Validation Loss", lineData(h.ValLoss))

	acc := newChart("Accuracy over Epochs", "Accuracy", epochs)
	acc.AddSeries("Training Accuracy", lineData(h.Accuracy)).
		AddSeries("Validation Accuracy", lineData(h.ValAccuracy))

	page := components.NewPage()
	page.AddCharts(loss, acc)

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create plot file")
	}
	defer f.Close()
	if err := page.Render(f); err != nil {
		return errors.Wrap(err, "render plots")
	}
	return nil
}

func newChart(title, yName string, epochs []int) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: title}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Epochs"}),
		charts.WithYAxisOpts(opts.YAxis{Name: yName}),
		charts.WithLegendOpts(opts.Legend{Show: true}),
	)
	line.SetXAxis(epochs)
	return line
}

func lineData(values []float64) []opts.LineData {
	out := make([]opts.LineData, len(values))
	for i, v := range values {
		out[i] = opts.LineData{Value: v}
	}
	return out
}
