package frame

import (
	"glacier-tools/imgtools"

	"github.com/sirupsen/logrus"
)

type Batch struct {
	X []*imgtools.Array
	Y []*imgtools.Array
}

// Batches groups paired samples into consecutive batches of at most size.
func Batches(x, y []*imgtools.Array, size int) []Batch {
	if size < 1 {
		size = 1
	}
	var out []Batch
	for start := 0; start < len(x) && start < len(y); start += size {
		end := min(start+size, len(x), len(y))
		out = append(out, Batch{X: x[start:end], Y: y[start:end]})
	}
	return out
}

// EpochResult holds the mean loss and the metrics summed over all samples.
type EpochResult struct {
	Loss    float64
	Metrics []float64
	Samples int
}

// MeanMetrics divides the summed metrics by the number of samples.
func (r EpochResult) MeanMetrics() []float64 {
	out := make([]float64, len(r.Metrics))
	if r.Samples == 0 {
		return out
	}
	for i, v := range r.Metrics {
		out[i] = v / float64(r.Samples)
	}
	return out
}

// RunEpoch optimizes on every batch when train is set, otherwise only
// evaluates.
func (f *Framework) RunEpoch(batches []Batch, train bool) (EpochResult, error) {
	res := EpochResult{Metrics: make([]float64, len(f.opts.Metrics))}
	var lossSum float64
	for i, b := range batches {
		var yHat []*imgtools.Array
		var loss float64
		var err error
		if train {
			yHat, loss, err = f.Optimize(b.X, b.Y)
		} else {
			yHat, loss, err = f.Evaluate(b.X, b.Y)
		}
		if err != nil {
			return res, err
		}
		metrics, err := f.CalculateMetrics(yHat, b.Y)
		if err != nil {
			return res, err
		}
		for k, v := range metrics {
			res.Metrics[k] += v
		}
		lossSum += loss * float64(len(b.X))
		res.Samples += len(b.X)
		logrus.Debugf("Batch %d loss %v", i, loss)
	}
	if res.Samples > 0 {
		res.Loss = lossSum / float64(res.Samples)
	}
	return res, nil
}
