package frame

import (
	"fmt"

	"glacier-tools/imgtools"
)

// MetricOptions configures one metric. Without a threshold, any non-zero
// logit counts as a positive prediction.
type MetricOptions struct {
	Kind      MetricKind
	Threshold *float64
}

type confusion struct {
	tp, fp, fn, tn float64
}

func (c confusion) score(kind MetricKind) float64 {
	switch kind {
	case Precision:
		if c.tp+c.fp == 0 {
			return emptyScore(c.fn)
		}
		return c.tp / (c.tp + c.fp)
	case Recall:
		if c.tp+c.fn == 0 {
			return emptyScore(c.fp)
		}
		return c.tp / (c.tp + c.fn)
	case IoU:
		if c.tp+c.fp+c.fn == 0 {
			return 1
		}
		return c.tp / (c.tp + c.fp + c.fn)
	case Dice:
		if c.tp+c.fp+c.fn == 0 {
			return 1
		}
		return 2 * c.tp / (2*c.tp + c.fp + c.fn)
	case PixelAcc:
		total := c.tp + c.fp + c.fn + c.tn
		if total == 0 {
			return 1
		}
		return (c.tp + c.tn) / total
	}
	return 0
}

// An empty denominator is a perfect score only when nothing was missed.
func emptyScore(misses float64) float64 {
	if misses == 0 {
		return 1
	}
	return 0
}

// channelConfusion compares one channel of a prediction with the truth.
func channelConfusion(yHat, y *imgtools.Array, ch int, threshold *float64) confusion {
	var c confusion
	for pix := 0; pix < y.Pixels(); pix++ {
		logit := yHat.Data[pix*yHat.Channels+ch]
		var pred bool
		if threshold != nil {
			pred = sigmoid(logit) > *threshold
		} else {
			pred = logit != 0
		}
		truth := y.Data[pix*y.Channels+ch] != 0
		switch {
		case pred && truth:
			c.tp++
		case pred && !truth:
			c.fp++
		case !pred && truth:
			c.fn++
		default:
			c.tn++
		}
	}
	return c
}

// calculateMetrics returns, per metric, the sum over batch items of the
// channel-averaged score.
func calculateMetrics(metrics []MetricOptions, yHat, y []*imgtools.Array) ([]float64, error) {
	if len(yHat) != len(y) {
		return nil, fmt.Errorf("%d predictions for %d targets: %w", len(yHat), len(y), imgtools.ErrShapeMismatch)
	}
	for i := range y {
		if yHat[i].Height != y[i].Height || yHat[i].Width != y[i].Width || yHat[i].Channels != y[i].Channels {
			return nil, fmt.Errorf("prediction %v for target %v: %w", yHat[i], y[i], imgtools.ErrShapeMismatch)
		}
	}

	results := make([]float64, len(metrics))
	for k, metric := range metrics {
		var batchSum float64
		for i := range y {
			var channelSum float64
			for ch := 0; ch < y[i].Channels; ch++ {
				channelSum += channelConfusion(yHat[i], y[i], ch, metric.Threshold).score(metric.Kind)
			}
			if y[i].Channels > 0 {
				batchSum += channelSum / float64(y[i].Channels)
			}
		}
		results[k] = batchSum
	}
	return results, nil
}
