package imgtools

import (
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"
)

// AggFunc reduces the pixels of a tile to a single statistic.
type AggFunc func(...float64) float64

func Mean(inData ...float64) float64 {
	if len(inData) == 0 {
		return 0
	}
	return Sum(inData...) / float64(len(inData))
}

func Sum(inData ...float64) float64 {
	return floats.Sum(inData)
}

func Max(inData ...float64) float64 {
	if len(inData) == 0 {
		return 0
	}
	return floats.Max(inData)
}

func Min(inData ...float64) float64 {
	if len(inData) == 0 {
		return 0
	}
	return floats.Min(inData)
}

// ParseAggFunc maps a flag value to an aggregator, falling back to the mean.
func ParseAggFunc(name string) AggFunc {
	switch name {
	case "mean":
		return Mean
	case "sum":
		return Sum
	case "max":
		return Max
	case "min":
		return Min
	default:
		logrus.Warnf("Aggregation function %s not recognized, using mean", name)
		return Mean
	}
}
