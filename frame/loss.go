package frame

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// bceWithLogits returns the mean binary cross-entropy of sigmoid(logits)
// against targets and its gradient with respect to the logits.
func bceWithLogits(logits, targets *mat.Dense) (float64, *mat.Dense) {
	r, c := logits.Dims()
	n := float64(r * c)
	grad := mat.NewDense(r, c, nil)
	var loss float64
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			z, y := logits.At(i, j), targets.At(i, j)
			loss += math.Max(z, 0) - z*y + math.Log1p(math.Exp(-math.Abs(z)))
			grad.Set(i, j, (sigmoid(z)-y)/n)
		}
	}
	return loss / n, grad
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

type RegOptions struct {
	Kind   RegKind
	Weight float64
}

// penalty adds the regularization gradient to every parameter and returns
// the penalty term.
func penalty(reg RegOptions, params []*Param) float64 {
	var total float64
	for _, p := range params {
		r, c := p.Value.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				w := p.Value.At(i, j)
				switch reg.Kind {
				case L1:
					total += reg.Weight * math.Abs(w)
					p.Grad.Set(i, j, p.Grad.At(i, j)+reg.Weight*sign(w))
				case L2:
					total += reg.Weight * w * w
					p.Grad.Set(i, j, p.Grad.At(i, j)+2*reg.Weight*w)
				}
			}
		}
	}
	return total
}

// penaltyValue is penalty without touching gradients.
func penaltyValue(reg RegOptions, params []*Param) float64 {
	var total float64
	for _, p := range params {
		for _, w := range p.Value.RawMatrix().Data {
			switch reg.Kind {
			case L1:
				total += reg.Weight * math.Abs(w)
			case L2:
				total += reg.Weight * w * w
			}
		}
	}
	return total
}

func sign(x float64) float64 {
	switch {
	case x > 0:
		return 1
	case x < 0:
		return -1
	}
	return 0
}
