package frame

import (
	"fmt"
	"math"
	"strings"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type OptimizerOptions struct {
	Kind        OptimizerKind
	LR          float64
	Momentum    float64
	Beta1       float64
	Beta2       float64
	Eps         float64
	WeightDecay float64
}

// Optimizer updates parameters in place from their gradients.
type Optimizer interface {
	Step(params []*Param)
	LR() float64
	SetLR(lr float64)
	State() (OptimizerState, error)
	LoadState(s OptimizerState) error
}

// OptimizerState is the serializable form of an optimizer.
type OptimizerState struct {
	Kind    string
	LR      float64
	Steps   int
	Buffers map[string][]byte
}

func newOptimizer(opts OptimizerOptions) (Optimizer, error) {
	if opts.LR <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", opts.LR)
	}
	switch opts.Kind {
	case SGD:
		return &sgd{opts: opts, velocity: map[string]*mat.Dense{}}, nil
	case Adam:
		if opts.Beta1 == 0 && opts.Beta2 == 0 {
			opts.Beta1, opts.Beta2 = 0.9, 0.999
		}
		if opts.Eps == 0 {
			opts.Eps = 1e-8
		}
		return &adam{opts: opts, m: map[string]*mat.Dense{}, v: map[string]*mat.Dense{}}, nil
	default:
		return nil, &ConfigError{Field: "optimizer name", Value: opts.Kind.String()}
	}
}

type sgd struct {
	opts     OptimizerOptions
	steps    int
	velocity map[string]*mat.Dense
}

func (o *sgd) Step(params []*Param) {
	o.steps++
	for _, p := range params {
		d := decayedGrad(p, o.opts.WeightDecay)
		if o.opts.Momentum != 0 {
			buf, ok := o.velocity[p.Name]
			if !ok {
				buf = mat.DenseCopyOf(d)
				o.velocity[p.Name] = buf
			} else {
				buf.Scale(o.opts.Momentum, buf)
				buf.Add(buf, d)
			}
			d = buf
		}
		var delta mat.Dense
		delta.Scale(o.opts.LR, d)
		p.Value.Sub(p.Value, &delta)
	}
}

func (o *sgd) LR() float64      { return o.opts.LR }
func (o *sgd) SetLR(lr float64) { o.opts.LR = lr }

func (o *sgd) State() (OptimizerState, error) {
	buffers, err := marshalBuffers(o.velocity, "momentum")
	return OptimizerState{Kind: SGD.String(), LR: o.opts.LR, Steps: o.steps, Buffers: buffers}, err
}

func (o *sgd) LoadState(s OptimizerState) error {
	if s.Kind != SGD.String() {
		return fmt.Errorf("optimizer state for %s loaded into SGD", s.Kind)
	}
	o.opts.LR, o.steps = s.LR, s.Steps
	return unmarshalBuffers(s.Buffers, "momentum", o.velocity)
}

type adam struct {
	opts  OptimizerOptions
	steps int
	m, v  map[string]*mat.Dense
}

func (o *adam) Step(params []*Param) {
	o.steps++
	b1, b2 := o.opts.Beta1, o.opts.Beta2
	corr1 := 1 - math.Pow(b1, float64(o.steps))
	corr2 := 1 - math.Pow(b2, float64(o.steps))
	for _, p := range params {
		g := decayedGrad(p, o.opts.WeightDecay)
		r, c := g.Dims()
		m, ok := o.m[p.Name]
		if !ok {
			m = mat.NewDense(r, c, nil)
			o.m[p.Name] = m
		}
		v, ok := o.v[p.Name]
		if !ok {
			v = mat.NewDense(r, c, nil)
			o.v[p.Name] = v
		}
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				gij := g.At(i, j)
				mij := b1*m.At(i, j) + (1-b1)*gij
				vij := b2*v.At(i, j) + (1-b2)*gij*gij
				m.Set(i, j, mij)
				v.Set(i, j, vij)
				step := o.opts.LR * (mij / corr1) / (math.Sqrt(vij/corr2) + o.opts.Eps)
				p.Value.Set(i, j, p.Value.At(i, j)-step)
			}
		}
	}
}

func (o *adam) LR() float64      { return o.opts.LR }
func (o *adam) SetLR(lr float64) { o.opts.LR = lr }

func (o *adam) State() (OptimizerState, error) {
	m, err := marshalBuffers(o.m, "exp_avg")
	if err != nil {
		return OptimizerState{}, err
	}
	v, err := marshalBuffers(o.v, "exp_avg_sq")
	if err != nil {
		return OptimizerState{}, err
	}
	for k, b := range v {
		m[k] = b
	}
	return OptimizerState{Kind: Adam.String(), LR: o.opts.LR, Steps: o.steps, Buffers: m}, nil
}

func (o *adam) LoadState(s OptimizerState) error {
	if s.Kind != Adam.String() {
		return fmt.Errorf("optimizer state for %s loaded into Adam", s.Kind)
	}
	o.opts.LR, o.steps = s.LR, s.Steps
	if err := unmarshalBuffers(s.Buffers, "exp_avg", o.m); err != nil {
		return err
	}
	return unmarshalBuffers(s.Buffers, "exp_avg_sq", o.v)
}

func decayedGrad(p *Param, weightDecay float64) *mat.Dense {
	if weightDecay == 0 {
		return p.Grad
	}
	var d mat.Dense
	d.Scale(weightDecay, p.Value)
	d.Add(&d, p.Grad)
	return &d
}

func marshalBuffers(bufs map[string]*mat.Dense, suffix string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(bufs))
	for name, m := range bufs {
		b, err := m.MarshalBinary()
		if err != nil {
			return nil, err
		}
		out[name+"."+suffix] = b
	}
	return out, nil
}

func unmarshalBuffers(in map[string][]byte, suffix string, bufs map[string]*mat.Dense) error {
	for key, b := range in {
		name, ok := strings.CutSuffix(key, "."+suffix)
		if !ok {
			continue
		}
		var m mat.Dense
		if err := m.UnmarshalBinary(b); err != nil {
			return fmt.Errorf("optimizer buffer %s: %w", key, err)
		}
		bufs[name] = &m
	}
	return nil
}

// plateauScheduler lowers the learning rate when the validation loss stops
// improving.
type plateauScheduler struct {
	Factor    float64
	Patience  int
	MinLR     float64
	Threshold float64

	Best   float64
	NumBad int
}

func newPlateauScheduler() *plateauScheduler {
	return &plateauScheduler{
		Factor:    0.1,
		Patience:  500,
		MinLR:     1e-6,
		Threshold: 1e-4,
		Best:      math.Inf(1),
	}
}

func (s *plateauScheduler) Step(loss float64, opt Optimizer) {
	if loss < s.Best*(1-s.Threshold) {
		s.Best = loss
		s.NumBad = 0
	} else {
		s.NumBad++
	}
	if s.NumBad <= s.Patience {
		return
	}
	s.NumBad = 0
	oldLR := opt.LR()
	newLR := math.Max(oldLR*s.Factor, s.MinLR)
	if oldLR-newLR > 1e-8 {
		opt.SetLR(newLR)
		logrus.Infof("Reducing learning rate from %g to %g", oldLR, newLR)
	}
}
