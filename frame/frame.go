// Package frame wraps a segmentation model and its optimizer so that each
// training step is a single call.
package frame

import (
	"fmt"
	"math/rand"
	"sort"

	"glacier-tools/config"
	"glacier-tools/imgtools"

	"github.com/sirupsen/logrus"
)

type Options struct {
	Model     ModelOptions
	Optimizer OptimizerOptions
	Metrics   []MetricOptions
	Reg       []RegOptions
	Device    Device
	Seed      int64
}

// OptionsFromConfig resolves the names in a training configuration.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	var opts Options
	var err error

	if opts.Model.Kind, err = ParseModelKind(cfg.Model.Name); err != nil {
		return opts, err
	}
	opts.Model.InChannels = cfg.Model.Args.InChannels
	opts.Model.OutChannels = cfg.Model.Args.OutChannels
	opts.Model.Hidden = cfg.Model.Args.Hidden
	opts.Model.DropoutRate = cfg.Model.Args.DropoutRate

	if opts.Optimizer.Kind, err = ParseOptimizerKind(cfg.Optimizer.Name); err != nil {
		return opts, err
	}
	opts.Optimizer.LR = cfg.Optimizer.LR
	opts.Optimizer.Momentum = cfg.Optimizer.Momentum
	opts.Optimizer.Beta1 = cfg.Optimizer.Beta1
	opts.Optimizer.Beta2 = cfg.Optimizer.Beta2
	opts.Optimizer.Eps = cfg.Optimizer.Eps
	opts.Optimizer.WeightDecay = cfg.Optimizer.WeightDecay

	for _, m := range cfg.Metrics {
		kind, err := ParseMetricKind(m.Name)
		if err != nil {
			return opts, err
		}
		opts.Metrics = append(opts.Metrics, MetricOptions{Kind: kind, Threshold: m.Threshold})
	}

	regNames := make([]string, 0, len(cfg.Reg))
	for name := range cfg.Reg {
		regNames = append(regNames, name)
	}
	sort.Strings(regNames)
	for _, name := range regNames {
		kind, err := ParseRegKind(name)
		if err != nil {
			return opts, err
		}
		opts.Reg = append(opts.Reg, RegOptions{Kind: kind, Weight: cfg.Reg[name]})
	}

	if opts.Device, err = ParseDevice(cfg.Device); err != nil {
		return opts, err
	}
	opts.Seed = cfg.Seed
	return opts, nil
}

// Framework owns one model, its optimizer and the learning-rate scheduler.
// It is not safe for concurrent use.
type Framework struct {
	opts      Options
	model     Model
	optimizer Optimizer
	scheduler *plateauScheduler
}

func New(opts Options) (*Framework, error) {
	if _, err := ParseDevice(string(opts.Device)); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewSource(opts.Seed))
	model, err := newModel(opts.Model, rng)
	if err != nil {
		return nil, err
	}
	optimizer, err := newOptimizer(opts.Optimizer)
	if err != nil {
		return nil, err
	}
	logrus.Debugf("Built %v with %v on %s", opts.Model.Kind, opts.Optimizer.Kind, DeviceCPU)
	return &Framework{
		opts:      opts,
		model:     model,
		optimizer: optimizer,
		scheduler: newPlateauScheduler(),
	}, nil
}

func (f *Framework) MetricNames() []string {
	names := make([]string, len(f.opts.Metrics))
	for i, m := range f.opts.Metrics {
		names[i] = m.Kind.String()
	}
	return names
}

func (f *Framework) LR() float64 {
	return f.optimizer.LR()
}

// Optimize takes a single gradient step and returns the logits and loss.
func (f *Framework) Optimize(x, y []*imgtools.Array) ([]*imgtools.Array, float64, error) {
	for _, p := range f.model.Params() {
		p.Grad.Zero()
	}
	logits, err := f.model.Forward(x, true)
	if err != nil {
		return nil, 0, err
	}
	targets, err := fromArrays(y, x, f.model.OutChannels())
	if err != nil {
		return nil, 0, err
	}

	loss, dLogits := bceWithLogits(logits, targets)
	f.model.Backward(dLogits)
	for _, reg := range f.opts.Reg {
		loss += penalty(reg, f.model.Params())
	}
	f.optimizer.Step(f.model.Params())
	return toArrays(logits, x), loss, nil
}

// Evaluate computes the loss of a batch without updating the model.
func (f *Framework) Evaluate(x, y []*imgtools.Array) ([]*imgtools.Array, float64, error) {
	logits, err := f.model.Forward(x, false)
	if err != nil {
		return nil, 0, err
	}
	targets, err := fromArrays(y, x, f.model.OutChannels())
	if err != nil {
		return nil, 0, err
	}
	loss, _ := bceWithLogits(logits, targets)
	for _, reg := range f.opts.Reg {
		loss += penaltyValue(reg, f.model.Params())
	}
	return toArrays(logits, x), loss, nil
}

// Infer predicts logits for a batch, channels-last like the inputs.
func (f *Framework) Infer(x []*imgtools.Array) ([]*imgtools.Array, error) {
	logits, err := f.model.Forward(x, false)
	if err != nil {
		return nil, err
	}
	return toArrays(logits, x), nil
}

// ValOperations feeds the validation loss to the learning-rate scheduler.
func (f *Framework) ValOperations(valLoss float64) {
	f.scheduler.Step(valLoss, f.optimizer)
}

// CalculateMetrics scores predictions with every configured metric, in
// configuration order.
func (f *Framework) CalculateMetrics(yHat, y []*imgtools.Array) ([]float64, error) {
	return calculateMetrics(f.opts.Metrics, yHat, y)
}

// Probabilities applies the sigmoid to logits in place.
func Probabilities(logits *imgtools.Array) {
	for i, v := range logits.Data {
		logits.Data[i] = sigmoid(v)
	}
}

func paramsByName(params []*Param) map[string]*Param {
	out := make(map[string]*Param, len(params))
	for _, p := range params {
		out[p.Name] = p
	}
	return out
}

func paramShape(p *Param) string {
	r, c := p.Value.Dims()
	return fmt.Sprintf("%dx%d", r, c)
}
