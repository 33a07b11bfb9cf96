package frame

import "fmt"

// ConfigError reports an option value outside the supported set.
type ConfigError struct {
	Field string
	Value string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Field, e.Value)
}

type ModelKind int

const (
	Unet ModelKind = iota
	UnetDropout
)

var modelNames = map[string]ModelKind{
	"Unet":        Unet,
	"UnetDropout": UnetDropout,
}

func ParseModelKind(name string) (ModelKind, error) {
	kind, ok := modelNames[name]
	if !ok {
		return 0, &ConfigError{Field: "model name", Value: name}
	}
	return kind, nil
}

func (k ModelKind) String() string {
	return nameOf(modelNames, k)
}

type OptimizerKind int

const (
	SGD OptimizerKind = iota
	Adam
)

var optimizerNames = map[string]OptimizerKind{
	"SGD":  SGD,
	"Adam": Adam,
}

func ParseOptimizerKind(name string) (OptimizerKind, error) {
	kind, ok := optimizerNames[name]
	if !ok {
		return 0, &ConfigError{Field: "optimizer name", Value: name}
	}
	return kind, nil
}

func (k OptimizerKind) String() string {
	return nameOf(optimizerNames, k)
}

type RegKind int

const (
	L1 RegKind = iota
	L2
)

var regNames = map[string]RegKind{
	"l1": L1,
	"l2": L2,
}

func ParseRegKind(name string) (RegKind, error) {
	kind, ok := regNames[name]
	if !ok {
		return 0, &ConfigError{Field: "regularizer", Value: name}
	}
	return kind, nil
}

func (k RegKind) String() string {
	return nameOf(regNames, k)
}

type MetricKind int

const (
	Precision MetricKind = iota
	Recall
	IoU
	Dice
	PixelAcc
)

var metricNames = map[string]MetricKind{
	"precision": Precision,
	"recall":    Recall,
	"iou":       IoU,
	"dice":      Dice,
	"pixel_acc": PixelAcc,
}

func ParseMetricKind(name string) (MetricKind, error) {
	kind, ok := metricNames[name]
	if !ok {
		return 0, &ConfigError{Field: "metric", Value: name}
	}
	return kind, nil
}

func (k MetricKind) String() string {
	return nameOf(metricNames, k)
}

// Device selects where tensors live. Only the CPU is available.
type Device string

const DeviceCPU Device = "cpu"

func ParseDevice(name string) (Device, error) {
	if name == "" || Device(name) == DeviceCPU {
		return DeviceCPU, nil
	}
	return "", &ConfigError{Field: "device", Value: name}
}

func nameOf[K comparable](names map[string]K, kind K) string {
	for name, k := range names {
		if k == kind {
			return name
		}
	}
	return fmt.Sprintf("%T(%#v)", kind, kind)
}
