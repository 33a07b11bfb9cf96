package frame

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/mat"
)

type modelState struct {
	Kind   string
	Params map[string][]byte
}

type optimState struct {
	Optimizer OptimizerState
	Scheduler plateauScheduler
}

func ModelPath(dir string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("model_%d.gob", epoch))
}

func OptimPath(dir string, epoch int) string {
	return filepath.Join(dir, fmt.Sprintf("optim_%d.gob", epoch))
}

// Save writes the model and optimizer state for an epoch, creating dir if
// needed.
func (f *Framework) Save(dir string, epoch int) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	ms := modelState{Kind: f.opts.Model.Kind.String(), Params: map[string][]byte{}}
	for _, p := range f.model.Params() {
		b, err := p.Value.MarshalBinary()
		if err != nil {
			return fmt.Errorf("marshal %s: %w", p.Name, err)
		}
		ms.Params[p.Name] = b
	}
	if err := writeGob(ModelPath(dir, epoch), ms); err != nil {
		return err
	}

	state, err := f.optimizer.State()
	if err != nil {
		return err
	}
	if err := writeGob(OptimPath(dir, epoch), optimState{Optimizer: state, Scheduler: *f.scheduler}); err != nil {
		return err
	}
	logrus.Infof("Saved checkpoint for epoch %d to %s", epoch, dir)
	return nil
}

// Load restores the state written by Save into a framework built with the
// same options.
func (f *Framework) Load(dir string, epoch int) error {
	var ms modelState
	if err := readGob(ModelPath(dir, epoch), &ms); err != nil {
		return err
	}
	if ms.Kind != f.opts.Model.Kind.String() {
		return fmt.Errorf("checkpoint holds a %s model, framework has %v", ms.Kind, f.opts.Model.Kind)
	}
	params := paramsByName(f.model.Params())
	for name, b := range ms.Params {
		p, ok := params[name]
		if !ok {
			return fmt.Errorf("checkpoint parameter %s not in model", name)
		}
		var m mat.Dense
		if err := m.UnmarshalBinary(b); err != nil {
			return fmt.Errorf("unmarshal %s: %w", name, err)
		}
		if r, c := m.Dims(); !sameDims(p.Value, r, c) {
			return fmt.Errorf("checkpoint parameter %s is %dx%d, model has %s", name, r, c, paramShape(p))
		}
		p.Value.Copy(&m)
	}

	var st optimState
	if err := readGob(OptimPath(dir, epoch), &st); err != nil {
		return err
	}
	if err := f.optimizer.LoadState(st.Optimizer); err != nil {
		return err
	}
	*f.scheduler = st.Scheduler
	return nil
}

func sameDims(m *mat.Dense, r, c int) bool {
	mr, mc := m.Dims()
	return mr == r && mc == c
}

func writeGob(path string, v any) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()
	return gob.NewEncoder(file).Encode(v)
}

func readGob(path string, v any) (err error) {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()
	if err := gob.NewDecoder(file).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
