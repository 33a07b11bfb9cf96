package frame

import (
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"reflect"
	"testing"

	"glacier-tools/config"
	"glacier-tools/imgtools"
)

func testOptions(kind ModelKind) Options {
	half := 0.5
	return Options{
		Model: ModelOptions{Kind: kind, InChannels: 2, OutChannels: 1, Hidden: 6, DropoutRate: 0.3},
		Optimizer: OptimizerOptions{
			Kind: Adam,
			LR:   0.05,
		},
		Metrics: []MetricOptions{{Kind: IoU, Threshold: &half}, {Kind: PixelAcc, Threshold: &half}},
		Device:  DeviceCPU,
		Seed:    7,
	}
}

// toyBatch builds images whose target is 1 wherever the first channel is
// positive.
func toyBatch(rng *rand.Rand, n int) ([]*imgtools.Array, []*imgtools.Array) {
	var x, y []*imgtools.Array
	for i := 0; i < n; i++ {
		img := imgtools.NewArray(4, 4, 2)
		target := imgtools.NewArray(4, 4, 1)
		for pix := 0; pix < img.Pixels(); pix++ {
			v := rng.Float64()*2 - 1
			img.Data[pix*2] = v
			img.Data[pix*2+1] = rng.Float64()
			if v > 0 {
				target.Data[pix] = 1
			}
		}
		x = append(x, img)
		y = append(y, target)
	}
	return x, y
}

func TestUnknownNamesAreConfigErrors(t *testing.T) {
	tests := []struct {
		name  string
		parse func() error
	}{
		{"model", func() error { _, err := ParseModelKind("ResNet"); return err }},
		{"optimizer", func() error { _, err := ParseOptimizerKind("RMSprop"); return err }},
		{"regularizer", func() error { _, err := ParseRegKind("elastic"); return err }},
		{"metric", func() error { _, err := ParseMetricKind("f1"); return err }},
		{"device", func() error { _, err := ParseDevice("cuda"); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfgErr *ConfigError
			if err := tt.parse(); !errors.As(err, &cfgErr) {
				t.Errorf("got %v, want *ConfigError", err)
			}
		})
	}
}

func TestKindNames(t *testing.T) {
	if UnetDropout.String() != "UnetDropout" || Adam.String() != "Adam" || PixelAcc.String() != "pixel_acc" {
		t.Errorf("unexpected names %v %v %v", UnetDropout, Adam, PixelAcc)
	}
	if got := ModelKind(9).String(); got != "frame.ModelKind(9)" {
		t.Errorf("got %q", got)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Reg = map[string]float64{"l2": 0.1, "l1": 0.2}
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Model.Kind != Unet || opts.Optimizer.Kind != Adam || opts.Device != DeviceCPU {
		t.Errorf("got %+v", opts)
	}
	wantReg := []RegOptions{{L1, 0.2}, {L2, 0.1}}
	if !reflect.DeepEqual(opts.Reg, wantReg) {
		t.Errorf("reg got %+v, want %+v", opts.Reg, wantReg)
	}
	if len(opts.Metrics) != 3 || opts.Metrics[0].Kind != IoU {
		t.Errorf("metrics got %+v", opts.Metrics)
	}

	cfg.Model.Name = "Segformer"
	var cfgErr *ConfigError
	if _, err := OptionsFromConfig(cfg); !errors.As(err, &cfgErr) {
		t.Errorf("got %v, want *ConfigError", err)
	}
}

func TestNewRejectsDevice(t *testing.T) {
	opts := testOptions(Unet)
	opts.Device = "cuda"
	var cfgErr *ConfigError
	if _, err := New(opts); !errors.As(err, &cfgErr) {
		t.Errorf("got %v, want *ConfigError", err)
	}
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	net := newPixelNet(2, 2, 3, 0, rng)
	x, _ := toyBatch(rng, 2)
	y := make([]*imgtools.Array, len(x))
	for i := range x {
		y[i] = imgtools.NewArray(4, 4, 2)
		for j := range y[i].Data {
			y[i].Data[j] = float64(rng.Intn(2))
		}
	}

	lossAt := func() float64 {
		logits, err := net.Forward(x, false)
		if err != nil {
			t.Fatal(err)
		}
		targets, err := fromArrays(y, x, 2)
		if err != nil {
			t.Fatal(err)
		}
		loss, _ := bceWithLogits(logits, targets)
		return loss
	}

	logits, err := net.Forward(x, true)
	if err != nil {
		t.Fatal(err)
	}
	targets, _ := fromArrays(y, x, 2)
	_, dLogits := bceWithLogits(logits, targets)
	net.Backward(dLogits)

	const eps = 1e-6
	for _, p := range net.Params() {
		r, c := p.Value.Dims()
		for i := 0; i < r; i++ {
			for j := 0; j < c; j++ {
				orig := p.Value.At(i, j)
				p.Value.Set(i, j, orig+eps)
				up := lossAt()
				p.Value.Set(i, j, orig-eps)
				down := lossAt()
				p.Value.Set(i, j, orig)

				numeric := (up - down) / (2 * eps)
				if diff := math.Abs(numeric - p.Grad.At(i, j)); diff > 1e-6 {
					t.Errorf("%s[%d,%d]: analytic %v, numeric %v", p.Name, i, j, p.Grad.At(i, j), numeric)
				}
			}
		}
	}
}

func TestOptimizeReducesLoss(t *testing.T) {
	for _, kind := range []ModelKind{Unet, UnetDropout} {
		t.Run(kind.String(), func(t *testing.T) {
			f, err := New(testOptions(kind))
			if err != nil {
				t.Fatal(err)
			}
			x, y := toyBatch(rand.New(rand.NewSource(1)), 4)

			_, first, err := f.Evaluate(x, y)
			if err != nil {
				t.Fatal(err)
			}
			for step := 0; step < 200; step++ {
				yHat, _, err := f.Optimize(x, y)
				if err != nil {
					t.Fatal(err)
				}
				if len(yHat) != len(x) || yHat[0].Channels != 1 {
					t.Fatalf("unexpected prediction shape %v", yHat[0])
				}
			}
			_, last, err := f.Evaluate(x, y)
			if err != nil {
				t.Fatal(err)
			}
			if last >= first/2 {
				t.Errorf("loss went from %v to %v", first, last)
			}
		})
	}
}

func TestOptimizeWithRegularization(t *testing.T) {
	opts := testOptions(Unet)
	opts.Optimizer = OptimizerOptions{Kind: SGD, LR: 0.1, Momentum: 0.9, WeightDecay: 1e-4}
	opts.Reg = []RegOptions{{L1, 1e-3}, {L2, 1e-3}}
	f, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	x, y := toyBatch(rand.New(rand.NewSource(2)), 2)
	_, trainLoss, err := f.Optimize(x, y)
	if err != nil {
		t.Fatal(err)
	}
	if trainLoss <= 0 || math.IsNaN(trainLoss) {
		t.Errorf("unexpected loss %v", trainLoss)
	}
}

func TestOptimizeShapeMismatch(t *testing.T) {
	f, err := New(testOptions(Unet))
	if err != nil {
		t.Fatal(err)
	}
	x, _ := toyBatch(rand.New(rand.NewSource(1)), 1)
	y := []*imgtools.Array{imgtools.NewArray(4, 4, 3)}
	if _, _, err := f.Optimize(x, y); !errors.Is(err, imgtools.ErrShapeMismatch) {
		t.Errorf("got %v, want ErrShapeMismatch", err)
	}
	if _, err := f.Infer([]*imgtools.Array{imgtools.NewArray(2, 2, 5)}); !errors.Is(err, imgtools.ErrShapeMismatch) {
		t.Errorf("got %v, want ErrShapeMismatch", err)
	}
}

func TestInferIsDeterministic(t *testing.T) {
	f, err := New(testOptions(UnetDropout))
	if err != nil {
		t.Fatal(err)
	}
	x, _ := toyBatch(rand.New(rand.NewSource(5)), 2)
	a, err := f.Infer(x)
	if err != nil {
		t.Fatal(err)
	}
	b, err := f.Infer(x)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("inference with dropout model is not deterministic")
	}
	if a[1].Height != 4 || a[1].Width != 4 || a[1].Channels != 1 {
		t.Errorf("got %v", a[1])
	}
}

func TestSaveLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ckpt")
	trained, err := New(testOptions(Unet))
	if err != nil {
		t.Fatal(err)
	}
	x, y := toyBatch(rand.New(rand.NewSource(1)), 2)
	for i := 0; i < 5; i++ {
		if _, _, err := trained.Optimize(x, y); err != nil {
			t.Fatal(err)
		}
	}
	if err := trained.Save(dir, 5); err != nil {
		t.Fatal(err)
	}

	opts := testOptions(Unet)
	opts.Seed = 99
	restored, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}
	if err := restored.Load(dir, 5); err != nil {
		t.Fatal(err)
	}

	want, _ := trained.Infer(x)
	got, _ := restored.Infer(x)
	if !reflect.DeepEqual(got, want) {
		t.Error("restored model predicts differently")
	}

	// both continue identically from the restored optimizer state
	_, wantLoss, _ := trained.Optimize(x, y)
	_, gotLoss, _ := restored.Optimize(x, y)
	if wantLoss != gotLoss {
		t.Errorf("loss after restore got %v, want %v", gotLoss, wantLoss)
	}

	if err := restored.Load(dir, 6); err == nil {
		t.Error("expected an error for a missing epoch")
	}
	wrong, _ := New(testOptions(UnetDropout))
	if err := wrong.Load(dir, 5); err == nil {
		t.Error("expected an error loading a Unet checkpoint into UnetDropout")
	}
}

func TestCalculateMetrics(t *testing.T) {
	half := 0.5
	f := &Framework{opts: Options{Metrics: []MetricOptions{
		{Kind: IoU, Threshold: &half},
		{Kind: Precision},
		{Kind: Recall, Threshold: &half},
	}}}

	// one image, two channels, four pixels
	yHat := imgtools.NewArray(1, 4, 2)
	copy(yHat.Data, []float64{
		5, -5,
		5, 0,
		-5, 3,
		-5, -5,
	})
	y := imgtools.NewArray(1, 4, 2)
	copy(y.Data, []float64{
		1, 0,
		0, 0,
		1, 1,
		0, 0,
	})

	got, err := f.CalculateMetrics([]*imgtools.Array{yHat, yHat}, []*imgtools.Array{y, y})
	if err != nil {
		t.Fatal(err)
	}
	// channel 0 thresholded: tp=1 fp=1 fn=1; channel 1 thresholded: tp=1, sigmoid(0) is not above 0.5
	// iou: (1/3 + 1)/2 per image; precision without threshold: ch0 1/2, ch1 1/3 (three non-zero logits)
	want := []float64{
		2 * (1.0/3 + 1) / 2,
		2 * (0.5 + 1.0/3) / 2,
		2 * (0.5 + 1) / 2,
	}
	for i := range want {
		if math.Abs(got[i]-want[i]) > 1e-12 {
			t.Errorf("metric %d got %v, want %v", i, got[i], want[i])
		}
	}

	if _, err := f.CalculateMetrics([]*imgtools.Array{yHat}, []*imgtools.Array{y, y}); !errors.Is(err, imgtools.ErrShapeMismatch) {
		t.Errorf("got %v, want ErrShapeMismatch", err)
	}
}

func TestEmptyChannelScores(t *testing.T) {
	empty := confusion{tn: 4}
	for _, kind := range []MetricKind{Precision, Recall, IoU, Dice, PixelAcc} {
		if got := empty.score(kind); got != 1 {
			t.Errorf("%v on empty channel got %v, want 1", kind, got)
		}
	}
	missed := confusion{fn: 2, tn: 2}
	if missed.score(Precision) != 0 || missed.score(Recall) != 0 || missed.score(Dice) != 0 {
		t.Errorf("missed positives should score 0")
	}
}

func TestValOperationsReducesLR(t *testing.T) {
	f, err := New(testOptions(Unet))
	if err != nil {
		t.Fatal(err)
	}
	f.scheduler.Patience = 2
	for _, loss := range []float64{1, 1, 1, 1} {
		f.ValOperations(loss)
	}
	if got := f.LR(); math.Abs(got-0.005) > 1e-12 {
		t.Errorf("lr got %v, want 0.005", got)
	}

	f.scheduler.MinLR = 0.004
	for i := 0; i < 3; i++ {
		f.ValOperations(1)
	}
	if got := f.LR(); got != 0.004 {
		t.Errorf("lr got %v, want the floor 0.004", got)
	}
}

func TestBatchesAndRunEpoch(t *testing.T) {
	x, y := toyBatch(rand.New(rand.NewSource(4)), 5)
	batches := Batches(x, y, 2)
	if len(batches) != 3 || len(batches[2].X) != 1 {
		t.Fatalf("got %d batches", len(batches))
	}

	f, err := New(testOptions(Unet))
	if err != nil {
		t.Fatal(err)
	}
	res, err := f.RunEpoch(batches, true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Samples != 5 || len(res.Metrics) != 2 {
		t.Errorf("got %+v", res)
	}
	for _, m := range res.MeanMetrics() {
		if m < 0 || m > 1 {
			t.Errorf("mean metric %v outside [0, 1]", m)
		}
	}
	val, err := f.RunEpoch(batches, false)
	if err != nil {
		t.Fatal(err)
	}
	if val.Loss <= 0 {
		t.Errorf("val loss %v", val.Loss)
	}
}
