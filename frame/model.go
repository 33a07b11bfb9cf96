package frame

import (
	"fmt"
	"math"
	"math/rand"

	"glacier-tools/imgtools"

	"gonum.org/v1/gonum/mat"
)

// Param is a trainable tensor and its accumulated gradient.
type Param struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

func newParam(name string, r, c int) *Param {
	return &Param{Name: name, Value: mat.NewDense(r, c, nil), Grad: mat.NewDense(r, c, nil)}
}

// Model maps a batch of channels-last images to per-pixel logits.
type Model interface {
	Forward(x []*imgtools.Array, train bool) (*mat.Dense, error)
	Backward(dLogits *mat.Dense)
	Params() []*Param
	OutChannels() int
}

type ModelOptions struct {
	Kind        ModelKind
	InChannels  int
	OutChannels int
	Hidden      int
	DropoutRate float64
}

func newModel(opts ModelOptions, rng *rand.Rand) (Model, error) {
	if opts.InChannels < 1 || opts.OutChannels < 1 || opts.Hidden < 1 {
		return nil, fmt.Errorf("model %v needs positive channel counts, got %+v", opts.Kind, opts)
	}
	switch opts.Kind {
	case Unet:
		return newPixelNet(opts.InChannels, opts.OutChannels, opts.Hidden, 0, rng), nil
	case UnetDropout:
		if opts.DropoutRate < 0 || opts.DropoutRate >= 1 {
			return nil, fmt.Errorf("dropout rate %v outside [0, 1)", opts.DropoutRate)
		}
		return newPixelNet(opts.InChannels, opts.OutChannels, opts.Hidden, opts.DropoutRate, rng), nil
	default:
		return nil, &ConfigError{Field: "model name", Value: opts.Kind.String()}
	}
}

// pixelNet is a shallow encoder/decoder applied to every pixel. The encoder
// sees the pixel's own channels next to the mean of its 3x3 neighbourhood,
// which plays the part of the skip connection carrying local context.
type pixelNet struct {
	in, out, hidden int
	dropout         float64
	rng             *rand.Rand

	w1, b1, w2, b2 *Param

	// forward cache for Backward
	feat, z1, a1, keep *mat.Dense
}

func newPixelNet(in, out, hidden int, dropout float64, rng *rand.Rand) *pixelNet {
	n := &pixelNet{
		in:      in,
		out:     out,
		hidden:  hidden,
		dropout: dropout,
		rng:     rng,
		w1:      newParam("encoder.weight", hidden, 2*in),
		b1:      newParam("encoder.bias", 1, hidden),
		w2:      newParam("head.weight", out, hidden),
		b2:      newParam("head.bias", 1, out),
	}
	heInit(n.w1.Value, 2*in, rng)
	heInit(n.w2.Value, hidden, rng)
	return n
}

func heInit(w *mat.Dense, fanIn int, rng *rand.Rand) {
	std := math.Sqrt(2 / float64(fanIn))
	r, c := w.Dims()
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			w.Set(i, j, rng.NormFloat64()*std)
		}
	}
}

func (n *pixelNet) Params() []*Param {
	return []*Param{n.w1, n.b1, n.w2, n.b2}
}

func (n *pixelNet) OutChannels() int {
	return n.out
}

func (n *pixelNet) Forward(x []*imgtools.Array, train bool) (*mat.Dense, error) {
	feat, err := features(x, n.in)
	if err != nil {
		return nil, err
	}
	rows, _ := feat.Dims()

	z1 := mat.NewDense(rows, n.hidden, nil)
	z1.Mul(feat, n.w1.Value.T())
	addRowVector(z1, n.b1.Value)

	a1 := mat.NewDense(rows, n.hidden, nil)
	a1.Apply(func(_, _ int, v float64) float64 { return math.Max(v, 0) }, z1)

	var keep *mat.Dense
	if train && n.dropout > 0 {
		keep = mat.NewDense(rows, n.hidden, nil)
		scale := 1 / (1 - n.dropout)
		keep.Apply(func(_, _ int, _ float64) float64 {
			if n.rng.Float64() < n.dropout {
				return 0
			}
			return scale
		}, keep)
		a1.MulElem(a1, keep)
	}

	logits := mat.NewDense(rows, n.out, nil)
	logits.Mul(a1, n.w2.Value.T())
	addRowVector(logits, n.b2.Value)

	if train {
		n.feat, n.z1, n.a1, n.keep = feat, z1, a1, keep
	}
	return logits, nil
}

// Backward accumulates parameter gradients from the loss gradient of the
// logits produced by the last training Forward.
func (n *pixelNet) Backward(dLogits *mat.Dense) {
	var g mat.Dense
	g.Mul(dLogits.T(), n.a1)
	n.w2.Grad.Add(n.w2.Grad, &g)
	addColumnSums(n.b2.Grad, dLogits)

	var dz1 mat.Dense
	dz1.Mul(dLogits, n.w2.Value)
	dz1.Apply(func(i, j int, v float64) float64 {
		if n.z1.At(i, j) <= 0 {
			return 0
		}
		if n.keep != nil {
			return v * n.keep.At(i, j)
		}
		return v
	}, &dz1)

	var g1 mat.Dense
	g1.Mul(dz1.T(), n.feat)
	n.w1.Grad.Add(n.w1.Grad, &g1)
	addColumnSums(n.b1.Grad, &dz1)
}

// features stacks, for every pixel of every image, its channels followed by
// the mean of each channel over the in-bounds 3x3 neighbourhood.
func features(x []*imgtools.Array, in int) (*mat.Dense, error) {
	rows := 0
	for i, img := range x {
		if img.Channels != in {
			return nil, fmt.Errorf("image %d has %d channels, model expects %d: %w", i, img.Channels, in, imgtools.ErrShapeMismatch)
		}
		rows += img.Pixels()
	}
	if rows == 0 {
		return nil, fmt.Errorf("empty batch")
	}

	feat := mat.NewDense(rows, 2*in, nil)
	row := 0
	for _, img := range x {
		for r := 0; r < img.Height; r++ {
			for c := 0; c < img.Width; c++ {
				for ch := 0; ch < in; ch++ {
					feat.Set(row, ch, img.At(r, c, ch))
					feat.Set(row, in+ch, neighbourhoodMean(img, r, c, ch))
				}
				row++
			}
		}
	}
	return feat, nil
}

func neighbourhoodMean(img *imgtools.Array, r, c, ch int) float64 {
	var sum float64
	var count int
	for dr := -1; dr <= 1; dr++ {
		for dc := -1; dc <= 1; dc++ {
			rr, cc := r+dr, c+dc
			if rr < 0 || rr >= img.Height || cc < 0 || cc >= img.Width {
				continue
			}
			sum += img.At(rr, cc, ch)
			count++
		}
	}
	return sum / float64(count)
}

func addRowVector(m, v *mat.Dense) {
	m.Apply(func(_, j int, x float64) float64 { return x + v.At(0, j) }, m)
}

func addColumnSums(dst, m *mat.Dense) {
	r, c := m.Dims()
	for j := 0; j < c; j++ {
		var s float64
		for i := 0; i < r; i++ {
			s += m.At(i, j)
		}
		dst.Set(0, j, dst.At(0, j)+s)
	}
}

// toArrays splits N x C logits back into one channels-last array per image
// shaped like the inputs.
func toArrays(m *mat.Dense, like []*imgtools.Array) []*imgtools.Array {
	_, c := m.Dims()
	out := make([]*imgtools.Array, len(like))
	row := 0
	for i, img := range like {
		arr := imgtools.NewArray(img.Height, img.Width, c)
		for pix := 0; pix < img.Pixels(); pix++ {
			for ch := 0; ch < c; ch++ {
				arr.Data[pix*c+ch] = m.At(row, ch)
			}
			row++
		}
		out[i] = arr
	}
	return out
}

// fromArrays flattens channels-last targets into an N x C matrix.
func fromArrays(y []*imgtools.Array, like []*imgtools.Array, c int) (*mat.Dense, error) {
	if len(y) != len(like) {
		return nil, fmt.Errorf("%d targets for %d inputs: %w", len(y), len(like), imgtools.ErrShapeMismatch)
	}
	rows := 0
	for i := range y {
		if y[i].Height != like[i].Height || y[i].Width != like[i].Width || y[i].Channels != c {
			return nil, fmt.Errorf("target %v for input %v with %d outputs: %w", y[i], like[i], c, imgtools.ErrShapeMismatch)
		}
		rows += y[i].Pixels()
	}
	return mat.NewDense(rows, c, flatten(y, rows*c)), nil
}

func flatten(arrs []*imgtools.Array, n int) []float64 {
	data := make([]float64, 0, n)
	for _, a := range arrs {
		data = append(data, a.Data...)
	}
	return data
}
