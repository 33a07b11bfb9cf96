package imgtools

import "fmt"

// Band positions of the green and shortwave infrared channels in the
// stacked Landsat scenes the toolkit was built around.
const (
	DefaultGreenBand = 1
	DefaultSWIRBand  = 4
)

// SnowIndex computes the normalized difference (green - swir) / (green + swir)
// per pixel. Pixels where the denominator is zero are left at 0.
func SnowIndex(img *Array, green, swir int) (*Array, error) {
	for _, b := range []int{green, swir} {
		if b < 0 || b >= img.Channels {
			return nil, fmt.Errorf("snow index band %d out of range for %v", b, img)
		}
	}
	index := NewArray(img.Height, img.Width, 1)
	for pix := 0; pix < img.Pixels(); pix++ {
		g := img.Data[pix*img.Channels+green]
		s := img.Data[pix*img.Channels+swir]
		if denom := g + s; denom != 0 {
			index.Data[pix] = (g - s) / denom
		}
	}
	return index, nil
}

// Threshold marks pixels strictly above t with 1.
func Threshold(index *Array, t float64) *Array {
	out := NewArray(index.Height, index.Width, index.Channels)
	for i, v := range index.Data {
		if v > t {
			out.Data[i] = 1
		}
	}
	return out
}

// SnowMask is SnowIndex on the default bands followed by Threshold.
func SnowMask(img *Array, t float64) (*Array, error) {
	index, err := SnowIndex(img, DefaultGreenBand, DefaultSWIRBand)
	if err != nil {
		return nil, err
	}
	return Threshold(index, t), nil
}

// DebrisMask marks glacier pixels (mask == 1) that are not snow covered.
func DebrisMask(img, mask *Array, t float64) (*Array, error) {
	snow, err := maskedSnow(img, mask, t)
	if err != nil {
		return nil, err
	}
	out := NewArray(mask.Height, mask.Width, 1)
	for pix := range out.Data {
		if snow.Data[pix] == 0 && mask.Data[pix] == 1 {
			out.Data[pix] = 1
		}
	}
	return out, nil
}

// HybridMask splits glacier pixels into clean ice (1) and debris (2).
func HybridMask(img, mask *Array, t float64) (*Array, error) {
	snow, err := maskedSnow(img, mask, t)
	if err != nil {
		return nil, err
	}
	out := NewArray(mask.Height, mask.Width, 1)
	for pix := range out.Data {
		if mask.Data[pix] != 1 {
			continue
		}
		if snow.Data[pix] == 1 {
			out.Data[pix] = 1
		} else {
			out.Data[pix] = 2
		}
	}
	return out, nil
}

func maskedSnow(img, mask *Array, t float64) (*Array, error) {
	if !sameExtent(img, mask) || !mask.Is2D() {
		return nil, fmt.Errorf("image %v, mask %v: %w", img, mask, ErrShapeMismatch)
	}
	return SnowMask(img, t)
}

// GetBg appends a background channel to a mask so it becomes one-hot.
// Channel 0 is the foreground (any non-zero channel), channel 1 its negation.
func GetBg(mask *Array) *Array {
	out := NewArray(mask.Height, mask.Width, 2)
	for pix := 0; pix < mask.Pixels(); pix++ {
		fg := false
		for ch := 0; ch < mask.Channels; ch++ {
			if mask.Data[pix*mask.Channels+ch] != 0 {
				fg = true
				break
			}
		}
		if fg {
			out.Data[pix*2] = 1
		} else {
			out.Data[pix*2+1] = 1
		}
	}
	return out
}
