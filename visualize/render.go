// Package visualize renders scenes and masks to PNG for quick inspection.
package visualize

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"

	"glacier-tools/imgtools"

	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Landsat7Bands names the ten bands of a stacked Landsat 7 scene.
var Landsat7Bands = []string{
	"Blue", "Green", "Red", "Near infrared",
	"Shortwave infrared 1", "Low-gain Thermal Infrared",
	"High-gain Thermal Infrared",
	"Shortwave infrared 2", "Panchromatic", "BQA",
}

// Colours for mask classes 0 (background), 1 (clean ice) and 2 (debris).
var classPalette = []string{"#000000", "#4fc3f7", "#a1887f"}

const (
	panelSize    = 256
	titleHeight  = 18
	overlayAlpha = 0.5
)

// SatRGB composes three bands into an RGB image, clamping values to 0..255.
// channelFirst treats the array as (bands, rows, cols) packed into Height,
// Width and Channels.
func SatRGB(img *imgtools.Array, indices [3]int, channelFirst bool) (*image.RGBA, error) {
	if channelFirst {
		img = moveAxis(img)
	}
	for _, b := range indices {
		if b < 0 || b >= img.Channels {
			return nil, fmt.Errorf("band %d out of range for %v", b, img)
		}
	}
	out := image.NewRGBA(image.Rect(0, 0, img.Width, img.Height))
	for r := 0; r < img.Height; r++ {
		for c := 0; c < img.Width; c++ {
			out.SetRGBA(c, r, color.RGBA{
				R: clampByte(img.At(r, c, indices[0])),
				G: clampByte(img.At(r, c, indices[1])),
				B: clampByte(img.At(r, c, indices[2])),
				A: 255,
			})
		}
	}
	return out, nil
}

// moveAxis turns a (C, H, W) layout stored as Height=C, Width=H, Channels=W
// into channels-last (H, W, C).
func moveAxis(img *imgtools.Array) *imgtools.Array {
	bands, h, w := img.Height, img.Width, img.Channels
	out := imgtools.NewArray(h, w, bands)
	for b := 0; b < bands; b++ {
		for r := 0; r < h; r++ {
			for c := 0; c < w; c++ {
				out.Set(r, c, b, img.Data[(b*h+r)*w+c])
			}
		}
	}
	return out
}

func clampByte(v float64) uint8 {
	if math.IsNaN(v) || v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}

// BandGray stretches one band between its min and max into a grayscale image.
func BandGray(img *imgtools.Array, band int) (*image.Gray, error) {
	b, err := img.Band(band)
	if err != nil {
		return nil, err
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range b.Data {
		if math.IsNaN(v) {
			continue
		}
		lo, hi = math.Min(lo, v), math.Max(hi, v)
	}
	out := image.NewGray(image.Rect(0, 0, b.Width, b.Height))
	for pix, v := range b.Data {
		var y uint8
		if hi > lo && !math.IsNaN(v) {
			y = uint8(math.Round(255 * (v - lo) / (hi - lo)))
		}
		out.Pix[pix] = y
	}
	return out, nil
}

func classColors() ([]colorful.Color, error) {
	palette := make([]colorful.Color, len(classPalette))
	for i, hex := range classPalette {
		c, err := colorful.Hex(hex)
		if err != nil {
			return nil, err
		}
		palette[i] = c
	}
	return palette, nil
}

func classOf(v float64, n int) int {
	class := int(v)
	if class < 0 || class >= n {
		class = n - 1
	}
	return class
}

// MaskImage colours a single-channel class mask.
func MaskImage(mask *imgtools.Array) (*image.RGBA, error) {
	if !mask.Is2D() {
		return nil, fmt.Errorf("mask %v must have one channel", mask)
	}
	palette, err := classColors()
	if err != nil {
		return nil, err
	}
	out := image.NewRGBA(image.Rect(0, 0, mask.Width, mask.Height))
	for pix, v := range mask.Data {
		r, g, b := palette[classOf(v, len(palette))].RGB255()
		out.SetRGBA(pix%mask.Width, pix/mask.Width, color.RGBA{R: r, G: g, B: b, A: 255})
	}
	return out, nil
}

// Overlay blends the class colours of mask over an image, alpha being the
// weight of the class colour. Background pixels are copied unchanged.
func Overlay(img image.Image, mask *imgtools.Array, alpha float64) (*image.RGBA, error) {
	b := img.Bounds()
	if !mask.Is2D() || mask.Width != b.Dx() || mask.Height != b.Dy() {
		return nil, fmt.Errorf("mask %v over a %dx%d image: %w", mask, b.Dx(), b.Dy(), imgtools.ErrShapeMismatch)
	}
	palette, err := classColors()
	if err != nil {
		return nil, err
	}
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for pix, v := range mask.Data {
		x, y := pix%mask.Width, pix/mask.Width
		base, _ := colorful.MakeColor(img.At(b.Min.X+x, b.Min.Y+y))
		if class := classOf(v, len(palette)); class > 0 {
			base = base.BlendRgb(palette[class], alpha).Clamped()
		}
		r, g, bl := base.RGB255()
		out.SetRGBA(x, y, color.RGBA{R: r, G: g, B: bl, A: 255})
	}
	return out, nil
}

// BandGrid lays out every band as a titled panel, cols panels per row. With
// no names, bands are numbered from 1.
func BandGrid(img *imgtools.Array, names []string, cols int) (*image.RGBA, error) {
	if cols < 1 {
		cols = 5
	}
	rows := (img.Channels + cols - 1) / cols
	out := image.NewRGBA(image.Rect(0, 0, cols*panelSize, rows*(panelSize+titleHeight)))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)

	for b := 0; b < img.Channels; b++ {
		gray, err := BandGray(img, b)
		if err != nil {
			return nil, err
		}
		title := fmt.Sprintf("%d band", b+1)
		if b < len(names) {
			title = names[b] + " band"
		}
		drawPanel(out, gray, title, b/cols, b%cols)
	}
	return out, nil
}

// SatMaskPanel places the RGB composite, the mask, the mask blended over the
// composite and, when given, a borders raster side by side.
func SatMaskPanel(img, mask, borders *imgtools.Array) (*image.RGBA, error) {
	rgb, err := SatRGB(img, [3]int{0, 1, 2}, false)
	if err != nil {
		return nil, err
	}
	panels := []image.Image{rgb}
	titles := []string{"RGB"}

	maskImg, err := MaskImage(mask)
	if err != nil {
		return nil, err
	}
	overlay, err := Overlay(rgb, mask, overlayAlpha)
	if err != nil {
		return nil, err
	}
	panels = append(panels, maskImg, overlay)
	titles = append(titles, "Binary Mask", "Overlay")

	if borders != nil {
		bordersImg, err := MaskImage(borders)
		if err != nil {
			return nil, err
		}
		panels = append(panels, bordersImg)
		titles = append(titles, "Country Borders")
	}

	out := image.NewRGBA(image.Rect(0, 0, len(panels)*panelSize, panelSize+titleHeight))
	draw.Draw(out, out.Bounds(), image.White, image.Point{}, draw.Src)
	for i, p := range panels {
		drawPanel(out, p, titles[i], 0, i)
	}
	return out, nil
}

func drawPanel(dst *image.RGBA, src image.Image, title string, row, col int) {
	x0 := col * panelSize
	y0 := row * (panelSize + titleHeight)
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x0+4, y0+13),
	}
	d.DrawString(title)
	rect := image.Rect(x0, y0+titleHeight, x0+panelSize, y0+titleHeight+panelSize)
	draw.NearestNeighbor.Scale(dst, rect, src, src.Bounds(), draw.Src, nil)
}

func SavePNG(path string, img image.Image) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	return png.Encode(f, img)
}
