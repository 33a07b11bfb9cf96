package rasterio

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"glacier-tools/imgtools"

	"github.com/airbusgeo/godal"
)

// 4 x 2 scene with two bands; band 0 counts 1..8, band 1 is its negation.
// The second pixel of band 0 is NaN.
func setUpRaster(t testing.TB) string {
	t.Helper()
	return setUpRasterIn(t, 4326, [6]float64{0.0, 1.0, 0.0, 0.0, 0.0, -1.0})
}

func setUpRasterIn(t testing.TB, epsg int, gt [6]float64) string {
	godal.RegisterAll()
	t.Helper()

	dsFile := filepath.Join(t.TempDir(), "scene.tif")
	ds, err := godal.Create(
		godal.GTiff,
		dsFile,
		2,
		godal.Float64,
		4,
		2,
		godal.CreationOption("TILED=YES", "BLOCKXSIZE=16", "BLOCKYSIZE=16"),
	)
	if err != nil {
		t.Fatal(err)
	}
	if err := ds.SetGeoTransform(gt); err != nil {
		t.Fatal(err)
	}
	sr, err := godal.NewSpatialRefFromEPSG(epsg)
	if err != nil {
		t.Fatal(err)
	}
	defer sr.Close()
	if err := ds.SetSpatialRef(sr); err != nil {
		t.Fatal(err)
	}

	bands := ds.Bands()
	buf := []float64{1, math.NaN(), 3, 4, 5, 6, 7, 8}
	if err := bands[0].Write(0, 0, buf, 4, 2); err != nil {
		t.Fatal(err)
	}
	neg := []float64{-1, -2, -3, -4, -5, -6, -7, -8}
	if err := bands[1].Write(0, 0, neg, 4, 2); err != nil {
		t.Fatal(err)
	}
	if err := ds.Close(); err != nil {
		t.Fatal(err)
	}
	return dsFile
}

// Polygon over the left half of the scene built by setUpRaster.
func setUpVector(t testing.TB) string {
	t.Helper()
	return setUpVectorRing(t, "[[0, 0], [2, 0], [2, -2], [0, -2], [0, 0]]")
}

func setUpVectorRing(t testing.TB, ring string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "outline.geojson")
	geojson := `{"type": "FeatureCollection", "features": [
  {"type": "Feature", "properties": {},
   "geometry": {"type": "Polygon", "coordinates": [` + ring + `]}}
]}`
	if err := os.WriteFile(path, []byte(geojson), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func openFixture(t *testing.T) *Raster {
	t.Helper()
	r, err := Open(setUpRaster(t))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := r.Close(); err != nil {
			t.Error(err)
		}
	})
	return r
}

func TestOpen(t *testing.T) {
	r := openFixture(t)
	if h, w := r.Size(); h != 2 || w != 4 {
		t.Errorf("size got (%d, %d), want (2, 4)", h, w)
	}
	if r.NumBands() != 2 {
		t.Errorf("bands got %d, want 2", r.NumBands())
	}
	if r.XRes != 1 || r.YRes != -1 || r.Origin != (Point{0, 0}) {
		t.Errorf("georeferencing got %+v %v %v", r.Origin, r.XRes, r.YRes)
	}
}

func TestReadArray(t *testing.T) {
	r := openFixture(t)
	arr, err := r.ReadArray(3)
	if err != nil {
		t.Fatal(err)
	}
	if arr.Height != 2 || arr.Width != 4 || arr.Channels != 2 {
		t.Fatalf("got %v", arr)
	}
	if arr.At(1, 3, 0) != 8 || arr.At(1, 3, 1) != -8 || arr.At(0, 1, 1) != -2 {
		t.Errorf("unexpected pixel values %v", arr.Data)
	}
	if !math.IsNaN(arr.At(0, 1, 0)) {
		t.Errorf("expected NaN at (0, 1), got %v", arr.At(0, 1, 0))
	}
}

func TestWindowGeoTransform(t *testing.T) {
	r := openFixture(t)
	gt := r.WindowGeoTransform(imgtools.Window{Row: 1, Col: 2, Height: 1, Width: 2})
	want := [6]float64{2, 1, 0, -1, 0, -1}
	if gt != want {
		t.Errorf("got %v, want %v", gt, want)
	}
}

func TestMask(t *testing.T) {
	r := openFixture(t)
	vector := setUpVector(t)

	tests := []struct {
		name     string
		nanValue float64
		want     []float64
	}{
		{"nan as background", 0, []float64{1, 0, 0, 0, 1, 1, 0, 0}},
		{"nan as glacier", 1, []float64{1, 1, 0, 0, 1, 1, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mask, err := r.Mask(vector, tt.nanValue, 1)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(mask.Data, tt.want) {
				t.Errorf("got %v, want %v", mask.Data, tt.want)
			}
		})
	}
}

func TestCrop(t *testing.T) {
	r := openFixture(t)
	cropped, err := r.Crop(setUpVector(t), 2)
	if err != nil {
		t.Fatal(err)
	}
	band, _ := cropped.Band(1)
	want := []float64{-1, -2, 0, 0, -5, -6, 0, 0}
	if !reflect.DeepEqual(band.Data, want) {
		t.Errorf("got %v, want %v", band.Data, want)
	}
}

func TestWriteArrayWindow(t *testing.T) {
	r := openFixture(t)
	w := imgtools.Window{Row: 0, Col: 2, Height: 2, Width: 2}
	tile, err := r.ReadWindow(w)
	if err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(t.TempDir(), "tile.tif")
	if err := WriteArray(out, tile, r, w, godal.Float32); err != nil {
		t.Fatal(err)
	}

	written, err := Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer written.Close()
	if written.Origin != (Point{Lat: 0, Lng: 2}) {
		t.Errorf("tile origin got %+v", written.Origin)
	}
	got, err := written.ReadArray(1)
	if err != nil {
		t.Fatal(err)
	}
	if got.At(1, 1, 0) != 8 || got.At(1, 0, 1) != -7 {
		t.Errorf("unexpected tile values %v", got.Data)
	}
}

func TestWindowCenter(t *testing.T) {
	r := openFixture(t)
	p, err := r.WindowCenter(imgtools.Window{Row: 0, Col: 0, Height: 2, Width: 4})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(p.Lat+1) > 1e-9 || math.Abs(p.Lng-2) > 1e-9 {
		t.Errorf("got %+v, want {-1 2}", p)
	}
}

// The same scene on the UTM 33N grid with 100 m pixels, origin on the
// central meridian near 45.15N.
func openUTMFixture(t *testing.T) *Raster {
	t.Helper()
	r, err := Open(setUpRasterIn(t, 32633, [6]float64{500000, 100, 0, 5000000, 0, -100}))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := r.Close(); err != nil {
			t.Error(err)
		}
	})
	return r
}

func TestMaskReprojectsVector(t *testing.T) {
	r := openUTMFixture(t)
	// lon/lat outline whose east edge, 15.0025E, lies about 196 m east of
	// the origin: between the centres of the second and third columns
	vector := setUpVectorRing(t, "[[14.99, 45.5], [15.0025, 45.5], [15.0025, 45.0], [14.99, 45.0], [14.99, 45.5]]")

	mask, err := r.Mask(vector, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	want := []float64{1, 0, 0, 0, 1, 1, 0, 0}
	if !reflect.DeepEqual(mask.Data, want) {
		t.Errorf("got %v, want %v", mask.Data, want)
	}

	cropped, err := r.Crop(vector, 2)
	if err != nil {
		t.Fatal(err)
	}
	band, _ := cropped.Band(1)
	if want := []float64{-1, -2, 0, 0, -5, -6, 0, 0}; !reflect.DeepEqual(band.Data, want) {
		t.Errorf("crop got %v, want %v", band.Data, want)
	}
}

func TestWindowCenterProjected(t *testing.T) {
	r := openUTMFixture(t)
	// centre at 200 m east, 100 m south of the origin
	p, err := r.WindowCenter(imgtools.Window{Row: 0, Col: 0, Height: 2, Width: 4})
	if err != nil {
		t.Fatal(err)
	}
	if p.Lng < 15.002 || p.Lng > 15.003 {
		t.Errorf("longitude got %v, want about 15.0025", p.Lng)
	}
	if p.Lat < 45.1 || p.Lat > 45.2 {
		t.Errorf("latitude got %v, want about 45.15", p.Lat)
	}
}
