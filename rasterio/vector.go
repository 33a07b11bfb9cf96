package rasterio

import (
	"errors"
	"fmt"
	"math"

	"glacier-tools/imgtools"

	"github.com/airbusgeo/godal"
	"github.com/sirupsen/logrus"
)

// Mask rasterizes the polygons of a vector file on the raster grid. Inside
// the polygons, pixels whose first band is positive become 1 (NaN counts as
// nanValue); everything else is 0. Vector data in another CRS is reprojected
// to the raster CRS.
func (r *Raster) Mask(vectorPath string, nanValue float64, numWorkers int) (*imgtools.Array, error) {
	inside, err := r.footprint(vectorPath)
	if err != nil {
		return nil, err
	}
	img, err := r.ReadArray(numWorkers)
	if err != nil {
		return nil, err
	}

	mask := imgtools.NewArray(img.Height, img.Width, 1)
	for pix := range mask.Data {
		if inside[pix] == 0 {
			continue
		}
		value := img.Data[pix*img.Channels]
		if math.IsNaN(value) {
			value = nanValue
		}
		if value > 0 {
			mask.Data[pix] = 1
		}
	}
	return mask, nil
}

// Crop zeroes every band outside the polygons of a vector file, keeping the
// raster extent.
func (r *Raster) Crop(vectorPath string, numWorkers int) (*imgtools.Array, error) {
	inside, err := r.footprint(vectorPath)
	if err != nil {
		return nil, err
	}
	img, err := r.ReadArray(numWorkers)
	if err != nil {
		return nil, err
	}
	for pix := 0; pix < img.Pixels(); pix++ {
		if inside[pix] != 0 {
			continue
		}
		for ch := 0; ch < img.Channels; ch++ {
			img.Data[pix*img.Channels+ch] = 0
		}
	}
	return img, nil
}

// footprint burns the vector polygons into an in-memory band aligned with r.
func (r *Raster) footprint(vectorPath string) (inside []byte, err error) {
	h, w := r.Size()
	rasterSRS, err := r.SpatialRef()
	if err != nil {
		return nil, err
	}
	if rasterSRS != nil {
		defer rasterSRS.Close()
	}

	mem, err := godal.Create(godal.Memory, "", 1, godal.Byte, w, h)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, mem.Close())
	}()
	if err := mem.SetGeoTransform(r.gt); err != nil {
		return nil, err
	}
	if rasterSRS != nil {
		if err := mem.SetSpatialRef(rasterSRS); err != nil {
			return nil, err
		}
	}

	burned, err := burnVector(vectorPath, rasterSRS, mem)
	if err != nil {
		return nil, err
	}
	logrus.Infof("Burned %d geometries from %s", burned, vectorPath)

	inside = make([]byte, w*h)
	if err := mem.Bands()[0].Read(0, 0, inside, w, h); err != nil {
		return nil, err
	}
	return inside, nil
}

func burnVector(vectorPath string, dstSRS *godal.SpatialRef, mem *godal.Dataset) (n int, err error) {
	vds, err := godal.Open(vectorPath, godal.VectorOnly())
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", vectorPath, err)
	}
	defer func() {
		err = errors.Join(err, vds.Close())
	}()

	for _, layer := range vds.Layers() {
		reproject := needsReprojection(layer.SpatialRef(), dstSRS)
		if reproject {
			logrus.Debugf("Reprojecting %s to raster CRS", vectorPath)
		}
		layer.ResetReading()
		for feat := layer.NextFeature(); feat != nil; feat = layer.NextFeature() {
			if err := burnFeature(feat, reproject, dstSRS, mem); err != nil {
				return n, err
			}
			n++
		}
	}
	return n, nil
}

func burnFeature(feat *godal.Feature, reproject bool, dstSRS *godal.SpatialRef, mem *godal.Dataset) error {
	defer feat.Close()
	geom := feat.Geometry()
	if geom == nil || geom.Empty() {
		return nil
	}
	defer geom.Close()
	if reproject {
		if err := geom.Reproject(dstSRS); err != nil {
			return err
		}
	}
	return mem.RasterizeGeometry(geom, godal.Values(1))
}

func needsReprojection(src, dst *godal.SpatialRef) bool {
	if src == nil || dst == nil {
		return false
	}
	return !src.IsSame(dst)
}
