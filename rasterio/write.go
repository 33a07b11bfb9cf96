package rasterio

import (
	"errors"
	"fmt"

	"glacier-tools/imgtools"

	"github.com/airbusgeo/godal"
	"github.com/sirupsen/logrus"
)

// WriteArray writes arr as a tiled GeoTIFF georeferenced on the given window
// of r. A nil raster writes an ungeoreferenced file.
func WriteArray(path string, arr *imgtools.Array, r *Raster, w imgtools.Window, dtype godal.DataType) (err error) {
	godal.RegisterAll()
	ds, err := godal.Create(
		godal.GTiff,
		path,
		arr.Channels,
		dtype,
		arr.Width,
		arr.Height,
		godal.CreationOption("TILED=YES", "COMPRESS=DEFLATE"),
	)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		err = errors.Join(err, ds.Close())
	}()

	if r != nil {
		if err := ds.SetGeoTransform(r.WindowGeoTransform(w)); err != nil {
			return err
		}
		sr, err := r.SpatialRef()
		if err != nil {
			return err
		}
		if sr != nil {
			defer sr.Close()
			if err := ds.SetSpatialRef(sr); err != nil {
				return err
			}
		}
	}

	if err := ds.Write(0, 0, arr.Data, arr.Width, arr.Height); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	logrus.Debugf("Wrote %v to %s", arr, path)
	return nil
}

// WriteScene writes arr over the full extent of r.
func WriteScene(path string, arr *imgtools.Array, r *Raster, dtype godal.DataType) error {
	return WriteArray(path, arr, r, imgtools.Window{Height: arr.Height, Width: arr.Width}, dtype)
}

// ReadFile opens a GeoTIFF, reads it completely and closes it.
func ReadFile(path string, numWorkers int) (arr *imgtools.Array, err error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = errors.Join(err, r.Close())
	}()
	return r.ReadArray(numWorkers)
}
