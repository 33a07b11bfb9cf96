// Package rasterio reads and writes GeoTIFF scenes as imgtools arrays and
// derives masks from vector outlines.
package rasterio

import (
	"errors"
	"fmt"
	"sync"

	"glacier-tools/imgtools"

	"github.com/airbusgeo/godal"
	"github.com/sirupsen/logrus"
)

type Point struct {
	Lat float64
	Lng float64
}

// Raster wraps an open dataset together with its georeferencing. The
// geotransform and projection are cached at open so workers never touch the
// dataset except through the locked reads.
type Raster struct {
	DS     *godal.Dataset
	Origin Point
	XRes   float64
	YRes   float64
	gt     [6]float64
	wkt    string
	mu     sync.Mutex
}

func Open(path string) (*Raster, error) {
	godal.RegisterAll()
	ds, err := godal.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	origin, xRes, yRes, err := getOriginAndResolution(ds)
	if err != nil {
		return nil, errors.Join(err, ds.Close())
	}
	gt, _ := ds.GeoTransform()
	return &Raster{
		DS:     ds,
		Origin: origin,
		XRes:   xRes,
		YRes:   yRes,
		gt:     gt,
		wkt:    ds.Projection(),
	}, nil
}

// SpatialRef returns a new handle on the raster CRS, or nil for an
// ungeoreferenced raster. The caller closes it.
func (r *Raster) SpatialRef() (*godal.SpatialRef, error) {
	if r.wkt == "" {
		return nil, nil
	}
	return godal.NewSpatialRefFromWKT(r.wkt)
}

func (r *Raster) DataType() godal.DataType {
	return r.DS.Structure().DataType
}

func (r *Raster) Close() error {
	return r.DS.Close()
}

func (r *Raster) Size() (int, int) {
	struc := r.DS.Structure()
	return struc.SizeY, struc.SizeX
}

func (r *Raster) NumBands() int {
	return r.DS.Structure().NBands
}

// ReadArray reads every band block by block with a pool of workers.
func (r *Raster) ReadArray(numWorkers int) (*imgtools.Array, error) {
	if numWorkers < 1 {
		numWorkers = 1
	}
	struc := r.DS.Structure()
	out := imgtools.NewArray(struc.SizeY, struc.SizeX, struc.NBands)

	done := make(chan struct{})
	defer close(done)
	blocks := genBlocks(r, done)

	var wg sync.WaitGroup
	errCh := make(chan error, numWorkers)
	wg.Add(numWorkers)
	for i := 0; i < numWorkers; i++ {
		go func() {
			defer wg.Done()
			if err := readBlocks(r, blocks, out); err != nil {
				errCh <- err
			}
		}()
	}
	wg.Wait()
	close(errCh)

	var err error
	for e := range errCh {
		err = errors.Join(err, e)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadWindow reads all bands of a window.
func (r *Raster) ReadWindow(w imgtools.Window) (*imgtools.Array, error) {
	out := imgtools.NewArray(w.Height, w.Width, r.NumBands())
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.DS.Read(w.Col, w.Row, out.Data, w.Width, w.Height); err != nil {
		return nil, fmt.Errorf("read window %+v: %w", w, err)
	}
	return out, nil
}

// Produce blocks from the dataset, putting them in a channel to be consumed
// downstream.
func genBlocks(r *Raster, done <-chan struct{}) <-chan godal.Block {
	logrus.Debug("Entered genBlocks")

	blocks := make(chan godal.Block)
	firstBlock := r.DS.Structure().FirstBlock()
	go func() {
		defer close(blocks)
		for block, ok := firstBlock, true; ok; block, ok = block.Next() {
			select {
			case blocks <- block:
			case <-done:
				return
			}
		}
	}()
	return blocks
}

// readBlocks drains the block channel even after a failure so the producer
// never blocks; only the first error is reported.
func readBlocks(r *Raster, blocks <-chan godal.Block, out *imgtools.Array) error {
	var firstErr error
	for block := range blocks {
		if firstErr != nil {
			continue
		}
		logrus.Debugf("Reading block at [%v, %v]", block.X0, block.Y0)
		w := imgtools.Window{Row: block.Y0, Col: block.X0, Height: block.H, Width: block.W}
		buf, err := r.ReadWindow(w)
		if err != nil {
			firstErr = err
			continue
		}
		// windows never overlap, so workers may paste concurrently
		if err := out.Paste(buf, w); err != nil {
			firstErr = err
		}
	}
	return firstErr
}

// WindowGeoTransform shifts the raster geotransform to a window origin.
func (r *Raster) WindowGeoTransform(w imgtools.Window) [6]float64 {
	gt := r.gt
	gt[0] += float64(w.Col)*gt[1] + float64(w.Row)*gt[2]
	gt[3] += float64(w.Col)*gt[4] + float64(w.Row)*gt[5]
	return gt
}

func getOriginAndResolution(ds *godal.Dataset) (Point, float64, float64, error) {
	gt, err := ds.GeoTransform()
	if err != nil {
		logrus.Error(err)
		return Point{}, 0, 0, err
	}
	origin := Point{gt[3], gt[0]}
	xRes := gt[1]
	yRes := gt[5]
	return origin, xRes, yRes, nil
}
