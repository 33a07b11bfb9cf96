package rasterio

import (
	"fmt"

	"glacier-tools/imgtools"

	"github.com/airbusgeo/godal"
)

// WindowCenter returns the WGS84 coordinates of the centre of a window.
func (r *Raster) WindowCenter(w imgtools.Window) (Point, error) {
	gt := r.gt
	col := float64(w.Col) + float64(w.Width)/2
	row := float64(w.Row) + float64(w.Height)/2
	x := gt[0] + col*gt[1] + row*gt[2]
	y := gt[3] + col*gt[4] + row*gt[5]

	srcSRS, err := r.SpatialRef()
	if err != nil {
		return Point{}, err
	}
	if srcSRS == nil {
		// ungeoreferenced scenes are assumed to be in degrees already
		return Point{Lat: y, Lng: x}, nil
	}
	defer srcSRS.Close()

	wgs84, err := godal.NewSpatialRefFromEPSG(4326)
	if err != nil {
		return Point{}, err
	}
	defer wgs84.Close()

	geom, err := godal.NewGeometryFromWKT(fmt.Sprintf("POINT (%v %v)", x, y), srcSRS)
	if err != nil {
		return Point{}, err
	}
	defer geom.Close()
	if !srcSRS.IsSame(wgs84) {
		if err := geom.Reproject(wgs84); err != nil {
			return Point{}, err
		}
	}
	bounds, err := geom.Bounds()
	if err != nil {
		return Point{}, err
	}
	return Point{Lat: bounds[1], Lng: bounds[0]}, nil
}
