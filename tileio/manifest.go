package tileio

import (
	"errors"
	"fmt"
	"os"

	"github.com/golang/geo/s2"
	"github.com/parquet-go/parquet-go"
	"github.com/sirupsen/logrus"
)

const (
	SplitTrain = "train"
	SplitVal   = "val"
)

// TileRow describes one exported tile.
type TileRow struct {
	Index     int64   `parquet:"index"`
	Row       int32   `parquet:"row"`
	Col       int32   `parquet:"col"`
	Height    int32   `parquet:"height"`
	Width     int32   `parquet:"width"`
	S2id      int64   `parquet:"s2_id"`
	Lat       float64 `parquet:"lat"`
	Lng       float64 `parquet:"lng"`
	Coverage  float64 `parquet:"coverage"`
	Split     string  `parquet:"split"`
	ImagePath string  `parquet:"image_path"`
	MaskPath  string  `parquet:"mask_path"`
}

// S2Cell keys a tile centre to its S2 cell at the given level.
func S2Cell(lat, lng float64, level int) s2.CellID {
	return s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lng)).Parent(level)
}

func WriteManifest(path string, rows []TileRow) (err error) {
	output, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, output.Close())
	}()

	schema := parquet.SchemaOf(new(TileRow))
	writer := parquet.NewGenericWriter[TileRow](output, schema, parquet.Compression(&parquet.Snappy))
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("write manifest rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return err
	}
	logrus.Infof("Wrote %d tiles to %s", len(rows), path)
	return nil
}

func ReadManifest(path string) ([]TileRow, error) {
	rows, err := parquet.ReadFile[TileRow](path)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	return rows, nil
}

// Split returns the rows belonging to one split, in manifest order.
func Split(rows []TileRow, split string) []TileRow {
	var out []TileRow
	for _, row := range rows {
		if row.Split == split {
			out = append(out, row)
		}
	}
	return out
}
