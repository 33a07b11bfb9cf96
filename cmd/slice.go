package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"glacier-tools/imgtools"
	"glacier-tools/rasterio"
	"glacier-tools/tileio"

	"github.com/airbusgeo/godal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const manifestName = "manifest.parquet"

// sliceCmd represents the slice command
var sliceCmd = &cobra.Command{
	Use:   "slice [tif_file] [mask_tif] [output_dir]",
	Short: "Cut a scene and its mask into equally sized tiles",
	Long: `Cut a GeoTIFF and its mask into tiles of --tileSize pixels. The last
	row and column of tiles are shifted inward so every tile has the same
	size. Each tile is written as a georeferenced GeoTIFF next to its mask,
	and a parquet manifest records the windows, the S2 cell of each tile
	centre and the aggregated mask coverage.

	Options:
		--numWorkers: Number of workers writing tiles.
		--s2Lvl:      S2 cell level used to key tile centres.
		--aggFunc:    Statistic of the mask recorded as coverage. Default is
		              the mean, choose from: mean, sum, max, min
		--valEvery:   Every n-th tile goes to the validation split, 0 for none.`,
	Args:    cobra.ExactArgs(3),
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := sliceOpts{
			TileSize:   viper.GetInt("tileSize"),
			NumWorkers: viper.GetInt("numWorkers"),
			S2Lvl:      viper.GetInt("s2Lvl"),
			AggFunc:    imgtools.ParseAggFunc(viper.GetString("aggFunc")),
			ValEvery:   viper.GetInt("valEvery"),
		}
		return sliceScene(args[0], args[1], args[2], opts)
	},
}

type sliceOpts struct {
	TileSize   int
	NumWorkers int
	S2Lvl      int
	AggFunc    imgtools.AggFunc
	ValEvery   int
}

type tileJob struct {
	index  int
	window imgtools.Window
}

func sliceScene(scenePath, maskPath, outDir string, opts sliceOpts) (err error) {
	if opts.NumWorkers < 1 {
		opts.NumWorkers = 1
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return err
	}

	r, err := rasterio.Open(scenePath)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, r.Close())
	}()

	mask, err := rasterio.ReadFile(maskPath, opts.NumWorkers)
	if err != nil {
		return err
	}
	h, w := r.Size()
	if mask.Height != h || mask.Width != w {
		return fmt.Errorf("mask %v does not cover scene of %dx%d: %w", mask, h, w, imgtools.ErrShapeMismatch)
	}

	windows, err := imgtools.TileWindows(h, w, imgtools.Size{Height: opts.TileSize, Width: opts.TileSize})
	if err != nil {
		return err
	}
	logrus.Infof("Cutting %s into %d tiles", scenePath, len(windows))

	jobs := make(chan tileJob)
	go func() {
		defer close(jobs)
		for i, win := range windows {
			jobs <- tileJob{i, win}
		}
	}()

	rows := make([]tileio.TileRow, len(windows))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs error
	wg.Add(opts.NumWorkers)
	for i := 0; i < opts.NumWorkers; i++ {
		go func() {
			defer wg.Done()
			for job := range jobs {
				row, err := exportTile(r, mask, outDir, job, opts)
				if err != nil {
					logrus.Error(err)
					mu.Lock()
					errs = errors.Join(errs, err)
					mu.Unlock()
					continue
				}
				rows[job.index] = row
			}
		}()
	}
	wg.Wait()
	if errs != nil {
		return errs
	}

	return tileio.WriteManifest(filepath.Join(outDir, manifestName), rows)
}

func exportTile(r *rasterio.Raster, mask *imgtools.Array, outDir string, job tileJob, opts sliceOpts) (tileio.TileRow, error) {
	logrus.Debugf("Exporting tile %d at %+v", job.index, job.window)
	tile, err := r.ReadWindow(job.window)
	if err != nil {
		return tileio.TileRow{}, err
	}
	tileMask := mask.Sub(job.window)

	imageName := fmt.Sprintf("image_%d.tif", job.index)
	maskName := fmt.Sprintf("mask_%d.tif", job.index)
	if err := rasterio.WriteArray(filepath.Join(outDir, imageName), tile, r, job.window, r.DataType()); err != nil {
		return tileio.TileRow{}, err
	}
	if err := rasterio.WriteArray(filepath.Join(outDir, maskName), tileMask, r, job.window, godal.Byte); err != nil {
		return tileio.TileRow{}, err
	}

	center, err := r.WindowCenter(job.window)
	if err != nil {
		return tileio.TileRow{}, err
	}

	split := tileio.SplitTrain
	if opts.ValEvery > 0 && (job.index+1)%opts.ValEvery == 0 {
		split = tileio.SplitVal
	}

	return tileio.TileRow{
		Index:     int64(job.index),
		Row:       int32(job.window.Row),
		Col:       int32(job.window.Col),
		Height:    int32(job.window.Height),
		Width:     int32(job.window.Width),
		S2id:      int64(tileio.S2Cell(center.Lat, center.Lng, opts.S2Lvl)),
		Lat:       center.Lat,
		Lng:       center.Lng,
		Coverage:  opts.AggFunc(tileMask.Data...),
		Split:     split,
		ImagePath: imageName,
		MaskPath:  maskName,
	}, nil
}

func init() {
	rootCmd.AddCommand(sliceCmd)

	sliceCmd.Flags().IntP("tileSize", "t", 512, "Tile height and width in pixels")
	sliceCmd.Flags().IntP("numWorkers", "n", 8, "Number of workers to spawn for parallel processing")
	sliceCmd.Flags().IntP("s2Lvl", "l", 11, "S2 cell level used to key tile centres")
	sliceCmd.Flags().StringP("aggFunc", "a", "mean", "Statistic of the mask recorded as coverage, choose from: mean, sum, max, min")
	sliceCmd.Flags().Int("valEvery", 5, "Every n-th tile goes to the validation split, 0 for none")
}
