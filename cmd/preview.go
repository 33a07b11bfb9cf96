package cmd

import (
	"fmt"
	"image"

	"glacier-tools/imgtools"
	"glacier-tools/rasterio"
	"glacier-tools/visualize"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// previewCmd represents the preview command
var previewCmd = &cobra.Command{
	Use:   "preview [tif_file] [output_png]",
	Short: "Render a scene as an RGB composite, optionally beside its mask",
	Long: `Render three bands of a scene as an RGB PNG. With --mask the mask (and
	--borders, when given) are drawn beside the composite. With --grid every
	band is additionally rendered as a titled grayscale panel; ten-band scenes
	are labelled with the Landsat 7 band names.`,
	Args:    cobra.ExactArgs(2),
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		workers := viper.GetInt("numWorkers")
		img, err := rasterio.ReadFile(args[0], workers)
		if err != nil {
			return err
		}

		bands := viper.GetIntSlice("rgb")
		if len(bands) != 3 {
			return fmt.Errorf("--rgb needs three band indices, got %v", bands)
		}

		var out image.Image
		if maskPath := viper.GetString("mask"); maskPath != "" {
			mask, err := rasterio.ReadFile(maskPath, workers)
			if err != nil {
				return err
			}
			var borders *imgtools.Array
			if bordersPath := viper.GetString("borders"); bordersPath != "" {
				if borders, err = rasterio.ReadFile(bordersPath, workers); err != nil {
					return err
				}
			}
			rgbOrder, err := reorderBands(img, bands)
			if err != nil {
				return err
			}
			out, err = visualize.SatMaskPanel(rgbOrder, mask, borders)
			if err != nil {
				return err
			}
		} else {
			out, err = visualize.SatRGB(img, [3]int{bands[0], bands[1], bands[2]}, false)
			if err != nil {
				return err
			}
		}
		if err := visualize.SavePNG(args[1], out); err != nil {
			return err
		}

		if gridPath := viper.GetString("grid"); gridPath != "" {
			var names []string
			if img.Channels == len(visualize.Landsat7Bands) {
				names = visualize.Landsat7Bands
			}
			grid, err := visualize.BandGrid(img, names, 5)
			if err != nil {
				return err
			}
			if err := visualize.SavePNG(gridPath, grid); err != nil {
				return err
			}
		}
		logrus.Infof("Wrote preview of %s to %s", args[0], args[1])
		return nil
	},
}

// reorderBands stacks the requested bands first so the panel's composite
// uses them.
func reorderBands(img *imgtools.Array, bands []int) (*imgtools.Array, error) {
	picked := make([]*imgtools.Array, len(bands))
	for i, b := range bands {
		band, err := img.Band(b)
		if err != nil {
			return nil, err
		}
		picked[i] = band
	}
	return imgtools.Stack(picked...)
}

func init() {
	rootCmd.AddCommand(previewCmd)

	previewCmd.Flags().IntSlice("rgb", []int{0, 1, 2}, "Zero-based bands used as red, green and blue")
	previewCmd.Flags().String("mask", "", "Mask GeoTIFF drawn beside the composite")
	previewCmd.Flags().String("borders", "", "Optional borders GeoTIFF drawn after the mask")
	previewCmd.Flags().String("grid", "", "Also write a per-band grid PNG to this path")
	previewCmd.Flags().IntP("numWorkers", "n", 8, "Number of workers to spawn for parallel reads")
}
