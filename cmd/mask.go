package cmd

import (
	"errors"

	"glacier-tools/rasterio"

	"github.com/airbusgeo/godal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// maskCmd represents the mask command
var maskCmd = &cobra.Command{
	Use:   "mask [tif_file] [vector_file] [output_tif]",
	Short: "Rasterize glacier outlines into a binary mask",
	Long: `Burn the polygons of a vector file (shapefile, GeoJSON, GeoPackage...)
	onto the grid of a GeoTIFF. Pixels inside a polygon whose first band is
	positive become 1, all others 0. Outlines in another CRS are reprojected
	to the raster CRS.

	Options:
		--nanValue:   Value substituted for NaN pixels before thresholding.
		--numWorkers: Number of workers reading raster blocks.`,
	Args:    cobra.ExactArgs(3),
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		r, err := rasterio.Open(args[0])
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, r.Close())
		}()

		mask, err := r.Mask(args[1], viper.GetFloat64("nanValue"), viper.GetInt("numWorkers"))
		if err != nil {
			return err
		}
		logrus.Infof("Writing mask %v to %s", mask, args[2])
		return rasterio.WriteScene(args[2], mask, r, godal.Byte)
	},
}

// cropCmd represents the crop command
var cropCmd = &cobra.Command{
	Use:   "crop [tif_file] [vector_file] [output_tif]",
	Short: "Zero every band outside the vector outlines",
	Args:    cobra.ExactArgs(3),
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		r, err := rasterio.Open(args[0])
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, r.Close())
		}()

		cropped, err := r.Crop(args[1], viper.GetInt("numWorkers"))
		if err != nil {
			return err
		}
		return rasterio.WriteScene(args[2], cropped, r, r.DataType())
	},
}

func init() {
	rootCmd.AddCommand(maskCmd)
	rootCmd.AddCommand(cropCmd)

	maskCmd.Flags().Float64("nanValue", 0, "Value substituted for NaN pixels")
	for _, c := range []*cobra.Command{maskCmd, cropCmd} {
		c.Flags().IntP("numWorkers", "n", 8, "Number of workers to spawn for parallel reads")
	}
}
