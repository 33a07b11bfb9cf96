package cmd

import (
	"errors"

	"glacier-tools/imgtools"
	"glacier-tools/rasterio"

	"github.com/airbusgeo/godal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// snowindexCmd represents the snowindex command
var snowindexCmd = &cobra.Command{
	Use:   "snowindex [tif_file] [output_tif]",
	Short: "Compute the normalized difference snow index",
	Long: `Compute (green - swir) / (green + swir) for every pixel, 0 where the
	denominator is 0. With --thresh the output is a 0/1 snow mask instead.`,
	Args:    cobra.ExactArgs(2),
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		r, err := rasterio.Open(args[0])
		if err != nil {
			return err
		}
		defer func() {
			err = errors.Join(err, r.Close())
		}()

		img, err := r.ReadArray(viper.GetInt("numWorkers"))
		if err != nil {
			return err
		}
		index, err := imgtools.SnowIndex(img, viper.GetInt("green"), viper.GetInt("swir"))
		if err != nil {
			return err
		}
		out, dtype := snowIndexOutput(index)
		return rasterio.WriteScene(args[1], out, r, dtype)
	},
}

// snowIndexOutput thresholds the index into a mask when thresh is set, on
// the command line or in the config file.
func snowIndexOutput(index *imgtools.Array) (*imgtools.Array, godal.DataType) {
	if viper.IsSet("thresh") {
		return imgtools.Threshold(index, viper.GetFloat64("thresh")), godal.Byte
	}
	return index, godal.Float32
}

// hybridCmd represents the hybrid command
var hybridCmd = &cobra.Command{
	Use:   "hybrid [tif_file] [mask_tif] [output_tif]",
	Short: "Split a glacier mask into clean ice and debris",
	Long: `Combine a glacier mask with the thresholded snow index: clean ice
	pixels become 1, debris-covered pixels 2. With --debris only the debris
	pixels are kept, as a 0/1 mask.`,
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

		img, err := r.ReadArray(viper.GetInt("numWorkers"))
		if err != nil {
			return err
		}
		mask, err := rasterio.ReadFile(args[1], viper.GetInt("numWorkers"))
		if err != nil {
			return err
		}

		thresh := viper.GetFloat64("thresh")
		var out *imgtools.Array
		if viper.GetBool("debris") {
			out, err = imgtools.DebrisMask(img, mask, thresh)
		} else {
			out, err = imgtools.HybridMask(img, mask, thresh)
		}
		if err != nil {
			return err
		}
		return rasterio.WriteScene(args[2], out, r, godal.Byte)
	},
}

func init() {
	rootCmd.AddCommand(snowindexCmd)
	rootCmd.AddCommand(hybridCmd)

	snowindexCmd.Flags().Int("green", imgtools.DefaultGreenBand, "Zero-based index of the green band")
	snowindexCmd.Flags().Int("swir", imgtools.DefaultSWIRBand, "Zero-based index of the shortwave infrared band")
	snowindexCmd.Flags().Float64("thresh", 0, "Write a snow mask of index > thresh instead of the index")

	hybridCmd.Flags().Float64("thresh", 0.6, "Snow index above which a glacier pixel counts as clean ice")
	hybridCmd.Flags().Bool("debris", false, "Only write the debris mask")

	for _, c := range []*cobra.Command{snowindexCmd, hybridCmd} {
		c.Flags().IntP("numWorkers", "n", 8, "Number of workers to spawn for parallel reads")
	}
}
