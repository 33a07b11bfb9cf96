package cmd

import (
	"errors"
	"strconv"

	"glacier-tools/config"
	"glacier-tools/frame"
	"glacier-tools/imgtools"
	"glacier-tools/rasterio"

	"github.com/airbusgeo/godal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// inferCmd represents the infer command
var inferCmd = &cobra.Command{
	Use:   "infer [tif_file] [checkpoint_dir] [epoch] [train_yaml] [output_tif]",
	Short: "Predict per-pixel class probabilities for a scene",
	Long: `Restore the checkpoint of an epoch and predict the scene tile by tile.
	The output GeoTIFF holds one probability band per model output channel.`,
	Args:    cobra.ExactArgs(5),
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		epoch, err := strconv.Atoi(args[2])
		if err != nil {
			return err
		}
		cfg, err := config.LoadConfig(args[3])
		if err != nil {
			return err
		}
		opts, err := frame.OptionsFromConfig(cfg)
		if err != nil {
			return err
		}
		fw, err := frame.New(opts)
		if err != nil {
			return err
		}
		if err := fw.Load(args[1], epoch); err != nil {
			return err
		}

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

		probs, err := predictScene(fw, img, viper.GetInt("tileSize"), opts.Model.OutChannels)
		if err != nil {
			return err
		}
		return rasterio.WriteScene(args[4], probs, r, godal.Float32)
	},
}

// predictScene runs the model over the tiles of img and pastes the sigmoid
// outputs back in place; overlapping edge tiles overwrite earlier ones.
func predictScene(fw *frame.Framework, img *imgtools.Array, tileSize, outChannels int) (*imgtools.Array, error) {
	windows, err := imgtools.TileWindows(img.Height, img.Width, imgtools.Size{Height: tileSize, Width: tileSize})
	if err != nil {
		return nil, err
	}
	out := imgtools.NewArray(img.Height, img.Width, outChannels)
	for i, w := range windows {
		logits, err := fw.Infer([]*imgtools.Array{img.Sub(w)})
		if err != nil {
			return nil, err
		}
		frame.Probabilities(logits[0])
		if err := out.Paste(logits[0], w); err != nil {
			return nil, err
		}
		logrus.Debugf("Predicted tile %d of %d", i+1, len(windows))
	}
	return out, nil
}

func init() {
	rootCmd.AddCommand(inferCmd)

	inferCmd.Flags().IntP("tileSize", "t", 512, "Tile height and width in pixels")
	inferCmd.Flags().IntP("numWorkers", "n", 8, "Number of workers to spawn for parallel reads")
}
