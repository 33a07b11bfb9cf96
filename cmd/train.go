package cmd

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"glacier-tools/config"
	"glacier-tools/frame"
	"glacier-tools/imgtools"
	"glacier-tools/rasterio"
	"glacier-tools/tileio"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// trainCmd represents the train command
var trainCmd = &cobra.Command{
	Use:   "train [manifest] [train_yaml]",
	Short: "Train the segmentation model on exported tiles",
	Long: `Load the tiles listed in a manifest written by 'slice' and train the
	model described by a YAML training config. Losses and metrics are logged
	to metrics.csv in the output directory after every epoch, checkpoints
	are saved every saveEvery epochs. The validation loss drives the
	learning-rate scheduler.`,
	Args:    cobra.ExactArgs(2),
	PreRunE: bindFlags,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig(args[1])
		if err != nil {
			return err
		}
		return train(args[0], cfg)
	},
}

func train(manifestPath string, cfg *config.Config) (err error) {
	opts, err := frame.OptionsFromConfig(cfg)
	if err != nil {
		return err
	}
	fw, err := frame.New(opts)
	if err != nil {
		return err
	}

	rows, err := tileio.ReadManifest(manifestPath)
	if err != nil {
		return err
	}
	dir := filepath.Dir(manifestPath)
	trainX, trainY, err := loadTiles(dir, tileio.Split(rows, tileio.SplitTrain), cfg)
	if err != nil {
		return err
	}
	valX, valY, err := loadTiles(dir, tileio.Split(rows, tileio.SplitVal), cfg)
	if err != nil {
		return err
	}
	if len(trainX) == 0 {
		return errors.New("manifest has no training tiles")
	}
	logrus.Infof("Training on %d tiles, validating on %d", len(trainX), len(valX))

	if err := os.MkdirAll(cfg.Training.OutDir, 0755); err != nil {
		return err
	}
	metricsLog, err := tileio.NewMetricsLog(filepath.Join(cfg.Training.OutDir, "metrics.csv"), fw.MetricNames())
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, metricsLog.Close())
	}()

	rng := rand.New(rand.NewSource(cfg.Seed))
	valBatches := frame.Batches(valX, valY, cfg.Training.BatchSize)
	for epoch := 1; epoch <= cfg.Training.Epochs; epoch++ {
		rng.Shuffle(len(trainX), func(i, j int) {
			trainX[i], trainX[j] = trainX[j], trainX[i]
			trainY[i], trainY[j] = trainY[j], trainY[i]
		})
		res, err := fw.RunEpoch(frame.Batches(trainX, trainY, cfg.Training.BatchSize), true)
		if err != nil {
			return fmt.Errorf("epoch %d: %w", epoch, err)
		}
		if err := metricsLog.Write(epoch, tileio.SplitTrain, res.Loss, res.MeanMetrics()); err != nil {
			return err
		}
		logrus.Infof("Epoch %d train loss %v metrics %v", epoch, res.Loss, res.MeanMetrics())

		if len(valBatches) > 0 {
			val, err := fw.RunEpoch(valBatches, false)
			if err != nil {
				return fmt.Errorf("epoch %d validation: %w", epoch, err)
			}
			fw.ValOperations(val.Loss)
			if err := metricsLog.Write(epoch, tileio.SplitVal, val.Loss, val.MeanMetrics()); err != nil {
				return err
			}
			logrus.Infof("Epoch %d val loss %v metrics %v", epoch, val.Loss, val.MeanMetrics())
		}

		if cfg.Training.SaveEvery > 0 && epoch%cfg.Training.SaveEvery == 0 {
			if err := fw.Save(cfg.Training.OutDir, epoch); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadTiles reads the image and mask of every row, turning masks into
// one-hot foreground/background pairs when configured.
func loadTiles(dir string, rows []tileio.TileRow, cfg *config.Config) ([]*imgtools.Array, []*imgtools.Array, error) {
	x := make([]*imgtools.Array, 0, len(rows))
	y := make([]*imgtools.Array, 0, len(rows))
	for _, row := range rows {
		img, err := rasterio.ReadFile(filepath.Join(dir, row.ImagePath), cfg.Training.NumWorkers)
		if err != nil {
			return nil, nil, err
		}
		mask, err := rasterio.ReadFile(filepath.Join(dir, row.MaskPath), cfg.Training.NumWorkers)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Training.OneHot {
			mask = imgtools.GetBg(mask)
		}
		x = append(x, img)
		y = append(y, mask)
	}
	return x, y, nil
}

func init() {
	rootCmd.AddCommand(trainCmd)
}
