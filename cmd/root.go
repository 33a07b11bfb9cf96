package cmd

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "glacier-tools",
	Short: "Tools for glacier and snow segmentation from satellite imagery",
	Long: `Build glacier masks from GeoTIFF scenes and outline vectors, classify
	snow and debris with band indices, cut scenes into model-sized tiles and
	train or apply a pixel segmentation model:
	./glacier-tools mask [opts] [tif_file] [vector_file] [output_tif]
	./glacier-tools slice [opts] [tif_file] [mask_tif] [output_dir]
	./glacier-tools train [opts] [manifest] [train_yaml]`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file with flag defaults (yaml, json or toml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug output")
	for _, name := range []string{"verbose", "debug"} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			logrus.Exit(1)
		}
	}
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	viper.SetConfigFile(cfgFile)
	if err := viper.ReadInConfig(); err != nil {
		logrus.Fatalf("Reading config %s: %v", cfgFile, err)
	}
	logrus.Debugf("Using config file %s", viper.ConfigFileUsed())
}

func setLogLevels() {
	if viper.GetBool("debug") {
		logrus.SetLevel(logrus.DebugLevel)
	} else if viper.GetBool("verbose") {
		logrus.SetLevel(logrus.InfoLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}
}

// bindFlags binds a command's local flags into viper when that command runs,
// so subcommands sharing a flag name do not shadow each other.
func bindFlags(cmd *cobra.Command, args []string) error {
	setLogLevels()
	var err error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if err == nil {
			err = viper.BindPFlag(f.Name, f)
		}
	})
	return err
}
