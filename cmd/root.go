package cmd

import (
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/runbar/runbar/internal/config"
)

var (
	cfgFile string
	assets  fs.FS
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "runbar",
	Short: "Run and supervise the dev services of your local projects",
	Long: `runbar keeps a registry of local project services, starts them in
dependency order, resolves port conflicts, restarts crashed processes and
streams their logs.

Without a subcommand the desktop window is opened.`,
	SilenceUsage: true,
	RunE:         runDesktop,
}

// Execute runs the root command. ui holds the bundled web assets.
func Execute(ui fs.FS, v string) error {
	assets = ui
	if v != "" {
		version = v
	}
	rootCmd.Version = version
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: runbar.yaml in . or the data dir)")
	rootCmd.PersistentFlags().String("data-dir", "", "directory holding the registry documents")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("on-conflict", "", "answer every port conflict with ignore, adopt or kill instead of asking")

	_ = viper.BindPFlag(config.KeyDataDir, rootCmd.PersistentFlags().Lookup("data-dir"))
	_ = viper.BindPFlag(config.KeyLogLevel, rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag(config.KeyOnConflict, rootCmd.PersistentFlags().Lookup("on-conflict"))
}

func initConfig() {
	if err := config.Init(viper.GetViper(), cfgFile); err != nil {
		fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
	}
}
