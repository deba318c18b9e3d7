package cmd

import (
	"context"

	"github.com/vportnov.me/arbot/utils"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	debug   bool
)

var rootCmd = &cobra.Command{
	Use:   "arbot",
	Short: "A two-legged token arbitrage execution engine",
	Long: `A CLI arbitrage engine that sells a base asset on one DEX router and
buys it back on another, either atomically through an executor contract or
as two parallel transactions at reserved nonces.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.arbot.json)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
}

func initConfig() {
	utils.InitLogger(debug)
}
