package cmd

import (
	"fmt"
	"os"

	"UltimateDJ/config"
	"UltimateDJ/logger"

	"github.com/spf13/cobra"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "UltimateDJ",
	Short: "UltimateDJ is a two-deck DJ booth with a shared relay and a display view.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		// 控制台独占终端，日志只写文件
		quiet := cmd.Name() == "console"
		initLogger(cfg, quiet)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

func initLogger(cfg *config.Config, quiet bool) {
	out := cfg.LogFile
	if quiet && out == "" {
		out = "logs/console.log"
	}
	logger.InitLogger(logger.Config{
		Level:      logger.LogLevel(cfg.LogLevel),
		OutputPath: out,
		MaxSize:    50,
		MaxBackups: 5,
		MaxAge:     14,
		Compress:   true,
		Quiet:      quiet,
	})
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
