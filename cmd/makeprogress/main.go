package main

import (
	"fmt"
	"io"
	"os"

	"github.com/rahul/makeprogress/internal/observability"
	"github.com/rahul/makeprogress/pkg/config"
	"github.com/spf13/cobra"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "makeprogress",
	Short: "Break a one-line task into small steps and replan as you go",
	Long: `makeprogress turns a one-line task into a stream of small, concrete steps.

  makeprogress serve        start the planning service
  makeprogress run [task]   plan a task in the terminal against a running service`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.json", "config file (.json, .yaml or .yml)")
	rootCmd.AddCommand(serveCmd, runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config, w io.Writer) (*observability.Logger, error) {
	logger, err := observability.NewLogger(w, cfg.App.LogLevel, cfg.App.LogFormat)
	if err != nil {
		return nil, err
	}
	return logger.WithLLMLog(cfg.App.LLMLog), nil
}
