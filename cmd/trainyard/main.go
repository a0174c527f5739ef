package main

import (
	"fmt"
	"os"

	"github.com/cuemby/trainyard/pkg/config"
	"github.com/cuemby/trainyard/pkg/log"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "trainyard",
	Short: "Trainyard - schedules image marking and training jobs on remote GPU assets",
	Long: `Trainyard moves image sets through auto-captioning (marking) and model
training on a fleet of remote assets. It allocates asset slots, submits
jobs, watches them until they finish and recovers cleanly after restarts.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Trainyard version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("config", "", "Config file (YAML); TRAINYARD_* environment variables override it")
	rootCmd.PersistentFlags().String("server", "localhost:8080", "Trainyard server address for client commands")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(recoverCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(assetCmd)
}

// loadConfig reads the config named by --config and initializes logging
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log.Init(cfg.LoggerConfig())
	return cfg, nil
}
