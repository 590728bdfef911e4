package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"readiness/internal/config"
	"readiness/internal/logging"
)

var (
	configPath string
	logLevel   string
)

// errConfigCreated stops a command after writing the example config
var errConfigCreated = errors.New("example config created")

var rootCmd = &cobra.Command{
	Use:   "readiness",
	Short: "Daily recovery, sleep and stress scores from your training and health data",
	Long: `readiness fuses activities from a coaching platform, a social fitness
platform and device exports with health samples (HRV, resting heart rate,
respiratory rate, sleep) into daily recovery, sleep and stress scores,
training load (CTL/ATL/TSB) and early illness indicators.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.readiness/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")

	rootCmd.AddCommand(scoreCmd, syncCmd, loginCmd, importCmd, trendCmd, historyCmd, illnessCmd, exportCmd, serveCmd)
}

func main() {
	err := rootCmd.Execute()
	if errors.Is(err, errConfigCreated) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, creating an example on first run.
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}

	if errors.Is(err, config.ErrNoConfig) {
		if configPath != "" {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		fmt.Println("No config file found. Creating example config...")
		if err := config.CreateExample(); err != nil {
			return nil, fmt.Errorf("creating example config: %w", err)
		}
		configDir, _ := config.GetConfigDir()
		fmt.Printf("\nPlease edit the config file at:\n  %s/config.yaml\n\n", configDir)
		fmt.Println("Add your coaching platform API key, social platform OAuth app credentials,")
		fmt.Println("or a directory of device FIT exports.")
		return nil, errConfigCreated
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	logging.Setup(cfg.Logging)
	return cfg, nil
}
