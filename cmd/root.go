package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"epubslim/internal/config"
	"epubslim/internal/logging"
)

var (
	configPath string
	logLevel   string
	logFile    string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "epubslim",
	Short: "epubslim - shrink the images inside EPUB books",
	Long: "epubslim resizes and recompresses the images inside EPUB archives, rewrites every\n" +
		"chapter reference to renamed images and files each book into a library folder by outcome.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to read .env: %w", err)
		}

		var err error
		if configPath != "" {
			cfg, err = config.Load(configPath)
		} else {
			cfg, err = config.LoadDefault()
		}
		if err != nil {
			return err
		}
		applyEnv(cfg)

		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		if logFile != "" {
			cfg.Log.File = logFile
		}
		return cfg.Validate()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: $"+config.EnvVar+" or "+config.FileName+")")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "append log lines to this file")
}

// applyEnv lets the environment, including a .env file, override the
// library root and log level.
func applyEnv(c *config.Config) {
	if v := os.Getenv("EPUBSLIM_LIBRARY"); v != "" {
		c.Library.Root = v
	}
	if v := os.Getenv("EPUBSLIM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

// openLogger builds the logger for a command. quiet keeps the terminal free
// for the progress view.
func openLogger(quiet bool) (*logging.Logger, error) {
	return logging.New(logging.Options{
		Level: cfg.Log.Level,
		File:  cfg.Log.File,
		Quiet: quiet,
	})
}
