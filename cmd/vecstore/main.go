// Package main is the vecstore CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hyperjump/vecstore/internal/cli"
	"github.com/hyperjump/vecstore/internal/config"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/vecstore/config.yaml"

var (
	configPath   string
	serverURL    string
	outputFormat string
)

var rootCmd = &cobra.Command{
	Use:           "vecstore",
	Short:         "Named vector stores with background ingestion and graph search",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "vecstore version %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath, "config file path")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default from config host and port)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "output format: text or json")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads config from path. When path is the default and no file exists
// there, config.yaml in the current directory is used instead, and when that is
// missing too the defaults apply with paths relative to the current directory.
// Returns the config and the path it was resolved against.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			cwd, cwdErr := os.Getwd()
			if cwdErr != nil {
				return nil, "", cwdErr
			}
			path = filepath.Join(cwd, "config.yaml")
		}
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func format() (cli.OutputFormat, error) {
	return cli.ParseFormat(outputFormat)
}
