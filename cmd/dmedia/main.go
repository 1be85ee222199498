package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/json420/dmedia/core/logging"
	"github.com/json420/dmedia/mediastore/config"
	"github.com/json420/dmedia/mediastore/filestore"
)

var (
	configDir string
	storePath string
	logDir    string
	devMode   bool
)

var rootCmd = &cobra.Command{
	Use:   "dmedia",
	Short: "Content-addressable store for large media files",
	Long: `dmedia stores files under their tree hash and moves them between
peers with a resumable, leaf-wise range protocol. Files are imported into a
local store, verified against their id, and served or fetched over HTTP.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.SetupDefaultConfig()
		if configDir != "" {
			config.SetupConfig(configDir)
		} else {
			config.TryConfig()
		}

		mode := "production"
		if devMode {
			mode = "development"
			config.Configuration.DeploymentMode = config.DeploymentDevelopment
		} else {
			config.Configuration.DeploymentMode = config.DeploymentProduction
		}
		logging.InitLogging(mode, logDir, "dmedia.log")
	},
}

// openStore resolves the store path from the flag, the config, or the
// default under the user's home directory, and opens it.
func openStore() (*filestore.FileStore, error) {
	base := storePath
	if base == "" {
		base = config.Configuration.StorePath
	}
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, err
		}
		base = filepath.Join(home, ".dmedia")
	}
	return filestore.New(base, filestore.Options{
		Digest:         config.Configuration.Digest,
		LeafSize:       config.Configuration.LeafSize,
		QuickCacheSize: config.Configuration.VerifyCacheSize,
	})
}

// extOf derives the store extension from a local filename.
func extOf(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return ""
	}
	return ext[1:]
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", "", "directory holding dmedia.yaml")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "base directory of the file store")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "logs", "directory for log files")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "development mode: console logging, no write timeouts")
}
