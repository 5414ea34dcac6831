package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bmruszaj/cabplanner/internal/config"
	"github.com/bmruszaj/cabplanner/internal/download"
	"github.com/bmruszaj/cabplanner/internal/layout"
	"github.com/bmruszaj/cabplanner/internal/platform"
	"github.com/bmruszaj/cabplanner/internal/registry"
	"github.com/bmruszaj/cabplanner/internal/settings"
	"github.com/bmruszaj/cabplanner/internal/updater"
)

var (
	cfgFile string
	Cfg     *config.Config
	Version string
)

var RootCmd = &cobra.Command{
	Use:   "cabplanner-updater",
	Short: "Cabplanner updater - keeps a cabplanner installation up to date",
	Long: `Cabplanner updater downloads, verifies and installs new releases of the
cabplanner application, with automatic backup and rollback on failure.`,
}

func Execute(version string) error {
	Version = version
	return RootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")
}

func initConfig() {
	var err error

	Cfg, err = config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Printf("Fatal: Configuration could not be loaded: %v\n", err)
		os.Exit(1)
	}
}

// newSource builds the release registry client from configuration.
func newSource() registry.Source {
	return registry.NewGitHubSource(
		registry.WithToken(Cfg.Update.Token),
		registry.WithTimeout(Cfg.Update.CheckTimeout),
	)
}

// newOrchestrator wires one update pipeline against the installation the
// running executable belongs to.
func newOrchestrator(opts ...updater.Option) (*updater.Orchestrator, error) {
	installDir, err := config.InstallDir()
	if err != nil {
		return nil, fmt.Errorf("could not locate installation: %w", err)
	}

	opts = append(opts,
		updater.WithDownloader(download.NewDownloader(Cfg.Update.DownloadTimeout)))

	return updater.New(Cfg.Update, newSource(), platform.New(),
		installDir, Version, opts...), nil
}

// newSettingsStore opens the preference store inside the installation's
// application database.
func newSettingsStore() (*settings.Store, error) {
	installDir, err := config.InstallDir()
	if err != nil {
		return nil, fmt.Errorf("could not locate installation: %w", err)
	}
	return settings.NewStore(filepath.Join(installDir, layout.StateFileName)), nil
}
