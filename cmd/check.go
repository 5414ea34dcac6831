package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bmruszaj/cabplanner/internal/semver"
	"github.com/bmruszaj/cabplanner/internal/updater"
	"github.com/bmruszaj/cabplanner/pkg/logger"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check whether a newer release is available",
	Long: `Query the release registry and report whether a newer version exists.
Nothing is downloaded or installed.`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runCheck())
	},
}

func init() {
	RootCmd.AddCommand(checkCmd)
}

func runCheck() int {
	log := logger.NewLogger("cmd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	release, err := newSource().LatestRelease(ctx, Cfg.Update.Repo)
	if err != nil {
		log.Errorf("Update check failed: %v", err)
		fmt.Printf("Check failed: %v\n", err)
		return 1
	}

	latest := updater.NormalizeTag(release.TagName)
	if release.Prerelease && !Cfg.Update.AllowPrerelease {
		fmt.Printf("Latest release %s is a prerelease; current version is %s.\n", latest, Version)
		return 0
	}

	if semver.IsNewer(Version, release.TagName) {
		fmt.Printf("Update available: %s -> %s\n", Version, latest)
	} else {
		fmt.Printf("Up to date (current %s, latest %s).\n", Version, latest)
	}
	return 0
}
