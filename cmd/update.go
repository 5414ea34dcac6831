package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/bmruszaj/cabplanner/internal/settings"
	"github.com/bmruszaj/cabplanner/internal/updater"
	"github.com/bmruszaj/cabplanner/pkg/logger"
)

var (
	updatePrerelease bool
	updateQuiet      bool
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Check for a new release and install it",
	Long: `Check the release registry for a newer version and install it over the
current installation. The previous version is backed up and restored if
anything goes wrong during the swap; the user database is never touched.

Exits 0 when the installation is up to date or the update succeeded,
and 1 on any unrecoverable failure.`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runUpdate())
	},
}

func init() {
	updateCmd.Flags().BoolVar(&updatePrerelease, "prerelease", false, "allow installing prerelease builds")
	updateCmd.Flags().BoolVarP(&updateQuiet, "quiet", "q", false, "suppress progress output")
	RootCmd.AddCommand(updateCmd)
}

func runUpdate() int {
	log := logger.NewLogger("cmd")

	if updatePrerelease {
		Cfg.Update.AllowPrerelease = true
	}

	var opts []updater.Option
	if !updateQuiet {
		opts = append(opts, updater.WithProgress(printProgress))
	}

	orch, err := newOrchestrator(opts...)
	if err != nil {
		log.Errorf("%v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcome := orch.Run(ctx)
	recordManualCheck(ctx, log)

	switch outcome.Phase {
	case updater.PhaseIdle:
		fmt.Println("Already up to date.")
		return 0
	case updater.PhaseSucceeded:
		fmt.Printf("Updated to %s.\n", updater.NormalizeTag(outcome.Version))
		return 0
	case updater.PhaseRolledBack:
		fmt.Println("Update failed; the previous version was restored.")
		return 1
	default:
		fmt.Printf("Update failed: %v\n", outcome.Err)
		return 1
	}
}

// recordManualCheck stores the check timestamp so a manual run also
// resets the automatic schedule.
func recordManualCheck(ctx context.Context, log *logger.Logger) {
	store, err := newSettingsStore()
	if err != nil {
		log.Debugf("Skipping check bookkeeping: %v", err)
		return
	}
	if err := store.SetTime(ctx, settings.KeyLastUpdateCheck, time.Now()); err != nil {
		log.Warnf("Could not record update check time: %v", err)
	}
}

func printProgress(phase updater.Phase, percent int) {
	fmt.Printf("\r%-12s %3d%%", phase, percent)
	if percent >= 100 {
		fmt.Println()
	}
}
