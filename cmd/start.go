package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bmruszaj/cabplanner/internal/services"
	"github.com/bmruszaj/cabplanner/pkg/logger"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the background update scheduler",
	Long: `Run the auto-update scheduler in the foreground. Checks happen on the
cadence stored in the application settings (on launch, daily, weekly or
monthly); an installed update relaunches the application automatically.`,
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runStart())
	},
}

func init() {
	RootCmd.AddCommand(startCmd)
}

func runStart() int {
	log := logger.NewLogger("scheduler")

	store, err := newSettingsStore()
	if err != nil {
		log.Errorf("%v", err)
		fmt.Printf("Cannot start scheduler: %v\n", err)
		return 1
	}

	orch, err := newOrchestrator()
	if err != nil {
		log.Errorf("%v", err)
		fmt.Printf("Cannot start scheduler: %v\n", err)
		return 1
	}

	svc := services.NewAutoUpdateService(log, store, orch)
	if err := svc.Start(); err != nil {
		log.Errorf("Failed to start auto-update service: %v", err)
		return 1
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Infof("Received signal %v, shutting down", sig)

	svc.Stop()
	return 0
}
