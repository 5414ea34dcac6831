// Package services hosts the long-running background workers of the
// client. The auto-update service schedules periodic release checks
// according to the user's stored preferences.
package services

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bmruszaj/cabplanner/internal/settings"
	"github.com/bmruszaj/cabplanner/internal/updater"
	"github.com/bmruszaj/cabplanner/pkg/helper"
	"github.com/bmruszaj/cabplanner/pkg/logger"
)

const (
	// EvaluateInterval is how often the scheduler re-evaluates whether a
	// check is due. The user-visible cadence comes from the stored
	// frequency setting, not from this interval.
	EvaluateInterval = 6 * time.Hour

	breakerCooldown = 30 * time.Minute
)

// Runner executes one update attempt. *updater.Orchestrator satisfies it.
type Runner interface {
	Run(ctx context.Context) updater.Outcome
}

// AutoUpdateService checks for updates in the background on the cadence
// the user configured. Repeated check failures trip a circuit breaker so
// an unreachable registry does not get hammered every cycle.
type AutoUpdateService struct {
	logger  *logger.Logger
	store   *settings.Store
	runner  Runner
	breaker *gobreaker.CircuitBreaker

	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewAutoUpdateService creates the service. store holds the scheduling
// preferences; runner performs the actual update attempt.
func NewAutoUpdateService(baseLogger *logger.Logger, store *settings.Store, runner Runner) *AutoUpdateService {
	s := &AutoUpdateService{
		logger: baseLogger,
		store:  store,
		runner: runner,
	}

	s.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "update-check",
		Timeout: breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			s.logger.Warnf("Update check breaker changed from %v to %v", from, to)
		},
	})

	return s
}

// Start launches the background scheduler. The first evaluation runs
// immediately, covering the on_launch frequency.
func (s *AutoUpdateService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		s.logger.Warn("Auto-update service is already running")
		return nil
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.running = true

	s.wg.Add(1)
	go s.run()

	s.logger.WithFields(logger.Fields{
		"evaluate_interval": EvaluateInterval.String(),
	}).Info("Auto-update service started")

	return nil
}

// Stop gracefully stops the scheduler.
func (s *AutoUpdateService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.logger.Info("Stopping auto-update service")
	s.cancel()
	s.running = false
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Auto-update service stopped")
	case <-time.After(5 * time.Second):
		s.logger.Warn("Auto-update service stop timed out")
	}
}

func (s *AutoUpdateService) run() {
	defer helper.RecoverPanic(s.logger, "auto-update-run")
	defer s.wg.Done()

	s.evaluate()

	ticker := time.NewTicker(EvaluateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Debug("Auto-update service context cancelled")
			return
		case <-ticker.C:
			s.evaluate()
		}
	}
}

func (s *AutoUpdateService) evaluate() {
	// Stop() may cancel between the tick and this call.
	if s.ctx.Err() != nil {
		return
	}
	if !s.ShouldCheck(s.ctx) {
		return
	}
	s.CheckNow(s.ctx)
}

// ShouldCheck reports whether an automatic check is due right now, based
// on the enabled flag, the frequency setting and the last check time.
// Unreadable preferences suppress the check; a broken or shut-down store
// must never fail open into a network attempt.
func (s *AutoUpdateService) ShouldCheck(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}

	enabled, ok, err := s.store.LookupBool(ctx, settings.KeyAutoUpdateEnabled)
	if err != nil {
		s.logger.Warnf("Could not read update preferences, skipping check: %v", err)
		return false
	}
	if ok && !enabled {
		return false
	}

	freq, ok, err := s.store.LookupString(ctx, settings.KeyAutoUpdateFrequency)
	if err != nil {
		s.logger.Warnf("Could not read update preferences, skipping check: %v", err)
		return false
	}
	if !ok {
		freq = settings.FreqWeekly
	}

	var interval time.Duration
	switch freq {
	case settings.FreqNever:
		return false
	case settings.FreqOnLaunch:
		return true
	case settings.FreqDaily:
		interval = 24 * time.Hour
	case settings.FreqWeekly:
		interval = 7 * 24 * time.Hour
	case settings.FreqMonthly:
		interval = 30 * 24 * time.Hour
	default:
		s.logger.Warnf("Unknown update frequency %q, using weekly", freq)
		interval = 7 * 24 * time.Hour
	}

	last, ok := s.store.GetTime(ctx, settings.KeyLastUpdateCheck)
	if !ok {
		// Never checked before.
		return true
	}
	return time.Since(last) >= interval
}

// CheckNow runs one update attempt through the circuit breaker and
// records the check time. It returns the attempt outcome; when the
// breaker is open a failed outcome with the breaker error is returned
// without touching the network.
func (s *AutoUpdateService) CheckNow(ctx context.Context) updater.Outcome {
	result, err := s.breaker.Execute(func() (any, error) {
		outcome := s.runner.Run(ctx)
		if outcome.Err != nil {
			return outcome, outcome.Err
		}
		return outcome, nil
	})
	if err != nil {
		if outcome, ok := result.(updater.Outcome); ok {
			s.recordCheck(ctx)
			return outcome
		}
		// Breaker rejected the call; no attempt ran.
		s.logger.Warnf("Update check skipped: %v", err)
		return updater.Outcome{Phase: updater.PhaseFailed, Err: err}
	}

	s.recordCheck(ctx)
	outcome := result.(updater.Outcome)
	if outcome.Updated {
		s.logger.Infof("Background update installed version %s", outcome.Version)
	}
	return outcome
}

func (s *AutoUpdateService) recordCheck(ctx context.Context) {
	if err := s.store.SetTime(ctx, settings.KeyLastUpdateCheck, time.Now()); err != nil {
		s.logger.Warnf("Could not record update check time: %v", err)
	}
}
