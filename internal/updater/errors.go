package updater

import "fmt"

// Failure classes of one update attempt. Everything before the swap
// leaves the live installation untouched; only SwapError can require a
// rollback.
var (
	ErrNoSuitableAsset  = fmt.Errorf("no suitable release asset found")
	ErrUpdateInProgress = fmt.Errorf("another update is already in progress")
)

// LayoutError reports an extracted package whose shape is unusable.
type LayoutError struct {
	Reason string
}

func (e *LayoutError) Error() string {
	return fmt.Sprintf("invalid package layout: %s", e.Reason)
}

// SwapError reports a failure while installing new files over the live
// installation. The orchestrator answers it with a rollback.
type SwapError struct {
	Err error
}

func (e *SwapError) Error() string {
	return fmt.Sprintf("swap failed: %v", e.Err)
}

func (e *SwapError) Unwrap() error { return e.Err }

// RollbackError is the one truly fatal condition: the swap failed and a
// backup could not be restored. Manual intervention is required; full
// path detail is logged where it happens.
type RollbackError struct {
	SwapErr    error
	RestoreErr error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("swap failed (%v) and rollback could not restore the backup: %v",
		e.SwapErr, e.RestoreErr)
}
