package logsystem

import "errors"

// Sentinel errors for the error kinds of the log-system error taxonomy.
// Callers compare with errors.Is; wrapping with fmt.Errorf("...: %w", ...)
// at each call site preserves the chain.
var (
	// ErrBrokenPromise marks a peer endpoint as temporarily absent. It is
	// recoverable by retrying once the handle's onChange fires.
	ErrBrokenPromise = errors.New("logsystem: broken promise")

	// ErrTLogStopped marks a log server that has entered its terminal,
	// locked state. Expected during takeover; swallowed where it merely
	// terminates a loop.
	ErrTLogStopped = errors.New("logsystem: tlog stopped")

	// ErrMasterTLogFailed is fatal to the owning LogSystem: a set can no
	// longer meet its replication policy with the servers that remain.
	ErrMasterTLogFailed = errors.New("logsystem: master tlog failed")

	// ErrWorkerRemoved marks a peek that requested a version older than
	// any surviving generation knows about.
	ErrWorkerRemoved = errors.New("logsystem: worker removed")

	// ErrMasterRecoveryFailed is fatal to an in-progress newEpoch: a
	// recruitment RPC (InitializeTLogRequest/InitializeLogRouterRequest)
	// timed out.
	ErrMasterRecoveryFailed = errors.New("logsystem: master recovery failed")

	// ErrCancelled propagates context cancellation unchanged.
	ErrCancelled = errors.New("logsystem: cancelled")
)
