package logsystem

import "context"

// LogServerClient is the RPC surface a log server or log router exposes to
// the coordinator. internal/logsystem/transport provides an HTTP-backed
// implementation; tests use an in-memory one.
type LogServerClient interface {
	Lock(ctx context.Context) (TLogLockResult, error)
	Commit(ctx context.Context, req TLogCommitRequest) (TLogCommitReply, error)
	Pop(ctx context.Context, req TLogPopRequest) error
	Peek(ctx context.Context, req PeekRequest) (PeekReply, error)
	ConfirmRunning(ctx context.Context, req TLogConfirmRunningRequest) error
	RecoveryFinished(ctx context.Context) error

	// InitializeTLog and InitializeLogRouter address a worker interface
	// before it has become a running log server or log router; the same
	// client type serves both roles so newEpoch never needs a second
	// dialer.
	InitializeTLog(ctx context.Context, req InitializeTLogRequest) (InitializeTLogReply, error)
	InitializeLogRouter(ctx context.Context, req InitializeLogRouterRequest) (InitializeLogRouterReply, error)
}

// ClientDialer resolves a ServerInterface to a LogServerClient. The
// LogSystem never constructs transports itself; it is handed a dialer at
// construction so tests can substitute an in-memory fake.
type ClientDialer interface {
	Dial(iface ServerInterface) (LogServerClient, error)
}
