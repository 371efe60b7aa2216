package logsystem

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"logsystem/internal/config"
	"logsystem/pkg/metrics"
)

// OnError reports ErrMasterTLogFailed as soon as a watched server's
// ConfirmRunning RPC fails.
func TestOnError_ReportsMasterTLogFailedOnConfirmFailure(t *testing.T) {
	dialer := newFakeDialer()
	dialer.register("s0", &fakeClient{confirmErr: ErrTLogStopped})

	ls := newLogSystem(dialer)
	ls.env = config.Default()
	ls.metrics = metrics.Noop{}
	ls.logSets = []*LogSet{{
		LogServers: []*ServerHandle{NewServerHandle(ServerInterface{ID: "s0"})},
		IsLocal:    true,
		Locality:   LocalityPrimary,
	}}
	ls.monitor = newErrorMonitor(ls)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := ls.OnError(ctx)
	require.ErrorIs(t, err, ErrMasterTLogFailed)
}

// OnError never returns while every watched server keeps confirming and
// nothing changes, other than by context cancellation.
func TestOnError_BlocksUntilCancelled(t *testing.T) {
	dialer := newFakeDialer()
	dialer.register("s0", &fakeClient{})

	ls := newLogSystem(dialer)
	ls.env = config.Default()
	ls.metrics = metrics.Noop{}
	ls.logSets = []*LogSet{{
		LogServers: []*ServerHandle{NewServerHandle(ServerInterface{ID: "s0"})},
		IsLocal:    true,
		Locality:   LocalityPrimary,
	}}
	ls.monitor = newErrorMonitor(ls)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := ls.OnError(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
