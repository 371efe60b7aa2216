package logsystem

import (
	"context"
	"log/slog"
)

// errorMonitor is the liveness watchdog behind OnError: it continuously
// races a waitFailureClient-style watch against every known server handle
// plus remoteRecovery, and reports ErrMasterTLogFailed the moment any one
// of them signals the set it belongs to can no longer meet its policy.
type errorMonitor struct {
	ls *LogSystem
}

func newErrorMonitor(ls *LogSystem) *errorMonitor {
	return &errorMonitor{ls: ls}
}

// run never completes normally: it blocks until a fatal condition fires or
// ctx is cancelled, rebuilding its watch set whenever a handle's presence
// changes so newly recruited servers are picked up.
func (m *errorMonitor) run(ctx context.Context) error {
	for {
		ls := m.ls
		ls.mu.RLock()
		handles := make([]*ServerHandle, 0)
		for _, s := range ls.logSets {
			handles = append(handles, s.LogServers...)
			handles = append(handles, s.LogRouters...)
		}
		for _, gen := range ls.oldLogData {
			for _, s := range gen.LogSets {
				handles = append(handles, s.LogServers...)
				handles = append(handles, s.LogRouters...)
			}
		}
		remoteRecovery := ls.remoteRecovery
		ls.mu.RUnlock()

		failed := make(chan error, 1)
		changed := make(chan struct{}, 1)
		notifyChanged := func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		}

		for _, h := range handles {
			h := h
			iface, present := h.Get()
			if !present {
				go func() {
					select {
					case <-h.OnChange():
						notifyChanged()
					case <-ctx.Done():
					}
				}()
				continue
			}
			go m.watchOne(ctx, h, iface, failed, notifyChanged)
		}

		if !isReady(remoteRecovery) {
			go func() {
				_, err := remoteRecovery.Wait(ctx)
				if err != nil {
					select {
					case failed <- ErrMasterTLogFailed:
					default:
					}
				}
			}()
		}

		select {
		case err := <-failed:
			slog.Error("onError: fatal condition observed", "error", err)
			return err
		case <-changed:
			continue
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// watchOne watches a single server's liveness via its client's hysteresis
// timeout; a broken promise or timeout surfaces as MasterTLogFailed.
func (m *errorMonitor) watchOne(ctx context.Context, h *ServerHandle, iface ServerInterface, failed chan<- error, notifyChanged func()) {
	client, err := m.ls.dialer.Dial(iface)
	if err != nil {
		select {
		case failed <- ErrMasterTLogFailed:
		default:
		}
		return
	}

	confirmCtx, cancel := context.WithTimeout(ctx, m.ls.env.Transport.TLogTimeout)
	defer cancel()
	err = client.ConfirmRunning(confirmCtx, TLogConfirmRunningRequest{DebugID: "onError"})
	if err != nil {
		select {
		case failed <- ErrMasterTLogFailed:
		default:
		}
		return
	}

	select {
	case <-h.OnChange():
		notifyChanged()
	case <-ctx.Done():
	}
}
