package logsystem

import (
	"context"
	"fmt"
	"sync"
)

// fakeClient is a canned LogServerClient used across the package's
// tests: each RPC method returns whatever was configured on it, and Pop
// additionally records every request it receives for assertions.
type fakeClient struct {
	mu sync.Mutex

	lockResult TLogLockResult
	lockErr    error

	commitReply TLogCommitReply
	commitErr   error

	popErr  error
	popSent []TLogPopRequest

	peekReply PeekReply
	peekErr   error

	confirmErr error

	recoveryFinishedErr error

	initTLogReply InitializeTLogReply
	initTLogErr   error

	initRouterReply InitializeLogRouterReply
	initRouterErr   error
}

func (c *fakeClient) Lock(ctx context.Context) (TLogLockResult, error) {
	return c.lockResult, c.lockErr
}

func (c *fakeClient) Commit(ctx context.Context, req TLogCommitRequest) (TLogCommitReply, error) {
	return c.commitReply, c.commitErr
}

func (c *fakeClient) Pop(ctx context.Context, req TLogPopRequest) error {
	c.mu.Lock()
	c.popSent = append(c.popSent, req)
	c.mu.Unlock()
	return c.popErr
}

func (c *fakeClient) sentPops() []TLogPopRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TLogPopRequest, len(c.popSent))
	copy(out, c.popSent)
	return out
}

func (c *fakeClient) Peek(ctx context.Context, req PeekRequest) (PeekReply, error) {
	return c.peekReply, c.peekErr
}

func (c *fakeClient) ConfirmRunning(ctx context.Context, req TLogConfirmRunningRequest) error {
	return c.confirmErr
}

func (c *fakeClient) RecoveryFinished(ctx context.Context) error {
	return c.recoveryFinishedErr
}

func (c *fakeClient) InitializeTLog(ctx context.Context, req InitializeTLogRequest) (InitializeTLogReply, error) {
	return c.initTLogReply, c.initTLogErr
}

func (c *fakeClient) InitializeLogRouter(ctx context.Context, req InitializeLogRouterRequest) (InitializeLogRouterReply, error) {
	return c.initRouterReply, c.initRouterErr
}

// fakeDialer resolves ServerInterface.ID to a pre-registered *fakeClient,
// refusing to dial anything it was not told about (a programmer error in
// a test, not a runtime condition).
type fakeDialer struct {
	mu      sync.Mutex
	clients map[string]*fakeClient
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{clients: map[string]*fakeClient{}}
}

func (d *fakeDialer) register(id string, c *fakeClient) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients[id] = c
}

func (d *fakeDialer) Dial(iface ServerInterface) (LogServerClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	c, ok := d.clients[iface.ID]
	if !ok {
		return nil, fmt.Errorf("fakeDialer: no client registered for %q", iface.ID)
	}
	return c, nil
}
