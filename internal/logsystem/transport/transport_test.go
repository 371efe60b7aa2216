package transport

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"logsystem/internal/logsystem"
)

// fakeHandler implements both LogServerHandler and WorkerHandler with
// canned, inspectable responses.
type fakeHandler struct {
	lockResult logsystem.TLogLockResult
	lockErr    error
	popErr     error
	peekReply  logsystem.PeekReply
	lastPop    logsystem.TLogPopRequest
}

func (h *fakeHandler) Lock(ctx context.Context) (logsystem.TLogLockResult, error) {
	return h.lockResult, h.lockErr
}

func (h *fakeHandler) Commit(ctx context.Context, req logsystem.TLogCommitRequest) (logsystem.TLogCommitReply, error) {
	return logsystem.TLogCommitReply{Version: req.Version}, nil
}

func (h *fakeHandler) Pop(ctx context.Context, req logsystem.TLogPopRequest) error {
	h.lastPop = req
	return h.popErr
}

func (h *fakeHandler) Peek(ctx context.Context, req logsystem.PeekRequest) (logsystem.PeekReply, error) {
	return h.peekReply, nil
}

func (h *fakeHandler) ConfirmRunning(ctx context.Context, req logsystem.TLogConfirmRunningRequest) error {
	return nil
}

func (h *fakeHandler) RecoveryFinished(ctx context.Context) error { return nil }

func (h *fakeHandler) InitializeTLog(ctx context.Context, req logsystem.InitializeTLogRequest) (logsystem.InitializeTLogReply, error) {
	return logsystem.InitializeTLogReply{Interface: logsystem.ServerInterface{ID: "recruited"}}, nil
}

func (h *fakeHandler) InitializeLogRouter(ctx context.Context, req logsystem.InitializeLogRouterRequest) (logsystem.InitializeLogRouterReply, error) {
	return logsystem.InitializeLogRouterReply{Interface: logsystem.ServerInterface{ID: "router"}}, nil
}

func newTestServerAndClient(t *testing.T, h *fakeHandler) *HTTPClient {
	t.Helper()
	srv := NewServer("", h, h)
	ts := httptest.NewServer(srv.router())
	t.Cleanup(ts.Close)
	return &HTTPClient{baseURL: ts.URL, client: ts.Client()}
}

func TestHTTPClient_Lock_RoundTrips(t *testing.T) {
	h := &fakeHandler{lockResult: logsystem.TLogLockResult{End: 42, KnownCommittedVersion: 40}}
	client := newTestServerAndClient(t, h)

	result, err := client.Lock(context.Background())
	require.NoError(t, err)
	require.Equal(t, logsystem.Version(42), result.End)
	require.Equal(t, logsystem.Version(40), result.KnownCommittedVersion)
}

func TestHTTPClient_Lock_TLogStoppedMapsToGone(t *testing.T) {
	h := &fakeHandler{lockErr: logsystem.ErrTLogStopped}
	client := newTestServerAndClient(t, h)

	_, err := client.Lock(context.Background())
	require.ErrorIs(t, err, logsystem.ErrTLogStopped)
}

func TestHTTPClient_Pop_SendsRequestBody(t *testing.T) {
	h := &fakeHandler{}
	client := newTestServerAndClient(t, h)

	tag := logsystem.Tag{Locality: logsystem.LocalityPrimary, ID: 3}
	err := client.Pop(context.Background(), logsystem.TLogPopRequest{UpTo: 99, KnownCommitted: 90, Tag: tag})
	require.NoError(t, err)
	require.Equal(t, logsystem.Version(99), h.lastPop.UpTo)
	require.Equal(t, tag, h.lastPop.Tag)
}

func TestHTTPClient_InitializeTLog_RoundTrips(t *testing.T) {
	h := &fakeHandler{}
	client := newTestServerAndClient(t, h)

	reply, err := client.InitializeTLog(context.Background(), logsystem.InitializeTLogRequest{RecruitmentID: "r1"})
	require.NoError(t, err)
	require.Equal(t, "recruited", reply.Interface.ID)
}

func TestHTTPClient_DialRequiresAddress(t *testing.T) {
	dialer := NewHTTPDialer(time.Second)
	_, err := dialer.Dial(logsystem.ServerInterface{ID: "s0"})
	require.Error(t, err)
}

func TestHTTPClient_CommitEchoesVersion(t *testing.T) {
	h := &fakeHandler{}
	client := newTestServerAndClient(t, h)

	reply, err := client.Commit(context.Background(), logsystem.TLogCommitRequest{Version: 77})
	require.NoError(t, err)
	require.Equal(t, logsystem.Version(77), reply.Version)
}
