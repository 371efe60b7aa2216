// Package transport is the JSON-over-HTTP binding for LogServerClient: an
// HTTPDialer that reaches real log servers and log routers over the
// network, and a Server that exposes a local LogServerHandler under the
// same routes. Request/reply bodies are the plain structs from
// internal/logsystem, encoded with encoding/json, matching the teacher's
// pkg/rpc and internal/http conventions rather than a generated RPC stack.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"logsystem/internal/logsystem"
)

// HTTPDialer resolves a ServerInterface's Address into an *HTTPClient,
// reusing one *http.Client across every dial.
type HTTPDialer struct {
	client *http.Client
}

// NewHTTPDialer builds a dialer whose requests time out after timeout.
func NewHTTPDialer(timeout time.Duration) *HTTPDialer {
	return &HTTPDialer{client: &http.Client{Timeout: timeout}}
}

func (d *HTTPDialer) Dial(iface logsystem.ServerInterface) (logsystem.LogServerClient, error) {
	if iface.Address == "" {
		return nil, fmt.Errorf("transport: empty address for server %q", iface.ID)
	}
	return &HTTPClient{baseURL: strings.TrimRight(iface.Address, "/"), client: d.client}, nil
}

// HTTPClient implements logsystem.LogServerClient over plain HTTP/JSON.
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func (c *HTTPClient) Lock(ctx context.Context) (logsystem.TLogLockResult, error) {
	var out logsystem.TLogLockResult
	err := c.post(ctx, "/tlog/lock", logsystem.TLogLockRequest{}, &out)
	return out, err
}

func (c *HTTPClient) Commit(ctx context.Context, req logsystem.TLogCommitRequest) (logsystem.TLogCommitReply, error) {
	var out logsystem.TLogCommitReply
	err := c.post(ctx, "/tlog/commit", req, &out)
	return out, err
}

func (c *HTTPClient) Pop(ctx context.Context, req logsystem.TLogPopRequest) error {
	return c.post(ctx, "/tlog/pop", req, nil)
}

func (c *HTTPClient) Peek(ctx context.Context, req logsystem.PeekRequest) (logsystem.PeekReply, error) {
	var out logsystem.PeekReply
	err := c.post(ctx, "/tlog/peek", req, &out)
	return out, err
}

func (c *HTTPClient) ConfirmRunning(ctx context.Context, req logsystem.TLogConfirmRunningRequest) error {
	return c.post(ctx, "/tlog/confirm-running", req, nil)
}

func (c *HTTPClient) RecoveryFinished(ctx context.Context) error {
	return c.post(ctx, "/tlog/recovery-finished", logsystem.TLogRecoveryFinishedRequest{}, nil)
}

func (c *HTTPClient) InitializeTLog(ctx context.Context, req logsystem.InitializeTLogRequest) (logsystem.InitializeTLogReply, error) {
	var out logsystem.InitializeTLogReply
	err := c.post(ctx, "/worker/initialize-tlog", req, &out)
	return out, err
}

func (c *HTTPClient) InitializeLogRouter(ctx context.Context, req logsystem.InitializeLogRouterRequest) (logsystem.InitializeLogRouterReply, error) {
	var out logsystem.InitializeLogRouterReply
	err := c.post(ctx, "/worker/initialize-log-router", req, &out)
	return out, err
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	u, err := url.JoinPath(c.baseURL, path)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", path, logsystem.ErrBrokenPromise, err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusGone:
		return logsystem.ErrTLogStopped
	case http.StatusServiceUnavailable:
		return logsystem.ErrBrokenPromise
	default:
		return fmt.Errorf("%s: status=%d body=%s", path, resp.StatusCode, string(b))
	}

	if out == nil || len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, out)
}
