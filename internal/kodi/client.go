// Package kodi drives a Kodi instance over its JSON-RPC interface: playback
// control via the HTTP transport and playback notifications via the websocket
// transport.
package kodi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUnavailable marks failures to reach the Kodi JSON-RPC endpoint.
var ErrUnavailable = errors.New("kodi: jsonrpc endpoint unavailable")

// RPCError is an error object returned by Kodi inside a JSON-RPC response.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("kodi: rpc error %d: %s", e.Code, e.Message)
}

// CallError wraps a failed JSON-RPC call with the method that failed.
type CallError struct {
	Method string
	Err    error
}

func (e *CallError) Error() string {
	return fmt.Sprintf("kodi: call %s failed: %v", e.Method, e.Err)
}

func (e *CallError) Unwrap() error { return e.Err }

// Config locates the Kodi JSON-RPC transports. Kodi serves HTTP and
// websocket on separate ports, so both endpoints are configured explicitly.
type Config struct {
	// URL of the HTTP JSON-RPC endpoint, e.g. http://127.0.0.1:8080/jsonrpc.
	URL string
	// WebsocketURL of the TCP JSON-RPC endpoint, e.g. ws://127.0.0.1:9090/jsonrpc.
	WebsocketURL string
	Username     string
	Password     string
	Timeout      time.Duration
}

type client struct {
	cfg  Config
	http *http.Client
}

func newClient(cfg Config) *client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int    `json:"id"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// call performs one JSON-RPC request. result may be nil when the caller does
// not care about the response payload.
func (c *client) call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(rpcRequest{JSONRPC: "2.0", Method: method, Params: params, ID: 1})
	if err != nil {
		return &CallError{Method: method, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return &CallError{Method: method, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Username != "" {
		req.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return &CallError{Method: method, Err: fmt.Errorf("%w: %w", ErrUnavailable, err)}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &CallError{Method: method, Err: fmt.Errorf("%w: unexpected status %d", ErrUnavailable, res.StatusCode)}
	}

	var decoded rpcResponse
	if err := json.NewDecoder(res.Body).Decode(&decoded); err != nil {
		return &CallError{Method: method, Err: err}
	}
	if decoded.Error != nil {
		return &CallError{Method: method, Err: decoded.Error}
	}
	if result != nil && len(decoded.Result) > 0 && string(decoded.Result) != "null" {
		if err := json.Unmarshal(decoded.Result, result); err != nil {
			return &CallError{Method: method, Err: err}
		}
	}
	return nil
}
