// Package jsonrpc implements rpc.Transport for JSON-RPC 2.0 over HTTP POST.
package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"github.com/wesleyorama2/rpcbench/internal/rpc"
)

// JSON-RPC 2.0 error codes that indicate a malformed or unsupported request.
// Retrying them never helps, so they are classified as fatal.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
)

// maxErrorBody bounds how much of a non-200 body is kept in error messages.
const maxErrorBody = 256

// Transport issues JSON-RPC 2.0 calls over HTTP.
type Transport struct {
	httpClient *http.Client
	headers    map[string]string
	nextID     atomic.Uint64
}

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) {
		t.httpClient = c
	}
}

// WithTimeout sets the HTTP client timeout. Per-call deadlines from the
// context still apply.
func WithTimeout(timeout time.Duration) Option {
	return func(t *Transport) {
		t.httpClient.Timeout = timeout
	}
}

// WithHeader adds a header sent on every request.
func WithHeader(key, value string) Option {
	return func(t *Transport) {
		t.headers[key] = value
	}
}

// New creates a JSON-RPC transport.
func New(options ...Option) *Transport {
	t := &Transport{
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        1000,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		headers: make(map[string]string),
	}

	for _, option := range options {
		option(t)
	}

	return t
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

// Invoke sends call to endpoint and classifies the response.
func (t *Transport) Invoke(ctx context.Context, endpoint string, call rpc.Call) error {
	u, err := url.Parse(endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return rpc.Fatal(0, fmt.Sprintf("invalid endpoint %q", endpoint))
	}

	params := call.Params
	if params == nil {
		params = []any{}
	}

	body, err := json.Marshal(request{
		JSONRPC: "2.0",
		ID:      t.nextID.Add(1),
		Method:  call.Method,
		Params:  params,
	})
	if err != nil {
		return rpc.Fatal(0, fmt.Sprintf("failed to encode params: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return rpc.Fatal(0, fmt.Sprintf("failed to build request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range t.headers {
		req.Header.Set(key, value)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return rpc.Timeout(err)
		}
		return rpc.Classify(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return rpc.Transient(fmt.Errorf("failed to read response: %w", err))
	}

	return classifyResponse(resp.StatusCode, data)
}

// classifyResponse maps an HTTP status and JSON-RPC body onto the error
// taxonomy.
func classifyResponse(status int, data []byte) error {
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return rpc.Protocol(status, truncate(data))
	case status >= 400:
		return rpc.Fatal(status, truncate(data))
	case status != http.StatusOK:
		return rpc.Protocol(status, truncate(data))
	}

	if !gjson.ValidBytes(data) {
		return rpc.Protocol(CodeParseError, "invalid JSON response")
	}

	errResult := gjson.GetBytes(data, "error")
	if errResult.Exists() && errResult.Type != gjson.Null {
		code := int(errResult.Get("code").Int())
		message := errResult.Get("message").String()
		if message == "" {
			message = errResult.Raw
		}

		switch code {
		case CodeParseError, CodeInvalidRequest, CodeMethodNotFound, CodeInvalidParams:
			return rpc.Fatal(code, message)
		}
		return rpc.Protocol(code, message)
	}

	if !gjson.GetBytes(data, "result").Exists() {
		return rpc.Protocol(CodeInvalidRequest, "response has neither result nor error")
	}

	return nil
}

func truncate(data []byte) string {
	if len(data) > maxErrorBody {
		return string(data[:maxErrorBody]) + "..."
	}
	return string(data)
}
