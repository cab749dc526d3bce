package jsonrpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/rpcbench/internal/rpc"
)

func newServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTransport_Success(t *testing.T) {
	received := make(chan request, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("X-Api-Key"))

		var req request
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		received <- req
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":"0x10"}`))
	}))
	defer srv.Close()

	tr := New(WithHeader("X-Api-Key", "secret"))
	err := tr.Invoke(context.Background(), srv.URL, rpc.Call{Method: "eth_blockNumber"})
	require.NoError(t, err)

	got := <-received
	assert.Equal(t, "2.0", got.JSONRPC)
	assert.Equal(t, "eth_blockNumber", got.Method)
	assert.Equal(t, uint64(1), got.ID)
	assert.NotNil(t, got.Params)
}

func TestTransport_RequestIDsIncrease(t *testing.T) {
	var (
		mu  sync.Mutex
		ids []uint64
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req request
		_ = json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		ids = append(ids, req.ID)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":null}`))
	}))
	defer srv.Close()

	tr := New()
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.Invoke(context.Background(), srv.URL, rpc.Call{Method: "m"}))
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []uint64{1, 2, 3}, ids)
}

func TestTransport_Classification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantKind rpc.Kind
		wantCode int
	}{
		{"rpc error", 200, `{"jsonrpc":"2.0","id":1,"error":{"code":-32005,"message":"limit exceeded"}}`, rpc.KindProtocol, -32005},
		{"method not found", 200, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"nope"}}`, rpc.KindFatal, CodeMethodNotFound},
		{"invalid params", 200, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"bad"}}`, rpc.KindFatal, CodeInvalidParams},
		{"invalid json", 200, `not json`, rpc.KindProtocol, CodeParseError},
		{"no result", 200, `{"jsonrpc":"2.0","id":1}`, rpc.KindProtocol, CodeInvalidRequest},
		{"server error", 503, `unavailable`, rpc.KindProtocol, 503},
		{"rate limited", 429, `slow down`, rpc.KindProtocol, 429},
		{"bad request", 400, `bad`, rpc.KindFatal, 400},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newServer(t, tt.status, tt.body)

			err := New().Invoke(context.Background(), srv.URL, rpc.Call{Method: "m"})
			require.Error(t, err)

			rpcErr := rpc.Classify(err)
			assert.Equal(t, tt.wantKind, rpcErr.Kind)
			assert.Equal(t, tt.wantCode, rpcErr.Code)
		})
	}
}

func TestTransport_InvalidEndpointIsFatal(t *testing.T) {
	err := New().Invoke(context.Background(), "not a url", rpc.Call{Method: "m"})
	assert.True(t, rpc.IsFatal(err))
}

func TestTransport_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := New().Invoke(ctx, srv.URL, rpc.Call{Method: "m"})
	require.Error(t, err)
	assert.Equal(t, rpc.KindTimeout, rpc.Classify(err).Kind)
}

func TestTransport_ConnectionRefusedIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	err := New(WithTimeout(time.Second)).Invoke(context.Background(), addr, rpc.Call{Method: "m"})
	require.Error(t, err)
	assert.Equal(t, rpc.KindTransient, rpc.Classify(err).Kind)
}
