package solana

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rpcResult(t *testing.T, w http.ResponseWriter, id int64, result string) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"result":%s}`, id, result)
}

func newLiveClient(endpoint string) *LiveRPCClient {
	return NewLiveRPCClient(RPCConfig{
		Endpoint:     endpoint,
		Timeout:      2 * time.Second,
		MaxRetries:   1,
		RateLimitRPS: 100,
	})
}

func TestLiveRPC_GetTokenInfo(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "getAccountInfo", req.Method)

		rpcResult(t, w, req.ID, `{"value":{"data":{"parsed":{"info":{
			"decimals":6,"supply":"1000000000000",
			"mintAuthority":"","freezeAuthority":"SomeAuth1111111111111111111111111111111111"
		}}}}}`)
	}))
	defer srv.Close()

	client := newLiveClient(srv.URL)
	defer client.Close()

	info, err := client.GetTokenInfo(context.Background(), "Mint11111111111111111111111111111111111111")
	require.NoError(t, err)
	assert.Equal(t, uint8(6), info.Decimals)
	assert.True(t, info.IsMintRenounced())
	assert.False(t, info.IsFreezeRenounced())
	assert.Equal(t, "1000000000000", info.Supply.String())
}

func TestLiveRPC_TokenNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		rpcResult(t, w, req.ID, `{"value":null}`)
	}))
	defer srv.Close()

	client := newLiveClient(srv.URL)
	defer client.Close()

	_, err := client.GetTokenInfo(context.Background(), "Missing1111111111111111111111111111111111")
	assert.ErrorContains(t, err, "not found")
}

func TestLiveRPC_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		rpcResult(t, w, req.ID, `"ok"`)
	}))
	defer srv.Close()

	client := newLiveClient(srv.URL)
	defer client.Close()

	err := client.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), calls.Load())
}

func TestLiveRPC_RPCErrorNotRetried(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%d,"error":{"code":-32602,"message":"invalid params"}}`, req.ID)
	}))
	defer srv.Close()

	client := newLiveClient(srv.URL)
	defer client.Close()

	_, err := client.GetPoolInfo(context.Background(), "Poo111111111111111111111111111111111111111")
	assert.ErrorContains(t, err, "invalid params")
	assert.Equal(t, int64(1), calls.Load())
}

func TestLiveRPC_TransactionStatus(t *testing.T) {
	statuses := []string{
		`{"value":[null]}`,
		`{"value":[{"confirmationStatus":"confirmed","err":null}]}`,
		`{"value":[{"confirmationStatus":"confirmed","err":{"InstructionError":[0,"Custom"]}}]}`,
	}
	var idx atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		rpcResult(t, w, req.ID, statuses[idx.Add(1)-1])
	}))
	defer srv.Close()

	client := newLiveClient(srv.URL)
	defer client.Close()

	status, err := client.GetTransactionStatus(context.Background(), "sig1")
	require.NoError(t, err)
	assert.Equal(t, "pending", status)

	status, err = client.GetTransactionStatus(context.Background(), "sig2")
	require.NoError(t, err)
	assert.Equal(t, "confirmed", status)

	status, err = client.GetTransactionStatus(context.Background(), "sig3")
	require.NoError(t, err)
	assert.Equal(t, "failed", status)
}

func TestLiveRPC_Stats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		json.NewDecoder(r.Body).Decode(&req)
		rpcResult(t, w, req.ID, `"ok"`)
	}))
	defer srv.Close()

	client := newLiveClient(srv.URL)
	defer client.Close()

	require.NoError(t, client.Health(context.Background()))
	stats := client.Stats()
	assert.Equal(t, int64(1), stats.RequestCount)
	assert.Equal(t, int64(0), stats.ErrorCount)
	assert.False(t, stats.CircuitOpen)
}

func TestProgramIDToDEX(t *testing.T) {
	assert.Equal(t, "raydium", programIDToDEX("675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"))
	assert.Equal(t, "pumpfun", programIDToDEX("6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P"))
	assert.Equal(t, "unknown", programIDToDEX("nobody"))
}
