package market

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testMint = "Mint1111111111111111111111111111111111111"

func newTestClient(baseURL string) *Client {
	return NewClient(Config{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	})
}

func TestTokenSecurity_ParsesReport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-KEY"))
		assert.Equal(t, "solana", r.Header.Get("x-chain"))
		assert.Contains(t, r.URL.RawQuery, testMint)

		fmt.Fprint(w, `{"success":true,"data":{
			"freezeAuthority":null,
			"mintAuthority":"SomeAuth",
			"lockInfo":{"isLocked":true},
			"isLpBurned":false,
			"top10HolderPercent":42.5,
			"creatorAddress":"Creator111",
			"creatorPercentage":3.2,
			"isToken2022":false,
			"transferFeeEnable":false
		}}`)
	}))
	defer srv.Close()

	info, err := newTestClient(srv.URL).TokenSecurity(context.Background(), testMint)
	require.NoError(t, err)
	assert.False(t, info.FreezeAuthority)
	assert.True(t, info.MintAuthority)
	assert.True(t, info.LPLocked)
	assert.False(t, info.LPBurned)
	assert.InDelta(t, 42.5, info.Top10HolderPct, 0.001)
	assert.Equal(t, "Creator111", info.CreatorAddress)
	assert.False(t, info.FetchedAt.IsZero())
}

func TestTokenSecurity_RejectedLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"success":false}`)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).TokenSecurity(context.Background(), testMint)
	assert.ErrorContains(t, err, "rejected")
}

func TestTokenOverview_ParsesSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"success":true,"data":{
			"price":0.00042,"liquidity":25000.5,"v24hUSD":120000,
			"holder":350,"trade24h":900
		}}`)
	}))
	defer srv.Close()

	info, err := newTestClient(srv.URL).TokenOverview(context.Background(), testMint)
	require.NoError(t, err)
	assert.Equal(t, "0.00042", info.PriceUSD.String())
	assert.Equal(t, "25000.5", info.LiquidityUSD.String())
	assert.Equal(t, 350, info.HolderCount)
	assert.Equal(t, 900, info.Trade24h)
}

func TestRateLimit_ReturnsSentinelError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.TokenSecurity(context.Background(), testMint)
	assert.ErrorIs(t, err, ErrRateLimited)

	stats := client.Stats()
	assert.Equal(t, int64(1), stats.RateLimited)
	assert.Equal(t, int64(0), stats.SecurityCalls)
}

func TestServerError_CountsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.TokenOverview(context.Background(), testMint)
	assert.ErrorContains(t, err, "HTTP 500")
	assert.Equal(t, int64(1), client.Stats().ErrorCount)
}
