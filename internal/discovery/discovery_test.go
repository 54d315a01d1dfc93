package discovery

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsLaunchEvent(t *testing.T) {
	tests := []struct {
		name string
		logs []string
		want bool
	}{
		{
			name: "raydium initialize2",
			logs: []string{"Program log: initialize2: InitializeInstruction2"},
			want: true,
		},
		{
			name: "orca pool init",
			logs: []string{"Program log: Instruction: InitializePool"},
			want: true,
		},
		{
			name: "pumpfun needs both markers",
			logs: []string{"Program log: Instruction: Create"},
			want: false,
		},
		{
			name: "pumpfun create plus mint",
			logs: []string{
				"Program log: Instruction: Create",
				"Program log: Instruction: InitializeMint2",
			},
			want: true,
		},
		{
			name: "plain swap",
			logs: []string{"Program log: Instruction: Swap"},
			want: false,
		},
		{
			name: "empty",
			logs: nil,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isLaunchEvent(tt.logs))
		})
	}
}

func TestSourceFromLogs(t *testing.T) {
	assert.Equal(t, "raydium", sourceFromLogs([]string{
		"Program 675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8 invoke [1]",
	}))
	assert.Equal(t, "pumpfun", sourceFromLogs([]string{
		"Program 6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P invoke [1]",
	}))
	assert.Equal(t, "unknown", sourceFromLogs([]string{"Program log: hello"}))
}

func TestStream_EmitsLaunchEvents(t *testing.T) {
	upgrader := websocket.Upgrader{}

	notification := map[string]any{
		"jsonrpc": "2.0",
		"method":  "logsNotification",
		"params": map[string]any{
			"subscription": 1,
			"result": map[string]any{
				"context": map[string]any{"slot": 12345},
				"value": map[string]any{
					"signature": "TestSig111111111111111111111111111111111111",
					"logs": []string{
						"Program 675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8 invoke [1]",
						"Program log: initialize2: InitializeInstruction2",
					},
				},
			},
		},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Consume the subscribe request, confirm it, then push one launch.
		var req map[string]any
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		id := req["id"]
		_ = conn.WriteJSON(map[string]any{"jsonrpc": "2.0", "id": id, "result": 1})
		_ = conn.WriteJSON(notification)

		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.WSURL = "ws" + strings.TrimPrefix(srv.URL, "http")
	cfg.Programs = []string{"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8"}

	stream := NewStream(cfg)

	var cbEvents []TokenEvent
	stream.SetOnToken(func(ev TokenEvent) {
		cbEvents = append(cbEvents, ev)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go stream.Run(ctx)

	select {
	case ev := <-stream.Events():
		assert.Equal(t, "raydium", ev.Source)
		assert.Equal(t, uint64(12345), ev.Slot)
		assert.Equal(t, "TestSig111111111111111111111111111111111111", ev.Signature)
	case <-time.After(3 * time.Second):
		t.Fatal("no launch event received")
	}

	require.Len(t, cbEvents, 1)
	assert.Equal(t, int64(1), stream.Stats().Launches)
}

func TestStream_NonLaunchMessagesIgnored(t *testing.T) {
	s := NewStream(DefaultConfig())

	swap, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"method":  "logsNotification",
		"params": map[string]any{
			"result": map[string]any{
				"context": map[string]any{"slot": 1},
				"value": map[string]any{
					"signature": "sig",
					"logs":      []string{"Program log: Instruction: Swap"},
				},
			},
		},
	})
	require.NoError(t, err)

	s.handleMessage(swap)
	s.handleMessage([]byte("not json"))

	assert.Equal(t, int64(0), s.Stats().Launches)
	select {
	case <-s.events:
		t.Fatal("unexpected event")
	default:
	}
}
