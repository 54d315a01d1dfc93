package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Token discovery — logsSubscribe stream over launchpad and AMM programs
// ---------------------------------------------------------------------------

// Config configures the discovery stream.
type Config struct {
	WSURL             string        `yaml:"ws_url"`
	Programs          []string      `yaml:"programs"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
	PingInterval      time.Duration `yaml:"ping_interval"`
	MaxReconnects     int           `yaml:"max_reconnects"` // 0 = unlimited
}

// DefaultConfig returns mainnet defaults.
func DefaultConfig() Config {
	return Config{
		WSURL: "wss://api.mainnet-beta.solana.com",
		Programs: []string{
			"675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8", // Raydium AMM V4
			"6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P",  // Pump.fun
		},
		ReconnectInterval: 5 * time.Second,
		PingInterval:      30 * time.Second,
	}
}

// TokenEvent is emitted when a new token launch is seen on-chain. Mint and
// deployer still need to be resolved from the transaction by the consumer.
type TokenEvent struct {
	Signature  string    `json:"signature"`
	Slot       uint64    `json:"slot"`
	Source     string    `json:"source"` // which DEX/launchpad
	Logs       []string  `json:"logs"`
	DetectedAt time.Time `json:"detected_at"`
}

// Stream subscribes to program logs and surfaces new token launches.
type Stream struct {
	config Config

	mu   sync.RWMutex
	conn *websocket.Conn

	events chan TokenEvent
	closed atomic.Bool

	onToken func(TokenEvent)

	reqID atomic.Int64

	messages   atomic.Int64
	launches   atomic.Int64
	reconnects atomic.Int64
	connected  atomic.Bool
}

// NewStream creates a discovery stream.
func NewStream(config Config) *Stream {
	return &Stream{
		config: config,
		events: make(chan TokenEvent, 256),
	}
}

// SetOnToken sets a callback invoked for every launch, in addition to the
// Events channel.
func (s *Stream) SetOnToken(fn func(TokenEvent)) {
	s.onToken = fn
}

// Events returns the launch channel. Closed when Run exits.
func (s *Stream) Events() <-chan TokenEvent {
	return s.events
}

// Run connects and streams until ctx is cancelled, reconnecting on failure.
func (s *Stream) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("discovery: run panic recovered")
		}
		s.mu.Lock()
		if s.closed.CompareAndSwap(false, true) {
			close(s.events)
		}
		s.mu.Unlock()
	}()

	delay := s.config.ReconnectInterval
	if delay == 0 {
		delay = 5 * time.Second
	}
	attempts := 0

	for {
		select {
		case <-ctx.Done():
			s.disconnect()
			return
		default:
		}

		if s.config.MaxReconnects > 0 && attempts >= s.config.MaxReconnects {
			log.Error().Int("max", s.config.MaxReconnects).Msg("discovery: reconnect budget spent, cooling down")
			select {
			case <-time.After(60 * time.Second):
				attempts = 0
				continue
			case <-ctx.Done():
				s.disconnect()
				return
			}
		}

		if err := s.connect(ctx); err != nil {
			log.Warn().Err(err).Int("attempt", attempts).Msg("discovery: connect failed")
			attempts++
			s.reconnects.Add(1)

			backoff := delay * time.Duration(1<<min(attempts, 3))
			if backoff > 30*time.Second {
				backoff = 30 * time.Second
			}
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			continue
		}
		attempts = 0

		for _, program := range s.config.Programs {
			if err := s.subscribe(program); err != nil {
				log.Warn().Err(err).Str("program", shortAddr(program)).Msg("discovery: subscribe failed")
			}
		}

		s.readLoop(ctx)
	}
}

func (s *Stream) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.config.WSURL, nil)
	if err != nil {
		return fmt.Errorf("discovery: dial: %w", err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.connected.Store(true)

	log.Info().Str("endpoint", s.config.WSURL).Msg("discovery: connected")
	return nil
}

func (s *Stream) disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected.Store(false)
}

func (s *Stream) subscribe(program string) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return fmt.Errorf("discovery: not connected")
	}

	req := map[string]any{
		"jsonrpc": "2.0",
		"id":      s.reqID.Add(1),
		"method":  "logsSubscribe",
		"params": []any{
			map[string]any{"mentions": []string{program}},
			map[string]any{"commitment": "confirmed"},
		},
	}

	s.mu.Lock()
	err := s.conn.WriteJSON(req)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("discovery: write subscribe: %w", err)
	}

	log.Info().
		Str("program", shortAddr(program)).
		Str("source", programSource(program)).
		Msg("discovery: subscribed")
	return nil
}

func (s *Stream) readLoop(ctx context.Context) {
	pingInterval := s.config.PingInterval
	if pingInterval == 0 {
		pingInterval = 30 * time.Second
	}
	pingTicker := time.NewTicker(pingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pingTicker.C:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn != nil {
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					log.Debug().Err(err).Msg("discovery: ping failed")
					return
				}
			}
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				log.Info().Msg("discovery: connection closed")
			} else {
				log.Warn().Err(err).Msg("discovery: read error, reconnecting")
			}
			s.connected.Store(false)
			return
		}

		s.messages.Add(1)
		s.handleMessage(message)
	}
}

func (s *Stream) handleMessage(data []byte) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("discovery: message panic recovered")
		}
	}()

	var notification struct {
		Method string `json:"method"`
		Params struct {
			Result struct {
				Value struct {
					Signature string   `json:"signature"`
					Logs      []string `json:"logs"`
				} `json:"value"`
				Context struct {
					Slot uint64 `json:"slot"`
				} `json:"context"`
			} `json:"result"`
		} `json:"params"`
	}

	if err := json.Unmarshal(data, &notification); err != nil {
		return
	}
	if notification.Method != "logsNotification" {
		var subResp struct {
			Result int `json:"result"`
		}
		if json.Unmarshal(data, &subResp) == nil && subResp.Result > 0 {
			log.Debug().Int("sub_id", subResp.Result).Msg("discovery: subscription confirmed")
		}
		return
	}

	logs := notification.Params.Result.Value.Logs
	if !isLaunchEvent(logs) {
		return
	}

	event := TokenEvent{
		Signature:  notification.Params.Result.Value.Signature,
		Slot:       notification.Params.Result.Context.Slot,
		Source:     sourceFromLogs(logs),
		Logs:       logs,
		DetectedAt: time.Now(),
	}
	s.launches.Add(1)

	if s.onToken != nil {
		s.onToken(event)
	}

	// Channel send synchronized with close under the mutex.
	s.mu.RLock()
	if !s.closed.Load() {
		select {
		case s.events <- event:
			log.Info().
				Str("sig", shortAddr(event.Signature)).
				Str("source", event.Source).
				Uint64("slot", event.Slot).
				Msg("discovery: new token launch")
		default:
			log.Warn().Msg("discovery: event channel full, dropping launch")
		}
	}
	s.mu.RUnlock()
}

// isLaunchEvent checks logs for pool/token initialization markers.
func isLaunchEvent(logs []string) bool {
	hasCreate := false
	hasInitMint := false

	for _, l := range logs {
		if strings.Contains(l, "InitializeInstruction2") || strings.Contains(l, "initialize2") {
			return true
		}
		if strings.Contains(l, "InitializePool") {
			return true
		}
		if strings.Contains(l, "InitializeLbPair") {
			return true
		}
		if strings.Contains(l, "Create") {
			hasCreate = true
		}
		if strings.Contains(l, "InitializeMint2") {
			hasInitMint = true
		}
	}
	// Pump.fun bonding curve creation shows both markers.
	return hasCreate && hasInitMint
}

func sourceFromLogs(logs []string) string {
	for _, l := range logs {
		if strings.Contains(l, "675kPX9MHTjS2zt1qfr1NYHuzeLXfQM9H24wFSUt1Mp8") {
			return "raydium"
		}
		if strings.Contains(l, "6EF8rrecthR5Dkzon8Nwu78hRvfCKubJ14M5uBEwF6P") {
			return "pumpfun"
		}
		if strings.Contains(l, "whirLbMiicVdio4qvUfM5KAg6Ct8VwpYzGff3uctyCc") {
			return "orca"
		}
	}
	return "unknown"
}

func programSource(program string) string {
	return sourceFromLogs([]string{program})
}

func shortAddr(s string) string {
	if len(s) > 12 {
		return s[:12]
	}
	return s
}

// Stats returns stream statistics.
type Stats struct {
	Connected  bool  `json:"connected"`
	Messages   int64 `json:"messages"`
	Launches   int64 `json:"launches"`
	Reconnects int64 `json:"reconnects"`
}

func (s *Stream) Stats() Stats {
	return Stats{
		Connected:  s.connected.Load(),
		Messages:   s.messages.Load(),
		Launches:   s.launches.Load(),
		Reconnects: s.reconnects.Load(),
	}
}
