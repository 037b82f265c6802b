// Package relay collects participant counter-signatures over proposed session
// states, either from a websocket relay or from keys held in-process.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mselser95/predict-session/pkg/types"
	"go.uber.org/zap"
)

const (
	msgSignRequest  = "sign_request"
	msgSignResponse = "sign_response"
)

// ErrNotConnected is returned when a request is made while the relay
// connection is down. Callers retry.
var ErrNotConnected = errors.New("relay not connected")

// Config holds relay client configuration.
type Config struct {
	URL                   string
	DialTimeout           time.Duration
	PingInterval          time.Duration
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectBackoffMult  float64
	Logger                *zap.Logger
}

// message is the relay wire envelope. Requests carry a proposal, responses
// carry signatures or an error.
type message struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	Proposal   *types.Proposal   `json:"proposal,omitempty"`
	Signatures []types.Signature `json:"signatures,omitempty"`
	Error      string            `json:"error,omitempty"`
}

type response struct {
	signatures []types.Signature
	err        error
}

// Client is a websocket connection to a counter-signature relay. Requests are
// matched to responses by id, so many markets may have requests in flight.
type Client struct {
	url          string
	conn         *websocket.Conn
	logger       *zap.Logger
	reconnectMgr *ReconnectManager
	config       Config
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	mu           sync.RWMutex
	writeMu      sync.Mutex
	pendingMu    sync.Mutex
	pending      map[string]chan response
	lost         chan struct{}
	connected    atomic.Bool
}

// New creates a relay client. Start dials it.
func New(cfg Config) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	reconnectCfg := ReconnectConfig{
		InitialDelay:      cfg.ReconnectInitialDelay,
		MaxDelay:          cfg.ReconnectMaxDelay,
		BackoffMultiplier: cfg.ReconnectBackoffMult,
		JitterPercent:     0.2,
	}

	return &Client{
		url:          cfg.URL,
		logger:       cfg.Logger,
		reconnectMgr: NewReconnectManager(reconnectCfg, cfg.Logger),
		config:       cfg,
		ctx:          ctx,
		cancel:       cancel,
		pending:      make(map[string]chan response),
		lost:         make(chan struct{}, 1),
	}
}

// Start dials the relay and starts the read, ping and reconnect loops.
func (c *Client) Start() error {
	c.logger.Info("relay-client-starting", zap.String("url", c.url))

	if err := c.connect(c.ctx); err != nil {
		return fmt.Errorf("initial connection: %w", err)
	}

	c.wg.Add(3)
	go c.readLoop()
	go c.pingLoop()
	go c.reconnectLoop()

	return nil
}

// Connected reports whether the relay connection is up.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: c.config.DialTimeout}

	conn, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	prev := c.conn
	c.conn = conn
	c.mu.Unlock()

	if prev != nil {
		_ = prev.Close()
	}

	c.connected.Store(true)
	ActiveConnections.Set(1)
	c.logger.Info("relay-connected", zap.String("url", c.url))

	return nil
}

// RequestCounterSignatures sends the proposal to the relay and waits for its
// response. It returns whatever signatures the relay collected; checking them
// against the participant set is the caller's job.
func (c *Client) RequestCounterSignatures(ctx context.Context, p *types.Proposal) ([]types.Signature, error) {
	start := time.Now()
	defer func() {
		SignLatencySeconds.WithLabelValues("relay").Observe(time.Since(start).Seconds())
	}()

	if !c.connected.Load() {
		SignRequestsTotal.WithLabelValues("relay", "not_connected").Inc()
		return nil, ErrNotConnected
	}

	id := uuid.NewString()
	ch := make(chan response, 1)
	c.pendingMu.Lock()
	c.pending[id] = ch
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.write(message{Type: msgSignRequest, ID: id, Proposal: p}); err != nil {
		SignRequestsTotal.WithLabelValues("relay", "write_error").Inc()
		return nil, err
	}

	c.logger.Debug("relay-sign-request-sent",
		zap.String("request-id", id),
		zap.String("market-id", p.MarketID),
		zap.Uint64("version", p.Version))

	select {
	case <-ctx.Done():
		SignRequestsTotal.WithLabelValues("relay", "timeout").Inc()
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.err != nil {
			SignRequestsTotal.WithLabelValues("relay", "error").Inc()
			return nil, resp.err
		}
		SignRequestsTotal.WithLabelValues("relay", "ok").Inc()
		return resp.signatures, nil
	}
}

func (c *Client) write(msg message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	return nil
}

func (c *Client) readLoop() {
	defer c.wg.Done()

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				c.logger.Warn("relay-read-error", zap.Error(err))
			}
			_ = conn.Close()
			c.connected.Store(false)
			ActiveConnections.Set(0)
			c.failPending(fmt.Errorf("relay connection lost: %w", err))
			select {
			case c.lost <- struct{}{}:
			default:
			}
			return
		}

		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("relay-unparseable-message", zap.Error(err), zap.Int("bytes", len(data)))
			continue
		}
		MessagesReceivedTotal.WithLabelValues(msg.Type).Inc()

		if msg.Type != msgSignResponse {
			c.logger.Debug("relay-control-message", zap.String("type", msg.Type))
			continue
		}

		c.pendingMu.Lock()
		ch, ok := c.pending[msg.ID]
		c.pendingMu.Unlock()
		if !ok {
			c.logger.Debug("relay-response-unmatched", zap.String("request-id", msg.ID))
			continue
		}

		resp := response{signatures: msg.Signatures}
		if msg.Error != "" {
			resp.err = fmt.Errorf("relay rejected proposal: %s", msg.Error)
		}
		select {
		case ch <- resp:
		default:
		}
	}
}

func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	for _, ch := range c.pending {
		select {
		case ch <- response{err: err}:
		default:
		}
	}
}

func (c *Client) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.connected.Load() {
				continue
			}

			c.mu.RLock()
			conn := c.conn
			c.mu.RUnlock()

			err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second))
			if err != nil {
				c.logger.Warn("relay-ping-error", zap.Error(err))
			}
		}
	}
}

func (c *Client) reconnectLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-c.lost:
		}

		c.logger.Warn("relay-connection-lost-initiating-reconnect")

		if err := c.reconnectMgr.Reconnect(c.ctx, c.connect); err != nil {
			// Reconnect only gives up when the client is closing.
			return
		}

		c.wg.Add(1)
		go c.readLoop()
	}
}

// Close stops all loops and closes the connection.
func (c *Client) Close() error {
	c.logger.Info("closing-relay-client")

	c.cancel()

	c.mu.RLock()
	if c.conn != nil {
		_ = c.conn.Close()
	}
	c.mu.RUnlock()

	c.wg.Wait()
	ActiveConnections.Set(0)

	c.logger.Info("relay-client-closed")
	return nil
}
