package signal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"
	"fluxx/pkg/config"
	"fluxx/pkg/retry"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrNoCredentials = errors.New("no signaling credentials")
	ErrRejected      = errors.New("signaling server rejected credentials")
)

// TokenStore is an in-memory ports.CredentialStore.
type TokenStore struct {
	mu    sync.RWMutex
	token string
}

func NewTokenStore(token string) *TokenStore {
	return &TokenStore{token: token}
}

func (s *TokenStore) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *TokenStore) Set(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
}

func (s *TokenStore) Clear() {
	s.Set("")
}

type ClientConfig struct {
	URL          string
	WriteTimeout time.Duration
	// PongTimeout bounds silence from the server, whose pings reset it.
	PongTimeout time.Duration
	Reconnect   retry.Config
}

func ClientConfigFrom(cfg *config.Config) ClientConfig {
	rc := retry.DefaultConfig()
	rc.MaxAttempts = cfg.Client.Reconnect.MaxAttempts
	rc.InitialDelay = cfg.Client.Reconnect.InitialDelay
	rc.MaxDelay = cfg.Client.Reconnect.MaxDelay
	return ClientConfig{
		URL:          cfg.Client.ServerURL,
		WriteTimeout: cfg.Signal.WriteTimeout,
		PongTimeout:  cfg.Signal.PongTimeout,
		Reconnect:    rc,
	}
}

// Client is the websocket ports.SignalTransport. It reconnects with backoff
// until the credentials are cleared or the server refuses them.
type Client struct {
	cfg     ClientConfig
	creds   ports.CredentialStore
	handler ports.SignalHandler
	dialer  *websocket.Dialer

	mu      sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	logger *zap.SugaredLogger
}

var _ ports.SignalTransport = (*Client)(nil)

func NewClient(cfg ClientConfig, creds ports.CredentialStore, logger *zap.SugaredLogger) *Client {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 60 * time.Second
	}
	cfg.Reconnect.NonRetryable = append(cfg.Reconnect.NonRetryable, ErrNoCredentials, ErrRejected)
	return &Client{
		cfg:    cfg,
		creds:  creds,
		dialer: websocket.DefaultDialer,
		logger: logger,
	}
}

// SetHandler must be called before Run.
func (c *Client) SetHandler(h ports.SignalHandler) {
	c.handler = h
}

// Run connects and reads until ctx is done, the credentials are cleared or
// reconnect attempts run out.
func (c *Client) Run(ctx context.Context) error {
	for {
		conn, err := retry.Do(ctx, c.reconnectConfig(), c.dial)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("signaling connection: %w", err)
		}

		c.setConn(conn)
		c.handler.HandleTransportStatus(true)

		err = c.readLoop(ctx, conn)

		c.setConn(nil)
		conn.Close()
		c.handler.HandleTransportStatus(false)

		if ctx.Err() != nil {
			return nil
		}
		if c.creds.Token() == "" {
			c.logger.Info("Credentials cleared, not reconnecting")
			return nil
		}
		c.logger.Warnw("Signaling connection lost, reconnecting", "error", err)
	}
}

func (c *Client) reconnectConfig() retry.Config {
	rc := c.cfg.Reconnect
	rc.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logger.Infow("Signaling dial failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", err,
		)
	}
	return rc
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	token := c.creds.Token()
	if token == "" {
		return nil, ErrNoCredentials
	}

	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid server url: %w", ErrRejected, err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	conn, resp, err := c.dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) error {
	extend := func() { _ = conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout)) }
	extend()
	conn.SetPingHandler(func(data string) error {
		extend()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(c.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var msg domain.Message
		if err := conn.ReadJSON(&msg); err != nil {
			return err
		}
		extend()
		c.handler.HandleSignal(msg)
	}
}

func (c *Client) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = conn
}

func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn != nil
}

func (c *Client) Send(ctx context.Context, msg domain.Message) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return fmt.Errorf("%w: not connected", domain.ErrTransport)
	}

	deadline := time.Now().Add(c.cfg.WriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(deadline)
	if err := conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrTransport, err)
	}
	return nil
}

// Close sends a close frame; Run then returns once the server hangs up.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(c.cfg.WriteTimeout))
}
