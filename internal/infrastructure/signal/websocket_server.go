package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/internal/core/ports"
	"fluxx/internal/infrastructure/middleware"
	"fluxx/pkg/config"
	applog "fluxx/pkg/logger"
	"fluxx/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const sendQueueSize = 64

var ErrNotConnected = errors.New("user not connected")

// Matchmaker is what the server drives on behalf of connected users.
type Matchmaker interface {
	JoinQueue(ctx context.Context, user *domain.User) error
	LeaveQueue(ctx context.Context, user domain.UserID) error
	NextMatch(ctx context.Context, user *domain.User) error
	EndChat(ctx context.Context, user domain.UserID) error
	Relay(ctx context.Context, from domain.UserID, msg domain.Message) error
	Disconnect(ctx context.Context, user domain.UserID) error
}

// Relay reaches users connected to other server instances.
type Relay interface {
	Register(ctx context.Context, user domain.UserID) error
	Unregister(ctx context.Context, user domain.UserID) error
	Forward(ctx context.Context, user domain.UserID, msg domain.Message) error
	ForwardKick(ctx context.Context, user domain.UserID) (bool, error)
}

type ServerConfig struct {
	PingInterval   time.Duration
	PongTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	AllowedOrigins []string

	// Zero MessagesPerSecond disables per-connection limiting.
	MessagesPerSecond float64
	Burst             int
}

func ServerConfigFrom(cfg *config.Config) ServerConfig {
	out := ServerConfig{
		PingInterval:   cfg.Signal.PingInterval,
		PongTimeout:    cfg.Signal.PongTimeout,
		WriteTimeout:   cfg.Signal.WriteTimeout,
		MaxMessageSize: cfg.Signal.MaxMessageSize,
		AllowedOrigins: cfg.Auth.AllowedOrigins,
	}
	if cfg.RateLimiting.Enabled {
		out.MessagesPerSecond = cfg.RateLimiting.WebSocket.MessagesPerSecond
		out.Burst = cfg.RateLimiting.WebSocket.Burst
	}
	return out
}

// WebSocketServer keeps one signaling connection per user and implements
// ports.PeerNotifier for the matchmaker.
type WebSocketServer struct {
	cfg        ServerConfig
	upgrader   websocket.Upgrader
	matchmaker Matchmaker
	relay      Relay

	clients map[domain.UserID]*client
	mu      sync.RWMutex

	logger *zap.SugaredLogger
	ctxLog *applog.ContextLogger
}

var _ ports.PeerNotifier = (*WebSocketServer)(nil)

type client struct {
	user    *domain.User
	conn    *websocket.Conn
	send    chan domain.Message
	limiter *rate.Limiter

	// quit asks the write pump to flush and close.
	quit     chan struct{}
	quitOnce sync.Once

	// evicted is set when a connection on another instance replaced this one.
	evicted atomic.Bool
}

func (c *client) close() {
	c.quitOnce.Do(func() { close(c.quit) })
}

func NewWebSocketServer(cfg ServerConfig, logger *zap.SugaredLogger) *WebSocketServer {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= cfg.PingInterval {
		cfg.PongTimeout = 2 * cfg.PingInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	s := &WebSocketServer{
		cfg:     cfg,
		clients: make(map[domain.UserID]*client),
		logger:  logger,
		ctxLog:  applog.NewContextLogger(logger.Desugar()),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin:     s.checkOrigin,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
	return s
}

// SetMatchmaker completes construction; the matchmaker needs the server as
// its notifier, so the two are wired in two steps.
func (s *WebSocketServer) SetMatchmaker(m Matchmaker) {
	s.matchmaker = m
}

// SetRelay enables delivery to users held by other instances. It must be
// called before the server accepts connections.
func (s *WebSocketServer) SetRelay(r Relay) {
	s.relay = r
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// HandleWebSocket must be mounted behind middleware.AuthMiddleware.
func (s *WebSocketServer) HandleWebSocket(c *gin.Context) {
	userID, ok := c.Get(middleware.ContextUserID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}
	user := &domain.User{
		ID:          userID.(domain.UserID),
		DisplayName: c.GetString(middleware.ContextDisplayName),
		IsAdmin:     c.GetBool(middleware.ContextAdmin),
	}

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Errorw("websocket upgrade failed", "user_id", user.ID, "error", err)
		return
	}

	s.serve(user, conn)
}

func (s *WebSocketServer) serve(user *domain.User, conn *websocket.Conn) {
	cl := &client{
		user: user,
		conn: conn,
		send: make(chan domain.Message, sendQueueSize),
		quit: make(chan struct{}),
	}
	if s.cfg.MessagesPerSecond > 0 {
		cl.limiter = rate.NewLimiter(rate.Limit(s.cfg.MessagesPerSecond), s.cfg.Burst)
	}

	s.mu.Lock()
	previous, isReconnect := s.clients[user.ID]
	s.clients[user.ID] = cl
	s.mu.Unlock()

	if isReconnect {
		previous.close()
		s.logger.Infow("closing old connection for reconnecting user", "user_id", user.ID)
	}
	s.logger.Infow("user connected via WebSocket", "user_id", user.ID, "reconnect", isReconnect)

	if s.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		if err := s.relay.Register(ctx, user.ID); err != nil {
			s.logger.Warnw("failed to announce user to other instances", "user_id", user.ID, "error", err)
		}
		cancel()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writePump(cl)
	}()

	s.readPump(cl)
	cl.close()
	<-done

	s.mu.Lock()
	current := s.clients[user.ID] == cl
	if current {
		delete(s.clients, user.ID)
	}
	s.mu.Unlock()

	if current && s.relay != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
		if err := s.relay.Unregister(ctx, user.ID); err != nil {
			s.logger.Warnw("failed to withdraw user from other instances", "user_id", user.ID, "error", err)
		}
		cancel()
	}

	// A replaced connection leaves queue and room state to its successor.
	if current && !cl.evicted.Load() && s.matchmaker != nil {
		if err := s.matchmaker.Disconnect(context.Background(), user.ID); err != nil {
			s.logger.Warnw("error cleaning up after disconnect", "user_id", user.ID, "error", err)
		}
	}

	s.logger.Infow("user disconnected", "user_id", user.ID)
}

func (s *WebSocketServer) readPump(cl *client) {
	conn := cl.conn
	if s.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(s.cfg.MaxMessageSize)
	}
	_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		var msg domain.Message
		if err := conn.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				s.enqueue(cl, errorMessage("malformed message"))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("error reading message from user", "user_id", cl.user.ID, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		if cl.limiter != nil && !cl.limiter.Allow() {
			s.enqueue(cl, errorMessage("rate limit exceeded"))
			continue
		}

		ctx := applog.WithValue(context.Background(), applog.UserIDKey, string(cl.user.ID))
		if msg.RoomID != "" {
			ctx = applog.WithValue(ctx, applog.RoomIDKey, string(msg.RoomID))
		}
		if err := s.handleMessage(ctx, cl.user, msg); err != nil {
			s.ctxLog.Sugar(ctx).Infow("error handling message from user",
				"type", msg.Type,
				"error", err,
			)
			// The matchmaker already pushed a banned notice.
			if !errors.Is(err, domain.ErrBanned) {
				s.enqueue(cl, errorMessage(err.Error()))
			}
		}
	}
}

// writePump owns all writes to the connection. On quit it flushes what is
// queued and sends a close frame.
func (s *WebSocketServer) writePump(cl *client) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		cl.conn.Close()
	}()

	write := func(msg domain.Message) error {
		_ = cl.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		return cl.conn.WriteJSON(msg)
	}

	for {
		select {
		case msg := <-cl.send:
			if err := write(msg); err != nil {
				s.logger.Infow("error writing to user", "user_id", cl.user.ID, "error", err)
				return
			}

		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Infow("error sending ping", "user_id", cl.user.ID, "error", err)
				return
			}

		case <-cl.quit:
			for {
				select {
				case msg := <-cl.send:
					if err := write(msg); err != nil {
						return
					}
				default:
					_ = cl.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
						time.Now().Add(s.cfg.WriteTimeout))
					return
				}
			}
		}
	}
}

func (s *WebSocketServer) handleMessage(ctx context.Context, user *domain.User, msg domain.Message) error {
	if s.matchmaker == nil {
		return errors.New("matchmaking unavailable")
	}
	if msg.Type == "" {
		return fmt.Errorf("message type is required")
	}

	ctx, span := tracing.TraceSignalMessage(ctx, string(msg.Type), string(user.ID))
	defer span.End()

	var err error
	switch msg.Type {
	case domain.MsgJoinQueue:
		err = s.matchmaker.JoinQueue(ctx, user)
	case domain.MsgLeaveQueue:
		err = s.matchmaker.LeaveQueue(ctx, user.ID)
	case domain.MsgNextMatch:
		err = s.matchmaker.NextMatch(ctx, user)
	case domain.MsgEndChat:
		err = s.matchmaker.EndChat(ctx, user.ID)
	case domain.MsgOffer, domain.MsgAnswer, domain.MsgICECandidate:
		err = s.matchmaker.Relay(ctx, user.ID, msg)
	default:
		err = fmt.Errorf("unknown message type: %s", msg.Type)
	}
	if err != nil {
		tracing.RecordError(ctx, err)
	}
	return err
}

// Notify queues msg for user, forwarding through the relay when the user is
// connected elsewhere. A user whose queue is full is disconnected rather
// than letting one slow reader stall the matchmaker.
func (s *WebSocketServer) Notify(ctx context.Context, user domain.UserID, msg domain.Message) error {
	err := s.DeliverLocal(user, msg)
	if !errors.Is(err, ErrNotConnected) || s.relay == nil {
		return err
	}
	if err := s.relay.Forward(ctx, user, msg); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNotConnected, user, err)
	}
	return nil
}

// DeliverLocal queues msg only if user is connected to this instance.
func (s *WebSocketServer) DeliverLocal(user domain.UserID, msg domain.Message) error {
	s.mu.RLock()
	cl, ok := s.clients[user]
	s.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotConnected, user)
	}
	if !s.enqueue(cl, msg) {
		return fmt.Errorf("send queue full for user %s", user)
	}
	return nil
}

// Kick flushes pending messages to user and closes the connection, on
// whichever instance holds it.
func (s *WebSocketServer) Kick(user domain.UserID) bool {
	if s.KickLocal(user) {
		return true
	}
	if s.relay == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	ok, err := s.relay.ForwardKick(ctx, user)
	if err != nil {
		s.logger.Warnw("failed to forward kick", "user_id", user, "error", err)
	}
	return ok
}

func (s *WebSocketServer) KickLocal(user domain.UserID) bool {
	s.mu.RLock()
	cl, ok := s.clients[user]
	s.mu.RUnlock()

	if ok {
		cl.close()
	}
	return ok
}

// EvictLocal closes user's connection without the disconnect cleanup, since
// the user is now served by another instance.
func (s *WebSocketServer) EvictLocal(user domain.UserID) {
	s.mu.RLock()
	cl, ok := s.clients[user]
	s.mu.RUnlock()

	if ok {
		cl.evicted.Store(true)
		cl.close()
		s.logger.Infow("connection evicted by another instance", "user_id", user)
	}
}

func (s *WebSocketServer) ConnectedUsers() []domain.UserID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]domain.UserID, 0, len(s.clients))
	for id := range s.clients {
		users = append(users, id)
	}
	return users
}

func (s *WebSocketServer) enqueue(cl *client, msg domain.Message) bool {
	select {
	case <-cl.quit:
		return false
	default:
	}

	select {
	case cl.send <- msg:
		return true
	default:
		s.logger.Warnw("send queue full, closing connection", "user_id", cl.user.ID)
		cl.close()
		return false
	}
}

func errorMessage(text string) domain.Message {
	msg, _ := domain.NewMessage(domain.MsgError, "", domain.ErrorPayload{Message: text})
	return msg
}

func (s *WebSocketServer) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *WebSocketServer) IsConnected(user domain.UserID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.clients[user]
	return ok
}

// Shutdown closes every connection.
func (s *WebSocketServer) Shutdown() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cl := range s.clients {
		cl.close()
	}
}
