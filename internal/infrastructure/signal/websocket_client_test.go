package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"fluxx/internal/core/domain"
	"fluxx/pkg/retry"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingHandler struct {
	mu       sync.Mutex
	messages []domain.Message
	statuses []bool
}

func (h *recordingHandler) HandleSignal(msg domain.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.messages = append(h.messages, msg)
}

func (h *recordingHandler) HandleTransportStatus(connected bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statuses = append(h.statuses, connected)
}

func (h *recordingHandler) snapshot() ([]domain.Message, []bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.Message(nil), h.messages...), append([]bool(nil), h.statuses...)
}

// echoServer accepts the token "good", echoes every message back and exposes
// the live connections so tests can drop them.
type echoServer struct {
	srv   *httptest.Server
	mu    sync.Mutex
	conns []*websocket.Conn
}

func newEchoServer(t *testing.T) *echoServer {
	t.Helper()
	es := &echoServer{}
	upgrader := websocket.Upgrader{}

	es.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "good" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		es.mu.Lock()
		es.conns = append(es.conns, conn)
		es.mu.Unlock()

		for {
			mt, data, err := conn.ReadMessage()
			if err != nil {
				conn.Close()
				return
			}
			if err := conn.WriteMessage(mt, data); err != nil {
				return
			}
		}
	}))
	t.Cleanup(es.srv.Close)
	return es
}

func (es *echoServer) url() string {
	return "ws" + strings.TrimPrefix(es.srv.URL, "http")
}

func (es *echoServer) dropAll() {
	es.mu.Lock()
	defer es.mu.Unlock()
	for _, c := range es.conns {
		c.Close()
	}
	es.conns = nil
}

func (es *echoServer) connections() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return len(es.conns)
}

func testClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:          url,
		WriteTimeout: time.Second,
		PongTimeout:  5 * time.Second,
		Reconnect: retry.Config{
			MaxAttempts:  5,
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     50 * time.Millisecond,
			Multiplier:   2,
		},
	}
}

func runClient(t *testing.T, c *Client) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()
	t.Cleanup(cancel)
	return cancel, done
}

func TestTokenStore(t *testing.T) {
	s := NewTokenStore("abc")
	assert.Equal(t, "abc", s.Token())
	s.Set("def")
	assert.Equal(t, "def", s.Token())
	s.Clear()
	assert.Empty(t, s.Token())
}

func TestClient_SendBeforeConnect(t *testing.T) {
	c := NewClient(testClientConfig("ws://127.0.0.1:1"), NewTokenStore("good"), zap.NewNop().Sugar())
	err := c.Send(context.Background(), domain.Message{Type: domain.MsgJoinQueue})
	assert.ErrorIs(t, err, domain.ErrTransport)
	assert.NoError(t, c.Close())
}

func TestClient_RoundTrip(t *testing.T) {
	es := newEchoServer(t)
	h := &recordingHandler{}
	c := NewClient(testClientConfig(es.url()), NewTokenStore("good"), zap.NewNop().Sugar())
	c.SetHandler(h)

	cancel, done := runClient(t, c)
	require.Eventually(t, c.Connected, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, c.Send(context.Background(), domain.Message{Type: domain.MsgJoinQueue}))
	require.Eventually(t, func() bool {
		msgs, _ := h.snapshot()
		return len(msgs) == 1
	}, 2*time.Second, 5*time.Millisecond)

	msgs, statuses := h.snapshot()
	assert.Equal(t, domain.MsgJoinQueue, msgs[0].Type)
	assert.Equal(t, []bool{true}, statuses)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	_, statuses = h.snapshot()
	assert.Equal(t, []bool{true, false}, statuses)
}

func TestClient_ReconnectsAfterDrop(t *testing.T) {
	es := newEchoServer(t)
	h := &recordingHandler{}
	c := NewClient(testClientConfig(es.url()), NewTokenStore("good"), zap.NewNop().Sugar())
	c.SetHandler(h)
	runClient(t, c)

	require.Eventually(t, func() bool { return es.connections() == 1 }, 2*time.Second, 5*time.Millisecond)
	es.dropAll()

	require.Eventually(t, func() bool {
		_, statuses := h.snapshot()
		return len(statuses) == 3
	}, 2*time.Second, 5*time.Millisecond)
	_, statuses := h.snapshot()
	assert.Equal(t, []bool{true, false, true}, statuses)
	assert.Eventually(t, c.Connected, time.Second, 5*time.Millisecond)
}

func TestClient_StopsWhenCredentialsCleared(t *testing.T) {
	es := newEchoServer(t)
	h := &recordingHandler{}
	creds := NewTokenStore("good")
	c := NewClient(testClientConfig(es.url()), creds, zap.NewNop().Sugar())
	c.SetHandler(h)
	_, done := runClient(t, c)

	require.Eventually(t, func() bool { return es.connections() == 1 }, 2*time.Second, 5*time.Millisecond)
	creds.Clear()
	es.dropAll()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run kept reconnecting without credentials")
	}
	assert.False(t, c.Connected())
}

func TestClient_RejectedTokenIsNotRetried(t *testing.T) {
	es := newEchoServer(t)
	h := &recordingHandler{}
	c := NewClient(testClientConfig(es.url()), NewTokenStore("bad"), zap.NewNop().Sugar())
	c.SetHandler(h)

	err := c.Run(context.Background())
	assert.ErrorIs(t, err, ErrRejected)
	_, statuses := h.snapshot()
	assert.Empty(t, statuses)
}

func TestClient_NoCredentials(t *testing.T) {
	c := NewClient(testClientConfig("ws://127.0.0.1:1"), NewTokenStore(""), zap.NewNop().Sugar())
	c.SetHandler(&recordingHandler{})
	assert.ErrorIs(t, c.Run(context.Background()), ErrNoCredentials)
}
