package signaling

import (
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/todorgrigorov/baby-cam/internal/metrics"
	"github.com/todorgrigorov/baby-cam/internal/origin"
	"github.com/todorgrigorov/baby-cam/internal/ratelimit"
)

const wsWriteWait = 1 * time.Second

const (
	defaultMaxMessageBytes      = int64(64 * 1024)
	defaultMaxMessagesPerSecond = 50
	defaultSendQueueBytes       = 1 << 20
)

// WebSocketConfig configures the signaling WebSocket endpoint.
type WebSocketConfig struct {
	Hub    *Hub
	Logger *slog.Logger

	// AllowedOrigins is the browser Origin allowlist. Empty means same-host
	// only; "*" allows any origin.
	AllowedOrigins []string

	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// SendQueueBytes bounds the frames buffered for one slow client. Frames
	// that do not fit are dropped.
	SendQueueBytes int
}

// WebSocketServer accepts signaling connections and feeds them to a Hub.
// Each connection gets one reader goroutine (this handler) and one writer
// goroutine draining its send queue.
type WebSocketServer struct {
	hub *Hub
	log *slog.Logger

	allowedOrigins       []string
	maxMessageBytes      int64
	maxMessagesPerSecond int
	sendQueueBytes       int

	upgrader websocket.Upgrader
}

func NewWebSocketServer(cfg WebSocketConfig) *WebSocketServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &WebSocketServer{
		hub:                  cfg.Hub,
		log:                  logger,
		allowedOrigins:       cfg.AllowedOrigins,
		maxMessageBytes:      cfg.MaxMessageBytes,
		maxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		sendQueueBytes:       cfg.SendQueueBytes,
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = defaultMaxMessageBytes
	}
	if s.maxMessagesPerSecond <= 0 {
		s.maxMessagesPerSecond = defaultMaxMessagesPerSecond
	}
	if s.sendQueueBytes <= 0 {
		s.sendQueueBytes = defaultSendQueueBytes
	}
	s.upgrader.CheckOrigin = s.checkOrigin
	return s
}

func (s *WebSocketServer) checkOrigin(r *http.Request) bool {
	originHeader := strings.TrimSpace(r.Header.Get("Origin"))
	if originHeader == "" {
		return true
	}

	normalizedOrigin, originHost, ok := origin.NormalizeHeader(originHeader)
	if !ok {
		return false
	}
	return origin.IsAllowed(normalizedOrigin, originHost, r.Host, s.allowedOrigins)
}

// Fallback serves WebSocket upgrade requests itself and hands every other
// request to next. It lets signaling share a path with static files.
func (s *WebSocketServer) Fallback(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if websocket.IsWebSocketUpgrade(r) {
			s.ServeHTTP(w, r)
			return
		}
		if next == nil {
			http.NotFound(w, r)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *WebSocketServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "remote_addr", r.RemoteAddr, "err", err)
		return
	}

	tr := newWSTransport(conn, s.sendQueueBytes)
	go tr.writeLoop()

	ep := s.hub.Connect(tr)
	if ep == nil {
		return
	}
	defer s.hub.Disconnect(ep)

	s.log.Debug("websocket opened", "endpoint_id", ep.ID(), "remote_addr", r.RemoteAddr)

	conn.SetReadLimit(s.maxMessageBytes)
	limiter := ratelimit.NewTokenBucket(
		ratelimit.RealClock{},
		int64(s.maxMessagesPerSecond),
		int64(s.maxMessagesPerSecond),
	)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if tr.Open() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.log.Debug("websocket read failed", "endpoint_id", ep.ID(), "err", err)
			}
			return
		}
		if !limiter.Allow(1) {
			ep.Touch(s.hub.now())
			s.hub.metrics.Inc(metrics.DropReasonRateLimited)
			continue
		}
		s.hub.HandleMessage(ep, data)
	}
}

// wsTransport adapts a gorilla connection to Transport. Send only enqueues;
// writeLoop is the connection's single writer.
type wsTransport struct {
	conn  *websocket.Conn
	queue *sendQueue

	closed    atomic.Bool
	closeOnce sync.Once
}

func newWSTransport(conn *websocket.Conn, queueBytes int) *wsTransport {
	return &wsTransport{
		conn:  conn,
		queue: newSendQueue(queueBytes),
	}
}

func (t *wsTransport) Send(data []byte) error {
	if t.closed.Load() {
		return ErrTransportClosed
	}
	return t.queue.Enqueue(data)
}

func (t *wsTransport) Open() bool {
	return !t.closed.Load()
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.queue.Close()
		_ = t.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
		err = t.conn.Close()
	})
	return err
}

func (t *wsTransport) writeLoop() {
	for {
		frame, ok := t.queue.Dequeue()
		if !ok {
			return
		}
		_ = t.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := t.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			_ = t.Close()
			return
		}
	}
}
