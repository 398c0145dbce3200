package webserver

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4 * 1024
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		CheckOrigin:      s.checkOrigin,
	}
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || allowAll(s.opts.AllowOrigins) {
		return true
	}
	u, err := url.Parse(origin)
	if err == nil && u.Host == r.Host {
		return true
	}
	for _, o := range s.opts.AllowOrigins {
		if o == origin {
			return true
		}
	}
	return false
}

// subscribe upgrades the request and registers the connection with the hub.
// The client only ever receives; anything it sends is discarded.
func (s *Server) subscribe(c *gin.Context) {
	log := zap.L().Named("webserver")
	ws, err := s.upgrader().Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Debug("failed to upgrade connection", zap.Error(err))
		return
	}

	conn := newWSConn(ws)
	id, err := s.hub.Register(c.Request.Context(), conn)
	if err != nil {
		log.Warn("subscriber rejected", zap.Error(err))
		return
	}
	log.Info("new client",
		zap.String("subscriber", id),
		zap.String("remote", c.ClientIP()),
		zap.String("origin", c.GetHeader("Origin")),
		zap.String("agent", c.Request.UserAgent()),
	)

	go conn.pingLoop()
	conn.readLoop()
	s.hub.Unregister(id)
}

// wsConn adapts a gorilla connection to hub.Conn.
type wsConn struct {
	ws   *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

func newWSConn(ws *websocket.Conn) *wsConn {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	return &wsConn{ws: ws, done: make(chan struct{})}
}

func (c *wsConn) WriteMessage(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if deadline, ok := ctx.Deadline(); ok {
		_ = c.ws.SetWriteDeadline(deadline)
	}
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) readLoop() {
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				zap.L().Named("webserver").Debug("websocket read", zap.Error(err))
			}
			return
		}
	}
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
