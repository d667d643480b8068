// Package signal is the websocket signaling dispatcher: it parses inbound
// browser messages and resolves them to registry/room operations.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Czou/kmf-tutorial/internal/config"
	"github.com/Czou/kmf-tutorial/internal/core"
	"github.com/Czou/kmf-tutorial/internal/room"
)

var (
	ErrBackpressure = errors.New("backpressure")
	errConnClosed   = errors.New("connection closed")
)

type Controller struct {
	Registry *room.Registry
	Rooms    *room.Manager
	Cfg      *config.Config
}

func NewController(registry *room.Registry, rooms *room.Manager, cfg *config.Config) *Controller {
	return &Controller{
		Registry: registry,
		Rooms:    rooms,
		Cfg:      cfg,
	}
}

// wsConn adapts one gorilla websocket to core.SignalConnection. Writes go
// through a buffered channel drained by writePump.
type wsConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleGroupCall upgrades the connection and serves it until the socket
// dies. Socket death drives the same cleanup as an explicit leaveRoom.
func (ctl *Controller) HandleGroupCall(ctx context.Context, c *gin.Context) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new signaling connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	ws.SetReadLimit(ctl.Cfg.ReadLimit)

	conn := &wsConn{
		conn: ws,
		send: make(chan core.Frame, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go ctl.writePump(ctx, conn)
	ctl.readPump(ctx, sid, conn)

	// Reader is gone: tear the participant down as if it left.
	ctl.leave(ctx, sid)
	conn.Close()
}
