// Package signal runs the per-connection signaling loop: one websocket per
// participant, classified inbound envelopes, routing through the hub or the
// recorder.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
	"github.com/dkeye/Huddle/internal/hub"
	"github.com/dkeye/Huddle/internal/recorder"
	"github.com/dkeye/Huddle/internal/registry"
)

var ErrBackpressure = errors.New("backpressure")

// Sender is the reply half of a transport; Dispatch and its handlers only
// ever send back.
type Sender interface {
	Send(data []byte) error
}

type Controller struct {
	Store      registry.Store
	Hub        *hub.Hub
	Recorder   *recorder.Manager
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewController(store registry.Store, h *hub.Hub, rec *recorder.Manager, readLimit int64, pingPeriod time.Duration) *Controller {
	return &Controller{
		Store:      store,
		Hub:        h,
		Recorder:   rec,
		ReadLimit:  readLimit,
		PingPeriod: pingPeriod,
	}
}

// wsConn is the hub.Conn implementation over gorilla. Sends go through a
// buffered channel so a slow receiver surfaces as ErrBackpressure instead
// of blocking the sender's loop.
type wsConn struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.RWMutex
	closed bool
}

func (c *wsConn) Send(data []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errors.New("connection closed")
	}
	select {
	case c.send <- data:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *wsConn) Close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	deadline := time.Now().Add(time.Second)
	if err := c.conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("write close frame")
	}
	_ = c.conn.Close()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and runs the dispatcher loop until the
// transport goes away. Teardown always stops the participant's recording
// session first and then the hub membership, exactly once.
func (ctl *Controller) HandleSignal(ctx context.Context, c *gin.Context) {
	roomID := domain.RoomID(c.Param("room"))
	participantID := domain.ParticipantID(c.Param("user"))

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &wsConn{
		conn: ws,
		send: make(chan []byte, 32),
	}

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, conn)

	displayName, ok := ctl.lookupDisplayName(ctx, roomID, participantID)
	if !ok {
		cancel()
		conn.Close(hub.CloseCodeRejected, "User not found in room")
		return
	}

	if _, err := ctl.Hub.Connect(ctx, conn, roomID, participantID, displayName); err != nil {
		cancel()
		return
	}

	log.Info().Str("module", "signal").Str("room", string(roomID)).
		Str("user", string(participantID)).Msg("signaling loop started")
	ctl.readLoop(ctx, cancel, roomID, participantID, conn)
}

func (ctl *Controller) lookupDisplayName(ctx context.Context, roomID domain.RoomID, participantID domain.ParticipantID) (string, bool) {
	participants, err := ctl.Store.ListParticipants(ctx, roomID)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("room", string(roomID)).Msg("list participants")
		return "", false
	}
	for _, p := range participants {
		if p.ID == participantID {
			return p.DisplayName, true
		}
	}
	return "", false
}
