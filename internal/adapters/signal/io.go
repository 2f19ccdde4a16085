package signal

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Huddle/internal/domain"
)

func (ctl *Controller) writePump(ctx context.Context, c *wsConn) {
	ping := time.NewTicker(ctl.pingPeriod())
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			return
		case <-ping.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				log.Debug().Err(err).Str("module", "signal").Msg("writePump ping")
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				return
			}
		}
	}
}

func (ctl *Controller) pingPeriod() time.Duration {
	if ctl.PingPeriod > 0 {
		return ctl.PingPeriod
	}
	return 54 * time.Second
}

// readLoop is the single ordered message loop for one transport. Whatever
// ends it — close, error, cancellation — the teardown runs once: recorder
// Stop, then hub Disconnect.
func (ctl *Controller) readLoop(ctx context.Context, cancel context.CancelFunc, roomID domain.RoomID, participantID domain.ParticipantID, c *wsConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("room", string(roomID)).
			Str("user", string(participantID)).Msg("signaling loop closing")
		cancel()
		ctl.Recorder.Stop(roomID, participantID)
		ctl.Hub.Disconnect(context.Background(), c)
		c.Close(websocket.CloseNormalClosure, "")
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.conn.ReadMessage()
			if err != nil {
				log.Debug().Err(err).Str("module", "signal").Str("user", string(participantID)).Msg("read error")
				return
			}
			ctl.Dispatch(ctx, roomID, participantID, c, data)
		}
	}
}

// Dispatch classifies one inbound envelope and routes it to the hub or the
// recorder. Malformed payloads get an error reply to the sender only; the
// loop keeps running.
func (ctl *Controller) Dispatch(ctx context.Context, roomID domain.RoomID, from domain.ParticipantID, c Sender, data []byte) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(from)).Msg("bad json")
		ctl.sendError(c, "Invalid JSON format")
		return
	}

	switch env.Type {
	case "webrtc-offer", "webrtc-answer", "ice-candidate",
		"screen-share-offer", "screen-share-answer", "screen-share-ice-candidate":
		ctl.relayToPeer(roomID, from, data)
	case "media-toggle":
		ctl.handleMediaToggle(ctx, roomID, from, c, data)
	case "screen-share-started":
		ctl.Hub.BroadcastToRoom(ctl.screenShareChanged(from, true), roomID, from)
	case "screen-share-stopped":
		ctl.Hub.BroadcastToRoom(ctl.screenShareChanged(from, false), roomID, from)
	case "recorder-offer":
		ctl.handleRecorderOffer(roomID, from, c, data)
	case "recorder-ice-candidate":
		ctl.handleRecorderCandidate(roomID, from, c, data)
	case "recorder-stop":
		ctl.handleRecorderStop(roomID, from, c)
	default:
		// Forward-compatible: unknown kinds fan out to the room with the
		// sender attached.
		ctl.broadcastRaw(roomID, from, data)
	}
}

func (ctl *Controller) sendJSON(c Sender, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.Send(b); err != nil {
		log.Debug().Err(err).Str("module", "signal").Msg("sendJSON send")
	}
}

func (ctl *Controller) sendError(c Sender, message string) {
	ctl.sendJSON(c, struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	}{
		Type:    "error",
		Message: message,
	})
}
