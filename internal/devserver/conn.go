package devserver

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/avianjay/explore/internal/protocol"
)

const (
	connWriteWait  = 5 * time.Second
	connReadLimit  = 1 << 20
	connSendBuffer = 64
)

// clientConn wraps one accepted socket. Outbound frames go through a buffered
// queue drained by a dedicated writer; a full queue drops frames so one slow
// client never stalls a room broadcast.
type clientConn struct {
	ws     *websocket.Conn
	user   *User
	logger *zap.Logger

	// roomID is the currently joined room, "" when in none. Guarded by the
	// hub lock, like all room state.
	roomID string

	outbound chan []byte
}

func newClientConn(ws *websocket.Conn, user *User, logger *zap.Logger) *clientConn {
	return &clientConn{
		ws:       ws,
		user:     user,
		logger:   logger,
		outbound: make(chan []byte, connSendBuffer),
	}
}

func (c *clientConn) send(event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		c.logger.Error("encoding event", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case c.outbound <- frame:
	default:
		c.logger.Warn("send queue full, dropping frame",
			zap.String("event", event),
			zap.String("user_id", c.user.ID),
		)
	}
}

func (c *clientConn) writePump() {
	defer c.ws.Close()
	for frame := range c.outbound {
		_ = c.ws.SetWriteDeadline(time.Now().Add(connWriteWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
			return
		}
	}
}

// readPump decodes inbound frames and dispatches them into the hub one at a
// time. Malformed frames are dropped; the pump exits on transport error and
// tears the membership down.
func (c *clientConn) readPump(h *Hub) {
	defer func() {
		h.Disconnect(c)
		close(c.outbound)
	}()
	c.ws.SetReadLimit(connReadLimit)

	for {
		_, frame, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		env, err := protocol.DecodeEnvelope(frame)
		if err != nil {
			c.logger.Debug("dropping malformed frame", zap.Error(err))
			continue
		}
		c.handle(h, env)
	}
}

func (c *clientConn) handle(h *Hub, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventJoin:
		var p protocol.JoinPayload
		if decodeInto(env, &p) && p.GuildID != "" {
			h.Join(c, p.GuildID)
		}
	case protocol.EventLeave:
		var p protocol.LeavePayload
		if decodeInto(env, &p) {
			h.Leave(c, p.GuildID)
		}
	case protocol.EventMove:
		var p protocol.MovePayload
		if decodeInto(env, &p) {
			h.Move(c, p)
		}
	case protocol.EventSkinChange:
		var p protocol.SkinChangePayload
		if decodeInto(env, &p) {
			h.SkinChange(c, p)
		}
	case protocol.EventEditMap:
		var p protocol.EditMapPayload
		if decodeInto(env, &p) {
			h.EditMap(c, p)
		}
	default:
		c.logger.Debug("ignoring unknown event", zap.String("event", env.Event))
	}
}

func decodeInto(env protocol.Envelope, out any) bool {
	return json.Unmarshal(env.Data, out) == nil
}
