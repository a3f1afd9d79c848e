// Package client owns the realtime socket lifecycle: connecting with a
// session token, joining and leaving rooms, publishing fire-and-forget
// events, and dispatching inbound server events in arrival order.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/avianjay/explore/internal/config"
	"github.com/avianjay/explore/internal/protocol"
)

// ErrNoToken is returned by Connect when the session carries no bearer
// token. The caller must re-acquire a token before retrying.
var ErrNoToken = errors.New("session has no auth token")

const (
	writeWait  = 5 * time.Second
	sendBuffer = 64
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateJoining
	StateInRoom
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateJoining:
		return "joining"
	case StateInRoom:
		return "in_room"
	}
	return "unknown"
}

// TokenSource supplies the bearer token used to authenticate the transport.
type TokenSource interface {
	Token() string
}

// EventHandler receives every inbound server event. Events are handed over
// synchronously from the single read loop, one at a time, preserving the
// transport's per-room ordering; handlers must not block on further network
// I/O.
type EventHandler interface {
	HandleJoined(protocol.JoinedPayload)
	HandleRoomState(protocol.RoomStatePayload)
	HandleUserJoined(protocol.Player)
	HandleUserLeft(protocol.UserLeftPayload)
	HandleUserMoved(protocol.UserMovedPayload)
	HandleSkinChanged(protocol.SkinChangedPayload)
	HandleMapEdited(protocol.MapEditedPayload)
	HandleServerError(protocol.ErrorPayload)
	HandleDisconnected(err error)
	HandleReconnected()
}

// Manager owns one websocket connection to the Explore backend. Outbound
// events are queued and written by a dedicated writer; when the queue is
// full, events are dropped rather than blocking the caller. On transport
// loss the manager reconnects with capped exponential backoff and re-issues
// the join for the last known room, relying on the pushed room_state
// snapshot for state convergence.
type Manager struct {
	socketURL string
	tokens    TokenSource
	reconnect config.ReconnectConfig
	dialer    *websocket.Dialer
	logger    *zap.Logger

	send chan []byte

	mu       sync.Mutex
	handler  EventHandler
	state    State
	ws       *websocket.Conn
	lastRoom string
	closed   bool
}

// NewManager creates a Manager that will dial socketURL. handler may be nil
// at construction when the handler itself needs the manager; it must be set
// with SetHandler before Connect.
//
// Precondition: tokens and logger must be non-nil.
func NewManager(socketURL string, tokens TokenSource, handler EventHandler, rc config.ReconnectConfig, logger *zap.Logger) *Manager {
	return &Manager{
		socketURL: socketURL,
		tokens:    tokens,
		handler:   handler,
		reconnect: rc,
		dialer:    websocket.DefaultDialer,
		logger:    logger,
		send:      make(chan []byte, sendBuffer),
	}
}

// SetHandler installs the event handler.
//
// Precondition: Must be called before Connect.
func (m *Manager) SetHandler(h EventHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
}

func (m *Manager) currentHandler() EventHandler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

// Connect opens the transport, authenticated by the session's bearer token.
//
// Postcondition: On success the read and write loops are running and the
// state is Connected. Returns ErrNoToken when no token is available; the
// caller must not retry without re-acquiring one.
func (m *Manager) Connect(ctx context.Context) error {
	token := m.tokens.Token()
	if token == "" {
		return ErrNoToken
	}

	m.setState(StateConnecting)
	ws, err := m.dial(ctx, token)
	if err != nil {
		m.setState(StateDisconnected)
		return fmt.Errorf("connecting to %s: %w", m.socketURL, err)
	}

	m.startPumps(ws)
	m.setState(StateConnected)
	m.logger.Info("socket connected", zap.String("url", m.socketURL))
	return nil
}

func (m *Manager) dial(ctx context.Context, token string) (*websocket.Conn, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	ws, _, err := m.dialer.DialContext(ctx, m.socketURL, header)
	return ws, err
}

func (m *Manager) startPumps(ws *websocket.Conn) {
	m.mu.Lock()
	m.ws = ws
	m.mu.Unlock()

	connDone := make(chan struct{})
	go m.writeLoop(ws, connDone)
	go m.readLoop(ws, connDone)
}

// Close shuts the connection down for good; no reconnection is attempted.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	ws := m.ws
	m.state = StateDisconnected
	m.mu.Unlock()

	if ws != nil {
		_ = ws.Close()
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Join requests membership in roomID. Only one room may be joined at a time;
// joining a new room supersedes the previous join, and the caller is
// responsible for issuing Leave for the old room first.
func (m *Manager) Join(roomID string) {
	m.mu.Lock()
	m.lastRoom = roomID
	if m.state == StateConnected || m.state == StateInRoom {
		m.state = StateJoining
	}
	m.mu.Unlock()

	m.enqueue(protocol.EventJoin, protocol.JoinPayload{GuildID: roomID})
}

// Leave notifies the server the client is leaving roomID. Best effort; local
// state may be dropped before the server acknowledges anything.
func (m *Manager) Leave(roomID string) {
	m.enqueue(protocol.EventLeave, protocol.LeavePayload{GuildID: roomID})
}

// SendMove publishes one local step. Fire-and-forget, never acknowledged.
func (m *Manager) SendMove(dir protocol.Direction, x, y int, moveSpeed float64, moveFrequency int) {
	m.enqueue(protocol.EventMove, protocol.MovePayload{
		GuildID:       m.currentRoom(),
		Direction:     dir,
		X:             x,
		Y:             y,
		MoveSpeed:     moveSpeed,
		MoveFrequency: moveFrequency,
	})
}

// SendSkinChange announces the local player's new skin to the room.
func (m *Manager) SendSkinChange(skinID string) {
	m.enqueue(protocol.EventSkinChange, protocol.SkinChangePayload{
		GuildID: m.currentRoom(),
		SkinID:  skinID,
	})
}

// SendTileEdit publishes one local tile edit to the room.
func (m *Manager) SendTileEdit(x, y, z, tileID int) {
	m.enqueue(protocol.EventEditMap, protocol.EditMapPayload{
		GuildID: m.currentRoom(),
		X:       x,
		Y:       y,
		Z:       z,
		TileID:  tileID,
	})
}

func (m *Manager) currentRoom() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastRoom
}

func (m *Manager) enqueue(event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		m.logger.Error("encoding outbound event", zap.String("event", event), zap.Error(err))
		return
	}
	select {
	case m.send <- frame:
	default:
		// Dropping beats blocking the game loop behind a slow socket.
		m.logger.Warn("outbound queue full, dropping event", zap.String("event", event))
	}
}

func (m *Manager) writeLoop(ws *websocket.Conn, connDone <-chan struct{}) {
	for {
		select {
		case frame := <-m.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				m.logger.Debug("socket write failed", zap.Error(err))
				return
			}
		case <-connDone:
			return
		}
	}
}

func (m *Manager) readLoop(ws *websocket.Conn, connDone chan<- struct{}) {
	defer close(connDone)
	defer ws.Close()

	for {
		_, frame, err := ws.ReadMessage()
		if err != nil {
			m.onTransportLoss(err)
			return
		}
		m.dispatch(frame)
	}
}

func (m *Manager) onTransportLoss(err error) {
	m.mu.Lock()
	closed := m.closed
	m.state = StateDisconnected
	m.mu.Unlock()

	if closed {
		return
	}
	m.currentHandler().HandleDisconnected(err)
	go m.reconnectLoop()
}

// reconnectLoop redials with capped exponential backoff, then re-issues the
// join for the last known room. Registry state from before the drop is
// reconciled by the fresh room_state snapshot, not trusted to have survived.
func (m *Manager) reconnectLoop() {
	backoff := m.reconnect.InitialBackoff
	attempts := 0

	for {
		m.mu.Lock()
		closed := m.closed
		room := m.lastRoom
		m.mu.Unlock()
		if closed {
			return
		}

		attempts++
		if m.reconnect.MaxAttempts > 0 && attempts > m.reconnect.MaxAttempts {
			m.logger.Error("giving up on reconnection",
				zap.Int("attempts", attempts-1),
			)
			return
		}

		time.Sleep(backoff)
		if backoff *= 2; backoff > m.reconnect.MaxBackoff {
			backoff = m.reconnect.MaxBackoff
		}

		token := m.tokens.Token()
		if token == "" {
			m.logger.Error("cannot reconnect without a token")
			return
		}

		m.setState(StateConnecting)
		ws, err := m.dial(context.Background(), token)
		if err != nil {
			m.setState(StateDisconnected)
			m.logger.Warn("reconnect attempt failed",
				zap.Int("attempt", attempts),
				zap.Error(err),
			)
			continue
		}

		m.startPumps(ws)
		m.setState(StateConnected)
		m.logger.Info("socket reconnected", zap.Int("attempts", attempts))
		if room != "" {
			m.Join(room)
		}
		m.currentHandler().HandleReconnected()
		return
	}
}

// dispatch decodes one inbound frame and hands it to the handler. Malformed
// events are logged and dropped; they must never take the connection down.
func (m *Manager) dispatch(frame []byte) {
	env, err := protocol.DecodeEnvelope(frame)
	if err != nil {
		m.logger.Warn("dropping malformed frame", zap.Error(err))
		return
	}
	handler := m.currentHandler()

	switch env.Event {
	case protocol.EventJoined:
		p, err := protocol.DecodeJoined(env.Data)
		if err != nil {
			m.dropEvent(env.Event, err)
			return
		}
		m.setState(StateInRoom)
		handler.HandleJoined(p)

	case protocol.EventRoomState:
		p, err := protocol.DecodeRoomState(env.Data)
		if err != nil {
			m.dropEvent(env.Event, err)
			return
		}
		handler.HandleRoomState(p)

	case protocol.EventUserJoined:
		p, err := protocol.DecodePlayer(env.Data)
		if err != nil {
			m.dropEvent(env.Event, err)
			return
		}
		handler.HandleUserJoined(p)

	case protocol.EventUserLeft:
		p, err := protocol.DecodeUserLeft(env.Data)
		if err != nil {
			m.dropEvent(env.Event, err)
			return
		}
		handler.HandleUserLeft(p)

	case protocol.EventUserMoved:
		p, err := protocol.DecodeUserMoved(env.Data)
		if err != nil {
			m.dropEvent(env.Event, err)
			return
		}
		handler.HandleUserMoved(p)

	case protocol.EventSkinChanged:
		p, err := protocol.DecodeSkinChanged(env.Data)
		if err != nil {
			m.dropEvent(env.Event, err)
			return
		}
		handler.HandleSkinChanged(p)

	case protocol.EventMapEdited:
		p, err := protocol.DecodeMapEdited(env.Data)
		if err != nil {
			m.dropEvent(env.Event, err)
			return
		}
		handler.HandleMapEdited(p)

	case protocol.EventError:
		p, err := protocol.DecodeError(env.Data)
		if err != nil {
			m.dropEvent(env.Event, err)
			return
		}
		handler.HandleServerError(p)

	default:
		m.logger.Debug("ignoring unknown event", zap.String("event", env.Event))
	}
}

func (m *Manager) dropEvent(event string, err error) {
	m.logger.Warn("dropping malformed event",
		zap.String("event", event),
		zap.Error(err),
	)
}
