package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avianjay/explore/internal/config"
	"github.com/avianjay/explore/internal/protocol"
)

type staticToken string

func (t staticToken) Token() string { return string(t) }

// recordingHandler funnels every dispatched event onto a channel so tests can
// wait for asynchronous delivery.
type recordingHandler struct {
	joined       chan protocol.JoinedPayload
	roomState    chan protocol.RoomStatePayload
	userJoined   chan protocol.Player
	userLeft     chan protocol.UserLeftPayload
	userMoved    chan protocol.UserMovedPayload
	skinChanged  chan protocol.SkinChangedPayload
	mapEdited    chan protocol.MapEditedPayload
	serverErrs   chan protocol.ErrorPayload
	disconnected chan error
	reconnected  chan struct{}
}

func newRecordingHandler() *recordingHandler {
	return &recordingHandler{
		joined:       make(chan protocol.JoinedPayload, 8),
		roomState:    make(chan protocol.RoomStatePayload, 8),
		userJoined:   make(chan protocol.Player, 8),
		userLeft:     make(chan protocol.UserLeftPayload, 8),
		userMoved:    make(chan protocol.UserMovedPayload, 8),
		skinChanged:  make(chan protocol.SkinChangedPayload, 8),
		mapEdited:    make(chan protocol.MapEditedPayload, 8),
		serverErrs:   make(chan protocol.ErrorPayload, 8),
		disconnected: make(chan error, 8),
		reconnected:  make(chan struct{}, 8),
	}
}

func (h *recordingHandler) HandleJoined(p protocol.JoinedPayload)         { h.joined <- p }
func (h *recordingHandler) HandleRoomState(p protocol.RoomStatePayload)   { h.roomState <- p }
func (h *recordingHandler) HandleUserJoined(p protocol.Player)            { h.userJoined <- p }
func (h *recordingHandler) HandleUserLeft(p protocol.UserLeftPayload)     { h.userLeft <- p }
func (h *recordingHandler) HandleUserMoved(p protocol.UserMovedPayload)   { h.userMoved <- p }
func (h *recordingHandler) HandleSkinChanged(p protocol.SkinChangedPayload) {
	h.skinChanged <- p
}
func (h *recordingHandler) HandleMapEdited(p protocol.MapEditedPayload) { h.mapEdited <- p }
func (h *recordingHandler) HandleServerError(p protocol.ErrorPayload)   { h.serverErrs <- p }
func (h *recordingHandler) HandleDisconnected(err error)                { h.disconnected <- err }
func (h *recordingHandler) HandleReconnected()                          { h.reconnected <- struct{}{} }

var upgrader = websocket.Upgrader{}

// echoServer upgrades each request, records the bearer token, and exposes
// inbound frames plus a way to push frames down to the client.
type echoServer struct {
	t        *testing.T
	tokens   chan string
	inbound  chan protocol.Envelope
	conns    chan *websocket.Conn
	rejected bool
}

func newEchoServer(t *testing.T) *echoServer {
	return &echoServer{
		t:       t,
		tokens:  make(chan string, 8),
		inbound: make(chan protocol.Envelope, 32),
		conns:   make(chan *websocket.Conn, 8),
	}
}

func (s *echoServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.tokens <- r.Header.Get("Authorization")
	if s.rejected {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	require.NoError(s.t, err)
	s.conns <- ws
	go func() {
		for {
			_, frame, err := ws.ReadMessage()
			if err != nil {
				return
			}
			env, err := protocol.DecodeEnvelope(frame)
			if err != nil {
				continue
			}
			s.inbound <- env
		}
	}()
}

func (s *echoServer) push(t *testing.T, ws *websocket.Conn, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	require.NoError(t, err)
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, frame))
}

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http")
}

func reconnectConfig() config.ReconnectConfig {
	return config.ReconnectConfig{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		MaxAttempts:    5,
	}
}

func recvEnvelope(t *testing.T, s *echoServer) protocol.Envelope {
	t.Helper()
	select {
	case env := <-s.inbound:
		return env
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for inbound frame")
		return protocol.Envelope{}
	}
}

func TestManagerConnectRequiresToken(t *testing.T) {
	m := NewManager("ws://localhost:1", staticToken(""), newRecordingHandler(), reconnectConfig(), zap.NewNop())
	err := m.Connect(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManagerConnectSendsBearerToken(t *testing.T) {
	srv := newEchoServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	m := NewManager(wsURL(ts), staticToken("tok-123"), newRecordingHandler(), reconnectConfig(), zap.NewNop())
	require.NoError(t, m.Connect(context.Background()))
	defer m.Close()

	assert.Equal(t, "Bearer tok-123", <-srv.tokens)
	assert.Equal(t, StateConnected, m.State())
}

func TestManagerJoinAndEventDispatch(t *testing.T) {
	srv := newEchoServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	handler := newRecordingHandler()
	m := NewManager(wsURL(ts), staticToken("tok"), handler, reconnectConfig(), zap.NewNop())
	require.NoError(t, m.Connect(context.Background()))
	defer m.Close()
	ws := <-srv.conns

	m.Join("guild-1")
	env := recvEnvelope(t, srv)
	assert.Equal(t, protocol.EventJoin, env.Event)
	assert.Equal(t, StateJoining, m.State())

	srv.push(t, ws, protocol.EventJoined, protocol.JoinedPayload{UserID: "u-1"})
	select {
	case p := <-handler.joined:
		assert.Equal(t, "u-1", p.UserID)
	case <-time.After(2 * time.Second):
		t.Fatal("joined never dispatched")
	}
	assert.Equal(t, StateInRoom, m.State())

	srv.push(t, ws, protocol.EventUserMoved, protocol.UserMovedPayload{
		UserID:    "u-2",
		Direction: protocol.DirLeft,
		X:         4,
		Y:         9,
	})
	select {
	case p := <-handler.userMoved:
		assert.Equal(t, "u-2", p.UserID)
		assert.Equal(t, protocol.DirLeft, p.Direction)
	case <-time.After(2 * time.Second):
		t.Fatal("user_moved never dispatched")
	}
}

func TestManagerSendMoveCarriesCurrentRoom(t *testing.T) {
	srv := newEchoServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	m := NewManager(wsURL(ts), staticToken("tok"), newRecordingHandler(), reconnectConfig(), zap.NewNop())
	require.NoError(t, m.Connect(context.Background()))
	defer m.Close()

	m.Join("guild-7")
	recvEnvelope(t, srv)

	m.SendMove(protocol.DirUp, 3, 2, 4, 5)
	env := recvEnvelope(t, srv)
	require.Equal(t, protocol.EventMove, env.Event)

	var p protocol.MovePayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "guild-7", p.GuildID)
	assert.Equal(t, protocol.DirUp, p.Direction)
	assert.Equal(t, 3, p.X)
	assert.Equal(t, 2, p.Y)
}

func TestManagerMalformedFramesAreDropped(t *testing.T) {
	srv := newEchoServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	handler := newRecordingHandler()
	m := NewManager(wsURL(ts), staticToken("tok"), handler, reconnectConfig(), zap.NewNop())
	require.NoError(t, m.Connect(context.Background()))
	defer m.Close()
	ws := <-srv.conns

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(`{"data":{}}`)))
	// A well-formed event after the garbage proves the connection survived.
	srv.push(t, ws, protocol.EventError, protocol.ErrorPayload{Message: "nope"})

	select {
	case p := <-handler.serverErrs:
		assert.Equal(t, "nope", p.Message)
	case <-time.After(2 * time.Second):
		t.Fatal("error event never dispatched")
	}
	select {
	case err := <-handler.disconnected:
		t.Fatalf("connection dropped: %v", err)
	default:
	}
}

func TestManagerReconnectsAndRejoins(t *testing.T) {
	srv := newEchoServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	handler := newRecordingHandler()
	m := NewManager(wsURL(ts), staticToken("tok"), handler, reconnectConfig(), zap.NewNop())
	require.NoError(t, m.Connect(context.Background()))
	defer m.Close()
	ws := <-srv.conns

	m.Join("guild-9")
	recvEnvelope(t, srv)

	// Kill the transport from the server side.
	require.NoError(t, ws.Close())

	select {
	case <-handler.disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect never reported")
	}
	select {
	case <-handler.reconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("reconnect never reported")
	}

	// The fresh connection re-issues the join for the last room.
	env := recvEnvelope(t, srv)
	require.Equal(t, protocol.EventJoin, env.Event)
	var p protocol.JoinPayload
	require.NoError(t, json.Unmarshal(env.Data, &p))
	assert.Equal(t, "guild-9", p.GuildID)
}

func TestManagerCloseSuppressesReconnect(t *testing.T) {
	srv := newEchoServer(t)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	handler := newRecordingHandler()
	m := NewManager(wsURL(ts), staticToken("tok"), handler, reconnectConfig(), zap.NewNop())
	require.NoError(t, m.Connect(context.Background()))
	<-srv.conns

	m.Close()

	select {
	case err := <-handler.disconnected:
		t.Fatalf("disconnect reported after Close: %v", err)
	case <-time.After(200 * time.Millisecond):
	}
	assert.Equal(t, StateDisconnected, m.State())
}
