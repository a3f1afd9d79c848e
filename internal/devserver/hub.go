// Package devserver is a self-contained in-memory Explore backend for local
// development: token auth, the REST API surface, and the realtime socket with
// room membership, movement fan-out, and tile edit persistence.
package devserver

import (
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/avianjay/explore/internal/protocol"
)

// User is one authenticated account.
type User struct {
	ID     string
	Name   string
	SkinID string
}

type tileKey struct{ x, y, z int }

// room is one synchronized space. All access goes through the hub lock.
type room struct {
	id      string
	name    string
	iconURL string

	// private rooms reject joins from users not on the allow list.
	private bool
	allowed map[string]bool // by display name, for config simplicity

	members map[string]*member

	// tiles keeps last-write-wins values; order preserves first-write order
	// so refetches replay edits deterministically.
	tiles map[tileKey]int
	order []tileKey
}

type member struct {
	user          *User
	x, y          int
	dir           protocol.Direction
	moveSpeed     float64
	moveFrequency int
	conn          *clientConn
}

func (m *member) record() protocol.Player {
	x, y := m.x, m.y
	dir := m.dir
	skin := m.user.SkinID
	return protocol.Player{
		UserID:        m.user.ID,
		Name:          m.user.Name,
		X:             &x,
		Y:             &y,
		Direction:     &dir,
		SkinID:        &skin,
		MoveSpeed:     m.moveSpeed,
		MoveFrequency: m.moveFrequency,
	}
}

// Hub owns every room and account. One lock serializes all state changes;
// each socket's read pump dispatches into the hub one event at a time, which
// gives every room a total order of events.
type Hub struct {
	mu     sync.Mutex
	logger *zap.Logger

	defaultRoomID string
	rooms         map[string]*room

	usersByToken  map[string]*User
	discordTokens map[string]string // platform token -> display name
}

// NewHub creates a Hub with the default room already present.
func NewHub(defaultRoomID string, logger *zap.Logger) *Hub {
	h := &Hub{
		logger:        logger,
		defaultRoomID: defaultRoomID,
		rooms:         make(map[string]*room),
		usersByToken:  make(map[string]*User),
		discordTokens: make(map[string]string),
	}
	h.rooms[defaultRoomID] = &room{
		id:      defaultRoomID,
		name:    "Lobby",
		iconURL: "lobby",
		members: make(map[string]*member),
		tiles:   make(map[tileKey]int),
	}
	return h
}

// AddRoom registers a joinable room. Private rooms admit only the listed
// display names.
func (h *Hub) AddRoom(id, name, iconURL string, private bool, allowedNames []string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	allowed := make(map[string]bool, len(allowedNames))
	for _, n := range allowedNames {
		allowed[n] = true
	}
	h.rooms[id] = &room{
		id:      id,
		name:    name,
		iconURL: iconURL,
		private: private,
		allowed: allowed,
		members: make(map[string]*member),
		tiles:   make(map[tileKey]int),
	}
}

// MintDiscordToken issues a platform token for the given display name,
// standing in for the real OAuth exchange.
func (h *Hub) MintDiscordToken(name string) string {
	h.mu.Lock()
	defer h.mu.Unlock()

	token := "discord-" + uuid.NewString()
	h.discordTokens[token] = name
	return token
}

// ExchangeDiscordToken trades a platform token for an auth token bound to a
// fresh user account.
func (h *Hub) ExchangeDiscordToken(discordToken string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	name, ok := h.discordTokens[discordToken]
	if !ok {
		return "", false
	}
	delete(h.discordTokens, discordToken)

	user := &User{ID: uuid.NewString(), Name: name}
	token := uuid.NewString()
	h.usersByToken[token] = user
	h.logger.Info("user authenticated", zap.String("user_id", user.ID), zap.String("name", name))
	return token, true
}

// UserByToken resolves an auth token.
func (h *Hub) UserByToken(token string) (*User, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	u, ok := h.usersByToken[token]
	return u, ok
}

// SetSkin persists a user's skin choice against the given catalog.
func (h *Hub) SetSkin(user *User, skinID string, catalog *SkinCatalog) bool {
	if catalog != nil && !catalog.Has(skinID) {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	user.SkinID = skinID
	return true
}

// RoomInfo returns one room's metadata.
func (h *Hub) RoomInfo(id string) (name, iconURL string, memberCount int, ok bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[id]
	if !ok {
		return "", "", 0, false
	}
	return r.name, r.iconURL, len(r.members), true
}

// RoomList returns every room's id, name, and icon in no particular order.
func (h *Hub) RoomList() []RoomSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]RoomSummary, 0, len(h.rooms))
	for _, r := range h.rooms {
		out = append(out, RoomSummary{ID: r.id, Name: r.name, IconURL: r.iconURL, MemberCount: len(r.members)})
	}
	return out
}

// RoomSummary is one entry of the server list.
type RoomSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IconURL     string `json:"icon_url"`
	MemberCount int    `json:"member_count"`
}

// Tiles returns a room's persisted tile edits in first-write order with
// last-write-wins values.
func (h *Hub) Tiles(roomID string) ([]protocol.TileEdit, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		return nil, false
	}
	out := make([]protocol.TileEdit, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, protocol.TileEdit{X: k.x, Y: k.y, Z: k.z, TileID: r.tiles[k]})
	}
	return out, true
}

// Join admits conn's user into roomID. A join to an unknown room or a private
// room the user is not allowed into is answered with an error event; a
// successful join answers with joined plus a full room_state snapshot and
// announces user_joined to everyone else.
func (h *Hub) Join(c *clientConn, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, ok := h.rooms[roomID]
	if !ok {
		c.send(protocol.EventError, protocol.ErrorPayload{Message: "Unknown server"})
		return
	}
	if r.private && !r.allowed[c.user.Name] {
		h.logger.Info("membership rejected",
			zap.String("room", roomID),
			zap.String("user_id", c.user.ID),
		)
		c.send(protocol.EventError, protocol.ErrorPayload{Message: protocol.MembershipRequired})
		return
	}

	h.leaveLocked(c)

	m := &member{
		user: c.user,
		x:    protocol.DefaultSpawnX,
		y:    protocol.DefaultSpawnY,
		dir:  protocol.DirDown,
		conn: c,
	}
	r.members[c.user.ID] = m
	c.roomID = roomID

	c.send(protocol.EventJoined, protocol.JoinedPayload{UserID: c.user.ID})

	players := make([]protocol.Player, 0, len(r.members))
	for _, mem := range r.members {
		players = append(players, mem.record())
	}
	c.send(protocol.EventRoomState, protocol.RoomStatePayload{GuildID: roomID, Players: players})

	h.broadcastLocked(r, c.user.ID, protocol.EventUserJoined, m.record())
	h.logger.Info("user joined room", zap.String("room", roomID), zap.String("user_id", c.user.ID))
}

// Leave removes conn's user from roomID, announcing user_left to the rest.
func (h *Hub) Leave(c *clientConn, roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c.roomID != roomID {
		return
	}
	h.leaveLocked(c)
}

// Disconnect tears down conn's membership after the socket closed.
func (h *Hub) Disconnect(c *clientConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.leaveLocked(c)
}

func (h *Hub) leaveLocked(c *clientConn) {
	if c.roomID == "" {
		return
	}
	r, ok := h.rooms[c.roomID]
	c.roomID = ""
	if !ok {
		return
	}
	if _, present := r.members[c.user.ID]; !present {
		return
	}
	delete(r.members, c.user.ID)
	h.broadcastLocked(r, c.user.ID, protocol.EventUserLeft, protocol.UserLeftPayload{UserID: c.user.ID})
}

// Move updates the member's position and fans the step out to the rest of
// the room. The reported position is taken as authoritative.
func (h *Hub) Move(c *clientConn, p protocol.MovePayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, m, ok := h.memberLocked(c)
	if !ok {
		return
	}
	if !p.Direction.Valid() {
		return
	}
	m.x, m.y = p.X, p.Y
	m.dir = p.Direction
	if p.MoveSpeed > 0 {
		m.moveSpeed = p.MoveSpeed
	}
	if p.MoveFrequency > 0 {
		m.moveFrequency = p.MoveFrequency
	}

	h.broadcastLocked(r, c.user.ID, protocol.EventUserMoved, protocol.UserMovedPayload{
		UserID:        c.user.ID,
		Direction:     m.dir,
		X:             m.x,
		Y:             m.y,
		MoveSpeed:     m.moveSpeed,
		MoveFrequency: m.moveFrequency,
	})
}

// SkinChange records the member's new skin and announces it to the room.
func (h *Hub) SkinChange(c *clientConn, p protocol.SkinChangePayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, _, ok := h.memberLocked(c)
	if !ok {
		return
	}
	c.user.SkinID = p.SkinID
	h.broadcastLocked(r, c.user.ID, protocol.EventSkinChanged, protocol.SkinChangedPayload{
		GuildID: r.id,
		UserID:  c.user.ID,
		SkinID:  p.SkinID,
	})
}

// EditMap persists one tile edit last-write-wins and fans it out, sender
// excluded.
func (h *Hub) EditMap(c *clientConn, p protocol.EditMapPayload) {
	h.mu.Lock()
	defer h.mu.Unlock()

	r, _, ok := h.memberLocked(c)
	if !ok {
		return
	}
	k := tileKey{x: p.X, y: p.Y, z: p.Z}
	if _, seen := r.tiles[k]; !seen {
		r.order = append(r.order, k)
	}
	r.tiles[k] = p.TileID

	h.broadcastLocked(r, c.user.ID, protocol.EventMapEdited, protocol.MapEditedPayload{
		GuildID: r.id,
		X:       p.X,
		Y:       p.Y,
		Z:       p.Z,
		TileID:  p.TileID,
	})
}

func (h *Hub) memberLocked(c *clientConn) (*room, *member, bool) {
	r, ok := h.rooms[c.roomID]
	if !ok {
		return nil, nil, false
	}
	m, ok := r.members[c.user.ID]
	if !ok {
		return nil, nil, false
	}
	return r, m, true
}

func (h *Hub) broadcastLocked(r *room, exceptUserID, event string, payload any) {
	for uid, m := range r.members {
		if uid == exceptUserID || m.conn == nil {
			continue
		}
		m.conn.send(event, payload)
	}
}
