// Package protocol defines the wire format of the Explore realtime socket:
// JSON envelopes carrying one named event each, plus the payload types for
// every inbound and outbound event.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Outbound (client → server) event names.
const (
	EventJoin       = "join"
	EventLeave      = "leave"
	EventMove       = "move"
	EventSkinChange = "skin_change"
	EventEditMap    = "edit_map"
)

// Inbound (server → client) event names.
const (
	EventJoined      = "joined"
	EventRoomState   = "room_state"
	EventUserJoined  = "user_joined"
	EventUserLeft    = "user_left"
	EventUserMoved   = "user_moved"
	EventSkinChanged = "skin_changed"
	EventMapEdited   = "map_edited"
	EventError       = "error"
)

// MembershipRequired is the error message the server sends when a client
// tries to join a room it is not a member of.
const MembershipRequired = "Membership required"

// Default spawn point for players whose record carries no position.
const (
	DefaultSpawnX = 11
	DefaultSpawnY = 11
)

// Envelope is one socket frame: an event name and its JSON payload.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Encode marshals an event and payload into a wire frame.
//
// Postcondition: Returns a JSON-encoded envelope or a non-nil error.
func Encode(event string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: data})
}

// DecodeEnvelope parses one socket frame.
//
// Postcondition: Returns an envelope with a non-empty event name, or an error.
func DecodeEnvelope(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, errors.New("envelope missing event name")
	}
	return env, nil
}

// JoinPayload requests membership in a room.
type JoinPayload struct {
	GuildID string `json:"guild_id"`
}

// LeavePayload notifies the server the client is leaving a room.
type LeavePayload struct {
	GuildID string `json:"guild_id"`
}

// MovePayload reports one local step: the direction walked and the resulting
// tile position.
type MovePayload struct {
	GuildID       string    `json:"guild_id"`
	Direction     Direction `json:"direction"`
	X             int       `json:"x"`
	Y             int       `json:"y"`
	MoveSpeed     float64   `json:"moveSpeed"`
	MoveFrequency int       `json:"moveFrequency"`
}

// SkinChangePayload announces the local player's new skin.
type SkinChangePayload struct {
	GuildID string `json:"guild_id"`
	SkinID  string `json:"skin_id"`
}

// EditMapPayload publishes one local tile edit.
type EditMapPayload struct {
	GuildID string `json:"guild_id"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Z       int    `json:"z"`
	TileID  int    `json:"tile_id"`
}

// JoinedPayload establishes the local user id after a join is accepted.
type JoinedPayload struct {
	UserID string `json:"user_id"`
}

// Player is one member record inside room_state and user_joined events.
// Position, direction, and skin are optional on the wire; absent fields fall
// back to the room spawn point facing down.
type Player struct {
	UserID        string     `json:"user_id"`
	Name          string     `json:"name,omitempty"`
	X             *int       `json:"x,omitempty"`
	Y             *int       `json:"y,omitempty"`
	Direction     *Direction `json:"direction,omitempty"`
	SkinID        *string    `json:"skin_id,omitempty"`
	MoveSpeed     float64    `json:"moveSpeed,omitempty"`
	MoveFrequency int        `json:"moveFrequency,omitempty"`
}

// Position returns the player's tile coordinates, defaulting to the spawn point.
func (p Player) Position() (x, y int) {
	x, y = DefaultSpawnX, DefaultSpawnY
	if p.X != nil {
		x = *p.X
	}
	if p.Y != nil {
		y = *p.Y
	}
	return x, y
}

// Facing returns the player's direction, defaulting to down.
func (p Player) Facing() Direction {
	if p.Direction != nil && p.Direction.Valid() {
		return *p.Direction
	}
	return DirDown
}

// Skin returns the player's skin id, or "" when none is set.
func (p Player) Skin() string {
	if p.SkinID != nil {
		return *p.SkinID
	}
	return ""
}

// RoomStatePayload is the full membership snapshot pushed after a (re)join.
type RoomStatePayload struct {
	GuildID string   `json:"guild_id"`
	Players []Player `json:"players"`
}

// UserLeftPayload removes one member.
type UserLeftPayload struct {
	UserID string `json:"user_id"`
}

// UserMovedPayload reports one remote step with the authoritative resulting
// position.
type UserMovedPayload struct {
	UserID        string    `json:"user_id"`
	Direction     Direction `json:"direction"`
	X             int       `json:"x"`
	Y             int       `json:"y"`
	MoveSpeed     float64   `json:"moveSpeed,omitempty"`
	MoveFrequency int       `json:"moveFrequency,omitempty"`
}

// SkinChangedPayload updates one member's skin.
type SkinChangedPayload struct {
	GuildID string `json:"guild_id"`
	UserID  string `json:"user_id"`
	SkinID  string `json:"skin_id"`
}

// MapEditedPayload applies one remote tile edit.
type MapEditedPayload struct {
	GuildID string `json:"guild_id"`
	X       int    `json:"x"`
	Y       int    `json:"y"`
	Z       int    `json:"z"`
	TileID  int    `json:"tile_id"`
}

// ErrorPayload carries a server-side rejection or fault.
type ErrorPayload struct {
	Message string `json:"message"`
}

// TileEdit is one persisted grid mutation, also returned by the space tiles
// REST endpoint.
type TileEdit struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Z      int `json:"z"`
	TileID int `json:"tile_id"`
}

// DecodeJoined parses a joined payload.
//
// Postcondition: Returns a payload with a non-empty user id, or an error.
func DecodeJoined(data json.RawMessage) (JoinedPayload, error) {
	var p JoinedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return JoinedPayload{}, fmt.Errorf("decoding joined: %w", err)
	}
	if p.UserID == "" {
		return JoinedPayload{}, errors.New("joined missing user_id")
	}
	return p, nil
}

// DecodeRoomState parses a room_state payload.
//
// Postcondition: Returns a payload with a non-empty guild id, or an error.
// Member records without a user id are dropped.
func DecodeRoomState(data json.RawMessage) (RoomStatePayload, error) {
	var p RoomStatePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return RoomStatePayload{}, fmt.Errorf("decoding room_state: %w", err)
	}
	if p.GuildID == "" {
		return RoomStatePayload{}, errors.New("room_state missing guild_id")
	}
	members := p.Players[:0]
	for _, member := range p.Players {
		if member.UserID != "" {
			members = append(members, member)
		}
	}
	p.Players = members
	return p, nil
}

// DecodePlayer parses a user_joined payload.
//
// Postcondition: Returns a record with a non-empty user id, or an error.
func DecodePlayer(data json.RawMessage) (Player, error) {
	var p Player
	if err := json.Unmarshal(data, &p); err != nil {
		return Player{}, fmt.Errorf("decoding player: %w", err)
	}
	if p.UserID == "" {
		return Player{}, errors.New("player missing user_id")
	}
	return p, nil
}

// DecodeUserLeft parses a user_left payload.
func DecodeUserLeft(data json.RawMessage) (UserLeftPayload, error) {
	var p UserLeftPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return UserLeftPayload{}, fmt.Errorf("decoding user_left: %w", err)
	}
	if p.UserID == "" {
		return UserLeftPayload{}, errors.New("user_left missing user_id")
	}
	return p, nil
}

// DecodeUserMoved parses a user_moved payload.
//
// Postcondition: Returns a payload with a non-empty user id and a valid
// direction, or an error.
func DecodeUserMoved(data json.RawMessage) (UserMovedPayload, error) {
	var p UserMovedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return UserMovedPayload{}, fmt.Errorf("decoding user_moved: %w", err)
	}
	if p.UserID == "" {
		return UserMovedPayload{}, errors.New("user_moved missing user_id")
	}
	if !p.Direction.Valid() {
		return UserMovedPayload{}, fmt.Errorf("user_moved invalid direction %q", p.Direction)
	}
	return p, nil
}

// DecodeSkinChanged parses a skin_changed payload.
func DecodeSkinChanged(data json.RawMessage) (SkinChangedPayload, error) {
	var p SkinChangedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return SkinChangedPayload{}, fmt.Errorf("decoding skin_changed: %w", err)
	}
	if p.UserID == "" {
		return SkinChangedPayload{}, errors.New("skin_changed missing user_id")
	}
	return p, nil
}

// DecodeMapEdited parses a map_edited payload.
func DecodeMapEdited(data json.RawMessage) (MapEditedPayload, error) {
	var p MapEditedPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return MapEditedPayload{}, fmt.Errorf("decoding map_edited: %w", err)
	}
	return p, nil
}

// DecodeError parses an error payload.
func DecodeError(data json.RawMessage) (ErrorPayload, error) {
	var p ErrorPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ErrorPayload{}, fmt.Errorf("decoding error event: %w", err)
	}
	return p, nil
}
