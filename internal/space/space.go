package space

import (
	"context"

	"go.uber.org/zap"

	"github.com/avianjay/explore/internal/protocol"
)

// Connection is the outbound half of the socket connection the orchestrator
// drives. All sends are fire-and-forget.
type Connection interface {
	Join(roomID string)
	Leave(roomID string)
	SendMove(dir protocol.Direction, x, y int, moveSpeed float64, moveFrequency int)
	SendSkinChange(skinID string)
	SendTileEdit(x, y, z, tileID int)
}

// Backend is the REST surface the orchestrator consults on room entry.
type Backend interface {
	// SpaceTiles fetches the room's persisted tile edits.
	SpaceTiles(ctx context.Context, roomID string) ([]protocol.TileEdit, error)
	// RoomInfo fetches display metadata for a room.
	RoomInfo(ctx context.Context, roomID string) (RoomInfo, error)
	// SetSkin persists the local player's skin choice.
	SetSkin(ctx context.Context, skinID string) error
}

// Space owns the synchronized view of the active room: the session, the
// remote player registry, and tile edit sync, and orchestrates room
// transitions over one socket connection. It implements the connection's
// event handler; inbound events are dispatched to it synchronously, one at a
// time.
type Space struct {
	session  *Session
	conn     Connection
	backend  Backend
	registry *Registry
	mapSync  *MapEditSync
	presence *PresenceReporter
	notifier Notifier
	logger   *zap.Logger
}

// NewSpace wires a Space around an established session and connection.
//
// Precondition: session, conn, backend, and logger must be non-nil; publisher
// and notifier may be nil.
func NewSpace(session *Session, conn Connection, backend Backend, publisher ActivityPublisher, notifier Notifier, logger *zap.Logger) *Space {
	return &Space{
		session:  session,
		conn:     conn,
		backend:  backend,
		registry: NewRegistry(session, logger),
		mapSync:  NewMapEditSync(session, conn, logger),
		presence: NewPresenceReporter(session, publisher, logger),
		notifier: notifier,
		logger:   logger,
	}
}

// Registry exposes the remote player registry.
func (s *Space) Registry() *Registry { return s.registry }

// MapSync exposes the tile edit synchronizer.
func (s *Space) MapSync() *MapEditSync { return s.mapSync }

// Session exposes the session this space is bound to.
func (s *Space) Session() *Session { return s.session }

// EnterRoom transitions to roomID: the previous room is left (best effort),
// local member and pending-edit state is dropped eagerly so no stale entities
// render during the transition, the join is issued, and a full resync of the
// new room's tiles and metadata is started.
func (s *Space) EnterRoom(ctx context.Context, roomID string) {
	old := s.session.RoomID()
	if old != "" && old != roomID {
		s.conn.Leave(old)
	}

	s.registry.Clear()
	s.mapSync.DiscardPending()
	s.session.SetRoom(roomID)
	s.session.SetEditor(false)

	s.logger.Info("entering room",
		zap.String("room", roomID),
		zap.String("previous", old),
	)

	s.conn.Join(roomID)
	go s.Resync(ctx, roomID)
}

// LeaveToDefault transitions back to the well-known default room. Used for
// explicit leave actions and membership-rejection recovery. The socket stays
// connected for a quick re-join.
func (s *Space) LeaveToDefault(ctx context.Context) {
	s.EnterRoom(ctx, s.session.DefaultRoomID())
}

// Resync fetches the tile list and metadata for roomID and applies them.
// The session may have moved to another room while a fetch was in flight;
// results for a room that is no longer current are discarded.
func (s *Space) Resync(ctx context.Context, roomID string) {
	if roomID == s.session.DefaultRoomID() {
		s.presence.ReportLobby()
		return
	}

	tiles, err := s.backend.SpaceTiles(ctx, roomID)
	if err != nil {
		s.logger.Warn("fetching space tiles failed", zap.String("room", roomID), zap.Error(err))
		tiles = nil
	}
	if s.session.RoomID() != roomID {
		s.logger.Debug("discarding stale tile fetch", zap.String("room", roomID))
		return
	}
	if len(tiles) > 0 {
		s.mapSync.ApplyPendingEdits(tiles)
	}

	info, err := s.backend.RoomInfo(ctx, roomID)
	if err != nil {
		s.logger.Warn("fetching room metadata failed", zap.String("room", roomID), zap.Error(err))
		info = RoomInfo{ID: roomID}
	}
	if s.session.RoomID() != roomID {
		return
	}
	s.presence.ReportRoom(info)
}

// LocalStepped publishes one step the local player just made. Wired to the
// host engine's movement observer.
func (s *Space) LocalStepped(dir protocol.Direction, x, y int, moveSpeed float64, moveFrequency int) {
	s.conn.SendMove(dir, x, y, moveSpeed, moveFrequency)
}

// ChangeSkin persists the skin choice on the backend, then announces it to
// the room. The announcement is skipped when persistence fails so observers
// never see a skin the backend rejected.
func (s *Space) ChangeSkin(ctx context.Context, skinID string) error {
	if err := s.backend.SetSkin(ctx, skinID); err != nil {
		s.logger.Warn("setting skin failed", zap.String("skin_id", skinID), zap.Error(err))
		return err
	}
	s.conn.SendSkinChange(skinID)
	return nil
}

// EditTile applies a local tile edit and publishes it. Requires the editor
// capability.
func (s *Space) EditTile(x, y, z, tileID int) error {
	return s.mapSync.LocalEdit(x, y, z, tileID)
}

// PickTile reads the tile id under the editor's cursor.
func (s *Space) PickTile(x, y, z int) (int, bool) {
	return s.mapSync.ReadTile(x, y, z)
}

// MapReady is the host's map-loaded callback: the grid becomes available and
// queued edits flush.
func (s *Space) MapReady(grid TileGrid, refresher TileRefresher) {
	s.mapSync.GridReady(grid, refresher)
}

// MapUnloading is the host's map-teardown callback.
func (s *Space) MapUnloading() {
	s.mapSync.GridLost()
	s.registry.DetachSurface()
}

// SurfaceReady re-links every remote entity to the freshly created render
// surface after a scene reload.
func (s *Space) SurfaceReady(surface RenderSurface) {
	s.registry.AttachSurface(surface)
}

// HandleJoined establishes the local user identity.
func (s *Space) HandleJoined(p protocol.JoinedPayload) {
	s.session.SetIdentity(p.UserID, "")
}

// HandleRoomState replaces the room membership with a fresh snapshot.
// Snapshots for a room other than the current one are ignored.
func (s *Space) HandleRoomState(p protocol.RoomStatePayload) {
	if p.GuildID != s.session.RoomID() {
		s.logger.Debug("ignoring room_state for other room", zap.String("room", p.GuildID))
		return
	}
	s.registry.ApplySnapshot(p.Players)
}

// HandleUserJoined spawns one remote entity.
func (s *Space) HandleUserJoined(p protocol.Player) {
	s.registry.Spawn(p)
}

// HandleUserLeft removes one remote entity.
func (s *Space) HandleUserLeft(p protocol.UserLeftPayload) {
	s.registry.Remove(p.UserID)
}

// HandleUserMoved applies one remote step.
func (s *Space) HandleUserMoved(p protocol.UserMovedPayload) {
	s.registry.Move(p)
}

// HandleSkinChanged updates one remote entity's skin. Events for another
// room or for the local user are ignored.
func (s *Space) HandleSkinChanged(p protocol.SkinChangedPayload) {
	if p.GuildID != "" && p.GuildID != s.session.RoomID() {
		return
	}
	s.registry.UpdateSkin(p.UserID, p.SkinID)
}

// HandleMapEdited applies one remote tile edit.
func (s *Space) HandleMapEdited(p protocol.MapEditedPayload) {
	s.mapSync.ApplyRemoteEdit(p.X, p.Y, p.Z, p.TileID)
}

// HandleServerError reacts to a server-side rejection. A membership
// rejection is recoverable: the client falls back to the default room
// instead of staying wedged in a room it cannot join.
func (s *Space) HandleServerError(p protocol.ErrorPayload) {
	s.logger.Warn("server error", zap.String("message", p.Message))
	if p.Message != protocol.MembershipRequired {
		return
	}
	if s.notifier != nil {
		s.notifier.Notify("You must join this server to enter!")
	}
	s.LeaveToDefault(context.Background())
}

// HandleDisconnected records a transport loss. Registry state is kept as a
// last-known view; the fresh room_state after reconnection prunes anything
// stale.
func (s *Space) HandleDisconnected(err error) {
	s.logger.Warn("socket disconnected", zap.Error(err))
}

// HandleReconnected refreshes the current room after the transport came
// back. The connection has already re-issued the join; the snapshot arrives
// on its own, tiles and metadata are refetched here.
func (s *Space) HandleReconnected() {
	roomID := s.session.RoomID()
	s.logger.Info("socket reconnected", zap.String("room", roomID))
	go s.Resync(context.Background(), roomID)
}
