package space

import "github.com/avianjay/explore/internal/protocol"

// TileGrid is the host engine's mutable tile surface. It may not exist for
// the whole client lifetime: during a map transition there is no grid, and
// edits arriving in that window are queued by MapEditSync.
type TileGrid interface {
	// SetTile writes one tile id at the given coordinate and layer.
	SetTile(x, y, z, tileID int)
	// TileID reads the tile id at the given coordinate and layer.
	TileID(x, y, z int) int
	// Contains reports whether (x, y) lies inside the map bounds.
	Contains(x, y int) bool
}

// TileRefresher is asked to redraw the tile surface after edits land.
type TileRefresher interface {
	RequestRefresh()
}

// EntityView is the renderable snapshot of one remote entity handed to the
// render surface. The surface keeps its own handle keyed by UserID; the
// registry never holds a reference to the render object.
type EntityView struct {
	UserID        string
	Name          string
	X             int
	Y             int
	Facing        protocol.Direction
	SkinID        string
	MoveSpeed     float64
	MoveFrequency int
}

// RenderSurface is the host engine's visual layer for remote entities.
// All handles are keyed by user id so teardown is a single Detach, and the
// registry stays fully functional when no surface is attached.
type RenderSurface interface {
	// Attach creates a render handle for the entity. Attaching an already
	// attached user id re-links the existing handle.
	Attach(view EntityView)
	// Detach releases the render handle for userID, if any.
	Detach(userID string)
	// Refresh re-resolves the entity's visual representation (skin changes).
	Refresh(view EntityView)
	// Step plays a one-tile walk animation in the given direction.
	Step(userID string, dir protocol.Direction, moveSpeed float64, moveFrequency int)
	// Place moves the handle to an exact tile without animation.
	Place(userID string, x, y int)
}

// ActivityPublisher pushes a human-readable presence status outward, e.g. to
// the host platform's rich presence surface.
type ActivityPublisher interface {
	SetActivity(details, roomName, roomIcon string)
}

// Notifier surfaces a user-visible notice, e.g. when room membership is
// rejected and the client falls back to the default room.
type Notifier interface {
	Notify(message string)
}
