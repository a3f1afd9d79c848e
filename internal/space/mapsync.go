package space

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/avianjay/explore/internal/protocol"
)

// ErrNotEditor is returned when a local edit is attempted without the editor
// capability for the current room.
var ErrNotEditor = errors.New("session lacks editor capability for this room")

// EditPublisher sends a locally made tile edit outward to the server.
type EditPublisher interface {
	SendTileEdit(x, y, z, tileID int)
}

// MapEditSync applies remote tile edits to the local grid and republishes
// local edits made by an authorized editor. Edits arriving while no grid
// exists (map transition, initial load) are queued and flushed in arrival
// order once the grid becomes available. All methods are safe for concurrent
// use.
type MapEditSync struct {
	mu        sync.Mutex
	session   *Session
	logger    *zap.Logger
	publisher EditPublisher

	grid      TileGrid      // nil until the map is loaded
	refresher TileRefresher // optional

	pending []protocol.TileEdit
}

// NewMapEditSync creates a MapEditSync with no grid attached.
//
// Precondition: session and logger must be non-nil; publisher may be nil for
// a read-only client.
func NewMapEditSync(session *Session, publisher EditPublisher, logger *zap.Logger) *MapEditSync {
	return &MapEditSync{
		session:   session,
		logger:    logger,
		publisher: publisher,
	}
}

// GridReady attaches the tile grid and flushes every queued edit in arrival
// order. Called from the host's map-ready callback.
//
// Precondition: grid must be non-nil.
func (m *MapEditSync) GridReady(grid TileGrid, refresher TileRefresher) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.grid = grid
	m.refresher = refresher

	if len(m.pending) == 0 {
		return
	}
	for _, e := range m.pending {
		m.grid.SetTile(e.X, e.Y, e.Z, e.TileID)
	}
	m.logger.Debug("flushed queued tile edits", zap.Int("count", len(m.pending)))
	m.pending = nil
	m.requestRefreshLocked()
}

// GridLost detaches the grid; subsequent edits queue until the next GridReady.
func (m *MapEditSync) GridLost() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grid = nil
	m.refresher = nil
}

// ApplyRemoteEdit mutates the local grid at the given coordinate and layer,
// or queues the edit when no grid exists. Applying the same edit twice leaves
// the grid unchanged; conflicting edits resolve last-write-wins by arrival
// order.
func (m *MapEditSync) ApplyRemoteEdit(x, y, z, tileID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyLocked(protocol.TileEdit{X: x, Y: y, Z: z, TileID: tileID})
}

// ApplyPendingEdits applies a room's full tile list in list order. Used when
// tiles are fetched on room entry.
func (m *MapEditSync) ApplyPendingEdits(edits []protocol.TileEdit) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range edits {
		m.applyLocked(e)
	}
}

func (m *MapEditSync) applyLocked(e protocol.TileEdit) {
	if m.grid == nil {
		m.pending = append(m.pending, e)
		return
	}
	m.grid.SetTile(e.X, e.Y, e.Z, e.TileID)
	m.requestRefreshLocked()
}

// DiscardPending drops every queued edit. Used when the active room is
// replaced so a stale room's edits never land on the next room's grid.
func (m *MapEditSync) DiscardPending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
}

// LocalEdit applies an edit made by the local player and publishes it
// outward. Requires the editor capability.
//
// Postcondition: Returns ErrNotEditor without touching the grid when the
// session is not an editor, or an error when the coordinate is out of bounds.
func (m *MapEditSync) LocalEdit(x, y, z, tileID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.session.Editor() {
		return ErrNotEditor
	}
	if m.grid != nil && !m.grid.Contains(x, y) {
		return errors.New("tile coordinate out of map bounds")
	}

	m.applyLocked(protocol.TileEdit{X: x, Y: y, Z: z, TileID: tileID})
	if m.publisher != nil {
		m.publisher.SendTileEdit(x, y, z, tileID)
	}
	return nil
}

// ReadTile returns the tile id at the given coordinate and layer, for the
// editor's tile picker.
//
// Postcondition: Returns (tileID, true) when a grid is attached and the
// coordinate is in bounds, or (0, false) otherwise.
func (m *MapEditSync) ReadTile(x, y, z int) (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.grid == nil || !m.grid.Contains(x, y) {
		return 0, false
	}
	return m.grid.TileID(x, y, z), true
}

// PendingCount returns the number of queued edits awaiting a grid.
func (m *MapEditSync) PendingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

func (m *MapEditSync) requestRefreshLocked() {
	if m.refresher != nil {
		m.refresher.RequestRefresh()
	}
}
