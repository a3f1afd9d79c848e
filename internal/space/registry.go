package space

import (
	"sync"

	"go.uber.org/zap"

	"github.com/avianjay/explore/internal/protocol"
)

// Entity is the logical state of one remote participant. The registry owns
// every Entity exclusively; render handles live in the RenderSurface, keyed
// by user id.
type Entity struct {
	// UserID is the unique remote user identifier.
	UserID string
	// Name is the display name, when the server provided one.
	Name string
	// X, Y are the entity's tile coordinates.
	X, Y int
	// Facing is the direction the entity last stepped or spawned facing.
	Facing protocol.Direction
	// SkinID is the visual appearance identifier, "" when unset.
	SkinID string
	// MoveSpeed and MoveFrequency mirror the sender's walk animation tuning.
	MoveSpeed     float64
	MoveFrequency int
}

func (e *Entity) view() EntityView {
	return EntityView{
		UserID:        e.UserID,
		Name:          e.Name,
		X:             e.X,
		Y:             e.Y,
		Facing:        e.Facing,
		SkinID:        e.SkinID,
		MoveSpeed:     e.MoveSpeed,
		MoveFrequency: e.MoveFrequency,
	}
}

// Registry is the authoritative in-process mapping from remote user id to
// entity for the currently joined room. Every mutating operation filters out
// the local session's own user id, and all methods are safe for concurrent
// use.
type Registry struct {
	mu       sync.RWMutex
	session  *Session
	logger   *zap.Logger
	entities map[string]*Entity
	surface  RenderSurface // nil while no rendering surface exists
}

// NewRegistry creates an empty Registry bound to the given session.
//
// Precondition: session and logger must be non-nil.
func NewRegistry(session *Session, logger *zap.Logger) *Registry {
	return &Registry{
		session:  session,
		logger:   logger,
		entities: make(map[string]*Entity),
	}
}

// AttachSurface links a render surface and creates handles for every entity
// already present. Called when a rendering surface (re)appears, e.g. after a
// scene reload; logical state is untouched.
func (r *Registry) AttachSurface(surface RenderSurface) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surface = surface
	r.reattachLocked()
}

// DetachSurface unlinks the render surface without touching logical state.
// The registry remains fully queryable, e.g. during a scene transition.
func (r *Registry) DetachSurface() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.surface = nil
}

// ReattachRenderHandles re-links every entity to a freshly created render
// handle, leaving position, facing, and skin untouched.
func (r *Registry) ReattachRenderHandles() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reattachLocked()
}

func (r *Registry) reattachLocked() {
	if r.surface == nil {
		return
	}
	for _, e := range r.entities {
		r.surface.Attach(e.view())
	}
}

// ApplySnapshot replaces the entire room membership: entities absent from
// members are removed (releasing their render handles), then every listed
// member is created or updated in place. This is the only bulk-shrink path;
// it runs on every room_state, including the resync after a reconnect.
func (r *Registry) ApplySnapshot(members []protocol.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()

	keep := make(map[string]bool, len(members))
	for _, m := range members {
		if !r.session.IsSelf(m.UserID) {
			keep[m.UserID] = true
		}
	}
	for uid := range r.entities {
		if !keep[uid] {
			r.removeLocked(uid)
		}
	}
	for _, m := range members {
		r.spawnLocked(m)
	}
}

// Spawn creates or updates one entity from a player record. An existing
// entity keeps its identity and render handle; only its fields are updated.
func (r *Registry) Spawn(p protocol.Player) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.spawnLocked(p)
}

func (r *Registry) spawnLocked(p protocol.Player) {
	if r.session.IsSelf(p.UserID) {
		return
	}
	x, y := p.Position()

	e, ok := r.entities[p.UserID]
	if !ok {
		e = &Entity{
			UserID:        p.UserID,
			Name:          p.Name,
			X:             x,
			Y:             y,
			Facing:        p.Facing(),
			SkinID:        p.Skin(),
			MoveSpeed:     p.MoveSpeed,
			MoveFrequency: p.MoveFrequency,
		}
		r.entities[p.UserID] = e
		if r.surface != nil {
			r.surface.Attach(e.view())
		}
		r.logger.Debug("remote entity spawned",
			zap.String("user_id", p.UserID),
			zap.Int("x", x),
			zap.Int("y", y),
		)
		return
	}

	e.X, e.Y = x, y
	if p.Name != "" {
		e.Name = p.Name
	}
	if p.Direction != nil {
		e.Facing = p.Facing()
	}
	e.SkinID = p.Skin()
	if r.surface != nil {
		r.surface.Refresh(e.view())
		r.surface.Place(e.UserID, e.X, e.Y)
	}
}

// Move applies one remote step. Unknown user ids are implicitly spawned at
// the event's position: join and move originate from different server code
// paths, so a move may arrive for a user the client has never seen.
//
// For known entities the policy is "animate, then hard-correct": play a
// one-tile step matching the event direction, then snap the stored position
// to the server's authoritative coordinates if the step landed elsewhere.
// The occasional visual pop is accepted in exchange for guaranteed
// convergence with the server.
func (r *Registry) Move(m protocol.UserMovedPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session.IsSelf(m.UserID) {
		return
	}

	e, ok := r.entities[m.UserID]
	if !ok {
		x, y := m.X, m.Y
		dir := m.Direction
		r.spawnLocked(protocol.Player{
			UserID:        m.UserID,
			X:             &x,
			Y:             &y,
			Direction:     &dir,
			MoveSpeed:     m.MoveSpeed,
			MoveFrequency: m.MoveFrequency,
		})
		return
	}

	if m.MoveSpeed > 0 {
		e.MoveSpeed = m.MoveSpeed
	}
	if m.MoveFrequency > 0 {
		e.MoveFrequency = m.MoveFrequency
	}
	e.Facing = m.Direction

	dx, dy := m.Direction.StepDelta()
	steppedX, steppedY := e.X+dx, e.Y+dy
	if r.surface != nil {
		r.surface.Step(e.UserID, m.Direction, e.MoveSpeed, e.MoveFrequency)
	}

	e.X, e.Y = m.X, m.Y
	if steppedX != m.X || steppedY != m.Y {
		r.logger.Debug("correcting remote position",
			zap.String("user_id", m.UserID),
			zap.Int("x", m.X),
			zap.Int("y", m.Y),
		)
		if r.surface != nil {
			r.surface.Place(e.UserID, m.X, m.Y)
		}
	}
}

// UpdateSkin updates only the skin field and re-resolves the entity's visual
// representation. No-op if the entity does not exist.
func (r *Registry) UpdateSkin(userID, skinID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session.IsSelf(userID) {
		return
	}
	e, ok := r.entities[userID]
	if !ok {
		return
	}
	e.SkinID = skinID
	if r.surface != nil {
		r.surface.Refresh(e.view())
	}
}

// Remove destroys one entity and releases its render handle. No-op if absent.
func (r *Registry) Remove(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session.IsSelf(userID) {
		return
	}
	r.removeLocked(userID)
}

func (r *Registry) removeLocked(userID string) {
	if _, ok := r.entities[userID]; !ok {
		return
	}
	delete(r.entities, userID)
	if r.surface != nil {
		r.surface.Detach(userID)
	}
}

// Clear destroys every entity. Used when the active room is replaced so no
// stale entities leak across the transition.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for uid := range r.entities {
		r.removeLocked(uid)
	}
}

// Get returns a copy of the entity for userID.
//
// Postcondition: Returns (entity, true) if found, or (zero, false) otherwise.
func (r *Registry) Get(userID string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[userID]
	if !ok {
		return Entity{}, false
	}
	return *e, true
}

// Size returns the number of tracked remote entities.
func (r *Registry) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}

// Members returns a copy of every tracked entity.
func (r *Registry) Members() []Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, *e)
	}
	return out
}
