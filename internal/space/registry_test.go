package space

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/avianjay/explore/internal/protocol"
)

// fakeSurface records every render call so tests can assert on the handle
// lifecycle without a real engine.
type fakeSurface struct {
	attached  map[string]EntityView
	placed    map[string][2]int
	steps     []string
	detaches  []string
	refreshed []string
}

func newFakeSurface() *fakeSurface {
	return &fakeSurface{
		attached: make(map[string]EntityView),
		placed:   make(map[string][2]int),
	}
}

func (f *fakeSurface) Attach(v EntityView) { f.attached[v.UserID] = v }
func (f *fakeSurface) Detach(userID string) {
	delete(f.attached, userID)
	f.detaches = append(f.detaches, userID)
}
func (f *fakeSurface) Refresh(v EntityView) {
	f.attached[v.UserID] = v
	f.refreshed = append(f.refreshed, v.UserID)
}
func (f *fakeSurface) Step(userID string, dir protocol.Direction, moveSpeed float64, moveFrequency int) {
	f.steps = append(f.steps, fmt.Sprintf("%s:%s", userID, dir))
}
func (f *fakeSurface) Place(userID string, x, y int) {
	f.placed[userID] = [2]int{x, y}
}

func intPtr(v int) *int       { return &v }
func strPtr(s string) *string { return &s }

func newTestRegistry(t *testing.T) (*Registry, *Session) {
	t.Helper()
	session := NewSession("tok", "world")
	session.SetIdentity("self", "Me")
	return NewRegistry(session, zap.NewNop()), session
}

func TestRegistrySpawnNeverDuplicates(t *testing.T) {
	r, _ := newTestRegistry(t)

	p := protocol.Player{UserID: "u-1", X: intPtr(3), Y: intPtr(4)}
	r.Spawn(p)
	r.Spawn(p)
	r.Spawn(p)

	assert.Equal(t, 1, r.Size())
}

func TestRegistrySpawnUpdatesExistingInPlace(t *testing.T) {
	r, _ := newTestRegistry(t)
	surface := newFakeSurface()
	r.AttachSurface(surface)

	r.Spawn(protocol.Player{UserID: "u-1", Name: "First", X: intPtr(3), Y: intPtr(4)})
	r.Spawn(protocol.Player{UserID: "u-1", X: intPtr(7), Y: intPtr(8), SkinID: strPtr("actor2")})

	e, ok := r.Get("u-1")
	require.True(t, ok)
	assert.Equal(t, 7, e.X)
	assert.Equal(t, 8, e.Y)
	assert.Equal(t, "actor2", e.SkinID)
	// Name survives a record that omits it.
	assert.Equal(t, "First", e.Name)
	// Same handle all along, never detached.
	assert.Empty(t, surface.detaches)
}

func TestRegistrySpawnDefaultsPositionAndFacing(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.Spawn(protocol.Player{UserID: "u-1"})

	e, ok := r.Get("u-1")
	require.True(t, ok)
	assert.Equal(t, protocol.DefaultSpawnX, e.X)
	assert.Equal(t, protocol.DefaultSpawnY, e.Y)
	assert.Equal(t, protocol.DirDown, e.Facing)
}

func TestRegistryFiltersSelfEverywhere(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.Spawn(protocol.Player{UserID: "self"})
	assert.Equal(t, 0, r.Size())

	r.Move(protocol.UserMovedPayload{UserID: "self", Direction: protocol.DirUp, X: 1, Y: 1})
	assert.Equal(t, 0, r.Size())

	r.ApplySnapshot([]protocol.Player{
		{UserID: "self"},
		{UserID: "u-1"},
	})
	assert.Equal(t, 1, r.Size())
	_, ok := r.Get("self")
	assert.False(t, ok)
}

func TestRegistryRemoveUnknownIsNoOp(t *testing.T) {
	r, _ := newTestRegistry(t)
	surface := newFakeSurface()
	r.AttachSurface(surface)

	r.Remove("ghost")

	assert.Equal(t, 0, r.Size())
	assert.Empty(t, surface.detaches)
}

func TestRegistryMoveUnknownSpawnsAtEventPosition(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.Move(protocol.UserMovedPayload{
		UserID:    "u-1",
		Direction: protocol.DirRight,
		X:         5,
		Y:         6,
	})

	e, ok := r.Get("u-1")
	require.True(t, ok)
	assert.Equal(t, 5, e.X)
	assert.Equal(t, 6, e.Y)
	assert.Equal(t, protocol.DirRight, e.Facing)
}

func TestRegistryMoveAnimatesThenHardCorrects(t *testing.T) {
	r, _ := newTestRegistry(t)
	surface := newFakeSurface()
	r.AttachSurface(surface)

	r.Spawn(protocol.Player{UserID: "u-1", X: intPtr(3), Y: intPtr(3)})

	// Contiguous step: stepping left from (3,3) lands exactly on (2,3).
	r.Move(protocol.UserMovedPayload{UserID: "u-1", Direction: protocol.DirLeft, X: 2, Y: 3})
	e, _ := r.Get("u-1")
	assert.Equal(t, 2, e.X)
	assert.Equal(t, []string{"u-1:left"}, surface.steps)
	// No correction needed.
	_, corrected := surface.placed["u-1"]
	assert.False(t, corrected)

	// Dropped intermediate events: the step animation cannot reach (9,9), so
	// the position snaps to the authoritative coordinates.
	r.Move(protocol.UserMovedPayload{UserID: "u-1", Direction: protocol.DirDown, X: 9, Y: 9})
	e, _ = r.Get("u-1")
	assert.Equal(t, 9, e.X)
	assert.Equal(t, 9, e.Y)
	assert.Equal(t, [2]int{9, 9}, surface.placed["u-1"])
}

func TestRegistryMoveKeepsTuningWhenOmitted(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.Spawn(protocol.Player{UserID: "u-1", X: intPtr(1), Y: intPtr(1), MoveSpeed: 4, MoveFrequency: 5})
	r.Move(protocol.UserMovedPayload{UserID: "u-1", Direction: protocol.DirUp, X: 1, Y: 0})

	e, _ := r.Get("u-1")
	assert.Equal(t, 4.0, e.MoveSpeed)
	assert.Equal(t, 5, e.MoveFrequency)

	r.Move(protocol.UserMovedPayload{UserID: "u-1", Direction: protocol.DirUp, X: 1, Y: -1, MoveSpeed: 3, MoveFrequency: 2})
	e, _ = r.Get("u-1")
	assert.Equal(t, 3.0, e.MoveSpeed)
	assert.Equal(t, 2, e.MoveFrequency)
}

func TestRegistryApplySnapshotRemovesAbsent(t *testing.T) {
	r, _ := newTestRegistry(t)
	surface := newFakeSurface()
	r.AttachSurface(surface)

	r.Spawn(protocol.Player{UserID: "u-1"})
	r.Spawn(protocol.Player{UserID: "u-2"})
	r.Spawn(protocol.Player{UserID: "u-3"})

	r.ApplySnapshot([]protocol.Player{
		{UserID: "u-2", X: intPtr(5), Y: intPtr(5)},
	})

	assert.Equal(t, 1, r.Size())
	_, ok := r.Get("u-2")
	assert.True(t, ok)
	assert.ElementsMatch(t, []string{"u-1", "u-3"}, surface.detaches)
}

func TestRegistryApplySnapshotEmptyClearsEverything(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.Spawn(protocol.Player{UserID: "u-1"})
	r.Spawn(protocol.Player{UserID: "u-2"})

	r.ApplySnapshot(nil)

	assert.Equal(t, 0, r.Size())
}

func TestRegistryUpdateSkinUnknownIsNoOp(t *testing.T) {
	r, _ := newTestRegistry(t)

	r.UpdateSkin("ghost", "actor2")

	assert.Equal(t, 0, r.Size())
}

func TestRegistryUpdateSkinRefreshesHandle(t *testing.T) {
	r, _ := newTestRegistry(t)
	surface := newFakeSurface()
	r.AttachSurface(surface)

	r.Spawn(protocol.Player{UserID: "u-1"})
	r.UpdateSkin("u-1", "actor7")

	e, _ := r.Get("u-1")
	assert.Equal(t, "actor7", e.SkinID)
	assert.Contains(t, surface.refreshed, "u-1")
}

func TestRegistrySurfaceDetachKeepsLogicalState(t *testing.T) {
	r, _ := newTestRegistry(t)
	surface := newFakeSurface()
	r.AttachSurface(surface)

	r.Spawn(protocol.Player{UserID: "u-1", X: intPtr(4), Y: intPtr(2)})
	r.DetachSurface()

	// Mutations while detached still land on logical state.
	r.Move(protocol.UserMovedPayload{UserID: "u-1", Direction: protocol.DirDown, X: 4, Y: 3})
	e, ok := r.Get("u-1")
	require.True(t, ok)
	assert.Equal(t, 3, e.Y)

	// Reattaching recreates a handle per entity.
	fresh := newFakeSurface()
	r.AttachSurface(fresh)
	assert.Len(t, fresh.attached, 1)
	assert.Equal(t, 3, fresh.attached["u-1"].Y)
}

// The registry invariant: after any sequence of spawn/move/remove/snapshot
// operations, every tracked entity has a unique non-self user id and, when a
// surface is attached, exactly one handle per entity.
func TestRegistryOperationSequences(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		session := NewSession("tok", "world")
		session.SetIdentity("self", "Me")
		r := NewRegistry(session, zap.NewNop())
		surface := newFakeSurface()
		r.AttachSurface(surface)

		ids := rapid.SampledFrom([]string{"self", "u-1", "u-2", "u-3"})
		dirs := rapid.SampledFrom([]protocol.Direction{
			protocol.DirUp, protocol.DirDown, protocol.DirLeft, protocol.DirRight,
		})

		steps := rapid.IntRange(1, 40).Draw(t, "steps")
		for i := 0; i < steps; i++ {
			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0:
				r.Spawn(protocol.Player{UserID: ids.Draw(t, "spawn_id")})
			case 1:
				r.Move(protocol.UserMovedPayload{
					UserID:    ids.Draw(t, "move_id"),
					Direction: dirs.Draw(t, "dir"),
					X:         rapid.IntRange(0, 20).Draw(t, "x"),
					Y:         rapid.IntRange(0, 20).Draw(t, "y"),
				})
			case 2:
				r.Remove(ids.Draw(t, "remove_id"))
			case 3:
				members := []protocol.Player{}
				for _, id := range []string{"u-1", "u-2"} {
					if rapid.Bool().Draw(t, "include_"+id) {
						members = append(members, protocol.Player{UserID: id})
					}
				}
				r.ApplySnapshot(members)
			}
		}

		_, hasSelf := r.Get("self")
		assert.False(t, hasSelf)
		assert.Len(t, surface.attached, r.Size())
		for _, e := range r.Members() {
			_, ok := surface.attached[e.UserID]
			assert.True(t, ok)
		}
	})
}
