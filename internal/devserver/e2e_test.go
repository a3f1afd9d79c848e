package devserver

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/avianjay/explore/internal/api"
	"github.com/avianjay/explore/internal/client"
	"github.com/avianjay/explore/internal/config"
	"github.com/avianjay/explore/internal/protocol"
	"github.com/avianjay/explore/internal/space"
)

// restBackend adapts the REST client to the space's backend port, the same
// wiring the client binary uses.
type restBackend struct {
	client *api.Client
}

func (b *restBackend) SpaceTiles(ctx context.Context, roomID string) ([]protocol.TileEdit, error) {
	return b.client.SpaceTiles(ctx, roomID)
}

func (b *restBackend) RoomInfo(ctx context.Context, roomID string) (space.RoomInfo, error) {
	info, err := b.client.Server(ctx, roomID)
	if err != nil {
		return space.RoomInfo{}, err
	}
	return space.RoomInfo{ID: info.ID, Name: info.Name, IconURL: info.IconURL, MemberCount: info.MemberCount}, nil
}

func (b *restBackend) SetSkin(ctx context.Context, skinID string) error {
	return b.client.SetSkin(ctx, skinID)
}

type capturingNotifier struct {
	mu       sync.Mutex
	messages []string
}

func (n *capturingNotifier) Notify(message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, message)
}

func (n *capturingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

// memGrid is a bounded in-memory tile grid satisfying the space's grid port.
type memGrid struct {
	mu    sync.Mutex
	size  int
	tiles map[[3]int]int
}

func newMemGrid(size int) *memGrid {
	return &memGrid{size: size, tiles: make(map[[3]int]int)}
}

func (g *memGrid) SetTile(x, y, z, tileID int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.tiles[[3]int{x, y, z}] = tileID
}

func (g *memGrid) TileID(x, y, z int) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.tiles[[3]int{x, y, z}]
}

func (g *memGrid) Contains(x, y int) bool {
	return x >= 0 && x < g.size && y >= 0 && y < g.size
}

// fullClient is one completely wired client stack talking to the devserver.
type fullClient struct {
	session  *space.Session
	manager  *client.Manager
	space    *space.Space
	notifier *capturingNotifier
}

func connectFullClient(t *testing.T, ts *httptest.Server, name string) *fullClient {
	t.Helper()

	token := authFlow(t, ts.URL, name)
	session := space.NewSession(token, "world")

	cfg := config.ServerConfig{BaseURL: ts.URL, SocketPath: "/socket", RequestTimeout: 2 * time.Second}
	rest := api.NewClient(cfg, session, zap.NewNop())

	socketURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/socket"
	manager := client.NewManager(socketURL, session, nil, config.ReconnectConfig{
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		MaxAttempts:    5,
	}, zap.NewNop())

	notifier := &capturingNotifier{}
	sp := space.NewSpace(session, manager, &restBackend{client: rest}, nil, notifier, zap.NewNop())
	manager.SetHandler(sp)

	require.NoError(t, manager.Connect(context.Background()))
	t.Cleanup(manager.Close)

	return &fullClient{session: session, manager: manager, space: sp, notifier: notifier}
}

func TestEndToEndRoomSync(t *testing.T) {
	_, ts := newTestServer(t)
	ctx := context.Background()

	alice := connectFullClient(t, ts, "Alice")
	alice.space.EnterRoom(ctx, "guild-1")

	require.Eventually(t, func() bool {
		return alice.session.UserID() != ""
	}, 2*time.Second, 10*time.Millisecond, "joined never arrived")

	bob := connectFullClient(t, ts, "Bob")
	bob.space.EnterRoom(ctx, "guild-1")

	// Alice sees Bob appear at the spawn point.
	require.Eventually(t, func() bool {
		return alice.space.Registry().Size() == 1
	}, 2*time.Second, 10*time.Millisecond, "user_joined never arrived")

	require.Eventually(t, func() bool {
		return bob.session.UserID() != ""
	}, 2*time.Second, 10*time.Millisecond)

	// Bob walks one tile; Alice's registry converges to the reported spot.
	bob.space.LocalStepped(protocol.DirRight, 12, 11, 4, 5)
	require.Eventually(t, func() bool {
		for _, e := range alice.space.Registry().Members() {
			if e.X == 12 && e.Y == 11 && e.Facing == protocol.DirRight {
				return true
			}
		}
		return false
	}, 2*time.Second, 10*time.Millisecond, "user_moved never applied")

	// Bob leaves; Alice's registry empties.
	bob.space.LeaveToDefault(ctx)
	require.Eventually(t, func() bool {
		return alice.space.Registry().Size() == 0
	}, 2*time.Second, 10*time.Millisecond, "user_left never applied")
}

func TestEndToEndMembershipRecovery(t *testing.T) {
	_, ts := newTestServer(t)
	ctx := context.Background()

	outsider := connectFullClient(t, ts, "Outsider")
	outsider.space.EnterRoom(ctx, "guild-2")

	// The private room rejects the join; the client notifies and falls back
	// to the default room.
	require.Eventually(t, func() bool {
		return outsider.session.RoomID() == "world" && outsider.notifier.count() == 1
	}, 2*time.Second, 10*time.Millisecond, "membership recovery never ran")
}

func TestEndToEndTileEditsReachLateJoiners(t *testing.T) {
	_, ts := newTestServer(t)
	ctx := context.Background()

	editor := connectFullClient(t, ts, "Editor")
	editor.space.EnterRoom(ctx, "guild-1")
	require.Eventually(t, func() bool {
		return editor.session.UserID() != ""
	}, 2*time.Second, 10*time.Millisecond)

	grid := newMemGrid(30)
	editor.space.MapReady(grid, nil)
	editor.session.SetEditor(true)
	require.NoError(t, editor.space.EditTile(5, 6, 0, 1544))

	// A client joining afterwards refetches tiles over REST and sees the edit.
	late := connectFullClient(t, ts, "Late")
	late.space.EnterRoom(ctx, "guild-1")
	lateGrid := newMemGrid(30)
	late.space.MapReady(lateGrid, nil)

	require.Eventually(t, func() bool {
		return lateGrid.TileID(5, 6, 0) == 1544
	}, 2*time.Second, 10*time.Millisecond, "persisted edit never fetched")

	assert.Equal(t, 1544, grid.TileID(5, 6, 0))
}
