// Package main provides the headless Explore client: it authenticates
// against the backend, connects the realtime socket, joins a room, and keeps
// the synchronized room view alive until interrupted. Useful for smoke
// testing a backend and as the reference wiring for engine integrations.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/avianjay/explore/internal/api"
	"github.com/avianjay/explore/internal/client"
	"github.com/avianjay/explore/internal/config"
	"github.com/avianjay/explore/internal/observability"
	"github.com/avianjay/explore/internal/protocol"
	"github.com/avianjay/explore/internal/server"
	"github.com/avianjay/explore/internal/space"
)

// backendAdapter narrows the REST client to the surface the space needs.
type backendAdapter struct {
	client *api.Client
}

func (b *backendAdapter) SpaceTiles(ctx context.Context, roomID string) ([]protocol.TileEdit, error) {
	return b.client.SpaceTiles(ctx, roomID)
}

func (b *backendAdapter) RoomInfo(ctx context.Context, roomID string) (space.RoomInfo, error) {
	info, err := b.client.Server(ctx, roomID)
	if err != nil {
		return space.RoomInfo{}, err
	}
	return space.RoomInfo{
		ID:          info.ID,
		Name:        info.Name,
		IconURL:     info.IconURL,
		MemberCount: info.MemberCount,
	}, nil
}

func (b *backendAdapter) SetSkin(ctx context.Context, skinID string) error {
	return b.client.SetSkin(ctx, skinID)
}

// logPublisher reports presence to the log instead of a platform SDK.
type logPublisher struct {
	logger *zap.Logger
}

func (p *logPublisher) SetActivity(details, roomName, roomIcon string) {
	p.logger.Info("presence",
		zap.String("details", details),
		zap.String("room_name", roomName),
		zap.String("room_icon", roomIcon),
	)
}

// logNotifier surfaces user-facing notices on the log.
type logNotifier struct {
	logger *zap.Logger
}

func (n *logNotifier) Notify(message string) {
	n.logger.Warn("notice", zap.String("message", message))
}

func main() {
	configPath := flag.String("config", "configs/explore.yaml", "path to configuration file")
	authCode := flag.String("code", "", "OAuth authorization code for the auth flow")
	authToken := flag.String("token", "", "pre-issued auth token; skips the auth flow")
	room := flag.String("room", "", "room to join; empty joins the default room")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		log.Fatalf("initializing logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	token := *authToken
	if token == "" {
		if *authCode == "" {
			logger.Fatal("either -token or -code is required")
		}
		token, err = authenticate(ctx, cfg, *authCode, logger)
		if err != nil {
			logger.Fatal("authentication failed", zap.Error(err))
		}
	}

	session := space.NewSession(token, cfg.Room.DefaultID)
	rest := api.NewClient(cfg.Server, session, logger)

	if profile, err := rest.Me(ctx); err != nil {
		logger.Warn("fetching profile failed", zap.Error(err))
	} else {
		logger.Info("profile loaded", zap.String("name", profile.Name))
	}

	socketURL, err := cfg.Server.SocketURL()
	if err != nil {
		logger.Fatal("deriving socket URL", zap.Error(err))
	}

	// The space handles the socket's events and the socket carries the
	// space's sends, so wire them in two steps.
	manager := client.NewManager(socketURL, session, nil, cfg.Reconnect, logger)
	backend := &backendAdapter{client: rest}
	sp := space.NewSpace(session, manager, backend, &logPublisher{logger}, &logNotifier{logger}, logger)
	manager.SetHandler(sp)

	if err := manager.Connect(ctx); err != nil {
		logger.Fatal("connecting socket", zap.Error(err))
	}

	target := *room
	if target == "" {
		target = cfg.Room.DefaultID
	}
	sp.EnterRoom(ctx, target)

	lc := server.NewLifecycle(logger)
	lc.Add("socket", &server.FuncService{
		StartFn: func() error {
			// The socket runs on its own goroutines; periodically report the
			// room view so a headless run shows liveness.
			for {
				time.Sleep(30 * time.Second)
				logger.Info("room view",
					zap.String("room", session.RoomID()),
					zap.Int("remote_players", sp.Registry().Size()),
				)
			}
		},
		StopFn: manager.Close,
	})

	if err := lc.Run(ctx); err != nil {
		logger.Fatal("lifecycle error", zap.Error(err))
	}
}

// authenticate runs the two-leg token exchange: OAuth code to platform token,
// then platform token to Explore auth token.
func authenticate(ctx context.Context, cfg config.Config, code string, logger *zap.Logger) (string, error) {
	rest := api.NewClient(cfg.Server, nil, logger)

	discordToken, err := rest.Authenticate(ctx, code)
	if err != nil {
		return "", err
	}
	return rest.ExchangeDiscordToken(ctx, discordToken)
}
