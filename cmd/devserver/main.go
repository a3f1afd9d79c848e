// Package main provides the all-in-one development backend for Explore:
// token auth, the REST API, and the realtime socket, backed by in-memory
// state and YAML content.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/avianjay/explore/internal/config"
	"github.com/avianjay/explore/internal/devserver"
	"github.com/avianjay/explore/internal/observability"
	"github.com/avianjay/explore/internal/server"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/explore.yaml", "path to configuration file")
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

	hub := devserver.NewHub(cfg.Room.DefaultID, logger)

	rooms, err := devserver.LoadRooms(cfg.DevServer.RoomsFile)
	if err != nil {
		logger.Fatal("loading rooms", zap.Error(err))
	}
	for _, r := range rooms {
		hub.AddRoom(r.ID, r.Name, r.IconURL, r.Private, r.Members)
	}
	logger.Info("rooms loaded", zap.Int("count", len(rooms)))

	catalog, err := devserver.LoadSkinCatalog(cfg.DevServer.SkinDir)
	if err != nil {
		logger.Fatal("loading skin catalog", zap.Error(err))
	}
	logger.Info("skin catalog loaded", zap.Int("count", len(catalog.List())))

	srv := devserver.NewServer(cfg.DevServer, hub, catalog, logger)

	lc := server.NewLifecycle(logger)
	lc.Add("http", srv)

	logger.Info("devserver ready",
		zap.String("addr", cfg.DevServer.Addr),
		zap.Duration("startup", time.Since(start)),
	)
	if err := lc.Run(context.Background()); err != nil {
		logger.Fatal("lifecycle error", zap.Error(err))
	}
}
