package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/avianjay/explore/internal/config"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Development only: the real backend enforces origins.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Server serves the REST API and the realtime socket on one listener.
type Server struct {
	cfg     config.DevServerConfig
	hub     *Hub
	catalog *SkinCatalog
	logger  *zap.Logger
	httpSrv *http.Server
}

// NewServer builds a Server around an already-populated hub and catalog.
//
// Precondition: hub and logger must be non-nil; catalog may be nil to accept
// any skin id.
func NewServer(cfg config.DevServerConfig, hub *Hub, catalog *SkinCatalog, logger *zap.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		hub:     hub,
		catalog: catalog,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/explore/authenticate", s.handleAuthenticate)
	mux.HandleFunc("POST /api/explore/auth/discord-token", s.handleTokenExchange)
	mux.HandleFunc("GET /api/explore/me", s.handleMe)
	mux.HandleFunc("POST /api/explore/me/skin", s.handleSetSkin)
	mux.HandleFunc("GET /api/explore/servers", s.handleServers)
	mux.HandleFunc("GET /api/explore/server/{id}", s.handleServer)
	mux.HandleFunc("GET /api/explore/space/{id}", s.handleSpace)
	mux.HandleFunc("GET /api/explore/skins", s.handleSkins)
	mux.HandleFunc("/socket", s.handleSocket)

	s.httpSrv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler exposes the HTTP handler, for tests that run against httptest.
func (s *Server) Handler() http.Handler { return s.httpSrv.Handler }

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.logger.Info("devserver listening", zap.String("addr", s.cfg.Addr))
	if err := s.httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Warn("shutdown error", zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// bearerToken extracts the token from the Authorization header, falling back
// to the token query parameter for browser websocket clients.
func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return r.URL.Query().Get("token")
}

func (s *Server) authedUser(w http.ResponseWriter, r *http.Request) (*User, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "missing auth token")
		return nil, false
	}
	user, ok := s.hub.UserByToken(token)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid auth token")
		return nil, false
	}
	return user, true
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAuthenticate stands in for the OAuth code exchange: any non-empty
// code yields a platform token for a generated guest identity.
func (s *Server) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Code string `json:"code"`
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Code == "" {
		writeError(w, http.StatusBadRequest, "missing code")
		return
	}
	name := body.Name
	if name == "" {
		name = "Guest-" + uuid.NewString()[:8]
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": s.hub.MintDiscordToken(name)})
}

func (s *Server) handleTokenExchange(w http.ResponseWriter, r *http.Request) {
	var body struct {
		DiscordToken string `json:"discord_token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.DiscordToken == "" {
		writeError(w, http.StatusBadRequest, "missing discord_token")
		return
	}
	token, ok := s.hub.ExchangeDiscordToken(body.DiscordToken)
	if !ok {
		writeError(w, http.StatusUnauthorized, "unknown discord token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"auth_token": token})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authedUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"user_id": user.ID,
		"name":    user.Name,
		"skin_id": user.SkinID,
	})
}

func (s *Server) handleSetSkin(w http.ResponseWriter, r *http.Request) {
	user, ok := s.authedUser(w, r)
	if !ok {
		return
	}
	var body struct {
		SkinID string `json:"skin_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.SkinID == "" {
		writeError(w, http.StatusBadRequest, "missing skin_id")
		return
	}
	if !s.hub.SetSkin(user, body.SkinID, s.catalog) {
		writeError(w, http.StatusBadRequest, "unknown skin id")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authedUser(w, r); !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.hub.RoomList())
}

func (s *Server) handleServer(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authedUser(w, r); !ok {
		return
	}
	id := r.PathValue("id")
	name, icon, count, ok := s.hub.RoomInfo(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown server")
		return
	}
	writeJSON(w, http.StatusOK, RoomSummary{ID: id, Name: name, IconURL: icon, MemberCount: count})
}

func (s *Server) handleSpace(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authedUser(w, r); !ok {
		return
	}
	tiles, ok := s.hub.Tiles(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown server")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tiles": tiles})
}

func (s *Server) handleSkins(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.authedUser(w, r); !ok {
		return
	}
	if s.catalog == nil {
		writeJSON(w, http.StatusOK, []SkinEntry{})
		return
	}
	writeJSON(w, http.StatusOK, s.catalog.List())
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	user, ok := s.hub.UserByToken(token)
	if !ok {
		http.Error(w, "invalid auth token", http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	s.logger.Info("socket accepted", zap.String("user_id", user.ID))

	conn := newClientConn(ws, user, s.logger)
	go conn.writePump()
	go conn.readPump(s.hub)
}
