// Package api is the REST client for the Explore backend: authentication,
// profile, server metadata, persisted space tiles, and the skin catalog.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/avianjay/explore/internal/config"
	"github.com/avianjay/explore/internal/protocol"
)

// TokenSource supplies the bearer token attached to authenticated requests.
// Requests made before authentication completes carry no token.
type TokenSource interface {
	Token() string
}

// Profile is the local user's record.
type Profile struct {
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	SkinID string `json:"skin_id"`
}

// ServerInfo is one joinable server's metadata.
type ServerInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	IconURL     string `json:"icon_url"`
	MemberCount int    `json:"member_count"`
}

// Skin is one entry of the skin catalog.
type Skin struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Client talks to the Explore REST API. All methods honor the passed context
// and return an error on any non-2xx response; callers decide whether a
// failure is fatal or degrades gracefully.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	logger  *zap.Logger
}

// NewClient creates a Client for the configured backend.
//
// Precondition: logger must be non-nil; tokens may be nil for the
// pre-authentication calls only.
func NewClient(cfg config.ServerConfig, tokens TokenSource, logger *zap.Logger) *Client {
	return &Client{
		baseURL: cfg.BaseURL,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		tokens:  tokens,
		logger:  logger,
	}
}

// apiError is the backend's JSON error shape.
type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding %s %s request: %w", method, path, err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building %s %s request: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	c.logger.Debug("api request",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
	)

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading %s %s response: %w", method, path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var ae apiError
		if json.Unmarshal(payload, &ae) == nil && ae.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, ae.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("decoding %s %s response: %w", method, path, err)
	}
	return nil
}

// Status checks backend liveness.
func (c *Client) Status(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/api/status", nil, nil)
}

// Authenticate exchanges an OAuth authorization code for a platform access
// token. This is the first leg of the auth flow and carries no bearer token.
func (c *Client) Authenticate(ctx context.Context, code string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	body := map[string]string{"code": code}
	if err := c.do(ctx, http.MethodPost, "/api/explore/authenticate", body, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", errors.New("authenticate response missing token")
	}
	return out.Token, nil
}

// ExchangeDiscordToken trades a platform access token for the Explore auth
// token that authenticates every subsequent request and the socket.
func (c *Client) ExchangeDiscordToken(ctx context.Context, discordToken string) (string, error) {
	var out struct {
		AuthToken string `json:"auth_token"`
	}
	body := map[string]string{"discord_token": discordToken}
	if err := c.do(ctx, http.MethodPost, "/api/explore/auth/discord-token", body, &out); err != nil {
		return "", err
	}
	if out.AuthToken == "" {
		return "", errors.New("token exchange response missing auth_token")
	}
	return out.AuthToken, nil
}

// Me fetches the local user's profile.
func (c *Client) Me(ctx context.Context) (Profile, error) {
	var p Profile
	if err := c.do(ctx, http.MethodGet, "/api/explore/me", nil, &p); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Server fetches one server's display metadata.
func (c *Client) Server(ctx context.Context, guildID string) (ServerInfo, error) {
	var info ServerInfo
	path := "/api/explore/server/" + url.PathEscape(guildID)
	if err := c.do(ctx, http.MethodGet, path, nil, &info); err != nil {
		return ServerInfo{}, err
	}
	return info, nil
}

// Servers lists the servers the local user may enter.
func (c *Client) Servers(ctx context.Context) ([]ServerInfo, error) {
	var out []ServerInfo
	if err := c.do(ctx, http.MethodGet, "/api/explore/servers", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SpaceTiles fetches a room's persisted tile edits in application order.
func (c *Client) SpaceTiles(ctx context.Context, guildID string) ([]protocol.TileEdit, error) {
	var out struct {
		Tiles []protocol.TileEdit `json:"tiles"`
	}
	path := "/api/explore/space/" + url.PathEscape(guildID)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Tiles, nil
}

// Skins fetches the skin catalog.
func (c *Client) Skins(ctx context.Context) ([]Skin, error) {
	var out []Skin
	if err := c.do(ctx, http.MethodGet, "/api/explore/skins", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SetSkin persists the local user's skin choice.
func (c *Client) SetSkin(ctx context.Context, skinID string) error {
	body := map[string]string{"skin_id": skinID}
	return c.do(ctx, http.MethodPost, "/api/explore/me/skin", body, nil)
}
