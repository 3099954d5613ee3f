// Package session ties the backend's session endpoint to the local access
// model and durable state: it signs in, hydrates "who am I", and tears
// everything down on logout or auth failure.
package session

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/craftpanel/panelctl/internal/access"
	"github.com/craftpanel/panelctl/internal/apiclient"
	"github.com/craftpanel/panelctl/internal/state"
)

const (
	loginPath = "/api/auth/login"
	mePath    = "/api/users/me"
)

// Service owns the current session lifecycle.
type Service struct {
	client *apiclient.Client
	store  *state.Store
	model  *access.Model
	logger zerolog.Logger

	// OnInvalidated, when set, runs after the session is torn down, either
	// by Logout or by a 401. Used to disconnect push channels.
	OnInvalidated func()
}

// NewService creates a session service around the shared client, durable
// store, and access model.
func NewService(client *apiclient.Client, store *state.Store, model *access.Model, logger zerolog.Logger) *Service {
	return &Service{
		client: client,
		store:  store,
		model:  model,
		logger: logger.With().Str("component", "session").Logger(),
	}
}

// userPayload is the wire shape of GET /api/users/me.
type userPayload struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
	Owner    bool   `json:"owner"`
	Admin    bool   `json:"admin"`
	Role     string `json:"role,omitempty"`
	Groups   []struct {
		ID   string `json:"id"`
		Role string `json:"role"`
	} `json:"groups,omitempty"`
}

// Login exchanges credentials for a token, persists it, and hydrates the
// session.
func (s *Service) Login(ctx context.Context, username, password string) error {
	var resp struct {
		Token string `json:"token"`
	}
	body := map[string]string{"username": username, "password": password}
	if err := s.client.PostJSON(ctx, loginPath, body, &resp); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	if resp.Token == "" {
		return fmt.Errorf("login response carried no token")
	}
	if err := s.store.SetToken(resp.Token); err != nil {
		return fmt.Errorf("failed to persist token: %w", err)
	}

	s.logger.Info().Str("username", username).Msg("Signed in")
	return s.Fetch(ctx)
}

// Fetch hydrates the access model from the backend's session endpoint. For
// non-admin users the persisted active-group selection is replayed into the
// model (which revalidates it) and the surviving selection is written back.
func (s *Service) Fetch(ctx context.Context) error {
	var payload userPayload
	if err := s.client.GetJSON(ctx, mePath, nil, &payload); err != nil {
		return fmt.Errorf("failed to fetch session: %w", err)
	}

	user := s.toUser(payload)
	var persisted []string
	if !user.Owner && !user.Admin {
		persisted = s.store.ActiveGroupIDs()
	}
	s.model.SetUser(user, persisted)

	if !user.Owner && !user.Admin {
		if err := s.store.SetActiveGroupIDs(s.model.ActiveGroups()); err != nil {
			s.logger.Warn().Err(err).Msg("Failed to persist active group selection")
		}
	}

	s.logger.Debug().Str("user", user.Username).Str("level", s.model.EffectiveLevel().String()).Msg("Session hydrated")
	return nil
}

// SelectGroups changes the active operating groups and persists the
// selection for non-admin users.
func (s *Service) SelectGroups(ids []string) error {
	s.model.SetActiveGroups(ids)

	user, ok := s.model.User()
	if !ok || user.Owner || user.Admin {
		return nil
	}
	return s.store.SetActiveGroupIDs(s.model.ActiveGroups())
}

// Logout clears the stored token and the access model, then runs the
// invalidation hook.
func (s *Service) Logout() error {
	err := s.store.ClearToken()
	s.teardown()
	if err != nil {
		return fmt.Errorf("failed to clear token: %w", err)
	}
	return nil
}

// Invalidate tears the local session down without touching the token; the
// client already cleared it when it saw the 401. Wire this as the client's
// OnUnauthorized hook.
func (s *Service) Invalidate() {
	s.logger.Info().Msg("Session invalidated")
	s.teardown()
}

func (s *Service) teardown() {
	s.model.Clear()
	if s.OnInvalidated != nil {
		s.OnInvalidated()
	}
}

func (s *Service) toUser(payload userPayload) *access.User {
	user := &access.User{
		ID:       payload.ID,
		Username: payload.Username,
		Avatar:   payload.Avatar,
		Owner:    payload.Owner,
		Admin:    payload.Admin,
		Groups:   make(map[string]access.Role, len(payload.Groups)),
	}

	if payload.Role != "" {
		level, err := access.ParseRole(payload.Role)
		if err != nil {
			s.logger.Warn().Str("role", payload.Role).Msg("Unknown global role, treating as GUEST")
		}
		user.GlobalLevel = level
	}

	for _, g := range payload.Groups {
		level, err := access.ParseRole(g.Role)
		if err != nil {
			s.logger.Warn().Str("group", g.ID).Str("role", g.Role).Msg("Unknown group role, skipping")
			continue
		}
		user.Groups[g.ID] = level
	}
	return user
}
