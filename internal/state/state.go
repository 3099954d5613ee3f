// Package state persists the small amount of durable client state: the auth
// token, cosmetic preferences, and the active group selection. Everything
// lives in one YAML file under the data directory.
package state

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const stateFileName = "state.yaml"

// fileState is the on-disk shape.
type fileState struct {
	Token            string   `yaml:"token,omitempty"`
	Theme            string   `yaml:"theme,omitempty"`
	SidebarCollapsed bool     `yaml:"sidebarCollapsed,omitempty"`
	ActiveGroupIDs   []string `yaml:"activeGroupIds,omitempty"`
}

// Store is the durable client state. All accessors are safe for concurrent
// use; every mutation is written through to disk immediately.
type Store struct {
	path   string
	logger zerolog.Logger

	mu   sync.Mutex
	data fileState
}

// Open loads (or initializes) the state file under dataDir. A missing file
// is not an error; a corrupt one is reset with a warning rather than
// blocking startup.
func Open(dataDir string, logger zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{
		path:   filepath.Join(dataDir, stateFileName),
		logger: logger.With().Str("component", "state").Logger(),
	}

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	if err := yaml.Unmarshal(raw, &s.data); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("State file unreadable, starting fresh")
		s.data = fileState{}
	}
	return s, nil
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Token returns the stored auth token, or "".
func (s *Store) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Token
}

// SetToken stores a new auth token.
func (s *Store) SetToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Token = token
	return s.saveLocked()
}

// ClearToken removes the stored token. Called on 401 and on logout.
func (s *Store) ClearToken() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data.Token == "" {
		return nil
	}
	s.data.Token = ""
	return s.saveLocked()
}

// TokenExpiresWithin reports whether the stored token carries an exp claim
// inside the window. The token is decoded without signature verification;
// only the backend can verify it, this is a client-side hint. A missing or
// unparseable token reports true so callers re-authenticate.
func (s *Store) TokenExpiresWithin(window time.Duration) bool {
	token := s.Token()
	if token == "" {
		return true
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		s.logger.Debug().Err(err).Msg("Stored token is not a parseable JWT")
		return true
	}
	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return time.Until(exp.Time) < window
}

// Theme returns the stored theme preference, or "".
func (s *Store) Theme() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.Theme
}

// SetTheme stores the theme preference.
func (s *Store) SetTheme(theme string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.Theme = theme
	return s.saveLocked()
}

// SidebarCollapsed returns the stored sidebar preference.
func (s *Store) SidebarCollapsed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.SidebarCollapsed
}

// SetSidebarCollapsed stores the sidebar preference.
func (s *Store) SetSidebarCollapsed(collapsed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.SidebarCollapsed = collapsed
	return s.saveLocked()
}

// ActiveGroupIDs returns the persisted active group selection.
func (s *Store) ActiveGroupIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.data.ActiveGroupIDs))
	copy(out, s.data.ActiveGroupIDs)
	return out
}

// SetActiveGroupIDs persists the active group selection.
func (s *Store) SetActiveGroupIDs(ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.ActiveGroupIDs = append([]string(nil), ids...)
	return s.saveLocked()
}

// Reset clears everything, including the token.
func (s *Store) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = fileState{}
	return s.saveLocked()
}

// saveLocked writes the state atomically: full write to a temp file in the
// same directory, then rename over the target.
func (s *Store) saveLocked() error {
	raw, err := yaml.Marshal(&s.data)
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
