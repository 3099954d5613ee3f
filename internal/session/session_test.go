package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/craftpanel/panelctl/internal/access"
	"github.com/craftpanel/panelctl/internal/apiclient"
	"github.com/craftpanel/panelctl/internal/state"
)

type fixture struct {
	svc   *Service
	store *state.Store
	model *access.Model
}

func newFixture(t *testing.T, handler http.Handler) *fixture {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	store, err := state.Open(t.TempDir(), zerolog.Nop())
	if err != nil {
		t.Fatalf("state.Open() error = %v", err)
	}

	client, err := apiclient.New(apiclient.Options{
		BaseURL:     srv.URL,
		Credentials: store,
		Logger:      zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("apiclient.New() error = %v", err)
	}

	model := access.NewModel(zerolog.Nop())
	return &fixture{
		svc:   NewService(client, store, model, zerolog.Nop()),
		store: store,
		model: model,
	}
}

func meHandler(user map[string]interface{}) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case mePath:
			json.NewEncoder(w).Encode(user)
		case loginPath:
			json.NewEncoder(w).Encode(map[string]string{"token": "tok-xyz"})
		default:
			http.NotFound(w, r)
		}
	})
}

func TestLoginStoresTokenAndHydrates(t *testing.T) {
	f := newFixture(t, meHandler(map[string]interface{}{
		"id": "u1", "username": "alex", "role": "USER",
		"groups": []map[string]string{{"id": "g1", "role": "HELPER"}},
	}))

	if err := f.svc.Login(context.Background(), "alex", "hunter2"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if got := f.store.Token(); got != "tok-xyz" {
		t.Errorf("stored token = %q, want %q", got, "tok-xyz")
	}

	user, ok := f.model.User()
	if !ok {
		t.Fatal("model has no user after Login()")
	}
	if user.Username != "alex" {
		t.Errorf("Username = %q, want %q", user.Username, "alex")
	}
	// g1 is the only membership, so it is auto-selected.
	if got := f.model.EffectiveLevel(); got != access.RoleHelper {
		t.Errorf("EffectiveLevel() = %v, want %v", got, access.RoleHelper)
	}
}

func TestFetchRevalidatesPersistedGroups(t *testing.T) {
	f := newFixture(t, meHandler(map[string]interface{}{
		"id": "u1", "username": "alex",
		"groups": []map[string]string{
			{"id": "g-live", "role": "HELPER"},
			{"id": "g-other", "role": "USER"},
		},
	}))

	// One persisted ID is stale.
	f.store.SetActiveGroupIDs([]string{"g-dead", "g-live"})

	if err := f.svc.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if got := f.model.ActiveGroups(); len(got) != 1 || got[0] != "g-live" {
		t.Errorf("ActiveGroups() = %v, want [g-live]", got)
	}
	// The survivors were written back.
	if got := f.store.ActiveGroupIDs(); len(got) != 1 || got[0] != "g-live" {
		t.Errorf("persisted groups = %v, want [g-live]", got)
	}
}

func TestFetchSkipsPersistenceForAdmins(t *testing.T) {
	f := newFixture(t, meHandler(map[string]interface{}{
		"id": "u1", "username": "root", "owner": true,
	}))

	f.store.SetActiveGroupIDs([]string{"g-old"})

	if err := f.svc.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got := f.model.EffectiveLevel(); got != access.RoleOwner {
		t.Errorf("EffectiveLevel() = %v, want %v", got, access.RoleOwner)
	}
	// The stale persisted selection is left alone for platform admins.
	if got := f.store.ActiveGroupIDs(); len(got) != 1 || got[0] != "g-old" {
		t.Errorf("persisted groups = %v, want untouched [g-old]", got)
	}
}

func TestSelectGroupsPersists(t *testing.T) {
	f := newFixture(t, meHandler(map[string]interface{}{
		"id": "u1", "username": "alex",
		"groups": []map[string]string{
			{"id": "g1", "role": "HELPER"},
			{"id": "g2", "role": "USER"},
		},
	}))
	if err := f.svc.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	if err := f.svc.SelectGroups([]string{"g2"}); err != nil {
		t.Fatalf("SelectGroups() error = %v", err)
	}
	if got := f.store.ActiveGroupIDs(); len(got) != 1 || got[0] != "g2" {
		t.Errorf("persisted groups = %v, want [g2]", got)
	}
	if got := f.model.EffectiveLevel(); got != access.RoleUser {
		t.Errorf("EffectiveLevel() = %v, want %v", got, access.RoleUser)
	}
}

func TestLogoutClearsEverything(t *testing.T) {
	f := newFixture(t, meHandler(map[string]interface{}{
		"id": "u1", "username": "alex", "role": "USER",
	}))

	if err := f.svc.Login(context.Background(), "alex", "hunter2"); err != nil {
		t.Fatalf("Login() error = %v", err)
	}

	invalidated := false
	f.svc.OnInvalidated = func() { invalidated = true }

	if err := f.svc.Logout(); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if got := f.store.Token(); got != "" {
		t.Errorf("token = %q after Logout(), want empty", got)
	}
	if _, ok := f.model.User(); ok {
		t.Error("model still has a user after Logout()")
	}
	if !invalidated {
		t.Error("OnInvalidated did not run")
	}
}

func TestInvalidateKeepsTokenClearingToClient(t *testing.T) {
	f := newFixture(t, meHandler(map[string]interface{}{
		"id": "u1", "username": "alex", "role": "USER",
	}))
	if err := f.svc.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}

	f.svc.Invalidate()
	if _, ok := f.model.User(); ok {
		t.Error("model still has a user after Invalidate()")
	}
}

func TestUnknownRolesDegrade(t *testing.T) {
	f := newFixture(t, meHandler(map[string]interface{}{
		"id": "u1", "username": "alex", "role": "SUPERWIZARD",
		"groups": []map[string]string{{"id": "g1", "role": "INTERN"}},
	}))

	if err := f.svc.Fetch(context.Background()); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	// Unknown global role falls back to GUEST; unknown group role is
	// skipped entirely.
	if got := f.model.EffectiveLevel(); got != access.RoleGuest {
		t.Errorf("EffectiveLevel() = %v, want %v", got, access.RoleGuest)
	}
}
