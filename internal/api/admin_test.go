package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/marcus/tpled/internal/serverdb"
)

// createAdminUser creates a user whose key carries the admin scope.
func createAdminUser(t *testing.T, store *serverdb.ServerDB, email string) string {
	t.Helper()
	user, err := store.CreateUser(email)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, _, err := store.GenerateAPIKey(user.ID, "admin", serverdb.ScopeAPI+","+serverdb.ScopeAdmin, nil)
	if err != nil {
		t.Fatalf("generate admin key: %v", err)
	}
	return token
}

func TestAdminRequiresScope(t *testing.T) {
	srv, store := newTestServer(t)
	_, token := createTestUser(t, store, "user@test.com")

	paths := []string{"/v1/admin/overview", "/v1/admin/config", "/v1/admin/users", "/v1/admin/auth-events?email=user@test.com"}
	for _, path := range paths {
		assertCode(t, doRequest(srv, "GET", path, "", nil), http.StatusUnauthorized, ErrCodeUnauthorized)
		assertCode(t, doRequest(srv, "GET", path, token, nil), http.StatusForbidden, ErrCodeForbidden)
	}

	// Browser sessions are refused even for a user who holds an admin key.
	createAdminUser(t, store, "root@test.com")
	root, _ := store.GetUserByEmail("root@test.com")
	session := createSession(t, store, root.ID)
	w := doCookieRequest(srv, "GET", "/v1/admin/users", session, "", nil)
	assertCode(t, w, http.StatusForbidden, ErrCodeForbidden)
}

func TestAdminOverview(t *testing.T) {
	srv, store := newTestServer(t)
	admin := createAdminUser(t, store, "root@test.com")
	_, token := createTestUser(t, store, "user@test.com")
	createTemplateViaAPI(t, srv, token, "One")
	createTemplateViaAPI(t, srv, token, "Two")
	if err := store.InsertRateLimitEvent("", "1.2.3.4", "auth"); err != nil {
		t.Fatalf("insert rate limit event: %v", err)
	}

	w := doRequest(srv, "GET", "/v1/admin/overview", admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got := decodeJSON[adminOverviewResponse](t, w)
	if got.Health != "ok" || got.TotalUsers != 2 || got.TotalTemplates != 2 {
		t.Fatalf("unexpected overview: %+v", got)
	}
	if got.RateLimitedAuth != 1 || got.RateLimitedWrite != 0 {
		t.Fatalf("unexpected rate limit counts: %+v", got)
	}
	if got.SchemaVersion != serverdb.ServerSchemaVersion {
		t.Fatalf("expected schema version %d, got %d", serverdb.ServerSchemaVersion, got.SchemaVersion)
	}
}

func TestAdminConfig(t *testing.T) {
	srv, store := newTestServerWithConfig(t, func(cfg *Config) {
		cfg.SessionTTL = 36 * time.Hour
	})
	admin := createAdminUser(t, store, "root@test.com")

	w := doRequest(srv, "GET", "/v1/admin/config", admin, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	got := decodeJSON[adminConfigResponse](t, w)
	if got.AuthEventRetention != "90d" || got.SessionTTL != "36h0m0s" {
		t.Fatalf("unexpected durations: %+v", got)
	}
	if got.CORSOrigins == nil {
		t.Fatal("cors_origins should encode as an empty list")
	}
	if got.EditorCDN != DefaultEditorCDN {
		t.Fatalf("unexpected editor cdn %q", got.EditorCDN)
	}
}

func TestAdminListUsers(t *testing.T) {
	srv, store := newTestServer(t)
	admin := createAdminUser(t, store, "root@test.com")
	createTestUser(t, store, "user@test.com")

	users := decodeJSON[[]adminUserResponse](t, doRequest(srv, "GET", "/v1/admin/users", admin, nil))
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
}

func TestAdminAuthEvents(t *testing.T) {
	srv, store := newTestServer(t)
	admin := createAdminUser(t, store, "root@test.com")
	for _, ev := range []string{serverdb.AuthEventStarted, serverdb.AuthEventFailed, serverdb.AuthEventStarted} {
		if err := store.InsertAuthEvent("", "user@test.com", ev, "{}"); err != nil {
			t.Fatalf("insert auth event: %v", err)
		}
	}
	if err := store.InsertAuthEvent("", "other@test.com", serverdb.AuthEventStarted, "{}"); err != nil {
		t.Fatalf("insert auth event: %v", err)
	}

	events := decodeJSON[[]adminAuthEventResponse](t, doRequest(srv, "GET", "/v1/admin/auth-events?email=User@Test.com", admin, nil))
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].ID < events[1].ID {
		t.Fatal("expected newest first")
	}

	events = decodeJSON[[]adminAuthEventResponse](t, doRequest(srv, "GET", "/v1/admin/auth-events?email=user@test.com&limit=1", admin, nil))
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	assertCode(t, doRequest(srv, "GET", "/v1/admin/auth-events", admin, nil), http.StatusBadRequest, ErrCodeBadRequest)
	assertCode(t, doRequest(srv, "GET", "/v1/admin/auth-events?email=user@test.com&limit=5000", admin, nil), http.StatusBadRequest, ErrCodeBadRequest)
}

func TestFormatDaysDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{0, "0s"},
		{24 * time.Hour, "1d"},
		{90 * 24 * time.Hour, "90d"},
		{90 * time.Minute, "1h30m0s"},
	}
	for _, tt := range tests {
		if got := formatDaysDuration(tt.in); got != tt.want {
			t.Errorf("formatDaysDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
