package tplclient

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/marcus/tpled/internal/api"
	"github.com/marcus/tpled/internal/serverdb"
)

type testEnv struct {
	url   string
	store *serverdb.ServerDB
}

func startServer(t *testing.T) testEnv {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "server.db")
	store, err := serverdb.Open(dbPath)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}

	cfg := api.DefaultConfig()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.DBPath = dbPath
	cfg.RateLimitAuth = 100000
	cfg.RateLimitWrite = 100000
	cfg.RateLimitOther = 100000
	srv, err := api.NewServer(cfg, store)
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	if err := srv.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
		store.Close()
	})
	return testEnv{url: "http://" + srv.Addr().String(), store: store}
}

func (e testEnv) userClient(t *testing.T, email string) (*Client, string) {
	t.Helper()
	user, err := e.store.CreateUser(email)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	key, _, err := e.store.GenerateAPIKey(user.ID, "test", serverdb.ScopeAPI, nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return New(e.url, key), user.ID
}

func TestHealthAndMe(t *testing.T) {
	env := startServer(t)
	c, userID := env.userClient(t, "me@test.com")

	h, err := c.HealthCheck()
	if err != nil || h.Status != "ok" {
		t.Fatalf("health: %+v %v", h, err)
	}
	me, err := c.Me()
	if err != nil {
		t.Fatalf("me: %v", err)
	}
	if me.UserID != userID || me.Email != "me@test.com" {
		t.Fatalf("unexpected me: %+v", me)
	}

	if _, err := New(env.url, "tpl_bogus").Me(); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestTemplateLifecycle(t *testing.T) {
	env := startServer(t)
	c, _ := env.userClient(t, "owner@test.com")

	tpl, err := c.CreateTemplate("Welcome")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := c.TemplateHTML(tpl.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("html before save: expected ErrNotFound, got %v", err)
	}

	base := 0
	v, err := c.SaveVersion(tpl.ID, &SaveRequest{
		DesignJSON:  json.RawMessage(`{"pages":[]}`),
		HTML:        "<h1>Hi</h1>",
		CSS:         "h1{color:red}",
		BaseVersion: &base,
	})
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if v.Version != 1 {
		t.Fatalf("expected version 1, got %d", v.Version)
	}

	if _, err := c.SaveVersion(tpl.ID, &SaveRequest{HTML: "<p>stale</p>", BaseVersion: &base}); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	doc, err := c.TemplateHTML(tpl.ID)
	if err != nil {
		t.Fatalf("html: %v", err)
	}
	if !strings.Contains(string(doc), "<h1>Hi</h1>") || !strings.Contains(string(doc), "h1{color:red}") {
		t.Fatalf("unexpected document: %s", doc)
	}

	if _, err := c.SaveVersion(tpl.ID, &SaveRequest{HTML: "<h1>Bye</h1>"}); err != nil {
		t.Fatalf("second save: %v", err)
	}
	restored, err := c.RestoreVersion(tpl.ID, 1)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored.Version != 3 {
		t.Fatalf("expected version 3, got %d", restored.Version)
	}

	versions, err := c.ListVersions(tpl.ID, 2)
	if err != nil {
		t.Fatalf("list versions: %v", err)
	}
	if len(versions) != 2 || versions[0].Version != 3 {
		t.Fatalf("unexpected versions: %+v", versions)
	}

	old, err := c.VersionHTML(tpl.ID, 2)
	if err != nil || !strings.Contains(string(old), "Bye") {
		t.Fatalf("version html: %s %v", old, err)
	}
	got, err := c.GetVersion(tpl.ID, 1)
	if err != nil || got.HTML == nil {
		t.Fatalf("get version: %+v %v", got, err)
	}

	renamed, err := c.RenameTemplate(tpl.ID, "Welcome v2")
	if err != nil || renamed.Name != "Welcome v2" {
		t.Fatalf("rename: %+v %v", renamed, err)
	}

	list, err := c.ListTemplates()
	if err != nil || len(list.Owned) != 1 || len(list.Shared) != 0 {
		t.Fatalf("list: %+v %v", list, err)
	}

	if err := c.DeleteTemplate(tpl.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := c.GetTemplate(tpl.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestSharing(t *testing.T) {
	env := startServer(t)
	owner, _ := env.userClient(t, "owner@test.com")
	viewer, viewerID := env.userClient(t, "viewer@test.com")

	tpl, err := owner.CreateTemplate("Shared")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := owner.AddShare(tpl.ID, "nobody@test.com", "viewer"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown user: expected ErrNotFound, got %v", err)
	}

	sh, err := owner.AddShare(tpl.ID, "viewer@test.com", "viewer")
	if err != nil || sh.UserID != viewerID {
		t.Fatalf("add share: %+v %v", sh, err)
	}

	if _, err := viewer.SaveVersion(tpl.ID, &SaveRequest{HTML: "<p>x</p>"}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("viewer save: expected ErrForbidden, got %v", err)
	}

	if _, err := owner.UpdateShareRole(tpl.ID, viewerID, "editor"); err != nil {
		t.Fatalf("update role: %v", err)
	}
	if _, err := viewer.SaveVersion(tpl.ID, &SaveRequest{HTML: "<p>x</p>"}); err != nil {
		t.Fatalf("editor save: %v", err)
	}

	shares, err := owner.ListShares(tpl.ID)
	if err != nil || len(shares) != 1 || shares[0].Role != "editor" {
		t.Fatalf("list shares: %+v %v", shares, err)
	}

	if err := owner.RemoveShare(tpl.ID, viewerID); err != nil {
		t.Fatalf("remove share: %v", err)
	}
	if _, err := viewer.GetTemplate(tpl.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after unshare, got %v", err)
	}
}

func TestDeviceLogin(t *testing.T) {
	env := startServer(t)
	user, err := env.store.CreateUser("cli@test.com")
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	c := New(env.url, "")

	start, err := c.LoginStart("cli@test.com")
	if err != nil {
		t.Fatalf("login start: %v", err)
	}
	if start.DeviceCode == "" || len(start.UserCode) != 6 || start.Interval <= 0 {
		t.Fatalf("unexpected start response: %+v", start)
	}

	poll, err := c.LoginPoll(start.DeviceCode)
	if err != nil || poll.Status != "pending" {
		t.Fatalf("expected pending, got %+v %v", poll, err)
	}

	if err := env.store.VerifyAuthRequest(start.UserCode, user.ID); err != nil {
		t.Fatalf("verify: %v", err)
	}

	poll, err = c.LoginPoll(start.DeviceCode)
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if poll.Status != "complete" || poll.APIKey == nil {
		t.Fatalf("expected complete with key, got %+v", poll)
	}

	me, err := New(env.url, *poll.APIKey).Me()
	if err != nil || me.UserID != user.ID {
		t.Fatalf("me with issued key: %+v %v", me, err)
	}

	if _, err := c.LoginPoll(start.DeviceCode); !errors.Is(err, ErrGone) {
		t.Fatalf("reuse: expected ErrGone, got %v", err)
	}
}

func TestDecodeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/teapot":
			w.WriteHeader(http.StatusTeapot)
			w.Write([]byte(`{"error":{"code":"teapot","message":"short and stout"}}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte("upstream down"))
		}
	}))
	defer srv.Close()
	c := New(srv.URL, "k")

	err := c.do("GET", "/teapot", nil, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != "teapot" || apiErr.Status != http.StatusTeapot {
		t.Fatalf("expected APIError, got %v", err)
	}

	err = c.do("GET", "/gateway", nil, nil)
	if err == nil || !strings.Contains(err.Error(), "HTTP 502") {
		t.Fatalf("expected raw HTTP error, got %v", err)
	}
}
