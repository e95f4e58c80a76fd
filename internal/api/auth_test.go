package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/marcus/tpled/internal/serverdb"
)

// captureMailer records the last code sent to each address.
type captureMailer struct {
	mu    sync.Mutex
	codes map[string]string
}

func newCaptureMailer() *captureMailer {
	return &captureMailer{codes: make(map[string]string)}
}

func (m *captureMailer) SendLoginCode(_ context.Context, email, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.codes[email] = code
	return nil
}

func (m *captureMailer) code(email string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.codes[email]
}

func cookieNamed(w *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestDeviceAuthFullFlow(t *testing.T) {
	srv, store := newTestServerWithConfig(t, func(cfg *Config) {
		cfg.BaseURL = "http://localhost:8080"
	})

	// Step 1: Start login
	w := doRequest(srv, "POST", "/v1/auth/login/start", "", map[string]string{
		"email": "newuser@example.com",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("login start: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	start := decodeJSON[loginStartResponse](t, w)
	if start.DeviceCode == "" || start.UserCode == "" {
		t.Fatal("expected non-empty device_code and user_code")
	}
	if start.VerificationURI != "http://localhost:8080/auth/verify" {
		t.Errorf("unexpected verification_uri: %s", start.VerificationURI)
	}
	if start.ExpiresIn != 900 || start.Interval != 5 {
		t.Errorf("unexpected expires_in/interval: %d/%d", start.ExpiresIn, start.Interval)
	}

	// Step 2: Poll (should be pending)
	w = doRequest(srv, "POST", "/v1/auth/login/poll", "", map[string]string{"device_code": start.DeviceCode})
	if got := decodeJSON[loginPollResponse](t, w); got.Status != "pending" {
		t.Fatalf("expected pending, got %s", got.Status)
	}

	// Step 3: Anonymous browsers are sent to sign in first
	req := httptest.NewRequest("GET", "/auth/verify?code="+start.UserCode, nil)
	rec := httptest.NewRecorder()
	srv.routes().ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther || !strings.HasPrefix(rec.Header().Get("Location"), "/login?next=") {
		t.Fatalf("expected redirect to login, got %d %s", rec.Code, rec.Header().Get("Location"))
	}

	// Step 4: A different account cannot approve the code
	otherID, _ := createTestUser(t, store, "other@example.com")
	other := &http.Cookie{Name: sessionCookieName, Value: createSession(t, store, otherID)}
	w = doForm(srv, "/auth/verify", "", url.Values{"user_code": {start.UserCode}}, other)
	if w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "Invalid or expired code") {
		t.Fatalf("foreign session: expected 400, got %d", w.Code)
	}

	// Step 5: The requesting account approves it
	userID, _ := createTestUser(t, store, "newuser@example.com")
	mine := &http.Cookie{Name: sessionCookieName, Value: createSession(t, store, userID)}
	w = doForm(srv, "/auth/verify", "", url.Values{"user_code": {strings.ToLower(start.UserCode)}}, mine)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "authorized") {
		t.Fatalf("verify: expected 200 success page, got %d: %s", w.Code, w.Body.String())
	}

	// Step 6: Poll completes with a key
	w = doRequest(srv, "POST", "/v1/auth/login/poll", "", map[string]string{"device_code": start.DeviceCode})
	done := decodeJSON[loginPollResponse](t, w)
	if done.Status != "complete" || done.APIKey == nil || done.UserID == nil || *done.UserID != userID {
		t.Fatalf("unexpected completion: %+v", done)
	}
	me := decodeJSON[MeResponse](t, doRequest(srv, "GET", "/v1/me", *done.APIKey, nil))
	if me.Email != "newuser@example.com" {
		t.Fatalf("key belongs to %s", me.Email)
	}

	// Step 7: The request cannot be redeemed twice
	w = doRequest(srv, "POST", "/v1/auth/login/poll", "", map[string]string{"device_code": start.DeviceCode})
	assertCode(t, w, http.StatusGone, ErrCodeAlreadyUsed)
}

func TestDeviceAuthErrors(t *testing.T) {
	srv, store := newTestServer(t)

	t.Run("invalid email", func(t *testing.T) {
		w := doRequest(srv, "POST", "/v1/auth/login/start", "", map[string]string{"email": "not-an-email"})
		assertCode(t, w, http.StatusBadRequest, ErrCodeBadRequest)
	})

	t.Run("unknown device code", func(t *testing.T) {
		w := doRequest(srv, "POST", "/v1/auth/login/poll", "", map[string]string{"device_code": "nope"})
		assertCode(t, w, http.StatusNotFound, ErrCodeNotFound)
	})

	t.Run("missing device code", func(t *testing.T) {
		w := doRequest(srv, "POST", "/v1/auth/login/poll", "", map[string]string{})
		assertCode(t, w, http.StatusBadRequest, ErrCodeBadRequest)
	})

	t.Run("expired", func(t *testing.T) {
		ar, err := store.CreateAuthRequest("late@example.com", serverdb.ClientCLI)
		if err != nil {
			t.Fatalf("create auth request: %v", err)
		}
		store.ForceExpireAuthRequestForTest(ar.ID, time.Now().UTC().Add(-time.Minute))
		w := doRequest(srv, "POST", "/v1/auth/login/poll", "", map[string]string{"device_code": ar.DeviceCode})
		assertCode(t, w, http.StatusGone, ErrCodeExpired)
	})

	t.Run("web requests cannot be polled", func(t *testing.T) {
		ar, err := store.CreateAuthRequest("web@example.com", serverdb.ClientWeb)
		if err != nil {
			t.Fatalf("create auth request: %v", err)
		}
		w := doRequest(srv, "POST", "/v1/auth/login/poll", "", map[string]string{"device_code": ar.DeviceCode})
		assertCode(t, w, http.StatusNotFound, ErrCodeNotFound)
	})
}

func TestDeviceAuthSignupDisabled(t *testing.T) {
	srv, store := newTestServerWithConfig(t, func(cfg *Config) { cfg.AllowSignup = false })

	w := doRequest(srv, "POST", "/v1/auth/login/start", "", map[string]string{"email": "stranger@example.com"})
	assertCode(t, w, http.StatusForbidden, ErrCodeSignupDisabled)

	createTestUser(t, store, "known@example.com")
	w = doRequest(srv, "POST", "/v1/auth/login/start", "", map[string]string{"email": "known@example.com"})
	assertCode(t, w, http.StatusOK, "")
}

// webLogin runs the emailed-code flow and returns the session cookie.
func webLogin(t *testing.T, srv *Server, mailer *captureMailer, email, next string) *httptest.ResponseRecorder {
	t.Helper()
	w := doForm(srv, "/login", "", url.Values{"email": {email}, "next": {next}})
	if w.Code != http.StatusSeeOther {
		t.Fatalf("login submit: expected 303, got %d: %s", w.Code, w.Body.String())
	}
	login := cookieNamed(w, loginCookieName)
	if login == nil || login.Value == "" {
		t.Fatal("expected login cookie")
	}
	code := mailer.code(strings.ToLower(email))
	if code == "" {
		t.Fatal("expected a code to be mailed")
	}
	return doForm(srv, "/login/verify", "", url.Values{"code": {code}, "next": {next}}, login)
}

func TestWebLoginFlow(t *testing.T) {
	srv, store := newTestServer(t)
	mailer := newCaptureMailer()
	srv.SetMailer(mailer)

	w := webLogin(t, srv, mailer, "Writer@Example.com", "/templates?tab=shared")
	if w.Code != http.StatusSeeOther {
		t.Fatalf("verify: expected 303, got %d: %s", w.Code, w.Body.String())
	}
	if loc := w.Header().Get("Location"); loc != "/templates?tab=shared" {
		t.Fatalf("expected redirect to next, got %q", loc)
	}
	session := cookieNamed(w, sessionCookieName)
	if session == nil || session.Value == "" {
		t.Fatal("expected session cookie")
	}
	if !session.HttpOnly || session.SameSite != http.SameSiteStrictMode {
		t.Fatalf("session cookie should be HttpOnly and SameSite=Strict: %+v", session)
	}

	me := decodeJSON[MeResponse](t, doCookieRequest(srv, "GET", "/v1/me", session.Value, "", nil))
	if me.Email != "writer@example.com" {
		t.Fatalf("unexpected session user: %+v", me)
	}
	if user, _ := store.GetUserByEmail("writer@example.com"); user == nil {
		t.Fatal("expected user to be created on first sign-in")
	}

	// Sign out revokes the key
	w = doForm(srv, "/logout", "", nil, session)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("logout: expected 303, got %d", w.Code)
	}
	assertCode(t, doCookieRequest(srv, "GET", "/v1/me", session.Value, "", nil), http.StatusUnauthorized, ErrCodeUnauthorized)
}

func TestWebLoginWrongCode(t *testing.T) {
	srv, store := newTestServer(t)
	mailer := newCaptureMailer()
	srv.SetMailer(mailer)

	w := doForm(srv, "/login", "", url.Values{"email": {"typo@example.com"}})
	login := cookieNamed(w, loginCookieName)

	w = doForm(srv, "/login/verify", "", url.Values{"code": {"ZZZZ-ZZZZ"}}, login)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if cookieNamed(w, sessionCookieName) != nil {
		t.Fatal("no session should be issued for a wrong code")
	}
	if user, _ := store.GetUserByEmail("typo@example.com"); user != nil {
		t.Fatal("user must not be created before the code matches")
	}
	events, err := store.ListAuthEvents("typo@example.com", 10)
	if err != nil {
		t.Fatalf("list auth events: %v", err)
	}
	if len(events) < 2 || events[0].EventType != serverdb.AuthEventFailed {
		t.Fatalf("expected a failed event, got %+v", events)
	}

	// The right code still works afterwards, once.
	w = doForm(srv, "/login/verify", "", url.Values{"code": {mailer.code("typo@example.com")}}, login)
	if w.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d: %s", w.Code, w.Body.String())
	}
	w = doForm(srv, "/login/verify", "", url.Values{"code": {mailer.code("typo@example.com")}}, login)
	if w.Code != http.StatusGone {
		t.Fatalf("reuse: expected 410, got %d", w.Code)
	}
}

func TestWebLoginRejectsOffsiteNext(t *testing.T) {
	srv, _ := newTestServer(t)
	mailer := newCaptureMailer()
	srv.SetMailer(mailer)

	for _, next := range []string{"//evil.example", "https://evil.example/x", `/\evil.example`} {
		w := webLogin(t, srv, mailer, "safe@example.com", next)
		if loc := w.Header().Get("Location"); loc != "/templates" {
			t.Fatalf("next %q: expected fallback redirect, got %q", next, loc)
		}
	}
}

func TestWebLoginSignupDisabled(t *testing.T) {
	srv, _ := newTestServerWithConfig(t, func(cfg *Config) { cfg.AllowSignup = false })
	mailer := newCaptureMailer()
	srv.SetMailer(mailer)

	w := doForm(srv, "/login", "", url.Values{"email": {"stranger@example.com"}})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	if mailer.code("stranger@example.com") != "" {
		t.Fatal("no code should be sent")
	}
}

func TestWebLoginCrossOrigin(t *testing.T) {
	srv, _ := newTestServer(t)
	w := doForm(srv, "/login", "https://evil.example", url.Values{"email": {"x@example.com"}})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
}

func TestLoginPageRedirectsSignedInUser(t *testing.T) {
	srv, store := newTestServer(t)
	userID, _ := createTestUser(t, store, "here@example.com")

	req := httptest.NewRequest("GET", "/login", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookieName, Value: createSession(t, store, userID)})
	w := httptest.NewRecorder()
	srv.routes().ServeHTTP(w, req)
	if w.Code != http.StatusSeeOther || w.Header().Get("Location") != "/templates" {
		t.Fatalf("expected redirect to /templates, got %d %q", w.Code, w.Header().Get("Location"))
	}
}

func TestNormalizeUserCode(t *testing.T) {
	tests := map[string]string{
		"abcd-efgh":   "ABCDEFGH",
		" ab cd-ef ":  "ABCDEF",
		"ABCDEFGH":    "ABCDEFGH",
		"":            "",
		"a-b-c-d-e-f": "ABCDEF",
	}
	for in, want := range tests {
		if got := normalizeUserCode(in); got != want {
			t.Errorf("normalizeUserCode(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSafeNext(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/templates/abc", "/templates/abc"},
		{"/templates?x=1", "/templates?x=1"},
		{"", "/fallback"},
		{"templates", "/fallback"},
		{"//evil.example", "/fallback"},
		{"https://evil.example", "/fallback"},
		{`/\evil.example`, "/fallback"},
	}
	for _, tt := range tests {
		if got := safeNext(tt.in, "/fallback"); got != tt.want {
			t.Errorf("safeNext(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
