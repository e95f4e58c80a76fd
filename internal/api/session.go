package api

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/marcus/tpled/internal/serverdb"
)

const (
	sessionCookieName = "tpled_session"
	loginCookieName   = "tpled_login"
)

type loginPageData struct {
	pageBase
	Email string
	Next  string
	Error string
}

// secureCookies reports whether cookies should carry the Secure flag.
func (s *Server) secureCookies() bool {
	return strings.HasPrefix(s.config.BaseURL, "https://")
}

func (s *Server) setCookie(w http.ResponseWriter, name, value, path string, maxAge time.Duration) {
	c := &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteStrictMode,
	}
	if maxAge > 0 {
		c.MaxAge = int(maxAge.Seconds())
		c.Expires = time.Now().Add(maxAge)
	} else {
		c.MaxAge = -1
	}
	http.SetCookie(w, c)
}

// pageUser returns the signed-in browser user, or nil.
func (s *Server) pageUser(r *http.Request) *AuthUser {
	if u := getUserFromContext(r.Context()); u != nil {
		return u
	}
	c, err := r.Cookie(sessionCookieName)
	if err != nil || c.Value == "" {
		return nil
	}
	ak, user, err := s.store.VerifyAPIKey(c.Value)
	if err != nil {
		logFor(r.Context()).Error("verify session", "err", err)
		return nil
	}
	if ak == nil || user == nil || !ak.IsSession() {
		return nil
	}
	return &AuthUser{UserID: user.ID, Email: user.Email, KeyID: ak.ID, Scopes: ak.ScopeList(), ViaCookie: true}
}

// requirePage redirects anonymous browsers to the login page.
func (s *Server) requirePage(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := s.pageUser(r)
		if user == nil {
			redirectToLogin(w, r)
			return
		}
		if r.Method == http.MethodPost && !sameOrigin(r) {
			s.renderError(w, r, http.StatusForbidden, "Cross-origin form submission refused.")
			return
		}
		handler(w, r.WithContext(withUser(r.Context(), user)))
	}
}

func redirectToLogin(w http.ResponseWriter, r *http.Request) {
	next := r.URL.Path
	if r.URL.RawQuery != "" {
		next += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, "/login?next="+url.QueryEscape(next), http.StatusSeeOther)
}

// safeNext returns next when it is a local path and fallback otherwise.
func safeNext(next, fallback string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.Contains(next, `\`) {
		return fallback
	}
	u, err := url.Parse(next)
	if err != nil || u.Scheme != "" || u.Host != "" {
		return fallback
	}
	return next
}

// handleLoginPage handles GET /login.
func (s *Server) handleLoginPage(w http.ResponseWriter, r *http.Request) {
	next := safeNext(r.URL.Query().Get("next"), "")
	if s.pageUser(r) != nil {
		http.Redirect(w, r, safeNext(next, "/templates"), http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, "login.html", loginPageData{pageBase: s.base(r, "Sign in"), Next: next})
}

// handleLoginSubmit handles POST /login: it creates a web auth request and
// sends the code.
func (s *Server) handleLoginSubmit(w http.ResponseWriter, r *http.Request) {
	if !sameOrigin(r) {
		s.renderError(w, r, http.StatusForbidden, "Cross-origin form submission refused.")
		return
	}
	data := loginPageData{pageBase: s.base(r, "Sign in")}
	if err := r.ParseForm(); err != nil {
		data.Error = "Invalid form data."
		s.render(w, r, http.StatusBadRequest, "login.html", data)
		return
	}
	data.Next = safeNext(r.FormValue("next"), "")
	data.Email = strings.TrimSpace(r.FormValue("email"))

	email, ok := normalizeEmail(data.Email)
	if !ok {
		data.Error = "Please enter a valid email address."
		s.render(w, r, http.StatusBadRequest, "login.html", data)
		return
	}

	if !s.config.AllowSignup {
		user, err := s.store.GetUserByEmail(email)
		if err != nil {
			logFor(r.Context()).Error("check user for login", "err", err)
			data.Error = "Something went wrong. Please try again."
			s.render(w, r, http.StatusInternalServerError, "login.html", data)
			return
		}
		if user == nil {
			data.Error = "Signups are disabled. Ask an administrator for access."
			s.render(w, r, http.StatusForbidden, "login.html", data)
			return
		}
	}

	ar, err := s.store.CreateAuthRequest(email, serverdb.ClientWeb)
	if err != nil {
		logFor(r.Context()).Error("create auth request", "err", err)
		data.Error = "Something went wrong. Please try again."
		s.render(w, r, http.StatusInternalServerError, "login.html", data)
		return
	}

	if err := s.mailer.SendLoginCode(r.Context(), email, ar.UserCode); err != nil {
		logFor(r.Context()).Error("send login code", "err", err)
		data.Error = "We could not send your code. Please try again."
		s.render(w, r, http.StatusBadGateway, "login.html", data)
		return
	}

	s.logAuthEvent(ar.ID, email, serverdb.AuthEventStarted, map[string]string{
		"client":     serverdb.ClientWeb,
		"ip":         clientIP(r),
		"user_agent": r.Header.Get("User-Agent"),
	})

	s.setCookie(w, loginCookieName, ar.DeviceCode, "/login", serverdb.AuthRequestTTL)
	target := "/login/verify"
	if data.Next != "" {
		target += "?next=" + url.QueryEscape(data.Next)
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

// pendingWebLogin returns the auth request named by the login cookie, or nil.
func (s *Server) pendingWebLogin(r *http.Request) (*serverdb.AuthRequest, error) {
	c, err := r.Cookie(loginCookieName)
	if err != nil || c.Value == "" {
		return nil, nil
	}
	ar, err := s.store.GetAuthRequestByDeviceCode(c.Value)
	if err != nil || ar == nil {
		return nil, err
	}
	if ar.Client != serverdb.ClientWeb || ar.Status != serverdb.AuthStatusPending || !ar.ExpiresAt.After(time.Now().UTC()) {
		return nil, nil
	}
	return ar, nil
}

// handleLoginVerifyPage handles GET /login/verify.
func (s *Server) handleLoginVerifyPage(w http.ResponseWriter, r *http.Request) {
	next := safeNext(r.URL.Query().Get("next"), "")
	ar, err := s.pendingWebLogin(r)
	if err != nil {
		logFor(r.Context()).Error("load pending login", "err", err)
	}
	if ar == nil {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	s.render(w, r, http.StatusOK, "login_verify.html", loginPageData{pageBase: s.base(r, "Enter your code"), Email: ar.Email, Next: next})
}

// handleLoginVerifySubmit handles POST /login/verify: it redeems the code
// and starts a browser session.
func (s *Server) handleLoginVerifySubmit(w http.ResponseWriter, r *http.Request) {
	if !sameOrigin(r) {
		s.renderError(w, r, http.StatusForbidden, "Cross-origin form submission refused.")
		return
	}
	data := loginPageData{pageBase: s.base(r, "Enter your code")}
	if err := r.ParseForm(); err != nil {
		data.Error = "Invalid form data."
		s.render(w, r, http.StatusBadRequest, "login_verify.html", data)
		return
	}
	data.Next = safeNext(r.FormValue("next"), "")

	ar, err := s.pendingWebLogin(r)
	if err != nil {
		logFor(r.Context()).Error("load pending login", "err", err)
	}
	if ar == nil {
		data.Error = "Your sign-in request has expired. Please start again."
		s.render(w, r, http.StatusGone, "login.html", data)
		return
	}
	data.Email = ar.Email

	code := normalizeUserCode(r.FormValue("code"))
	if !serverdb.IsValidUserCode(code) || subtle.ConstantTimeCompare([]byte(code), []byte(ar.UserCode)) != 1 {
		s.logAuthEvent(ar.ID, ar.Email, serverdb.AuthEventFailed, map[string]string{
			"client":         serverdb.ClientWeb,
			"failure_reason": "invalid_code",
			"ip":             clientIP(r),
		})
		data.Error = "That code is not right. Check the latest code we sent."
		s.render(w, r, http.StatusBadRequest, "login_verify.html", data)
		return
	}

	user, created, err := s.store.GetOrCreateUser(ar.Email, s.config.AllowSignup)
	if err != nil {
		if errors.Is(err, serverdb.ErrSignupDisabled) {
			data.Error = "Signups are disabled. Ask an administrator for access."
			s.render(w, r, http.StatusForbidden, "login_verify.html", data)
			return
		}
		logFor(r.Context()).Error("get or create user", "err", err)
		data.Error = "Something went wrong. Please try again."
		s.render(w, r, http.StatusInternalServerError, "login_verify.html", data)
		return
	}
	if created {
		logFor(r.Context()).Info("user created", "user_id", user.ID)
	}

	redeemed, err := s.store.RedeemAuthRequest(ar.DeviceCode, code, user.ID)
	if err != nil {
		logFor(r.Context()).Error("redeem auth request", "err", err)
		data.Error = "Something went wrong. Please try again."
		s.render(w, r, http.StatusInternalServerError, "login_verify.html", data)
		return
	}
	if redeemed == nil {
		data.Error = "Your sign-in request has expired. Please start again."
		s.render(w, r, http.StatusGone, "login.html", data)
		return
	}

	expiry := time.Now().UTC().Add(s.config.SessionTTL)
	plaintext, ak, err := s.store.GenerateAPIKey(user.ID, "web session", serverdb.ScopeWeb, &expiry)
	if err != nil {
		logFor(r.Context()).Error("generate session key", "err", err)
		data.Error = "Something went wrong. Please try again."
		s.render(w, r, http.StatusInternalServerError, "login_verify.html", data)
		return
	}
	if err := s.store.SetAuthRequestAPIKey(redeemed.ID, ak.ID); err != nil {
		logFor(r.Context()).Warn("set auth request api key", "err", err)
	}

	s.logAuthEvent(redeemed.ID, redeemed.Email, serverdb.AuthEventKeyIssued, map[string]string{
		"client":     serverdb.ClientWeb,
		"ip":         clientIP(r),
		"user_agent": r.Header.Get("User-Agent"),
	})
	s.metrics.RecordLogin()
	logFor(r.Context()).Info("web login complete", "user_id", user.ID)

	s.setCookie(w, loginCookieName, "", "/login", 0)
	s.setCookie(w, sessionCookieName, plaintext, "/", s.config.SessionTTL)
	http.Redirect(w, r, safeNext(data.Next, "/templates"), http.StatusSeeOther)
}

// handleLogout handles POST /logout.
func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if !sameOrigin(r) {
		s.renderError(w, r, http.StatusForbidden, "Cross-origin form submission refused.")
		return
	}
	if user := s.pageUser(r); user != nil {
		if err := s.store.RevokeAPIKey(user.KeyID, user.UserID); err != nil {
			logFor(r.Context()).Warn("revoke session", "err", err)
		}
		s.logAuthEvent("", user.Email, serverdb.AuthEventSignedOut, map[string]string{
			"ip": clientIP(r),
		})
	}
	s.setCookie(w, sessionCookieName, "", "/", 0)
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}
