package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"strings"
	"time"

	"github.com/marcus/tpled/internal/serverdb"
)

// cliKeyTTL is how long keys issued to the CLI stay valid.
const cliKeyTTL = 365 * 24 * time.Hour

// verifyPageData holds template data for the device verify page.
type verifyPageData struct {
	pageBase
	Code    string
	Error   string
	Success bool
}

// loginStartRequest is the JSON body for POST /v1/auth/login/start.
type loginStartRequest struct {
	Email string `json:"email"`
}

// loginStartResponse is the JSON response for POST /v1/auth/login/start.
type loginStartResponse struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// loginPollRequest is the JSON body for POST /v1/auth/login/poll.
type loginPollRequest struct {
	DeviceCode string `json:"device_code"`
}

// loginPollResponse is the JSON response for POST /v1/auth/login/poll.
type loginPollResponse struct {
	Status    string  `json:"status"`
	APIKey    *string `json:"api_key,omitempty"`
	UserID    *string `json:"user_id,omitempty"`
	Email     *string `json:"email,omitempty"`
	ExpiresAt *string `json:"expires_at,omitempty"`
}

// normalizeEmail trims and validates an address.
func normalizeEmail(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	addr, err := mail.ParseAddress(raw)
	if err != nil || addr.Address != raw {
		return "", false
	}
	return strings.ToLower(raw), true
}

// handleLoginStart handles POST /v1/auth/login/start.
func (s *Server) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	var req loginStartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}

	email, ok := normalizeEmail(req.Email)
	if !ok {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "valid email is required")
		return
	}

	if !s.config.AllowSignup {
		user, err := s.store.GetUserByEmail(email)
		if err != nil {
			logFor(r.Context()).Error("check user for login", "err", err)
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to check user")
			return
		}
		if user == nil {
			writeError(w, http.StatusForbidden, ErrCodeSignupDisabled, "signups are disabled")
			return
		}
	}

	ar, err := s.store.CreateAuthRequest(email, serverdb.ClientCLI)
	if err != nil {
		logFor(r.Context()).Error("create auth request", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to create auth request")
		return
	}

	s.logAuthEvent(ar.ID, email, serverdb.AuthEventStarted, map[string]string{
		"client":     serverdb.ClientCLI,
		"ip":         clientIP(r),
		"user_agent": r.Header.Get("User-Agent"),
	})

	writeJSON(w, http.StatusOK, loginStartResponse{
		DeviceCode:      ar.DeviceCode,
		UserCode:        ar.UserCode,
		VerificationURI: s.config.BaseURL + "/auth/verify",
		ExpiresIn:       int(serverdb.AuthRequestTTL.Seconds()),
		Interval:        serverdb.PollInterval,
	})
}

// handleLoginPoll handles POST /v1/auth/login/poll.
func (s *Server) handleLoginPoll(w http.ResponseWriter, r *http.Request) {
	var req loginPollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid json body")
		return
	}

	if req.DeviceCode == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "device_code is required")
		return
	}

	ar, err := s.store.GetAuthRequestByDeviceCode(req.DeviceCode)
	if err != nil {
		logFor(r.Context()).Error("get auth request", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to get auth request")
		return
	}
	if ar == nil || ar.Client != serverdb.ClientCLI {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "auth request not found")
		return
	}

	if ar.Status == serverdb.AuthStatusUsed {
		writeError(w, http.StatusGone, ErrCodeAlreadyUsed, "auth request already used")
		return
	}

	if ar.Status == serverdb.AuthStatusExpired || (ar.Status == serverdb.AuthStatusPending && ar.ExpiresAt.Before(time.Now().UTC())) {
		writeError(w, http.StatusGone, ErrCodeExpired, "auth request has expired")
		return
	}

	if ar.Status == serverdb.AuthStatusPending {
		writeJSON(w, http.StatusOK, loginPollResponse{Status: "pending"})
		return
	}

	// Status is verified; complete the flow
	completed, err := s.store.CompleteAuthRequest(ar.DeviceCode)
	if err != nil {
		logFor(r.Context()).Error("complete auth request", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to complete auth request")
		return
	}
	if completed == nil || completed.UserID == nil {
		writeError(w, http.StatusGone, ErrCodeAlreadyUsed, "auth request already used")
		return
	}

	expiry := time.Now().UTC().Add(cliKeyTTL)
	plaintext, ak, err := s.store.GenerateAPIKey(*completed.UserID, "cli", serverdb.ScopeAPI, &expiry)
	if err != nil {
		logFor(r.Context()).Error("generate api key for device auth", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to generate api key")
		return
	}

	logFor(r.Context()).Info("device auth complete", "user_id", *completed.UserID)
	s.metrics.RecordLogin()

	if err := s.store.SetAuthRequestAPIKey(completed.ID, ak.ID); err != nil {
		slog.Warn("set auth request api key", "err", err)
	}

	s.logAuthEvent(completed.ID, completed.Email, serverdb.AuthEventKeyIssued, map[string]string{
		"client":     serverdb.ClientCLI,
		"ip":         clientIP(r),
		"user_agent": r.Header.Get("User-Agent"),
	})

	expiresAtStr := expiry.Format(time.RFC3339)
	writeJSON(w, http.StatusOK, loginPollResponse{
		Status:    "complete",
		APIKey:    &plaintext,
		UserID:    completed.UserID,
		Email:     &completed.Email,
		ExpiresAt: &expiresAtStr,
	})
}

// handleVerifyPage handles GET /auth/verify. The browser must be signed in
// so that the code is approved by the account it was requested for.
func (s *Server) handleVerifyPage(w http.ResponseWriter, r *http.Request) {
	user := s.pageUser(r)
	if user == nil {
		redirectToLogin(w, r)
		return
	}
	code := normalizeUserCode(r.URL.Query().Get("code"))
	s.render(w, r, http.StatusOK, "verify.html", verifyPageData{pageBase: s.base(r, "Authorize CLI"), Code: code})
}

// handleVerifySubmit handles POST /auth/verify.
func (s *Server) handleVerifySubmit(w http.ResponseWriter, r *http.Request) {
	user := s.pageUser(r)
	if user == nil {
		redirectToLogin(w, r)
		return
	}
	if !sameOrigin(r) {
		s.renderError(w, r, http.StatusForbidden, "Cross-origin form submission refused.")
		return
	}
	data := verifyPageData{pageBase: s.base(r, "Authorize CLI")}

	if err := r.ParseForm(); err != nil {
		data.Error = "Invalid form data."
		s.render(w, r, http.StatusBadRequest, "verify.html", data)
		return
	}

	userCode := normalizeUserCode(r.FormValue("user_code"))
	data.Code = userCode
	if userCode == "" {
		data.Error = "Please enter a code."
		s.render(w, r, http.StatusBadRequest, "verify.html", data)
		return
	}

	if !serverdb.IsValidUserCode(userCode) {
		data.Error = "Invalid or expired code."
		s.render(w, r, http.StatusBadRequest, "verify.html", data)
		return
	}

	ar, err := s.store.GetAuthRequestByUserCode(userCode)
	if err != nil {
		logFor(r.Context()).Error("get auth request by user code", "err", err)
		data.Error = "Something went wrong. Please try again."
		s.render(w, r, http.StatusInternalServerError, "verify.html", data)
		return
	}
	if ar == nil || ar.Email != user.Email {
		logFor(r.Context()).Warn("verify failed", "reason", "invalid_or_foreign_code")
		s.logAuthEvent("", user.Email, serverdb.AuthEventFailed, map[string]string{
			"failure_reason": "invalid_code",
			"ip":             clientIP(r),
			"user_agent":     r.Header.Get("User-Agent"),
		})
		data.Error = "Invalid or expired code."
		s.render(w, r, http.StatusBadRequest, "verify.html", data)
		return
	}

	if err := s.store.VerifyAuthRequest(userCode, user.UserID); err != nil {
		logFor(r.Context()).Error("verify auth request", "err", err)
		data.Error = "Failed to authorize device. Code may have expired."
		s.render(w, r, http.StatusBadRequest, "verify.html", data)
		return
	}

	s.logAuthEvent(ar.ID, ar.Email, serverdb.AuthEventCodeVerified, map[string]string{
		"client":     serverdb.ClientCLI,
		"ip":         clientIP(r),
		"user_agent": r.Header.Get("User-Agent"),
	})

	logFor(r.Context()).Info("device verified", "email", ar.Email)
	data.Success = true
	s.render(w, r, http.StatusOK, "verify.html", data)
}

// logAuthEvent logs an auth event, silently ignoring errors.
func (s *Server) logAuthEvent(authRequestID, email, eventType string, meta map[string]string) {
	metadata := "{}"
	if len(meta) > 0 {
		if b, err := json.Marshal(meta); err == nil {
			metadata = string(b)
		}
	}
	if err := s.store.InsertAuthEvent(authRequestID, email, eventType, metadata); err != nil {
		slog.Warn("log auth event", "type", eventType, "err", err)
	}
}

// normalizeUserCode uppercases a typed code and strips separators.
func normalizeUserCode(code string) string {
	code = strings.ReplaceAll(code, "-", "")
	code = strings.ReplaceAll(code, " ", "")
	return strings.ToUpper(strings.TrimSpace(code))
}

// sameOrigin rejects form posts whose Origin header names another host.
// Requests without an Origin header are let through.
func sameOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return u.Host == r.Host
}
