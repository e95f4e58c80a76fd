package api

import (
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/marcus/tpled/internal/serverdb"
)

// requireAdmin checks the caller's key carries the admin scope. Browser
// sessions never do.
func (s *Server) requireAdmin(handler http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		user := getUserFromContext(r.Context())
		if user.ViaCookie || !slices.Contains(user.Scopes, serverdb.ScopeAdmin) {
			writeError(w, http.StatusForbidden, ErrCodeForbidden, "admin scope required")
			return
		}
		handler(w, r)
	})
}

// adminOverviewResponse is the JSON response for GET /v1/admin/overview.
type adminOverviewResponse struct {
	UptimeSeconds    float64         `json:"uptime_seconds"`
	Health           string          `json:"health"`
	SchemaVersion    int             `json:"schema_version"`
	Metrics          MetricsSnapshot `json:"metrics"`
	TotalUsers       int             `json:"total_users"`
	TotalTemplates   int             `json:"total_templates"`
	RateLimitedAuth  int             `json:"rate_limited_auth"`
	RateLimitedWrite int             `json:"rate_limited_write"`
	RateLimitedOther int             `json:"rate_limited_other"`
}

// handleAdminOverview handles GET /v1/admin/overview.
func (s *Server) handleAdminOverview(w http.ResponseWriter, r *http.Request) {
	health := "ok"
	if err := s.store.Ping(); err != nil {
		health = "error"
	}

	users, err := s.store.CountUsers()
	if err != nil {
		logFor(r.Context()).Error("count users", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to count users")
		return
	}
	templates, err := s.store.CountTemplates()
	if err != nil {
		logFor(r.Context()).Error("count templates", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to count templates")
		return
	}

	resp := adminOverviewResponse{
		UptimeSeconds:  time.Since(s.startTime).Seconds(),
		Health:         health,
		SchemaVersion:  s.store.SchemaVersion(),
		Metrics:        s.metrics.Snapshot(),
		TotalUsers:     users,
		TotalTemplates: templates,
	}
	for class, dst := range map[string]*int{
		"auth":  &resp.RateLimitedAuth,
		"write": &resp.RateLimitedWrite,
		"other": &resp.RateLimitedOther,
	} {
		n, err := s.store.CountRateLimitEvents(class)
		if err != nil {
			logFor(r.Context()).Error("count rate limit events", "class", class, "err", err)
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to count rate limit events")
			return
		}
		*dst = n
	}

	writeJSON(w, http.StatusOK, resp)
}

// adminConfigResponse is the JSON response for GET /v1/admin/config.
type adminConfigResponse struct {
	ListenAddr              string   `json:"listen_addr"`
	BaseURL                 string   `json:"base_url"`
	AllowSignup             bool     `json:"allow_signup"`
	LogLevel                string   `json:"log_level"`
	LogFormat               string   `json:"log_format"`
	RateLimitAuth           int      `json:"rate_limit_auth"`
	RateLimitWrite          int      `json:"rate_limit_write"`
	RateLimitOther          int      `json:"rate_limit_other"`
	CORSOrigins             []string `json:"cors_origins"`
	AuthEventRetention      string   `json:"auth_event_retention"`
	RateLimitEventRetention string   `json:"rate_limit_event_retention"`
	SessionTTL              string   `json:"session_ttl"`
	EditorCDN               string   `json:"editor_cdn"`
}

// handleAdminConfig returns non-secret config values.
func (s *Server) handleAdminConfig(w http.ResponseWriter, r *http.Request) {
	origins := s.config.CORSAllowedOrigins
	if origins == nil {
		origins = []string{}
	}
	writeJSON(w, http.StatusOK, adminConfigResponse{
		ListenAddr:              s.config.ListenAddr,
		BaseURL:                 s.config.BaseURL,
		AllowSignup:             s.config.AllowSignup,
		LogLevel:                s.config.LogLevel,
		LogFormat:               s.config.LogFormat,
		RateLimitAuth:           s.config.RateLimitAuth,
		RateLimitWrite:          s.config.RateLimitWrite,
		RateLimitOther:          s.config.RateLimitOther,
		CORSOrigins:             origins,
		AuthEventRetention:      formatDaysDuration(s.config.AuthEventRetention),
		RateLimitEventRetention: formatDaysDuration(s.config.RateLimitEventRetention),
		SessionTTL:              formatDaysDuration(s.config.SessionTTL),
		EditorCDN:               s.config.EditorCDN,
	})
}

// formatDaysDuration formats a duration as "Nd" if it's an exact number of days,
// otherwise falls back to Go's standard duration string.
func formatDaysDuration(d time.Duration) string {
	if d <= 0 {
		return "0s"
	}
	days := int(d.Hours() / 24)
	if time.Duration(days)*24*time.Hour == d {
		return fmt.Sprintf("%dd", days)
	}
	return d.String()
}

type adminUserResponse struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	CreatedAt string `json:"created_at"`
}

// handleAdminListUsers handles GET /v1/admin/users.
func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.store.ListUsers()
	if err != nil {
		logFor(r.Context()).Error("admin list users", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list users")
		return
	}
	resp := make([]adminUserResponse, 0, len(users))
	for _, u := range users {
		resp = append(resp, adminUserResponse{ID: u.ID, Email: u.Email, CreatedAt: formatTime(u.CreatedAt)})
	}
	writeJSON(w, http.StatusOK, resp)
}

type adminAuthEventResponse struct {
	ID            int64  `json:"id"`
	AuthRequestID string `json:"auth_request_id,omitempty"`
	Email         string `json:"email"`
	EventType     string `json:"event_type"`
	Metadata      string `json:"metadata"`
	CreatedAt     string `json:"created_at"`
}

// handleAdminAuthEvents handles GET /v1/admin/auth-events?email=&limit=.
func (s *Server) handleAdminAuthEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	email, ok := normalizeEmail(q.Get("email"))
	if !ok {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "valid email is required")
		return
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	events, err := s.store.ListAuthEvents(email, limit)
	if err != nil {
		logFor(r.Context()).Error("admin list auth events", "err", err)
		writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to list auth events")
		return
	}
	resp := make([]adminAuthEventResponse, 0, len(events))
	for _, e := range events {
		resp = append(resp, adminAuthEventResponse{
			ID:            e.ID,
			AuthRequestID: e.AuthRequestID,
			Email:         e.Email,
			EventType:     e.EventType,
			Metadata:      e.Metadata,
			CreatedAt:     formatTime(e.CreatedAt),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
