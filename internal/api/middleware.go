package api

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/marcus/tpled/internal/serverdb"
)

type contextKey int

const (
	ctxKeyAuthUser contextKey = iota
	ctxKeyRequestID
	ctxKeyTemplateRole
	ctxKeyLogger
)

// AuthUser holds the authenticated user information extracted from the API key.
type AuthUser struct {
	UserID string
	Email  string
	KeyID  string
	Scopes []string
	// ViaCookie is set when the key came from the browser session cookie.
	ViaCookie bool
}

// getUserFromContext returns the authenticated user from the request context, or nil.
func getUserFromContext(ctx context.Context) *AuthUser {
	u, _ := ctx.Value(ctxKeyAuthUser).(*AuthUser)
	return u
}

// getTemplateRole returns the caller's role on the template in the path.
func getTemplateRole(ctx context.Context) string {
	role, _ := ctx.Value(ctxKeyTemplateRole).(string)
	return role
}

// getRequestID returns the request ID from the context.
func getRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKeyRequestID).(string)
	return id
}

// logFor returns the context-scoped logger, falling back to the default logger.
func logFor(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKeyLogger).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}

// loggerMiddleware creates a per-request logger with the request ID and stores it in the context.
func loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		l := slog.Default().With("rid", getRequestID(r.Context()))
		ctx := context.WithValue(r.Context(), ctxKeyLogger, l)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// metricsMiddleware records request counts and categorizes response status codes.
func metricsMiddleware(m *Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.RecordRequest()
			sc := &statusCapture{ResponseWriter: w, code: http.StatusOK}
			next.ServeHTTP(sc, r)
			switch {
			case sc.code >= 500:
				m.RecordError()
			case sc.code >= 400:
				m.RecordClientError()
			}
		})
	}
}

// recoveryMiddleware catches panics and returns a 500 response.
func recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logFor(r.Context()).Error("panic recovered", "panic", rec, "path", r.URL.Path)
				writeError(w, http.StatusInternalServerError, ErrCodeInternal, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// generateRequestID creates a random hex string for request tracing.
func generateRequestID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(b)
}

// requestIDMiddleware generates a unique request ID and adds it to the context and response headers.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := generateRequestID()
		w.Header().Set("X-Request-ID", id)
		ctx := context.WithValue(r.Context(), ctxKeyRequestID, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// statusCapture wraps ResponseWriter to capture the status code.
type statusCapture struct {
	http.ResponseWriter
	code int
}

func (sc *statusCapture) WriteHeader(code int) {
	sc.code = code
	sc.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs each request with method, path, status, and duration.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sc := &statusCapture{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(sc, r)
		logFor(r.Context()).Info("req",
			"method", r.Method,
			"path", r.URL.Path,
			"status", sc.code,
			"dur", time.Since(start).String(),
		)
	})
}

// authenticate resolves the caller from the Authorization header or, when
// that is absent, the session cookie. It returns nil for anonymous requests
// and for unknown or expired keys.
func (s *Server) authenticate(r *http.Request) (*AuthUser, error) {
	var token string
	viaCookie := false
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return nil, nil
		}
		token = strings.TrimPrefix(authHeader, "Bearer ")
	} else if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		token = c.Value
		viaCookie = true
	}
	if token == "" {
		return nil, nil
	}

	ak, user, err := s.store.VerifyAPIKey(token)
	if err != nil {
		return nil, err
	}
	if ak == nil || user == nil {
		return nil, nil
	}
	// Only browser sessions may ride on the cookie.
	if viaCookie && !ak.IsSession() {
		return nil, nil
	}

	return &AuthUser{
		UserID:    user.ID,
		Email:     user.Email,
		KeyID:     ak.ID,
		Scopes:    ak.ScopeList(),
		ViaCookie: viaCookie,
	}, nil
}

// withUser stores the user and a logger enriched with its ID in the context.
func withUser(ctx context.Context, u *AuthUser) context.Context {
	ctx = context.WithValue(ctx, ctxKeyAuthUser, u)
	return context.WithValue(ctx, ctxKeyLogger, logFor(ctx).With("uid", u.UserID))
}

// requireAuth returns an http.HandlerFunc that verifies the Bearer token or
// session cookie and injects AuthUser into the context before calling the
// inner handler.
func (s *Server) requireAuth(handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader != "" && !strings.HasPrefix(authHeader, "Bearer ") {
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid authorization format")
			return
		}

		authUser, err := s.authenticate(r)
		if err != nil {
			logFor(r.Context()).Error("verify api key", "err", err)
			writeError(w, http.StatusInternalServerError, ErrCodeInternal, "failed to verify key")
			return
		}
		if authUser == nil {
			if authHeader == "" {
				if _, err := r.Cookie(sessionCookieName); err != nil {
					writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "missing authorization header")
					return
				}
			}
			writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, "invalid or expired api key")
			return
		}

		// Cookie-authenticated writes must be JSON so that a plain HTML form
		// on another site cannot submit them.
		if authUser.ViaCookie && !isSafeMethod(r.Method) && !isJSONRequest(r) {
			writeError(w, http.StatusForbidden, ErrCodeForbidden, "cookie-authenticated writes must send application/json")
			return
		}

		handler(w, r.WithContext(withUser(r.Context(), authUser)))
	}
}

// requireTemplateAuth validates auth and checks the user has the required
// role on the template identified by the "id" path value. Templates the
// caller cannot see are reported as not found.
func (s *Server) requireTemplateAuth(requiredRole string, handler http.HandlerFunc) http.HandlerFunc {
	return s.requireAuth(func(w http.ResponseWriter, r *http.Request) {
		templateID := r.PathValue("id")
		if !serverdb.IsUUID(templateID) {
			writeError(w, http.StatusNotFound, ErrCodeNotFound, "template not found")
			return
		}

		user := getUserFromContext(r.Context())
		role, err := s.store.Authorize(templateID, user.UserID, requiredRole)
		if err != nil {
			writeStoreError(w, r, err, "failed to check access")
			return
		}

		// Enrich logger with template ID
		ctx := context.WithValue(r.Context(), ctxKeyTemplateRole, role)
		ctx = context.WithValue(ctx, ctxKeyLogger, logFor(ctx).With("tid", templateID))
		handler(w, r.WithContext(ctx))
	})
}

func isSafeMethod(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

func isJSONRequest(r *http.Request) bool {
	mt, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return err == nil && mt == "application/json"
}

// maxBytesMiddleware limits request body size to prevent abuse.
func maxBytesMiddleware(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// chain applies middleware in order (first applied is outermost).
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
