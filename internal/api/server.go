package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/marcus/tpled/internal/serverdb"
)

// Server is the HTTP server for tpled: JSON API and web pages.
type Server struct {
	config      Config
	http        *http.Server
	store       *serverdb.ServerDB
	metrics     *Metrics
	rateLimiter *RateLimiter
	mailer      Mailer
	startTime   time.Time

	mu     sync.Mutex
	addr   net.Addr
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewServer creates a new Server with the given config and store.
func NewServer(cfg Config, store *serverdb.ServerDB) (*Server, error) {
	if cfg.EditorCDN == "" {
		cfg.EditorCDN = DefaultEditorCDN
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 30 * 24 * time.Hour
	}
	s := &Server{
		config:      cfg,
		store:       store,
		metrics:     NewMetrics(),
		rateLimiter: NewRateLimiter(),
		mailer:      LogMailer{},
		startTime:   time.Now(),
	}

	s.http = &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// SetMailer replaces the login code transport.
func (s *Server) SetMailer(m Mailer) {
	s.mailer = m
}

// Start begins listening for HTTP requests and starts the background
// maintenance loops (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	g, ctx := errgroup.WithContext(ctx)

	s.mu.Lock()
	s.addr = ln.Addr()
	s.cancel = cancel
	s.group = g
	s.mu.Unlock()

	g.Go(func() error {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		s.every(ctx, 5*time.Minute, "expire auth requests", s.expireAuthRequests)
		return nil
	})
	g.Go(func() error {
		s.every(ctx, 24*time.Hour, "prune audit tables", s.pruneAudit)
		return nil
	})
	g.Go(func() error {
		s.rateLimiter.Run(ctx, 5*time.Minute)
		return nil
	})

	return nil
}

// Addr returns the address the server listens on once started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown gracefully stops the server and waits for the background loops.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	cancel, g := s.cancel, s.group
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := s.http.Shutdown(ctx)
	if g != nil {
		if werr := g.Wait(); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

// every runs fn each interval until ctx is done. A panic in fn is logged
// and does not stop the loop.
func (s *Server) every(ctx context.Context, interval time.Duration, name string, fn func()) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						slog.Error("background task panic", "task", name, "panic", r)
					}
				}()
				fn()
			}()
		}
	}
}

func (s *Server) expireAuthRequests() {
	n, err := s.store.CleanupExpiredAuthRequests()
	if err != nil {
		slog.Error("cleanup expired auth requests", "err", err)
	} else if n > 0 {
		slog.Info("cleaned up expired auth requests", "count", n)
	}
}

func (s *Server) pruneAudit() {
	if s.config.AuthEventRetention > 0 {
		if n, err := s.store.CleanupAuthEvents(s.config.AuthEventRetention); err != nil {
			slog.Error("cleanup auth events", "err", err)
		} else if n > 0 {
			slog.Info("pruned auth events", "count", n)
		}
	}
	if s.config.RateLimitEventRetention > 0 {
		if n, err := s.store.CleanupRateLimitEvents(s.config.RateLimitEventRetention); err != nil {
			slog.Error("cleanup rate limit events", "err", err)
		} else if n > 0 {
			slog.Info("pruned rate limit events", "count", n)
		}
	}
	if n, err := s.store.PruneExpiredAPIKeys(); err != nil {
		slog.Error("prune expired api keys", "err", err)
	} else if n > 0 {
		slog.Info("pruned expired api keys", "count", n)
	}
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	read, write := s.config.RateLimitOther, s.config.RateLimitWrite

	// Health & metrics
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /metricz", s.handleMetrics)

	// CLI login (public)
	mux.HandleFunc("POST /v1/auth/login/start", s.handleLoginStart)
	mux.HandleFunc("POST /v1/auth/login/poll", s.handleLoginPoll)
	mux.HandleFunc("GET /auth/verify", s.handleVerifyPage)
	mux.HandleFunc("POST /auth/verify", s.handleVerifySubmit)

	mux.HandleFunc("GET /v1/me", s.requireAuth(s.withRateLimit(s.handleMe, read)))

	// Templates
	mux.HandleFunc("GET /v1/templates", s.requireAuth(s.withRateLimit(s.handleListTemplates, read)))
	mux.HandleFunc("POST /v1/templates", s.requireAuth(s.withRateLimit(s.handleCreateTemplate, write)))
	mux.HandleFunc("GET /v1/templates/{id}", s.requireTemplateAuth(serverdb.RoleViewer, s.withRateLimit(s.handleGetTemplate, read)))
	mux.HandleFunc("PATCH /v1/templates/{id}", s.requireTemplateAuth(serverdb.RoleEditor, s.withRateLimit(s.handleRenameTemplate, write)))
	mux.HandleFunc("DELETE /v1/templates/{id}", s.requireTemplateAuth(serverdb.RoleOwner, s.withRateLimit(s.handleDeleteTemplate, write)))
	mux.HandleFunc("GET /v1/templates/{id}/html", s.requireTemplateAuth(serverdb.RoleViewer, s.withRateLimit(s.handleTemplateHTML, read)))

	// Versions
	mux.HandleFunc("GET /v1/templates/{id}/versions", s.requireTemplateAuth(serverdb.RoleViewer, s.withRateLimit(s.handleListVersions, read)))
	mux.HandleFunc("POST /v1/templates/{id}/versions", s.requireTemplateAuth(serverdb.RoleEditor, s.withRateLimit(s.handleSaveVersion, write)))
	mux.HandleFunc("GET /v1/templates/{id}/versions/{version}", s.requireTemplateAuth(serverdb.RoleViewer, s.withRateLimit(s.handleGetVersion, read)))
	mux.HandleFunc("GET /v1/templates/{id}/versions/{version}/html", s.requireTemplateAuth(serverdb.RoleViewer, s.withRateLimit(s.handleVersionHTML, read)))
	mux.HandleFunc("POST /v1/templates/{id}/versions/{version}/restore", s.requireTemplateAuth(serverdb.RoleEditor, s.withRateLimit(s.handleRestoreVersion, write)))

	// Shares
	mux.HandleFunc("GET /v1/templates/{id}/shares", s.requireTemplateAuth(serverdb.RoleOwner, s.withRateLimit(s.handleListShares, read)))
	mux.HandleFunc("POST /v1/templates/{id}/shares", s.requireTemplateAuth(serverdb.RoleOwner, s.withRateLimit(s.handleAddShare, write)))
	mux.HandleFunc("PATCH /v1/templates/{id}/shares/{userID}", s.requireTemplateAuth(serverdb.RoleOwner, s.withRateLimit(s.handleUpdateShare, write)))
	mux.HandleFunc("DELETE /v1/templates/{id}/shares/{userID}", s.requireTemplateAuth(serverdb.RoleOwner, s.withRateLimit(s.handleRemoveShare, write)))

	// Admin (read-only)
	mux.HandleFunc("GET /v1/admin/overview", s.requireAdmin(s.handleAdminOverview))
	mux.HandleFunc("GET /v1/admin/config", s.requireAdmin(s.handleAdminConfig))
	mux.HandleFunc("GET /v1/admin/users", s.requireAdmin(s.handleAdminListUsers))
	mux.HandleFunc("GET /v1/admin/auth-events", s.requireAdmin(s.handleAdminAuthEvents))

	// Web pages
	mux.HandleFunc("GET /{$}", s.handleHomePage)
	mux.HandleFunc("GET /login", s.handleLoginPage)
	mux.HandleFunc("POST /login", s.handleLoginSubmit)
	mux.HandleFunc("GET /login/verify", s.handleLoginVerifyPage)
	mux.HandleFunc("POST /login/verify", s.handleLoginVerifySubmit)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("GET /templates", s.requirePage(s.handleTemplatesPage))
	mux.HandleFunc("POST /templates", s.requirePage(s.handleCreateTemplatePage))
	mux.HandleFunc("GET /templates/{id}", s.requirePage(s.handleEditorPage))
	mux.HandleFunc("POST /templates/{id}/delete", s.requirePage(s.handleDeleteTemplatePage))

	return s.middleware(mux)
}

// middleware wraps h with the server's middleware stack. Recovery runs
// inside the request logger, metrics and access log so a panic is logged
// with its rid and counted as a 500.
func (s *Server) middleware(h http.Handler) http.Handler {
	return chain(h,
		requestIDMiddleware,
		loggerMiddleware,
		metricsMiddleware(s.metrics),
		loggingMiddleware,
		recoveryMiddleware,
		s.CORSMiddleware,
		maxBytesMiddleware(10<<20),
		authRateLimitMiddleware(s.rateLimiter, s.config.RateLimitAuth, s.store),
	)
}

// handleHealth returns a health check response, pinging the server DB.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "error", "detail": "db unreachable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMetrics returns a snapshot of server metrics.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

// MeResponse describes the authenticated caller.
type MeResponse struct {
	UserID string   `json:"user_id"`
	Email  string   `json:"email"`
	KeyID  string   `json:"key_id"`
	Scopes []string `json:"scopes"`
}

// handleMe handles GET /v1/me.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u := getUserFromContext(r.Context())
	writeJSON(w, http.StatusOK, MeResponse{UserID: u.UserID, Email: u.Email, KeyID: u.KeyID, Scopes: u.Scopes})
}
