package http

import (
	"context"
	"io/fs"
	"net/http"
	"strings"
	"sync"
	"time"

	"spendwise/internal/baas"
	applog "spendwise/internal/log"
	"spendwise/internal/metrics"
	"spendwise/internal/middleware/ratelimit"
	"spendwise/internal/middleware/security"
	"spendwise/internal/middleware/trace"
	"spendwise/internal/services"
	"spendwise/internal/session"
	"spendwise/internal/view"
	appweb "spendwise/web"
)

// Deps are the collaborators the handlers call into.
type Deps struct {
	Client     baas.Client
	Sessions   *session.Provider
	Workspaces *view.Registry
	Admin      *services.AdminService
	Support    *services.SupportService
	Metrics    *metrics.Metrics
	Logger     *applog.Logger
}

// Options tune the HTTP surface.
type Options struct {
	CookieSecure       bool
	RateLimitPerMinute int
	TrustedProxies     []string
	// Templates and Static default to the embedded web assets.
	Templates fs.FS
	Static    fs.FS
}

type Server struct {
	http.Server
	templates *templateSet

	client     baas.Client
	sessions   *session.Provider
	workspaces *view.Registry
	admin      *services.AdminService
	support    *services.SupportService
	metrics    *metrics.Metrics
	log        *applog.Logger

	limiter      *ratelimit.Limiter
	detector     *security.Detector
	cookieSecure bool
	started      time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and templates, returning a ready-to-run http.Server.
func NewServer(addr string, deps Deps, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = applog.New(applog.DefaultConfig())
	}
	if opts.Templates == nil {
		opts.Templates = appweb.TemplatesFS
	}
	if opts.Static == nil {
		opts.Static = appweb.StaticFS
	}

	mux := http.NewServeMux()
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadTimeout:       10 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			WriteTimeout:      10 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    64 << 10,
		},
		client:       deps.Client,
		sessions:     deps.Sessions,
		workspaces:   deps.Workspaces,
		admin:        deps.Admin,
		support:      deps.Support,
		metrics:      deps.Metrics,
		log:          deps.Logger.WithComponent(applog.ComponentHTTP),
		detector:     security.NewDetector(),
		cookieSecure: opts.CookieSecure,
		started:      time.Now(),
	}
	s.limiter = ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute})

	for _, cidr := range opts.TrustedProxies {
		if err := s.detector.AddTrustedProxy(cidr); err != nil {
			s.log.Warn("Ignoring trusted proxy", applog.FieldError, err)
		}
	}

	t, err := loadTemplates(opts.Templates)
	if err != nil {
		s.log.WithComponent(applog.ComponentTemplate).Error("Failed parsing templates", applog.FieldError, err)
	}
	s.templates = t

	if sub, err := fs.Sub(opts.Static, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		s.log.Warn("Failed to mount embedded static FS", applog.FieldError, err)
	}

	s.routes(mux)
	s.Handler = s.middleware(mux)
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.Handle("GET /metrics", s.metrics.Handler())

	// Auth
	mux.HandleFunc("GET /auth/login", s.handleLoginPage)
	mux.HandleFunc("POST /auth/login", s.handleLogin)
	mux.HandleFunc("GET /auth/register", s.handleRegisterPage)
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/logout", s.handleLogout)

	// Dashboard and wallets
	mux.HandleFunc("GET /{$}", s.RequireAuth(s.handleDashboard))
	mux.HandleFunc("GET /ui/dashboard", s.RequireAuth(s.handleDashboardPartial))
	mux.HandleFunc("GET /wallets", s.RequireAuth(s.handleWallets))
	mux.HandleFunc("POST /wallets/reload", s.RequireAuth(s.handleReloadWallets))
	mux.HandleFunc("GET /ui/transactions", s.RequireAuth(s.handleTransactionsPartial))
	mux.HandleFunc("POST /transactions", s.RequireAuth(s.handleCreateTransaction))
	mux.HandleFunc("GET /ui/limits", s.RequireAuth(s.handleLimitsPartial))
	mux.HandleFunc("POST /limits", s.RequireAuth(s.handleCreateLimit))
	mux.HandleFunc("POST /limits/{id}", s.RequireAuth(s.handleEditLimit))
	mux.HandleFunc("DELETE /limits/{id}", s.RequireAuth(s.handleDeleteLimit))
	mux.HandleFunc("GET /ui/subscriptions", s.RequireAuth(s.handleSubscriptionsPartial))
	mux.HandleFunc("POST /subscriptions", s.RequireAuth(s.handleCreateSubscription))
	mux.HandleFunc("DELETE /subscriptions/{id}", s.RequireAuth(s.handleDeleteSubscription))

	// Settings
	mux.HandleFunc("GET /settings", s.RequireAuth(s.handleSettings))
	mux.HandleFunc("POST /settings/profile", s.RequireAuth(s.handleUpdateProfile))
	mux.HandleFunc("POST /settings/password", s.RequireAuth(s.handlePasswordReset))

	// Support, open to anonymous visitors
	mux.HandleFunc("GET /feedback", s.handleFeedbackPage)
	mux.HandleFunc("POST /feedback", s.handleSubmitFeedback)
	mux.HandleFunc("GET /issues/new", s.handleIssuePage)
	mux.HandleFunc("POST /issues", s.handleReportIssue)

	// Admin
	mux.HandleFunc("GET /admin", s.RequireAdmin(s.handleAdminOverview))
	mux.HandleFunc("GET /admin/users", s.RequireAdmin(s.handleAdminUsers))
	mux.HandleFunc("POST /admin/users/{id}/role", s.RequireAdmin(s.handleAdminUserRole))
	mux.HandleFunc("DELETE /admin/users/{id}", s.RequireAdmin(s.handleAdminDeleteUser))
	mux.HandleFunc("GET /admin/feedback", s.RequireAdmin(s.handleAdminFeedback))
	mux.HandleFunc("GET /admin/feedback/{id}", s.RequireAdmin(s.handleAdminFeedbackDetail))
	mux.HandleFunc("POST /admin/feedback/{id}/status", s.RequireAdmin(s.handleAdminFeedbackStatus))
	mux.HandleFunc("GET /admin/issues", s.RequireAdmin(s.handleAdminIssues))
	mux.HandleFunc("GET /admin/issues/{id}", s.RequireAdmin(s.handleAdminIssueDetail))
	mux.HandleFunc("POST /admin/issues/{id}/status", s.RequireAdmin(s.handleAdminIssueStatus))
	mux.HandleFunc("POST /admin/issues/{id}/priority", s.RequireAdmin(s.handleAdminIssuePriority))
	mux.HandleFunc("POST /admin/issues/{id}/assignee", s.RequireAdmin(s.handleAdminIssueAssignee))
}

// middleware wraps the mux from the outside in: tracing, request logger,
// probe detection, security headers, write rate limiting, session loading
// and finally route metrics, which must sit right above the mux to see the
// matched pattern.
func (s *Server) middleware(mux http.Handler) http.Handler {
	tracer := trace.NewMiddleware(s.detector.ExtractClientIP, s.log)
	limited := s.limiter.Middleware(s.detector.ExtractClientIP, s.rateLimited)
	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())

	h := s.instrument(mux)
	h = s.loadSession(h)
	h = limited(h)
	h = headers.Middleware(h)
	h = s.detector.Middleware(s.log)(h)
	h = applog.RequestIDMiddleware(trace.RequestID)(h)
	h = applog.Middleware(s.log)(h)
	return tracer.Middleware(h)
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	s.log.WithComponent(applog.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.detector.ExtractClientIP(r),
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	TooManyRequestsError("Too many requests. Please wait a minute and try again.").Write(w)
}

// instrument records request count and latency per matched route.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		route := r.Pattern
		if i := strings.IndexByte(route, ' '); i >= 0 {
			route = route[i+1:]
		}
		if route == "" {
			route = "unmatched"
		}
		s.metrics.ObserveRequest(r.Method, route, rw.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// Shutdown stops the rate limiter and drains the HTTP server. Workspaces
// and sessions belong to the caller.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
