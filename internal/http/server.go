package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"moneybook/internal/core"
	"moneybook/internal/log"
	"moneybook/internal/middleware/ratelimit"
	"moneybook/internal/middleware/security"
	"moneybook/internal/middleware/trace"
	"moneybook/internal/services"
)

// Error codes produced by the HTTP layer itself.
const (
	CodeUnauthorized = "auth.login.error.password.invalid"
	CodeRateLimited  = "auth.error.rateLimit.exceeded"
	CodeInternal     = "internal.error"
)

// SessionCookie holds the session token for browser clients.
const SessionCookie = "jwt"

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds server settings.
type Config struct {
	Addr         string
	CookieSecure bool
	// Requests per minute and client on /api/auth/*.
	AuthRateLimit int
	TokenTTL      time.Duration
	Logger        *log.Logger
}

// Server serves the JSON API.
type Server struct {
	http.Server

	svc    *services.Services
	store  Pinger
	logger *log.Logger

	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware

	cookieSecure bool
	tokenTTL     time.Duration
	started      time.Time

	shutdownOnce sync.Once
}

type ctxKey struct{}

// userID returns the id stored by the session guard.
func userID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// NewServer configures routes and middleware, returning a ready-to-run
// server. store backs /readyz.
func NewServer(cfg Config, svc *services.Services, store Pinger) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.DefaultConfig())
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 7 * 24 * time.Hour
	}

	detector := security.NewDetector(cfg.Logger)
	s := &Server{
		svc:          svc,
		store:        store,
		logger:       cfg.Logger.WithComponent(log.ComponentHTTP),
		limiter:      ratelimit.NewLimiter(ratelimit.Config{Limit: cfg.AuthRateLimit, Window: time.Minute}),
		detector:     detector,
		tracer:       trace.NewMiddleware(detector.ExtractClientIP, cfg.Logger),
		cookieSecure: cfg.CookieSecure,
		tokenTTL:     cfg.TokenTTL,
		started:      time.Now(),
	}

	mux := http.NewServeMux()
	s.routes(mux)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	s.Server = http.Server{
		Addr:              cfg.Addr,
		Handler:           s.tracer.Middleware(detector.Middleware(headers.Middleware(mux))),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

func (s *Server) routes(mux *http.ServeMux) {
	limited := s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimit)

	mux.Handle("POST /api/auth/register", limited(http.HandlerFunc(s.handleRegister)))
	mux.Handle("POST /api/auth/login", limited(http.HandlerFunc(s.handleLogin)))
	mux.HandleFunc("POST /api/auth/logout", s.handleLogout)

	mux.Handle("GET /api/user/profile", s.guard(s.handleProfile))
	mux.Handle("POST /api/user/status", s.guard(s.handleUserStatus))
	// Both verify the current password, so they share the auth budget.
	mux.Handle("POST /api/user/password", limited(s.guard(s.handleUserPassword)))
	mux.Handle("POST /api/user/remove", limited(s.guard(s.handleUserRemove)))

	mux.Handle("GET /api/currency/load", s.guard(s.handleCurrencyLoad))

	mux.Handle("GET /api/account/load", s.guard(s.handleAccountLoad))
	mux.Handle("POST /api/account/add", s.guard(s.handleAccountAdd))
	mux.Handle("POST /api/account/update", s.guard(s.handleAccountUpdate))
	mux.Handle("POST /api/account/remove", s.guard(s.handleAccountRemove))

	mux.Handle("GET /api/category/load", s.guard(s.handleCategoryLoad))
	mux.Handle("POST /api/category/add", s.guard(s.handleCategoryAdd))
	mux.Handle("POST /api/category/update", s.guard(s.handleCategoryUpdate))
	mux.Handle("POST /api/category/remove", s.guard(s.handleCategoryRemove))

	mux.Handle("GET /api/operation/list", s.guard(s.handleOperationList))
	mux.Handle("GET /api/operation/summary", s.guard(s.handleOperationSummary))
	mux.Handle("POST /api/operation/add", s.guard(s.handleOperationAdd))
	mux.Handle("POST /api/operation/update", s.guard(s.handleOperationUpdate))
	mux.Handle("POST /api/operation/remove", s.guard(s.handleOperationRemove))

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
}

// guard resolves the session from the cookie or a bearer header. Failures
// get a 403 and a cleared cookie.
func (s *Server) guard(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			if c, err := r.Cookie(SessionCookie); err == nil {
				token = c.Value
			}
		}
		if token == "" {
			s.deny(w)
			return
		}

		id, err := s.svc.Users.Authenticate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, services.ErrUnauthorized) {
				log.FromContext(r.Context()).ErrorContext(r.Context(), "Session lookup failed", log.FieldError, err.Error())
			}
			s.deny(w)
			return
		}

		ctx := context.WithValue(r.Context(), ctxKey{}, id)
		ctx = log.NewContext(ctx, log.FromContext(ctx).With(log.FieldUserID, id))
		next(w, r.WithContext(ctx))
	})
}

func (s *Server) deny(w http.ResponseWriter) {
	ForbiddenError().Cookie(s.clearCookie()).Write(w)
}

func (s *Server) onRateLimit(w http.ResponseWriter, r *http.Request) {
	s.logger.WithComponent(log.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldPath, r.URL.Path)
	TooManyRequestsError().Write(w)
}

func (s *Server) sessionCookie(token string) *http.Cookie {
	return &http.Cookie{
		Name:     SessionCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.tokenTTL / time.Second),
		HttpOnly: true,
		Secure:   s.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Server) clearCookie() *http.Cookie {
	c := s.sessionCookie("")
	c.MaxAge = -1
	return c
}

// fail writes err: coded errors become 400 with their code, lost sessions
// 403, anything else 500.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, services.ErrUnauthorized) {
		s.deny(w)
		return
	}
	if code := core.ErrorCode(err); code != "" {
		BadRequestError(code).Write(w)
		return
	}
	log.FromContext(r.Context()).ErrorContext(r.Context(), "Request failed",
		log.FieldError, err.Error(),
		log.FieldErrorType, log.ErrorTypeInternal)
	InternalServerError().Write(w)
}

// Shutdown stops background routines and the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
