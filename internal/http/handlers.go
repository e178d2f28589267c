package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"moneybook/internal/core"
	"moneybook/internal/log"
	"moneybook/internal/services"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().Body(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}).Write(w)
}

// handleReady checks the database and reports the state of the in-process
// helpers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := make(map[string]any)

	if s.store == nil {
		checks["database"] = "not_configured"
	} else if err := s.store.Ping(ctx); err != nil {
		s.logger.WarnContext(r.Context(), "Readiness check failed",
			log.FieldError, err.Error(),
			log.FieldErrorType, log.ErrorTypeDatabase)
		checks["database"] = "failed"
		status = "not_ready"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["database"] = "ok"
	}

	checks["rate_limiter"] = map[string]any{
		"active_clients": s.limiter.ActiveClients(),
		"status":         "ok",
	}

	NewJSONResponse().Status(httpStatus).Body(map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// handleMetrics exposes request, rate limit and security counters in the
// Prometheus text format.
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	traceMetrics := s.tracer.GetMetrics()
	limitMetrics := s.limiter.Metrics()
	securityMetrics := s.detector.GetMetrics()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
	w.WriteHeader(http.StatusOK)

	metric := func(name, kind, help string, value any) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %v\n\n", name, help, name, kind, name, value)
	}
	metric("http_requests_total", "counter", "Total number of HTTP requests", traceMetrics.TotalRequests)
	metric("http_response_time_avg_microseconds", "gauge", "Average response time", traceMetrics.AverageResponseTime)
	metric("rate_limit_rejections_total", "counter", "Requests rejected by the auth rate limiter", limitMetrics.Rejected)
	metric("rate_limit_clients", "gauge", "Clients tracked by the auth rate limiter", limitMetrics.ClientCount)
	metric("suspicious_requests_total", "counter", "Suspicious requests detected", securityMetrics.SuspiciousRequests)
	metric("uptime_seconds", "gauge", "Process uptime in seconds", int64(time.Since(s.started).Seconds()))
}

type registerRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	RepeatPassword string `json:"repeatPassword"`
	Locale         string `json:"locale"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// sessionResponse is returned by register and login. The token is also set
// as the session cookie; API clients send it back as a bearer token.
type sessionResponse struct {
	User  core.User `json:"user"`
	Token string    `json:"token"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := DecodeJSON(r, &req); err != nil {
		s.fail(w, r, core.Scoped("auth.register", err))
		return
	}

	session, err := s.svc.Users.Register(r.Context(), services.RegisterInput{
		Email:          req.Email,
		Password:       req.Password,
		RepeatPassword: req.RepeatPassword,
		Locale:         req.Locale,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeSession(w, session)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := DecodeJSON(r, &req); err != nil {
		s.fail(w, r, core.Scoped("auth.login", err))
		return
	}

	session, err := s.svc.Users.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	s.writeSession(w, session)
}

func (s *Server) writeSession(w http.ResponseWriter, session services.Session) {
	NewJSONResponse().
		Cookie(s.sessionCookie(session.Token)).
		Body(sessionResponse{User: session.User, Token: session.Token}).
		Write(w)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	OK().Cookie(s.clearCookie()).Write(w)
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.svc.Users.Profile(r.Context(), userID(r.Context()))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewJSONResponse().Field("user", user).Write(w)
}

func (s *Server) handleUserStatus(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status core.UserStatus `json:"status"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		s.fail(w, r, core.Scoped("user.status", err))
		return
	}

	user, err := s.svc.Users.SetStatus(r.Context(), userID(r.Context()), req.Status)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewJSONResponse().Field("user", user).Write(w)
}

func (s *Server) handleUserPassword(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CurrentPassword string `json:"currentPassword"`
		Password        string `json:"password"`
		RepeatPassword  string `json:"repeatPassword"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		s.fail(w, r, core.Scoped("user.password", err))
		return
	}

	err := s.svc.Users.ChangePassword(r.Context(), userID(r.Context()), req.CurrentPassword, req.Password, req.RepeatPassword)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	OK().Write(w)
}

func (s *Server) handleUserRemove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Password string `json:"password"`
	}
	if err := DecodeJSON(r, &req); err != nil {
		s.fail(w, r, core.Scoped("user.remove", err))
		return
	}

	if err := s.svc.Users.Remove(r.Context(), userID(r.Context()), req.Password); err != nil {
		s.fail(w, r, err)
		return
	}
	OK().Cookie(s.clearCookie()).Write(w)
}

func (s *Server) handleCurrencyLoad(w http.ResponseWriter, r *http.Request) {
	currencies, err := s.svc.Currencies.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	NewJSONResponse().Field("currencyList", currencies).Write(w)
}
