// Package server provides the HTTP API for nornicgraph.
//
// It exposes the driver wire contract over a graphdb.Service:
//
//	POST /cypher              auto-commit query
//	POST /tx/begin            open an explicit transaction
//	POST /tx/{id}             run a query in a transaction
//	POST /tx/{id}/commit      commit
//	POST /tx/{id}/rollback    roll back
//	GET  /health              connectivity check
//
// plus /auth/token for bearer tokens, /status and /metrics. Admins manage
// accounts under /auth/users; any user may change their own password with
// POST /auth/password. Requests
// authenticate with Basic or Bearer Authorization headers. Failures are
// written as {"error": {"code": ..., "message": ...}} with Neo4j status
// codes.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/orneryd/nornicgraph/pkg/auth"
	"github.com/orneryd/nornicgraph/pkg/graphdb"
	"github.com/orneryd/nornicgraph/pkg/metrics"
)

// Errors for HTTP operations.
var (
	ErrServerClosed = errors.New("server closed")
)

// Config holds HTTP server configuration.
type Config struct {
	// Address to bind to (default: "0.0.0.0")
	Address string
	// Port to listen on (default: 7474)
	Port int
	// ReadTimeout for requests
	ReadTimeout time.Duration
	// WriteTimeout for responses
	WriteTimeout time.Duration
	// IdleTimeout for keep-alive connections
	IdleTimeout time.Duration
	// MaxRequestSize in bytes (default: 10MB)
	MaxRequestSize int64
	// EnableCORS for cross-origin requests
	EnableCORS bool
	// CORSOrigins allowed (default: "*")
	CORSOrigins []string
	// EnableMetrics exposes prometheus collectors on /metrics
	EnableMetrics bool
	// TLSCertFile for HTTPS
	TLSCertFile string
	// TLSKeyFile for HTTPS
	TLSKeyFile string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() *Config {
	return &Config{
		Address:        "0.0.0.0",
		Port:           7474,
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   60 * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxRequestSize: 10 * 1024 * 1024, // 10MB
		EnableCORS:     true,
		CORSOrigins:    []string{"*"},
		EnableMetrics:  true,
	}
}

// Server is the HTTP API server.
type Server struct {
	config *Config
	svc    *graphdb.Service
	auth   *auth.Authenticator

	httpServer *http.Server
	listener   net.Listener

	mu      sync.RWMutex
	logger  *zap.Logger
	closed  atomic.Bool
	started time.Time

	// Metrics
	requestCount   atomic.Int64
	errorCount     atomic.Int64
	activeRequests atomic.Int64
}

// New creates a new HTTP server. A nil authenticator serves every request
// without authentication.
func New(svc *graphdb.Service, authenticator *auth.Authenticator, config *Config) (*Server, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if svc == nil {
		return nil, fmt.Errorf("service required")
	}

	s := &Server{
		config:  config,
		svc:     svc,
		auth:    authenticator,
		logger:  zap.NewNop(),
		started: time.Now(),
	}
	return s, nil
}

// SetLogger sets the logger for request and failure logging.
func (s *Server) SetLogger(logger *zap.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger
}

func (s *Server) log() *zap.Logger {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.logger
}

// Start begins listening for HTTP connections.
func (s *Server) Start() error {
	if s.closed.Load() {
		return ErrServerClosed
	}

	addr := fmt.Sprintf("%s:%d", s.config.Address, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.listener = listener
	s.started = time.Now()

	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}

	go func() {
		var err error
		if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
			err = s.httpServer.ServeTLS(listener, s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = s.httpServer.Serve(listener)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log().Error("http server stopped", zap.Error(err))
		}
	}()

	s.log().Info("http server listening", zap.String("addr", listener.Addr().String()))
	return nil
}

// Stop gracefully shuts down the server. Open transactions are left to the
// service's owner.
func (s *Server) Stop(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil // Already closed
	}

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// Stats returns server statistics.
func (s *Server) Stats() ServerStats {
	return ServerStats{
		Uptime:         time.Since(s.started),
		RequestCount:   s.requestCount.Load(),
		ErrorCount:     s.errorCount.Load(),
		ActiveRequests: s.activeRequests.Load(),
	}
}

// ServerStats holds server metrics.
type ServerStats struct {
	Uptime         time.Duration `json:"uptime"`
	RequestCount   int64         `json:"request_count"`
	ErrorCount     int64         `json:"error_count"`
	ActiveRequests int64         `json:"active_requests"`
}

// =============================================================================
// Router Setup
// =============================================================================

// Handler returns the HTTP handler with all routes and middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleDiscovery)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /status", s.handleStatus)
	if s.config.EnableMetrics {
		mux.Handle("GET /metrics", metrics.Handler())
	}

	// Driver wire contract
	mux.HandleFunc("POST /cypher", s.withAuth(s.handleRun, auth.PermRead))
	mux.HandleFunc("POST /tx/begin", s.withAuth(s.handleBegin, auth.PermRead))
	mux.HandleFunc("POST /tx/{id}", s.withAuth(s.handleTxRun, auth.PermRead))
	mux.HandleFunc("POST /tx/{id}/commit", s.withAuth(s.handleCommit, auth.PermRead))
	mux.HandleFunc("POST /tx/{id}/rollback", s.withAuth(s.handleRollback, auth.PermRead))

	// Authentication
	mux.HandleFunc("POST /auth/token", s.handleToken)
	mux.HandleFunc("GET /auth/me", s.withAuth(s.handleMe, auth.PermRead))
	mux.HandleFunc("POST /auth/password", s.withAuth(s.handleChangePassword, auth.PermRead))

	// User management
	mux.HandleFunc("GET /auth/users", s.withAuth(s.handleListUsers, auth.PermUserManage))
	mux.HandleFunc("POST /auth/users", s.withAuth(s.handleCreateUser, auth.PermUserManage))
	mux.HandleFunc("GET /auth/users/{username}", s.withAuth(s.handleGetUser, auth.PermUserManage))
	mux.HandleFunc("PUT /auth/users/{username}", s.withAuth(s.handleUpdateUser, auth.PermUserManage))
	mux.HandleFunc("DELETE /auth/users/{username}", s.withAuth(s.handleDeleteUser, auth.PermUserManage))

	// Wrap with middleware
	handler := s.corsMiddleware(mux)
	handler = s.loggingMiddleware(handler)
	handler = s.recoveryMiddleware(handler)
	handler = s.metricsMiddleware(handler)

	return handler
}

// =============================================================================
// Middleware
// =============================================================================

// withAuth wraps a handler with authentication and authorization.
// Supports both Basic Auth and Bearer tokens.
func (s *Server) withAuth(handler http.HandlerFunc, requiredPerm auth.Permission) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.auth == nil || !s.auth.IsSecurityEnabled() {
			handler(w, r)
			return
		}

		claims, err := s.auth.Authorize(r.Header.Get("Authorization"))
		if err != nil {
			s.writeNeo4jError(w, http.StatusUnauthorized, graphdb.CodeUnauthorized, err.Error())
			return
		}

		if !claims.HasPermission(requiredPerm) {
			s.log().Debug("access denied",
				zap.String("user", claims.Username),
				zap.String("permission", string(requiredPerm)),
				zap.String("path", r.URL.Path))
			s.writeNeo4jError(w, http.StatusForbidden, graphdb.CodeForbidden, "insufficient permissions")
			return
		}

		ctx := context.WithValue(r.Context(), contextKeyClaims, claims)
		handler(w, r.WithContext(ctx))
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.EnableCORS {
			origin := r.Header.Get("Origin")
			if origin == "" {
				origin = "*"
			}

			allowed := false
			for _, o := range s.config.CORSOrigins {
				if o == "*" || o == origin {
					allowed = true
					break
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}

			// Handle preflight
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := wrapResponseWriter(w)

		next.ServeHTTP(wrapped, r)

		// Skip health checks for noise reduction
		if r.URL.Path != "/health" {
			s.logRequest(r, wrapped.status, time.Since(start))
		}
	})
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log().Error("panic in handler",
					zap.Any("panic", err),
					zap.String("path", r.URL.Path),
					zap.ByteString("stack", debug.Stack()))
				s.writeNeo4jError(w, http.StatusInternalServerError, graphdb.CodeUnknownError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requestCount.Add(1)
		s.activeRequests.Add(1)
		defer s.activeRequests.Add(-1)

		start := time.Now()
		wrapped := wrapResponseWriter(w)
		next.ServeHTTP(wrapped, r)

		// The mux records the matched pattern on r; unmatched paths share
		// one label so arbitrary URLs cannot grow the series count.
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		metrics.HTTPRequestsTotal.WithLabelValues(r.Method, route, fmt.Sprint(wrapped.status)).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// =============================================================================
// Driver Endpoints
// =============================================================================

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req graphdb.RunRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeNeo4jError(w, http.StatusBadRequest, graphdb.CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	if !s.allowQuery(w, r, req.Query) {
		return
	}

	res, err := s.svc.Run(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleBegin(w http.ResponseWriter, r *http.Request) {
	var req graphdb.BeginRequest
	if err := s.readOptionalJSON(r, &req); err != nil {
		s.writeNeo4jError(w, http.StatusBadRequest, graphdb.CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}

	res, err := s.svc.Begin(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleTxRun(w http.ResponseWriter, r *http.Request) {
	var req graphdb.TxRunRequest
	if err := s.readJSON(r, &req); err != nil {
		s.writeNeo4jError(w, http.StatusBadRequest, graphdb.CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	if !s.allowQuery(w, r, req.Query) {
		return
	}

	res, err := s.svc.RunInTransaction(r.Context(), r.PathValue("id"), req)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Commit(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Rollback(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, struct{}{})
}

// allowQuery refuses write queries from users without write permission.
// Queries that do not parse are let through; the service reports the
// syntax error.
func (s *Server) allowQuery(w http.ResponseWriter, r *http.Request, query string) bool {
	claims := getClaims(r)
	if claims == nil || claims.HasPermission(auth.PermWrite) {
		return true
	}
	info, err := s.svc.Analyze(query)
	if err != nil || !info.IsWriteQuery {
		return true
	}
	s.writeNeo4jError(w, http.StatusForbidden, graphdb.CodeForbidden,
		fmt.Sprintf("user %q may not run write queries", claims.Username))
	return false
}

// =============================================================================
// Discovery & Health Handlers
// =============================================================================

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeNeo4jError(w, http.StatusNotFound, graphdb.CodeInvalidRequest, "not found")
		return
	}

	host := s.config.Address
	if host == "0.0.0.0" || host == "" {
		host = "localhost"
	}
	base := fmt.Sprintf("http://%s:%d", host, s.config.Port)

	response := map[string]any{
		"cypher":           base + "/cypher",
		"transaction":      base + "/tx/begin",
		"health":           base + "/health",
		"default_database": s.svc.Catalog().DefaultName(),
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.svc.Health())
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	stats := s.Stats()
	health := s.svc.Health()

	response := map[string]any{
		"status": "running",
		"server": map[string]any{
			"uptime_seconds": stats.Uptime.Seconds(),
			"requests":       stats.RequestCount,
			"errors":         stats.ErrorCount,
			"active":         stats.ActiveRequests,
		},
		"databases":         health.Databases,
		"open_transactions": health.OpenTransactions,
		"query_cache":       s.svc.QueryCacheStats(),
	}
	if counts, err := s.svc.DatabaseStats(r.Context()); err != nil {
		s.log().Warn("failed to count database contents", zap.Error(err))
	} else {
		response["database_stats"] = counts
	}
	if s.auth != nil && s.auth.IsSecurityEnabled() {
		response["users"] = s.auth.UserCount()
	}
	s.writeJSON(w, http.StatusOK, response)
}

// =============================================================================
// Authentication Handlers
// =============================================================================

func (s *Server) handleToken(w http.ResponseWriter, r *http.Request) {
	if s.auth == nil || !s.auth.IsSecurityEnabled() {
		s.writeNeo4jError(w, http.StatusServiceUnavailable, graphdb.CodeInvalidRequest, "authentication not configured")
		return
	}

	var req struct {
		Username  string `json:"username"`
		Password  string `json:"password"`
		GrantType string `json:"grant_type"`
	}
	if err := s.readJSON(r, &req); err != nil {
		s.writeNeo4jError(w, http.StatusBadRequest, graphdb.CodeInvalidRequest, "invalid request body")
		return
	}

	// Support OAuth 2.0 password grant
	if req.GrantType != "" && req.GrantType != "password" {
		s.writeNeo4jError(w, http.StatusBadRequest, graphdb.CodeInvalidRequest, "unsupported grant_type")
		return
	}

	tokenResp, _, err := s.auth.Authenticate(req.Username, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrAccountLocked) {
			s.writeNeo4jError(w, http.StatusTooManyRequests, codeRateLimit, err.Error())
			return
		}
		s.writeNeo4jError(w, http.StatusUnauthorized, graphdb.CodeUnauthorized, err.Error())
		return
	}

	s.writeJSON(w, http.StatusOK, tokenResp)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	claims := getClaims(r)
	if claims == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"username": "anonymous", "roles": []string{string(auth.RoleAdmin)}})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":       claims.Sub,
		"username": claims.Username,
		"roles":    claims.Roles,
	})
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if !s.requireUserStore(w) {
		return
	}
	claims := getClaims(r)

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := s.readJSON(r, &req); err != nil {
		s.writeNeo4jError(w, http.StatusBadRequest, graphdb.CodeInvalidRequest, "invalid request body")
		return
	}

	if err := s.auth.ChangePassword(claims.Username, req.CurrentPassword, req.NewPassword); err != nil {
		s.writeAuthError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "password changed"})
}

// =============================================================================
// User Management Handlers
// =============================================================================

func (s *Server) handleListUsers(w http.ResponseWriter, r *http.Request) {
	if !s.requireUserStore(w) {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"users": s.auth.ListUsers()})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireUserStore(w) {
		return
	}

	var req struct {
		Username string   `json:"username"`
		Password string   `json:"password"`
		Roles    []string `json:"roles"`
	}
	if err := s.readJSON(r, &req); err != nil {
		s.writeNeo4jError(w, http.StatusBadRequest, graphdb.CodeInvalidRequest, "invalid request body")
		return
	}
	if req.Username == "" {
		s.writeNeo4jError(w, http.StatusBadRequest, graphdb.CodeInvalidRequest, "username is required")
		return
	}

	roles, err := auth.ParseRoles(req.Roles)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	if len(roles) == 0 {
		roles = []auth.Role{auth.RoleViewer}
	}

	user, err := s.auth.CreateUser(req.Username, req.Password, roles)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, user)
}

func (s *Server) handleGetUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireUserStore(w) {
		return
	}
	user, err := s.auth.GetUser(r.PathValue("username"))
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireUserStore(w) {
		return
	}

	var req struct {
		Roles    []string `json:"roles,omitempty"`
		Disabled *bool    `json:"disabled,omitempty"`
		Unlock   bool     `json:"unlock,omitempty"`
	}
	if err := s.readJSON(r, &req); err != nil {
		s.writeNeo4jError(w, http.StatusBadRequest, graphdb.CodeInvalidRequest, "invalid request body")
		return
	}

	update := auth.UserUpdate{Disabled: req.Disabled, Unlock: req.Unlock}
	if req.Roles != nil {
		roles, err := auth.ParseRoles(req.Roles)
		if err != nil {
			s.writeAuthError(w, err)
			return
		}
		update.Roles = roles
	}

	user, err := s.auth.UpdateUser(r.PathValue("username"), update)
	if err != nil {
		s.writeAuthError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	if !s.requireUserStore(w) {
		return
	}
	if err := s.auth.DeleteUser(r.PathValue("username")); err != nil {
		s.writeAuthError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// requireUserStore writes 503 when the server runs without authentication.
func (s *Server) requireUserStore(w http.ResponseWriter) bool {
	if s.auth == nil || !s.auth.IsSecurityEnabled() {
		s.writeNeo4jError(w, http.StatusServiceUnavailable, graphdb.CodeInvalidRequest, "authentication not configured")
		return false
	}
	return true
}

// =============================================================================
// Helper Functions
// =============================================================================

const codeRateLimit = "Neo.ClientError.Security.AuthenticationRateLimit"

type contextKey string

const contextKeyClaims = contextKey("claims")

func getClaims(r *http.Request) *auth.JWTClaims {
	claims, _ := r.Context().Value(contextKeyClaims).(*auth.JWTClaims)
	return claims
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	if rw, ok := w.(*responseWriter); ok {
		return rw
	}
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (w *responseWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.status = status
	w.wroteHeader = true
	w.ResponseWriter.WriteHeader(status)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.wroteHeader = true
	return w.ResponseWriter.Write(b)
}

// JSON helpers

func (s *Server) readJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, s.config.MaxRequestSize)
	return json.NewDecoder(body).Decode(v)
}

// readOptionalJSON is readJSON for endpoints whose body may be empty.
func (s *Server) readOptionalJSON(r *http.Request, v any) error {
	err := s.readJSON(r, v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log().Warn("failed to encode response", zap.Error(err))
	}
}

// writeNeo4jError writes {"error": {"code", "message"}}.
func (s *Server) writeNeo4jError(w http.ResponseWriter, status int, code, message string) {
	s.errorCount.Add(1)
	s.writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	})
}

// writeAuthError maps user management failures to HTTP statuses.
func (s *Server) writeAuthError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrUserNotFound):
		s.writeNeo4jError(w, http.StatusNotFound, graphdb.CodeInvalidRequest, err.Error())
	case errors.Is(err, auth.ErrUserExists), errors.Is(err, auth.ErrLastAdmin):
		s.writeNeo4jError(w, http.StatusConflict, graphdb.CodeInvalidRequest, err.Error())
	case errors.Is(err, auth.ErrInvalidCredentials):
		s.writeNeo4jError(w, http.StatusUnauthorized, graphdb.CodeUnauthorized, err.Error())
	case errors.Is(err, auth.ErrPasswordTooShort), errors.Is(err, auth.ErrInvalidRole):
		s.writeNeo4jError(w, http.StatusBadRequest, graphdb.CodeInvalidRequest, err.Error())
	default:
		s.log().Error("user management failed", zap.Error(err))
		s.writeNeo4jError(w, http.StatusInternalServerError, graphdb.CodeUnknownError, err.Error())
	}
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	coded := graphdb.Classify(err)
	s.writeNeo4jError(w, coded.Status, coded.Code, coded.Message)
}

// Logging helpers

func (s *Server) logRequest(r *http.Request, status int, duration time.Duration) {
	s.log().Info("http request",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Duration("duration", duration),
		zap.String("remote", clientIP(r)))
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	return host
}
