package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"github.com/holdboard/holdboard/internal/config"
	"github.com/holdboard/holdboard/internal/gateway/web"
	"github.com/holdboard/holdboard/internal/storage"
	"github.com/holdboard/holdboard/pkg/proto"
)

// Server is the gateway: it hosts one staged-edit engine per browser
// session and exposes the JSON API the UI drives.
type Server struct {
	cfg      *config.Config
	mux      *http.ServeMux
	backend  storage.Backend
	sessions *sessionManager
	hub      *wsHub
	metrics  *Metrics
	version  string
}

// NewServer creates a gateway server over the given backend.
func NewServer(cfg *config.Config, backend storage.Backend) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	metrics := InitMetrics(nil)
	srv := &Server{
		cfg:      cfg,
		mux:      http.NewServeMux(),
		backend:  backend,
		hub:      newWSHub(),
		metrics:  metrics,
		sessions: newSessionManager(cfg.SessionTTL(), cfg.Session.DataDir, cfg.Session.PageSize, backend, metrics),
	}
	srv.sessions.onChange = func(bucket string) {
		srv.hub.broadcast(proto.Event{Type: "overlay-changed", Buckets: []string{bucket}})
	}

	srv.setupRoutes()
	return srv, nil
}

// SetVersion sets the server version reported by the health endpoint.
func (s *Server) SetVersion(version string) {
	s.version = version
}

// Run starts the background session sweeper and blocks until ctx is done.
func (s *Server) Run(ctx context.Context) {
	s.sessions.run(ctx)
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	s.mux.HandleFunc("/api/v1/login", s.handleLogin)

	s.mux.HandleFunc("/api/v1/files", s.withAuth(s.handleFiles))
	s.mux.HandleFunc("/api/v1/buckets", s.withAuth(s.handleBuckets))
	s.mux.HandleFunc("/api/v1/search", s.withAuth(s.handleSearch))
	s.mux.HandleFunc("/api/v1/objects/exists", s.withAuth(s.handleExists))
	s.mux.HandleFunc("/api/v1/objects", s.withAuth(s.handleAddObjects))
	s.mux.HandleFunc("/api/v1/edits/metadata", s.withAuth(s.handleMetadataEdit))
	s.mux.HandleFunc("/api/v1/edits/lock", s.withAuth(s.handleLockEdit))
	s.mux.HandleFunc("/api/v1/edits/toggle-lock", s.withAuth(s.handleToggleLock))
	s.mux.HandleFunc("/api/v1/changes", s.withAuth(s.handleChanges))
	s.mux.HandleFunc("/api/v1/changes/discard", s.withAuth(s.handleDiscard))
	s.mux.HandleFunc("/api/v1/commit", s.withAuth(s.handleCommit))

	s.mux.HandleFunc("/ws", s.withAuth(s.handleWS))

	if s.cfg.Metrics {
		s.mux.Handle("/metrics", promhttp.Handler())
	}

	assets, err := fs.Sub(web.Assets, ".")
	if err == nil {
		s.mux.Handle("/", http.FileServer(http.FS(assets)))
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// withAuth requires a valid login token when auth is configured. The
// token arrives as a Bearer header, or as a query parameter for the
// websocket endpoint where headers aren't available to browser code.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Auth.PasswordHash == "" {
			next(w, r)
			return
		}

		token := r.URL.Query().Get("token")
		if auth := r.Header.Get("Authorization"); auth != "" {
			parts := strings.SplitN(auth, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				s.jsonError(w, "invalid authorization header", http.StatusUnauthorized)
				return
			}
			token = parts[1]
		}
		if token == "" {
			s.jsonError(w, "missing authorization", http.StatusUnauthorized)
			return
		}

		if err := s.validateToken(token); err != nil {
			s.jsonError(w, "invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) validateToken(token string) error {
	parsed, err := jwt.ParseWithClaims(token, &jwt.RegisteredClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.Auth.JWTSecret), nil
	})
	if err != nil {
		return err
	}
	if !parsed.Valid {
		return fmt.Errorf("token invalid")
	}
	return nil
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.jsonError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.Auth.PasswordHash == "" {
		s.jsonError(w, "authentication not configured", http.StatusNotFound)
		return
	}

	var req proto.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(s.cfg.Auth.PasswordHash), []byte(req.Password)); err != nil {
		log.Warn().Str("remote", r.RemoteAddr).Msg("failed login attempt")
		s.jsonError(w, "invalid password", http.StatusUnauthorized)
		return
	}

	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    "holdboard",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.TokenTTL())),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Auth.JWTSecret))
	if err != nil {
		s.jsonError(w, "failed to sign token", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, proto.LoginResponse{Token: token})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(proto.ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
