package gateway

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/holdboard/holdboard/internal/config"
	"github.com/holdboard/holdboard/pkg/proto"
)

func TestNewServerRejectsInvalidConfig(t *testing.T) {
	cfg := &config.Config{}
	_, err := NewServer(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "backend.url")
}

func TestAuthDisabledPassesThrough(t *testing.T) {
	g := newTestGateway(t, nil)
	resp := g.do(http.MethodGet, "/api/v1/buckets", nil)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestLoginAndBearerAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)

	g := newTestGateway(t, func(cfg *config.Config) {
		cfg.Auth.PasswordHash = string(hash)
		cfg.Auth.JWTSecret = "test-secret"
	})

	// Unauthenticated API calls are rejected.
	resp := g.do(http.MethodGet, "/api/v1/buckets", nil)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Wrong password.
	resp = g.do(http.MethodPost, "/api/v1/login", proto.LoginRequest{Password: "wrong"})
	_ = resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// Right password yields a token.
	resp = g.do(http.MethodPost, "/api/v1/login", proto.LoginRequest{Password: "hunter2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	login := decode[proto.LoginResponse](t, resp)
	require.NotEmpty(t, login.Token)

	// The token unlocks the API as a Bearer header.
	req, err := http.NewRequest(http.MethodGet, g.server.URL+"/api/v1/buckets", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+login.Token)
	authed, err := g.client.Do(req)
	require.NoError(t, err)
	_ = authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)

	// And as a query parameter, for the websocket path.
	resp = g.do(http.MethodGet, "/api/v1/buckets?token="+login.Token, nil)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Garbage tokens stay out.
	req, err = http.NewRequest(http.MethodGet, g.server.URL+"/api/v1/buckets", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	denied, err := g.client.Do(req)
	require.NoError(t, err)
	_ = denied.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, denied.StatusCode)
}

func TestLoginNotConfigured(t *testing.T) {
	g := newTestGateway(t, nil)
	resp := g.do(http.MethodPost, "/api/v1/login", proto.LoginRequest{Password: "anything"})
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestJSONErrorEnvelope(t *testing.T) {
	g := newTestGateway(t, nil)
	resp := g.do(http.MethodDelete, "/api/v1/files?bucket=photos", nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
	body := decode[proto.ErrorResponse](t, resp)
	assert.Equal(t, http.StatusMethodNotAllowed, body.Code)
	assert.Equal(t, "Method Not Allowed", body.Error)
	assert.NotEmpty(t, body.Message)
}
