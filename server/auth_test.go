package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/crypto/bcrypt"

	"github.com/GoCodeAlone/taskforce/comms"
	"github.com/GoCodeAlone/taskforce/config"
	"github.com/GoCodeAlone/taskforce/orchestrator"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	cfg := config.Config{
		Server: config.ServerConfig{Addr: ":0"},
		Auth: config.AuthConfig{
			AdminUser: "admin",
			AdminPass: string(hash),
			JWTSecret: "test-secret-key-1234567890",
			TokenTTL:  time.Hour,
		},
	}
	s := New(cfg, "test", nil)

	reg := prometheus.NewRegistry()
	bus := comms.NewInMemoryBus()
	orch := orchestrator.New(orchestrator.WithBus(bus), orchestrator.WithMetrics(orchestrator.MustNewMetrics(reg)))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch.Close(ctx)
	})
	s.SetScheduler(orch)
	s.SetBus(bus)
	s.SetMetricsGatherer(reg)
	return s
}

func login(t *testing.T, s *Server, user, pass string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Username: user, Password: pass})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func token(t *testing.T, s *Server) string {
	t.Helper()
	rr := login(t, s, "admin", "secret")
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rr.Code, rr.Body.String())
	}
	var resp loginResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return resp.Token
}

func TestSignAndVerifyToken(t *testing.T) {
	secret := []byte("my-test-secret")
	tok, err := signToken(secret, "alice", time.Hour)
	if err != nil {
		t.Fatalf("signToken: %v", err)
	}
	subject, err := verifyToken(secret, tok)
	if err != nil {
		t.Fatalf("verifyToken: %v", err)
	}
	if subject != "alice" {
		t.Errorf("expected subject 'alice', got %q", subject)
	}
}

func TestVerifyToken_Expired(t *testing.T) {
	secret := []byte("my-test-secret")
	tok, err := signToken(secret, "alice", -time.Hour)
	if err != nil {
		t.Fatalf("signToken: %v", err)
	}
	if _, err := verifyToken(secret, tok); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestVerifyToken_BadSignature(t *testing.T) {
	tok, _ := signToken([]byte("correct-secret"), "alice", time.Hour)
	if _, err := verifyToken([]byte("wrong-secret"), tok); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestVerifyToken_RejectsOtherAlgorithms(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Subject:   "mallory",
		Issuer:    tokenIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := verifyToken([]byte("secret"), tok); err == nil {
		t.Fatal("expected alg=none token to be rejected")
	}
}

func TestHashPassword(t *testing.T) {
	h, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(h), []byte("hunter2")) != nil {
		t.Error("hash does not verify")
	}
}

func TestHandleLogin_Success(t *testing.T) {
	s := newTestServer(t)
	tok := token(t, s)
	if tok == "" {
		t.Error("expected non-empty token in response")
	}
}

func TestHandleLogin_Rejected(t *testing.T) {
	s := newTestServer(t)
	if rr := login(t, s, "admin", "wrong"); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong password: expected 401, got %d", rr.Code)
	}
	if rr := login(t, s, "root", "secret"); rr.Code != http.StatusUnauthorized {
		t.Errorf("wrong user: expected 401, got %d", rr.Code)
	}

	s.cfg.Auth.AdminPass = ""
	if rr := login(t, s, "admin", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("no password configured: expected 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t)
	tok := token(t, s)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"garbage", "Bearer nope", "", http.StatusUnauthorized},
		{"header", "Bearer " + tok, "", http.StatusOK},
		{"query", "", "?token=" + tok, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/agents"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			s.Handler().ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("expected %d, got %d: %s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestHandleMe(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token(t, s))
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	var resp map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["username"] != "admin" {
		t.Errorf("username = %q, want admin", resp["username"])
	}
}

func TestPublicRoutes(t *testing.T) {
	s := newTestServer(t)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("status: expected 200, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("metrics: expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "taskforce_orchestrator_tasks_active") {
		t.Errorf("metrics output missing orchestrator gauges")
	}

	rr = httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/events", nil))
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("events without token: expected 401, got %d", rr.Code)
	}
}

func TestServeAndStop(t *testing.T) {
	s := newTestServer(t)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	errc := make(chan error, 1)
	go func() { errc <- s.Serve(ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/events?token=" + token(t, s))
	if err != nil {
		t.Fatalf("GET /events: %v", err)
	}
	defer resp.Body.Close()
	buf := make([]byte, len(`data: {"type":"connected"}`))
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		t.Fatalf("read stream: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := <-errc; err != http.ErrServerClosed {
		t.Errorf("Serve returned %v, want ErrServerClosed", err)
	}
}
