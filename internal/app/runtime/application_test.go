package runtime

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/R3E-Network/rumble/internal/config"
	"github.com/R3E-Network/rumble/internal/middleware"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Auth.Secret = testSecret
	cfg.Scheduler.Enabled = true
	cfg.Logging.Level = "error"
	return cfg
}

func adminToken(t *testing.T) string {
	t.Helper()

	claims := &middleware.Claims{
		Role: middleware.RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops-bot",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(1 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestNewApplicationWithConfig(t *testing.T) {
	a, err := NewApplicationWithConfig(testConfig())
	if err != nil {
		t.Fatalf("NewApplicationWithConfig() error: %v", err)
	}

	if a.db != nil {
		t.Error("expected no database connection without a DSN")
	}
	if a.rdb != nil {
		t.Error("expected no redis connection without an address")
	}
	if a.httpServer.Addr != "0.0.0.0:8080" {
		t.Errorf("server addr = %q, want %q", a.httpServer.Addr, "0.0.0.0:8080")
	}
	if a.stopCleanup == nil {
		t.Fatal("expected rate limiter cleanup to be running")
	}
	a.stopCleanup()
}

func TestNewApplicationWithConfigRejectsBadScheduler(t *testing.T) {
	cfg := testConfig()
	cfg.Scheduler.SettleSpec = "not a cron spec"

	if _, err := NewApplicationWithConfig(cfg); err == nil {
		t.Fatal("expected error for invalid cron spec")
	}
}

func TestApplicationServesRequests(t *testing.T) {
	ctx := context.Background()

	a, err := NewApplicationWithConfig(testConfig())
	if err != nil {
		t.Fatalf("NewApplicationWithConfig() error: %v", err)
	}
	if err := a.app.Start(ctx); err != nil {
		t.Fatalf("start services: %v", err)
	}
	t.Cleanup(func() {
		if err := a.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error: %v", err)
		}
	})

	handler := a.httpServer.Handler

	// Health stays open without credentials.
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d, want %d", rec.Code, http.StatusOK)
	}
	if rec.Header().Get("X-Trace-ID") == "" {
		t.Error("expected X-Trace-ID header on response")
	}

	// API calls without a token are rejected.
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/v1/rounds", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}

	// A signed admin token opens the privileged surface.
	body := bytes.NewBufferString(`{"id":"daily"}`)
	req := httptest.NewRequest("POST", "/api/v1/rounds", body)
	req.Header.Set("Authorization", "Bearer "+adminToken(t))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create round status = %d, body %s", rec.Code, rec.Body.String())
	}

	var created map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if created["ID"] != "daily" {
		t.Errorf("round ID = %v, want %q", created["ID"], "daily")
	}
}

func TestApplicationStreamsEvents(t *testing.T) {
	ctx := context.Background()

	a, err := NewApplicationWithConfig(testConfig())
	if err != nil {
		t.Fatalf("NewApplicationWithConfig() error: %v", err)
	}
	if err := a.app.Start(ctx); err != nil {
		t.Fatalf("start services: %v", err)
	}
	t.Cleanup(func() {
		if err := a.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error: %v", err)
		}
	})

	srv := httptest.NewServer(a.httpServer.Handler)
	defer srv.Close()

	// The event stream stays open without credentials; the upgrade passes
	// through the full middleware chain.
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/v1/events", nil)
	if err != nil {
		t.Fatalf("dial event stream: %v", err)
	}
	defer conn.Close()

	waitUntil := time.Now().Add(2 * time.Second)
	for a.app.Hub.ClientCount() == 0 {
		if time.Now().After(waitUntil) {
			t.Fatal("subscriber never registered with the hub")
		}
		time.Sleep(10 * time.Millisecond)
	}

	token := adminToken(t)
	post := func(path, body string) {
		t.Helper()
		req, err := http.NewRequest("POST", srv.URL+path, bytes.NewBufferString(body))
		if err != nil {
			t.Fatalf("build request: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		resp, err := srv.Client().Do(req)
		if err != nil {
			t.Fatalf("POST %s: %v", path, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			t.Fatalf("POST %s status = %d", path, resp.StatusCode)
		}
	}

	post("/api/v1/rounds", `{"id":"live"}`)
	post("/api/v1/rounds/live/deposits", `{"depositor":"alice","amount":100}`)

	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var evt struct {
		Type    string `json:"type"`
		RoundID string `json:"round_id"`
	}
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if evt.Type != "deposit_recorded" || evt.RoundID != "live" {
		t.Errorf("event = %+v, want deposit_recorded for round live", evt)
	}
}

func TestApplicationInsecureModeAllowsAll(t *testing.T) {
	ctx := context.Background()

	cfg := testConfig()
	cfg.Auth.Secret = ""

	a, err := NewApplicationWithConfig(cfg)
	if err != nil {
		t.Fatalf("NewApplicationWithConfig() error: %v", err)
	}
	if err := a.app.Start(ctx); err != nil {
		t.Fatalf("start services: %v", err)
	}
	t.Cleanup(func() {
		if err := a.Shutdown(ctx); err != nil {
			t.Errorf("Shutdown() error: %v", err)
		}
	})

	rec := httptest.NewRecorder()
	a.httpServer.Handler.ServeHTTP(rec, httptest.NewRequest("POST", "/api/v1/rounds", nil))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create round status = %d, want %d", rec.Code, http.StatusCreated)
	}
}
