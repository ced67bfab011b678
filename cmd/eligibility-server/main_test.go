package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/eligibility/internal/config"
	"github.com/ehr/eligibility/internal/platform/db"
	"github.com/ehr/eligibility/internal/platform/middleware"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:           "3000",
		Env:            "test",
		LogLevel:       "debug",
		StoreDriver:    config.DriverSQLite,
		SQLitePath:     filepath.Join(t.TempDir(), "eligibility.db"),
		CORSOrigins:    []string{"http://localhost:3001"},
		RateLimitRPS:   50,
		RateLimitBurst: 100,
		BodyLimit:      "64K",
	}
}

func newTestServer(t *testing.T, cfg *config.Config) *echo.Echo {
	t.Helper()
	st, err := openStore(context.Background(), cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	t.Cleanup(st.close)

	rlCfg := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	limiter, closeLimiter, err := newLimiter(cfg, rlCfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("newLimiter: %v", err)
	}
	t.Cleanup(closeLimiter)
	return newServer(cfg, zerolog.Nop(), st, limiter, nil)
}

func do(e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const checkBody = `{"patientId":"P001","patientName":"Jane Doe","dateOfBirth":"1980-01-01",` +
	`"memberNumber":"1234","insuranceCompany":"Acme","serviceDate":"2024-03-15"}`

// ---------------------------------------------------------------------------
// Server wiring
// ---------------------------------------------------------------------------

func TestServer_CheckThenHistory(t *testing.T) {
	e := newTestServer(t, testConfig(t))

	rec := do(e, http.MethodPost, "/eligibility/check", checkBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /eligibility/check = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("expected a request id header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers")
	}

	rec = do(e, http.MethodGet, "/eligibility/history/P001", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /eligibility/history/P001 = %d, want 200", rec.Code)
	}
	var items []map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(items) != 1 || items[0]["status"] != "Active" {
		t.Errorf("unexpected history %v", items)
	}
}

func TestServer_ErrorShapes(t *testing.T) {
	e := newTestServer(t, testConfig(t))

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		code   int
		msg    string
	}{
		{"missing fields", http.MethodPost, "/eligibility/check", `{"patientId":"P001"}`, http.StatusBadRequest, "Missing required fields"},
		{"no history", http.MethodGet, "/eligibility/history/P404", "", http.StatusNotFound, "No history found"},
		{"unknown route", http.MethodGet, "/nope", "", http.StatusNotFound, "Not Found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, tt.method, tt.path, tt.body)
			if rec.Code != tt.code {
				t.Fatalf("status = %d, want %d", rec.Code, tt.code)
			}
			var body map[string]string
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tt.msg {
				t.Errorf("error = %q, want %q", body["error"], tt.msg)
			}
		})
	}
}

func TestServer_BodyLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.BodyLimit = "1K"
	e := newTestServer(t, cfg)

	big := `{"patientId":"` + strings.Repeat("x", 4096) + `"}`
	rec := do(e, http.MethodPost, "/eligibility/check", big)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}
	assertErrorBody(t, rec, middleware.BodyTooLargeMessage)

	// Without a Content-Length the limit trips while the body is decoded.
	req := httptest.NewRequest(http.MethodPost, "/eligibility/check", strings.NewReader(big))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.ContentLength = -1
	rec = httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("streamed status = %d, want 413", rec.Code)
	}
	assertErrorBody(t, rec, middleware.BodyTooLargeMessage)
}

// assertErrorBody checks that rec carries the shared {"error": ...} shape.
func assertErrorBody(t *testing.T, rec *httptest.ResponseRecorder, want string) {
	t.Helper()
	var body middleware.ErrorBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	if body.Error != want {
		t.Errorf("error = %q, want %q", body.Error, want)
	}
}

func TestServer_RateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimitRPS = 1
	cfg.RateLimitBurst = 1
	e := newTestServer(t, cfg)

	if rec := do(e, http.MethodGet, "/eligibility/history/P001", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("first request = %d, want 404", rec.Code)
	}
	rec := do(e, http.MethodGet, "/eligibility/history/P001", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
	// Health checks are not rate limited.
	if rec := do(e, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("/health = %d, want 200", rec.Code)
	}
}

func TestServer_Health(t *testing.T) {
	e := newTestServer(t, testConfig(t))

	rec := do(e, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), version) {
		t.Errorf("/health = %d %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodGet, "/health/db", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Errorf("/health/db = %d %s", rec.Code, rec.Body.String())
	}
	rec = do(e, http.MethodGet, "/openapi.json", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "/eligibility/check") {
		t.Errorf("/openapi.json = %d", rec.Code)
	}
}

func TestServer_CORS(t *testing.T) {
	e := newTestServer(t, testConfig(t))

	req := httptest.NewRequest(http.MethodOptions, "/eligibility/check", nil)
	req.Header.Set(echo.HeaderOrigin, "http://localhost:3001")
	req.Header.Set(echo.HeaderAccessControlRequestMethod, http.MethodPost)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	if got := rec.Header().Get(echo.HeaderAccessControlAllowOrigin); got != "http://localhost:3001" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{" WARN ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"verbose", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.StoreDriver = "mysql"
	if _, err := openStore(context.Background(), cfg); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestNewLimiter(t *testing.T) {
	cfg := testConfig(t)
	rlCfg := middleware.DefaultRateLimitConfig()

	l, closeFn, err := newLimiter(cfg, rlCfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("memory limiter: %v", err)
	}
	closeFn()
	if _, ok := l.(*middleware.MemoryLimiter); !ok {
		t.Errorf("expected *MemoryLimiter, got %T", l)
	}

	cfg.RedisURL = "redis://localhost:6379/0"
	l, closeFn, err = newLimiter(cfg, rlCfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("redis limiter: %v", err)
	}
	closeFn()
	if _, ok := l.(*middleware.RedisLimiter); !ok {
		t.Errorf("expected *RedisLimiter, got %T", l)
	}

	cfg.RedisURL = "://bad"
	if _, _, err := newLimiter(cfg, rlCfg, zerolog.Nop()); err == nil {
		t.Error("expected error for malformed REDIS_URL")
	}
}

func TestPrintMigrationStatus(t *testing.T) {
	at := time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	printMigrationStatus(&buf, []db.MigrationStatus{
		{Version: 1, Name: "eligibility", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "next"},
	})
	out := buf.String()
	if !strings.Contains(out, "applied    2024-03-15 09:00:00") {
		t.Errorf("missing applied row:\n%s", out)
	}
	if !strings.Contains(out, "pending") {
		t.Errorf("missing pending row:\n%s", out)
	}
}
