package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/procureflow/procureflow/internal/audit"
	"github.com/procureflow/procureflow/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// healthCheckHandler
// ---------------------------------------------------------------------------

func newHealthDB(t *testing.T, pingOK bool) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if pingOK {
		mock.ExpectPing()
	} else {
		mock.ExpectPing().WillReturnError(sql.ErrConnDone)
	}
	return db
}

func TestHealthCheckHandler_Healthy(t *testing.T) {
	db := newHealthDB(t, true)

	r := gin.New()
	r.GET("/health", healthCheckHandler(db))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", body["status"])
	}
}

func TestHealthCheckHandler_Unhealthy(t *testing.T) {
	db := newHealthDB(t, false)

	r := gin.New()
	r.GET("/health", healthCheckHandler(db))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "unhealthy" {
		t.Errorf("status = %v, want unhealthy", body["status"])
	}
}

// ---------------------------------------------------------------------------
// readinessHandler
// ---------------------------------------------------------------------------

func TestReadinessHandler_Ready(t *testing.T) {
	db := newHealthDB(t, true)

	r := gin.New()
	r.GET("/ready", readinessHandler(db))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["ready"] != true {
		t.Errorf("ready = %v, want true", body["ready"])
	}
}

func TestReadinessHandler_NotReady(t *testing.T) {
	db := newHealthDB(t, false)

	r := gin.New()
	r.GET("/ready", readinessHandler(db))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["ready"] != false {
		t.Errorf("ready = %v, want false", body["ready"])
	}
}

// ---------------------------------------------------------------------------
// versionHandler
// ---------------------------------------------------------------------------

func TestVersionHandler(t *testing.T) {
	r := gin.New()
	r.GET("/version", versionHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/version", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["version"] == nil {
		t.Error("response missing 'version'")
	}
	if body["api_version"] == nil {
		t.Error("response missing 'api_version'")
	}
}

// ---------------------------------------------------------------------------
// meHandler
// ---------------------------------------------------------------------------

func TestMeHandler_NoActor(t *testing.T) {
	r := gin.New()
	r.GET("/auth/me", meHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

// ---------------------------------------------------------------------------
// LoggerMiddleware
// ---------------------------------------------------------------------------

func TestLoggerMiddleware(t *testing.T) {
	cfg := &config.Config{}
	cfg.Logging.Format = "json"

	r := gin.New()
	r.Use(LoggerMiddleware(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

// ---------------------------------------------------------------------------
// CORSMiddleware
// ---------------------------------------------------------------------------

func TestCORSMiddleware_AllowedOrigin(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"https://example.com"}

	r := gin.New()
	r.Use(CORSMiddleware(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://example.com")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "https://example.com" {
		t.Errorf("Access-Control-Allow-Origin = %q, want https://example.com",
			w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORSMiddleware_Wildcard(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"*"}

	r := gin.New()
	r.Use(CORSMiddleware(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://anything.com")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "https://anything.com" {
		t.Errorf("Access-Control-Allow-Origin = %q, want echoed origin",
			w.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestCORSMiddleware_DisallowedOrigin(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"https://allowed.com"}

	r := gin.New()
	r.Use(CORSMiddleware(cfg))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.com")
	r.ServeHTTP(w, req)

	// Request passes through but no CORS header set
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Errorf("expected no Access-Control-Allow-Origin header for disallowed origin")
	}
}

func TestCORSMiddleware_PreflightOptions(t *testing.T) {
	cfg := &config.Config{}
	cfg.Security.CORS.AllowedOrigins = []string{"*"}

	r := gin.New()
	r.Use(CORSMiddleware(cfg))
	r.OPTIONS("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://example.com")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204 for preflight", w.Code)
	}
}

// ---------------------------------------------------------------------------
// shipperConfigs
// ---------------------------------------------------------------------------

func TestShipperConfigs_WebhookAndFile(t *testing.T) {
	in := []config.AuditShipperConfig{
		{
			Enabled: true,
			Type:    "webhook",
			Webhook: config.WebhookShipperParam{
				URL:         "https://siem.example.com/hook",
				TimeoutSecs: 15,
				BatchSize:   10,
			},
		},
		{
			Enabled: true,
			Type:    "file",
			File: config.FileShipperParam{
				Path:       "/var/log/procureflow/audit.log",
				MaxSizeMB:  100,
				MaxBackups: 3,
			},
		},
	}

	out := shipperConfigs(in)
	if len(out) != 2 {
		t.Fatalf("len = %d, want 2", len(out))
	}
	if out[0].Webhook == nil || out[0].Webhook.URL != "https://siem.example.com/hook" {
		t.Errorf("webhook config not carried over: %+v", out[0].Webhook)
	}
	if out[0].Webhook.Timeout != 15*time.Second {
		t.Errorf("Timeout = %v, want 15s", out[0].Webhook.Timeout)
	}
	if out[1].File == nil || out[1].File.Path != "/var/log/procureflow/audit.log" {
		t.Errorf("file config not carried over: %+v", out[1].File)
	}
	if out[0].File != nil || out[1].Webhook != nil {
		t.Error("cross-type params must stay nil")
	}
}

func TestShipperConfigs_BuildableByMultiShipper(t *testing.T) {
	dir := t.TempDir()
	out := shipperConfigs([]config.AuditShipperConfig{
		{
			Enabled: true,
			Type:    "file",
			File:    config.FileShipperParam{Path: dir + "/audit.log"},
		},
		{
			Enabled: false,
			Type:    "webhook", // disabled, must be skipped without error
		},
	})

	ms, err := audit.NewMultiShipper(out)
	if err != nil {
		t.Fatalf("NewMultiShipper: %v", err)
	}
	if err := ms.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}
