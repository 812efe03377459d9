package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/procureflow/procureflow/internal/audit"
)

// captureShipper records shipped entries for assertions.
type captureShipper struct {
	mu      sync.Mutex
	entries []*audit.LogEntry
}

func (s *captureShipper) Ship(_ context.Context, entry *audit.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *captureShipper) Close() error { return nil }

func (s *captureShipper) waitFor(t *testing.T, n int) []*audit.LogEntry {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.mu.Lock()
		if len(s.entries) >= n {
			out := append([]*audit.LogEntry(nil), s.entries...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d shipped entries", n)
	return nil
}

func (s *captureShipper) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func auditRouter(shipper audit.Shipper) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set("actor_id", "user-1")
		c.Set("organization_id", "org-1")
		c.Set("auth_method", "jwt")
		c.Next()
	})
	r.Use(AuditShipperMiddleware(shipper, nil))
	r.GET("/api/v1/requisitions", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.POST("/api/v1/requisitions", func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.POST("/api/v1/requisitions/:id/deny", func(c *gin.Context) { c.Status(http.StatusForbidden) })
	return r
}

func serve(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestAuditShipper_MutationShipped(t *testing.T) {
	shipper := &captureShipper{}
	r := auditRouter(shipper)

	serve(r, http.MethodPost, "/api/v1/requisitions")

	entries := shipper.waitFor(t, 1)
	e := entries[0]
	if e.Action != "POST /api/v1/requisitions" {
		t.Errorf("Action = %q", e.Action)
	}
	if e.ActorID != "user-1" || e.OrganizationID != "org-1" {
		t.Errorf("actor/org = %q/%q, want user-1/org-1", e.ActorID, e.OrganizationID)
	}
	if e.EntityType != "requisition" {
		t.Errorf("EntityType = %q, want requisition", e.EntityType)
	}
	if e.StatusCode != http.StatusCreated {
		t.Errorf("StatusCode = %d, want 201", e.StatusCode)
	}
}

func TestAuditShipper_ReadNotShipped(t *testing.T) {
	shipper := &captureShipper{}
	r := auditRouter(shipper)

	serve(r, http.MethodGet, "/api/v1/requisitions")

	time.Sleep(50 * time.Millisecond)
	if n := shipper.count(); n != 0 {
		t.Errorf("shipped %d entries for a read, want 0", n)
	}
}

func TestAuditShipper_FailedMutationStillShipped(t *testing.T) {
	shipper := &captureShipper{}
	r := auditRouter(shipper)

	serve(r, http.MethodPost, "/api/v1/requisitions/req-1/deny")

	entries := shipper.waitFor(t, 1)
	if entries[0].StatusCode != http.StatusForbidden {
		t.Errorf("StatusCode = %d, want 403", entries[0].StatusCode)
	}
}

func TestAuditShipper_NilShipperNoPanic(t *testing.T) {
	r := auditRouter(nil)
	if w := serve(r, http.MethodPost, "/api/v1/requisitions"); w.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", w.Code)
	}
}

func TestEntityTypeFromPath(t *testing.T) {
	cases := map[string]string{
		"/api/v1/requisitions":          "requisition",
		"/api/v1/projects/p1/accounts":  "budget_account",
		"/api/v1/projects":              "project",
		"/api/v1/organizations/members": "membership",
		"/api/v1/apikeys":               "api_key",
		"/api/v1/admin/organizations":   "organization",
		"/api/v1/health":                "",
	}
	for path, want := range cases {
		if got := entityTypeFromPath(path); got != want {
			t.Errorf("entityTypeFromPath(%q) = %q, want %q", path, got, want)
		}
	}
}
