package requisitions

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"

	"github.com/procureflow/procureflow/internal/audit"
	"github.com/procureflow/procureflow/internal/auth"
	"github.com/procureflow/procureflow/internal/db/models"
	"github.com/procureflow/procureflow/internal/db/repositories"
	"github.com/procureflow/procureflow/internal/ledger"
	"github.com/procureflow/procureflow/internal/middleware"
	"github.com/procureflow/procureflow/internal/notify"
	"github.com/procureflow/procureflow/internal/workflow"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// testDeps collects the sqlmock controllers behind a Handlers built with one
// mock database per repository, so expectations never interleave.
type testDeps struct {
	reqMock     sqlmock.Sqlmock
	orgMock     sqlmock.Sqlmock
	projectMock sqlmock.Sqlmock
	budgetMock  sqlmock.Sqlmock
	auditMock   sqlmock.Sqlmock
}

func newMockDB(t *testing.T) (*repositories.RequisitionRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return repositories.NewRequisitionRepository(db), mock
}

func newTestHandlers(t *testing.T, engine *workflow.Engine) (*Handlers, *testDeps) {
	t.Helper()
	deps := &testDeps{}
	h := &Handlers{engine: engine}

	h.reqRepo, deps.reqMock = newMockDB(t)

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New (org): %v", err)
	}
	t.Cleanup(func() { db.Close() })
	h.orgRepo, deps.orgMock = repositories.NewOrganizationRepository(db), mock

	db, mock, err = sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New (project): %v", err)
	}
	t.Cleanup(func() { db.Close() })
	h.projectRepo, deps.projectMock = repositories.NewProjectRepository(db), mock

	db, mock, err = sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New (budget): %v", err)
	}
	t.Cleanup(func() { db.Close() })
	h.budgetRepo, deps.budgetMock = repositories.NewBudgetRepository(db), mock

	db, mock, err = sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New (audit): %v", err)
	}
	t.Cleanup(func() { db.Close() })
	h.auditRepo, deps.auditMock = repositories.NewAuditRepository(db), mock

	return h, deps
}

// newMemoryEngine builds an engine over in-memory stores, seeded with one
// requisition and its budget account.
func newMemoryEngine(r *models.Requisition, account *models.BudgetAccount) (*workflow.Engine, *workflow.MemoryRequisitionStore) {
	reqStore := workflow.NewMemoryRequisitionStore()
	if r != nil {
		reqStore.PutRequisition(r)
	}
	budget := ledger.NewMemoryStore()
	if account != nil {
		budget.PutAccount(account)
	}
	eng := workflow.NewEngine(
		reqStore,
		ledger.New(budget, budget),
		audit.NewRecorder(audit.NewMemoryStore()),
		notify.NewDispatcher(notify.NewMemoryStore()),
	)
	return eng, reqStore
}

func submitterActor(orgID, userID, projectID string) *auth.ActorContext {
	return &auth.ActorContext{
		UserID:         userID,
		OrganizationID: orgID,
		OrgRole:        models.OrgRoleMember,
		WorkflowRoles:  map[string]models.WorkflowRole{projectID: models.RoleSubmitter},
	}
}

// serve mounts the handler behind actor-injection middleware and performs the
// request.
func serve(actor *auth.ActorContext, method, path string, body interface{}, register func(*gin.Engine)) *httptest.ResponseRecorder {
	r := gin.New()
	if actor != nil {
		r.Use(func(c *gin.Context) { c.Set(middleware.ActorContextKey, actor) })
	}
	register(r)

	var reader *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

var requisitionCols = []string{
	"id", "organization_id", "project_id", "account_id", "requester_id",
	"title", "lines", "total", "state", "version", "reservation_token",
	"reviewed_by", "reviewed_at", "decided_by", "decided_at", "decision_note",
	"submitted_at", "completed_at", "created_at", "updated_at",
}

func requisitionRow(id, orgID, state string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(requisitionCols).AddRow(
		id, orgID, "proj-1", "acct-1", "user-1",
		"Laptops", []byte(`[{"description":"Laptop","quantity":3,"unit_price":120000}]`),
		int64(360000), state, int64(1), nil,
		nil, nil, nil, nil, nil,
		nil, nil, now, now,
	)
}

// ---------------------------------------------------------------------------
// GetHandler
// ---------------------------------------------------------------------------

func TestGetHandler_SameOrganization(t *testing.T) {
	h, deps := newTestHandlers(t, nil)
	deps.reqMock.ExpectQuery("SELECT (.+) FROM requisitions").
		WithArgs("req-1").
		WillReturnRows(requisitionRow("req-1", "org-1", "draft"))

	actor := submitterActor("org-1", "user-1", "proj-1")
	w := serve(actor, http.MethodGet, "/requisitions/req-1", nil, func(r *gin.Engine) {
		r.GET("/requisitions/:id", h.GetHandler())
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	var body struct {
		Requisition models.Requisition `json:"requisition"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Requisition.ID != "req-1" {
		t.Errorf("ID = %s, want req-1", body.Requisition.ID)
	}
}

func TestGetHandler_CrossTenantHiddenAs404(t *testing.T) {
	h, deps := newTestHandlers(t, nil)
	deps.reqMock.ExpectQuery("SELECT (.+) FROM requisitions").
		WithArgs("req-1").
		WillReturnRows(requisitionRow("req-1", "org-other", "draft"))

	actor := submitterActor("org-1", "user-1", "proj-1")
	w := serve(actor, http.MethodGet, "/requisitions/req-1", nil, func(r *gin.Engine) {
		r.GET("/requisitions/:id", h.GetHandler())
	})

	// Existence in another tenant must not be distinguishable from absence.
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetHandler_PlatformAdminCrossesTenant(t *testing.T) {
	h, deps := newTestHandlers(t, nil)
	deps.reqMock.ExpectQuery("SELECT (.+) FROM requisitions").
		WithArgs("req-1").
		WillReturnRows(requisitionRow("req-1", "org-other", "draft"))

	actor := &auth.ActorContext{
		UserID:         "ops-1",
		OrganizationID: "org-platform",
		OrgRole:        models.OrgRoleAdmin,
		PlatformAdmin:  true,
	}
	w := serve(actor, http.MethodGet, "/requisitions/req-1", nil, func(r *gin.Engine) {
		r.GET("/requisitions/:id", h.GetHandler())
	})

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
}

func TestGetHandler_UnknownID(t *testing.T) {
	h, deps := newTestHandlers(t, nil)
	deps.reqMock.ExpectQuery("SELECT (.+) FROM requisitions").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(requisitionCols))

	actor := submitterActor("org-1", "user-1", "proj-1")
	w := serve(actor, http.MethodGet, "/requisitions/missing", nil, func(r *gin.Engine) {
		r.GET("/requisitions/:id", h.GetHandler())
	})

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetHandler_NoRoleNoOwnershipDenied(t *testing.T) {
	h, deps := newTestHandlers(t, nil)
	deps.reqMock.ExpectQuery("SELECT (.+) FROM requisitions").
		WithArgs("req-1").
		WillReturnRows(requisitionRow("req-1", "org-1", "draft"))

	// Same org but no workflow role anywhere and not the requester.
	actor := &auth.ActorContext{
		UserID:         "user-other",
		OrganizationID: "org-1",
		OrgRole:        models.OrgRoleMember,
	}
	w := serve(actor, http.MethodGet, "/requisitions/req-1", nil, func(r *gin.Engine) {
		r.GET("/requisitions/:id", h.GetHandler())
	})

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", w.Code)
	}
}

// ---------------------------------------------------------------------------
// ListHandler
// ---------------------------------------------------------------------------

func TestListHandler_PinnedToCredentialOrg(t *testing.T) {
	h, deps := newTestHandlers(t, nil)
	// Query arg must be the actor's org, not the query-string override.
	deps.reqMock.ExpectQuery("SELECT (.+) FROM requisitions").
		WithArgs("org-1", "", 20, 0).
		WillReturnRows(sqlmock.NewRows(requisitionCols))

	actor := submitterActor("org-1", "user-1", "proj-1")
	w := serve(actor, http.MethodGet, "/requisitions?organization_id=org-other", nil, func(r *gin.Engine) {
		r.GET("/requisitions", h.ListHandler())
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if err := deps.reqMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestListHandler_PlatformAdminOverride(t *testing.T) {
	h, deps := newTestHandlers(t, nil)
	deps.reqMock.ExpectQuery("SELECT (.+) FROM requisitions").
		WithArgs("org-other", "", 20, 0).
		WillReturnRows(sqlmock.NewRows(requisitionCols))

	actor := &auth.ActorContext{
		UserID:         "ops-1",
		OrganizationID: "org-platform",
		PlatformAdmin:  true,
	}
	w := serve(actor, http.MethodGet, "/requisitions?organization_id=org-other", nil, func(r *gin.Engine) {
		r.GET("/requisitions", h.ListHandler())
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if err := deps.reqMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// CreateHandler
// ---------------------------------------------------------------------------

func projectRow(id, orgID, status string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "organization_id", "name", "description", "status", "created_at", "updated_at"}).
		AddRow(id, orgID, "Office Refresh", nil, status, now, now)
}

func accountRow(id, projectID string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{"id", "project_id", "code", "allocated", "committed", "reserved", "version", "created_at", "updated_at"}).
		AddRow(id, projectID, "CAPEX-2026", int64(1000000), int64(0), int64(0), int64(1), now, now)
}

func createPayload() CreateRequest {
	return CreateRequest{
		ProjectID: "proj-1",
		AccountID: "acct-1",
		Title:     "Laptops",
		Lines: []lineItemInput{
			{Description: "Laptop", Quantity: 3, UnitPrice: 120000},
		},
	}
}

func TestCreateHandler_Success(t *testing.T) {
	h, deps := newTestHandlers(t, nil)
	deps.projectMock.ExpectQuery("SELECT (.+) FROM projects").
		WithArgs("proj-1").
		WillReturnRows(projectRow("proj-1", "org-1", "open"))
	deps.budgetMock.ExpectQuery("SELECT (.+) FROM budget_accounts").
		WithArgs("acct-1").
		WillReturnRows(accountRow("acct-1", "proj-1"))
	deps.reqMock.ExpectQuery("INSERT INTO requisitions").
		WillReturnRows(sqlmock.NewRows([]string{"id", "version", "created_at", "updated_at"}).
			AddRow("req-new", int64(1), time.Now(), time.Now()))

	actor := submitterActor("org-1", "user-1", "proj-1")
	w := serve(actor, http.MethodPost, "/requisitions", createPayload(), func(r *gin.Engine) {
		r.POST("/requisitions", h.CreateHandler())
	})

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", w.Code, w.Body.String())
	}
	var body struct {
		Requisition models.Requisition `json:"requisition"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Requisition.Total != 360000 {
		t.Errorf("Total = %d, want 360000", body.Requisition.Total)
	}
	if body.Requisition.State != models.StateDraft {
		t.Errorf("State = %s, want draft", body.Requisition.State)
	}
}

func TestCreateHandler_ClosedProject(t *testing.T) {
	h, deps := newTestHandlers(t, nil)
	deps.projectMock.ExpectQuery("SELECT (.+) FROM projects").
		WithArgs("proj-1").
		WillReturnRows(projectRow("proj-1", "org-1", "closed"))

	actor := submitterActor("org-1", "user-1", "proj-1")
	w := serve(actor, http.MethodPost, "/requisitions", createPayload(), func(r *gin.Engine) {
		r.POST("/requisitions", h.CreateHandler())
	})

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409: %s", w.Code, w.Body.String())
	}
}

func TestCreateHandler_CrossTenantProjectHidden(t *testing.T) {
	h, deps := newTestHandlers(t, nil)
	deps.projectMock.ExpectQuery("SELECT (.+) FROM projects").
		WithArgs("proj-1").
		WillReturnRows(projectRow("proj-1", "org-other", "open"))

	actor := submitterActor("org-1", "user-1", "proj-1")
	w := serve(actor, http.MethodPost, "/requisitions", createPayload(), func(r *gin.Engine) {
		r.POST("/requisitions", h.CreateHandler())
	})

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCreateHandler_AccountFromOtherProject(t *testing.T) {
	h, deps := newTestHandlers(t, nil)
	deps.projectMock.ExpectQuery("SELECT (.+) FROM projects").
		WithArgs("proj-1").
		WillReturnRows(projectRow("proj-1", "org-1", "open"))
	deps.budgetMock.ExpectQuery("SELECT (.+) FROM budget_accounts").
		WithArgs("acct-1").
		WillReturnRows(accountRow("acct-1", "proj-other"))

	actor := submitterActor("org-1", "user-1", "proj-1")
	w := serve(actor, http.MethodPost, "/requisitions", createPayload(), func(r *gin.Engine) {
		r.POST("/requisitions", h.CreateHandler())
	})

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCreateHandler_WithoutSubmitterRole(t *testing.T) {
	h, deps := newTestHandlers(t, nil)
	deps.projectMock.ExpectQuery("SELECT (.+) FROM projects").
		WithArgs("proj-1").
		WillReturnRows(projectRow("proj-1", "org-1", "open"))

	actor := &auth.ActorContext{
		UserID:         "user-1",
		OrganizationID: "org-1",
		OrgRole:        models.OrgRoleMember,
		WorkflowRoles:  map[string]models.WorkflowRole{"proj-1": models.RoleReviewer},
	}
	w := serve(actor, http.MethodPost, "/requisitions", createPayload(), func(r *gin.Engine) {
		r.POST("/requisitions", h.CreateHandler())
	})

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// UpdateHandler / DeleteHandler
// ---------------------------------------------------------------------------

func TestUpdateHandler_NonEditableState(t *testing.T) {
	h, deps := newTestHandlers(t, nil)
	deps.reqMock.ExpectQuery("SELECT (.+) FROM requisitions").
		WithArgs("req-1").
		WillReturnRows(requisitionRow("req-1", "org-1", "pending"))

	actor := submitterActor("org-1", "user-1", "proj-1")
	payload := UpdateRequest{
		Title: "Laptops v2",
		Lines: []lineItemInput{{Description: "Laptop", Quantity: 1, UnitPrice: 120000}},
	}
	w := serve(actor, http.MethodPut, "/requisitions/req-1", payload, func(r *gin.Engine) {
		r.PUT("/requisitions/:id", h.UpdateHandler())
	})

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409: %s", w.Code, w.Body.String())
	}
}

func TestUpdateHandler_NotOwner(t *testing.T) {
	h, deps := newTestHandlers(t, nil)
	deps.reqMock.ExpectQuery("SELECT (.+) FROM requisitions").
		WithArgs("req-1").
		WillReturnRows(requisitionRow("req-1", "org-1", "draft"))

	actor := submitterActor("org-1", "user-other", "proj-1")
	payload := UpdateRequest{
		Title: "Hijacked",
		Lines: []lineItemInput{{Description: "Laptop", Quantity: 1, UnitPrice: 120000}},
	}
	w := serve(actor, http.MethodPut, "/requisitions/req-1", payload, func(r *gin.Engine) {
		r.PUT("/requisitions/:id", h.UpdateHandler())
	})

	if w.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403: %s", w.Code, w.Body.String())
	}
}

func TestDeleteHandler_DraftOnly(t *testing.T) {
	h, deps := newTestHandlers(t, nil)
	deps.reqMock.ExpectQuery("SELECT (.+) FROM requisitions").
		WithArgs("req-1").
		WillReturnRows(requisitionRow("req-1", "org-1", "approved"))

	actor := submitterActor("org-1", "user-1", "proj-1")
	w := serve(actor, http.MethodDelete, "/requisitions/req-1", nil, func(r *gin.Engine) {
		r.DELETE("/requisitions/:id", h.DeleteHandler())
	})

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409: %s", w.Code, w.Body.String())
	}
}

func TestDeleteHandler_Success(t *testing.T) {
	h, deps := newTestHandlers(t, nil)
	deps.reqMock.ExpectQuery("SELECT (.+) FROM requisitions").
		WithArgs("req-1").
		WillReturnRows(requisitionRow("req-1", "org-1", "draft"))
	deps.reqMock.ExpectExec("DELETE FROM requisitions").
		WithArgs("req-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	actor := submitterActor("org-1", "user-1", "proj-1")
	w := serve(actor, http.MethodDelete, "/requisitions/req-1", nil, func(r *gin.Engine) {
		r.DELETE("/requisitions/:id", h.DeleteHandler())
	})

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// TransitionHandler
// ---------------------------------------------------------------------------

func orgRowWithQuota(id string, maxPerMonth int) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "name", "display_name", "plan_tier", "status",
		"max_users", "max_projects", "max_requisitions_per_month", "created_at", "updated_at",
	}).AddRow(id, "acme", "Acme Corp", "team", "active", 0, 0, maxPerMonth, now, now)
}

func draftRequisition() *models.Requisition {
	return &models.Requisition{
		ID:             "req-1",
		OrganizationID: "org-1",
		ProjectID:      "proj-1",
		AccountID:      "acct-1",
		RequesterID:    "user-1",
		Title:          "Laptops",
		Lines: []models.LineItem{
			{Description: "Laptop", Quantity: 3, UnitPrice: 120000},
		},
		State:   models.StateDraft,
		Version: 1,
	}
}

func budgetAccount(available int64) *models.BudgetAccount {
	return &models.BudgetAccount{
		ID:        "acct-1",
		ProjectID: "proj-1",
		Code:      "CAPEX-2026",
		Allocated: available,
		Version:   1,
	}
}

func TestTransitionHandler_SubmitApplied(t *testing.T) {
	eng, reqStore := newMemoryEngine(draftRequisition(), budgetAccount(1000000))
	h, deps := newTestHandlers(t, eng)
	deps.orgMock.ExpectQuery("SELECT (.+) FROM organizations").
		WithArgs("org-1").
		WillReturnRows(orgRowWithQuota("org-1", 0))

	actor := submitterActor("org-1", "user-1", "proj-1")
	w := serve(actor, http.MethodPost, "/requisitions/req-1/transitions",
		TransitionRequest{Action: "submit"}, func(r *gin.Engine) {
			r.POST("/requisitions/:id/transitions", h.TransitionHandler())
		})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	stored, _ := reqStore.GetRequisition(nil, "req-1")
	if stored.State != models.StatePending {
		t.Errorf("state = %s, want pending", stored.State)
	}
	if stored.ReservationToken == nil {
		t.Error("submit must leave a budget reservation token")
	}
}

func TestTransitionHandler_SubmitOverBudget(t *testing.T) {
	// Total 360000 against 100 available.
	eng, _ := newMemoryEngine(draftRequisition(), budgetAccount(100))
	h, deps := newTestHandlers(t, eng)
	deps.orgMock.ExpectQuery("SELECT (.+) FROM organizations").
		WithArgs("org-1").
		WillReturnRows(orgRowWithQuota("org-1", 0))

	actor := submitterActor("org-1", "user-1", "proj-1")
	w := serve(actor, http.MethodPost, "/requisitions/req-1/transitions",
		TransitionRequest{Action: "submit"}, func(r *gin.Engine) {
			r.POST("/requisitions/:id/transitions", h.TransitionHandler())
		})

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422: %s", w.Code, w.Body.String())
	}
}

func TestTransitionHandler_InvalidFromState(t *testing.T) {
	r := draftRequisition()
	r.State = models.StateApproved
	eng, _ := newMemoryEngine(r, budgetAccount(1000000))
	h, deps := newTestHandlers(t, eng)
	deps.orgMock.ExpectQuery("SELECT (.+) FROM organizations").
		WithArgs("org-1").
		WillReturnRows(orgRowWithQuota("org-1", 0))

	actor := submitterActor("org-1", "user-1", "proj-1")
	w := serve(actor, http.MethodPost, "/requisitions/req-1/transitions",
		TransitionRequest{Action: "submit"}, func(r *gin.Engine) {
			r.POST("/requisitions/:id/transitions", h.TransitionHandler())
		})

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422: %s", w.Code, w.Body.String())
	}
}

func TestTransitionHandler_UnknownAction(t *testing.T) {
	eng, _ := newMemoryEngine(draftRequisition(), budgetAccount(1000000))
	h, _ := newTestHandlers(t, eng)

	actor := submitterActor("org-1", "user-1", "proj-1")
	w := serve(actor, http.MethodPost, "/requisitions/req-1/transitions",
		TransitionRequest{Action: "escalate"}, func(r *gin.Engine) {
			r.POST("/requisitions/:id/transitions", h.TransitionHandler())
		})

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400: %s", w.Code, w.Body.String())
	}
}

func TestTransitionHandler_MonthlyQuotaReached(t *testing.T) {
	eng, _ := newMemoryEngine(draftRequisition(), budgetAccount(1000000))
	h, deps := newTestHandlers(t, eng)
	deps.orgMock.ExpectQuery("SELECT (.+) FROM organizations").
		WithArgs("org-1").
		WillReturnRows(orgRowWithQuota("org-1", 5))
	deps.reqMock.ExpectQuery("SELECT COUNT").
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	actor := submitterActor("org-1", "user-1", "proj-1")
	w := serve(actor, http.MethodPost, "/requisitions/req-1/transitions",
		TransitionRequest{Action: "submit"}, func(r *gin.Engine) {
			r.POST("/requisitions/:id/transitions", h.TransitionHandler())
		})

	if w.Code != http.StatusUnprocessableEntity {
		t.Errorf("status = %d, want 422: %s", w.Code, w.Body.String())
	}
}

func TestTransitionHandler_UnknownRequisition(t *testing.T) {
	eng, _ := newMemoryEngine(nil, nil)
	h, _ := newTestHandlers(t, eng)

	actor := submitterActor("org-1", "user-1", "proj-1")
	w := serve(actor, http.MethodPost, "/requisitions/missing/transitions",
		TransitionRequest{Action: "cancel"}, func(r *gin.Engine) {
			r.POST("/requisitions/:id/transitions", h.TransitionHandler())
		})

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404: %s", w.Code, w.Body.String())
	}
}

// ---------------------------------------------------------------------------
// HistoryHandler
// ---------------------------------------------------------------------------

func TestHistoryHandler(t *testing.T) {
	h, deps := newTestHandlers(t, nil)
	deps.reqMock.ExpectQuery("SELECT (.+) FROM requisitions").
		WithArgs("req-1").
		WillReturnRows(requisitionRow("req-1", "org-1", "pending"))
	deps.auditMock.ExpectQuery("SELECT (.+) FROM audit_entries").
		WithArgs("requisition", "req-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "actor_id", "organization_id", "action", "entity_type", "entity_id",
			"prior_state", "new_state", "metadata", "ip_address", "created_at",
		}))

	actor := submitterActor("org-1", "user-1", "proj-1")
	w := serve(actor, http.MethodGet, "/requisitions/req-1/history", nil, func(r *gin.Engine) {
		r.GET("/requisitions/:id/history", h.HistoryHandler())
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
	if err := deps.auditMock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
