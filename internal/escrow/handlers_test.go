package escrow

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Kaydot97/DecentralizedEscrow/internal/ledger"
	"github.com/Kaydot97/DecentralizedEscrow/internal/policy"
)

// newTestRouter wires the escrow handlers behind a stub auth middleware that
// reads the caller address from the X-Test-Caller header.
func newTestRouter(t *testing.T) (*gin.Engine, *Service) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	l := ledger.New(ledger.NewMemoryStore())
	p := policy.NewService(owner, policy.NewMemoryStore(arbiter, 250))
	svc := NewService(NewMemoryStore(), l, p)

	if err := l.Deposit(context.Background(), buyer, 2_000_000, "0xseedhttp"); err != nil {
		t.Fatalf("seeding buyer balance failed: %v", err)
	}

	r := gin.New()
	v1 := r.Group("/v1")
	h := NewHandler(svc)
	h.RegisterRoutes(v1)

	authed := r.Group("/v1")
	authed.Use(func(c *gin.Context) {
		c.Set("authAgentAddr", c.GetHeader("X-Test-Caller"))
		c.Next()
	})
	h.RegisterProtectedRoutes(authed)

	return r, svc
}

func doJSON(t *testing.T, r *gin.Engine, method, path, caller, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if caller != "" {
		req.Header.Set("X-Test-Caller", caller)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandlerCreateEscrow(t *testing.T) {
	r, _ := newTestRouter(t)

	w := doJSON(t, r, "POST", "/v1/escrows", buyer,
		`{"sellerAddr":"`+seller+`","amount":1000000,"description":"api work"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp struct {
		Escrow Escrow `json:"escrow"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Escrow.Status != StatusPending || resp.Escrow.Amount != 1_000_000 {
		t.Errorf("unexpected escrow: %+v", resp.Escrow)
	}

	// Malformed seller address fails validation before the service runs.
	w = doJSON(t, r, "POST", "/v1/escrows", buyer, `{"sellerAddr":"not-an-address","amount":5}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for bad seller address, got %d", w.Code)
	}

	// Self-dealing surfaces as 403 from the service.
	w = doJSON(t, r, "POST", "/v1/escrows", buyer, `{"sellerAddr":"`+buyer+`","amount":5}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for buyer==seller, got %d", w.Code)
	}
}

func TestHandlerStatusMapping(t *testing.T) {
	r, svc := newTestRouter(t)
	ctx := context.Background()

	e, err := svc.Create(ctx, buyer, CreateRequest{SellerAddr: seller, Amount: 1_000_000})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Unknown escrow → 404
	w := doJSON(t, r, "POST", "/v1/escrows/999/fund", buyer, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown escrow, got %d", w.Code)
	}

	// Non-numeric ID → 400
	w = doJSON(t, r, "POST", "/v1/escrows/abc/fund", buyer, "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for non-numeric ID, got %d", w.Code)
	}

	// Wrong caller → 403
	w = doJSON(t, r, "POST", "/v1/escrows/0/fund", seller, "")
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for seller funding, got %d", w.Code)
	}

	// Wrong state → 409
	w = doJSON(t, r, "POST", "/v1/escrows/0/release", buyer, "")
	if w.Code != http.StatusConflict {
		t.Errorf("expected 409 releasing a pending escrow, got %d", w.Code)
	}

	// Fund for real, then walk it into a dispute.
	w = doJSON(t, r, "POST", "/v1/escrows/0/fund", buyer, "")
	if w.Code != http.StatusOK {
		t.Fatalf("fund failed: %d %s", w.Code, w.Body.String())
	}

	w = doJSON(t, r, "POST", "/v1/escrows/0/dispute", seller, `{"reason":"not paid"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("dispute failed: %d %s", w.Code, w.Body.String())
	}

	// Invalid winner → 400 before the service is called.
	w = doJSON(t, r, "POST", "/v1/escrows/0/resolve", arbiter, `{"winner":"owner"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for invalid winner, got %d", w.Code)
	}

	// Non-arbiter resolve → 403
	w = doJSON(t, r, "POST", "/v1/escrows/0/resolve", buyer, `{"winner":"seller"}`)
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403 for non-arbiter resolve, got %d", w.Code)
	}

	// The arbiter settles it.
	w = doJSON(t, r, "POST", "/v1/escrows/0/resolve", arbiter, `{"winner":"seller"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("resolve failed: %d %s", w.Code, w.Body.String())
	}

	_ = e
}

func TestHandlerReadEndpoints(t *testing.T) {
	r, svc := newTestRouter(t)
	ctx := context.Background()

	w := doJSON(t, r, "GET", "/v1/escrows/next-id", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("next-id failed: %d", w.Code)
	}
	var nextResp struct {
		NextID uint64 `json:"nextId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &nextResp); err != nil {
		t.Fatalf("decode next-id: %v", err)
	}
	if nextResp.NextID != 0 {
		t.Errorf("expected next ID 0, got %d", nextResp.NextID)
	}

	e, _ := svc.Create(ctx, buyer, CreateRequest{SellerAddr: seller, Amount: 1_000_000})
	if _, err := svc.Fund(ctx, e.ID, buyer); err != nil {
		t.Fatalf("Fund failed: %v", err)
	}
	if _, err := svc.Dispute(ctx, e.ID, buyer, "stalled"); err != nil {
		t.Fatalf("Dispute failed: %v", err)
	}

	w = doJSON(t, r, "GET", "/v1/escrows/0", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("get escrow failed: %d", w.Code)
	}

	w = doJSON(t, r, "GET", "/v1/escrows/0/dispute", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("get dispute failed: %d", w.Code)
	}
	var dResp struct {
		Dispute Dispute `json:"dispute"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &dResp); err != nil {
		t.Fatalf("decode dispute: %v", err)
	}
	if dResp.Dispute.RaisedBy != buyer || dResp.Dispute.Reason != "stalled" {
		t.Errorf("unexpected dispute: %+v", dResp.Dispute)
	}

	w = doJSON(t, r, "GET", "/v1/agents/"+buyer+"/escrows", "", "")
	if w.Code != http.StatusOK {
		t.Errorf("list escrows failed: %d", w.Code)
	}
}
