package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/app"
	"github.com/pointhed/loyalty-ledger/internal/domain"
	"github.com/pointhed/loyalty-ledger/internal/store"
)

const testSecret = "test-secret"

type apiHarness struct {
	server *httptest.Server
	svc    *app.Service
	tenant *domain.Tenant
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	svc := app.NewService(store.NewMemoryRepository(), app.Options{
		Logger:                 logger,
		Now:                    func() time.Time { return now },
		RedemptionExpiryRefund: true,
	})
	tenant, err := svc.CreateTenant(context.Background(), "Corner Cafe", domain.DefaultTenantSettings())
	if err != nil {
		t.Fatalf("CreateTenant returned error: %v", err)
	}

	router := NewRouter(NewHandlers(svc, logger), RouterConfig{JWTSecret: testSecret})
	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		svc.WaitForNotifications()
	})
	return &apiHarness{server: server, svc: svc, tenant: tenant}
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func (h *apiHarness) staffToken(t *testing.T) string {
	return signToken(t, jwt.MapClaims{"sub": "staff-1", "tenant_id": h.tenant.ID.String()})
}

func (h *apiHarness) do(t *testing.T, method, path, token string, body any, headers ...string) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal failed: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, h.server.URL+path, reader)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	raw, _ := io.ReadAll(resp.Body)
	if len(raw) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &decoded); err != nil {
			t.Fatalf("failed to decode response %q: %v", raw, err)
		}
	}
	return resp, decoded
}

func (h *apiHarness) tenantPath(suffix string) string {
	return "/tenants/" + h.tenant.ID.String() + suffix
}

func (h *apiHarness) enrol(t *testing.T, token, phone string) string {
	t.Helper()
	resp, body := h.do(t, http.MethodPost, h.tenantPath("/customers"), token, map[string]any{"phone": phone, "name": "Ada"})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from enrol, got %d: %v", resp.StatusCode, body)
	}
	customer := body["customer"].(map[string]any)
	return customer["id"].(string)
}

func TestHealthHandler(t *testing.T) {
	h := newAPIHarness(t)
	resp, body := h.do(t, http.MethodGet, "/health", "", nil)
	if resp.StatusCode != http.StatusOK || body["status"] != "healthy" {
		t.Fatalf("expected healthy, got %d %v", resp.StatusCode, body)
	}
}

func TestStaffAuth(t *testing.T) {
	h := newAPIHarness(t)
	otherTenant := signToken(t, jwt.MapClaims{"sub": "staff-2", "tenant_id": uuid.NewString()})
	admin := signToken(t, jwt.MapClaims{"sub": "root", "role": RoleAdmin})
	noSubject := signToken(t, jwt.MapClaims{"tenant_id": h.tenant.ID.String()})
	wrongKey, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "x", "tenant_id": h.tenant.ID.String()}).SignedString([]byte("other"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	tests := []struct {
		name   string
		token  string
		want   int
		method string
		path   string
	}{
		{name: "missing token", token: "", want: http.StatusUnauthorized, method: http.MethodGet, path: h.tenantPath("")},
		{name: "wrong key", token: wrongKey, want: http.StatusUnauthorized, method: http.MethodGet, path: h.tenantPath("")},
		{name: "missing subject", token: noSubject, want: http.StatusUnauthorized, method: http.MethodGet, path: h.tenantPath("")},
		{name: "other tenant", token: otherTenant, want: http.StatusForbidden, method: http.MethodGet, path: h.tenantPath("")},
		{name: "own tenant", token: h.staffToken(t), want: http.StatusOK, method: http.MethodGet, path: h.tenantPath("")},
		{name: "admin any tenant", token: admin, want: http.StatusOK, method: http.MethodGet, path: h.tenantPath("")},
		{name: "staff cannot create tenants", token: h.staffToken(t), want: http.StatusForbidden, method: http.MethodPost, path: "/tenants"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var body any
			if tt.method == http.MethodPost {
				body = map[string]any{"name": "New Shop"}
			}
			resp, decoded := h.do(t, tt.method, tt.path, tt.token, body)
			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d: %v", tt.want, resp.StatusCode, decoded)
			}
		})
	}
}

func TestCreateTenantHandler_AppliesDefaults(t *testing.T) {
	h := newAPIHarness(t)
	admin := signToken(t, jwt.MapClaims{"sub": "root", "role": RoleAdmin})

	resp, body := h.do(t, http.MethodPost, "/tenants", admin, map[string]any{
		"name":     "Lagos Grill",
		"settings": map[string]any{"currency": "NGN"},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", resp.StatusCode, body)
	}
	settings := body["settings"].(map[string]any)
	if settings["currency"] != "NGN" {
		t.Fatalf("expected NGN currency, got %v", settings["currency"])
	}
	if settings["points_expiry_days"] != float64(domain.DefaultPointsExpiryDays) {
		t.Fatalf("expected default expiry days, got %v", settings["points_expiry_days"])
	}
}

func TestPurchaseAndRedemptionFlow(t *testing.T) {
	h := newAPIHarness(t)
	token := h.staffToken(t)
	customerID := h.enrol(t, token, "+447700900001")

	resp, body := h.do(t, http.MethodPost, h.tenantPath("/purchases"), token, map[string]any{
		"customer_id":  customerID,
		"amount_minor": 2000,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from purchase, got %d: %v", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodGet, h.tenantPath("/customers/"+customerID+"/balance"), token, nil)
	if resp.StatusCode != http.StatusOK || body["current_balance"] != float64(20) {
		t.Fatalf("expected balance 20, got %d %v", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodPost, h.tenantPath("/rewards"), token, map[string]any{"name": "Coffee", "points_required": 15})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from reward, got %d: %v", resp.StatusCode, body)
	}
	coffeeID := body["id"].(string)

	redeem := map[string]any{"customer_id": customerID, "reward_id": coffeeID}
	resp, body = h.do(t, http.MethodPost, h.tenantPath("/redemptions"), token, redeem, "Idempotency-Key", "till-1")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from redeem, got %d: %v", resp.StatusCode, body)
	}
	redemption := body["redemption"].(map[string]any)
	redemptionID := redemption["id"].(string)
	code := redemption["redemption_code"].(string)

	resp, body = h.do(t, http.MethodPost, h.tenantPath("/redemptions"), token, redeem, "Idempotency-Key", "till-1")
	if resp.StatusCode != http.StatusOK || body["replayed"] != true {
		t.Fatalf("expected replay, got %d %v", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodPost, h.tenantPath("/redemptions"), token, redeem)
	if resp.StatusCode != http.StatusConflict || body["code"] != "redemption_pending" {
		t.Fatalf("expected pending conflict, got %d %v", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodPost, h.tenantPath("/redemptions/verify"), token, map[string]any{"code": code})
	if resp.StatusCode != http.StatusOK || body["id"] != redemptionID {
		t.Fatalf("expected verified redemption, got %d %v", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodPost, h.tenantPath("/redemptions/"+redemptionID+"/fulfill"), token, nil)
	if resp.StatusCode != http.StatusOK || body["status"] != string(domain.RedemptionFulfilled) {
		t.Fatalf("expected fulfilled redemption, got %d %v", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodPost, h.tenantPath("/redemptions/"+redemptionID+"/fulfill"), token, nil)
	if resp.StatusCode != http.StatusConflict || body["code"] != "already_fulfilled" {
		t.Fatalf("expected already fulfilled conflict, got %d %v", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodPost, h.tenantPath("/rewards"), token, map[string]any{"name": "Cake", "points_required": 10})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201 from reward, got %d: %v", resp.StatusCode, body)
	}
	resp, body = h.do(t, http.MethodPost, h.tenantPath("/redemptions"), token, map[string]any{"customer_id": customerID, "reward_id": body["id"]})
	if resp.StatusCode != http.StatusConflict || body["code"] != "insufficient_balance" {
		t.Fatalf("expected insufficient balance, got %d %v", resp.StatusCode, body)
	}
}

func TestSubmitClaimHandler_DailyLimit(t *testing.T) {
	h := newAPIHarness(t)
	token := h.staffToken(t)
	h.enrol(t, token, "+447700900001")

	for i := 0; i < domain.ClaimDailyLimit; i++ {
		resp, body := h.do(t, http.MethodPost, h.tenantPath("/claims"), token, map[string]any{
			"phone":         "+447700900001",
			"amount_minor":  1000 + i,
			"purchase_date": "2026-03-10",
		})
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("expected claim %d to be accepted, got %d: %v", i+1, resp.StatusCode, body)
		}
	}

	resp, body := h.do(t, http.MethodPost, h.tenantPath("/claims"), token, map[string]any{
		"phone":         "+447700900001",
		"amount_minor":  5000,
		"purchase_date": "2026-03-10",
	})
	if resp.StatusCode != http.StatusTooManyRequests || body["code"] != "rate_limited" {
		t.Fatalf("expected rate limit, got %d %v", resp.StatusCode, body)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}

	resp, body = h.do(t, http.MethodPost, h.tenantPath("/claims"), token, map[string]any{
		"phone":         "+447700900001",
		"amount_minor":  5000,
		"purchase_date": "10/03/2026",
	})
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "invalid_purchase_date" {
		t.Fatalf("expected bad date, got %d %v", resp.StatusCode, body)
	}
}

func TestClaimReviewHandlers(t *testing.T) {
	h := newAPIHarness(t)
	token := h.staffToken(t)
	h.enrol(t, token, "+447700900001")

	resp, body := h.do(t, http.MethodPost, h.tenantPath("/claims"), token, map[string]any{
		"phone":         "+447700900001",
		"amount_minor":  2599,
		"purchase_date": "2026-03-09",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %v", resp.StatusCode, body)
	}
	claimID := body["id"].(string)

	resp, body = h.do(t, http.MethodPost, h.tenantPath("/claims/"+claimID+"/reject"), token, map[string]any{"reason": " "})
	if resp.StatusCode != http.StatusBadRequest || body["code"] != "rejection_reason_required" {
		t.Fatalf("expected missing reason, got %d %v", resp.StatusCode, body)
	}

	resp, body = h.do(t, http.MethodPost, h.tenantPath("/claims/"+claimID+"/approve"), token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 from approve, got %d: %v", resp.StatusCode, body)
	}
	txn := body["transaction"].(map[string]any)
	if txn["points"] != float64(25) {
		t.Fatalf("expected 25 points, got %v", txn["points"])
	}

	resp, body = h.do(t, http.MethodPost, h.tenantPath("/claims/"+claimID+"/approve"), token, nil)
	if resp.StatusCode != http.StatusConflict || body["code"] != "claim_already_reviewed" {
		t.Fatalf("expected already reviewed, got %d %v", resp.StatusCode, body)
	}

	resp, _ = h.do(t, http.MethodGet, h.tenantPath("/claims?status=bogus"), token, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected bad status filter to be rejected, got %d", resp.StatusCode)
	}
}

func TestHandlers_NotFoundAndBadIDs(t *testing.T) {
	h := newAPIHarness(t)
	token := h.staffToken(t)

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantErr  string
	}{
		{name: "unknown customer", path: h.tenantPath("/customers/" + uuid.NewString()), wantCode: http.StatusNotFound, wantErr: "customer_not_found"},
		{name: "bad customer id", path: h.tenantPath("/customers/nope"), wantCode: http.StatusBadRequest, wantErr: "invalid_customer_id"},
		{name: "unknown reward", path: h.tenantPath("/rewards/" + uuid.NewString()), wantCode: http.StatusNotFound, wantErr: "reward_not_found"},
		{name: "bad limit", path: h.tenantPath("/customers?limit=0"), wantCode: http.StatusBadRequest, wantErr: "invalid_limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := h.do(t, http.MethodGet, tt.path, token, nil)
			if resp.StatusCode != tt.wantCode || body["code"] != tt.wantErr {
				t.Fatalf("expected %d %s, got %d %v", tt.wantCode, tt.wantErr, resp.StatusCode, body)
			}
		})
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{err: domain.ErrInvalidAmount, want: http.StatusBadRequest},
		{err: domain.Invalid("phone", "is required"), want: http.StatusBadRequest},
		{err: domain.ErrCustomerNotFound, want: http.StatusNotFound},
		{err: domain.ErrInsufficientPoints, want: http.StatusConflict},
		{err: domain.ErrRewardOutOfStock, want: http.StatusConflict},
		{err: domain.ErrAlreadyFulfilled, want: http.StatusConflict},
		{err: domain.ErrDuplicateClaim, want: http.StatusConflict},
		{err: domain.ErrRedemptionExpired, want: http.StatusGone},
		{err: &domain.RateLimitError{Limit: 3, RetryAfter: time.Hour, Message: "slow down"}, want: http.StatusTooManyRequests},
		{err: context.DeadlineExceeded, want: http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			if got := statusForError(tt.err); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}
