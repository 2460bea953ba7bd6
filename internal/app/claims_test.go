package app

import (
	"context"
	"errors"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/domain"
	"github.com/pointhed/loyalty-ledger/internal/store"
)

func (h *harness) submitClaim(amountMinor int64) (*domain.PurchaseClaim, error) {
	return h.svc.SubmitClaim(context.Background(), SubmitClaimInput{
		TenantID:     h.tenant.ID,
		Phone:        "+44 7700 900001",
		AmountMinor:  amountMinor,
		PurchaseDate: h.clock.Now(),
		Channel:      "whatsapp",
	})
}

func TestSubmitClaim_DailyLimit(t *testing.T) {
	h := newHarness(t)
	h.enrol(t, "+447700900001")

	for i := int64(1); i <= domain.ClaimDailyLimit; i++ {
		if _, err := h.submitClaim(1000 * i); err != nil {
			t.Fatalf("claim %d returned error: %v", i, err)
		}
	}

	_, err := h.submitClaim(9999)
	if !errors.Is(err, domain.ErrRateLimited) {
		t.Fatalf("expected rate limited, got %v", err)
	}
	var rateErr *domain.RateLimitError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitError, got %T", err)
	}
	if rateErr.Limit != domain.ClaimDailyLimit {
		t.Fatalf("expected limit %d, got %d", domain.ClaimDailyLimit, rateErr.Limit)
	}
	if rateErr.RetryAfter != 12*time.Hour {
		t.Fatalf("expected retry after 12h until midnight, got %s", rateErr.RetryAfter)
	}

	h.clock.Advance(24 * time.Hour)
	if _, err := h.submitClaim(9999); err != nil {
		t.Fatalf("expected claim on the next day to succeed, got %v", err)
	}
}

func TestSubmitClaim_DuplicateWithinWindow(t *testing.T) {
	h := newHarness(t)
	h.enrol(t, "+447700900001")

	first, err := h.submitClaim(2500)
	if err != nil {
		t.Fatalf("first claim returned error: %v", err)
	}

	_, err = h.submitClaim(2500)
	if !errors.Is(err, domain.ErrDuplicateClaim) || !errors.Is(err, domain.ErrDuplicateSubmission) {
		t.Fatalf("expected duplicate claim, got %v", err)
	}

	h.clock.Advance(domain.ClaimDuplicateWindow + time.Minute)
	second, err := h.svc.SubmitClaim(context.Background(), SubmitClaimInput{
		TenantID:     h.tenant.ID,
		Phone:        "+447700900001",
		AmountMinor:  2500,
		PurchaseDate: first.PurchaseDate,
		Channel:      "whatsapp",
	})
	if err != nil {
		t.Fatalf("expected claim after the duplicate window to succeed, got %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("expected a new claim")
	}
}

func TestSubmitClaim_Validation(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   func(tenantID uuid.UUID) SubmitClaimInput
		want error
	}{
		{
			name: "future dated",
			in: func(tenantID uuid.UUID) SubmitClaimInput {
				return SubmitClaimInput{TenantID: tenantID, Phone: "+447700900001", AmountMinor: 500, PurchaseDate: now.AddDate(0, 0, 1)}
			},
			want: domain.ErrFutureDatedPurchase,
		},
		{
			name: "older than seven days",
			in: func(tenantID uuid.UUID) SubmitClaimInput {
				return SubmitClaimInput{TenantID: tenantID, Phone: "+447700900001", AmountMinor: 500, PurchaseDate: now.AddDate(0, 0, -8)}
			},
			want: domain.ErrClaimWindowElapsed,
		},
		{
			name: "zero amount",
			in: func(tenantID uuid.UUID) SubmitClaimInput {
				return SubmitClaimInput{TenantID: tenantID, Phone: "+447700900001", AmountMinor: 0, PurchaseDate: now}
			},
			want: domain.ErrInvalidAmount,
		},
		{
			name: "unknown phone",
			in: func(tenantID uuid.UUID) SubmitClaimInput {
				return SubmitClaimInput{TenantID: tenantID, Phone: "+447700900999", AmountMinor: 500, PurchaseDate: now}
			},
			want: domain.ErrCustomerNotFound,
		},
		{
			name: "no active tenant",
			in: func(uuid.UUID) SubmitClaimInput {
				return SubmitClaimInput{Identity: "wa:447700900001", Phone: "+447700900001", AmountMinor: 500, PurchaseDate: now}
			},
			want: domain.ErrNoActiveTenant,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.enrol(t, "+447700900001")

			_, err := h.svc.SubmitClaim(context.Background(), tt.in(h.tenant.ID))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestSubmitClaim_SevenDayOldPurchaseAccepted(t *testing.T) {
	h := newHarness(t)
	h.enrol(t, "+447700900001")

	claim, err := h.svc.SubmitClaim(context.Background(), SubmitClaimInput{
		TenantID:     h.tenant.ID,
		Phone:        "+447700900001",
		AmountMinor:  500,
		PurchaseDate: h.clock.Now().AddDate(0, 0, -7),
	})
	if err != nil {
		t.Fatalf("SubmitClaim returned error: %v", err)
	}
	if claim.Channel != defaultClaimSource {
		t.Fatalf("expected default channel, got %q", claim.Channel)
	}
	if !claim.ExpiresAt.Equal(h.clock.Now().Add(domain.ClaimProcessingWindow)) {
		t.Fatalf("expected 48h processing window, got %s", claim.ExpiresAt)
	}
}

func TestSubmitClaim_CalendarDaysInTenantTimezone(t *testing.T) {
	dateOnly := func(raw string) time.Time {
		d, err := time.Parse("2006-01-02", raw)
		if err != nil {
			t.Fatalf("bad test date %q: %v", raw, err)
		}
		return d
	}
	morning := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		now      time.Time
		purchase string
		wantDay  string
		wantErr  error
	}{
		{name: "seven days old", now: morning, purchase: "2026-03-03", wantDay: "2026-03-03"},
		{name: "kept as written", now: morning, purchase: "2026-03-05", wantDay: "2026-03-05"},
		{name: "eight days old", now: morning, purchase: "2026-03-02", wantErr: domain.ErrClaimWindowElapsed},
		{name: "local evening", now: time.Date(2026, time.March, 11, 2, 0, 0, 0, time.UTC), purchase: "2026-03-10", wantDay: "2026-03-10"},
		{name: "tomorrow locally", now: time.Date(2026, time.March, 11, 2, 0, 0, 0, time.UTC), purchase: "2026-03-11", wantErr: domain.ErrFutureDatedPurchase},
		{name: "seven days across fall back", now: time.Date(2026, time.November, 5, 17, 0, 0, 0, time.UTC), purchase: "2026-10-29", wantDay: "2026-10-29"},
		{name: "eight days across fall back", now: time.Date(2026, time.November, 5, 17, 0, 0, 0, time.UTC), purchase: "2026-10-28", wantErr: domain.ErrClaimWindowElapsed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(_ *Options, settings *domain.TenantSettings) {
				settings.Timezone = "America/New_York"
			})
			h.clock.now = tt.now
			h.enrol(t, "+447700900001")

			claim, err := h.svc.SubmitClaim(context.Background(), SubmitClaimInput{
				TenantID:     h.tenant.ID,
				Phone:        "+447700900001",
				AmountMinor:  500,
				PurchaseDate: dateOnly(tt.purchase),
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("SubmitClaim returned error: %v", err)
			}
			if got := claim.PurchaseDate.Format("2006-01-02"); got != tt.wantDay {
				t.Fatalf("expected purchase day %s, got %s", tt.wantDay, got)
			}
		})
	}
}

func TestSubmitClaim_ResolvesTenantFromSession(t *testing.T) {
	h := newHarness(t)
	h.enrol(t, "+447700900001")
	ctx := context.Background()

	if err := h.svc.SelectTenant(ctx, "wa:447700900001", h.tenant.ID); err != nil {
		t.Fatalf("SelectTenant returned error: %v", err)
	}
	claim, err := h.svc.SubmitClaim(ctx, SubmitClaimInput{
		Identity:     "wa:447700900001",
		Phone:        "+447700900001",
		AmountMinor:  1200,
		PurchaseDate: h.clock.Now(),
	})
	if err != nil {
		t.Fatalf("SubmitClaim returned error: %v", err)
	}
	if claim.TenantID != h.tenant.ID {
		t.Fatalf("expected claim for tenant %s, got %s", h.tenant.ID, claim.TenantID)
	}

	if err := h.svc.SelectTenant(ctx, "wa:447700900001", uuid.New()); !errors.Is(err, domain.ErrTenantNotFound) {
		t.Fatalf("expected unknown tenant to be rejected, got %v", err)
	}
}

func TestSubmitClaim_BurstLimiter(t *testing.T) {
	t.Run("blocks above the per-minute limit", func(t *testing.T) {
		limiter := &limiterStub{count: 5, retryAfter: 30}
		h := newHarness(t, func(opts *Options, _ *domain.TenantSettings) {
			opts.Limiter = limiter
			opts.ClaimSubmitLimitPerMinute = 5
		})
		h.enrol(t, "+447700900001")

		_, err := h.submitClaim(1500)
		var rateErr *domain.RateLimitError
		if !errors.As(err, &rateErr) {
			t.Fatalf("expected RateLimitError, got %v", err)
		}
		if rateErr.RetryAfter != 30*time.Second {
			t.Fatalf("expected retry after 30s, got %s", rateErr.RetryAfter)
		}
	})

	t.Run("fails open when the limiter is down", func(t *testing.T) {
		h := newHarness(t, func(opts *Options, _ *domain.TenantSettings) {
			opts.Limiter = &limiterStub{err: errors.New("redis unavailable")}
			opts.ClaimSubmitLimitPerMinute = 5
		})
		h.enrol(t, "+447700900001")

		if _, err := h.submitClaim(1500); err != nil {
			t.Fatalf("expected claim to be accepted, got %v", err)
		}
	})
}

func TestSubmitClaim_BlockedCustomer(t *testing.T) {
	h := newHarness(t)
	customer := h.enrol(t, "+447700900001")
	if _, err := h.svc.SetCustomerBlocked(context.Background(), h.tenant.ID, customer.ID, true); err != nil {
		t.Fatalf("SetCustomerBlocked returned error: %v", err)
	}

	if _, err := h.submitClaim(1500); !errors.Is(err, domain.ErrCustomerBlocked) {
		t.Fatalf("expected customer blocked, got %v", err)
	}
}

func TestApproveClaim_CreditsPointsOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.enrol(t, "+447700900001")
	claim, err := h.submitClaim(2599)
	if err != nil {
		t.Fatalf("SubmitClaim returned error: %v", err)
	}

	approval, err := h.svc.ApproveClaim(ctx, h.tenant.ID, claim.ID, "staff-1")
	if err != nil {
		t.Fatalf("ApproveClaim returned error: %v", err)
	}
	if approval.Purchase.PointsEarned != 25 {
		t.Fatalf("expected 25 points, got %d", approval.Purchase.PointsEarned)
	}
	if approval.Purchase.Source != domain.PurchaseSourceClaim || approval.Purchase.ClaimID == nil || *approval.Purchase.ClaimID != claim.ID {
		t.Fatalf("expected purchase linked to claim, got %+v", approval.Purchase)
	}
	if approval.Claim.Status != domain.ClaimStatusApproved || approval.Claim.PurchaseID == nil {
		t.Fatalf("expected approved claim linked to purchase, got %+v", approval.Claim)
	}
	if got := h.balance(t, customer.ID); got != 25 {
		t.Fatalf("expected balance 25, got %d", got)
	}

	if _, err := h.svc.ApproveClaim(ctx, h.tenant.ID, claim.ID, "staff-2"); !errors.Is(err, domain.ErrClaimAlreadyReviewed) {
		t.Fatalf("expected second approval to fail, got %v", err)
	}
	if _, err := h.svc.RejectClaim(ctx, h.tenant.ID, claim.ID, "staff-2", "receipt unreadable"); !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("expected rejection after approval to fail, got %v", err)
	}
	if got := h.balance(t, customer.ID); got != 25 {
		t.Fatalf("expected balance to stay 25, got %d", got)
	}

	h.svc.WaitForNotifications()
	if h.notifier.count(domain.EventClaimApproved) != 1 {
		t.Fatal("expected one approval notification")
	}
}

func TestApproveClaim_AfterProcessingWindow(t *testing.T) {
	h := newHarness(t)
	h.enrol(t, "+447700900001")
	claim, err := h.submitClaim(2599)
	if err != nil {
		t.Fatalf("SubmitClaim returned error: %v", err)
	}

	h.clock.Advance(domain.ClaimProcessingWindow + time.Minute)
	if _, err := h.svc.ApproveClaim(context.Background(), h.tenant.ID, claim.ID, "staff-1"); !errors.Is(err, domain.ErrExpiredWindow) {
		t.Fatalf("expected expired window, got %v", err)
	}
}

func TestRejectClaim(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.enrol(t, "+447700900001")
	claim, err := h.submitClaim(2599)
	if err != nil {
		t.Fatalf("SubmitClaim returned error: %v", err)
	}

	if _, err := h.svc.RejectClaim(ctx, h.tenant.ID, claim.ID, "staff-1", "  "); !errors.Is(err, domain.ErrRejectionReasonMissing) {
		t.Fatalf("expected missing reason error, got %v", err)
	}

	rejected, err := h.svc.RejectClaim(ctx, h.tenant.ID, claim.ID, "staff-1", "no matching sale")
	if err != nil {
		t.Fatalf("RejectClaim returned error: %v", err)
	}
	if rejected.Status != domain.ClaimStatusRejected {
		t.Fatalf("expected rejected, got %s", rejected.Status)
	}
	if got := h.balance(t, customer.ID); got != 0 {
		t.Fatalf("expected no ledger effect, got balance %d", got)
	}

	status := domain.ClaimStatusPending
	pending, err := h.svc.ListClaims(ctx, h.tenant.ID, store.ClaimFilter{Status: &status})
	if err != nil {
		t.Fatalf("ListClaims returned error: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected empty review queue, got %d", len(pending))
	}
}
