package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pointhed/loyalty-ledger/internal/domain"
)

func TestRecordPurchase_AwardsPointsPerCurrency(t *testing.T) {
	tests := []struct {
		name        string
		currency    string
		amountMinor int64
		override    *int64
		wantPoints  int64
	}{
		{name: "GBP floors to whole pounds", currency: "GBP", amountMinor: 2599, wantPoints: 25},
		{name: "GBP below one unit earns nothing", currency: "GBP", amountMinor: 99, wantPoints: 0},
		{name: "NGN earns per thousand", currency: "NGN", amountMinor: 250000, wantPoints: 2},
		{name: "KES earns per hundred", currency: "KES", amountMinor: 99900, wantPoints: 9},
		{name: "override replaces computed points", currency: "GBP", amountMinor: 2599, override: int64Ptr(40), wantPoints: 40},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(_ *Options, settings *domain.TenantSettings) {
				settings.Currency = tt.currency
			})
			customer := h.enrol(t, "+447700900001")

			result, err := h.svc.RecordPurchase(context.Background(), RecordPurchaseInput{
				TenantID:       h.tenant.ID,
				CustomerID:     customer.ID,
				AmountMinor:    tt.amountMinor,
				PointsOverride: tt.override,
			})
			if err != nil {
				t.Fatalf("RecordPurchase returned error: %v", err)
			}
			if result.Purchase.PointsEarned != tt.wantPoints {
				t.Fatalf("expected %d points, got %d", tt.wantPoints, result.Purchase.PointsEarned)
			}
			if result.Balance.CurrentBalance != tt.wantPoints {
				t.Fatalf("expected balance %d, got %d", tt.wantPoints, result.Balance.CurrentBalance)
			}
			if (result.Transaction != nil) != (tt.wantPoints > 0) {
				t.Fatalf("unexpected transaction %+v", result.Transaction)
			}
		})
	}
}

func TestRecordPurchase_EarnTransactionCarriesExpiry(t *testing.T) {
	h := newHarness(t)
	customer := h.enrol(t, "+447700900001")

	result, err := h.svc.RecordPurchase(context.Background(), RecordPurchaseInput{
		TenantID:    h.tenant.ID,
		CustomerID:  customer.ID,
		AmountMinor: 1000,
	})
	if err != nil {
		t.Fatalf("RecordPurchase returned error: %v", err)
	}
	want := h.clock.Now().AddDate(0, 0, domain.DefaultPointsExpiryDays)
	if result.Transaction.ExpiresAt == nil || !result.Transaction.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %s, got %v", want, result.Transaction.ExpiresAt)
	}
	if result.Transaction.PurchaseID == nil || *result.Transaction.PurchaseID != result.Purchase.ID {
		t.Fatal("expected earn transaction linked to the purchase")
	}

	customerAfter, err := h.svc.GetCustomer(context.Background(), h.tenant.ID, customer.ID)
	if err != nil {
		t.Fatalf("GetCustomer returned error: %v", err)
	}
	if customerAfter.TotalPurchases != 1 || customerAfter.TotalSpentMinor != 1000 {
		t.Fatalf("expected purchase counters to be bumped, got %+v", customerAfter)
	}
}

func TestRecordPurchase_BlockedCustomerEarnsNothing(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.enrol(t, "+447700900001")
	if _, err := h.svc.SetCustomerBlocked(ctx, h.tenant.ID, customer.ID, true); err != nil {
		t.Fatalf("SetCustomerBlocked returned error: %v", err)
	}

	result, err := h.svc.RecordPurchase(ctx, RecordPurchaseInput{
		TenantID:    h.tenant.ID,
		CustomerID:  customer.ID,
		AmountMinor: 5000,
	})
	if err != nil {
		t.Fatalf("RecordPurchase returned error: %v", err)
	}
	if result.Purchase.PointsEarned != 0 || result.Transaction != nil {
		t.Fatalf("expected no points for blocked customer, got %+v", result)
	}
	if got := h.balance(t, customer.ID); got != 0 {
		t.Fatalf("expected balance 0, got %d", got)
	}
	purchases, err := h.svc.ListPurchases(ctx, h.tenant.ID, customer.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListPurchases returned error: %v", err)
	}
	if len(purchases) != 1 {
		t.Fatalf("expected the purchase to be recorded, got %d", len(purchases))
	}
}

func TestRecordPurchase_Rejections(t *testing.T) {
	now := time.Date(2026, time.March, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		in   RecordPurchaseInput
		want error
	}{
		{name: "zero amount", in: RecordPurchaseInput{AmountMinor: 0}, want: domain.ErrInvalidAmount},
		{name: "negative amount", in: RecordPurchaseInput{AmountMinor: -100}, want: domain.ErrInvalidAmount},
		{name: "future dated", in: RecordPurchaseInput{AmountMinor: 100, PurchaseDate: now.Add(time.Hour)}, want: domain.ErrFutureDatedPurchase},
		{name: "negative override", in: RecordPurchaseInput{AmountMinor: 100, PointsOverride: int64Ptr(-1)}, want: domain.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			customer := h.enrol(t, "+447700900001")
			in := tt.in
			in.TenantID = h.tenant.ID
			in.CustomerID = customer.ID

			if _, err := h.svc.RecordPurchase(context.Background(), in); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestRecordPurchase_UnknownCustomer(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.RecordPurchase(context.Background(), RecordPurchaseInput{
		TenantID:    h.tenant.ID,
		CustomerID:  h.tenant.ID,
		AmountMinor: 100,
	})
	if !errors.Is(err, domain.ErrCustomerNotFound) {
		t.Fatalf("expected customer not found, got %v", err)
	}
}

func TestRecordPurchase_ExternalRefIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.enrol(t, "+447700900001")
	in := RecordPurchaseInput{
		TenantID:    h.tenant.ID,
		CustomerID:  customer.ID,
		AmountMinor: 1000,
		Source:      domain.PurchaseSourcePOS,
		ExternalRef: "pos-receipt-42",
	}

	if _, err := h.svc.RecordPurchase(ctx, in); err != nil {
		t.Fatalf("RecordPurchase returned error: %v", err)
	}
	if _, err := h.svc.RecordPurchase(ctx, in); !errors.Is(err, domain.ErrPurchaseAlreadyRecorded) {
		t.Fatalf("expected already recorded, got %v", err)
	}
	if got := h.balance(t, customer.ID); got != 10 {
		t.Fatalf("expected points awarded once, got balance %d", got)
	}
	h.assertLedgerConsistent(t, customer.ID)
}

func TestRecordPurchase_NotificationPreferences(t *testing.T) {
	tests := []struct {
		name    string
		enabled *bool
		want    int
	}{
		{name: "enabled by default", want: 1},
		{name: "switched off by tenant", enabled: new(bool), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(_ *Options, settings *domain.TenantSettings) {
				if tt.enabled != nil {
					settings.Notifications = map[domain.EventKind]bool{domain.EventPurchaseRecorded: *tt.enabled}
				}
			})
			customer := h.enrol(t, "+447700900001")
			h.credit(t, customer.ID, 10)
			h.svc.WaitForNotifications()

			if got := h.notifier.count(domain.EventPurchaseRecorded); got != tt.want {
				t.Fatalf("expected %d notifications, got %d", tt.want, got)
			}
		})
	}
}

func TestRecordPurchase_NotifierFailureDoesNotFailPurchase(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("broker down")
	customer := h.enrol(t, "+447700900001")

	h.credit(t, customer.ID, 10)
	h.svc.WaitForNotifications()

	if got := h.balance(t, customer.ID); got != 10 {
		t.Fatalf("expected balance 10, got %d", got)
	}
}
