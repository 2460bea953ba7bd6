package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pointhed/loyalty-ledger/internal/domain"
)

func TestRedeemReward_ConcurrentRedemptionsNeverOverdraw(t *testing.T) {
	h := newHarness(t)
	customer := h.enrol(t, "+447700900001")
	h.credit(t, customer.ID, 100)
	first := h.addReward(t, 60, nil)
	second := h.addReward(t, 60, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, reward := range []*domain.Reward{first, second} {
		wg.Add(1)
		go func(i int, rewardID uuid.UUID) {
			defer wg.Done()
			_, errs[i] = h.svc.RedeemReward(context.Background(), RedeemInput{
				TenantID:   h.tenant.ID,
				CustomerID: customer.ID,
				RewardID:   rewardID,
			})
		}(i, reward.ID)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case !errors.Is(err, domain.ErrInsufficientBalance):
			t.Fatalf("expected insufficient balance, got %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one redemption to succeed, got %d", succeeded)
	}
	if got := h.balance(t, customer.ID); got != 40 {
		t.Fatalf("expected balance 40, got %d", got)
	}
	h.assertLedgerConsistent(t, customer.ID)
}

func TestRedeemReward_ParallelRedemptionsStopAtBalance(t *testing.T) {
	h := newHarness(t)
	customer := h.enrol(t, "+447700900001")
	h.credit(t, customer.ID, 100)

	const attempts = 10
	rewards := make([]*domain.Reward, attempts)
	for i := range rewards {
		rewards[i] = h.addReward(t, 30, nil)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for _, reward := range rewards {
		wg.Add(1)
		go func(rewardID uuid.UUID) {
			defer wg.Done()
			_, err := h.svc.RedeemReward(context.Background(), RedeemInput{
				TenantID:   h.tenant.ID,
				CustomerID: customer.ID,
				RewardID:   rewardID,
			})
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(reward.ID)
	}
	wg.Wait()

	if succeeded != 3 {
		t.Fatalf("expected 3 redemptions to succeed, got %d", succeeded)
	}
	if got := h.balance(t, customer.ID); got != 10 {
		t.Fatalf("expected balance 10, got %d", got)
	}
	h.assertLedgerConsistent(t, customer.ID)
}

func TestRedeemReward_IdempotencyKeyReplays(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.enrol(t, "+447700900001")
	h.credit(t, customer.ID, 100)
	reward := h.addReward(t, 40, nil)
	other := h.addReward(t, 10, nil)

	in := RedeemInput{TenantID: h.tenant.ID, CustomerID: customer.ID, RewardID: reward.ID, IdempotencyKey: "req-1"}
	first, err := h.svc.RedeemReward(ctx, in)
	if err != nil {
		t.Fatalf("first RedeemReward returned error: %v", err)
	}
	second, err := h.svc.RedeemReward(ctx, in)
	if err != nil {
		t.Fatalf("replayed RedeemReward returned error: %v", err)
	}

	if !second.Replayed || first.Replayed {
		t.Fatalf("expected only the second call to be a replay, got first=%v second=%v", first.Replayed, second.Replayed)
	}
	if second.Redemption.ID != first.Redemption.ID {
		t.Fatalf("expected the same redemption, got %s and %s", first.Redemption.ID, second.Redemption.ID)
	}
	if got := h.balance(t, customer.ID); got != 60 {
		t.Fatalf("expected points to be deducted once, balance %d", got)
	}

	in.RewardID = other.ID
	if _, err := h.svc.RedeemReward(ctx, in); !errors.Is(err, domain.ErrIdempotencyKeyMismatch) {
		t.Fatalf("expected idempotency key mismatch, got %v", err)
	}
}

func TestRedeemReward_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		balance int64
		setup   func(t *testing.T, h *harness, customer *domain.Customer) *domain.Reward
		want    error
	}{
		{
			name:    "insufficient balance",
			balance: 10,
			setup: func(t *testing.T, h *harness, customer *domain.Customer) *domain.Reward {
				return h.addReward(t, 50, nil)
			},
			want: domain.ErrInsufficientBalance,
		},
		{
			name:    "out of stock",
			balance: 100,
			setup: func(t *testing.T, h *harness, customer *domain.Customer) *domain.Reward {
				return h.addReward(t, 50, int64Ptr(0))
			},
			want: domain.ErrOutOfStock,
		},
		{
			name:    "inactive reward",
			balance: 100,
			setup: func(t *testing.T, h *harness, customer *domain.Customer) *domain.Reward {
				reward := h.addReward(t, 50, nil)
				if _, err := h.svc.SetRewardActive(context.Background(), h.tenant.ID, reward.ID, false); err != nil {
					t.Fatalf("SetRewardActive returned error: %v", err)
				}
				return reward
			},
			want: domain.ErrRewardInactive,
		},
		{
			name:    "pending redemption exists",
			balance: 100,
			setup: func(t *testing.T, h *harness, customer *domain.Customer) *domain.Reward {
				reward := h.addReward(t, 20, nil)
				if _, err := h.svc.RedeemReward(context.Background(), RedeemInput{TenantID: h.tenant.ID, CustomerID: customer.ID, RewardID: reward.ID}); err != nil {
					t.Fatalf("first RedeemReward returned error: %v", err)
				}
				return reward
			},
			want: domain.ErrRedemptionAlreadyActive,
		},
		{
			name:    "blocked customer",
			balance: 100,
			setup: func(t *testing.T, h *harness, customer *domain.Customer) *domain.Reward {
				if _, err := h.svc.SetCustomerBlocked(context.Background(), h.tenant.ID, customer.ID, true); err != nil {
					t.Fatalf("SetCustomerBlocked returned error: %v", err)
				}
				return h.addReward(t, 20, nil)
			},
			want: domain.ErrCustomerBlocked,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			customer := h.enrol(t, "+447700900001")
			h.credit(t, customer.ID, tt.balance)
			reward := tt.setup(t, h, customer)
			before := h.balance(t, customer.ID)

			_, err := h.svc.RedeemReward(context.Background(), RedeemInput{TenantID: h.tenant.ID, CustomerID: customer.ID, RewardID: reward.ID})
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if got := h.balance(t, customer.ID); got != before {
				t.Fatalf("expected balance to stay %d, got %d", before, got)
			}
		})
	}
}

func TestRedeemReward_StockDecrementsAndCancelRestores(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.enrol(t, "+447700900001")
	h.credit(t, customer.ID, 100)
	reward := h.addReward(t, 30, int64Ptr(1))

	result, err := h.svc.RedeemReward(ctx, RedeemInput{TenantID: h.tenant.ID, CustomerID: customer.ID, RewardID: reward.ID})
	if err != nil {
		t.Fatalf("RedeemReward returned error: %v", err)
	}
	if !strings.HasPrefix(result.Redemption.RedemptionCode, redemptionCodePrefix) {
		t.Fatalf("unexpected redemption code %q", result.Redemption.RedemptionCode)
	}
	if !result.Redemption.ExpiresAt.Equal(h.clock.Now().Add(domain.RedemptionLifetime)) {
		t.Fatalf("expected expiry 24h after creation, got %s", result.Redemption.ExpiresAt)
	}
	stocked, _ := h.svc.GetReward(ctx, h.tenant.ID, reward.ID)
	if *stocked.StockQuantity != 0 {
		t.Fatalf("expected stock 0 after redemption, got %d", *stocked.StockQuantity)
	}

	cancelled, err := h.svc.CancelRedemption(ctx, h.tenant.ID, result.Redemption.ID, "changed mind")
	if err != nil {
		t.Fatalf("CancelRedemption returned error: %v", err)
	}
	if cancelled.Status != domain.RedemptionCancelled || cancelled.RefundTransactionID == nil {
		t.Fatalf("expected cancelled redemption linked to a refund, got %+v", cancelled)
	}
	if got := h.balance(t, customer.ID); got != 100 {
		t.Fatalf("expected balance restored to 100, got %d", got)
	}
	restocked, _ := h.svc.GetReward(ctx, h.tenant.ID, reward.ID)
	if *restocked.StockQuantity != 1 {
		t.Fatalf("expected stock restored to 1, got %d", *restocked.StockQuantity)
	}
	balance, _ := h.svc.GetBalance(ctx, h.tenant.ID, customer.ID)
	if balance.TotalPointsRedeemed != 0 {
		t.Fatalf("expected redeemed total reversed, got %d", balance.TotalPointsRedeemed)
	}

	if _, err := h.svc.CancelRedemption(ctx, h.tenant.ID, result.Redemption.ID, "again"); !errors.Is(err, domain.ErrRedemptionNotActive) {
		t.Fatalf("expected second cancel to fail with not active, got %v", err)
	}
	h.assertLedgerConsistent(t, customer.ID)

	h.svc.WaitForNotifications()
	if h.notifier.count(domain.EventRedemptionCancelled) != 1 {
		t.Fatal("expected one cancellation notification")
	}
}

func TestFulfillRedemption_SecondCallFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	customer := h.enrol(t, "+447700900001")
	h.credit(t, customer.ID, 100)
	reward := h.addReward(t, 30, nil)
	result, err := h.svc.RedeemReward(ctx, RedeemInput{TenantID: h.tenant.ID, CustomerID: customer.ID, RewardID: reward.ID})
	if err != nil {
		t.Fatalf("RedeemReward returned error: %v", err)
	}

	verified, err := h.svc.VerifyRedemption(ctx, h.tenant.ID, strings.ToLower(result.Redemption.RedemptionCode), "staff-1")
	if err != nil {
		t.Fatalf("VerifyRedemption returned error: %v", err)
	}
	if verified.Stage() != domain.RedemptionVerified {
		t.Fatalf("expected verified stage, got %s", verified.Stage())
	}

	fulfilled, err := h.svc.FulfillRedemption(ctx, h.tenant.ID, result.Redemption.ID, "staff-1", "handed over")
	if err != nil {
		t.Fatalf("FulfillRedemption returned error: %v", err)
	}
	if fulfilled.Status != domain.RedemptionFulfilled {
		t.Fatalf("expected fulfilled, got %s", fulfilled.Status)
	}

	_, err = h.svc.FulfillRedemption(ctx, h.tenant.ID, result.Redemption.ID, "staff-2", "")
	if !errors.Is(err, domain.ErrAlreadyFulfilled) || !errors.Is(err, domain.ErrAlreadyProcessed) {
		t.Fatalf("expected already fulfilled, got %v", err)
	}
	if _, err := h.svc.CancelRedemption(ctx, h.tenant.ID, result.Redemption.ID, "too late"); !errors.Is(err, domain.ErrAlreadyFulfilled) {
		t.Fatalf("expected cancel after fulfilment to fail, got %v", err)
	}
	if got := h.balance(t, customer.ID); got != 70 {
		t.Fatalf("expected balance 70, got %d", got)
	}
}

func TestVerifyRedemption_ExpiresPastDueCode(t *testing.T) {
	tests := []struct {
		name        string
		refund      bool
		wantBalance int64
	}{
		{name: "refund on expiry", refund: true, wantBalance: 100},
		{name: "no refund on expiry", refund: false, wantBalance: 70},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, func(opts *Options, _ *domain.TenantSettings) {
				opts.RedemptionExpiryRefund = tt.refund
			})
			ctx := context.Background()
			customer := h.enrol(t, "+447700900001")
			h.credit(t, customer.ID, 100)
			reward := h.addReward(t, 30, int64Ptr(5))
			result, err := h.svc.RedeemReward(ctx, RedeemInput{TenantID: h.tenant.ID, CustomerID: customer.ID, RewardID: reward.ID})
			if err != nil {
				t.Fatalf("RedeemReward returned error: %v", err)
			}

			h.clock.Advance(domain.RedemptionLifetime + time.Minute)
			_, err = h.svc.VerifyRedemption(ctx, h.tenant.ID, result.Redemption.RedemptionCode, "staff-1")
			if !errors.Is(err, domain.ErrRedemptionExpired) {
				t.Fatalf("expected redemption expired, got %v", err)
			}

			stored, err := h.svc.GetRedemption(ctx, h.tenant.ID, result.Redemption.ID)
			if err != nil {
				t.Fatalf("GetRedemption returned error: %v", err)
			}
			if stored.Status != domain.RedemptionExpired {
				t.Fatalf("expected stored status expired, got %s", stored.Status)
			}
			if (stored.RefundTransactionID != nil) != tt.refund {
				t.Fatalf("unexpected refund link %v", stored.RefundTransactionID)
			}
			if got := h.balance(t, customer.ID); got != tt.wantBalance {
				t.Fatalf("expected balance %d, got %d", tt.wantBalance, got)
			}
			restocked, _ := h.svc.GetReward(ctx, h.tenant.ID, reward.ID)
			if *restocked.StockQuantity != 5 {
				t.Fatalf("expected stock restored to 5, got %d", *restocked.StockQuantity)
			}
			h.assertLedgerConsistent(t, customer.ID)

			if _, err := h.svc.FulfillRedemption(ctx, h.tenant.ID, result.Redemption.ID, "staff-1", ""); !errors.Is(err, domain.ErrRedemptionExpired) {
				t.Fatalf("expected fulfil of expired redemption to fail, got %v", err)
			}
		})
	}
}

func TestVerifyRedemption_UnknownCode(t *testing.T) {
	h := newHarness(t)
	_, err := h.svc.VerifyRedemption(context.Background(), h.tenant.ID, "RDM-ZZZZZZZZ", "staff-1")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRedemptionCodes(t *testing.T) {
	code, err := newRedemptionCode()
	if err != nil {
		t.Fatalf("newRedemptionCode returned error: %v", err)
	}
	if len(code) != len(redemptionCodePrefix)+redemptionCodeLength {
		t.Fatalf("unexpected code length %q", code)
	}
	for _, r := range strings.TrimPrefix(code, redemptionCodePrefix) {
		if !strings.ContainsRune(redemptionCodeAlphabet, r) {
			t.Fatalf("code %q contains ambiguous character %q", code, r)
		}
	}

	tests := []struct {
		in   string
		want string
	}{
		{in: "RDM-ABCD2345", want: "RDM-ABCD2345"},
		{in: " rdm-abcd2345 ", want: "RDM-ABCD2345"},
		{in: "abcd2345", want: "RDM-ABCD2345"},
		{in: "RDM ABCD 2345", want: "RDM-ABCD2345"},
		{in: "rdmabcd2345", want: "RDM-ABCD2345"},
		{in: "RDMABCDE", want: "RDM-RDMABCDE"},
		{in: "rdm4xyz9", want: "RDM-RDM4XYZ9"},
		{in: "", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := normalizeRedemptionCode(tt.in); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestCancelRedemption_RefundCarriesNoExpiry(t *testing.T) {
	h := newHarness(t, func(_ *Options, settings *domain.TenantSettings) {
		settings.PointsExpiryEnabled = true
	})
	ctx := context.Background()
	customer := h.enrol(t, "+447700900001")
	h.credit(t, customer.ID, 100)
	reward := h.addReward(t, 30, nil)

	result, err := h.svc.RedeemReward(ctx, RedeemInput{TenantID: h.tenant.ID, CustomerID: customer.ID, RewardID: reward.ID})
	if err != nil {
		t.Fatalf("RedeemReward returned error: %v", err)
	}
	cancelled, err := h.svc.CancelRedemption(ctx, h.tenant.ID, result.Redemption.ID, "changed mind")
	if err != nil {
		t.Fatalf("CancelRedemption returned error: %v", err)
	}

	txs, err := h.svc.ListTransactions(ctx, h.tenant.ID, customer.ID, 50, 0)
	if err != nil {
		t.Fatalf("ListTransactions returned error: %v", err)
	}
	var refund, earn *domain.PointsTransaction
	for i := range txs {
		switch txs[i].Type {
		case domain.TransactionRefunded:
			refund = &txs[i]
		case domain.TransactionEarn:
			earn = &txs[i]
		}
	}
	if refund == nil || refund.ID != *cancelled.RefundTransactionID {
		t.Fatalf("expected the linked refund row, got %+v", txs)
	}
	if refund.ExpiresAt != nil {
		t.Fatalf("expected refunded points to carry no expiry, got %s", refund.ExpiresAt)
	}
	if earn == nil || earn.ExpiresAt == nil {
		t.Fatal("expected the earn row to keep its own expiry")
	}
}
